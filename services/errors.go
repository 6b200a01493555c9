package services

import "errors"

// Domain error taxonomy. Validation errors are surfaced to the caller
// before any state change; ErrDispatch and ErrActivationTimeout occur after
// the core transition has committed and are reported as warnings alongside
// a successful result.
var (
	ErrTransactionNotFound = errors.New("transaction not found")
	ErrUserNotFound        = errors.New("user not found")
	ErrCourseNotFound      = errors.New("course not found")
	ErrEnrollmentNotFound  = errors.New("enrollment not found")
	ErrDuplicateReference  = errors.New("transaction reference already exists")
	ErrInvalidTransition   = errors.New("action is not valid for the current transaction status")
	ErrMissingNote         = errors.New("a note is required for this action")
	ErrInvalidAmount       = errors.New("invalid amount")
	ErrInvalidMethod       = errors.New("invalid payment method")
	ErrAlreadyConfigured   = errors.New("a split payment plan already exists for this enrollment")
	ErrNoPlan              = errors.New("no split payment plan configured for this enrollment")
	ErrDispatch            = errors.New("failed to dispatch notification")
	ErrActivationTimeout   = errors.New("enrollment activation timed out")
)
