package services

import (
	"github.com/learnhub/payments-api/model"
)

// ResolveAction is an administrator-invoked transition on a transaction
type ResolveAction string

const (
	ActionMarkCompleted ResolveAction = "mark_completed"
	ActionCancel        ResolveAction = "cancel"
	ActionRetry         ResolveAction = "retry"
)

type transitionKey struct {
	From   model.TransactionStatus
	Action ResolveAction
}

// adminTransitions is the single declarative table of legal administrator
// transitions. Cancelled and failed are deliberately re-openable: an admin
// can retry them or credit them straight to successful. Successful and
// partial accept no admin action; they are reached only through gateway
// confirmation or instalment completion.
var adminTransitions = map[transitionKey]model.TransactionStatus{
	{model.StatusPending, ActionMarkCompleted}:   model.StatusSuccessful,
	{model.StatusPending, ActionCancel}:          model.StatusCancelled,
	{model.StatusPending, ActionRetry}:           model.StatusPending,
	{model.StatusFailed, ActionRetry}:            model.StatusPending,
	{model.StatusFailed, ActionMarkCompleted}:    model.StatusSuccessful,
	{model.StatusFailed, ActionCancel}:           model.StatusCancelled,
	{model.StatusCancelled, ActionRetry}:         model.StatusPending,
	{model.StatusCancelled, ActionMarkCompleted}: model.StatusSuccessful,
}

// NextStatus evaluates the transition table for an admin action. It returns
// ErrInvalidTransition when the (status, action) pair is not in the table.
func NextStatus(from model.TransactionStatus, action ResolveAction) (model.TransactionStatus, error) {
	to, ok := adminTransitions[transitionKey{from, action}]
	if !ok {
		return "", ErrInvalidTransition
	}
	return to, nil
}

// GatewayStatus maps a gateway verification outcome onto the transition
// table's gateway rows. Only pending transactions accept gateway results.
func GatewayStatus(from model.TransactionStatus, verified bool) (model.TransactionStatus, error) {
	if from != model.StatusPending {
		return "", ErrInvalidTransition
	}
	if verified {
		return model.StatusSuccessful, nil
	}
	return model.StatusFailed, nil
}
