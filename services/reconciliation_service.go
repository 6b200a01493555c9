package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"strings"
	"time"

	"github.com/learnhub/payments-api/model"
	"github.com/learnhub/payments-api/utils/lock"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// DefaultExternalTimeout bounds calls to the activator and the notifier
const DefaultExternalTimeout = 10 * time.Second

// Admin identifies the administrator performing a state-changing call;
// every audit entry is attributed to one.
type Admin struct {
	ID   uint
	Name string
}

// ReceiptNotifier dispatches payment receipts to users
type ReceiptNotifier interface {
	SendReceipt(ctx context.Context, to string, receipt *ReceiptData) error
}

// ReceiptData is the read-only projection used for receipts
type ReceiptData struct {
	Reference     string                  `json:"reference"`
	UserName      string                  `json:"user_name"`
	UserEmail     string                  `json:"user_email"`
	CourseTitle   string                  `json:"course_title"`
	Amount        decimal.Decimal         `json:"amount"`
	Currency      string                  `json:"currency"`
	PaymentMethod model.PaymentMethod     `json:"payment_method"`
	Status        model.TransactionStatus `json:"status"`
	PaidAt        time.Time               `json:"paid_at"`
}

// ResolveResult is returned by ResolvePayment and ApplyGatewayResult
type ResolveResult struct {
	Transaction    *model.Transaction `json:"transaction"`
	NewTransaction *model.Transaction `json:"new_transaction,omitempty"` // set by retry
	Message        string             `json:"message"`
	AlreadyPaid    bool               `json:"already_paid,omitempty"`
	Activation     ActivationResult   `json:"activation,omitempty"`
	Warning        string             `json:"warning,omitempty"`
}

// ManualPaymentResult is returned by RecordManualPayment
type ManualPaymentResult struct {
	Transaction *model.Transaction `json:"transaction"`
	Enrollment  *model.Enrollment  `json:"enrollment"`
	Activation  ActivationResult   `json:"activation,omitempty"`
	Warning     string             `json:"warning,omitempty"`
}

// SplitResult is returned by the split-payment operations
type SplitResult struct {
	*SplitOutcome
	Activation ActivationResult `json:"activation,omitempty"`
	Warning    string           `json:"warning,omitempty"`
}

// EnrollmentLookup pairs a user with their enrollments for admin selection
type EnrollmentLookup struct {
	User        model.User         `json:"user"`
	Enrollments []model.Enrollment `json:"enrollments"`
}

// ReconciliationService is the façade used by administrators to resolve
// stuck transactions, record manual and split payments, and answer lookup,
// detail and export queries. Every state-changing call runs inside a
// per-enrollment exclusive critical section and appends exactly one audit
// entry; external collaborator calls happen after the mutation commits,
// outside the lock, with bounded timeouts.
type ReconciliationService struct {
	db              *gorm.DB
	ledger          *LedgerService
	splits          *SplitService
	directory       Directory
	activator       EnrollmentActivator
	notifier        ReceiptNotifier
	locks           *lock.KeyedMutex
	externalTimeout time.Duration
}

// NewReconciliationService wires the façade
func NewReconciliationService(db *gorm.DB, ledger *LedgerService, splits *SplitService, directory Directory, activator EnrollmentActivator, notifier ReceiptNotifier) *ReconciliationService {
	return &ReconciliationService{
		db:              db,
		ledger:          ledger,
		splits:          splits,
		directory:       directory,
		activator:       activator,
		notifier:        notifier,
		locks:           lock.NewKeyedMutex(),
		externalTimeout: DefaultExternalTimeout,
	}
}

// ListTransactions is read-only and takes no lock
func (s *ReconciliationService) ListTransactions(ctx context.Context, filter ListFilter) ([]model.Transaction, int64, *TransactionStats, error) {
	return s.ledger.List(ctx, filter)
}

// GetTransactionDetail returns the full drill-down, including the split
// plan aggregate when the enrollment has one
func (s *ReconciliationService) GetTransactionDetail(ctx context.Context, id uint) (*TransactionDetail, error) {
	detail, err := s.ledger.GetDetail(ctx, id)
	if err != nil {
		return nil, err
	}
	if detail.Payment.EnrollmentID != nil {
		plan, err := s.splits.GetPlan(ctx, *detail.Payment.EnrollmentID)
		if err == nil {
			detail.SplitInfo = plan
		} else if !errors.Is(err, ErrNoPlan) {
			return nil, err
		}
	}
	return detail, nil
}

// ResolvePayment applies an administrator action to a stuck transaction.
// The (status, action) pair is checked against the transition table;
// mark_completed on an already-successful transaction is an idempotent
// no-op that reports ALREADY_PAID without a second activation.
func (s *ReconciliationService) ResolvePayment(ctx context.Context, id uint, action ResolveAction, note string, admin Admin) (*ResolveResult, error) {
	note = strings.TrimSpace(note)
	if note == "" {
		return nil, ErrMissingNote
	}

	current, err := s.ledger.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if action == ActionMarkCompleted && current.Status == model.StatusSuccessful {
		return &ResolveResult{
			Transaction: current,
			Message:     "Transaction is already completed",
			AlreadyPaid: true,
		}, nil
	}

	result := &ResolveResult{}
	var activate bool

	err = s.withLock(lockKey(current), func() error {
		return s.db.Transaction(func(gtx *gorm.DB) error {
			var tx model.Transaction
			if err := forUpdate(gtx).WithContext(ctx).First(&tx, id).Error; err != nil {
				if errors.Is(err, gorm.ErrRecordNotFound) {
					return ErrTransactionNotFound
				}
				return err
			}

			// re-check under the lock; a racing call may have resolved it
			if action == ActionMarkCompleted && tx.Status == model.StatusSuccessful {
				result.Transaction = &tx
				result.Message = "Transaction is already completed"
				result.AlreadyPaid = true
				return nil
			}

			to, err := NextStatus(tx.Status, action)
			if err != nil {
				return err
			}

			previous := tx.Status

			if action == ActionRetry {
				fresh := &model.Transaction{
					Reference:      NewReference(),
					UserID:         tx.UserID,
					CourseID:       tx.CourseID,
					EnrollmentID:   tx.EnrollmentID,
					Amount:         tx.Amount,
					Currency:       tx.Currency,
					PaymentMethod:  tx.PaymentMethod,
					Status:         model.StatusPending,
					IsSplitPayment: tx.IsSplitPayment,
				}
				if err := gtx.WithContext(ctx).Create(fresh).Error; err != nil {
					return fmt.Errorf("failed to create retry transaction: %w", err)
				}
				result.Transaction = &tx
				result.NewTransaction = fresh
				result.Message = fmt.Sprintf("Retry initiated with new reference %s", fresh.Reference)

				return s.audit(ctx, gtx, model.AuditEntry{
					TransactionID:  tx.ID,
					Action:         model.AuditActionResolve,
					PreviousStatus: &previous,
					NewStatus:      &fresh.Status,
					Note:           note,
					AdminID:        admin.ID,
					AdminName:      admin.Name,
				}, map[string]interface{}{
					"resolve_action":     action,
					"new_reference":      fresh.Reference,
					"new_transaction_id": fresh.ID,
				})
			}

			updated, err := s.ledger.WithTx(gtx).UpdateStatus(ctx, tx.ID, to, note)
			if err != nil {
				return err
			}
			updated.Status = to
			result.Transaction = updated

			switch to {
			case model.StatusSuccessful:
				result.Message = "Transaction marked as completed"
				if tx.EnrollmentID != nil {
					activate = true
				}
			case model.StatusCancelled:
				result.Message = "Transaction cancelled"
			}

			return s.audit(ctx, gtx, model.AuditEntry{
				TransactionID:  tx.ID,
				Action:         model.AuditActionResolve,
				PreviousStatus: &previous,
				NewStatus:      &to,
				Note:           note,
				AdminID:        admin.ID,
				AdminName:      admin.Name,
			}, map[string]interface{}{"resolve_action": action})
		})
	})
	if err != nil {
		return nil, err
	}

	if activate {
		result.Activation, result.Warning = s.activateEnrollment(ctx, *current.EnrollmentID)
	}
	return result, nil
}

// RecordManualPayment records an offline payment taken outside the gateway.
// The transaction is created directly as successful; there is no
// intermediate pending state.
func (s *ReconciliationService) RecordManualPayment(ctx context.Context, userEmail string, courseID uint, amount decimal.Decimal, method model.PaymentMethod, note string, admin Admin) (*ManualPaymentResult, error) {
	note = strings.TrimSpace(note)
	if note == "" {
		return nil, ErrMissingNote
	}
	if amount.LessThanOrEqual(decimal.Zero) {
		return nil, ErrInvalidAmount
	}
	if !model.ValidPaymentMethod(method) {
		return nil, ErrInvalidMethod
	}

	user, err := s.directory.ResolveUserByEmail(ctx, userEmail)
	if err != nil {
		return nil, err
	}
	course, err := s.directory.GetCourse(ctx, courseID)
	if err != nil {
		return nil, err
	}

	enrollment, err := s.directory.ResolveEnrollment(ctx, user.ID, courseID)
	if errors.Is(err, ErrEnrollmentNotFound) {
		enrollment, err = s.directory.CreateEnrollment(ctx, user.ID, courseID)
		if err != nil {
			// a concurrent call may have created it first
			enrollment, err = s.directory.ResolveEnrollment(ctx, user.ID, courseID)
		}
	}
	if err != nil {
		return nil, err
	}

	result := &ManualPaymentResult{Enrollment: enrollment}

	err = s.withLock(lock.EnrollmentKey(enrollment.ID), func() error {
		return s.db.Transaction(func(gtx *gorm.DB) error {
			tx := &model.Transaction{
				Reference:     NewReference(),
				UserID:        user.ID,
				CourseID:      &course.ID,
				EnrollmentID:  &enrollment.ID,
				Amount:        amount,
				Currency:      course.Currency,
				PaymentMethod: method,
				Status:        model.StatusSuccessful,
			}
			if err := s.ledger.WithTx(gtx).InsertTransaction(ctx, tx); err != nil {
				return err
			}
			result.Transaction = tx

			successful := model.StatusSuccessful
			return s.audit(ctx, gtx, model.AuditEntry{
				TransactionID: tx.ID,
				Action:        model.AuditActionManualPayment,
				NewStatus:     &successful,
				Note:          note,
				AdminID:       admin.ID,
				AdminName:     admin.Name,
			}, map[string]interface{}{
				"amount":         amount,
				"payment_method": method,
				"course_id":      courseID,
			})
		})
	})
	if err != nil {
		return nil, err
	}

	result.Activation, result.Warning = s.activateEnrollment(ctx, enrollment.ID)
	return result, nil
}

// ConfigureSplitPayment creates a split plan and records its first
// instalment
func (s *ReconciliationService) ConfigureSplitPayment(ctx context.Context, enrollmentID uint, total, initial decimal.Decimal, method model.PaymentMethod, note string, admin Admin) (*SplitResult, error) {
	note = strings.TrimSpace(note)
	if note == "" {
		return nil, ErrMissingNote
	}

	result := &SplitResult{}

	err := s.withLock(lock.EnrollmentKey(enrollmentID), func() error {
		return s.db.Transaction(func(gtx *gorm.DB) error {
			outcome, err := s.splits.WithTx(gtx).Configure(ctx, enrollmentID, total, initial, method)
			if err != nil {
				return err
			}
			result.SplitOutcome = outcome

			return s.audit(ctx, gtx, model.AuditEntry{
				TransactionID: outcome.Transaction.ID,
				Action:        model.AuditActionSplitConfigure,
				NewStatus:     &outcome.Transaction.Status,
				Note:          note,
				AdminID:       admin.ID,
				AdminName:     admin.Name,
			}, map[string]interface{}{
				"total_amount":   total,
				"initial_amount": initial,
			})
		})
	})
	if err != nil {
		return nil, err
	}

	if result.Completed {
		result.Activation, result.Warning = s.activateEnrollment(ctx, enrollmentID)
	}
	return result, nil
}

// RecordSplitPayment appends an instalment to an existing plan. An
// instalment that overshoots the plan total is accepted in full and the
// credit balance is flagged in the audit note, never silently clipped.
func (s *ReconciliationService) RecordSplitPayment(ctx context.Context, enrollmentID uint, amount decimal.Decimal, method model.PaymentMethod, note string, admin Admin) (*SplitResult, error) {
	note = strings.TrimSpace(note)
	if note == "" {
		return nil, ErrMissingNote
	}

	result := &SplitResult{}

	err := s.withLock(lock.EnrollmentKey(enrollmentID), func() error {
		return s.db.Transaction(func(gtx *gorm.DB) error {
			outcome, err := s.splits.WithTx(gtx).RecordInstalment(ctx, enrollmentID, amount, method)
			if err != nil {
				return err
			}
			result.SplitOutcome = outcome

			auditNote := note
			if outcome.Overpaid.GreaterThan(decimal.Zero) {
				auditNote = fmt.Sprintf("%s; overpayment accepted, credit balance %s", note, outcome.Overpaid.StringFixed(2))
			}

			return s.audit(ctx, gtx, model.AuditEntry{
				TransactionID: outcome.Transaction.ID,
				Action:        model.AuditActionSplitRecord,
				NewStatus:     &outcome.Transaction.Status,
				Note:          auditNote,
				AdminID:       admin.ID,
				AdminName:     admin.Name,
			}, map[string]interface{}{
				"amount":         amount,
				"payment_method": method,
			})
		})
	})
	if err != nil {
		return nil, err
	}

	if result.Completed {
		result.Activation, result.Warning = s.activateEnrollment(ctx, enrollmentID)
	}
	return result, nil
}

// ApplyGatewayResult maps an inbound gateway verification result onto the
// transition table's gateway rows. Duplicate callbacks for an already
// successful transaction are safe no-ops.
func (s *ReconciliationService) ApplyGatewayResult(ctx context.Context, reference string, verified bool, payload json.RawMessage) (*ResolveResult, error) {
	current, err := s.ledger.GetByReference(ctx, reference)
	if err != nil {
		return nil, err
	}

	if current.Status == model.StatusSuccessful {
		return &ResolveResult{
			Transaction: current,
			Message:     "Transaction already confirmed",
			AlreadyPaid: true,
		}, nil
	}

	result := &ResolveResult{}
	var activate bool

	err = s.withLock(lockKey(current), func() error {
		return s.db.Transaction(func(gtx *gorm.DB) error {
			var tx model.Transaction
			if err := forUpdate(gtx).WithContext(ctx).First(&tx, current.ID).Error; err != nil {
				return err
			}

			if tx.Status == model.StatusSuccessful {
				result.Transaction = &tx
				result.Message = "Transaction already confirmed"
				result.AlreadyPaid = true
				return nil
			}

			to, err := GatewayStatus(tx.Status, verified)
			if err != nil {
				return err
			}

			updates := map[string]interface{}{"status": to}
			if len(payload) > 0 {
				updates["gateway_payload"] = datatypes.JSON(payload)
			}
			if err := gtx.WithContext(ctx).Model(&tx).Updates(updates).Error; err != nil {
				return fmt.Errorf("failed to apply gateway result: %w", err)
			}
			tx.Status = to
			result.Transaction = &tx

			if to == model.StatusSuccessful {
				result.Message = "Payment confirmed by gateway"
				if tx.EnrollmentID != nil {
					activate = true
				}
			} else {
				result.Message = "Payment marked failed by gateway"
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	if activate {
		result.Activation, result.Warning = s.activateEnrollment(ctx, *current.EnrollmentID)
	}
	return result, nil
}

// LookupUserByEmail returns the minimal identity for an email
func (s *ReconciliationService) LookupUserByEmail(ctx context.Context, email string) (*model.User, error) {
	return s.directory.ResolveUserByEmail(ctx, email)
}

// LookupEnrollmentsByEmail returns a user and their enrollments with course
// titles, for administrator selection before a split-payment operation
func (s *ReconciliationService) LookupEnrollmentsByEmail(ctx context.Context, email string) (*EnrollmentLookup, error) {
	user, err := s.directory.ResolveUserByEmail(ctx, email)
	if err != nil {
		return nil, err
	}
	enrollments, err := s.directory.ListEnrollmentsByUser(ctx, user.ID)
	if err != nil {
		return nil, err
	}
	return &EnrollmentLookup{User: *user, Enrollments: enrollments}, nil
}

// GetReceiptData builds the read-only receipt projection for a transaction
func (s *ReconciliationService) GetReceiptData(ctx context.Context, id uint) (*ReceiptData, error) {
	tx, err := s.ledger.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	receipt := &ReceiptData{
		Reference:     tx.Reference,
		UserName:      tx.User.Name,
		UserEmail:     tx.User.Email,
		Amount:        tx.Amount,
		Currency:      tx.Currency,
		PaymentMethod: tx.PaymentMethod,
		Status:        tx.Status,
		PaidAt:        tx.UpdatedAt,
	}
	if tx.Course != nil {
		receipt.CourseTitle = tx.Course.Title
	}
	return receipt, nil
}

// SendReceiptEmail dispatches a receipt for a transaction. A dispatch
// failure is reported to the caller but never alters transaction state.
func (s *ReconciliationService) SendReceiptEmail(ctx context.Context, id uint, admin Admin) (*ReceiptData, error) {
	receipt, err := s.GetReceiptData(ctx, id)
	if err != nil {
		return nil, err
	}

	nctx, cancel := context.WithTimeout(ctx, s.externalTimeout)
	defer cancel()
	if err := s.notifier.SendReceipt(nctx, receipt.UserEmail, receipt); err != nil {
		return receipt, fmt.Errorf("%w: %v", ErrDispatch, err)
	}

	entry := model.AuditEntry{
		TransactionID: id,
		Action:        model.AuditActionReceiptSent,
		Note:          fmt.Sprintf("receipt emailed to %s", receipt.UserEmail),
		AdminID:       admin.ID,
		AdminName:     admin.Name,
	}
	if err := s.audit(ctx, s.db, entry, nil); err != nil {
		log.Printf("Failed to record receipt audit entry: %v", err)
	}
	return receipt, nil
}

// ExportCSV streams the filtered transaction list; purely a projection
func (s *ReconciliationService) ExportCSV(ctx context.Context, status string, w io.Writer) (int, error) {
	return s.ledger.ExportCSV(ctx, status, w)
}

// RetryPendingActivations re-runs activation for enrollments whose
// activation call failed after a committed payment. Used by the cron job.
func (s *ReconciliationService) RetryPendingActivations(ctx context.Context) (int, error) {
	var enrollments []model.Enrollment
	if err := s.db.WithContext(ctx).
		Where("activation_pending = ?", true).
		Find(&enrollments).Error; err != nil {
		return 0, fmt.Errorf("failed to list pending activations: %w", err)
	}

	retried := 0
	for _, enrollment := range enrollments {
		if _, warning := s.activateEnrollment(ctx, enrollment.ID); warning == "" {
			retried++
		}
	}
	return retried, nil
}

// activateEnrollment invokes the activator with a bounded timeout, after
// the payment state has committed. A failure here is a retryable
// side-effect failure, never a rollback: the enrollment is flagged and the
// cron job retries it out of band.
func (s *ReconciliationService) activateEnrollment(ctx context.Context, enrollmentID uint) (ActivationResult, string) {
	actx, cancel := context.WithTimeout(ctx, s.externalTimeout)
	defer cancel()

	result, err := s.activator.Activate(actx, enrollmentID)
	if err == nil {
		return result, ""
	}

	if ferr := s.db.Model(&model.Enrollment{}).
		Where("id = ?", enrollmentID).
		Update("activation_pending", true).Error; ferr != nil {
		log.Printf("Failed to flag enrollment %d for activation retry: %v", enrollmentID, ferr)
	}
	return "", fmt.Sprintf("%v: %v", ErrActivationTimeout, err)
}

func (s *ReconciliationService) withLock(key string, fn func() error) error {
	s.locks.Lock(key)
	defer s.locks.Unlock(key)
	return fn()
}

func (s *ReconciliationService) audit(ctx context.Context, gtx *gorm.DB, entry model.AuditEntry, meta map[string]interface{}) error {
	if meta != nil {
		raw, err := json.Marshal(meta)
		if err != nil {
			return fmt.Errorf("failed to marshal audit metadata: %w", err)
		}
		entry.Metadata = datatypes.JSON(raw)
	}
	return s.ledger.WithTx(gtx).AppendAudit(ctx, &entry)
}

// lockKey scopes the critical section to the enrollment so all
// transactions touching one plan serialize; plan-less transactions fall
// back to their own id.
func lockKey(tx *model.Transaction) string {
	if tx.EnrollmentID != nil {
		return lock.EnrollmentKey(*tx.EnrollmentID)
	}
	return lock.TransactionKey(tx.ID)
}

// forUpdate takes a row lock where the dialect supports it; sqlite (used
// in tests) has no FOR UPDATE and relies on the keyed mutex alone.
func forUpdate(tx *gorm.DB) *gorm.DB {
	if tx.Dialector.Name() == "postgres" {
		return tx.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	return tx
}
