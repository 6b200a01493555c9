package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/learnhub/payments-api/model"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var testDBSeq int64

// newTestDB opens a fresh shared-cache in-memory database and migrates the
// full schema. Each test gets its own database name so parallel tests never
// see each other's rows.
func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:payments_test_%d?mode=memory&cache=shared", atomic.AddInt64(&testDBSeq, 1))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		TranslateError: true,
		Logger:         logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	require.NoError(t, db.AutoMigrate(
		&model.User{},
		&model.Course{},
		&model.Enrollment{},
		&model.Transaction{},
		&model.SplitPaymentPlan{},
		&model.AuditEntry{},
		&model.CronJobLog{},
	))
	return db
}

var seedSeq int64

// seedEnrollment creates a user, a course priced at price NGN and a pending
// enrollment linking them.
func seedEnrollment(t *testing.T, db *gorm.DB, price int64) (*model.User, *model.Course, *model.Enrollment) {
	t.Helper()

	n := atomic.AddInt64(&seedSeq, 1)
	user := &model.User{
		Email:        fmt.Sprintf("student%d@example.com", n),
		PasswordHash: "x",
		Name:         fmt.Sprintf("Student %d", n),
		Role:         "student",
	}
	require.NoError(t, db.Create(user).Error)

	course := &model.Course{
		Title:    fmt.Sprintf("Course %d", n),
		Code:     fmt.Sprintf("CRS-%d", n),
		Price:    decimal.NewFromInt(price),
		Currency: "NGN",
	}
	require.NoError(t, db.Create(course).Error)

	enrollment := &model.Enrollment{
		UserID:   user.ID,
		CourseID: course.ID,
		Status:   model.EnrollmentPending,
	}
	require.NoError(t, db.Create(enrollment).Error)

	return user, course, enrollment
}

func seedTransaction(t *testing.T, db *gorm.DB, user *model.User, course *model.Course, enrollment *model.Enrollment, amount int64, status model.TransactionStatus) *model.Transaction {
	t.Helper()

	tx := &model.Transaction{
		Reference:     NewReference(),
		UserID:        user.ID,
		Amount:        decimal.NewFromInt(amount),
		Currency:      "NGN",
		PaymentMethod: model.MethodGateway,
		Status:        status,
	}
	if course != nil {
		tx.CourseID = &course.ID
	}
	if enrollment != nil {
		tx.EnrollmentID = &enrollment.ID
	}
	require.NoError(t, db.Create(tx).Error)
	return tx
}

func auditCount(t *testing.T, db *gorm.DB, transactionID uint) int64 {
	t.Helper()
	var count int64
	require.NoError(t, db.Model(&model.AuditEntry{}).
		Where("transaction_id = ?", transactionID).Count(&count).Error)
	return count
}

var testAdmin = Admin{ID: 1, Name: "Test Admin"}

// stubActivator wraps the real activator so tests can count calls and force
// failures.
type stubActivator struct {
	real  *EnrollmentService
	mu    sync.Mutex
	fail  bool
	calls int
}

func (a *stubActivator) Activate(ctx context.Context, enrollmentID uint) (ActivationResult, error) {
	a.mu.Lock()
	a.calls++
	fail := a.fail
	a.mu.Unlock()
	if fail {
		return "", errors.New("activation service unreachable")
	}
	return a.real.Activate(ctx, enrollmentID)
}

func (a *stubActivator) Deactivate(ctx context.Context, enrollmentID uint) (ActivationResult, error) {
	return a.real.Deactivate(ctx, enrollmentID)
}

func (a *stubActivator) setFail(fail bool) {
	a.mu.Lock()
	a.fail = fail
	a.mu.Unlock()
}

func (a *stubActivator) callCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.calls
}

// stubNotifier records receipt dispatches and can simulate SMTP failures
type stubNotifier struct {
	mu   sync.Mutex
	fail bool
	sent []string
}

func (n *stubNotifier) SendReceipt(ctx context.Context, to string, receipt *ReceiptData) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.fail {
		return errors.New("smtp: connection refused")
	}
	n.sent = append(n.sent, to)
	return nil
}

// newTestService wires a full reconciliation service over an in-memory
// database with stubbed external collaborators.
func newTestService(t *testing.T) (*ReconciliationService, *gorm.DB, *stubActivator, *stubNotifier) {
	t.Helper()

	db := newTestDB(t)
	enrollments := NewEnrollmentService(db)
	activator := &stubActivator{real: enrollments}
	notifier := &stubNotifier{}

	svc := NewReconciliationService(
		db,
		NewLedgerService(db, nil),
		NewSplitService(db),
		enrollments,
		activator,
		notifier,
	)
	return svc, db, activator, notifier
}
