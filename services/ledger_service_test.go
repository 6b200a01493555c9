package services

import (
	"bytes"
	"context"
	"encoding/csv"
	"testing"

	"github.com/learnhub/payments-api/model"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInsertTransactionDuplicateReference(t *testing.T) {
	db := newTestDB(t)
	svc := NewLedgerService(db, nil)
	user, course, enrollment := seedEnrollment(t, db, 1000)
	ctx := context.Background()

	tx := &model.Transaction{
		Reference:     "PAY-fixed-reference",
		UserID:        user.ID,
		CourseID:      &course.ID,
		EnrollmentID:  &enrollment.ID,
		Amount:        decimal.NewFromInt(500),
		Currency:      "NGN",
		PaymentMethod: model.MethodGateway,
		Status:        model.StatusPending,
	}
	require.NoError(t, svc.InsertTransaction(ctx, tx))

	dup := &model.Transaction{
		Reference:     "PAY-fixed-reference",
		UserID:        user.ID,
		Amount:        decimal.NewFromInt(500),
		Currency:      "NGN",
		PaymentMethod: model.MethodGateway,
		Status:        model.StatusPending,
	}
	err := svc.InsertTransaction(ctx, dup)
	assert.ErrorIs(t, err, ErrDuplicateReference)
}

func TestInsertTransactionRejectsNegativeAmount(t *testing.T) {
	db := newTestDB(t)
	svc := NewLedgerService(db, nil)
	user, _, _ := seedEnrollment(t, db, 1000)

	tx := &model.Transaction{
		Reference: NewReference(),
		UserID:    user.ID,
		Amount:    decimal.NewFromInt(-500),
		Status:    model.StatusPending,
	}
	err := svc.InsertTransaction(context.Background(), tx)
	assert.ErrorIs(t, err, ErrInvalidAmount)
}

func TestGetByIDNotFound(t *testing.T) {
	db := newTestDB(t)
	svc := NewLedgerService(db, nil)

	_, err := svc.GetByID(context.Background(), 9999)
	assert.ErrorIs(t, err, ErrTransactionNotFound)

	_, err = svc.GetByReference(context.Background(), "PAY-missing")
	assert.ErrorIs(t, err, ErrTransactionNotFound)
}

func TestListFiltersByStatusAndSearch(t *testing.T) {
	db := newTestDB(t)
	svc := NewLedgerService(db, nil)
	ctx := context.Background()

	userA, courseA, enrollmentA := seedEnrollment(t, db, 1000)
	userB, courseB, enrollmentB := seedEnrollment(t, db, 2000)

	seedTransaction(t, db, userA, courseA, enrollmentA, 1000, model.StatusSuccessful)
	seedTransaction(t, db, userA, courseA, enrollmentA, 500, model.StatusPending)
	seedTransaction(t, db, userB, courseB, enrollmentB, 2000, model.StatusFailed)

	// status filter
	txs, total, stats, err := svc.List(ctx, ListFilter{Status: string(model.StatusPending)})
	require.NoError(t, err)
	assert.EqualValues(t, 1, total)
	require.Len(t, txs, 1)
	assert.Equal(t, model.StatusPending, txs[0].Status)

	// stats reflect the whole table, not the filtered page
	assert.EqualValues(t, 3, stats.Total)
	assert.EqualValues(t, 1, stats.Successful)
	assert.EqualValues(t, 1, stats.Pending)
	assert.EqualValues(t, 1, stats.Failed)
	assert.True(t, stats.TotalRevenue.Equal(decimal.NewFromInt(1000)))

	// search by user email, case-insensitive
	_, total, _, err = svc.List(ctx, ListFilter{Search: userB.Email})
	require.NoError(t, err)
	assert.EqualValues(t, 1, total)

	_, total, _, err = svc.List(ctx, ListFilter{Search: "EXAMPLE.COM"})
	require.NoError(t, err)
	assert.EqualValues(t, 3, total)
}

func TestListPagination(t *testing.T) {
	db := newTestDB(t)
	svc := NewLedgerService(db, nil)
	user, course, enrollment := seedEnrollment(t, db, 1000)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		seedTransaction(t, db, user, course, enrollment, 100, model.StatusPending)
	}

	txs, total, _, err := svc.List(ctx, ListFilter{Page: 1, PageSize: 2})
	require.NoError(t, err)
	assert.EqualValues(t, 5, total)
	assert.Len(t, txs, 2)

	txs, _, _, err = svc.List(ctx, ListFilter{Page: 3, PageSize: 2})
	require.NoError(t, err)
	assert.Len(t, txs, 1)
}

func TestUpdateStatusRecordsNote(t *testing.T) {
	db := newTestDB(t)
	svc := NewLedgerService(db, nil)
	user, course, enrollment := seedEnrollment(t, db, 1000)
	tx := seedTransaction(t, db, user, course, enrollment, 1000, model.StatusPending)
	ctx := context.Background()

	_, err := svc.UpdateStatus(ctx, tx.ID, model.StatusSuccessful, "confirmed against bank statement")
	require.NoError(t, err)

	var stored model.Transaction
	require.NoError(t, db.First(&stored, tx.ID).Error)
	assert.Equal(t, model.StatusSuccessful, stored.Status)
	require.NotNil(t, stored.AdminOverrideNote)
	assert.Equal(t, "confirmed against bank statement", *stored.AdminOverrideNote)
}

func TestGetDetailIncludesHistoryAndAuditTrail(t *testing.T) {
	db := newTestDB(t)
	svc := NewLedgerService(db, nil)
	user, course, enrollment := seedEnrollment(t, db, 1000)
	ctx := context.Background()

	first := seedTransaction(t, db, user, course, enrollment, 300, model.StatusPartial)
	second := seedTransaction(t, db, user, course, enrollment, 700, model.StatusSuccessful)

	previous := model.StatusPending
	next := model.StatusSuccessful
	require.NoError(t, svc.AppendAudit(ctx, &model.AuditEntry{
		TransactionID:  second.ID,
		Action:         model.AuditActionResolve,
		PreviousStatus: &previous,
		NewStatus:      &next,
		Note:           "verified",
		AdminID:        testAdmin.ID,
		AdminName:      testAdmin.Name,
	}))

	detail, err := svc.GetDetail(ctx, second.ID)
	require.NoError(t, err)

	// full history of the enrollment, oldest first
	require.Len(t, detail.PaymentHistory, 2)
	assert.Equal(t, first.ID, detail.PaymentHistory[0].ID)
	assert.Equal(t, second.ID, detail.PaymentHistory[1].ID)

	require.Len(t, detail.AuditTrail, 1)
	assert.Equal(t, model.AuditActionResolve, detail.AuditTrail[0].Action)
}

func TestExportRowCountMatchesList(t *testing.T) {
	db := newTestDB(t)
	svc := NewLedgerService(db, nil)
	user, course, enrollment := seedEnrollment(t, db, 1000)
	ctx := context.Background()

	seedTransaction(t, db, user, course, enrollment, 1000, model.StatusSuccessful)
	seedTransaction(t, db, user, course, enrollment, 500, model.StatusPending)
	seedTransaction(t, db, user, course, enrollment, 200, model.StatusSuccessful)

	var buf bytes.Buffer
	rows, err := svc.ExportCSV(ctx, string(model.StatusSuccessful), &buf)
	require.NoError(t, err)

	_, total, _, lerr := svc.List(ctx, ListFilter{Status: string(model.StatusSuccessful)})
	require.NoError(t, lerr)
	assert.EqualValues(t, total, rows)

	records, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, rows+1) // header plus data rows
	assert.Equal(t, []string{"reference", "user", "course", "amount", "currency", "method", "status", "created_at"}, records[0])
	assert.Equal(t, user.Email, records[1][1])
}
