package services

import (
	"context"
	"testing"

	"github.com/learnhub/payments-api/model"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigureRejectsBadAmounts(t *testing.T) {
	db := newTestDB(t)
	svc := NewSplitService(db)
	_, _, enrollment := seedEnrollment(t, db, 1000)
	ctx := context.Background()

	_, err := svc.Configure(ctx, enrollment.ID, decimal.NewFromInt(-1000), decimal.NewFromInt(100), model.MethodCash)
	assert.ErrorIs(t, err, ErrInvalidAmount)

	_, err = svc.Configure(ctx, enrollment.ID, decimal.NewFromInt(1000), decimal.NewFromInt(-100), model.MethodCash)
	assert.ErrorIs(t, err, ErrInvalidAmount)

	// initial above total makes no sense for an instalment plan
	_, err = svc.Configure(ctx, enrollment.ID, decimal.NewFromInt(1000), decimal.NewFromInt(1500), model.MethodCash)
	assert.ErrorIs(t, err, ErrInvalidAmount)

	_, err = svc.Configure(ctx, enrollment.ID, decimal.NewFromInt(1000), decimal.NewFromInt(100), model.PaymentMethod("crypto"))
	assert.ErrorIs(t, err, ErrInvalidMethod)

	// nothing above should have left a plan or a transaction behind
	var plans, txs int64
	require.NoError(t, db.Model(&model.SplitPaymentPlan{}).Count(&plans).Error)
	require.NoError(t, db.Model(&model.Transaction{}).Count(&txs).Error)
	assert.Zero(t, plans)
	assert.Zero(t, txs)
}

func TestConfigurePartialInitial(t *testing.T) {
	db := newTestDB(t)
	svc := NewSplitService(db)
	user, _, enrollment := seedEnrollment(t, db, 1000)
	ctx := context.Background()

	outcome, err := svc.Configure(ctx, enrollment.ID, decimal.NewFromInt(1000), decimal.NewFromInt(300), model.MethodBankTransfer)
	require.NoError(t, err)

	assert.False(t, outcome.Completed)
	assert.Equal(t, model.StatusPartial, outcome.Transaction.Status)
	assert.True(t, outcome.Transaction.IsSplitPayment)
	assert.Equal(t, user.ID, outcome.Transaction.UserID)
	assert.True(t, outcome.Plan.AmountPaid.Equal(decimal.NewFromInt(300)))
	assert.True(t, outcome.Plan.OutstandingBalance.Equal(decimal.NewFromInt(700)))
	assert.EqualValues(t, 1, outcome.Plan.PaymentCount)
}

func TestConfigureFullPaymentResolvesImmediately(t *testing.T) {
	db := newTestDB(t)
	svc := NewSplitService(db)
	_, _, enrollment := seedEnrollment(t, db, 1000)
	ctx := context.Background()

	outcome, err := svc.Configure(ctx, enrollment.ID, decimal.NewFromInt(1000), decimal.NewFromInt(1000), model.MethodCash)
	require.NoError(t, err)

	assert.True(t, outcome.Completed)
	assert.Equal(t, model.StatusSuccessful, outcome.Transaction.Status)
	assert.True(t, outcome.Plan.Completed)
	assert.True(t, outcome.Plan.OutstandingBalance.IsZero())
}

func TestConfigureTwiceFails(t *testing.T) {
	db := newTestDB(t)
	svc := NewSplitService(db)
	_, _, enrollment := seedEnrollment(t, db, 1000)
	ctx := context.Background()

	_, err := svc.Configure(ctx, enrollment.ID, decimal.NewFromInt(1000), decimal.NewFromInt(300), model.MethodCash)
	require.NoError(t, err)

	_, err = svc.Configure(ctx, enrollment.ID, decimal.NewFromInt(1000), decimal.NewFromInt(200), model.MethodCash)
	assert.ErrorIs(t, err, ErrAlreadyConfigured)
}

func TestRecordInstalmentWithoutPlan(t *testing.T) {
	db := newTestDB(t)
	svc := NewSplitService(db)
	_, _, enrollment := seedEnrollment(t, db, 1000)

	_, err := svc.RecordInstalment(context.Background(), enrollment.ID, decimal.NewFromInt(200), model.MethodCash)
	assert.ErrorIs(t, err, ErrNoPlan)

	// the rejected instalment must not leave a transaction behind
	var txs int64
	require.NoError(t, db.Model(&model.Transaction{}).Count(&txs).Error)
	assert.Zero(t, txs)
}

func TestRecordInstalmentRejectsNonPositiveAmount(t *testing.T) {
	db := newTestDB(t)
	svc := NewSplitService(db)
	_, _, enrollment := seedEnrollment(t, db, 1000)
	ctx := context.Background()

	_, err := svc.Configure(ctx, enrollment.ID, decimal.NewFromInt(1000), decimal.NewFromInt(300), model.MethodCash)
	require.NoError(t, err)

	_, err = svc.RecordInstalment(ctx, enrollment.ID, decimal.Zero, model.MethodCash)
	assert.ErrorIs(t, err, ErrInvalidAmount)

	_, err = svc.RecordInstalment(ctx, enrollment.ID, decimal.NewFromInt(-50), model.MethodCash)
	assert.ErrorIs(t, err, ErrInvalidAmount)
}

func TestInstalmentsCompleteThePlan(t *testing.T) {
	db := newTestDB(t)
	svc := NewSplitService(db)
	_, _, enrollment := seedEnrollment(t, db, 1000)
	ctx := context.Background()

	_, err := svc.Configure(ctx, enrollment.ID, decimal.NewFromInt(1000), decimal.NewFromInt(300), model.MethodCash)
	require.NoError(t, err)

	outcome, err := svc.RecordInstalment(ctx, enrollment.ID, decimal.NewFromInt(700), model.MethodBankTransfer)
	require.NoError(t, err)

	assert.True(t, outcome.Completed)
	assert.Equal(t, model.StatusSuccessful, outcome.Transaction.Status)
	assert.True(t, outcome.Overpaid.IsZero())
	assert.True(t, outcome.Plan.Completed)
	assert.True(t, outcome.Plan.AmountPaid.Equal(decimal.NewFromInt(1000)))
	assert.True(t, outcome.Plan.OutstandingBalance.IsZero())
	assert.EqualValues(t, 2, outcome.Plan.PaymentCount)

	var txs []model.Transaction
	require.NoError(t, db.Where("enrollment_id = ?", enrollment.ID).Order("created_at ASC").Find(&txs).Error)
	require.Len(t, txs, 2)
	assert.Equal(t, model.StatusPartial, txs[0].Status)
	assert.Equal(t, model.StatusSuccessful, txs[1].Status)
}

func TestOvershootAcceptedAsCredit(t *testing.T) {
	db := newTestDB(t)
	svc := NewSplitService(db)
	_, _, enrollment := seedEnrollment(t, db, 1000)
	ctx := context.Background()

	_, err := svc.Configure(ctx, enrollment.ID, decimal.NewFromInt(1000), decimal.NewFromInt(300), model.MethodCash)
	require.NoError(t, err)

	outcome, err := svc.RecordInstalment(ctx, enrollment.ID, decimal.NewFromInt(800), model.MethodCash)
	require.NoError(t, err)

	// the overshoot is recorded in full, flagged as credit, never clipped
	assert.True(t, outcome.Completed)
	assert.True(t, outcome.Overpaid.Equal(decimal.NewFromInt(100)))
	assert.True(t, outcome.Transaction.Amount.Equal(decimal.NewFromInt(800)))
	assert.True(t, outcome.Plan.AmountPaid.Equal(decimal.NewFromInt(1100)))
	assert.True(t, outcome.Plan.OutstandingBalance.IsZero())
}

func TestPlanAggregatesAreProjections(t *testing.T) {
	db := newTestDB(t)
	svc := NewSplitService(db)
	_, _, enrollment := seedEnrollment(t, db, 1000)
	ctx := context.Background()

	_, err := svc.Configure(ctx, enrollment.ID, decimal.NewFromInt(1000), decimal.NewFromInt(250), model.MethodCash)
	require.NoError(t, err)
	_, err = svc.RecordInstalment(ctx, enrollment.ID, decimal.NewFromInt(150), model.MethodPOS)
	require.NoError(t, err)

	plan, err := svc.GetPlan(ctx, enrollment.ID)
	require.NoError(t, err)

	// the derived fields always equal the sum over counted transactions
	var expected decimal.Decimal
	var txs []model.Transaction
	require.NoError(t, db.Where("enrollment_id = ? AND status IN ?", enrollment.ID,
		[]model.TransactionStatus{model.StatusSuccessful, model.StatusPartial}).Find(&txs).Error)
	for _, tx := range txs {
		expected = expected.Add(tx.Amount)
	}

	assert.True(t, plan.AmountPaid.Equal(expected), "amount_paid %s != transaction sum %s", plan.AmountPaid, expected)
	assert.True(t, plan.OutstandingBalance.Equal(plan.TotalAmount.Sub(expected)))
	assert.EqualValues(t, len(txs), plan.PaymentCount)
}

func TestGetPlanWithoutPlan(t *testing.T) {
	db := newTestDB(t)
	svc := NewSplitService(db)
	_, _, enrollment := seedEnrollment(t, db, 1000)

	_, err := svc.GetPlan(context.Background(), enrollment.ID)
	assert.ErrorIs(t, err, ErrNoPlan)
}
