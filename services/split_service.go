package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/learnhub/payments-api/model"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// SplitService models instalment-based payment for one enrollment. All
// aggregates are projections over the transaction set; nothing here keeps
// an incrementable counter.
type SplitService struct {
	db *gorm.DB
}

// NewSplitService creates a new split-payment planner
func NewSplitService(db *gorm.DB) *SplitService {
	return &SplitService{db: db}
}

// WithTx returns a copy of the service bound to an open transaction
func (s *SplitService) WithTx(tx *gorm.DB) *SplitService {
	return &SplitService{db: tx}
}

// SplitOutcome reports the effect of a configure/record call
type SplitOutcome struct {
	Plan        *model.SplitPaymentPlan `json:"plan"`
	Transaction *model.Transaction      `json:"transaction"`
	Completed   bool                    `json:"completed"`
	// Overpaid carries the credit balance when an instalment pushed
	// amount_paid past the plan total. Overshoot is accepted and flagged,
	// never clipped.
	Overpaid decimal.Decimal `json:"overpaid"`
}

// NewReference generates a fresh unique transaction reference
func NewReference() string {
	return "PAY-" + uuid.New().String()
}

// Configure creates the split plan for an enrollment and records the
// initial amount as its first instalment. An initial amount equal to the
// total is accepted and resolves the plan immediately.
func (s *SplitService) Configure(ctx context.Context, enrollmentID uint, total, initial decimal.Decimal, method model.PaymentMethod) (*SplitOutcome, error) {
	if total.IsNegative() || initial.IsNegative() || initial.GreaterThan(total) {
		return nil, ErrInvalidAmount
	}
	if !model.ValidPaymentMethod(method) {
		return nil, ErrInvalidMethod
	}

	enrollment, err := s.enrollment(ctx, enrollmentID)
	if err != nil {
		return nil, err
	}

	var existing model.SplitPaymentPlan
	err = s.db.WithContext(ctx).Where("enrollment_id = ?", enrollmentID).First(&existing).Error
	if err == nil {
		return nil, ErrAlreadyConfigured
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("failed to look up split plan: %w", err)
	}

	plan := &model.SplitPaymentPlan{
		EnrollmentID: enrollmentID,
		TotalAmount:  total,
	}

	status := model.StatusPartial
	completed := initial.Equal(total)
	if completed {
		status = model.StatusSuccessful
		plan.Completed = true
	}

	if err := s.db.WithContext(ctx).Create(plan).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil, ErrAlreadyConfigured
		}
		return nil, fmt.Errorf("failed to create split plan: %w", err)
	}

	tx := &model.Transaction{
		Reference:      NewReference(),
		UserID:         enrollment.UserID,
		CourseID:       &enrollment.CourseID,
		EnrollmentID:   &enrollment.ID,
		Amount:         initial,
		Currency:       enrollment.Course.Currency,
		PaymentMethod:  method,
		Status:         status,
		IsSplitPayment: true,
	}
	if err := s.db.WithContext(ctx).Create(tx).Error; err != nil {
		return nil, fmt.Errorf("failed to record initial instalment: %w", err)
	}

	if err := s.project(ctx, plan); err != nil {
		return nil, err
	}

	return &SplitOutcome{
		Plan:        plan,
		Transaction: tx,
		Completed:   completed,
		Overpaid:    decimal.Zero,
	}, nil
}

// RecordInstalment appends an instalment transaction to an existing plan
// and recomputes the aggregates. When the recomputed amount_paid reaches
// the plan total, the latest instalment is promoted to successful and the
// plan is marked complete.
func (s *SplitService) RecordInstalment(ctx context.Context, enrollmentID uint, amount decimal.Decimal, method model.PaymentMethod) (*SplitOutcome, error) {
	if amount.LessThanOrEqual(decimal.Zero) {
		return nil, ErrInvalidAmount
	}
	if !model.ValidPaymentMethod(method) {
		return nil, ErrInvalidMethod
	}

	var plan model.SplitPaymentPlan
	err := s.db.WithContext(ctx).Where("enrollment_id = ?", enrollmentID).First(&plan).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNoPlan
		}
		return nil, fmt.Errorf("failed to look up split plan: %w", err)
	}

	enrollment, err := s.enrollment(ctx, enrollmentID)
	if err != nil {
		return nil, err
	}

	tx := &model.Transaction{
		Reference:      NewReference(),
		UserID:         enrollment.UserID,
		CourseID:       &enrollment.CourseID,
		EnrollmentID:   &enrollment.ID,
		Amount:         amount,
		Currency:       enrollment.Course.Currency,
		PaymentMethod:  method,
		Status:         model.StatusPartial,
		IsSplitPayment: true,
	}
	if err := s.db.WithContext(ctx).Create(tx).Error; err != nil {
		return nil, fmt.Errorf("failed to record instalment: %w", err)
	}

	paid, _, err := s.amountPaid(ctx, enrollmentID)
	if err != nil {
		return nil, err
	}

	outcome := &SplitOutcome{Plan: &plan, Transaction: tx, Overpaid: decimal.Zero}

	if paid.GreaterThanOrEqual(plan.TotalAmount) {
		if err := s.db.WithContext(ctx).Model(tx).Update("status", model.StatusSuccessful).Error; err != nil {
			return nil, fmt.Errorf("failed to promote final instalment: %w", err)
		}
		tx.Status = model.StatusSuccessful
		if err := s.db.WithContext(ctx).Model(&plan).Update("completed", true).Error; err != nil {
			return nil, fmt.Errorf("failed to mark plan complete: %w", err)
		}
		plan.Completed = true
		outcome.Completed = true
		if paid.GreaterThan(plan.TotalAmount) {
			outcome.Overpaid = paid.Sub(plan.TotalAmount)
		}
	}

	if err := s.project(ctx, &plan); err != nil {
		return nil, err
	}

	return outcome, nil
}

// GetPlan returns the plan for an enrollment with its derived aggregates
func (s *SplitService) GetPlan(ctx context.Context, enrollmentID uint) (*model.SplitPaymentPlan, error) {
	var plan model.SplitPaymentPlan
	err := s.db.WithContext(ctx).Where("enrollment_id = ?", enrollmentID).First(&plan).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNoPlan
		}
		return nil, fmt.Errorf("failed to look up split plan: %w", err)
	}
	if err := s.project(ctx, &plan); err != nil {
		return nil, err
	}
	return &plan, nil
}

// project fills the derived aggregate fields from the transaction set
func (s *SplitService) project(ctx context.Context, plan *model.SplitPaymentPlan) error {
	paid, count, err := s.amountPaid(ctx, plan.EnrollmentID)
	if err != nil {
		return err
	}
	plan.AmountPaid = paid
	plan.PaymentCount = count
	plan.OutstandingBalance = plan.TotalAmount.Sub(paid)
	if plan.OutstandingBalance.IsNegative() {
		plan.OutstandingBalance = decimal.Zero
	}
	return nil
}

func (s *SplitService) amountPaid(ctx context.Context, enrollmentID uint) (decimal.Decimal, int64, error) {
	var row struct {
		Total decimal.Decimal
		Count int64
	}
	err := s.db.WithContext(ctx).Model(&model.Transaction{}).
		Select("COALESCE(SUM(amount), 0) as total, COUNT(*) as count").
		Where("enrollment_id = ? AND status IN ?", enrollmentID,
			[]model.TransactionStatus{model.StatusSuccessful, model.StatusPartial}).
		Scan(&row).Error
	if err != nil {
		return decimal.Zero, 0, fmt.Errorf("failed to compute amount paid: %w", err)
	}
	return row.Total, row.Count, nil
}

func (s *SplitService) enrollment(ctx context.Context, enrollmentID uint) (*model.Enrollment, error) {
	var enrollment model.Enrollment
	err := s.db.WithContext(ctx).Preload("Course").First(&enrollment, enrollmentID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrEnrollmentNotFound
		}
		return nil, fmt.Errorf("failed to load enrollment: %w", err)
	}
	return &enrollment, nil
}
