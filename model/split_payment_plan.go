package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// SplitPaymentPlan is an agreement to pay an enrollment's total fee across
// multiple instalments. AmountPaid and OutstandingBalance are projections
// recomputed from the transaction set on every read; they are never stored,
// so the plan cannot drift from the ledger.
type SplitPaymentPlan struct {
	ID           uint            `gorm:"primaryKey" json:"id"`
	EnrollmentID uint            `gorm:"uniqueIndex;not null" json:"enrollment_id"`
	TotalAmount  decimal.Decimal `gorm:"type:numeric(12,2);not null" json:"total_amount"`
	Completed    bool            `gorm:"default:false" json:"completed"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`

	// Derived, never persisted
	AmountPaid         decimal.Decimal `gorm:"-" json:"amount_paid"`
	OutstandingBalance decimal.Decimal `gorm:"-" json:"outstanding_balance"`
	PaymentCount       int64           `gorm:"-" json:"payment_count"`

	// Relationships
	Enrollment Enrollment `gorm:"foreignKey:EnrollmentID" json:"enrollment,omitempty"`
}

// TableName specifies the table name for SplitPaymentPlan
func (SplitPaymentPlan) TableName() string {
	return "split_payment_plans"
}
