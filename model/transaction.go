package model

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

// TransactionStatus mirrors the payment_transactions.status column
type TransactionStatus string

const (
	StatusPending    TransactionStatus = "pending"
	StatusSuccessful TransactionStatus = "successful"
	StatusFailed     TransactionStatus = "failed"
	StatusCancelled  TransactionStatus = "cancelled"
	StatusPartial    TransactionStatus = "partial"
)

// PaymentMethod identifies how a payment was taken
type PaymentMethod string

const (
	MethodGateway      PaymentMethod = "gateway"
	MethodCash         PaymentMethod = "cash"
	MethodBankTransfer PaymentMethod = "bank_transfer"
	MethodPOS          PaymentMethod = "pos"
	MethodOther        PaymentMethod = "other"
)

// ValidPaymentMethod reports whether m is one of the accepted method tags
func ValidPaymentMethod(m PaymentMethod) bool {
	switch m {
	case MethodGateway, MethodCash, MethodBankTransfer, MethodPOS, MethodOther:
		return true
	}
	return false
}

// Transaction represents one payment attempt or recorded payment event.
// Rows are never deleted; financial records are retained indefinitely for
// audit, so there is no gorm.DeletedAt here.
type Transaction struct {
	ID                uint              `gorm:"primaryKey" json:"id"`
	Reference         string            `gorm:"type:varchar(100);uniqueIndex;not null" json:"reference"`
	UserID            uint              `gorm:"not null;index" json:"user_id"`
	CourseID          *uint             `gorm:"index" json:"course_id"`
	EnrollmentID      *uint             `gorm:"index" json:"enrollment_id"`
	Amount            decimal.Decimal   `gorm:"type:numeric(12,2);not null" json:"amount"`
	Currency          string            `gorm:"type:varchar(10);default:'NGN'" json:"currency"`
	PaymentMethod     PaymentMethod     `gorm:"type:varchar(50);default:'gateway'" json:"payment_method"`
	Status            TransactionStatus `gorm:"type:varchar(20);default:'pending';index" json:"status"`
	IsSplitPayment    bool              `gorm:"default:false" json:"is_split_payment"`
	AdminOverrideNote *string           `gorm:"type:text" json:"admin_override_note"`
	GatewayPayload    datatypes.JSON    `gorm:"type:jsonb" json:"gateway_response,omitempty"`
	CreatedAt         time.Time         `json:"created_at"`
	UpdatedAt         time.Time         `json:"updated_at"`

	// Relationships
	User       User        `gorm:"foreignKey:UserID" json:"user,omitempty"`
	Course     *Course     `gorm:"foreignKey:CourseID" json:"course,omitempty"`
	Enrollment *Enrollment `gorm:"foreignKey:EnrollmentID" json:"enrollment,omitempty"`
}

// TableName specifies the table name for Transaction
func (Transaction) TableName() string {
	return "payment_transactions"
}
