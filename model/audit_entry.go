package model

import (
	"time"

	"gorm.io/datatypes"
)

// AuditAction tags the administrative action an audit entry records
type AuditAction string

const (
	AuditActionResolve        AuditAction = "resolve"
	AuditActionManualPayment  AuditAction = "manual_payment"
	AuditActionSplitConfigure AuditAction = "split_configure"
	AuditActionSplitRecord    AuditAction = "split_record"
	AuditActionReceiptSent    AuditAction = "receipt_sent"
)

// AuditEntry is the immutable record of one state-changing administrative
// action on a transaction. Entries are append-only: no soft delete, no
// updates, UpdatedAt intentionally absent.
type AuditEntry struct {
	ID             uint               `gorm:"primaryKey" json:"id"`
	TransactionID  uint               `gorm:"not null;index" json:"transaction_id"`
	Action         AuditAction        `gorm:"type:varchar(50);not null;index" json:"action"`
	PreviousStatus *TransactionStatus `gorm:"type:varchar(20)" json:"previous_status"`
	NewStatus      *TransactionStatus `gorm:"type:varchar(20)" json:"new_status"`
	Note           string             `gorm:"type:text;not null" json:"note"`
	AdminID        uint               `gorm:"not null;index" json:"admin_id"`
	AdminName      string             `gorm:"type:varchar(255)" json:"admin_name"`
	Metadata       datatypes.JSON     `gorm:"type:jsonb" json:"metadata,omitempty"`
	CreatedAt      time.Time          `json:"created_at"`

	// Relationships
	Transaction Transaction `gorm:"foreignKey:TransactionID" json:"-"`
	Admin       User        `gorm:"foreignKey:AdminID" json:"-"`
}

// TableName specifies the table name for AuditEntry
func (AuditEntry) TableName() string {
	return "transaction_audit_entries"
}
