package model

import (
	"time"
)

// EnrollmentStatus mirrors the enrollments.status column
type EnrollmentStatus string

const (
	EnrollmentPending   EnrollmentStatus = "pending"
	EnrollmentActive    EnrollmentStatus = "active"
	EnrollmentCancelled EnrollmentStatus = "cancelled"
)

// Enrollment links a user to a course. ActivationPending marks enrollments
// whose payment committed but whose activation call timed out; the cron
// retry job picks those up.
type Enrollment struct {
	ID                uint             `gorm:"primaryKey" json:"id"`
	UserID            uint             `gorm:"not null;index:idx_enrollment_user_course,unique" json:"user_id"`
	CourseID          uint             `gorm:"not null;index:idx_enrollment_user_course,unique" json:"course_id"`
	Status            EnrollmentStatus `gorm:"type:varchar(20);default:'pending';index" json:"status"`
	ActivationPending bool             `gorm:"default:false;index" json:"activation_pending"`
	ActivatedAt       *time.Time       `json:"activated_at"`
	CreatedAt         time.Time        `json:"created_at"`
	UpdatedAt         time.Time        `json:"updated_at"`

	// Relationships
	User         User              `gorm:"foreignKey:UserID" json:"-"`
	Course       Course            `gorm:"foreignKey:CourseID" json:"course,omitempty"`
	Transactions []Transaction     `gorm:"foreignKey:EnrollmentID" json:"-"`
	SplitPlan    *SplitPaymentPlan `gorm:"foreignKey:EnrollmentID" json:"split_plan,omitempty"`
}

// TableName specifies the table name for Enrollment
func (Enrollment) TableName() string {
	return "enrollments"
}
