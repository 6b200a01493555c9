package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/learnhub/payments-api/model"
	"gorm.io/gorm"
)

// ActivationResult signals the outcome of an activation call. AlreadyActive
// is a signalled condition, not a failure: repeated activations must be
// safe no-ops.
type ActivationResult string

const (
	ActivationActivated     ActivationResult = "ACTIVATED"
	ActivationAlreadyActive ActivationResult = "ALREADY_ACTIVE"
	ActivationDeactivated   ActivationResult = "DEACTIVATED"
)

// Directory resolves users, courses and enrollments for the reconciliation
// façade
type Directory interface {
	ResolveUserByEmail(ctx context.Context, email string) (*model.User, error)
	ResolveEnrollment(ctx context.Context, userID, courseID uint) (*model.Enrollment, error)
	CreateEnrollment(ctx context.Context, userID, courseID uint) (*model.Enrollment, error)
	GetCourse(ctx context.Context, courseID uint) (*model.Course, error)
	ListEnrollmentsByUser(ctx context.Context, userID uint) ([]model.Enrollment, error)
}

// EnrollmentActivator grants or revokes a student's access to a course
type EnrollmentActivator interface {
	Activate(ctx context.Context, enrollmentID uint) (ActivationResult, error)
	Deactivate(ctx context.Context, enrollmentID uint) (ActivationResult, error)
}

// EnrollmentService is the GORM-backed directory and activator
type EnrollmentService struct {
	db *gorm.DB
}

// NewEnrollmentService creates a new enrollment service
func NewEnrollmentService(db *gorm.DB) *EnrollmentService {
	return &EnrollmentService{db: db}
}

// ResolveUserByEmail finds a user by email
func (s *EnrollmentService) ResolveUserByEmail(ctx context.Context, email string) (*model.User, error) {
	var user model.User
	err := s.db.WithContext(ctx).Where("email = ?", email).First(&user).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to resolve user: %w", err)
	}
	return &user, nil
}

// ResolveEnrollment finds the enrollment linking a user to a course
func (s *EnrollmentService) ResolveEnrollment(ctx context.Context, userID, courseID uint) (*model.Enrollment, error) {
	var enrollment model.Enrollment
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND course_id = ?", userID, courseID).
		First(&enrollment).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrEnrollmentNotFound
		}
		return nil, fmt.Errorf("failed to resolve enrollment: %w", err)
	}
	return &enrollment, nil
}

// CreateEnrollment creates a pending enrollment for a user on a course
func (s *EnrollmentService) CreateEnrollment(ctx context.Context, userID, courseID uint) (*model.Enrollment, error) {
	enrollment := &model.Enrollment{
		UserID:   userID,
		CourseID: courseID,
		Status:   model.EnrollmentPending,
	}
	if err := s.db.WithContext(ctx).Create(enrollment).Error; err != nil {
		return nil, fmt.Errorf("failed to create enrollment: %w", err)
	}
	return enrollment, nil
}

// GetCourse loads a course by id
func (s *EnrollmentService) GetCourse(ctx context.Context, courseID uint) (*model.Course, error) {
	var course model.Course
	err := s.db.WithContext(ctx).First(&course, courseID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrCourseNotFound
		}
		return nil, fmt.Errorf("failed to load course: %w", err)
	}
	return &course, nil
}

// ListEnrollmentsByUser returns a user's enrollments with their courses
func (s *EnrollmentService) ListEnrollmentsByUser(ctx context.Context, userID uint) ([]model.Enrollment, error) {
	var enrollments []model.Enrollment
	err := s.db.WithContext(ctx).
		Preload("Course").
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Find(&enrollments).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list enrollments: %w", err)
	}
	return enrollments, nil
}

// Activate grants access. Activating an already-active enrollment is a
// no-op that signals ALREADY_ACTIVE.
func (s *EnrollmentService) Activate(ctx context.Context, enrollmentID uint) (ActivationResult, error) {
	var enrollment model.Enrollment
	if err := s.db.WithContext(ctx).First(&enrollment, enrollmentID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", ErrEnrollmentNotFound
		}
		return "", fmt.Errorf("failed to load enrollment: %w", err)
	}

	if enrollment.Status == model.EnrollmentActive {
		if enrollment.ActivationPending {
			// a retried activation found the work already done
			if err := s.db.WithContext(ctx).Model(&enrollment).
				Update("activation_pending", false).Error; err != nil {
				return "", fmt.Errorf("failed to clear activation flag: %w", err)
			}
		}
		return ActivationAlreadyActive, nil
	}

	now := time.Now()
	updates := map[string]interface{}{
		"status":             model.EnrollmentActive,
		"activated_at":       &now,
		"activation_pending": false,
	}
	if err := s.db.WithContext(ctx).Model(&enrollment).Updates(updates).Error; err != nil {
		return "", fmt.Errorf("failed to activate enrollment: %w", err)
	}
	return ActivationActivated, nil
}

// Deactivate revokes access to a course
func (s *EnrollmentService) Deactivate(ctx context.Context, enrollmentID uint) (ActivationResult, error) {
	result := s.db.WithContext(ctx).Model(&model.Enrollment{}).
		Where("id = ?", enrollmentID).
		Update("status", model.EnrollmentCancelled)
	if result.Error != nil {
		return "", fmt.Errorf("failed to deactivate enrollment: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return "", ErrEnrollmentNotFound
	}
	return ActivationDeactivated, nil
}
