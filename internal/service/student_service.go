package service

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/scribelink/scribelink-api/internal/models"
	appErrors "github.com/scribelink/scribelink-api/pkg/errors"
)

func mapProfileErr(err error, message string) error {
	if errors.Is(err, sql.ErrNoRows) {
		return appErrors.Clone(appErrors.ErrNotFound, message)
	}
	return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, message)
}

type studentRepository interface {
	FindByUserID(ctx context.Context, userID string) (*models.StudentProfile, error)
	Update(ctx context.Context, student *models.Student) error
}

// UpdateStudentProfileRequest carries the editable student profile fields.
// Pointer fields distinguish "leave unchanged" from "set to zero value".
type UpdateStudentProfileRequest struct {
	Phone              *string                    `json:"phone"`
	DateOfBirth        *time.Time                 `json:"date_of_birth"`
	City               *string                    `json:"city" validate:"omitempty,min=1"`
	State              *string                    `json:"state" validate:"omitempty,min=1"`
	University         *string                    `json:"university"`
	Course             *string                    `json:"course"`
	DisabilityType     *models.DisabilityType     `json:"disability_type" validate:"omitempty,oneof=visual motor cognitive hearing other"`
	SpecificNeeds      *string                    `json:"specific_needs"`
	PreferredSubjects  []string                   `json:"preferred_subjects"`
	PreferredLanguage  *string                    `json:"preferred_language"`
	NotificationMethod *models.NotificationMethod `json:"notification_method" validate:"omitempty,oneof=email sms both"`
	PreferredTime      *string                    `json:"preferred_time"`
}

// StudentService manages student profile reads and updates.
type StudentService struct {
	repo      studentRepository
	validator *validator.Validate
	logger    *zap.Logger
}

// NewStudentService constructs a StudentService instance.
func NewStudentService(repo studentRepository, validate *validator.Validate, logger *zap.Logger) *StudentService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if validate == nil {
		validate = validator.New()
	}
	return &StudentService{repo: repo, validator: validate, logger: logger}
}

// GetProfile returns the calling student's profile.
func (s *StudentService) GetProfile(ctx context.Context, userID string) (*models.StudentProfile, error) {
	profile, err := s.repo.FindByUserID(ctx, userID)
	if err != nil {
		return nil, mapProfileErr(err, "student profile not found")
	}
	return profile, nil
}

// UpdateProfile applies the provided changes to the calling student's profile.
func (s *StudentService) UpdateProfile(ctx context.Context, userID string, req UpdateStudentProfileRequest) (*models.StudentProfile, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid profile payload")
	}

	profile, err := s.repo.FindByUserID(ctx, userID)
	if err != nil {
		return nil, mapProfileErr(err, "student profile not found")
	}

	student := &profile.Student
	if req.Phone != nil {
		student.Phone = *req.Phone
	}
	if req.DateOfBirth != nil {
		student.DateOfBirth = req.DateOfBirth
	}
	if req.City != nil {
		student.City = *req.City
	}
	if req.State != nil {
		student.State = *req.State
	}
	if req.University != nil {
		student.University = *req.University
	}
	if req.Course != nil {
		student.Course = *req.Course
	}
	if req.DisabilityType != nil {
		student.DisabilityType = *req.DisabilityType
	}
	if req.SpecificNeeds != nil {
		student.SpecificNeeds = *req.SpecificNeeds
	}
	if req.PreferredSubjects != nil {
		student.PreferredSubjects = req.PreferredSubjects
	}
	if req.PreferredLanguage != nil {
		student.PreferredLanguage = *req.PreferredLanguage
	}
	if req.NotificationMethod != nil {
		student.NotificationMethod = *req.NotificationMethod
	}
	if req.PreferredTime != nil {
		student.PreferredTime = *req.PreferredTime
	}

	if err := s.repo.Update(ctx, student); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update profile")
	}
	return profile, nil
}
