package service

import (
	"context"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/scribelink/scribelink-api/internal/models"
	appErrors "github.com/scribelink/scribelink-api/pkg/errors"
)

type volunteerRepository interface {
	FindByUserID(ctx context.Context, userID string) (*models.VolunteerProfile, error)
	FindByID(ctx context.Context, id string) (*models.VolunteerProfile, error)
	Update(ctx context.Context, volunteer *models.Volunteer) error
	List(ctx context.Context, filter models.VolunteerFilter) ([]models.VolunteerProfile, int, error)
}

// UpdateVolunteerProfileRequest carries the editable volunteer profile
// fields. Pointer fields distinguish "leave unchanged" from "set to zero
// value". Rating counters are never client-writable.
type UpdateVolunteerProfileRequest struct {
	Phone           *string                   `json:"phone"`
	City            *string                   `json:"city" validate:"omitempty,min=1"`
	State           *string                   `json:"state" validate:"omitempty,min=1"`
	RemoteAvailable *bool                     `json:"remote_available"`
	VolunteerType   *models.VolunteerType     `json:"volunteer_type" validate:"omitempty,oneof=free paid"`
	HourlyRate      *float64                  `json:"hourly_rate" validate:"omitempty,gte=0"`
	Subjects        []string                  `json:"subjects"`
	Languages       []string                  `json:"languages"`
	Availability    models.WeeklyAvailability `json:"availability"`
}

// VolunteerService manages volunteer profiles and the public directory.
// Profile edits change matching inputs, so they flush the cached match feeds.
type VolunteerService struct {
	repo      volunteerRepository
	feeds     feedInvalidator
	validator *validator.Validate
	logger    *zap.Logger
}

// NewVolunteerService constructs a VolunteerService instance.
func NewVolunteerService(repo volunteerRepository, feeds feedInvalidator, validate *validator.Validate, logger *zap.Logger) *VolunteerService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if validate == nil {
		validate = validator.New()
	}
	return &VolunteerService{repo: repo, feeds: feeds, validator: validate, logger: logger}
}

// GetProfile returns the calling volunteer's profile.
func (s *VolunteerService) GetProfile(ctx context.Context, userID string) (*models.VolunteerProfile, error) {
	profile, err := s.repo.FindByUserID(ctx, userID)
	if err != nil {
		return nil, mapProfileErr(err, "volunteer profile not found")
	}
	return profile, nil
}

// GetByID returns a volunteer's public profile.
func (s *VolunteerService) GetByID(ctx context.Context, id string) (*models.VolunteerProfile, error) {
	profile, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, mapProfileErr(err, "volunteer not found")
	}
	return profile, nil
}

// UpdateProfile applies the provided changes to the calling volunteer's
// profile.
func (s *VolunteerService) UpdateProfile(ctx context.Context, userID string, req UpdateVolunteerProfileRequest) (*models.VolunteerProfile, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid profile payload")
	}

	profile, err := s.repo.FindByUserID(ctx, userID)
	if err != nil {
		return nil, mapProfileErr(err, "volunteer profile not found")
	}

	volunteer := &profile.Volunteer
	if req.Phone != nil {
		volunteer.Phone = *req.Phone
	}
	if req.City != nil {
		volunteer.City = *req.City
	}
	if req.State != nil {
		volunteer.State = *req.State
	}
	if req.RemoteAvailable != nil {
		volunteer.RemoteAvailable = *req.RemoteAvailable
	}
	if req.VolunteerType != nil {
		volunteer.VolunteerType = *req.VolunteerType
	}
	if req.HourlyRate != nil {
		volunteer.HourlyRate = *req.HourlyRate
	}
	if req.Subjects != nil {
		volunteer.Subjects = req.Subjects
	}
	if req.Languages != nil {
		volunteer.Languages = req.Languages
	}
	if req.Availability != nil {
		volunteer.Availability = req.Availability
	}

	if err := s.repo.Update(ctx, volunteer); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update profile")
	}

	if s.feeds != nil {
		s.feeds.InvalidateFeeds(ctx)
	}
	return profile, nil
}

// Directory returns the public volunteer listing with filters and pagination.
func (s *VolunteerService) Directory(ctx context.Context, filter models.VolunteerFilter) ([]models.VolunteerProfile, int, error) {
	volunteers, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, 0, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list volunteers")
	}
	return volunteers, total, nil
}
