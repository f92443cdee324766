package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/scribelink/scribelink-api/internal/models"
	appErrors "github.com/scribelink/scribelink-api/pkg/errors"
	"github.com/scribelink/scribelink-api/pkg/export"
)

type adminUserRepository interface {
	FindByID(ctx context.Context, id string) (*models.User, error)
	List(ctx context.Context, filter models.UserFilter) ([]models.User, int, error)
	CountByRole(ctx context.Context) (map[models.UserRole]int, error)
	SetActive(ctx context.Context, id string, active bool) error
	CreateAuditLog(ctx context.Context, log *models.AuditLog) error
}

type adminVolunteerRepository interface {
	FindByID(ctx context.Context, id string) (*models.VolunteerProfile, error)
	SetVerified(ctx context.Context, id string, verified bool) error
	CountVerified(ctx context.Context) (int, error)
}

type adminRequestRepository interface {
	CountByStatus(ctx context.Context) ([]models.RequestStatusCount, error)
	CountCompletedSince(ctx context.Context, since time.Time) (int, error)
	ListCompleted(ctx context.Context, limit int) ([]models.Request, error)
}

type adminCache interface {
	Get(ctx context.Context, key string, dest interface{}) error
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
}

// ExportFormat selects the rendering for admin exports.
type ExportFormat string

const (
	ExportCSV ExportFormat = "csv"
	ExportPDF ExportFormat = "pdf"
)

const statsCacheKey = "admin:stats"

// AdminService backs the admin dashboard: platform stats, user management,
// volunteer verification and completed-request exports.
type AdminService struct {
	users      adminUserRepository
	volunteers adminVolunteerRepository
	requests   adminRequestRepository
	cache      adminCache
	notifier   requestNotifier
	csv        *export.CSVExporter
	pdf        *export.PDFExporter
	statsTTL   time.Duration
	logger     *zap.Logger
}

// NewAdminService constructs an AdminService instance.
func NewAdminService(
	users adminUserRepository,
	volunteers adminVolunteerRepository,
	requests adminRequestRepository,
	cache adminCache,
	notifier requestNotifier,
	statsTTL time.Duration,
	logger *zap.Logger,
) *AdminService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if statsTTL <= 0 {
		statsTTL = 5 * time.Minute
	}
	return &AdminService{
		users:      users,
		volunteers: volunteers,
		requests:   requests,
		cache:      cache,
		notifier:   notifier,
		csv:        export.NewCSVExporter(),
		pdf:        export.NewPDFExporter(),
		statsTTL:   statsTTL,
		logger:     logger,
	}
}

// Stats returns the aggregate platform counts, cached in Redis for a short
// period so dashboard refreshes do not hammer the database.
func (s *AdminService) Stats(ctx context.Context) (*models.PlatformStats, error) {
	if s.cache != nil {
		var cached models.PlatformStats
		if err := s.cache.Get(ctx, statsCacheKey, &cached); err == nil {
			return &cached, nil
		}
	}

	byRole, err := s.users.CountByRole(ctx)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to count users")
	}
	byStatus, err := s.requests.CountByStatus(ctx)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to count requests")
	}
	verified, err := s.volunteers.CountVerified(ctx)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to count volunteers")
	}

	now := time.Now().UTC()
	monthStart := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
	completedThisMonth, err := s.requests.CountCompletedSince(ctx, monthStart)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to count completions")
	}

	total := 0
	for _, count := range byRole {
		total += count
	}

	stats := &models.PlatformStats{
		TotalUsers:         total,
		UsersByRole:        byRole,
		RequestsByStatus:   byStatus,
		VerifiedVolunteers: verified,
		CompletedThisMonth: completedThisMonth,
		GeneratedAt:        now,
	}

	if s.cache != nil {
		if err := s.cache.Set(ctx, statsCacheKey, stats, s.statsTTL); err != nil {
			s.logger.Warn("failed to cache platform stats", zap.Error(err))
		}
	}
	return stats, nil
}

// ListUsers returns users with filters and pagination.
func (s *AdminService) ListUsers(ctx context.Context, filter models.UserFilter) ([]models.User, int, error) {
	users, total, err := s.users.List(ctx, filter)
	if err != nil {
		return nil, 0, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list users")
	}
	return users, total, nil
}

// SetUserActive activates or deactivates an account. Admins cannot
// deactivate themselves.
func (s *AdminService) SetUserActive(ctx context.Context, adminUserID, targetUserID string, active bool) error {
	if !active && adminUserID == targetUserID {
		return appErrors.Clone(appErrors.ErrValidation, "cannot deactivate your own account")
	}

	user, err := s.users.FindByID(ctx, targetUserID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "user not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load user")
	}

	if err := s.users.SetActive(ctx, user.ID, active); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update account state")
	}

	s.recordAudit(ctx, adminUserID, models.AuditActionToggle, user.ID, fmt.Sprintf(`{"active":%t}`, active))
	if s.notifier != nil && active {
		if err := s.notifier.Notify(ctx, user.ID, models.NotificationSystem, "Account reactivated",
			"Your account has been reactivated by an administrator.", nil); err != nil {
			s.logger.Warn("failed to notify user", zap.String("user_id", user.ID), zap.Error(err))
		}
	}
	return nil
}

// VerifyVolunteer flips a volunteer's verification flag. Only verified
// volunteers may accept requests.
func (s *AdminService) VerifyVolunteer(ctx context.Context, adminUserID, volunteerID string, verified bool) error {
	volunteer, err := s.volunteers.FindByID(ctx, volunteerID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "volunteer not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load volunteer")
	}

	if err := s.volunteers.SetVerified(ctx, volunteer.ID, verified); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update verification")
	}

	s.recordAudit(ctx, adminUserID, models.AuditActionVerify, volunteer.ID, fmt.Sprintf(`{"verified":%t}`, verified))
	if s.notifier != nil && verified {
		if err := s.notifier.Notify(ctx, volunteer.UserID, models.NotificationSystem, "Profile verified",
			"Your scribe profile has been verified. You can now accept requests.", nil); err != nil {
			s.logger.Warn("failed to notify volunteer", zap.String("volunteer_id", volunteer.ID), zap.Error(err))
		}
	}
	return nil
}

// ExportCompleted renders the most recent completed requests as CSV or PDF.
func (s *AdminService) ExportCompleted(ctx context.Context, format ExportFormat, limit int) ([]byte, string, error) {
	requests, err := s.requests.ListCompleted(ctx, limit)
	if err != nil {
		return nil, "", appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load completed requests")
	}

	dataset := completedDataset(requests)
	stamp := time.Now().UTC().Format("20060102")

	switch format {
	case ExportCSV:
		data, err := s.csv.Render(dataset)
		if err != nil {
			return nil, "", appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render csv export")
		}
		return data, fmt.Sprintf("completed-requests-%s.csv", stamp), nil
	case ExportPDF:
		data, err := s.pdf.Render(dataset, "Completed Requests")
		if err != nil {
			return nil, "", appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render pdf export")
		}
		return data, fmt.Sprintf("completed-requests-%s.pdf", stamp), nil
	default:
		return nil, "", appErrors.Clone(appErrors.ErrValidation, "unsupported export format")
	}
}

func completedDataset(requests []models.Request) export.Dataset {
	headers := []string{"ID", "Student", "Volunteer", "Subject", "Exam Type", "Exam Date", "Rating", "Completed At"}
	rows := make([]map[string]string, 0, len(requests))
	for _, request := range requests {
		volunteerID := ""
		if request.VolunteerID != nil {
			volunteerID = *request.VolunteerID
		}
		rating := ""
		if request.Rating != nil {
			rating = strconv.Itoa(*request.Rating)
		}
		rows = append(rows, map[string]string{
			"ID":           request.ID,
			"Student":      request.StudentID,
			"Volunteer":    volunteerID,
			"Subject":      request.Subject,
			"Exam Type":    request.ExamType,
			"Exam Date":    request.ExamDate.Format("2006-01-02"),
			"Rating":       rating,
			"Completed At": request.UpdatedAt.Format(time.RFC3339),
		})
	}
	return export.Dataset{Headers: headers, Rows: rows}
}

func (s *AdminService) recordAudit(ctx context.Context, adminUserID, action, resourceID, newValues string) {
	if err := s.users.CreateAuditLog(ctx, &models.AuditLog{
		UserID:     &adminUserID,
		Action:     action,
		Resource:   "admin",
		ResourceID: &resourceID,
		NewValues:  []byte(newValues),
	}); err != nil {
		s.logger.Warn("failed to record audit log", zap.String("action", action), zap.Error(err))
	}
}
