package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"mime"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/scribelink/scribelink-api/internal/models"
	"github.com/scribelink/scribelink-api/pkg/config"
	appErrors "github.com/scribelink/scribelink-api/pkg/errors"
	"github.com/scribelink/scribelink-api/pkg/storage"
)

type requestRepository interface {
	Create(ctx context.Context, request *models.Request) error
	FindByID(ctx context.Context, id string) (*models.Request, error)
	FindDetail(ctx context.Context, id string) (*models.RequestDetail, error)
	ListByStudent(ctx context.Context, studentID string, filter models.RequestFilter) ([]models.Request, int, error)
	ListByVolunteer(ctx context.Context, volunteerID string, filter models.RequestFilter) ([]models.Request, int, error)
	AssignIfPending(ctx context.Context, requestID, volunteerID string) (*models.Request, error)
	Transition(ctx context.Context, requestID string, from []models.RequestStatus, to models.RequestStatus, guardColumn, guardID string) (*models.Request, error)
	CompleteWithRating(ctx context.Context, requestID, studentID string, rating int, feedback string) (*models.Request, *models.Volunteer, error)
	AddMaterial(ctx context.Context, material *models.RequestMaterial) error
	FindMaterial(ctx context.Context, id string) (*models.RequestMaterial, error)
}

type requestStudentRepository interface {
	FindByUserID(ctx context.Context, userID string) (*models.StudentProfile, error)
	FindByID(ctx context.Context, id string) (*models.StudentProfile, error)
}

type requestVolunteerRepository interface {
	FindByUserID(ctx context.Context, userID string) (*models.VolunteerProfile, error)
	FindByID(ctx context.Context, id string) (*models.VolunteerProfile, error)
}

type requestNotifier interface {
	Notify(ctx context.Context, userID string, kind models.NotificationType, title, message string, relatedID *string) error
}

type feedInvalidator interface {
	InvalidateFeeds(ctx context.Context)
}

type auditRecorder interface {
	CreateAuditLog(ctx context.Context, log *models.AuditLog) error
}

type materialStore interface {
	SaveStream(filename string, r io.Reader) (int64, error)
	Open(filename string) (*os.File, error)
	Delete(filename string) error
}

// CreateRequestRequest is the payload for opening a new exam-assistance
// request.
type CreateRequestRequest struct {
	Subject         string    `json:"subject" validate:"required"`
	ExamType        string    `json:"exam_type" validate:"required"`
	ExamDate        time.Time `json:"exam_date" validate:"required"`
	ExamTime        string    `json:"exam_time"`
	DurationMinutes int       `json:"duration_minutes" validate:"gte=0,lte=720"`
	Requirements    string    `json:"requirements"`
}

// MaterialUpload carries an incoming material file stream.
type MaterialUpload struct {
	FileName    string
	ContentType string
	Size        int64
	Reader      io.Reader
}

// RequestService implements the request lifecycle: creation, the atomic
// accept, start/complete/cancel transitions and rating submission, plus exam
// material storage. Transition outcomes are decided inside the database so
// concurrent actors cannot observe stale state.
type RequestService struct {
	requests   requestRepository
	students   requestStudentRepository
	volunteers requestVolunteerRepository
	notifier   requestNotifier
	feeds      feedInvalidator
	audit      auditRecorder
	store      materialStore
	signer     *storage.SignedURLSigner
	materials  config.MaterialsConfig
	metrics    *MetricsService
	validator  *validator.Validate
	logger     *zap.Logger
}

// SetMetrics attaches the Prometheus recorder for lifecycle counters.
func (s *RequestService) SetMetrics(metrics *MetricsService) {
	s.metrics = metrics
}

// NewRequestService constructs a RequestService instance.
func NewRequestService(
	requests requestRepository,
	students requestStudentRepository,
	volunteers requestVolunteerRepository,
	notifier requestNotifier,
	feeds feedInvalidator,
	audit auditRecorder,
	store materialStore,
	signer *storage.SignedURLSigner,
	materials config.MaterialsConfig,
	validate *validator.Validate,
	logger *zap.Logger,
) *RequestService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if validate == nil {
		validate = validator.New()
	}
	return &RequestService{
		requests:   requests,
		students:   students,
		volunteers: volunteers,
		notifier:   notifier,
		feeds:      feeds,
		audit:      audit,
		store:      store,
		signer:     signer,
		materials:  materials,
		validator:  validate,
		logger:     logger,
	}
}

// Create opens a new pending request for the calling student.
func (s *RequestService) Create(ctx context.Context, studentUserID string, req CreateRequestRequest) (*models.Request, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid request payload")
	}

	student, err := s.students.FindByUserID(ctx, studentUserID)
	if err != nil {
		return nil, s.mapNotFound(err, "student profile not found")
	}

	request := &models.Request{
		StudentID:       student.ID,
		Subject:         req.Subject,
		ExamType:        req.ExamType,
		ExamDate:        req.ExamDate,
		ExamTime:        req.ExamTime,
		DurationMinutes: req.DurationMinutes,
		Requirements:    req.Requirements,
	}
	if err := s.requests.Create(ctx, request); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create request")
	}

	s.feeds.InvalidateFeeds(ctx)
	return request, nil
}

// Get returns a request with its materials, visible only to the owning
// student, the assigned volunteer, or an admin.
func (s *RequestService) Get(ctx context.Context, requestID, actorUserID string, role models.UserRole) (*models.RequestDetail, error) {
	detail, err := s.requests.FindDetail(ctx, requestID)
	if err != nil {
		return nil, s.mapNotFound(err, "request not found")
	}
	if err := s.authorize(ctx, &detail.Request, actorUserID, role); err != nil {
		return nil, err
	}
	return detail, nil
}

// ListForStudent returns the calling student's own requests.
func (s *RequestService) ListForStudent(ctx context.Context, studentUserID string, filter models.RequestFilter) ([]models.Request, int, error) {
	student, err := s.students.FindByUserID(ctx, studentUserID)
	if err != nil {
		return nil, 0, s.mapNotFound(err, "student profile not found")
	}
	requests, total, err := s.requests.ListByStudent(ctx, student.ID, filter)
	if err != nil {
		return nil, 0, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list requests")
	}
	return requests, total, nil
}

// ListForVolunteer returns the requests assigned to the calling volunteer.
func (s *RequestService) ListForVolunteer(ctx context.Context, volunteerUserID string, filter models.RequestFilter) ([]models.Request, int, error) {
	volunteer, err := s.volunteers.FindByUserID(ctx, volunteerUserID)
	if err != nil {
		return nil, 0, s.mapNotFound(err, "volunteer profile not found")
	}
	requests, total, err := s.requests.ListByVolunteer(ctx, volunteer.ID, filter)
	if err != nil {
		return nil, 0, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list requests")
	}
	return requests, total, nil
}

// Accept assigns the calling volunteer to a pending request. The write is a
// single conditional update: when two volunteers race, exactly one wins and
// the other receives a conflict.
func (s *RequestService) Accept(ctx context.Context, requestID, volunteerUserID string) (*models.Request, error) {
	volunteer, err := s.volunteers.FindByUserID(ctx, volunteerUserID)
	if err != nil {
		return nil, s.mapNotFound(err, "volunteer profile not found")
	}
	if !volunteer.Verified {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "volunteer account is not verified yet")
	}

	request, err := s.requests.AssignIfPending(ctx, requestID, volunteer.ID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			s.metrics.RecordAcceptOutcome("not_found")
			return nil, appErrors.Clone(appErrors.ErrNotFound, "request not found")
		}
		if errors.Is(err, appErrors.ErrRequestTaken) {
			s.metrics.RecordAcceptOutcome("conflict")
			return nil, appErrors.ErrRequestTaken
		}
		s.metrics.RecordAcceptOutcome("error")
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to accept request")
	}
	s.metrics.RecordAcceptOutcome("won")

	s.feeds.InvalidateFeeds(ctx)
	s.notifyStudent(ctx, request, models.NotificationAssignment, "Scribe assigned",
		fmt.Sprintf("%s accepted your %s request.", volunteer.FullName, request.Subject))
	s.recordAudit(ctx, volunteerUserID, models.AuditActionAccept, request.ID)

	return request, nil
}

// Start moves an accepted request to in-progress, by the assigned volunteer.
func (s *RequestService) Start(ctx context.Context, requestID, volunteerUserID string) (*models.Request, error) {
	volunteer, err := s.volunteers.FindByUserID(ctx, volunteerUserID)
	if err != nil {
		return nil, s.mapNotFound(err, "volunteer profile not found")
	}
	request, err := s.requests.Transition(ctx, requestID,
		[]models.RequestStatus{models.StatusAccepted}, models.StatusInProgress, "volunteer_id", volunteer.ID)
	if err != nil {
		return nil, s.mapTransitionErr(err)
	}
	return request, nil
}

// Complete finishes a request without a rating, by the assigned volunteer.
// Students finish through SubmitRating instead.
func (s *RequestService) Complete(ctx context.Context, requestID, volunteerUserID string) (*models.Request, error) {
	volunteer, err := s.volunteers.FindByUserID(ctx, volunteerUserID)
	if err != nil {
		return nil, s.mapNotFound(err, "volunteer profile not found")
	}
	request, err := s.requests.Transition(ctx, requestID,
		[]models.RequestStatus{models.StatusAccepted, models.StatusInProgress}, models.StatusCompleted, "volunteer_id", volunteer.ID)
	if err != nil {
		return nil, s.mapTransitionErr(err)
	}

	s.notifyStudent(ctx, request, models.NotificationRequest, "Session completed",
		fmt.Sprintf("Your %s session was marked completed. You can now rate your scribe.", request.Subject))
	return request, nil
}

// Cancel moves the owning student's request to cancelled from any
// non-terminal state.
func (s *RequestService) Cancel(ctx context.Context, requestID, studentUserID string) (*models.Request, error) {
	student, err := s.students.FindByUserID(ctx, studentUserID)
	if err != nil {
		return nil, s.mapNotFound(err, "student profile not found")
	}
	request, err := s.requests.Transition(ctx, requestID,
		[]models.RequestStatus{models.StatusPending, models.StatusAccepted, models.StatusInProgress},
		models.StatusCancelled, "student_id", student.ID)
	if err != nil {
		return nil, s.mapTransitionErr(err)
	}

	s.feeds.InvalidateFeeds(ctx)
	if request.VolunteerID != nil {
		s.notifyVolunteer(ctx, request, models.NotificationRequest, "Request cancelled",
			fmt.Sprintf("The %s request you accepted was cancelled by the student.", request.Subject))
	}
	return request, nil
}

// SubmitRating completes a request and folds the student's rating into the
// volunteer's running average, both inside one database transaction. The
// stored average stays the exact mean of all submitted ratings.
func (s *RequestService) SubmitRating(ctx context.Context, requestID, studentUserID string, rating int, feedback string) (*models.Request, error) {
	if rating < 1 || rating > 5 {
		return nil, appErrors.ErrInvalidRating
	}

	student, err := s.students.FindByUserID(ctx, studentUserID)
	if err != nil {
		return nil, s.mapNotFound(err, "student profile not found")
	}

	request, volunteer, err := s.requests.CompleteWithRating(ctx, requestID, student.ID, rating, feedback)
	if err != nil {
		return nil, s.mapTransitionErr(err)
	}

	s.logger.Info("rating applied",
		zap.String("request_id", request.ID),
		zap.String("volunteer_id", volunteer.ID),
		zap.Int("rating", rating),
		zap.Float64("new_average", volunteer.Rating),
		zap.Int("total_ratings", volunteer.TotalRatings))

	s.metrics.RecordRatingApplied()
	s.notifyVolunteer(ctx, request, models.NotificationRating, "New rating received",
		fmt.Sprintf("You received a %d-star rating for the %s session.", rating, request.Subject))
	s.recordAudit(ctx, studentUserID, models.AuditActionRating, request.ID)

	return request, nil
}

// UploadMaterial stores an exam material for the owning student's request.
func (s *RequestService) UploadMaterial(ctx context.Context, requestID, studentUserID string, upload MaterialUpload) (*models.RequestMaterial, error) {
	student, err := s.students.FindByUserID(ctx, studentUserID)
	if err != nil {
		return nil, s.mapNotFound(err, "student profile not found")
	}
	request, err := s.requests.FindByID(ctx, requestID)
	if err != nil {
		return nil, s.mapNotFound(err, "request not found")
	}
	if request.StudentID != student.ID {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "request belongs to another student")
	}
	if request.Status.Terminal() {
		return nil, appErrors.Clone(appErrors.ErrInvalidTransition, "cannot attach materials to a closed request")
	}
	if err := s.checkUpload(upload); err != nil {
		return nil, err
	}

	relPath := filepath.Join(requestID, uuid.NewString()+strings.ToLower(filepath.Ext(upload.FileName)))
	limit := s.materials.MaxFileSizeBytes
	written, err := s.store.SaveStream(relPath, io.LimitReader(upload.Reader, limit+1))
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to store material")
	}
	if written > limit {
		if err := s.store.Delete(relPath); err != nil {
			s.logger.Warn("failed to remove oversized material", zap.String("path", relPath), zap.Error(err))
		}
		return nil, appErrors.Clone(appErrors.ErrValidation, "file exceeds the maximum allowed size")
	}

	material := &models.RequestMaterial{
		RequestID:   requestID,
		FileName:    filepath.Base(upload.FileName),
		StoredPath:  relPath,
		ContentType: upload.ContentType,
		SizeBytes:   written,
	}
	if err := s.requests.AddMaterial(ctx, material); err != nil {
		if delErr := s.store.Delete(relPath); delErr != nil {
			s.logger.Warn("failed to remove orphaned material", zap.String("path", relPath), zap.Error(delErr))
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to record material")
	}
	return material, nil
}

// MaterialDownloadToken issues a short-lived signed token for a material,
// after checking the caller may see the owning request.
func (s *RequestService) MaterialDownloadToken(ctx context.Context, materialID, actorUserID string, role models.UserRole) (string, time.Time, error) {
	material, err := s.requests.FindMaterial(ctx, materialID)
	if err != nil {
		return "", time.Time{}, s.mapNotFound(err, "material not found")
	}
	request, err := s.requests.FindByID(ctx, material.RequestID)
	if err != nil {
		return "", time.Time{}, s.mapNotFound(err, "request not found")
	}
	if err := s.authorize(ctx, request, actorUserID, role); err != nil {
		return "", time.Time{}, err
	}

	token, expiresAt, err := s.signer.Generate(material.ID, material.StoredPath)
	if err != nil {
		return "", time.Time{}, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to sign download url")
	}
	return token, expiresAt, nil
}

// OpenMaterial validates a signed token and opens the stored file for
// streaming. The caller owns closing the file.
func (s *RequestService) OpenMaterial(ctx context.Context, token string) (*models.RequestMaterial, *os.File, error) {
	materialID, relPath, _, err := s.signer.Parse(token)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrUnauthorized.Code, appErrors.ErrUnauthorized.Status, "invalid download token")
	}
	material, err := s.requests.FindMaterial(ctx, materialID)
	if err != nil {
		return nil, nil, s.mapNotFound(err, "material not found")
	}
	if material.StoredPath != relPath {
		return nil, nil, appErrors.Clone(appErrors.ErrUnauthorized, "download token does not match material")
	}
	file, err := s.store.Open(material.StoredPath)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to open material")
	}
	return material, file, nil
}

func (s *RequestService) checkUpload(upload MaterialUpload) error {
	if upload.FileName == "" || upload.Reader == nil {
		return appErrors.Clone(appErrors.ErrValidation, "file is required")
	}
	if s.materials.MaxFileSizeBytes > 0 && upload.Size > s.materials.MaxFileSizeBytes {
		return appErrors.Clone(appErrors.ErrValidation, "file exceeds the maximum allowed size")
	}
	if len(s.materials.AllowedMIMEs) == 0 {
		return nil
	}
	mediaType := upload.ContentType
	if parsed, _, err := mime.ParseMediaType(upload.ContentType); err == nil {
		mediaType = parsed
	}
	for _, allowed := range s.materials.AllowedMIMEs {
		if strings.EqualFold(allowed, mediaType) {
			return nil
		}
	}
	return appErrors.Clone(appErrors.ErrValidation, "file type is not allowed")
}

// authorize allows the owning student, the assigned volunteer, and admins.
func (s *RequestService) authorize(ctx context.Context, request *models.Request, actorUserID string, role models.UserRole) error {
	switch role {
	case models.RoleAdmin:
		return nil
	case models.RoleStudent:
		student, err := s.students.FindByUserID(ctx, actorUserID)
		if err != nil {
			return s.mapNotFound(err, "student profile not found")
		}
		if request.StudentID == student.ID {
			return nil
		}
	case models.RoleVolunteer:
		volunteer, err := s.volunteers.FindByUserID(ctx, actorUserID)
		if err != nil {
			return s.mapNotFound(err, "volunteer profile not found")
		}
		if request.VolunteerID != nil && *request.VolunteerID == volunteer.ID {
			return nil
		}
	}
	return appErrors.Clone(appErrors.ErrForbidden, "not allowed to access this request")
}

func (s *RequestService) notifyStudent(ctx context.Context, request *models.Request, kind models.NotificationType, title, message string) {
	student, err := s.students.FindByID(ctx, request.StudentID)
	if err != nil {
		s.logger.Warn("failed to resolve student for notification", zap.String("student_id", request.StudentID), zap.Error(err))
		return
	}
	if err := s.notifier.Notify(ctx, student.UserID, kind, title, message, &request.ID); err != nil {
		s.logger.Warn("failed to notify student", zap.String("request_id", request.ID), zap.Error(err))
	}
}

func (s *RequestService) notifyVolunteer(ctx context.Context, request *models.Request, kind models.NotificationType, title, message string) {
	if request.VolunteerID == nil {
		return
	}
	volunteer, err := s.volunteers.FindByID(ctx, *request.VolunteerID)
	if err != nil {
		s.logger.Warn("failed to resolve volunteer for notification", zap.String("volunteer_id", *request.VolunteerID), zap.Error(err))
		return
	}
	if err := s.notifier.Notify(ctx, volunteer.UserID, kind, title, message, &request.ID); err != nil {
		s.logger.Warn("failed to notify volunteer", zap.String("request_id", request.ID), zap.Error(err))
	}
}

func (s *RequestService) recordAudit(ctx context.Context, actorUserID, action, resourceID string) {
	if s.audit == nil {
		return
	}
	if err := s.audit.CreateAuditLog(ctx, &models.AuditLog{
		UserID:     &actorUserID,
		Action:     action,
		Resource:   "request",
		ResourceID: &resourceID,
	}); err != nil {
		s.logger.Warn("failed to record audit log", zap.String("action", action), zap.Error(err))
	}
}

func (s *RequestService) mapNotFound(err error, message string) error {
	if errors.Is(err, sql.ErrNoRows) {
		return appErrors.Clone(appErrors.ErrNotFound, message)
	}
	var appErr *appErrors.Error
	if errors.As(err, &appErr) {
		return appErr
	}
	return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, message)
}

func (s *RequestService) mapTransitionErr(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return appErrors.Clone(appErrors.ErrNotFound, "request not found")
	}
	var appErr *appErrors.Error
	if errors.As(err, &appErr) {
		return appErr
	}
	return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update request")
}
