package service

import (
	"context"
	"database/sql"
	"strings"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/scribelink/scribelink-api/internal/models"
	"github.com/scribelink/scribelink-api/pkg/config"
	appErrors "github.com/scribelink/scribelink-api/pkg/errors"
	"github.com/scribelink/scribelink-api/pkg/storage"
)

type mockRequestRepo struct {
	requests      map[string]*models.Request
	materials     map[string]*models.RequestMaterial
	assignErr     error
	transitionErr error
	ratingApplied bool
}

func newMockRequestRepo() *mockRequestRepo {
	return &mockRequestRepo{
		requests:  make(map[string]*models.Request),
		materials: make(map[string]*models.RequestMaterial),
	}
}

func (m *mockRequestRepo) Create(ctx context.Context, request *models.Request) error {
	request.ID = "req-1"
	request.Status = models.StatusPending
	m.requests[request.ID] = request
	return nil
}

func (m *mockRequestRepo) FindByID(ctx context.Context, id string) (*models.Request, error) {
	request, ok := m.requests[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return request, nil
}

func (m *mockRequestRepo) FindDetail(ctx context.Context, id string) (*models.RequestDetail, error) {
	request, err := m.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	return &models.RequestDetail{Request: *request}, nil
}

func (m *mockRequestRepo) ListByStudent(ctx context.Context, studentID string, filter models.RequestFilter) ([]models.Request, int, error) {
	return nil, 0, nil
}

func (m *mockRequestRepo) ListByVolunteer(ctx context.Context, volunteerID string, filter models.RequestFilter) ([]models.Request, int, error) {
	return nil, 0, nil
}

func (m *mockRequestRepo) AssignIfPending(ctx context.Context, requestID, volunteerID string) (*models.Request, error) {
	if m.assignErr != nil {
		return nil, m.assignErr
	}
	request, ok := m.requests[requestID]
	if !ok {
		return nil, sql.ErrNoRows
	}
	if request.Status != models.StatusPending || request.VolunteerID != nil {
		return nil, appErrors.ErrRequestTaken
	}
	request.Status = models.StatusAccepted
	request.VolunteerID = &volunteerID
	return request, nil
}

func (m *mockRequestRepo) Transition(ctx context.Context, requestID string, from []models.RequestStatus, to models.RequestStatus, guardColumn, guardID string) (*models.Request, error) {
	if m.transitionErr != nil {
		return nil, m.transitionErr
	}
	request, ok := m.requests[requestID]
	if !ok {
		return nil, sql.ErrNoRows
	}
	allowed := false
	for _, status := range from {
		if request.Status == status {
			allowed = true
			break
		}
	}
	if !allowed {
		return nil, appErrors.ErrInvalidTransition
	}
	request.Status = to
	return request, nil
}

func (m *mockRequestRepo) CompleteWithRating(ctx context.Context, requestID, studentID string, rating int, feedback string) (*models.Request, *models.Volunteer, error) {
	request, ok := m.requests[requestID]
	if !ok || request.StudentID != studentID {
		return nil, nil, sql.ErrNoRows
	}
	if request.Status != models.StatusAccepted && request.Status != models.StatusInProgress {
		return nil, nil, appErrors.ErrInvalidTransition
	}
	if request.Rating != nil {
		return nil, nil, appErrors.ErrInvalidTransition
	}
	request.Status = models.StatusCompleted
	request.Rating = &rating
	m.ratingApplied = true
	return request, &models.Volunteer{ID: *request.VolunteerID, UserID: "vol-user", Rating: float64(rating), TotalRatings: 1}, nil
}

func (m *mockRequestRepo) AddMaterial(ctx context.Context, material *models.RequestMaterial) error {
	material.ID = "mat-1"
	m.materials[material.ID] = material
	return nil
}

func (m *mockRequestRepo) FindMaterial(ctx context.Context, id string) (*models.RequestMaterial, error) {
	material, ok := m.materials[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return material, nil
}

type mockStudentRepo struct {
	profile *models.StudentProfile
}

func (m *mockStudentRepo) FindByUserID(ctx context.Context, userID string) (*models.StudentProfile, error) {
	if m.profile == nil || m.profile.UserID != userID {
		return nil, sql.ErrNoRows
	}
	return m.profile, nil
}

func (m *mockStudentRepo) FindByID(ctx context.Context, id string) (*models.StudentProfile, error) {
	if m.profile == nil || m.profile.ID != id {
		return nil, sql.ErrNoRows
	}
	return m.profile, nil
}

type mockVolunteerRepo struct {
	profile *models.VolunteerProfile
}

func (m *mockVolunteerRepo) FindByUserID(ctx context.Context, userID string) (*models.VolunteerProfile, error) {
	if m.profile == nil || m.profile.UserID != userID {
		return nil, sql.ErrNoRows
	}
	return m.profile, nil
}

func (m *mockVolunteerRepo) FindByID(ctx context.Context, id string) (*models.VolunteerProfile, error) {
	if m.profile == nil || m.profile.ID != id {
		return nil, sql.ErrNoRows
	}
	return m.profile, nil
}

type recordedNotification struct {
	userID  string
	kind    models.NotificationType
	title   string
	related *string
}

type mockNotifier struct {
	sent []recordedNotification
}

func (m *mockNotifier) Notify(ctx context.Context, userID string, kind models.NotificationType, title, message string, relatedID *string) error {
	m.sent = append(m.sent, recordedNotification{userID: userID, kind: kind, title: title, related: relatedID})
	return nil
}

type mockFeeds struct {
	invalidations int
}

func (m *mockFeeds) InvalidateFeeds(ctx context.Context) {
	m.invalidations++
}

type mockAudit struct {
	logs []*models.AuditLog
}

func (m *mockAudit) CreateAuditLog(ctx context.Context, log *models.AuditLog) error {
	m.logs = append(m.logs, log)
	return nil
}

type requestServiceFixture struct {
	svc      *RequestService
	requests *mockRequestRepo
	notifier *mockNotifier
	feeds    *mockFeeds
	audit    *mockAudit
}

func newRequestServiceFixture(t *testing.T) *requestServiceFixture {
	t.Helper()
	requests := newMockRequestRepo()
	students := &mockStudentRepo{profile: &models.StudentProfile{
		Student: models.Student{ID: "stu-1", UserID: "stu-user", City: "Pune", State: "Maharashtra"},
	}}
	volunteers := &mockVolunteerRepo{profile: &models.VolunteerProfile{
		Volunteer: models.Volunteer{ID: "vol-1", UserID: "vol-user", City: "Pune", State: "Maharashtra", Verified: true},
		FullName:  "Ravi Kumar",
	}}
	notifier := &mockNotifier{}
	feeds := &mockFeeds{}
	audit := &mockAudit{}

	store, err := storage.NewLocalStorage(t.TempDir())
	require.NoError(t, err)
	signer := storage.NewSignedURLSigner("test-secret", time.Minute)

	svc := NewRequestService(requests, students, volunteers, notifier, feeds, audit, store, signer,
		config.MaterialsConfig{
			MaxFileSizeBytes: 1024,
			AllowedMIMEs:     []string{"application/pdf", "text/plain"},
		}, validator.New(), zap.NewNop())

	return &requestServiceFixture{svc: svc, requests: requests, notifier: notifier, feeds: feeds, audit: audit}
}

func (f *requestServiceFixture) seedRequest(status models.RequestStatus, volunteerID *string) *models.Request {
	request := &models.Request{
		ID:        "req-1",
		StudentID: "stu-1",
		Subject:   "Mathematics",
		Status:    status,
	}
	request.VolunteerID = volunteerID
	f.requests.requests[request.ID] = request
	return request
}

func TestCreateRequestInvalidatesFeeds(t *testing.T) {
	f := newRequestServiceFixture(t)

	request, err := f.svc.Create(context.Background(), "stu-user", CreateRequestRequest{
		Subject:  "Mathematics",
		ExamType: "Semester",
		ExamDate: time.Now().Add(48 * time.Hour),
	})
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, request.Status)
	assert.Equal(t, 1, f.feeds.invalidations)
}

func TestCreateRequestValidation(t *testing.T) {
	f := newRequestServiceFixture(t)

	_, err := f.svc.Create(context.Background(), "stu-user", CreateRequestRequest{Subject: ""})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)
}

func TestAcceptAssignsVolunteer(t *testing.T) {
	f := newRequestServiceFixture(t)
	f.seedRequest(models.StatusPending, nil)

	request, err := f.svc.Accept(context.Background(), "req-1", "vol-user")
	require.NoError(t, err)
	assert.Equal(t, models.StatusAccepted, request.Status)
	require.NotNil(t, request.VolunteerID)
	assert.Equal(t, "vol-1", *request.VolunteerID)
	assert.Equal(t, 1, f.feeds.invalidations)

	require.Len(t, f.notifier.sent, 1)
	assert.Equal(t, "stu-user", f.notifier.sent[0].userID)
	assert.Equal(t, models.NotificationAssignment, f.notifier.sent[0].kind)

	require.Len(t, f.audit.logs, 1)
	assert.Equal(t, models.AuditActionAccept, f.audit.logs[0].Action)
}

func TestAcceptAlreadyTaken(t *testing.T) {
	f := newRequestServiceFixture(t)
	other := "vol-2"
	f.seedRequest(models.StatusAccepted, &other)

	_, err := f.svc.Accept(context.Background(), "req-1", "vol-user")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrRequestTaken.Code, appErrors.FromError(err).Code)
	assert.Empty(t, f.notifier.sent)
}

func TestAcceptMissingRequest(t *testing.T) {
	f := newRequestServiceFixture(t)

	_, err := f.svc.Accept(context.Background(), "ghost", "vol-user")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrNotFound.Code, appErrors.FromError(err).Code)
}

func TestAcceptRequiresVerification(t *testing.T) {
	f := newRequestServiceFixture(t)
	f.seedRequest(models.StatusPending, nil)

	requests := f.requests
	volunteers := &mockVolunteerRepo{profile: &models.VolunteerProfile{
		Volunteer: models.Volunteer{ID: "vol-1", UserID: "vol-user", Verified: false},
	}}
	store, err := storage.NewLocalStorage(t.TempDir())
	require.NoError(t, err)
	svc := NewRequestService(requests, &mockStudentRepo{}, volunteers, f.notifier, f.feeds, f.audit,
		store, storage.NewSignedURLSigner("s", time.Minute), config.MaterialsConfig{}, validator.New(), zap.NewNop())

	_, err = svc.Accept(context.Background(), "req-1", "vol-user")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrForbidden.Code, appErrors.FromError(err).Code)
	assert.Equal(t, models.StatusPending, requests.requests["req-1"].Status)
}

func TestStartFromAccepted(t *testing.T) {
	f := newRequestServiceFixture(t)
	vol := "vol-1"
	f.seedRequest(models.StatusAccepted, &vol)

	request, err := f.svc.Start(context.Background(), "req-1", "vol-user")
	require.NoError(t, err)
	assert.Equal(t, models.StatusInProgress, request.Status)
}

func TestStartFromPendingRejected(t *testing.T) {
	f := newRequestServiceFixture(t)
	f.seedRequest(models.StatusPending, nil)

	_, err := f.svc.Start(context.Background(), "req-1", "vol-user")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrInvalidTransition.Code, appErrors.FromError(err).Code)
}

func TestCancelNotifiesAssignedVolunteer(t *testing.T) {
	f := newRequestServiceFixture(t)
	vol := "vol-1"
	f.seedRequest(models.StatusAccepted, &vol)

	request, err := f.svc.Cancel(context.Background(), "req-1", "stu-user")
	require.NoError(t, err)
	assert.Equal(t, models.StatusCancelled, request.Status)
	assert.Equal(t, 1, f.feeds.invalidations)

	require.Len(t, f.notifier.sent, 1)
	assert.Equal(t, "vol-user", f.notifier.sent[0].userID)
}

func TestCancelTerminalRejected(t *testing.T) {
	f := newRequestServiceFixture(t)
	vol := "vol-1"
	request := f.seedRequest(models.StatusCompleted, &vol)

	_, err := f.svc.Cancel(context.Background(), "req-1", "stu-user")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrInvalidTransition.Code, appErrors.FromError(err).Code)
	assert.Equal(t, models.StatusCompleted, request.Status)
}

func TestSubmitRatingOutOfRange(t *testing.T) {
	f := newRequestServiceFixture(t)
	vol := "vol-1"
	f.seedRequest(models.StatusInProgress, &vol)

	for _, rating := range []int{0, 6, -1} {
		_, err := f.svc.SubmitRating(context.Background(), "req-1", "stu-user", rating, "")
		require.Error(t, err)
		assert.Equal(t, appErrors.ErrInvalidRating.Code, appErrors.FromError(err).Code)
	}
	assert.False(t, f.requests.ratingApplied)
}

func TestSubmitRatingCompletesAndNotifies(t *testing.T) {
	f := newRequestServiceFixture(t)
	vol := "vol-1"
	f.seedRequest(models.StatusInProgress, &vol)

	request, err := f.svc.SubmitRating(context.Background(), "req-1", "stu-user", 5, "excellent scribe")
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, request.Status)
	require.NotNil(t, request.Rating)
	assert.Equal(t, 5, *request.Rating)
	assert.True(t, f.requests.ratingApplied)

	require.Len(t, f.notifier.sent, 1)
	assert.Equal(t, "vol-user", f.notifier.sent[0].userID)
	assert.Equal(t, models.NotificationRating, f.notifier.sent[0].kind)

	require.Len(t, f.audit.logs, 1)
	assert.Equal(t, models.AuditActionRating, f.audit.logs[0].Action)
}

func TestSubmitRatingTwiceRejected(t *testing.T) {
	f := newRequestServiceFixture(t)
	vol := "vol-1"
	f.seedRequest(models.StatusInProgress, &vol)

	_, err := f.svc.SubmitRating(context.Background(), "req-1", "stu-user", 4, "")
	require.NoError(t, err)

	_, err = f.svc.SubmitRating(context.Background(), "req-1", "stu-user", 5, "")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrInvalidTransition.Code, appErrors.FromError(err).Code)
}

func TestUploadMaterialAndDownloadRoundTrip(t *testing.T) {
	f := newRequestServiceFixture(t)
	f.seedRequest(models.StatusPending, nil)

	material, err := f.svc.UploadMaterial(context.Background(), "req-1", "stu-user", MaterialUpload{
		FileName:    "syllabus.txt",
		ContentType: "text/plain",
		Size:        11,
		Reader:      strings.NewReader("hello exams"),
	})
	require.NoError(t, err)
	assert.Equal(t, "syllabus.txt", material.FileName)
	assert.Equal(t, int64(11), material.SizeBytes)

	token, expiresAt, err := f.svc.MaterialDownloadToken(context.Background(), material.ID, "stu-user", models.RoleStudent)
	require.NoError(t, err)
	assert.True(t, expiresAt.After(time.Now()))

	fetched, file, err := f.svc.OpenMaterial(context.Background(), token)
	require.NoError(t, err)
	defer file.Close()
	assert.Equal(t, material.ID, fetched.ID)
}

func TestUploadMaterialRejectsMIME(t *testing.T) {
	f := newRequestServiceFixture(t)
	f.seedRequest(models.StatusPending, nil)

	_, err := f.svc.UploadMaterial(context.Background(), "req-1", "stu-user", MaterialUpload{
		FileName:    "virus.exe",
		ContentType: "application/octet-stream",
		Size:        10,
		Reader:      strings.NewReader("0123456789"),
	})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)
}

func TestUploadMaterialRejectsOversize(t *testing.T) {
	f := newRequestServiceFixture(t)
	f.seedRequest(models.StatusPending, nil)

	_, err := f.svc.UploadMaterial(context.Background(), "req-1", "stu-user", MaterialUpload{
		FileName:    "big.txt",
		ContentType: "text/plain",
		Size:        2048,
		Reader:      strings.NewReader(strings.Repeat("x", 2048)),
	})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)
}

func TestUploadMaterialClosedRequest(t *testing.T) {
	f := newRequestServiceFixture(t)
	vol := "vol-1"
	f.seedRequest(models.StatusCancelled, &vol)

	_, err := f.svc.UploadMaterial(context.Background(), "req-1", "stu-user", MaterialUpload{
		FileName:    "late.txt",
		ContentType: "text/plain",
		Size:        4,
		Reader:      strings.NewReader("late"),
	})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrInvalidTransition.Code, appErrors.FromError(err).Code)
}

func TestGetRequestAuthorization(t *testing.T) {
	f := newRequestServiceFixture(t)
	vol := "vol-1"
	f.seedRequest(models.StatusAccepted, &vol)

	_, err := f.svc.Get(context.Background(), "req-1", "stu-user", models.RoleStudent)
	require.NoError(t, err)

	_, err = f.svc.Get(context.Background(), "req-1", "vol-user", models.RoleVolunteer)
	require.NoError(t, err)

	_, err = f.svc.Get(context.Background(), "req-1", "admin-user", models.RoleAdmin)
	require.NoError(t, err)

	_, err = f.svc.Get(context.Background(), "req-1", "stranger", models.RoleStudent)
	require.Error(t, err)
}
