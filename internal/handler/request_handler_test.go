package handler

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/scribelink/scribelink-api/internal/middleware"
	"github.com/scribelink/scribelink-api/internal/models"
	"github.com/scribelink/scribelink-api/internal/service"
	"github.com/scribelink/scribelink-api/pkg/config"
	appErrors "github.com/scribelink/scribelink-api/pkg/errors"
	"github.com/scribelink/scribelink-api/pkg/storage"
)

type requestRepoStub struct {
	request   *models.Request
	assignErr error
}

func (s *requestRepoStub) Create(ctx context.Context, request *models.Request) error {
	request.ID = "req-1"
	request.Status = models.StatusPending
	return nil
}

func (s *requestRepoStub) FindByID(ctx context.Context, id string) (*models.Request, error) {
	if s.request == nil || s.request.ID != id {
		return nil, sql.ErrNoRows
	}
	return s.request, nil
}

func (s *requestRepoStub) FindDetail(ctx context.Context, id string) (*models.RequestDetail, error) {
	request, err := s.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	return &models.RequestDetail{Request: *request}, nil
}

func (s *requestRepoStub) ListByStudent(ctx context.Context, studentID string, filter models.RequestFilter) ([]models.Request, int, error) {
	return []models.Request{}, 0, nil
}

func (s *requestRepoStub) ListByVolunteer(ctx context.Context, volunteerID string, filter models.RequestFilter) ([]models.Request, int, error) {
	return []models.Request{}, 0, nil
}

func (s *requestRepoStub) AssignIfPending(ctx context.Context, requestID, volunteerID string) (*models.Request, error) {
	if s.assignErr != nil {
		return nil, s.assignErr
	}
	s.request.Status = models.StatusAccepted
	s.request.VolunteerID = &volunteerID
	return s.request, nil
}

func (s *requestRepoStub) Transition(ctx context.Context, requestID string, from []models.RequestStatus, to models.RequestStatus, guardColumn, guardID string) (*models.Request, error) {
	s.request.Status = to
	return s.request, nil
}

func (s *requestRepoStub) CompleteWithRating(ctx context.Context, requestID, studentID string, rating int, feedback string) (*models.Request, *models.Volunteer, error) {
	s.request.Status = models.StatusCompleted
	s.request.Rating = &rating
	return s.request, &models.Volunteer{ID: "vol-1", UserID: "vol-user", Rating: float64(rating), TotalRatings: 1}, nil
}

func (s *requestRepoStub) AddMaterial(ctx context.Context, material *models.RequestMaterial) error {
	material.ID = "mat-1"
	return nil
}

func (s *requestRepoStub) FindMaterial(ctx context.Context, id string) (*models.RequestMaterial, error) {
	return nil, sql.ErrNoRows
}

type studentRepoStub struct{}

func (s *studentRepoStub) FindByUserID(ctx context.Context, userID string) (*models.StudentProfile, error) {
	if userID != "stu-user" {
		return nil, sql.ErrNoRows
	}
	return &models.StudentProfile{Student: models.Student{ID: "stu-1", UserID: "stu-user"}}, nil
}

func (s *studentRepoStub) FindByID(ctx context.Context, id string) (*models.StudentProfile, error) {
	return &models.StudentProfile{Student: models.Student{ID: id, UserID: "stu-user"}}, nil
}

type volunteerRepoStub struct{}

func (s *volunteerRepoStub) FindByUserID(ctx context.Context, userID string) (*models.VolunteerProfile, error) {
	if userID != "vol-user" {
		return nil, sql.ErrNoRows
	}
	return &models.VolunteerProfile{
		Volunteer: models.Volunteer{ID: "vol-1", UserID: "vol-user", Verified: true},
		FullName:  "Ravi Kumar",
	}, nil
}

func (s *volunteerRepoStub) FindByID(ctx context.Context, id string) (*models.VolunteerProfile, error) {
	return &models.VolunteerProfile{Volunteer: models.Volunteer{ID: id, UserID: "vol-user"}}, nil
}

type notifierStub struct{}

func (notifierStub) Notify(ctx context.Context, userID string, kind models.NotificationType, title, message string, relatedID *string) error {
	return nil
}

type feedsStub struct{}

func (feedsStub) InvalidateFeeds(ctx context.Context) {}

type auditStub struct{}

func (auditStub) CreateAuditLog(ctx context.Context, log *models.AuditLog) error { return nil }

type storeStub struct{}

func (storeStub) SaveStream(filename string, r io.Reader) (int64, error) {
	return io.Copy(io.Discard, r)
}

func (storeStub) Open(filename string) (*os.File, error) { return nil, os.ErrNotExist }

func (storeStub) Delete(filename string) error { return nil }

func newRequestHandler(repo *requestRepoStub) *RequestHandler {
	svc := service.NewRequestService(repo, &studentRepoStub{}, &volunteerRepoStub{}, notifierStub{},
		feedsStub{}, auditStub{}, storeStub{}, storage.NewSignedURLSigner("test", time.Minute),
		config.MaterialsConfig{MaxFileSizeBytes: 1024, AllowedMIMEs: []string{"application/pdf"}},
		validator.New(), zap.NewNop())
	return NewRequestHandler(svc)
}

func testContext(t *testing.T, method, path string, body []byte, claims *models.JWTClaims) (*gin.Context, *httptest.ResponseRecorder) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	req, err := http.NewRequest(method, path, bytes.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	c.Request = req
	if claims != nil {
		c.Set(middleware.ContextUserKey, claims)
	}
	return c, w
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	var envelope struct {
		Error *struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &envelope))
	require.NotNil(t, envelope.Error)
	return envelope.Error.Code
}

func TestRequestHandlerCreateUnauthenticated(t *testing.T) {
	handler := newRequestHandler(&requestRepoStub{})
	c, w := testContext(t, http.MethodPost, "/requests", []byte(`{}`), nil)

	handler.Create(c)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestRequestHandlerCreateInvalidBody(t *testing.T) {
	handler := newRequestHandler(&requestRepoStub{})
	c, w := testContext(t, http.MethodPost, "/requests", []byte(`not json`),
		&models.JWTClaims{UserID: "stu-user", Role: models.RoleStudent})

	handler.Create(c)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestRequestHandlerCreateSuccess(t *testing.T) {
	handler := newRequestHandler(&requestRepoStub{})
	body, _ := json.Marshal(gin.H{
		"subject":   "Mathematics",
		"exam_type": "Semester",
		"exam_date": time.Now().Add(48 * time.Hour).Format(time.RFC3339),
	})
	c, w := testContext(t, http.MethodPost, "/requests", body,
		&models.JWTClaims{UserID: "stu-user", Role: models.RoleStudent})

	handler.Create(c)
	require.Equal(t, http.StatusCreated, w.Code)

	var envelope struct {
		Data models.Request `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &envelope))
	assert.Equal(t, models.StatusPending, envelope.Data.Status)
}

func TestRequestHandlerAcceptConflict(t *testing.T) {
	vol := "vol-2"
	repo := &requestRepoStub{
		request:   &models.Request{ID: "req-1", StudentID: "stu-1", Status: models.StatusAccepted, VolunteerID: &vol},
		assignErr: appErrors.ErrRequestTaken,
	}
	handler := newRequestHandler(repo)
	c, w := testContext(t, http.MethodPost, "/requests/req-1/accept", nil,
		&models.JWTClaims{UserID: "vol-user", Role: models.RoleVolunteer})
	c.Params = gin.Params{{Key: "id", Value: "req-1"}}

	handler.Accept(c)
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "REQUEST_TAKEN", decodeError(t, w))
}

func TestRequestHandlerAcceptNotFound(t *testing.T) {
	repo := &requestRepoStub{assignErr: sql.ErrNoRows}
	handler := newRequestHandler(repo)
	c, w := testContext(t, http.MethodPost, "/requests/ghost/accept", nil,
		&models.JWTClaims{UserID: "vol-user", Role: models.RoleVolunteer})
	c.Params = gin.Params{{Key: "id", Value: "ghost"}}

	handler.Accept(c)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestRequestHandlerSubmitRatingInvalid(t *testing.T) {
	vol := "vol-1"
	repo := &requestRepoStub{
		request: &models.Request{ID: "req-1", StudentID: "stu-1", Status: models.StatusInProgress, VolunteerID: &vol},
	}
	handler := newRequestHandler(repo)
	body, _ := json.Marshal(gin.H{"rating": 9})
	c, w := testContext(t, http.MethodPost, "/requests/req-1/rating", body,
		&models.JWTClaims{UserID: "stu-user", Role: models.RoleStudent})
	c.Params = gin.Params{{Key: "id", Value: "req-1"}}

	handler.SubmitRating(c)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "INVALID_RATING", decodeError(t, w))
}

func TestRequestHandlerSubmitRatingSuccess(t *testing.T) {
	vol := "vol-1"
	repo := &requestRepoStub{
		request: &models.Request{ID: "req-1", StudentID: "stu-1", Status: models.StatusInProgress, VolunteerID: &vol},
	}
	handler := newRequestHandler(repo)
	body, _ := json.Marshal(gin.H{"rating": 5, "feedback": "excellent"})
	c, w := testContext(t, http.MethodPost, "/requests/req-1/rating", body,
		&models.JWTClaims{UserID: "stu-user", Role: models.RoleStudent})
	c.Params = gin.Params{{Key: "id", Value: "req-1"}}

	handler.SubmitRating(c)
	require.Equal(t, http.StatusOK, w.Code)

	var envelope struct {
		Data models.Request `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &envelope))
	assert.Equal(t, models.StatusCompleted, envelope.Data.Status)
}

func TestRequestHandlerDownloadMissingToken(t *testing.T) {
	handler := newRequestHandler(&requestRepoStub{})
	c, w := testContext(t, http.MethodGet, "/materials/download", nil, nil)

	handler.DownloadMaterial(c)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
