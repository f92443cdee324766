package repository

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scribelink/scribelink-api/internal/models"
	appErrors "github.com/scribelink/scribelink-api/pkg/errors"
)

func newMock(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	sqlxdb := sqlx.NewDb(db, "sqlmock")
	return sqlxdb, mock, func() {
		db.Close()
	}
}

func requestRows(id, studentID string, volunteerID *string, status models.RequestStatus, rating *int) *sqlmock.Rows {
	now := time.Now()
	return sqlmock.NewRows([]string{
		"id", "student_id", "volunteer_id", "subject", "exam_type", "exam_date", "exam_time",
		"duration_minutes", "requirements", "status", "rating", "feedback", "created_at", "updated_at",
	}).AddRow(id, studentID, volunteerID, "Mathematics", "Semester", now, "10:00", 180, "", string(status), rating, nil, now, now)
}

func TestAssignIfPendingWins(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewRequestRepository(db)

	vol := "vol-1"
	mock.ExpectBegin()
	mock.ExpectQuery(`UPDATE requests SET volunteer_id = \$2, status = 'accepted'`).
		WithArgs("req-1", "vol-1", sqlmock.AnyArg()).
		WillReturnRows(requestRows("req-1", "stu-1", &vol, models.StatusAccepted, nil))
	mock.ExpectExec(`UPDATE volunteers SET total_assignments = total_assignments \+ 1`).
		WithArgs("vol-1", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	request, err := repo.AssignIfPending(context.Background(), "req-1", "vol-1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusAccepted, request.Status)
	require.NotNil(t, request.VolunteerID)
	assert.Equal(t, "vol-1", *request.VolunteerID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAssignIfPendingTaken(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewRequestRepository(db)

	mock.ExpectBegin()
	mock.ExpectQuery(`UPDATE requests SET volunteer_id = \$2, status = 'accepted'`).
		WithArgs("req-1", "vol-2", sqlmock.AnyArg()).
		WillReturnError(sql.ErrNoRows)
	mock.ExpectQuery(`SELECT 1 FROM requests WHERE id = \$1`).
		WithArgs("req-1").
		WillReturnRows(sqlmock.NewRows([]string{"?column?"}).AddRow(1))
	mock.ExpectRollback()

	_, err := repo.AssignIfPending(context.Background(), "req-1", "vol-2")
	require.Error(t, err)
	assert.True(t, errors.Is(err, appErrors.ErrRequestTaken))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAssignIfPendingMissing(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewRequestRepository(db)

	mock.ExpectBegin()
	mock.ExpectQuery(`UPDATE requests SET volunteer_id = \$2, status = 'accepted'`).
		WithArgs("ghost", "vol-1", sqlmock.AnyArg()).
		WillReturnError(sql.ErrNoRows)
	mock.ExpectQuery(`SELECT 1 FROM requests WHERE id = \$1`).
		WithArgs("ghost").
		WillReturnError(sql.ErrNoRows)
	mock.ExpectRollback()

	_, err := repo.AssignIfPending(context.Background(), "ghost", "vol-1")
	assert.True(t, errors.Is(err, sql.ErrNoRows))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTransitionGuardedUpdate(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewRequestRepository(db)

	vol := "vol-1"
	mock.ExpectQuery(`UPDATE requests SET status = \$2, updated_at = \$3 WHERE id = \$1 AND volunteer_id = \$4 AND status IN \(\$5\)`).
		WithArgs("req-1", string(models.StatusInProgress), sqlmock.AnyArg(), "vol-1", string(models.StatusAccepted)).
		WillReturnRows(requestRows("req-1", "stu-1", &vol, models.StatusInProgress, nil))

	request, err := repo.Transition(context.Background(), "req-1",
		[]models.RequestStatus{models.StatusAccepted}, models.StatusInProgress, "volunteer_id", "vol-1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusInProgress, request.Status)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTransitionInvalidState(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewRequestRepository(db)

	mock.ExpectQuery(`UPDATE requests SET status = \$2`).
		WillReturnError(sql.ErrNoRows)
	mock.ExpectQuery(`SELECT 1 FROM requests WHERE id = \$1`).
		WithArgs("req-1").
		WillReturnRows(sqlmock.NewRows([]string{"?column?"}).AddRow(1))

	_, err := repo.Transition(context.Background(), "req-1",
		[]models.RequestStatus{models.StatusPending, models.StatusAccepted, models.StatusInProgress},
		models.StatusCancelled, "student_id", "stu-1")
	require.Error(t, err)
	assert.True(t, errors.Is(err, appErrors.ErrInvalidTransition))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCompleteWithRatingSingleTransaction(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewRequestRepository(db)

	now := time.Now()
	vol := "vol-1"
	rating := 5
	mock.ExpectBegin()
	mock.ExpectQuery(`UPDATE requests SET status = 'completed', rating = \$3, feedback = \$4`).
		WithArgs("req-1", "stu-1", 5, "great scribe", sqlmock.AnyArg()).
		WillReturnRows(requestRows("req-1", "stu-1", &vol, models.StatusCompleted, &rating))
	mock.ExpectQuery(`UPDATE volunteers SET rating = \(rating \* total_ratings \+ \$2\) / \(total_ratings \+ 1\)`).
		WithArgs("vol-1", float64(5), sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "user_id", "phone", "city", "state", "remote_available", "volunteer_type", "hourly_rate",
			"subjects", "languages", "availability", "rating", "total_ratings", "total_assignments",
			"verified", "created_at", "updated_at",
		}).AddRow("vol-1", "vol-user", "", "Pune", "Maharashtra", false, string(models.VolunteerFree), 0.0,
			"{}", "{}", []byte("{}"), 4.5, 2, 3, true, now, now))
	mock.ExpectCommit()

	request, volunteer, err := repo.CompleteWithRating(context.Background(), "req-1", "stu-1", 5, "great scribe")
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, request.Status)
	require.NotNil(t, request.Rating)
	assert.Equal(t, 5, *request.Rating)
	assert.InDelta(t, 4.5, volunteer.Rating, 0.001)
	assert.Equal(t, 2, volunteer.TotalRatings)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCompleteWithRatingWrongState(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewRequestRepository(db)

	mock.ExpectBegin()
	mock.ExpectQuery(`UPDATE requests SET status = 'completed'`).
		WillReturnError(sql.ErrNoRows)
	mock.ExpectQuery(`SELECT 1 FROM requests WHERE id = \$1 AND student_id = \$2`).
		WithArgs("req-1", "stu-1").
		WillReturnRows(sqlmock.NewRows([]string{"?column?"}).AddRow(1))
	mock.ExpectRollback()

	_, _, err := repo.CompleteWithRating(context.Background(), "req-1", "stu-1", 4, "")
	require.Error(t, err)
	assert.True(t, errors.Is(err, appErrors.ErrInvalidTransition))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateRequestDefaults(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewRequestRepository(db)

	mock.ExpectExec(`INSERT INTO requests`).WillReturnResult(sqlmock.NewResult(0, 1))

	request := &models.Request{StudentID: "stu-1", Subject: "Physics", ExamType: "Board", ExamDate: time.Now()}
	err := repo.Create(context.Background(), request)
	require.NoError(t, err)
	assert.NotEmpty(t, request.ID)
	assert.Equal(t, models.StatusPending, request.Status)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestFindMaterialNotFound(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewRequestRepository(db)

	mock.ExpectQuery(`SELECT id, request_id, file_name, stored_path`).
		WithArgs("ghost").
		WillReturnError(sql.ErrNoRows)

	_, err := repo.FindMaterial(context.Background(), "ghost")
	assert.True(t, errors.Is(err, sql.ErrNoRows))
	assert.NoError(t, mock.ExpectationsWereMet())
}
