package repository

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scribelink/scribelink-api/internal/models"
)

func volunteerRow(rating float64, totalRatings int) *sqlmock.Rows {
	now := time.Now()
	return sqlmock.NewRows([]string{
		"id", "user_id", "phone", "city", "state", "remote_available", "volunteer_type", "hourly_rate",
		"subjects", "languages", "availability", "rating", "total_ratings", "total_assignments",
		"verified", "created_at", "updated_at",
	}).AddRow("vol-1", "vol-user", "", "Pune", "Maharashtra", false, string(models.VolunteerFree), 0.0,
		"{Mathematics}", "{Hindi}", []byte("{}"), rating, totalRatings, 1, true, now, now)
}

func TestApplyRatingAtomicAverage(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewVolunteerRepository(db)

	mock.ExpectQuery(`UPDATE volunteers SET rating = \(rating \* total_ratings \+ \$2\) / \(total_ratings \+ 1\)`).
		WithArgs("vol-1", float64(4), sqlmock.AnyArg()).
		WillReturnRows(volunteerRow(4.5, 2))

	volunteer, err := repo.ApplyRating(context.Background(), "vol-1", 4)
	require.NoError(t, err)
	assert.InDelta(t, 4.5, volunteer.Rating, 0.001)
	assert.Equal(t, 2, volunteer.TotalRatings)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestApplyRatingUnknownVolunteer(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewVolunteerRepository(db)

	mock.ExpectQuery(`UPDATE volunteers SET rating`).
		WillReturnError(sql.ErrNoRows)

	_, err := repo.ApplyRating(context.Background(), "ghost", 5)
	assert.True(t, errors.Is(err, sql.ErrNoRows))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSetVerifiedMissingVolunteer(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewVolunteerRepository(db)

	mock.ExpectExec(`UPDATE volunteers SET verified = \$2`).
		WithArgs("ghost", true, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.SetVerified(context.Background(), "ghost", true)
	assert.True(t, errors.Is(err, sql.ErrNoRows))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestListVolunteersCityFilter(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewVolunteerRepository(db)

	now := time.Now()
	listRows := sqlmock.NewRows([]string{
		"id", "user_id", "phone", "city", "state", "remote_available", "volunteer_type", "hourly_rate",
		"subjects", "languages", "availability", "rating", "total_ratings", "total_assignments",
		"verified", "created_at", "updated_at", "email", "full_name",
	}).AddRow("vol-1", "vol-user", "", "Pune", "Maharashtra", false, string(models.VolunteerFree), 0.0,
		"{Mathematics}", "{Hindi}", []byte("{}"), 4.0, 1, 1, true, now, now, "ravi@example.com", "Ravi Kumar")
	mock.ExpectQuery(`FROM volunteers v JOIN users u ON u\.id = v\.user_id WHERE u\.active = TRUE AND LOWER\(v\.city\) = \$1 ORDER BY v\.rating DESC`).
		WithArgs("pune").
		WillReturnRows(listRows)
	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM volunteers`).
		WithArgs("pune").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))

	volunteers, total, err := repo.List(context.Background(), models.VolunteerFilter{City: "Pune"})
	require.NoError(t, err)
	require.Len(t, volunteers, 1)
	assert.Equal(t, "Ravi Kumar", volunteers[0].FullName)
	assert.Equal(t, 1, total)
	assert.NoError(t, mock.ExpectationsWereMet())
}
