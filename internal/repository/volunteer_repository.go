package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/scribelink/scribelink-api/internal/models"
)

// VolunteerRepository manages persistence for volunteer profiles.
type VolunteerRepository struct {
	db *sqlx.DB
}

// NewVolunteerRepository constructs a VolunteerRepository.
func NewVolunteerRepository(db *sqlx.DB) *VolunteerRepository {
	return &VolunteerRepository{db: db}
}

const volunteerProfileColumns = `v.id, v.user_id, v.phone, v.city, v.state, v.remote_available, v.volunteer_type, v.hourly_rate, v.subjects, v.languages, v.availability, v.rating, v.total_ratings, v.total_assignments, v.verified, v.created_at, v.updated_at, u.email, u.full_name`

// FindByUserID fetches the volunteer profile owned by a user.
func (r *VolunteerRepository) FindByUserID(ctx context.Context, userID string) (*models.VolunteerProfile, error) {
	query := fmt.Sprintf(`SELECT %s FROM volunteers v JOIN users u ON u.id = v.user_id WHERE v.user_id = $1 LIMIT 1`, volunteerProfileColumns)
	var profile models.VolunteerProfile
	if err := r.db.GetContext(ctx, &profile, query, userID); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find volunteer by user: %w", err)
	}
	return &profile, nil
}

// FindByID fetches a volunteer profile by its identifier.
func (r *VolunteerRepository) FindByID(ctx context.Context, id string) (*models.VolunteerProfile, error) {
	query := fmt.Sprintf(`SELECT %s FROM volunteers v JOIN users u ON u.id = v.user_id WHERE v.id = $1 LIMIT 1`, volunteerProfileColumns)
	var profile models.VolunteerProfile
	if err := r.db.GetContext(ctx, &profile, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find volunteer: %w", err)
	}
	return &profile, nil
}

// Update modifies the mutable fields of a volunteer profile. Rating counters
// are excluded; they change only through ApplyRating.
func (r *VolunteerRepository) Update(ctx context.Context, volunteer *models.Volunteer) error {
	volunteer.UpdatedAt = time.Now().UTC()
	const query = `UPDATE volunteers SET phone = :phone, city = :city, state = :state, remote_available = :remote_available, volunteer_type = :volunteer_type, hourly_rate = :hourly_rate, subjects = :subjects, languages = :languages, availability = :availability, updated_at = :updated_at WHERE id = :id`
	if _, err := r.db.NamedExecContext(ctx, query, volunteer); err != nil {
		return fmt.Errorf("update volunteer: %w", err)
	}
	return nil
}

// SetVerified toggles the admin verification flag.
func (r *VolunteerRepository) SetVerified(ctx context.Context, id string, verified bool) error {
	const query = `UPDATE volunteers SET verified = $2, updated_at = $3 WHERE id = $1`
	result, err := r.db.ExecContext(ctx, query, id, verified, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("set verified: %w", err)
	}
	if affected, err := result.RowsAffected(); err == nil && affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// ApplyRating folds one rating into the running average with a single atomic
// update expression, so concurrent ratings never compute from a stale read.
func (r *VolunteerRepository) ApplyRating(ctx context.Context, volunteerID string, value int) (*models.Volunteer, error) {
	const query = `UPDATE volunteers
        SET rating = (rating * total_ratings + $2) / (total_ratings + 1),
            total_ratings = total_ratings + 1,
            updated_at = $3
        WHERE id = $1
        RETURNING id, user_id, phone, city, state, remote_available, volunteer_type, hourly_rate, subjects, languages, availability, rating, total_ratings, total_assignments, verified, created_at, updated_at`
	var volunteer models.Volunteer
	if err := r.db.GetContext(ctx, &volunteer, query, volunteerID, float64(value), time.Now().UTC()); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("apply rating: %w", err)
	}
	return &volunteer, nil
}

// List returns volunteers for the public directory with total count.
func (r *VolunteerRepository) List(ctx context.Context, filter models.VolunteerFilter) ([]models.VolunteerProfile, int, error) {
	base := `FROM volunteers v JOIN users u ON u.id = v.user_id WHERE u.active = TRUE`
	var conditions []string
	var args []interface{}

	if filter.City != "" {
		conditions = append(conditions, fmt.Sprintf("LOWER(v.city) = $%d", len(args)+1))
		args = append(args, strings.ToLower(filter.City))
	}
	if filter.State != "" {
		conditions = append(conditions, fmt.Sprintf("LOWER(v.state) = $%d", len(args)+1))
		args = append(args, strings.ToLower(filter.State))
	}
	if filter.Subject != "" {
		conditions = append(conditions, fmt.Sprintf("EXISTS (SELECT 1 FROM unnest(v.subjects) subj WHERE LOWER(subj) LIKE $%d)", len(args)+1))
		args = append(args, "%"+strings.ToLower(filter.Subject)+"%")
	}
	if filter.VolunteerType != nil {
		conditions = append(conditions, fmt.Sprintf("v.volunteer_type = $%d", len(args)+1))
		args = append(args, *filter.VolunteerType)
	}
	if filter.Verified != nil {
		conditions = append(conditions, fmt.Sprintf("v.verified = $%d", len(args)+1))
		args = append(args, *filter.Verified)
	}

	if len(conditions) > 0 {
		base += " AND " + strings.Join(conditions, " AND ")
	}

	allowedSorts := map[string]string{
		"rating":            "v.rating",
		"total_assignments": "v.total_assignments",
		"created_at":        "v.created_at",
	}
	column, ok := allowedSorts[filter.SortBy]
	if !ok {
		column = "v.rating"
	}
	order := strings.ToUpper(filter.SortOrder)
	if order != "ASC" && order != "DESC" {
		order = "DESC"
	}
	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 || size > 100 {
		size = 20
	}
	offset := (page - 1) * size

	query := fmt.Sprintf(`SELECT %s %s ORDER BY %s %s LIMIT %d OFFSET %d`, volunteerProfileColumns, base, column, order, size, offset)

	var volunteers []models.VolunteerProfile
	if err := r.db.SelectContext(ctx, &volunteers, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list volunteers: %w", err)
	}

	countQuery := "SELECT COUNT(*) " + base
	var total int
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("count volunteers: %w", err)
	}
	return volunteers, total, nil
}

// CountVerified returns the number of verified volunteers.
func (r *VolunteerRepository) CountVerified(ctx context.Context) (int, error) {
	const query = `SELECT COUNT(*) FROM volunteers WHERE verified = TRUE`
	var total int
	if err := r.db.GetContext(ctx, &total, query); err != nil {
		return 0, fmt.Errorf("count verified volunteers: %w", err)
	}
	return total, nil
}
