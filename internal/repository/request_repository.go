package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/scribelink/scribelink-api/internal/models"
	appErrors "github.com/scribelink/scribelink-api/pkg/errors"
)

// RequestRepository manages persistence for exam-assistance requests and
// their uploaded materials. Lifecycle transitions are conditional updates:
// the WHERE clause re-checks the source state so concurrent writers cannot
// race past each other.
type RequestRepository struct {
	db *sqlx.DB
}

// NewRequestRepository constructs a RequestRepository.
func NewRequestRepository(db *sqlx.DB) *RequestRepository {
	return &RequestRepository{db: db}
}

const requestColumns = `id, student_id, volunteer_id, subject, exam_type, exam_date, exam_time, duration_minutes, requirements, status, rating, feedback, created_at, updated_at`

// Create inserts a new pending request.
func (r *RequestRepository) Create(ctx context.Context, request *models.Request) error {
	if request.ID == "" {
		request.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	request.CreatedAt = now
	request.UpdatedAt = now
	request.Status = models.StatusPending
	const query = `INSERT INTO requests (id, student_id, subject, exam_type, exam_date, exam_time, duration_minutes, requirements, status, created_at, updated_at)
        VALUES (:id, :student_id, :subject, :exam_type, :exam_date, :exam_time, :duration_minutes, :requirements, :status, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, request); err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	return nil
}

// FindByID fetches a request by identifier.
func (r *RequestRepository) FindByID(ctx context.Context, id string) (*models.Request, error) {
	query := fmt.Sprintf(`SELECT %s FROM requests WHERE id = $1 LIMIT 1`, requestColumns)
	var request models.Request
	if err := r.db.GetContext(ctx, &request, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find request: %w", err)
	}
	return &request, nil
}

// FindDetail fetches a request together with its materials.
func (r *RequestRepository) FindDetail(ctx context.Context, id string) (*models.RequestDetail, error) {
	request, err := r.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	materials, err := r.ListMaterials(ctx, id)
	if err != nil {
		return nil, err
	}
	return &models.RequestDetail{Request: *request, Materials: materials}, nil
}

// ListByStudent returns a student's requests, newest first.
func (r *RequestRepository) ListByStudent(ctx context.Context, studentID string, filter models.RequestFilter) ([]models.Request, int, error) {
	return r.list(ctx, "student_id", studentID, filter)
}

// ListByVolunteer returns the requests assigned to a volunteer, newest first.
func (r *RequestRepository) ListByVolunteer(ctx context.Context, volunteerID string, filter models.RequestFilter) ([]models.Request, int, error) {
	return r.list(ctx, "volunteer_id", volunteerID, filter)
}

func (r *RequestRepository) list(ctx context.Context, ownerColumn, ownerID string, filter models.RequestFilter) ([]models.Request, int, error) {
	base := fmt.Sprintf("FROM requests WHERE %s = $1", ownerColumn)
	args := []interface{}{ownerID}
	if filter.Status != nil {
		base += fmt.Sprintf(" AND status = $%d", len(args)+1)
		args = append(args, *filter.Status)
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

	query := fmt.Sprintf(`SELECT %s %s ORDER BY created_at DESC LIMIT %d OFFSET %d`, requestColumns, base, size, offset)
	var requests []models.Request
	if err := r.db.SelectContext(ctx, &requests, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list requests: %w", err)
	}

	countQuery := "SELECT COUNT(*) " + base
	var total int
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("count requests: %w", err)
	}
	return requests, total, nil
}

// PendingUnassignedWithStudent returns the matching engine's candidate pool:
// every pending, unassigned request joined with the owning student's city,
// state, course and preferred language, most recent first.
func (r *RequestRepository) PendingUnassignedWithStudent(ctx context.Context) ([]models.PendingCandidate, error) {
	const query = `SELECT r.id, r.student_id, r.volunteer_id, r.subject, r.exam_type, r.exam_date, r.exam_time, r.duration_minutes, r.requirements, r.status, r.rating, r.feedback, r.created_at, r.updated_at,
        s.city AS student_city, s.state AS student_state, s.course AS student_course, s.preferred_language AS student_language, u.full_name AS student_name, s.university AS student_university
        FROM requests r
        JOIN students s ON s.id = r.student_id
        JOIN users u ON u.id = s.user_id
        WHERE r.status = 'pending' AND r.volunteer_id IS NULL
        ORDER BY r.created_at DESC`
	var candidates []models.PendingCandidate
	if err := r.db.SelectContext(ctx, &candidates, query); err != nil {
		return nil, fmt.Errorf("list pending candidates: %w", err)
	}
	return candidates, nil
}

// AssignIfPending implements the atomic accept: status and volunteer_id move
// together in one conditional update, and the loser of a concurrent accept
// gets ErrRequestTaken rather than a silent no-op. The winner's volunteer
// assignment counter is incremented in the same transaction.
func (r *RequestRepository) AssignIfPending(ctx context.Context, requestID, volunteerID string) (*models.Request, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin accept: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	query := fmt.Sprintf(`UPDATE requests SET volunteer_id = $2, status = 'accepted', updated_at = $3
        WHERE id = $1 AND status = 'pending' AND volunteer_id IS NULL
        RETURNING %s`, requestColumns)
	var request models.Request
	err = tx.GetContext(ctx, &request, query, requestID, volunteerID, time.Now().UTC())
	if err == sql.ErrNoRows {
		// Lost the conditional write. Probe to tell "taken" from "gone".
		var exists int
		probeErr := tx.GetContext(ctx, &exists, `SELECT 1 FROM requests WHERE id = $1`, requestID)
		if probeErr == sql.ErrNoRows {
			return nil, sql.ErrNoRows
		}
		if probeErr != nil {
			return nil, fmt.Errorf("probe request: %w", probeErr)
		}
		return nil, appErrors.ErrRequestTaken
	}
	if err != nil {
		return nil, fmt.Errorf("assign request: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `UPDATE volunteers SET total_assignments = total_assignments + 1, updated_at = $2 WHERE id = $1`, volunteerID, time.Now().UTC()); err != nil {
		return nil, fmt.Errorf("increment assignments: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit accept: %w", err)
	}
	return &request, nil
}

// Transition moves a request between lifecycle states with a conditional
// update guarded on the allowed source states and the acting party's column.
func (r *RequestRepository) Transition(ctx context.Context, requestID string, from []models.RequestStatus, to models.RequestStatus, guardColumn, guardID string) (*models.Request, error) {
	states := make([]string, len(from))
	args := []interface{}{requestID, to, time.Now().UTC(), guardID}
	for i, s := range from {
		states[i] = fmt.Sprintf("$%d", len(args)+1)
		args = append(args, s)
	}

	query := fmt.Sprintf(`UPDATE requests SET status = $2, updated_at = $3
        WHERE id = $1 AND %s = $4 AND status IN (%s)
        RETURNING %s`, guardColumn, strings.Join(states, ", "), requestColumns)
	var request models.Request
	err := r.db.GetContext(ctx, &request, query, args...)
	if err == sql.ErrNoRows {
		var exists int
		probeErr := r.db.GetContext(ctx, &exists, `SELECT 1 FROM requests WHERE id = $1`, requestID)
		if probeErr == sql.ErrNoRows {
			return nil, sql.ErrNoRows
		}
		if probeErr != nil {
			return nil, fmt.Errorf("probe request: %w", probeErr)
		}
		return nil, appErrors.ErrInvalidTransition
	}
	if err != nil {
		return nil, fmt.Errorf("transition request: %w", err)
	}
	return &request, nil
}

// CompleteWithRating finalises a request and folds the rating into the
// volunteer's running average as a single transaction; a failure on either
// side leaves both untouched.
func (r *RequestRepository) CompleteWithRating(ctx context.Context, requestID, studentID string, rating int, feedback string) (*models.Request, *models.Volunteer, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("begin rating: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	query := fmt.Sprintf(`UPDATE requests SET status = 'completed', rating = $3, feedback = $4, updated_at = $5
        WHERE id = $1 AND student_id = $2 AND status IN ('accepted', 'in-progress') AND rating IS NULL
        RETURNING %s`, requestColumns)
	var request models.Request
	err = tx.GetContext(ctx, &request, query, requestID, studentID, rating, feedback, time.Now().UTC())
	if err == sql.ErrNoRows {
		var exists int
		probeErr := tx.GetContext(ctx, &exists, `SELECT 1 FROM requests WHERE id = $1 AND student_id = $2`, requestID, studentID)
		if probeErr == sql.ErrNoRows {
			return nil, nil, sql.ErrNoRows
		}
		if probeErr != nil {
			return nil, nil, fmt.Errorf("probe request: %w", probeErr)
		}
		return nil, nil, appErrors.ErrInvalidTransition
	}
	if err != nil {
		return nil, nil, fmt.Errorf("complete request: %w", err)
	}

	if request.VolunteerID == nil {
		return nil, nil, fmt.Errorf("completed request %s has no volunteer", requestID)
	}

	const ratingQuery = `UPDATE volunteers
        SET rating = (rating * total_ratings + $2) / (total_ratings + 1),
            total_ratings = total_ratings + 1,
            updated_at = $3
        WHERE id = $1
        RETURNING id, user_id, phone, city, state, remote_available, volunteer_type, hourly_rate, subjects, languages, availability, rating, total_ratings, total_assignments, verified, created_at, updated_at`
	var volunteer models.Volunteer
	if err := tx.GetContext(ctx, &volunteer, ratingQuery, *request.VolunteerID, float64(rating), time.Now().UTC()); err != nil {
		return nil, nil, fmt.Errorf("apply rating: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, nil, fmt.Errorf("commit rating: %w", err)
	}
	return &request, &volunteer, nil
}

// AddMaterial stores a material reference for a request.
func (r *RequestRepository) AddMaterial(ctx context.Context, material *models.RequestMaterial) error {
	if material.ID == "" {
		material.ID = uuid.NewString()
	}
	if material.CreatedAt.IsZero() {
		material.CreatedAt = time.Now().UTC()
	}
	const query = `INSERT INTO request_materials (id, request_id, file_name, stored_path, content_type, size_bytes, created_at)
        VALUES (:id, :request_id, :file_name, :stored_path, :content_type, :size_bytes, :created_at)`
	if _, err := r.db.NamedExecContext(ctx, query, material); err != nil {
		return fmt.Errorf("add material: %w", err)
	}
	return nil
}

// ListMaterials returns the materials attached to a request.
func (r *RequestRepository) ListMaterials(ctx context.Context, requestID string) ([]models.RequestMaterial, error) {
	const query = `SELECT id, request_id, file_name, stored_path, content_type, size_bytes, created_at FROM request_materials WHERE request_id = $1 ORDER BY created_at`
	materials := []models.RequestMaterial{}
	if err := r.db.SelectContext(ctx, &materials, query, requestID); err != nil {
		return nil, fmt.Errorf("list materials: %w", err)
	}
	return materials, nil
}

// FindMaterial fetches one material reference.
func (r *RequestRepository) FindMaterial(ctx context.Context, id string) (*models.RequestMaterial, error) {
	const query = `SELECT id, request_id, file_name, stored_path, content_type, size_bytes, created_at FROM request_materials WHERE id = $1 LIMIT 1`
	var material models.RequestMaterial
	if err := r.db.GetContext(ctx, &material, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find material: %w", err)
	}
	return &material, nil
}

// CountByStatus aggregates requests per lifecycle state.
func (r *RequestRepository) CountByStatus(ctx context.Context) ([]models.RequestStatusCount, error) {
	const query = `SELECT status, COUNT(*) AS count FROM requests GROUP BY status ORDER BY status`
	counts := []models.RequestStatusCount{}
	if err := r.db.SelectContext(ctx, &counts, query); err != nil {
		return nil, fmt.Errorf("count requests by status: %w", err)
	}
	return counts, nil
}

// CountCompletedSince counts completions after the cutoff, for dashboards.
func (r *RequestRepository) CountCompletedSince(ctx context.Context, since time.Time) (int, error) {
	const query = `SELECT COUNT(*) FROM requests WHERE status = 'completed' AND updated_at >= $1`
	var total int
	if err := r.db.GetContext(ctx, &total, query, since); err != nil {
		return 0, fmt.Errorf("count completed requests: %w", err)
	}
	return total, nil
}

// ListCompleted returns completed requests for admin exports, newest first.
func (r *RequestRepository) ListCompleted(ctx context.Context, limit int) ([]models.Request, error) {
	if limit <= 0 || limit > 1000 {
		limit = 500
	}
	query := fmt.Sprintf(`SELECT %s FROM requests WHERE status = 'completed' ORDER BY updated_at DESC LIMIT %d`, requestColumns, limit)
	requests := []models.Request{}
	if err := r.db.SelectContext(ctx, &requests, query); err != nil {
		return nil, fmt.Errorf("list completed requests: %w", err)
	}
	return requests, nil
}
