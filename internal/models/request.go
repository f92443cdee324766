package models

import "time"

// RequestStatus is the closed set of request lifecycle states.
type RequestStatus string

const (
	StatusPending    RequestStatus = "pending"
	StatusAccepted   RequestStatus = "accepted"
	StatusInProgress RequestStatus = "in-progress"
	StatusCompleted  RequestStatus = "completed"
	StatusCancelled  RequestStatus = "cancelled"
)

// Terminal reports whether the status permits no further transitions.
func (s RequestStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

// CanTransition validates a lifecycle move. Cancellation is allowed from any
// non-terminal state; the forward path is pending → accepted → in-progress →
// completed, with completion also reachable directly from accepted.
func (s RequestStatus) CanTransition(to RequestStatus) bool {
	if s.Terminal() {
		return false
	}
	switch to {
	case StatusCancelled:
		return true
	case StatusAccepted:
		return s == StatusPending
	case StatusInProgress:
		return s == StatusAccepted
	case StatusCompleted:
		return s == StatusAccepted || s == StatusInProgress
	default:
		return false
	}
}

// Request is an exam-assistance request created by a student.
// VolunteerID stays nil while the request is pending; it is assigned
// atomically together with the pending → accepted transition.
type Request struct {
	ID              string        `db:"id" json:"id"`
	StudentID       string        `db:"student_id" json:"student_id"`
	VolunteerID     *string       `db:"volunteer_id" json:"volunteer_id,omitempty"`
	Subject         string        `db:"subject" json:"subject"`
	ExamType        string        `db:"exam_type" json:"exam_type"`
	ExamDate        time.Time     `db:"exam_date" json:"exam_date"`
	ExamTime        string        `db:"exam_time" json:"exam_time"`
	DurationMinutes int           `db:"duration_minutes" json:"duration_minutes"`
	Requirements    string        `db:"requirements" json:"requirements"`
	Status          RequestStatus `db:"status" json:"status"`
	Rating          *int          `db:"rating" json:"rating,omitempty"`
	Feedback        *string       `db:"feedback" json:"feedback,omitempty"`
	CreatedAt       time.Time     `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time     `db:"updated_at" json:"updated_at"`
}

// RequestMaterial references an uploaded exam material file.
type RequestMaterial struct {
	ID          string    `db:"id" json:"id"`
	RequestID   string    `db:"request_id" json:"request_id"`
	FileName    string    `db:"file_name" json:"file_name"`
	StoredPath  string    `db:"stored_path" json:"-"`
	ContentType string    `db:"content_type" json:"content_type"`
	SizeBytes   int64     `db:"size_bytes" json:"size_bytes"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
}

// RequestDetail is a request with its uploaded materials.
type RequestDetail struct {
	Request
	Materials []RequestMaterial `json:"materials"`
}

// RequestFilter captures list parameters for request history views.
type RequestFilter struct {
	Status   *RequestStatus
	Page     int
	PageSize int
}

// PendingCandidate is a pending, unassigned request joined with the owning
// student's matching attributes. This is the matching engine's input row.
type PendingCandidate struct {
	Request
	StudentCity       string `db:"student_city" json:"student_city"`
	StudentState      string `db:"student_state" json:"student_state"`
	StudentCourse     string `db:"student_course" json:"student_course"`
	StudentLanguage   string `db:"student_language" json:"student_language"`
	StudentName       string `db:"student_name" json:"student_name"`
	StudentUniversity string `db:"student_university" json:"student_university"`
}

// RequestStatusCount aggregates requests per lifecycle state.
type RequestStatusCount struct {
	Status RequestStatus `db:"status" json:"status"`
	Count  int           `db:"count" json:"count"`
}
