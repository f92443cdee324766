package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/lib/pq"
)

// VolunteerType distinguishes free helpers from paid scribes.
type VolunteerType string

const (
	VolunteerFree VolunteerType = "free"
	VolunteerPaid VolunteerType = "paid"
)

// DayAvailability marks the blocks of a day a volunteer can serve.
type DayAvailability struct {
	Morning   bool `json:"morning"`
	Afternoon bool `json:"afternoon"`
	Evening   bool `json:"evening"`
}

// WeeklyAvailability maps lowercase weekday names to availability blocks.
// Stored as JSONB.
type WeeklyAvailability map[string]DayAvailability

// Value implements driver.Valuer for JSONB storage.
func (w WeeklyAvailability) Value() (driver.Value, error) {
	if w == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(w)
}

// Scan implements sql.Scanner for JSONB retrieval.
func (w *WeeklyAvailability) Scan(src interface{}) error {
	if src == nil {
		*w = WeeklyAvailability{}
		return nil
	}
	raw, ok := src.([]byte)
	if !ok {
		return fmt.Errorf("unsupported availability type %T", src)
	}
	return json.Unmarshal(raw, w)
}

// Volunteer holds the profile of a scribe. One-to-one with a User carrying
// the VOLUNTEER role. Rating and TotalRatings are mutated only through the
// atomic ApplyRating repository operation.
type Volunteer struct {
	ID               string             `db:"id" json:"id"`
	UserID           string             `db:"user_id" json:"user_id"`
	Phone            string             `db:"phone" json:"phone"`
	City             string             `db:"city" json:"city"`
	State            string             `db:"state" json:"state"`
	RemoteAvailable  bool               `db:"remote_available" json:"remote_available"`
	VolunteerType    VolunteerType      `db:"volunteer_type" json:"volunteer_type"`
	HourlyRate       float64            `db:"hourly_rate" json:"hourly_rate"`
	Subjects         pq.StringArray     `db:"subjects" json:"subjects"`
	Languages        pq.StringArray     `db:"languages" json:"languages"`
	Availability     WeeklyAvailability `db:"availability" json:"availability"`
	Rating           float64            `db:"rating" json:"rating"`
	TotalRatings     int                `db:"total_ratings" json:"total_ratings"`
	TotalAssignments int                `db:"total_assignments" json:"total_assignments"`
	Verified         bool               `db:"verified" json:"verified"`
	CreatedAt        time.Time          `db:"created_at" json:"created_at"`
	UpdatedAt        time.Time          `db:"updated_at" json:"updated_at"`
}

// VolunteerProfile joins the volunteer with its identity record.
type VolunteerProfile struct {
	Volunteer
	Email    string `db:"email" json:"email"`
	FullName string `db:"full_name" json:"full_name"`
}

// VolunteerFilter captures directory search parameters.
type VolunteerFilter struct {
	City          string
	State         string
	Subject       string
	VolunteerType *VolunteerType
	Verified      *bool
	Page          int
	PageSize      int
	SortBy        string
	SortOrder     string
}
