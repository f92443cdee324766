package models

import (
	"time"

	"github.com/lib/pq"
)

// DisabilityType categorises the assistance context for a student.
type DisabilityType string

const (
	DisabilityVisual    DisabilityType = "visual"
	DisabilityMotor     DisabilityType = "motor"
	DisabilityCognitive DisabilityType = "cognitive"
	DisabilityHearing   DisabilityType = "hearing"
	DisabilityOther     DisabilityType = "other"
)

// NotificationMethod is the student's preferred delivery channel.
type NotificationMethod string

const (
	NotifyByEmail NotificationMethod = "email"
	NotifyBySMS   NotificationMethod = "sms"
	NotifyByBoth  NotificationMethod = "both"
)

// Student holds the profile of a learner requesting scribe assistance.
// One-to-one with a User carrying the STUDENT role.
type Student struct {
	ID                 string             `db:"id" json:"id"`
	UserID             string             `db:"user_id" json:"user_id"`
	Phone              string             `db:"phone" json:"phone"`
	DateOfBirth        *time.Time         `db:"date_of_birth" json:"date_of_birth,omitempty"`
	City               string             `db:"city" json:"city"`
	State              string             `db:"state" json:"state"`
	University         string             `db:"university" json:"university"`
	Course             string             `db:"course" json:"course"`
	DisabilityType     DisabilityType     `db:"disability_type" json:"disability_type"`
	SpecificNeeds      string             `db:"specific_needs" json:"specific_needs"`
	PreferredSubjects  pq.StringArray     `db:"preferred_subjects" json:"preferred_subjects"`
	PreferredLanguage  string             `db:"preferred_language" json:"preferred_language"`
	NotificationMethod NotificationMethod `db:"notification_method" json:"notification_method"`
	PreferredTime      string             `db:"preferred_time" json:"preferred_time"`
	CreatedAt          time.Time          `db:"created_at" json:"created_at"`
	UpdatedAt          time.Time          `db:"updated_at" json:"updated_at"`
}

// StudentProfile joins the student with its identity record for responses.
type StudentProfile struct {
	Student
	Email    string `db:"email" json:"email"`
	FullName string `db:"full_name" json:"full_name"`
}
