package models

import "time"

// NotificationType classifies in-app notifications.
type NotificationType string

const (
	NotificationRequest    NotificationType = "request"
	NotificationAssignment NotificationType = "assignment"
	NotificationRating     NotificationType = "rating"
	NotificationSystem     NotificationType = "system"
	NotificationPayment    NotificationType = "payment"
)

// Notification is an in-app message for a user, created as a side effect of
// request lifecycle events and delivered through the background queue.
type Notification struct {
	ID        string           `db:"id" json:"id"`
	UserID    string           `db:"user_id" json:"user_id"`
	Type      NotificationType `db:"type" json:"type"`
	Title     string           `db:"title" json:"title"`
	Message   string           `db:"message" json:"message"`
	IsRead    bool             `db:"is_read" json:"is_read"`
	RelatedID *string          `db:"related_id" json:"related_id,omitempty"`
	CreatedAt time.Time        `db:"created_at" json:"created_at"`
}

// NotificationFilter bounds notification listing.
type NotificationFilter struct {
	UnreadOnly bool
	Page       int
	PageSize   int
}
