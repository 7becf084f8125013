package dto

import "time"

const (
	NotificationPending   = "registration.pending"
	NotificationConfirmed = "registration.confirmed"
)

// RegistrationNotification is published to the broker after a registration is
// created or confirmed. It never carries the confirmation token.
type RegistrationNotification struct {
	Kind           string     `json:"kind"`
	RegistrationID string     `json:"registration_id"`
	EventID        int64      `json:"event_id"`
	EventName      string     `json:"event_name"`
	FirstName      string     `json:"first_name"`
	LastName       string     `json:"last_name"`
	Email          string     `json:"email"`
	Phone          string     `json:"phone"`
	PaymentLink    string     `json:"payment_link,omitempty"`
	ConfirmedAt    *time.Time `json:"confirmed_at,omitempty"`
}
