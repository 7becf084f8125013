package model

import "time"

// MaxSpots bounds total and reserved spots for a single event.
const MaxSpots = 1000

type EventSetting struct {
	EventID       int64     `db:"event_id" json:"event_id"`
	EventName     string    `db:"event_name" json:"event_name"`
	TotalSpots    int       `db:"total_spots" json:"total_spots"`
	ReservedSpots *int      `db:"reserved_spots" json:"reserved_spots"`
	PaymentLink   string    `db:"payment_link" json:"payment_link,omitempty"`
	CreatedAt     time.Time `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time `db:"updated_at" json:"updated_at"`
}

// Reserved returns the reserved spot override, zero when unset.
func (s EventSetting) Reserved() int {
	if s.ReservedSpots == nil {
		return 0
	}
	return *s.ReservedSpots
}

type RegistrationStatus string

const (
	RegistrationPending   RegistrationStatus = "pending"
	RegistrationConfirmed RegistrationStatus = "confirmed"
)

// PaymentVerification describes what "payment confirmed" means for a registration.
// Confirmations are asserted by the holder of the confirmation token and are never
// checked against the payment processor.
const PaymentVerificationSelfReported = "self-reported"

type Registration struct {
	ID               string     `db:"id" json:"id"`
	EventID          int64      `db:"event_id" json:"event_id"`
	FirstName        string     `db:"first_name" json:"first_name"`
	LastName         string     `db:"last_name" json:"last_name"`
	Email            string     `db:"email" json:"email"`
	Phone            string     `db:"phone" json:"phone"`
	PaymentConfirmed bool       `db:"payment_confirmed" json:"payment_confirmed"`
	TokenHash        string     `db:"confirmation_token_hash" json:"-"`
	CreatedAt        time.Time  `db:"created_at" json:"created_at"`
	ConfirmedAt      *time.Time `db:"confirmed_at" json:"confirmed_at"`
}

func (r Registration) Status() RegistrationStatus {
	if r.PaymentConfirmed {
		return RegistrationConfirmed
	}
	return RegistrationPending
}

type Testimonial struct {
	ID        string    `db:"id" json:"id"`
	Name      string    `db:"name" json:"name"`
	Role      *string   `db:"role" json:"role"`
	Location  *string   `db:"location" json:"location"`
	Quote     string    `db:"quote" json:"quote"`
	Rating    int       `db:"rating" json:"rating"`
	Approved  bool      `db:"approved" json:"-"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

type Role string

const RoleAdmin Role = "admin"

type User struct {
	ID           string    `db:"id" json:"id"`
	Email        string    `db:"email" json:"email"`
	PasswordHash string    `db:"password_hash" json:"-"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
}
