package repo

import (
	"context"
	"errors"
	"time"

	"herfrequency/internal/model"
)

var (
	ErrEventNotFound        = errors.New("event not found")
	ErrEventExists          = errors.New("event already exists")
	ErrRegistrationNotFound = errors.New("registration not found")
	ErrTestimonialNotFound  = errors.New("testimonial not found")
	ErrUserNotFound         = errors.New("user not found")
	ErrUserExists           = errors.New("user already exists")
)

// PublicStore is the caller-scoped view of the store. It never returns
// registrant rows in bulk; capacity is exposed only as a count.
type PublicStore interface {
	GetEventSetting(ctx context.Context, eventID int64) (*model.EventSetting, error)
	ListEventSettings(ctx context.Context) ([]model.EventSetting, error)
	CountConfirmed(ctx context.Context, eventID int64) (int, error)

	CreateRegistration(ctx context.Context, reg *model.Registration) error
	GetRegistration(ctx context.Context, id string) (*model.Registration, error)
	// ConfirmRegistration flips a pending registration to confirmed only when both
	// id and token hash match in the same write. It reports false when no row
	// was updated.
	ConfirmRegistration(ctx context.Context, id, tokenHash string, at time.Time) (bool, error)

	CreateTestimonial(ctx context.Context, t *model.Testimonial) error
	ListApprovedTestimonials(ctx context.Context, limit int) ([]model.Testimonial, error)
}

// AdminStore is the elevated view. Only the admin gate hands it out, and only
// after the caller's credential and role have been checked.
type AdminStore interface {
	ListRegistrations(ctx context.Context, eventID *int64) ([]model.Registration, error)
	ListEventSettings(ctx context.Context) ([]model.EventSetting, error)
	UpdateTotalSpots(ctx context.Context, eventID int64, totalSpots int) (*model.EventSetting, error)
	UpdateReservedSpots(ctx context.Context, eventID int64, reserved *int) (*model.EventSetting, error)
	AddEventSetting(ctx context.Context, s *model.EventSetting) error
	ApproveTestimonial(ctx context.Context, id string) (*model.Testimonial, error)
}

type RoleStore interface {
	HasRole(ctx context.Context, userID string, role model.Role) (bool, error)
}

type UserStore interface {
	GetUserByEmail(ctx context.Context, email string) (*model.User, error)
	CreateUser(ctx context.Context, u *model.User) error
	GrantRole(ctx context.Context, userID string, role model.Role) error
}

type Repository interface {
	PublicStore
	AdminStore
	RoleStore
	UserStore
	MigrateUp(migrationsDir string) error
	MigrateDown(migrationsDir string) error
}

// DefaultEventSettings are the events the site launches with.
var DefaultEventSettings = []model.EventSetting{
	{EventID: 1, EventName: "LoveHer: Galentine's Brunch", TotalSpots: 50, PaymentLink: "https://pos.snapscan.io/qr/Ak-wyctD"},
	{EventID: 2, EventName: "HealHer: Transform & Thrive Workshop", TotalSpots: 50, PaymentLink: "https://pos.snapscan.io/qr/Ak-wyctD"},
	{EventID: 3, EventName: "AwakenHer: Journey To Self Discovery", TotalSpots: 50, PaymentLink: "https://pos.snapscan.io/qr/Ak-wyctD"},
}
