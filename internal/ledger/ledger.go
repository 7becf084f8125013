// Package ledger answers how many spots an event has left. Confirmed counts are
// always derived by counting confirmed registration rows; nothing here keeps a
// mutable counter.
package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"herfrequency/internal/apperr"
	"herfrequency/internal/model"
	"herfrequency/internal/monitoring"
	"herfrequency/internal/repo"
)

// Reader is the restricted store surface the ledger reads through.
type Reader interface {
	GetEventSetting(ctx context.Context, eventID int64) (*model.EventSetting, error)
	ListEventSettings(ctx context.Context) ([]model.EventSetting, error)
	CountConfirmed(ctx context.Context, eventID int64) (int, error)
}

// SettingsWriter is satisfied by the elevated store only.
type SettingsWriter interface {
	UpdateTotalSpots(ctx context.Context, eventID int64, totalSpots int) (*model.EventSetting, error)
	UpdateReservedSpots(ctx context.Context, eventID int64, reserved *int) (*model.EventSetting, error)
}

// Availability is the public capacity view of one event. It never carries
// registrant data.
type Availability struct {
	EventID        int64  `json:"event_id"`
	EventName      string `json:"event_name"`
	TotalSpots     int    `json:"total_spots"`
	ReservedSpots  int    `json:"reserved_spots"`
	Confirmed      *int   `json:"confirmed"`
	SpotsRemaining int    `json:"spots_remaining"`
	PaymentLink    string `json:"payment_link,omitempty"`
	// Degraded is set when the confirmed count could not be read and the
	// remaining figure falls back to the configured total.
	Degraded bool `json:"degraded,omitempty"`
}

type Ledger struct {
	store         Reader
	log           *zerolog.Logger
	fallbackTotal int
}

// New returns a ledger. fallbackTotal is served for an event whose setting
// cannot be read at all.
func New(store Reader, log *zerolog.Logger, fallbackTotal int) *Ledger {
	return &Ledger{store: store, log: log, fallbackTotal: fallbackTotal}
}

// Remaining is max(0, total - reserved - confirmed).
func Remaining(total, reserved, confirmed int) int {
	left := total - reserved - confirmed
	if left < 0 {
		return 0
	}
	return left
}

func validEventID(eventID int64) error {
	if eventID <= 0 {
		return apperr.Validation("eventId", "Event ID must be a positive integer")
	}
	return nil
}

func (l *Ledger) ConfirmedCount(ctx context.Context, eventID int64) (int, error) {
	if err := validEventID(eventID); err != nil {
		return 0, err
	}
	n, err := l.store.CountConfirmed(ctx, eventID)
	if err != nil {
		return 0, apperr.Upstream(err)
	}
	return n, nil
}

// SpotsRemaining reports the capacity of one event. A failing count query is
// logged and answered with the configured total instead of an error.
func (l *Ledger) SpotsRemaining(ctx context.Context, eventID int64) (*Availability, error) {
	if err := validEventID(eventID); err != nil {
		return nil, err
	}

	setting, err := l.store.GetEventSetting(ctx, eventID)
	switch {
	case errors.Is(err, repo.ErrEventNotFound):
		return nil, apperr.NotFound("Event not found")
	case err != nil:
		l.log.Error().Err(err).Int64("event_id", eventID).Msg("failed to read event setting, serving fallback total")
		monitoring.RecordLedgerFailOpen(eventID)
		return &Availability{
			EventID:        eventID,
			TotalSpots:     l.fallbackTotal,
			SpotsRemaining: l.fallbackTotal,
			Degraded:       true,
		}, nil
	}

	return l.availability(ctx, *setting), nil
}

// All reports capacity for every configured event.
func (l *Ledger) All(ctx context.Context) ([]Availability, error) {
	settings, err := l.store.ListEventSettings(ctx)
	if err != nil {
		return nil, apperr.Upstream(err)
	}
	out := make([]Availability, 0, len(settings))
	for _, s := range settings {
		out = append(out, *l.availability(ctx, s))
	}
	return out, nil
}

func (l *Ledger) availability(ctx context.Context, s model.EventSetting) *Availability {
	a := &Availability{
		EventID:       s.EventID,
		EventName:     s.EventName,
		TotalSpots:    s.TotalSpots,
		ReservedSpots: s.Reserved(),
		PaymentLink:   s.PaymentLink,
	}

	confirmed, err := l.store.CountConfirmed(ctx, s.EventID)
	if err != nil {
		l.log.Error().Err(err).Int64("event_id", s.EventID).Msg("failed to count confirmed registrations, serving configured total")
		monitoring.RecordLedgerFailOpen(s.EventID)
		a.SpotsRemaining = Remaining(s.TotalSpots, s.Reserved(), 0)
		a.Degraded = true
		return a
	}

	a.Confirmed = &confirmed
	a.SpotsRemaining = Remaining(s.TotalSpots, s.Reserved(), confirmed)
	return a
}

// ValidateSpots checks an admin-supplied spot figure against [0, MaxSpots].
func ValidateSpots(field string, n int) error {
	if n < 0 || n > model.MaxSpots {
		return apperr.Validation(field, fmt.Sprintf("Must be between 0 and %d", model.MaxSpots))
	}
	return nil
}

// SetTotalSpots changes an event's configured total. w must be the elevated
// store handed out by the admin gate.
func (l *Ledger) SetTotalSpots(ctx context.Context, w SettingsWriter, eventID int64, total int) (*model.EventSetting, error) {
	if err := validEventID(eventID); err != nil {
		return nil, err
	}
	if err := ValidateSpots("totalSpots", total); err != nil {
		return nil, err
	}
	s, err := w.UpdateTotalSpots(ctx, eventID, total)
	if errors.Is(err, repo.ErrEventNotFound) {
		return nil, apperr.NotFound("Event not found")
	}
	if err != nil {
		return nil, apperr.Upstream(err)
	}
	l.log.Info().Int64("event_id", eventID).Int("total_spots", total).Msg("total spots updated")
	return s, nil
}

// SetReservedSpots sets or clears (nil) the reserved-spots override.
func (l *Ledger) SetReservedSpots(ctx context.Context, w SettingsWriter, eventID int64, reserved *int) (*model.EventSetting, error) {
	if err := validEventID(eventID); err != nil {
		return nil, err
	}
	if reserved != nil {
		if err := ValidateSpots("reservedSpots", *reserved); err != nil {
			return nil, err
		}
	}
	s, err := w.UpdateReservedSpots(ctx, eventID, reserved)
	if errors.Is(err, repo.ErrEventNotFound) {
		return nil, apperr.NotFound("Event not found")
	}
	if err != nil {
		return nil, apperr.Upstream(err)
	}
	l.log.Info().Int64("event_id", eventID).Msg("reserved spots updated")
	return s, nil
}
