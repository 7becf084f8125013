package gate

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"

	"herfrequency/internal/apperr"
	"herfrequency/internal/dto"
)

const (
	ActionGetRegistrations    = "get_registrations"
	ActionGetEventSettings    = "get_event_settings"
	ActionUpdateTotalSpots    = "update_total_spots"
	ActionUpdateReservedSpots = "update_reserved_spots"
	ActionAddEvent            = "add_event"
	ActionApproveTestimonial  = "approve_testimonial"
)

// AdminAction is one of the privileged requests. Gate implements visitor, so
// adding a variant without handling it does not compile.
type AdminAction interface {
	Name() string
	accept(ctx context.Context, s *Session, v visitor) (any, error)
}

type visitor interface {
	getRegistrations(ctx context.Context, s *Session, a GetRegistrations) (any, error)
	getEventSettings(ctx context.Context, s *Session, a GetEventSettings) (any, error)
	updateTotalSpots(ctx context.Context, s *Session, a UpdateTotalSpots) (any, error)
	updateReservedSpots(ctx context.Context, s *Session, a UpdateReservedSpots) (any, error)
	addEvent(ctx context.Context, s *Session, a AddEvent) (any, error)
	approveTestimonial(ctx context.Context, s *Session, a ApproveTestimonial) (any, error)
}

// GetRegistrations lists registrations, optionally for one event. EventID
// accepts a number, a numeric string, "all" or null.
type GetRegistrations struct {
	EventID json.RawMessage `json:"eventId"`
}

func (GetRegistrations) Name() string { return ActionGetRegistrations }

func (a GetRegistrations) accept(ctx context.Context, s *Session, v visitor) (any, error) {
	return v.getRegistrations(ctx, s, a)
}

// Filter resolves the event filter; nil means every event.
func (a GetRegistrations) Filter() (*int64, error) {
	return ParseEventFilter(string(a.EventID))
}

// ParseEventFilter reads an event filter from raw JSON or a query value.
func ParseEventFilter(raw string) (*int64, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" || raw == "null" {
		return nil, nil
	}
	if unq, err := strconv.Unquote(raw); err == nil {
		raw = strings.TrimSpace(unq)
	}
	if raw == "" || strings.EqualFold(raw, "all") {
		return nil, nil
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return nil, apperr.Validation("eventId", "Event ID must be a positive integer or \"all\"")
	}
	return &id, nil
}

type GetEventSettings struct{}

func (GetEventSettings) Name() string { return ActionGetEventSettings }

func (a GetEventSettings) accept(ctx context.Context, s *Session, v visitor) (any, error) {
	return v.getEventSettings(ctx, s, a)
}

type UpdateTotalSpots struct {
	EventID    int64 `json:"eventId" validate:"positive"`
	TotalSpots *int  `json:"totalSpots" validate:"required"`
}

func (UpdateTotalSpots) Name() string { return ActionUpdateTotalSpots }

func (a UpdateTotalSpots) accept(ctx context.Context, s *Session, v visitor) (any, error) {
	return v.updateTotalSpots(ctx, s, a)
}

// UpdateReservedSpots sets the spots held back from sale. A null or omitted
// reservedSpots clears the override.
type UpdateReservedSpots struct {
	EventID       int64 `json:"eventId" validate:"positive"`
	ReservedSpots *int  `json:"reservedSpots"`
}

func (UpdateReservedSpots) Name() string { return ActionUpdateReservedSpots }

func (a UpdateReservedSpots) accept(ctx context.Context, s *Session, v visitor) (any, error) {
	return v.updateReservedSpots(ctx, s, a)
}

type AddEvent struct {
	EventID     int64  `json:"eventId" validate:"positive"`
	EventName   string `json:"eventName" validate:"required,max=100,singleline"`
	TotalSpots  *int   `json:"totalSpots" validate:"required"`
	PaymentLink string `json:"paymentLink" validate:"omitempty,max=500,url"`
}

func (AddEvent) Name() string { return ActionAddEvent }

func (a AddEvent) accept(ctx context.Context, s *Session, v visitor) (any, error) {
	return v.addEvent(ctx, s, a)
}

type ApproveTestimonial struct {
	TestimonialID string `json:"testimonialId" validate:"required,uuid"`
}

func (ApproveTestimonial) Name() string { return ActionApproveTestimonial }

func (a ApproveTestimonial) accept(ctx context.Context, s *Session, v visitor) (any, error) {
	return v.approveTestimonial(ctx, s, a)
}

// DecodeAction turns an admin request body into its AdminAction variant.
func DecodeAction(raw []byte) (AdminAction, error) {
	name, err := dto.ActionName(raw)
	if err != nil {
		return nil, err
	}
	switch name {
	case ActionGetRegistrations:
		return decode[GetRegistrations](raw)
	case ActionGetEventSettings:
		return GetEventSettings{}, nil
	case ActionUpdateTotalSpots:
		return decode[UpdateTotalSpots](raw)
	case ActionUpdateReservedSpots:
		return decode[UpdateReservedSpots](raw)
	case ActionAddEvent:
		return decode[AddEvent](raw)
	case ActionApproveTestimonial:
		return decode[ApproveTestimonial](raw)
	}
	return nil, apperr.Validation("action", "Invalid action")
}

func decode[T AdminAction](raw []byte) (AdminAction, error) {
	var a T
	if err := dto.DecodeParams(raw, &a); err != nil {
		return nil, err
	}
	return a, nil
}
