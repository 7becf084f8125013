// Package testimonial accepts public reviews and lists the approved ones.
// Submissions always start unapproved; approval is an admin action.
package testimonial

import (
	"context"
	"errors"
	"strings"

	"github.com/rs/zerolog"

	"herfrequency/internal/apperr"
	"herfrequency/internal/model"
	"herfrequency/pkg/validator"
)

const (
	DefaultLimit = 20
	MaxLimit     = 50
)

type Store interface {
	CreateTestimonial(ctx context.Context, t *model.Testimonial) error
	ListApprovedTestimonials(ctx context.Context, limit int) ([]model.Testimonial, error)
}

type SubmitRequest struct {
	Name     string `json:"name" validate:"required,max=100,singleline"`
	Role     string `json:"role" validate:"max=100,singleline"`
	Location string `json:"location" validate:"max=100,singleline"`
	Quote    string `json:"quote" validate:"required,max=1000"`
	Rating   int    `json:"rating" validate:"gte=1,lte=5"`
}

type Submitted struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

type Service struct {
	store Store
	log   *zerolog.Logger
}

func New(store Store, log *zerolog.Logger) *Service {
	return &Service{store: store, log: log}
}

func (s *Service) Submit(ctx context.Context, req SubmitRequest) (*Submitted, error) {
	req.Name = strings.TrimSpace(req.Name)
	req.Role = strings.TrimSpace(req.Role)
	req.Location = strings.TrimSpace(req.Location)
	req.Quote = strings.TrimSpace(req.Quote)
	if err := validator.Validate(ctx, req); err != nil {
		var fe *validator.FieldError
		if errors.As(err, &fe) {
			return nil, apperr.Validation(fe.Field, fe.Message)
		}
		return nil, apperr.Validation("", err.Error())
	}

	t := &model.Testimonial{
		Name:     req.Name,
		Role:     optional(req.Role),
		Location: optional(req.Location),
		Quote:    req.Quote,
		Rating:   req.Rating,
	}
	if err := s.store.CreateTestimonial(ctx, t); err != nil {
		return nil, apperr.Upstream(err)
	}
	s.log.Info().Str("testimonial_id", t.ID).Int("rating", t.Rating).Msg("testimonial submitted for review")
	return &Submitted{ID: t.ID, Status: "pending_review"}, nil
}

// ListApproved returns the newest approved testimonials. limit is clamped to
// [1, MaxLimit]; zero or less means DefaultLimit.
func (s *Service) ListApproved(ctx context.Context, limit int) ([]model.Testimonial, error) {
	switch {
	case limit <= 0:
		limit = DefaultLimit
	case limit > MaxLimit:
		limit = MaxLimit
	}
	out, err := s.store.ListApprovedTestimonials(ctx, limit)
	if err != nil {
		return nil, apperr.Upstream(err)
	}
	return out, nil
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
