// Package gate guards every privileged operation. A caller reaches the
// elevated store only through a Session, and a Session exists only after the
// credential has been verified and the admin role looked up for this request.
package gate

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"herfrequency/internal/apperr"
	"herfrequency/internal/auth"
	"herfrequency/internal/ledger"
	"herfrequency/internal/model"
	"herfrequency/internal/monitoring"
	"herfrequency/internal/repo"
	"herfrequency/pkg/validator"
)

const notAuthorized = "Not authorized"

// Session is a caller that passed the gate for one request.
type Session struct {
	Identity auth.Identity
	store    repo.AdminStore
}

type Gate struct {
	verifier auth.Verifier
	roles    repo.RoleStore
	elevated repo.AdminStore
	ledger   *ledger.Ledger
	log      *zerolog.Logger
}

var _ visitor = (*Gate)(nil)

func New(verifier auth.Verifier, roles repo.RoleStore, elevated repo.AdminStore, l *ledger.Ledger, log *zerolog.Logger) *Gate {
	return &Gate{verifier: verifier, roles: roles, elevated: elevated, ledger: l, log: log}
}

// Authorize resolves the bearer credential and checks the admin role. An empty
// credential is rejected before any store is touched.
func (g *Gate) Authorize(ctx context.Context, credential string) (*Session, error) {
	if strings.TrimSpace(credential) == "" {
		monitoring.RecordAdminDecision(monitoring.GateUnauthenticated)
		return nil, apperr.Unauthenticated("Authentication required")
	}

	id, err := g.verifier.Verify(ctx, credential)
	if err != nil {
		monitoring.RecordAdminDecision(monitoring.GateUnauthenticated)
		g.log.Warn().Err(err).Msg("admin credential rejected")
		return nil, apperr.Unauthenticated("Invalid or expired credential")
	}

	ok, err := g.roles.HasRole(ctx, id.UserID, model.RoleAdmin)
	if err != nil {
		monitoring.RecordAdminDecision(monitoring.GateError)
		return nil, apperr.Upstream(err)
	}
	if !ok {
		monitoring.RecordAdminDecision(monitoring.GateForbidden)
		g.log.Warn().Str("user_id", id.UserID).Msg("admin role missing")
		return nil, apperr.Forbidden(notAuthorized)
	}

	monitoring.RecordAdminDecision(monitoring.GateAllowed)
	return &Session{Identity: *id, store: g.elevated}, nil
}

// Execute authorizes the caller and runs the action against the elevated store.
func (g *Gate) Execute(ctx context.Context, credential string, a AdminAction) (any, error) {
	s, err := g.Authorize(ctx, credential)
	if err != nil {
		return nil, err
	}
	return g.Run(ctx, s, a)
}

// Run executes an action for a caller that already passed Authorize.
func (g *Gate) Run(ctx context.Context, s *Session, a AdminAction) (any, error) {
	start := time.Now()
	defer func() { monitoring.ObserveAction(a.Name(), time.Since(start).Seconds()) }()

	g.log.Info().Str("user_id", s.Identity.UserID).Str("action", a.Name()).Msg("admin action")
	return a.accept(ctx, s, g)
}

// RegistrationRow is a registration as shown to admins. PaymentVerification
// states that a confirmation was claimed by the token holder, not checked
// with the payment processor.
type RegistrationRow struct {
	model.Registration
	Status              model.RegistrationStatus `json:"status"`
	PaymentVerification string                   `json:"payment_verification"`
}

type RegistrationsResult struct {
	Registrations []RegistrationRow `json:"registrations"`
}

type SettingsResult struct {
	Settings []model.EventSetting `json:"settings"`
}

type SettingResult struct {
	Success bool                `json:"success"`
	Setting *model.EventSetting `json:"setting"`
}

type TestimonialResult struct {
	Success     bool               `json:"success"`
	Testimonial *model.Testimonial `json:"testimonial"`
}

// Registrations lists registrations for an authorized session, newest first.
func (s *Session) Registrations(ctx context.Context, eventID *int64) ([]RegistrationRow, error) {
	regs, err := s.store.ListRegistrations(ctx, eventID)
	if err != nil {
		return nil, apperr.Upstream(err)
	}
	rows := make([]RegistrationRow, 0, len(regs))
	for _, r := range regs {
		r.TokenHash = ""
		rows = append(rows, RegistrationRow{
			Registration:        r,
			Status:              r.Status(),
			PaymentVerification: model.PaymentVerificationSelfReported,
		})
	}
	return rows, nil
}

func (g *Gate) getRegistrations(ctx context.Context, s *Session, a GetRegistrations) (any, error) {
	filter, err := a.Filter()
	if err != nil {
		return nil, err
	}
	rows, err := s.Registrations(ctx, filter)
	if err != nil {
		return nil, err
	}
	return &RegistrationsResult{Registrations: rows}, nil
}

func (g *Gate) getEventSettings(ctx context.Context, s *Session, _ GetEventSettings) (any, error) {
	settings, err := s.store.ListEventSettings(ctx)
	if err != nil {
		return nil, apperr.Upstream(err)
	}
	return &SettingsResult{Settings: settings}, nil
}

func (g *Gate) updateTotalSpots(ctx context.Context, s *Session, a UpdateTotalSpots) (any, error) {
	if err := validate(ctx, a); err != nil {
		return nil, err
	}
	setting, err := g.ledger.SetTotalSpots(ctx, s.store, a.EventID, *a.TotalSpots)
	if err != nil {
		return nil, err
	}
	return &SettingResult{Success: true, Setting: setting}, nil
}

func (g *Gate) updateReservedSpots(ctx context.Context, s *Session, a UpdateReservedSpots) (any, error) {
	if err := validate(ctx, a); err != nil {
		return nil, err
	}
	setting, err := g.ledger.SetReservedSpots(ctx, s.store, a.EventID, a.ReservedSpots)
	if err != nil {
		return nil, err
	}
	return &SettingResult{Success: true, Setting: setting}, nil
}

func (g *Gate) addEvent(ctx context.Context, s *Session, a AddEvent) (any, error) {
	a.EventName = strings.TrimSpace(a.EventName)
	a.PaymentLink = strings.TrimSpace(a.PaymentLink)
	if err := validate(ctx, a); err != nil {
		return nil, err
	}
	if err := ledger.ValidateSpots("totalSpots", *a.TotalSpots); err != nil {
		return nil, err
	}

	setting := &model.EventSetting{
		EventID:     a.EventID,
		EventName:   a.EventName,
		TotalSpots:  *a.TotalSpots,
		PaymentLink: a.PaymentLink,
	}
	err := s.store.AddEventSetting(ctx, setting)
	if errors.Is(err, repo.ErrEventExists) {
		return nil, apperr.Conflict("An event with this ID already exists")
	}
	if err != nil {
		return nil, apperr.Upstream(err)
	}
	g.log.Info().Int64("event_id", setting.EventID).Str("user_id", s.Identity.UserID).Msg("event added")
	return &SettingResult{Success: true, Setting: setting}, nil
}

func (g *Gate) approveTestimonial(ctx context.Context, s *Session, a ApproveTestimonial) (any, error) {
	a.TestimonialID = strings.ToLower(strings.TrimSpace(a.TestimonialID))
	if err := validate(ctx, a); err != nil {
		return nil, err
	}
	t, err := s.store.ApproveTestimonial(ctx, a.TestimonialID)
	if errors.Is(err, repo.ErrTestimonialNotFound) {
		return nil, apperr.NotFound("Testimonial not found")
	}
	if err != nil {
		return nil, apperr.Upstream(err)
	}
	g.log.Info().Str("testimonial_id", t.ID).Str("user_id", s.Identity.UserID).Msg("testimonial approved")
	return &TestimonialResult{Success: true, Testimonial: t}, nil
}

func validate(ctx context.Context, v any) error {
	err := validator.Validate(ctx, v)
	if err == nil {
		return nil
	}
	var fe *validator.FieldError
	if errors.As(err, &fe) {
		return apperr.Validation(fe.Field, fe.Message)
	}
	return apperr.Validation("", err.Error())
}
