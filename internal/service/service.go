package service

import (
	"bytes"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog"
	"github.com/wb-go/wbf/ginext"

	"herfrequency/internal/apperr"
	"herfrequency/internal/auth"
	"herfrequency/internal/dto"
	"herfrequency/internal/gate"
	"herfrequency/internal/ledger"
	"herfrequency/internal/ratelimit"
	"herfrequency/internal/registration"
	"herfrequency/internal/testimonial"
)

const maxBodyBytes = 64 << 10

type Service interface {
	RegistrationAction(ctx *ginext.Context)
	AdminAction(ctx *ginext.Context)
	ExportRegistrationsCSV(ctx *ginext.Context)
	ListEvents(ctx *ginext.Context)
	EventSpots(ctx *ginext.Context)
	SubmitTestimonial(ctx *ginext.Context)
	ListTestimonials(ctx *ginext.Context)
	SignIn(ctx *ginext.Context)
	Health(ctx *ginext.Context)
}

type Deps struct {
	Lifecycle    *registration.Lifecycle
	Gate         *gate.Gate
	Ledger       *ledger.Ledger
	Testimonials *testimonial.Service
	Accounts     *auth.PasswordSignIn
	Limiter      *ratelimit.Limiter
	// RegistrationRule is applied to create_registration only.
	RegistrationRule ratelimit.Rule
}

type service struct {
	Deps
	log *zerolog.Logger
}

func NewService(deps Deps, logger *zerolog.Logger) Service {
	return &service{Deps: deps, log: logger}
}

func readBody(ctx *ginext.Context) ([]byte, error) {
	ctx.Request.Body = http.MaxBytesReader(ctx.Writer, ctx.Request.Body, maxBodyBytes)
	raw, err := ctx.GetRawData()
	if err != nil {
		return nil, apperr.Validation("", "Request body is too large or unreadable")
	}
	return raw, nil
}

func (s *service) fail(ctx *ginext.Context, action string, err error) {
	switch apperr.KindOf(err) {
	case apperr.KindUpstream, apperr.KindUnavailable:
		s.log.Error().Err(err).Str("action", action).Msg("request failed")
	default:
		s.log.Debug().Err(err).Str("action", action).Msg("request rejected")
	}
	dto.WriteError(ctx, err)
}

func (s *service) RegistrationAction(ctx *ginext.Context) {
	raw, err := readBody(ctx)
	if err != nil {
		s.fail(ctx, "", err)
		return
	}
	action, err := registration.DecodeAction(raw)
	if err != nil {
		s.fail(ctx, "", err)
		return
	}

	if _, ok := action.(registration.CreateRegistration); ok {
		if !s.Limiter.Check(ctx, s.RegistrationRule) {
			return
		}
	}

	res, err := s.Lifecycle.Execute(ctx.Request.Context(), action)
	if err != nil {
		s.fail(ctx, action.Name(), err)
		return
	}
	if action.Name() == registration.ActionCreateRegistration {
		dto.SuccessCreatedResponse(ctx, res)
		return
	}
	dto.SuccessResponse(ctx, res)
}

func credential(ctx *ginext.Context) string {
	return auth.BearerToken(ctx.GetHeader("Authorization"))
}

// AdminAction authorizes the caller before the body is read, so a bad
// credential is always 401 or 403 whatever the payload holds.
func (s *service) AdminAction(ctx *ginext.Context) {
	session, err := s.Gate.Authorize(ctx.Request.Context(), credential(ctx))
	if err != nil {
		s.fail(ctx, "", err)
		return
	}
	raw, err := readBody(ctx)
	if err != nil {
		s.fail(ctx, "", err)
		return
	}
	action, err := gate.DecodeAction(raw)
	if err != nil {
		s.fail(ctx, "", err)
		return
	}
	res, err := s.Gate.Run(ctx.Request.Context(), session, action)
	if err != nil {
		s.fail(ctx, action.Name(), err)
		return
	}
	dto.SuccessResponse(ctx, res)
}

func (s *service) ExportRegistrationsCSV(ctx *ginext.Context) {
	session, err := s.Gate.Authorize(ctx.Request.Context(), credential(ctx))
	if err != nil {
		s.fail(ctx, "export_registrations", err)
		return
	}
	filter, err := gate.ParseEventFilter(ctx.Query("eventId"))
	if err != nil {
		s.fail(ctx, "export_registrations", err)
		return
	}
	rows, err := session.Registrations(ctx.Request.Context(), filter)
	if err != nil {
		s.fail(ctx, "export_registrations", err)
		return
	}

	var buf bytes.Buffer
	if err := gate.WriteCSV(&buf, rows); err != nil {
		s.fail(ctx, "export_registrations", apperr.Upstream(err))
		return
	}
	s.log.Info().Str("user_id", session.Identity.UserID).Int("rows", len(rows)).Msg("registrations exported")

	name := "registrations-" + time.Now().UTC().Format("2006-01-02") + ".csv"
	ctx.Header("Content-Disposition", `attachment; filename="`+name+`"`)
	ctx.Header("Cache-Control", "no-store")
	ctx.Data(http.StatusOK, "text/csv; charset=utf-8", buf.Bytes())
}

func (s *service) ListEvents(ctx *ginext.Context) {
	events, err := s.Ledger.All(ctx.Request.Context())
	if err != nil {
		s.fail(ctx, "list_events", err)
		return
	}
	dto.SuccessResponse(ctx, events)
}

func (s *service) EventSpots(ctx *ginext.Context) {
	eventID, err := strconv.ParseInt(ctx.Param("id"), 10, 64)
	if err != nil {
		s.fail(ctx, "event_spots", apperr.Validation("eventId", "Event ID must be a positive integer"))
		return
	}
	a, err := s.Ledger.SpotsRemaining(ctx.Request.Context(), eventID)
	if err != nil {
		s.fail(ctx, "event_spots", err)
		return
	}
	dto.SuccessResponse(ctx, a)
}

func (s *service) SubmitTestimonial(ctx *ginext.Context) {
	raw, err := readBody(ctx)
	if err != nil {
		s.fail(ctx, "submit_testimonial", err)
		return
	}
	var req testimonial.SubmitRequest
	if err := dto.DecodeParams(raw, &req); err != nil {
		s.fail(ctx, "submit_testimonial", err)
		return
	}
	res, err := s.Testimonials.Submit(ctx.Request.Context(), req)
	if err != nil {
		s.fail(ctx, "submit_testimonial", err)
		return
	}
	dto.SuccessCreatedResponse(ctx, res)
}

func (s *service) ListTestimonials(ctx *ginext.Context) {
	limit := 0
	if q := ctx.Query("limit"); q != "" {
		n, err := strconv.Atoi(q)
		if err != nil {
			s.fail(ctx, "list_testimonials", apperr.Validation("limit", "Field has bad format"))
			return
		}
		limit = n
	}
	out, err := s.Testimonials.ListApproved(ctx.Request.Context(), limit)
	if err != nil {
		s.fail(ctx, "list_testimonials", err)
		return
	}
	dto.SuccessResponse(ctx, out)
}

func (s *service) SignIn(ctx *ginext.Context) {
	raw, err := readBody(ctx)
	if err != nil {
		s.fail(ctx, "sign_in", err)
		return
	}
	var req auth.SignInRequest
	if err := dto.DecodeParams(raw, &req); err != nil {
		s.fail(ctx, "sign_in", err)
		return
	}
	res, err := s.Accounts.SignIn(ctx.Request.Context(), req)
	if err != nil {
		s.fail(ctx, "sign_in", err)
		return
	}
	dto.SuccessResponse(ctx, res)
}

func (s *service) Health(ctx *ginext.Context) {
	dto.SuccessResponse(ctx, map[string]string{"status": "up"})
}
