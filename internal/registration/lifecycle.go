// Package registration drives a registrant from a pending registration to a
// payment confirmation.
//
// "Payment confirmed" means the holder of the confirmation token claimed to
// have paid. Nothing here verifies the payment with the processor; admins
// reconcile confirmations by hand.
package registration

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"herfrequency/internal/apperr"
	"herfrequency/internal/dto"
	"herfrequency/internal/model"
	"herfrequency/internal/monitoring"
	"herfrequency/internal/repo"
	"herfrequency/pkg/validator"
)

const invalidTokenMessage = "Invalid confirmation token"

type Store interface {
	GetEventSetting(ctx context.Context, eventID int64) (*model.EventSetting, error)
	CreateRegistration(ctx context.Context, reg *model.Registration) error
	GetRegistration(ctx context.Context, id string) (*model.Registration, error)
	ConfirmRegistration(ctx context.Context, id, tokenHash string, at time.Time) (bool, error)
}

// Publisher hands notification payloads to the outbound channel.
type Publisher interface {
	Publish(ctx context.Context, body []byte) error
}

type Created struct {
	RegistrationID    string `json:"registrationId"`
	ConfirmationToken string `json:"confirmationToken"`
	PaymentLink       string `json:"paymentLink,omitempty"`
}

type Confirmed struct {
	Success             bool   `json:"success"`
	AlreadyConfirmed    bool   `json:"alreadyConfirmed,omitempty"`
	PaymentVerification string `json:"paymentVerification"`
}

type Lifecycle struct {
	store          Store
	pub            Publisher
	log            *zerolog.Logger
	now            func() time.Time
	publishTimeout time.Duration
}

var _ visitor = (*Lifecycle)(nil)

// New returns a lifecycle. pub may be nil, which disables notifications.
func New(store Store, pub Publisher, log *zerolog.Logger) *Lifecycle {
	return &Lifecycle{
		store:          store,
		pub:            pub,
		log:            log,
		now:            func() time.Time { return time.Now().UTC() },
		publishTimeout: 2 * time.Second,
	}
}

// Execute runs a decoded public action.
func (l *Lifecycle) Execute(ctx context.Context, a Action) (any, error) {
	start := time.Now()
	defer func() { monitoring.ObserveAction(a.Name(), time.Since(start).Seconds()) }()
	return a.accept(ctx, l)
}

func (l *Lifecycle) createRegistration(ctx context.Context, a CreateRegistration) (any, error) {
	created, err := l.Create(ctx, a)
	if err != nil {
		return nil, err
	}
	return created, nil
}

func (l *Lifecycle) confirmPayment(ctx context.Context, a ConfirmPayment) (any, error) {
	confirmed, err := l.Confirm(ctx, a)
	if err != nil {
		return nil, err
	}
	return confirmed, nil
}

func fieldError(err error) error {
	var fe *validator.FieldError
	if errors.As(err, &fe) {
		return apperr.Validation(fe.Field, fe.Message)
	}
	return apperr.Validation("", err.Error())
}

// Create stores a pending registration and returns the confirmation token.
// The token is returned only here; the store keeps its hash.
func (l *Lifecycle) Create(ctx context.Context, in CreateRegistration) (*Created, error) {
	in.FirstName = strings.TrimSpace(in.FirstName)
	in.LastName = strings.TrimSpace(in.LastName)
	in.Email = strings.TrimSpace(in.Email)
	in.Phone = strings.TrimSpace(in.Phone)
	if err := validator.Validate(ctx, in); err != nil {
		return nil, fieldError(err)
	}

	setting, err := l.store.GetEventSetting(ctx, in.EventID)
	if errors.Is(err, repo.ErrEventNotFound) {
		return nil, apperr.NotFound("Event not found")
	}
	if err != nil {
		return nil, apperr.Upstream(err)
	}

	token, err := GenerateToken()
	if err != nil {
		return nil, apperr.Upstream(err)
	}

	reg := &model.Registration{
		EventID:   in.EventID,
		FirstName: in.FirstName,
		LastName:  in.LastName,
		Email:     in.Email,
		Phone:     in.Phone,
		TokenHash: HashToken(token),
	}
	err = l.store.CreateRegistration(ctx, reg)
	if errors.Is(err, repo.ErrEventNotFound) {
		return nil, apperr.NotFound("Event not found")
	}
	if err != nil {
		return nil, apperr.Upstream(err)
	}

	monitoring.RecordRegistrationCreated(reg.EventID)
	l.log.Info().Str("registration_id", reg.ID).Int64("event_id", reg.EventID).Msg("registration created")

	l.notify(ctx, dto.NotificationPending, reg, setting)

	return &Created{
		RegistrationID:    reg.ID,
		ConfirmationToken: token,
		PaymentLink:       setting.PaymentLink,
	}, nil
}

// Confirm moves a pending registration to confirmed. It is idempotent: a
// repeated call with the same id and token succeeds without touching the row.
// An unknown id and a wrong token get the same rejection; only the log tells
// them apart.
func (l *Lifecycle) Confirm(ctx context.Context, in ConfirmPayment) (*Confirmed, error) {
	in.RegistrationID = strings.ToLower(strings.TrimSpace(in.RegistrationID))
	in.ConfirmationToken = strings.ToLower(strings.TrimSpace(in.ConfirmationToken))
	if err := validator.Validate(ctx, in); err != nil {
		monitoring.RecordConfirmation(monitoring.ConfirmRejected)
		return nil, fieldError(err)
	}

	reg, err := l.store.GetRegistration(ctx, in.RegistrationID)
	if errors.Is(err, repo.ErrRegistrationNotFound) {
		return nil, l.reject(in.RegistrationID, "unknown registration")
	}
	if err != nil {
		return nil, apperr.Upstream(err)
	}
	if !tokenMatches(in.ConfirmationToken, reg.TokenHash) {
		return nil, l.reject(in.RegistrationID, "token mismatch")
	}
	if reg.PaymentConfirmed {
		monitoring.RecordConfirmation(monitoring.ConfirmIdempotent)
		return alreadyConfirmed(), nil
	}

	at := l.now()
	updated, err := l.store.ConfirmRegistration(ctx, reg.ID, reg.TokenHash, at)
	if err != nil {
		return nil, apperr.Upstream(err)
	}
	if !updated {
		// Lost a race with a concurrent confirmation of the same registration.
		current, err := l.store.GetRegistration(ctx, reg.ID)
		if err != nil {
			return nil, apperr.Upstream(err)
		}
		if current.PaymentConfirmed {
			monitoring.RecordConfirmation(monitoring.ConfirmIdempotent)
			return alreadyConfirmed(), nil
		}
		return nil, l.reject(reg.ID, "conditional update matched no row")
	}

	monitoring.RecordConfirmation(monitoring.ConfirmFirst)
	l.log.Info().Str("registration_id", reg.ID).Int64("event_id", reg.EventID).Msg("payment confirmed by token holder")

	reg.PaymentConfirmed = true
	reg.ConfirmedAt = &at
	setting, err := l.store.GetEventSetting(ctx, reg.EventID)
	if err != nil {
		l.log.Warn().Err(err).Int64("event_id", reg.EventID).Msg("event setting unavailable for notification")
		setting = &model.EventSetting{EventID: reg.EventID}
	}
	l.notify(ctx, dto.NotificationConfirmed, reg, setting)

	return &Confirmed{Success: true, PaymentVerification: model.PaymentVerificationSelfReported}, nil
}

func alreadyConfirmed() *Confirmed {
	return &Confirmed{Success: true, AlreadyConfirmed: true, PaymentVerification: model.PaymentVerificationSelfReported}
}

func (l *Lifecycle) reject(registrationID, reason string) error {
	monitoring.RecordConfirmation(monitoring.ConfirmRejected)
	l.log.Warn().Str("registration_id", registrationID).Str("reason", reason).Msg("confirmation rejected")
	return apperr.Forbidden(invalidTokenMessage)
}

// notify is best effort: a failure is logged and counted, never returned.
func (l *Lifecycle) notify(ctx context.Context, kind string, reg *model.Registration, setting *model.EventSetting) {
	if l.pub == nil {
		return
	}
	payload, err := json.Marshal(dto.RegistrationNotification{
		Kind:           kind,
		RegistrationID: reg.ID,
		EventID:        reg.EventID,
		EventName:      setting.EventName,
		FirstName:      reg.FirstName,
		LastName:       reg.LastName,
		Email:          reg.Email,
		Phone:          reg.Phone,
		PaymentLink:    setting.PaymentLink,
		ConfirmedAt:    reg.ConfirmedAt,
	})
	if err != nil {
		l.log.Error().Err(err).Msg("failed to marshal notification")
		monitoring.RecordNotificationFailure(kind)
		return
	}

	pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), l.publishTimeout)
	defer cancel()
	if err := l.pub.Publish(pctx, payload); err != nil {
		l.log.Warn().Err(err).Str("registration_id", reg.ID).Str("kind", kind).Msg("failed to publish notification")
		monitoring.RecordNotificationFailure(kind)
	}
}
