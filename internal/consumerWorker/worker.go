package consumerWorker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"herfrequency/internal/dto"
)

type Consumer interface {
	Consume(ctx context.Context, handler func([]byte) error) error
}

type Sender interface {
	Send(ctx context.Context, n dto.RegistrationNotification) error
}

var errMalformed = errors.New("malformed notification")

// Reader turns queued registration notifications into emails.
type Reader struct {
	consumer Consumer
	sender   Sender
	log      *zerolog.Logger
	done     chan struct{}
	cancel   context.CancelFunc
}

func NewReader(consumer Consumer, sender Sender, log *zerolog.Logger) *Reader {
	return &Reader{
		consumer: consumer,
		sender:   sender,
		log:      log,
		done:     make(chan struct{}),
	}
}

func (r *Reader) Start(ctx context.Context) {
	cctx, cancel := context.WithCancel(ctx)
	r.cancel = cancel

	r.log.Info().Msg("notification reader started")

	go func() {
		defer close(r.done)

		if err := r.consumer.Consume(cctx, func(body []byte) error { return r.Handle(cctx, body) }); err != nil {
			r.log.Error().Err(err).Msg("failed to start consuming")
			return
		}

		<-cctx.Done()
		r.log.Info().Msg("notification reader stopped")
	}()
}

// Handle processes one message body. Malformed bodies are logged and
// acknowledged so they do not cycle through the queue.
func (r *Reader) Handle(ctx context.Context, body []byte) error {
	var msg dto.RegistrationNotification
	if err := json.Unmarshal(body, &msg); err != nil {
		r.log.Error().Err(err).Msg("dropping malformed notification")
		return nil
	}
	if msg.RegistrationID == "" || msg.Email == "" {
		r.log.Error().Err(errMalformed).Str("kind", msg.Kind).Msg("dropping incomplete notification")
		return nil
	}

	r.log.Info().
		Str("registration_id", msg.RegistrationID).
		Int64("event_id", msg.EventID).
		Str("kind", msg.Kind).
		Msg("notification received")

	if err := r.sender.Send(ctx, msg); err != nil {
		return fmt.Errorf("notify %s: %w", msg.RegistrationID, err)
	}
	return nil
}

func (r *Reader) Stop() {
	if r.cancel != nil {
		r.cancel()
		<-r.done
	}
}
