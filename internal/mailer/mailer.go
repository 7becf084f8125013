package mailer

import (
	"context"
	"fmt"
	"mime"
	"net"
	"net/smtp"
	"strconv"
	"strings"
	"unicode"

	"github.com/rs/zerolog"

	"herfrequency/internal/dto"
)

type Config struct {
	Host      string
	Port      int
	Username  string
	Password  string
	From      string
	Organizer string
}

// Message is one outgoing email.
type Message struct {
	To      string
	Subject string
	Body    string
}

type sendFunc func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

type Mailer struct {
	cfg  Config
	log  *zerolog.Logger
	send sendFunc
}

func New(cfg Config, log *zerolog.Logger) *Mailer {
	return &Mailer{cfg: cfg, log: log, send: smtp.SendMail}
}

// Compose builds the emails for a notification: the registrant always gets
// one, the organizer only hears about confirmations.
func (m *Mailer) Compose(n dto.RegistrationNotification) []Message {
	n.FirstName = oneLine(n.FirstName)
	n.LastName = oneLine(n.LastName)
	n.EventName = oneLine(n.EventName)
	n.Email = oneLine(n.Email)
	n.Phone = oneLine(n.Phone)

	name := strings.TrimSpace(n.FirstName + " " + n.LastName)
	event := n.EventName
	if event == "" {
		event = fmt.Sprintf("event #%d", n.EventID)
	}

	switch n.Kind {
	case dto.NotificationPending:
		body := fmt.Sprintf("Hi %s,\n\nThank you for registering for %s.\n", n.FirstName, event)
		if n.PaymentLink != "" {
			body += fmt.Sprintf("\nTo secure your spot, please complete payment here:\n%s\n\nThen return to the site and confirm your payment.\n", n.PaymentLink)
		}
		return []Message{{To: n.Email, Subject: "Your registration for " + event, Body: body}}

	case dto.NotificationConfirmed:
		out := []Message{{
			To:      n.Email,
			Subject: "You're in: " + event,
			Body:    fmt.Sprintf("Hi %s,\n\nWe have received your payment confirmation for %s. See you there!\n", n.FirstName, event),
		}}
		if m.cfg.Organizer != "" {
			out = append(out, Message{
				To:      m.cfg.Organizer,
				Subject: "Payment confirmed: " + name,
				Body: fmt.Sprintf(
					"%s confirmed payment for %s.\n\nEmail: %s\nPhone: %s\nRegistration: %s\n\nThis confirmation is self-reported by the registrant. Reconcile it against the payment provider.\n",
					name, event, n.Email, n.Phone, n.RegistrationID,
				),
			})
		}
		return out
	}
	return nil
}

func (m *Mailer) Send(ctx context.Context, n dto.RegistrationNotification) error {
	msgs := m.Compose(n)
	if len(msgs) == 0 {
		return fmt.Errorf("unknown notification kind %q", n.Kind)
	}
	for _, msg := range msgs {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := m.deliver(msg); err != nil {
			return err
		}
		m.log.Info().Str("registration_id", n.RegistrationID).Str("kind", n.Kind).Msg("email sent")
	}
	return nil
}

func (m *Mailer) deliver(msg Message) error {
	to := oneLine(msg.To)
	raw := fmt.Sprintf("From: %s\r\nTo: %s\r\nSubject: %s\r\nMIME-Version: 1.0\r\nContent-Type: text/plain; charset=UTF-8\r\n\r\n%s",
		oneLine(m.cfg.From), to, mime.QEncoding.Encode("UTF-8", oneLine(msg.Subject)), msg.Body,
	)
	addr := net.JoinHostPort(m.cfg.Host, strconv.Itoa(m.cfg.Port))

	var auth smtp.Auth
	if m.cfg.Username != "" {
		auth = smtp.PlainAuth("", m.cfg.Username, m.cfg.Password, m.cfg.Host)
	}
	if err := m.send(addr, auth, m.cfg.From, []string{to}, []byte(raw)); err != nil {
		return fmt.Errorf("send email: %w", err)
	}
	return nil
}

// oneLine collapses control characters to spaces so a value cannot start a
// new header or line.
func oneLine(s string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsControl(r) {
			return ' '
		}
		return r
	}, s)
}
