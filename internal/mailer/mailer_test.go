package mailer

import (
	"context"
	"errors"
	"net/smtp"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"herfrequency/internal/dto"
)

type sent struct {
	addr string
	to   []string
	raw  string
}

func newTestMailer(cfg Config) (*Mailer, *[]sent) {
	log := zerolog.Nop()
	m := New(cfg, &log)
	var out []sent
	m.send = func(addr string, _ smtp.Auth, _ string, to []string, msg []byte) error {
		out = append(out, sent{addr: addr, to: to, raw: string(msg)})
		return nil
	}
	return m, &out
}

var cfg = Config{Host: "smtp.example.com", Port: 587, From: "hello@herfrequency.co.za", Organizer: "team@herfrequency.co.za"}

func notification(kind string) dto.RegistrationNotification {
	return dto.RegistrationNotification{
		Kind:           kind,
		RegistrationID: "r-1",
		EventID:        1,
		EventName:      "LoveHer: Galentine's Brunch",
		FirstName:      "Jane",
		LastName:       "Doe",
		Email:          "jane@x.com",
		Phone:          "+27000000000",
		PaymentLink:    "https://pos.snapscan.io/qr/Ak-wyctD",
	}
}

func TestCompose_Pending(t *testing.T) {
	m, _ := newTestMailer(cfg)
	msgs := m.Compose(notification(dto.NotificationPending))
	require.Len(t, msgs, 1)
	assert.Equal(t, "jane@x.com", msgs[0].To)
	assert.Contains(t, msgs[0].Body, "https://pos.snapscan.io/qr/Ak-wyctD")
}

func TestCompose_ConfirmedNotifiesOrganizer(t *testing.T) {
	m, _ := newTestMailer(cfg)
	msgs := m.Compose(notification(dto.NotificationConfirmed))
	require.Len(t, msgs, 2)
	assert.Equal(t, "team@herfrequency.co.za", msgs[1].To)
	assert.Contains(t, msgs[1].Body, "self-reported")
	assert.Contains(t, msgs[1].Subject, "Jane Doe")

	noOrganizer := cfg
	noOrganizer.Organizer = ""
	m, _ = newTestMailer(noOrganizer)
	assert.Len(t, m.Compose(notification(dto.NotificationConfirmed)), 1)
}

func TestSend(t *testing.T) {
	m, out := newTestMailer(cfg)
	require.NoError(t, m.Send(context.Background(), notification(dto.NotificationConfirmed)))
	require.Len(t, *out, 2)
	first := (*out)[0]
	assert.Equal(t, "smtp.example.com:587", first.addr)
	assert.Equal(t, []string{"jane@x.com"}, first.to)
	assert.True(t, strings.HasPrefix(first.raw, "From: hello@herfrequency.co.za\r\n"))

	assert.Error(t, m.Send(context.Background(), dto.RegistrationNotification{Kind: "other"}))
}

func TestSend_Failure(t *testing.T) {
	m, _ := newTestMailer(cfg)
	m.send = func(string, smtp.Auth, string, []string, []byte) error { return errors.New("421 try later") }
	err := m.Send(context.Background(), notification(dto.NotificationPending))
	assert.ErrorContains(t, err, "421")
}

func headerLines(t *testing.T, raw string) []string {
	t.Helper()
	head, _, ok := strings.Cut(raw, "\r\n\r\n")
	require.True(t, ok)
	return strings.Split(head, "\r\n")
}

func TestSend_LineBreaksInNamesStayInOneHeader(t *testing.T) {
	m, out := newTestMailer(cfg)
	n := notification(dto.NotificationConfirmed)
	n.FirstName = "Jane\r\nBcc: attacker@evil.example"
	n.LastName = "Doe\r\n\r\nPayment verified by the processor."

	require.NoError(t, m.Send(context.Background(), n))
	require.Len(t, *out, 2)
	for _, s := range *out {
		lines := headerLines(t, s.raw)
		require.Len(t, lines, 5, s.raw)
		for i, prefix := range []string{"From: ", "To: ", "Subject: ", "MIME-Version: ", "Content-Type: "} {
			assert.True(t, strings.HasPrefix(lines[i], prefix), lines[i])
		}
		assert.NotContains(t, s.raw, "\nBcc:")
		assert.NotContains(t, s.raw, "\nPayment verified")
	}
	assert.Equal(t, []string{"team@herfrequency.co.za"}, (*out)[1].to)
	assert.Contains(t, (*out)[1].raw, "self-reported")
}

func TestDeliver_HeaderValues(t *testing.T) {
	m, out := newTestMailer(cfg)
	require.NoError(t, m.deliver(Message{To: "jane@x.com\r\nCc: b@x.com", Subject: "Hi\nX-Injected: 1", Body: "body"}))

	raw := (*out)[0].raw
	assert.Len(t, headerLines(t, raw), 5)
	assert.NotContains(t, raw, "\nCc:")
	assert.NotContains(t, raw, "\nX-Injected:")
	assert.Contains(t, raw, "Subject: Hi X-Injected: 1\r\n")
}
