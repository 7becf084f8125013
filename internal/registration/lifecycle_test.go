package registration

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"herfrequency/internal/apperr"
	"herfrequency/internal/dto"
	"herfrequency/internal/repo"
)

type recordingPublisher struct {
	mu       sync.Mutex
	messages []dto.RegistrationNotification
	err      error
}

func (p *recordingPublisher) Publish(_ context.Context, body []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	var msg dto.RegistrationNotification
	if err := json.Unmarshal(body, &msg); err != nil {
		return err
	}
	p.messages = append(p.messages, msg)
	return nil
}

func (p *recordingPublisher) kinds() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.messages))
	for _, m := range p.messages {
		out = append(out, m.Kind)
	}
	return out
}

func setup(t *testing.T) (*Lifecycle, *repo.Memory, *recordingPublisher) {
	t.Helper()
	store := repo.NewMemory(repo.DefaultEventSettings...)
	pub := &recordingPublisher{}
	log := zerolog.Nop()
	return New(store, pub, &log), store, pub
}

func jane() CreateRegistration {
	return CreateRegistration{EventID: 1, FirstName: "Jane", LastName: "Doe", Email: "jane@x.com", Phone: "+27000000000"}
}

func TestGenerateToken(t *testing.T) {
	a, err := GenerateToken()
	require.NoError(t, err)
	b, err := GenerateToken()
	require.NoError(t, err)

	assert.Len(t, a, 64)
	assert.NotEqual(t, a, b)
	assert.True(t, tokenMatches(a, HashToken(a)))
	assert.False(t, tokenMatches(b, HashToken(a)))
}

func TestCreateThenConfirm(t *testing.T) {
	l, store, pub := setup(t)
	ctx := context.Background()

	created, err := l.Create(ctx, jane())
	require.NoError(t, err)
	assert.NotEmpty(t, created.RegistrationID)
	assert.Len(t, created.ConfirmationToken, 64)
	assert.Equal(t, "https://pos.snapscan.io/qr/Ak-wyctD", created.PaymentLink)

	stored, err := store.GetRegistration(ctx, created.RegistrationID)
	require.NoError(t, err)
	assert.False(t, stored.PaymentConfirmed)
	assert.NotEqual(t, created.ConfirmationToken, stored.TokenHash)

	res, err := l.Confirm(ctx, ConfirmPayment{RegistrationID: created.RegistrationID, ConfirmationToken: created.ConfirmationToken})
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.False(t, res.AlreadyConfirmed)
	assert.Equal(t, "self-reported", res.PaymentVerification)

	n, err := store.CountConfirmed(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	assert.Equal(t, []string{dto.NotificationPending, dto.NotificationConfirmed}, pub.kinds())
}

func TestConfirm_Idempotent(t *testing.T) {
	l, store, pub := setup(t)
	ctx := context.Background()
	created, err := l.Create(ctx, jane())
	require.NoError(t, err)
	in := ConfirmPayment{RegistrationID: created.RegistrationID, ConfirmationToken: created.ConfirmationToken}

	_, err = l.Confirm(ctx, in)
	require.NoError(t, err)
	first, err := store.GetRegistration(ctx, created.RegistrationID)
	require.NoError(t, err)
	require.NotNil(t, first.ConfirmedAt)

	res, err := l.Confirm(ctx, in)
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.True(t, res.AlreadyConfirmed)

	second, err := store.GetRegistration(ctx, created.RegistrationID)
	require.NoError(t, err)
	assert.Equal(t, *first.ConfirmedAt, *second.ConfirmedAt)
	assert.Len(t, pub.kinds(), 2, "a repeated confirmation publishes nothing")
}

func TestConfirm_Concurrent(t *testing.T) {
	l, store, pub := setup(t)
	ctx := context.Background()
	created, err := l.Create(ctx, jane())
	require.NoError(t, err)
	in := ConfirmPayment{RegistrationID: created.RegistrationID, ConfirmationToken: created.ConfirmationToken}

	var wg sync.WaitGroup
	results := make([]error, 8)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, results[i] = l.Confirm(ctx, in)
		}(i)
	}
	wg.Wait()

	for _, err := range results {
		assert.NoError(t, err)
	}
	n, err := store.CountConfirmed(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	reg, err := store.GetRegistration(ctx, created.RegistrationID)
	require.NoError(t, err)
	assert.NotNil(t, reg.ConfirmedAt)

	confirmedNotices := 0
	for _, k := range pub.kinds() {
		if k == dto.NotificationConfirmed {
			confirmedNotices++
		}
	}
	assert.Equal(t, 1, confirmedNotices)
}

func TestConfirm_WrongTokenNeverConfirms(t *testing.T) {
	l, store, _ := setup(t)
	ctx := context.Background()
	created, err := l.Create(ctx, jane())
	require.NoError(t, err)

	other, err := GenerateToken()
	require.NoError(t, err)

	_, err = l.Confirm(ctx, ConfirmPayment{RegistrationID: created.RegistrationID, ConfirmationToken: other})
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.KindForbidden))

	reg, err := store.GetRegistration(ctx, created.RegistrationID)
	require.NoError(t, err)
	assert.False(t, reg.PaymentConfirmed)
	assert.Nil(t, reg.ConfirmedAt)
}

func TestConfirm_UnknownIDLooksLikeWrongToken(t *testing.T) {
	l, store, _ := setup(t)
	ctx := context.Background()
	token, err := GenerateToken()
	require.NoError(t, err)

	_, errUnknown := l.Confirm(ctx, ConfirmPayment{RegistrationID: "6f1c1f0e-7d4a-4b8e-9f2a-0c3d5e7f9a1b", ConfirmationToken: token})

	created, err := l.Create(ctx, jane())
	require.NoError(t, err)
	_, errWrong := l.Confirm(ctx, ConfirmPayment{RegistrationID: created.RegistrationID, ConfirmationToken: token})

	require.Error(t, errUnknown)
	require.Error(t, errWrong)
	assert.True(t, apperr.Is(errUnknown, apperr.KindForbidden))
	assert.Equal(t, errWrong.Error(), errUnknown.Error())

	n, err := store.CountConfirmed(ctx, 1)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestConfirm_MalformedInputRejectedBeforeStore(t *testing.T) {
	l, _, _ := setup(t)
	ctx := context.Background()
	token, err := GenerateToken()
	require.NoError(t, err)

	cases := []ConfirmPayment{
		{RegistrationID: "not-a-uuid", ConfirmationToken: token},
		{RegistrationID: "6f1c1f0e-7d4a-4b8e-9f2a-0c3d5e7f9a1b", ConfirmationToken: "abc"},
		{RegistrationID: "6f1c1f0e-7d4a-4b8e-9f2a-0c3d5e7f9a1b", ConfirmationToken: strings.Repeat("z", 64)},
		{},
	}
	for _, in := range cases {
		_, err := l.Confirm(ctx, in)
		assert.True(t, apperr.Is(err, apperr.KindValidation), "%+v", in)
	}
}

func TestCreate_Validation(t *testing.T) {
	l, store, _ := setup(t)
	ctx := context.Background()

	mutate := []func(*CreateRegistration){
		func(c *CreateRegistration) { c.EventID = 0 },
		func(c *CreateRegistration) { c.EventID = -4 },
		func(c *CreateRegistration) { c.FirstName = "   " },
		func(c *CreateRegistration) { c.LastName = "" },
		func(c *CreateRegistration) { c.FirstName = strings.Repeat("a", 101) },
		func(c *CreateRegistration) { c.Email = "jane.x.com" },
		func(c *CreateRegistration) { c.Phone = "+2700000000000000000000" },
		func(c *CreateRegistration) { c.Phone = "" },
		func(c *CreateRegistration) { c.FirstName = "Jane\r\nBcc: attacker@evil.example" },
		func(c *CreateRegistration) { c.LastName = "Doe\n\nPayment verified" },
		func(c *CreateRegistration) { c.LastName = "Do\x00e" },
	}
	for i, m := range mutate {
		in := jane()
		m(&in)
		_, err := l.Create(ctx, in)
		assert.True(t, apperr.Is(err, apperr.KindValidation), "case %d", i)
	}

	regs, err := store.ListRegistrations(ctx, nil)
	require.NoError(t, err)
	assert.Empty(t, regs)
}

func TestCreate_LineBreakInNameNamesTheField(t *testing.T) {
	l, _, pub := setup(t)
	in := jane()
	in.FirstName = "Jane\r\nBcc: attacker@evil.example"

	_, err := l.Create(context.Background(), in)
	var ae *apperr.Error
	require.ErrorAs(t, err, &ae)
	assert.Equal(t, apperr.KindValidation, ae.Kind)
	assert.Equal(t, "firstName", ae.Field)
	assert.Empty(t, pub.kinds())
}

func TestCreate_UnknownEvent(t *testing.T) {
	l, _, _ := setup(t)
	in := jane()
	in.EventID = 77
	_, err := l.Create(context.Background(), in)
	assert.True(t, apperr.Is(err, apperr.KindNotFound))
}

func TestCreate_PublishFailureDoesNotFail(t *testing.T) {
	l, _, pub := setup(t)
	pub.err = errors.New("broker down")
	ctx := context.Background()

	created, err := l.Create(ctx, jane())
	require.NoError(t, err)
	res, err := l.Confirm(ctx, ConfirmPayment{RegistrationID: created.RegistrationID, ConfirmationToken: created.ConfirmationToken})
	require.NoError(t, err)
	assert.True(t, res.Success)
}

func TestDecodeAction(t *testing.T) {
	a, err := DecodeAction([]byte(`{"action":"create_registration","eventId":1,"firstName":"Jane","lastName":"Doe","email":"jane@x.com","phone":"+27000000000"}`))
	require.NoError(t, err)
	create, ok := a.(CreateRegistration)
	require.True(t, ok)
	assert.Equal(t, int64(1), create.EventID)

	a, err = DecodeAction([]byte(`{"action":"confirm_payment","registrationId":"x","confirmationToken":"y"}`))
	require.NoError(t, err)
	assert.Equal(t, ActionConfirmPayment, a.Name())

	_, err = DecodeAction([]byte(`{"action":"drop_tables"}`))
	assert.True(t, apperr.Is(err, apperr.KindValidation))

	_, err = DecodeAction([]byte(`{"action":"create_registration","eventId":"one"}`))
	require.Error(t, err)
	var ae *apperr.Error
	require.True(t, errors.As(err, &ae))
	assert.Equal(t, "eventId", ae.Field)

	_, err = DecodeAction([]byte(`not json`))
	assert.True(t, apperr.Is(err, apperr.KindValidation))
}

func TestExecute_Dispatches(t *testing.T) {
	l, _, _ := setup(t)
	res, err := l.Execute(context.Background(), jane())
	require.NoError(t, err)
	_, ok := res.(*Created)
	assert.True(t, ok)
}
