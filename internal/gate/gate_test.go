package gate

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"herfrequency/internal/apperr"
	"herfrequency/internal/auth"
	"herfrequency/internal/ledger"
	"herfrequency/internal/model"
	"herfrequency/internal/registration"
	"herfrequency/internal/repo"
)

type countingRoles struct {
	repo.RoleStore
	calls int
	err   error
}

func (c *countingRoles) HasRole(ctx context.Context, userID string, role model.Role) (bool, error) {
	c.calls++
	if c.err != nil {
		return false, c.err
	}
	return c.RoleStore.HasRole(ctx, userID, role)
}

type fixture struct {
	gate     *Gate
	store    *repo.Memory
	roles    *countingRoles
	verifier *auth.JWTVerifier
	admin    string
	staff    string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := repo.NewMemory(repo.DefaultEventSettings...)
	log := zerolog.Nop()
	verifier, err := auth.NewJWTVerifier("0123456789abcdef0123456789abcdef", "herfrequency", time.Hour)
	require.NoError(t, err)

	ctx := context.Background()
	admin := &model.User{Email: "admin@x.com", PasswordHash: "x"}
	require.NoError(t, store.CreateUser(ctx, admin))
	require.NoError(t, store.GrantRole(ctx, admin.ID, model.RoleAdmin))
	staff := &model.User{Email: "staff@x.com", PasswordHash: "x"}
	require.NoError(t, store.CreateUser(ctx, staff))

	adminToken, _, err := verifier.Issue(admin.ID, admin.Email)
	require.NoError(t, err)
	staffToken, _, err := verifier.Issue(staff.ID, staff.Email)
	require.NoError(t, err)

	roles := &countingRoles{RoleStore: store}
	l := ledger.New(store, &log, 50)
	return &fixture{
		gate:     New(verifier, roles, store, l, &log),
		store:    store,
		roles:    roles,
		verifier: verifier,
		admin:    adminToken,
		staff:    staffToken,
	}
}

func intp(n int) *int { return &n }

func TestAuthorize(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.gate.Authorize(ctx, "")
	assert.True(t, apperr.Is(err, apperr.KindUnauthenticated))
	assert.Zero(t, f.roles.calls, "no store query without a credential")

	_, err = f.gate.Authorize(ctx, "garbage")
	assert.True(t, apperr.Is(err, apperr.KindUnauthenticated))
	assert.Zero(t, f.roles.calls)

	_, err = f.gate.Authorize(ctx, f.staff)
	assert.True(t, apperr.Is(err, apperr.KindForbidden))
	assert.Equal(t, 1, f.roles.calls)

	s, err := f.gate.Authorize(ctx, f.admin)
	require.NoError(t, err)
	assert.Equal(t, "admin@x.com", s.Identity.Email)
	assert.Equal(t, 2, f.roles.calls, "role is checked on every request")
}

func TestAuthorize_RoleLookupFails(t *testing.T) {
	f := newFixture(t)
	f.roles.err = errors.New("connection reset")
	_, err := f.gate.Authorize(context.Background(), f.admin)
	assert.True(t, apperr.Is(err, apperr.KindUpstream))

	f.roles.err = context.DeadlineExceeded
	_, err = f.gate.Authorize(context.Background(), f.admin)
	assert.True(t, apperr.Is(err, apperr.KindUnavailable))
}

func TestUpdateTotalSpots(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	action := UpdateTotalSpots{EventID: 1, TotalSpots: intp(150)}

	_, err := f.gate.Execute(ctx, "", action)
	assert.True(t, apperr.Is(err, apperr.KindUnauthenticated))

	_, err = f.gate.Execute(ctx, f.staff, action)
	assert.True(t, apperr.Is(err, apperr.KindForbidden))

	res, err := f.gate.Execute(ctx, f.admin, action)
	require.NoError(t, err)
	assert.Equal(t, 150, res.(*SettingResult).Setting.TotalSpots)

	res, err = f.gate.Execute(ctx, f.admin, GetEventSettings{})
	require.NoError(t, err)
	settings := res.(*SettingsResult).Settings
	require.Len(t, settings, 3)
	assert.Equal(t, int64(1), settings[0].EventID)
	assert.Equal(t, 150, settings[0].TotalSpots)
}

func TestUpdateTotalSpots_Bounds(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for _, n := range []int{-1, 1001} {
		_, err := f.gate.Execute(ctx, f.admin, UpdateTotalSpots{EventID: 1, TotalSpots: intp(n)})
		assert.True(t, apperr.Is(err, apperr.KindValidation), "total %d", n)
	}
	for _, n := range []int{0, 1000} {
		_, err := f.gate.Execute(ctx, f.admin, UpdateTotalSpots{EventID: 1, TotalSpots: intp(n)})
		assert.NoError(t, err, "total %d", n)
	}

	_, err := f.gate.Execute(ctx, f.admin, UpdateTotalSpots{EventID: 1})
	assert.True(t, apperr.Is(err, apperr.KindValidation))

	_, err = f.gate.Execute(ctx, f.admin, UpdateTotalSpots{EventID: 99, TotalSpots: intp(10)})
	assert.True(t, apperr.Is(err, apperr.KindNotFound))
}

func TestUpdateReservedSpots(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res, err := f.gate.Execute(ctx, f.admin, UpdateReservedSpots{EventID: 2, ReservedSpots: intp(5)})
	require.NoError(t, err)
	assert.Equal(t, 5, res.(*SettingResult).Setting.Reserved())

	res, err = f.gate.Execute(ctx, f.admin, UpdateReservedSpots{EventID: 2})
	require.NoError(t, err)
	assert.Nil(t, res.(*SettingResult).Setting.ReservedSpots)

	_, err = f.gate.Execute(ctx, f.admin, UpdateReservedSpots{EventID: 2, ReservedSpots: intp(1001)})
	assert.True(t, apperr.Is(err, apperr.KindValidation))
}

func TestAddEvent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res, err := f.gate.Execute(ctx, f.admin, AddEvent{EventID: 4, EventName: "  RiseHer  ", TotalSpots: intp(30)})
	require.NoError(t, err)
	assert.Equal(t, "RiseHer", res.(*SettingResult).Setting.EventName)

	_, err = f.gate.Execute(ctx, f.admin, AddEvent{EventID: 4, EventName: "Again", TotalSpots: intp(30)})
	assert.True(t, apperr.Is(err, apperr.KindConflict))

	bad := []AddEvent{
		{EventID: 0, EventName: "x", TotalSpots: intp(1)},
		{EventID: 5, EventName: "   ", TotalSpots: intp(1)},
		{EventID: 5, EventName: string(bytes.Repeat([]byte("a"), 101)), TotalSpots: intp(1)},
		{EventID: 5, EventName: "x", TotalSpots: intp(1001)},
		{EventID: 5, EventName: "x"},
		{EventID: 5, EventName: "x", TotalSpots: intp(1), PaymentLink: "not a link"},
	}
	for i, a := range bad {
		_, err := f.gate.Execute(ctx, f.admin, a)
		assert.True(t, apperr.Is(err, apperr.KindValidation), "case %d", i)
	}
}

func TestGetRegistrations_Scenario(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	log := zerolog.Nop()
	lc := registration.New(f.store, nil, &log)

	created, err := lc.Create(ctx, registration.CreateRegistration{
		EventID: 1, FirstName: "Jane", LastName: "Doe", Email: "jane@x.com", Phone: "+27000000000",
	})
	require.NoError(t, err)
	_, err = lc.Confirm(ctx, registration.ConfirmPayment{
		RegistrationID: created.RegistrationID, ConfirmationToken: created.ConfirmationToken,
	})
	require.NoError(t, err)

	_, err = f.gate.Execute(ctx, f.staff, GetRegistrations{})
	assert.True(t, apperr.Is(err, apperr.KindForbidden))

	res, err := f.gate.Execute(ctx, f.admin, GetRegistrations{EventID: []byte(`"1"`)})
	require.NoError(t, err)
	rows := res.(*RegistrationsResult).Registrations
	require.Len(t, rows, 1)
	assert.Equal(t, int64(1), rows[0].EventID)
	assert.True(t, rows[0].PaymentConfirmed)
	assert.Equal(t, model.RegistrationConfirmed, rows[0].Status)
	assert.Equal(t, "self-reported", rows[0].PaymentVerification)
	assert.Empty(t, rows[0].TokenHash)

	res, err = f.gate.Execute(ctx, f.admin, GetRegistrations{EventID: []byte(`2`)})
	require.NoError(t, err)
	assert.Empty(t, res.(*RegistrationsResult).Registrations)

	_, err = f.gate.Execute(ctx, f.admin, GetRegistrations{EventID: []byte(`"nope"`)})
	assert.True(t, apperr.Is(err, apperr.KindValidation))
}

func TestParseEventFilter(t *testing.T) {
	for _, raw := range []string{"", "null", `"all"`, `"ALL"`, "all", `""`} {
		id, err := ParseEventFilter(raw)
		require.NoError(t, err, raw)
		assert.Nil(t, id, raw)
	}
	for _, raw := range []string{"3", `"3"`, " 3 "} {
		id, err := ParseEventFilter(raw)
		require.NoError(t, err, raw)
		require.NotNil(t, id)
		assert.Equal(t, int64(3), *id)
	}
	for _, raw := range []string{"-1", "0", `"x"`, "1.5"} {
		_, err := ParseEventFilter(raw)
		assert.Error(t, err, raw)
	}
}

func TestApproveTestimonial(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tm := &model.Testimonial{Name: "Ann", Quote: "Lovely", Rating: 5}
	require.NoError(t, f.store.CreateTestimonial(ctx, tm))

	res, err := f.gate.Execute(ctx, f.admin, ApproveTestimonial{TestimonialID: tm.ID})
	require.NoError(t, err)
	assert.True(t, res.(*TestimonialResult).Success)

	approved, err := f.store.ListApprovedTestimonials(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, approved, 1)

	_, err = f.gate.Execute(ctx, f.admin, ApproveTestimonial{TestimonialID: "6f1c1f0e-7d4a-4b8e-9f2a-0c3d5e7f9a1b"})
	assert.True(t, apperr.Is(err, apperr.KindNotFound))
}

func TestDecodeAction(t *testing.T) {
	a, err := DecodeAction([]byte(`{"action":"update_total_spots","eventId":1,"totalSpots":150}`))
	require.NoError(t, err)
	u, ok := a.(UpdateTotalSpots)
	require.True(t, ok)
	assert.Equal(t, 150, *u.TotalSpots)

	a, err = DecodeAction([]byte(`{"action":"get_registrations","eventId":"all"}`))
	require.NoError(t, err)
	assert.Equal(t, ActionGetRegistrations, a.Name())

	a, err = DecodeAction([]byte(`{"action":"get_event_settings"}`))
	require.NoError(t, err)
	assert.Equal(t, ActionGetEventSettings, a.Name())

	_, err = DecodeAction([]byte(`{"action":"update_total_spots","eventId":1,"totalSpots":"150"}`))
	assert.True(t, apperr.Is(err, apperr.KindValidation))

	_, err = DecodeAction([]byte(`{"action":"delete_everything"}`))
	assert.True(t, apperr.Is(err, apperr.KindValidation))
}

func TestWriteCSV(t *testing.T) {
	at := time.Date(2026, 2, 14, 10, 0, 0, 0, time.UTC)
	rows := []RegistrationRow{{
		Registration: model.Registration{
			FirstName: "=cmd", LastName: "Doe", Email: "jane@x.com", Phone: "+27000000000",
			EventID: 1, PaymentConfirmed: true, CreatedAt: at, ConfirmedAt: &at,
		},
		PaymentVerification: "self-reported",
	}}

	var buf bytes.Buffer
	require.NoError(t, WriteCSV(&buf, rows))

	records, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, csvHeader, records[0])
	assert.Equal(t, []string{
		"'=cmd", "Doe", "jane@x.com", "'+27000000000", "1", "Yes", "self-reported",
		"2026-02-14T10:00:00Z", "2026-02-14T10:00:00Z",
	}, records[1])
}
