package repo

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"herfrequency/internal/model"
)

// Memory is a process-local Repository. It backs the "memory" storage driver
// and the package tests.
type Memory struct {
	mu            sync.Mutex
	now           func() time.Time
	events        map[int64]model.EventSetting
	registrations map[string]model.Registration
	testimonials  map[string]model.Testimonial
	users         map[string]model.User
	roles         map[string]map[model.Role]struct{}
}

func NewMemory(seed ...model.EventSetting) *Memory {
	m := &Memory{
		now:           time.Now,
		events:        make(map[int64]model.EventSetting),
		registrations: make(map[string]model.Registration),
		testimonials:  make(map[string]model.Testimonial),
		users:         make(map[string]model.User),
		roles:         make(map[string]map[model.Role]struct{}),
	}
	for _, s := range seed {
		ts := m.now()
		s.CreatedAt, s.UpdatedAt = ts, ts
		m.events[s.EventID] = s
	}
	return m
}

func (m *Memory) MigrateUp(string) error   { return nil }
func (m *Memory) MigrateDown(string) error { return nil }

func (m *Memory) GetEventSetting(_ context.Context, eventID int64) (*model.EventSetting, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.events[eventID]
	if !ok {
		return nil, ErrEventNotFound
	}
	return copySetting(s), nil
}

func (m *Memory) ListEventSettings(context.Context) ([]model.EventSetting, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]model.EventSetting, 0, len(m.events))
	for _, s := range m.events {
		out = append(out, *copySetting(s))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].EventID < out[j].EventID })
	return out, nil
}

func (m *Memory) CountConfirmed(_ context.Context, eventID int64) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := 0
	for _, r := range m.registrations {
		if r.EventID == eventID && r.PaymentConfirmed {
			n++
		}
	}
	return n, nil
}

func (m *Memory) CreateRegistration(_ context.Context, reg *model.Registration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.events[reg.EventID]; !ok {
		return ErrEventNotFound
	}
	if reg.ID == "" {
		reg.ID = uuid.NewString()
	}
	reg.PaymentConfirmed = false
	reg.ConfirmedAt = nil
	reg.CreatedAt = m.now()
	m.registrations[reg.ID] = *reg
	return nil
}

func (m *Memory) GetRegistration(_ context.Context, id string) (*model.Registration, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.registrations[id]
	if !ok {
		return nil, ErrRegistrationNotFound
	}
	return copyRegistration(r), nil
}

func (m *Memory) ConfirmRegistration(_ context.Context, id, tokenHash string, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.registrations[id]
	if !ok || r.TokenHash != tokenHash || r.PaymentConfirmed {
		return false, nil
	}
	r.PaymentConfirmed = true
	r.ConfirmedAt = &at
	m.registrations[id] = r
	return true, nil
}

func (m *Memory) ListRegistrations(_ context.Context, eventID *int64) ([]model.Registration, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]model.Registration, 0)
	for _, r := range m.registrations {
		if eventID != nil && r.EventID != *eventID {
			continue
		}
		c := copyRegistration(r)
		c.TokenHash = ""
		out = append(out, *c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (m *Memory) UpdateTotalSpots(_ context.Context, eventID int64, totalSpots int) (*model.EventSetting, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.events[eventID]
	if !ok {
		return nil, ErrEventNotFound
	}
	s.TotalSpots = totalSpots
	s.UpdatedAt = m.now()
	m.events[eventID] = s
	return copySetting(s), nil
}

func (m *Memory) UpdateReservedSpots(_ context.Context, eventID int64, reserved *int) (*model.EventSetting, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.events[eventID]
	if !ok {
		return nil, ErrEventNotFound
	}
	if reserved != nil {
		v := *reserved
		s.ReservedSpots = &v
	} else {
		s.ReservedSpots = nil
	}
	s.UpdatedAt = m.now()
	m.events[eventID] = s
	return copySetting(s), nil
}

func (m *Memory) AddEventSetting(_ context.Context, s *model.EventSetting) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.events[s.EventID]; ok {
		return ErrEventExists
	}
	ts := m.now()
	s.CreatedAt, s.UpdatedAt = ts, ts
	m.events[s.EventID] = *copySetting(*s)
	return nil
}

func (m *Memory) CreateTestimonial(_ context.Context, t *model.Testimonial) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	t.Approved = false
	t.CreatedAt = m.now()
	m.testimonials[t.ID] = *t
	return nil
}

func (m *Memory) ListApprovedTestimonials(_ context.Context, limit int) ([]model.Testimonial, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]model.Testimonial, 0)
	for _, t := range m.testimonials {
		if t.Approved {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *Memory) ApproveTestimonial(_ context.Context, id string) (*model.Testimonial, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	t, ok := m.testimonials[id]
	if !ok {
		return nil, ErrTestimonialNotFound
	}
	t.Approved = true
	m.testimonials[id] = t
	return &t, nil
}

func (m *Memory) HasRole(_ context.Context, userID string, role model.Role) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	_, ok := m.roles[userID][role]
	return ok, nil
}

func (m *Memory) GetUserByEmail(_ context.Context, email string) (*model.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	email = strings.ToLower(strings.TrimSpace(email))
	for _, u := range m.users {
		if u.Email == email {
			c := u
			return &c, nil
		}
	}
	return nil, ErrUserNotFound
}

func (m *Memory) CreateUser(_ context.Context, u *model.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	u.Email = strings.ToLower(strings.TrimSpace(u.Email))
	for _, existing := range m.users {
		if existing.Email == u.Email {
			return ErrUserExists
		}
	}
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	u.CreatedAt = m.now()
	m.users[u.ID] = *u
	return nil
}

func (m *Memory) GrantRole(_ context.Context, userID string, role model.Role) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.users[userID]; !ok {
		return ErrUserNotFound
	}
	if m.roles[userID] == nil {
		m.roles[userID] = make(map[model.Role]struct{})
	}
	m.roles[userID][role] = struct{}{}
	return nil
}

func copySetting(s model.EventSetting) *model.EventSetting {
	if s.ReservedSpots != nil {
		v := *s.ReservedSpots
		s.ReservedSpots = &v
	}
	return &s
}

func copyRegistration(r model.Registration) *model.Registration {
	if r.ConfirmedAt != nil {
		t := *r.ConfirmedAt
		r.ConfirmedAt = &t
	}
	return &r
}
