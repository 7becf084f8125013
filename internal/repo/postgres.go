package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/rs/zerolog"
	"github.com/wb-go/wbf/dbpg"

	"herfrequency/internal/model"
)

const (
	pqUniqueViolation     = "23505"
	pqForeignKeyViolation = "23503"
)

type repository struct {
	db      *dbpg.DB
	log     *zerolog.Logger
	timeout time.Duration
}

func NewRepository(db *dbpg.DB, log *zerolog.Logger, queryTimeout time.Duration) (Repository, error) {
	if db == nil {
		return nil, fmt.Errorf("db cannot be nil")
	}
	if err := db.Master.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping DB: %w", err)
	}
	if queryTimeout <= 0 {
		queryTimeout = 5 * time.Second
	}
	return &repository{db: db, log: log, timeout: queryTimeout}, nil
}

func (r *repository) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, r.timeout)
}

// wrap annotates err with op. A call cut short by its deadline always wraps
// context.DeadlineExceeded, whatever the driver reported.
func wrap(ctx context.Context, op string, err error) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%s: %w", op, context.DeadlineExceeded)
	}
	return fmt.Errorf("%s: %w", op, err)
}

func pqCode(err error) string {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return string(pqErr.Code)
	}
	return ""
}

func (r *repository) MigrateUp(migrationsDir string) error {
	files, err := filepath.Glob(filepath.Join(migrationsDir, "*.up.sql"))
	if err != nil {
		return fmt.Errorf("failed to read migration files: %w", err)
	}
	sort.Strings(files)

	for _, file := range files {
		sqlBytes, err := os.ReadFile(file)
		if err != nil {
			return fmt.Errorf("failed to read migration file %s: %w", file, err)
		}
		if _, err := r.db.Master.ExecContext(context.Background(), string(sqlBytes)); err != nil {
			return fmt.Errorf("failed to apply migration %s: %w", file, err)
		}
	}

	r.log.Info().Msgf("Migrations applied successfully from %s", migrationsDir)
	return nil
}

func (r *repository) MigrateDown(migrationsDir string) error {
	files, err := filepath.Glob(filepath.Join(migrationsDir, "*.down.sql"))
	if err != nil {
		return fmt.Errorf("failed to read rollback files: %w", err)
	}
	sort.Sort(sort.Reverse(sort.StringSlice(files)))

	for _, file := range files {
		sqlBytes, err := os.ReadFile(file)
		if err != nil {
			return fmt.Errorf("failed to read rollback file %s: %w", file, err)
		}
		if _, err := r.db.Master.ExecContext(context.Background(), string(sqlBytes)); err != nil {
			return fmt.Errorf("failed to rollback migration %s: %w", file, err)
		}
	}

	r.log.Info().Msgf("Migrations rolled back successfully from %s", migrationsDir)
	return nil
}

const eventSettingColumns = `event_id, event_name, total_spots, reserved_spots, payment_link, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEventSetting(row rowScanner) (*model.EventSetting, error) {
	var (
		s        model.EventSetting
		reserved sql.NullInt64
	)
	if err := row.Scan(&s.EventID, &s.EventName, &s.TotalSpots, &reserved, &s.PaymentLink, &s.CreatedAt, &s.UpdatedAt); err != nil {
		return nil, err
	}
	if reserved.Valid {
		v := int(reserved.Int64)
		s.ReservedSpots = &v
	}
	return &s, nil
}

func (r *repository) GetEventSetting(ctx context.Context, eventID int64) (*model.EventSetting, error) {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	row := r.db.QueryRowContext(ctx, `SELECT `+eventSettingColumns+` FROM event_settings WHERE event_id = $1`, eventID)
	s, err := scanEventSetting(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrEventNotFound
	}
	if err != nil {
		return nil, wrap(ctx, "get event setting", err)
	}
	return s, nil
}

func (r *repository) ListEventSettings(ctx context.Context) ([]model.EventSetting, error) {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	rows, err := r.db.QueryContext(ctx, `SELECT `+eventSettingColumns+` FROM event_settings ORDER BY event_id ASC`)
	if err != nil {
		return nil, wrap(ctx, "list event settings", err)
	}
	defer rows.Close()

	settings := make([]model.EventSetting, 0)
	for rows.Next() {
		s, err := scanEventSetting(rows)
		if err != nil {
			return nil, wrap(ctx, "scan event setting", err)
		}
		settings = append(settings, *s)
	}
	if err := rows.Err(); err != nil {
		return nil, wrap(ctx, "list event settings", err)
	}
	return settings, nil
}

func (r *repository) CountConfirmed(ctx context.Context, eventID int64) (int, error) {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	var count int
	err := r.db.QueryRowContext(ctx, `
		SELECT COUNT(*)
		FROM registrations
		WHERE event_id = $1 AND payment_confirmed = TRUE
	`, eventID).Scan(&count)
	if err != nil {
		return 0, wrap(ctx, "count confirmed registrations", err)
	}
	return count, nil
}

func (r *repository) CreateRegistration(ctx context.Context, reg *model.Registration) error {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	if reg.ID == "" {
		reg.ID = uuid.NewString()
	}
	err := r.db.Master.QueryRowContext(ctx, `
		INSERT INTO registrations (id, event_id, first_name, last_name, email, phone, payment_confirmed, confirmation_token_hash)
		VALUES ($1, $2, $3, $4, $5, $6, FALSE, $7)
		RETURNING created_at
	`, reg.ID, reg.EventID, reg.FirstName, reg.LastName, reg.Email, reg.Phone, reg.TokenHash).Scan(&reg.CreatedAt)
	if pqCode(err) == pqForeignKeyViolation {
		return ErrEventNotFound
	}
	if err != nil {
		return wrap(ctx, "create registration", err)
	}
	reg.PaymentConfirmed = false
	return nil
}

func (r *repository) GetRegistration(ctx context.Context, id string) (*model.Registration, error) {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	var (
		reg         model.Registration
		confirmedAt sql.NullTime
	)
	err := r.db.Master.QueryRowContext(ctx, `
		SELECT id, event_id, first_name, last_name, email, phone, payment_confirmed,
		       confirmation_token_hash, created_at, confirmed_at
		FROM registrations
		WHERE id = $1
	`, id).Scan(
		&reg.ID, &reg.EventID, &reg.FirstName, &reg.LastName, &reg.Email, &reg.Phone,
		&reg.PaymentConfirmed, &reg.TokenHash, &reg.CreatedAt, &confirmedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrRegistrationNotFound
	}
	if err != nil {
		return nil, wrap(ctx, "get registration", err)
	}
	if confirmedAt.Valid {
		reg.ConfirmedAt = &confirmedAt.Time
	}
	return &reg, nil
}

func (r *repository) ConfirmRegistration(ctx context.Context, id, tokenHash string, at time.Time) (bool, error) {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	res, err := r.db.Master.ExecContext(ctx, `
		UPDATE registrations
		SET payment_confirmed = TRUE, confirmed_at = $3
		WHERE id = $1 AND confirmation_token_hash = $2 AND payment_confirmed = FALSE
	`, id, tokenHash, at)
	if err != nil {
		return false, wrap(ctx, "confirm registration", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, wrap(ctx, "confirm registration", err)
	}
	return n == 1, nil
}

func (r *repository) ListRegistrations(ctx context.Context, eventID *int64) ([]model.Registration, error) {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	query := `
		SELECT id, event_id, first_name, last_name, email, phone, payment_confirmed, created_at, confirmed_at
		FROM registrations
	`
	args := []any{}
	if eventID != nil {
		query += ` WHERE event_id = $1`
		args = append(args, *eventID)
	}
	query += ` ORDER BY created_at DESC`

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, wrap(ctx, "list registrations", err)
	}
	defer rows.Close()

	regs := make([]model.Registration, 0)
	for rows.Next() {
		var (
			reg         model.Registration
			confirmedAt sql.NullTime
		)
		if err := rows.Scan(
			&reg.ID, &reg.EventID, &reg.FirstName, &reg.LastName, &reg.Email, &reg.Phone,
			&reg.PaymentConfirmed, &reg.CreatedAt, &confirmedAt,
		); err != nil {
			return nil, wrap(ctx, "scan registration", err)
		}
		if confirmedAt.Valid {
			reg.ConfirmedAt = &confirmedAt.Time
		}
		regs = append(regs, reg)
	}
	if err := rows.Err(); err != nil {
		return nil, wrap(ctx, "list registrations", err)
	}
	return regs, nil
}

func (r *repository) UpdateTotalSpots(ctx context.Context, eventID int64, totalSpots int) (*model.EventSetting, error) {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	row := r.db.Master.QueryRowContext(ctx, `
		UPDATE event_settings
		SET total_spots = $2, updated_at = NOW()
		WHERE event_id = $1
		RETURNING `+eventSettingColumns, eventID, totalSpots)
	s, err := scanEventSetting(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrEventNotFound
	}
	if err != nil {
		return nil, wrap(ctx, "update total spots", err)
	}
	return s, nil
}

func (r *repository) UpdateReservedSpots(ctx context.Context, eventID int64, reserved *int) (*model.EventSetting, error) {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	var value sql.NullInt64
	if reserved != nil {
		value = sql.NullInt64{Int64: int64(*reserved), Valid: true}
	}
	row := r.db.Master.QueryRowContext(ctx, `
		UPDATE event_settings
		SET reserved_spots = $2, updated_at = NOW()
		WHERE event_id = $1
		RETURNING `+eventSettingColumns, eventID, value)
	s, err := scanEventSetting(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrEventNotFound
	}
	if err != nil {
		return nil, wrap(ctx, "update reserved spots", err)
	}
	return s, nil
}

func (r *repository) AddEventSetting(ctx context.Context, s *model.EventSetting) error {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	err := r.db.Master.QueryRowContext(ctx, `
		INSERT INTO event_settings (event_id, event_name, total_spots, payment_link)
		VALUES ($1, $2, $3, $4)
		RETURNING created_at, updated_at
	`, s.EventID, s.EventName, s.TotalSpots, s.PaymentLink).Scan(&s.CreatedAt, &s.UpdatedAt)
	if pqCode(err) == pqUniqueViolation {
		return ErrEventExists
	}
	if err != nil {
		return wrap(ctx, "add event setting", err)
	}
	return nil
}

func (r *repository) CreateTestimonial(ctx context.Context, t *model.Testimonial) error {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	err := r.db.Master.QueryRowContext(ctx, `
		INSERT INTO testimonials (id, name, role, location, quote, rating, approved)
		VALUES ($1, $2, $3, $4, $5, $6, FALSE)
		RETURNING created_at
	`, t.ID, t.Name, t.Role, t.Location, t.Quote, t.Rating).Scan(&t.CreatedAt)
	if err != nil {
		return wrap(ctx, "create testimonial", err)
	}
	t.Approved = false
	return nil
}

const testimonialColumns = `id, name, role, location, quote, rating, approved, created_at`

func scanTestimonial(row rowScanner) (*model.Testimonial, error) {
	var (
		t              model.Testimonial
		role, location sql.NullString
	)
	if err := row.Scan(&t.ID, &t.Name, &role, &location, &t.Quote, &t.Rating, &t.Approved, &t.CreatedAt); err != nil {
		return nil, err
	}
	if role.Valid {
		t.Role = &role.String
	}
	if location.Valid {
		t.Location = &location.String
	}
	return &t, nil
}

func (r *repository) ListApprovedTestimonials(ctx context.Context, limit int) ([]model.Testimonial, error) {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	rows, err := r.db.QueryContext(ctx, `
		SELECT `+testimonialColumns+`
		FROM testimonials
		WHERE approved = TRUE
		ORDER BY created_at DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, wrap(ctx, "list testimonials", err)
	}
	defer rows.Close()

	out := make([]model.Testimonial, 0)
	for rows.Next() {
		t, err := scanTestimonial(rows)
		if err != nil {
			return nil, wrap(ctx, "scan testimonial", err)
		}
		out = append(out, *t)
	}
	if err := rows.Err(); err != nil {
		return nil, wrap(ctx, "list testimonials", err)
	}
	return out, nil
}

func (r *repository) ApproveTestimonial(ctx context.Context, id string) (*model.Testimonial, error) {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	row := r.db.Master.QueryRowContext(ctx, `
		UPDATE testimonials SET approved = TRUE
		WHERE id = $1
		RETURNING `+testimonialColumns, id)
	t, err := scanTestimonial(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrTestimonialNotFound
	}
	if err != nil {
		return nil, wrap(ctx, "approve testimonial", err)
	}
	return t, nil
}

func (r *repository) HasRole(ctx context.Context, userID string, role model.Role) (bool, error) {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	var exists bool
	err := r.db.Master.QueryRowContext(ctx, `
		SELECT EXISTS (SELECT 1 FROM user_roles WHERE user_id = $1 AND role = $2)
	`, userID, string(role)).Scan(&exists)
	if err != nil {
		return false, wrap(ctx, "check role", err)
	}
	return exists, nil
}

func (r *repository) GetUserByEmail(ctx context.Context, email string) (*model.User, error) {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	var u model.User
	err := r.db.QueryRowContext(ctx, `
		SELECT id, email, password_hash, created_at FROM users WHERE email = $1
	`, strings.ToLower(strings.TrimSpace(email))).Scan(&u.ID, &u.Email, &u.PasswordHash, &u.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, wrap(ctx, "get user", err)
	}
	return &u, nil
}

func (r *repository) CreateUser(ctx context.Context, u *model.User) error {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	u.Email = strings.ToLower(strings.TrimSpace(u.Email))
	err := r.db.Master.QueryRowContext(ctx, `
		INSERT INTO users (id, email, password_hash) VALUES ($1, $2, $3)
		RETURNING created_at
	`, u.ID, u.Email, u.PasswordHash).Scan(&u.CreatedAt)
	if pqCode(err) == pqUniqueViolation {
		return ErrUserExists
	}
	if err != nil {
		return wrap(ctx, "create user", err)
	}
	return nil
}

func (r *repository) GrantRole(ctx context.Context, userID string, role model.Role) error {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	_, err := r.db.Master.ExecContext(ctx, `
		INSERT INTO user_roles (user_id, role) VALUES ($1, $2)
		ON CONFLICT (user_id, role) DO NOTHING
	`, userID, string(role))
	if pqCode(err) == pqForeignKeyViolation {
		return ErrUserNotFound
	}
	if err != nil {
		return wrap(ctx, "grant role", err)
	}
	return nil
}
