package buildCFG

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/wb-go/wbf/config"
	"github.com/wb-go/wbf/dbpg"

	"herfrequency/internal/mailer"
	"herfrequency/internal/ratelimit"
	"herfrequency/internal/repo"
)

type ServerConfig struct {
	Port           string
	GinMode        string
	AllowedOrigins []string
	// RollbackOnShutdown runs the down migrations when the process stops.
	// Development only.
	RollbackOnShutdown bool
}

type StorageConfig struct {
	Driver        string
	QueryTimeout  time.Duration
	MigrationsDir string
}

type RabbitConfig struct {
	Url      string
	Exchange string
	Queue    string
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type AuthConfig struct {
	JWTSecret string
	Issuer    string
	TokenTTL  time.Duration
}

type LimitsConfig struct {
	Registration ratelimit.Rule
	Testimonial  ratelimit.Rule
}

const (
	DriverPostgres = "postgres"
	DriverMemory   = "memory"
)

func stringOr(cfg *config.Config, key, def string) string {
	if v := strings.TrimSpace(cfg.GetString(key)); v != "" {
		return v
	}
	return def
}

func intOr(cfg *config.Config, key string, def int) int {
	if v := cfg.GetInt(key); v != 0 {
		return v
	}
	return def
}

func durationOr(cfg *config.Config, key string, def time.Duration, log *zerolog.Logger) time.Duration {
	raw := strings.TrimSpace(cfg.GetString(key))
	if raw == "" {
		return def
	}
	d, err := time.ParseDuration(raw)
	if err != nil || d <= 0 {
		log.Warn().Str("key", key).Str("value", raw).Msg("invalid duration, using default")
		return def
	}
	return d
}

// SplitList parses a comma separated config value.
func SplitList(raw string) []string {
	var out []string
	for _, p := range strings.Split(raw, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func BuildServerConfig(cfg *config.Config, log *zerolog.Logger) ServerConfig {
	sc := ServerConfig{
		Port:               stringOr(cfg, "server.port", "8080"),
		GinMode:            stringOr(cfg, "server.gin_mode", "release"),
		AllowedOrigins:     SplitList(cfg.GetString("server.allowed_origins")),
		RollbackOnShutdown: strings.EqualFold(cfg.GetString("server.rollback_on_shutdown"), "true"),
	}
	if len(sc.AllowedOrigins) == 0 {
		log.Warn().Msg("server.allowed_origins is empty, browser requests with an Origin header will be rejected")
	}
	return sc
}

func BuildStorageConfig(cfg *config.Config, log *zerolog.Logger) (StorageConfig, error) {
	sc := StorageConfig{
		Driver:        strings.ToLower(stringOr(cfg, "storage.driver", DriverPostgres)),
		QueryTimeout:  durationOr(cfg, "postgres.query_timeout", 5*time.Second, log),
		MigrationsDir: stringOr(cfg, "postgres.migrations_dir", "migrations/postgres"),
	}
	if sc.Driver != DriverPostgres && sc.Driver != DriverMemory {
		return sc, fmt.Errorf("unknown storage.driver %q", sc.Driver)
	}
	return sc, nil
}

func BuildDBConfig(cfg *config.Config, log *zerolog.Logger) (string, []string, *dbpg.Options, error) {
	master := strings.TrimSpace(cfg.GetString("postgres.master_dsn"))
	if master == "" {
		return "", nil, nil, errors.New("postgres.master_dsn is required")
	}
	opts := &dbpg.Options{
		MaxOpenConns:    intOr(cfg, "postgres.max_open_conns", 20),
		MaxIdleConns:    intOr(cfg, "postgres.max_idle_conns", 5),
		ConnMaxLifetime: durationOr(cfg, "postgres.conn_max_lifetime", 30*time.Minute, log),
	}
	return master, SplitList(cfg.GetString("postgres.slave_dsns")), opts, nil
}

func BuildRabbitConfig(cfg *config.Config, log *zerolog.Logger) (RabbitConfig, error) {
	rc := RabbitConfig{
		Url:      strings.TrimSpace(cfg.GetString("rabbitmq.url")),
		Exchange: stringOr(cfg, "rabbitmq.exchange", "registrations"),
		Queue:    stringOr(cfg, "rabbitmq.queue", "registration-notifications"),
	}
	if rc.Url == "" {
		return rc, errors.New("rabbitmq.url is not set")
	}
	return rc, nil
}

func BuildRedisConfig(cfg *config.Config, log *zerolog.Logger) RedisConfig {
	return RedisConfig{
		Addr:     strings.TrimSpace(cfg.GetString("redis.addr")),
		Password: cfg.GetString("redis.password"),
		DB:       cfg.GetInt("redis.db"),
	}
}

func BuildAuthConfig(cfg *config.Config, log *zerolog.Logger) (AuthConfig, error) {
	ac := AuthConfig{
		JWTSecret: cfg.GetString("auth.jwt_secret"),
		Issuer:    stringOr(cfg, "auth.issuer", "herfrequency"),
		TokenTTL:  durationOr(cfg, "auth.token_ttl", 8*time.Hour, log),
	}
	if len(ac.JWTSecret) < 16 {
		return ac, errors.New("auth.jwt_secret must be at least 16 characters")
	}
	return ac, nil
}

func BuildMailConfig(cfg *config.Config, log *zerolog.Logger) mailer.Config {
	return mailer.Config{
		Host:      strings.TrimSpace(cfg.GetString("mail.smtp_host")),
		Port:      intOr(cfg, "mail.smtp_port", 587),
		Username:  cfg.GetString("mail.username"),
		Password:  cfg.GetString("mail.password"),
		From:      stringOr(cfg, "mail.from", "hello@herfrequency.co.za"),
		Organizer: strings.TrimSpace(cfg.GetString("mail.organizer")),
	}
}

func BuildLimitsConfig(cfg *config.Config, log *zerolog.Logger) LimitsConfig {
	return LimitsConfig{
		Registration: ratelimit.Rule{Name: "registration", Limit: intOr(cfg, "ratelimit.registration_per_hour", 10), Window: time.Hour},
		Testimonial:  ratelimit.Rule{Name: "testimonial", Limit: intOr(cfg, "ratelimit.testimonial_per_hour", 3), Window: time.Hour},
	}
}

func BuildFallbackTotal(cfg *config.Config) int {
	return intOr(cfg, "ledger.fallback_total_spots", 50)
}

// BuildRepository opens the configured store and applies migrations. The
// returned close func releases the database pool.
func BuildRepository(cfg *config.Config, sc StorageConfig, log *zerolog.Logger) (repo.Repository, func(), error) {
	if sc.Driver == DriverMemory {
		log.Warn().Msg("using in-memory storage, data is lost on restart")
		return repo.NewMemory(repo.DefaultEventSettings...), func() {}, nil
	}

	masterDSN, slaveDSNs, poolOptions, err := BuildDBConfig(cfg, log)
	if err != nil {
		return nil, nil, err
	}
	db, err := dbpg.New(masterDSN, slaveDSNs, poolOptions)
	if err != nil {
		return nil, nil, fmt.Errorf("connect to DB: %w", err)
	}
	closeDB := func() { _ = db.Master.Close() }
	if err := db.Master.Ping(); err != nil {
		closeDB()
		return nil, nil, fmt.Errorf("DB ping: %w", err)
	}
	log.Info().Msg("Database connected successfully")

	repository, err := repo.NewRepository(db, log, sc.QueryTimeout)
	if err != nil {
		closeDB()
		return nil, nil, err
	}
	if err := repository.MigrateUp(sc.MigrationsDir); err != nil {
		closeDB()
		return nil, nil, fmt.Errorf("migrate: %w", err)
	}
	log.Info().Msg("Migrations applied successfully")
	return repository, closeDB, nil
}
