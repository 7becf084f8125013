package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/wb-go/wbf/config"
	"github.com/wb-go/wbf/zlog"

	"herfrequency/cmd/buildCFG"
	"herfrequency/internal/api/api"
	"herfrequency/internal/auth"
	rabbitReader "herfrequency/internal/consumerWorker"
	"herfrequency/internal/gate"
	"herfrequency/internal/ledger"
	"herfrequency/internal/mailer"
	"herfrequency/internal/rabbit"
	"herfrequency/internal/ratelimit"
	"herfrequency/internal/registration"
	"herfrequency/internal/service"
	"herfrequency/internal/testimonial"
)

func main() {
	zlog.Init()
	log := zlog.Logger

	cfg := config.New()
	if err := cfg.Load("config.yaml", "", "HF"); err != nil {
		log.Fatal().Msgf("failed to load configuration: %v", err)
	}
	serverCfg := buildCFG.BuildServerConfig(cfg, &log)

	storageCfg, err := buildCFG.BuildStorageConfig(cfg, &log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to build storage config")
	}
	repository, closeDB, err := buildCFG.BuildRepository(cfg, storageCfg, &log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize repository")
	}
	defer closeDB()

	authCfg, err := buildCFG.BuildAuthConfig(cfg, &log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to build auth config")
	}
	verifier, err := auth.NewJWTVerifier(authCfg.JWTSecret, authCfg.Issuer, authCfg.TokenTTL)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to build token verifier")
	}

	workerCtx, cancelWorkers := context.WithCancel(context.Background())
	defer cancelWorkers()

	// The broker is optional: without it registrations still work, only the
	// emails are skipped.
	var publisher registration.Publisher
	var reader *rabbitReader.Reader
	rabbitCfg, err := buildCFG.BuildRabbitConfig(cfg, &log)
	if err != nil {
		log.Warn().Err(err).Msg("notifications disabled")
	} else if rmq, err := rabbit.NewRabbit(rabbitCfg.Url, rabbitCfg.Exchange, rabbitCfg.Queue, &log); err != nil {
		log.Warn().Err(err).Msg("RabbitMQ unavailable, notifications disabled")
	} else {
		defer rmq.Close()
		publisher = rmq
		reader = rabbitReader.NewReader(rmq, mailer.New(buildCFG.BuildMailConfig(cfg, &log), &log), &log)
		reader.Start(workerCtx)
	}

	var rdb redis.Cmdable
	redisCfg := buildCFG.BuildRedisConfig(cfg, &log)
	if redisCfg.Addr == "" {
		log.Warn().Msg("redis.addr is empty, rate limiting disabled")
	} else {
		client := redis.NewClient(&redis.Options{Addr: redisCfg.Addr, Password: redisCfg.Password, DB: redisCfg.DB})
		defer client.Close()
		pingCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		if err := client.Ping(pingCtx).Err(); err != nil {
			log.Warn().Err(err).Msg("redis unreachable at startup, rate limiter will fail open until it recovers")
		}
		cancel()
		rdb = client
	}
	limits := buildCFG.BuildLimitsConfig(cfg, &log)
	limiter := ratelimit.New(rdb, &log)

	capacity := ledger.New(repository, &log, buildCFG.BuildFallbackTotal(cfg))
	serviceInstance := service.NewService(service.Deps{
		Lifecycle:        registration.New(repository, publisher, &log),
		Gate:             gate.New(verifier, repository, repository, capacity, &log),
		Ledger:           capacity,
		Testimonials:     testimonial.New(repository, &log),
		Accounts:         auth.NewPasswordSignIn(repository, verifier, &log),
		Limiter:          limiter,
		RegistrationRule: limits.Registration,
	}, &log)

	app := api.NewRouters(&api.Routers{
		Service:         serviceInstance,
		Limiter:         limiter,
		TestimonialRule: limits.Testimonial,
		AllowedOrigins:  serverCfg.AllowedOrigins,
		GinMode:         serverCfg.GinMode,
		Log:             &log,
	})

	srv := &http.Server{
		Addr:              ":" + serverCfg.Port,
		Handler:           app,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
	}

	serverErrChan := make(chan error, 1)
	go func() {
		log.Info().Msgf("Starting server on %s", serverCfg.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErrChan <- fmt.Errorf("failed to start server: %w", err)
		}
	}()

	signalChan := make(chan os.Signal, 1)
	signal.Notify(signalChan, os.Interrupt, syscall.SIGTERM)

	select {
	case sig := <-signalChan:
		log.Info().Msgf("Received signal %s. Initiating shutdown...", sig)
	case err := <-serverErrChan:
		log.Error().Msgf("Server error: %v", err)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Msgf("Error shutting down server: %v", err)
	}

	cancelWorkers()
	if reader != nil {
		reader.Stop()
	}

	if serverCfg.RollbackOnShutdown {
		log.Info().Msg("Rolling back migrations...")
		if err := repository.MigrateDown(storageCfg.MigrationsDir); err != nil {
			log.Error().Msgf("failed to rollback migrations: %v", err)
		} else {
			log.Info().Msg("Migrations rolled back successfully")
		}
	}
	log.Info().Msg("Shutdown complete")
}
