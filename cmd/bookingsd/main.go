package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/evently/bookings-core/internal/booking"
	"github.com/evently/bookings-core/internal/eventbus"
	"github.com/evently/bookings-core/internal/ledger"
	"github.com/evently/bookings-core/internal/lock"
	"github.com/evently/bookings-core/internal/platform/clock"
	"github.com/evently/bookings-core/internal/platform/config"
	"github.com/evently/bookings-core/internal/platform/logger"
	"github.com/evently/bookings-core/internal/ratelimit"
	"github.com/evently/bookings-core/internal/security"
	"github.com/evently/bookings-core/internal/sweep"
	"github.com/evently/bookings-core/internal/transport/rest"
	"github.com/evently/bookings-core/internal/waitlist"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config load failed: %v\n", err)
		os.Exit(1)
	}

	if cfg.LogLevel != "" {
		_ = os.Setenv("LOG_LEVEL", cfg.LogLevel)
	}
	logger.Init()
	log := logger.Logger.With().
		Str("service", "bookings-core").
		Str("env", cfg.AppEnv).
		Logger()

	rootCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// ---- Postgres ----
	poolCfg, err := pgxpool.ParseConfig(cfg.DBDSN)
	if err != nil {
		log.Fatal().Err(err).Msg("postgres config parse failed")
	}
	poolCfg.MaxConns = cfg.DBMaxConns
	poolCfg.MinConns = cfg.DBMinConns
	poolCfg.ConnConfig.RuntimeParams["statement_timeout"] = strconv.FormatInt(cfg.StmtTimeout.Milliseconds(), 10)
	dbPool, err := pgxpool.NewWithConfig(rootCtx, poolCfg)
	if err != nil {
		log.Fatal().Err(err).Msg("postgres pool create failed")
	}
	defer dbPool.Close()
	{
		pingCtx, cancel := context.WithTimeout(rootCtx, 5*time.Second)
		if err := dbPool.Ping(pingCtx); err != nil {
			cancel()
			log.Fatal().Err(err).Msg("postgres ping failed")
		}
		cancel()
		log.Info().Msg("postgres connected")
	}

	// ---- Redis ----
	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPass,
		DB:       cfg.RedisDB,
	})
	{
		pingCtx, cancel := context.WithTimeout(rootCtx, 2*time.Second)
		if err := redisClient.Ping(pingCtx).Err(); err != nil {
			log.Warn().Err(err).Msg("redis ping failed (continuing)")
		} else {
			log.Info().Msg("redis connected")
		}
		cancel()
	}

	realClock := clock.Real{}
	locker := lock.NewRedisLocker(redisClient)
	availabilityCache := ledger.NewCache(redisClient, cfg.AvailabilityCacheTTL)
	capacityLedger := ledger.NewPostgres(dbPool, availabilityCache)

	bookingRepo := booking.NewPostgres(dbPool)
	waitlistRepo := waitlist.NewPostgres(dbPool)

	waitlistSvc := waitlist.NewService(waitlistRepo, capacityLedger, locker, realClock,
		cfg.NotificationWindow, cfg.LockHoldTTL, cfg.LockWaitBudget)
	bookingSvc := booking.NewService(bookingRepo, capacityLedger, locker, waitlistSvc, realClock,
		cfg.HoldDuration, cfg.LockHoldTTL, cfg.LockWaitBudget, cfg.DefaultCurrency)

	verifier := security.NewHS256Verifier(cfg.JWTSecret)
	rl := ratelimit.New(redisClient)

	httpHandler := rest.NewRouter(rest.RouterDeps{
		Booking:      rest.NewBookingHandler(bookingSvc),
		Waitlist:     rest.NewWaitlistHandler(waitlistSvc),
		Availability: rest.NewAvailabilityHandler(capacityLedger),
		Admin:        rest.NewAdminBookingHandler(bookingSvc),
		Verifier:     verifier,
		JWTIssuer:    cfg.JWTIssuer,
		RateLimiter:  rl,
		RLLimit:      cfg.RLLimit,
		RLWindow:     cfg.RLWindow,
		DB:           dbPool,
		Cache:        rl,
	})

	// ---- Inbound catalog snapshot subscriber (EventCreated/Updated/Deleted) ----
	subscriber := eventbus.NewSubscriber(cfg.RabbitURL, cfg.RabbitExchange, dbPool, capacityLedger)
	if err := subscriber.Start(rootCtx); err != nil {
		log.Error().Err(err).Msg("event subscriber failed to start (continuing without it)")
	}

	// ---- Outbound outbox worker (BookingCreated/Confirmed/Cancelled/Expired, WaitlistJoined/Cancelled, email jobs) ----
	if cfg.OutboxEnabled {
		outboxWorker := eventbus.NewOutboxWorker(dbPool, cfg.RabbitURL, cfg.RabbitExchange)
		outboxWorker.Start(rootCtx)
		log.Info().Msg("outbox worker started")
	}

	// ---- Sweepers ----
	sweep.StartExpirePending(rootCtx, bookingSvc, cfg.ExpirePendingInterval)
	sweep.StartExpireNotified(rootCtx, waitlistSvc, cfg.ExpireNotifiedInterval)

	// ---- HTTP server ----
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           httpHandler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      20 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Int("port", cfg.Port).Msg("http server starting")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-rootCtx.Done():
		log.Info().Msg("shutdown signal received")
	case err := <-errCh:
		log.Error().Err(err).Msg("http server crashed")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 8*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
	log.Info().Msg("shutdown complete")
}
