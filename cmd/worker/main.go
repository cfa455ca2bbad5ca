// Package main is the entry point for the ClassHub sessions worker.
//
// The worker owns the session lifecycle for every education center:
// - expands weekly schedules into calendar views on demand
// - materializes virtual slots the moment someone touches them
// - runs the periodic settlement sweep that marks untouched slots missed
//
// The architecture follows Clean Architecture and DDD:
// - Domain: pure scheduling and lifecycle logic, no external dependencies
// - Application: use-case orchestration (Commands/Queries/Event handlers)
// - Infrastructure: PostgreSQL and Redis adapters, event bus, scheduler
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/classhub/classhub-sessions/config"
	"github.com/classhub/classhub-sessions/internal/application/command"
	"github.com/classhub/classhub-sessions/internal/application/eventhandler"
	"github.com/classhub/classhub-sessions/internal/application/query"
	"github.com/classhub/classhub-sessions/internal/infrastructure/messaging"
	"github.com/classhub/classhub-sessions/internal/infrastructure/persistence/postgres"
	"github.com/classhub/classhub-sessions/internal/infrastructure/persistence/redis"
	"github.com/classhub/classhub-sessions/internal/infrastructure/scheduler"
	"github.com/classhub/classhub-sessions/internal/infrastructure/scheduler/jobs"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "fatal error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	// ─────────────────────────────────────────────────────────────────────────
	// 1. CONFIGURATION
	// ─────────────────────────────────────────────────────────────────────────

	// A missing .env file is fine; real deployments inject the environment.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 2. LOGGING
	// ─────────────────────────────────────────────────────────────────────────
	log := setupLogger(cfg)
	log.Info("starting ClassHub sessions worker",
		"env", cfg.App.Environment,
		"version", cfg.App.Version,
		"debug", cfg.App.Debug,
	)

	// ─────────────────────────────────────────────────────────────────────────
	// 3. DATABASE (PostgreSQL)
	// ─────────────────────────────────────────────────────────────────────────
	log.Info("connecting to database...")
	var dbConn *postgres.Connection
	if cfg.Database.URL != "" {
		dbConn, err = postgres.NewConnectionFromURL(ctx, cfg.Database.URL)
	} else {
		dbConn, err = postgres.NewConnection(ctx, postgres.DefaultConfig())
	}
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer func() {
		log.Info("closing database connection...")
		dbConn.Close()
	}()

	if cfg.Database.AutoMigrate {
		log.Info("running database migrations...")
		migrator := postgres.NewMigrator(dbConn)
		if err := migrator.Migrate(ctx); err != nil {
			return fmt.Errorf("failed to run migrations: %w", err)
		}
	}

	sessionRepo := postgres.NewSessionRepository(dbConn)
	catalogRepo := postgres.NewCatalogRepository(dbConn)
	accessRepo := postgres.NewAccessRepository(dbConn)

	// ─────────────────────────────────────────────────────────────────────────
	// 4. REDIS (optional, calendar view cache)
	// ─────────────────────────────────────────────────────────────────────────
	var viewCache query.ViewCache
	cacheEnabled := !cfg.Redis.Disabled && cfg.Features.IsEnabled(config.FeatureCalendarCache, nil)
	if cacheEnabled {
		log.Info("connecting to Redis...")
		var redisCache *redis.Cache
		if cfg.Redis.URL != "" {
			redisCache, err = redis.NewCacheFromURL(cfg.Redis.URL)
		} else {
			redisCfg := redis.DefaultConfig()
			redisCfg.Host = cfg.Redis.Host
			redisCfg.Port = cfg.Redis.Port
			redisCfg.Password = cfg.Redis.Password
			redisCfg.DB = cfg.Redis.DB
			redisCfg.PoolSize = cfg.Redis.PoolSize
			redisCfg.MinIdleConns = cfg.Redis.MinIdleConns
			redisCfg.DialTimeout = cfg.Redis.DialTimeout
			redisCfg.ReadTimeout = cfg.Redis.ReadTimeout
			redisCfg.WriteTimeout = cfg.Redis.WriteTimeout
			redisCache, err = redis.NewCache(redisCfg)
		}
		if err != nil {
			log.Warn("failed to connect to Redis, calendar cache disabled", "error", err)
		} else {
			defer redisCache.Close()
			viewCache = redis.NewCalendarCache(redisCache)
			log.Info("Redis connection established")
		}
	} else {
		log.Info("calendar cache disabled")
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 5. EVENT BUS
	// ─────────────────────────────────────────────────────────────────────────
	log.Info("initializing event bus...")
	busConfig := messaging.DefaultInMemoryEventBusConfig()
	busConfig.Logger = log
	busConfig.AsyncMode = cfg.EventBus.AsyncMode
	busConfig.WorkerPoolSize = cfg.EventBus.WorkerPoolSize
	busConfig.HandlerTimeout = cfg.EventBus.HandlerTimeout
	eventBus := messaging.NewInMemoryEventBus(busConfig)
	defer func() {
		log.Info("closing event bus...")
		_ = eventBus.Close()
	}()

	// ─────────────────────────────────────────────────────────────────────────
	// 6. APPLICATION LAYER (Commands, Queries)
	// ─────────────────────────────────────────────────────────────────────────
	log.Info("initializing application layer...")

	materializer := command.NewMaterializer(sessionRepo, catalogRepo, accessRepo)

	checkInCmd := command.NewCheckInHandler(materializer, eventBus, log)
	startCmd := command.NewStartSessionHandler(materializer, eventBus, log)
	finishCmd := command.NewFinishSessionHandler(materializer, eventBus, log)
	cancelCmd := command.NewCancelSessionHandler(materializer, eventBus, log)
	rescheduleCmd := command.NewRescheduleSessionHandler(materializer, eventBus, log)

	extraConfig := command.DefaultCreateExtraSessionHandlerConfig()
	extraConfig.ConflictCheck = cfg.Features.IsEnabled(config.FeatureExtraConflictCheck, nil)
	createExtraCmd := command.NewCreateExtraSessionHandler(
		materializer, sessionRepo, catalogRepo, eventBus, log, extraConfig)
	deleteExtrasCmd := command.NewDeleteExtraSessionsHandler(materializer, sessionRepo, eventBus, log)

	calendarConfig := query.GetCalendarHandlerConfig{CacheTTL: cfg.Calendar.CacheTTL}
	calendarQuery := query.NewGetCalendarHandler(
		sessionRepo, catalogRepo, accessRepo, viewCache, log, calendarConfig)
	sessionQuery := query.NewGetSessionHandler(sessionRepo, catalogRepo, accessRepo)

	// The worker does not expose a transport of its own; command and query
	// handlers are consumed by the API gateway through this wiring.
	_ = checkInCmd
	_ = startCmd
	_ = finishCmd
	_ = cancelCmd
	_ = rescheduleCmd
	_ = createExtraCmd
	_ = deleteExtrasCmd
	_ = calendarQuery
	_ = sessionQuery

	// ─────────────────────────────────────────────────────────────────────────
	// 7. EVENT HANDLERS
	// ─────────────────────────────────────────────────────────────────────────
	if viewCache != nil {
		log.Info("registering event handlers...")
		invalidator := eventhandler.NewOnSessionChangedHandler(viewCache, log)
		for _, eventType := range invalidator.EventTypes() {
			if err := eventBus.Subscribe(eventType, invalidator.Handle); err != nil {
				return fmt.Errorf("failed to subscribe to %s: %w", eventType, err)
			}
		}
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 8. SCHEDULER (settlement sweep)
	// ─────────────────────────────────────────────────────────────────────────
	schedConfig := scheduler.DefaultSchedulerConfig()
	schedConfig.Logger = log
	sched := scheduler.NewScheduler(schedConfig)

	if cfg.Features.IsEnabled(config.FeatureBackfill, nil) {
		backfillJob := jobs.NewBackfillJob(sessionRepo, catalogRepo, eventBus, log, jobs.BackfillConfig{
			Lookback:    cfg.Backfill.Lookback,
			Grace:       cfg.Backfill.Grace,
			Concurrency: cfg.Backfill.Concurrency,
		})
		if err := sched.Register(backfillJob, scheduler.NewIntervalSchedule(cfg.Backfill.Interval)); err != nil {
			return fmt.Errorf("failed to register backfill job: %w", err)
		}
	} else {
		log.Info("backfill sweep disabled")
	}

	if err := sched.Start(ctx); err != nil {
		return fmt.Errorf("failed to start scheduler: %w", err)
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 9. GRACEFUL SHUTDOWN
	// ─────────────────────────────────────────────────────────────────────────
	log.Info("ClassHub sessions worker is running",
		"backfill_interval", cfg.Backfill.Interval.String(),
		"calendar_cache", viewCache != nil,
	)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)

	sig := <-sigCh
	log.Info("received shutdown signal", "signal", sig.String())

	log.Info("starting graceful shutdown...", "timeout", cfg.App.ShutdownTimeout.String())

	if err := sched.Stop(); err != nil {
		log.Error("failed to stop scheduler gracefully", "error", err)
	}

	// Event bus, Redis and the database pool close through defers.

	log.Info("shutdown completed")
	return nil
}

// setupLogger configures structured logging.
func setupLogger(cfg *config.Config) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}
	if cfg.App.Debug || cfg.Observability.LogLevel == "debug" {
		opts.Level = slog.LevelDebug
	}

	var handler slog.Handler
	if cfg.Observability.LogFormat == "json" && !cfg.IsDevelopment() {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	log := slog.New(handler)
	slog.SetDefault(log)

	return log
}
