/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the hours engine server.
  Handles configuration, dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Load configuration (.env, then HOURS_* environment)
  2. Open the SQL store (SQLite or Postgres) and apply the schema
  3. Connect Redis when configured
  4. Wire the engine, import contract types, start the scheduler
  5. Start the HTTP server with graceful shutdown

ENVIRONMENT:
  HOURS_ADDR             Listen address (default :8080)
  HOURS_DB_DRIVER        sqlite | postgres
  HOURS_DB_DSN           File path, ":memory:" or postgres URL
  HOURS_REDIS_ADDR       Redis for the balance cache (optional)
  HOURS_TIMEZONE         Company time zone (default Europe/Rome)
  HOURS_CONTRACTS_FILE   TOML contract types to import at startup
  See config/config.go for the full list.

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop scheduling new jobs
  2. Stop accepting new connections
  3. Wait for active requests and jobs to complete (30s timeout)
  4. Close database and Redis connections

SEE ALSO:
  - api/server.go: Router configuration
  - engine/engine.go: Component wiring
  - cmd/hoursctl: Operator CLI
*/
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/warp/hours-engine/api"
	"github.com/warp/hours-engine/config"
	"github.com/warp/hours-engine/engine"
	"github.com/warp/hours-engine/metrics"
	"github.com/warp/hours-engine/store/sqlstore"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "hours server: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger := config.NewLogger(cfg)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Initialize store
	store, err := sqlstore.Open(ctx, cfg.DBDriver, cfg.DBDSN)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer store.Close()

	var rdb *redis.Client
	if cfg.RedisAddr != "" {
		rdb = redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		defer rdb.Close()
		if err := rdb.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("connect redis %s: %w", cfg.RedisAddr, err)
		}
	}

	m := metrics.New()
	ratio := decimal.NewFromFloat(cfg.PermissionCarryoverRatio)
	e := engine.New(store, engine.Options{
		Location:    cfg.Location(),
		Redis:       rdb,
		CacheTTL:    cfg.CacheTTL,
		Concurrency: cfg.CarryoverConcurrency,
		Metrics:     m,
		Logger:      logger,

		PermissionCarryoverRatio: &ratio,
	})

	if cfg.ContractsFile != "" {
		f, err := os.Open(cfg.ContractsFile)
		if err != nil {
			return fmt.Errorf("open contracts file: %w", err)
		}
		_, err = e.ImportContracts(ctx, f)
		f.Close()
		if err != nil {
			return fmt.Errorf("import contracts: %w", err)
		}
	}

	var scheduler *api.Scheduler
	if cfg.SchedulerEnabled {
		scheduler, err = api.NewScheduler(e, api.ScheduleSpecs{
			Hourly:    cfg.HourlyCron,
			Daily:     cfg.DailyCron,
			Accrual:   cfg.AccrualCron,
			Carryover: cfg.CarryoverCron,
		}, logger)
		if err != nil {
			return err
		}
		scheduler.Start()
	}

	router := api.NewRouter(api.NewHandler(e, logger), api.RouterOptions{
		CORSOrigins:    cfg.CORSOrigins,
		AdminRateLimit: cfg.AdminRateLimit,
		RequestTimeout: cfg.RequestTimeout,
		Metrics:        m,
	})

	server := &http.Server{
		Addr:         cfg.Addr,
		Handler:      router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server starting",
			"addr", cfg.Addr,
			"env", cfg.Env,
			"db_driver", cfg.DBDriver,
			"redis", cfg.RedisAddr != "",
			"timezone", cfg.Timezone,
			"scheduler", cfg.SchedulerEnabled,
		)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
	case <-ctx.Done():
	}

	logger.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	var jobsDone context.Context
	if scheduler != nil {
		jobsDone = scheduler.Stop()
	}
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}
	if jobsDone != nil {
		select {
		case <-jobsDone.Done():
		case <-shutdownCtx.Done():
			logger.Warn("scheduler jobs still running at shutdown")
		}
	}

	logger.Info("server stopped")
	return nil
}
