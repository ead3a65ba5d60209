/*
hoursctl - operator CLI for the hours engine

PURPOSE:
  Runs the batch jobs and reads balances straight against the database,
  without going through the HTTP server. Uses the same HOURS_* environment
  as the server; --driver and --dsn override the database.

COMMANDS:
  hoursctl carryover --year 2024 [--employee ID] [--concurrency N]
  hoursctl accrual [--year 2025 --month 3] [--employee ID]
  hoursctl finalize [--date 2025-03-10]
  hoursctl contracts list
  hoursctl contracts import FILE.toml
  hoursctl today --employee ID [--at RFC3339]
  hoursctl balance --employee ID [--year 2025]

SEE ALSO:
  - cmd/server: HTTP server
  - engine/engine.go: the operations behind each command
*/
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
	"github.com/warp/hours-engine/config"
	"github.com/warp/hours-engine/engine"
	"github.com/warp/hours-engine/store/sqlstore"
)

var (
	flagDriver string
	flagDSN    string
)

var rootCmd = &cobra.Command{
	Use:           "hoursctl",
	Short:         "Operate the hours ledger and balance engine",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagDriver, "driver", "", "Database driver (sqlite or postgres), overrides HOURS_DB_DRIVER")
	rootCmd.PersistentFlags().StringVar(&flagDSN, "dsn", "", "Database DSN, overrides HOURS_DB_DSN")
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "hoursctl: %v\n", err)
		os.Exit(1)
	}
}

// openEngine wires an engine from the environment. The returned func closes
// the connections.
func openEngine(ctx context.Context) (*engine.Engine, func(), error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}
	if flagDriver != "" {
		cfg.DBDriver = flagDriver
	}
	if flagDSN != "" {
		cfg.DBDSN = flagDSN
	}

	store, err := sqlstore.Open(ctx, cfg.DBDriver, cfg.DBDSN)
	if err != nil {
		return nil, nil, fmt.Errorf("open database: %w", err)
	}
	closers := []func() error{store.Close}

	var rdb *redis.Client
	if cfg.RedisAddr != "" {
		rdb = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB})
		closers = append(closers, rdb.Close)
	}

	ratio := decimal.NewFromFloat(cfg.PermissionCarryoverRatio)
	e := engine.New(store, engine.Options{
		Location:    cfg.Location(),
		Redis:       rdb,
		CacheTTL:    cfg.CacheTTL,
		Concurrency: cfg.CarryoverConcurrency,
		Logger:      config.NewLoggerTo(os.Stderr, cfg),

		PermissionCarryoverRatio: &ratio,
	})
	return e, func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}, nil
}
