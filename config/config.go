// Package config loads runtime configuration from HOURS_* environment
// variables, optionally seeded from a .env file.
package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Prefix of every environment variable.
const Prefix = "HOURS"

// Config holds runtime configuration for the server and the CLI.
type Config struct {
	Env            string        `envconfig:"ENV" default:"development"`
	Addr           string        `envconfig:"ADDR" default:":8080"`
	ReadTimeout    time.Duration `envconfig:"READ_TIMEOUT" default:"15s"`
	WriteTimeout   time.Duration `envconfig:"WRITE_TIMEOUT" default:"15s"`
	RequestTimeout time.Duration `envconfig:"REQUEST_TIMEOUT" default:"30s"`

	LogFormat string `envconfig:"LOG_FORMAT" default:"text"`
	LogLevel  string `envconfig:"LOG_LEVEL" default:"info"`

	DBDriver string `envconfig:"DB_DRIVER" default:"sqlite"`
	DBDSN    string `envconfig:"DB_DSN" default:"./data/hours.db"`

	// RedisAddr empty means in-process cache and auto-save buckets.
	RedisAddr     string        `envconfig:"REDIS_ADDR"`
	RedisPassword string        `envconfig:"REDIS_PASSWORD"`
	RedisDB       int           `envconfig:"REDIS_DB" default:"0"`
	CacheTTL      time.Duration `envconfig:"CACHE_TTL" default:"10m"`

	Timezone string `envconfig:"TIMEZONE" default:"Europe/Rome"`

	PermissionCarryoverRatio float64 `envconfig:"PERMISSION_CARRYOVER_RATIO" default:"0.5"`
	CarryoverConcurrency     int     `envconfig:"CARRYOVER_CONCURRENCY" default:"4"`
	ContractsFile            string  `envconfig:"CONTRACTS_FILE"`

	SchedulerEnabled bool   `envconfig:"SCHEDULER_ENABLED" default:"true"`
	HourlyCron       string `envconfig:"HOURLY_CRON" default:"0 * * * *"`
	DailyCron        string `envconfig:"DAILY_CRON" default:"5 0 * * *"`
	AccrualCron      string `envconfig:"ACCRUAL_CRON" default:"15 0 1 * *"`
	CarryoverCron    string `envconfig:"CARRYOVER_CRON" default:"30 0 1 1 *"`

	CORSOrigins    []string `envconfig:"CORS_ORIGINS" default:"*"`
	AdminRateLimit int      `envconfig:"ADMIN_RATE_LIMIT" default:"30"`
}

// Load reads .env (when present) and the environment.
func Load() (*Config, error) {
	// A missing .env is normal outside development.
	_ = godotenv.Load()
	return FromEnv()
}

// FromEnv reads the environment only.
func FromEnv() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(Prefix, &cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects values the engine cannot run with.
func (c *Config) Validate() error {
	var errs []error
	switch c.DBDriver {
	case "sqlite", "postgres":
	default:
		errs = append(errs, fmt.Errorf("HOURS_DB_DRIVER must be sqlite or postgres, got %q", c.DBDriver))
	}
	if c.PermissionCarryoverRatio < 0 || c.PermissionCarryoverRatio > 1 {
		errs = append(errs, fmt.Errorf("HOURS_PERMISSION_CARRYOVER_RATIO must be within [0, 1], got %v", c.PermissionCarryoverRatio))
	}
	if c.CarryoverConcurrency < 1 {
		errs = append(errs, errors.New("HOURS_CARRYOVER_CONCURRENCY must be at least 1"))
	}
	if _, err := time.LoadLocation(c.Timezone); err != nil {
		errs = append(errs, fmt.Errorf("HOURS_TIMEZONE: %w", err))
	}
	if _, err := ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// Location returns the company time zone.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// IsProduction returns true when the application runs in production.
func (c *Config) IsProduction() bool {
	return c != nil && c.Env == "production"
}

// ParseLevel maps a level name to a slog level.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return slog.LevelInfo, fmt.Errorf("HOURS_LOG_LEVEL: unknown level %q", s)
}

// NewLogger returns a configured slog.Logger writing to stdout.
func NewLogger(cfg *Config) *slog.Logger {
	return NewLoggerTo(os.Stdout, cfg)
}

// NewLoggerTo is NewLogger with an explicit writer.
func NewLoggerTo(w io.Writer, cfg *Config) *slog.Logger {
	opts := &slog.HandlerOptions{AddSource: true}
	if cfg != nil {
		level, _ := ParseLevel(cfg.LogLevel)
		opts.Level = level
	}
	if cfg != nil && cfg.LogFormat == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}
