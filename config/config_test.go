package config_test

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/hours-engine/config"
)

func TestFromEnv_Defaults(t *testing.T) {
	cfg, err := config.FromEnv()

	require.NoError(t, err)
	assert.Equal(t, ":8080", cfg.Addr)
	assert.Equal(t, "sqlite", cfg.DBDriver)
	assert.Equal(t, 0.5, cfg.PermissionCarryoverRatio)
	assert.Equal(t, 10*time.Minute, cfg.CacheTTL)
	assert.Equal(t, []string{"*"}, cfg.CORSOrigins)
	assert.Equal(t, "Europe/Rome", cfg.Location().String())
}

func TestFromEnv_Overrides(t *testing.T) {
	t.Setenv("HOURS_DB_DRIVER", "postgres")
	t.Setenv("HOURS_DB_DSN", "postgres://hours@localhost/hours")
	t.Setenv("HOURS_CORS_ORIGINS", "https://a.example,https://b.example")
	t.Setenv("HOURS_SCHEDULER_ENABLED", "false")

	cfg, err := config.FromEnv()

	require.NoError(t, err)
	assert.Equal(t, "postgres", cfg.DBDriver)
	assert.Len(t, cfg.CORSOrigins, 2)
	assert.False(t, cfg.SchedulerEnabled)
}

func TestFromEnv_Invalid(t *testing.T) {
	t.Setenv("HOURS_DB_DRIVER", "mysql")
	t.Setenv("HOURS_PERMISSION_CARRYOVER_RATIO", "1.5")

	_, err := config.FromEnv()

	require.Error(t, err)
	assert.Contains(t, err.Error(), "HOURS_DB_DRIVER")
	assert.Contains(t, err.Error(), "HOURS_PERMISSION_CARRYOVER_RATIO")
}

func TestNewLoggerTo_JSONWithLevel(t *testing.T) {
	var buf bytes.Buffer
	log := config.NewLoggerTo(&buf, &config.Config{LogFormat: "json", LogLevel: "warn"})

	log.Info("dropped")
	log.Warn("kept", "employee_id", "emp-001")

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "kept", line["msg"])
	assert.Equal(t, "emp-001", line["employee_id"])
	assert.Equal(t, slog.LevelWarn.String(), line["level"])
}
