/*
Package sqlstore is the SQL persistence of the hours engine.

PURPOSE:
  One Store serves every persistence interface of the engine, on SQLite
  (mattn/go-sqlite3, the default) or PostgreSQL (pgx through database/sql).
  Queries are written once with ? placeholders and rebound per driver by
  sqlx.

INTERFACES IMPLEMENTED:
  ledger.Store               hours_ledger (append-only)
  ledger.PendingSource       leave_requests with status pending
  realtime.Roster            employees where active
  realtime.ScheduleSource    work_schedules
  realtime.AttendanceStore   attendance
  carryover.ContractSource   employees.contract_type -> contract_types / presets
  carryover.RunStore         carryover_runs

APPEND-ONLY ENFORCEMENT:
  hours_ledger is only ever INSERTed. There is no UPDATE or DELETE
  statement against it anywhere in this package. Idempotency keys are
  unique at the database level, so two processes racing on the same key
  cannot both win.

STORAGE FORMATS:
  Hours are decimal strings, calendar dates are YYYY-MM-DD, instants are
  RFC 3339 UTC. The schema is the same on both drivers.

USAGE:
  st, err := sqlstore.Open(ctx, "sqlite", "./data/hours.db")
  st, err := sqlstore.Open(ctx, "postgres", "postgres://...")

SEE ALSO:
  - ledger/store/memory.go: In-memory ledger store for tests
*/
package sqlstore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	"github.com/mattn/go-sqlite3"
)

// Driver names accepted by Open.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Store implements the engine's persistence on a SQL database.
type Store struct {
	db     *sqlx.DB
	driver string
	now    func() time.Time
}

// Open connects, migrates and returns a Store. For SQLite, dsn is a file
// path or ":memory:".
func Open(ctx context.Context, driver, dsn string) (*Store, error) {
	var (
		db  *sqlx.DB
		err error
	)
	switch driver {
	case DriverSQLite, "sqlite3", "":
		driver = DriverSQLite
		db, err = sqlx.Open("sqlite3", sqliteDSN(dsn))
		if err == nil {
			// One connection: :memory: databases are per connection, and
			// SQLite serializes writers anyway.
			db.SetMaxOpenConns(1)
		}
	case DriverPostgres, "pgx":
		driver = DriverPostgres
		db, err = sqlx.Open("pgx", dsn)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	s := &Store{db: db, driver: driver, now: func() time.Time { return time.Now().UTC() }}
	if err := s.migrate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return s, nil
}

func sqliteDSN(dsn string) string {
	if dsn == "" {
		dsn = ":memory:"
	}
	if strings.Contains(dsn, "?") {
		return dsn
	}
	if dsn == ":memory:" {
		return dsn + "?_foreign_keys=on"
	}
	return dsn + "?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000"
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Driver returns the normalized driver name.
func (s *Store) Driver() string { return s.driver }

// Ping checks the connection. Used by the health endpoint.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

var schema = []string{
	// Append-only ledger
	`CREATE TABLE IF NOT EXISTS hours_ledger (
		id TEXT PRIMARY KEY,
		employee_id TEXT NOT NULL,
		category TEXT NOT NULL,
		tx_type TEXT NOT NULL,
		hours TEXT NOT NULL,
		tx_date TEXT NOT NULL,
		period_year INTEGER NOT NULL,
		period_month INTEGER NOT NULL,
		reason TEXT NOT NULL,
		idempotency_key TEXT,
		created_by TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_hours_ledger_idempotency
		ON hours_ledger(idempotency_key) WHERE idempotency_key IS NOT NULL`,
	`CREATE INDEX IF NOT EXISTS idx_hours_ledger_balance
		ON hours_ledger(employee_id, category, period_year)`,

	`CREATE TABLE IF NOT EXISTS employees (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		email TEXT NOT NULL DEFAULT '',
		contract_type TEXT NOT NULL DEFAULT 'full_time',
		active BOOLEAN NOT NULL DEFAULT TRUE,
		hire_date TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	)`,

	`CREATE TABLE IF NOT EXISTS contract_types (
		name TEXT PRIMARY KEY,
		definition_json TEXT NOT NULL,
		updated_at TEXT NOT NULL
	)`,

	`CREATE TABLE IF NOT EXISTS work_schedules (
		employee_id TEXT NOT NULL,
		day_of_week INTEGER NOT NULL,
		is_working_day BOOLEAN NOT NULL,
		work_type TEXT NOT NULL,
		start_time TEXT NOT NULL DEFAULT '',
		end_time TEXT NOT NULL DEFAULT '',
		break_start_time TEXT NOT NULL DEFAULT '',
		break_duration_minutes INTEGER NOT NULL DEFAULT 0,
		PRIMARY KEY (employee_id, day_of_week)
	)`,

	`CREATE TABLE IF NOT EXISTS leave_requests (
		id TEXT PRIMARY KEY,
		employee_id TEXT NOT NULL,
		category TEXT NOT NULL,
		hours TEXT NOT NULL,
		request_date TEXT NOT NULL,
		period_year INTEGER NOT NULL,
		status TEXT NOT NULL,
		reason TEXT NOT NULL DEFAULT '',
		decided_by TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_leave_requests_pending
		ON leave_requests(employee_id, category, period_year, status)`,

	`CREATE TABLE IF NOT EXISTS carryover_runs (
		year INTEGER NOT NULL,
		employee_id TEXT NOT NULL,
		category TEXT NOT NULL,
		status TEXT NOT NULL,
		balance TEXT NOT NULL,
		cap TEXT NOT NULL,
		carried_over TEXT NOT NULL,
		expired TEXT NOT NULL,
		error TEXT NOT NULL DEFAULT '',
		processed_at TEXT NOT NULL,
		PRIMARY KEY (year, employee_id, category)
	)`,

	`CREATE TABLE IF NOT EXISTS attendance (
		employee_id TEXT NOT NULL,
		work_date TEXT NOT NULL,
		actual_hours TEXT NOT NULL,
		expected_hours TEXT NOT NULL,
		balance_hours TEXT NOT NULL,
		status TEXT NOT NULL,
		source TEXT NOT NULL,
		finalized BOOLEAN NOT NULL DEFAULT FALSE,
		notes TEXT NOT NULL DEFAULT '',
		updated_at TEXT NOT NULL,
		PRIMARY KEY (employee_id, work_date)
	)`,
}

// migrate creates the schema. For production, use versioned migrations.
func (s *Store) migrate(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

// =============================================================================
// HELPERS
// =============================================================================

// timeLayout is fixed width so that TEXT timestamps sort in time order.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(timeLayout)
}

// parseTime reads timeLayout and, for older rows, RFC3339Nano.
func parseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("bad timestamp %q: %w", s, err)
	}
	return t, nil
}

func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// isUniqueViolation recognizes unique-constraint errors from both drivers.
func isUniqueViolation(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}
