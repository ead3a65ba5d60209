/*
Package engine wires the hours components into one facade used by the HTTP
API, the scheduler and the CLI.

PURPOSE:
  The domain packages stay small and take narrow interfaces. Engine owns the
  concrete choices: the SQL store, the balance cache (Redis or in-process),
  the auto-save buckets, metrics, the company time zone and the clock.

WIRING:
  sqlstore.Store ── ledger.Ledger ── ledger.Projector (cache invalidated on append)
        │                 │
        │                 ├── realtime.AutoSaver   hourly save, daily finalization
        │                 ├── carryover.Runner     year-end close
        │                 └── accrual.Runner       monthly accrual
        └── employees, contracts, schedules, requests, attendance

SEE ALSO:
  - entries.go: manual entries, requests, attendance corrections
  - api/handlers.go: HTTP surface
  - cmd/hoursctl: CLI
*/
package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/warp/hours-engine/accrual"
	"github.com/warp/hours-engine/carryover"
	"github.com/warp/hours-engine/contract"
	"github.com/warp/hours-engine/ledger"
	"github.com/warp/hours-engine/metrics"
	"github.com/warp/hours-engine/realtime"
	"github.com/warp/hours-engine/schedule"
	"github.com/warp/hours-engine/store/sqlstore"
)

// Options configures New. The zero value is usable.
type Options struct {
	// Location is the company time zone. Defaults to UTC.
	Location *time.Location
	// Redis backs the balance cache and auto-save buckets. Nil keeps both
	// in process.
	Redis       *redis.Client
	CacheTTL    time.Duration
	Concurrency int
	Metrics     *metrics.Metrics
	Logger      *slog.Logger
	Now         func() time.Time

	// PermissionCarryoverRatio is the default permission cap as a share of
	// the vacation cap. Nil uses contract.DefaultPermissionCarryoverRatio.
	PermissionCarryoverRatio *decimal.Decimal
}

// Engine is the hours ledger and balance engine.
type Engine struct {
	Store     *sqlstore.Store
	Ledger    *ledger.Ledger
	Projector *ledger.Projector
	AutoSave  *realtime.AutoSaver
	Carryover *carryover.Runner
	Accrual   *accrual.Runner
	Metrics   *metrics.Metrics
	Logger    *slog.Logger
	Location  *time.Location
	Now       func() time.Time

	// Schedules and Attendances default to Store.
	Schedules   realtime.ScheduleSource
	Attendances realtime.AttendanceStore

	// usageMu serializes the balance check and append of overtime usage.
	usageMu sync.Mutex
}

// New wires an engine over store.
func New(store *sqlstore.Store, opts Options) *Engine {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	loc := opts.Location
	if loc == nil {
		loc = time.UTC
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}

	var (
		cache   ledger.Cache
		buckets realtime.Buckets
	)
	if opts.Redis != nil {
		cache = ledger.NewRedisCache(opts.Redis, "hours:balance", opts.CacheTTL)
		buckets = realtime.NewRedisBuckets(opts.Redis, "hours:autosave")
	} else {
		cache = ledger.NewMemoryCache(opts.CacheTTL)
		buckets = realtime.NewMemoryBuckets()
	}

	l := ledger.New(store, logger.With("component", "ledger"))
	l.Now = now
	balances := ledger.NewProjector(store, store, cache, logger.With("component", "balances"))
	balances.Attach(l)

	saver := realtime.NewAutoSaver(store, store, store, l, buckets, loc, logger.With("component", "autosave"))
	saver.Now = now

	closer := carryover.NewRunner(store, store, balances, l, store, logger.With("component", "carryover"))
	closer.Now = now
	closer.Location = loc
	if opts.PermissionCarryoverRatio != nil {
		closer.PermissionRatio = *opts.PermissionCarryoverRatio
	}
	if opts.Concurrency > 0 {
		closer.Concurrency = opts.Concurrency
	}

	accruals := accrual.NewRunner(store, store, store, l, logger.With("component", "accrual"))
	accruals.Now = now
	accruals.Location = loc

	if m := opts.Metrics; m != nil {
		l.Recorder = m
		balances.Recorder = m
		saver.Recorder = m
		closer.Recorder = m
	}

	return &Engine{
		Store:     store,
		Ledger:    l,
		Projector: balances,
		AutoSave:  saver,
		Carryover: closer,
		Accrual:   accruals,
		Metrics:   opts.Metrics,
		Logger:    logger,
		Location:  loc,
		Now:       now,

		Schedules:   store,
		Attendances: store,
	}
}

// Today returns the employee's real-time snapshot at at (now when zero).
// A malformed schedule returns the "no data" snapshot and the
// *schedule.InvalidScheduleError.
func (e *Engine) Today(ctx context.Context, id ledger.EmployeeID, at time.Time, ov *realtime.Override) (realtime.Snapshot, error) {
	if _, err := e.Store.GetEmployee(ctx, id); err != nil {
		return realtime.Snapshot{}, err
	}
	week, err := e.Schedules.WeekFor(ctx, id)
	if err != nil {
		return realtime.Snapshot{}, fmt.Errorf("load schedule: %w", err)
	}
	if at.IsZero() {
		at = e.Now()
	}
	snap, err := realtime.ComputeWithOverride(week, at.In(e.Location), ov)
	if e.Metrics != nil {
		e.Metrics.Realtime(string(snap.Status))
	}
	return snap, err
}

// Balance projects one category for the year.
func (e *Engine) Balance(ctx context.Context, id ledger.EmployeeID, category ledger.Category, year int) (ledger.Balance, error) {
	if _, err := e.Store.GetEmployee(ctx, id); err != nil {
		return ledger.Balance{}, err
	}
	return e.Projector.Project(ctx, id, category, e.yearOrCurrent(year))
}

// Balances projects every category for the year.
func (e *Engine) Balances(ctx context.Context, id ledger.EmployeeID, year int) ([]ledger.Balance, error) {
	if _, err := e.Store.GetEmployee(ctx, id); err != nil {
		return nil, err
	}
	return e.Projector.ProjectAll(ctx, id, e.yearOrCurrent(year))
}

// Transactions lists an employee's ledger entries matching f.
func (e *Engine) Transactions(ctx context.Context, id ledger.EmployeeID, f ledger.Filter) ([]ledger.Transaction, error) {
	if _, err := e.Store.GetEmployee(ctx, id); err != nil {
		return nil, err
	}
	return e.Ledger.History(ctx, id, f)
}

func (e *Engine) yearOrCurrent(year int) int {
	if year > 0 {
		return year
	}
	return e.Now().In(e.Location).Year()
}

// =============================================================================
// CARRY-OVER POLICY
// =============================================================================

// CategoryPolicy previews the year-end close of one category.
type CategoryPolicy struct {
	Category     ledger.Category `json:"category"`
	AnnualHours  decimal.Decimal `json:"annual_hours"`
	MaxCarryover decimal.Decimal `json:"max_carryover"`
	Balance      decimal.Decimal `json:"balance"`
	WouldCarry   decimal.Decimal `json:"would_carry"`
	WouldExpire  decimal.Decimal `json:"would_expire"`
}

// Policy describes how an employee's balances close at year end.
type Policy struct {
	EmployeeID   ledger.EmployeeID `json:"employee_id"`
	ContractType string            `json:"contract_type"`
	Year         int               `json:"year"`
	Categories   []CategoryPolicy  `json:"categories"`
}

// CarryoverPolicy returns the caps of the employee's contract and what
// closing year with the current balances would carry and expire.
func (e *Engine) CarryoverPolicy(ctx context.Context, id ledger.EmployeeID, year int) (Policy, error) {
	year = e.yearOrCurrent(year)
	ct, err := e.Store.ContractFor(ctx, id)
	if err != nil {
		return Policy{}, err
	}
	policy := Policy{EmployeeID: id, ContractType: ct.Name, Year: year}
	for _, category := range carryover.Categories {
		limit, _ := ct.CarryoverCap(category, e.Carryover.PermissionRatio)
		b, err := e.Projector.Project(ctx, id, category, year)
		if err != nil {
			return Policy{}, &ledger.BalanceUnavailableError{Key: ledger.BalanceKey{EmployeeID: id, Category: category, Year: year}, Err: err}
		}
		res, err := carryover.Process(carryover.Input{
			EmployeeID:     id,
			Category:       category,
			CurrentBalance: b.Current,
			MaxCarryover:   limit,
			Year:           year,
		})
		if err != nil {
			return Policy{}, err
		}
		policy.Categories = append(policy.Categories, CategoryPolicy{
			Category:     category,
			AnnualHours:  ct.AnnualHours(category),
			MaxCarryover: limit,
			Balance:      b.Current,
			WouldCarry:   res.CarriedOver,
			WouldExpire:  res.Expired,
		})
	}
	return policy, nil
}

// =============================================================================
// BATCH OPERATIONS
// =============================================================================

// RunCarryover closes a year. See carryover.Runner.Run.
func (e *Engine) RunCarryover(ctx context.Context, opts carryover.Options) (*carryover.Report, error) {
	return e.Carryover.Run(ctx, opts)
}

// CarryoverRuns lists the run records of a year.
func (e *Engine) CarryoverRuns(ctx context.Context, year int) ([]carryover.Run, error) {
	if year <= 0 {
		year = e.Now().In(e.Location).Year() - 1
	}
	return e.Carryover.History(ctx, year)
}

// RunAccrual posts a month of accrual. See accrual.Runner.Run.
func (e *Engine) RunAccrual(ctx context.Context, opts accrual.Options) (*accrual.Report, error) {
	return e.Accrual.Run(ctx, opts)
}

// SaveHourly stores the current snapshot of every active employee.
func (e *Engine) SaveHourly(ctx context.Context) (realtime.SaveReport, error) {
	return e.AutoSave.SaveHourly(ctx, e.Now())
}

// FinalizeDay closes day, or yesterday when day is zero.
func (e *Engine) FinalizeDay(ctx context.Context, day time.Time) (realtime.SaveReport, error) {
	if day.IsZero() {
		day = e.Now().In(e.Location).AddDate(0, 0, -1)
	}
	return e.AutoSave.FinalizeDay(ctx, day)
}

// =============================================================================
// REFERENCE DATA
// =============================================================================

// SaveEmployee upserts an employee after checking its contract type exists.
func (e *Engine) SaveEmployee(ctx context.Context, emp sqlstore.Employee) (sqlstore.Employee, error) {
	if emp.ID == "" {
		return sqlstore.Employee{}, &ledger.ValidationError{Field: "id", Message: "is required"}
	}
	if emp.ContractType == "" {
		emp.ContractType = contract.FullTime
	}
	if _, err := e.Store.GetContractType(ctx, emp.ContractType); err != nil {
		return sqlstore.Employee{}, err
	}
	if err := e.Store.SaveEmployee(ctx, emp); err != nil {
		return sqlstore.Employee{}, err
	}
	return e.Store.GetEmployee(ctx, emp.ID)
}

// Schedule returns the employee's week and whether it is configured; an
// unconfigured employee works the standard week.
func (e *Engine) Schedule(ctx context.Context, id ledger.EmployeeID) (schedule.Week, bool, error) {
	if _, err := e.Store.GetEmployee(ctx, id); err != nil {
		return nil, false, err
	}
	week, ok, err := e.Store.Schedule(ctx, id)
	if err != nil {
		return nil, false, err
	}
	if !ok {
		return schedule.StandardWeek(), false, nil
	}
	return week, true, nil
}

// SaveSchedule validates and replaces the employee's week.
func (e *Engine) SaveSchedule(ctx context.Context, id ledger.EmployeeID, week schedule.Week) error {
	if _, err := e.Store.GetEmployee(ctx, id); err != nil {
		return err
	}
	return e.Store.SaveSchedule(ctx, id, week)
}

// Contracts lists stored contract types merged over the presets.
func (e *Engine) Contracts(ctx context.Context) ([]contract.Type, error) {
	return e.Store.ListContractTypes(ctx)
}

// ImportContracts stores every [[contract]] of a TOML document.
func (e *Engine) ImportContracts(ctx context.Context, r io.Reader) ([]contract.Type, error) {
	types, err := contract.LoadTOML(r)
	if err != nil {
		return nil, err
	}
	var errs []error
	for _, t := range types {
		if err := e.Store.SaveContractType(ctx, t); err != nil {
			errs = append(errs, fmt.Errorf("contract %s: %w", t.Name, err))
		}
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	e.Logger.InfoContext(ctx, "contract types imported", "count", len(types))
	return types, nil
}
