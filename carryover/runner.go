package carryover

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/hours-engine/contract"
	"github.com/warp/hours-engine/ledger"
	"golang.org/x/sync/errgroup"
)

// =============================================================================
// COLLABORATORS
// =============================================================================

// Roster lists the employees a close runs for.
type Roster interface {
	ActiveEmployeeIDs(ctx context.Context) ([]ledger.EmployeeID, error)
}

// ContractSource resolves an employee's contract type.
type ContractSource interface {
	ContractFor(ctx context.Context, employeeID ledger.EmployeeID) (contract.Type, error)
}

// BalanceSource projects year-end balances. ledger.Projector implements it.
type BalanceSource interface {
	Project(ctx context.Context, employeeID ledger.EmployeeID, category ledger.Category, year int) (ledger.Balance, error)
}

// Appender records the close atomically. ledger.Ledger implements it.
type Appender interface {
	AppendBatch(ctx context.Context, txs []ledger.Transaction) ([]ledger.TransactionID, error)
}

// Recorder receives per-item and per-run observations.
type Recorder interface {
	CarryoverItem(category, result string)
	CarryoverRun(d time.Duration)
}

// Categories closed each year, in order. Overtime never expires.
var Categories = []ledger.Category{ledger.CategoryVacation, ledger.CategoryPermission}

// DefaultConcurrency bounds how many employees are closed at once.
const DefaultConcurrency = 4

// =============================================================================
// REPORT
// =============================================================================

// Options selects what a run closes.
type Options struct {
	// Year to close. Zero means the previous calendar year.
	Year int
	// EmployeeID restricts the run to one employee.
	EmployeeID ledger.EmployeeID
	// Concurrency overrides the runner's bound.
	Concurrency int
}

// Item is the close of one employee.
type Item struct {
	EmployeeID ledger.EmployeeID `json:"employee_id"`
	Status     Status            `json:"status"`
	Categories []Run             `json:"categories"`
}

// Report summarizes a run.
type Report struct {
	Year        int           `json:"year"`
	Processed   int           `json:"processed"`
	Succeeded   int           `json:"succeeded"`
	Failed      int           `json:"failed"`
	Skipped     int           `json:"skipped"`
	Duration    time.Duration `json:"duration_ns"`
	SuccessRate float64       `json:"success_rate"`
	Items       []Item        `json:"items"`
}

func (r *Report) add(item Item) {
	r.Processed++
	switch item.Status {
	case StatusCompleted:
		r.Succeeded++
	case StatusFailed:
		r.Failed++
	case StatusSkipped:
		r.Skipped++
	}
	r.Items = append(r.Items, item)
}

// finish computes the success rate over employees that had work to do.
func (r *Report) finish(d time.Duration) {
	r.Duration = d
	attempted := r.Succeeded + r.Failed
	if attempted == 0 {
		r.SuccessRate = 100
	} else {
		r.SuccessRate = float64(r.Succeeded) * 100 / float64(attempted)
	}
	sort.Slice(r.Items, func(i, j int) bool { return r.Items[i].EmployeeID < r.Items[j].EmployeeID })
}

// =============================================================================
// RUNNER
// =============================================================================

// Runner closes a year for every active employee.
type Runner struct {
	Roster      Roster
	Contracts   ContractSource
	Balances    BalanceSource
	Ledger      Appender
	Runs        RunStore
	Logger      *slog.Logger
	Now         func() time.Time
	Location    *time.Location
	Concurrency int
	Recorder    Recorder

	// PermissionRatio derives the permission cap of contracts that set
	// neither a ratio nor an explicit cap.
	PermissionRatio decimal.Decimal
}

// NewRunner wires a Runner. runs may be nil for an in-memory store.
func NewRunner(roster Roster, contracts ContractSource, balances BalanceSource, appender Appender, runs RunStore, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	if runs == nil {
		runs = NewMemoryRuns()
	}
	return &Runner{
		Roster:      roster,
		Contracts:   contracts,
		Balances:    balances,
		Ledger:      appender,
		Runs:        runs,
		Logger:      logger,
		Now:         time.Now,
		Location:    time.UTC,
		Concurrency: DefaultConcurrency,

		PermissionRatio: contract.DefaultPermissionCarryoverRatio(),
	}
}

// Run closes opts.Year. Item failures are reported, not returned: an error
// means the run itself could not proceed.
func (r *Runner) Run(ctx context.Context, opts Options) (*Report, error) {
	start := r.Now()
	year := opts.Year
	if year == 0 {
		year = r.Now().In(r.Location).Year() - 1
	}
	if year <= 0 {
		return nil, fmt.Errorf("carry-over year must be positive, got %d", year)
	}

	employees := []ledger.EmployeeID{opts.EmployeeID}
	if opts.EmployeeID == "" {
		ids, err := r.Roster.ActiveEmployeeIDs(ctx)
		if err != nil {
			return nil, fmt.Errorf("list employees: %w", err)
		}
		employees = ids
	}

	limit := opts.Concurrency
	if limit <= 0 {
		limit = r.Concurrency
	}
	if limit <= 0 {
		limit = DefaultConcurrency
	}

	report := &Report{Year: year}
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)
	for _, id := range employees {
		id := id
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			item := r.closeEmployee(gctx, id, year)
			mu.Lock()
			report.add(item)
			mu.Unlock()
			return nil
		})
	}
	err := g.Wait()

	report.finish(r.Now().Sub(start))
	if r.Recorder != nil {
		r.Recorder.CarryoverRun(report.Duration)
	}
	r.Logger.InfoContext(ctx, "carry-over run finished",
		"year", year,
		"processed", report.Processed,
		"succeeded", report.Succeeded,
		"failed", report.Failed,
		"skipped", report.Skipped,
		"duration", report.Duration,
		"success_rate", report.SuccessRate,
	)
	if err != nil {
		return report, err
	}
	return report, nil
}

// History returns the run records of a year.
func (r *Runner) History(ctx context.Context, year int) ([]Run, error) {
	return r.Runs.ListRuns(ctx, year)
}

// closeEmployee closes every category of one employee, sequentially.
func (r *Runner) closeEmployee(ctx context.Context, id ledger.EmployeeID, year int) Item {
	item := Item{EmployeeID: id}

	ct, contractErr := r.Contracts.ContractFor(ctx, id)
	for _, category := range Categories {
		run := r.closeCategory(ctx, id, category, year, ct, contractErr)
		item.Categories = append(item.Categories, run)
	}

	item.Status = StatusSkipped
	for _, run := range item.Categories {
		switch run.Status {
		case StatusFailed:
			item.Status = StatusFailed
		case StatusCompleted:
			if item.Status != StatusFailed {
				item.Status = StatusCompleted
			}
		}
	}
	return item
}

func (r *Runner) closeCategory(ctx context.Context, id ledger.EmployeeID, category ledger.Category, year int, ct contract.Type, contractErr error) Run {
	log := r.Logger.With("employee_id", id, "category", category, "year", year)
	key := ledger.BalanceKey{EmployeeID: id, Category: category, Year: year}

	if prev, ok, err := r.Runs.GetRun(ctx, year, id, category); err != nil {
		log.WarnContext(ctx, "carry-over run record unavailable", "error", err)
	} else if ok && prev.Status == StatusCompleted {
		prev.Status = StatusSkipped
		r.observe(category, StatusSkipped)
		return prev
	}

	run := Run{Year: year, EmployeeID: id, Category: category, Balance: decimal.Zero, Cap: decimal.Zero, CarriedOver: decimal.Zero, Expired: decimal.Zero}

	if contractErr != nil {
		return r.failed(ctx, log, run, &ledger.BalanceUnavailableError{Key: key, Err: fmt.Errorf("contract: %w", contractErr)})
	}
	capHours, _ := ct.CarryoverCap(category, r.PermissionRatio)
	run.Cap = capHours

	balance, err := r.Balances.Project(ctx, id, category, year)
	if err != nil {
		var unavailable *ledger.BalanceUnavailableError
		if !errors.As(err, &unavailable) {
			err = &ledger.BalanceUnavailableError{Key: key, Err: err}
		}
		return r.failed(ctx, log, run, err)
	}
	run.Balance = balance.Current

	res, err := Process(Input{EmployeeID: id, Category: category, CurrentBalance: balance.Current, MaxCarryover: capHours, Year: year})
	if err != nil {
		return r.failed(ctx, log, run, err)
	}
	run.CarriedOver = res.CarriedOver
	run.Expired = res.Expired

	if len(res.Transactions) > 0 {
		if _, err := r.Ledger.AppendBatch(ctx, res.Transactions); err != nil {
			if !errors.Is(err, ledger.ErrDuplicateIdempotencyKey) {
				return r.failed(ctx, log, run, err)
			}
			log.InfoContext(ctx, "carry-over already posted")
		}
	}

	run.Status = StatusCompleted
	run.ProcessedAt = r.Now().UTC()
	if err := r.Runs.SaveRun(ctx, run); err != nil {
		// The ledger keys still stop a double post on the next run.
		log.WarnContext(ctx, "carry-over run record not saved", "error", err)
	}
	log.DebugContext(ctx, "carry-over completed", "balance", run.Balance, "carried_over", run.CarriedOver, "expired", run.Expired)
	r.observe(category, StatusCompleted)
	return run
}

func (r *Runner) failed(ctx context.Context, log *slog.Logger, run Run, err error) Run {
	log.WarnContext(ctx, "carry-over failed", "error", err)
	run.Status = StatusFailed
	run.Error = err.Error()
	run.ProcessedAt = r.Now().UTC()
	if saveErr := r.Runs.SaveRun(ctx, run); saveErr != nil {
		log.WarnContext(ctx, "carry-over run record not saved", "error", saveErr)
	}
	r.observe(run.Category, StatusFailed)
	return run
}

func (r *Runner) observe(category ledger.Category, status Status) {
	if r.Recorder != nil {
		r.Recorder.CarryoverItem(string(category), string(status))
	}
}
