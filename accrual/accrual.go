/*
Package accrual posts the monthly vacation and permission accrual.

PURPOSE:
  Each month an employee earns a share of the contract's annual hours,
  proportional to the hours their schedule has them working that month:

    accrual = monthHours x annualHours / (weeklyHours x 52)

  rounded to two decimals. weeklyHours comes from the contract; contracts
  without weekly hours fall back to the schedule's own weekly total. A
  contract with no entitlement (cococo, internship) accrues nothing.

IDEMPOTENCE:
  One entry per employee, category and month, keyed
  accrual:<employee>:<category>:<year>:<month>. Running a month twice
  posts nothing new.

SEE ALSO:
  - contract/contract.go: AnnualHours
  - api/scheduler.go: Monthly trigger
*/
package accrual

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/hours-engine/contract"
	"github.com/warp/hours-engine/ledger"
	"github.com/warp/hours-engine/schedule"
)

// Roster lists the employees accrual runs for.
type Roster interface {
	ActiveEmployeeIDs(ctx context.Context) ([]ledger.EmployeeID, error)
}

// ContractSource resolves an employee's contract.
type ContractSource interface {
	ContractFor(ctx context.Context, employeeID ledger.EmployeeID) (contract.Type, error)
}

// ScheduleSource supplies an employee's weekly schedule.
type ScheduleSource interface {
	WeekFor(ctx context.Context, employeeID ledger.EmployeeID) (schedule.Week, error)
}

// Appender records one transaction. ledger.Ledger implements it.
type Appender interface {
	Append(ctx context.Context, tx ledger.Transaction) (ledger.TransactionID, error)
}

// Categories that accrue monthly.
var Categories = []ledger.Category{ledger.CategoryVacation, ledger.CategoryPermission}

var weeksPerYear = decimal.NewFromInt(52)

// MonthHours sums the expected hours of every date of the month. A day
// that fails to resolve counts as non-working; the total is still valid
// when err is non-nil, and err lists each malformed weekday once.
func MonthHours(week schedule.Week, year int, month time.Month) (decimal.Decimal, error) {
	total := decimal.Zero
	var errs []error
	reported := make(map[time.Weekday]bool)
	for d := ledger.Date(year, month, 1); d.Month() == month; d = d.AddDate(0, 0, 1) {
		day, err := schedule.ResolveDate(week, d)
		if err != nil {
			if !reported[d.Weekday()] {
				reported[d.Weekday()] = true
				errs = append(errs, err)
			}
			continue
		}
		total = total.Add(day.ExpectedHours)
	}
	return total, errors.Join(errs...)
}

// Amount computes the hours accrued for one month.
func Amount(monthHours, annualHours, weeklyHours decimal.Decimal) decimal.Decimal {
	if !weeklyHours.IsPositive() || !annualHours.IsPositive() || !monthHours.IsPositive() {
		return decimal.Zero
	}
	return monthHours.Mul(annualHours).Div(weeklyHours.Mul(weeksPerYear)).Round(2)
}

// IdempotencyKey is the ledger key of one monthly accrual.
func IdempotencyKey(employeeID ledger.EmployeeID, category ledger.Category, year int, month time.Month) string {
	return fmt.Sprintf("accrual:%s:%s:%d:%02d", employeeID, category, year, int(month))
}

// =============================================================================
// RUNNER
// =============================================================================

// Options selects the month to accrue.
type Options struct {
	Year       int
	Month      time.Month
	EmployeeID ledger.EmployeeID
}

// Entry is the outcome for one employee category.
type Entry struct {
	EmployeeID ledger.EmployeeID `json:"employee_id"`
	Category   ledger.Category   `json:"category"`
	Hours      decimal.Decimal   `json:"hours"`
	Status     string            `json:"status"` // posted, skipped, failed
	Error      string            `json:"error,omitempty"`
}

// Report summarizes a monthly run.
type Report struct {
	Year    int        `json:"year"`
	Month   time.Month `json:"month"`
	Posted  int        `json:"posted"`
	Skipped int        `json:"skipped"`
	Failed  int        `json:"failed"`
	Entries []Entry    `json:"entries"`
}

func (r *Report) add(e Entry) {
	switch e.Status {
	case "posted":
		r.Posted++
	case "skipped":
		r.Skipped++
	default:
		r.Failed++
	}
	r.Entries = append(r.Entries, e)
}

// Runner posts monthly accruals.
type Runner struct {
	Roster    Roster
	Contracts ContractSource
	Schedules ScheduleSource
	Ledger    Appender
	Logger    *slog.Logger
	Now       func() time.Time
	Location  *time.Location
}

// NewRunner wires a Runner.
func NewRunner(roster Roster, contracts ContractSource, schedules ScheduleSource, appender Appender, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{
		Roster:    roster,
		Contracts: contracts,
		Schedules: schedules,
		Ledger:    appender,
		Logger:    logger,
		Now:       time.Now,
		Location:  time.UTC,
	}
}

// Run accrues one month. A zero Year or Month means the month before now.
func (r *Runner) Run(ctx context.Context, opts Options) (*Report, error) {
	if opts.Year == 0 || opts.Month == 0 {
		prev := r.Now().In(r.Location).AddDate(0, -1, 0)
		opts.Year, opts.Month = prev.Year(), prev.Month()
	}
	if opts.Month < time.January || opts.Month > time.December {
		return nil, fmt.Errorf("invalid accrual month %d", opts.Month)
	}

	employees := []ledger.EmployeeID{opts.EmployeeID}
	if opts.EmployeeID == "" {
		ids, err := r.Roster.ActiveEmployeeIDs(ctx)
		if err != nil {
			return nil, fmt.Errorf("list employees: %w", err)
		}
		employees = ids
	}

	report := &Report{Year: opts.Year, Month: opts.Month}
	for _, id := range employees {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		for _, e := range r.accrueEmployee(ctx, id, opts.Year, opts.Month) {
			report.add(e)
		}
	}

	r.Logger.InfoContext(ctx, "monthly accrual finished",
		"year", opts.Year, "month", int(opts.Month),
		"posted", report.Posted, "skipped", report.Skipped, "failed", report.Failed)
	return report, nil
}

func (r *Runner) accrueEmployee(ctx context.Context, id ledger.EmployeeID, year int, month time.Month) []Entry {
	log := r.Logger.With("employee_id", id, "year", year, "month", int(month))
	failAll := func(err error) []Entry {
		log.WarnContext(ctx, "monthly accrual failed", "error", err)
		out := make([]Entry, 0, len(Categories))
		for _, c := range Categories {
			out = append(out, Entry{EmployeeID: id, Category: c, Hours: decimal.Zero, Status: "failed", Error: err.Error()})
		}
		return out
	}

	ct, err := r.Contracts.ContractFor(ctx, id)
	if err != nil {
		return failAll(fmt.Errorf("contract: %w", err))
	}
	week, err := r.Schedules.WeekFor(ctx, id)
	if err != nil {
		return failAll(fmt.Errorf("schedule: %w", err))
	}
	monthHours, err := MonthHours(week, year, month)
	if err != nil {
		log.WarnContext(ctx, "malformed schedule days accrue nothing", "error", err)
	}
	weekly := ct.WeeklyHours
	if !weekly.IsPositive() {
		weekly = week.WeeklyHours()
	}

	out := make([]Entry, 0, len(Categories))
	for _, c := range Categories {
		entry := Entry{EmployeeID: id, Category: c, Hours: Amount(monthHours, ct.AnnualHours(c), weekly)}
		if !entry.Hours.IsPositive() {
			entry.Status = "skipped"
			out = append(out, entry)
			continue
		}

		lastDay := ledger.Date(year, month+1, 0)
		_, err := r.Ledger.Append(ctx, ledger.Transaction{
			EmployeeID:     id,
			Category:       c,
			Type:           ledger.TxAccrual,
			Hours:          entry.Hours,
			Date:           lastDay,
			PeriodYear:     year,
			PeriodMonth:    int(month),
			Reason:         fmt.Sprintf("monthly %s accrual %d-%02d (%s contract)", c, year, int(month), ct.Name),
			IdempotencyKey: IdempotencyKey(id, c, year, month),
			CreatedBy:      "accrual",
		})
		switch {
		case errors.Is(err, ledger.ErrDuplicateIdempotencyKey):
			entry.Status = "skipped"
		case err != nil:
			log.WarnContext(ctx, "monthly accrual failed", "category", c, "error", err)
			entry.Status = "failed"
			entry.Error = err.Error()
		default:
			entry.Status = "posted"
		}
		out = append(out, entry)
	}
	return out
}
