/*
autosave.go - Hourly attendance save and daily finalization

PURPOSE:
  Persists real-time figures so no worked hour is lost when nobody has the
  portal open.

  SaveHourly   every hour, stores today's snapshot as the employee's
               attendance record for the day (only when actual > 0 and the
               record has not been corrected by hand).
  FinalizeDay  once per day, closes yesterday: takes the recorded actual
               hours (a manual correction wins over the schedule), posts
               the signed difference to the overtime ledger, and marks the
               record final.

IDEMPOTENCE:
  Each save claims a bucket first:
    hourly:<employee>:<date>:<hour>   TTL 2h
    daily:<employee>:<date>           TTL 48h
  A second trigger in the same bucket is skipped. The overtime transaction
  also carries the idempotency key attendance:<employee>:<date>, so even a
  lost bucket cannot post the same day twice.

FAILURES:
  A failed write releases its bucket and is queued as pending. Pending saves
  are retried at the start of the next run. Ledger failures are never
  swallowed: they are counted, logged and kept pending until they succeed.

SEE ALSO:
  - calculator.go: Compute
  - api/scheduler.go: cron triggers
*/
package realtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/hours-engine/ledger"
	"github.com/warp/hours-engine/schedule"
)

// =============================================================================
// COLLABORATORS
// =============================================================================

// Roster lists the employees auto-save runs for.
type Roster interface {
	ActiveEmployeeIDs(ctx context.Context) ([]ledger.EmployeeID, error)
}

// ScheduleSource supplies an employee's weekly schedule.
type ScheduleSource interface {
	WeekFor(ctx context.Context, employeeID ledger.EmployeeID) (schedule.Week, error)
}

// AttendanceStore persists one attendance record per employee and date.
type AttendanceStore interface {
	GetAttendance(ctx context.Context, employeeID ledger.EmployeeID, date time.Time) (Attendance, bool, error)
	SaveAttendance(ctx context.Context, a Attendance) error
}

// Appender is the ledger write path.
type Appender interface {
	Append(ctx context.Context, tx ledger.Transaction) (ledger.TransactionID, error)
}

// SaveRecorder receives one observation per save attempt.
type SaveRecorder interface {
	AutoSave(kind, result string)
}

// AttendanceSource tells whether a record came from auto-save or a person.
type AttendanceSource string

const (
	SourceAuto   AttendanceSource = "auto"
	SourceManual AttendanceSource = "manual"
)

// Attendance is the saved state of one employee's day.
type Attendance struct {
	EmployeeID    ledger.EmployeeID
	Date          time.Time
	ActualHours   decimal.Decimal
	ExpectedHours decimal.Decimal
	BalanceHours  decimal.Decimal
	Status        Status
	Source        AttendanceSource
	Finalized     bool
	Notes         string
	UpdatedAt     time.Time
}

// =============================================================================
// AUTO SAVER
// =============================================================================

const (
	KindHourly = "hourly"
	KindDaily  = "daily"

	hourlyTTL = 2 * time.Hour
	dailyTTL  = 48 * time.Hour
)

// PendingSave is a save that failed and will be retried.
type PendingSave struct {
	Kind       string
	EmployeeID ledger.EmployeeID
	Date       time.Time
	At         time.Time
	Attempts   int
	LastError  string
}

// SaveReport summarises one run.
type SaveReport struct {
	Kind      string    `json:"kind"`
	At        time.Time `json:"at"`
	Processed int       `json:"processed"`
	Saved     int       `json:"saved"`
	Skipped   int       `json:"skipped"`
	Failed    int       `json:"failed"`
	Retried   int       `json:"retried"`
	Pending   int       `json:"pending"`
}

type outcome int

const (
	outcomeSaved outcome = iota
	outcomeSkipped
	outcomeFailed
)

func (r *SaveReport) tally(o outcome) {
	switch o {
	case outcomeSaved:
		r.Saved++
	case outcomeSkipped:
		r.Skipped++
	case outcomeFailed:
		r.Failed++
	}
}

// AutoSaver runs the hourly save and daily finalization.
type AutoSaver struct {
	Roster     Roster
	Schedules  ScheduleSource
	Attendance AttendanceStore
	Ledger     Appender
	Buckets    Buckets
	Logger     *slog.Logger
	Location   *time.Location
	Recorder   SaveRecorder
	Now        func() time.Time

	mu      sync.Mutex
	pending map[string]PendingSave
}

// NewAutoSaver wires an AutoSaver. loc is the company time zone.
func NewAutoSaver(roster Roster, schedules ScheduleSource, attendance AttendanceStore, appender Appender, buckets Buckets, loc *time.Location, logger *slog.Logger) *AutoSaver {
	if logger == nil {
		logger = slog.Default()
	}
	if loc == nil {
		loc = time.UTC
	}
	if buckets == nil {
		buckets = NewMemoryBuckets()
	}
	return &AutoSaver{
		Roster:     roster,
		Schedules:  schedules,
		Attendance: attendance,
		Ledger:     appender,
		Buckets:    buckets,
		Logger:     logger,
		Location:   loc,
		Now:        time.Now,
		pending:    make(map[string]PendingSave),
	}
}

// SaveHourly saves the current snapshot of every active employee.
func (a *AutoSaver) SaveHourly(ctx context.Context, now time.Time) (SaveReport, error) {
	now = now.In(a.Location)
	report := SaveReport{Kind: KindHourly, At: now}
	a.retryPending(ctx, &report)

	ids, err := a.Roster.ActiveEmployeeIDs(ctx)
	if err != nil {
		return report, fmt.Errorf("list employees: %w", err)
	}
	for _, id := range ids {
		report.Processed++
		report.tally(a.saveHourly(ctx, id, now))
	}
	report.Pending = a.pendingCount()

	a.Logger.InfoContext(ctx, "hourly attendance save",
		"at", now.Format(time.RFC3339),
		"processed", report.Processed,
		"saved", report.Saved,
		"skipped", report.Skipped,
		"failed", report.Failed,
		"pending", report.Pending,
	)
	return report, nil
}

// FinalizeDay closes day for every active employee.
func (a *AutoSaver) FinalizeDay(ctx context.Context, day time.Time) (SaveReport, error) {
	date := ledger.DateOf(day.In(a.Location))
	report := SaveReport{Kind: KindDaily, At: date}
	a.retryPending(ctx, &report)

	ids, err := a.Roster.ActiveEmployeeIDs(ctx)
	if err != nil {
		return report, fmt.Errorf("list employees: %w", err)
	}
	for _, id := range ids {
		report.Processed++
		report.tally(a.finalize(ctx, id, date))
	}
	report.Pending = a.pendingCount()

	a.Logger.InfoContext(ctx, "daily attendance finalization",
		"date", date.Format(ledger.DateLayout),
		"processed", report.Processed,
		"saved", report.Saved,
		"skipped", report.Skipped,
		"failed", report.Failed,
		"pending", report.Pending,
	)
	return report, nil
}

// Pending returns the saves waiting for a retry, oldest first.
func (a *AutoSaver) Pending() []PendingSave {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]PendingSave, 0, len(a.pending))
	for _, p := range a.pending {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].At.Before(out[j].At) })
	return out
}

// =============================================================================
// HOURLY
// =============================================================================

func (a *AutoSaver) saveHourly(ctx context.Context, id ledger.EmployeeID, now time.Time) outcome {
	date := ledger.DateOf(now)
	bucket := fmt.Sprintf("hourly:%s:%s:%02d", id, date.Format(ledger.DateLayout), now.Hour())
	log := a.Logger.With("employee_id", id, "bucket", bucket)

	if !a.claim(ctx, bucket, hourlyTTL, log) {
		return a.observe(KindHourly, outcomeSkipped)
	}

	week, err := a.Schedules.WeekFor(ctx, id)
	if err != nil {
		return a.fail(ctx, KindHourly, bucket, PendingSave{Kind: KindHourly, EmployeeID: id, Date: date, At: now}, fmt.Errorf("load schedule: %w", err))
	}

	snap, err := Compute(week, now)
	if err != nil {
		log.WarnContext(ctx, "skipping hourly save: invalid schedule", "error", err)
		return a.observe(KindHourly, outcomeSkipped)
	}
	if !snap.ActualHours.IsPositive() {
		a.release(ctx, bucket)
		return a.observe(KindHourly, outcomeSkipped)
	}

	existing, ok, err := a.Attendance.GetAttendance(ctx, id, date)
	if err != nil {
		return a.fail(ctx, KindHourly, bucket, PendingSave{Kind: KindHourly, EmployeeID: id, Date: date, At: now}, fmt.Errorf("load attendance: %w", err))
	}
	if ok && (existing.Source == SourceManual || existing.Finalized) {
		return a.observe(KindHourly, outcomeSkipped)
	}

	rec := Attendance{
		EmployeeID:    id,
		Date:          date,
		ActualHours:   snap.ActualHours,
		ExpectedHours: snap.ExpectedHours,
		BalanceHours:  snap.BalanceHours,
		Status:        snap.Status,
		Source:        SourceAuto,
		UpdatedAt:     now.UTC(),
	}
	if err := a.Attendance.SaveAttendance(ctx, rec); err != nil {
		return a.fail(ctx, KindHourly, bucket, PendingSave{Kind: KindHourly, EmployeeID: id, Date: date, At: now}, fmt.Errorf("save attendance: %w", err))
	}
	return a.observe(KindHourly, outcomeSaved)
}

// =============================================================================
// DAILY
// =============================================================================

func (a *AutoSaver) finalize(ctx context.Context, id ledger.EmployeeID, date time.Time) outcome {
	bucket := fmt.Sprintf("daily:%s:%s", id, date.Format(ledger.DateLayout))
	log := a.Logger.With("employee_id", id, "bucket", bucket)
	pending := PendingSave{Kind: KindDaily, EmployeeID: id, Date: date, At: date}

	if !a.claim(ctx, bucket, dailyTTL, log) {
		return a.observe(KindDaily, outcomeSkipped)
	}

	existing, ok, err := a.Attendance.GetAttendance(ctx, id, date)
	if err != nil {
		return a.fail(ctx, KindDaily, bucket, pending, fmt.Errorf("load attendance: %w", err))
	}
	if ok && existing.Finalized {
		return a.observe(KindDaily, outcomeSkipped)
	}

	week, err := a.Schedules.WeekFor(ctx, id)
	if err != nil {
		return a.fail(ctx, KindDaily, bucket, pending, fmt.Errorf("load schedule: %w", err))
	}
	endOfDay := time.Date(date.Year(), date.Month(), date.Day(), 23, 59, 0, 0, a.Location)
	snap, err := Compute(week, endOfDay)
	if err != nil {
		log.WarnContext(ctx, "skipping finalization: invalid schedule", "error", err)
		return a.observe(KindDaily, outcomeSkipped)
	}

	manual := ok && existing.Source == SourceManual
	if !snap.IsWorkingDay && !manual {
		return a.observe(KindDaily, outcomeSkipped)
	}

	actual := snap.ActualHours
	source := SourceAuto
	if manual {
		actual = existing.ActualHours
		source = SourceManual
	}
	delta := actual.Sub(snap.ContractHours)

	if !delta.IsZero() {
		tx := ledger.Transaction{
			EmployeeID:     id,
			Category:       ledger.CategoryOvertime,
			Type:           ledger.TxAccrual,
			Hours:          delta.Abs(),
			Date:           date,
			PeriodYear:     date.Year(),
			PeriodMonth:    int(date.Month()),
			Reason:         fmt.Sprintf("daily attendance balance %s", date.Format(ledger.DateLayout)),
			IdempotencyKey: fmt.Sprintf("attendance:%s:%s", id, date.Format(ledger.DateLayout)),
			CreatedBy:      "autosave",
		}
		if delta.IsNegative() {
			tx.Type = ledger.TxUsage
		}
		if _, err := a.Ledger.Append(ctx, tx); err != nil && !errors.Is(err, ledger.ErrDuplicateIdempotencyKey) {
			return a.fail(ctx, KindDaily, bucket, pending, err)
		}
	}

	rec := Attendance{
		EmployeeID:    id,
		Date:          date,
		ActualHours:   actual,
		ExpectedHours: snap.ContractHours,
		BalanceHours:  delta,
		Status:        StatusCompleted,
		Source:        source,
		Finalized:     true,
		UpdatedAt:     a.Now().UTC(),
	}
	if manual {
		rec.Notes = existing.Notes
	}
	if err := a.Attendance.SaveAttendance(ctx, rec); err != nil {
		return a.fail(ctx, KindDaily, bucket, pending, fmt.Errorf("save attendance: %w", err))
	}
	return a.observe(KindDaily, outcomeSaved)
}

// =============================================================================
// BOOKKEEPING
// =============================================================================

func (a *AutoSaver) claim(ctx context.Context, bucket string, ttl time.Duration, log *slog.Logger) bool {
	claimed, err := a.Buckets.Claim(ctx, bucket, ttl)
	if err != nil {
		// Saves are upserts and ledger posts carry idempotency keys, so
		// proceeding without a claim cannot double count.
		log.WarnContext(ctx, "bucket claim failed, saving without de-duplication", "error", err)
		return true
	}
	return claimed
}

func (a *AutoSaver) release(ctx context.Context, bucket string) {
	if err := a.Buckets.Release(ctx, bucket); err != nil {
		a.Logger.WarnContext(ctx, "bucket release failed", "bucket", bucket, "error", err)
	}
}

func (a *AutoSaver) fail(ctx context.Context, kind, bucket string, p PendingSave, err error) outcome {
	a.release(ctx, bucket)

	key := pendingKey(p)
	a.mu.Lock()
	if prev, ok := a.pending[key]; ok {
		p.Attempts = prev.Attempts
	}
	p.Attempts++
	p.LastError = err.Error()
	a.pending[key] = p
	a.mu.Unlock()

	a.Logger.ErrorContext(ctx, "auto-save failed, marked pending",
		"kind", kind,
		"employee_id", p.EmployeeID,
		"date", p.Date.Format(ledger.DateLayout),
		"attempts", p.Attempts,
		"error", err,
	)
	return a.observe(kind, outcomeFailed)
}

func (a *AutoSaver) retryPending(ctx context.Context, report *SaveReport) {
	for _, p := range a.Pending() {
		var o outcome
		switch p.Kind {
		case KindHourly:
			o = a.saveHourly(ctx, p.EmployeeID, p.At)
		case KindDaily:
			o = a.finalize(ctx, p.EmployeeID, p.Date)
		}
		report.Retried++
		if o != outcomeFailed {
			a.mu.Lock()
			delete(a.pending, pendingKey(p))
			a.mu.Unlock()
		}
	}
}

func (a *AutoSaver) pendingCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.pending)
}

func (a *AutoSaver) observe(kind string, o outcome) outcome {
	if a.Recorder != nil {
		result := map[outcome]string{outcomeSaved: "saved", outcomeSkipped: "skipped", outcomeFailed: "failed"}[o]
		a.Recorder.AutoSave(kind, result)
	}
	return o
}

func pendingKey(p PendingSave) string {
	if p.Kind == KindHourly {
		return fmt.Sprintf("%s:%s:%s", p.Kind, p.EmployeeID, p.At.Format("2006-01-02T15"))
	}
	return fmt.Sprintf("%s:%s:%s", p.Kind, p.EmployeeID, p.Date.Format(ledger.DateLayout))
}
