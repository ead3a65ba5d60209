/*
Package realtime computes "hours worked today" from a weekly schedule and
an explicit point in time, and persists those figures periodically.

PURPOSE:
  Compute is a pure function of (schedule, now). It never accumulates:
  the figures come from where now sits relative to the day's boundaries,
  so polling every minute, reloading, or evaluating the same instant
  twice always yields the same snapshot.

TIMELINE OF A FULL DAY (09:00-18:00, break 13:00-14:00):

  08:30  not_started  actual 0.0  remaining 8.0  balance -8.0
  11:00  working      actual 2.0  remaining 6.0  balance -6.0
  13:30  on_break     actual 4.0  remaining 4.0  balance -4.0
  14:30  working      actual 4.5  remaining 3.5  balance -3.5
  18:00  completed    actual 8.0  remaining 0.0  balance  0.0

BREAK HANDLING:
  Only the part of the break that has already elapsed is subtracted, so
  the figure holds still during the break instead of dropping. Once the
  break is over the full break duration is subtracted.

OVERRIDES:
  An approved late entry or early exit moves the effective start or end.
  Contract hours stay those of the schedule, so the day closes with a
  negative balance equal to the hours not worked.

ROUNDING:
  actual, remaining and balance are rounded to one decimal. Expected
  hours carry two decimals (7h40m = 7.67).

SEE ALSO:
  - schedule/schedule.go: ResolveDay
  - autosave.go: hourly save and daily finalization
*/
package realtime

import (
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/hours-engine/ledger"
	"github.com/warp/hours-engine/schedule"
)

// Status is the position of now within the working day.
type Status string

const (
	StatusNotStarted Status = "not_started"
	StatusWorking    Status = "working"
	StatusOnBreak    Status = "on_break"
	StatusCompleted  Status = "completed"
)

// Snapshot is the state of one working day at one instant.
type Snapshot struct {
	Date         time.Time
	IsWorkingDay bool
	WorkType     schedule.WorkType
	Status       Status

	ActualHours    decimal.Decimal
	ExpectedHours  decimal.Decimal
	ContractHours  decimal.Decimal
	RemainingHours decimal.Decimal
	BalanceHours   decimal.Decimal

	Start      string
	End        string
	BreakStart string
	BreakEnd   string
}

// Override moves the effective start (late entry) or end (early exit) of
// the day. Empty fields keep the scheduled time.
type Override struct {
	EntryTime string
	ExitTime  string
}

func (o *Override) empty() bool { return o == nil || (o.EntryTime == "" && o.ExitTime == "") }

// Compute returns today's snapshot for now, in now's location.
//
// A malformed schedule yields a non-working snapshot together with the
// *schedule.InvalidScheduleError, so callers can show "no data".
func Compute(week schedule.Week, now time.Time) (Snapshot, error) {
	return ComputeWithOverride(week, now, nil)
}

// ComputeWithOverride is Compute with an optional late entry / early exit.
func ComputeWithOverride(week schedule.Week, now time.Time, ov *Override) (Snapshot, error) {
	snap := Snapshot{
		Date:           ledger.DateOf(now),
		Status:         StatusNotStarted,
		WorkType:       schedule.WorkNone,
		ActualHours:    decimal.Zero,
		ExpectedHours:  decimal.Zero,
		ContractHours:  decimal.Zero,
		RemainingHours: decimal.Zero,
		BalanceHours:   decimal.Zero,
	}

	day, err := schedule.ResolveDate(week, now)
	if err != nil {
		return snap, err
	}
	if !day.IsWorkingDay {
		return snap, nil
	}

	start, end := day.Start, day.End
	if !ov.empty() {
		if ov.EntryTime != "" {
			if start, err = schedule.ParseClock(ov.EntryTime); err != nil {
				return snap, &schedule.InvalidScheduleError{Weekday: day.Weekday, Field: "entry_time", Value: ov.EntryTime, Reason: err.Error()}
			}
		}
		if ov.ExitTime != "" {
			if end, err = schedule.ParseClock(ov.ExitTime); err != nil {
				return snap, &schedule.InvalidScheduleError{Weekday: day.Weekday, Field: "exit_time", Value: ov.ExitTime, Reason: err.Error()}
			}
		}
	}

	contract := day.ExpectedHours
	snap.IsWorkingDay = true
	snap.WorkType = day.WorkType
	snap.ContractHours = contract
	snap.Start = start.String()
	snap.End = end.String()
	if day.HasBreak() {
		snap.BreakStart = day.BreakStart.String()
		snap.BreakEnd = day.BreakEnd.String()
	}

	if end <= start {
		// Whole shift covered by the override.
		snap.RemainingHours = contract.Round(1)
		snap.BalanceHours = contract.Neg().Round(1)
		return snap, nil
	}

	breakInShift := overlap(start, end, day.BreakStart, day.BreakEnd)
	expectedMinutes := int(end-start) - breakInShift
	expected := contract
	if !ov.empty() {
		expected = minutesToHours(expectedMinutes).Round(2)
	}
	snap.ExpectedHours = expected

	c := schedule.ClockOf(now)
	var actual decimal.Decimal
	switch {
	case c < start:
		actual = decimal.Zero
		snap.Status = StatusNotStarted
	case c < end:
		worked := int(c-start) - overlap(start, c, day.BreakStart, day.BreakEnd)
		if worked < 0 {
			worked = 0
		}
		actual = minutesToHours(worked).Round(1)
		snap.Status = StatusWorking
		if day.HasBreak() && c >= day.BreakStart && c < day.BreakEnd {
			snap.Status = StatusOnBreak
		}
	default:
		actual = expected
		snap.Status = StatusCompleted
	}

	snap.ActualHours = actual.Round(1)
	if snap.Status == StatusCompleted {
		snap.ActualHours = actual
		snap.RemainingHours = decimal.Zero
	} else {
		snap.RemainingHours = decimal.Max(decimal.Zero, expected.Sub(actual)).Round(1)
	}
	snap.BalanceHours = snap.ActualHours.Sub(contract).Round(1)
	return snap, nil
}

// overlap returns the minutes [a1,a2) and [b1,b2) share.
func overlap(a1, a2, b1, b2 schedule.Clock) int {
	if b2 <= b1 {
		return 0
	}
	lo, hi := a1, a2
	if b1 > lo {
		lo = b1
	}
	if b2 < hi {
		hi = b2
	}
	if hi <= lo {
		return 0
	}
	return int(hi - lo)
}

func minutesToHours(m int) decimal.Decimal {
	return decimal.NewFromInt(int64(m)).Div(decimal.NewFromInt(60))
}
