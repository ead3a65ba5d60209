/*
Package schedule resolves an employee's weekly work schedule into concrete
working windows for a given day.

PURPOSE:
  A Week holds one DaySchedule per weekday (0 = Sunday ... 6 = Saturday).
  ResolveDay turns the configured strings into a Day with parsed clock
  times, break window and expected hours. The real-time calculator and the
  monthly accrual both read schedules only through ResolveDay.

WORK TYPES:
  none        not a working day, expected 0
  morning     one segment, no break, expected = end - start
  afternoon   one segment, no break, expected = end - start
  full_day    morning + afternoon split by a break,
              expected = (end - start) - break

BREAK PLACEMENT (full_day):
  If BreakStartTime is empty the break is centred on the shift:
    breakStart = start + (end - start)/2 - duration/2

TIME FORMAT:
  "HH:MM", 24h. A trailing ":SS" (as stored by some databases) is accepted
  and ignored. Anything else is an InvalidScheduleError.

SEE ALSO:
  - realtime/calculator.go: consumes Day
  - accrual/accrual.go: sums expected hours over a month
*/
package schedule

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// TYPES
// =============================================================================

// WorkType is the shape of a working day.
type WorkType string

const (
	WorkNone      WorkType = "none"
	WorkMorning   WorkType = "morning"
	WorkAfternoon WorkType = "afternoon"
	WorkFullDay   WorkType = "full_day"
)

func (w WorkType) Valid() bool {
	switch w {
	case WorkNone, WorkMorning, WorkAfternoon, WorkFullDay:
		return true
	}
	return false
}

// DaySchedule is the configured schedule of one weekday, as supplied by the
// schedule configuration collaborator.
type DaySchedule struct {
	DayOfWeek            time.Weekday `json:"day_of_week"`
	IsWorkingDay         bool         `json:"is_working_day"`
	WorkType             WorkType     `json:"work_type"`
	StartTime            string       `json:"start_time,omitempty"`
	EndTime              string       `json:"end_time,omitempty"`
	BreakStartTime       string       `json:"break_start_time,omitempty"`
	BreakDurationMinutes int          `json:"break_duration_minutes"`
}

// Week is an employee's weekly schedule. Missing weekdays are non-working.
type Week []DaySchedule

// For returns the configured schedule of wd, or a non-working day.
func (w Week) For(wd time.Weekday) DaySchedule {
	for _, d := range w {
		if d.DayOfWeek == wd {
			return d
		}
	}
	return DaySchedule{DayOfWeek: wd, WorkType: WorkNone}
}

// Day is a resolved schedule with parsed clock times.
type Day struct {
	Weekday       time.Weekday
	IsWorkingDay  bool
	WorkType      WorkType
	Start         Clock
	End           Clock
	BreakStart    Clock
	BreakEnd      Clock
	BreakMinutes  int
	ExpectedHours decimal.Decimal
}

// HasBreak reports whether the day has a break window.
func (d Day) HasBreak() bool { return d.BreakMinutes > 0 && d.BreakEnd > d.BreakStart }

// ExpectedMinutes is the scheduled work time excluding the break.
func (d Day) ExpectedMinutes() int {
	if !d.IsWorkingDay {
		return 0
	}
	return int(d.End-d.Start) - d.BreakMinutes
}

func notWorking(wd time.Weekday) Day {
	return Day{Weekday: wd, WorkType: WorkNone, ExpectedHours: decimal.Zero}
}

// =============================================================================
// RESOLVER
// =============================================================================

// ResolveDay resolves the schedule of weekday wd.
//
// On error the returned Day is a non-working day, so callers that only
// log the error still behave correctly.
func ResolveDay(week Week, wd time.Weekday) (Day, error) {
	ds := week.For(wd)
	if !ds.IsWorkingDay {
		return notWorking(wd), nil
	}

	workType := ds.WorkType
	if workType == "" {
		workType = WorkFullDay
	}
	if !workType.Valid() || workType == WorkNone {
		return notWorking(wd), invalid(wd, "work_type", string(ds.WorkType), "working day needs morning, afternoon or full_day")
	}

	start, err := ParseClock(ds.StartTime)
	if err != nil {
		return notWorking(wd), invalid(wd, "start_time", ds.StartTime, err.Error())
	}
	end, err := ParseClock(ds.EndTime)
	if err != nil {
		return notWorking(wd), invalid(wd, "end_time", ds.EndTime, err.Error())
	}
	if end <= start {
		return notWorking(wd), invalid(wd, "end_time", ds.EndTime, "must be after start_time")
	}

	day := Day{
		Weekday:      wd,
		IsWorkingDay: true,
		WorkType:     workType,
		Start:        start,
		End:          end,
	}

	if workType == WorkFullDay {
		if ds.BreakDurationMinutes < 0 {
			return notWorking(wd), invalid(wd, "break_duration_minutes", fmt.Sprint(ds.BreakDurationMinutes), "must not be negative")
		}
		if ds.BreakDurationMinutes >= int(end-start) {
			return notWorking(wd), invalid(wd, "break_duration_minutes", fmt.Sprint(ds.BreakDurationMinutes), "must be shorter than the shift")
		}
		if ds.BreakDurationMinutes > 0 {
			breakStart := start + (end-start)/2 - Clock(ds.BreakDurationMinutes/2)
			if ds.BreakStartTime != "" {
				if breakStart, err = ParseClock(ds.BreakStartTime); err != nil {
					return notWorking(wd), invalid(wd, "break_start_time", ds.BreakStartTime, err.Error())
				}
			}
			breakEnd := breakStart + Clock(ds.BreakDurationMinutes)
			if breakStart <= start || breakEnd >= end {
				return notWorking(wd), invalid(wd, "break_start_time", breakStart.String(), "break must fall inside the shift")
			}
			day.BreakStart = breakStart
			day.BreakEnd = breakEnd
			day.BreakMinutes = ds.BreakDurationMinutes
		}
	}

	day.ExpectedHours = minutesToHours(day.ExpectedMinutes())
	return day, nil
}

// ResolveDate resolves the weekday of date.
func ResolveDate(week Week, date time.Time) (Day, error) {
	return ResolveDay(week, date.Weekday())
}

// Validate checks every configured day against the schedule invariants:
// non-working days carry no times, working days resolve cleanly, and each
// weekday appears at most once.
func (w Week) Validate() error {
	seen := make(map[time.Weekday]bool, len(w))
	for _, d := range w {
		if d.DayOfWeek < time.Sunday || d.DayOfWeek > time.Saturday {
			return invalid(d.DayOfWeek, "day_of_week", fmt.Sprint(int(d.DayOfWeek)), "must be between 0 and 6")
		}
		if seen[d.DayOfWeek] {
			return invalid(d.DayOfWeek, "day_of_week", d.DayOfWeek.String(), "appears twice")
		}
		seen[d.DayOfWeek] = true

		if !d.IsWorkingDay {
			if d.WorkType != "" && d.WorkType != WorkNone {
				return invalid(d.DayOfWeek, "work_type", string(d.WorkType), "non-working day must be none")
			}
			if d.StartTime != "" || d.EndTime != "" || d.BreakStartTime != "" || d.BreakDurationMinutes != 0 {
				return invalid(d.DayOfWeek, "start_time", d.StartTime, "non-working day must not have times")
			}
			continue
		}
		if _, err := ResolveDay(w, d.DayOfWeek); err != nil {
			return err
		}
	}
	return nil
}

// WeeklyMinutes sums the expected minutes of every resolvable day.
// Days that fail to resolve count as zero.
func (w Week) WeeklyMinutes() int {
	total := 0
	for wd := time.Sunday; wd <= time.Saturday; wd++ {
		d, err := ResolveDay(w, wd)
		if err != nil {
			continue
		}
		total += d.ExpectedMinutes()
	}
	return total
}

// WeeklyHours is WeeklyMinutes in hours.
func (w Week) WeeklyHours() decimal.Decimal { return minutesToHours(w.WeeklyMinutes()) }

// StandardWeek is Monday to Friday, 09:00-18:00 with a 13:00 one-hour break.
func StandardWeek() Week {
	week := make(Week, 0, 7)
	for wd := time.Sunday; wd <= time.Saturday; wd++ {
		if wd == time.Sunday || wd == time.Saturday {
			week = append(week, DaySchedule{DayOfWeek: wd, WorkType: WorkNone})
			continue
		}
		week = append(week, DaySchedule{
			DayOfWeek:            wd,
			IsWorkingDay:         true,
			WorkType:             WorkFullDay,
			StartTime:            "09:00",
			EndTime:              "18:00",
			BreakStartTime:       "13:00",
			BreakDurationMinutes: 60,
		})
	}
	return week
}

func minutesToHours(m int) decimal.Decimal {
	return decimal.NewFromInt(int64(m)).Div(decimal.NewFromInt(60)).Round(2)
}
