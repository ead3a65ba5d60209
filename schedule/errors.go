package schedule

import (
	"errors"
	"fmt"
	"time"
)

// ErrInvalidSchedule matches every InvalidScheduleError.
var ErrInvalidSchedule = errors.New("invalid schedule")

// InvalidScheduleError reports a malformed day configuration. Callers treat
// the day as non-working.
type InvalidScheduleError struct {
	Weekday time.Weekday
	Field   string
	Value   string
	Reason  string
}

func (e *InvalidScheduleError) Error() string {
	return fmt.Sprintf("invalid schedule for %s: %s=%q: %s", e.Weekday, e.Field, e.Value, e.Reason)
}

func (e *InvalidScheduleError) Unwrap() error { return ErrInvalidSchedule }

func invalid(wd time.Weekday, field, value, reason string) error {
	return &InvalidScheduleError{Weekday: wd, Field: field, Value: value, Reason: reason}
}
