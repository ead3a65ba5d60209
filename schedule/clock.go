package schedule

import (
	"errors"
	"fmt"
	"time"
)

// Clock is a time of day in minutes since midnight.
type Clock int

// ParseClock parses "HH:MM" or "HH:MM:SS". Seconds are dropped.
func ParseClock(s string) (Clock, error) {
	if len(s) != 5 && len(s) != 8 {
		return 0, errors.New("expected HH:MM")
	}
	if s[2] != ':' || (len(s) == 8 && s[5] != ':') {
		return 0, errors.New("expected HH:MM")
	}
	h, ok1 := twoDigits(s[0:2])
	m, ok2 := twoDigits(s[3:5])
	if !ok1 || !ok2 {
		return 0, errors.New("expected HH:MM")
	}
	if len(s) == 8 {
		sec, ok := twoDigits(s[6:8])
		if !ok || sec > 59 {
			return 0, errors.New("invalid seconds")
		}
	}
	if h > 23 || m > 59 {
		return 0, fmt.Errorf("%s is out of range", s)
	}
	return Clock(h*60 + m), nil
}

func twoDigits(s string) (int, bool) {
	if s[0] < '0' || s[0] > '9' || s[1] < '0' || s[1] > '9' {
		return 0, false
	}
	return int(s[0]-'0')*10 + int(s[1]-'0'), true
}

// ClockOf returns the time of day of t in t's location.
func ClockOf(t time.Time) Clock {
	return Clock(t.Hour()*60 + t.Minute())
}

// On returns the instant of c on the calendar day of date, in date's location.
func (c Clock) On(date time.Time) time.Time {
	y, mo, d := date.Date()
	return time.Date(y, mo, d, int(c)/60, int(c)%60, 0, 0, date.Location())
}

func (c Clock) String() string {
	return fmt.Sprintf("%02d:%02d", int(c)/60, int(c)%60)
}
