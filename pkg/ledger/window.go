package ledger

import (
	"fmt"
	"time"
)

// Reporting windows accepted by WindowStart.
const (
	WindowAll   = "all"
	WindowToday = "today"
	WindowWeek  = "week"
	WindowMonth = "month"
)

// WindowStart returns the start of a named reporting window ending at now.
// "today" starts at local midnight, "week" and "month" are the trailing 7
// and 30 days. "" and "all" return the zero time.
func WindowStart(window string, now time.Time) (time.Time, error) {
	switch window {
	case "", WindowAll:
		return time.Time{}, nil
	case WindowToday:
		y, m, d := now.Date()
		return time.Date(y, m, d, 0, 0, 0, 0, now.Location()), nil
	case WindowWeek:
		return now.AddDate(0, 0, -7), nil
	case WindowMonth:
		return now.AddDate(0, 0, -30), nil
	default:
		return time.Time{}, fmt.Errorf("unknown window %q (want today, week, month or all)", window)
	}
}

// ParseSince parses a user supplied start time: YYYY-MM-DD (local time) or
// RFC 3339.
func ParseSince(s string) (time.Time, error) {
	if t, err := time.ParseInLocation("2006-01-02", s, time.Local); err == nil {
		return t, nil
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	return time.Time{}, fmt.Errorf("invalid date %q (want YYYY-MM-DD or RFC 3339)", s)
}
