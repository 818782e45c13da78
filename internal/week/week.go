// Package week defines the Monday-start week cycle used for goal accounting.
//
// Every component derives "this week" from these functions so the ledger,
// the weekly counter and the reminder jobs always agree on the boundaries.
package week

import (
	"fmt"
	"time"
)

// DateLayout is the calendar-day format used for record and stats keys.
const DateLayout = "2006-01-02"

// Cycle is the closed Monday..Sunday window containing a given day.
type Cycle struct {
	Start time.Time
	End   time.Time
}

// StartDate returns the Monday of the cycle formatted as YYYY-MM-DD.
func (c Cycle) StartDate() string { return FormatDate(c.Start) }

// EndDate returns the Sunday of the cycle formatted as YYYY-MM-DD.
func (c Cycle) EndDate() string { return FormatDate(c.End) }

// Contains reports whether the YYYY-MM-DD date falls inside the cycle.
// Zero-padded ISO dates order lexicographically the same as chronologically.
func (c Cycle) Contains(date string) bool {
	return date >= c.StartDate() && date <= c.EndDate()
}

// Of returns the cycle containing t.
func Of(t time.Time) Cycle {
	start := Start(t)
	return Cycle{Start: start, End: start.AddDate(0, 0, 6)}
}

// Day truncates t to midnight in its own location.
func Day(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

// Start returns midnight of the Monday at or before t.
func Start(t time.Time) time.Time {
	offset := (int(t.Weekday()) + 6) % 7
	return Day(t).AddDate(0, 0, -offset)
}

// End returns midnight of the Sunday that closes t's week.
func End(t time.Time) time.Time {
	return Start(t).AddDate(0, 0, 6)
}

// DaysUntilDeadline counts the days left in t's week after t itself.
// Sunday yields 0.
func DaysUntilDeadline(t time.Time) int {
	return 6 - (int(t.Weekday())+6)%7
}

// FormatDate renders t as YYYY-MM-DD in its own location.
func FormatDate(t time.Time) string {
	return t.Format(DateLayout)
}

// ParseDate parses a YYYY-MM-DD date as midnight in loc.
func ParseDate(value string, loc *time.Location) (time.Time, error) {
	if loc == nil {
		loc = time.UTC
	}
	t, err := time.ParseInLocation(DateLayout, value, loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q: %w", value, err)
	}
	return t, nil
}

// StartOfDate returns the Monday for a YYYY-MM-DD date as YYYY-MM-DD.
func StartOfDate(value string) (string, error) {
	t, err := ParseDate(value, time.UTC)
	if err != nil {
		return "", err
	}
	return FormatDate(Start(t)), nil
}
