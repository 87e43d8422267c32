// Package datetime provides date and time utility functions.
package datetime

import (
	"fmt"
	"time"

	"github.com/iwvelando/portfolio-optimizer/pkg/constants"
)

const (
	// DateLayout is the format expected in config files and price files and is
	// also the output date format.
	DateLayout = constants.DateLayout
)

// MustParseTime parses a date string using the given layout and panics on error.
// This is intended for use in tests where the date string is known to be valid.
func MustParseTime(layout, dateStr string) time.Time {
	t, err := time.Parse(layout, dateStr)
	if err != nil {
		panic(err)
	}
	return t
}

// ParseDate parses a YYYY-MM-DD date in UTC.
func ParseDate(date string) (time.Time, error) {
	t, err := time.Parse(DateLayout, date)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q, expected %s: %w", date, DateLayout, err)
	}
	return t, nil
}

// Truncate drops the time-of-day component, keeping the calendar date in UTC.
func Truncate(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// YearsBefore returns the date the given number of years before end.
func YearsBefore(end time.Time, years int) time.Time {
	return end.AddDate(-years, 0, 0)
}

// Window resolves a [start, end) price window. An empty end means today and
// an empty start means lookbackYears before end.
func Window(start, end string, lookbackYears int, now time.Time) (time.Time, time.Time, error) {
	endT := Truncate(now)
	if end != "" {
		t, err := ParseDate(end)
		if err != nil {
			return time.Time{}, time.Time{}, err
		}
		endT = t
	}

	startT := YearsBefore(endT, lookbackYears)
	if start != "" {
		t, err := ParseDate(start)
		if err != nil {
			return time.Time{}, time.Time{}, err
		}
		startT = t
	}

	if !startT.Before(endT) {
		return time.Time{}, time.Time{}, fmt.Errorf("history start %s is not before end %s",
			startT.Format(DateLayout), endT.Format(DateLayout))
	}
	return startT, endT, nil
}

// YahooPeriod returns the shortest Yahoo Finance range period that reaches
// back to start from now.
func YahooPeriod(start, now time.Time) string {
	periods := []struct {
		name  string
		years int
	}{
		{"1y", 1},
		{"2y", 2},
		{"5y", 5},
		{"10y", 10},
	}
	for _, p := range periods {
		if !start.Before(YearsBefore(now, p.years)) {
			return p.name
		}
	}
	return "max"
}

// DateBeforeDate returns true if firstDate is strictly before secondDate.
func DateBeforeDate(firstDate string, secondDate string) (bool, error) {
	firstDateT, err := time.Parse(DateLayout, firstDate)
	if err != nil {
		return false, err
	}
	secondDateT, err := time.Parse(DateLayout, secondDate)
	if err != nil {
		return false, err
	}
	return firstDateT.Before(secondDateT), nil
}
