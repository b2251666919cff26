package generic

import (
	"time"

	"github.com/shopspring/decimal"
)

// DateLayout is the wire format for date-only values.
const DateLayout = "2006-01-02"

var half = decimal.NewFromFloat(0.5)

// =============================================================================
// DATES - Leave is requested in whole calendar dates
// =============================================================================

// Date drops the clock part of t, keeping its calendar date, in UTC.
func Date(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

func NewDate(year int, month time.Month, day int) time.Time {
	return time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
}

func ParseDate(s string) (time.Time, error) {
	return time.Parse(DateLayout, s)
}

func IsWeekend(t time.Time) bool {
	wd := t.Weekday()
	return wd == time.Saturday || wd == time.Sunday
}

// CalendarDays is the inclusive day span of [start, end], or 0 if end < start.
func CalendarDays(start, end time.Time) int {
	start, end = Date(start), Date(end)
	if end.Before(start) {
		return 0
	}
	return int(end.Sub(start).Hours()/24) + 1
}

// =============================================================================
// WORKING DAYS
// =============================================================================

// WorkingDays returns the chargeable days of a leave request.
//
// Rules:
//   - end before start yields 0.
//   - A single-day request counts as one day whatever the weekday. Both
//     half-day flags make it exactly 0.5, and so does a half-day start; a
//     half-day end alone subtracts nothing.
//   - Otherwise every Monday..Friday in [start, end] counts 1; a half-day
//     start subtracts 0.5 and a half-day end subtracts a further 0.5.
//
// The result is never negative. Same inputs always give the same output, so
// edits can recompute freely.
func WorkingDays(start, end time.Time, startHalf, endHalf bool) decimal.Decimal {
	start, end = Date(start), Date(end)
	if end.Before(start) {
		return decimal.Zero
	}

	if start.Equal(end) {
		if startHalf {
			return half
		}
		return decimal.NewFromInt(1)
	}

	var days int64
	for d := start; !d.After(end); d = d.AddDate(0, 0, 1) {
		if !IsWeekend(d) {
			days++
		}
	}

	total := decimal.NewFromInt(days)
	if startHalf {
		total = total.Sub(half)
	}
	if endHalf {
		total = total.Sub(half)
	}
	if total.IsNegative() {
		return decimal.Zero
	}
	return total
}

func StartOfYear(year int) time.Time { return NewDate(year, time.January, 1) }
func EndOfYear(year int) time.Time   { return NewDate(year, time.December, 31) }
