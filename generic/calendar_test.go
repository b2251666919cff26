package generic_test

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/leave-engine/generic"
)

func date(y int, m time.Month, d int) time.Time {
	return generic.NewDate(y, m, d)
}

func dec(s string) decimal.Decimal {
	return generic.MustParseDecimal(s)
}

// =============================================================================
// WORKING DAYS
// =============================================================================

func TestWorkingDays(t *testing.T) {
	tests := []struct {
		name      string
		start     time.Time
		end       time.Time
		startHalf bool
		endHalf   bool
		want      string
	}{
		{"single weekday", date(2024, 8, 7), date(2024, 8, 7), false, false, "1"},
		{"single saturday counts one", date(2024, 8, 10), date(2024, 8, 10), false, false, "1"},
		{"single sunday counts one", date(2024, 8, 11), date(2024, 8, 11), false, false, "1"},
		{"single day both halves", date(2024, 8, 7), date(2024, 8, 7), true, true, "0.5"},
		{"single saturday both halves", date(2024, 8, 10), date(2024, 8, 10), true, true, "0.5"},
		{"single saturday start half", date(2024, 8, 10), date(2024, 8, 10), true, false, "0.5"},
		{"single day start half", date(2024, 8, 7), date(2024, 8, 7), true, false, "0.5"},
		{"single day end half only", date(2024, 8, 7), date(2024, 8, 7), false, true, "1"},
		{"monday to tuesday", date(2024, 8, 12), date(2024, 8, 13), false, false, "2"},
		{"end before start", date(2024, 8, 13), date(2024, 8, 12), false, false, "0"},
		{"full week skips weekend", date(2024, 8, 12), date(2024, 8, 18), false, false, "5"},
		{"friday to monday", date(2024, 8, 9), date(2024, 8, 12), false, false, "2"},
		{"half start and half end", date(2024, 8, 12), date(2024, 8, 14), true, true, "2"},
		{"weekend only range", date(2024, 8, 10), date(2024, 8, 11), false, false, "0"},
		{"weekend only with halves floors at zero", date(2024, 8, 10), date(2024, 8, 11), true, true, "0"},
		{"across year boundary", date(2024, 12, 30), date(2025, 1, 3), false, false, "5"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := generic.WorkingDays(tt.start, tt.end, tt.startHalf, tt.endHalf)
			assert.True(t, dec(tt.want).Equal(got), "want %s, got %s", tt.want, got)
		})
	}
}

func TestWorkingDays_Deterministic(t *testing.T) {
	start, end := date(2024, 3, 4), date(2024, 3, 22)
	first := generic.WorkingDays(start, end, true, false)
	for i := 0; i < 5; i++ {
		assert.True(t, first.Equal(generic.WorkingDays(start, end, true, false)))
	}
	assert.True(t, dec("14.5").Equal(first))
}

func TestWorkingDays_IgnoresClock(t *testing.T) {
	morning := time.Date(2024, 8, 12, 8, 0, 0, 0, time.UTC)
	evening := time.Date(2024, 8, 13, 22, 30, 0, 0, time.UTC)
	assert.True(t, dec("2").Equal(generic.WorkingDays(morning, evening, false, false)))
}

// =============================================================================
// DATE HELPERS
// =============================================================================

func TestCalendarDays(t *testing.T) {
	assert.Equal(t, 1, generic.CalendarDays(date(2024, 8, 7), date(2024, 8, 7)))
	assert.Equal(t, 7, generic.CalendarDays(date(2024, 8, 12), date(2024, 8, 18)))
	assert.Equal(t, 0, generic.CalendarDays(date(2024, 8, 18), date(2024, 8, 12)))
	assert.Equal(t, 3, generic.CalendarDays(date(2024, 2, 28), date(2024, 3, 1)))
}

func TestParseDate(t *testing.T) {
	d, err := generic.ParseDate("2024-08-07")
	require.NoError(t, err)
	assert.Equal(t, date(2024, 8, 7), d)

	_, err = generic.ParseDate("07/08/2024")
	assert.Error(t, err)
}

func TestIsWeekend(t *testing.T) {
	assert.True(t, generic.IsWeekend(date(2024, 8, 10)))
	assert.True(t, generic.IsWeekend(date(2024, 8, 11)))
	assert.False(t, generic.IsWeekend(date(2024, 8, 12)))
}
