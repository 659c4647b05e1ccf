package market

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tradeguard/internal/config"
)

func testCalendar(t *testing.T) *Calendar {
	t.Helper()
	c, err := NewCalendar(config.MarketConfig{
		Timezone:  "America/New_York",
		OpenTime:  "09:30",
		CloseTime: "16:00",
		Holidays:  []string{"2026-09-07"}, // Labor Day
	})
	require.NoError(t, err)
	return c
}

func et(t *testing.T, value string) time.Time {
	t.Helper()
	loc, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)
	ts, err := time.ParseInLocation("2006-01-02 15:04", value, loc)
	require.NoError(t, err)
	return ts
}

func TestPhaseClassification(t *testing.T) {
	c := testCalendar(t)

	cases := []struct {
		name  string
		at    string
		phase string
		open  bool
	}{
		{"regular session", "2026-09-01 10:30", PhaseOpen, true},
		{"first minute", "2026-09-01 09:30", PhaseOpen, true},
		{"last minute before close", "2026-09-01 15:59", PhaseOpen, true},
		{"at close", "2026-09-01 16:00", PhaseAfterHours, false},
		{"pre-market", "2026-09-01 08:00", PhasePreMarket, false},
		{"after-hours", "2026-09-01 18:30", PhaseAfterHours, false},
		{"overnight", "2026-09-01 02:00", PhaseOvernight, false},
		{"saturday", "2026-09-05 11:00", PhaseWeekend, false},
		{"sunday", "2026-09-06 11:00", PhaseWeekend, false},
		{"holiday", "2026-09-07 11:00", PhaseHoliday, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			st := c.StatusAt(et(t, tc.at))
			assert.Equal(t, tc.phase, st.Phase)
			assert.Equal(t, tc.open, st.Open)
		})
	}
}

func TestTradable(t *testing.T) {
	c := testCalendar(t)

	open := c.StatusAt(et(t, "2026-09-01 10:30"))
	assert.True(t, open.Tradable(false))

	pre := c.StatusAt(et(t, "2026-09-01 08:00"))
	assert.False(t, pre.Tradable(false))
	assert.True(t, pre.Tradable(true))

	weekend := c.StatusAt(et(t, "2026-09-05 11:00"))
	assert.False(t, weekend.Tradable(false))
	assert.False(t, weekend.Tradable(true))

	holiday := c.StatusAt(et(t, "2026-09-07 11:00"))
	assert.False(t, holiday.Tradable(true))
}

func TestNextOpenSkipsWeekendAndHoliday(t *testing.T) {
	c := testCalendar(t)

	// Friday after close: Monday 2026-09-07 is a holiday, so Tuesday opens.
	st := c.StatusAt(et(t, "2026-09-04 17:00"))
	assert.Equal(t, et(t, "2026-09-08 09:30"), st.NextOpen)

	// Early trading morning opens the same day.
	st = c.StatusAt(et(t, "2026-09-01 07:00"))
	assert.Equal(t, et(t, "2026-09-01 09:30"), st.NextOpen)
}

func TestBadConfigRejected(t *testing.T) {
	_, err := NewCalendar(config.MarketConfig{Timezone: "Mars/Olympus", OpenTime: "09:30", CloseTime: "16:00"})
	assert.Error(t, err)

	_, err = NewCalendar(config.MarketConfig{Timezone: "UTC", OpenTime: "930", CloseTime: "16:00"})
	assert.Error(t, err)
}
