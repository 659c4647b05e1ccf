package market

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"tradeguard/internal/config"
)

// Session phases. Extended phases permit execution only with an explicit
// override; closed phases never permit it.
const (
	PhaseOpen       = "open"
	PhasePreMarket  = "pre_market"
	PhaseAfterHours = "after_hours"
	PhaseWeekend    = "weekend"
	PhaseHoliday    = "holiday"
	PhaseOvernight  = "overnight"
)

// Extended trading window bounds, minutes from midnight exchange time.
const (
	preMarketStart  = 4 * 60
	afterHoursClose = 20 * 60
)

// Status is the exchange session state at one instant.
type Status struct {
	Phase    string    `json:"phase"`
	Open     bool      `json:"open"`
	NextOpen time.Time `json:"next_open"`
}

// Tradable reports whether order execution may proceed. Extended-hours
// phases require force; closed phases refuse regardless.
func (s Status) Tradable(force bool) bool {
	switch s.Phase {
	case PhaseOpen:
		return true
	case PhasePreMarket, PhaseAfterHours:
		return force
	default:
		return false
	}
}

// Calendar answers session-phase questions for one exchange timezone with a
// fixed regular session and a configured holiday list.
type Calendar struct {
	loc      *time.Location
	openMin  int
	closeMin int
	holidays map[string]struct{}
}

func NewCalendar(cfg config.MarketConfig) (*Calendar, error) {
	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		return nil, fmt.Errorf("market timezone %q: %w", cfg.Timezone, err)
	}
	openMin, err := parseClock(cfg.OpenTime)
	if err != nil {
		return nil, fmt.Errorf("market open_time: %w", err)
	}
	closeMin, err := parseClock(cfg.CloseTime)
	if err != nil {
		return nil, fmt.Errorf("market close_time: %w", err)
	}
	holidays := make(map[string]struct{}, len(cfg.Holidays))
	for _, h := range cfg.Holidays {
		holidays[h] = struct{}{}
	}
	return &Calendar{loc: loc, openMin: openMin, closeMin: closeMin, holidays: holidays}, nil
}

func parseClock(s string) (int, error) {
	parts := strings.SplitN(s, ":", 2)
	if len(parts) != 2 {
		return 0, fmt.Errorf("want HH:MM, got %q", s)
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil || h < 0 || h > 23 {
		return 0, fmt.Errorf("bad hour in %q", s)
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil || m < 0 || m > 59 {
		return 0, fmt.Errorf("bad minute in %q", s)
	}
	return h*60 + m, nil
}

func (c *Calendar) isHoliday(t time.Time) bool {
	_, ok := c.holidays[t.Format("2006-01-02")]
	return ok
}

func (c *Calendar) isTradingDay(t time.Time) bool {
	wd := t.Weekday()
	if wd == time.Saturday || wd == time.Sunday {
		return false
	}
	return !c.isHoliday(t)
}

// StatusAt classifies the instant t.
func (c *Calendar) StatusAt(t time.Time) Status {
	local := t.In(c.loc)
	st := Status{NextOpen: c.nextOpenAfter(local)}

	switch {
	case local.Weekday() == time.Saturday || local.Weekday() == time.Sunday:
		st.Phase = PhaseWeekend
		return st
	case c.isHoliday(local):
		st.Phase = PhaseHoliday
		return st
	}

	min := local.Hour()*60 + local.Minute()
	switch {
	case min >= c.openMin && min < c.closeMin:
		st.Phase = PhaseOpen
		st.Open = true
	case min >= preMarketStart && min < c.openMin:
		st.Phase = PhasePreMarket
	case min >= c.closeMin && min < afterHoursClose:
		st.Phase = PhaseAfterHours
	default:
		st.Phase = PhaseOvernight
	}
	return st
}

// DayStart returns midnight of t's day in exchange time. Daily risk
// counters reset on this boundary, not UTC midnight.
func (c *Calendar) DayStart(t time.Time) time.Time {
	local := t.In(c.loc)
	return time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, c.loc)
}

// Status classifies the current instant.
func (c *Calendar) Status() Status {
	return c.StatusAt(time.Now())
}

func (c *Calendar) nextOpenAfter(local time.Time) time.Time {
	day := local
	openToday := time.Date(day.Year(), day.Month(), day.Day(), c.openMin/60, c.openMin%60, 0, 0, c.loc)
	if c.isTradingDay(day) && local.Before(openToday) {
		return openToday
	}
	for i := 1; i <= 14; i++ {
		day = local.AddDate(0, 0, i)
		if c.isTradingDay(day) {
			return time.Date(day.Year(), day.Month(), day.Day(), c.openMin/60, c.openMin%60, 0, 0, c.loc)
		}
	}
	// Two weeks of consecutive closures means the holiday list is broken.
	return openToday
}
