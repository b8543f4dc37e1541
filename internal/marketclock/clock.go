// Package marketclock classifies the current instant into the US
// equities session state. No other component may compare wall-clock
// values directly.
package marketclock

import (
	"context"
	"time"
)

// Session is one of the four trading-day phases.
type Session string

const (
	SessionPreMarket Session = "pre_market"
	SessionRegular   Session = "regular"
	SessionAfterHours Session = "after_hours"
	SessionClosed    Session = "closed"
)

var eastern *time.Location

func init() {
	loc, err := time.LoadLocation("America/New_York")
	if err != nil {
		loc = time.FixedZone("EST", -5*60*60)
	}
	eastern = loc
}

// Clock classifies wall-clock time into trading sessions, honoring
// weekends and the exchange holiday calendar.
type Clock struct {
	holidays map[string]bool
	now      func() time.Time
}

// New builds a Clock with the US exchange holiday calendar from
// exchangeHolidays (2025 and 2026) pre-populated.
func New() *Clock {
	c := &Clock{holidays: make(map[string]bool), now: time.Now}
	for _, d := range exchangeHolidays {
		c.holidays[d] = true
	}
	return c
}

// CurrentSession classifies the current Eastern-time instant.
func (c *Clock) CurrentSession() Session {
	return c.sessionAt(c.now())
}

func (c *Clock) sessionAt(t time.Time) Session {
	t = t.In(eastern)
	if !c.IsTradingDay(t) {
		return SessionClosed
	}

	minutesSinceMidnight := t.Hour()*60 + t.Minute()
	switch {
	case minutesSinceMidnight >= 4*60 && minutesSinceMidnight < 9*60+30:
		return SessionPreMarket
	case minutesSinceMidnight >= 9*60+30 && minutesSinceMidnight < 16*60:
		return SessionRegular
	case minutesSinceMidnight >= 16*60 && minutesSinceMidnight < 20*60:
		return SessionAfterHours
	default:
		return SessionClosed
	}
}

// IsTradingDay reports whether date is a weekday and not an exchange holiday.
func (c *Clock) IsTradingDay(date time.Time) bool {
	date = date.In(eastern)
	if date.Weekday() == time.Saturday || date.Weekday() == time.Sunday {
		return false
	}
	return !c.holidays[date.Format("2006-01-02")]
}

// SessionDate returns the Eastern-calendar-date string used to key the
// PDT ledger's rolling session window.
func (c *Clock) SessionDate() string {
	return c.now().In(eastern).Format("2006-01-02")
}

// nextOpen returns the next regular-session open strictly after t, or
// t itself if the market is already in the regular session.
func (c *Clock) nextOpen(t time.Time) time.Time {
	t = t.In(eastern)
	if c.sessionAt(t) == SessionRegular {
		return t
	}
	candidate := time.Date(t.Year(), t.Month(), t.Day(), 9, 30, 0, 0, eastern)
	if t.After(candidate) {
		candidate = candidate.AddDate(0, 0, 1)
	}
	for !c.IsTradingDay(candidate) {
		candidate = candidate.AddDate(0, 0, 1)
	}
	return time.Date(candidate.Year(), candidate.Month(), candidate.Day(), 9, 30, 0, 0, eastern)
}

// WaitUntilNextOpen suspends the caller until the next regular open,
// returning immediately if the market is already open. It is a
// suspension point and honors ctx cancellation.
func (c *Clock) WaitUntilNextOpen(ctx context.Context) error {
	target := c.nextOpen(c.now())
	wait := target.Sub(c.now())
	if wait <= 0 {
		return nil
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(wait):
		return nil
	}
}

// exchangeHolidays lists NYSE full-day closures. Extend yearly.
var exchangeHolidays = []string{
	"2026-01-01", "2026-01-19", "2026-02-16", "2026-04-03", "2026-05-25",
	"2026-06-19", "2026-07-03", "2026-09-07", "2026-11-26", "2026-12-25",
	"2025-01-01", "2025-01-20", "2025-02-17", "2025-04-18", "2025-05-26",
	"2025-06-19", "2025-07-04", "2025-09-01", "2025-11-27", "2025-12-25",
}
