// Package timeutil provides calendar-day utilities for streak and
// daily-goal tracking. All day boundaries are computed in a single
// configurable product timezone so that "today" means the same thing
// across the whole service. No external dependencies - uses only
// standard library.
package timeutil

import "time"

// Clock resolves calendar days in a fixed product timezone. The zero
// value is not usable; construct with NewClock or UTC.
type Clock struct {
	loc *time.Location

	// nowFunc is overridable in tests.
	nowFunc func() time.Time
}

// NewClock creates a clock for the given IANA timezone name.
// Falls back to UTC when the name cannot be resolved.
func NewClock(tzName string) *Clock {
	loc, err := time.LoadLocation(tzName)
	if err != nil || loc == nil {
		loc = time.UTC
	}
	return &Clock{loc: loc, nowFunc: time.Now}
}

// UTC returns a clock pinned to UTC.
func UTC() *Clock {
	return &Clock{loc: time.UTC, nowFunc: time.Now}
}

// WithNowFunc returns a copy of the clock that reads time from fn.
func (c *Clock) WithNowFunc(fn func() time.Time) *Clock {
	return &Clock{loc: c.loc, nowFunc: fn}
}

// Location returns the clock's timezone.
func (c *Clock) Location() *time.Location {
	return c.loc
}

// Now returns the current time in the product timezone.
func (c *Clock) Now() time.Time {
	return c.nowFunc().In(c.loc)
}

// StartOfDay returns 00:00:00 of t's calendar day in the product timezone.
func (c *Clock) StartOfDay(t time.Time) time.Time {
	local := t.In(c.loc)
	return time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, c.loc)
}

// EndOfDay returns the last nanosecond of t's calendar day.
func (c *Clock) EndOfDay(t time.Time) time.Time {
	local := t.In(c.loc)
	return time.Date(local.Year(), local.Month(), local.Day(), 23, 59, 59, 999999999, c.loc)
}

// NextDay returns the start of the calendar day after t.
func (c *Clock) NextDay(t time.Time) time.Time {
	return c.StartOfDay(t).AddDate(0, 0, 1)
}

// IsSameDay checks if two times fall on the same calendar day.
func (c *Clock) IsSameDay(t1, t2 time.Time) bool {
	a, b := t1.In(c.loc), t2.In(c.loc)
	return a.Year() == b.Year() && a.YearDay() == b.YearDay()
}

// IsToday checks if t falls on the current calendar day.
func (c *Clock) IsToday(t time.Time) bool {
	return c.IsSameDay(t, c.Now())
}

// IsYesterday checks if t falls on the calendar day before today.
func (c *Clock) IsYesterday(t time.Time) bool {
	return c.IsSameDay(t, c.Now().AddDate(0, 0, -1))
}

// DaysBetween returns the number of whole calendar days from t1 to t2.
// Negative when t2 is before t1.
func (c *Clock) DaysBetween(t1, t2 time.Time) int {
	a := c.StartOfDay(t1)
	b := c.StartOfDay(t2)
	return int(b.Sub(a).Hours() / 24)
}

// DayBounds returns the half-open interval [start, end) covering t's
// calendar day. Useful for ledger range queries.
func (c *Clock) DayBounds(t time.Time) (time.Time, time.Time) {
	start := c.StartOfDay(t)
	return start, start.AddDate(0, 0, 1)
}

// FormatDate is the standard date format (YYYY-MM-DD).
const FormatDate = "2006-01-02"

// FormatDateStr formats a time as a date string in the product timezone.
func (c *Clock) FormatDateStr(t time.Time) string {
	return t.In(c.loc).Format(FormatDate)
}
