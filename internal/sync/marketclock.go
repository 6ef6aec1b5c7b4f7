package sync

import "time"

var nyLocation = func() *time.Location {
	loc, err := time.LoadLocation("America/New_York")
	if err != nil {
		return time.UTC
	}
	return loc
}()

const (
	marketHoursInterval  = 5 * time.Minute
	weekdayOffHours      = 30 * time.Minute
	weekendInterval      = 2 * time.Hour
	marketOpenHour       = 9
	marketOpenMinute     = 30
	marketCloseHour      = 16
)

// isWeekend reports whether t (converted to US market time) falls on a
// Saturday or Sunday.
func isWeekend(t time.Time) bool {
	d := t.In(nyLocation).Weekday()
	return d == time.Saturday || d == time.Sunday
}

// isMarketHours reports whether t falls within NYSE regular trading hours
// (9:30–16:00 America/New_York, Monday–Friday). Market holidays are not
// modeled — a holiday simply runs the off-hours cadence on a day the
// exchange happens to be closed, which is no worse than the once-every-two-
// hours weekend cadence.
func isMarketHours(t time.Time) bool {
	if isWeekend(t) {
		return false
	}
	local := t.In(nyLocation)
	open := time.Date(local.Year(), local.Month(), local.Day(), marketOpenHour, marketOpenMinute, 0, 0, nyLocation)
	close := time.Date(local.Year(), local.Month(), local.Day(), marketCloseHour, 0, 0, 0, nyLocation)
	return !local.Before(open) && local.Before(close)
}

// nextInterval returns how long to wait before the next sync pass, given
// the current time: 5 minutes during market hours, 30 minutes on a
// weekday outside market hours, 2 hours on a weekend.
func nextInterval(now time.Time) time.Duration {
	switch {
	case isMarketHours(now):
		return marketHoursInterval
	case isWeekend(now):
		return weekendInterval
	default:
		return weekdayOffHours
	}
}
