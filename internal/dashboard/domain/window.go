package domain

import "time"

const dayLayout = "2006-01-02"

// Window splits a trailing day count into the rolled-up historical range
// and the live "today" range. Every aggregation entry point shares this
// split so the midnight boundary math cannot drift between endpoints.
type Window struct {
	Days int

	// Historical day range, inclusive on both ends, in UTC day keys.
	// Empty strings when Days == 1 (today only).
	HistoricalStartDay string
	HistoricalEndDay   string

	// Live range [TodayStart, Now] queried against the event store. The
	// end is the query instant, inclusive, so a just-emitted event is
	// visible to the dashboard immediately.
	TodayStart time.Time
	Now        time.Time
}

// HasHistory reports whether the window covers any complete days.
func (w Window) HasHistory() bool { return w.HistoricalStartDay != "" }

// SplitWindow returns the window for the trailing N days ending now.
// N days means today's partial day plus N-1 complete rolled-up days.
func SplitWindow(now time.Time, days int) Window {
	if days < 1 {
		days = 1
	}
	now = now.UTC()
	todayStart := DayStart(now)

	w := Window{
		Days:       days,
		TodayStart: todayStart,
		Now:        now,
	}
	if days > 1 {
		w.HistoricalStartDay = DayKey(todayStart.AddDate(0, 0, -(days - 1)))
		w.HistoricalEndDay = DayKey(todayStart.AddDate(0, 0, -1))
	}
	return w
}

// DayKey formats an instant as its UTC calendar day.
func DayKey(t time.Time) string {
	return t.UTC().Format(dayLayout)
}

// DayStart truncates an instant to UTC midnight.
func DayStart(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// ParseDay parses a UTC day key back to its midnight instant.
func ParseDay(day string) (time.Time, error) {
	return time.ParseInLocation(dayLayout, day, time.UTC)
}
