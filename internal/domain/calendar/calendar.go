// Package calendar holds the day and week boundary math shared by the
// aggregator, the sweep scheduler and the query router. All boundaries are
// organization-naive UTC.
package calendar

import (
	"time"

	"github.com/cadencehq/cadence/internal/domain/model"
)

// DayStart truncates t to its UTC day boundary.
func DayStart(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
}

// NextDay returns the start of the day after t's day.
func NextDay(t time.Time) time.Time {
	return DayStart(t).AddDate(0, 0, 1)
}

// WeekStart returns the ISO week start (Monday 00:00 UTC) containing t.
// Vacation state is declared per ISO week, so every vacation lookup must
// normalize through this.
func WeekStart(t time.Time) time.Time {
	d := DayStart(t)
	wd := int(d.Weekday())
	if wd == 0 { // Sunday
		wd = 7
	}
	return d.AddDate(0, 0, 1-wd)
}

// PeriodStart truncates t to the start of the period containing it.
// An empty period behaves like day grouping.
func PeriodStart(p model.Period, t time.Time) time.Time {
	u := t.UTC()
	switch p {
	case model.PeriodWeek:
		return WeekStart(u)
	case model.PeriodMonth:
		return time.Date(u.Year(), u.Month(), 1, 0, 0, 0, 0, time.UTC)
	case model.PeriodQuarter:
		q := (int(u.Month()) - 1) / 3
		return time.Date(u.Year(), time.Month(q*3+1), 1, 0, 0, 0, 0, time.UTC)
	case model.PeriodYear:
		return time.Date(u.Year(), 1, 1, 0, 0, 0, 0, time.UTC)
	case model.PeriodDay, "":
		return DayStart(u)
	default:
		return DayStart(u)
	}
}
