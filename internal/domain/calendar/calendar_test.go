package calendar_test

import (
	"testing"
	"time"

	"github.com/cadencehq/cadence/internal/domain/calendar"
	"github.com/cadencehq/cadence/internal/domain/model"
	. "github.com/smartystreets/goconvey/convey"
)

func TestDayBoundaries(t *testing.T) {
	Convey("Given a timestamp in the middle of a day", t, func() {
		ts := time.Date(2025, 3, 12, 17, 42, 9, 123, time.UTC)

		Convey("DayStart truncates to midnight UTC", func() {
			So(calendar.DayStart(ts), ShouldEqual, time.Date(2025, 3, 12, 0, 0, 0, 0, time.UTC))
		})

		Convey("NextDay returns the following midnight", func() {
			So(calendar.NextDay(ts), ShouldEqual, time.Date(2025, 3, 13, 0, 0, 0, 0, time.UTC))
		})

		Convey("A non-UTC timestamp is normalized before truncation", func() {
			loc := time.FixedZone("UTC+5", 5*3600)
			local := time.Date(2025, 3, 13, 2, 0, 0, 0, loc) // 2025-03-12T21:00Z
			So(calendar.DayStart(local), ShouldEqual, time.Date(2025, 3, 12, 0, 0, 0, 0, time.UTC))
		})
	})
}

func TestWeekStart(t *testing.T) {
	Convey("Given days across one ISO week", t, func() {
		monday := time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC)

		Convey("Monday maps to itself", func() {
			So(calendar.WeekStart(monday), ShouldEqual, monday)
		})

		Convey("Wednesday maps back to Monday", func() {
			So(calendar.WeekStart(monday.AddDate(0, 0, 2)), ShouldEqual, monday)
		})

		Convey("Sunday maps back to the same week's Monday", func() {
			So(calendar.WeekStart(monday.AddDate(0, 0, 6)), ShouldEqual, monday)
		})

		Convey("The next Monday starts a new week", func() {
			So(calendar.WeekStart(monday.AddDate(0, 0, 7)), ShouldEqual, monday.AddDate(0, 0, 7))
		})
	})
}

func TestPeriodStart(t *testing.T) {
	Convey("Given a timestamp", t, func() {
		ts := time.Date(2025, 8, 20, 13, 30, 0, 0, time.UTC)

		Convey("Each period truncates to its boundary", func() {
			So(calendar.PeriodStart(model.PeriodDay, ts), ShouldEqual, time.Date(2025, 8, 20, 0, 0, 0, 0, time.UTC))
			So(calendar.PeriodStart(model.PeriodWeek, ts), ShouldEqual, time.Date(2025, 8, 18, 0, 0, 0, 0, time.UTC))
			So(calendar.PeriodStart(model.PeriodMonth, ts), ShouldEqual, time.Date(2025, 8, 1, 0, 0, 0, 0, time.UTC))
			So(calendar.PeriodStart(model.PeriodQuarter, ts), ShouldEqual, time.Date(2025, 7, 1, 0, 0, 0, 0, time.UTC))
			So(calendar.PeriodStart(model.PeriodYear, ts), ShouldEqual, time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC))
		})

		Convey("An empty period behaves like day grouping", func() {
			So(calendar.PeriodStart("", ts), ShouldEqual, calendar.DayStart(ts))
		})
	})
}
