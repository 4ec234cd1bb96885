package queue_test

import (
	"context"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/cadencehq/cadence/internal/adapters/mq/queue"
)

func job(org, user string, day time.Time) queue.Job {
	return queue.Job{OrganizationID: org, UserID: user, Day: day}
}

func TestInMemoryQueue(t *testing.T) {
	ctx := context.Background()
	day := time.Date(2025, 2, 3, 0, 0, 0, 0, time.UTC)

	Convey("Given a trigger queue", t, func() {
		q := queue.NewInMemoryQueue(queue.WithCapacity(2))

		Convey("When enqueuing jobs", func() {
			So(q.Enqueue(ctx, job("o1", "u1", day)), ShouldBeTrue)
			So(q.Enqueue(ctx, job("o1", "u2", day)), ShouldBeTrue)

			Convey("Then the queue reports its length", func() {
				So(q.Len(ctx), ShouldEqual, 2)
			})

			Convey("And a full queue drops further jobs", func() {
				So(q.Enqueue(ctx, job("o1", "u3", day)), ShouldBeFalse)
			})

			Convey("And a duplicate entity-day is coalesced, not dropped", func() {
				// Same pair, different time of day: normalizes to the same job.
				So(q.Enqueue(ctx, job("o1", "u1", day.Add(13*time.Hour))), ShouldBeTrue)
				So(q.Len(ctx), ShouldEqual, 2)
			})
		})

		Convey("When dequeuing", func() {
			So(q.Enqueue(ctx, job("o1", "u1", day)), ShouldBeTrue)
			ch := q.Dequeue(ctx)

			Convey("Then jobs arrive with normalized days", func() {
				j := <-ch
				So(j.UserID, ShouldEqual, "u1")
				So(j.Day.Hour(), ShouldEqual, 0)
			})
		})

		Convey("When the queue is closed", func() {
			So(q.Enqueue(ctx, job("o1", "u1", day)), ShouldBeTrue)
			So(q.Close(), ShouldBeNil)

			Convey("Then enqueue is rejected and dequeue drains then closes", func() {
				So(q.IsClosed(), ShouldBeTrue)
				So(q.Enqueue(ctx, job("o1", "u9", day)), ShouldBeFalse)

				ch := q.Dequeue(ctx)
				j, ok := <-ch
				So(ok, ShouldBeTrue)
				So(j.UserID, ShouldEqual, "u1")
				_, ok = <-ch
				So(ok, ShouldBeFalse)
			})

			Convey("And closing twice is a no-op", func() {
				So(q.Close(), ShouldBeNil)
			})
		})
	})
}
