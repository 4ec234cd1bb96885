package service_test

import (
	"context"
	"os"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/cadencehq/cadence/internal/adapters/repository"
	service "github.com/cadencehq/cadence/internal/app"
	"github.com/cadencehq/cadence/internal/domain/calendar"
	"github.com/cadencehq/cadence/internal/domain/model"
	"github.com/cadencehq/cadence/pkg/logger"
)

func TestMain(m *testing.M) {
	_ = logger.Init()
	os.Exit(m.Run())
}

// eventually polls cond until it holds or the deadline passes.
func eventually(cond func() bool) bool {
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(10 * time.Millisecond)
	}
	return cond()
}

func startService(t *testing.T, store repository.Store, opts ...service.Option) *service.Service {
	t.Helper()
	ctx := context.Background()
	opts = append([]service.Option{
		service.WithStore(store),
		service.WithWorkerCount(2),
		service.WithSweepInterval(time.Hour), // keep the sweeper out of the way
	}, opts...)
	s := service.New(opts...)
	if err := s.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	t.Cleanup(func() { s.Stop(ctx) })
	return s
}

func TestSubmitEvent(t *testing.T) {
	Convey("Given a running service over an in-memory store", t, func() {
		ctx := context.Background()
		store := repository.NewMemoryStore()
		s := startService(t, store)

		occurred := time.Date(2026, 4, 7, 10, 30, 0, 0, time.UTC)
		day := calendar.DayStart(occurred)

		Convey("When a completed check-in is submitted", func() {
			e, err := s.SubmitEvent(ctx, model.Event{
				OrganizationID: "org-1",
				UserID:         "u1",
				Kind:           model.KindCheckinSubmitted,
				OccurredAt:     occurred,
				Checkin:        &model.CheckinPayload{Mood: 4, Completed: true},
			})
			So(err, ShouldBeNil)

			Convey("Then it gets an id and lands in the event log", func() {
				So(e.ID, ShouldNotBeEmpty)
				events, err := store.Events(ctx, repository.EventFilter{OrganizationID: "org-1"})
				So(err, ShouldBeNil)
				So(events, ShouldHaveLength, 1)
			})

			Convey("Then a pulse bucket appears without waiting for a sweep", func() {
				ok := eventually(func() bool {
					buckets, err := store.PulseBuckets(ctx, repository.BucketFilter{OrganizationID: "org-1"})
					return err == nil && len(buckets) == 1
				})
				So(ok, ShouldBeTrue)

				buckets, err := store.PulseBuckets(ctx, repository.BucketFilter{OrganizationID: "org-1"})
				So(err, ShouldBeNil)
				So(buckets[0].BucketDate.Equal(day), ShouldBeTrue)
				So(buckets[0].CheckinCount, ShouldEqual, 1)
				So(buckets[0].MoodSum, ShouldEqual, 4)
			})
		})

		Convey("When the same event id is submitted twice", func() {
			e := model.Event{
				ID:             "evt-1",
				OrganizationID: "org-1",
				UserID:         "u1",
				Kind:           model.KindShoutoutGiven,
				OccurredAt:     occurred,
			}
			_, err := s.SubmitEvent(ctx, e)
			So(err, ShouldBeNil)
			_, err = s.SubmitEvent(ctx, e)

			Convey("Then the second submission reports the duplicate", func() {
				So(err, ShouldWrap, repository.ErrDuplicateEvent)
			})
		})

		Convey("When malformed events are submitted", func() {
			cases := []model.Event{
				{UserID: "u1", Kind: model.KindShoutoutGiven},
				{OrganizationID: "org-1", Kind: model.KindShoutoutGiven},
				{OrganizationID: "org-1", UserID: "u1", Kind: "promotion"},
				{OrganizationID: "org-1", UserID: "u1", Kind: model.KindCheckinSubmitted},
				{OrganizationID: "org-1", UserID: "u1", Kind: model.KindVacationDeclared},
			}
			Convey("Then each is rejected", func() {
				for _, e := range cases {
					_, err := s.SubmitEvent(ctx, e)
					So(err, ShouldWrap, service.ErrInvalidEvent)
				}
			})
		})
	})
}

func TestVacationDeclaration(t *testing.T) {
	Convey("Given a service with an already-aggregated check-in", t, func() {
		ctx := context.Background()
		store := repository.NewMemoryStore()
		s := startService(t, store)

		occurred := time.Date(2026, 4, 7, 10, 0, 0, 0, time.UTC) // Tuesday
		week := calendar.WeekStart(occurred)
		due := occurred.Add(6 * time.Hour)

		_, err := s.SubmitEvent(ctx, model.Event{
			OrganizationID: "org-1",
			UserID:         "u1",
			Kind:           model.KindCheckinSubmitted,
			OccurredAt:     occurred,
			Checkin: &model.CheckinPayload{
				Mood: 3, Completed: true,
				DueAt: due, SubmittedAt: occurred, WeekOf: week,
			},
		})
		So(err, ShouldBeNil)

		So(eventually(func() bool {
			buckets, err := store.ComplianceBuckets(ctx, repository.BucketFilter{OrganizationID: "org-1"})
			return err == nil && len(buckets) == 1 && buckets[0].Submission.Due == 1
		}), ShouldBeTrue)

		Convey("When the user retroactively declares that week as vacation", func() {
			_, err := s.SubmitEvent(ctx, model.Event{
				OrganizationID: "org-1",
				UserID:         "u1",
				Kind:           model.KindVacationDeclared,
				Vacation:       &model.VacationPayload{WeekOf: week, On: true},
			})
			So(err, ShouldBeNil)

			Convey("Then the week's compliance denominator is rebuilt", func() {
				ok := eventually(func() bool {
					buckets, err := store.ComplianceBuckets(ctx, repository.BucketFilter{OrganizationID: "org-1"})
					return err == nil && len(buckets) == 1 && buckets[0].Submission.Due == 0
				})
				So(ok, ShouldBeTrue)

				buckets, err := store.ComplianceBuckets(ctx, repository.BucketFilter{OrganizationID: "org-1"})
				So(err, ShouldBeNil)
				So(buckets[0].Submission.OnTime, ShouldEqual, 1)

				on, err := store.OnVacation(ctx, "org-1", "u1", week)
				So(err, ShouldBeNil)
				So(on, ShouldBeTrue)
			})
		})
	})
}

func TestCacheInvalidationOnWrite(t *testing.T) {
	Convey("Given a service with a cached stale-window answer", t, func() {
		ctx := context.Background()
		store := repository.NewMemoryStore()
		s := startService(t, store)

		old := time.Date(2026, 1, 5, 9, 0, 0, 0, time.UTC)
		_, err := s.SubmitEvent(ctx, model.Event{
			OrganizationID: "org-1",
			UserID:         "u1",
			Kind:           model.KindCheckinSubmitted,
			OccurredAt:     old,
			Checkin:        &model.CheckinPayload{Mood: 5, Completed: true},
		})
		So(err, ShouldBeNil)
		So(eventually(func() bool {
			buckets, berr := store.PulseBuckets(ctx, repository.BucketFilter{OrganizationID: "org-1"})
			return berr == nil && len(buckets) == 1
		}), ShouldBeTrue)

		opts := model.QueryOptions{
			Period: model.PeriodMonth,
			From:   time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
			To:     time.Date(2026, 1, 31, 0, 0, 0, 0, time.UTC),
		}
		first, err := s.PulseMetrics(ctx, "org-1", opts)
		So(err, ShouldBeNil)
		So(first.Source, ShouldEqual, model.SourceRollup)

		second, err := s.PulseMetrics(ctx, "org-1", opts)
		So(err, ShouldBeNil)
		So(second.Source, ShouldEqual, model.SourceCache)

		Convey("When a new event arrives for the organization", func() {
			_, err := s.SubmitEvent(ctx, model.Event{
				OrganizationID: "org-1",
				UserID:         "u2",
				Kind:           model.KindShoutoutGiven,
			})
			So(err, ShouldBeNil)

			Convey("Then the next query recomputes instead of serving the cache", func() {
				rep, err := s.PulseMetrics(ctx, "org-1", opts)
				So(err, ShouldBeNil)
				So(rep.Source, ShouldEqual, model.SourceRollup)
			})
		})
	})
}

func TestBackfill(t *testing.T) {
	Convey("Given historical events that predate the watermark seed", t, func() {
		ctx := context.Background()
		store := repository.NewMemoryStore()
		s := startService(t, store)

		old := time.Date(2025, 11, 3, 9, 0, 0, 0, time.UTC)
		for i := 0; i < 3; i++ {
			So(store.AppendEvent(ctx, model.Event{
				ID:             "hist-" + string(rune('a'+i)),
				OrganizationID: "org-1",
				UserID:         "u1",
				Kind:           model.KindCheckinSubmitted,
				OccurredAt:     old.AddDate(0, 0, i),
				Checkin:        &model.CheckinPayload{Mood: 3, Completed: true},
			}), ShouldBeNil)
		}

		Convey("When the range is backfilled", func() {
			err := s.Backfill(ctx, "org-1", old, old.AddDate(0, 0, 2))
			So(err, ShouldBeNil)

			Convey("Then every historical day has its bucket", func() {
				buckets, err := store.PulseBuckets(ctx, repository.BucketFilter{OrganizationID: "org-1"})
				So(err, ShouldBeNil)
				So(buckets, ShouldHaveLength, 3)
			})
		})
	})
}

func TestServiceLifecycle(t *testing.T) {
	Convey("Given a stopped service", t, func() {
		ctx := context.Background()
		s := service.New()

		Convey("Queries and sweeps fail with a clear error", func() {
			_, err := s.PulseMetrics(ctx, "org-1", model.QueryOptions{})
			So(err, ShouldWrap, service.ErrNotStarted)
			So(s.RunSweepPass(ctx), ShouldWrap, service.ErrNotStarted)
		})

		Convey("Start and Stop are idempotent", func() {
			So(s.Start(ctx), ShouldBeNil)
			So(s.Start(ctx), ShouldBeNil)
			s.Stop(ctx)
			s.Stop(ctx)

			stats := s.GetStats()
			So(stats.Started, ShouldBeFalse)
		})
	})
}
