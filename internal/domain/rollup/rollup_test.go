package rollup_test

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	. "github.com/smartystreets/goconvey/convey"

	"github.com/cadencehq/cadence/internal/adapters/repository"
	"github.com/cadencehq/cadence/internal/domain/model"
	"github.com/cadencehq/cadence/internal/domain/rollup"
	"github.com/cadencehq/cadence/pkg/logger"
)

func TestMain(m *testing.M) {
	_ = logger.Init()
	os.Exit(m.Run())
}

const (
	org  = "org-1"
	user = "user-1"
)

var day = time.Date(2025, 5, 7, 0, 0, 0, 0, time.UTC) // a Wednesday

func checkin(mood int, at time.Time) model.Event {
	return model.Event{
		ID:             uuid.NewString(),
		OrganizationID: org,
		UserID:         user,
		Kind:           model.KindCheckinSubmitted,
		OccurredAt:     at,
		Checkin: &model.CheckinPayload{
			Mood:        mood,
			Completed:   true,
			DueAt:       at.Add(2 * time.Hour),
			SubmittedAt: at,
		},
	}
}

func shoutout(kind model.EventKind, public bool, at time.Time) model.Event {
	return model.Event{
		ID:             uuid.NewString(),
		OrganizationID: org,
		UserID:         user,
		Kind:           kind,
		OccurredAt:     at,
		Shoutout:       &model.ShoutoutPayload{Public: public},
	}
}

func TestRecomputePulse(t *testing.T) {
	ctx := context.Background()

	Convey("Given a store with one check-in of mood 4", t, func() {
		store := repository.NewMemoryStore()
		agg := rollup.New(store)
		So(store.AppendEvent(ctx, checkin(4, day.Add(9*time.Hour))), ShouldBeNil)

		Convey("When recomputing the entity-day", func() {
			So(agg.Recompute(ctx, org, user, day), ShouldBeNil)

			Convey("Then the pulse bucket holds count 1, mood sum 4", func() {
				buckets, err := store.PulseBuckets(ctx, repository.BucketFilter{OrganizationID: org})
				So(err, ShouldBeNil)
				So(len(buckets), ShouldEqual, 1)
				So(buckets[0].CheckinCount, ShouldEqual, 1)
				So(buckets[0].MoodSum, ShouldEqual, 4)
			})

			Convey("And a second check-in overwrites from raw, not incrementally", func() {
				So(store.AppendEvent(ctx, checkin(2, day.Add(15*time.Hour))), ShouldBeNil)
				So(agg.Recompute(ctx, org, user, day), ShouldBeNil)

				buckets, err := store.PulseBuckets(ctx, repository.BucketFilter{OrganizationID: org})
				So(err, ShouldBeNil)
				So(len(buckets), ShouldEqual, 1)
				So(buckets[0].CheckinCount, ShouldEqual, 2)
				So(buckets[0].MoodSum, ShouldEqual, 6)
			})
		})
	})
}

func TestRecomputeIdempotence(t *testing.T) {
	ctx := context.Background()

	Convey("Given a fixed event set", t, func() {
		store := repository.NewMemoryStore()
		agg := rollup.New(store)
		So(store.AppendEvent(ctx, checkin(3, day.Add(8*time.Hour))), ShouldBeNil)
		So(store.AppendEvent(ctx, shoutout(model.KindShoutoutReceived, true, day.Add(10*time.Hour))), ShouldBeNil)

		Convey("When recomputing twice", func() {
			So(agg.Recompute(ctx, org, user, day), ShouldBeNil)
			first, err := store.PulseBuckets(ctx, repository.BucketFilter{OrganizationID: org})
			So(err, ShouldBeNil)

			So(agg.Recompute(ctx, org, user, day), ShouldBeNil)
			second, err := store.PulseBuckets(ctx, repository.BucketFilter{OrganizationID: org})
			So(err, ShouldBeNil)

			Convey("Then both runs produce identical rows", func() {
				So(len(first), ShouldEqual, 1)
				So(len(second), ShouldEqual, 1)
				So(second[0].CheckinCount, ShouldEqual, first[0].CheckinCount)
				So(second[0].MoodSum, ShouldEqual, first[0].MoodSum)
				So(second[0].BucketDate, ShouldEqual, first[0].BucketDate)
			})
		})
	})
}

func TestRecomputeRemovesEmptyBuckets(t *testing.T) {
	ctx := context.Background()

	Convey("Given an entity-day whose events disappear", t, func() {
		store := repository.NewMemoryStore()
		agg := rollup.New(store)

		// Seed a bucket directly, as if left over from earlier activity.
		So(store.ReplaceDayBuckets(ctx,
			repository.EntityDay{OrganizationID: org, UserID: user, Day: day},
			&repository.PulseBucket{OrganizationID: org, UserID: user, BucketDate: day, CheckinCount: 5, MoodSum: 20},
			nil, nil), ShouldBeNil)

		Convey("When recomputing with zero qualifying events", func() {
			So(agg.Recompute(ctx, org, user, day), ShouldBeNil)

			Convey("Then no bucket row remains, not a zeroed one", func() {
				buckets, err := store.PulseBuckets(ctx, repository.BucketFilter{OrganizationID: org})
				So(err, ShouldBeNil)
				So(buckets, ShouldBeEmpty)
			})
		})
	})
}

func TestRecomputeRecognition(t *testing.T) {
	ctx := context.Background()

	Convey("Given public and private shoutouts", t, func() {
		store := repository.NewMemoryStore()
		agg := rollup.New(store)
		So(store.AppendEvent(ctx, shoutout(model.KindShoutoutReceived, true, day.Add(time.Hour))), ShouldBeNil)
		So(store.AppendEvent(ctx, shoutout(model.KindShoutoutReceived, false, day.Add(2*time.Hour))), ShouldBeNil)
		So(store.AppendEvent(ctx, shoutout(model.KindShoutoutGiven, true, day.Add(3*time.Hour))), ShouldBeNil)

		Convey("When recomputing", func() {
			So(agg.Recompute(ctx, org, user, day), ShouldBeNil)

			Convey("Then the recognition bucket splits visibility", func() {
				buckets, err := store.RecognitionBuckets(ctx, repository.BucketFilter{OrganizationID: org})
				So(err, ShouldBeNil)
				So(len(buckets), ShouldEqual, 1)
				So(buckets[0].ReceivedPublic, ShouldEqual, 1)
				So(buckets[0].ReceivedPrivate, ShouldEqual, 1)
				So(buckets[0].GivenCount, ShouldEqual, 1)
			})

			Convey("And no pulse bucket exists for a shoutout-only day", func() {
				pulse, err := store.PulseBuckets(ctx, repository.BucketFilter{OrganizationID: org})
				So(err, ShouldBeNil)
				So(pulse, ShouldBeEmpty)
			})
		})
	})
}

func TestRecomputeComplianceVacation(t *testing.T) {
	ctx := context.Background()

	Convey("Given a check-in during a declared vacation week", t, func() {
		store := repository.NewMemoryStore()
		agg := rollup.New(store)
		So(store.SetVacation(ctx, org, user, day, true), ShouldBeNil)
		So(store.AppendEvent(ctx, checkin(4, day.Add(9*time.Hour))), ShouldBeNil)

		Convey("When recomputing", func() {
			So(agg.Recompute(ctx, org, user, day), ShouldBeNil)

			Convey("Then the week is not due but the on-time submission still counts", func() {
				buckets, err := store.ComplianceBuckets(ctx, repository.BucketFilter{OrganizationID: org})
				So(err, ShouldBeNil)
				So(len(buckets), ShouldEqual, 1)
				So(buckets[0].Submission.Due, ShouldEqual, 0)
				So(buckets[0].Submission.OnTime, ShouldEqual, 1)
			})
		})

		Convey("When the vacation is revoked and the day recomputed", func() {
			So(agg.Recompute(ctx, org, user, day), ShouldBeNil)
			So(store.SetVacation(ctx, org, user, day, false), ShouldBeNil)
			So(agg.Recompute(ctx, org, user, day), ShouldBeNil)

			Convey("Then the historical rollup reflects the new vacation state", func() {
				buckets, err := store.ComplianceBuckets(ctx, repository.BucketFilter{OrganizationID: org})
				So(err, ShouldBeNil)
				So(len(buckets), ShouldEqual, 1)
				So(buckets[0].Submission.Due, ShouldEqual, 1)
				So(buckets[0].Submission.OnTime, ShouldEqual, 1)
			})
		})
	})
}

func TestRecomputeReviewCompliance(t *testing.T) {
	ctx := context.Background()

	Convey("Given a reviewed check-in with a vacationing reviewer", t, func() {
		store := repository.NewMemoryStore()
		agg := rollup.New(store)

		at := day.Add(9 * time.Hour)
		reviewDue := at.Add(48 * time.Hour)
		reviewedAt := at.Add(24 * time.Hour)
		e := checkin(3, at)
		e.Checkin.ReviewerID = "reviewer-1"
		e.Checkin.ReviewDueAt = &reviewDue
		e.Checkin.ReviewedAt = &reviewedAt
		So(store.AppendEvent(ctx, e), ShouldBeNil)
		So(store.SetVacation(ctx, org, "reviewer-1", day, true), ShouldBeNil)

		Convey("When recomputing", func() {
			So(agg.Recompute(ctx, org, user, day), ShouldBeNil)

			Convey("Then the reviewer's vacation gates only the review denominator", func() {
				buckets, err := store.ComplianceBuckets(ctx, repository.BucketFilter{OrganizationID: org})
				So(err, ShouldBeNil)
				So(len(buckets), ShouldEqual, 1)
				So(buckets[0].Review.Due, ShouldEqual, 0)
				So(buckets[0].Review.OnTime, ShouldEqual, 1)
				So(buckets[0].Submission.Due, ShouldEqual, 1)
			})
		})
	})
}

// failingStore wraps the memory store and fails event reads on demand.
type failingStore struct {
	*repository.MemoryStore
	fail bool
}

func (f *failingStore) Events(ctx context.Context, filter repository.EventFilter) ([]model.Event, error) {
	if f.fail {
		return nil, errors.New("transient store failure")
	}
	return f.MemoryStore.Events(ctx, filter)
}

func TestRecomputeErrorPropagation(t *testing.T) {
	ctx := context.Background()

	Convey("Given a store whose event reads fail", t, func() {
		store := &failingStore{MemoryStore: repository.NewMemoryStore(), fail: true}
		agg := rollup.New(store)

		Convey("When recomputing", func() {
			err := agg.Recompute(ctx, org, user, day)

			Convey("Then the failure propagates to the caller", func() {
				So(err, ShouldNotBeNil)
			})
		})
	})
}
