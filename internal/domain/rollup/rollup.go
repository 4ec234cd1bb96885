// Package rollup implements the bucket aggregator: the idempotent
// recomputation of one entity-day's pulse, recognition and compliance
// rollups from the raw event log.
//
// Recompute never reads the buckets it writes. Every run derives the rows
// fresh from events and swaps them in whole, so redundant or concurrent
// runs for the same entity-day converge on identical rows.
package rollup

import (
	"context"
	"fmt"
	"time"

	"github.com/cadencehq/cadence/internal/adapters/repository"
	"github.com/cadencehq/cadence/internal/domain/calendar"
	"github.com/cadencehq/cadence/internal/domain/compliance"
	"github.com/cadencehq/cadence/internal/domain/model"
	"github.com/cadencehq/cadence/pkg/logger"
	"github.com/cadencehq/cadence/pkg/metrics"
)

// Store is the persistence surface the aggregator needs.
type Store interface {
	Events(ctx context.Context, f repository.EventFilter) ([]model.Event, error)
	OnVacation(ctx context.Context, organizationID, userID string, weekOf time.Time) (bool, error)
	ReplaceDayBuckets(ctx context.Context, key repository.EntityDay, pulse *repository.PulseBucket, recognition *repository.RecognitionBucket, comp *repository.ComplianceBucket) error
}

// Aggregator recomputes daily buckets.
type Aggregator struct {
	store  Store
	logger logger.Logger
}

// Option applies a configuration option to the Aggregator.
type Option func(*Aggregator)

// WithLogger sets a custom logger.
func WithLogger(l logger.Logger) Option {
	return func(a *Aggregator) {
		if l != nil {
			a.logger = l
		}
	}
}

// New creates an Aggregator over the given store.
func New(store Store, opts ...Option) *Aggregator {
	a := &Aggregator{
		store:  store,
		logger: logger.Get().Named("rollup"),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Recompute rebuilds the three bucket families for one (organization,
// user, day). Any store failure aborts the entity-day and propagates.
func (a *Aggregator) Recompute(ctx context.Context, organizationID, userID string, day time.Time) error {
	start := time.Now()
	defer func() {
		metrics.RecordRecomputeLatency(float64(time.Since(start).Milliseconds()))
	}()

	bucketDay := calendar.DayStart(day)
	events, err := a.store.Events(ctx, repository.EventFilter{
		OrganizationID: organizationID,
		UserID:         userID,
		From:           bucketDay,
		To:             calendar.NextDay(bucketDay),
	})
	if err != nil {
		return fmt.Errorf("load events for %s/%s@%s: %w",
			organizationID, userID, bucketDay.Format("2006-01-02"), err)
	}

	var (
		teamID       string
		checkins     int
		moodSum      int
		recvPublic   int
		recvPrivate  int
		given        int
		submission   compliance.Tally
		review       compliance.Tally
		checkinsSeen int
	)

	for _, e := range events {
		if e.TeamID != "" {
			teamID = e.TeamID
		}
		switch e.Kind {
		case model.KindCheckinSubmitted:
			if e.Checkin == nil || !e.Checkin.Completed {
				continue
			}
			checkinsSeen++
			checkins++
			moodSum += e.Checkin.Mood
			if err := ObserveCheckin(ctx, a.store, organizationID, e, &submission, &review); err != nil {
				return err
			}
		case model.KindShoutoutReceived:
			if e.Shoutout != nil && e.Shoutout.Public {
				recvPublic++
			} else {
				recvPrivate++
			}
		case model.KindShoutoutGiven:
			given++
		case model.KindVacationDeclared:
			// vacation state is read from the vacation table, not counted
		}
	}

	key := repository.EntityDay{OrganizationID: organizationID, UserID: userID, Day: bucketDay}

	var pulse *repository.PulseBucket
	if checkins > 0 {
		pulse = &repository.PulseBucket{
			OrganizationID: organizationID,
			UserID:         userID,
			TeamID:         teamID,
			BucketDate:     bucketDay,
			CheckinCount:   checkins,
			MoodSum:        moodSum,
		}
	}

	var recognition *repository.RecognitionBucket
	if recvPublic+recvPrivate+given > 0 {
		recognition = &repository.RecognitionBucket{
			OrganizationID:  organizationID,
			UserID:          userID,
			TeamID:          teamID,
			BucketDate:      bucketDay,
			ReceivedPublic:  recvPublic,
			ReceivedPrivate: recvPrivate,
			GivenCount:      given,
		}
	}

	var comp *repository.ComplianceBucket
	if checkinsSeen > 0 {
		comp = &repository.ComplianceBucket{
			OrganizationID: organizationID,
			UserID:         userID,
			TeamID:         teamID,
			BucketDate:     bucketDay,
			Submission:     submission,
			Review:         review,
		}
	}

	if err := a.store.ReplaceDayBuckets(ctx, key, pulse, recognition, comp); err != nil {
		return fmt.Errorf("replace buckets for %s/%s@%s: %w",
			organizationID, userID, bucketDay.Format("2006-01-02"), err)
	}

	recordFamilies(pulse != nil, recognition != nil, comp != nil)
	a.logger.Debug(ctx, "recomputed entity-day",
		logger.String("organization", organizationID),
		logger.String("user", userID),
		logger.Time("day", bucketDay),
		logger.Int("events", len(events)),
	)
	return nil
}

// VacationLookup resolves declared vacation state for an ISO week.
type VacationLookup interface {
	OnVacation(ctx context.Context, organizationID, userID string, weekOf time.Time) (bool, error)
}

// ObserveCheckin folds one completed check-in into the submission and
// review tallies. Vacation state is resolved against the ISO week the
// check-in belongs to, which is not necessarily the bucket day's week.
// Shared with the raw read path so both compute identical compliance.
func ObserveCheckin(ctx context.Context, vac VacationLookup, organizationID string, e model.Event, submission, review *compliance.Tally) error {
	c := e.Checkin
	weekOf := c.WeekOf
	if weekOf.IsZero() {
		weekOf = calendar.WeekStart(e.OccurredAt)
	} else {
		weekOf = calendar.WeekStart(weekOf)
	}

	if !c.DueAt.IsZero() {
		onVac, err := vac.OnVacation(ctx, organizationID, e.UserID, weekOf)
		if err != nil {
			return fmt.Errorf("vacation lookup for %s/%s: %w", organizationID, e.UserID, err)
		}
		submittedAt := c.SubmittedAt
		if submittedAt.IsZero() {
			submittedAt = e.OccurredAt
		}
		submission.Observe(c.DueAt, submittedAt, true, onVac)
	}

	if c.ReviewerID != "" && c.ReviewDueAt != nil {
		onVac, err := vac.OnVacation(ctx, organizationID, c.ReviewerID, weekOf)
		if err != nil {
			return fmt.Errorf("vacation lookup for reviewer %s/%s: %w", organizationID, c.ReviewerID, err)
		}
		var reviewedAt time.Time
		done := c.ReviewedAt != nil
		if done {
			reviewedAt = *c.ReviewedAt
		}
		review.Observe(*c.ReviewDueAt, reviewedAt, done, onVac)
	}
	return nil
}

func recordFamilies(pulse, recognition, comp bool) {
	for family, written := range map[string]bool{
		"pulse":       pulse,
		"recognition": recognition,
		"compliance":  comp,
	} {
		metrics.RecordBucketDeleted(family)
		if written {
			metrics.RecordBucketWritten(family)
		}
	}
}
