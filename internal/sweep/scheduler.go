// Package sweep drives bucket recomputation: a periodic watermark sweep
// per organization and an operator-invoked backfill over an explicit
// range. The scheduler is an explicitly constructed service owned by the
// process lifecycle; Start and Stop are idempotent.
//
// The watermark only advances past events that were successfully folded
// into buckets, so a failed pass is naturally retried by the next tick.
// There is no cross-instance lease: running two engine processes sweeps
// redundantly (harmless, idempotent) and races watermark writes
// (last write wins). Single-instance deployment is assumed.
package sweep

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cadencehq/cadence/internal/adapters/repository"
	"github.com/cadencehq/cadence/internal/domain/calendar"
	"github.com/cadencehq/cadence/pkg/logger"
	"github.com/cadencehq/cadence/pkg/metrics"
)

// Default scheduler configuration constants.
const (
	defaultInterval   = 15 * time.Minute
	defaultBatchSize  = 100
	defaultSeedWindow = 7 * 24 * time.Hour
	activityLookback  = 24 * time.Hour
)

// Store is the persistence surface the scheduler needs.
type Store interface {
	ActiveOrganizations(ctx context.Context, since time.Time) ([]string, error)
	PendingEntityDays(ctx context.Context, organizationID string, since time.Time) ([]repository.EntityDay, time.Time, error)
	EntityDaysInRange(ctx context.Context, organizationID string, from, to time.Time) ([]repository.EntityDay, error)
	Watermark(ctx context.Context, organizationID string) (*repository.Watermark, error)
	SaveWatermark(ctx context.Context, w repository.Watermark) error
}

// Recomputer rebuilds one entity-day's buckets.
type Recomputer interface {
	Recompute(ctx context.Context, organizationID, userID string, day time.Time) error
}

// Scheduler owns the periodic sweep loop and backfills.
type Scheduler struct {
	store      Store
	aggregator Recomputer

	interval   time.Duration
	batchSize  int
	seedWindow time.Duration
	now        func() time.Time

	mu      sync.Mutex
	started bool
	stopCh  chan struct{}
	done    chan struct{}

	logger logger.Logger
}

// Option applies a configuration option to the Scheduler.
type Option func(*Scheduler)

// WithInterval sets the periodic sweep interval.
func WithInterval(d time.Duration) Option {
	return func(s *Scheduler) {
		if d > 0 {
			s.interval = d
		}
	}
}

// WithBatchSize sets the backfill batch size.
func WithBatchSize(n int) Option {
	return func(s *Scheduler) {
		if n > 0 {
			s.batchSize = n
		}
	}
}

// WithSeedWindow sets how far back a lazily created watermark starts.
func WithSeedWindow(d time.Duration) Option {
	return func(s *Scheduler) {
		if d > 0 {
			s.seedWindow = d
		}
	}
}

// WithClock injects a clock for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) {
		if now != nil {
			s.now = now
		}
	}
}

// WithLogger sets a custom logger.
func WithLogger(l logger.Logger) Option {
	return func(s *Scheduler) {
		if l != nil {
			s.logger = l
		}
	}
}

// New creates a Scheduler. It does not start sweeping until Start.
func New(store Store, aggregator Recomputer, opts ...Option) *Scheduler {
	s := &Scheduler{
		store:      store,
		aggregator: aggregator,
		interval:   defaultInterval,
		batchSize:  defaultBatchSize,
		seedWindow: defaultSeedWindow,
		now:        time.Now,
		logger:     logger.Get().Named("sweep"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start launches the periodic sweep loop. Calling Start on a running
// scheduler is a no-op.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return
	}
	s.started = true
	s.stopCh = make(chan struct{})
	s.done = make(chan struct{})

	go s.loop(ctx, s.stopCh, s.done)
	s.logger.Info(ctx, "periodic sweep started", logger.Duration("interval", s.interval))
}

// Stop halts the periodic sweep loop and waits for an in-flight pass to
// finish. Calling Stop on a stopped scheduler is a no-op.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.started {
		return
	}
	s.started = false
	close(s.stopCh)
	<-s.done
}

// loop runs one pass per tick. A single timer drives it, so passes never
// overlap.
func (s *Scheduler) loop(ctx context.Context, stopCh <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		case <-ticker.C:
			if err := s.RunPass(ctx); err != nil {
				metrics.RecordSweepPassError()
				s.logger.Error(ctx, "sweep pass failed", logger.Error(err))
			}
		}
	}
}

// RunPass sweeps every recently active organization once. Per-organization
// failures are logged and do not stop the pass; the failed organization's
// watermark stays put and the next pass retries the same window.
func (s *Scheduler) RunPass(ctx context.Context) error {
	start := s.now()
	defer func() {
		metrics.RecordSweepPassDuration(time.Since(start))
		metrics.RecordSweepPass()
	}()

	orgs, err := s.store.ActiveOrganizations(ctx, start.Add(-activityLookback))
	if err != nil {
		return fmt.Errorf("list active organizations: %w", err)
	}

	var firstErr error
	for _, org := range orgs {
		if err := s.sweepOrganization(ctx, org); err != nil {
			s.logger.Error(ctx, "organization sweep failed",
				logger.String("organization", org),
				logger.Error(err),
			)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

// sweepOrganization recomputes every entity-day touched since the
// organization's watermark, then advances the watermark to the maximum
// event timestamp actually processed, never to wall-clock now. Wall clock
// is the fallback only when no events were found at all.
func (s *Scheduler) sweepOrganization(ctx context.Context, organizationID string) error {
	wm, err := s.store.Watermark(ctx, organizationID)
	if err != nil {
		return fmt.Errorf("load watermark: %w", err)
	}
	if wm == nil {
		wm = &repository.Watermark{
			OrganizationID:  organizationID,
			LastProcessedAt: s.now().Add(-s.seedWindow),
		}
		if err := s.store.SaveWatermark(ctx, *wm); err != nil {
			return fmt.Errorf("seed watermark: %w", err)
		}
	}

	pairs, maxTS, err := s.store.PendingEntityDays(ctx, organizationID, wm.LastProcessedAt)
	if err != nil {
		return fmt.Errorf("pending entity days: %w", err)
	}

	for _, pair := range pairs {
		if err := s.aggregator.Recompute(ctx, pair.OrganizationID, pair.UserID, pair.Day); err != nil {
			metrics.RecordRecomputeError("sweep")
			return fmt.Errorf("recompute %s/%s@%s: %w",
				pair.OrganizationID, pair.UserID, pair.Day.Format("2006-01-02"), err)
		}
		metrics.RecordRecompute("sweep")
	}
	metrics.RecordSweepEntityDays(len(pairs))

	next := maxTS
	if next.IsZero() {
		next = s.now()
	}
	if next.After(wm.LastProcessedAt) {
		wm.LastProcessedAt = next
		if err := s.store.SaveWatermark(ctx, *wm); err != nil {
			return fmt.Errorf("advance watermark: %w", err)
		}
	}
	metrics.UpdateWatermarkLag(organizationID, s.now().Sub(wm.LastProcessedAt))

	s.logger.Debug(ctx, "organization swept",
		logger.String("organization", organizationID),
		logger.Int("entity_days", len(pairs)),
		logger.Time("watermark", wm.LastProcessedAt),
	)
	return nil
}

// Backfill recomputes every entity-day with activity in [from, to) in
// fixed-size batches, then force-sets the watermark to the range end.
// Batch failures are not retried; the operator re-invokes for the
// remaining range.
func (s *Scheduler) Backfill(ctx context.Context, organizationID string, from, to time.Time) error {
	from = calendar.DayStart(from)
	to = calendar.NextDay(to)
	if !from.Before(to) {
		return fmt.Errorf("%w: from %s is not before to %s", ErrBackfillRange,
			from.Format("2006-01-02"), to.Format("2006-01-02"))
	}

	pairs, err := s.store.EntityDaysInRange(ctx, organizationID, from, to)
	if err != nil {
		return fmt.Errorf("entity days in range: %w", err)
	}

	for i := 0; i < len(pairs); i += s.batchSize {
		end := i + s.batchSize
		if end > len(pairs) {
			end = len(pairs)
		}
		for _, pair := range pairs[i:end] {
			if err := s.aggregator.Recompute(ctx, pair.OrganizationID, pair.UserID, pair.Day); err != nil {
				metrics.RecordRecomputeError("backfill")
				return fmt.Errorf("backfill recompute %s/%s@%s: %w",
					pair.OrganizationID, pair.UserID, pair.Day.Format("2006-01-02"), err)
			}
			metrics.RecordRecompute("backfill")
		}
		metrics.RecordBackfillBatch()
		s.logger.Info(ctx, "backfill batch done",
			logger.String("organization", organizationID),
			logger.Int("processed", end),
			logger.Int("total", len(pairs)),
		)
	}

	// Backfill is an explicit operator override of the watermark.
	if err := s.store.SaveWatermark(ctx, repository.Watermark{
		OrganizationID:  organizationID,
		LastProcessedAt: to,
	}); err != nil {
		return fmt.Errorf("set watermark after backfill: %w", err)
	}
	return nil
}
