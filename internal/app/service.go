// Package service wires the analytics engine together: the event store,
// the rollup aggregator, the trigger queue and workers, the watermark
// sweeper, and the query router the HTTP API reads through.
package service

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"time"

	"github.com/google/uuid"

	eventqueue "github.com/cadencehq/cadence/internal/adapters/mq/queue"
	workerpool "github.com/cadencehq/cadence/internal/adapters/mq/worker"
	"github.com/cadencehq/cadence/internal/adapters/repository"
	"github.com/cadencehq/cadence/internal/domain/calendar"
	"github.com/cadencehq/cadence/internal/domain/dedupe"
	"github.com/cadencehq/cadence/internal/domain/model"
	"github.com/cadencehq/cadence/internal/domain/rollup"
	"github.com/cadencehq/cadence/internal/query"
	"github.com/cadencehq/cadence/internal/sweep"
	"github.com/cadencehq/cadence/pkg/logger"
	"github.com/cadencehq/cadence/pkg/metrics"
)

// Service implements the API dependencies for the analytics engine.
type Service struct {
	mu sync.RWMutex

	// Core components
	store      repository.Store
	aggregator *rollup.Aggregator
	scheduler  *sweep.Scheduler
	queue      *eventqueue.InMemoryQueue
	pool       *workerpool.Pool
	cache      *query.Cache
	router     *query.Router
	deduper    dedupe.Deduper

	// Configuration
	queueSize         int
	workerCount       int
	sweepInterval     time.Duration
	freshnessWindow   time.Duration
	stableTTL         time.Duration
	recentTTL         time.Duration
	backfillBatchSize int
	useRollups        bool
	shadowReads       bool

	// State
	started bool

	// Logging
	logger logger.Logger
}

// Option applies a configuration option to the Service.
type Option func(*Service)

// WithStore sets the backing store. Defaults to the in-memory store,
// which is what tests and DB-less development use.
func WithStore(store repository.Store) Option {
	return func(s *Service) {
		if store != nil {
			s.store = store
		}
	}
}

// WithQueueSize sets the trigger queue capacity.
func WithQueueSize(size int) Option {
	return func(s *Service) {
		if size > 0 {
			s.queueSize = size
		}
	}
}

// WithWorkerCount sets the number of recompute workers.
func WithWorkerCount(count int) Option {
	return func(s *Service) {
		if count > 0 {
			s.workerCount = count
		}
	}
}

// WithSweepInterval sets the cadence of the watermark sweeper.
func WithSweepInterval(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.sweepInterval = d
		}
	}
}

// WithFreshnessWindow sets how far behind now rollups are trusted for
// day-level queries.
func WithFreshnessWindow(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.freshnessWindow = d
		}
	}
}

// WithCacheTTLs sets the stable and recent cache TTL tiers.
func WithCacheTTLs(stable, recent time.Duration) Option {
	return func(s *Service) {
		if stable > 0 {
			s.stableTTL = stable
		}
		if recent > 0 {
			s.recentTTL = recent
		}
	}
}

// WithBackfillBatchSize sets the entity-day batch size for backfills.
func WithBackfillBatchSize(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.backfillBatchSize = n
		}
	}
}

// WithUseRollups toggles the rollup read path.
func WithUseRollups(on bool) Option {
	return func(s *Service) { s.useRollups = on }
}

// WithShadowReads toggles shadow-read comparison logging.
func WithShadowReads(on bool) Option {
	return func(s *Service) { s.shadowReads = on }
}

// WithLogger sets a custom logger for the service.
func WithLogger(l logger.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// New constructs a Service with default configuration.
func New(opts ...Option) *Service {
	s := &Service{
		queueSize:         10_000,
		workerCount:       runtime.NumCPU(),
		sweepInterval:     15 * time.Minute,
		freshnessWindow:   7 * 24 * time.Hour,
		stableTTL:         30 * time.Minute,
		recentTTL:         5 * time.Minute,
		backfillBatchSize: 100,
		useRollups:        true,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start wires and starts the engine components. It is safe to call more
// than once; repeat calls are no-ops.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return nil
	}
	if s.logger == nil {
		s.logger = logger.Get()
	}
	s.logger.Info(ctx, "starting analytics engine...")

	if s.store == nil {
		s.store = repository.NewMemoryStore()
		s.logger.Info(ctx, "using in-memory store")
	}
	s.aggregator = rollup.New(s.store)
	s.deduper = dedupe.NewInMemoryDeduper()
	s.cache = query.NewCache()
	s.router = query.New(s.store,
		query.WithCache(s.cache),
		query.WithUseRollups(s.useRollups),
		query.WithShadowReads(s.shadowReads),
		query.WithFreshnessWindow(s.freshnessWindow),
		query.WithTTLs(s.stableTTL, s.recentTTL),
	)
	s.queue = eventqueue.NewInMemoryQueue(
		eventqueue.WithCapacity(s.queueSize),
	)
	s.pool = workerpool.NewPool(s.workerCount, s.queue, s.aggregator)
	s.pool.Start(ctx)

	s.scheduler = sweep.New(s.store, s.aggregator,
		sweep.WithInterval(s.sweepInterval),
		sweep.WithBatchSize(s.backfillBatchSize),
		sweep.WithSeedWindow(s.freshnessWindow),
	)
	s.scheduler.Start(ctx)

	s.started = true
	s.logger.Info(ctx, "analytics engine started",
		logger.Int("workers", s.workerCount),
		logger.Int("queueSize", s.queueSize),
		logger.Duration("sweepInterval", s.sweepInterval),
	)
	return nil
}

// Stop gracefully shuts down the engine: the sweeper first, then the
// queue and workers, draining buffered trigger jobs.
func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started {
		return
	}
	s.logger.Info(ctx, "stopping analytics engine...")

	s.scheduler.Stop()
	if err := s.pool.Shutdown(ctx); err != nil {
		s.logger.Warn(ctx, "worker pool shutdown", logger.Error(err))
	}

	s.started = false
	s.logger.Info(ctx, "analytics engine stopped")
}

// SubmitEvent validates and appends one domain event, updates vacation
// state when applicable, invalidates the organization's cached answers,
// and triggers recomputation of the affected entity-days.
func (s *Service) SubmitEvent(ctx context.Context, e model.Event) (model.Event, error) {
	s.mu.RLock()
	started := s.started
	s.mu.RUnlock()
	if !started {
		return model.Event{}, ErrNotStarted
	}
	if err := validateEvent(e); err != nil {
		return model.Event{}, err
	}
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.OccurredAt.IsZero() {
		e.OccurredAt = time.Now().UTC()
	}
	e.OccurredAt = e.OccurredAt.UTC()

	// Fast replay check before touching the store; the store's unique
	// constraint stays authoritative.
	if s.deduper.SeenAndRecord(ctx, e.ID) {
		return model.Event{}, fmt.Errorf("%w: %s", repository.ErrDuplicateEvent, e.ID)
	}
	if err := s.store.AppendEvent(ctx, e); err != nil {
		if !errors.Is(err, repository.ErrDuplicateEvent) {
			s.deduper.Unrecord(ctx, e.ID)
		}
		return model.Event{}, err
	}

	days := []time.Time{calendar.DayStart(e.OccurredAt)}
	if e.Kind == model.KindVacationDeclared {
		week := calendar.WeekStart(e.Vacation.WeekOf)
		if err := s.store.SetVacation(ctx, e.OrganizationID, e.UserID, week, e.Vacation.On); err != nil {
			return model.Event{}, err
		}
		// The whole declared week goes stale, including days already
		// swept past the watermark.
		days = days[:0]
		for i := 0; i < 7; i++ {
			days = append(days, week.AddDate(0, 0, i))
		}
	}

	s.InvalidateOrganization(e.OrganizationID)
	for _, d := range days {
		s.TriggerRecompute(ctx, e.OrganizationID, e.UserID, d)
	}
	return e, nil
}

// TriggerRecompute enqueues a recompute for one entity-day. Failures are
// absorbed: a full queue only delays freshness until the next sweep.
func (s *Service) TriggerRecompute(ctx context.Context, organizationID, userID string, day time.Time) bool {
	s.mu.RLock()
	q := s.queue
	s.mu.RUnlock()
	if q == nil {
		return false
	}

	ok := q.Enqueue(ctx, eventqueue.Job{
		OrganizationID: organizationID,
		UserID:         userID,
		Day:            day,
	})
	if !ok {
		s.logger.Warn(ctx, "trigger queue rejected job",
			logger.String("organization", organizationID),
			logger.String("user", userID),
			logger.Time("day", day),
		)
	}
	return ok
}

// Recompute synchronously rebuilds one entity-day, bypassing the queue.
func (s *Service) Recompute(ctx context.Context, organizationID, userID string, day time.Time) error {
	s.mu.RLock()
	agg := s.aggregator
	s.mu.RUnlock()
	if agg == nil {
		return ErrNotStarted
	}
	return agg.Recompute(ctx, organizationID, userID, day)
}

// StartPeriodicSweep resumes the periodic sweeper after a StopPeriodicSweep.
func (s *Service) StartPeriodicSweep(ctx context.Context) {
	s.mu.RLock()
	sched := s.scheduler
	s.mu.RUnlock()
	if sched != nil {
		sched.Start(ctx)
	}
}

// StopPeriodicSweep pauses the periodic sweeper without stopping the
// rest of the engine. Triggered recomputes keep flowing.
func (s *Service) StopPeriodicSweep() {
	s.mu.RLock()
	sched := s.scheduler
	s.mu.RUnlock()
	if sched != nil {
		sched.Stop()
	}
}

// RunSweepPass runs one sweep over all recently active organizations.
// Exposed for admin use; the periodic sweeper calls the same path.
func (s *Service) RunSweepPass(ctx context.Context) error {
	s.mu.RLock()
	sched := s.scheduler
	s.mu.RUnlock()
	if sched == nil {
		return ErrNotStarted
	}
	return sched.RunPass(ctx)
}

// Backfill recomputes every entity-day in [from, to] for the
// organization and force-sets its watermark to the range end.
func (s *Service) Backfill(ctx context.Context, organizationID string, from, to time.Time) error {
	s.mu.RLock()
	sched := s.scheduler
	s.mu.RUnlock()
	if sched == nil {
		return ErrNotStarted
	}
	if err := sched.Backfill(ctx, organizationID, from, to); err != nil {
		return err
	}
	s.InvalidateOrganization(organizationID)
	return nil
}

// InvalidateOrganization drops every cached answer for the organization.
func (s *Service) InvalidateOrganization(organizationID string) {
	s.mu.RLock()
	c := s.cache
	s.mu.RUnlock()
	if c != nil {
		c.InvalidateOrganization(organizationID)
	}
}

// PulseMetrics answers a mood query.
func (s *Service) PulseMetrics(ctx context.Context, organizationID string, opts model.QueryOptions) (*model.PulseReport, error) {
	r, err := s.routerOrErr()
	if err != nil {
		return nil, err
	}
	return r.PulseMetrics(ctx, organizationID, opts)
}

// ShoutoutMetrics answers a recognition query.
func (s *Service) ShoutoutMetrics(ctx context.Context, organizationID string, opts model.QueryOptions) (*model.ShoutoutReport, error) {
	r, err := s.routerOrErr()
	if err != nil {
		return nil, err
	}
	return r.ShoutoutMetrics(ctx, organizationID, opts)
}

// CheckinComplianceMetrics answers a submission-compliance query.
func (s *Service) CheckinComplianceMetrics(ctx context.Context, organizationID string, opts model.QueryOptions) (*model.ComplianceReport, error) {
	r, err := s.routerOrErr()
	if err != nil {
		return nil, err
	}
	return r.CheckinComplianceMetrics(ctx, organizationID, opts)
}

// ReviewComplianceMetrics answers a review-compliance query.
func (s *Service) ReviewComplianceMetrics(ctx context.Context, organizationID string, opts model.QueryOptions) (*model.ComplianceReport, error) {
	r, err := s.routerOrErr()
	if err != nil {
		return nil, err
	}
	return r.ReviewComplianceMetrics(ctx, organizationID, opts)
}

func (s *Service) routerOrErr() (*query.Router, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.router == nil {
		return nil, ErrNotStarted
	}
	return s.router, nil
}

// Stats is a point-in-time snapshot of the engine's moving parts.
// QueueLength and CacheEntries are zero until the service starts.
type Stats struct {
	Started       bool   `json:"started"`
	WorkerCount   int    `json:"worker_count"`
	QueueCapacity int    `json:"queue_capacity"`
	QueueLength   int    `json:"queue_length"`
	CacheEntries  int    `json:"cache_entries"`
	SweepInterval string `json:"sweep_interval"`
	UseRollups    bool   `json:"use_rollups"`
	ShadowReads   bool   `json:"shadow_reads"`
}

// GetStats returns a snapshot of the engine state for monitoring.
func (s *Service) GetStats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := Stats{
		Started:       s.started,
		WorkerCount:   s.workerCount,
		QueueCapacity: s.queueSize,
		SweepInterval: s.sweepInterval.String(),
		UseRollups:    s.useRollups,
		ShadowReads:   s.shadowReads,
	}
	if s.started {
		stats.QueueLength = s.queue.Len(context.Background())
		stats.CacheEntries = s.cache.Len()
		metrics.UpdateQueueSize(stats.QueueLength)
		metrics.UpdateWorkerActiveCount(s.workerCount)
	}
	return stats
}

// validateEvent rejects events the aggregator could not attribute.
func validateEvent(e model.Event) error {
	if e.OrganizationID == "" {
		return fmt.Errorf("%w: missing organization id", ErrInvalidEvent)
	}
	if e.UserID == "" {
		return fmt.Errorf("%w: missing user id", ErrInvalidEvent)
	}
	switch e.Kind {
	case model.KindCheckinSubmitted:
		if e.Checkin == nil {
			return fmt.Errorf("%w: check-in event without payload", ErrInvalidEvent)
		}
	case model.KindShoutoutGiven, model.KindShoutoutReceived:
	case model.KindVacationDeclared:
		if e.Vacation == nil {
			return fmt.Errorf("%w: vacation event without payload", ErrInvalidEvent)
		}
		if e.Vacation.WeekOf.IsZero() {
			return fmt.Errorf("%w: vacation event without week", ErrInvalidEvent)
		}
	default:
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidEvent, e.Kind)
	}
	return nil
}
