// Package query routes analytics reads between the rollup tables and the
// raw event log, with a process-local TTL cache in front.
package query

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/cadencehq/cadence/internal/adapters/repository"
	"github.com/cadencehq/cadence/internal/domain/calendar"
	"github.com/cadencehq/cadence/internal/domain/compliance"
	"github.com/cadencehq/cadence/internal/domain/model"
	"github.com/cadencehq/cadence/internal/domain/rollup"
	"github.com/cadencehq/cadence/pkg/logger"
	"github.com/cadencehq/cadence/pkg/metrics"
)

// Query method names, used for cache keys and metrics labels.
const (
	methodPulse             = "pulse"
	methodShoutouts         = "shoutouts"
	methodCheckinCompliance = "checkin_compliance"
	methodReviewCompliance  = "review_compliance"
)

// Defaults for the freshness window and the two TTL tiers.
const (
	defaultFreshnessWindow = 7 * 24 * time.Hour
	defaultStableTTL       = 30 * time.Minute
	defaultRecentTTL       = 5 * time.Minute
)

// Store is the slice of the repository the router reads from.
type Store interface {
	Events(ctx context.Context, f repository.EventFilter) ([]model.Event, error)
	OnVacation(ctx context.Context, organizationID, userID string, weekOf time.Time) (bool, error)
	PulseBuckets(ctx context.Context, f repository.BucketFilter) ([]repository.PulseBucket, error)
	RecognitionBuckets(ctx context.Context, f repository.BucketFilter) ([]repository.RecognitionBucket, error)
	ComplianceBuckets(ctx context.Context, f repository.BucketFilter) ([]repository.ComplianceBucket, error)
}

// Router answers analytics queries. Coarse-grained windows are served
// from the rollup tables; fine-grained or recent windows fall back to
// scanning raw events so answers never trail the freshness window.
type Router struct {
	store       Store
	cache       *Cache
	useRollups  bool
	shadowReads bool
	freshness   time.Duration
	stableTTL   time.Duration
	recentTTL   time.Duration
	now         func() time.Time
	logger      logger.Logger
}

// Option applies a configuration option to the Router.
type Option func(*Router)

// WithCache attaches a TTL cache. Without one every query recomputes.
func WithCache(c *Cache) Option {
	return func(r *Router) { r.cache = c }
}

// WithUseRollups toggles the rollup read path. When off every query
// scans raw events, which is the escape hatch while validating rollup
// parity in production.
func WithUseRollups(on bool) Option {
	return func(r *Router) { r.useRollups = on }
}

// WithShadowReads computes the unserved path as well and logs count
// divergence. The served answer is never altered.
func WithShadowReads(on bool) Option {
	return func(r *Router) { r.shadowReads = on }
}

// WithFreshnessWindow overrides how far behind now the rollup tables are
// trusted for day-level queries.
func WithFreshnessWindow(d time.Duration) Option {
	return func(r *Router) {
		if d > 0 {
			r.freshness = d
		}
	}
}

// WithTTLs overrides the stable and recent cache TTL tiers.
func WithTTLs(stable, recent time.Duration) Option {
	return func(r *Router) {
		if stable > 0 {
			r.stableTTL = stable
		}
		if recent > 0 {
			r.recentTTL = recent
		}
	}
}

// WithClock injects a clock for tests.
func WithClock(now func() time.Time) Option {
	return func(r *Router) {
		if now != nil {
			r.now = now
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l logger.Logger) Option {
	return func(r *Router) {
		if l != nil {
			r.logger = l
		}
	}
}

// New creates a Router over store.
func New(store Store, opts ...Option) *Router {
	r := &Router{
		store:      store,
		useRollups: true,
		freshness:  defaultFreshnessWindow,
		stableTTL:  defaultStableTTL,
		recentTTL:  defaultRecentTTL,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.logger == nil {
		r.logger = logger.Named("query")
	}
	return r
}

// validate normalizes opts in place and rejects malformed requests.
func validate(opts *model.QueryOptions) error {
	switch opts.Scope {
	case "", model.ScopeOrganization:
		opts.Scope = model.ScopeOrganization
	case model.ScopeTeam, model.ScopeUser:
		if opts.EntityID == "" {
			return fmt.Errorf("%w: %s", ErrMissingEntity, opts.Scope)
		}
	default:
		return fmt.Errorf("%w: %q", ErrInvalidScope, opts.Scope)
	}
	switch opts.Period {
	case "", model.PeriodDay, model.PeriodWeek, model.PeriodMonth, model.PeriodQuarter, model.PeriodYear:
	default:
		return fmt.Errorf("%w: %q", ErrInvalidPeriod, opts.Period)
	}
	if !opts.From.IsZero() {
		opts.From = calendar.DayStart(opts.From)
	}
	if !opts.To.IsZero() {
		opts.To = calendar.DayStart(opts.To)
	}
	return nil
}

// usesRollups decides the read path. Coarse periods always roll up; a
// day-level query rolls up only when its whole window is older than the
// freshness horizon; an unbounded or ungrouped query scans raw events.
func (r *Router) usesRollups(opts model.QueryOptions) bool {
	if !r.useRollups {
		return false
	}
	switch opts.Period {
	case model.PeriodWeek, model.PeriodMonth, model.PeriodQuarter, model.PeriodYear:
		return true
	case model.PeriodDay:
		return r.isStable(opts)
	default:
		return false
	}
}

// isStable reports whether the window ends before the freshness horizon,
// so its rollups can no longer change under normal operation.
func (r *Router) isStable(opts model.QueryOptions) bool {
	if opts.To.IsZero() {
		return false
	}
	return opts.To.Before(r.now().Add(-r.freshness))
}

func (r *Router) ttlFor(opts model.QueryOptions) time.Duration {
	if r.isStable(opts) {
		return r.stableTTL
	}
	return r.recentTTL
}

func cacheKey(organizationID, method string, opts model.QueryOptions) Key {
	return Key{
		OrganizationID: organizationID,
		Method:         method,
		Options: fmt.Sprintf("%s|%s|%s|%s|%s",
			opts.Scope, opts.EntityID, opts.Period,
			formatDay(opts.From), formatDay(opts.To)),
	}
}

func formatDay(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format("2006-01-02")
}

// bucketFilter maps opts onto a bucket read. Bucket dates are bounded
// inclusively on both ends.
func bucketFilter(organizationID string, opts model.QueryOptions) repository.BucketFilter {
	f := repository.BucketFilter{OrganizationID: organizationID, From: opts.From, To: opts.To}
	switch opts.Scope {
	case model.ScopeTeam:
		f.TeamID = opts.EntityID
	case model.ScopeUser:
		f.UserID = opts.EntityID
	}
	return f
}

// eventFilter maps opts onto an event scan. The event To bound is
// exclusive, so a day-bounded window extends to the next day start.
func eventFilter(organizationID string, opts model.QueryOptions, kinds ...model.EventKind) repository.EventFilter {
	f := repository.EventFilter{OrganizationID: organizationID, Kinds: kinds, From: opts.From}
	if !opts.To.IsZero() {
		f.To = calendar.NextDay(opts.To)
	}
	switch opts.Scope {
	case model.ScopeTeam:
		f.TeamID = opts.EntityID
	case model.ScopeUser:
		f.UserID = opts.EntityID
	}
	return f
}

// PulseMetrics answers a mood query grouped by opts.Period.
func (r *Router) PulseMetrics(ctx context.Context, organizationID string, opts model.QueryOptions) (*model.PulseReport, error) {
	if err := validate(&opts); err != nil {
		metrics.RecordQueryError(methodPulse)
		return nil, err
	}
	key := cacheKey(organizationID, methodPulse, opts)
	if r.cache != nil {
		if v, ok := r.cache.Get(key); ok {
			if cached, ok := v.(model.PulseReport); ok {
				cached.Source = model.SourceCache
				metrics.RecordQueryPath(methodPulse, string(model.SourceCache))
				return &cached, nil
			}
		}
	}

	fromRollups := r.usesRollups(opts)
	report, err := r.pulse(ctx, organizationID, opts, fromRollups)
	if err != nil {
		metrics.RecordQueryError(methodPulse)
		return nil, err
	}
	if r.shadowReads {
		if shadow, serr := r.pulse(ctx, organizationID, opts, !fromRollups); serr != nil {
			r.logger.Warn(ctx, "shadow pulse read failed", logger.Error(serr))
		} else {
			r.compareCounts(ctx, methodPulse, organizationID, len(report.Points), len(shadow.Points))
		}
	}

	metrics.RecordQueryPath(methodPulse, string(report.Source))
	if r.cache != nil {
		r.cache.Set(key, *report, r.ttlFor(opts))
	}
	return report, nil
}

func (r *Router) pulse(ctx context.Context, organizationID string, opts model.QueryOptions, fromRollups bool) (*model.PulseReport, error) {
	grouped := map[time.Time]*model.PulsePoint{}

	if fromRollups {
		buckets, err := r.store.PulseBuckets(ctx, bucketFilter(organizationID, opts))
		if err != nil {
			return nil, fmt.Errorf("load pulse buckets: %w", err)
		}
		for _, b := range buckets {
			p := groupPoint(grouped, opts.Period, b.BucketDate)
			p.CheckinCount += b.CheckinCount
			p.MoodSum += b.MoodSum
		}
	} else {
		events, err := r.store.Events(ctx, eventFilter(organizationID, opts, model.KindCheckinSubmitted))
		if err != nil {
			return nil, fmt.Errorf("scan check-in events: %w", err)
		}
		for _, e := range events {
			if e.Checkin == nil || !e.Checkin.Completed {
				continue
			}
			p := groupPoint(grouped, opts.Period, e.OccurredAt)
			p.CheckinCount++
			p.MoodSum += e.Checkin.Mood
		}
	}

	points := make([]model.PulsePoint, 0, len(grouped))
	for _, p := range grouped {
		if p.CheckinCount > 0 {
			p.AverageMood = float64(p.MoodSum) / float64(p.CheckinCount)
		}
		points = append(points, *p)
	}
	sortPulse(points)

	source := model.SourceRaw
	if fromRollups {
		source = model.SourceRollup
	}
	return &model.PulseReport{OrganizationID: organizationID, Points: points, Source: source}, nil
}

// ShoutoutMetrics answers a recognition query grouped by opts.Period.
func (r *Router) ShoutoutMetrics(ctx context.Context, organizationID string, opts model.QueryOptions) (*model.ShoutoutReport, error) {
	if err := validate(&opts); err != nil {
		metrics.RecordQueryError(methodShoutouts)
		return nil, err
	}
	key := cacheKey(organizationID, methodShoutouts, opts)
	if r.cache != nil {
		if v, ok := r.cache.Get(key); ok {
			if cached, ok := v.(model.ShoutoutReport); ok {
				cached.Source = model.SourceCache
				metrics.RecordQueryPath(methodShoutouts, string(model.SourceCache))
				return &cached, nil
			}
		}
	}

	fromRollups := r.usesRollups(opts)
	report, err := r.shoutouts(ctx, organizationID, opts, fromRollups)
	if err != nil {
		metrics.RecordQueryError(methodShoutouts)
		return nil, err
	}
	if r.shadowReads {
		if shadow, serr := r.shoutouts(ctx, organizationID, opts, !fromRollups); serr != nil {
			r.logger.Warn(ctx, "shadow shoutout read failed", logger.Error(serr))
		} else {
			r.compareCounts(ctx, methodShoutouts, organizationID, len(report.Points), len(shadow.Points))
		}
	}

	metrics.RecordQueryPath(methodShoutouts, string(report.Source))
	if r.cache != nil {
		r.cache.Set(key, *report, r.ttlFor(opts))
	}
	return report, nil
}

func (r *Router) shoutouts(ctx context.Context, organizationID string, opts model.QueryOptions, fromRollups bool) (*model.ShoutoutReport, error) {
	grouped := map[time.Time]*model.ShoutoutPoint{}

	if fromRollups {
		buckets, err := r.store.RecognitionBuckets(ctx, bucketFilter(organizationID, opts))
		if err != nil {
			return nil, fmt.Errorf("load recognition buckets: %w", err)
		}
		for _, b := range buckets {
			p := groupShoutout(grouped, opts.Period, b.BucketDate)
			p.ReceivedPublic += b.ReceivedPublic
			p.ReceivedPrivate += b.ReceivedPrivate
			p.Given += b.GivenCount
		}
	} else {
		events, err := r.store.Events(ctx, eventFilter(organizationID, opts,
			model.KindShoutoutReceived, model.KindShoutoutGiven))
		if err != nil {
			return nil, fmt.Errorf("scan shoutout events: %w", err)
		}
		for _, e := range events {
			p := groupShoutout(grouped, opts.Period, e.OccurredAt)
			switch e.Kind {
			case model.KindShoutoutGiven:
				p.Given++
			case model.KindShoutoutReceived:
				if e.Shoutout != nil && e.Shoutout.Public {
					p.ReceivedPublic++
				} else {
					p.ReceivedPrivate++
				}
			}
		}
	}

	points := make([]model.ShoutoutPoint, 0, len(grouped))
	for _, p := range grouped {
		points = append(points, *p)
	}
	sortShoutouts(points)

	source := model.SourceRaw
	if fromRollups {
		source = model.SourceRollup
	}
	return &model.ShoutoutReport{OrganizationID: organizationID, Points: points, Source: source}, nil
}

// CheckinComplianceMetrics answers a submission-compliance query over the
// window. Vacation weeks shrink the denominator but on-time submissions
// made during one still count toward the numerator.
func (r *Router) CheckinComplianceMetrics(ctx context.Context, organizationID string, opts model.QueryOptions) (*model.ComplianceReport, error) {
	return r.complianceReport(ctx, methodCheckinCompliance, organizationID, opts, false)
}

// ReviewComplianceMetrics answers a review-compliance query over the
// window. Reviews are attributed to the reviewed check-in's entity-day,
// so a user scope answers "reviews due on this user's check-ins".
func (r *Router) ReviewComplianceMetrics(ctx context.Context, organizationID string, opts model.QueryOptions) (*model.ComplianceReport, error) {
	return r.complianceReport(ctx, methodReviewCompliance, organizationID, opts, true)
}

func (r *Router) complianceReport(ctx context.Context, method, organizationID string, opts model.QueryOptions, review bool) (*model.ComplianceReport, error) {
	if err := validate(&opts); err != nil {
		metrics.RecordQueryError(method)
		return nil, err
	}
	key := cacheKey(organizationID, method, opts)
	if r.cache != nil {
		if v, ok := r.cache.Get(key); ok {
			if cached, ok := v.(model.ComplianceReport); ok {
				cached.Source = model.SourceCache
				metrics.RecordQueryPath(method, string(model.SourceCache))
				return &cached, nil
			}
		}
	}

	fromRollups := r.usesRollups(opts)
	report, err := r.compliance(ctx, organizationID, opts, review, fromRollups)
	if err != nil {
		metrics.RecordQueryError(method)
		return nil, err
	}
	if r.shadowReads {
		if shadow, serr := r.compliance(ctx, organizationID, opts, review, !fromRollups); serr != nil {
			r.logger.Warn(ctx, "shadow compliance read failed", logger.Error(serr))
		} else {
			r.compareCounts(ctx, method, organizationID, report.TotalDue, shadow.TotalDue)
		}
	}

	metrics.RecordQueryPath(method, string(report.Source))
	if r.cache != nil {
		r.cache.Set(key, *report, r.ttlFor(opts))
	}
	return report, nil
}

func (r *Router) compliance(ctx context.Context, organizationID string, opts model.QueryOptions, review, fromRollups bool) (*model.ComplianceReport, error) {
	var tally compliance.Tally

	if fromRollups {
		buckets, err := r.store.ComplianceBuckets(ctx, bucketFilter(organizationID, opts))
		if err != nil {
			return nil, fmt.Errorf("load compliance buckets: %w", err)
		}
		for _, b := range buckets {
			if review {
				tally.Merge(b.Review)
			} else {
				tally.Merge(b.Submission)
			}
		}
	} else {
		events, err := r.store.Events(ctx, eventFilter(organizationID, opts, model.KindCheckinSubmitted))
		if err != nil {
			return nil, fmt.Errorf("scan check-in events: %w", err)
		}
		for _, e := range events {
			if e.Checkin == nil || !e.Checkin.Completed {
				continue
			}
			var submission, reviewTally compliance.Tally
			if err := rollup.ObserveCheckin(ctx, r.store, organizationID, e, &submission, &reviewTally); err != nil {
				return nil, err
			}
			if review {
				tally.Merge(reviewTally)
			} else {
				tally.Merge(submission)
			}
		}
	}

	source := model.SourceRaw
	if fromRollups {
		source = model.SourceRollup
	}
	return &model.ComplianceReport{
		OrganizationID:   organizationID,
		TotalDue:         tally.Due,
		OnTime:           tally.OnTime,
		OnTimePercentage: tally.OnTimePercentage(),
		AverageDaysEarly: tally.AverageDaysEarly(),
		AverageDaysLate:  tally.AverageDaysLate(),
		Source:           source,
	}, nil
}

// compareCounts logs a shadow-read divergence. Only counts are compared;
// the served answer is already on its way out.
func (r *Router) compareCounts(ctx context.Context, method, organizationID string, served, shadow int) {
	if served == shadow {
		return
	}
	metrics.RecordShadowDivergence()
	r.logger.Warn(ctx, "shadow read diverged",
		logger.String("method", method),
		logger.String("organization", organizationID),
		logger.Int("served", served),
		logger.Int("shadow", shadow),
	)
}

func groupPoint(m map[time.Time]*model.PulsePoint, p model.Period, t time.Time) *model.PulsePoint {
	start := calendar.PeriodStart(p, t)
	pt, ok := m[start]
	if !ok {
		pt = &model.PulsePoint{PeriodStart: start}
		m[start] = pt
	}
	return pt
}

func groupShoutout(m map[time.Time]*model.ShoutoutPoint, p model.Period, t time.Time) *model.ShoutoutPoint {
	start := calendar.PeriodStart(p, t)
	pt, ok := m[start]
	if !ok {
		pt = &model.ShoutoutPoint{PeriodStart: start}
		m[start] = pt
	}
	return pt
}

func sortPulse(points []model.PulsePoint) {
	sort.Slice(points, func(i, j int) bool {
		return points[i].PeriodStart.Before(points[j].PeriodStart)
	})
}

func sortShoutouts(points []model.ShoutoutPoint) {
	sort.Slice(points, func(i, j int) bool {
		return points[i].PeriodStart.Before(points[j].PeriodStart)
	})
}
