// Package metrics provides Prometheus metrics for the cadence analytics engine.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Manager owns all Prometheus metrics for the engine.
type Manager struct {
	namespace        string
	subsystem        string
	histogramBuckets []float64
	registry         prometheus.Registerer

	// Aggregator metrics
	recomputeTotal   *prometheus.CounterVec
	recomputeErrors  *prometheus.CounterVec
	recomputeLatency prometheus.Histogram
	bucketsWritten   *prometheus.CounterVec
	bucketsDeleted   *prometheus.CounterVec

	// Sweep metrics
	sweepPasses       prometheus.Counter
	sweepPassErrors   prometheus.Counter
	sweepPassDuration prometheus.Histogram
	sweepPairs        prometheus.Counter
	watermarkLag      *prometheus.GaugeVec
	backfillBatches   prometheus.Counter

	// Trigger queue metrics
	queueSize        prometheus.Gauge
	queueCapacity    prometheus.Gauge
	queueUtilization prometheus.Gauge
	queueEnqueues    prometheus.Counter
	queueDrops       prometheus.Counter
	queueCoalesced   prometheus.Counter
	queueDequeues    prometheus.Counter

	// Worker metrics
	workerActive  prometheus.Gauge
	workerLatency prometheus.Histogram
	workerErrors  prometheus.Counter

	// Query router metrics
	queryPath        *prometheus.CounterVec
	queryErrors      *prometheus.CounterVec
	cacheHits        prometheus.Counter
	cacheMisses      prometheus.Counter
	cacheEntries     prometheus.Gauge
	cacheInvalidated prometheus.Counter
	shadowDivergence prometheus.Counter

	// HTTP metrics
	httpRequests        *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	// Process metrics
	systemMemoryUsage    prometheus.Gauge
	systemGoroutineCount prometheus.Gauge
}

// Global metrics manager instance.
var globalManager *Manager //nolint:gochecknoglobals // singleton metrics manager

// Custom registry to avoid the default Go collectors.
var customRegistry = prometheus.NewRegistry() //nolint:gochecknoglobals // metrics registry

func init() { //nolint:gochecknoinits // global metrics setup
	globalManager = NewManager(WithPrometheusRegistry(customRegistry))
}

// NewManager creates a metrics manager with default configuration.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		namespace:        "cadence",
		subsystem:        "analytics",
		histogramBuckets: prometheus.DefBuckets,
		registry:         prometheus.DefaultRegisterer,
	}
	for _, opt := range opts {
		opt(m)
	}
	m.initializeMetrics()
	return m
}

func (m *Manager) initializeMetrics() { //nolint:funlen // metric registration is inherently long
	auto := promauto.With(m.registry)

	m.recomputeTotal = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "recompute_total",
		Help:      "Entity-day recomputations by mode (sweep, triggered, backfill, direct)",
	}, []string{"mode"})

	m.recomputeErrors = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "recompute_errors_total",
		Help:      "Failed entity-day recomputations by mode",
	}, []string{"mode"})

	m.recomputeLatency = auto.NewHistogram(prometheus.HistogramOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "recompute_latency_milliseconds",
		Help:      "Latency of a single entity-day recomputation",
		Buckets:   m.histogramBuckets,
	})

	m.bucketsWritten = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "buckets_written_total",
		Help:      "Bucket rows inserted by family (pulse, recognition, compliance)",
	}, []string{"family"})

	m.bucketsDeleted = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "buckets_deleted_total",
		Help:      "Bucket rows removed before rewrite by family",
	}, []string{"family"})

	m.sweepPasses = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "sweep_passes_total",
		Help:      "Completed periodic sweep passes",
	})

	m.sweepPassErrors = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "sweep_pass_errors_total",
		Help:      "Sweep passes that logged at least one error",
	})

	m.sweepPassDuration = auto.NewHistogram(prometheus.HistogramOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "sweep_pass_duration_milliseconds",
		Help:      "Wall-clock duration of a sweep pass",
		Buckets:   m.histogramBuckets,
	})

	m.sweepPairs = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "sweep_entity_days_total",
		Help:      "Entity-day pairs recomputed by sweep passes",
	})

	m.watermarkLag = auto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "watermark_lag_seconds",
		Help:      "Age of the organization watermark at the end of a sweep pass",
	}, []string{"organization"})

	m.backfillBatches = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "backfill_batches_total",
		Help:      "Backfill batches processed",
	})

	m.queueSize = auto.NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "trigger_queue_size",
		Help:      "Current number of queued recompute jobs",
	})

	m.queueCapacity = auto.NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "trigger_queue_capacity",
		Help:      "Configured capacity of the recompute trigger queue",
	})

	m.queueUtilization = auto.NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "trigger_queue_utilization",
		Help:      "Queue size divided by capacity",
	})

	m.queueEnqueues = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "trigger_enqueues_total",
		Help:      "Recompute jobs accepted by the trigger queue",
	})

	m.queueDrops = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "trigger_drops_total",
		Help:      "Recompute jobs dropped because the queue was full or closed",
	})

	m.queueCoalesced = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "trigger_coalesced_total",
		Help:      "Recompute jobs coalesced into an already-queued entity-day",
	})

	m.queueDequeues = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "trigger_dequeues_total",
		Help:      "Recompute jobs handed to workers",
	})

	m.workerActive = auto.NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "worker_active_count",
		Help:      "Number of running recompute workers",
	})

	m.workerLatency = auto.NewHistogram(prometheus.HistogramOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "worker_processing_latency_milliseconds",
		Help:      "Latency of worker-side recompute processing",
		Buckets:   m.histogramBuckets,
	})

	m.workerErrors = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "worker_errors_total",
		Help:      "Recompute jobs that failed in a worker",
	})

	m.queryPath = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "query_path_total",
		Help:      "Analytics queries by method and chosen read path (rollup, raw, cache)",
	}, []string{"method", "path"})

	m.queryErrors = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "query_errors_total",
		Help:      "Analytics query failures by method",
	}, []string{"method"})

	m.cacheHits = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "cache_hits_total",
		Help:      "Query cache hits",
	})

	m.cacheMisses = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "cache_misses_total",
		Help:      "Query cache misses",
	})

	m.cacheEntries = auto.NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "cache_entries",
		Help:      "Live query cache entries",
	})

	m.cacheInvalidated = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "cache_invalidated_total",
		Help:      "Cache entries dropped by organization-scoped invalidation",
	})

	m.shadowDivergence = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "shadow_divergence_total",
		Help:      "Shadow reads whose rollup and raw answers differed",
	})

	m.httpRequests = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "http_requests_total",
		Help:      "HTTP requests by endpoint, method and status code",
	}, []string{"endpoint", "method", "status_code"})

	m.httpRequestDuration = auto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "http_request_duration_milliseconds",
		Help:      "HTTP request duration in milliseconds",
		Buckets:   m.histogramBuckets,
	}, []string{"endpoint", "method", "status_code"})

	m.systemMemoryUsage = auto.NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "system_memory_bytes",
		Help:      "Heap bytes in use",
	})

	m.systemGoroutineCount = auto.NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "system_goroutines",
		Help:      "Number of goroutines",
	})
}

// Aggregator helpers.

func RecordRecompute(mode string)             { globalManager.recomputeTotal.WithLabelValues(mode).Inc() }
func RecordRecomputeError(mode string)        { globalManager.recomputeErrors.WithLabelValues(mode).Inc() }
func RecordRecomputeLatency(latencyMs float64) { globalManager.recomputeLatency.Observe(latencyMs) }
func RecordBucketWritten(family string)       { globalManager.bucketsWritten.WithLabelValues(family).Inc() }
func RecordBucketDeleted(family string)       { globalManager.bucketsDeleted.WithLabelValues(family).Inc() }

// Sweep helpers.

func RecordSweepPass()                        { globalManager.sweepPasses.Inc() }
func RecordSweepPassError()                   { globalManager.sweepPassErrors.Inc() }
func RecordSweepPassDuration(d time.Duration) {
	globalManager.sweepPassDuration.Observe(float64(d.Milliseconds()))
}
func RecordSweepEntityDays(n int) { globalManager.sweepPairs.Add(float64(n)) }
func UpdateWatermarkLag(organizationID string, lag time.Duration) {
	globalManager.watermarkLag.WithLabelValues(organizationID).Set(lag.Seconds())
}
func RecordBackfillBatch() { globalManager.backfillBatches.Inc() }

// Trigger queue helpers.

func UpdateQueueSize(size int)     { globalManager.queueSize.Set(float64(size)) }
func UpdateQueueCapacity(cap int)  { globalManager.queueCapacity.Set(float64(cap)) }
func UpdateQueueUtilization(u float64) { globalManager.queueUtilization.Set(u) }
func RecordQueueEnqueue()          { globalManager.queueEnqueues.Inc() }
func RecordQueueDrop()             { globalManager.queueDrops.Inc() }
func RecordQueueCoalesced()        { globalManager.queueCoalesced.Inc() }
func RecordQueueDequeue()          { globalManager.queueDequeues.Inc() }

// Worker helpers.

func UpdateWorkerActiveCount(count int)            { globalManager.workerActive.Set(float64(count)) }
func RecordWorkerProcessingLatency(latencyMs float64) { globalManager.workerLatency.Observe(latencyMs) }
func RecordWorkerError()                           { globalManager.workerErrors.Inc() }

// Query router helpers.

func RecordQueryPath(method, path string) {
	globalManager.queryPath.WithLabelValues(method, path).Inc()
}
func RecordQueryError(method string) { globalManager.queryErrors.WithLabelValues(method).Inc() }
func RecordCacheHit()                { globalManager.cacheHits.Inc() }
func RecordCacheMiss()               { globalManager.cacheMisses.Inc() }
func UpdateCacheEntries(n int)       { globalManager.cacheEntries.Set(float64(n)) }
func RecordCacheInvalidated(n int)   { globalManager.cacheInvalidated.Add(float64(n)) }
func RecordShadowDivergence()        { globalManager.shadowDivergence.Inc() }

// HTTP helpers.

func RecordHTTPRequest(endpoint, method, statusCode string) {
	globalManager.httpRequests.WithLabelValues(endpoint, method, statusCode).Inc()
}

func RecordHTTPRequestDuration(endpoint, method, statusCode string, durationMs float64) {
	globalManager.httpRequestDuration.WithLabelValues(endpoint, method, statusCode).Observe(durationMs)
}

// Process helpers.

func UpdateSystemMemoryUsage(bytes uint64) { globalManager.systemMemoryUsage.Set(float64(bytes)) }
func UpdateSystemGoroutineCount(count int) { globalManager.systemGoroutineCount.Set(float64(count)) }

// GetRegistry returns the custom registry for serving /metrics.
func GetRegistry() *prometheus.Registry {
	return customRegistry
}
