// Package worker runs the recompute workers that drain the trigger queue.
// Failures are logged and swallowed: the write that produced the trigger
// already succeeded, and the periodic sweep self-heals any missed day.
package worker

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/cadencehq/cadence/internal/adapters/mq/queue"
	"github.com/cadencehq/cadence/pkg/logger"
	"github.com/cadencehq/cadence/pkg/metrics"
)

// Default worker configuration constants.
const (
	defaultWorkerCount    = 4
	workerShutdownTimeout = 5 * time.Second
	poolShutdownTimeout   = 30 * time.Second
)

// Recomputer rebuilds one entity-day's buckets.
type Recomputer interface {
	Recompute(ctx context.Context, organizationID, userID string, day time.Time) error
}

// Queue defines how workers receive jobs.
type Queue interface {
	Dequeue(ctx context.Context) <-chan queue.Job
}

// Worker processes trigger jobs until stopped.
type Worker struct {
	queue      Queue
	recomputer Recomputer
	name       string

	shutdown chan struct{}
	done     chan struct{}

	logger logger.Logger
}

// Option applies a configuration option to the Worker.
type Option func(*Worker)

// WithName sets the worker name for identification and logging.
func WithName(name string) Option {
	return func(w *Worker) {
		if name != "" {
			w.name = name
		}
	}
}

// WithLogger sets a custom logger for the worker.
func WithLogger(l logger.Logger) Option {
	return func(w *Worker) {
		if l != nil {
			w.logger = l
		}
	}
}

// NewWorker creates a worker with configuration options.
func NewWorker(q Queue, recomputer Recomputer, opts ...Option) *Worker {
	w := &Worker{
		queue:      q,
		recomputer: recomputer,
		name:       "worker",
		shutdown:   make(chan struct{}),
		done:       make(chan struct{}),
		logger:     logger.Get().Named("worker"),
	}
	for _, opt := range opts {
		opt(w)
	}
	if w.name != "worker" {
		w.logger = w.logger.Named(w.name)
	}
	return w
}

// Run starts the worker loop. It returns when the context is canceled,
// Shutdown is called, or the queue closes.
func (w *Worker) Run(ctx context.Context) {
	defer close(w.done)

	jobs := w.queue.Dequeue(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.shutdown:
			return
		case j, ok := <-jobs:
			if !ok {
				return
			}
			w.process(ctx, j)
		}
	}
}

// Shutdown gracefully stops the worker.
func (w *Worker) Shutdown(ctx context.Context) error {
	close(w.shutdown)
	select {
	case <-w.done:
		return nil
	case <-ctx.Done():
		w.logger.Warn(ctx, "shutdown timed out")
		return fmt.Errorf("shutdown timed out: %w", ctx.Err())
	}
}

// process handles one job. Errors are terminal for the job: the trigger
// path is fire-and-forget and never retries.
func (w *Worker) process(ctx context.Context, j queue.Job) {
	start := time.Now()
	defer func() {
		metrics.RecordWorkerProcessingLatency(float64(time.Since(start).Milliseconds()))
	}()

	if err := w.recomputer.Recompute(ctx, j.OrganizationID, j.UserID, j.Day); err != nil {
		metrics.RecordWorkerError()
		metrics.RecordRecomputeError("triggered")
		w.logger.Error(ctx, "triggered recompute failed",
			logger.String("organization", j.OrganizationID),
			logger.String("user", j.UserID),
			logger.Time("day", j.Day),
			logger.Error(err),
		)
		return
	}
	metrics.RecordRecompute("triggered")
}

// Pool manages a fixed set of workers draining one queue.
type Pool struct {
	workers []*Worker
	queue   Queue

	logger logger.Logger
}

// NewPool creates a worker pool.
func NewPool(workerCount int, q Queue, recomputer Recomputer) *Pool {
	if workerCount < 1 {
		workerCount = defaultWorkerCount
	}

	p := &Pool{
		workers: make([]*Worker, workerCount),
		queue:   q,
		logger:  logger.Get().Named("worker-pool"),
	}
	for i := 0; i < workerCount; i++ {
		p.workers[i] = NewWorker(q, recomputer, WithName("worker-"+strconv.Itoa(i)))
	}

	metrics.UpdateWorkerActiveCount(workerCount)
	return p
}

// Start launches all workers in the pool.
func (p *Pool) Start(ctx context.Context) {
	for _, w := range p.workers {
		go w.Run(ctx)
	}
}

// Shutdown closes the queue and waits for workers to drain, bounded by
// poolShutdownTimeout.
func (p *Pool) Shutdown(ctx context.Context) error {
	if closer, ok := p.queue.(interface{ Close() error }); ok {
		if err := closer.Close(); err != nil {
			p.logger.Error(ctx, "error closing queue", logger.Error(err))
		}
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, poolShutdownTimeout)
	defer cancel()

	for i, w := range p.workers {
		select {
		case <-w.done:
		case <-shutdownCtx.Done():
			p.logger.Warn(ctx, "worker shutdown timed out", logger.Int("worker_id", i))
		}
	}
	metrics.UpdateWorkerActiveCount(0)
	return nil
}
