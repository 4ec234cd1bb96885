// Package queue holds the bounded in-memory queue that carries
// write-triggered recompute jobs from the request path to the worker
// pool. Enqueue is non-blocking: a full queue drops the trigger, and the
// periodic sweep backstops the lost freshness.
package queue

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cadencehq/cadence/internal/domain/calendar"
	"github.com/cadencehq/cadence/pkg/metrics"
)

// defaultCapacity bounds the trigger queue when no option is given.
const defaultCapacity = 10_000

// Job identifies one entity-day to recompute.
type Job struct {
	OrganizationID string
	UserID         string
	Day            time.Time // normalized to the UTC day boundary
}

func (j Job) key() string {
	return j.OrganizationID + "|" + j.UserID + "|" + j.Day.Format("2006-01-02")
}

// Queue provides non-blocking enqueue and channel-based dequeue semantics.
type Queue interface {
	// Enqueue adds a job. Returns false if the queue is full or closed.
	// A job for an entity-day that is already queued is coalesced and
	// reports success.
	Enqueue(ctx context.Context, j Job) bool

	// Dequeue returns a channel delivering jobs until the queue closes.
	Dequeue(ctx context.Context) <-chan Job

	// Len returns the current number of queued jobs.
	Len(ctx context.Context) int

	// Close stops the queue; no new jobs are accepted and the dequeue
	// channel drains then closes.
	Close() error

	// IsClosed reports whether the queue has been closed.
	IsClosed() bool
}

// InMemoryQueue implements Queue over a buffered channel with per
// entity-day coalescing.
type InMemoryQueue struct {
	jobs     chan Job
	capacity int

	mu      sync.Mutex
	pending map[string]struct{}
	closed  bool
}

// NewInMemoryQueue creates a trigger queue with configuration options.
func NewInMemoryQueue(opts ...Option) *InMemoryQueue {
	q := &InMemoryQueue{
		capacity: defaultCapacity,
		pending:  make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(q)
	}
	q.jobs = make(chan Job, q.capacity)

	metrics.UpdateQueueCapacity(q.capacity)
	metrics.UpdateQueueSize(0)
	metrics.UpdateQueueUtilization(0)
	return q
}

// Enqueue adds a job, coalescing duplicates for a still-queued entity-day.
func (q *InMemoryQueue) Enqueue(ctx context.Context, j Job) bool {
	j.Day = calendar.DayStart(j.Day)

	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		metrics.RecordQueueDrop()
		return false
	}
	if _, ok := q.pending[j.key()]; ok {
		metrics.RecordQueueCoalesced()
		return true
	}

	select {
	case q.jobs <- j:
		q.pending[j.key()] = struct{}{}
		metrics.RecordQueueEnqueue()
		q.updateGauges()
		return true
	case <-ctx.Done():
		metrics.RecordQueueDrop()
		return false
	default:
		metrics.RecordQueueDrop()
		return false
	}
}

// Dequeue returns a channel that receives jobs as they become available.
func (q *InMemoryQueue) Dequeue(ctx context.Context) <-chan Job {
	out := make(chan Job)
	go func() {
		defer close(out)
		for j := range q.jobs {
			q.mu.Lock()
			delete(q.pending, j.key())
			q.mu.Unlock()

			select {
			case out <- j:
				metrics.RecordQueueDequeue()
				q.updateGauges()
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}

// Len returns the current number of queued jobs.
func (q *InMemoryQueue) Len(_ context.Context) int {
	return len(q.jobs)
}

// Close gracefully shuts down the queue.
func (q *InMemoryQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return nil
	}
	close(q.jobs)
	q.closed = true
	return nil
}

// IsClosed reports whether the queue has been closed.
func (q *InMemoryQueue) IsClosed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed
}

// updateGauges refreshes the size and utilization gauges. Callers hold no
// particular lock; len on a channel is safe.
func (q *InMemoryQueue) updateGauges() {
	size := len(q.jobs)
	metrics.UpdateQueueSize(size)
	metrics.UpdateQueueUtilization(float64(size) / float64(q.capacity))
}

// String describes the queue for debug logs.
func (q *InMemoryQueue) String() string {
	return fmt.Sprintf("trigger queue (%d/%d)", len(q.jobs), q.capacity)
}
