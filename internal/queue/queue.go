// Package queue provides the bounded FIFO hand-off used between pipeline
// stages: the command channel, the display queue and the per-channel write
// queues.
//
// Every operation reports its outcome explicitly. Producers never block:
// TryPush on a full queue drops the item and counts it. Consumers read
// without blocking (TryPop, PopN) or, when a stage is genuinely idle, wait
// on Pop or Ready.
package queue

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/xtxerr/digirec/internal/errors"
)

// Queue is a thread-safe bounded circular buffer.
// It uses a simple mutex-based approach for correctness.
//
// Any number of goroutines may push. Pop and Ready are meant for a single
// consumer; with several, a notification may wake only one of them.
type Queue[T any] struct {
	name string

	mu       sync.Mutex
	data     []T
	head     int64 // Next write position
	tail     int64 // Oldest data position
	count    int64 // Current number of elements
	capacity int64
	closed   bool

	ready chan struct{}
	done  chan struct{}

	// Statistics
	pushCount atomic.Int64
	popCount  atomic.Int64
	dropCount atomic.Int64
}

// New creates a new Queue with the given capacity.
func New[T any](name string, capacity int) *Queue[T] {
	if capacity <= 0 {
		capacity = 1024
	}
	return &Queue[T]{
		name:     name,
		data:     make([]T, capacity),
		capacity: int64(capacity),
		ready:    make(chan struct{}, 1),
		done:     make(chan struct{}),
	}
}

// Name returns the queue name used in logs.
func (q *Queue[T]) Name() string {
	return q.name
}

// TryPush appends v without blocking.
// It returns ErrQueueOverflow if the queue is full (v is dropped and counted)
// and ErrQueueClosed after Close.
func (q *Queue[T]) TryPush(v T) error {
	q.mu.Lock()

	if q.closed {
		q.mu.Unlock()
		return errors.ErrQueueClosed
	}

	if q.count >= q.capacity {
		q.mu.Unlock()
		q.dropCount.Add(1)
		return errors.ErrQueueOverflow
	}

	idx := q.head % q.capacity
	q.data[idx] = v
	q.head++
	q.count++
	q.mu.Unlock()

	q.pushCount.Add(1)

	// Wake the consumer
	select {
	case q.ready <- struct{}{}:
	default:
	}

	return nil
}

// TryPop removes and returns the oldest item.
// Returns false if the queue is empty.
func (q *Queue[T]) TryPop() (T, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	var zero T
	if q.count == 0 {
		return zero, false
	}

	idx := q.tail % q.capacity
	v := q.data[idx]
	q.data[idx] = zero // Clear for GC
	q.tail++
	q.count--
	q.popCount.Add(1)

	return v, true
}

// PopN removes and returns up to n oldest items without blocking.
func (q *Queue[T]) PopN(n int) []T {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.count == 0 || n <= 0 {
		return nil
	}

	count := int64(n)
	if count > q.count {
		count = q.count
	}

	var zero T
	result := make([]T, count)
	for i := int64(0); i < count; i++ {
		idx := (q.tail + i) % q.capacity
		result[i] = q.data[idx]
		q.data[idx] = zero
	}

	q.tail += count
	q.count -= count
	q.popCount.Add(count)

	return result
}

// Pop waits for an item. It returns ctx.Err() if ctx ends first and
// ErrQueueClosed once the queue is closed and empty.
func (q *Queue[T]) Pop(ctx context.Context) (T, error) {
	for {
		if v, ok := q.TryPop(); ok {
			return v, nil
		}

		select {
		case <-ctx.Done():
			var zero T
			return zero, ctx.Err()
		case <-q.done:
			// Items pushed before Close are still delivered
			if v, ok := q.TryPop(); ok {
				return v, nil
			}
			var zero T
			return zero, errors.ErrQueueClosed
		case <-q.ready:
		}
	}
}

// Ready returns a channel that receives a value after a successful push.
// Notifications coalesce: one receive may stand for many pushes.
func (q *Queue[T]) Ready() <-chan struct{} {
	return q.ready
}

// Close rejects further pushes. Items already queued remain readable.
// Close is idempotent.
func (q *Queue[T]) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}
	q.closed = true
	close(q.done)
}

// Len returns the current number of items.
func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return int(q.count)
}

// Cap returns the capacity.
func (q *Queue[T]) Cap() int {
	return int(q.capacity)
}

// IsEmpty returns true if the queue is empty.
func (q *Queue[T]) IsEmpty() bool {
	return q.Len() == 0
}

// UsageRatio returns the current usage as a ratio (0.0 - 1.0).
func (q *Queue[T]) UsageRatio() float64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return float64(q.count) / float64(q.capacity)
}

// Stats returns queue statistics.
func (q *Queue[T]) Stats() Stats {
	q.mu.Lock()
	defer q.mu.Unlock()

	return Stats{
		Name:       q.name,
		Capacity:   int(q.capacity),
		Count:      int(q.count),
		UsageRatio: float64(q.count) / float64(q.capacity),
		PushCount:  q.pushCount.Load(),
		PopCount:   q.popCount.Load(),
		DropCount:  q.dropCount.Load(),
	}
}

// Stats holds queue statistics.
type Stats struct {
	Name       string
	Capacity   int
	Count      int
	UsageRatio float64
	PushCount  int64
	PopCount   int64
	DropCount  int64
}
