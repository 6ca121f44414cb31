// Package queue provides the bounded hand-off between the record producer and the batch workers.
package queue

import (
	"sync"
	"time"
)

// ExhaustibleQueue is a bounded blocking queue with an explicit "no more items will ever arrive" signal.
//
// Exhaustion is distinct from emptiness: a worker that sees an empty queue keeps polling until the producer has
// marked the queue exhausted, so a slow producer never causes workers to exit early.
type ExhaustibleQueue[T any] struct {
	items       chan T
	exhausted   chan struct{}
	exhaustOnce sync.Once
}

func NewExhaustibleQueue[T any](capacity int) *ExhaustibleQueue[T] {
	if capacity < 1 {
		capacity = 1
	}
	return &ExhaustibleQueue[T]{
		items:     make(chan T, capacity),
		exhausted: make(chan struct{}),
	}
}

// Offer enqueues item, blocking for at most timeout while the queue is full. It returns false on timeout; the
// caller is expected to retry. Offering after MarkExhausted panics.
func (q *ExhaustibleQueue[T]) Offer(item T, timeout time.Duration) bool {
	if q.IsExhausted() {
		panic("offer on exhausted queue")
	}
	select {
	case q.items <- item:
		return true
	default:
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case q.items <- item:
		return true
	case <-timer.C:
		return false
	}
}

// Poll dequeues an item, waiting at most timeout for one to arrive. It returns false on timeout or when the queue
// is exhausted and empty; in the latter case it returns immediately, and will do so forever.
// Poll never returns false while an item is buffered.
func (q *ExhaustibleQueue[T]) Poll(timeout time.Duration) (T, bool) {
	select {
	case item := <-q.items:
		return item, true
	default:
	}
	var zero T
	if q.IsExhausted() {
		// An item may have been enqueued just before exhaustion was signalled.
		select {
		case item := <-q.items:
			return item, true
		default:
			return zero, false
		}
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case item := <-q.items:
		return item, true
	case <-q.exhausted:
		select {
		case item := <-q.items:
			return item, true
		default:
			return zero, false
		}
	case <-timer.C:
		return zero, false
	}
}

// MarkExhausted signals that no further items will be offered. It is idempotent.
func (q *ExhaustibleQueue[T]) MarkExhausted() {
	q.exhaustOnce.Do(func() { close(q.exhausted) })
}

func (q *ExhaustibleQueue[T]) IsExhausted() bool {
	select {
	case <-q.exhausted:
		return true
	default:
		return false
	}
}

// Exhausted is closed once MarkExhausted has been called.
func (q *ExhaustibleQueue[T]) Exhausted() <-chan struct{} {
	return q.exhausted
}

func (q *ExhaustibleQueue[T]) IsEmpty() bool {
	return len(q.items) == 0
}

// IsDrained is true once the queue is exhausted and empty; from then on every Poll returns false.
func (q *ExhaustibleQueue[T]) IsDrained() bool {
	return q.IsExhausted() && q.IsEmpty()
}

func (q *ExhaustibleQueue[T]) Len() int {
	return len(q.items)
}

func (q *ExhaustibleQueue[T]) Capacity() int {
	return cap(q.items)
}

// CapacityForWorkers is the queue size used for a pool of the given size: half the workers, at least four.
func CapacityForWorkers(workers int) int {
	capacity := workers / 2
	if capacity < 4 {
		capacity = 4
	}
	return capacity
}
