// Package queue provides the work queue that connects pipeline stages.
//
// A Queue is a bounded channel plus an outstanding-work counter. Every Put
// must be matched by exactly one Done once the consumer has finished with the
// item; Join blocks until the counter returns to zero. Len reports how many
// items are buffered and not yet handed to a consumer, which is only a
// progress signal: an item can leave the buffer long before it is Done.
package queue

import (
	"context"
	"sync"
)

// Queue is a bounded, drain-tracked FIFO safe for concurrent use.
type Queue[T any] struct {
	items chan T

	mu          sync.Mutex
	outstanding int
	drained     chan struct{} // closed while outstanding == 0
}

// New returns a queue that buffers up to capacity items. Values below 1 are
// raised to 1.
func New[T any](capacity int) *Queue[T] {
	if capacity < 1 {
		capacity = 1
	}
	drained := make(chan struct{})
	close(drained)
	return &Queue[T]{
		items:   make(chan T, capacity),
		drained: drained,
	}
}

// Put enqueues v and counts it as outstanding. It blocks while the buffer is
// full and gives up when ctx is done, in which case v is not counted.
func (q *Queue[T]) Put(ctx context.Context, v T) error {
	q.mu.Lock()
	if q.outstanding == 0 {
		q.drained = make(chan struct{})
	}
	q.outstanding++
	q.mu.Unlock()

	select {
	case q.items <- v:
		return nil
	case <-ctx.Done():
		q.Done()
		return ctx.Err()
	}
}

// Get blocks until an item is available or ctx is done. ok is false only when
// ctx is done.
func (q *Queue[T]) Get(ctx context.Context) (v T, ok bool) {
	select {
	case v = <-q.items:
		return v, true
	case <-ctx.Done():
		return v, false
	}
}

// Done marks one previously Put item as fully processed. Calling Done more
// times than Put panics, like sync.WaitGroup.
func (q *Queue[T]) Done() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.outstanding <= 0 {
		panic("queue: Done called more times than Put")
	}
	q.outstanding--
	if q.outstanding == 0 {
		close(q.drained)
	}
}

// Join blocks until every item ever Put has been marked Done, or ctx is done.
// A queue that never received an item is already drained.
func (q *Queue[T]) Join(ctx context.Context) error {
	q.mu.Lock()
	drained := q.drained
	q.mu.Unlock()

	select {
	case <-drained:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Len returns the number of buffered items not yet handed to a consumer.
func (q *Queue[T]) Len() int { return len(q.items) }

// Outstanding returns the number of items Put but not yet Done.
func (q *Queue[T]) Outstanding() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.outstanding
}
