// Package queue provides a many-producer, single-consumer hand-off queue that
// delivers everything buffered since the last take as one batch.
package queue

import (
	"context"
	"sync"
)

// BatchQueue buffers items from any number of producers. A single consumer
// takes the whole buffer at once, or parks until the next item or Cancel.
//
// Only one consumer may take at a time; this is not enforced.
type BatchQueue[T any] struct {
	mu       sync.Mutex
	items    []T
	waiting  []chan []T
	canceled bool
}

// New returns an empty queue.
func New[T any]() *BatchQueue[T] {
	return &BatchQueue[T]{}
}

// Add never blocks. A parked consumer receives the item directly as a
// one-element batch; otherwise the item is buffered.
func (q *BatchQueue[T]) Add(item T) {
	var waiter chan []T
	q.mu.Lock()
	if len(q.waiting) > 0 {
		waiter = q.waiting[0]
		q.waiting[0] = nil
		q.waiting = q.waiting[1:]
	} else {
		q.items = append(q.items, item)
	}
	q.mu.Unlock()

	if waiter != nil {
		waiter <- []T{item}
	}
}

// TakeAsync returns a channel that yields exactly one batch. The batch is the
// entire buffer when it is non-empty. Otherwise the channel resolves with the
// next added item, or with an empty batch once the queue is canceled.
func (q *BatchQueue[T]) TakeAsync() <-chan []T {
	ch := make(chan []T, 1)
	q.mu.Lock()
	defer q.mu.Unlock()

	switch {
	case len(q.items) > 0:
		ch <- q.items
		q.items = nil
	case !q.canceled:
		q.waiting = append(q.waiting, ch)
	default:
		ch <- []T{}
	}
	return ch
}

// Take blocks for the next batch. It returns ctx.Err() if ctx ends first; an
// item delivered to the abandoned wait is put back at the front of the buffer.
func (q *BatchQueue[T]) Take(ctx context.Context) ([]T, error) {
	ch := q.TakeAsync()
	select {
	case batch := <-ch:
		return batch, nil
	case <-ctx.Done():
	}

	q.mu.Lock()
	for i, w := range q.waiting {
		if w == ch {
			q.waiting = append(q.waiting[:i], q.waiting[i+1:]...)
			q.mu.Unlock()
			return nil, ctx.Err()
		}
	}
	q.mu.Unlock()

	// Already resolved by Add or Cancel; keep the item for the next take.
	if batch := <-ch; len(batch) > 0 {
		q.mu.Lock()
		q.items = append(batch, q.items...)
		q.mu.Unlock()
	}
	return nil, ctx.Err()
}

// Cancel wakes every parked consumer with an empty batch and stops future
// takes from parking. Buffered items are kept and still returned by the next
// TakeAsync. Calling Cancel more than once has no further effect.
func (q *BatchQueue[T]) Cancel() {
	q.mu.Lock()
	q.canceled = true
	waiting := q.waiting
	q.waiting = nil
	q.mu.Unlock()

	for _, w := range waiting {
		w <- []T{}
	}
}

// Canceled reports whether Cancel has been called.
func (q *BatchQueue[T]) Canceled() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.canceled
}

// Len is the number of buffered items not yet taken.
func (q *BatchQueue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}
