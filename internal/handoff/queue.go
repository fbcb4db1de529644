// Package handoff provides the unbounded FIFO that connects the pipe
// receiver's accept loop with its consumer goroutine.
package handoff

import (
	"errors"
	"sync"

	"github.com/eapache/queue"
)

// ErrClosed is returned by Push after Close.
var ErrClosed = errors.New("handoff: queue is closed")

// Queue is an unbounded, blocking FIFO with a completion signal. Push never
// blocks; Pop blocks until an item arrives or the queue is closed and empty.
type Queue[T any] struct {
	mu     sync.Mutex
	cond   *sync.Cond
	items  *queue.Queue
	closed bool
}

// New returns an empty, open queue.
func New[T any]() *Queue[T] {
	q := &Queue[T]{items: queue.New()}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// Push appends v to the tail of the queue.
func (q *Queue[T]) Push(v T) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return ErrClosed
	}
	q.items.Add(v)
	q.cond.Signal()
	return nil
}

// Pop removes the head of the queue. The boolean is false once the queue has
// been closed and every item pushed before Close has been popped.
func (q *Queue[T]) Pop() (T, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for q.items.Length() == 0 && !q.closed {
		q.cond.Wait()
	}
	if q.items.Length() == 0 {
		var zero T
		return zero, false
	}
	return q.items.Remove().(T), true
}

// Close marks the queue complete. Items already queued stay poppable.
func (q *Queue[T]) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}
	q.closed = true
	q.cond.Broadcast()
}

// Len reports the number of queued items.
func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.items.Length()
}
