// Package queue provides the unbounded FIFO channel used between transport goroutines.
//
// Producers never block on a slow consumer. Buffering is a chanx.UnboundedChan ring
// buffer with no capacity limit: a consumer that stops reading lets it grow without bound.
package queue

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/smallnest/chanx"
)

var ErrClosed = errors.New("queue: closed")

const initialCapacity = 16

// Queue is a multi-producer, single-consumer unbounded FIFO.
type Queue[T any] struct {
	mu     sync.Mutex
	closed bool

	ch      *chanx.UnboundedChan[T]
	out     chan T
	pending atomic.Int64
}

func New[T any]() *Queue[T] {
	q := &Queue[T]{
		// the buffer lives until In is closed, so no cancellation is needed.
		ch:  chanx.NewUnboundedChanSize[T](context.Background(), 0, 0, initialCapacity),
		out: make(chan T),
	}
	go q.forward()
	return q
}

// Push enqueues v. It returns ErrClosed once Close has been called.
func (q *Queue[T]) Push(v T) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return ErrClosed
	}
	q.pending.Add(1)
	q.ch.In <- v
	return nil
}

// Out is the consumer side. It is closed after Close once every queued item was received.
func (q *Queue[T]) Out() <-chan T {
	return q.out
}

// Close stops accepting items. Items already queued are still delivered on Out.
// Close reports whether this call closed the queue.
func (q *Queue[T]) Close() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return false
	}
	q.closed = true
	close(q.ch.In)
	return true
}

func (q *Queue[T]) Closed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed
}

// Len is the number of items pushed but not yet received from Out.
func (q *Queue[T]) Len() int {
	return int(q.pending.Load())
}

// Drain closes the queue and discards whatever is still buffered, returning the discarded count.
func (q *Queue[T]) Drain() int {
	q.Close()
	n := 0
	for range q.out {
		n++
	}
	return n
}

// forward hands items to the consumer one at a time; Len drops once an item is taken.
func (q *Queue[T]) forward() {
	defer close(q.out)
	for v := range q.ch.Out {
		q.out <- v
		q.pending.Add(-1)
	}
}
