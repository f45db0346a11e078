// Package queue provides the bounded FIFO handoff between task producers and
// pool workers.
package queue

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/jzx17/taskcore/pkg/types"
)

// Item wraps a queued value with its submission sequence number
type Item[T any] struct {
	// Seq starts at 1 and increases by one per successful enqueue
	Seq uint64

	// Value is the queued value
	Value T
}

// WorkQueue is a bounded, thread-safe FIFO queue.
//
// Producers are serialized by sendMu so that sequence numbers match delivery
// order. Close never closes the item channel while a producer may be sending
// on it: it first closes done to wake blocked producers, then takes sendMu.
type WorkQueue[T any] struct {
	items    chan Item[T]
	done     chan struct{}
	capacity int

	sendMu sync.Mutex
	seq    uint64
	closed bool

	closeOnce sync.Once

	// statistics
	pending  int64
	enqueued int64
}

// New creates a queue holding at most capacity items
func New[T any](capacity int) (*WorkQueue[T], error) {
	if capacity <= 0 {
		return nil, fmt.Errorf("queue capacity must be positive, got %d", capacity)
	}

	return &WorkQueue[T]{
		items:    make(chan Item[T], capacity),
		done:     make(chan struct{}),
		capacity: capacity,
	}, nil
}

// Enqueue appends v, blocking while the queue is full. It fails with
// types.ErrQueueClosed once Close has been called, including for producers
// blocked at the time of the call.
func (q *WorkQueue[T]) Enqueue(ctx context.Context, v T) (uint64, error) {
	q.sendMu.Lock()
	defer q.sendMu.Unlock()

	if q.closed {
		return 0, types.ErrQueueClosed
	}

	item := Item[T]{Seq: q.seq + 1, Value: v}
	// counted before the send so a consumer never observes a negative count
	atomic.AddInt64(&q.pending, 1)

	// fast path keeps FIFO handoff cheap when there is room
	select {
	case q.items <- item:
		q.accept(item.Seq)
		return item.Seq, nil
	default:
	}

	select {
	case q.items <- item:
		q.accept(item.Seq)
		return item.Seq, nil
	case <-q.done:
		atomic.AddInt64(&q.pending, -1)
		return 0, types.ErrQueueClosed
	case <-ctx.Done():
		atomic.AddInt64(&q.pending, -1)
		return 0, &types.CancelledError{Err: ctx.Err()}
	}
}

// TryEnqueue appends v without blocking
func (q *WorkQueue[T]) TryEnqueue(v T) (uint64, error) {
	q.sendMu.Lock()
	defer q.sendMu.Unlock()

	if q.closed {
		return 0, types.ErrQueueClosed
	}

	item := Item[T]{Seq: q.seq + 1, Value: v}
	atomic.AddInt64(&q.pending, 1)
	select {
	case q.items <- item:
		q.accept(item.Seq)
		return item.Seq, nil
	default:
		atomic.AddInt64(&q.pending, -1)
		return 0, types.ErrQueueFull
	}
}

// accept records a successful enqueue; caller holds sendMu
func (q *WorkQueue[T]) accept(seq uint64) {
	q.seq = seq
	atomic.AddInt64(&q.enqueued, 1)
}

// Dequeue removes the oldest item, blocking until one is available. After
// Close it keeps returning buffered items and then reports ok=false.
func (q *WorkQueue[T]) Dequeue(ctx context.Context) (Item[T], bool, error) {
	select {
	case item, ok := <-q.items:
		if !ok {
			return Item[T]{}, false, nil
		}
		atomic.AddInt64(&q.pending, -1)
		return item, true, nil
	case <-ctx.Done():
		return Item[T]{}, false, &types.CancelledError{Err: ctx.Err()}
	}
}

// Close stops accepting new items. Items already queued remain available to
// Dequeue. Close is idempotent.
func (q *WorkQueue[T]) Close() {
	q.closeOnce.Do(func() {
		close(q.done)

		q.sendMu.Lock()
		q.closed = true
		close(q.items)
		q.sendMu.Unlock()
	})
}

// Closed checks if Close has been called
func (q *WorkQueue[T]) Closed() bool {
	select {
	case <-q.done:
		return true
	default:
		return false
	}
}

// Drained checks if the queue is closed and every item has been dequeued
func (q *WorkQueue[T]) Drained() bool {
	return q.Closed() && atomic.LoadInt64(&q.pending) == 0
}

// Len returns the number of queued items
func (q *WorkQueue[T]) Len() int {
	return int(atomic.LoadInt64(&q.pending))
}

// Cap returns the queue capacity
func (q *WorkQueue[T]) Cap() int {
	return q.capacity
}

// Enqueued returns the total number of items ever accepted
func (q *WorkQueue[T]) Enqueued() int64 {
	return atomic.LoadInt64(&q.enqueued)
}
