// Package queue provides the thread-safe FIFO channel connecting two pipeline
// stages. A queue supports blocking and non-blocking pops, a pause condition
// that withholds items from consumers without discarding them, and a shutdown
// signal that unblocks every waiter and makes subsequent operations fail.
package queue

import (
	"sync"

	"github.com/edaniels/golog"
)

// Queue is a typed FIFO between one producing and one consuming stage.
// Zero capacity means unbounded; a positive capacity makes Push block the
// producer until space frees up.
type Queue[T any] struct {
	name     string
	capacity int
	logger   golog.Logger

	mu       sync.Mutex
	cond     *sync.Cond
	items    []T
	inflight int
	paused   bool
	shutdown bool
}

// New returns an unbounded queue.
func New[T any](name string, logger golog.Logger) *Queue[T] {
	return NewBounded[T](name, 0, logger)
}

// NewBounded returns a queue that blocks producers once capacity items are
// buffered. capacity <= 0 means unbounded.
func NewBounded[T any](name string, capacity int, logger golog.Logger) *Queue[T] {
	q := &Queue[T]{name: name, capacity: capacity, logger: logger}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// Name returns the queue's wiring name.
func (q *Queue[T]) Name() string { return q.name }

// Push appends one item, blocking while a bounded queue is full. It reports
// whether the item was accepted: after Shutdown every push is dropped and
// logged, never fatal.
func (q *Queue[T]) Push(item T) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	for q.capacity > 0 && len(q.items) >= q.capacity && !q.shutdown {
		q.cond.Wait()
	}
	if q.shutdown {
		q.logger.Debugw("push after shutdown, dropping item", "queue", q.name)
		return false
	}
	q.items = append(q.items, item)
	q.cond.Broadcast()
	return true
}

// Pop removes and returns the oldest item, blocking while the queue is empty
// or paused. It returns ok=false once the queue has been shut down, even if
// items remain buffered, so consumer loops exit promptly. A popped item
// counts as in flight until the consumer calls TaskDone, so Empty never
// reports true while the item is being handed over.
func (q *Queue[T]) Pop() (T, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for (len(q.items) == 0 || q.paused) && !q.shutdown {
		q.cond.Wait()
	}
	var zero T
	if q.shutdown {
		return zero, false
	}
	item := q.items[0]
	q.items[0] = zero
	q.items = q.items[1:]
	q.inflight++
	q.cond.Broadcast()
	return item, true
}

// TaskDone signals that an item returned by Pop has been fully processed.
// Must be called exactly once per successful Pop.
func (q *Queue[T]) TaskDone() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.inflight > 0 {
		q.inflight--
	}
}

// TryPop removes and returns the oldest item without blocking. It returns
// ok=false when the queue is empty, paused, or shut down.
func (q *Queue[T]) TryPop() (T, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	var zero T
	if q.shutdown || q.paused || len(q.items) == 0 {
		return zero, false
	}
	item := q.items[0]
	q.items[0] = zero
	q.items = q.items[1:]
	q.cond.Broadcast()
	return item, true
}

// Pause withholds buffered items from consumers without discarding them.
func (q *Queue[T]) Pause() {
	q.mu.Lock()
	q.paused = true
	q.mu.Unlock()
}

// Resume lifts a pause; buffered items become visible again in their
// original order.
func (q *Queue[T]) Resume() {
	q.mu.Lock()
	q.paused = false
	q.cond.Broadcast()
	q.mu.Unlock()
}

// Shutdown unblocks every waiting producer and consumer and makes all
// subsequent pushes and pops fail. Items still buffered are discarded so the
// queue reports empty afterwards. Idempotent.
func (q *Queue[T]) Shutdown() {
	q.mu.Lock()
	if !q.shutdown {
		q.shutdown = true
		if n := len(q.items); n > 0 {
			q.logger.Debugw("discarding items on queue shutdown", "queue", q.name, "count", n)
		}
		q.items = nil
	}
	q.cond.Broadcast()
	q.mu.Unlock()
}

// Len returns the number of buffered items.
func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Empty reports whether no items are buffered and none are in flight between
// a Pop and its TaskDone. Drain checks rely on this to never miss an item in
// the handoff gap.
func (q *Queue[T]) Empty() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items) == 0 && q.inflight == 0
}
