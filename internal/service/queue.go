package service

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/Strob0t/Overwatch/internal/domain/event"
)

// DefaultQueueSize is the per-lane capacity used when a size is not given.
const DefaultQueueSize = 1024

// Queue is a subscriber's inbound buffer. It keeps one FIFO lane per
// priority; Next always drains higher-priority lanes first, so publish order
// holds only within a priority. Offers never block: a full or closed queue
// drops the event.
type Queue struct {
	lanes   [event.NumPriorities]chan event.Event
	notify  chan struct{}
	done    chan struct{}
	closed  atomic.Bool
	dropped atomic.Int64
}

// NewQueue creates a queue holding up to size events per priority lane.
func NewQueue(size int) *Queue {
	if size < 1 {
		size = DefaultQueueSize
	}
	q := &Queue{
		notify: make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
	for i := range q.lanes {
		q.lanes[i] = make(chan event.Event, size)
	}
	return q
}

// Offer enqueues ev without blocking and reports whether it was accepted.
func (q *Queue) Offer(ev event.Event) bool {
	if q.closed.Load() {
		q.dropped.Add(1)
		return false
	}
	p := ev.Priority
	if !p.Valid() {
		p = event.PriorityNormal
	}
	select {
	case q.lanes[p] <- ev:
	default:
		q.dropped.Add(1)
		return false
	}
	select {
	case q.notify <- struct{}{}:
	default:
	}
	return true
}

// Next returns the highest-priority pending event, waiting up to timeout for
// one to arrive. It returns false on timeout, when ctx is done, or once the
// queue is closed and empty.
func (q *Queue) Next(ctx context.Context, timeout time.Duration) (event.Event, bool) {
	if ev, ok := q.poll(); ok {
		return ev, true
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	for {
		select {
		case <-q.notify:
			if ev, ok := q.poll(); ok {
				return ev, true
			}
		case <-timer.C:
			return q.poll()
		case <-ctx.Done():
			return event.Event{}, false
		case <-q.done:
			return q.poll()
		}
	}
}

func (q *Queue) poll() (event.Event, bool) {
	for p := len(q.lanes) - 1; p >= 0; p-- {
		select {
		case ev := <-q.lanes[p]:
			return ev, true
		default:
		}
	}
	return event.Event{}, false
}

// Len returns the number of pending events across all lanes.
func (q *Queue) Len() int {
	n := 0
	for _, l := range q.lanes {
		n += len(l)
	}
	return n
}

// Dropped returns how many offers were rejected.
func (q *Queue) Dropped() int64 {
	return q.dropped.Load()
}

// Close rejects further offers and wakes any waiter. Pending events remain
// readable. Calling Close more than once is safe.
func (q *Queue) Close() {
	if q.closed.CompareAndSwap(false, true) {
		close(q.done)
	}
}

// Closed reports whether Close has been called.
func (q *Queue) Closed() bool {
	return q.closed.Load()
}
