package service

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/Strob0t/Overwatch/internal/config"
	"github.com/Strob0t/Overwatch/internal/domain/event"
)

// Appender durably records published events. Implementations must swallow
// their own errors; the bus never waits on or reacts to durability.
type Appender interface {
	Append(ctx context.Context, ev event.Event) int64
}

// BusStats is a snapshot of bus counters.
type BusStats struct {
	Published      int64 `json:"published"`
	Delivered      int64 `json:"delivered"`
	Subscriptions  int   `json:"subscriptions"`
	PersistPending int   `json:"persist_pending"`
	PersistDropped int64 `json:"persist_dropped"`
}

// EventBus routes published events to subscriber queues by topic pattern and
// hands every event to an Appender in the background.
type EventBus struct {
	mu   sync.RWMutex
	subs map[string][]*Queue // pattern -> queues, registration order

	queueSize int
	ring      *ring

	appender  Appender
	persistMu sync.RWMutex
	persist   chan event.Event
	closed    bool
	wg        sync.WaitGroup

	published      atomic.Int64
	delivered      atomic.Int64
	persistDropped atomic.Int64
}

// NewEventBus creates a bus. A nil appender disables durability; otherwise
// cfg.PersistWorkers goroutines drain a buffer of cfg.PersistQueueSize
// events into it.
func NewEventBus(cfg config.Bus, appender Appender) *EventBus {
	b := &EventBus{
		subs:      make(map[string][]*Queue),
		queueSize: cfg.QueueSize,
		ring:      newRing(cfg.DebugRingSize),
		appender:  appender,
	}
	if appender == nil {
		return b
	}

	size := cfg.PersistQueueSize
	if size < 1 {
		size = 1
	}
	workers := cfg.PersistWorkers
	if workers < 1 {
		workers = 1
	}
	b.persist = make(chan event.Event, size)
	for range workers {
		b.wg.Add(1)
		go b.drainPersist()
	}
	return b
}

func (b *EventBus) drainPersist() {
	defer b.wg.Done()
	for ev := range b.persist {
		b.appender.Append(context.Background(), ev)
	}
}

// NewQueue creates a queue sized from the bus configuration.
func (b *EventBus) NewQueue() *Queue {
	return NewQueue(b.queueSize)
}

// Subscribe registers q under pattern. Subscribing the same pair twice is a no-op.
func (b *EventBus) Subscribe(pattern string, q *Queue) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, existing := range b.subs[pattern] {
		if existing == q {
			return
		}
	}
	b.subs[pattern] = append(b.subs[pattern], q)
}

// Unsubscribe removes q from pattern. Removing an absent pair is a no-op.
func (b *EventBus) Unsubscribe(pattern string, q *Queue) {
	b.mu.Lock()
	defer b.mu.Unlock()
	qs := b.subs[pattern]
	for i, existing := range qs {
		if existing == q {
			qs = append(qs[:i:i], qs[i+1:]...)
			break
		}
	}
	if len(qs) == 0 {
		delete(b.subs, pattern)
		return
	}
	b.subs[pattern] = qs
}

// Publish records ev in the debug ring, schedules its durable append, and
// offers it to every distinct matching queue. It never blocks and returns the
// number of queues that accepted the event.
func (b *EventBus) Publish(ev event.Event) int {
	if ev.Source == "" {
		ev.Source = event.DefaultSource
	}
	b.published.Add(1)
	b.ring.push(ev)
	b.schedulePersist(ev)

	delivered := 0
	for _, q := range b.match(ev.Topic) {
		if q.Offer(ev) {
			delivered++
		}
	}
	b.delivered.Add(int64(delivered))
	return delivered
}

func (b *EventBus) schedulePersist(ev event.Event) {
	if b.persist == nil {
		return
	}
	b.persistMu.RLock()
	defer b.persistMu.RUnlock()
	if b.closed {
		return
	}
	select {
	case b.persist <- ev:
	default:
		if b.persistDropped.Add(1) == 1 {
			slog.Warn("event log backlog full, dropping durable appends", "event_id", ev.ID, "topic", ev.Topic)
		}
	}
}

// match returns matching queues in precedence order (exact, global wildcard,
// prefix wildcards) with duplicates removed.
func (b *EventBus) match(topic string) []*Queue {
	b.mu.RLock()
	defer b.mu.RUnlock()

	var out []*Queue
	seen := make(map[*Queue]struct{})
	add := func(qs []*Queue) {
		for _, q := range qs {
			if _, ok := seen[q]; ok {
				continue
			}
			seen[q] = struct{}{}
			out = append(out, q)
		}
	}

	if topic != event.Wildcard {
		add(b.subs[topic])
	}
	add(b.subs[event.Wildcard])
	for pattern, qs := range b.subs {
		if event.IsPrefixPattern(pattern) && strings.HasPrefix(topic, strings.TrimSuffix(pattern, event.Wildcard)) {
			add(qs)
		}
	}
	return out
}

// Recent returns up to n of the most recently published events, oldest first.
func (b *EventBus) Recent(n int) []event.Event {
	return b.ring.last(n)
}

// Stats returns a snapshot of the bus counters.
func (b *EventBus) Stats() BusStats {
	b.mu.RLock()
	subs := 0
	for _, qs := range b.subs {
		subs += len(qs)
	}
	b.mu.RUnlock()

	return BusStats{
		Published:      b.published.Load(),
		Delivered:      b.delivered.Load(),
		Subscriptions:  subs,
		PersistPending: len(b.persist),
		PersistDropped: b.persistDropped.Load(),
	}
}

// Close stops accepting durable appends and waits for pending ones to be
// written. Delivery to queues keeps working after Close.
func (b *EventBus) Close() {
	if b.persist == nil {
		return
	}
	b.persistMu.Lock()
	if b.closed {
		b.persistMu.Unlock()
		return
	}
	b.closed = true
	close(b.persist)
	b.persistMu.Unlock()
	b.wg.Wait()
}
