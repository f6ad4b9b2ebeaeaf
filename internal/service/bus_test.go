package service

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/Strob0t/Overwatch/internal/domain/event"
)

var _ Appender = (*recordingAppender)(nil)

type recordingAppender struct {
	mu    sync.Mutex
	ids   []string
	block chan struct{}
}

func (a *recordingAppender) Append(_ context.Context, ev event.Event) int64 {
	if a.block != nil {
		<-a.block
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.ids = append(a.ids, ev.ID)
	return int64(len(a.ids))
}

func (a *recordingAppender) appended() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return slices.Clone(a.ids)
}

func drain(q *Queue) []string {
	var topics []string
	for {
		ev, ok := q.Next(context.Background(), time.Millisecond)
		if !ok {
			return topics
		}
		topics = append(topics, ev.Topic)
	}
}

// --- Routing ---

func TestBusPrefixPatternRouting(t *testing.T) {
	bus := NewEventBus(testBusConfig(), nil)
	files := bus.NewQueue()
	bus.Subscribe("file:*", files)

	if n := bus.Publish(event.MustNew("file:modified", nil)); n != 1 {
		t.Errorf("expected 1 delivery, got %d", n)
	}
	if n := bus.Publish(event.MustNew("git:commit", nil)); n != 0 {
		t.Errorf("expected 0 deliveries, got %d", n)
	}

	got := drain(files)
	if !slices.Equal(got, []string{"file:modified"}) {
		t.Errorf("unexpected topics %v", got)
	}
}

func TestBusRouting(t *testing.T) {
	tests := []struct {
		pattern string
		topic   string
		want    bool
	}{
		{"file:modified", "file:modified", true},
		{"file:modified", "file:created", false},
		{"*", "anything", true},
		{"*", "agent:lint:completed", true},
		{"agent:*", "agent:lint:completed", true},
		{"agent:*", "agents", false},
		{"file:*", "File:modified", false},
	}
	for _, tt := range tests {
		t.Run(tt.pattern+"/"+tt.topic, func(t *testing.T) {
			bus := NewEventBus(testBusConfig(), nil)
			q := bus.NewQueue()
			bus.Subscribe(tt.pattern, q)
			got := bus.Publish(event.MustNew(tt.topic, nil)) == 1
			if got != tt.want {
				t.Errorf("delivered = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestBusDeliversOncePerQueue(t *testing.T) {
	bus := NewEventBus(testBusConfig(), nil)
	q := bus.NewQueue()
	bus.Subscribe("file:modified", q)
	bus.Subscribe("file:*", q)
	bus.Subscribe("*", q)

	if n := bus.Publish(event.MustNew("file:modified", nil)); n != 1 {
		t.Errorf("expected a single delivery, got %d", n)
	}
	if q.Len() != 1 {
		t.Errorf("expected 1 queued event, got %d", q.Len())
	}
}

func TestBusFansOutToDistinctQueues(t *testing.T) {
	bus := NewEventBus(testBusConfig(), nil)
	a, b, c := bus.NewQueue(), bus.NewQueue(), bus.NewQueue()
	bus.Subscribe("file:modified", a)
	bus.Subscribe("*", b)
	bus.Subscribe("git:*", c)

	if n := bus.Publish(event.MustNew("file:modified", nil)); n != 2 {
		t.Errorf("expected 2 deliveries, got %d", n)
	}
	if c.Len() != 0 {
		t.Error("git:* subscriber should not receive file events")
	}
}

func TestBusSubscribeIdempotent(t *testing.T) {
	bus := NewEventBus(testBusConfig(), nil)
	q := bus.NewQueue()
	bus.Subscribe("x", q)
	bus.Subscribe("x", q)
	if got := bus.Stats().Subscriptions; got != 1 {
		t.Errorf("expected 1 subscription, got %d", got)
	}

	bus.Unsubscribe("x", q)
	bus.Unsubscribe("x", q)
	bus.Unsubscribe("never", q)
	if got := bus.Stats().Subscriptions; got != 0 {
		t.Errorf("expected 0 subscriptions, got %d", got)
	}
	if n := bus.Publish(event.MustNew("x", nil)); n != 0 {
		t.Errorf("expected no delivery after unsubscribe, got %d", n)
	}
}

func TestBusUnsubscribeKeepsOtherQueues(t *testing.T) {
	bus := NewEventBus(testBusConfig(), nil)
	a, b := bus.NewQueue(), bus.NewQueue()
	bus.Subscribe("x", a)
	bus.Subscribe("x", b)
	bus.Unsubscribe("x", a)

	bus.Publish(event.MustNew("x", nil))
	if a.Len() != 0 || b.Len() != 1 {
		t.Errorf("expected only b to receive, got a=%d b=%d", a.Len(), b.Len())
	}
}

func TestBusFullQueueDoesNotBlockPublisher(t *testing.T) {
	cfg := testBusConfig()
	cfg.QueueSize = 1
	bus := NewEventBus(cfg, nil)
	slow, fast := bus.NewQueue(), bus.NewQueue()
	bus.Subscribe("x", slow)
	bus.Subscribe("x", fast)

	bus.Publish(event.MustNew("x", nil))
	drain(fast)

	done := make(chan int)
	go func() { done <- bus.Publish(event.MustNew("x", nil)) }()
	select {
	case n := <-done:
		if n != 1 {
			t.Errorf("expected only the drained queue to accept, got %d", n)
		}
	case <-time.After(time.Second):
		t.Fatal("publish blocked on a full queue")
	}
	if slow.Dropped() != 1 {
		t.Errorf("expected 1 drop on the full queue, got %d", slow.Dropped())
	}
}

// --- Debug ring ---

func TestBusRecentKeepsLastHundred(t *testing.T) {
	bus := NewEventBus(testBusConfig(), nil)
	for i := range 150 {
		bus.Publish(event.MustNew(fmt.Sprintf("t%d", i), nil))
	}
	recent := bus.Recent(0)
	if len(recent) != 100 {
		t.Fatalf("expected 100 events, got %d", len(recent))
	}
	if recent[0].Topic != "t50" || recent[99].Topic != "t149" {
		t.Errorf("expected t50..t149, got %s..%s", recent[0].Topic, recent[99].Topic)
	}

	last := bus.Recent(3)
	if len(last) != 3 || last[2].Topic != "t149" || last[0].Topic != "t147" {
		t.Errorf("unexpected tail %v", last)
	}
}

func TestBusRecentBeforeWrap(t *testing.T) {
	bus := NewEventBus(testBusConfig(), nil)
	bus.Publish(event.MustNew("a", nil))
	bus.Publish(event.MustNew("b", nil))
	got := bus.Recent(10)
	if len(got) != 2 || got[0].Topic != "a" || got[1].Topic != "b" {
		t.Errorf("unexpected recent %v", got)
	}
}

func TestBusDefaultsSource(t *testing.T) {
	bus := NewEventBus(testBusConfig(), nil)
	q := bus.NewQueue()
	bus.Subscribe("x", q)
	bus.Publish(event.Event{ID: "e1", Topic: "x"})
	ev, _ := q.Next(context.Background(), time.Millisecond)
	if ev.Source != event.DefaultSource {
		t.Errorf("expected default source, got %q", ev.Source)
	}
}

// --- Persistence ---

func TestBusPersistsEveryEventInOrder(t *testing.T) {
	app := &recordingAppender{}
	bus := NewEventBus(testBusConfig(), app)

	var want []string
	for i := range 20 {
		ev := event.MustNew(fmt.Sprintf("t%d", i), nil)
		want = append(want, ev.ID)
		bus.Publish(ev)
	}
	bus.Close()

	if got := app.appended(); !slices.Equal(got, want) {
		t.Errorf("appended %d events out of order or missing", len(got))
	}
}

func TestBusPersistsWithoutSubscribers(t *testing.T) {
	app := &recordingAppender{}
	bus := NewEventBus(testBusConfig(), app)
	if n := bus.Publish(event.MustNew("nobody:listens", nil)); n != 0 {
		t.Errorf("expected 0 deliveries, got %d", n)
	}
	bus.Close()
	if len(app.appended()) != 1 {
		t.Error("expected event to be persisted")
	}
}

func TestBusPersistBacklogDrops(t *testing.T) {
	app := &recordingAppender{block: make(chan struct{})}
	cfg := testBusConfig()
	cfg.PersistQueueSize = 2
	bus := NewEventBus(cfg, app)

	// One event is held by the blocked worker, two fill the buffer.
	for range 10 {
		bus.Publish(event.MustNew("x", nil))
	}
	dropped := bus.Stats().PersistDropped
	if dropped < 7 {
		t.Errorf("expected at least 7 dropped appends, got %d", dropped)
	}
	close(app.block)
	bus.Close()
	if got := len(app.appended()) + int(dropped); got != 10 {
		t.Errorf("appended + dropped = %d, want 10", got)
	}
}

func TestBusCloseIsIdempotentAndKeepsDelivering(t *testing.T) {
	app := &recordingAppender{}
	bus := NewEventBus(testBusConfig(), app)
	bus.Close()
	bus.Close()

	q := bus.NewQueue()
	bus.Subscribe("x", q)
	if n := bus.Publish(event.MustNew("x", nil)); n != 1 {
		t.Errorf("expected delivery after close, got %d", n)
	}
	if len(app.appended()) != 0 {
		t.Error("expected no appends after close")
	}
}

func TestBusStats(t *testing.T) {
	bus := NewEventBus(testBusConfig(), nil)
	q := bus.NewQueue()
	bus.Subscribe("*", q)
	bus.Publish(event.MustNew("a", nil))
	bus.Publish(event.MustNew("b", nil))

	st := bus.Stats()
	if st.Published != 2 || st.Delivered != 2 || st.Subscriptions != 1 {
		t.Errorf("unexpected stats %+v", st)
	}
}

func TestBusWithEventLog(t *testing.T) {
	store := newMockEventStore()
	bus := NewEventBus(testBusConfig(), NewEventLog(store, nil, nil))
	for range 5 {
		bus.Publish(event.MustNew("file:modified", nil))
	}
	bus.Close()
	if store.count() != 5 {
		t.Errorf("expected 5 stored events, got %d", store.count())
	}
	if gaps := NewEventLog(store, nil, nil).DetectGaps(context.Background()); len(gaps) != 0 {
		t.Errorf("expected no gaps, got %v", gaps)
	}
}
