package service

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/Strob0t/Overwatch/internal/domain/event"
)

func TestSubjectFor(t *testing.T) {
	tests := []struct {
		prefix, topic, want string
	}{
		{"overwatch.events", "file:modified", "overwatch.events.file.modified"},
		{"overwatch.events.", "agent:lint:completed", "overwatch.events.agent.lint.completed"},
		{"", "git:commit", "git.commit"},
		{"p", "odd topic*>", "p.odd_topic__"},
		{"p", ":leading", "p.leading"},
	}
	for _, tt := range tests {
		if got := SubjectFor(tt.prefix, tt.topic); got != tt.want {
			t.Errorf("SubjectFor(%q, %q) = %q, want %q", tt.prefix, tt.topic, got, tt.want)
		}
	}
}

func runForwarder(t *testing.T, f *Forwarder) func() {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		f.Run(ctx)
		close(done)
	}()
	return func() {
		cancel()
		<-done
	}
}

func TestQueueForwarderPublishesEvents(t *testing.T) {
	bus := NewEventBus(testBusConfig(), nil)
	q := &mockQueue{}
	f := NewQueueForwarder(bus, q, "overwatch.events")
	stop := runForwarder(t, f)

	src := event.MustNew(event.TopicFileModified, map[string]string{"file": "a.py"})
	bus.Publish(src)
	eventually(t, func() bool { return len(q.snapshot()) == 1 }, "queue publish")
	stop()

	msg := q.snapshot()[0]
	if msg.subject != "overwatch.events.file.modified" {
		t.Errorf("unexpected subject %s", msg.subject)
	}
	var got event.Event
	if err := json.Unmarshal(msg.data, &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.ID != src.ID || got.Topic != src.Topic {
		t.Errorf("unexpected forwarded event %+v", got)
	}
	if fwd, failed := f.Stats(); fwd != 1 || failed != 0 {
		t.Errorf("unexpected stats %d/%d", fwd, failed)
	}
	if bus.Stats().Subscriptions != 0 {
		t.Error("expected forwarder to unsubscribe on exit")
	}
}

func TestQueueForwarderCountsFailures(t *testing.T) {
	bus := NewEventBus(testBusConfig(), nil)
	q := &mockQueue{publishErr: errStorage}
	f := NewQueueForwarder(bus, q, "p")
	stop := runForwarder(t, f)
	defer stop()

	bus.Publish(event.MustNew("x", nil))
	bus.Publish(event.MustNew("y", nil))
	eventually(t, func() bool { _, failed := f.Stats(); return failed == 2 }, "two failures")
}

func TestBroadcastForwarder(t *testing.T) {
	bus := NewEventBus(testBusConfig(), nil)
	hub := &mockBroadcaster{}
	stop := runForwarder(t, NewBroadcastForwarder(bus, hub))
	defer stop()

	bus.Publish(event.MustNew(event.TopicGitCommit, nil))
	eventually(t, func() bool { return len(hub.snapshot()) == 1 }, "broadcast")
	msg := hub.snapshot()[0]
	if msg.eventType != EventBusMessage {
		t.Errorf("unexpected type %s", msg.eventType)
	}
	if ev, ok := msg.payload.(event.Event); !ok || ev.Topic != event.TopicGitCommit {
		t.Errorf("unexpected payload %#v", msg.payload)
	}
}
