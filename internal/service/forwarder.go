package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/Strob0t/Overwatch/internal/domain/event"
	"github.com/Strob0t/Overwatch/internal/port/broadcast"
	"github.com/Strob0t/Overwatch/internal/port/messagequeue"
)

// EventBusMessage is the broadcast type used for mirrored bus events.
const EventBusMessage = "bus.event"

// Forwarder mirrors every bus event to an external sink. Sink errors are
// logged and counted; they never affect the bus.
type Forwarder struct {
	name  string
	bus   *EventBus
	queue *Queue
	poll  time.Duration
	send  func(ctx context.Context, ev event.Event) error

	forwarded atomic.Int64
	failed    atomic.Int64
}

func newForwarder(name string, bus *EventBus, send func(context.Context, event.Event) error) *Forwarder {
	f := &Forwarder{name: name, bus: bus, queue: bus.NewQueue(), poll: time.Second, send: send}
	bus.Subscribe(event.Wildcard, f.queue)
	return f
}

// NewQueueForwarder publishes every bus event as JSON to a message queue
// subject derived from prefix and the event topic.
func NewQueueForwarder(bus *EventBus, q messagequeue.Queue, prefix string) *Forwarder {
	return newForwarder("queue", bus, func(ctx context.Context, ev event.Event) error {
		data, err := json.Marshal(ev)
		if err != nil {
			return fmt.Errorf("encode event: %w", err)
		}
		return q.Publish(ctx, SubjectFor(prefix, ev.Topic), data)
	})
}

// NewBroadcastForwarder sends every bus event to live clients.
func NewBroadcastForwarder(bus *EventBus, b broadcast.Broadcaster) *Forwarder {
	return newForwarder("broadcast", bus, func(ctx context.Context, ev event.Event) error {
		b.BroadcastEvent(ctx, EventBusMessage, ev)
		return nil
	})
}

// Run forwards until ctx is done, then unsubscribes.
func (f *Forwarder) Run(ctx context.Context) {
	defer func() {
		f.bus.Unsubscribe(event.Wildcard, f.queue)
		f.queue.Close()
	}()
	for ctx.Err() == nil {
		ev, ok := f.queue.Next(ctx, f.poll)
		if !ok {
			continue
		}
		if err := f.send(ctx, ev); err != nil {
			if f.failed.Add(1)%100 == 1 {
				slog.Warn("event forward failed", "forwarder", f.name, "topic", ev.Topic, "error", err, "failures", f.failed.Load())
			}
			continue
		}
		f.forwarded.Add(1)
	}
}

// Stats returns forwarded and failed counts.
func (f *Forwarder) Stats() (forwarded, failed int64) {
	return f.forwarded.Load(), f.failed.Load()
}

var subjectReplacer = strings.NewReplacer(":", ".", " ", "_", "*", "_", ">", "_")

// SubjectFor maps a topic onto a dot-separated subject under prefix,
// e.g. "file:modified" -> "<prefix>.file.modified".
func SubjectFor(prefix, topic string) string {
	s := subjectReplacer.Replace(topic)
	s = strings.Trim(s, ".")
	if prefix == "" {
		return s
	}
	return strings.TrimSuffix(prefix, ".") + "." + s
}
