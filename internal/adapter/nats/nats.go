// Package nats implements the message queue port using NATS JetStream.
package nats

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/Strob0t/Overwatch/internal/logger"
	"github.com/Strob0t/Overwatch/internal/port/messagequeue"
)

var _ messagequeue.Queue = (*Queue)(nil)

const (
	headerEventID = "Overwatch-Event-Id"
	headerAgent   = "Overwatch-Agent"

	// maxDeliver is how often a failing message is redelivered before it is
	// moved to the dead letter subject.
	maxDeliver = 3
	dlqSuffix  = ".dlq"
)

// Queue implements messagequeue.Queue on a single JetStream stream.
type Queue struct {
	nc     *nats.Conn
	js     jetstream.JetStream
	stream string
}

// StreamSubjects returns the subjects a stream captures for prefix.
func StreamSubjects(prefix string) []string {
	prefix = strings.TrimSuffix(prefix, ".")
	return []string{prefix + ".>"}
}

// Connect dials url and ensures stream exists, capturing every subject under
// prefix.
func Connect(ctx context.Context, url, stream, prefix string) (*Queue, error) {
	if stream == "" || prefix == "" {
		return nil, errors.New("nats: stream and subject prefix are required")
	}
	nc, err := nats.Connect(url, nats.Name("overwatch"))
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("jetstream init: %w", err)
	}

	_, err = js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:     stream,
		Subjects: StreamSubjects(prefix),
	})
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("jetstream stream create: %w", err)
	}

	slog.Info("nats connected", "url", url, "stream", stream)
	return &Queue{nc: nc, js: js, stream: stream}, nil
}

// Publish sends data to subject, carrying the event and agent from ctx as
// headers.
func (q *Queue) Publish(ctx context.Context, subject string, data []byte) error {
	msg := &nats.Msg{Subject: subject, Data: data, Header: nats.Header{}}
	if id := logger.EventID(ctx); id != "" {
		msg.Header.Set(headerEventID, id)
	}
	if ag := logger.Agent(ctx); ag != "" {
		msg.Header.Set(headerAgent, ag)
	}
	if _, err := q.js.PublishMsg(ctx, msg); err != nil {
		return fmt.Errorf("nats publish %s: %w", subject, err)
	}
	return nil
}

// Subscribe consumes subject with explicit acks. A handler error naks the
// message; after maxDeliver attempts it is copied to subject+".dlq" and acked.
func (q *Queue) Subscribe(ctx context.Context, subject string, handler messagequeue.Handler) (func(), error) {
	consumer, err := q.js.CreateOrUpdateConsumer(ctx, q.stream, jetstream.ConsumerConfig{
		FilterSubject: subject,
		AckPolicy:     jetstream.AckExplicitPolicy,
		MaxDeliver:    maxDeliver + 1,
	})
	if err != nil {
		return nil, fmt.Errorf("nats consumer create: %w", err)
	}

	cons, err := consumer.Consume(func(msg jetstream.Msg) {
		hctx := contextFromHeaders(context.Background(), msg.Headers())
		if err := handler(hctx, msg.Subject(), msg.Data()); err != nil {
			q.handleFailure(hctx, msg, err)
			return
		}
		if ackErr := msg.Ack(); ackErr != nil {
			slog.Error("nats ack failed", "error", ackErr)
		}
	})
	if err != nil {
		return nil, fmt.Errorf("nats consume: %w", err)
	}
	return cons.Stop, nil
}

func (q *Queue) handleFailure(ctx context.Context, msg jetstream.Msg, herr error) {
	var delivered uint64 = 1
	if md, err := msg.Metadata(); err == nil {
		delivered = md.NumDelivered
	}
	if delivered < maxDeliver || strings.HasSuffix(msg.Subject(), dlqSuffix) {
		slog.WarnContext(ctx, "message handler failed", "subject", msg.Subject(), "attempt", delivered, "error", herr)
		if err := msg.Nak(); err != nil {
			slog.Error("nats nak failed", "error", err)
		}
		return
	}

	slog.ErrorContext(ctx, "message moved to dead letter subject", "subject", msg.Subject(), "error", herr)
	dlq := &nats.Msg{Subject: msg.Subject() + dlqSuffix, Data: msg.Data(), Header: nats.Header(msg.Headers())}
	if _, err := q.js.PublishMsg(ctx, dlq); err != nil {
		slog.Error("nats dead letter publish failed", "subject", dlq.Subject, "error", err)
		_ = msg.Nak()
		return
	}
	if err := msg.Ack(); err != nil {
		slog.Error("nats ack failed", "error", err)
	}
}

func contextFromHeaders(ctx context.Context, h nats.Header) context.Context {
	if h == nil {
		return ctx
	}
	if id := h.Get(headerEventID); id != "" {
		ctx = logger.WithEventID(ctx, id)
	}
	if ag := h.Get(headerAgent); ag != "" {
		ctx = logger.WithAgent(ctx, ag)
	}
	return ctx
}

// JetStream exposes the JetStream context for other stores on the same
// connection, such as the shared read cache.
func (q *Queue) JetStream() jetstream.JetStream {
	return q.js
}

// IsConnected reports whether the underlying connection is up.
func (q *Queue) IsConnected() bool {
	return q.nc.IsConnected()
}

// Close drains pending publishes and closes the connection.
func (q *Queue) Close() error {
	if err := q.nc.Drain(); err != nil {
		q.nc.Close()
		return fmt.Errorf("nats drain: %w", err)
	}
	return nil
}
