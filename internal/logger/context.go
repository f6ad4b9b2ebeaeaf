package logger

import (
	"context"
	"log/slog"
)

type contextKey int

const (
	eventIDKey contextKey = iota
	agentKey
	requestIDKey
)

// WithEventID returns a new context carrying the ID of the event being handled.
func WithEventID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, eventIDKey, id)
}

// EventID extracts the event ID from the context.
// Returns an empty string if no event ID is set.
func EventID(ctx context.Context) string {
	id, _ := ctx.Value(eventIDKey).(string)
	return id
}

// WithAgent returns a new context carrying the handling agent's name.
func WithAgent(ctx context.Context, name string) context.Context {
	return context.WithValue(ctx, agentKey, name)
}

// Agent extracts the agent name from the context.
func Agent(ctx context.Context) string {
	name, _ := ctx.Value(agentKey).(string)
	return name
}

// WithRequestID returns a new context carrying an HTTP request ID.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey, id)
}

// RequestID extracts the request ID from the context.
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey).(string)
	return id
}

// contextHandler adds event_id, agent, and request_id attributes to records logged with
// a context that carries them.
type contextHandler struct {
	inner slog.Handler
}

func (h *contextHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.inner.Enabled(ctx, level)
}

func (h *contextHandler) Handle(ctx context.Context, rec slog.Record) error { //nolint:gocritic // slog.Handler interface requires value receiver
	if ctx != nil {
		if id := EventID(ctx); id != "" {
			rec.AddAttrs(slog.String("event_id", id))
		}
		if name := Agent(ctx); name != "" {
			rec.AddAttrs(slog.String("agent", name))
		}
		if id := RequestID(ctx); id != "" {
			rec.AddAttrs(slog.String("request_id", id))
		}
	}
	return h.inner.Handle(ctx, rec)
}

func (h *contextHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &contextHandler{inner: h.inner.WithAttrs(attrs)}
}

func (h *contextHandler) WithGroup(name string) slog.Handler {
	return &contextHandler{inner: h.inner.WithGroup(name)}
}
