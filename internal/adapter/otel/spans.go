package otel

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/Strob0t/Overwatch/internal/domain/agent"
	"github.com/Strob0t/Overwatch/internal/domain/event"
	"github.com/Strob0t/Overwatch/internal/service"
)

const tracerName = "overwatch"

// StartHandleSpan starts a span for one agent handling one event.
func StartHandleSpan(ctx context.Context, agentName string, ev event.Event) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "agent.handle",
		trace.WithAttributes(
			attribute.String("agent.name", agentName),
			attribute.String("event.id", ev.ID),
			attribute.String("event.topic", ev.Topic),
			attribute.String("event.source", ev.Source),
			attribute.Int64("event.sequence", ev.Sequence),
		),
	)
}

// TracedAgent wraps an agent so every Handle call runs inside a span.
type TracedAgent struct {
	service.Agent
}

var _ service.Agent = TracedAgent{}

// Trace wraps ag with a span per handled event.
func Trace(ag service.Agent) TracedAgent {
	return TracedAgent{Agent: ag}
}

// Handle delegates to the wrapped agent inside a span.
func (t TracedAgent) Handle(ctx context.Context, ev event.Event) (*agent.Result, error) {
	ctx, span := StartHandleSpan(ctx, t.Name(), ev)
	defer span.End()

	res, err := t.Agent.Handle(ctx, ev)
	switch {
	case err != nil:
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	case res != nil && !res.Success:
		span.SetStatus(codes.Error, res.Error)
	}
	return res, err
}
