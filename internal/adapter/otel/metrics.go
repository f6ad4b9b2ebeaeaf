package otel

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/Strob0t/Overwatch/internal/service"
)

const meterName = "overwatch"

var _ service.MetricsRecorder = (*Metrics)(nil)

// Metrics holds the Overwatch metric instruments.
type Metrics struct {
	AgentRuns     metric.Int64Counter
	AgentFailures metric.Int64Counter
	AgentDuration metric.Float64Histogram
}

// NewMetrics creates instruments on the global meter provider.
func NewMetrics() (*Metrics, error) {
	return NewMetricsWith(otel.Meter(meterName))
}

// NewMetricsWith creates instruments on meter.
func NewMetricsWith(meter metric.Meter) (*Metrics, error) {
	m := &Metrics{}
	var err error

	m.AgentRuns, err = meter.Int64Counter("overwatch.agent.runs",
		metric.WithDescription("Number of agent handler runs"))
	if err != nil {
		return nil, err
	}

	m.AgentFailures, err = meter.Int64Counter("overwatch.agent.failures",
		metric.WithDescription("Number of failed agent handler runs"))
	if err != nil {
		return nil, err
	}

	m.AgentDuration, err = meter.Float64Histogram("overwatch.agent.duration_seconds",
		metric.WithDescription("Agent handler duration in seconds"),
		metric.WithUnit("s"))
	if err != nil {
		return nil, err
	}

	return m, nil
}

// RecordAgentRun records one handler run.
func (m *Metrics) RecordAgentRun(ctx context.Context, agentName string, d time.Duration, success bool) {
	attrs := metric.WithAttributes(attribute.String("agent", agentName))
	m.AgentRuns.Add(ctx, 1, attrs)
	if !success {
		m.AgentFailures.Add(ctx, 1, attrs)
	}
	m.AgentDuration.Record(ctx, d.Seconds(), metric.WithAttributes(
		attribute.String("agent", agentName),
		attribute.Bool("success", success),
	))
}
