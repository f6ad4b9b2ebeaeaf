package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/Strob0t/Overwatch/internal/domain"
	"github.com/Strob0t/Overwatch/internal/domain/event"
	"github.com/Strob0t/Overwatch/internal/logger"
	"github.com/Strob0t/Overwatch/internal/port/eventlog"
	"github.com/Strob0t/Overwatch/internal/resilience"
	"github.com/Strob0t/Overwatch/internal/workpool"
)

// EventLog gives the rest of the daemon best-effort access to the durable
// store. Appends are guarded by a circuit breaker, every call is bounded by
// the storage worker pool, and failures are logged rather than returned:
// reads degrade to empty results.
type EventLog struct {
	store   eventlog.Store
	pool    *workpool.Pool
	breaker *resilience.Breaker
}

// NewEventLog wraps store. pool and breaker may be nil.
func NewEventLog(store eventlog.Store, pool *workpool.Pool, breaker *resilience.Breaker) *EventLog {
	return &EventLog{store: store, pool: pool, breaker: breaker}
}

// Append stores ev and returns its sequence, or 0 when the append failed or
// was skipped by an open breaker.
func (l *EventLog) Append(ctx context.Context, ev event.Event) int64 {
	var seq int64
	write := func() error {
		return l.pool.Run(ctx, func() error {
			s, err := l.store.Append(ctx, &ev)
			seq = s
			return err
		})
	}

	var err error
	if l.breaker != nil {
		err = l.breaker.Execute(write)
	} else {
		err = write()
	}
	if err != nil {
		if errors.Is(err, resilience.ErrCircuitOpen) {
			slog.Debug("event log append skipped, breaker open", "event_id", ev.ID, "topic", ev.Topic)
		} else {
			slog.Warn("event log append failed", "event_id", ev.ID, "topic", ev.Topic, "error", err)
		}
		return 0
	}
	return seq
}

// SequenceOf returns the sequence stored for an event, or false when the
// event is not (yet) in the log.
func (l *EventLog) SequenceOf(ctx context.Context, id string) (int64, bool) {
	seq, err := workpool.Call(ctx, l.pool, func() (int64, error) {
		return l.store.SequenceOf(ctx, id)
	})
	if err != nil {
		if !errors.Is(err, domain.ErrNotFound) {
			slog.Warn("event log lookup failed", "event_id", id, "error", err)
		}
		return 0, false
	}
	return seq, true
}

// Query returns matching events newest first.
func (l *EventLog) Query(ctx context.Context, filter event.QueryFilter) []event.Event {
	evs, err := workpool.Call(ctx, l.pool, func() ([]event.Event, error) {
		return l.store.Query(ctx, filter)
	})
	if err != nil {
		slog.Warn("event log query failed", "topic", filter.Topic, "error", err)
		return []event.Event{}
	}
	return evs
}

// MissedEvents returns events past the agent's cursor in ascending order.
func (l *EventLog) MissedEvents(ctx context.Context, agentName string, limit int) []event.Event {
	evs, err := workpool.Call(ctx, l.pool, func() ([]event.Event, error) {
		return l.store.MissedEvents(ctx, agentName, limit)
	})
	if err != nil {
		slog.Warn("missed events lookup failed", "agent", agentName, "error", err)
		return []event.Event{}
	}
	return evs
}

// ReplayState returns the agent's cursor; zero when unknown or unreadable.
func (l *EventLog) ReplayState(ctx context.Context, agentName string) event.ReplayState {
	st, err := workpool.Call(ctx, l.pool, func() (event.ReplayState, error) {
		return l.store.ReplayState(ctx, agentName)
	})
	if err != nil {
		slog.Warn("replay state lookup failed", "agent", agentName, "error", err)
		return event.ReplayState{AgentName: agentName}
	}
	return st
}

// UpdateReplayState advances the agent's cursor. The store keeps the larger
// of the stored and given sequence.
func (l *EventLog) UpdateReplayState(ctx context.Context, agentName string, sequence int64, ts time.Time) {
	err := l.pool.Run(ctx, func() error {
		return l.store.UpdateReplayState(ctx, agentName, sequence, ts)
	})
	if err != nil {
		slog.WarnContext(logger.WithAgent(ctx, agentName), "replay state update failed", "sequence", sequence, "error", err)
	}
}

// ListReplayStates returns every agent cursor.
func (l *EventLog) ListReplayStates(ctx context.Context) []event.ReplayState {
	states, err := workpool.Call(ctx, l.pool, func() ([]event.ReplayState, error) {
		return l.store.ListReplayStates(ctx)
	})
	if err != nil {
		slog.Warn("list replay states failed", "error", err)
		return []event.ReplayState{}
	}
	return states
}

// DetectGaps reports discontinuities in the stored sequence.
func (l *EventLog) DetectGaps(ctx context.Context) []event.Gap {
	gaps, err := workpool.Call(ctx, l.pool, func() ([]event.Gap, error) {
		return l.store.DetectGaps(ctx)
	})
	if err != nil {
		slog.Warn("gap detection failed", "error", err)
		return []event.Gap{}
	}
	return gaps
}

// CleanupOldEvents deletes events older than daysToKeep days and returns how
// many were removed.
func (l *EventLog) CleanupOldEvents(ctx context.Context, daysToKeep int) int64 {
	if daysToKeep < 0 {
		daysToKeep = 0
	}
	cutoff := time.Now().Add(-time.Duration(daysToKeep) * 24 * time.Hour)
	n, err := workpool.Call(ctx, l.pool, func() (int64, error) {
		return l.store.CleanupOldEvents(ctx, cutoff)
	})
	if err != nil {
		slog.Warn("event cleanup failed", "days_to_keep", daysToKeep, "error", err)
		return 0
	}
	return n
}

// BreakerState reports the append breaker position, "closed" when none is set.
func (l *EventLog) BreakerState() string {
	if l.breaker == nil {
		return resilience.StateClosed.String()
	}
	return l.breaker.State().String()
}

// Close closes the underlying store.
func (l *EventLog) Close() error {
	return l.store.Close()
}
