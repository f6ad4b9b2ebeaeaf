// Package eventlog defines the port interface for the durable, sequence-ordered
// event log.
package eventlog

import (
	"context"
	"time"

	"github.com/Strob0t/Overwatch/internal/domain/event"
)

// Store is the port interface for appending, replaying, and auditing events.
type Store interface {
	// Append durably stores ev and returns its sequence number. Re-appending
	// an existing ID overwrites the stored fields and keeps the original
	// sequence.
	Append(ctx context.Context, ev *event.Event) (int64, error)

	// SequenceOf returns the sequence assigned to an event ID, or
	// domain.ErrNotFound when the event has not been stored yet.
	SequenceOf(ctx context.Context, id string) (int64, error)

	// Query returns matching events newest first.
	Query(ctx context.Context, filter event.QueryFilter) ([]event.Event, error)

	// MissedEvents returns events after the agent's replay cursor in
	// ascending sequence order, capped at limit.
	MissedEvents(ctx context.Context, agentName string, limit int) ([]event.Event, error)

	// ReplayState returns the agent's cursor; a zero cursor for unknown agents.
	ReplayState(ctx context.Context, agentName string) (event.ReplayState, error)

	// UpdateReplayState advances the agent's cursor. The stored sequence
	// never moves backwards.
	UpdateReplayState(ctx context.Context, agentName string, sequence int64, ts time.Time) error

	// ListReplayStates returns every agent cursor.
	ListReplayStates(ctx context.Context) ([]event.ReplayState, error)

	// DetectGaps reports discontinuities in the stored sequence.
	DetectGaps(ctx context.Context) ([]event.Gap, error)

	// CleanupOldEvents deletes events older than the cutoff and returns how
	// many were removed.
	CleanupOldEvents(ctx context.Context, olderThan time.Time) (int64, error)

	// Close releases the underlying storage.
	Close() error
}
