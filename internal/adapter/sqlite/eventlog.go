package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/Strob0t/Overwatch/internal/domain"
	"github.com/Strob0t/Overwatch/internal/domain/event"
	"github.com/Strob0t/Overwatch/internal/port/eventlog"
)

var _ eventlog.Store = (*EventLog)(nil)

// EventLog implements eventlog.Store on SQLite. All statements run under one
// lock so sequence assignment and cursor updates never interleave.
type EventLog struct {
	mu  sync.Mutex
	db  *sql.DB
	now func() time.Time
}

// NewEventLog wraps an open, migrated database.
func NewEventLog(db *sql.DB) *EventLog {
	return &EventLog{db: db, now: time.Now}
}

// OpenEventLog opens the database at path and returns an EventLog over it.
func OpenEventLog(ctx context.Context, path string) (*EventLog, error) {
	db, err := Open(ctx, path)
	if err != nil {
		return nil, err
	}
	return NewEventLog(db), nil
}

// eventColumns is the SELECT column list for events queries.
const eventColumns = `sequence, id, type, timestamp, source, payload, priority`

func scanEvent(row scannable, ev *event.Event) error {
	var ts int64
	var payload sql.NullString
	var prio int
	if err := row.Scan(&ev.Sequence, &ev.ID, &ev.Topic, &ts, &ev.Source, &payload, &prio); err != nil {
		return err
	}
	ev.Timestamp = fromUnixNano(ts)
	ev.Priority = event.Priority(prio)
	if payload.Valid {
		ev.Payload = []byte(payload.String)
	}
	return nil
}

func scanEvents(rows *sql.Rows) ([]event.Event, error) {
	defer func() { _ = rows.Close() }()

	events := []event.Event{}
	for rows.Next() {
		var ev event.Event
		if err := scanEvent(rows, &ev); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}

// Append stores ev and writes the assigned sequence back into it.
func (s *EventLog) Append(ctx context.Context, ev *event.Event) (int64, error) {
	if ev == nil || ev.ID == "" {
		return 0, errors.New("append event: missing id")
	}
	if ev.Topic == "" {
		return 0, fmt.Errorf("append event %s: missing topic", ev.ID)
	}
	source := ev.Source
	if source == "" {
		source = event.DefaultSource
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var seq int64
	err := s.db.QueryRowContext(ctx,
		`INSERT INTO events (id, type, timestamp, source, payload, priority, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
		   type = excluded.type,
		   timestamp = excluded.timestamp,
		   source = excluded.source,
		   payload = excluded.payload,
		   priority = excluded.priority
		 RETURNING sequence`,
		ev.ID, ev.Topic, toUnixNano(ev.Timestamp), source, nullIfEmpty(ev.Payload), int(ev.Priority), toUnixNano(s.now()),
	).Scan(&seq)
	if err != nil {
		return 0, fmt.Errorf("append event %s: %w", ev.ID, err)
	}
	ev.Sequence = seq
	return seq, nil
}

// SequenceOf looks up the sequence stored for an event ID.
func (s *EventLog) SequenceOf(ctx context.Context, id string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var seq int64
	err := s.db.QueryRowContext(ctx, `SELECT sequence FROM events WHERE id = ?`, id).Scan(&seq)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("event %s: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return 0, fmt.Errorf("sequence of %s: %w", id, err)
	}
	return seq, nil
}

// Query returns events matching filter, newest first.
func (s *EventLog) Query(ctx context.Context, filter event.QueryFilter) ([]event.Event, error) {
	filter = filter.Normalize()

	var conds []string
	var args []any
	switch {
	case filter.Topic == "" || filter.Topic == event.Wildcard:
	case event.IsPrefixPattern(filter.Topic):
		// substr compares case-sensitively, unlike LIKE.
		prefix := strings.TrimSuffix(filter.Topic, event.Wildcard)
		conds = append(conds, "substr(type, 1, ?) = ?")
		args = append(args, utf8.RuneCountInString(prefix), prefix)
	default:
		conds = append(conds, "type = ?")
		args = append(args, filter.Topic)
	}
	if filter.Source != "" {
		conds = append(conds, "source = ?")
		args = append(args, filter.Source)
	}
	if filter.Since != nil {
		conds = append(conds, "timestamp >= ?")
		args = append(args, toUnixNano(*filter.Since))
	}

	q := fmt.Sprintf(`SELECT %s FROM events`, eventColumns)
	if len(conds) > 0 {
		q += " WHERE " + strings.Join(conds, " AND ")
	}
	q += " ORDER BY sequence DESC LIMIT ? OFFSET ?"
	args = append(args, filter.Limit, filter.Offset)

	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	return scanEvents(rows)
}

// MissedEvents returns events past the agent's cursor in ascending order.
func (s *EventLog) MissedEvents(ctx context.Context, agentName string, limit int) ([]event.Event, error) {
	if limit <= 0 {
		limit = event.DefaultQueryLimit
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.QueryContext(ctx,
		fmt.Sprintf(`SELECT %s FROM events
		 WHERE sequence > COALESCE((SELECT last_processed_sequence FROM replay_state WHERE agent_name = ?), 0)
		 ORDER BY sequence ASC LIMIT ?`, eventColumns),
		agentName, limit)
	if err != nil {
		return nil, fmt.Errorf("missed events for %s: %w", agentName, err)
	}
	return scanEvents(rows)
}

const replayColumns = `agent_name, last_processed_sequence, last_processed_timestamp, updated_at`

func scanReplayState(row scannable, st *event.ReplayState) error {
	var ts, updated int64
	if err := row.Scan(&st.AgentName, &st.LastProcessedSequence, &ts, &updated); err != nil {
		return err
	}
	st.LastProcessedTimestamp = fromUnixNano(ts)
	st.UpdatedAt = fromUnixNano(updated)
	return nil
}

// ReplayState returns the agent's cursor, zero-valued when none is stored.
func (s *EventLog) ReplayState(ctx context.Context, agentName string) (event.ReplayState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var st event.ReplayState
	err := scanReplayState(s.db.QueryRowContext(ctx,
		fmt.Sprintf(`SELECT %s FROM replay_state WHERE agent_name = ?`, replayColumns), agentName), &st)
	if errors.Is(err, sql.ErrNoRows) {
		return event.ReplayState{AgentName: agentName}, nil
	}
	if err != nil {
		return event.ReplayState{}, fmt.Errorf("replay state for %s: %w", agentName, err)
	}
	return st, nil
}

// UpdateReplayState upserts the agent's cursor, keeping the larger sequence.
func (s *EventLog) UpdateReplayState(ctx context.Context, agentName string, sequence int64, ts time.Time) error {
	if agentName == "" {
		return errors.New("update replay state: missing agent name")
	}
	if sequence < 0 {
		return fmt.Errorf("update replay state for %s: negative sequence %d", agentName, sequence)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO replay_state (agent_name, last_processed_sequence, last_processed_timestamp, updated_at)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT(agent_name) DO UPDATE SET
		   last_processed_timestamp = CASE
		     WHEN excluded.last_processed_sequence >= replay_state.last_processed_sequence
		     THEN excluded.last_processed_timestamp
		     ELSE replay_state.last_processed_timestamp END,
		   last_processed_sequence = MAX(replay_state.last_processed_sequence, excluded.last_processed_sequence),
		   updated_at = excluded.updated_at`,
		agentName, sequence, toUnixNano(ts), toUnixNano(s.now()))
	if err != nil {
		return fmt.Errorf("update replay state for %s: %w", agentName, err)
	}
	return nil
}

// ListReplayStates returns all stored cursors ordered by agent name.
func (s *EventLog) ListReplayStates(ctx context.Context) ([]event.ReplayState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.QueryContext(ctx,
		fmt.Sprintf(`SELECT %s FROM replay_state ORDER BY agent_name`, replayColumns))
	if err != nil {
		return nil, fmt.Errorf("list replay states: %w", err)
	}
	defer func() { _ = rows.Close() }()

	states := []event.ReplayState{}
	for rows.Next() {
		var st event.ReplayState
		if err := scanReplayState(rows, &st); err != nil {
			return nil, fmt.Errorf("scan replay state: %w", err)
		}
		states = append(states, st)
	}
	return states, rows.Err()
}

// DetectGaps compares each stored sequence with its predecessor. The first
// row is compared against zero so a missing prefix is reported too.
func (s *EventLog) DetectGaps(ctx context.Context) ([]event.Gap, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.QueryContext(ctx,
		`SELECT prev + 1, sequence - 1 FROM (
		   SELECT sequence, LAG(sequence, 1, 0) OVER (ORDER BY sequence) AS prev FROM events
		 ) WHERE sequence > prev + 1 ORDER BY sequence`)
	if err != nil {
		return nil, fmt.Errorf("detect gaps: %w", err)
	}
	defer func() { _ = rows.Close() }()

	gaps := []event.Gap{}
	for rows.Next() {
		var g event.Gap
		if err := rows.Scan(&g.From, &g.To); err != nil {
			return nil, fmt.Errorf("scan gap: %w", err)
		}
		g.Size = g.To - g.From + 1
		gaps = append(gaps, g)
	}
	return gaps, rows.Err()
}

// CleanupOldEvents deletes events whose timestamp is before olderThan.
func (s *EventLog) CleanupOldEvents(ctx context.Context, olderThan time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, `DELETE FROM events WHERE timestamp < ?`, toUnixNano(olderThan))
	if err != nil {
		return 0, fmt.Errorf("cleanup events: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("cleanup events: %w", err)
	}
	return n, nil
}

// Close closes the database.
func (s *EventLog) Close() error {
	return s.db.Close()
}
