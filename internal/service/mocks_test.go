package service

import (
	"context"
	"errors"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/Strob0t/Overwatch/internal/config"
	"github.com/Strob0t/Overwatch/internal/domain"
	"github.com/Strob0t/Overwatch/internal/domain/agent"
	"github.com/Strob0t/Overwatch/internal/domain/event"
	"github.com/Strob0t/Overwatch/internal/port/broadcast"
	"github.com/Strob0t/Overwatch/internal/port/cache"
	"github.com/Strob0t/Overwatch/internal/port/eventlog"
	"github.com/Strob0t/Overwatch/internal/port/messagequeue"
)

// Ensure mock types implement their interfaces at compile time.
var (
	_ eventlog.Store        = (*mockEventStore)(nil)
	_ broadcast.Broadcaster = (*mockBroadcaster)(nil)
	_ messagequeue.Queue    = (*mockQueue)(nil)
	_ cache.Cache           = (*mockCache)(nil)
	_ Agent                 = (*mockAgent)(nil)
	_ Monitor               = (*mockMonitor)(nil)
	_ MetricsRecorder       = (*mockRecorder)(nil)
)

var errStorage = errors.New("disk I/O error")

// mockEventStore is an in-memory eventlog.Store with injectable failures.
type mockEventStore struct {
	mu      sync.Mutex
	events  []event.Event
	cursors map[string]event.ReplayState
	nextSeq int64
	failAll error
	appends int
	closed  bool
}

func newMockEventStore() *mockEventStore {
	return &mockEventStore{cursors: make(map[string]event.ReplayState)}
}

func (m *mockEventStore) Append(_ context.Context, ev *event.Event) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.appends++
	if m.failAll != nil {
		return 0, m.failAll
	}
	for i := range m.events {
		if m.events[i].ID == ev.ID {
			ev.Sequence = m.events[i].Sequence
			m.events[i] = *ev
			return ev.Sequence, nil
		}
	}
	m.nextSeq++
	ev.Sequence = m.nextSeq
	m.events = append(m.events, *ev)
	return ev.Sequence, nil
}

func (m *mockEventStore) SequenceOf(_ context.Context, id string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failAll != nil {
		return 0, m.failAll
	}
	for _, ev := range m.events {
		if ev.ID == id {
			return ev.Sequence, nil
		}
	}
	return 0, domain.ErrNotFound
}

func (m *mockEventStore) Query(_ context.Context, f event.QueryFilter) ([]event.Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failAll != nil {
		return nil, m.failAll
	}
	f = f.Normalize()
	var out []event.Event
	for i := len(m.events) - 1; i >= 0; i-- {
		ev := m.events[i]
		if f.Topic != "" && !event.Matches(f.Topic, ev.Topic) {
			continue
		}
		if f.Source != "" && ev.Source != f.Source {
			continue
		}
		out = append(out, ev)
	}
	if f.Offset >= len(out) {
		return []event.Event{}, nil
	}
	out = out[f.Offset:]
	if len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (m *mockEventStore) MissedEvents(_ context.Context, agentName string, limit int) ([]event.Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failAll != nil {
		return nil, m.failAll
	}
	cursor := m.cursors[agentName].LastProcessedSequence
	var out []event.Event
	for _, ev := range m.events {
		if ev.Sequence > cursor {
			out = append(out, ev)
		}
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (m *mockEventStore) ReplayState(_ context.Context, agentName string) (event.ReplayState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failAll != nil {
		return event.ReplayState{}, m.failAll
	}
	st, ok := m.cursors[agentName]
	if !ok {
		return event.ReplayState{AgentName: agentName}, nil
	}
	return st, nil
}

func (m *mockEventStore) UpdateReplayState(_ context.Context, agentName string, seq int64, ts time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failAll != nil {
		return m.failAll
	}
	st := m.cursors[agentName]
	if seq >= st.LastProcessedSequence {
		st = event.ReplayState{AgentName: agentName, LastProcessedSequence: seq, LastProcessedTimestamp: ts, UpdatedAt: time.Now()}
	}
	m.cursors[agentName] = st
	return nil
}

func (m *mockEventStore) ListReplayStates(context.Context) ([]event.ReplayState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failAll != nil {
		return nil, m.failAll
	}
	out := make([]event.ReplayState, 0, len(m.cursors))
	for _, st := range m.cursors {
		out = append(out, st)
	}
	slices.SortFunc(out, func(a, b event.ReplayState) int { return strings.Compare(a.AgentName, b.AgentName) })
	return out, nil
}

func (m *mockEventStore) DetectGaps(context.Context) ([]event.Gap, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failAll != nil {
		return nil, m.failAll
	}
	seqs := make([]int64, 0, len(m.events))
	for _, ev := range m.events {
		seqs = append(seqs, ev.Sequence)
	}
	return event.FindGaps(seqs), nil
}

func (m *mockEventStore) CleanupOldEvents(_ context.Context, olderThan time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failAll != nil {
		return 0, m.failAll
	}
	kept := m.events[:0]
	var n int64
	for _, ev := range m.events {
		if ev.Timestamp.Before(olderThan) {
			n++
			continue
		}
		kept = append(kept, ev)
	}
	m.events = kept
	return n, nil
}

func (m *mockEventStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

func (m *mockEventStore) setFail(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failAll = err
}

func (m *mockEventStore) cursor(agentName string) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cursors[agentName].LastProcessedSequence
}

func (m *mockEventStore) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.events)
}

// appendEvents stores events directly, bypassing the bus.
func (m *mockEventStore) appendEvents(t *testing.T, evs ...event.Event) []event.Event {
	t.Helper()
	out := make([]event.Event, 0, len(evs))
	for _, ev := range evs {
		if _, err := m.Append(context.Background(), &ev); err != nil {
			t.Fatalf("append: %v", err)
		}
		out = append(out, ev)
	}
	return out
}

type broadcastMsg struct {
	eventType string
	payload   any
}

type mockBroadcaster struct {
	mu     sync.Mutex
	events []broadcastMsg
}

func (m *mockBroadcaster) BroadcastEvent(_ context.Context, eventType string, payload any) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, broadcastMsg{eventType, payload})
}

func (m *mockBroadcaster) snapshot() []broadcastMsg {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.events)
}

type publishedMsg struct {
	subject string
	data    []byte
}

// mockQueue implements messagequeue.Queue for testing.
type mockQueue struct {
	mu         sync.Mutex
	published  []publishedMsg
	publishErr error
}

func (q *mockQueue) Publish(_ context.Context, subject string, data []byte) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.publishErr != nil {
		return q.publishErr
	}
	q.published = append(q.published, publishedMsg{subject, data})
	return nil
}

func (q *mockQueue) Subscribe(_ context.Context, _ string, _ messagequeue.Handler) (func(), error) {
	return func() {}, nil
}

func (q *mockQueue) Close() error { return nil }

func (q *mockQueue) snapshot() []publishedMsg {
	q.mu.Lock()
	defer q.mu.Unlock()
	return slices.Clone(q.published)
}

type mockCache struct {
	mu   sync.Mutex
	data map[string][]byte
	gets int
	hits int
}

func newMockCache() *mockCache { return &mockCache{data: make(map[string][]byte)} }

func (c *mockCache) Get(_ context.Context, key string) ([]byte, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gets++
	v, ok := c.data[key]
	if ok {
		c.hits++
	}
	return v, ok, nil
}

func (c *mockCache) Set(_ context.Context, key string, value []byte, _ time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data[key] = value
	return nil
}

func (c *mockCache) Delete(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.data, key)
	return nil
}

// mockAgent records handled events and delegates to an optional handler.
type mockAgent struct {
	name   string
	topics []string
	handle func(ctx context.Context, ev event.Event) (*agent.Result, error)

	mu   sync.Mutex
	seen []event.Event
}

func (a *mockAgent) Name() string     { return a.name }
func (a *mockAgent) Topics() []string { return a.topics }

func (a *mockAgent) Handle(ctx context.Context, ev event.Event) (*agent.Result, error) {
	a.mu.Lock()
	a.seen = append(a.seen, ev)
	a.mu.Unlock()
	if a.handle != nil {
		return a.handle(ctx, ev)
	}
	return &agent.Result{Success: true, Message: "ok"}, nil
}

func (a *mockAgent) handled() []event.Event {
	a.mu.Lock()
	defer a.mu.Unlock()
	return slices.Clone(a.seen)
}

type monitorRecord struct {
	agent   string
	d       time.Duration
	success bool
}

type mockMonitor struct {
	mu      sync.Mutex
	records []monitorRecord
}

func (m *mockMonitor) Record(agentName string, d time.Duration, success bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = append(m.records, monitorRecord{agentName, d, success})
}

func (m *mockMonitor) snapshot() []monitorRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.records)
}

type mockRecorder struct {
	mu   sync.Mutex
	runs int
}

func (r *mockRecorder) RecordAgentRun(context.Context, string, time.Duration, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.runs++
}

// testBusConfig keeps queues small and persistence single-worker.
func testBusConfig() config.Bus {
	return config.Bus{QueueSize: 16, DebugRingSize: 100, PersistQueueSize: 64, PersistWorkers: 1}
}

func testRunnerConfig() config.Runner {
	return config.Runner{PollTimeout: 10 * time.Millisecond, ReplayLimit: 100, LivenessTimeout: time.Minute}
}

// eventually polls cond until it holds or the deadline passes.
func eventually(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting: %s", msg)
}
