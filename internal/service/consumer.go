package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/Strob0t/Overwatch/internal/domain/agent"
	"github.com/Strob0t/Overwatch/internal/domain/event"
	"github.com/Strob0t/Overwatch/internal/domain/finding"
	"github.com/Strob0t/Overwatch/internal/logger"
)

// completedPattern matches every agent completion event.
const completedPattern = "agent:*"

// FindingsConsumer feeds findings embedded in agent completion events into
// the ContextStore.
type FindingsConsumer struct {
	bus     *EventBus
	store   *ContextStore
	tracker *ContextTracker
	queue   *Queue
	poll    time.Duration

	added  atomic.Int64
	failed atomic.Int64
}

// NewFindingsConsumer subscribes to completion events immediately; call Run
// to start consuming.
func NewFindingsConsumer(bus *EventBus, store *ContextStore, poll time.Duration) *FindingsConsumer {
	if poll <= 0 {
		poll = time.Second
	}
	c := &FindingsConsumer{bus: bus, store: store, queue: bus.NewQueue(), poll: poll}
	bus.Subscribe(completedPattern, c.queue)
	return c
}

// SetTracker makes the consumer score findings against the tracked user context.
func (c *FindingsConsumer) SetTracker(t *ContextTracker) {
	c.tracker = t
}

// Run consumes until ctx is done, then unsubscribes.
func (c *FindingsConsumer) Run(ctx context.Context) {
	defer func() {
		c.bus.Unsubscribe(completedPattern, c.queue)
		c.queue.Close()
	}()
	for ctx.Err() == nil {
		ev, ok := c.queue.Next(ctx, c.poll)
		if !ok {
			continue
		}
		c.HandleEvent(ctx, ev)
	}
}

// HandleEvent adds the findings carried by one completion event and returns
// how many were stored. Invalid findings and write failures are logged and
// skipped.
func (c *FindingsConsumer) HandleEvent(ctx context.Context, ev event.Event) int {
	agentName, ok := event.CompletedAgent(ev.Topic)
	if !ok {
		return 0
	}
	ctx = logger.WithEventID(logger.WithAgent(ctx, agentName), ev.ID)

	var res agent.Result
	if err := ev.Decode(&res); err != nil {
		slog.WarnContext(ctx, "undecodable agent result", "error", err)
		return 0
	}
	findings, err := DecodeFindings(res.Data)
	if err != nil {
		slog.WarnContext(ctx, "undecodable findings in agent result", "error", err)
		return 0
	}

	var uc *finding.UserContext
	if c.tracker != nil {
		uc = c.tracker.Snapshot()
	}

	stored := 0
	for _, f := range findings {
		if f.Agent == "" {
			f.Agent = agentName
		}
		tier, err := c.store.AddFinding(ctx, f, uc)
		if err != nil {
			c.failed.Add(1)
			slog.WarnContext(ctx, "finding not stored", "finding_id", f.ID, "file", f.File, "error", err)
			continue
		}
		stored++
		c.added.Add(1)
		slog.DebugContext(ctx, "finding stored", "finding_id", f.ID, "tier", tier)
	}
	return stored
}

// Stats returns how many findings were stored and rejected.
func (c *FindingsConsumer) Stats() (added, failed int64) {
	return c.added.Load(), c.failed.Load()
}

// DecodeFindings accepts a JSON list of findings, an object with a
// "findings" list, or a single finding object. Empty data yields no findings.
func DecodeFindings(data json.RawMessage) ([]finding.Finding, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return nil, nil
	}

	switch data[0] {
	case '[':
		var list []finding.Finding
		if err := json.Unmarshal(data, &list); err != nil {
			return nil, fmt.Errorf("decode finding list: %w", err)
		}
		return list, nil
	case '{':
		var probe map[string]json.RawMessage
		if err := json.Unmarshal(data, &probe); err != nil {
			return nil, fmt.Errorf("decode result data: %w", err)
		}
		if raw, ok := probe["findings"]; ok {
			return DecodeFindings(raw)
		}
		if _, ok := probe["file"]; !ok {
			return nil, nil
		}
		var f finding.Finding
		if err := json.Unmarshal(data, &f); err != nil {
			return nil, fmt.Errorf("decode finding: %w", err)
		}
		return []finding.Finding{f}, nil
	}
	return nil, nil
}
