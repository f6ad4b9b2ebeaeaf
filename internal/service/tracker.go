package service

import (
	"context"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/Strob0t/Overwatch/internal/domain/event"
	"github.com/Strob0t/Overwatch/internal/domain/finding"
)

// maxRecentFiles bounds the recently-modified list kept by the tracker.
const maxRecentFiles = 20

var trackedTopics = []string{event.TopicEditorFocus, "file:*", event.TopicWorkflowPhase, event.TopicUserRequest}

// ContextTracker follows editor, file, workflow, and request events to keep
// the developer's current UserContext.
type ContextTracker struct {
	bus   *EventBus
	queue *Queue
	poll  time.Duration

	mu sync.RWMutex
	uc finding.UserContext
}

// NewContextTracker subscribes immediately; call Run to start consuming.
func NewContextTracker(bus *EventBus, poll time.Duration) *ContextTracker {
	if poll <= 0 {
		poll = time.Second
	}
	t := &ContextTracker{bus: bus, queue: bus.NewQueue(), poll: poll}
	for _, p := range trackedTopics {
		bus.Subscribe(p, t.queue)
	}
	return t
}

// Run consumes until ctx is done, then unsubscribes.
func (t *ContextTracker) Run(ctx context.Context) {
	defer func() {
		for _, p := range trackedTopics {
			t.bus.Unsubscribe(p, t.queue)
		}
		t.queue.Close()
	}()
	for ctx.Err() == nil {
		ev, ok := t.queue.Next(ctx, t.poll)
		if !ok {
			continue
		}
		t.Apply(ev)
	}
}

type trackedPayload struct {
	File         string   `json:"file"`
	Path         string   `json:"path"`
	RelatedFiles []string `json:"related_files"`
	Phase        string   `json:"phase"`
	Request      string   `json:"request"`
	Text         string   `json:"text"`
}

// Apply updates the context from one event. Unknown topics and undecodable
// payloads are ignored.
func (t *ContextTracker) Apply(ev event.Event) {
	var p trackedPayload
	if len(ev.Payload) > 0 {
		if err := ev.Decode(&p); err != nil {
			slog.Debug("context tracker ignoring payload", "topic", ev.Topic, "error", err)
			return
		}
	}
	file := p.File
	if file == "" {
		file = p.Path
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	switch {
	case ev.Topic == event.TopicEditorFocus:
		if file != "" {
			t.uc.CurrentFile = file
		}
		if p.RelatedFiles != nil {
			t.uc.RelatedFiles = slices.Clone(p.RelatedFiles)
		}
	case ev.Topic == event.TopicWorkflowPhase:
		t.uc.Phase = finding.WorkflowPhase(p.Phase)
	case ev.Topic == event.TopicUserRequest:
		t.uc.Request = p.Request
		if t.uc.Request == "" {
			t.uc.Request = p.Text
		}
	case event.Matches("file:*", ev.Topic):
		if file == "" || ev.Topic == event.TopicFileDeleted {
			return
		}
		recent := slices.DeleteFunc(slices.Clone(t.uc.RecentFiles), func(f string) bool { return f == file })
		recent = append([]string{file}, recent...)
		if len(recent) > maxRecentFiles {
			recent = recent[:maxRecentFiles]
		}
		t.uc.RecentFiles = recent
	}
}

// Snapshot returns a copy of the tracked context, or nil while nothing has
// been observed.
func (t *ContextTracker) Snapshot() *finding.UserContext {
	t.mu.RLock()
	defer t.mu.RUnlock()

	uc := t.uc
	if uc.CurrentFile == "" && len(uc.RecentFiles) == 0 && len(uc.RelatedFiles) == 0 &&
		uc.Request == "" && uc.Phase == finding.PhaseUnknown {
		return nil
	}
	uc.RecentFiles = slices.Clone(uc.RecentFiles)
	uc.RelatedFiles = slices.Clone(uc.RelatedFiles)
	return &uc
}
