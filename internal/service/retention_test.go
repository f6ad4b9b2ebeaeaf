package service

import (
	"context"
	"testing"
	"time"

	"github.com/Strob0t/Overwatch/internal/domain/event"
)

func TestRetentionTaskRunOnce(t *testing.T) {
	store := newMockEventStore()
	for _, age := range []time.Duration{30 * 24 * time.Hour, 8 * 24 * time.Hour, time.Hour} {
		ev := event.MustNew("file:modified", nil)
		ev.Timestamp = time.Now().Add(-age)
		store.appendEvents(t, ev)
	}

	task := NewRetentionTask(NewEventLog(store, nil, nil), 7, time.Hour)
	if n := task.RunOnce(context.Background()); n != 2 {
		t.Errorf("expected 2 removed, got %d", n)
	}
	if n := task.RunOnce(context.Background()); n != 0 {
		t.Errorf("expected nothing left to remove, got %d", n)
	}
	if store.count() != 1 {
		t.Errorf("expected 1 event kept, got %d", store.count())
	}
}

func TestRetentionTaskRunCleansImmediately(t *testing.T) {
	store := newMockEventStore()
	old := event.MustNew("x", nil)
	old.Timestamp = time.Now().Add(-48 * time.Hour)
	store.appendEvents(t, old)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		NewRetentionTask(NewEventLog(store, nil, nil), 1, time.Hour).Run(ctx)
		close(done)
	}()
	eventually(t, func() bool { return store.count() == 0 }, "initial cleanup")
	cancel()
	<-done
}
