package service

import (
	"context"
	"log/slog"
	"time"
)

// RetentionTask periodically deletes events older than the retention window.
type RetentionTask struct {
	log      *EventLog
	days     int
	interval time.Duration
}

// NewRetentionTask creates a task keeping days of history, run every interval.
func NewRetentionTask(log *EventLog, days int, interval time.Duration) *RetentionTask {
	if interval <= 0 {
		interval = 6 * time.Hour
	}
	return &RetentionTask{log: log, days: days, interval: interval}
}

// RunOnce performs a single cleanup pass and returns the removed count.
func (t *RetentionTask) RunOnce(ctx context.Context) int64 {
	n := t.log.CleanupOldEvents(ctx, t.days)
	if n > 0 {
		slog.Info("old events removed", "count", n, "days_to_keep", t.days)
	}
	return n
}

// Run cleans up immediately and then every interval until ctx is done.
func (t *RetentionTask) Run(ctx context.Context) {
	t.RunOnce(ctx)

	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			t.RunOnce(ctx)
		}
	}
}
