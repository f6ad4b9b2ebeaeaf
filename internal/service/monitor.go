package service

import (
	"context"
	"sync"
	"time"
)

// MetricsRecorder exports handler runs to an external metrics backend.
type MetricsRecorder interface {
	RecordAgentRun(ctx context.Context, agentName string, d time.Duration, success bool)
}

// AgentStats aggregates handler runs for one agent.
type AgentStats struct {
	Runs          int64         `json:"runs"`
	Failures      int64         `json:"failures"`
	TotalDuration time.Duration `json:"total_duration_ns"`
	MaxDuration   time.Duration `json:"max_duration_ns"`
	LastRun       time.Time     `json:"last_run,omitzero"`
}

// AvgDuration returns the mean handler duration.
func (s AgentStats) AvgDuration() time.Duration {
	if s.Runs == 0 {
		return 0
	}
	return s.TotalDuration / time.Duration(s.Runs)
}

// SuccessRate returns the fraction of successful runs, 1 when there were none.
func (s AgentStats) SuccessRate() float64 {
	if s.Runs == 0 {
		return 1
	}
	return float64(s.Runs-s.Failures) / float64(s.Runs)
}

// PerformanceMonitor keeps per-agent handler statistics and forwards each run
// to an optional MetricsRecorder.
type PerformanceMonitor struct {
	recorder MetricsRecorder
	now      func() time.Time

	mu    sync.Mutex
	stats map[string]*AgentStats
}

var _ Monitor = (*PerformanceMonitor)(nil)

// NewPerformanceMonitor creates a monitor. rec may be nil.
func NewPerformanceMonitor(rec MetricsRecorder) *PerformanceMonitor {
	return &PerformanceMonitor{recorder: rec, now: time.Now, stats: make(map[string]*AgentStats)}
}

// Record adds one handler run.
func (m *PerformanceMonitor) Record(agentName string, d time.Duration, success bool) {
	m.mu.Lock()
	s, ok := m.stats[agentName]
	if !ok {
		s = &AgentStats{}
		m.stats[agentName] = s
	}
	s.Runs++
	if !success {
		s.Failures++
	}
	s.TotalDuration += d
	s.MaxDuration = max(s.MaxDuration, d)
	s.LastRun = m.now()
	m.mu.Unlock()

	if m.recorder != nil {
		m.recorder.RecordAgentRun(context.Background(), agentName, d, success)
	}
}

// Stats returns one agent's statistics.
func (m *PerformanceMonitor) Stats(agentName string) (AgentStats, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.stats[agentName]
	if !ok {
		return AgentStats{}, false
	}
	return *s, true
}

// Snapshot returns statistics for every agent seen so far.
func (m *PerformanceMonitor) Snapshot() map[string]AgentStats {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]AgentStats, len(m.stats))
	for name, s := range m.stats {
		out[name] = *s
	}
	return out
}
