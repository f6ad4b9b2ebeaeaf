package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/Strob0t/Overwatch/internal/config"
	"github.com/Strob0t/Overwatch/internal/domain"
	"github.com/Strob0t/Overwatch/internal/domain/agent"
)

// Manager registers agents and controls their runners.
type Manager struct {
	bus     *EventBus
	log     *EventLog
	cfg     config.Runner
	monitor Monitor
	now     func() time.Time

	mu      sync.RWMutex
	runners map[string]*Runner
	order   []string
}

// NewManager creates an empty manager. log may be nil.
func NewManager(bus *EventBus, log *EventLog, cfg config.Runner) *Manager {
	return &Manager{
		bus:     bus,
		log:     log,
		cfg:     cfg,
		now:     time.Now,
		runners: make(map[string]*Runner),
	}
}

// SetMonitor attaches a performance monitor to every runner registered
// afterwards.
func (m *Manager) SetMonitor(mon Monitor) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.monitor = mon
}

// Register creates a stopped runner for ag.
func (m *Manager) Register(ag Agent) (*Runner, error) {
	name := ag.Name()
	if name == "" {
		return nil, errors.New("register agent: empty name")
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.runners[name]; ok {
		return nil, fmt.Errorf("register %s: %w", name, domain.ErrDuplicateAgent)
	}
	r := NewRunner(ag, m.bus, m.log, m.cfg)
	if m.monitor != nil {
		r.SetMonitor(m.monitor)
	}
	m.runners[name] = r
	m.order = append(m.order, name)
	return r, nil
}

func (m *Manager) runner(name string) (*Runner, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.runners[name]
	if !ok {
		return nil, fmt.Errorf("agent %s: %w", name, domain.ErrNotFound)
	}
	return r, nil
}

func (m *Manager) all() []*Runner {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Runner, 0, len(m.order))
	for _, name := range m.order {
		out = append(out, m.runners[name])
	}
	return out
}

// Start starts one agent.
func (m *Manager) Start(ctx context.Context, name string) error {
	r, err := m.runner(name)
	if err != nil {
		return err
	}
	return r.Start(ctx)
}

// Stop stops one agent.
func (m *Manager) Stop(ctx context.Context, name string) error {
	r, err := m.runner(name)
	if err != nil {
		return err
	}
	return r.Stop(ctx)
}

// Pause stops an agent from taking events without unsubscribing it.
func (m *Manager) Pause(name string) error {
	r, err := m.runner(name)
	if err != nil {
		return err
	}
	r.Pause()
	slog.Info("agent paused", "agent", name)
	return nil
}

// Resume re-enables a paused agent.
func (m *Manager) Resume(name string) error {
	r, err := m.runner(name)
	if err != nil {
		return err
	}
	r.Resume()
	slog.Info("agent resumed", "agent", name)
	return nil
}

// StartAll starts every stopped agent concurrently.
func (m *Manager) StartAll(ctx context.Context) error {
	var g errgroup.Group
	for _, r := range m.all() {
		if r.State() != agent.StateStopped {
			continue
		}
		g.Go(func() error { return r.Start(ctx) })
	}
	return g.Wait()
}

// StopAll stops every running agent concurrently and waits for all of them,
// returning the first error.
func (m *Manager) StopAll(ctx context.Context) error {
	var g errgroup.Group
	for _, r := range m.all() {
		if r.State() != agent.StateRunning {
			continue
		}
		g.Go(func() error { return r.Stop(ctx) })
	}
	return g.Wait()
}

// Status returns a snapshot of every agent in registration order.
func (m *Manager) Status() []agent.Info {
	runners := m.all()
	out := make([]agent.Info, 0, len(runners))
	for _, r := range runners {
		out = append(out, m.info(r))
	}
	return out
}

// Get returns one agent's snapshot.
func (m *Manager) Get(name string) (agent.Info, error) {
	r, err := m.runner(name)
	if err != nil {
		return agent.Info{}, err
	}
	return m.info(r), nil
}

func (m *Manager) info(r *Runner) agent.Info {
	info := r.Info()
	info.Healthy = m.healthy(info)
	return info
}

// healthy treats a running agent as alive while its heartbeat is newer than
// the liveness timeout. Stopped agents are healthy by definition.
func (m *Manager) healthy(info agent.Info) bool {
	if info.State != agent.StateRunning || m.cfg.LivenessTimeout <= 0 {
		return true
	}
	return m.now().Sub(info.LastHeartbeat) <= m.cfg.LivenessTimeout
}

// Unhealthy lists running agents whose heartbeat is stale.
func (m *Manager) Unhealthy() []string {
	var out []string
	for _, info := range m.Status() {
		if !info.Healthy {
			out = append(out, info.Name)
		}
	}
	return out
}

// WatchLiveness logs stale agents every interval until ctx is done.
func (m *Manager) WatchLiveness(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = m.cfg.LivenessTimeout
	}
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, name := range m.Unhealthy() {
				slog.Warn("agent heartbeat stale", "agent", name, "timeout", m.cfg.LivenessTimeout)
			}
		}
	}
}
