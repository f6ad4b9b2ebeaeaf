package service

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Strob0t/Overwatch/internal/config"
	"github.com/Strob0t/Overwatch/internal/domain"
	"github.com/Strob0t/Overwatch/internal/domain/agent"
	"github.com/Strob0t/Overwatch/internal/domain/event"
	"github.com/Strob0t/Overwatch/internal/logger"
)

// Agent is an analysis agent driven by a Runner. Handle must not rely on
// publishing events itself; the runner publishes the completion event.
type Agent interface {
	Name() string
	Topics() []string
	Handle(ctx context.Context, ev event.Event) (*agent.Result, error)
}

// Monitor receives per-handler timing.
type Monitor interface {
	Record(agentName string, d time.Duration, success bool)
}

// Runner owns one agent's inbound queue and consumption loop.
type Runner struct {
	ag      Agent
	bus     *EventBus
	log     *EventLog
	cfg     config.Runner
	monitor Monitor

	mu        sync.Mutex
	state     agent.State
	queue     *Queue
	stop      context.CancelFunc
	done      chan struct{}
	startedAt time.Time

	enabled       atomic.Bool
	processed     atomic.Int64
	failed        atomic.Int64
	replayed      atomic.Int64
	lastEventAt   atomic.Int64 // unix nanos
	lastHeartbeat atomic.Int64 // unix nanos

	// lastSeq is only touched by the loop goroutine.
	lastSeq int64
}

// NewRunner creates a stopped runner. log may be nil, in which case nothing
// is replayed and no cursor is kept.
func NewRunner(ag Agent, bus *EventBus, log *EventLog, cfg config.Runner) *Runner {
	if cfg.PollTimeout <= 0 {
		cfg.PollTimeout = time.Second
	}
	if cfg.ReplayLimit <= 0 {
		cfg.ReplayLimit = 1000
	}
	r := &Runner{ag: ag, bus: bus, log: log, cfg: cfg, state: agent.StateStopped}
	r.enabled.Store(true)
	return r
}

// SetMonitor attaches a performance monitor.
func (r *Runner) SetMonitor(m Monitor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.monitor = m
}

// Name returns the agent name.
func (r *Runner) Name() string { return r.ag.Name() }

// State returns the lifecycle position.
func (r *Runner) State() agent.State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

func (r *Runner) transition(to agent.State) error {
	if !agent.CanTransition(r.state, to) {
		return fmt.Errorf("agent %s: %s -> %s not allowed", r.ag.Name(), r.state, to)
	}
	r.state = to
	return nil
}

// Start subscribes the agent's topic patterns and launches the loop. The
// loop first replays events missed since the stored cursor, then consumes
// live events. ctx supplies values only; cancel it via Stop.
func (r *Runner) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.state != agent.StateStopped {
		return fmt.Errorf("agent %s: %w", r.ag.Name(), domain.ErrAlreadyRunning)
	}
	if err := r.transition(agent.StateStarting); err != nil {
		return err
	}

	r.queue = r.bus.NewQueue()
	for _, pattern := range r.ag.Topics() {
		r.bus.Subscribe(pattern, r.queue)
	}

	base := logger.WithAgent(context.WithoutCancel(ctx), r.ag.Name())
	waitCtx, cancel := context.WithCancel(base)
	r.stop = cancel
	r.done = make(chan struct{})
	r.startedAt = time.Now()
	r.heartbeat()

	if err := r.transition(agent.StateRunning); err != nil {
		cancel()
		return err
	}
	go r.run(base, waitCtx, r.queue, r.done)

	slog.Info("agent started", "agent", r.ag.Name(), "topics", r.ag.Topics())
	return nil
}

// Stop asks the loop to exit, waits for the in-flight event to finish, and
// unsubscribes. It returns ctx.Err() if ctx ends first; the loop still exits
// on its own afterwards.
func (r *Runner) Stop(ctx context.Context) error {
	r.mu.Lock()
	if r.state != agent.StateRunning {
		r.mu.Unlock()
		return fmt.Errorf("agent %s: %w", r.ag.Name(), domain.ErrNotRunning)
	}
	_ = r.transition(agent.StateStopping)
	stop, done, q := r.stop, r.done, r.queue
	r.mu.Unlock()

	stop()
	select {
	case <-done:
	case <-ctx.Done():
		return fmt.Errorf("stop agent %s: %w", r.ag.Name(), ctx.Err())
	}

	for _, pattern := range r.ag.Topics() {
		r.bus.Unsubscribe(pattern, q)
	}
	q.Close()

	r.mu.Lock()
	_ = r.transition(agent.StateStopped)
	r.mu.Unlock()

	slog.Info("agent stopped", "agent", r.ag.Name(), "processed", r.processed.Load())
	return nil
}

// Pause keeps the runner subscribed but stops it from taking events.
// Events keep queueing while paused.
func (r *Runner) Pause() { r.enabled.Store(false) }

// Resume re-enables event handling.
func (r *Runner) Resume() { r.enabled.Store(true) }

// Enabled reports whether the runner is taking events.
func (r *Runner) Enabled() bool { return r.enabled.Load() }

// LastHeartbeat returns when the loop last completed an iteration.
func (r *Runner) LastHeartbeat() time.Time {
	return unixNanoTime(r.lastHeartbeat.Load())
}

// Info returns a status snapshot. Healthy is left for the manager to decide.
func (r *Runner) Info() agent.Info {
	r.mu.Lock()
	state, started := r.state, r.startedAt
	r.mu.Unlock()

	info := agent.Info{
		Name:          r.ag.Name(),
		Topics:        r.ag.Topics(),
		State:         state,
		Enabled:       r.enabled.Load(),
		Processed:     r.processed.Load(),
		Failed:        r.failed.Load(),
		Replayed:      r.replayed.Load(),
		LastEventAt:   unixNanoTime(r.lastEventAt.Load()),
		LastHeartbeat: r.LastHeartbeat(),
	}
	if state != agent.StateStopped {
		info.StartedAt = started
	}
	return info
}

func (r *Runner) heartbeat() {
	r.lastHeartbeat.Store(time.Now().UnixNano())
}

func (r *Runner) run(ctx, waitCtx context.Context, q *Queue, done chan struct{}) {
	defer close(done)

	// Only live copies of replayed events are skipped. Queue order need not
	// follow sequence order, so the moving cursor is not a valid bound.
	replayedThrough := r.replay(ctx, waitCtx)

	for r.waitEnabled(waitCtx) {
		ev, ok := q.Next(waitCtx, r.cfg.PollTimeout)
		if !ok || r.isOwnCompletion(ev) {
			continue
		}

		seq, logged := r.sequenceOf(ctx, ev)
		if logged && seq <= replayedThrough {
			continue
		}
		r.process(ctx, ev, seq)
	}
}

// waitEnabled heartbeats and blocks while the runner is paused. It reports
// false once waitCtx is done.
func (r *Runner) waitEnabled(waitCtx context.Context) bool {
	for {
		r.heartbeat()
		if waitCtx.Err() != nil {
			return false
		}
		if r.enabled.Load() {
			return true
		}
		select {
		case <-waitCtx.Done():
		case <-time.After(r.cfg.PollTimeout):
		}
	}
}

// replay feeds events logged after the agent's cursor through the normal
// handling path, page by page, and returns the cursor it reached. Events that
// do not match the agent's patterns only advance the cursor. Pausing holds
// replay as it holds the live loop.
func (r *Runner) replay(ctx, waitCtx context.Context) int64 {
	if r.log == nil {
		return 0
	}
	name := r.ag.Name()
	r.lastSeq = r.log.ReplayState(ctx, name).LastProcessedSequence
	topics := r.ag.Topics()

	for waitCtx.Err() == nil {
		page := r.log.MissedEvents(ctx, name, r.cfg.ReplayLimit)
		if len(page) == 0 {
			return r.lastSeq
		}

		var skipped event.Event
		fresh := 0
		for _, ev := range page {
			if ev.Sequence <= r.lastSeq {
				continue
			}
			fresh++
			if !event.MatchesAny(topics, ev.Topic) || r.isOwnCompletion(ev) {
				skipped = ev
				continue
			}
			if !r.waitEnabled(waitCtx) {
				break
			}
			r.replayed.Add(1)
			r.process(ctx, ev, ev.Sequence)
		}
		if skipped.Sequence > r.lastSeq {
			r.log.UpdateReplayState(ctx, name, skipped.Sequence, skipped.Timestamp)
			r.lastSeq = skipped.Sequence
		}

		// A page with nothing past the in-memory cursor means the stored
		// cursor is not advancing; stop rather than re-read it forever.
		if fresh == 0 || len(page) < r.cfg.ReplayLimit {
			if r.replayed.Load() > 0 {
				slog.InfoContext(ctx, "agent replay complete", "replayed", r.replayed.Load(), "cursor", r.lastSeq)
			}
			return r.lastSeq
		}
	}
	return r.lastSeq
}

func (r *Runner) isOwnCompletion(ev event.Event) bool {
	name, ok := event.CompletedAgent(ev.Topic)
	return ok && name == r.ag.Name()
}

func (r *Runner) sequenceOf(ctx context.Context, ev event.Event) (int64, bool) {
	if ev.Sequence > 0 {
		return ev.Sequence, true
	}
	if r.log == nil {
		return 0, false
	}
	return r.log.SequenceOf(ctx, ev.ID)
}

// process runs the handler for one event, publishes the completion event,
// and advances the cursor when the event's sequence is known.
func (r *Runner) process(ctx context.Context, ev event.Event, seq int64) {
	ctx = logger.WithEventID(ctx, ev.ID)
	name := r.ag.Name()

	start := time.Now()
	res := r.invoke(ctx, ev)
	res.Duration = time.Since(start)
	res.Agent = name
	res.EventID = ev.ID
	res.Topic = ev.Topic

	r.processed.Add(1)
	r.lastEventAt.Store(time.Now().UnixNano())
	if !res.Success {
		r.failed.Add(1)
		slog.WarnContext(ctx, "agent handler failed", "topic", ev.Topic, "error", res.Error)
	}

	r.mu.Lock()
	mon := r.monitor
	r.mu.Unlock()
	if mon != nil {
		mon.Record(name, res.Duration, res.Success)
	}

	completed, err := event.New(event.CompletedTopic(name), res)
	if err != nil {
		slog.ErrorContext(ctx, "encode completion event", "error", err)
	} else {
		r.bus.Publish(completed.WithSource(name).WithPriority(ev.Priority))
	}

	if r.log == nil {
		return
	}
	if seq == 0 {
		seq, _ = r.log.SequenceOf(ctx, ev.ID)
	}
	if seq > r.lastSeq {
		r.log.UpdateReplayState(ctx, name, seq, ev.Timestamp)
		r.lastSeq = seq
	}
}

// invoke calls the handler, turning errors, panics, and nil results into a
// failed Result.
func (r *Runner) invoke(ctx context.Context, ev event.Event) (res *agent.Result) {
	defer func() {
		if p := recover(); p != nil {
			slog.ErrorContext(ctx, "agent handler panicked", "panic", p, "stack", string(debug.Stack()))
			res = agent.Failed(fmt.Errorf("panic: %v", p))
		}
	}()

	out, err := r.ag.Handle(ctx, ev)
	switch {
	case err != nil:
		return agent.Failed(err)
	case out == nil:
		return &agent.Result{Success: true}
	}
	return out
}

func unixNanoTime(n int64) time.Time {
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n)
}
