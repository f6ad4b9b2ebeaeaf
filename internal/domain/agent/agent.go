// Package agent defines the runner lifecycle and the result contract every
// analysis agent fulfils.
package agent

import (
	"encoding/json"
	"fmt"
	"time"
)

// State is a runner's lifecycle position.
type State string

const (
	StateStopped  State = "stopped"
	StateStarting State = "starting"
	StateRunning  State = "running"
	StateStopping State = "stopping"
)

// transitions lists the allowed moves of the runner state machine.
var transitions = map[State][]State{
	StateStopped:  {StateStarting},
	StateStarting: {StateRunning, StateStopped},
	StateRunning:  {StateStopping},
	StateStopping: {StateStopped},
}

// CanTransition reports whether a runner may move from one state to another.
func CanTransition(from, to State) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Result is what a handler returns for one event. Data carries agent-specific
// output such as a list of findings.
type Result struct {
	Agent    string          `json:"agent"`
	EventID  string          `json:"event_id"`
	Topic    string          `json:"topic"`
	Success  bool            `json:"success"`
	Duration time.Duration   `json:"duration_ns"`
	Message  string          `json:"message,omitempty"`
	Data     json.RawMessage `json:"data,omitempty"`
	Error    string          `json:"error,omitempty"`
}

// Failed builds an unsuccessful result from an error.
func Failed(err error) *Result {
	return &Result{Success: false, Message: "handler failed", Error: err.Error()}
}

// WithData returns a copy of r carrying v encoded as JSON.
func (r Result) WithData(v any) (Result, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return r, fmt.Errorf("encode result data: %w", err)
	}
	r.Data = data
	return r, nil
}

// Info is a point-in-time snapshot of a runner for status reporting.
type Info struct {
	Name          string    `json:"name"`
	Topics        []string  `json:"topics"`
	State         State     `json:"state"`
	Enabled       bool      `json:"enabled"`
	Healthy       bool      `json:"healthy"`
	Processed     int64     `json:"processed"`
	Failed        int64     `json:"failed"`
	Replayed      int64     `json:"replayed"`
	LastEventAt   time.Time `json:"last_event_at,omitzero"`
	LastHeartbeat time.Time `json:"last_heartbeat,omitzero"`
	StartedAt     time.Time `json:"started_at,omitzero"`
}
