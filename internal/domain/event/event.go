// Package event defines the immutable Event envelope carried by the bus and
// stored in the durable event log.
package event

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// DefaultSource is used when a publisher does not tag its events.
const DefaultSource = "unknown"

// Well-known topics published by collectors and the runtime.
const (
	TopicFileModified  = "file:modified"
	TopicFileCreated   = "file:created"
	TopicFileDeleted   = "file:deleted"
	TopicGitCommit     = "git:commit"
	TopicCIStatus      = "ci:status"
	TopicEditorFocus   = "editor:focus"
	TopicWorkflowPhase = "workflow:phase"
	TopicUserRequest   = "user:request"
)

// Priority orders events for delivery. Higher values are delivered first
// from a subscriber queue.
type Priority int

const (
	PriorityLow Priority = iota
	PriorityNormal
	PriorityHigh
	PriorityCritical
)

// NumPriorities is the number of distinct priority levels.
const NumPriorities = int(PriorityCritical) + 1

var priorityNames = [...]string{"low", "normal", "high", "critical"}

func (p Priority) String() string {
	if p < PriorityLow || p > PriorityCritical {
		return fmt.Sprintf("priority(%d)", int(p))
	}
	return priorityNames[p]
}

// Valid reports whether p is one of the defined levels.
func (p Priority) Valid() bool {
	return p >= PriorityLow && p <= PriorityCritical
}

// MarshalText encodes the priority by name.
func (p Priority) MarshalText() ([]byte, error) {
	if !p.Valid() {
		return nil, fmt.Errorf("invalid priority %d", int(p))
	}
	return []byte(p.String()), nil
}

// UnmarshalText accepts a priority name (case-insensitive).
func (p *Priority) UnmarshalText(b []byte) error {
	s := strings.ToLower(string(b))
	for i, name := range priorityNames {
		if name == s {
			*p = Priority(i)
			return nil
		}
	}
	return fmt.Errorf("unknown priority %q", string(b))
}

// Event is a single immutable record on the bus. Sequence is zero until the
// event log has durably stored it.
type Event struct {
	ID        string          `json:"id"`
	Topic     string          `json:"topic"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
	Source    string          `json:"source"`
	Priority  Priority        `json:"priority"`
	Sequence  int64           `json:"sequence,omitempty"`
}

// New builds a normal-priority event with a fresh ID and the current time.
// payload may be nil, a json.RawMessage, or any JSON-serializable value.
func New(topic string, payload any) (Event, error) {
	raw, err := encodePayload(payload)
	if err != nil {
		return Event{}, fmt.Errorf("encode %s payload: %w", topic, err)
	}
	return Event{
		ID:        uuid.NewString(),
		Topic:     topic,
		Payload:   raw,
		Timestamp: time.Now().UTC(),
		Source:    DefaultSource,
		Priority:  PriorityNormal,
	}, nil
}

// MustNew is New for payloads that cannot fail to encode (maps of strings,
// plain structs). It panics on encoding errors.
func MustNew(topic string, payload any) Event {
	ev, err := New(topic, payload)
	if err != nil {
		panic(err)
	}
	return ev
}

// WithSource returns a copy of e tagged with source.
func (e Event) WithSource(source string) Event {
	if source == "" {
		source = DefaultSource
	}
	e.Source = source
	return e
}

// WithPriority returns a copy of e with priority p.
func (e Event) WithPriority(p Priority) Event {
	e.Priority = p
	return e
}

// Decode unmarshals the payload into v.
func (e Event) Decode(v any) error {
	if len(e.Payload) == 0 {
		return fmt.Errorf("event %s (%s) has no payload", e.ID, e.Topic)
	}
	if err := json.Unmarshal(e.Payload, v); err != nil {
		return fmt.Errorf("decode %s payload: %w", e.Topic, err)
	}
	return nil
}

func encodePayload(payload any) (json.RawMessage, error) {
	switch p := payload.(type) {
	case nil:
		return nil, nil
	case json.RawMessage:
		return p, nil
	case []byte:
		if !json.Valid(p) {
			return nil, fmt.Errorf("payload is not valid JSON")
		}
		return json.RawMessage(p), nil
	default:
		return json.Marshal(p)
	}
}

// CompletedTopic returns the topic a runner publishes after handling an event.
func CompletedTopic(agentName string) string {
	return "agent:" + agentName + ":completed"
}

// CompletedAgent extracts the agent name from a completion topic.
func CompletedAgent(topic string) (string, bool) {
	rest, ok := strings.CutPrefix(topic, "agent:")
	if !ok {
		return "", false
	}
	name, ok := strings.CutSuffix(rest, ":completed")
	if !ok || name == "" {
		return "", false
	}
	return name, true
}
