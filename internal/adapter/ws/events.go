package ws

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/Strob0t/Overwatch/internal/domain/event"
)

// Event type constants for WebSocket messages.
const (
	EventContextUpdated = "context.updated"
	EventBusEvent       = "bus.event"
	EventAgentStatus    = "agent.status"
)

// AgentStatusEvent is broadcast when an agent is started, stopped, paused,
// or resumed.
type AgentStatusEvent struct {
	Agent   string `json:"agent"`
	State   string `json:"state"`
	Enabled bool   `json:"enabled"`
}

// BroadcastEvent marshals a typed event and broadcasts it. Bus events are
// only sent to clients whose topic filter matches.
func (h *Hub) BroadcastEvent(ctx context.Context, eventType string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		slog.Error("marshal ws event payload", "type", eventType, "error", err)
		return
	}

	var topic string
	if ev, ok := payload.(event.Event); ok && eventType == EventBusEvent {
		topic = ev.Topic
	}
	h.broadcast(ctx, Message{
		Type:    eventType,
		Payload: json.RawMessage(data),
	}, topic)
}
