package http

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/Strob0t/Overwatch/internal/domain/event"
)

const (
	maxQueryLimit   = 1000
	defaultRecentN  = 20
	maxTopicLength  = 256
	maxSourceLength = 128
)

type ingestRequest struct {
	Topic    string          `json:"topic"`
	Payload  json.RawMessage `json:"payload,omitempty"`
	Source   string          `json:"source,omitempty"`
	Priority *event.Priority `json:"priority,omitempty"`
}

type ingestResponse struct {
	ID        string `json:"id"`
	Delivered int    `json:"delivered"`
}

// PublishEvent accepts an event from an out-of-process collector and
// publishes it on the bus.
func (h *Handlers) PublishEvent(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[ingestRequest](w, r)
	if !ok {
		return
	}
	if msg := validateIngest(&req); msg != "" {
		writeError(w, http.StatusBadRequest, msg)
		return
	}

	var payload any
	if len(req.Payload) > 0 {
		payload = req.Payload
	}
	ev, err := event.New(req.Topic, payload)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	ev = ev.WithSource(req.Source)
	if req.Priority != nil {
		ev = ev.WithPriority(*req.Priority)
	}

	n := h.Bus.Publish(ev)
	writeJSON(w, http.StatusAccepted, ingestResponse{ID: ev.ID, Delivered: n})
}

func validateIngest(req *ingestRequest) string {
	switch {
	case req.Topic == "":
		return "topic is required"
	case len(req.Topic) > maxTopicLength:
		return "topic too long"
	case strings.Contains(req.Topic, "*"):
		return "topic must not contain wildcards"
	case len(req.Source) > maxSourceLength:
		return "source too long"
	}
	if _, ok := event.CompletedAgent(req.Topic); ok {
		return "agent completion topics are reserved"
	}
	return ""
}

// ListEvents queries the durable log, newest first.
func (h *Handlers) ListEvents(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := event.QueryFilter{
		Topic:  q.Get("topic"),
		Source: q.Get("source"),
	}
	if raw := q.Get("since"); raw != "" {
		since, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "since must be an RFC 3339 timestamp")
			return
		}
		filter.Since = &since
	}
	var ok bool
	if filter.Limit, ok = queryInt(w, r, "limit", event.DefaultQueryLimit); !ok {
		return
	}
	if filter.Offset, ok = queryInt(w, r, "offset", 0); !ok {
		return
	}
	filter.Limit = min(filter.Limit, maxQueryLimit)

	writeJSON(w, http.StatusOK, h.EventLog.Query(r.Context(), filter.Normalize()))
}

// RecentEvents returns the bus debug ring, oldest first.
func (h *Handlers) RecentEvents(w http.ResponseWriter, r *http.Request) {
	n, ok := queryInt(w, r, "n", defaultRecentN)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, h.Bus.Recent(n))
}

type gapsResponse struct {
	Gaps  []event.Gap      `json:"gaps"`
	Sizes map[string]int64 `json:"sizes"`
}

// ListGaps reports missing sequence ranges in the log.
func (h *Handlers) ListGaps(w http.ResponseWriter, r *http.Request) {
	gaps := h.EventLog.DetectGaps(r.Context())
	writeJSON(w, http.StatusOK, gapsResponse{Gaps: gaps, Sizes: event.GapSizes(gaps)})
}

// ListReplayStates returns every agent cursor.
func (h *Handlers) ListReplayStates(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.EventLog.ListReplayStates(r.Context()))
}

type replayResponse struct {
	State  event.ReplayState `json:"state"`
	Missed []event.Event     `json:"missed"`
}

// GetReplayState returns one agent's cursor and the events past it.
func (h *Handlers) GetReplayState(w http.ResponseWriter, r *http.Request) {
	name := urlParam(r, "agent")
	limit, ok := queryInt(w, r, "limit", event.DefaultQueryLimit)
	if !ok {
		return
	}
	limit = min(max(limit, 1), maxQueryLimit)
	writeJSON(w, http.StatusOK, replayResponse{
		State:  h.EventLog.ReplayState(r.Context(), name),
		Missed: h.EventLog.MissedEvents(r.Context(), name, limit),
	})
}
