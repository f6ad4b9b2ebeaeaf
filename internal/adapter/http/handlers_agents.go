package http

import (
	"context"
	"net/http"
	"time"

	"github.com/Strob0t/Overwatch/internal/adapter/ws"
	"github.com/Strob0t/Overwatch/internal/domain/agent"
	"github.com/Strob0t/Overwatch/internal/service"
)

// stopTimeout bounds how long a stop request waits for the in-flight event.
const stopTimeout = 30 * time.Second

type agentResponse struct {
	agent.Info
	Stats *service.AgentStats `json:"stats,omitempty"`
}

func (h *Handlers) withStats(info agent.Info) agentResponse {
	resp := agentResponse{Info: info}
	if h.Monitor != nil {
		if s, ok := h.Monitor.Stats(info.Name); ok {
			resp.Stats = &s
		}
	}
	return resp
}

// ListAgents returns every registered agent in registration order.
func (h *Handlers) ListAgents(w http.ResponseWriter, _ *http.Request) {
	infos := h.Agents.Status()
	out := make([]agentResponse, 0, len(infos))
	for _, info := range infos {
		out = append(out, h.withStats(info))
	}
	writeJSON(w, http.StatusOK, out)
}

// GetAgent returns one agent.
func (h *Handlers) GetAgent(w http.ResponseWriter, r *http.Request) {
	info, err := h.Agents.Get(urlParam(r, "name"))
	if err != nil {
		writeDomainError(w, err, "agent not found")
		return
	}
	writeJSON(w, http.StatusOK, h.withStats(info))
}

// StartAgent starts a stopped agent.
func (h *Handlers) StartAgent(w http.ResponseWriter, r *http.Request) {
	h.agentAction(w, r, func(name string) error {
		return h.Agents.Start(r.Context(), name)
	})
}

// StopAgent stops a running agent, waiting for its in-flight event.
func (h *Handlers) StopAgent(w http.ResponseWriter, r *http.Request) {
	h.agentAction(w, r, func(name string) error {
		ctx, cancel := context.WithTimeout(r.Context(), stopTimeout)
		defer cancel()
		return h.Agents.Stop(ctx, name)
	})
}

// PauseAgent keeps an agent subscribed but stops it taking events.
func (h *Handlers) PauseAgent(w http.ResponseWriter, r *http.Request) {
	h.agentAction(w, r, h.Agents.Pause)
}

// ResumeAgent re-enables a paused agent.
func (h *Handlers) ResumeAgent(w http.ResponseWriter, r *http.Request) {
	h.agentAction(w, r, h.Agents.Resume)
}

func (h *Handlers) agentAction(w http.ResponseWriter, r *http.Request, action func(name string) error) {
	name := urlParam(r, "name")
	if err := action(name); err != nil {
		writeDomainError(w, err, "agent not found")
		return
	}
	info, err := h.Agents.Get(name)
	if err != nil {
		writeDomainError(w, err, "agent not found")
		return
	}
	if h.Hub != nil {
		h.Hub.BroadcastEvent(r.Context(), ws.EventAgentStatus, ws.AgentStatusEvent{
			Agent:   info.Name,
			State:   string(info.State),
			Enabled: info.Enabled,
		})
	}
	writeJSON(w, http.StatusOK, h.withStats(info))
}
