package http

import (
	"net/http"

	"github.com/Strob0t/Overwatch/internal/adapter/ws"
	"github.com/Strob0t/Overwatch/internal/resilience"
	"github.com/Strob0t/Overwatch/internal/service"
)

// Handlers holds the services behind the HTTP API. Hub may be nil.
type Handlers struct {
	Bus      *service.EventBus
	EventLog *service.EventLog
	Context  *service.ContextStore
	Reader   *service.ContextReader
	Agents   *service.Manager
	Monitor  *service.PerformanceMonitor
	Hub      *ws.Hub
}

type healthResponse struct {
	Status          string           `json:"status"`
	EventLog        string           `json:"event_log"`
	UnhealthyAgents []string         `json:"unhealthy_agents"`
	Bus             service.BusStats `json:"bus"`
	WSClients       int              `json:"ws_clients"`
}

// Health reports "degraded" while the event log breaker is not closed or a
// running agent has a stale heartbeat. It always answers 200 so probes can
// read the body.
func (h *Handlers) Health(w http.ResponseWriter, _ *http.Request) {
	resp := healthResponse{
		Status:          "ok",
		EventLog:        h.EventLog.BreakerState(),
		UnhealthyAgents: h.Agents.Unhealthy(),
		Bus:             h.Bus.Stats(),
	}
	if resp.UnhealthyAgents == nil {
		resp.UnhealthyAgents = []string{}
	}
	if resp.EventLog != resilience.StateClosed.String() || len(resp.UnhealthyAgents) > 0 {
		resp.Status = "degraded"
	}
	if h.Hub != nil {
		resp.WSClients = h.Hub.ConnectionCount()
	}
	writeJSON(w, http.StatusOK, resp)
}
