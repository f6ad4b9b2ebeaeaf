package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/Strob0t/Overwatch/internal/middleware"
)

// MountRoutes registers all API routes on the given chi router. ingest may
// be nil to leave event ingestion unthrottled.
func MountRoutes(r chi.Router, h *Handlers, ingest *middleware.RateLimiter) {
	r.Get("/health", h.Health)
	if h.Hub != nil {
		r.Get("/ws", h.Hub.HandleWS)
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/", func(w http.ResponseWriter, _ *http.Request) {
			writeJSON(w, http.StatusOK, map[string]string{"service": "overwatch", "api": "v1"})
		})

		// Aggregated context
		r.Get("/context", h.GetContextIndex)
		r.Get("/context/findings", h.ListFindings)
		r.Delete("/context/findings", h.ClearFindings)
		r.Get("/context/{tier}", h.GetContextTier)

		// Event log
		r.Group(func(r chi.Router) {
			if ingest != nil {
				r.Use(ingest.Handler)
			}
			r.Post("/events", h.PublishEvent)
		})
		r.Get("/events", h.ListEvents)
		r.Get("/events/recent", h.RecentEvents)
		r.Get("/events/gaps", h.ListGaps)
		r.Get("/replay", h.ListReplayStates)
		r.Get("/replay/{agent}", h.GetReplayState)

		// Agents
		r.Get("/agents", h.ListAgents)
		r.Get("/agents/{name}", h.GetAgent)
		r.Post("/agents/{name}/start", h.StartAgent)
		r.Post("/agents/{name}/stop", h.StopAgent)
		r.Post("/agents/{name}/pause", h.PauseAgent)
		r.Post("/agents/{name}/resume", h.ResumeAgent)
	})
}
