package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/openrgb-bridge/internal/bridges/openrgb"
)

// buildRouter creates the HTTP router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)
	r.Use(s.corsMiddleware)
	r.Use(s.bodySizeLimitMiddleware)

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeNotFound(w, "route not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, ErrCodeMethodNotAllow, "method not allowed")
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealth)

		r.Route("/lights", func(r chi.Router) {
			r.Get("/", s.handleListLights)
			r.Route("/{key}", func(r chi.Router) {
				r.Get("/", s.handleGetLight)
				r.Post("/turn_on", s.handleTurnOn)
				r.Post("/turn_off", s.handleTurnOff)
			})
		})

		r.Get("/services", s.handleListServices)
		r.Post("/services/{name}", s.handleCallService)

		r.Get("/audit", s.handleListAudit)

		r.Get("/ws", s.handleWebSocket)
	})

	return r
}

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status        openrgb.HealthStatus  `json:"status"`
	Version       string                `json:"version"`
	UptimeSeconds int64                 `json:"uptime_seconds"`
	WSClients     int                   `json:"websocket_clients"`
	Bridge        openrgb.HealthMessage `json:"bridge"`
}

// handleHealth returns the API and bridge health.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	status := s.bridge.Status()
	writeJSON(w, http.StatusOK, HealthResponse{
		Status:        status.Status,
		Version:       s.version,
		UptimeSeconds: int64(time.Since(s.started).Seconds()),
		WSClients:     s.hub.ClientCount(),
		Bridge:        status,
	})
}
