package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/lw2bacnet/bridge/internal/bridges/lorawan"
)

// buildRouter creates the HTTP router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)
	r.Use(s.bodySizeLimitMiddleware)

	r.Route("/api/v1", func(r chi.Router) {
		// Read-only endpoints
		r.Get("/health", s.handleHealth)
		r.Get("/metrics", s.handleMetrics)
		r.Get("/devices", s.handleListDevices)

		r.Route("/datapoints", func(r chi.Router) {
			r.Get("/", s.handleListDatapoints)
			r.Get("/{id}/history", s.handleDatapointHistory)
		})

		r.Route("/objects", func(r chi.Router) {
			r.Get("/", s.handleListObjects)
			r.Get("/{id}", s.handleGetObject)

			r.Group(func(r chi.Router) {
				r.Use(s.authMiddleware)
				r.Post("/reload", s.handleReload)
				r.Post("/{id}/write", s.handleWriteObject)
			})
		})

		r.With(s.authMiddleware).Post("/auth/ws-ticket", s.handleWSTicket)

		// WebSocket (ticket validated in handler when auth is on)
		r.Get("/ws", s.handleWebSocket)
	})

	return r
}

// handleHealth returns the bridge health status.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	resp := map[string]any{
		"status":  "ok",
		"version": s.version,
	}
	if s.health != nil {
		snap := s.health.Snapshot()
		resp["bridge"] = snap
		if snap.Status != lorawan.HealthHealthy {
			resp["status"] = string(snap.Status)
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

// uptime returns seconds since the server was created.
func (s *Server) uptime() int64 {
	return int64(time.Since(s.startTime).Seconds())
}
