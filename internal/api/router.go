package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// buildRouter creates the HTTP router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(s.requestIDMiddleware)
	r.Use(s.accessLogMiddleware)
	r.Use(s.recoveryMiddleware)
	r.Use(s.corsMiddleware)
	r.Use(s.commandBodyLimitMiddleware)
	if s.metrics != nil {
		r.Use(s.metrics.Middleware)
	}

	// Prometheus scrape endpoint
	if s.metrics != nil {
		r.Handle("/metrics", s.metrics.Handler())
	}

	// API v1 routes
	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealth)
		r.Get("/status", s.handleStatus)
		r.Get("/metrics", s.handleMetrics)

		// Telemetry
		r.Get("/snapshot", s.handleSnapshot)
		r.Get("/environment", s.handleEnvironment)
		r.Route("/tanks", func(r chi.Router) {
			r.Get("/", s.handleListTanks)
			r.Get("/{id}", s.handleGetTank)
		})

		// Operating mode
		r.Route("/mode", func(r chi.Router) {
			r.Get("/", s.handleGetMode)
			r.Put("/", s.handleSetMode)
			r.Post("/toggle", s.handleToggleMode)
		})

		r.Get("/ws", s.handleWebSocket)
	})

	return r
}

// handleHealth returns the server health status.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"version": s.version,
	})
}
