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
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)
	r.Use(s.corsMiddleware)
	r.Use(s.bodySizeLimitMiddleware)

	// API v1 routes
	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealth)

		// Master controller
		r.Route("/master", func(r chi.Router) {
			r.Get("/", s.handleGetMaster)
			r.Post("/commands/{command}", s.handleMasterCommand)
		})

		// Subarray control points
		r.Route("/subarrays", func(r chi.Router) {
			r.Get("/", s.handleListSubarrays)

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", s.handleGetSubarray)
				r.Get("/attributes/{attribute}", s.handleGetSubarrayAttribute)
				r.Post("/commands/{command}", s.handleSubarrayCommand)
			})
		})

		// WebSocket for attribute change notifications
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
