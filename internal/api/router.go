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
	r.Use(s.bodySizeLimitMiddleware)

	// Device WebSocket channel. Devices authenticate with registration tokens
	// inside the channel, not with operator JWTs, so this sits outside the
	// auth middleware.
	if s.channel != nil && s.channelPath != "" {
		r.Get(s.channelPath, s.channel.ServeHTTP)
	}

	// API v1 routes
	r.Route("/api/v1", func(r chi.Router) {
		// Health check (no auth required)
		r.Get("/health", s.handleHealth)

		// Operator token exchange (no auth required)
		r.Post("/auth/token", s.handleAuthToken)

		// Protected routes
		r.Group(func(r chi.Router) {
			r.Use(s.authMiddleware)

			r.Route("/devices", func(r chi.Router) {
				r.Get("/", s.handleListDevices)

				r.Route("/{id}", func(r chi.Router) {
					r.Get("/", s.handleGetDevice)
					r.Patch("/", s.handleUpdateDevice)
					r.Delete("/", s.handleDeleteDevice)
					r.Post("/commands", s.handleDispatchCommand)
					r.Put("/config", s.handleAssignConfig)
				})
			})

			r.Route("/tokens", func(r chi.Router) {
				r.Get("/", s.handleListTokens)
				r.Post("/", s.handleCreateToken)
				r.Delete("/{id}", s.handleDeleteToken)
			})
		})
	})

	return r
}

// handleHealth returns the server health status.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"version":   s.version,
		"connected": s.index.Len(),
	})
}
