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

	r.Get("/health", s.handleHealth)
	r.Get("/version", s.handleVersion)
	r.Get(s.cfg.WebSocket.Path, s.handleWebSocket)

	r.Route("/de1", func(r chi.Router) {
		r.Get("/state", s.handleDE1State)
		r.Patch("/state", s.handleRequestDE1State)
		r.Get("/feature_flags", s.handleFeatureFlags)
		r.Patch("/availability", s.handleAvailability)
		r.Route("/control/{mode}", func(r chi.Router) {
			r.Get("/", s.handleGetControlMode)
			r.Patch("/", s.handleSetControlMode)
		})
		r.Route("/profile", func(r chi.Router) {
			r.Put("/", s.handleUploadProfile)
			r.Put("/id", s.handleSelectProfile)
		})
	})

	r.Patch("/scan", s.handleScan)

	r.Get("/logs", s.handleListLogs)
	r.Get("/log/{id}", s.handleGetLog)

	return r
}

// handleHealth returns the server health status.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

// handleVersion returns the three independent semver tags (spec §6
// "/version").
func (s *Server) handleVersion(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.version)
}
