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
	r.Use(s.rateLimitMiddleware)
	r.Use(s.bodySizeLimitMiddleware)

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeNotFound(w, "route not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, ErrCodeMethodNotAllow, "method not allowed")
	})

	r.Route("/api/v1", func(r chi.Router) {
		// Health check (no auth required)
		r.Get("/health", s.handleHealth)

		// Auth endpoints (no auth required)
		r.Post("/auth/login", s.handleLogin)

		// System metrics (no auth required for basic monitoring)
		r.Get("/metrics", s.handleMetrics)

		// WebSocket (auth via token or ticket, validated in handler)
		r.Get("/ws", s.handleWebSocket)

		// Protected routes
		r.Group(func(r chi.Router) {
			r.Use(s.authMiddleware)

			r.Post("/auth/ws-ticket", s.handleWSTicket)

			r.Route("/logcat", func(r chi.Router) {
				r.Get("/", s.handleListLogcat)
				r.Route("/{device}", func(r chi.Router) {
					r.Get("/", s.handleLogcatStatus)
					r.Post("/start", s.handleStartLogcat)
					r.Post("/stop", s.handleStopLogcat)
					r.Get("/output", s.handleLogcatOutput)
				})
			})

			r.Route("/runs", func(r chi.Router) {
				r.Get("/", s.handleListRuns)
				r.Post("/", s.handleStartRun)
				r.Route("/{id}", func(r chi.Router) {
					r.Get("/", s.handleRunStatus)
					r.Post("/stop", s.handleStopRun)
					r.Get("/output", s.handleRunOutput)
				})
			})

			r.Route("/services", func(r chi.Router) {
				r.Get("/", s.handleListServices)
				r.Route("/{name}", func(r chi.Router) {
					r.Get("/", s.handleServiceStatus)
					r.Post("/start", s.handleStartService)
					r.Post("/stop", s.handleStopService)
					r.Get("/output", s.handleServiceOutput)
				})
			})

			r.Route("/history", func(r chi.Router) {
				r.Get("/runs", s.handleListHistoryRuns)
				r.Get("/runs/{id}", s.handleGetHistoryRun)
				r.Get("/events/{registry}/{key}", s.handleListUnitEvents)
			})
		})
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
