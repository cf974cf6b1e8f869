package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
)

// healthCheckTimeout bounds the dependency checks made by /api/health.
const healthCheckTimeout = 2 * time.Second

// buildRouter creates the HTTP router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)
	r.Use(s.corsMiddleware)
	r.Use(s.bodySizeLimitMiddleware)

	// Prometheus exposition
	if s.metrics != nil {
		r.Handle("/metrics", s.metrics.Handler())
	}

	r.Route("/api", func(r chi.Router) {
		// Health check (no auth required)
		r.Get("/health", s.handleHealth)

		// System metrics (no auth required for basic monitoring)
		r.Get("/metrics", s.handleMetrics)

		// Auth endpoints (no auth required)
		r.Route("/auth", func(r chi.Router) {
			r.Post("/register", s.handleRegister)
			r.Post("/login", s.handleLogin)
			r.Post("/logout", s.handleLogout)
			r.Get("/me", s.handleMe)
		})

		// Protected routes
		r.Group(func(r chi.Router) {
			r.Use(s.sessionMiddleware)

			r.Route("/iot", func(r chi.Router) {
				r.Get("/latest", s.handleLatest)
				r.Get("/history", s.handleHistory)
				r.With(s.rateLimitMiddleware).Post("/publish", s.handlePublish)
				r.With(s.rateLimitMiddleware).Post("/send", s.handleSend)
			})

			r.Route("/chat", func(r chi.Router) {
				r.Get("/messages", s.handleHistory)
				r.With(s.rateLimitMiddleware).Post("/send", s.handleSend)
			})

			r.Get("/audit", s.handleListAudit)
			r.Get("/ws", s.handleWebSocket)
		})
	})

	// Static pages
	if s.site != nil {
		r.Handle("/*", s.site)
	}

	return r
}

// handleHealth returns the server health status.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	body := map[string]any{
		"status":  "ok",
		"version": s.version,
		"mqtt":    s.relay.Connected(),
	}

	if s.database != nil {
		ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
		defer cancel()
		if err := s.database.HealthCheck(ctx); err != nil {
			s.logger.Warn("database health check failed", "error", err)
			body["status"] = "degraded"
			body["database"] = false
			writeJSON(w, http.StatusServiceUnavailable, body)
			return
		}
		body["database"] = true
	}

	writeJSON(w, http.StatusOK, body)
}
