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

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealth)
		r.Get("/metrics", s.handleMetrics)

		// Drone-facing provisioning endpoints
		r.Route("/drones/registration", func(r chi.Router) {
			r.Use(s.intakeRateLimit())
			r.Post("/", s.handleSubmitRegistration)
			r.Get("/{id}/status", s.handleRegistrationStatus)
		})

		r.Route("/drones", func(r chi.Router) {
			r.Get("/", s.handleListDrones)

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", s.handleGetDrone)
				r.Post("/commands", s.handleSendCommand)
				r.Post("/rtl", s.handleReturnToLaunch)
				r.Post("/land", s.handleLand)
				r.Post("/takeoff", s.handleTakeoff)
				r.Post("/goto", s.handleGoto)
			})
		})

		r.Route("/admin/registrations", func(r chi.Router) {
			r.Get("/", s.handleListRegistrations)
			r.Post("/{id}/action", s.handleAdminAction)
		})

		r.Post("/system/selftest", s.handleRunSelfTest)
		r.Get("/audit", s.handleListAuditLogs)

		r.Get(s.wsPath(), s.handleWebSocket)
	})

	return r
}

// wsPath returns the configured WebSocket path under /api/v1.
func (s *Server) wsPath() string {
	if s.wsCfg.Path == "" {
		return "/ws"
	}
	return s.wsCfg.Path
}
