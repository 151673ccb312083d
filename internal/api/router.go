package api

import (
	"context"
	"net/http"
	"sort"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// healthCheckTimeout bounds each backend probe on /health.
const healthCheckTimeout = 2 * time.Second

// buildRouter creates the HTTP router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)
	r.Use(s.corsMiddleware)
	r.Use(middleware.RequestSize(maxRequestBodySize))

	// Root routes kept for older device builds.
	r.Get("/", s.handleRoot)
	r.Post("/setcmd", s.handleLegacySetCommand)
	r.Get("/getcmd", s.handleLegacyGetCommand)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealth)
		r.Post("/auth/token", s.handleIssueToken)

		// Device side.
		r.Post("/devices/register", s.handleRegisterDevice)
		r.Get("/poll", s.handlePoll)
		r.Post("/poll", s.handlePoll)
		r.Get("/devices/{id}/flags/{name}", s.handleGetFlag)
		r.Put("/devices/{id}/flags/{name}", s.handleSetFlag)
		r.Route("/telemetry", func(r chi.Router) {
			for _, t := range telemetryRoutes {
				r.Post("/"+t.path, s.handleUpload(t))
				r.Get("/"+t.path, s.handleFetch(t))
			}
		})

		// Devices list does its own auth through the admin query.
		r.Get("/devices", s.handleListDevices)

		// Admin.
		r.Group(func(r chi.Router) {
			r.Use(s.adminAuthMiddleware)

			r.Get("/stats", s.handleStats)
			r.Get("/metrics", s.handleMetrics)
			r.Get("/audit", s.handleListAudit)
			r.Route("/commands", func(r chi.Router) {
				for _, c := range commandRoutes {
					r.Post("/"+c.path, s.handleDispatch(c.kind))
				}
			})
		})

		// Authenticates in the handler so the token can come from the query.
		r.Get("/ws", s.handleWebSocket)
	})

	return r
}

// handleRoot answers the bare liveness probe used by older clients.
func (s *Server) handleRoot(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("Relaybox server running\n")) //nolint:errcheck // Best-effort write
}

// handleHealth returns ok, or 503 with per-backend status when any optional
// backend is failing.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := "ok"
	code := http.StatusOK
	checks := make(map[string]string, len(s.checks))

	names := make([]string, 0, len(s.checks))
	for name := range s.checks {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
		err := s.checks[name].HealthCheck(ctx)
		cancel()
		if err != nil {
			checks[name] = err.Error()
			status = "degraded"
			code = http.StatusServiceUnavailable
			continue
		}
		checks[name] = "ok"
	}

	resp := map[string]any{
		"status":  status,
		"version": s.version,
	}
	if len(checks) > 0 {
		resp["checks"] = checks
	}
	writeJSON(w, code, resp)
}
