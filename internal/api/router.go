package api

import (
	"context"
	"net/http"
	"sort"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/nerrad567/gray-logic-zones/internal/audit"
	"github.com/nerrad567/gray-logic-zones/internal/auth"
	"github.com/nerrad567/gray-logic-zones/internal/zone"
)

// healthCheckTimeout bounds each component check of GET /health.
const healthCheckTimeout = 2 * time.Second

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

	r.Route("/api/v1", func(r chi.Router) {
		// Health check and metrics (no auth required)
		r.Get("/health", s.handleHealth)
		r.Handle("/metrics", promhttp.Handler())

		// WebSocket authenticates itself from the query string
		r.Get("/ws", s.handleWebSocket)

		// Protected routes
		r.Group(func(r chi.Router) {
			r.Use(s.authMiddleware)

			r.Get("/system", s.handleSystem)
			r.With(s.requirePermission(auth.PermConfigReload)).Put("/system/log-level", s.handleSetLogLevel)
			r.Post("/auth/ws-ticket", s.handleWSTicket)

			r.Route("/controllers", func(r chi.Router) {
				r.With(s.requirePermission(auth.PermZoneRead)).Get("/", s.handleListControllers)

				r.Route("/{name}", func(r chi.Router) {
					r.With(s.requirePermission(auth.PermZoneRead)).Get("/", s.handleGetController)
					r.With(s.requirePermission(auth.PermZoneRead)).Get("/history", s.handleControllerHistory)
					r.With(s.requirePermission(auth.PermZoneOperate)).Post("/events", s.handlePostEvent)
				})
			})

			r.Route("/enforcers", func(r chi.Router) {
				r.With(s.requirePermission(auth.PermEnforceRead)).Get("/", s.handleListEnforcers)

				r.Route("/{entity}", func(r chi.Router) {
					r.With(s.requirePermission(auth.PermEnforceRead)).Get("/", s.handleGetEnforcer)
					r.With(s.requirePermission(auth.PermEnforceManage)).Post("/command", s.handleEnforcerCommand)
				})
			})

			r.With(s.requirePermission(auth.PermConfigReload)).Post("/reload", s.handleReload)
			r.With(s.requirePermission(auth.PermAuditRead)).Get("/audit", s.handleListAudit)
		})
	})

	return r
}

// handleHealth returns the server health status. Any failing component
// turns the response into a 503.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	names := make([]string, 0, len(s.checks))
	for name := range s.checks {
		names = append(names, name)
	}
	sort.Strings(names)

	status := "ok"
	code := http.StatusOK
	components := make(map[string]string, len(names))
	for _, name := range names {
		ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
		err := s.checks[name].HealthCheck(ctx)
		cancel()

		if err != nil {
			components[name] = err.Error()
			status = "degraded"
			code = http.StatusServiceUnavailable
			continue
		}
		components[name] = "ok"
	}

	writeJSON(w, code, map[string]any{
		"status":      status,
		"version":     s.version,
		"controllers": len(s.zones.Names()),
		"components":  components,
	})
}

// handleReload re-reads the controller file. Definitions that fail are
// listed under "rejected" and the rest is running; an unreadable file is a 422
// and nothing changes.
func (s *Server) handleReload(w http.ResponseWriter, r *http.Request) {
	if s.reload == nil {
		writeUnavailable(w, "reload not configured")
		return
	}

	resp := map[string]any{"status": "reloaded"}
	if err := s.reload(r.Context()); err != nil {
		rejections, partial := zone.Rejections(err)
		if !partial {
			s.logger.Warn("controller reload failed", "error", err)
			s.recordAudit(r, audit.ActionReload, "", audit.OutcomeRejected, map[string]any{"error": err.Error()})
			writeError(w, http.StatusUnprocessableEntity, ErrCodeValidation, err.Error())
			return
		}

		rejected := make(map[string]string, len(rejections))
		for name, rejErr := range rejections {
			rejected[name] = rejErr.Error()
		}
		s.logger.Warn("controller reload applied with rejections", "rejected", len(rejected), "error", err)
		resp["rejected"] = rejected
	}

	var details map[string]any
	if rejected, ok := resp["rejected"]; ok {
		details = map[string]any{"rejected": rejected}
	}
	s.recordAudit(r, audit.ActionReload, "", audit.OutcomeOK, details)
	resp["controllers"] = s.zones.Names()
	writeJSON(w, http.StatusOK, resp)
}
