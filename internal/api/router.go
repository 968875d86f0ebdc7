package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/nerrad567/balancer-core/internal/auth"
)

// healthCheckTimeout bounds the dependency probes of GET /api/health.
const healthCheckTimeout = 2 * time.Second

// buildRouter creates the HTTP router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)
	if s.secCfg.Headers.Enabled {
		r.Use(s.securityHeadersMiddleware())
	}
	r.Use(s.corsMiddleware())
	if s.secCfg.RateLimit.Enabled && s.secCfg.RateLimit.RequestsPerMinute > 0 {
		r.Use(s.rateLimitMiddleware())
	}
	r.Use(s.bodySizeLimitMiddleware)

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeNotFound(w, r, "route not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, http.StatusMethodNotAllowed, ErrCodeMethodNotAllow, "method not allowed")
	})

	r.Get("/ping", s.handlePing)
	r.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", s.handleHealth)
		r.Get("/metrics", s.handleMetrics)

		r.Post("/auth/register", s.handleRegister)
		r.Post("/auth/login", s.handleLogin)
		r.Get("/notifications/vapid-public-key", s.handleVAPIDPublicKey)

		// WebSocket authenticates with a ticket, not a bearer token.
		r.Get("/ws", s.handleWebSocket)

		r.Group(func(r chi.Router) {
			r.Use(s.authMiddleware)

			r.Post("/auth/ws-ticket", s.handleWSTicket)

			r.Route("/devices", func(r chi.Router) {
				r.With(s.requireAnyPermission(auth.PermDeviceManage, auth.PermCatalogueRead)).
					Get("/", s.handleListDevices)
				r.With(s.requirePermission(auth.PermCatalogueRead)).
					Get("/by-mqtt-prefix/*", s.handleSystemStateByPrefix)

				r.Group(func(r chi.Router) {
					r.Use(s.requirePermission(auth.PermDeviceManage))
					r.Post("/", s.handleCreateDevice)
					r.Get("/{id}", s.handleGetDevice)
					r.Put("/{id}", s.handleUpdateDevice)
					r.Delete("/{id}", s.handleDeleteDevice)
				})
			})

			r.Route("/settings", func(r chi.Router) {
				r.Use(s.requirePermission(auth.PermSettingsManage))
				r.Get("/", s.handleGetSettings)
				r.Put("/", s.handleUpdateSettings)
			})

			r.Route("/control", func(r chi.Router) {
				r.Group(func(r chi.Router) {
					r.Use(s.requirePermission(auth.PermDeviceOperate))
					r.Post("/plug/{id}/toggle", s.handleToggle)
					r.Get("/plug/{id}/status", s.handleDeviceCommand)
					r.Get("/plug/{id}/online", s.handleDeviceCommand)
					r.Get("/plug/{id}/events", s.handleDeviceCommand)
					r.Get("/all-statuses", s.handleAllStatuses)
					r.Get("/system-stats", s.handleSystemStats)
				})

				r.Route("/internal", func(r chi.Router) {
					r.Use(s.requirePermission(auth.PermCallbackPost))
					r.Post("/device-update", s.handleDeviceUpdate)
					r.Post("/balancer-action", s.handleBalancerAction)
				})
			})

			r.Route("/notifications", func(r chi.Router) {
				r.Use(s.requirePermission(auth.PermPushSubscribe))
				r.Post("/subscribe", s.handleSubscribe)
				r.Post("/unsubscribe", s.handleUnsubscribe)
			})

			r.With(s.requirePermission(auth.PermAuditRead)).
				Get("/audit", s.handleListAuditLogs)
		})
	})

	return r
}

// handlePing is a plain-text liveness probe.
func (s *Server) handlePing(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	//nolint:errcheck // Best-effort write to response
	w.Write([]byte("API Service is up!"))
}

// handleHealth reports the server and its dependencies.
// Optional dependencies that are down degrade the status but keep 200;
// an unreachable database is a 503.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
	defer cancel()

	status, code := "ok", http.StatusOK
	checks := map[string]string{}

	if s.db != nil {
		checks["database"] = "ok"
		if err := s.db.HealthCheck(ctx); err != nil {
			checks["database"] = err.Error()
			status, code = "unavailable", http.StatusServiceUnavailable
		}
	}
	if s.mqtt != nil {
		checks["mqtt"] = "ok"
		if !s.mqtt.IsConnected() {
			checks["mqtt"] = "disconnected"
			if code == http.StatusOK {
				status = "degraded"
			}
		}
	}
	if s.influx != nil {
		checks["influxdb"] = "ok"
		if !s.influx.IsConnected() {
			checks["influxdb"] = "disconnected"
			if code == http.StatusOK {
				status = "degraded"
			}
		}
	}

	writeJSON(w, code, map[string]any{
		"status":  status,
		"version": s.version,
		"checks":  checks,
	})
}
