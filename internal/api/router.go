package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/gray-logic-lightlink/internal/auth"
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
		// Health check (no auth required)
		r.Get("/health", s.handleHealth)

		// WebSocket (auth via ticket, validated in handler)
		r.Get("/ws", s.handleWebSocket)

		// Protected routes
		r.Group(func(r chi.Router) {
			r.Use(s.authMiddleware)

			r.Get("/auth/whoami", s.handleWhoAmI)
			r.With(s.requirePermission(auth.PermStreamWatch)).Post("/auth/ws-ticket", s.handleWSTicket)

			r.Group(func(r chi.Router) {
				r.Use(s.requirePermission(auth.PermStatusRead))
				r.Get("/status", s.handleStatus)
				r.Get("/metrics", s.handleMetrics)
			})

			r.Route("/connection", func(r chi.Router) {
				r.With(s.requirePermission(auth.PermStatusRead)).Get("/events", s.handleConnectionEvents)

				r.Group(func(r chi.Router) {
					r.Use(s.requirePermission(auth.PermConnectionManage))
					r.Post("/connect", s.handleConnect)
					r.Post("/disconnect", s.handleDisconnect)
					r.Post("/reconnect", s.handleReconnect)
					r.Post("/check", s.handleCheck)
					r.Put("/broker", s.handleReconfigure)
				})
			})

			r.Route("/subscriptions", func(r chi.Router) {
				r.With(s.requirePermission(auth.PermSubscriptionRead)).Get("/", s.handleListSubscriptions)
				r.With(s.requirePermission(auth.PermSubscriptionEdit)).Post("/", s.handleSubscribe)
				r.With(s.requirePermission(auth.PermSubscriptionEdit)).Delete("/", s.handleUnsubscribe)
			})

			r.With(s.requirePermission(auth.PermMessagePublish)).Post("/publish", s.handlePublish)

			r.With(s.requirePermission(auth.PermValuesRead)).Get("/values", s.handleValues)
			r.With(s.requirePermission(auth.PermAuditRead)).Get("/audit", s.handleListAudit)
		})
	})

	return r
}

// handleHealth returns the server health status.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":     "ok",
		"version":    s.version,
		"connection": s.conn.StatusText(),
	})
}
