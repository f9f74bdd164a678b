package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/laurel-core/internal/auth"
	"github.com/nerrad567/laurel-core/internal/panel"
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

	// Control panel (static assets; the page authenticates its own API calls)
	if s.cfg.Panel.Enabled {
		r.Get("/", func(w http.ResponseWriter, r *http.Request) {
			http.Redirect(w, r, "/panel/", http.StatusFound)
		})
		r.Handle("/panel/*", http.StripPrefix("/panel", panel.Handler(s.cfg.Panel.Dir)))
	}

	r.Route("/api/v1", func(r chi.Router) {
		// Health check (no auth required)
		r.Get("/health", s.handleHealth)

		// WebSocket (auth via ticket, validated in handler)
		r.Get("/ws", s.handleWebSocket)

		r.Group(func(r chi.Router) {
			r.Use(s.authMiddleware)

			r.Post("/auth/ws-ticket", s.handleWSTicket)

			r.With(s.requirePermission(auth.PermDeviceRead)).Get("/metrics", s.handleMetrics)

			r.Route("/meshes", func(r chi.Router) {
				r.With(s.requirePermission(auth.PermDeviceRead)).Get("/", s.handleListMeshes)

				r.Route("/{address}", func(r chi.Router) {
					r.Use(s.requirePermission(auth.PermMeshManage))
					r.Post("/connect", s.handleConnectMesh)
					r.Post("/refresh", s.handleRefreshMesh)
				})
			})

			r.Route("/devices", func(r chi.Router) {
				r.With(s.requirePermission(auth.PermDeviceRead)).Get("/", s.handleListDevices)

				r.Route("/{id}", func(r chi.Router) {
					r.With(s.requirePermission(auth.PermDeviceRead)).Get("/", s.handleGetDevice)
					r.With(s.requirePermission(auth.PermDeviceOperate)).Put("/state", s.handleSetDeviceState)
					r.With(s.requirePermission(auth.PermDeviceOperate)).Post("/refresh", s.handleRefreshDevice)
				})
			})
		})
	})

	return r
}

// handleHealth returns the server health status.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	connected := 0
	meshes := s.network.Meshes()
	for _, m := range meshes {
		if m.IsConnected() {
			connected++
		}
	}

	status := "ok"
	if connected < len(meshes) {
		status = "degraded"
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status":           status,
		"version":          s.version,
		"meshes_total":     len(meshes),
		"meshes_connected": connected,
	})
}
