package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// buildRouter mounts everything under /api/v1. Health, metrics and the
// ticket-authenticated WebSocket stay outside the rate limit and bearer
// auth so that monitoring keeps working under load.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()
	r.Use(
		s.requestIDMiddleware,
		s.loggingMiddleware,
		s.recoveryMiddleware,
		s.corsMiddleware,
		s.bodySizeLimitMiddleware,
	)

	r.Route("/api/v1", func(v1 chi.Router) {
		v1.Get("/health", s.handleHealth)
		v1.Get("/metrics", s.handleMetrics)
		v1.Get(s.wsPath(), s.handleWebSocket)

		v1.Group(func(api chi.Router) {
			api.Use(s.rateLimitMiddleware, s.authMiddleware)
			api.Post("/auth/ws-ticket", s.handleWSTicket)
			api.Route("/devices", s.deviceRoutes)
		})
	})
	return r
}

func (s *Server) deviceRoutes(r chi.Router) {
	r.Get("/", s.handleListDevices)
	r.Post("/", s.handleCreateDevice)

	r.Get("/{id}", s.handleGetDevice)
	r.Delete("/{id}", s.handleDeleteDevice)
	r.Get("/{id}/state", s.handleGetDeviceState)
	r.Put("/{id}/state", s.handleSetDeviceState)
	r.Post("/{id}/refresh", s.handleRefreshDevice)
	r.Post("/{id}/anticipate", s.handleAnticipateDevice)
	r.Get("/{id}/history", s.handleGetDeviceHistory)
}

func (s *Server) wsPath() string {
	if s.wsCfg.Path == "" {
		return "/ws"
	}
	return s.wsCfg.Path
}

// handleHealth always answers 200 while the process serves; the body
// carries the bridge assessment and, when supervised, codec daemon stats.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	body := map[string]any{
		"status":  "ok",
		"version": s.version,
		"bridge":  s.bridge.Health(),
	}
	if s.daemon != nil {
		body["codec_daemon"] = s.daemon.Stats()
	}
	writeJSON(w, http.StatusOK, body)
}
