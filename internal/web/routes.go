package web

import (
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kozaktomas/presence-hub/internal/auth"
	"github.com/kozaktomas/presence-hub/internal/web/handlers"
	"github.com/kozaktomas/presence-hub/internal/web/middleware"
)

func (s *Server) setupRoutes(deviceAuth auth.Config) {
	// Create handlers
	detectionsHandler := handlers.NewDetectionsHandler(s.engine, s.logger.Named("detections"))
	locationsHandler := handlers.NewLocationsHandler(s.engine)
	streamHandler := handlers.NewStreamHandler(s.engine, s.logger.Named("stream"))

	// Health check and metrics (no auth required)
	s.router.Get("/api/v1/health", handlers.HealthCheck)
	s.router.Handle("/metrics", promhttp.Handler())

	s.router.Route("/api/v1", func(r chi.Router) {
		// Request/response routes
		r.Group(func(r chi.Router) {
			r.Use(chiMiddleware.Timeout(30 * time.Second))

			// Detections from scanners
			r.With(middleware.RequireDevice(deviceAuth)).Post("/detections", detectionsHandler.Create)

			// Location views
			r.Get("/locations/{locationID}/presences", locationsHandler.Presences)
			r.Get("/locations/{locationID}/views", locationsHandler.Views)
		})

		// Live streams
		r.Get("/locations/{locationID}/stream", streamHandler.Events)
		r.Get("/locations/{locationID}/ws", streamHandler.WebSocket)
	})
}
