package web

import (
	"github.com/go-chi/chi/v5"

	"github.com/kozaktomas/eigenfaces/internal/web/handlers"
)

func (s *Server) setupRoutes() {
	runsHandler := handlers.NewRunsHandler(s.config, s.gallery, s.metrics)

	// Health check
	s.router.Get("/api/v1/health", handlers.HealthCheck)

	// Prometheus scrape endpoint
	s.router.Handle("/metrics", s.metrics.Handler())

	s.router.Route("/api/v1", func(r chi.Router) {
		// Runs
		r.Get("/runs", runsHandler.List)
		r.Get("/runs/{id}", runsHandler.Get)
		r.Get("/runs/{id}/matches", runsHandler.Matches)
		r.Post("/runs/{id}/identify", runsHandler.Identify)
	})
}
