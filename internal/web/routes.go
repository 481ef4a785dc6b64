package web

import (
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/kozaktomas/face-search/internal/web/handlers"
)

func (s *Server) setupRoutes() {
	statsHandler := handlers.NewStatsHandler(s.engine, s.jobManager)
	facesHandler := handlers.NewFacesHandler(s.engine, statsHandler, s.logger)
	queriesHandler := handlers.NewQueriesHandler(s.engine, s.extractor, s.jobManager, s.config.Query, s.logger)

	s.router.Get("/api/v1/health", handlers.HealthCheck)

	s.router.Route("/api/v1", func(r chi.Router) {
		// Request/response endpoints get a deadline; the event stream does not.
		r.Group(func(r chi.Router) {
			r.Use(chiMiddleware.Timeout(5 * time.Minute))

			r.Get("/stats", statsHandler.Get)

			r.Post("/faces", facesHandler.Index)
			r.Delete("/owners/{owner}", facesHandler.RemoveOwner)

			r.Post("/queries", queriesHandler.Create)
			r.Get("/queries/{queryId}", queriesHandler.Status)
			r.Delete("/queries/{queryId}", queriesHandler.Cancel)
		})

		r.Get("/queries/{queryId}/events", queriesHandler.Events)
	})
}
