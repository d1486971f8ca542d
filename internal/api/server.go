// Package api serves the admin HTTP API: signal submission, alert triage,
// blacklist management and the detection threshold.
package api

import (
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/abiolaogu/VoxGuard-sub001/internal/domain"
)

// Server represents the HTTP API server.
type Server struct {
	router  *chi.Mux
	handler *Handler
	config  domain.ServerConfig
}

// NewServer wires the routes onto handler.
func NewServer(cfg domain.ServerConfig, handler *Handler) *Server {
	router := chi.NewRouter()

	router.Use(RecoverMiddleware)
	router.Use(TracingMiddleware)
	router.Use(LoggingMiddleware)
	router.Use(middleware.RealIP)
	router.Use(middleware.Compress(5))

	router.Get("/health", handler.Health)
	router.Get("/ready", handler.Ready)
	router.Handle("/metrics", promhttp.Handler())

	router.Post("/signals", handler.SubmitSignal)
	router.Get("/stats", handler.Stats)

	router.Route("/alerts", func(r chi.Router) {
		r.Get("/", handler.ListAlerts)
		r.Get("/{id}", handler.GetAlert)
		r.Post("/{id}/acknowledge", handler.AcknowledgeAlert)
		r.Post("/{id}/resolve", handler.ResolveAlert)
	})
	router.Post("/reports", handler.SubmitReport)

	router.Route("/blacklist", func(r chi.Router) {
		r.Post("/", handler.AddBlacklist)
		r.Post("/cleanup", handler.CleanupBlacklist)
		r.Get("/{value}", handler.GetBlacklist)
		r.Delete("/{id}", handler.DeleteBlacklist)
	})

	router.Get("/threshold", handler.GetThreshold)
	router.Put("/threshold", handler.UpdateThreshold)

	return &Server{router: router, handler: handler, config: cfg}
}

// HTTPServer builds the *http.Server for the configured address.
func (s *Server) HTTPServer() *http.Server {
	return &http.Server{
		Addr:         fmt.Sprintf("%s:%d", s.config.Host, s.config.Port),
		Handler:      s.router,
		ReadTimeout:  time.Duration(s.config.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(s.config.WriteTimeout) * time.Second,
		IdleTimeout:  120 * time.Second,
	}
}

// Router returns the Chi router for testing.
func (s *Server) Router() *chi.Mux {
	return s.router
}
