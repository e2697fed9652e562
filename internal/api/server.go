package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// Server represents the HTTP API server.
type Server struct {
	router  *chi.Mux
	handler *Handler
	server  *http.Server
	config  domain.ServerConfig
}

// NewServer creates a new API server. gatherer backs /metrics; nil falls
// back to the default Prometheus registry.
func NewServer(cfg domain.ServerConfig, deps Deps, gatherer prometheus.Gatherer, version string) *Server {
	handler := NewHandler(deps, version)
	router := chi.NewRouter()

	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}

	// Global middleware stack
	router.Use(CORSMiddleware)         // CORS for browser clients
	router.Use(RecoverMiddleware)      // Recover from panics
	router.Use(RequestIDMiddleware)    // Request and fallback trace IDs
	if deps.Tracing.Enabled {
		router.Use(TracingMiddleware(deps.Tracing.ServiceName))
	}
	router.Use(LoggingMiddleware)      // Request logging
	router.Use(middleware.RealIP)      // Extract real IP
	router.Use(middleware.Compress(5)) // Gzip compression

	// Operational endpoints (no tenant required)
	router.Get("/health", handler.Health)
	router.Get("/ready", handler.Ready)
	router.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	// API routes (tenant required)
	router.Group(func(r chi.Router) {
		r.Use(TenantMiddleware)

		// Stateless checks
		r.Post("/compliance/validate", handler.ValidateCOI)
		r.Get("/requirements", handler.GetRequirements)
		r.Post("/trade-coverage", handler.TradeCoverage)
		r.Post("/trade-restrictions", handler.TradeRestrictions)
		r.Post("/trade-changes", handler.TradeChanges)

		// Projects and subcontractors
		r.Get("/projects", handler.ListProjects)
		r.Post("/projects", handler.CreateProject)
		r.Get("/projects/{id}", handler.GetProject)
		r.Put("/projects/{id}", handler.UpdateProject)
		r.Delete("/projects/{id}", handler.DeleteProject)
		r.Get("/projects/{id}/subcontractors", handler.ListProjectSubcontractors)
		r.Get("/subcontractors", handler.ListSubcontractors)
		r.Post("/subcontractors", handler.CreateSubcontractor)
		r.Get("/subcontractors/{id}", handler.GetSubcontractor)
		r.Put("/subcontractors/{id}", handler.UpdateSubcontractor)
		r.Delete("/subcontractors/{id}", handler.DeleteSubcontractor)

		// Certificates
		r.Get("/cois", handler.ListCOIs)
		r.Post("/cois", handler.SubmitCOI)
		r.Get("/cois/expiring", handler.ListExpiring)
		r.Post("/cois/expiring/notify", handler.NotifyExpiring)
		r.Get("/cois/{id}", handler.GetCOI)
		r.Put("/cois/{id}", handler.UpdateCOI)
		r.Delete("/cois/{id}", handler.DeleteCOI)
		r.Post("/cois/{id}/check", handler.CheckCOI)
		r.Get("/cois/{id}/check", handler.GetLatestCheck)

		// Check retrieval
		r.Get("/checks/{id}", handler.GetCheck)

		// Program rule management
		r.Get("/rules", handler.ListRules)
		r.Get("/rules/{id}", handler.GetRule)
		r.Post("/rules", handler.CreateRule)
		r.Delete("/rules/{id}", handler.DeleteRule)
		r.Post("/rules/reload", handler.ReloadRules)
	})

	return &Server{
		router:  router,
		handler: handler,
		config:  cfg,
	}
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)

	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  time.Duration(s.config.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(s.config.WriteTimeout) * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// Router returns the Chi router for testing.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// Handler returns the handler for testing.
func (s *Server) Handler() *Handler {
	return s.handler
}
