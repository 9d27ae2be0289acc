// Package api provides the HTTP API server implementation.
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/lead-scanner/internal/logging"
	"github.com/lead-scanner/internal/models"
)

// JobService defines the job operations exposed over HTTP
type JobService interface {
	StartJob(ctx context.Context, sourceURL string, targetLeadCount int) (string, error)
	GetJob(ctx context.Context, id string) (*models.ScrapeJob, error)
	CancelJob(ctx context.Context) error
}

// Server represents the HTTP API server.
type Server struct {
	router     *mux.Router
	httpServer *http.Server
	jobs       JobService
	config     *ServerConfig
}

// ServerConfig holds server configuration.
type ServerConfig struct {
	Host            string
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
	ClientRPS       int // Requests per second per client
	ClientBurst     int
}

// NewServer creates a new API server instance.
func NewServer(config *ServerConfig, jobs JobService) *Server {
	s := &Server{
		router: mux.NewRouter(),
		jobs:   jobs,
		config: config,
	}

	s.setupRouter()

	return s
}

// setupRouter configures the router with middleware and routes
func (s *Server) setupRouter() {
	rateLimiter := NewRateLimiter(s.config.ClientRPS, s.config.ClientBurst)

	// order matters
	s.router.Use(LoggingMiddleware)
	s.router.Use(RecoveryMiddleware)
	s.router.Use(CORSMiddleware)
	s.router.Use(RateLimitMiddleware(rateLimiter))
	s.router.Use(CompressionMiddleware)

	s.setupRoutes()

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%s", s.config.Host, s.config.Port),
		Handler:      s.router,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
		IdleTimeout:  s.config.IdleTimeout,
	}
}

// setupRoutes configures all API routes.
func (s *Server) setupRoutes() {
	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")

	s.registerJobRoutes(s.router)

	// same routes under the path style older clients use
	api := s.router.PathPrefix("/api").Subrouter()
	s.registerJobRoutes(api)
}

func (s *Server) registerJobRoutes(r *mux.Router) {
	// registered before /jobs/{id} so "active" is never taken for an id
	// OPTIONS is matched so CORS preflights reach the middleware
	r.HandleFunc("/jobs/active", s.handleCancelJob).Methods("DELETE", "OPTIONS")
	r.HandleFunc("/jobs", s.handleStartJob).Methods("POST", "OPTIONS")
	r.HandleFunc("/jobs/{id}", s.handleGetJob).Methods("GET", "OPTIONS")
}

// Handler returns the routed handler with middleware applied
func (s *Server) Handler() http.Handler {
	return s.router
}

// handleHealth handles health check requests.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{
		"status":  "healthy",
		"service": "lead-scanner",
	})
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	logging.WithField("addr", s.httpServer.Addr).Info("Starting API server")
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	logging.Info("Shutting down API server...")
	return s.httpServer.Shutdown(ctx)
}
