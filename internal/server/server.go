// Package server exposes the tracker over HTTP.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	apperrors "github.com/3leaps/batchlens/internal/errors"
	"github.com/3leaps/batchlens/internal/observability"
	"github.com/3leaps/batchlens/internal/server/handlers"
	"github.com/3leaps/batchlens/internal/server/middleware"
)

// Server is the batchlens HTTP server.
type Server struct {
	host   string
	port   int
	router chi.Router
	http   *http.Server

	tracker handlers.Tracker
	version handlers.VersionInfo
	logger  *zap.Logger
	tp      trace.TracerProvider

	readTimeout  time.Duration
	writeTimeout time.Duration
	idleTimeout  time.Duration

	rateRPS   float64
	rateBurst int
}

// Option configures a Server.
type Option func(*Server)

// WithTracker mounts the /api routes backed by t.
func WithTracker(t handlers.Tracker) Option {
	return func(s *Server) { s.tracker = t }
}

func WithVersion(info handlers.VersionInfo) Option {
	return func(s *Server) { s.version = info }
}

func WithLogger(logger *zap.Logger) Option {
	return func(s *Server) { s.logger = logger }
}

func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(s *Server) { s.tp = tp }
}

func WithTimeouts(read, write, idle time.Duration) Option {
	return func(s *Server) {
		s.readTimeout, s.writeTimeout, s.idleTimeout = read, write, idle
	}
}

// WithRateLimit enables the token-bucket limiter on /api routes.
func WithRateLimit(rps float64, burst int) Option {
	return func(s *Server) { s.rateRPS, s.rateBurst = rps, burst }
}

// New builds a server bound to host:port. Routes are registered eagerly so
// Handler can be used with httptest.
func New(host string, port int, opts ...Option) *Server {
	s := &Server{
		host:         host,
		port:         port,
		readTimeout:  30 * time.Second,
		writeTimeout: 30 * time.Second,
		idleTimeout:  120 * time.Second,
		version:      handlers.VersionInfo{Name: "batchlens", Version: "dev"},
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = observability.ServerLogger
	}
	s.routes()
	s.http = &http.Server{
		Addr:              s.Addr(),
		Handler:           s.router,
		ReadTimeout:       s.readTimeout,
		ReadHeaderTimeout: s.readTimeout,
		WriteTimeout:      s.writeTimeout,
		IdleTimeout:       s.idleTimeout,
	}
	return s
}

func (s *Server) routes() {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recovery)
	r.Use(middleware.RequestLogger(s.logger))
	r.Use(middleware.Tracing(s.tp))

	r.NotFound(func(w http.ResponseWriter, req *http.Request) {
		apperrors.RespondWithError(w, req, apperrors.NotFound("route not found: "+req.URL.Path))
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, req *http.Request) {
		apperrors.RespondWithError(w, req, apperrors.New(http.StatusMethodNotAllowed,
			apperrors.CodeMethodNotAllowed, "method "+req.Method+" not allowed on "+req.URL.Path))
	})

	r.Get("/health", handlers.HealthHandler)
	r.Get("/health/live", handlers.LivenessHandler)
	r.Get("/health/ready", handlers.ReadinessHandler)
	r.Get("/health/startup", handlers.StartupHandler)
	r.Get("/version", handlers.VersionHandler(s.version))

	if s.tracker != nil {
		api := handlers.NewAPI(s.tracker)
		r.Route("/api", func(r chi.Router) {
			if s.rateRPS > 0 {
				r.Use(middleware.RateLimit(s.rateRPS, s.rateBurst))
			}
			r.Get("/jobs", api.ListJobs)
			r.Post("/jobs", api.CreateJob)
			r.Get("/jobs/{jobID}", api.GetJob)
			r.Get("/workers", api.ListWorkers)
			r.Get("/partition", api.Partition)
		})
	}

	s.router = r
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) Port() int {
	return s.port
}

func (s *Server) Addr() string {
	return net.JoinHostPort(s.host, strconv.Itoa(s.port))
}

// Start serves until Shutdown. It returns nil after a graceful shutdown.
func (s *Server) Start() error {
	s.logger.Info("Starting HTTP server", zap.String("addr", s.http.Addr))
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http server: %w", err)
	}
	return nil
}

// Shutdown drains in-flight requests until ctx expires.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("Shutting down HTTP server")
	return s.http.Shutdown(ctx)
}
