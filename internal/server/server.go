// Package server implements the lathe cache server: an HTTP front-end that
// serves remote cache entries plus health and version endpoints.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/fulmenhq/gofulmen/crucible"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/lathe-build/lathe/internal/server/handlers"
	"github.com/lathe-build/lathe/internal/server/middleware"
	"github.com/lathe-build/lathe/pkg/remote"
)

// Server is the lathe cache server.
type Server struct {
	host    string
	port    int
	version string
	logger  *zap.Logger
	backend remote.Backend

	readTimeout  time.Duration
	writeTimeout time.Duration
	idleTimeout  time.Duration

	router     chi.Router
	httpServer *http.Server
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the request logger.
func WithLogger(logger *zap.Logger) Option {
	return func(s *Server) { s.logger = logger }
}

// WithBackend attaches a cache backend, enabling the /cache routes.
func WithBackend(backend remote.Backend) Option {
	return func(s *Server) { s.backend = backend }
}

// WithVersion sets the version reported by /version.
func WithVersion(version string) Option {
	return func(s *Server) { s.version = version }
}

// WithTimeouts sets the HTTP server timeouts.
func WithTimeouts(read, write, idle time.Duration) Option {
	return func(s *Server) {
		s.readTimeout = read
		s.writeTimeout = write
		s.idleTimeout = idle
	}
}

// New creates a server bound to host:port. The /cache routes are only
// registered when a backend is attached via WithBackend.
func New(host string, port int, opts ...Option) *Server {
	s := &Server{
		host:         host,
		port:         port,
		version:      "dev",
		logger:       zap.NewNop(),
		readTimeout:  30 * time.Second,
		writeTimeout: 30 * time.Second,
		idleTimeout:  120 * time.Second,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.router = s.buildRouter()
	return s
}

// Handler returns the server's HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Port returns the configured listen port.
func (s *Server) Port() int {
	return s.port
}

// Addr returns the configured listen address.
func (s *Server) Addr() string {
	return fmt.Sprintf("%s:%d", s.host, s.port)
}

// Start runs the server until ListenAndServe fails. http.ErrServerClosed is
// returned after a graceful Shutdown.
func (s *Server) Start() error {
	s.httpServer = &http.Server{
		Addr:         s.Addr(),
		Handler:      s.router,
		ReadTimeout:  s.readTimeout,
		WriteTimeout: s.writeTimeout,
		IdleTimeout:  s.idleTimeout,
	}
	s.logger.Info("cache server listening", zap.String("addr", s.Addr()))
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully stops the server, waiting for in-flight requests
// until ctx expires.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) buildRouter() chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RequestLogger(s.logger))
	r.Use(middleware.Recovery)

	r.NotFound(func(w http.ResponseWriter, req *http.Request) {
		middleware.WriteError(w, req, http.StatusNotFound,
			"NOT_FOUND", fmt.Sprintf("no route for %s", req.URL.Path), nil)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, req *http.Request) {
		middleware.WriteError(w, req, http.StatusMethodNotAllowed,
			"METHOD_NOT_ALLOWED", fmt.Sprintf("%s is not allowed on %s", req.Method, req.URL.Path), nil)
	})

	r.Get("/health", handlers.HealthHandler)
	r.Get("/health/live", handlers.LivenessHandler)
	r.Get("/health/ready", handlers.ReadinessHandler)
	r.Get("/health/startup", handlers.StartupHandler)
	r.Get("/version", s.versionHandler)

	if s.backend != nil {
		cache := handlers.NewCacheHandler(s.backend, s.logger)
		r.Route("/cache/{key}", func(r chi.Router) {
			r.Get("/", cache.Get)
			r.Put("/", cache.Put)
			r.Head("/", cache.Head)
			r.Delete("/", cache.Delete)
		})
	}

	return r
}

func (s *Server) versionHandler(w http.ResponseWriter, r *http.Request) {
	toolchain := crucible.GetVersion()
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]string{
		"version":  s.version,
		"gofulmen": toolchain.Gofulmen,
		"crucible": toolchain.Crucible,
	})
}
