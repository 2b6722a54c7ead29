// Package server provides the HTTP API for simdex.
package server

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/hyperjump/simdex/internal/config"
	"github.com/hyperjump/simdex/internal/library"
)

// WatchService manages watched directories. The watcher implements it.
type WatchService interface {
	Directories() []string
	AddDirectory(path string) error
	RemoveDirectory(path string) error
}

// Server is the HTTP server for the simdex API.
type Server struct {
	lib    *library.Library
	cfg    *config.Config
	logger *zap.Logger
	server *http.Server

	watch      WatchService // nil when watching is disabled
	configPath string       // when set, watch changes are saved here
	configMu   sync.Mutex
}

// Option configures a Server.
type Option func(*Server)

// WithWatch enables the watch directory endpoints.
func WithWatch(w WatchService) Option {
	return func(s *Server) { s.watch = w }
}

// WithConfigPath persists watch directory changes to the config file at path.
func WithConfigPath(path string) Option {
	return func(s *Server) { s.configPath = path }
}

// New creates a server over lib.
func New(lib *library.Library, logger *zap.Logger, opts ...Option) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{lib: lib, cfg: lib.Config(), logger: logger}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handler returns the API router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))
	r.Use(middleware.Compress(5))

	r.Get("/health", s.handleHealth)
	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/search", s.handleSearch)
		r.Get("/status", s.handleStatus)

		r.Post("/documents", s.handleAddDocument)
		r.Post("/documents/batch", s.handleAddDocuments)
		r.Get("/documents", s.handleListDocuments)
		r.Get("/documents/{position}", s.handleGetDocument)

		r.Get("/watch/directories", s.handleWatchDirectoriesList)
		r.Post("/watch/directories", s.handleWatchDirectoriesAdd)
		r.Delete("/watch/directories", s.handleWatchDirectoriesRemove)
	})
	return r
}

// Start starts the HTTP server and blocks until it stops.
func (s *Server) Start() error {
	addr := s.cfg.Server.Addr()
	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.logger.Info("starting server", zap.String("addr", addr))
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Stop gracefully shuts down the server.
func (s *Server) Stop(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}
