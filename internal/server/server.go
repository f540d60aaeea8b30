// Package server provides the HTTP and websocket API for Kaiwa.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/hyperjump/kaiwa/internal/chat"
	"github.com/hyperjump/kaiwa/internal/config"
	"github.com/hyperjump/kaiwa/internal/corpus"
	"github.com/hyperjump/kaiwa/internal/memory"
	"github.com/hyperjump/kaiwa/internal/session"
)

// Server is the HTTP server for the Kaiwa API.
type Server struct {
	manager  *chat.Manager
	engine   *memory.Engine
	sessions *session.Registry
	ingestor *corpus.Ingestor
	config   *config.Config
	logger   *zap.Logger
	server   *http.Server
}

// NewServer creates a server with the given dependencies.
func NewServer(
	manager *chat.Manager,
	engine *memory.Engine,
	sessions *session.Registry,
	ingestor *corpus.Ingestor,
	cfg *config.Config,
	logger *zap.Logger,
) *Server {
	return &Server{
		manager:  manager,
		engine:   engine,
		sessions: sessions,
		ingestor: ingestor,
		config:   cfg,
		logger:   logger,
	}
}

// Router builds the chi router with all API routes.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(120 * time.Second))
	r.Use(middleware.Compress(5))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
	}))

	r.Post("/api/v1/chat", s.handleChat)
	r.Post("/api/v1/index", s.handleIndex)
	r.Post("/api/v1/memory/search", s.handleMemorySearch)
	r.Get("/api/v1/sessions/{id}/history", s.handleSessionHistory)
	r.Delete("/api/v1/sessions/{id}", s.handleClearSession)
	r.Get("/api/v1/status", s.handleStatus)
	r.Get("/ws/chat", s.handleWebsocket)
	r.Get("/health", s.handleHealth)
	return r
}

// Start starts the HTTP server and blocks until it stops.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Server.Host, s.config.Server.Port)
	s.server = &http.Server{
		Addr:    addr,
		Handler: s.Router(),
	}
	s.logger.Info("Starting server", zap.String("addr", addr))
	return s.server.ListenAndServe()
}

// Stop gracefully shuts down the server.
func (s *Server) Stop(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}
