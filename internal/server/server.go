// Package server provides the HTTP API for the zurk orchestration
// backend: project registry, session lifecycle, approval decisions,
// live previews, external-session discovery, and SSE streaming.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"

	"github.com/zurk-ai/zurk/internal/discovery"
	"github.com/zurk-ai/zurk/internal/event"
	"github.com/zurk-ai/zurk/internal/logging"
	"github.com/zurk-ai/zurk/internal/orchestrator"
	"github.com/zurk-ai/zurk/internal/preview"
	"github.com/zurk-ai/zurk/internal/project"
	"github.com/zurk-ai/zurk/internal/store"
)

// Version reported by the health endpoint.
const Version = "0.1.0"

// Config holds server configuration.
type Config struct {
	Host         string
	Port         int
	CORSOrigins  []string
	AgentBinary  string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// DefaultConfig returns default server configuration.
func DefaultConfig() *Config {
	return &Config{
		Host:         "127.0.0.1",
		Port:         8420,
		CORSOrigins:  []string{"*"},
		AgentBinary:  "claude",
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0, // No write timeout for SSE
	}
}

// Runtime is the slice of the agent runtime the handlers use directly;
// everything else goes through the orchestrator.
type Runtime interface {
	IsActive(sessionID string) bool
	Disconnect(sessionID string)
	Interrupt(sessionID string) error
}

// Deps are the wired components the server exposes over HTTP.
type Deps struct {
	Store        *store.Store
	Registry     *project.Registry
	Orchestrator *orchestrator.Orchestrator
	Runtime      Runtime
	Preview      *preview.Manager
	Scanner      *discovery.Scanner
	Bus          *event.Bus
}

// Server is the HTTP server.
type Server struct {
	config   *Config
	router   *chi.Mux
	httpSrv  *http.Server
	store    *store.Store
	registry *project.Registry
	orch     *orchestrator.Orchestrator
	runtime  Runtime
	preview  *preview.Manager
	scanner  *discovery.Scanner
	bus      *event.Bus
	log      zerolog.Logger

	// home overrides the browse root; empty means the user's home.
	home string
}

// New creates a new Server instance.
func New(cfg *Config, deps Deps) *Server {
	s := &Server{
		config:   cfg,
		router:   chi.NewRouter(),
		store:    deps.Store,
		registry: deps.Registry,
		orch:     deps.Orchestrator,
		runtime:  deps.Runtime,
		preview:  deps.Preview,
		scanner:  deps.Scanner,
		bus:      deps.Bus,
		log:      logging.ForComponent("server"),
	}

	s.setupMiddleware()
	s.setupRoutes()

	return s
}

// setupMiddleware configures middleware for the server.
func (s *Server) setupMiddleware() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(middleware.Recoverer)

	origins := s.config.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
		ExposedHeaders:   []string{"X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}))
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	s.httpSrv = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", s.config.Host, s.config.Port),
		Handler:      s.router,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
	}

	s.log.Info().Str("addr", s.httpSrv.Addr).Msg("HTTP server listening")
	return s.httpSrv.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpSrv == nil {
		return nil
	}
	return s.httpSrv.Shutdown(ctx)
}

// Router returns the chi router for testing.
func (s *Server) Router() *chi.Mux {
	return s.router
}
