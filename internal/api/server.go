package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/mattjoyce/voxbridge/internal/auth"
	"github.com/mattjoyce/voxbridge/internal/events"
	"github.com/mattjoyce/voxbridge/internal/host"
	"github.com/mattjoyce/voxbridge/internal/navgraph"
	"github.com/mattjoyce/voxbridge/internal/runlog"
	"github.com/mattjoyce/voxbridge/internal/session"
	"github.com/mattjoyce/voxbridge/internal/supervisor"
)

// Engine exposes the supervised speech engine.
type Engine interface {
	State() supervisor.State
	Session() *session.Session
}

// EngineControl restarts or stops the engine.
type EngineControl interface {
	Restart() error
	Stop()
}

// Router answers navigation queries.
type Router interface {
	FindRouteTo(start, target string) ([]string, bool, error)
	Nodes() []string
	Fingerprint() string
}

// RunLister returns recorded engine runs. Recent is newest first.
type RunLister interface {
	Recent(ctx context.Context, limit int) ([]runlog.Run, error)
	Get(ctx context.Context, id string) (*runlog.Run, error)
}

// Host acts on the simulated host. Implementations run on the host thread
// and fire the matching host lifecycle hooks.
type Host interface {
	CurrentLocation(ctx context.Context) (string, error)
	MimicSpeech(ctx context.Context, said string) (bool, error)
	Warp(ctx context.Context, location string, x, y int) (string, error)
	SetMenu(ctx context.Context, menu *host.Menu) (*host.Menu, error)
	AddLocation(ctx context.Context, loc navgraph.Location) error
	LoadSave(ctx context.Context) error
	ObjectsChanged(ctx context.Context, location string) error
	TerrainRemoved(ctx context.Context, location string, removed []host.Tile) error
}

// RequestTypes lists the request types the dispatcher accepts.
type RequestTypes interface {
	Types() []string
}

// Config holds API server configuration.
type Config struct {
	Listen string
	// APIKey is a bearer token holding every scope. With no APIKey and no
	// Tokens, authentication is disabled.
	APIKey string
	Tokens []auth.TokenConfig
}

// Deps are the collaborators served by the API.
type Deps struct {
	Engine   Engine
	Control  EngineControl
	Router   Router
	Runs     RunLister
	Host     Host
	Requests RequestTypes
	Hub      *events.Hub
}

// Server represents the admin HTTP API server.
type Server struct {
	config    Config
	keys      *auth.Keyring
	deps      Deps
	logger    *slog.Logger
	server    *http.Server
	startedAt time.Time
}

// New creates a new API server instance.
func New(config Config, deps Deps, logger *slog.Logger) *Server {
	return &Server{
		config:    config,
		keys:      auth.NewKeyring(config.APIKey, config.Tokens),
		deps:      deps,
		logger:    logger,
		startedAt: time.Now(),
	}
}

// Handler returns the routed handler without starting a listener.
func (s *Server) Handler() http.Handler {
	return s.setupRoutes()
}

// Start starts the HTTP server (blocking).
func (s *Server) Start(ctx context.Context) error {
	s.server = &http.Server{
		Addr:        s.config.Listen,
		Handler:     s.setupRoutes(),
		ReadTimeout: 10 * time.Second,
		// No write timeout: /events is a long-lived stream.
		IdleTimeout: 60 * time.Second,
	}

	s.logger.Info("API server starting", "listen", s.config.Listen, "auth", s.secured())

	errCh := make(chan error, 1)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("API server shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown failed: %w", err)
		}
		return ctx.Err()
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	}
}

func (s *Server) setupRoutes() *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.loggingMiddleware)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealthz)

	r.Group(func(r chi.Router) {
		if s.secured() {
			r.Use(s.authMiddleware)
		}

		r.Group(func(r chi.Router) {
			r.Use(s.requireScope(auth.ScopeRead))
			r.Get("/openapi.json", s.handleOpenAPI)
			r.Get("/streams", s.handleStreams)
			r.Get("/route", s.handleRoute)
			r.Get("/runs", s.handleRuns)
			r.Get("/runs/{id}", s.handleRun)
			r.Get("/events", s.handleEvents)
			r.Get("/events/ws", s.handleEventsWS)
		})

		r.Group(func(r chi.Router) {
			r.Use(s.requireScope(auth.ScopeControl))
			r.Post("/engine/restart", s.handleEngineRestart)
			r.Post("/engine/stop", s.handleEngineStop)
			r.Post("/mimic", s.handleMimic)
			r.Post("/host/warp", s.handleWarp)
			r.Post("/host/menu", s.handleMenu)
			r.Post("/host/locations", s.handleAddLocation)
			r.Post("/host/save", s.handleLoadSave)
			r.Post("/host/objects", s.handleObjects)
			r.Post("/host/terrain", s.handleTerrain)
		})
	})

	return r
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Debug("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}
