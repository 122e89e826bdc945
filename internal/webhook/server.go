package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// Server serves the configured phrase endpoints.
type Server struct {
	config    Config
	host      Mimicker
	logger    *slog.Logger
	server    *http.Server
	endpoints map[string]EndpointConfig
}

func New(config Config, host Mimicker, logger *slog.Logger) *Server {
	endpoints := make(map[string]EndpointConfig, len(config.Endpoints))
	for _, ep := range config.Endpoints {
		if ep.MaxBodySize <= 0 {
			ep.MaxBodySize = DefaultMaxBodySize
		}
		if ep.SignatureHeader == "" {
			ep.SignatureHeader = DefaultSignatureHeader
		}
		endpoints[ep.Path] = ep
	}
	return &Server{
		config:    config,
		host:      host,
		logger:    logger,
		endpoints: endpoints,
	}
}

// Start serves until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	s.server = &http.Server{
		Addr:              s.config.Listen,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	s.logger.Info("webhook server starting", "listen", s.config.Listen, "endpoints", len(s.endpoints))

	errCh := make(chan error, 1)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("webhook server shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("webhook server shutdown failed: %w", err)
		}
		return ctx.Err()
	case err := <-errCh:
		return fmt.Errorf("webhook server error: %w", err)
	}
}

func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.loggingMiddleware)
	r.Use(middleware.Recoverer)

	for path := range s.endpoints {
		r.Post(path, s.handlePhrase)
	}
	return r
}

// loggingMiddleware never logs bodies.
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Info("webhook request",
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", middleware.GetReqID(r.Context()),
			"remote_addr", r.RemoteAddr,
		)
	})
}

func (s *Server) handlePhrase(w http.ResponseWriter, r *http.Request) {
	endpoint, ok := s.endpoints[r.URL.Path]
	if !ok {
		s.respondError(w, http.StatusNotFound, "endpoint not found")
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, endpoint.MaxBodySize+1))
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "failed to read request body")
		return
	}
	if int64(len(body)) > endpoint.MaxBodySize {
		s.respondError(w, http.StatusRequestEntityTooLarge, "payload too large")
		return
	}

	if err := Verify(body, r.Header.Get(endpoint.SignatureHeader), endpoint.Secret); err != nil {
		s.logger.Warn("webhook signature rejected", "path", r.URL.Path, "header", endpoint.SignatureHeader)
		s.respondError(w, http.StatusForbidden, "forbidden")
		return
	}

	var req PhraseRequest
	if err := json.Unmarshal(body, &req); err != nil {
		s.respondError(w, http.StatusBadRequest, "body must be {\"said\": \"...\"}")
		return
	}
	said := strings.TrimSpace(req.Said)
	if said == "" {
		s.respondError(w, http.StatusBadRequest, "said is required")
		return
	}

	delivered, err := s.host.MimicSpeech(r.Context(), said)
	if err != nil {
		s.logger.Error("webhook phrase not delivered", "path", r.URL.Path, "error", err)
		s.respondError(w, http.StatusServiceUnavailable, "host unavailable")
		return
	}
	if !delivered {
		s.respondError(w, http.StatusConflict, "no speech handler is listening")
		return
	}

	s.logger.Info("webhook phrase delivered", "path", r.URL.Path)
	s.respondJSON(w, http.StatusAccepted, PhraseResponse{Status: "delivered", Said: said})
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func (s *Server) respondError(w http.ResponseWriter, status int, message string) {
	s.respondJSON(w, status, ErrorResponse{Error: message})
}
