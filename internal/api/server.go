// Package api serves the bridge over a local HTTP API for the CLI and the
// terminal view. Handlers are thin pass-throughs to the bridge.
package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/mattjoyce/tether/internal/auth"
	"github.com/mattjoyce/tether/internal/bridge"
	"github.com/mattjoyce/tether/internal/events"
	"github.com/mattjoyce/tether/internal/journal"
)

//go:generate mockgen -destination=mocks/mock_sidecar.go -package=mocks github.com/mattjoyce/tether/internal/api Sidecar

// Sidecar is the bridge surface the API needs.
type Sidecar interface {
	Status() bridge.Health
	Running() bool
	WorkerPID() int
	Pending() int
	ScanNFC(ctx context.Context) (bridge.ScanResult, error)
	Login(ctx context.Context, user, pass string) (bridge.LoginResult, error)
}

// HistoryReader returns journaled requests, newest first.
type HistoryReader interface {
	Recent(ctx context.Context, limit int) ([]journal.Entry, error)
}

// Config holds API server configuration.
type Config struct {
	Listen string
	// Tokens are scoped bearer tokens. With none configured every request
	// is served as an anonymous admin; config validation restricts that
	// to loopback listeners.
	Tokens []auth.TokenConfig
}

// Server is the HTTP API server.
type Server struct {
	config    Config
	sidecar   Sidecar
	history   HistoryReader
	events    *events.Hub
	logger    *slog.Logger
	server    *http.Server
	startedAt time.Time
}

// New creates a new API server. history and hub may be nil, in which case
// /history and /events answer 503.
func New(config Config, sidecar Sidecar, history HistoryReader, hub *events.Hub, logger *slog.Logger) *Server {
	return &Server{
		config:    config,
		sidecar:   sidecar,
		history:   history,
		events:    hub,
		logger:    logger,
		startedAt: time.Now(),
	}
}

// Handler returns the routed handler.
func (s *Server) Handler() http.Handler {
	return s.setupRoutes()
}

// Start listens on the configured address and serves until ctx is done.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.config.Listen)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.config.Listen, err)
	}
	return s.Serve(ctx, ln)
}

// Serve serves on ln until ctx is done (blocking).
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.server = &http.Server{
		Handler:     s.setupRoutes(),
		ReadTimeout: 10 * time.Second,
		// Bridge calls are bounded by the request timeout; /events streams.
		WriteTimeout: 0,
		IdleTimeout:  60 * time.Second,
	}

	s.logger.Info("API server starting", "listen", ln.Addr().String())

	errCh := make(chan error, 1)
	go func() {
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
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

	// Unauthenticated ops endpoint.
	r.Get("/healthz", s.handleHealthz)

	r.Group(func(r chi.Router) {
		r.Use(s.authMiddleware)
		r.With(s.requireScopes(auth.ScopeStatusRO)).Get("/status", s.handleStatus)
		r.With(s.requireScopes(auth.ScopeStatusRO)).Get("/history", s.handleHistory)
		r.With(s.requireScopes(auth.ScopeStatusRO)).Get("/events", s.handleEvents)
		r.With(s.requireScopes(auth.ScopeWorkerRW)).Post("/scan", s.handleScan)
		r.With(s.requireScopes(auth.ScopeWorkerRW)).Post("/login", s.handleLogin)
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

func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if len(s.config.Tokens) == 0 {
			next.ServeHTTP(w, r.WithContext(auth.WithPrincipal(r.Context(), auth.Anonymous)))
			return
		}

		token, err := auth.ExtractBearerToken(r)
		if err != nil {
			s.writeError(w, http.StatusUnauthorized, err.Error())
			return
		}
		principal, ok := auth.Authenticate(token, s.config.Tokens)
		if !ok {
			s.writeError(w, http.StatusUnauthorized, "invalid bearer token")
			return
		}
		next.ServeHTTP(w, r.WithContext(auth.WithPrincipal(r.Context(), principal)))
	})
}

func (s *Server) requireScopes(scopes ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			principal, _ := auth.PrincipalFromContext(r.Context())
			if !auth.HasAnyScope(principal, scopes...) {
				s.writeError(w, http.StatusForbidden, "insufficient scope")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
