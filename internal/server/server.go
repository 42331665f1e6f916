// Package server exposes reading-accuracy scoring over HTTP.
//
// Routes:
//
//   - POST /v1/score         JSON {reference, candidate, respeak?}
//   - POST /v1/score/audio   multipart: reference, file (WAV), respeak?, language?
//   - POST /v1/explain       JSON {reference, candidate}
//   - POST /v1/batch         JSON {"items": [...]} or JSON Lines
//   - GET  /v1/stats         drill mode, thresholds and tally of /v1/score*
//   - GET  /healthz, /readyz
//   - GET  /metrics          Prometheus
//   - /mcp                   MCP streamable HTTP, when configured
//
// Every route is wrapped with observe.Middleware.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/MrWong99/lectern/internal/assess"
	"github.com/MrWong99/lectern/internal/batch"
	"github.com/MrWong99/lectern/internal/health"
	"github.com/MrWong99/lectern/internal/observe"
	"github.com/MrWong99/lectern/pkg/audio"
)

// shutdownTimeout bounds graceful shutdown once the run context ends.
const shutdownTimeout = 10 * time.Second

// Option configures a Server.
type Option func(*Server)

// WithMetrics sets the metrics used by the request middleware. Defaults to
// observe.DefaultMetrics().
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

// WithBatchRunner sets the runner behind /v1/batch. Without one the route
// answers 503.
func WithBatchRunner(r *batch.Runner) Option {
	return func(s *Server) { s.batch = r }
}

// WithMCPHandler mounts h at /mcp.
func WithMCPHandler(h http.Handler) Option {
	return func(s *Server) { s.mcp = h }
}

// WithReadiness adds checks to /readyz.
func WithReadiness(checks ...health.Checker) Option {
	return func(s *Server) { s.checks = append(s.checks, checks...) }
}

// WithVersion sets the version reported by /healthz.
func WithVersion(v string) Option {
	return func(s *Server) { s.version = v }
}

// WithMaxUploadBytes bounds request bodies. Defaults to audio.MaxWAVSize.
func WithMaxUploadBytes(n int64) Option {
	return func(s *Server) {
		if n > 0 {
			s.maxUpload = n
		}
	}
}

// WithMetricsHandler replaces the /metrics handler. Defaults to
// promhttp.Handler().
func WithMetricsHandler(h http.Handler) Option {
	return func(s *Server) { s.metricsHandler = h }
}

// Server serves the scoring API.
type Server struct {
	assessor       *assess.Assessor
	batch          *batch.Runner
	metrics        *observe.Metrics
	mcp            http.Handler
	metricsHandler http.Handler
	checks         []health.Checker
	version        string
	maxUpload      int64
}

// New creates a Server that scores with a.
func New(a *assess.Assessor, opts ...Option) *Server {
	s := &Server{
		assessor:  a,
		maxUpload: audio.MaxWAVSize,
	}
	for _, o := range opts {
		o(s)
	}
	if s.metrics == nil {
		s.metrics = observe.DefaultMetrics()
	}
	if s.metricsHandler == nil {
		s.metricsHandler = promhttp.Handler()
	}
	return s
}

// Handler returns the routed and instrumented HTTP handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /v1/score", s.handleScore)
	mux.HandleFunc("POST /v1/score/audio", s.handleScoreAudio)
	mux.HandleFunc("POST /v1/explain", s.handleExplain)
	mux.HandleFunc("POST /v1/batch", s.handleBatch)
	mux.HandleFunc("GET /v1/stats", s.handleStats)

	health.New(s.checks, health.WithVersion(s.version)).Register(mux)
	mux.Handle("GET /metrics", s.metricsHandler)
	if s.mcp != nil {
		mux.Handle("/mcp", s.mcp)
	}

	return observe.Middleware(s.metrics)(mux)
}

// ListenAndServe serves on addr until ctx is done, then shuts down
// gracefully. With certFile and keyFile set the server speaks TLS.
func (s *Server) ListenAndServe(ctx context.Context, addr, certFile, keyFile string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("server: listen %s: %w", addr, err)
	}
	return s.Serve(ctx, ln, certFile, keyFile)
}

// Serve is ListenAndServe on an existing listener.
func (s *Server) Serve(ctx context.Context, ln net.Listener, certFile, keyFile string) error {
	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      5 * time.Minute,
		IdleTimeout:       120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("server listening", "addr", ln.Addr().String(), "tls", certFile != "")
		if certFile != "" {
			errCh <- srv.ServeTLS(ln, certFile, keyFile)
		} else {
			errCh <- srv.Serve(ln)
		}
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("server: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	slog.Info("server shutting down")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	return nil
}
