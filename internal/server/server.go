// Package server implements the varanus HTTP API.
//
// The server is a thin JSON layer over an already-open engine: it owns the
// listener, the middleware chain and the task bookkeeping, but it never
// closes the engine. main opens the engine first and closes it last.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/sanonone/varanus/pkg/engine"
)

// Server holds the HTTP interface and the underlying engine.
type Server struct {
	Engine *engine.Engine

	httpServer *http.Server

	tasks      *TaskManager
	ingest     *IngestService
	authToken  string
	defaultCol string
}

// NewServer wires the HTTP interface around an existing engine. The engine
// must already be open; embedders and collections from cfg are expected to
// have been applied by the caller.
func NewServer(eng *engine.Engine, cfg *Config) (*Server, error) {
	if eng == nil {
		return nil, errors.New("server: engine is required")
	}
	if cfg == nil {
		cfg = &Config{}
	}

	s := &Server{
		Engine:     eng,
		tasks:      NewTaskManager(),
		authToken:  cfg.Server.AuthToken,
		defaultCol: cfg.DefaultCollection(),
	}

	kcfg := cfg.Knowledge
	if kcfg.Collection == "" {
		kcfg.Collection = s.defaultCol
	}
	s.ingest = NewIngestService(eng, kcfg)

	mux := http.NewServeMux()
	s.registerRoutes(mux)

	// Chain order matters: Recovery must be outermost to catch everything,
	// Auth innermost so rejected requests are still logged and counted.
	var handler http.Handler = mux
	handler = s.authMiddleware(handler)
	handler = s.LoggingMiddleware(handler)
	handler = s.RecoveryMiddleware(handler)

	// Health and metrics bypass the chain: load balancers and Prometheus
	// scrape without credentials.
	rootMux := http.NewServeMux()
	rootMux.HandleFunc("GET /healthz", s.handleHealthz)
	rootMux.Handle("GET /metrics", promhttp.Handler())
	rootMux.Handle("/", handler)

	s.httpServer = &http.Server{
		Addr:    cfg.Server.Addr,
		Handler: rootMux,
	}
	return s, nil
}

// Handler returns the root handler, middleware included. Tests and embedders
// can drive it directly without binding a port.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Run starts the background ingestion pass and the HTTP listener. It blocks
// until Shutdown is called or the listener fails.
func (s *Server) Run() error {
	s.ingest.Start()

	slog.Info("HTTP server listening", "addr", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("HTTP server startup failed: %w", err)
	}
	return nil
}

// Shutdown drains in-flight requests and stops the ingest service.
// It does NOT close the Engine (main handles that for proper lifecycle
// management).
func (s *Server) Shutdown() {
	slog.Info("starting graceful shutdown of HTTP server")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := s.httpServer.Shutdown(ctx); err != nil {
		slog.Error("HTTP server shutdown error", "error", err)
	}

	s.ingest.Stop()
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	s.writeHTTPResponse(w, http.StatusOK, map[string]string{"status": "ok"})
}
