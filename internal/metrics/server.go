// Package metrics carries the platform's Prometheus instrumentation and
// the operator HTTP surface it is scraped from.
package metrics

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/gaigenticai/Regulens-sub010/internal/config"
)

// Server serves /metrics and /health on a dedicated operator port,
// separate from anything agent-facing.
type Server struct {
	port     int
	log      zerolog.Logger
	mux      *http.ServeMux
	listener net.Listener
	server   *http.Server
}

type healthResponse struct {
	Status    string `json:"status"`
	Service   string `json:"service"`
	Version   string `json:"version"`
	Timestamp string `json:"timestamp"`
}

// NewServer builds the operator server with the scrape endpoint and
// liveness probe mounted. Extra endpoints go through RegisterHandler.
func NewServer(port int, log zerolog.Logger) *Server {
	s := &Server{
		port: port,
		log:  log.With().Str("component", "metrics_server").Logger(),
		mux:  http.NewServeMux(),
	}
	s.mux.Handle("/metrics", Handler())
	s.mux.HandleFunc("/health", s.handleHealth)
	return s
}

// RegisterHandler mounts an additional operator endpoint, such as a
// readiness probe backed by a store ping. Safe to call while serving.
func (s *Server) RegisterHandler(pattern string, handler http.HandlerFunc) {
	s.mux.HandleFunc(pattern, handler)
}

// Start binds the listener and serves in the background. Bind failures
// (port already taken) are returned synchronously so the daemon can
// fail fast instead of discovering a dead scrape endpoint later.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", s.port))
	if err != nil {
		return fmt.Errorf("failed to bind metrics listener on :%d: %w", s.port, err)
	}
	s.listener = ln

	s.server = &http.Server{
		Handler:      s.mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	s.log.Info().Int("port", s.Port()).Msg("Metrics server listening")

	go func() {
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error().Err(err).Msg("Metrics server error")
		}
	}()

	return nil
}

// Port reports the bound port, resolving port 0 to the one the kernel
// picked.
func (s *Server) Port() int {
	if s.listener != nil {
		if addr, ok := s.listener.Addr().(*net.TCPAddr); ok {
			return addr.Port
		}
	}
	return s.port
}

// Shutdown stops the server, draining in-flight scrapes. A no-op when
// the server never started.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}

	s.log.Info().Msg("Shutting down metrics server")

	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown metrics server: %w", err)
	}

	s.log.Info().Msg("Metrics server shutdown complete")
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(healthResponse{
		Status:    "healthy",
		Service:   "regulens",
		Version:   config.Version,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}
