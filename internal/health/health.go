// Package health serves the readiness endpoint of the marketplace on its own port.
//
// GET /health answers 503 "starting" while the service starts (and warms the
// wiki page cache), 503 "catalog unavailable" when the plugin catalog cannot
// be loaded and 200 "ok" otherwise.
package health

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"sync/atomic"
	"time"
)

// Probe reports whether a dependency of the marketplace is usable.
type Probe func(ctx context.Context) error

// Server provides the health endpoint
type Server struct {
	server *http.Server
	ready  atomic.Bool
	probe  Probe
}

// New creates a health server on the given port. probe may be nil.
func New(port int, probe Probe) *Server {
	mux := http.NewServeMux()
	s := &Server{
		server: &http.Server{
			Addr:              ":" + strconv.Itoa(port),
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		},
		probe: probe,
	}

	mux.HandleFunc("/health", s.healthHandler)

	return s
}

// Start begins listening for health check requests
func (s *Server) Start() error {
	slog.Info("Starting health server", "addr", s.server.Addr)
	return s.server.ListenAndServe()
}

// Stop gracefully shuts down the health server
func (s *Server) Stop() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.server.Shutdown(ctx)
}

// MarkReady lets /health report the probe result instead of "starting".
func (s *Server) MarkReady() {
	s.ready.Store(true)
	slog.Info("Marketplace marked as ready")
}

// MarkNotReady makes /health answer "starting" again, e.g. during a cache rewarm.
func (s *Server) MarkNotReady() {
	s.ready.Store(false)
	slog.Info("Marketplace marked as not ready")
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")

	if !s.ready.Load() {
		write(w, http.StatusServiceUnavailable, "starting")
		return
	}

	if s.probe != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := s.probe(ctx); err != nil {
			slog.Warn("Health probe failed", "error", err)
			write(w, http.StatusServiceUnavailable, "catalog unavailable")
			return
		}
	}

	write(w, http.StatusOK, "ok")
}

func write(w http.ResponseWriter, status int, body string) {
	w.WriteHeader(status)
	if _, err := w.Write([]byte(body)); err != nil {
		slog.Error("Failed to write health response", "error", err)
	}
}
