// Package server maps the Eclipse Marketplace REST paths onto the listing
// assemblers and turns their results and failures into HTTP responses.
package server

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"marketplace/internal/cache"
	"marketplace/internal/catalog"
	"marketplace/internal/checker"
	"marketplace/internal/config"
	"marketplace/internal/metrics"
)

// Option configures a Server.
type Option func(*Server)

// WithMetrics records request metrics and serves them on /metrics.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Server) {
		s.metrics = m
	}
}

// WithChecker replaces the update-site checker used by /check. A checker set
// this way survives UpdateConfig.
func WithChecker(c *checker.Checker) Option {
	return func(s *Server) {
		s.checker = c
		s.fixedChecker = true
	}
}

type Server struct {
	mu           sync.RWMutex
	config       *config.Config
	source       catalog.Source
	store        cache.Store
	checker      *checker.Checker
	fixedChecker bool
	metrics      *metrics.Metrics
	router       chi.Router
	version      string
}

// New creates the API server. Each request loads a fresh catalog from source;
// store holds the cached wiki pages searched by the search endpoint.
func New(cfg *config.Config, source catalog.Source, store cache.Store, version string, opts ...Option) *Server {
	s := &Server{
		config:  cfg,
		source:  source,
		store:   store,
		version: version,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.checker == nil {
		s.checker = checker.New(cfg.Server.CheckTimeout)
	}

	s.router = s.routes()
	return s
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	if s.metrics != nil {
		r.Use(s.metrics.Middleware)
	}
	r.Use(LoggingMiddleware)
	r.Use(ClientInfoMiddleware)
	r.Use(s.versionHeader)
	if timeout := s.config.Server.RequestTimeout; timeout > 0 {
		r.Use(middleware.Timeout(timeout))
	}

	r.NotFound(notFoundHandler)

	r.Get("/", s.handleHome)
	r.Get("/check", s.handleCheck)
	if s.metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.metrics.Handler())
	}

	r.Get("/api/p", s.handleRoot)
	r.Get("/api/p/search/apachesolr_search/{term}", s.handleSearch)
	r.Get("/catalogs/api/p", s.handleCatalogs)
	r.Get("/taxonomy/term/{term}/api/p", s.handleTaxonomy)
	r.Get("/node/{id}/api/p", s.handleContent)
	r.Get("/content/{id}/api/p", s.handleContent)
	r.Get("/{listType}/api/p", s.handleListType)
	r.Get("/{listType}/{marketID}/api/p", s.handleListType)

	return r
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// UpdateConfig swaps configuration and catalog source, e.g. after SIGHUP, and
// rebuilds the update-site checker for the new server.check_timeout.
// Requests already running keep the snapshot they started with. The page
// store, listen addresses and request timeout need a restart.
func (s *Server) UpdateConfig(cfg *config.Config, source catalog.Source) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.config = cfg
	s.source = source
	if !s.fixedChecker {
		s.checker = checker.New(cfg.Server.CheckTimeout)
	}
}

func (s *Server) currentChecker() *checker.Checker {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.checker
}

// CatalogProbe loads the current catalog once and reports whether that worked.
func (s *Server) CatalogProbe(ctx context.Context) error {
	_, err := s.load(ctx)
	return err
}

func (s *Server) snapshot() (*config.Config, catalog.Source) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.config, s.source
}

func (s *Server) versionHeader(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Marketplace-Version", s.version)
		next.ServeHTTP(w, r)
	})
}

// LoggingMiddleware logs HTTP requests
func LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		slog.Info("HTTP request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration", time.Since(start),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}

// clientParams are the query parameters the Eclipse client sends with every request.
var clientParams = []string{
	"product", "product.version", "client", "os", "ws", "nl",
	"runtime.version", "java.version", "platform.version",
}

// ClientInfoMiddleware logs the Lab's self-description at debug level.
func ClientInfoMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if slog.Default().Enabled(r.Context(), slog.LevelDebug) {
			q := r.URL.Query()
			attrs := make([]any, 0, 2*len(clientParams))
			for _, p := range clientParams {
				if v := q.Get(p); v != "" {
					attrs = append(attrs, p, v)
				}
			}
			if len(attrs) > 0 {
				slog.Debug("Marketplace client", attrs...)
			}
		}
		next.ServeHTTP(w, r)
	})
}
