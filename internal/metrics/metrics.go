// Package metrics exposes Prometheus collectors for the marketplace API.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Metrics struct {
	registry       *prometheus.Registry
	requests       *prometheus.CounterVec
	duration       *prometheus.HistogramVec
	catalogPlugins prometheus.Gauge
	searchHits     prometheus.Histogram
}

// New creates a registry with the Go and process collectors plus the API collectors.
func New() *Metrics {
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	m := &Metrics{
		registry: registry,
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "marketplace_http_requests_total",
			Help: "HTTP requests by route pattern and status code.",
		}, []string{"route", "code"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "marketplace_http_request_duration_seconds",
			Help:    "HTTP request latency by route pattern.",
			Buckets: prometheus.DefBuckets,
		}, []string{"route"}),
		catalogPlugins: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "marketplace_catalog_plugins",
			Help: "Number of plugins in the most recently loaded catalog.",
		}),
		searchHits: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "marketplace_search_hits",
			Help:    "Number of plugins matched per search query.",
			Buckets: []float64{0, 1, 2, 5, 10, 20, 50},
		}),
	}
	registry.MustRegister(m.requests, m.duration, m.catalogPlugins, m.searchHits)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{EnableOpenMetrics: true})
}

// Middleware records request count and latency by chi route pattern, so
// /content/1/api/p and /content/2/api/p share one series.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		m.requests.WithLabelValues(route, strconv.Itoa(status)).Inc()
		m.duration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	})
}

// CatalogLoaded records the size of a freshly loaded catalog.
func (m *Metrics) CatalogLoaded(plugins int) {
	m.catalogPlugins.Set(float64(plugins))
}

// SearchServed records the number of hits of one query.
func (m *Metrics) SearchServed(hits int) {
	m.searchHits.Observe(float64(hits))
}
