package telemetry

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"estimator/pkg/material"
)

// MetricsConfig configures the Prometheus collectors.
type MetricsConfig struct {
	// Namespace prefixes every metric (default: "estimator").
	Namespace string

	// Buckets are the histogram buckets for request duration.
	// Default: prometheus.DefBuckets
	Buckets []float64

	// Registry receives the collectors. Default: a fresh registry.
	Registry *prometheus.Registry
}

// MetricsOption configures the collectors.
type MetricsOption func(*MetricsConfig)

// WithNamespace sets the metrics namespace.
func WithNamespace(namespace string) MetricsOption {
	return func(c *MetricsConfig) {
		c.Namespace = namespace
	}
}

// WithBuckets sets the request duration histogram buckets.
func WithBuckets(buckets []float64) MetricsOption {
	return func(c *MetricsConfig) {
		c.Buckets = buckets
	}
}

// WithRegistry sets the Prometheus registry.
func WithRegistry(registry *prometheus.Registry) MetricsOption {
	return func(c *MetricsConfig) {
		c.Registry = registry
	}
}

// Metrics holds every collector the estimator exports. It implements
// material.Observer.
type Metrics struct {
	registry *prometheus.Registry

	mutations      *prometheus.CounterVec
	persistErrors  prometheus.Counter
	hydrateErrors  prometheus.Counter
	items          prometheus.Gauge
	estimateTotal  prometheus.Gauge
	requests       *prometheus.CounterVec
	requestSeconds *prometheus.HistogramVec
	liveClients    prometheus.Gauge
}

// NewMetrics registers the collectors.
func NewMetrics(opts ...MetricsOption) *Metrics {
	cfg := MetricsConfig{
		Namespace: "estimator",
		Buckets:   prometheus.DefBuckets,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.Registry == nil {
		cfg.Registry = prometheus.NewRegistry()
	}
	factory := promauto.With(cfg.Registry)

	return &Metrics{
		registry: cfg.Registry,

		mutations: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Name:      "mutations_total",
			Help:      "Store mutations applied, by operation",
		}, []string{"op"}),

		persistErrors: factory.NewCounter(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Name:      "persist_errors_total",
			Help:      "Failed writes of the collection to storage",
		}),

		hydrateErrors: factory.NewCounter(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Name:      "hydrate_errors_total",
			Help:      "Persisted collections discarded because they could not be decoded",
		}),

		items: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: cfg.Namespace,
			Name:      "items",
			Help:      "Number of items in the estimate",
		}),

		estimateTotal: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: cfg.Namespace,
			Name:      "estimate_total",
			Help:      "Sum of all item prices",
		}),

		requests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests served, by route and status code",
		}, []string{"route", "code"}),

		requestSeconds: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: cfg.Namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   cfg.Buckets,
		}, []string{"route"}),

		liveClients: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: cfg.Namespace,
			Name:      "live_clients",
			Help:      "Connected live-update WebSocket clients",
		}),
	}
}

// Registry exposes the registry, mostly for tests.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Mutated records a store mutation and the resulting collection size and total.
func (m *Metrics) Mutated(op string, items []material.Item) {
	m.mutations.WithLabelValues(op).Inc()
	m.items.Set(float64(len(items)))
	total, _ := material.Sum(items).Float64()
	m.estimateTotal.Set(total)
}

// PersistFailed counts a failed write.
func (m *Metrics) PersistFailed(error) {
	m.persistErrors.Inc()
}

// HydrateFailed counts a discarded persisted collection.
func (m *Metrics) HydrateFailed(error) {
	m.hydrateErrors.Inc()
}

// LiveClientConnected and LiveClientDisconnected track WebSocket clients.
func (m *Metrics) LiveClientConnected() { m.liveClients.Inc() }

func (m *Metrics) LiveClientDisconnected() { m.liveClients.Dec() }

// Middleware records count and duration per chi route pattern.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := routePattern(r)
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		m.requests.WithLabelValues(route, strconv.Itoa(status)).Inc()
		m.requestSeconds.WithLabelValues(route).Observe(time.Since(start).Seconds())
	})
}

// routePattern returns the matched chi pattern; raw paths carry item ids.
func routePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if pattern := rctx.RoutePattern(); pattern != "" {
			return pattern
		}
	}
	return "unmatched"
}
