// Package metrics provides Prometheus metrics for the portal.
package metrics

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Metrics holds all Prometheus metrics.
type Metrics struct {
	requestsTotal    *prometheus.CounterVec
	requestDuration  *prometheus.HistogramVec
	requestsInFlight prometheus.Gauge
	responseSize     *prometheus.HistogramVec
	backendTotal     *prometheus.CounterVec
	backendDuration  *prometheus.HistogramVec
	backendRetries   *prometheus.CounterVec
	cacheLookups     *prometheus.CounterVec
	sessionRefreshes *prometheus.CounterVec
	healthStatus     prometheus.Gauge
}

var durationBuckets = []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10}

// New registers the portal metrics with reg. Passing nil uses the default
// registerer.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)

	return &Metrics{
		requestsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "kolibri_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "route", "status"},
		),
		requestDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "kolibri_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: durationBuckets,
			},
			[]string{"method", "route", "status"},
		),
		requestsInFlight: f.NewGauge(
			prometheus.GaugeOpts{
				Name: "kolibri_http_requests_in_flight",
				Help: "Number of HTTP requests currently being processed",
			},
		),
		responseSize: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "kolibri_http_response_size_bytes",
				Help:    "HTTP response size in bytes",
				Buckets: []float64{100, 500, 1000, 5000, 10000, 50000, 100000},
			},
			[]string{"method", "route"},
		),
		backendTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "kolibri_backend_requests_total",
				Help: "Total number of requests to the backend API",
			},
			[]string{"endpoint", "status"},
		),
		backendDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "kolibri_backend_request_duration_seconds",
				Help:    "Backend API request duration in seconds",
				Buckets: durationBuckets,
			},
			[]string{"endpoint"},
		),
		backendRetries: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "kolibri_backend_retries_total",
				Help: "Total number of retried backend requests",
			},
			[]string{"endpoint"},
		),
		cacheLookups: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "kolibri_cache_lookups_total",
				Help: "Response cache lookups by result",
			},
			[]string{"result"},
		),
		sessionRefreshes: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "kolibri_session_refreshes_total",
				Help: "Session refresh attempts by outcome",
			},
			[]string{"outcome"},
		),
		healthStatus: f.NewGauge(
			prometheus.GaugeOpts{
				Name: "kolibri_backend_health_status",
				Help: "Health of the backend API as seen by the portal (1 = healthy, 0 = unhealthy)",
			},
		),
	}
}

// RecordHTTPRequest records metrics for an HTTP request.
func (m *Metrics) RecordHTTPRequest(method, route string, statusCode int, duration time.Duration) {
	status := strconv.Itoa(statusCode)
	m.requestsTotal.WithLabelValues(method, route, status).Inc()
	m.requestDuration.WithLabelValues(method, route, status).Observe(duration.Seconds())
}

// RecordResponseSize records the response size.
func (m *Metrics) RecordResponseSize(method, route string, size int) {
	m.responseSize.WithLabelValues(method, route).Observe(float64(size))
}

// ObserveBackend records one backend round trip. status is 0 for transport
// failures.
func (m *Metrics) ObserveBackend(endpoint string, status int, duration time.Duration) {
	label := "error"
	if status > 0 {
		label = strconv.Itoa(status)
	}
	m.backendTotal.WithLabelValues(endpoint, label).Inc()
	m.backendDuration.WithLabelValues(endpoint).Observe(duration.Seconds())
}

// IncBackendRetry counts a retried backend call.
func (m *Metrics) IncBackendRetry(endpoint string) {
	m.backendRetries.WithLabelValues(endpoint).Inc()
}

// CacheHit counts a response served from the cache.
func (m *Metrics) CacheHit() { m.cacheLookups.WithLabelValues("hit").Inc() }

// CacheMiss counts a cache lookup that fell through to the backend.
func (m *Metrics) CacheMiss() { m.cacheLookups.WithLabelValues("miss").Inc() }

// SessionRefreshed counts a session refresh attempt.
func (m *Metrics) SessionRefreshed(ok bool) {
	if ok {
		m.sessionRefreshes.WithLabelValues("ok").Inc()
	} else {
		m.sessionRefreshes.WithLabelValues("failed").Inc()
	}
}

// SetHealthStatus sets the health status.
func (m *Metrics) SetHealthStatus(healthy bool) {
	if healthy {
		m.healthStatus.Set(1)
	} else {
		m.healthStatus.Set(0)
	}
}

// MetricsServer provides a separate HTTP server for Prometheus metrics.
type MetricsServer struct {
	server *http.Server
	logger *zap.Logger
}

// NewMetricsServer creates a new metrics server for gatherer.
func NewMetricsServer(port int, path string, gatherer prometheus.Gatherer, logger *zap.Logger) *MetricsServer {
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	r := http.NewServeMux()
	r.Handle(path, promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	return &MetricsServer{
		server: &http.Server{
			Addr:              fmt.Sprintf(":%d", port),
			Handler:           r,
			ReadHeaderTimeout: 5 * time.Second,
		},
		logger: logger,
	}
}

// Start starts the metrics server. It blocks until Shutdown.
func (ms *MetricsServer) Start() error {
	ms.logger.Info("starting metrics server", zap.String("addr", ms.server.Addr))
	if err := ms.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown gracefully shuts down the metrics server.
func (ms *MetricsServer) Shutdown(ctx context.Context) error {
	return ms.server.Shutdown(ctx)
}

// Middleware records HTTP metrics. Requests are labelled with their mux
// route template so ids do not explode cardinality.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		m.requestsInFlight.Inc()
		defer m.requestsInFlight.Dec()

		start := time.Now()
		rw := &metricsResponseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(rw, r)

		route := routeOf(r)
		m.RecordHTTPRequest(r.Method, route, rw.statusCode, time.Since(start))
		m.RecordResponseSize(r.Method, route, rw.size)
	})
}

func routeOf(r *http.Request) string {
	if cur := mux.CurrentRoute(r); cur != nil {
		if tmpl, err := cur.GetPathTemplate(); err == nil {
			return tmpl
		}
	}
	return "unmatched"
}

// metricsResponseWriter wraps http.ResponseWriter to capture metrics.
type metricsResponseWriter struct {
	http.ResponseWriter
	statusCode int
	size       int
}

// WriteHeader captures the status code.
func (rw *metricsResponseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Write captures the response size.
func (rw *metricsResponseWriter) Write(b []byte) (int, error) {
	size, err := rw.ResponseWriter.Write(b)
	rw.size += size
	return size, err
}
