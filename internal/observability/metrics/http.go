package metrics

import (
	"bufio"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type HTTPServerMetrics struct {
	registry *prometheus.Registry

	requestTotal      *prometheus.CounterVec
	requestDuration   *prometheus.HistogramVec
	requestInFlight   prometheus.Gauge
	uploadBytes       *prometheus.HistogramVec
	rateLimitedTotal  *prometheus.CounterVec
	inboundEmailTotal *prometheus.CounterVec
}

func NewHTTPServerMetrics(service string) *HTTPServerMetrics {
	registry := prometheus.NewRegistry()

	requestTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "intake",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total HTTP requests processed.",
		},
		[]string{"service", "method", "path", "status"},
	)
	requestDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "intake",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"service", "method", "path"},
	)
	requestInFlight := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "intake",
			Subsystem: "http",
			Name:      "in_flight_requests",
			Help:      "Number of in-flight HTTP requests.",
			ConstLabels: prometheus.Labels{
				"service": service,
			},
		},
	)
	uploadBytes := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "intake",
			Subsystem: "http",
			Name:      "upload_bytes",
			Help:      "Size of uploaded documents in bytes.",
			Buckets:   prometheus.ExponentialBuckets(1024, 4, 9),
		},
		[]string{"service", "endpoint"},
	)
	rateLimitedTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "intake",
			Subsystem: "http",
			Name:      "rate_limited_total",
			Help:      "Total requests rejected by the rate limiter.",
		},
		[]string{"service", "path"},
	)
	inboundEmailTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "intake",
			Subsystem: "email",
			Name:      "inbound_total",
			Help:      "Total inbound email webhooks by outcome.",
		},
		[]string{"service", "outcome"},
	)

	registry.MustRegister(
		requestTotal,
		requestDuration,
		requestInFlight,
		uploadBytes,
		rateLimitedTotal,
		inboundEmailTotal,
	)

	return &HTTPServerMetrics{
		registry:          registry,
		requestTotal:      requestTotal,
		requestDuration:   requestDuration,
		requestInFlight:   requestInFlight,
		uploadBytes:       uploadBytes,
		rateLimitedTotal:  rateLimitedTotal,
		inboundEmailTotal: inboundEmailTotal,
	}
}

func (m *HTTPServerMetrics) Registry() prometheus.Gatherer {
	return m.registry
}

func (m *HTTPServerMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Handler serves the union of several private registries on one endpoint.
func Handler(gatherers ...prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(prometheus.Gatherers(gatherers), promhttp.HandlerOpts{})
}

func (m *HTTPServerMetrics) Middleware(service string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		path := normalizePath(r.URL.Path)
		recorder := &statusRecorder{
			ResponseWriter: w,
			statusCode:     http.StatusOK,
		}

		m.requestInFlight.Inc()
		defer m.requestInFlight.Dec()

		next.ServeHTTP(recorder, r)

		m.requestTotal.WithLabelValues(
			service,
			r.Method,
			path,
			strconv.Itoa(recorder.statusCode),
		).Inc()
		m.requestDuration.WithLabelValues(service, r.Method, path).Observe(time.Since(start).Seconds())
	})
}

// normalizePath collapses record and job ids so label cardinality stays bounded.
func normalizePath(path string) string {
	parts := strings.Split(strings.Trim(path, "/"), "/")
	if len(parts) < 2 {
		return path
	}
	switch parts[0] {
	case "jobs", "orders", "invoices":
	default:
		return path
	}
	switch parts[1] {
	case "counts", "export", "generate":
		return path
	}
	parts[1] = "{id}"
	return "/" + strings.Join(parts, "/")
}

func (m *HTTPServerMetrics) RecordUpload(service, endpoint string, size int64) {
	if size < 0 {
		return
	}
	m.uploadBytes.WithLabelValues(service, endpoint).Observe(float64(size))
}

func (m *HTTPServerMetrics) RecordRateLimited(service, path string) {
	m.rateLimitedTotal.WithLabelValues(service, normalizePath(path)).Inc()
}

func (m *HTTPServerMetrics) RecordInboundEmail(service, outcome string) {
	if outcome == "" {
		outcome = "unknown"
	}
	m.inboundEmailTotal.WithLabelValues(service, outcome).Inc()
}

type statusRecorder struct {
	http.ResponseWriter
	statusCode int
}

func (w *statusRecorder) WriteHeader(statusCode int) {
	w.statusCode = statusCode
	w.ResponseWriter.WriteHeader(statusCode)
}

func (w *statusRecorder) Flush() {
	flusher, ok := w.ResponseWriter.(http.Flusher)
	if ok {
		flusher.Flush()
	}
}

func (w *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hijacker, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("response writer does not implement http.Hijacker")
	}
	return hijacker.Hijack()
}
