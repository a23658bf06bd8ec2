package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kirillkom/document-intake/internal/core/domain"
	"github.com/kirillkom/document-intake/internal/core/pipeline"
)

// PipelineMetrics implements pipeline.Observer and the background runner observer.
type PipelineMetrics struct {
	service  string
	registry *prometheus.Registry

	runTotal      *prometheus.CounterVec
	runDuration   *prometheus.HistogramVec
	runInFlight   prometheus.Gauge
	stageDuration *prometheus.HistogramVec
	stageErrors   *prometheus.CounterVec
	taskTotal     *prometheus.CounterVec
	taskDuration  *prometheus.HistogramVec
	taskInFlight  prometheus.Gauge

	retryTotal   *prometheus.CounterVec
	breakerState *prometheus.GaugeVec
	eventsTotal  *prometheus.CounterVec
}

func NewPipelineMetrics(service string) *PipelineMetrics {
	registry := prometheus.NewRegistry()
	constLabels := prometheus.Labels{"service": service}

	runTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "intake",
			Subsystem: "pipeline",
			Name:      "runs_total",
			Help:      "Total pipeline runs by final status and document type.",
		},
		[]string{"service", "status", "document_type"},
	)
	runDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "intake",
			Subsystem: "pipeline",
			Name:      "run_duration_seconds",
			Help:      "Pipeline run duration in seconds by final status.",
			Buckets:   []float64{0.5, 1, 2, 5, 10, 20, 30, 60, 120, 300},
		},
		[]string{"service", "status"},
	)
	runInFlight := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace:   "intake",
			Subsystem:   "pipeline",
			Name:        "runs_in_flight",
			Help:        "Number of pipeline runs in progress.",
			ConstLabels: constLabels,
		},
	)
	stageDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "intake",
			Subsystem: "pipeline",
			Name:      "stage_duration_seconds",
			Help:      "Duration of individual pipeline stages.",
			Buckets:   []float64{0.01, 0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
		},
		[]string{"service", "stage"},
	)
	stageErrors := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "intake",
			Subsystem: "pipeline",
			Name:      "stage_errors_total",
			Help:      "Total failed pipeline stages.",
		},
		[]string{"service", "stage"},
	)
	taskTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "intake",
			Subsystem: "background",
			Name:      "tasks_total",
			Help:      "Total background tasks by status.",
		},
		[]string{"service", "status"},
	)
	taskDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "intake",
			Subsystem: "background",
			Name:      "task_duration_seconds",
			Help:      "Background task duration in seconds by status.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"service", "status"},
	)
	taskInFlight := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace:   "intake",
			Subsystem:   "background",
			Name:        "tasks_in_flight",
			Help:        "Number of running background tasks.",
			ConstLabels: constLabels,
		},
	)

	retryTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "intake",
			Subsystem: "provider",
			Name:      "retries_total",
			Help:      "Retried provider and event bus calls by operation.",
		},
		[]string{"service", "operation"},
	)
	breakerState := prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "intake",
			Subsystem: "provider",
			Name:      "breaker_open",
			Help:      "Circuit breaker state by operation: 0 closed, 0.5 half-open, 1 open.",
		},
		[]string{"service", "operation"},
	)
	eventsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "intake",
			Subsystem: "events",
			Name:      "job_finished_total",
			Help:      "Job-finished notifications by job status and publish outcome.",
		},
		[]string{"service", "status", "outcome"},
	)

	registry.MustRegister(runTotal, runDuration, runInFlight, stageDuration, stageErrors, taskTotal, taskDuration, taskInFlight, retryTotal, breakerState, eventsTotal)

	return &PipelineMetrics{
		service:       service,
		registry:      registry,
		runTotal:      runTotal,
		runDuration:   runDuration,
		runInFlight:   runInFlight,
		stageDuration: stageDuration,
		stageErrors:   stageErrors,
		taskTotal:     taskTotal,
		taskDuration:  taskDuration,
		taskInFlight:  taskInFlight,
		retryTotal:    retryTotal,
		breakerState:  breakerState,
		eventsTotal:   eventsTotal,
	}
}

var _ pipeline.Observer = (*PipelineMetrics)(nil)

func (m *PipelineMetrics) Registry() prometheus.Gatherer {
	return m.registry
}

func (m *PipelineMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *PipelineMetrics) RunStarted() {
	m.runInFlight.Inc()
}

func (m *PipelineMetrics) StageFinished(stage pipeline.Stage, elapsed time.Duration, err error) {
	m.stageDuration.WithLabelValues(m.service, string(stage)).Observe(elapsed.Seconds())
	if err != nil {
		m.stageErrors.WithLabelValues(m.service, string(stage)).Inc()
	}
}

func (m *PipelineMetrics) RunFinished(status domain.JobStatus, docType domain.DocumentType, elapsed time.Duration) {
	m.runInFlight.Dec()
	if docType == "" {
		docType = domain.DocumentUnknown
	}
	m.runTotal.WithLabelValues(m.service, string(status), string(docType)).Inc()
	m.runDuration.WithLabelValues(m.service, string(status)).Observe(elapsed.Seconds())
}

func (m *PipelineMetrics) TaskStarted() {
	m.taskInFlight.Inc()
}

func (m *PipelineMetrics) TaskFinished(duration time.Duration, err error) {
	m.taskInFlight.Dec()

	status := "success"
	if err != nil {
		status = "error"
	}
	m.taskTotal.WithLabelValues(m.service, status).Inc()
	m.taskDuration.WithLabelValues(m.service, status).Observe(duration.Seconds())
}

func (m *PipelineMetrics) OperationRetried(operation string) {
	m.retryTotal.WithLabelValues(m.service, operation).Inc()
}

func (m *PipelineMetrics) BreakerStateChanged(operation, state string) {
	value := 0.0
	switch state {
	case "open":
		value = 1
	case "half-open":
		value = 0.5
	}
	m.breakerState.WithLabelValues(m.service, operation).Set(value)
}

func (m *PipelineMetrics) JobEventPublished(status domain.JobStatus, outcome string) {
	m.eventsTotal.WithLabelValues(m.service, string(status), outcome).Inc()
}
