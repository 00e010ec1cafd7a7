package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type WorkerMetrics struct {
	registry *prometheus.Registry

	processTotal     *prometheus.CounterVec
	processDuration  *prometheus.HistogramVec
	processInFlight  prometheus.Gauge
	queueLag         *prometheus.HistogramVec
	documentsIndexed *prometheus.CounterVec
}

func NewWorkerMetrics(service string) *WorkerMetrics {
	registry := prometheus.NewRegistry()

	processTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "hybrid",
			Subsystem: "worker",
			Name:      "task_process_total",
			Help:      "Total processed indexing tasks by status.",
		},
		[]string{"service", "status"},
	)
	processDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "hybrid",
			Subsystem: "worker",
			Name:      "task_process_duration_seconds",
			Help:      "Indexing task duration in seconds by status.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"service", "status"},
	)
	processInFlight := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "hybrid",
			Subsystem: "worker",
			Name:      "task_process_in_flight",
			Help:      "Number of in-flight indexing tasks.",
			ConstLabels: prometheus.Labels{
				"service": service,
			},
		},
	)
	queueLag := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "hybrid",
			Subsystem: "worker",
			Name:      "queue_lag_seconds",
			Help:      "Delay between task enqueue and processing start.",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120, 300, 600},
		},
		[]string{"service"},
	)
	documentsIndexed := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "hybrid",
			Subsystem: "worker",
			Name:      "documents_indexed_total",
			Help:      "Total documents written by succeeded tasks.",
		},
		[]string{"service", "index"},
	)

	registry.MustRegister(processTotal, processDuration, processInFlight, queueLag, documentsIndexed)

	return &WorkerMetrics{
		registry:         registry,
		processTotal:     processTotal,
		processDuration:  processDuration,
		processInFlight:  processInFlight,
		queueLag:         queueLag,
		documentsIndexed: documentsIndexed,
	}
}

func (m *WorkerMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *WorkerMetrics) StartTask() {
	m.processInFlight.Inc()
}

func (m *WorkerMetrics) FinishTask(service string, duration time.Duration, err error) {
	m.processInFlight.Dec()

	status := "success"
	if err != nil {
		status = "error"
	}

	m.processTotal.WithLabelValues(service, status).Inc()
	m.processDuration.WithLabelValues(service, status).Observe(duration.Seconds())
}

func (m *WorkerMetrics) ObserveQueueLag(service string, lag time.Duration) {
	if lag < 0 {
		return
	}
	m.queueLag.WithLabelValues(service).Observe(lag.Seconds())
}

func (m *WorkerMetrics) RecordDocumentsIndexed(service, indexUID string, count int) {
	if count <= 0 {
		return
	}
	m.documentsIndexed.WithLabelValues(service, indexUID).Add(float64(count))
}
