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

	requestTotal    *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	requestInFlight prometheus.Gauge

	searchRequestsTotal    *prometheus.CounterVec
	searchDuration         *prometheus.HistogramVec
	searchHits             *prometheus.HistogramVec
	semanticHitsTotal      *prometheus.CounterVec
	droppedDuplicatesTotal *prometheus.CounterVec
	retrievalDuration      *prometheus.HistogramVec
	retrievalErrorsTotal   *prometheus.CounterVec
	rejectedRequestsTotal  *prometheus.CounterVec
	documentsEnqueuedTotal *prometheus.CounterVec
}

func NewHTTPServerMetrics(service string) *HTTPServerMetrics {
	registry := prometheus.NewRegistry()

	requestTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "hybrid",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total HTTP requests processed.",
		},
		[]string{"service", "method", "path", "status"},
	)
	requestDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "hybrid",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"service", "method", "path"},
	)
	requestInFlight := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "hybrid",
			Subsystem: "http",
			Name:      "in_flight_requests",
			Help:      "Number of in-flight HTTP requests.",
			ConstLabels: prometheus.Labels{
				"service": service,
			},
		},
	)
	searchRequestsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "hybrid",
			Subsystem: "search",
			Name:      "requests_total",
			Help:      "Total successful searches by endpoint and fusion mode.",
		},
		[]string{"service", "endpoint", "mode"},
	)
	searchDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "hybrid",
			Subsystem: "search",
			Name:      "duration_seconds",
			Help:      "Search execution duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"service", "endpoint"},
	)
	searchHits := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "hybrid",
			Subsystem: "search",
			Name:      "page_hits",
			Help:      "Distribution of hits returned per page.",
			Buckets:   []float64{0, 1, 2, 5, 10, 20, 50, 100},
		},
		[]string{"service", "endpoint"},
	)
	semanticHitsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "hybrid",
			Subsystem: "search",
			Name:      "semantic_hits_total",
			Help:      "Total page hits contributed by the vector source.",
		},
		[]string{"service", "endpoint"},
	)
	droppedDuplicatesTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "hybrid",
			Subsystem: "search",
			Name:      "dropped_duplicates_total",
			Help:      "Total results removed by the distinct attribute.",
		},
		[]string{"service", "endpoint"},
	)
	retrievalDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "hybrid",
			Subsystem: "retrieval",
			Name:      "duration_seconds",
			Help:      "Retrieval source latency in seconds.",
			Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		},
		[]string{"service", "source"},
	)
	retrievalErrorsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "hybrid",
			Subsystem: "retrieval",
			Name:      "errors_total",
			Help:      "Total failed retrieval calls by source.",
		},
		[]string{"service", "source"},
	)
	rejectedRequestsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "hybrid",
			Subsystem: "http",
			Name:      "rejected_requests_total",
			Help:      "Total requests rejected by traffic control.",
		},
		[]string{"service", "reason"},
	)
	documentsEnqueuedTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "hybrid",
			Subsystem: "documents",
			Name:      "enqueued_total",
			Help:      "Total documents accepted for indexing.",
		},
		[]string{"service", "index"},
	)

	registry.MustRegister(
		requestTotal,
		requestDuration,
		requestInFlight,
		searchRequestsTotal,
		searchDuration,
		searchHits,
		semanticHitsTotal,
		droppedDuplicatesTotal,
		retrievalDuration,
		retrievalErrorsTotal,
		rejectedRequestsTotal,
		documentsEnqueuedTotal,
	)

	return &HTTPServerMetrics{
		registry:               registry,
		requestTotal:           requestTotal,
		requestDuration:        requestDuration,
		requestInFlight:        requestInFlight,
		searchRequestsTotal:    searchRequestsTotal,
		searchDuration:         searchDuration,
		searchHits:             searchHits,
		semanticHitsTotal:      semanticHitsTotal,
		droppedDuplicatesTotal: droppedDuplicatesTotal,
		retrievalDuration:      retrievalDuration,
		retrievalErrorsTotal:   retrievalErrorsTotal,
		rejectedRequestsTotal:  rejectedRequestsTotal,
		documentsEnqueuedTotal: documentsEnqueuedTotal,
	}
}

func (m *HTTPServerMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
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

// normalizePath folds index uids, document ids and task uids into route templates to keep
// label cardinality bounded.
func normalizePath(path string) string {
	parts := strings.Split(strings.Trim(path, "/"), "/")
	switch {
	case len(parts) >= 2 && parts[0] == "indexes":
		parts[1] = "{uid}"
		if len(parts) == 4 && parts[2] == "documents" {
			parts[3] = "{id}"
		}
		return "/" + strings.Join(parts, "/")
	case len(parts) == 2 && parts[0] == "tasks":
		return "/tasks/{uid}"
	default:
		return path
	}
}

// SearchObservation summarises one answered search request.
type SearchObservation struct {
	Endpoint          string
	Mode              string
	Hits              int
	SemanticHits      int
	DroppedDuplicates int
	Duration          time.Duration
}

func (m *HTTPServerMetrics) RecordSearch(service string, obs SearchObservation) {
	mode := obs.Mode
	if mode == "" {
		mode = "unknown"
	}
	m.searchRequestsTotal.WithLabelValues(service, obs.Endpoint, mode).Inc()
	m.searchDuration.WithLabelValues(service, obs.Endpoint).Observe(obs.Duration.Seconds())
	m.searchHits.WithLabelValues(service, obs.Endpoint).Observe(float64(obs.Hits))
	if obs.SemanticHits > 0 {
		m.semanticHitsTotal.WithLabelValues(service, obs.Endpoint).Add(float64(obs.SemanticHits))
	}
	if obs.DroppedDuplicates > 0 {
		m.droppedDuplicatesTotal.WithLabelValues(service, obs.Endpoint).Add(float64(obs.DroppedDuplicates))
	}
}

func (m *HTTPServerMetrics) RecordRetrieval(service, source string, duration time.Duration, err error) {
	m.retrievalDuration.WithLabelValues(service, source).Observe(duration.Seconds())
	if err != nil {
		m.retrievalErrorsTotal.WithLabelValues(service, source).Inc()
	}
}

func (m *HTTPServerMetrics) RecordRejected(service, reason string) {
	m.rejectedRequestsTotal.WithLabelValues(service, reason).Inc()
}

func (m *HTTPServerMetrics) RecordDocumentsEnqueued(service, indexUID string, count int) {
	if count <= 0 {
		return
	}
	m.documentsEnqueuedTotal.WithLabelValues(service, indexUID).Add(float64(count))
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

func (w *statusRecorder) Push(target string, opts *http.PushOptions) error {
	pusher, ok := w.ResponseWriter.(http.Pusher)
	if !ok {
		return http.ErrNotSupported
	}
	return pusher.Push(target, opts)
}
