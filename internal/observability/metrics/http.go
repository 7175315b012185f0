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

	"github.com/kirillkom/parish-ocr-validation/internal/core/domain"
)

const namespace = "ocrval"

// HTTPServerMetrics covers the API process: HTTP traffic, the progress
// aggregator, validation sessions and outbound resilience.
type HTTPServerMetrics struct {
	registry *prometheus.Registry
	service  string

	requestTotal    *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	requestInFlight prometheus.Gauge

	trackedDocuments  prometheus.Gauge
	pollLoopRunning   prometheus.Gauge
	pollsTotal        *prometheus.CounterVec
	terminalTotal     *prometheus.CounterVec
	submissionsTotal  *prometheus.CounterVec
	duplicatesTotal   *prometheus.CounterVec
	retriesTotal      *prometheus.CounterVec
	breakerTransition *prometheus.CounterVec
}

func NewHTTPServerMetrics(service string) *HTTPServerMetrics {
	registry := prometheus.NewRegistry()
	constLabels := prometheus.Labels{"service": service}

	m := &HTTPServerMetrics{
		registry: registry,
		service:  service,
		requestTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "http",
				Name:      "requests_total",
				Help:      "Total HTTP requests processed.",
			},
			[]string{"service", "method", "path", "status"},
		),
		requestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "http",
				Name:      "request_duration_seconds",
				Help:      "HTTP request duration in seconds.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"service", "method", "path"},
		),
		requestInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   namespace,
			Subsystem:   "http",
			Name:        "in_flight_requests",
			Help:        "Number of in-flight HTTP requests.",
			ConstLabels: constLabels,
		}),
		trackedDocuments: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   namespace,
			Subsystem:   "progress",
			Name:        "tracked_documents",
			Help:        "Documents currently tracked by the progress aggregator.",
			ConstLabels: constLabels,
		}),
		pollLoopRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   namespace,
			Subsystem:   "progress",
			Name:        "poll_loop_running",
			Help:        "1 while the shared polling loop is running.",
			ConstLabels: constLabels,
		}),
		pollsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "progress",
				Name:      "polls_total",
				Help:      "Progress polls by outcome.",
			},
			[]string{"service", "outcome"},
		),
		terminalTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "progress",
				Name:      "terminal_total",
				Help:      "Documents removed from tracking by terminal state.",
			},
			[]string{"service", "state"},
		),
		submissionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "validation",
				Name:      "submissions_total",
				Help:      "Tuple submissions by action and status.",
			},
			[]string{"service", "action", "status"},
		),
		duplicatesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "validation",
				Name:      "duplicate_candidates_total",
				Help:      "Duplicate person candidates by outcome.",
			},
			[]string{"service", "outcome"},
		),
		retriesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "resilience",
				Name:      "retries_total",
				Help:      "Retried outbound calls by operation.",
			},
			[]string{"service", "operation"},
		),
		breakerTransition: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "resilience",
				Name:      "breaker_transitions_total",
				Help:      "Circuit breaker transitions by operation and target state.",
			},
			[]string{"service", "operation", "state"},
		),
	}

	registry.MustRegister(
		m.requestTotal,
		m.requestDuration,
		m.requestInFlight,
		m.trackedDocuments,
		m.pollLoopRunning,
		m.pollsTotal,
		m.terminalTotal,
		m.submissionsTotal,
		m.duplicatesTotal,
		m.retriesTotal,
		m.breakerTransition,
	)
	return m
}

func (m *HTTPServerMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *HTTPServerMetrics) Middleware(next http.Handler) http.Handler {
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
			m.service,
			r.Method,
			path,
			strconv.Itoa(recorder.statusCode),
		).Inc()
		m.requestDuration.WithLabelValues(m.service, r.Method, path).Observe(time.Since(start).Seconds())
	})
}

// normalizePath folds document ids out of the path label.
func normalizePath(path string) string {
	for _, prefix := range []string{"/v1/progress/", "/v1/validation/"} {
		if !strings.HasPrefix(path, prefix) {
			continue
		}
		rest := strings.TrimPrefix(path, prefix)
		if i := strings.Index(rest, "/"); i >= 0 {
			return prefix + "{document_id}" + rest[i:]
		}
		return prefix + "{document_id}"
	}
	return path
}

func (m *HTTPServerMetrics) SetTrackedDocuments(n int) {
	m.trackedDocuments.Set(float64(n))
}

func (m *HTTPServerMetrics) SetPollLoopRunning(running bool) {
	if running {
		m.pollLoopRunning.Set(1)
		return
	}
	m.pollLoopRunning.Set(0)
}

func (m *HTTPServerMetrics) ObservePoll(outcome string) {
	m.pollsTotal.WithLabelValues(m.service, outcome).Inc()
}

func (m *HTTPServerMetrics) ObserveTerminal(state domain.ProgressState) {
	m.terminalTotal.WithLabelValues(m.service, string(state)).Inc()
}

func (m *HTTPServerMetrics) ObserveSubmission(action domain.ValidationAction, status string) {
	m.submissionsTotal.WithLabelValues(m.service, string(action), status).Inc()
}

func (m *HTTPServerMetrics) ObserveDuplicate(outcome string) {
	m.duplicatesTotal.WithLabelValues(m.service, outcome).Inc()
}

func (m *HTTPServerMetrics) ObserveRetry(operation string) {
	m.retriesTotal.WithLabelValues(m.service, operation).Inc()
}

func (m *HTTPServerMetrics) ObserveBreakerState(operation, state string) {
	m.breakerTransition.WithLabelValues(m.service, operation, state).Inc()
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
