package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// WorkerMetrics covers the journal worker consuming validation events.
type WorkerMetrics struct {
	registry *prometheus.Registry
	service  string

	eventsTotal       *prometheus.CounterVec
	eventDuration     *prometheus.HistogramVec
	eventsInFlight    prometheus.Gauge
	eventLag          prometheus.Histogram
	retriesTotal      *prometheus.CounterVec
	breakerTransition *prometheus.CounterVec
}

func NewWorkerMetrics(service string) *WorkerMetrics {
	registry := prometheus.NewRegistry()
	constLabels := prometheus.Labels{"service": service}

	m := &WorkerMetrics{
		registry: registry,
		service:  service,
		eventsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "worker",
				Name:      "journal_events_total",
				Help:      "Validation events written to the journal by status.",
			},
			[]string{"service", "status"},
		),
		eventDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "worker",
				Name:      "journal_event_duration_seconds",
				Help:      "Journal write duration in seconds by status.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"service", "status"},
		),
		eventsInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   namespace,
			Subsystem:   "worker",
			Name:        "journal_events_in_flight",
			Help:        "Number of validation events being written.",
			ConstLabels: constLabels,
		}),
		eventLag: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace:   namespace,
			Subsystem:   "worker",
			Name:        "event_lag_seconds",
			Help:        "Delay between server acceptance and journal write start.",
			Buckets:     []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120, 300, 600},
			ConstLabels: constLabels,
		}),
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

	registry.MustRegister(m.eventsTotal, m.eventDuration, m.eventsInFlight, m.eventLag, m.retriesTotal, m.breakerTransition)
	return m
}

func (m *WorkerMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *WorkerMetrics) StartEvent() {
	m.eventsInFlight.Inc()
}

func (m *WorkerMetrics) FinishEvent(duration time.Duration, err error) {
	m.eventsInFlight.Dec()

	status := "success"
	if err != nil {
		status = "error"
	}

	m.eventsTotal.WithLabelValues(m.service, status).Inc()
	m.eventDuration.WithLabelValues(m.service, status).Observe(duration.Seconds())
}

func (m *WorkerMetrics) ObserveEventLag(lag time.Duration) {
	if lag < 0 {
		return
	}
	m.eventLag.Observe(lag.Seconds())
}

func (m *WorkerMetrics) ObserveRetry(operation string) {
	m.retriesTotal.WithLabelValues(m.service, operation).Inc()
}

func (m *WorkerMetrics) ObserveBreakerState(operation, state string) {
	m.breakerTransition.WithLabelValues(m.service, operation, state).Inc()
}
