// Package metrics exposes the prometheus collectors of the deployer.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "deployer"

var (
	jobBuckets  = []float64{0.5, 1, 5, 15, 30, 60, 120, 300, 600, 1200}
	httpBuckets = []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10}
)

// Metrics owns a private registry so several instances can coexist in tests.
type Metrics struct {
	registry *prometheus.Registry

	jobsTotal      *prometheus.CounterVec
	jobDuration    *prometheus.HistogramVec
	jobState       *prometheus.CounterVec
	jobsInFlight   *prometheus.GaugeVec
	queueErrors    *prometheus.CounterVec
	requestTotal   *prometheus.CounterVec
	requestLatency *prometheus.HistogramVec
}

// New creates the collectors and registers them with the Go and process
// collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		jobsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "jobs",
			Name:      "processed_total",
			Help:      "Count of processed jobs by queue, job name and result status",
		}, []string{"queue", "job", "status"}),
		jobDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "jobs",
			Name:      "duration_seconds",
			Help:      "Wall time of job handlers",
			Buckets:   jobBuckets,
		}, []string{"queue", "job"}),
		jobState: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "jobs",
			Name:      "state_transitions_total",
			Help:      "Count of deploy pipeline state transitions",
		}, []string{"state"}),
		jobsInFlight: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "jobs",
			Name:      "in_flight",
			Help:      "Jobs currently executing per queue",
		}, []string{"queue"}),
		queueErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "queue",
			Name:      "errors_total",
			Help:      "Count of queue transport errors by operation",
		}, []string{"queue", "op"}),
		requestTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "api",
			Name:      "http_requests_total",
			Help:      "Count of processed HTTP requests",
		}, []string{"method", "route", "status"}),
		requestLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "api",
			Name:      "http_request_duration_seconds",
			Help:      "Latency distribution of HTTP handlers",
			Buckets:   httpBuckets,
		}, []string{"method", "route", "status"}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.jobsTotal, m.jobDuration, m.jobState, m.jobsInFlight, m.queueErrors,
		m.requestTotal, m.requestLatency,
	)
	return m
}

// Handler serves the registry in the exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// JobStarted marks a job of queue as executing. The returned func records
// the outcome.
func (m *Metrics) JobStarted(queue, job string) func(status string) {
	start := time.Now()
	m.jobsInFlight.WithLabelValues(queue).Inc()
	return func(status string) {
		m.jobsInFlight.WithLabelValues(queue).Dec()
		m.jobsTotal.WithLabelValues(queue, job, status).Inc()
		m.jobDuration.WithLabelValues(queue, job).Observe(time.Since(start).Seconds())
	}
}

// StateEntered counts a deploy pipeline state transition.
func (m *Metrics) StateEntered(state string) {
	m.jobState.WithLabelValues(state).Inc()
}

// QueueError counts a transport error.
func (m *Metrics) QueueError(queue, op string) {
	m.queueErrors.WithLabelValues(queue, op).Inc()
}

// ObserveRequest records one HTTP request.
func (m *Metrics) ObserveRequest(method, route string, status int, duration time.Duration) {
	labels := prometheus.Labels{
		"method": method,
		"route":  route,
		"status": strconv.Itoa(status),
	}
	m.requestTotal.With(labels).Inc()
	m.requestLatency.With(labels).Observe(duration.Seconds())
}
