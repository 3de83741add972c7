package observability

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the service's prometheus collectors. A nil *Metrics is a no-op.
type Metrics struct {
	requests     *prometheus.CounterVec
	requestTime  *prometheus.HistogramVec
	errors       *prometheus.CounterVec
	runs         *prometheus.CounterVec
	attempts     *prometheus.CounterVec
	retries      *prometheus.CounterVec
	stepDuration *prometheus.HistogramVec
}

// NewMetrics registers collectors on reg. Pass prometheus.NewRegistry() in tests.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "triage",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "HTTP requests by route, method and status",
		}, []string{"path", "method", "status"}),
		requestTime: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "triage",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency",
			Buckets:   prometheus.DefBuckets,
		}, []string{"path", "method"}),
		errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "triage",
			Subsystem: "http",
			Name:      "errors_total",
			Help:      "HTTP error responses by route and error code",
		}, []string{"path", "method", "code"}),
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "triage",
			Subsystem: "workflow",
			Name:      "runs_total",
			Help:      "Finished workflow runs by workflow and final status",
		}, []string{"workflow", "status"}),
		attempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "triage",
			Subsystem: "workflow",
			Name:      "attempts_total",
			Help:      "Workflow run attempts started",
		}, []string{"workflow"}),
		retries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "triage",
			Subsystem: "workflow",
			Name:      "retries_total",
			Help:      "Workflow run retries scheduled after a transient failure",
		}, []string{"workflow"}),
		stepDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "triage",
			Subsystem: "workflow",
			Name:      "step_duration_seconds",
			Help:      "Duration of executed (non-memoized) workflow steps",
			Buckets:   prometheus.DefBuckets,
		}, []string{"workflow", "step", "outcome"}),
	}
	if reg != nil {
		reg.MustRegister(m.requests, m.requestTime, m.errors, m.runs, m.attempts, m.retries, m.stepDuration)
	}
	return m
}

// RecordRequest increments counters for requests.
func (m *Metrics) RecordRequest(path, method string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(path, method, strconv.Itoa(status)).Inc()
	m.requestTime.WithLabelValues(path, method).Observe(duration.Seconds())
}

// RecordError increments error counters.
func (m *Metrics) RecordError(path, method, code string) {
	if m == nil {
		return
	}
	m.errors.WithLabelValues(path, method, code).Inc()
}

// RecordAttempt counts a started run attempt.
func (m *Metrics) RecordAttempt(workflow string) {
	if m == nil {
		return
	}
	m.attempts.WithLabelValues(workflow).Inc()
}

// RecordRetry counts a scheduled retry.
func (m *Metrics) RecordRetry(workflow string) {
	if m == nil {
		return
	}
	m.retries.WithLabelValues(workflow).Inc()
}

// RecordRun counts a run reaching a final status.
func (m *Metrics) RecordRun(workflow, status string) {
	if m == nil {
		return
	}
	m.runs.WithLabelValues(workflow, status).Inc()
}

// RecordStep observes an executed step.
func (m *Metrics) RecordStep(workflow, step string, success bool, duration time.Duration) {
	if m == nil {
		return
	}
	outcome := "success"
	if !success {
		outcome = "failure"
	}
	m.stepDuration.WithLabelValues(workflow, step, outcome).Observe(duration.Seconds())
}
