// Package metrics exposes session and submission counters on a private
// prometheus registry. A nil *Metrics is valid and records nothing.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "assessment_session"

type Metrics struct {
	registry *prometheus.Registry

	sessionsCreated    *prometheus.CounterVec
	sessionsFinished   *prometheus.CounterVec
	responsesRecorded  *prometheus.CounterVec
	responseSeconds    prometheus.Histogram
	storeFailures      *prometheus.CounterVec
	submissions        *prometheus.CounterVec
	submissionDuration prometheus.Histogram
	backendRequests    *prometheus.CounterVec
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		sessionsCreated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_created_total",
			Help:      "Sessions created, by assessment type.",
		}, []string{"assessment_type"}),
		sessionsFinished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_finished_total",
			Help:      "Sessions that left the active state, by outcome.",
		}, []string{"outcome"}),
		responsesRecorded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "responses_recorded_total",
			Help:      "Responses appended to the current session, by question type.",
		}, []string{"question_type"}),
		responseSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "response_time_seconds",
			Help:      "Time taken per answered question.",
			Buckets:   []float64{1, 2, 5, 10, 20, 30, 60, 120},
		}),
		storeFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "store_failures_total",
			Help:      "Session store operations that degraded to no record.",
		}, []string{"operation"}),
		submissions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "submissions_total",
			Help:      "Assessment submissions, by kind and result.",
		}, []string{"kind", "result"}),
		submissionDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "submission_duration_seconds",
			Help:      "Latency of backend submission calls.",
			Buckets:   prometheus.DefBuckets,
		}),
		backendRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "backend_requests_total",
			Help:      "Requests made to the quiz backend, by endpoint and status code.",
		}, []string{"endpoint", "code"}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.sessionsCreated,
		m.sessionsFinished,
		m.responsesRecorded,
		m.responseSeconds,
		m.storeFailures,
		m.submissions,
		m.submissionDuration,
		m.backendRequests,
	)
	return m
}

func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) SessionCreated(assessmentType string) {
	if m == nil {
		return
	}
	m.sessionsCreated.WithLabelValues(assessmentType).Inc()
}

// SessionFinished records completed, abandoned or recovered transitions.
func (m *Metrics) SessionFinished(outcome string) {
	if m == nil {
		return
	}
	m.sessionsFinished.WithLabelValues(outcome).Inc()
}

func (m *Metrics) ResponseRecorded(questionType string, seconds float64) {
	if m == nil {
		return
	}
	m.responsesRecorded.WithLabelValues(questionType).Inc()
	m.responseSeconds.Observe(seconds)
}

func (m *Metrics) StoreFailure(operation string) {
	if m == nil {
		return
	}
	m.storeFailures.WithLabelValues(operation).Inc()
}

func (m *Metrics) Submission(kind, result string, seconds float64) {
	if m == nil {
		return
	}
	m.submissions.WithLabelValues(kind, result).Inc()
	m.submissionDuration.Observe(seconds)
}

func (m *Metrics) BackendRequest(endpoint, code string) {
	if m == nil {
		return
	}
	m.backendRequests.WithLabelValues(endpoint, code).Inc()
}
