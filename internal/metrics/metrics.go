package metrics

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	svcerrors "github.com/openbuilders/batch-submitter/internal/errors"
	"github.com/openbuilders/batch-submitter/internal/lifecycle"
)

const namespace = "batch_submitter"

var _ lifecycle.Observer = (*Metrics)(nil)

// Metrics collects batch lifecycle and HTTP metrics. It is a
// lifecycle.Observer.
type Metrics struct {
	BatchesSubmitted    prometheus.Counter
	TransactionsSent    prometheus.Counter
	BatchesResolved     *prometheus.CounterVec
	Failures            *prometheus.CounterVec
	Attempts            prometheus.Histogram
	JobDuration         prometheus.Histogram
	JobsInFlight        prometheus.Gauge
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
}

// New registers every metric with reg. Pass prometheus.DefaultRegisterer
// to expose them on the default /metrics handler.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)

	return &Metrics{
		BatchesSubmitted: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "batches_submitted_total",
			Help:      "Batches accepted by the submission backend, retries included.",
		}),
		TransactionsSent: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transactions_submitted_total",
			Help:      "Signed transactions handed to the submission backend.",
		}),
		BatchesResolved: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "batches_resolved_total",
			Help:      "Batches that left the polling state, by final status.",
		}, []string{"status"}),
		Failures: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "batch_failures_total",
			Help:      "Failed lifecycle runs by error code.",
		}, []string{"code"}),
		Attempts: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "batch_attempts",
			Help:      "Submit attempts per resolved batch.",
			Buckets:   []float64{1, 2, 3, 4, 5, 8},
		}),
		JobDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "job_duration_seconds",
			Help:      "Time from job pickup to its terminal outcome.",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300},
		}),
		JobsInFlight: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "jobs_in_flight",
			Help:      "Jobs currently processed by the workers.",
		}),
		HTTPRequestsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests.",
		}, []string{"method", "path", "status"}),
		HTTPRequestDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency distributions.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.3, 0.5, 1.0, 2.0, 5.0},
		}, []string{"method", "path"}),
	}
}

func (m *Metrics) Submitted(_ context.Context, e lifecycle.Event) {
	m.BatchesSubmitted.Inc()
	m.TransactionsSent.Add(float64(e.Transactions))
}

func (m *Metrics) Resolved(_ context.Context, e lifecycle.Event) {
	m.BatchesResolved.WithLabelValues(string(e.Status)).Inc()
	m.Attempts.Observe(float64(e.Attempt + 1))

	if e.Err != nil {
		code, ok := svcerrors.CodeOf(e.Err)
		if !ok {
			code = "unknown"
		}

		m.Failures.WithLabelValues(string(code)).Inc()
	}
}

// JobStarted marks a job as in flight and returns the function that ends
// it.
func (m *Metrics) JobStarted() func() {
	start := time.Now()
	m.JobsInFlight.Inc()

	return func() {
		m.JobsInFlight.Dec()
		m.JobDuration.Observe(time.Since(start).Seconds())
	}
}
