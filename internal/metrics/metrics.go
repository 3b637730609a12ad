package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus instruments exposed on /metrics.
type Metrics struct {
	TickRunsTotal        prometheus.Counter
	TickSkippedTotal     prometheus.Counter
	TickDuration         prometheus.Histogram
	JobTransitionsTotal  prometheus.CounterVec
	JobsByStatus         prometheus.GaugeVec
	BillingRequestsTotal prometheus.CounterVec
	BillingDuration      prometheus.Histogram
}

func New() *Metrics {
	return &Metrics{
		TickRunsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "discount_scheduler_ticks_total",
			Help: "Total number of completed scheduler ticks",
		}),
		TickSkippedTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "discount_scheduler_ticks_skipped_total",
			Help: "Ticks skipped because a previous tick was still running",
		}),
		TickDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "discount_scheduler_tick_duration_seconds",
			Help:    "Wall-clock duration of a scheduler tick",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
		}),
		JobTransitionsTotal: *promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "discount_job_transitions_total",
				Help: "Discount job state transitions by resulting status",
			},
			[]string{"status"},
		),
		JobsByStatus: *promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "discount_jobs_by_status",
				Help: "Current number of discount jobs per status",
			},
			[]string{"status"},
		),
		BillingRequestsTotal: *promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "billing_requests_total",
				Help: "Requests issued against the billing API by operation and outcome",
			},
			[]string{"operation", "outcome"},
		),
		BillingDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "billing_request_duration_seconds",
			Help:    "Latency of billing API round trips",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 10),
		}),
	}
}

// RecordTransition bumps the transition counter for the given job status.
func (m *Metrics) RecordTransition(status string) {
	m.JobTransitionsTotal.WithLabelValues(status).Inc()
}

// RecordBilling records a single billing call outcome.
func (m *Metrics) RecordBilling(operation string, err error, seconds float64) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.BillingRequestsTotal.WithLabelValues(operation, outcome).Inc()
	m.BillingDuration.Observe(seconds)
}

// SetJobsByStatus replaces the per-status gauge from a snapshot count.
func (m *Metrics) SetJobsByStatus(counts map[string]int64) {
	for status, n := range counts {
		m.JobsByStatus.WithLabelValues(status).Set(float64(n))
	}
}
