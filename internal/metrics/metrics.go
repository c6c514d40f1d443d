// Package metrics exposes Prometheus instrumentation for the ingestion
// pipeline.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the pipeline's Prometheus collectors.
type Metrics struct {
	JobsTotal     *prometheus.CounterVec
	JobDuration   *prometheus.HistogramVec
	QueueDepth    *prometheus.GaugeVec
	OutboxByState *prometheus.GaugeVec
}

// New registers the collectors on the given registerer.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		JobsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "fluentbot",
			Name:      "jobs_total",
			Help:      "Jobs processed, by type and result.",
		}, []string{"type", "result"}),

		JobDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "fluentbot",
			Name:      "job_duration_seconds",
			Help:      "Job processing duration, by type.",
			Buckets:   prometheus.ExponentialBuckets(0.1, 2, 14),
		}, []string{"type"}),

		QueueDepth: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "fluentbot",
			Name:      "queue_depth",
			Help:      "Current length of each job stream.",
		}, []string{"stream"}),

		OutboxByState: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "fluentbot",
			Name:      "outbox_entries",
			Help:      "Outbox entries by status.",
		}, []string{"status"}),
	}
}

// ObserveJob records one completed job.
func (m *Metrics) ObserveJob(jobType, result string, seconds float64) {
	m.JobsTotal.WithLabelValues(jobType, result).Inc()
	m.JobDuration.WithLabelValues(jobType).Observe(seconds)
}
