// Package metrics exposes Prometheus instrumentation for the worker
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the worker's Prometheus collectors
type Metrics struct {
	JobsProcessed     *prometheus.CounterVec
	JobsRetried       prometheus.Counter
	JobsArchived      prometheus.Counter
	ClaimConflicts    prometheus.Counter
	LastPoll          prometheus.Gauge
	ProcessingSeconds *prometheus.HistogramVec
}

// New registers the worker collectors against reg
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		JobsProcessed: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "jobqueue",
			Name:      "jobs_processed_total",
			Help:      "Jobs finalized, labeled by kind and terminal status.",
		}, []string{"kind", "status"}),
		JobsRetried: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "jobqueue",
			Name:      "jobs_retried_total",
			Help:      "Deliveries left to reappear after a transient failure.",
		}),
		JobsArchived: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "jobqueue",
			Name:      "jobs_archived_total",
			Help:      "Messages moved to the dead-letter area.",
		}),
		ClaimConflicts: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "jobqueue",
			Name:      "claim_conflicts_total",
			Help:      "Deliveries dropped because another claim held the job.",
		}),
		LastPoll: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "jobqueue",
			Name:      "last_poll_timestamp_seconds",
			Help:      "Unix time of the last queue poll.",
		}),
		ProcessingSeconds: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "jobqueue",
			Name:      "processing_duration_seconds",
			Help:      "Wall time spent running a pipeline.",
			Buckets:   prometheus.ExponentialBuckets(0.1, 2, 12),
		}, []string{"kind"}),
	}
}

// ObserveProcessing records one pipeline run
func (m *Metrics) ObserveProcessing(kind string, elapsed time.Duration) {
	m.ProcessingSeconds.WithLabelValues(kind).Observe(elapsed.Seconds())
}

// MarkPoll records that a queue poll just happened
func (m *Metrics) MarkPoll() {
	m.LastPoll.SetToCurrentTime()
}
