package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// JobMetrics holds the crop job collectors exported on /metrics.
type JobMetrics struct {
	Total     prometheus.Counter
	Completed prometheus.Counter
	Failed    prometheus.Counter
	Duration  prometheus.Histogram
	// QueueDepth is the number of job ids waiting behind the one being processed.
	QueueDepth prometheus.Gauge
}

// NewJobMetrics registers the crop job collectors on reg.
func NewJobMetrics(reg prometheus.Registerer) *JobMetrics {
	factory := promauto.With(reg)
	return &JobMetrics{
		Total: factory.NewCounter(prometheus.CounterOpts{
			Name: "crop_jobs_total",
			Help: "Crop jobs taken from the queue.",
		}),
		Completed: factory.NewCounter(prometheus.CounterOpts{
			Name: "crop_jobs_completed_total",
			Help: "Crop jobs that finished successfully.",
		}),
		Failed: factory.NewCounter(prometheus.CounterOpts{
			Name: "crop_jobs_failed_total",
			Help: "Crop jobs that failed.",
		}),
		Duration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "crop_job_processing_duration_seconds",
			Help:    "Time spent processing a crop job, including the scheduling delay.",
			Buckets: []float64{5, 10, 15, 20, 25, 30, 45, 60},
		}),
		QueueDepth: factory.NewGauge(prometheus.GaugeOpts{
			Name: "crop_job_queue_depth",
			Help: "Crop jobs waiting in the queue when the worker last took one.",
		}),
	}
}

// ObserveCompleted records a successful job.
func (m *JobMetrics) ObserveCompleted(elapsed time.Duration) {
	m.Completed.Inc()
	m.Duration.Observe(elapsed.Seconds())
}

// ObserveFailed records a failed job.
func (m *JobMetrics) ObserveFailed(elapsed time.Duration) {
	m.Failed.Inc()
	m.Duration.Observe(elapsed.Seconds())
}
