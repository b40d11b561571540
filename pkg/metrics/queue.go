package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// QueueMetrics instruments the OCR job dispatcher. It satisfies the
// dispatcher's Metrics interface; a nil *QueueMetrics is a no-op.
type QueueMetrics struct {
	jobsLeased    prometheus.Counter
	jobsCompleted prometheus.Counter
	jobsRetried   prometheus.Counter
	jobsFailed    prometheus.Counter
	leasesExpired prometheus.Counter
	jobDuration   prometheus.Histogram
}

// NewQueueMetrics creates dispatcher metrics, or nil when metrics are
// disabled.
func NewQueueMetrics() *QueueMetrics {
	reg := GetRegistry()
	if reg == nil {
		return nil
	}

	return &QueueMetrics{
		jobsLeased: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "docsvc_ocr_jobs_leased_total",
			Help: "Total number of OCR jobs leased by workers",
		}),
		jobsCompleted: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "docsvc_ocr_jobs_completed_total",
			Help: "Total number of OCR jobs completed successfully",
		}),
		jobsRetried: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "docsvc_ocr_jobs_retried_total",
			Help: "Total number of OCR job attempts scheduled for retry",
		}),
		jobsFailed: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "docsvc_ocr_jobs_failed_total",
			Help: "Total number of OCR jobs that failed permanently",
		}),
		leasesExpired: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "docsvc_ocr_leases_expired_total",
			Help: "Total number of job leases reclaimed from stalled workers",
		}),
		jobDuration: promauto.With(reg).NewHistogram(prometheus.HistogramOpts{
			Name: "docsvc_ocr_job_duration_seconds",
			Help: "End-to-end duration of successful OCR jobs in seconds",
			Buckets: []float64{
				0.5, 1, 2.5, 5, 10, 30, 60, 120, 300,
			},
		}),
	}
}

func (m *QueueMetrics) JobLeased() {
	if m == nil {
		return
	}
	m.jobsLeased.Inc()
}

func (m *QueueMetrics) JobCompleted(duration time.Duration) {
	if m == nil {
		return
	}
	m.jobsCompleted.Inc()
	m.jobDuration.Observe(duration.Seconds())
}

func (m *QueueMetrics) JobRetried() {
	if m == nil {
		return
	}
	m.jobsRetried.Inc()
}

func (m *QueueMetrics) JobFailed() {
	if m == nil {
		return
	}
	m.jobsFailed.Inc()
}

func (m *QueueMetrics) LeasesExpired(count int) {
	if m == nil {
		return
	}
	m.leasesExpired.Add(float64(count))
}
