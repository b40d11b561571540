package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// DocumentMetrics instruments the document service operations. A nil
// *DocumentMetrics is a no-op.
type DocumentMetrics struct {
	uploads       *prometheus.CounterVec
	uploadBytes   prometheus.Histogram
	downloads     prometheus.Counter
	deletes       *prometheus.CounterVec
	dedupeHits    prometheus.Counter
	requestTime   *prometheus.HistogramVec
	auditsDropped prometheus.Gauge
}

// NewDocumentMetrics creates document metrics, or nil when metrics are
// disabled.
func NewDocumentMetrics() *DocumentMetrics {
	reg := GetRegistry()
	if reg == nil {
		return nil
	}

	return &DocumentMetrics{
		uploads: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "docsvc_document_uploads_total",
			Help: "Total number of document uploads by outcome",
		}, []string{"outcome"}), // "created", "deduplicated", "rejected"
		uploadBytes: promauto.With(reg).NewHistogram(prometheus.HistogramOpts{
			Name: "docsvc_document_upload_bytes",
			Help: "Distribution of uploaded document sizes",
			Buckets: []float64{
				32768,    // 32KB
				131072,   // 128KB
				524288,   // 512KB
				1048576,  // 1MB
				5242880,  // 5MB
				10485760, // 10MB
				52428800, // 50MB
			},
		}),
		downloads: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "docsvc_document_downloads_total",
			Help: "Total number of presigned download links issued",
		}),
		deletes: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "docsvc_document_deletes_total",
			Help: "Total number of document deletions by mode",
		}, []string{"mode"}), // "soft", "hard"
		dedupeHits: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "docsvc_document_dedupe_hits_total",
			Help: "Total number of uploads resolved by content deduplication",
		}),
		requestTime: promauto.With(reg).NewHistogramVec(prometheus.HistogramOpts{
			Name:    "docsvc_operation_duration_seconds",
			Help:    "Duration of document service operations in seconds",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		}, []string{"operation"}),
		auditsDropped: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Name: "docsvc_audit_events_dropped_total",
			Help: "Number of audit events dropped due to a full queue",
		}),
	}
}

// RecordUpload records an upload attempt by outcome.
func (m *DocumentMetrics) RecordUpload(outcome string, size int64) {
	if m == nil {
		return
	}
	m.uploads.WithLabelValues(outcome).Inc()
	if size > 0 {
		m.uploadBytes.Observe(float64(size))
	}
	if outcome == "deduplicated" {
		m.dedupeHits.Inc()
	}
}

// RecordDownload records a presigned download issuance.
func (m *DocumentMetrics) RecordDownload() {
	if m == nil {
		return
	}
	m.downloads.Inc()
}

// RecordDelete records a document deletion by mode ("soft" or "hard").
func (m *DocumentMetrics) RecordDelete(mode string) {
	if m == nil {
		return
	}
	m.deletes.WithLabelValues(mode).Inc()
}

// ObserveOperation records the duration of a named service operation.
func (m *DocumentMetrics) ObserveOperation(operation string, duration time.Duration) {
	if m == nil {
		return
	}
	m.requestTime.WithLabelValues(operation).Observe(duration.Seconds())
}

// SetAuditDropped publishes the audit recorder's dropped event counter.
func (m *DocumentMetrics) SetAuditDropped(count int64) {
	if m == nil {
		return
	}
	m.auditsDropped.Set(float64(count))
}
