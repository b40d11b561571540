package metrics

import (
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDisabledMetricsAreNoOps(t *testing.T) {
	// Constructors return nil before InitRegistry; nil receivers must be
	// safe to call.
	var q *QueueMetrics
	q.JobLeased()
	q.JobCompleted(time.Second)
	q.JobRetried()
	q.JobFailed()
	q.LeasesExpired(3)

	var d *DocumentMetrics
	d.RecordUpload("created", 1024)
	d.RecordDownload()
	d.RecordDelete("soft")
	d.ObserveOperation("upload", time.Millisecond)
	d.SetAuditDropped(0)
}

func TestRegistryLifecycle(t *testing.T) {
	InitRegistry()
	require.True(t, IsEnabled(), "expected metrics enabled after InitRegistry")
	InitRegistry() // idempotent

	q := NewQueueMetrics()
	require.NotNil(t, q, "expected queue metrics with registry initialized")
	q.JobLeased()
	q.JobCompleted(2 * time.Second)
	q.LeasesExpired(1)

	d := NewDocumentMetrics()
	require.NotNil(t, d, "expected document metrics with registry initialized")
	d.RecordUpload("deduplicated", 2048)
	d.RecordDelete("hard")

	rec := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/metrics", nil)
	Handler().ServeHTTP(rec, req)
	assert.Equal(t, 200, rec.Code)
	assert.NotZero(t, rec.Body.Len(), "expected metrics output")
}
