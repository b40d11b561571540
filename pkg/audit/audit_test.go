package audit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/insurecove/document-service/pkg/clock"
	"github.com/insurecove/document-service/pkg/metastore"
	"github.com/insurecove/document-service/pkg/models"
)

func newTestRecorder(t *testing.T, queueSize int) (*Recorder, *metastore.GORMStore) {
	t.Helper()

	store, err := metastore.New(&metastore.Config{
		Type:   metastore.DatabaseTypeSQLite,
		SQLite: metastore.SQLiteConfig{Path: ":memory:"},
	}, clock.New())
	require.NoError(t, err, "failed to create store")
	t.Cleanup(func() { _ = store.Close() })

	fake := clock.NewFake(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	return NewRecorder(store, fake, queueSize), store
}

func seedDocument(t *testing.T, store *metastore.GORMStore) *models.Document {
	t.Helper()
	doc := &models.Document{
		FileName:         "policy.pdf",
		OriginalFilename: "policy.pdf",
		FileSize:         128,
		FileType:         "pdf",
		MimeType:         "application/pdf",
		FileHash:         "0000000000000000000000000000000000000000000000000000000000000001",
		StorageKey:       "documents/user-1/2025/x.pdf",
		StorageBucket:    "insurecove-documents",
		OwnerID:          "user-1",
	}
	require.NoError(t, store.InsertDocument(context.Background(), doc), "failed to insert document")
	return doc
}

func TestRecorderWritesEvents(t *testing.T) {
	rec, store := newTestRecorder(t, 16)
	ctx := context.Background()
	doc := seedDocument(t, store)

	rec.Start()
	rec.Record(ctx, Event{
		DocumentID:     doc.ID,
		UserID:         "user-1",
		AccessType:     models.AccessTypeDownload,
		Success:        true,
		HTTPStatusCode: 200,
		IPAddress:      "198.51.100.7",
		RequestID:      "req-1",
	})
	rec.Record(ctx, Event{
		DocumentID: doc.ID,
		UserID:     "user-2",
		AccessType: models.AccessTypeView,
		Success:    false,
		ErrorCode:  "forbidden",
	})
	rec.Stop()

	require.EqualValues(t, 2, rec.Written(), "expected both events written")
	assert.EqualValues(t, 0, rec.Dropped(), "expected no drops")

	logs, err := store.ListAccessLogs(ctx, doc.ID, 10)
	require.NoError(t, err, "failed to list access logs")
	require.Len(t, logs, 2)
	for _, l := range logs {
		assert.NotEmpty(t, l.ID, "expected assigned log ID")
		assert.False(t, l.AccessedAt.IsZero(), "expected accessed_at stamped")
	}
}

func TestRecorderDropsWhenQueueFull(t *testing.T) {
	rec, store := newTestRecorder(t, 2)
	ctx := context.Background()
	doc := seedDocument(t, store)

	// Writer not started: the queue fills and further events drop.
	for i := 0; i < 5; i++ {
		rec.Record(ctx, Event{
			DocumentID: doc.ID,
			UserID:     "user-1",
			AccessType: models.AccessTypeView,
			Success:    true,
		})
	}
	assert.EqualValues(t, 3, rec.Dropped(), "expected overflow events dropped")

	// Start drains the queued pair; drops stay dropped.
	rec.Start()
	rec.Stop()
	assert.EqualValues(t, 2, rec.Written(), "expected queued pair written after drain")
}

func TestRecorderStopDrainsQueue(t *testing.T) {
	rec, store := newTestRecorder(t, 64)
	ctx := context.Background()
	doc := seedDocument(t, store)

	rec.Start()
	for i := 0; i < 20; i++ {
		rec.Record(ctx, Event{
			DocumentID: doc.ID,
			UserID:     "user-1",
			AccessType: models.AccessTypeDownload,
			Success:    true,
		})
	}
	rec.Stop()

	assert.EqualValues(t, 20, rec.Written(), "expected all events written on stop")
}

func TestRecorderLifecycleIsIdempotent(t *testing.T) {
	rec, _ := newTestRecorder(t, 4)
	rec.Start()
	rec.Start()
	rec.Stop()
	rec.Stop()
}
