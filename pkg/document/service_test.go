package document

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/insurecove/document-service/pkg/blobstore"
	"github.com/insurecove/document-service/pkg/clock"
	"github.com/insurecove/document-service/pkg/identity"
	"github.com/insurecove/document-service/pkg/metastore"
	"github.com/insurecove/document-service/pkg/models"
	"github.com/insurecove/document-service/pkg/ocr"
	"github.com/insurecove/document-service/pkg/storage"
)

// storeEnqueuer persists jobs straight into the metastore, standing in for
// the queue dispatcher.
type storeEnqueuer struct {
	store *metastore.GORMStore
}

func (e *storeEnqueuer) Enqueue(ctx context.Context, job *models.OCRJob) error {
	return e.store.EnqueueJob(ctx, job)
}

type fixture struct {
	svc   *Service
	store *metastore.GORMStore
	blobs *blobstore.Memory
	clock *clock.Fake
}

func newFixture(t *testing.T, cfg Config) *fixture {
	t.Helper()

	fake := clock.NewFake(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	store, err := metastore.New(&metastore.Config{
		Type:   metastore.DatabaseTypeSQLite,
		SQLite: metastore.SQLiteConfig{Path: ":memory:"},
	}, fake)
	require.NoError(t, err, "failed to create store")
	t.Cleanup(func() { _ = store.Close() })

	blobs := blobstore.NewMemory()
	blobSvc := storage.New(&storage.Config{Bucket: "insurecove-documents"}, blobs, fake)
	svc := New(cfg, store, blobSvc, &storeEnqueuer{store: store}, nil, nil, fake)
	return &fixture{svc: svc, store: store, blobs: blobs, clock: fake}
}

func owner() *identity.Principal {
	return &identity.Principal{UserID: "user-1", Role: identity.RoleUser}
}

func pdfBody(filler string) []byte {
	return append([]byte("%PDF-1.7\n"), []byte(filler)...)
}

func TestUpload(t *testing.T) {
	ctx := context.Background()

	t.Run("valid upload creates document", func(t *testing.T) {
		f := newFixture(t, Config{})
		res, err := f.svc.Upload(ctx, owner(), UploadRequest{
			FileName:     "policy.pdf",
			MIMEType:     "application/pdf",
			Content:      pdfBody("policy body"),
			DocumentType: "policy",
			Tags:         []string{"auto", "2025"},
			Metadata:     map[string]any{"policy_number": "P-100"},
		})
		require.NoError(t, err, "upload failed")
		doc := res.Document
		require.NotEmpty(t, doc.ID)
		assert.False(t, res.Deduplicated, "first upload must not be deduplicated")
		assert.EqualValues(t, 1, doc.Version)
		assert.Equal(t, models.DocumentStatusUploaded, doc.Status)
		assert.True(t, doc.ContentValidated, "expected content validated")
		assert.Equal(t, models.ScanStatusPending, doc.SecurityScanStatus, "new uploads start with a pending scan")
		assert.Equal(t, 1, f.blobs.Len())
	})

	t.Run("auto ocr schedules a job", func(t *testing.T) {
		f := newFixture(t, Config{})
		res, err := f.svc.Upload(ctx, owner(), UploadRequest{
			FileName: "claim.pdf",
			MIMEType: "application/pdf",
			Content:  pdfBody("claim"),
			AutoOCR:  true,
		})
		require.NoError(t, err, "upload failed")
		require.NotEmpty(t, res.JobID, "expected scheduled job")
		job, err := f.store.GetJob(ctx, res.JobID)
		require.NoError(t, err, "failed to get job")
		assert.Equal(t, res.Document.ID, job.DocumentID)
		assert.Equal(t, models.JobStatusPending, job.Status)
	})

	t.Run("auto ocr skipped for plain text", func(t *testing.T) {
		f := newFixture(t, Config{})
		res, err := f.svc.Upload(ctx, owner(), UploadRequest{
			FileName: "notes.txt",
			MIMEType: "text/plain",
			Content:  []byte("renewal notes"),
			AutoOCR:  true,
		})
		require.NoError(t, err, "upload failed")
		assert.Empty(t, res.JobID, "plain text must not schedule OCR")
	})

	t.Run("duplicate content returns existing document", func(t *testing.T) {
		f := newFixture(t, Config{})
		content := pdfBody("same bytes")

		first, err := f.svc.Upload(ctx, owner(), UploadRequest{
			FileName: "a.pdf", MIMEType: "application/pdf", Content: content,
		})
		require.NoError(t, err, "first upload failed")
		second, err := f.svc.Upload(ctx, owner(), UploadRequest{
			FileName: "b.pdf", MIMEType: "application/pdf", Content: content,
		})
		require.NoError(t, err, "second upload failed")
		assert.True(t, second.Deduplicated, "expected dedup hit")
		assert.Equal(t, first.Document.ID, second.Document.ID)
		assert.Equal(t, 1, f.blobs.Len(), "expected single blob")
	})

	t.Run("same content different owner is separate", func(t *testing.T) {
		f := newFixture(t, Config{})
		content := pdfBody("shared")

		a, err := f.svc.Upload(ctx, owner(), UploadRequest{
			FileName: "a.pdf", MIMEType: "application/pdf", Content: content,
		})
		require.NoError(t, err, "upload failed")
		b, err := f.svc.Upload(ctx, &identity.Principal{UserID: "user-2", Role: identity.RoleUser}, UploadRequest{
			FileName: "b.pdf", MIMEType: "application/pdf", Content: content,
		})
		require.NoError(t, err, "upload failed")
		assert.False(t, b.Deduplicated, "owners must not share documents")
		assert.NotEqual(t, a.Document.ID, b.Document.ID)
	})

	t.Run("invalid signature is rejected", func(t *testing.T) {
		f := newFixture(t, Config{})
		_, err := f.svc.Upload(ctx, owner(), UploadRequest{
			FileName: "fake.pdf", MIMEType: "application/pdf", Content: []byte("not a pdf"),
		})
		require.Error(t, err, "expected signature rejection")
	})

	t.Run("quota is enforced", func(t *testing.T) {
		f := newFixture(t, Config{OwnerQuotaBytes: 64})
		_, err := f.svc.Upload(ctx, owner(), UploadRequest{
			FileName: "big.pdf", MIMEType: "application/pdf",
			Content: pdfBody(string(bytes.Repeat([]byte("x"), 128))),
		})
		assert.ErrorIs(t, err, models.ErrQuotaExceeded)
	})

	t.Run("unauthenticated upload is rejected", func(t *testing.T) {
		f := newFixture(t, Config{})
		_, err := f.svc.Upload(ctx, nil, UploadRequest{
			FileName: "x.pdf", MIMEType: "application/pdf", Content: pdfBody("x"),
		})
		assert.ErrorIs(t, err, models.ErrUnauthenticated)
	})

	t.Run("too many tags rejected", func(t *testing.T) {
		f := newFixture(t, Config{})
		tags := make([]string, MaxTags+1)
		for i := range tags {
			tags[i] = "t"
		}
		_, err := f.svc.Upload(ctx, owner(), UploadRequest{
			FileName: "x.pdf", MIMEType: "application/pdf", Content: pdfBody("x"), Tags: tags,
		})
		assert.Error(t, err, "expected tag cap rejection")
	})
}

func TestGetAndAuthorization(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Config{})

	res, err := f.svc.Upload(ctx, owner(), UploadRequest{
		FileName: "policy.pdf", MIMEType: "application/pdf", Content: pdfBody("p"),
	})
	require.NoError(t, err, "upload failed")
	id := res.Document.ID

	t.Run("owner can read", func(t *testing.T) {
		_, err := f.svc.Get(ctx, owner(), id)
		assert.NoError(t, err, "owner read failed")
	})

	t.Run("stranger is forbidden", func(t *testing.T) {
		stranger := &identity.Principal{UserID: "user-9", Role: identity.RoleUser}
		_, err := f.svc.Get(ctx, stranger, id)
		assert.ErrorIs(t, err, models.ErrForbidden)
	})

	t.Run("admin can read", func(t *testing.T) {
		admin := &identity.Principal{UserID: "ops", Role: identity.RoleAdmin}
		_, err := f.svc.Get(ctx, admin, id)
		assert.NoError(t, err, "admin read failed")
	})

	t.Run("missing document", func(t *testing.T) {
		_, err := f.svc.Get(ctx, owner(), "nope")
		assert.ErrorIs(t, err, models.ErrDocumentNotFound)
	})
}

func TestList(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Config{})

	for _, name := range []string{"a.pdf", "b.pdf", "c.pdf"} {
		f.clock.Advance(time.Minute)
		_, err := f.svc.Upload(ctx, owner(), UploadRequest{
			FileName: name, MIMEType: "application/pdf", Content: pdfBody(name),
		})
		require.NoError(t, err, "upload %s failed", name)
	}

	t.Run("owner lists own documents", func(t *testing.T) {
		docs, next, err := f.svc.List(ctx, owner(), "", metastore.DocumentFilter{}, "", 2)
		require.NoError(t, err, "list failed")
		require.Len(t, docs, 2)
		require.NotEmpty(t, next, "expected cursor on full first page")
		rest, next, err := f.svc.List(ctx, owner(), "", metastore.DocumentFilter{}, next, 2)
		require.NoError(t, err, "second page failed")
		assert.Len(t, rest, 1, "expected final page of 1")
		assert.Empty(t, next, "expected empty cursor on final page")
	})

	t.Run("non-admin cannot list others", func(t *testing.T) {
		_, _, err := f.svc.List(ctx, owner(), "user-2", metastore.DocumentFilter{}, "", 10)
		assert.ErrorIs(t, err, models.ErrForbidden)
	})

	t.Run("filename filter", func(t *testing.T) {
		docs, _, err := f.svc.List(ctx, owner(), "", metastore.DocumentFilter{FilenameContains: "b."}, "", 10)
		require.NoError(t, err, "list failed")
		require.Len(t, docs, 1)
		assert.Equal(t, "b.pdf", docs[0].FileName)
	})
}

func TestDownload(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Config{})

	res, err := f.svc.Upload(ctx, owner(), UploadRequest{
		FileName: "policy.pdf", MIMEType: "application/pdf", Content: pdfBody("dl"),
	})
	require.NoError(t, err, "upload failed")

	dl, err := f.svc.Download(ctx, owner(), res.Document.ID, 10*time.Minute)
	require.NoError(t, err, "download failed")
	assert.NotEmpty(t, dl.URL)
	assert.Equal(t, 10*time.Minute, dl.ExpiresIn)

	// TTL above the cap is clamped.
	dl, err = f.svc.Download(ctx, owner(), res.Document.ID, 48*time.Hour)
	require.NoError(t, err, "download failed")
	assert.Equal(t, storage.MaxPresignTTL, dl.ExpiresIn, "expected clamped ttl")

	doc, err := f.store.GetDocument(ctx, res.Document.ID, false)
	require.NoError(t, err)
	assert.EqualValues(t, 2, doc.DownloadCount, "expected downloads counted")
	assert.Equal(t, res.Document.Version, doc.Version, "download counting must not bump the version")
}

func TestUpdate(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Config{})

	res, err := f.svc.Upload(ctx, owner(), UploadRequest{
		FileName: "policy.pdf", MIMEType: "application/pdf", Content: pdfBody("u"),
	})
	require.NoError(t, err, "upload failed")
	id, etag := res.Document.ID, res.Document.ETag

	t.Run("matching etag succeeds", func(t *testing.T) {
		newType := "claim"
		doc, err := f.svc.Update(ctx, owner(), id, UpdateRequest{DocumentType: &newType}, etag)
		require.NoError(t, err, "update failed")
		assert.Equal(t, "claim", doc.DocumentType)
		assert.EqualValues(t, 2, doc.Version)
		assert.NotEqual(t, etag, doc.ETag, "expected etag to change")
	})

	t.Run("stale etag fails", func(t *testing.T) {
		newType := "invoice"
		_, err := f.svc.Update(ctx, owner(), id, UpdateRequest{DocumentType: &newType}, etag)
		assert.ErrorIs(t, err, models.ErrPreconditionFailed)
	})

	t.Run("invalid filename rejected", func(t *testing.T) {
		bad := "CON.pdf"
		_, err := f.svc.Update(ctx, owner(), id, UpdateRequest{FileName: &bad}, "")
		assert.Error(t, err, "expected reserved filename rejection")
	})
}

func TestDelete(t *testing.T) {
	ctx := context.Background()

	t.Run("soft delete keeps blob and cancels jobs", func(t *testing.T) {
		f := newFixture(t, Config{})
		res, err := f.svc.Upload(ctx, owner(), UploadRequest{
			FileName: "p.pdf", MIMEType: "application/pdf", Content: pdfBody("sd"), AutoOCR: true,
		})
		require.NoError(t, err, "upload failed")

		require.NoError(t, f.svc.Delete(ctx, owner(), res.Document.ID, false, ""), "delete failed")

		_, err = f.store.GetDocument(ctx, res.Document.ID, false)
		assert.ErrorIs(t, err, models.ErrDocumentDeleted)
		assert.Equal(t, 1, f.blobs.Len(), "soft delete must keep the blob")
		job, err := f.store.GetJob(ctx, res.JobID)
		require.NoError(t, err)
		assert.Equal(t, models.JobStatusCancelled, job.Status, "expected cancelled job")
	})

	t.Run("stale etag blocks the delete", func(t *testing.T) {
		f := newFixture(t, Config{})
		res, err := f.svc.Upload(ctx, owner(), UploadRequest{
			FileName: "p.pdf", MIMEType: "application/pdf", Content: pdfBody("cd"),
		})
		require.NoError(t, err, "upload failed")

		newType := "claim"
		updated, err := f.svc.Update(ctx, owner(), res.Document.ID, UpdateRequest{DocumentType: &newType}, "")
		require.NoError(t, err, "update failed")

		err = f.svc.Delete(ctx, owner(), res.Document.ID, false, res.Document.ETag)
		assert.ErrorIs(t, err, models.ErrPreconditionFailed, "stale etag must block the delete")

		require.NoError(t, f.svc.Delete(ctx, owner(), res.Document.ID, false, updated.ETag), "delete with current etag failed")
		_, err = f.store.GetDocument(ctx, res.Document.ID, false)
		assert.ErrorIs(t, err, models.ErrDocumentDeleted)
	})

	t.Run("hard delete reclaims unreferenced blob", func(t *testing.T) {
		f := newFixture(t, Config{})
		res, err := f.svc.Upload(ctx, owner(), UploadRequest{
			FileName: "p.pdf", MIMEType: "application/pdf", Content: pdfBody("hd"),
		})
		require.NoError(t, err, "upload failed")

		require.NoError(t, f.svc.Delete(ctx, owner(), res.Document.ID, true, ""), "hard delete failed")
		_, err = f.store.GetDocument(ctx, res.Document.ID, true)
		assert.ErrorIs(t, err, models.ErrDocumentNotFound, "expected row gone")
		assert.Equal(t, 0, f.blobs.Len(), "expected blob reclaimed")
	})

	t.Run("stranger cannot delete", func(t *testing.T) {
		f := newFixture(t, Config{})
		res, err := f.svc.Upload(ctx, owner(), UploadRequest{
			FileName: "p.pdf", MIMEType: "application/pdf", Content: pdfBody("nd"),
		})
		require.NoError(t, err, "upload failed")
		stranger := &identity.Principal{UserID: "user-9", Role: identity.RoleUser}
		err = f.svc.Delete(ctx, stranger, res.Document.ID, false, "")
		assert.ErrorIs(t, err, models.ErrForbidden)
	})
}

func TestRequestOCRAndJobs(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Config{})

	res, err := f.svc.Upload(ctx, owner(), UploadRequest{
		FileName: "scan.png",
		MIMEType: "image/png",
		Content:  append([]byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1a, '\n'}, make([]byte, 16)...),
	})
	require.NoError(t, err, "upload failed")
	id := res.Document.ID

	job, err := f.svc.RequestOCR(ctx, owner(), id, models.PriorityHighest, "en")
	require.NoError(t, err, "request ocr failed")
	assert.Equal(t, models.PriorityHighest, job.Priority)
	assert.Equal(t, "en", job.Language)

	t.Run("owner reads job", func(t *testing.T) {
		got, err := f.svc.GetJob(ctx, owner(), job.ID)
		require.NoError(t, err, "get job failed")
		assert.Equal(t, job.ID, got.ID)
	})

	t.Run("stranger cannot read job", func(t *testing.T) {
		stranger := &identity.Principal{UserID: "user-9", Role: identity.RoleUser}
		_, err := f.svc.GetJob(ctx, stranger, job.ID)
		assert.ErrorIs(t, err, models.ErrForbidden)
	})

	t.Run("owner cancels job", func(t *testing.T) {
		require.NoError(t, f.svc.CancelJob(ctx, owner(), job.ID), "cancel failed")
		got, err := f.store.GetJob(ctx, job.ID)
		require.NoError(t, err)
		assert.Equal(t, models.JobStatusCancelled, got.Status)
	})

	t.Run("unsupported format cannot request ocr", func(t *testing.T) {
		txt, err := f.svc.Upload(ctx, owner(), UploadRequest{
			FileName: "notes.txt", MIMEType: "text/plain", Content: []byte("plain"),
		})
		require.NoError(t, err, "upload failed")
		_, err = f.svc.RequestOCR(ctx, owner(), txt.Document.ID, models.PriorityDefault, "")
		assert.ErrorIs(t, err, ocr.ErrUnsupportedFormat)
	})
}

func TestGetUsageStats(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Config{})

	for _, name := range []string{"a.pdf", "b.pdf"} {
		_, err := f.svc.Upload(ctx, owner(), UploadRequest{
			FileName: name, MIMEType: "application/pdf", Content: pdfBody(name),
		})
		require.NoError(t, err, "upload failed")
	}

	stats, err := f.svc.GetUsageStats(ctx, owner(), "")
	require.NoError(t, err, "stats failed")
	assert.EqualValues(t, 2, stats.DocumentCount)
	assert.Positive(t, stats.TotalBytes)

	_, err = f.svc.GetUsageStats(ctx, owner(), "user-2")
	assert.ErrorIs(t, err, models.ErrForbidden)
}
