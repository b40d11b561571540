package queue

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/insurecove/document-service/pkg/blobstore"
	"github.com/insurecove/document-service/pkg/clock"
	"github.com/insurecove/document-service/pkg/metastore"
	"github.com/insurecove/document-service/pkg/models"
	"github.com/insurecove/document-service/pkg/ocr"
	"github.com/insurecove/document-service/pkg/storage"
)

type testEnv struct {
	store   *metastore.GORMStore
	storage *storage.Service
	blobs   *blobstore.Memory
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	store, err := metastore.New(&metastore.Config{
		Type:   metastore.DatabaseTypeSQLite,
		SQLite: metastore.SQLiteConfig{Path: ":memory:"},
	}, clock.New())
	require.NoError(t, err, "failed to create store")
	t.Cleanup(func() { _ = store.Close() })

	blobs := blobstore.NewMemory()
	svc := storage.New(&storage.Config{Bucket: "test-bucket"}, blobs, clock.New())
	return &testEnv{store: store, storage: svc, blobs: blobs}
}

// seedDocument stores a blob and inserts a matching document record.
func (e *testEnv) seedDocument(t *testing.T, owner string, content []byte) *models.Document {
	t.Helper()
	ctx := context.Background()

	res, err := e.storage.Store(ctx, owner, "pdf", "application/pdf", content)
	require.NoError(t, err, "failed to store blob")
	doc := &models.Document{
		FileName:         "claim.pdf",
		OriginalFilename: "claim.pdf",
		FileSize:         res.Size,
		FileType:         "pdf",
		MimeType:         "application/pdf",
		FileHash:         res.Hash,
		StorageKey:       res.Key,
		StorageBucket:    res.Bucket,
		OwnerID:          owner,
	}
	require.NoError(t, e.store.InsertDocument(ctx, doc), "failed to insert document")
	return doc
}

func (e *testEnv) newDispatcher(cfg Config, engine ocr.Engine) *Dispatcher {
	svc := ocr.NewService(&ocr.Config{Timeout: 5 * time.Second}, engine)
	return New(cfg, e.store, e.storage, svc, clock.New(), nil)
}

// waitFor polls until cond returns true or the deadline passes.
func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func newTestRand() *rand.Rand {
	return rand.New(rand.NewSource(1))
}

func fastConfig() Config {
	return Config{
		Workers:         2,
		LeaseTTL:        3 * time.Second,
		PollInterval:    20 * time.Millisecond,
		BackoffBase:     20 * time.Millisecond,
		BackoffMax:      100 * time.Millisecond,
		ShutdownTimeout: 2 * time.Second,
	}
}

func TestApplyDefaults(t *testing.T) {
	var cfg Config
	cfg.ApplyDefaults()
	assert.Equal(t, time.Second, cfg.PollInterval, "idle workers poll every second")
}

func TestDispatcherCompletesJob(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	doc := env.seedDocument(t, "user-1", []byte("%PDF-1.7 claim form"))

	engine := ocr.EngineFunc{
		EngineName: "static",
		Fn: func(ctx context.Context, req ocr.Request) (*ocr.Result, error) {
			return &ocr.Result{Text: "Claim Number: 42", Confidence: 0.95, Language: "en"}, nil
		},
	}
	d := env.newDispatcher(fastConfig(), engine)
	d.Start(ctx)
	defer d.Stop()

	job := &models.OCRJob{DocumentID: doc.ID}
	require.NoError(t, d.Enqueue(ctx, job), "enqueue failed")

	waitFor(t, 5*time.Second, func() bool {
		j, err := env.store.GetJob(ctx, job.ID)
		return err == nil && j.Status == models.JobStatusCompleted
	})

	j, err := env.store.GetJob(ctx, job.ID)
	require.NoError(t, err, "failed to get job")
	assert.Equal(t, "Claim Number: 42", j.ExtractedText)
	assert.Nil(t, j.LeaseOwner, "expected lease cleared on completion")
	assert.Nil(t, j.LeaseExpiresAt, "expected lease cleared on completion")
	assert.NotNil(t, j.ProcessingCompletedAt, "expected completion timestamp")

	got, err := env.store.GetDocument(ctx, doc.ID, false)
	require.NoError(t, err, "failed to get document")
	assert.Equal(t, models.DocumentStatusCompleted, got.Status)
	assert.True(t, got.OCRCompleted, "expected ocr_completed flag")
	require.NotNil(t, got.OCRJobID, "expected job backlink on document")
	assert.Equal(t, job.ID, *got.OCRJobID)
	assert.EqualValues(t, 2, got.Version, "expected version bump after OCR publish")
}

func TestDispatcherRetriesTransientFailure(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	doc := env.seedDocument(t, "user-1", []byte("%PDF-1.7 flaky"))

	var mu sync.Mutex
	attempts := 0
	engine := ocr.EngineFunc{
		EngineName: "flaky",
		Fn: func(ctx context.Context, req ocr.Request) (*ocr.Result, error) {
			mu.Lock()
			attempts++
			n := attempts
			mu.Unlock()
			if n == 1 {
				return nil, &ocr.EngineError{Code: "rate_limited", Message: "busy", Transient: true}
			}
			return &ocr.Result{Text: "ok", Confidence: 0.9}, nil
		},
	}
	d := env.newDispatcher(fastConfig(), engine)
	d.Start(ctx)
	defer d.Stop()

	job := &models.OCRJob{DocumentID: doc.ID}
	require.NoError(t, d.Enqueue(ctx, job), "enqueue failed")

	waitFor(t, 5*time.Second, func() bool {
		j, err := env.store.GetJob(ctx, job.ID)
		return err == nil && j.Status == models.JobStatusCompleted
	})

	j, err := env.store.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, j.RetryCount, "expected one recorded retry")
	mu.Lock()
	assert.Equal(t, 2, attempts, "expected 2 attempts")
	mu.Unlock()
}

func TestDispatcherRetriesBlobFetchFailure(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	doc := env.seedDocument(t, "user-1", []byte("%PDF-1.7 s3 blip"))

	engine := ocr.EngineFunc{
		EngineName: "static",
		Fn: func(ctx context.Context, req ocr.Request) (*ocr.Result, error) {
			return &ocr.Result{Text: "ok", Confidence: 0.9}, nil
		},
	}
	d := env.newDispatcher(fastConfig(), engine)

	// A transient store outage must be classified as retryable, not as a
	// permanent job failure.
	env.blobs.FailNextGets(1)

	job := &models.OCRJob{DocumentID: doc.ID}
	require.NoError(t, env.store.EnqueueJob(ctx, job), "enqueue failed")

	d.Start(ctx)
	defer d.Stop()

	waitFor(t, 5*time.Second, func() bool {
		j, err := env.store.GetJob(ctx, job.ID)
		return err == nil && j.Status == models.JobStatusCompleted
	})

	j, err := env.store.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, j.RetryCount, "expected the fetch failure to consume one retry")
}

func TestDispatcherPermanentFailure(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	doc := env.seedDocument(t, "user-1", []byte("%PDF-1.7 broken"))

	engine := ocr.EngineFunc{
		EngineName: "reject",
		Fn: func(ctx context.Context, req ocr.Request) (*ocr.Result, error) {
			return nil, &ocr.EngineError{Code: "corrupt_input", Message: "cannot decode"}
		},
	}
	d := env.newDispatcher(fastConfig(), engine)
	d.Start(ctx)
	defer d.Stop()

	job := &models.OCRJob{DocumentID: doc.ID}
	require.NoError(t, d.Enqueue(ctx, job), "enqueue failed")

	waitFor(t, 5*time.Second, func() bool {
		j, err := env.store.GetJob(ctx, job.ID)
		return err == nil && j.Status == models.JobStatusFailed
	})

	j, err := env.store.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, "corrupt_input", j.ErrorCode, "expected error code recorded")
	assert.Zero(t, j.RetryCount, "permanent failure must not consume retries")

	got, err := env.store.GetDocument(ctx, doc.ID, false)
	require.NoError(t, err)
	assert.Equal(t, models.DocumentStatusFailed, got.Status)
}

func TestDispatcherExhaustsRetryBudget(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	doc := env.seedDocument(t, "user-1", []byte("%PDF-1.7 always down"))

	var mu sync.Mutex
	attempts := 0
	engine := ocr.EngineFunc{
		EngineName: "down",
		Fn: func(ctx context.Context, req ocr.Request) (*ocr.Result, error) {
			mu.Lock()
			attempts++
			mu.Unlock()
			return nil, &ocr.EngineError{Code: "unavailable", Message: "engine down", Transient: true}
		},
	}
	d := env.newDispatcher(fastConfig(), engine)
	d.Start(ctx)
	defer d.Stop()

	job := &models.OCRJob{DocumentID: doc.ID, MaxRetries: 2}
	require.NoError(t, d.Enqueue(ctx, job), "enqueue failed")

	waitFor(t, 5*time.Second, func() bool {
		j, err := env.store.GetJob(ctx, job.ID)
		return err == nil && j.Status == models.JobStatusFailed
	})

	// Initial attempt plus two retries.
	mu.Lock()
	assert.Equal(t, 3, attempts, "expected 3 attempts")
	mu.Unlock()

	j, err := env.store.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, j.MaxRetries, j.RetryCount, "retry count must stop at the budget")

	got, err := env.store.GetDocument(ctx, doc.ID, false)
	require.NoError(t, err)
	assert.Equal(t, models.DocumentStatusFailed, got.Status)
}

func TestDispatcherPriorityOrdering(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	engine := ocr.EngineFunc{
		EngineName: "recorder",
		Fn: func(ctx context.Context, req ocr.Request) (*ocr.Result, error) {
			return &ocr.Result{Text: "done", Confidence: 1}, nil
		},
	}

	// Enqueue before starting so a single worker drains in priority order.
	cfg := fastConfig()
	cfg.Workers = 1
	d := env.newDispatcher(cfg, engine)

	var jobs []*models.OCRJob
	for i, prio := range []int{models.PriorityLowest, models.PriorityDefault, models.PriorityHighest} {
		doc := env.seedDocument(t, "user-1", []byte(fmt.Sprintf("%%PDF-1.7 doc %d", i)))
		job := &models.OCRJob{DocumentID: doc.ID, Priority: prio}
		require.NoError(t, env.store.EnqueueJob(ctx, job), "enqueue failed")
		jobs = append(jobs, job)
	}

	d.Start(ctx)
	defer d.Stop()

	waitFor(t, 5*time.Second, func() bool {
		done := 0
		for _, job := range jobs {
			j, err := env.store.GetJob(ctx, job.ID)
			if err == nil && j.Status == models.JobStatusCompleted {
				done++
			}
		}
		return done == len(jobs)
	})

	// Highest priority (1) must have started before default (5) and lowest (10).
	j0, _ := env.store.GetJob(ctx, jobs[2].ID) // priority 1
	j1, _ := env.store.GetJob(ctx, jobs[1].ID) // priority 5
	j2, _ := env.store.GetJob(ctx, jobs[0].ID) // priority 10
	assert.False(t, j0.ProcessingStartedAt.After(*j1.ProcessingStartedAt),
		"priority 1 must start before priority 5")
	assert.False(t, j1.ProcessingStartedAt.After(*j2.ProcessingStartedAt),
		"priority 5 must start before priority 10")
}

func TestDispatcherSkipsCancelledJob(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	doc := env.seedDocument(t, "user-1", []byte("%PDF-1.7 cancelled"))

	called := make(chan struct{}, 1)
	engine := ocr.EngineFunc{
		EngineName: "never",
		Fn: func(ctx context.Context, req ocr.Request) (*ocr.Result, error) {
			select {
			case called <- struct{}{}:
			default:
			}
			return &ocr.Result{Text: "x", Confidence: 1}, nil
		},
	}
	d := env.newDispatcher(fastConfig(), engine)

	job := &models.OCRJob{DocumentID: doc.ID}
	require.NoError(t, env.store.EnqueueJob(ctx, job), "enqueue failed")
	require.NoError(t, env.store.CancelJob(ctx, job.ID), "cancel failed")

	d.Start(ctx)
	time.Sleep(150 * time.Millisecond)
	d.Stop()

	select {
	case <-called:
		t.Error("cancelled job must not be processed")
	default:
	}
	j, err := env.store.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusCancelled, j.Status)
}

func TestDispatcherFailsJobForDeletedDocument(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	doc := env.seedDocument(t, "user-1", []byte("%PDF-1.7 gone"))

	engine := ocr.EngineFunc{
		EngineName: "noop",
		Fn: func(ctx context.Context, req ocr.Request) (*ocr.Result, error) {
			return &ocr.Result{Text: "x", Confidence: 1}, nil
		},
	}
	d := env.newDispatcher(fastConfig(), engine)

	job := &models.OCRJob{DocumentID: doc.ID}
	require.NoError(t, env.store.EnqueueJob(ctx, job), "enqueue failed")
	require.NoError(t, env.store.SoftDelete(ctx, doc.ID, ""), "soft delete failed")

	d.Start(ctx)
	defer d.Stop()

	waitFor(t, 5*time.Second, func() bool {
		j, err := env.store.GetJob(ctx, job.ID)
		return err == nil && j.Status == models.JobStatusFailed
	})

	j, err := env.store.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, "document_deleted", j.ErrorCode)
}

func TestDispatcherStopIsIdempotent(t *testing.T) {
	env := newTestEnv(t)
	engine := ocr.EngineFunc{
		Fn: func(ctx context.Context, req ocr.Request) (*ocr.Result, error) {
			return &ocr.Result{Text: "x", Confidence: 1}, nil
		},
	}
	d := env.newDispatcher(fastConfig(), engine)
	d.Start(context.Background())
	d.Stop()
	d.Stop()
}

func TestBackoffDelay(t *testing.T) {
	base := 30 * time.Second
	max := 30 * time.Minute

	cases := []struct {
		attempt int
		want    time.Duration
	}{
		{1, 30 * time.Second},
		{2, 60 * time.Second},
		{3, 120 * time.Second},
		{4, 240 * time.Second},
		{0, 30 * time.Second},
		{20, max},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, backoffDelay(tc.attempt, base, max, nil), "backoffDelay(%d)", tc.attempt)
	}

	t.Run("jitter stays within bounds", func(t *testing.T) {
		rng := newTestRand()
		for i := 0; i < 100; i++ {
			got := backoffDelay(2, base, max, rng)
			require.GreaterOrEqual(t, got, 60*time.Second, "jittered delay below base step")
			require.Less(t, got, 60*time.Second+base/2, "jittered delay above half-base window")
		}
	})

	t.Run("cap applies after jitter", func(t *testing.T) {
		rng := newTestRand()
		for i := 0; i < 100; i++ {
			require.LessOrEqual(t, backoffDelay(50, base, max, rng), max, "delay exceeds cap")
		}
	})
}
