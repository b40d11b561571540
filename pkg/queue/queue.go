// Package queue runs the OCR job dispatcher: a bounded pool of workers
// that lease jobs from the metastore, execute text extraction, and report
// results back, plus a sweeper that reclaims leases from crashed workers.
//
// The scheduler state lives entirely in the database; this package only
// holds goroutines. A process restart loses nothing: pending jobs are
// picked up again and expired leases are swept back to pending.
package queue

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/insurecove/document-service/internal/logger"
	"github.com/insurecove/document-service/pkg/blobstore"
	"github.com/insurecove/document-service/pkg/clock"
	"github.com/insurecove/document-service/pkg/metastore"
	"github.com/insurecove/document-service/pkg/models"
	"github.com/insurecove/document-service/pkg/ocr"
	"github.com/insurecove/document-service/pkg/storage"
)

// DefaultLeaseTTL is how long a worker owns a job before the sweeper may
// reclaim it. Heartbeats renew at a third of the TTL, the sweeper checks at
// a quarter.
const DefaultLeaseTTL = 10 * time.Minute

// Config contains dispatcher configuration.
type Config struct {
	// Workers is the number of concurrent OCR workers.
	Workers int `mapstructure:"workers" yaml:"workers"`

	// LeaseTTL is the job lease duration.
	LeaseTTL time.Duration `mapstructure:"lease_ttl" yaml:"lease_ttl"`

	// PollInterval bounds how long an idle worker waits before checking
	// for runnable jobs. Enqueues wake workers immediately; the poll
	// catches jobs whose backoff deadline has passed.
	PollInterval time.Duration `mapstructure:"poll_interval" yaml:"poll_interval"`

	// BackoffBase and BackoffMax shape the retry delay curve.
	BackoffBase time.Duration `mapstructure:"backoff_base" yaml:"backoff_base"`
	BackoffMax  time.Duration `mapstructure:"backoff_max" yaml:"backoff_max"`

	// ShutdownTimeout bounds how long Stop waits for in-flight jobs.
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`
}

// ApplyDefaults fills in missing configuration with default values.
func (c *Config) ApplyDefaults() {
	if c.Workers <= 0 {
		c.Workers = 5
	}
	if c.LeaseTTL <= 0 {
		c.LeaseTTL = DefaultLeaseTTL
	}
	if c.PollInterval <= 0 {
		c.PollInterval = time.Second
	}
	if c.BackoffBase <= 0 {
		c.BackoffBase = DefaultBackoffBase
	}
	if c.BackoffMax <= 0 {
		c.BackoffMax = DefaultBackoffMax
	}
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = 30 * time.Second
	}
}

// Metrics receives dispatcher events. Implementations must be safe for
// concurrent use; a nil Metrics disables reporting.
type Metrics interface {
	JobLeased()
	JobCompleted(duration time.Duration)
	JobRetried()
	JobFailed()
	LeasesExpired(count int)
}

// Dispatcher owns the worker pool and the lease sweeper.
type Dispatcher struct {
	store   *metastore.GORMStore
	blobs   *storage.Service
	ocr     *ocr.Service
	clock   clock.Clock
	metrics Metrics
	config  Config

	workerPrefix string
	rng          *rand.Rand
	rngMu        sync.Mutex

	wakeCh    chan struct{}
	stopCh    chan struct{}
	stoppedCh chan struct{}
	wg        sync.WaitGroup

	mu      sync.Mutex
	started bool
	stopped bool
}

// New creates a dispatcher. Metrics may be nil.
func New(cfg Config, store *metastore.GORMStore, blobs *storage.Service, ocrSvc *ocr.Service, clk clock.Clock, metrics Metrics) *Dispatcher {
	cfg.ApplyDefaults()
	if clk == nil {
		clk = clock.New()
	}

	host, _ := os.Hostname()
	if host == "" {
		host = "worker"
	}

	return &Dispatcher{
		store:        store,
		blobs:        blobs,
		ocr:          ocrSvc,
		clock:        clk,
		metrics:      metrics,
		config:       cfg,
		workerPrefix: fmt.Sprintf("%s-%s", host, uuid.New().String()[:8]),
		rng:          rand.New(rand.NewSource(time.Now().UnixNano())),
		wakeCh:       make(chan struct{}, 1),
		stopCh:       make(chan struct{}),
		stoppedCh:    make(chan struct{}),
	}
}

// Start launches the workers and the lease sweeper.
func (d *Dispatcher) Start(ctx context.Context) {
	d.mu.Lock()
	if d.started {
		d.mu.Unlock()
		return
	}
	d.started = true
	d.mu.Unlock()

	logger.Info("starting OCR dispatcher",
		"workers", d.config.Workers,
		"lease_ttl", d.config.LeaseTTL.String())

	for i := 0; i < d.config.Workers; i++ {
		d.wg.Add(1)
		go d.worker(ctx, fmt.Sprintf("%s-%d", d.workerPrefix, i))
	}

	d.wg.Add(1)
	go d.sweeper(ctx)

	go func() {
		d.wg.Wait()
		close(d.stoppedCh)
	}()
}

// Stop shuts the dispatcher down, waiting up to the configured timeout for
// in-flight jobs. Jobs still running after the timeout keep their leases
// and are reclaimed by the next process's sweeper.
func (d *Dispatcher) Stop() {
	d.mu.Lock()
	if !d.started || d.stopped {
		d.mu.Unlock()
		return
	}
	d.stopped = true
	d.mu.Unlock()

	logger.Info("stopping OCR dispatcher")
	close(d.stopCh)

	select {
	case <-d.stoppedCh:
		logger.Info("OCR dispatcher stopped")
	case <-time.After(d.config.ShutdownTimeout):
		logger.Warn("OCR dispatcher stop timed out, leases will expire")
	}
}

// Enqueue persists a new job and wakes a worker.
func (d *Dispatcher) Enqueue(ctx context.Context, job *models.OCRJob) error {
	if err := d.store.EnqueueJob(ctx, job); err != nil {
		return err
	}
	logger.InfoCtx(ctx, "job enqueued",
		logger.KeyJobID, job.ID,
		logger.KeyDocumentID, job.DocumentID,
		logger.KeyPriority, job.Priority)
	d.Wake()
	return nil
}

// Wake nudges an idle worker. Non-blocking; a pending wake is enough.
func (d *Dispatcher) Wake() {
	select {
	case d.wakeCh <- struct{}{}:
	default:
	}
}

// worker leases and processes jobs until shutdown.
func (d *Dispatcher) worker(ctx context.Context, workerID string) {
	defer d.wg.Done()

	ticker := time.NewTicker(d.config.PollInterval)
	defer ticker.Stop()

	for {
		// Drain all runnable jobs before sleeping.
		for {
			select {
			case <-d.stopCh:
				return
			case <-ctx.Done():
				return
			default:
			}

			job, err := d.store.LeaseOneJob(ctx, workerID, d.config.LeaseTTL)
			if err != nil {
				logger.Error("failed to lease job", logger.Err(err), logger.KeyWorkerID, workerID)
				break
			}
			if job == nil {
				break
			}
			if d.metrics != nil {
				d.metrics.JobLeased()
			}
			d.processJob(ctx, workerID, job)
		}

		select {
		case <-d.stopCh:
			return
		case <-ctx.Done():
			return
		case <-d.wakeCh:
		case <-ticker.C:
		}
	}
}

// sweeper periodically reclaims expired leases.
func (d *Dispatcher) sweeper(ctx context.Context) {
	defer d.wg.Done()

	interval := d.config.LeaseTTL / 4
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-d.stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			reclaimed, err := d.store.ExpireLeases(ctx)
			if err != nil {
				logger.Error("lease sweep failed", logger.Err(err))
				continue
			}
			if reclaimed > 0 {
				logger.Warn("reclaimed expired leases", logger.KeyCount, reclaimed)
				if d.metrics != nil {
					d.metrics.LeasesExpired(int(reclaimed))
				}
				d.Wake()
			}
		}
	}
}

// processJob runs one leased job end to end: fetch the blob, extract text
// under a heartbeat, and report the outcome.
func (d *Dispatcher) processJob(ctx context.Context, workerID string, job *models.OCRJob) {
	start := d.clock.Now()
	logCtx := logger.NewLogContext(uuid.New().String()).WithJob(job.ID).WithDocument(job.DocumentID)
	jobCtx := logger.WithContext(ctx, logCtx)

	logger.InfoCtx(jobCtx, "processing job",
		logger.KeyWorkerID, workerID,
		logger.KeyAttempt, job.RetryCount+1)

	doc, err := d.store.GetDocument(jobCtx, job.DocumentID, true)
	if err != nil {
		d.failJob(jobCtx, workerID, job, metastore.JobError{
			Message: "document no longer exists", Code: "document_missing",
		})
		return
	}
	if doc.IsDeleted() {
		d.failJob(jobCtx, workerID, job, metastore.JobError{
			Message: "document was deleted", Code: "document_deleted",
		})
		return
	}

	// Heartbeat renews the lease while extraction runs. A renew failure
	// means the lease was lost or the job was cancelled; either way the
	// attempt is abandoned.
	attemptCtx, cancelAttempt := context.WithCancel(jobCtx)
	heartbeatDone := make(chan struct{})
	go d.heartbeat(attemptCtx, workerID, job.ID, cancelAttempt, heartbeatDone)

	result, procErr := d.extract(attemptCtx, doc, job)

	cancelAttempt()
	<-heartbeatDone

	if procErr != nil {
		if errors.Is(procErr, context.Canceled) && jobCtx.Err() == nil {
			// The heartbeat cancelled the attempt: lease lost or job
			// cancelled. Nothing to report; whoever took the lease owns
			// the job now.
			logger.WarnCtx(jobCtx, "attempt abandoned, lease lost or job cancelled",
				logger.KeyWorkerID, workerID)
			return
		}
		d.failJob(jobCtx, workerID, job, classify(procErr))
		return
	}

	err = d.store.CompleteJob(jobCtx, job.ID, workerID, metastore.OCRResult{
		ExtractedText:   result.Text,
		ConfidenceScore: result.Confidence,
		Language:        resultLanguage(result, job),
		PageCount:       result.PageCount,
		WordCount:       result.WordCount,
		CharacterCount:  result.CharacterCount,
		Engine:          result.Engine,
		Raw:             result.Raw,
	})
	switch {
	case err == nil:
		duration := d.clock.Now().Sub(start)
		logger.InfoCtx(jobCtx, "job completed",
			logger.KeyWorkerID, workerID,
			logger.KeyDurationMs, duration.Milliseconds())
		if d.metrics != nil {
			d.metrics.JobCompleted(duration)
		}
	case errors.Is(err, models.ErrLeaseLost), errors.Is(err, models.ErrJobTerminal):
		logger.WarnCtx(jobCtx, "job result discarded", logger.Err(err))
	default:
		logger.ErrorCtx(jobCtx, "failed to record job completion", logger.Err(err))
	}
}

// heartbeat renews the lease at a third of the TTL until the attempt ends.
// On renew failure it cancels the attempt.
func (d *Dispatcher) heartbeat(ctx context.Context, workerID, jobID string, cancelAttempt context.CancelFunc, done chan<- struct{}) {
	defer close(done)

	ticker := time.NewTicker(d.config.LeaseTTL / 3)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := d.store.RenewLease(ctx, jobID, workerID, d.config.LeaseTTL); err != nil {
				logger.WarnCtx(ctx, "lease renewal failed, abandoning attempt",
					logger.KeyJobID, jobID, logger.KeyWorkerID, workerID, logger.Err(err))
				cancelAttempt()
				return
			}
		}
	}
}

// extract fetches the document blob and runs the OCR engine.
func (d *Dispatcher) extract(ctx context.Context, doc *models.Document, job *models.OCRJob) (*ocr.Result, error) {
	rc, err := d.blobs.Fetch(ctx, doc.StorageKey)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch document blob: %w", err)
	}
	defer rc.Close()

	content, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("failed to read document blob: %w", err)
	}

	return d.ocr.Process(ctx, ocr.Request{
		Content:  content,
		MIMEType: doc.MimeType,
		Language: job.Language,
		Options:  job.Options,
	})
}

// failJob records a failed attempt, computing the backoff deadline for
// retryable failures.
func (d *Dispatcher) failJob(ctx context.Context, workerID string, job *models.OCRJob, jobErr metastore.JobError) {
	var notBefore *time.Time
	if jobErr.Retryable && job.CanRetry() {
		d.rngMu.Lock()
		delay := backoffDelay(job.RetryCount+1, d.config.BackoffBase, d.config.BackoffMax, d.rng)
		d.rngMu.Unlock()
		at := d.clock.UTCNow().Add(delay)
		notBefore = &at

		logger.WarnCtx(ctx, "job attempt failed, will retry",
			logger.KeyWorkerID, workerID,
			logger.KeyErrorCode, jobErr.Code,
			logger.KeyAttempt, job.RetryCount+1,
			"retry_at", at.Format(time.RFC3339))
		if d.metrics != nil {
			d.metrics.JobRetried()
		}
	} else {
		logger.ErrorCtx(ctx, "job failed permanently",
			logger.KeyWorkerID, workerID,
			logger.KeyErrorCode, jobErr.Code,
			logger.KeyError, jobErr.Message)
		if d.metrics != nil {
			d.metrics.JobFailed()
		}
	}

	err := d.store.FailJob(ctx, job.ID, workerID, jobErr, notBefore)
	switch {
	case err == nil:
	case errors.Is(err, models.ErrLeaseLost), errors.Is(err, models.ErrJobTerminal):
		logger.WarnCtx(ctx, "job failure discarded", logger.Err(err))
	default:
		logger.ErrorCtx(ctx, "failed to record job failure", logger.Err(err))
	}
}

// classify maps a processing error to a job error with retry class.
func classify(err error) metastore.JobError {
	je := metastore.JobError{Message: err.Error()}

	switch {
	case errors.Is(err, ocr.ErrUnsupportedFormat):
		je.Code = "unsupported_format"
	case errors.Is(err, blobstore.ErrNotFound):
		je.Code = "blob_missing"
	case errors.Is(err, context.DeadlineExceeded):
		je.Code = "timeout"
		je.Retryable = true
	case ocr.IsTransient(err) || blobstore.IsRetryable(err) || models.IsRetryable(err):
		je.Code = "upstream_unavailable"
		je.Retryable = true
	default:
		var ee *ocr.EngineError
		if errors.As(err, &ee) {
			je.Code = ee.Code
			je.Retryable = ee.Transient
		} else {
			je.Code = "processing_error"
		}
	}
	return je
}

func resultLanguage(result *ocr.Result, job *models.OCRJob) string {
	if result.Language != "" {
		return result.Language
	}
	return job.Language
}
