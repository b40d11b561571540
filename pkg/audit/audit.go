// Package audit records document access events. Writes are decoupled from
// the request path: events go into a bounded in-memory queue and a single
// background writer appends them to the metastore. When the queue is full
// events are dropped and counted rather than blocking requests.
package audit

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/insurecove/document-service/internal/logger"
	"github.com/insurecove/document-service/pkg/clock"
	"github.com/insurecove/document-service/pkg/metastore"
	"github.com/insurecove/document-service/pkg/models"
)

// DefaultQueueSize bounds the number of events waiting to be written.
const DefaultQueueSize = 1024

// writeTimeout bounds a single append against the metastore.
const writeTimeout = 5 * time.Second

// Event describes one document access.
type Event struct {
	DocumentID string
	UserID     string
	AccessType models.AccessType

	Success        bool
	HTTPStatusCode int
	ErrorCode      string
	ErrorMessage   string

	ResponseTimeMs     int64
	FileSizeDownloaded int64

	IPAddress string
	UserAgent string
	RequestID string
	SessionID string
}

// Recorder appends access events in the background.
type Recorder struct {
	store *metastore.GORMStore
	clock clock.Clock

	queue     chan *models.AccessLog
	stopCh    chan struct{}
	stoppedCh chan struct{}

	dropped atomic.Int64
	written atomic.Int64

	mu      sync.Mutex
	started bool
	stopped bool
}

// NewRecorder creates a recorder with the given queue size. A size of zero
// or less uses DefaultQueueSize.
func NewRecorder(store *metastore.GORMStore, clk clock.Clock, queueSize int) *Recorder {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	if clk == nil {
		clk = clock.New()
	}
	return &Recorder{
		store:     store,
		clock:     clk,
		queue:     make(chan *models.AccessLog, queueSize),
		stopCh:    make(chan struct{}),
		stoppedCh: make(chan struct{}),
	}
}

// Start launches the background writer.
func (r *Recorder) Start() {
	r.mu.Lock()
	if r.started {
		r.mu.Unlock()
		return
	}
	r.started = true
	r.mu.Unlock()

	go r.writeLoop()
}

// Stop drains the queue and stops the writer.
func (r *Recorder) Stop() {
	r.mu.Lock()
	if !r.started || r.stopped {
		r.mu.Unlock()
		return
	}
	r.stopped = true
	r.mu.Unlock()

	close(r.stopCh)
	<-r.stoppedCh

	if n := r.dropped.Load(); n > 0 {
		logger.Warn("audit recorder dropped events", logger.KeyCount, n)
	}
}

// Record enqueues an access event. Never blocks; a full queue drops the
// event and bumps the dropped counter.
func (r *Recorder) Record(ctx context.Context, ev Event) {
	entry := &models.AccessLog{
		ID:                 uuid.New().String(),
		DocumentID:         ev.DocumentID,
		UserID:             ev.UserID,
		AccessType:         ev.AccessType,
		Success:            ev.Success,
		HTTPStatusCode:     ev.HTTPStatusCode,
		ErrorCode:          ev.ErrorCode,
		ErrorMessage:       ev.ErrorMessage,
		ResponseTimeMs:     ev.ResponseTimeMs,
		FileSizeDownloaded: ev.FileSizeDownloaded,
		IPAddress:          ev.IPAddress,
		UserAgent:          ev.UserAgent,
		RequestID:          ev.RequestID,
		SessionID:          ev.SessionID,
		AccessedAt:         r.clock.UTCNow(),
	}
	if entry.RequestID == "" {
		if lc := logger.FromContext(ctx); lc != nil {
			entry.RequestID = lc.RequestID
		}
	}

	select {
	case r.queue <- entry:
	default:
		r.dropped.Add(1)
		logger.DebugCtx(ctx, "audit queue full, event dropped",
			logger.KeyDocumentID, ev.DocumentID,
			logger.KeyAccessType, string(ev.AccessType))
	}
}

// Dropped returns the number of events lost to a full queue.
func (r *Recorder) Dropped() int64 {
	return r.dropped.Load()
}

// Written returns the number of events persisted.
func (r *Recorder) Written() int64 {
	return r.written.Load()
}

func (r *Recorder) writeLoop() {
	defer close(r.stoppedCh)

	for {
		select {
		case entry := <-r.queue:
			r.write(entry)
		case <-r.stopCh:
			r.drain()
			return
		}
	}
}

// drain writes everything left in the queue during shutdown.
func (r *Recorder) drain() {
	for {
		select {
		case entry := <-r.queue:
			r.write(entry)
		default:
			return
		}
	}
}

func (r *Recorder) write(entry *models.AccessLog) {
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()

	if err := r.store.AppendAccessLog(ctx, entry); err != nil {
		logger.Error("failed to append access log",
			logger.Err(err),
			logger.KeyDocumentID, entry.DocumentID,
			logger.KeyAccessType, string(entry.AccessType))
		return
	}
	r.written.Add(1)
}
