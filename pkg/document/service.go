// Package document implements the document lifecycle: upload with
// validation and deduplication, retrieval with ownership checks, presigned
// downloads, metadata updates under optimistic concurrency, and deletion
// with blob reclamation. It composes the metastore, storage, validation,
// queue, and audit capabilities; no HTTP concerns live here.
package document

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/insurecove/document-service/internal/logger"
	"github.com/insurecove/document-service/pkg/audit"
	"github.com/insurecove/document-service/pkg/clock"
	"github.com/insurecove/document-service/pkg/identity"
	"github.com/insurecove/document-service/pkg/metastore"
	"github.com/insurecove/document-service/pkg/metrics"
	"github.com/insurecove/document-service/pkg/models"
	"github.com/insurecove/document-service/pkg/ocr"
	"github.com/insurecove/document-service/pkg/storage"
	"github.com/insurecove/document-service/pkg/validation"
)

// DefaultOwnerQuota caps the total live bytes a single owner may store.
const DefaultOwnerQuota = 1 << 30 // 1 GiB

// Tag caps, matching the upload surface of the metadata column.
const (
	MaxTags      = 20
	MaxTagLength = 64
)

// JobEnqueuer accepts new OCR jobs. The queue dispatcher implements it; a
// nil enqueuer disables OCR scheduling.
type JobEnqueuer interface {
	Enqueue(ctx context.Context, job *models.OCRJob) error
}

// Config contains document service configuration.
type Config struct {
	// OwnerQuotaBytes caps the total live bytes per owner. Zero means
	// DefaultOwnerQuota; negative disables the quota.
	OwnerQuotaBytes int64 `mapstructure:"owner_quota_bytes" yaml:"owner_quota_bytes"`
}

// Service implements the document operations.
type Service struct {
	store   *metastore.GORMStore
	storage *storage.Service
	jobs    JobEnqueuer
	audit   *audit.Recorder
	metrics *metrics.DocumentMetrics
	clock   clock.Clock
	quota   int64
}

// New creates the document service. The audit recorder, metrics, and job
// enqueuer may be nil.
func New(cfg Config, store *metastore.GORMStore, blobs *storage.Service, jobs JobEnqueuer, rec *audit.Recorder, m *metrics.DocumentMetrics, clk clock.Clock) *Service {
	quota := cfg.OwnerQuotaBytes
	if quota == 0 {
		quota = DefaultOwnerQuota
	}
	if clk == nil {
		clk = clock.New()
	}
	return &Service{
		store:   store,
		storage: blobs,
		jobs:    jobs,
		audit:   rec,
		metrics: m,
		clock:   clk,
		quota:   quota,
	}
}

// UploadRequest carries one file upload.
type UploadRequest struct {
	FileName     string
	MIMEType     string
	Content      []byte
	DocumentType string
	Tags         []string
	Metadata     map[string]any
	ClientID     *string
	InsurerID    *string

	// AutoOCR schedules text extraction right after upload when the
	// format supports it.
	AutoOCR     bool
	OCRPriority int
	OCRLanguage string
}

// UploadResult is the outcome of an upload.
type UploadResult struct {
	Document *models.Document

	// Deduplicated is set when the owner already had this exact content;
	// the existing document is returned and no new blob is written.
	Deduplicated bool

	// JobID is the scheduled OCR job, when one was created.
	JobID string

	// Warnings carries non-fatal validation notes (extension/MIME
	// disagreement and the like).
	Warnings []string
}

// Upload validates, stores, and registers a document for the principal.
// Re-uploading content the owner already has returns the existing document.
func (s *Service) Upload(ctx context.Context, p *identity.Principal, req UploadRequest) (*UploadResult, error) {
	if p == nil {
		return nil, models.ErrUnauthenticated
	}
	start := s.clock.Now()

	fileName, err := validation.SanitizeFilename(req.FileName)
	if err != nil {
		s.metrics.RecordUpload("rejected", 0)
		return nil, err
	}
	check, err := validation.CheckFile(fileName, req.MIMEType, req.Content)
	if err != nil {
		s.metrics.RecordUpload("rejected", 0)
		s.recordAudit(ctx, auditEvent(p, "", models.AccessTypeUpload, false, errorCode(err)))
		return nil, err
	}
	if err := validateTags(req.Tags); err != nil {
		s.metrics.RecordUpload("rejected", 0)
		return nil, err
	}
	if len(req.Metadata) > 0 {
		if err := validation.ValidateMetadata(models.JSONMap(req.Metadata)); err != nil {
			s.metrics.RecordUpload("rejected", 0)
			return nil, err
		}
	}

	hash := storage.HashBytes(req.Content)

	// Same owner, same bytes: hand back the existing document.
	if existing, err := s.store.GetDocumentByOwnerAndHash(ctx, p.UserID, hash); err == nil {
		logger.InfoCtx(ctx, "upload deduplicated",
			logger.KeyDocumentID, existing.ID,
			logger.KeyFileHash, hash)
		s.metrics.RecordUpload("deduplicated", int64(len(req.Content)))
		s.recordAudit(ctx, auditEvent(p, existing.ID, models.AccessTypeUpload, true, ""))
		return &UploadResult{Document: existing, Deduplicated: true, Warnings: check.Warnings}, nil
	} else if !errors.Is(err, models.ErrDocumentNotFound) {
		return nil, err
	}

	if err := s.checkQuota(ctx, p.UserID, int64(len(req.Content))); err != nil {
		s.metrics.RecordUpload("rejected", 0)
		return nil, err
	}

	stored, err := s.storage.Store(ctx, p.UserID, check.Extension, check.MIMEType, req.Content)
	if err != nil {
		return nil, fmt.Errorf("failed to store document content: %w", err)
	}

	doc := &models.Document{
		FileName:           fileName,
		OriginalFilename:   req.FileName,
		FileSize:           stored.Size,
		FileType:           check.Extension,
		MimeType:           check.MIMEType,
		FileHash:           stored.Hash,
		StorageKey:         stored.Key,
		StorageBucket:      stored.Bucket,
		OwnerID:            p.UserID,
		ClientID:           req.ClientID,
		InsurerID:          req.InsurerID,
		DocumentType:       req.DocumentType,
		SecurityScanStatus: models.ScanStatusPending,
		VirusScanStatus:    models.ScanStatusPending,
		ContentValidated:   true,
		Tags:               models.StringList(req.Tags),
		Metadata:           models.JSONMap(req.Metadata),
	}
	if err := s.store.InsertDocument(ctx, doc); err != nil {
		if errors.Is(err, models.ErrDuplicateStorageKey) {
			// Lost an upload race for the same content; the winner's row
			// is the document.
			if existing, lookupErr := s.store.GetDocumentByOwnerAndHash(ctx, p.UserID, hash); lookupErr == nil {
				s.metrics.RecordUpload("deduplicated", stored.Size)
				return &UploadResult{Document: existing, Deduplicated: true, Warnings: check.Warnings}, nil
			}
		}
		return nil, err
	}

	result := &UploadResult{Document: doc, Warnings: check.Warnings}

	if req.AutoOCR && ocr.Supported(check.MIMEType) && s.jobs != nil {
		job := &models.OCRJob{
			DocumentID: doc.ID,
			Priority:   req.OCRPriority,
			Language:   req.OCRLanguage,
		}
		if err := s.jobs.Enqueue(ctx, job); err != nil {
			// The upload itself succeeded; extraction can be requested
			// again later.
			logger.WarnCtx(ctx, "failed to schedule OCR after upload",
				logger.KeyDocumentID, doc.ID, logger.Err(err))
		} else {
			result.JobID = job.ID
		}
	}

	logger.InfoCtx(ctx, "document uploaded",
		logger.KeyDocumentID, doc.ID,
		logger.KeyFilename, doc.FileName,
		logger.KeyFileSize, doc.FileSize,
		logger.KeyMimeType, doc.MimeType,
		logger.KeyDurationMs, s.clock.Now().Sub(start).Milliseconds())
	s.metrics.RecordUpload("created", stored.Size)
	s.metrics.ObserveOperation("upload", s.clock.Now().Sub(start))
	s.recordAudit(ctx, auditEvent(p, doc.ID, models.AccessTypeUpload, true, ""))

	return result, nil
}

// Get returns a document the principal may access.
func (s *Service) Get(ctx context.Context, p *identity.Principal, id string) (*models.Document, error) {
	doc, err := s.authorize(ctx, p, id, false)
	if err != nil {
		return nil, err
	}
	s.recordAudit(ctx, auditEvent(p, id, models.AccessTypeView, true, ""))
	return doc, nil
}

// List returns one page of ownerID's documents. Non-admin principals may
// only list their own; an empty ownerID means the caller's.
func (s *Service) List(ctx context.Context, p *identity.Principal, ownerID string, filter metastore.DocumentFilter, cursor string, limit int) ([]*models.Document, string, error) {
	if p == nil {
		return nil, "", models.ErrUnauthenticated
	}
	if ownerID == "" {
		ownerID = p.UserID
	}
	if ownerID != p.UserID && !p.IsAdmin() {
		return nil, "", models.ErrForbidden
	}
	return s.store.ListDocumentsByOwner(ctx, ownerID, filter, cursor, limit)
}

// DownloadResult carries a presigned download link.
type DownloadResult struct {
	Document  *models.Document
	URL       string
	ExpiresIn time.Duration
}

// Download issues a presigned URL for the document body and records the
// access. The requested TTL is clamped to the storage layer's cap.
func (s *Service) Download(ctx context.Context, p *identity.Principal, id string, ttl time.Duration) (*DownloadResult, error) {
	doc, err := s.authorize(ctx, p, id, false)
	if err != nil {
		s.recordAudit(ctx, auditEvent(p, id, models.AccessTypeDownload, false, errorCode(err)))
		return nil, err
	}

	url, effective, err := s.storage.PresignDownload(ctx, doc.StorageKey, ttl)
	if err != nil {
		s.recordAudit(ctx, auditEvent(p, id, models.AccessTypeDownload, false, "presign_failed"))
		return nil, fmt.Errorf("failed to presign download: %w", err)
	}

	if err := s.store.IncrementAccessCounters(ctx, id, 1); err != nil {
		logger.WarnCtx(ctx, "failed to bump access counters",
			logger.KeyDocumentID, id, logger.Err(err))
	}

	s.metrics.RecordDownload()
	ev := auditEvent(p, id, models.AccessTypeDownload, true, "")
	ev.FileSizeDownloaded = doc.FileSize
	s.recordAudit(ctx, ev)

	return &DownloadResult{Document: doc, URL: url, ExpiresIn: effective}, nil
}

// UpdateRequest is the client-mutable subset of a document.
type UpdateRequest struct {
	FileName     *string
	DocumentType *string
	Tags         *[]string
	Metadata     *map[string]any
	Status       *models.DocumentStatus
}

// Update applies a metadata patch under optimistic concurrency. A non-empty
// ifMatch must equal the document's current etag.
func (s *Service) Update(ctx context.Context, p *identity.Principal, id string, req UpdateRequest, ifMatch string) (*models.Document, error) {
	if _, err := s.authorize(ctx, p, id, false); err != nil {
		return nil, err
	}

	patch := metastore.DocumentPatch{
		DocumentType: req.DocumentType,
		Status:       req.Status,
	}
	if req.FileName != nil {
		clean, err := validation.SanitizeFilename(*req.FileName)
		if err != nil {
			return nil, err
		}
		patch.FileName = &clean
	}
	if req.Tags != nil {
		if err := validateTags(*req.Tags); err != nil {
			return nil, err
		}
		tags := models.StringList(*req.Tags)
		patch.Tags = &tags
	}
	if req.Metadata != nil {
		if err := validation.ValidateMetadata(models.JSONMap(*req.Metadata)); err != nil {
			return nil, err
		}
		meta := models.JSONMap(*req.Metadata)
		patch.Metadata = &meta
	}

	doc, err := s.store.UpdateDocument(ctx, id, patch, ifMatch)
	if err != nil {
		s.recordAudit(ctx, auditEvent(p, id, models.AccessTypeUpdate, false, errorCode(err)))
		return nil, err
	}
	s.recordAudit(ctx, auditEvent(p, id, models.AccessTypeUpdate, true, ""))
	return doc, nil
}

// Delete removes a document. Soft deletion keeps the row and blob for
// recovery; hard deletion removes the row, its jobs and logs, and the blob
// when no other live document references it. A non-empty ifMatch must equal
// the document's current etag. Pending OCR work is cancelled either way.
func (s *Service) Delete(ctx context.Context, p *identity.Principal, id string, hard bool, ifMatch string) error {
	doc, err := s.authorize(ctx, p, id, true)
	if err != nil {
		return err
	}
	if ifMatch != "" && !doc.IsDeleted() && ifMatch != doc.ETag {
		return models.ErrPreconditionFailed
	}

	if n, err := s.store.CancelJobsForDocument(ctx, id); err != nil {
		logger.WarnCtx(ctx, "failed to cancel jobs for document",
			logger.KeyDocumentID, id, logger.Err(err))
	} else if n > 0 {
		logger.InfoCtx(ctx, "cancelled jobs for deleted document",
			logger.KeyDocumentID, id, logger.KeyCount, n)
	}

	if !hard {
		if err := s.store.SoftDelete(ctx, id, ifMatch); err != nil {
			return err
		}
		s.metrics.RecordDelete("soft")
		s.recordAudit(ctx, auditEvent(p, id, models.AccessTypeDelete, true, ""))
		return nil
	}

	if err := s.store.HardDelete(ctx, id); err != nil {
		return err
	}
	refs, err := s.store.CountLiveReferences(ctx, doc.StorageKey)
	if err != nil {
		logger.WarnCtx(ctx, "failed to count blob references, keeping blob",
			logger.KeyKey, doc.StorageKey, logger.Err(err))
	} else if refs == 0 {
		if err := s.storage.Delete(ctx, doc.StorageKey); err != nil {
			logger.WarnCtx(ctx, "failed to delete blob",
				logger.KeyKey, doc.StorageKey, logger.Err(err))
		}
	}
	s.metrics.RecordDelete("hard")
	s.recordAudit(ctx, auditEvent(p, id, models.AccessTypeDelete, true, ""))
	return nil
}

// RequestOCR schedules text extraction for an uploaded document.
func (s *Service) RequestOCR(ctx context.Context, p *identity.Principal, id string, priority int, language string) (*models.OCRJob, error) {
	doc, err := s.authorize(ctx, p, id, false)
	if err != nil {
		return nil, err
	}
	if !ocr.Supported(doc.MimeType) {
		return nil, fmt.Errorf("%w: %s", ocr.ErrUnsupportedFormat, doc.MimeType)
	}
	if s.jobs == nil {
		return nil, fmt.Errorf("ocr scheduling is not available")
	}

	job := &models.OCRJob{
		DocumentID: id,
		Priority:   priority,
		Language:   language,
	}
	if err := s.jobs.Enqueue(ctx, job); err != nil {
		return nil, err
	}
	return job, nil
}

// GetJob returns an OCR job, subject to document ownership.
func (s *Service) GetJob(ctx context.Context, p *identity.Principal, jobID string) (*models.OCRJob, error) {
	if p == nil {
		return nil, models.ErrUnauthenticated
	}
	job, err := s.store.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	doc, err := s.store.GetDocument(ctx, job.DocumentID, true)
	if err != nil {
		return nil, err
	}
	if !p.CanAccessDocument(doc.OwnerID) {
		return nil, models.ErrForbidden
	}
	return job, nil
}

// CancelJob cancels a queued or running OCR job, subject to document
// ownership.
func (s *Service) CancelJob(ctx context.Context, p *identity.Principal, jobID string) error {
	if _, err := s.GetJob(ctx, p, jobID); err != nil {
		return err
	}
	return s.store.CancelJob(ctx, jobID)
}

// GetUsageStats aggregates an owner's live documents. Non-admins may only
// query themselves.
func (s *Service) GetUsageStats(ctx context.Context, p *identity.Principal, ownerID string) (*metastore.OwnerStats, error) {
	if p == nil {
		return nil, models.ErrUnauthenticated
	}
	if ownerID == "" {
		ownerID = p.UserID
	}
	if ownerID != p.UserID && !p.IsAdmin() {
		return nil, models.ErrForbidden
	}
	return s.store.GetOwnerStats(ctx, ownerID)
}

// authorize loads the document and checks the principal may operate on it.
func (s *Service) authorize(ctx context.Context, p *identity.Principal, id string, includeDeleted bool) (*models.Document, error) {
	if p == nil {
		return nil, models.ErrUnauthenticated
	}
	doc, err := s.store.GetDocument(ctx, id, includeDeleted)
	if err != nil {
		return nil, err
	}
	if !p.CanAccessDocument(doc.OwnerID) {
		return nil, models.ErrForbidden
	}
	return doc, nil
}

// checkQuota rejects an upload that would push the owner past the quota.
func (s *Service) checkQuota(ctx context.Context, ownerID string, size int64) error {
	if s.quota < 0 {
		return nil
	}
	used, err := s.store.OwnerUsageBytes(ctx, ownerID)
	if err != nil {
		return err
	}
	if used+size > s.quota {
		return fmt.Errorf("%w: %d of %d bytes used", models.ErrQuotaExceeded, used, s.quota)
	}
	return nil
}

func (s *Service) recordAudit(ctx context.Context, ev audit.Event) {
	if s.audit == nil || ev.DocumentID == "" {
		return
	}
	s.audit.Record(ctx, ev)
	s.metrics.SetAuditDropped(s.audit.Dropped())
}

func auditEvent(p *identity.Principal, docID string, accessType models.AccessType, success bool, errorCode string) audit.Event {
	ev := audit.Event{
		DocumentID: docID,
		AccessType: accessType,
		Success:    success,
		ErrorCode:  errorCode,
	}
	if p != nil {
		ev.UserID = p.UserID
	}
	return ev
}

// errorCode maps service errors to stable audit codes.
func errorCode(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, models.ErrDocumentNotFound):
		return "not_found"
	case errors.Is(err, models.ErrDocumentDeleted):
		return "deleted"
	case errors.Is(err, models.ErrForbidden):
		return "forbidden"
	case errors.Is(err, models.ErrPreconditionFailed):
		return "precondition_failed"
	case errors.Is(err, models.ErrQuotaExceeded):
		return "quota_exceeded"
	default:
		return "error"
	}
}

// validateTags enforces tag count and length caps.
func validateTags(tags []string) error {
	if len(tags) > MaxTags {
		return fmt.Errorf("too many tags: %d exceeds limit of %d", len(tags), MaxTags)
	}
	for _, tag := range tags {
		trimmed := strings.TrimSpace(tag)
		if trimmed == "" {
			return fmt.Errorf("empty tag")
		}
		if len(trimmed) > MaxTagLength {
			return fmt.Errorf("tag %q exceeds %d characters", trimmed, MaxTagLength)
		}
	}
	return nil
}
