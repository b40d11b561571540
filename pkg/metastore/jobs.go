package metastore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/insurecove/document-service/pkg/models"
)

// JobFilter narrows ListJobs results. Zero values mean "no constraint".
type JobFilter struct {
	DocumentID string
	Status     models.JobStatus
}

// JobError describes a processing failure reported by a worker.
type JobError struct {
	Message   string
	Code      string
	Retryable bool
}

// OCRResult is the payload a worker hands back on successful completion.
type OCRResult struct {
	ExtractedText   string
	ConfidenceScore float64
	Language        string
	PageCount       int
	WordCount       int
	CharacterCount  int
	Engine          string
	Raw             models.JSONMap
}

// EnqueueJob creates a pending OCR job for a document. The document must
// exist and not be soft-deleted, checked inside the same transaction so a
// concurrent delete cannot race a new job in.
func (s *GORMStore) EnqueueJob(ctx context.Context, job *models.OCRJob) error {
	if job.Priority == 0 {
		job.Priority = models.PriorityDefault
	}
	if job.MaxRetries == 0 {
		job.MaxRetries = 3
	}
	if job.Language == "" {
		job.Language = "auto"
	}
	if err := job.Validate(); err != nil {
		return fmt.Errorf("invalid job: %w", err)
	}

	now := s.clock.UTCNow()
	job.ID = uuid.New().String()
	job.Status = models.JobStatusPending
	job.CreatedAt = now
	job.UpdatedAt = now

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var doc models.Document
		if err := tx.First(&doc, "id = ?", job.DocumentID).Error; err != nil {
			return convertNotFoundError(err, models.ErrDocumentNotLinkable)
		}
		if doc.IsDeleted() {
			return models.ErrDocumentNotLinkable
		}
		if err := tx.Create(job).Error; err != nil {
			return fmt.Errorf("failed to enqueue job: %w", err)
		}
		return nil
	})
}

// GetJob fetches a job by ID.
func (s *GORMStore) GetJob(ctx context.Context, id string) (*models.OCRJob, error) {
	var job models.OCRJob
	err := s.db.WithContext(ctx).First(&job, "id = ?", id).Error
	if err != nil {
		return nil, convertNotFoundError(err, models.ErrJobNotFound)
	}
	return &job, nil
}

// ListJobs returns jobs matching the filter, newest first, capped at limit.
func (s *GORMStore) ListJobs(ctx context.Context, filter JobFilter, limit int) ([]*models.OCRJob, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}
	if limit > MaxListLimit {
		limit = MaxListLimit
	}

	q := s.db.WithContext(ctx)
	if filter.DocumentID != "" {
		q = q.Where("document_id = ?", filter.DocumentID)
	}
	if filter.Status != "" {
		q = q.Where("status = ?", filter.Status)
	}

	var jobs []*models.OCRJob
	if err := q.Order("created_at DESC, id DESC").Limit(limit).Find(&jobs).Error; err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}
	return jobs, nil
}

// CountPendingJobs returns how many jobs are currently runnable or waiting
// on backoff.
func (s *GORMStore) CountPendingJobs(ctx context.Context) (int64, error) {
	var n int64
	err := s.db.WithContext(ctx).Model(&models.OCRJob{}).
		Where("status = ?", models.JobStatusPending).
		Count(&n).Error
	if err != nil {
		return 0, fmt.Errorf("failed to count pending jobs: %w", err)
	}
	return n, nil
}

// LeaseOneJob atomically claims the highest-priority runnable job for a
// worker and returns it, or (nil, nil) when no job is runnable.
//
// Candidate ordering is priority ASC, created_at ASC, id ASC; jobs still in
// backoff (not_before in the future) are skipped. On PostgreSQL the select
// uses FOR UPDATE SKIP LOCKED so concurrent workers never block on each
// other; on SQLite the single-writer transaction provides the same
// exactly-one-claimant guarantee.
func (s *GORMStore) LeaseOneJob(ctx context.Context, workerID string, leaseTTL time.Duration) (*models.OCRJob, error) {
	var leased *models.OCRJob

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		now := s.clock.UTCNow()

		q := tx.Where("status = ?", models.JobStatusPending).
			Where("retry_count <= max_retries").
			Where("not_before IS NULL OR not_before <= ?", now).
			Order("priority ASC, created_at ASC, id ASC")
		if s.skipLocked {
			q = q.Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"})
		}

		var job models.OCRJob
		if err := q.First(&job).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil
			}
			return fmt.Errorf("failed to select runnable job: %w", err)
		}

		expires := now.Add(leaseTTL)
		updates := map[string]any{
			"status":           models.JobStatusProcessing,
			"lease_owner":      workerID,
			"lease_expires_at": expires,
			"updated_at":       now,
		}
		if job.ProcessingStartedAt == nil {
			updates["processing_started_at"] = now
		}

		res := tx.Model(&models.OCRJob{}).
			Where("id = ? AND status = ?", job.ID, models.JobStatusPending).
			Updates(updates)
		if res.Error != nil {
			return fmt.Errorf("failed to claim job: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			// Another worker won the race between select and update.
			return nil
		}

		if err := tx.First(&job, "id = ?", job.ID).Error; err != nil {
			return err
		}
		leased = &job
		return nil
	})
	if err != nil {
		return nil, err
	}
	return leased, nil
}

// RenewLease extends a worker's lease on a processing job. Fails with
// models.ErrLeaseLost when the worker no longer holds the lease, which is
// the worker's signal to abandon the attempt.
func (s *GORMStore) RenewLease(ctx context.Context, jobID, workerID string, leaseTTL time.Duration) error {
	now := s.clock.UTCNow()
	res := s.db.WithContext(ctx).Model(&models.OCRJob{}).
		Where("id = ? AND status = ? AND lease_owner = ?", jobID, models.JobStatusProcessing, workerID).
		Updates(map[string]any{
			"lease_expires_at": now.Add(leaseTTL),
			"updated_at":       now,
		})
	if res.Error != nil {
		return fmt.Errorf("failed to renew lease: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return models.ErrLeaseLost
	}
	return nil
}

// CompleteJob finalizes a successful attempt: the job moves to completed
// with its results and, in the same transaction, the document receives the
// OCR output, the completed status, and a version bump. A worker whose
// lease was swept loses with models.ErrLeaseLost and its results are
// discarded.
func (s *GORMStore) CompleteJob(ctx context.Context, jobID, workerID string, result OCRResult) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var job models.OCRJob
		if err := tx.First(&job, "id = ?", jobID).Error; err != nil {
			return convertNotFoundError(err, models.ErrJobNotFound)
		}
		if !job.HasLease(workerID) {
			if job.Status.IsTerminal() {
				return models.ErrJobTerminal
			}
			return models.ErrLeaseLost
		}

		now := s.clock.UTCNow()
		confidence := result.ConfidenceScore
		pages := result.PageCount
		words := result.WordCount
		chars := result.CharacterCount

		jobUpdates := map[string]any{
			"status":                  models.JobStatusCompleted,
			"extracted_text":          result.ExtractedText,
			"confidence_score":        confidence,
			"page_count":              pages,
			"word_count":              words,
			"character_count":         chars,
			"result":                  result.Raw,
			"error_message":           "",
			"error_code":              "",
			"lease_owner":             nil,
			"lease_expires_at":        nil,
			"processing_completed_at": now,
			"updated_at":              now,
		}
		if result.Engine != "" {
			jobUpdates["engine"] = result.Engine
		}
		res := tx.Model(&models.OCRJob{}).
			Where("id = ? AND status = ? AND lease_owner = ?", jobID, models.JobStatusProcessing, workerID).
			Updates(jobUpdates)
		if res.Error != nil {
			return fmt.Errorf("failed to complete job: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return models.ErrLeaseLost
		}

		var doc models.Document
		if err := tx.First(&doc, "id = ?", job.DocumentID).Error; err != nil {
			return convertNotFoundError(err, models.ErrDocumentNotFound)
		}
		if doc.IsDeleted() {
			// Document was deleted mid-flight; the job result stands but
			// there is nothing to publish it to.
			return nil
		}

		newVersion := doc.Version + 1
		docUpdates := map[string]any{
			"ocr_completed":  true,
			"ocr_job_id":     jobID,
			"ocr_text":       result.ExtractedText,
			"ocr_confidence": confidence,
			"ocr_language":   result.Language,
			"ocr_page_count": pages,
			"ocr_word_count": words,
			"status":         models.DocumentStatusCompleted,
			"version":        newVersion,
			"etag":           models.ETagFor(doc.ID, newVersion),
			"updated_at":     now,
		}
		docRes := tx.Model(&models.Document{}).
			Where("id = ? AND version = ?", doc.ID, doc.Version).
			Updates(docUpdates)
		if docRes.Error != nil {
			return fmt.Errorf("failed to publish OCR result to document: %w", docRes.Error)
		}
		if docRes.RowsAffected == 0 {
			return models.ErrPreconditionFailed
		}
		return nil
	})
}

// FailJob records a failed attempt. Retryable failures with budget left go
// back to pending with notBefore as the backoff deadline; everything else
// is terminal. A terminal failure also marks the document failed unless a
// previous job already completed OCR for it.
func (s *GORMStore) FailJob(ctx context.Context, jobID, workerID string, jobErr JobError, notBefore *time.Time) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var job models.OCRJob
		if err := tx.First(&job, "id = ?", jobID).Error; err != nil {
			return convertNotFoundError(err, models.ErrJobNotFound)
		}
		if !job.HasLease(workerID) {
			if job.Status.IsTerminal() {
				return models.ErrJobTerminal
			}
			return models.ErrLeaseLost
		}

		now := s.clock.UTCNow()
		retry := jobErr.Retryable && job.CanRetry()

		updates := map[string]any{
			"error_message":    jobErr.Message,
			"error_code":       jobErr.Code,
			"lease_owner":      nil,
			"lease_expires_at": nil,
			"updated_at":       now,
		}
		if retry {
			// Only a granted retry consumes budget, so retry_count never
			// exceeds max_retries.
			updates["retry_count"] = job.RetryCount + 1
			updates["status"] = models.JobStatusPending
			if notBefore != nil {
				updates["not_before"] = *notBefore
				opts := job.Options.Clone()
				if opts == nil {
					opts = models.JSONMap{}
				}
				opts[models.OptionNotBefore] = notBefore.UTC().Format(time.RFC3339Nano)
				updates["options"] = opts
			}
		} else {
			updates["status"] = models.JobStatusFailed
			updates["processing_completed_at"] = now
		}

		res := tx.Model(&models.OCRJob{}).
			Where("id = ? AND status = ? AND lease_owner = ?", jobID, models.JobStatusProcessing, workerID).
			Updates(updates)
		if res.Error != nil {
			return fmt.Errorf("failed to record job failure: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return models.ErrLeaseLost
		}

		if retry {
			return nil
		}
		return s.markDocumentFailed(tx, job.DocumentID, now)
	})
}

// markDocumentFailed flips a document to failed after a terminal job
// failure, unless an earlier job already delivered OCR output for it.
func (s *GORMStore) markDocumentFailed(tx *gorm.DB, documentID string, now time.Time) error {
	var doc models.Document
	if err := tx.First(&doc, "id = ?", documentID).Error; err != nil {
		return convertNotFoundError(err, models.ErrDocumentNotFound)
	}
	if doc.IsDeleted() || doc.OCRCompleted {
		return nil
	}

	newVersion := doc.Version + 1
	res := tx.Model(&models.Document{}).
		Where("id = ? AND version = ?", doc.ID, doc.Version).
		Updates(map[string]any{
			"status":     models.DocumentStatusFailed,
			"version":    newVersion,
			"etag":       models.ETagFor(doc.ID, newVersion),
			"updated_at": now,
		})
	if res.Error != nil {
		return fmt.Errorf("failed to mark document failed: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return models.ErrPreconditionFailed
	}
	return nil
}

// CancelJob moves a pending or processing job to cancelled and drops any
// lease. A processing worker discovers the cancellation on its next
// heartbeat and abandons the attempt. Cancelling an already-cancelled job
// is a no-op; completed and failed jobs report models.ErrJobTerminal.
func (s *GORMStore) CancelJob(ctx context.Context, jobID string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var job models.OCRJob
		if err := tx.First(&job, "id = ?", jobID).Error; err != nil {
			return convertNotFoundError(err, models.ErrJobNotFound)
		}
		switch job.Status {
		case models.JobStatusCancelled:
			return nil
		case models.JobStatusCompleted, models.JobStatusFailed:
			return models.ErrJobTerminal
		}

		now := s.clock.UTCNow()
		res := tx.Model(&models.OCRJob{}).
			Where("id = ? AND status IN ?", jobID, []models.JobStatus{models.JobStatusPending, models.JobStatusProcessing}).
			Updates(map[string]any{
				"status":                  models.JobStatusCancelled,
				"lease_owner":             nil,
				"lease_expires_at":        nil,
				"processing_completed_at": now,
				"updated_at":              now,
			})
		if res.Error != nil {
			return fmt.Errorf("failed to cancel job: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return models.ErrJobTerminal
		}
		return nil
	})
}

// CancelJobsForDocument cancels every non-terminal job linked to a
// document, returning how many were cancelled. Used by document deletion.
func (s *GORMStore) CancelJobsForDocument(ctx context.Context, documentID string) (int64, error) {
	now := s.clock.UTCNow()
	res := s.db.WithContext(ctx).Model(&models.OCRJob{}).
		Where("document_id = ? AND status IN ?", documentID,
			[]models.JobStatus{models.JobStatusPending, models.JobStatusProcessing}).
		Updates(map[string]any{
			"status":                  models.JobStatusCancelled,
			"lease_owner":             nil,
			"lease_expires_at":        nil,
			"processing_completed_at": now,
			"updated_at":              now,
		})
	if res.Error != nil {
		return 0, fmt.Errorf("failed to cancel document jobs: %w", res.Error)
	}
	return res.RowsAffected, nil
}

// ExpireLeases reclaims processing jobs whose lease has lapsed. An expired
// lease counts as a failed attempt: jobs with budget left return to pending
// for another worker, exhausted jobs go terminal. Returns the number of
// reclaimed jobs.
func (s *GORMStore) ExpireLeases(ctx context.Context) (int64, error) {
	var reclaimed int64

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		now := s.clock.UTCNow()

		var expired []*models.OCRJob
		err := tx.Where("status = ? AND lease_expires_at IS NOT NULL AND lease_expires_at < ?",
			models.JobStatusProcessing, now).
			Find(&expired).Error
		if err != nil {
			return fmt.Errorf("failed to find expired leases: %w", err)
		}

		for _, job := range expired {
			updates := map[string]any{
				"lease_owner":      nil,
				"lease_expires_at": nil,
				"error_code":       "lease_expired",
				"error_message":    "worker lease expired before the attempt finished",
				"updated_at":       now,
			}
			terminal := !job.CanRetry()
			if terminal {
				updates["status"] = models.JobStatusFailed
				updates["processing_completed_at"] = now
			} else {
				updates["retry_count"] = job.RetryCount + 1
				updates["status"] = models.JobStatusPending
			}

			res := tx.Model(&models.OCRJob{}).
				Where("id = ? AND status = ? AND lease_expires_at < ?", job.ID, models.JobStatusProcessing, now).
				Updates(updates)
			if res.Error != nil {
				return fmt.Errorf("failed to reclaim lease: %w", res.Error)
			}
			if res.RowsAffected == 0 {
				continue
			}
			reclaimed++

			if terminal {
				if err := s.markDocumentFailed(tx, job.DocumentID, now); err != nil {
					return err
				}
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return reclaimed, nil
}
