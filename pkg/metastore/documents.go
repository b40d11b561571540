package metastore

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/insurecove/document-service/pkg/models"
)

// DefaultListLimit is the page size used when a list request does not
// specify one. MaxListLimit caps the page size.
const (
	DefaultListLimit = 50
	MaxListLimit     = 200
)

// DocumentPatch describes the mutable subset of a document. Only non-nil
// fields are applied; everything else on the row is owned by the store
// itself (version, etag, timestamps) or by dedicated operations (OCR
// results, counters, deletion).
type DocumentPatch struct {
	FileName           *string
	DocumentType       *string
	Tags               *models.StringList
	Metadata           *models.JSONMap
	Status             *models.DocumentStatus
	SecurityScanStatus *models.ScanStatus
	VirusScanStatus    *models.ScanStatus
	ContentValidated   *bool
}

// DocumentFilter narrows ListDocumentsByOwner results. Zero values mean
// "no constraint".
type DocumentFilter struct {
	Status           models.DocumentStatus
	DocumentType     string
	FileType         string
	Tag              string
	FilenameContains string
	OCRCompleted     *bool
	CreatedAfter     *time.Time
	CreatedBefore    *time.Time
	IncludeDeleted   bool
}

// listCursor is the opaque pagination token. Pages are ordered by
// (created_at DESC, id DESC); the cursor carries the last row of the
// previous page.
type listCursor struct {
	CreatedAt time.Time `json:"c"`
	ID        string    `json:"i"`
}

func encodeCursor(c listCursor) string {
	raw, _ := json.Marshal(c)
	return base64.RawURLEncoding.EncodeToString(raw)
}

func decodeCursor(s string) (listCursor, error) {
	var c listCursor
	raw, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return c, fmt.Errorf("malformed cursor: %w", err)
	}
	if err := json.Unmarshal(raw, &c); err != nil {
		return c, fmt.Errorf("malformed cursor: %w", err)
	}
	return c, nil
}

// InsertDocument persists a new document row. The store assigns the ID,
// initial version, and etag. Returns models.ErrDuplicateStorageKey when
// another row already owns the same storage key.
func (s *GORMStore) InsertDocument(ctx context.Context, doc *models.Document) error {
	if err := doc.Validate(); err != nil {
		return fmt.Errorf("invalid document: %w", err)
	}

	now := s.clock.UTCNow()
	doc.ID = uuid.New().String()
	doc.Version = 1
	doc.ETag = models.ETagFor(doc.ID, doc.Version)
	doc.CreatedAt = now
	doc.UpdatedAt = now
	if doc.Status == "" {
		doc.Status = models.DocumentStatusUploaded
	}

	if err := s.db.WithContext(ctx).Create(doc).Error; err != nil {
		if isUniqueConstraintError(err) {
			return models.ErrDuplicateStorageKey
		}
		return fmt.Errorf("failed to insert document: %w", err)
	}
	return nil
}

// GetDocument fetches a document by ID. Soft-deleted rows are reported as
// models.ErrDocumentDeleted unless includeDeleted is set.
func (s *GORMStore) GetDocument(ctx context.Context, id string, includeDeleted bool) (*models.Document, error) {
	var doc models.Document
	err := s.db.WithContext(ctx).First(&doc, "id = ?", id).Error
	if err != nil {
		return nil, convertNotFoundError(err, models.ErrDocumentNotFound)
	}
	if doc.IsDeleted() && !includeDeleted {
		return nil, models.ErrDocumentDeleted
	}
	return &doc, nil
}

// GetDocumentByOwnerAndHash returns the live document an owner already has
// for a given content hash, for upload deduplication. Soft-deleted rows do
// not count as duplicates.
func (s *GORMStore) GetDocumentByOwnerAndHash(ctx context.Context, ownerID, fileHash string) (*models.Document, error) {
	var doc models.Document
	err := s.db.WithContext(ctx).
		Where("owner_id = ? AND file_hash = ? AND deleted_at IS NULL", ownerID, fileHash).
		Order("created_at ASC").
		First(&doc).Error
	if err != nil {
		return nil, convertNotFoundError(err, models.ErrDocumentNotFound)
	}
	return &doc, nil
}

// ListDocumentsByOwner returns one page of an owner's documents ordered
// newest first, plus the cursor for the next page ("" when exhausted).
func (s *GORMStore) ListDocumentsByOwner(ctx context.Context, ownerID string, filter DocumentFilter, cursor string, limit int) ([]*models.Document, string, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}
	if limit > MaxListLimit {
		limit = MaxListLimit
	}

	q := s.db.WithContext(ctx).Where("owner_id = ?", ownerID)
	if !filter.IncludeDeleted {
		q = q.Where("deleted_at IS NULL")
	}
	if filter.Status != "" {
		q = q.Where("status = ?", filter.Status)
	}
	if filter.DocumentType != "" {
		q = q.Where("document_type = ?", filter.DocumentType)
	}
	if filter.FileType != "" {
		q = q.Where("file_type = ?", filter.FileType)
	}
	if filter.Tag != "" {
		// Tags are stored as a JSON array of strings; match the quoted
		// element.
		q = q.Where("tags LIKE ?", "%"+`"`+filter.Tag+`"`+"%")
	}
	if filter.FilenameContains != "" {
		q = q.Where("file_name LIKE ?", "%"+filter.FilenameContains+"%")
	}
	if filter.OCRCompleted != nil {
		q = q.Where("ocr_completed = ?", *filter.OCRCompleted)
	}
	if filter.CreatedAfter != nil {
		q = q.Where("created_at > ?", *filter.CreatedAfter)
	}
	if filter.CreatedBefore != nil {
		q = q.Where("created_at < ?", *filter.CreatedBefore)
	}

	if cursor != "" {
		c, err := decodeCursor(cursor)
		if err != nil {
			return nil, "", err
		}
		q = q.Where("created_at < ? OR (created_at = ? AND id < ?)", c.CreatedAt, c.CreatedAt, c.ID)
	}

	var docs []*models.Document
	// Fetch one extra row to learn whether another page exists.
	err := q.Order("created_at DESC, id DESC").Limit(limit + 1).Find(&docs).Error
	if err != nil {
		return nil, "", fmt.Errorf("failed to list documents: %w", err)
	}

	next := ""
	if len(docs) > limit {
		docs = docs[:limit]
		last := docs[len(docs)-1]
		next = encodeCursor(listCursor{CreatedAt: last.CreatedAt, ID: last.ID})
	}
	return docs, next, nil
}

// UpdateDocument applies a patch to a live document under optimistic
// concurrency. When ifMatch is non-empty it must equal the current etag or
// the update fails with models.ErrPreconditionFailed. On success the row's
// version is bumped and a fresh etag assigned; the updated document is
// returned.
func (s *GORMStore) UpdateDocument(ctx context.Context, id string, patch DocumentPatch, ifMatch string) (*models.Document, error) {
	var updated models.Document

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var doc models.Document
		if err := tx.First(&doc, "id = ?", id).Error; err != nil {
			return convertNotFoundError(err, models.ErrDocumentNotFound)
		}
		if doc.IsDeleted() {
			return models.ErrDocumentDeleted
		}
		if ifMatch != "" && ifMatch != doc.ETag {
			return models.ErrPreconditionFailed
		}

		updates := map[string]any{}
		if patch.FileName != nil {
			updates["file_name"] = *patch.FileName
		}
		if patch.DocumentType != nil {
			updates["document_type"] = *patch.DocumentType
		}
		if patch.Tags != nil {
			updates["tags"] = *patch.Tags
		}
		if patch.Metadata != nil {
			updates["metadata"] = *patch.Metadata
		}
		if patch.Status != nil {
			if !patch.Status.IsValid() {
				return fmt.Errorf("%w: invalid status %q", models.ErrFieldNotUpdatable, *patch.Status)
			}
			if !statusTransitionAllowed(doc.Status, *patch.Status) {
				return fmt.Errorf("%w: status %s -> %s", models.ErrFieldNotUpdatable, doc.Status, *patch.Status)
			}
			updates["status"] = *patch.Status
		}
		if patch.SecurityScanStatus != nil {
			updates["security_scan_status"] = *patch.SecurityScanStatus
		}
		if patch.VirusScanStatus != nil {
			updates["virus_scan_status"] = *patch.VirusScanStatus
		}
		if patch.ContentValidated != nil {
			updates["content_validated"] = *patch.ContentValidated
		}
		if len(updates) == 0 {
			updated = doc
			return nil
		}

		newVersion := doc.Version + 1
		updates["version"] = newVersion
		updates["etag"] = models.ETagFor(doc.ID, newVersion)
		updates["updated_at"] = s.clock.UTCNow()

		// Version guard catches writers that raced past the etag check.
		res := tx.Model(&models.Document{}).
			Where("id = ? AND version = ?", doc.ID, doc.Version).
			Updates(updates)
		if res.Error != nil {
			return fmt.Errorf("failed to update document: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return models.ErrPreconditionFailed
		}

		return tx.First(&updated, "id = ?", doc.ID).Error
	})
	if err != nil {
		return nil, err
	}
	return &updated, nil
}

// statusTransitionAllowed restricts client-driven status updates. Scanner
// and OCR transitions go through their dedicated operations, so a patch may
// only move a document between the reviewable states.
func statusTransitionAllowed(from, to models.DocumentStatus) bool {
	if from == to {
		return true
	}
	switch from {
	case models.DocumentStatusUploaded, models.DocumentStatusActive, models.DocumentStatusCompleted:
		return to == models.DocumentStatusActive || to == models.DocumentStatusCompleted
	default:
		return false
	}
}

// SoftDelete marks a document deleted without touching the blob. When
// ifMatch is non-empty it must equal the current etag or the delete fails
// with models.ErrPreconditionFailed. The operation is idempotent: deleting
// an already-deleted document succeeds.
func (s *GORMStore) SoftDelete(ctx context.Context, id string, ifMatch string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var doc models.Document
		if err := tx.First(&doc, "id = ?", id).Error; err != nil {
			return convertNotFoundError(err, models.ErrDocumentNotFound)
		}
		if doc.IsDeleted() {
			return nil
		}
		if ifMatch != "" && ifMatch != doc.ETag {
			return models.ErrPreconditionFailed
		}

		now := s.clock.UTCNow()
		newVersion := doc.Version + 1
		res := tx.Model(&models.Document{}).
			Where("id = ? AND version = ?", doc.ID, doc.Version).
			Updates(map[string]any{
				"deleted_at": now,
				"status":     models.DocumentStatusDeleted,
				"version":    newVersion,
				"etag":       models.ETagFor(doc.ID, newVersion),
				"updated_at": now,
			})
		if res.Error != nil {
			return fmt.Errorf("failed to soft-delete document: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return models.ErrPreconditionFailed
		}
		return nil
	})
}

// HardDelete removes a document row together with its jobs and access logs.
// SQLite auto-migration does not emit foreign keys with cascade, so the
// cascade is done explicitly inside one transaction.
func (s *GORMStore) HardDelete(ctx context.Context, id string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var doc models.Document
		if err := tx.First(&doc, "id = ?", id).Error; err != nil {
			return convertNotFoundError(err, models.ErrDocumentNotFound)
		}
		if err := tx.Where("document_id = ?", id).Delete(&models.AccessLog{}).Error; err != nil {
			return fmt.Errorf("failed to delete access logs: %w", err)
		}
		if err := tx.Where("document_id = ?", id).Delete(&models.OCRJob{}).Error; err != nil {
			return fmt.Errorf("failed to delete jobs: %w", err)
		}
		if err := tx.Delete(&models.Document{}, "id = ?", id).Error; err != nil {
			return fmt.Errorf("failed to delete document: %w", err)
		}
		return nil
	})
}

// CountLiveReferences returns how many live documents point at the given
// storage key. Blob deletion is only safe when this drops to zero.
func (s *GORMStore) CountLiveReferences(ctx context.Context, storageKey string) (int64, error) {
	var n int64
	err := s.db.WithContext(ctx).Model(&models.Document{}).
		Where("storage_key = ? AND deleted_at IS NULL", storageKey).
		Count(&n).Error
	if err != nil {
		return 0, fmt.Errorf("failed to count storage key references: %w", err)
	}
	return n, nil
}

// IncrementAccessCounters bumps the download counter and refreshes
// last_accessed. Counters are usage telemetry, not content, so the version
// and etag stay put.
func (s *GORMStore) IncrementAccessCounters(ctx context.Context, id string, downloads int64) error {
	now := s.clock.UTCNow()
	res := s.db.WithContext(ctx).Model(&models.Document{}).
		Where("id = ? AND deleted_at IS NULL", id).
		Updates(map[string]any{
			"download_count": gorm.Expr("download_count + ?", downloads),
			"last_accessed":  now,
		})
	if res.Error != nil {
		return fmt.Errorf("failed to update access counters: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return models.ErrDocumentNotFound
	}
	return nil
}

// OwnerStats aggregates an owner's live documents.
type OwnerStats struct {
	DocumentCount int64 `json:"document_count"`
	TotalBytes    int64 `json:"total_bytes"`
	OCRCompleted  int64 `json:"ocr_completed"`
	Downloads     int64 `json:"downloads"`
}

// GetOwnerStats returns usage statistics across an owner's live documents.
func (s *GORMStore) GetOwnerStats(ctx context.Context, ownerID string) (*OwnerStats, error) {
	var stats OwnerStats
	err := s.db.WithContext(ctx).Model(&models.Document{}).
		Where("owner_id = ? AND deleted_at IS NULL", ownerID).
		Select(
			"COUNT(*) AS document_count, " +
				"COALESCE(SUM(file_size), 0) AS total_bytes, " +
				"COALESCE(SUM(CASE WHEN ocr_completed THEN 1 ELSE 0 END), 0) AS ocr_completed, " +
				"COALESCE(SUM(download_count), 0) AS downloads").
		Scan(&stats).Error
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate owner stats: %w", err)
	}
	return &stats, nil
}

// OwnerUsageBytes sums the size of an owner's live documents, for quota
// enforcement.
func (s *GORMStore) OwnerUsageBytes(ctx context.Context, ownerID string) (int64, error) {
	var total int64
	err := s.db.WithContext(ctx).Model(&models.Document{}).
		Where("owner_id = ? AND deleted_at IS NULL", ownerID).
		Select("COALESCE(SUM(file_size), 0)").
		Scan(&total).Error
	if err != nil {
		return 0, fmt.Errorf("failed to sum owner usage: %w", err)
	}
	return total, nil
}
