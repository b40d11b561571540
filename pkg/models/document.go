package models

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"
)

// Document represents an uploaded file and its processing state.
//
// The blob itself lives in the object store under StorageKey; the document
// row couples it to ownership, validation state, OCR results, and usage
// counters. Every mutation bumps Version and recomputes ETag so that
// concurrent updaters can use optimistic concurrency.
type Document struct {
	ID string `gorm:"primaryKey;size:36" json:"id"`

	// File identification
	FileName         string `gorm:"not null;size:255" json:"file_name"`
	OriginalFilename string `gorm:"not null;size:255" json:"original_filename"`
	FileSize         int64  `gorm:"not null" json:"file_size"`
	FileType         string `gorm:"size:16" json:"file_type"`
	MimeType         string `gorm:"size:128" json:"mime_type"`
	FileHash         string `gorm:"index:idx_documents_owner_hash;size:64" json:"file_hash"`

	// Storage backend
	StorageKey    string `gorm:"uniqueIndex;not null;size:512" json:"storage_key"`
	StorageBucket string `gorm:"size:255" json:"storage_bucket"`

	// Ownership
	OwnerID   string  `gorm:"index:idx_documents_owner_hash;not null;size:255" json:"owner_id"`
	ClientID  *string `gorm:"size:36" json:"client_id,omitempty"`
	InsurerID *string `gorm:"size:36" json:"insurer_id,omitempty"`

	// Classification & status
	DocumentType string         `gorm:"size:64" json:"document_type,omitempty"`
	Status       DocumentStatus `gorm:"not null;default:uploaded;size:32" json:"status"`

	// Optimistic concurrency
	Version int    `gorm:"not null;default:1" json:"version"`
	ETag    string `gorm:"column:etag;size:64" json:"etag"`

	// Security & validation
	SecurityScanStatus ScanStatus `gorm:"default:pending;size:32" json:"security_scan_status"`
	VirusScanStatus    ScanStatus `gorm:"default:pending;size:32" json:"virus_scan_status"`
	ContentValidated   bool       `gorm:"default:false" json:"content_validated"`

	// OCR integration
	OCRCompleted  bool     `gorm:"default:false" json:"ocr_completed"`
	OCRJobID      *string  `gorm:"size:36" json:"ocr_job_id,omitempty"`
	OCRText       string   `json:"ocr_text,omitempty"`
	OCRConfidence *float64 `json:"ocr_confidence,omitempty"`
	OCRLanguage   string   `gorm:"size:16" json:"ocr_language,omitempty"`
	OCRPageCount  *int     `json:"ocr_page_count,omitempty"`
	OCRWordCount  *int     `json:"ocr_word_count,omitempty"`

	// Usage tracking
	DownloadCount int64      `gorm:"not null;default:0" json:"download_count"`
	LastAccessed  *time.Time `json:"last_accessed,omitempty"`

	// Metadata & tags
	Tags     StringList `gorm:"type:text" json:"tags,omitempty"`
	Metadata JSONMap    `gorm:"type:text" json:"metadata,omitempty"`

	// Timestamps
	CreatedAt time.Time  `gorm:"index:idx_documents_created;autoCreateTime" json:"created_at"`
	UpdatedAt time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
	DeletedAt *time.Time `json:"deleted_at,omitempty"`
}

// TableName returns the table name for Document.
func (Document) TableName() string {
	return "documents"
}

// IsDeleted reports whether the document is soft-deleted.
func (d *Document) IsDeleted() bool {
	return d.DeletedAt != nil
}

// Validate checks the document has the fields required for insertion.
func (d *Document) Validate() error {
	if d.FileName == "" {
		return fmt.Errorf("file_name is required")
	}
	if d.FileSize <= 0 {
		return fmt.Errorf("file_size must be positive, got %d", d.FileSize)
	}
	if d.StorageKey == "" {
		return fmt.Errorf("storage_key is required")
	}
	if d.OwnerID == "" {
		return fmt.Errorf("owner_id is required")
	}
	if len(d.FileHash) != 64 {
		return fmt.Errorf("file_hash must be 64 lower-hex characters")
	}
	if d.Status != "" && !d.Status.IsValid() {
		return fmt.Errorf("invalid status %q", d.Status)
	}
	return nil
}

// ETagFor computes the entity tag for a document at a given version.
// The tag is a deterministic function of (id, version) so that a re-read
// after a concurrent update always observes a different tag.
func ETagFor(id string, version int) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s@%d", id, version)))
	return `"` + hex.EncodeToString(sum[:8]) + `"`
}
