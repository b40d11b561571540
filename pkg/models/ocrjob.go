package models

import (
	"fmt"
	"time"
)

// Job priority bounds. Priority 1 is scheduled first.
const (
	PriorityHighest = 1
	PriorityDefault = 5
	PriorityLowest  = 10
)

// OptionNotBefore is the well-known job option carrying the retry backoff
// deadline as an RFC 3339 timestamp. The metastore mirrors it into the
// not_before column so the lease query can filter on it; scheduler logic
// never reads the raw options map.
const OptionNotBefore = "_not_before"

// OCRJob represents one unit of OCR work against a document.
//
// Jobs are leased by queue workers through the metastore's atomic lease
// operation; LeaseOwner and LeaseExpiresAt are non-nil exactly while the
// job is in the processing state.
type OCRJob struct {
	ID         string `gorm:"primaryKey;size:36" json:"id"`
	DocumentID string `gorm:"not null;index;size:36" json:"document_id"`

	// Scheduling
	Status    JobStatus  `gorm:"not null;default:pending;index:idx_ocr_jobs_pending,priority:1;size:32" json:"status"`
	Priority  int        `gorm:"not null;default:5;index:idx_ocr_jobs_pending,priority:2" json:"priority"`
	NotBefore *time.Time `json:"not_before,omitempty"`

	// Configuration
	Language   string  `gorm:"default:auto;size:16" json:"language"`
	Engine     string  `gorm:"size:64" json:"engine"`
	Options    JSONMap `gorm:"type:text" json:"options,omitempty"`
	RetryCount int     `gorm:"not null;default:0" json:"retry_count"`
	MaxRetries int     `gorm:"not null;default:3" json:"max_retries"`

	// Results
	Result          JSONMap  `gorm:"type:text" json:"result,omitempty"`
	ExtractedText   string   `json:"extracted_text,omitempty"`
	ConfidenceScore *float64 `json:"confidence_score,omitempty"`
	PageCount       *int     `json:"page_count,omitempty"`
	WordCount       *int     `json:"word_count,omitempty"`
	CharacterCount  *int     `json:"character_count,omitempty"`

	// Error reporting
	ErrorMessage string `json:"error_message,omitempty"`
	ErrorCode    string `gorm:"size:64" json:"error_code,omitempty"`

	// Lease state
	LeaseOwner     *string    `gorm:"size:128" json:"lease_owner,omitempty"`
	LeaseExpiresAt *time.Time `gorm:"index:idx_ocr_jobs_lease" json:"lease_expires_at,omitempty"`

	// Timestamps
	ProcessingStartedAt   *time.Time `json:"processing_started_at,omitempty"`
	ProcessingCompletedAt *time.Time `json:"processing_completed_at,omitempty"`
	CreatedAt             time.Time  `gorm:"index:idx_ocr_jobs_pending,priority:3;autoCreateTime" json:"created_at"`
	UpdatedAt             time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

// TableName returns the table name for OCRJob.
func (OCRJob) TableName() string {
	return "ocr_jobs"
}

// CanRetry reports whether the job has retry budget left.
func (j *OCRJob) CanRetry() bool {
	return j.RetryCount < j.MaxRetries
}

// HasLease reports whether worker currently holds the job's lease.
func (j *OCRJob) HasLease(worker string) bool {
	return j.Status == JobStatusProcessing && j.LeaseOwner != nil && *j.LeaseOwner == worker
}

// Validate checks the job has the fields required for enqueueing.
func (j *OCRJob) Validate() error {
	if j.DocumentID == "" {
		return fmt.Errorf("document_id is required")
	}
	if j.Priority < PriorityHighest || j.Priority > PriorityLowest {
		return fmt.Errorf("priority must be between %d and %d, got %d", PriorityHighest, PriorityLowest, j.Priority)
	}
	if j.MaxRetries < 0 {
		return fmt.Errorf("max_retries must be non-negative")
	}
	if j.RetryCount > j.MaxRetries {
		return fmt.Errorf("retry_count %d exceeds max_retries %d", j.RetryCount, j.MaxRetries)
	}
	return nil
}
