package models

import (
	"fmt"
	"time"
)

// AccessLog is an append-only audit record of a single document access.
// The core never updates or deletes rows; retention is handled by external
// sweepers.
type AccessLog struct {
	ID         string `gorm:"primaryKey;size:36" json:"id"`
	DocumentID string `gorm:"not null;index;size:36" json:"document_id"`
	UserID     string `gorm:"not null;index;size:255" json:"user_id"`

	AccessType AccessType `gorm:"not null;size:32" json:"access_type"`

	// Outcome
	Success        bool   `gorm:"not null;default:true" json:"success"`
	HTTPStatusCode int    `json:"http_status_code,omitempty"`
	ErrorCode      string `gorm:"size:64" json:"error_code,omitempty"`
	ErrorMessage   string `json:"error_message,omitempty"`

	// Performance
	ResponseTimeMs     int64 `json:"response_time_ms,omitempty"`
	FileSizeDownloaded int64 `json:"file_size_downloaded,omitempty"`

	// Request context
	IPAddress string `gorm:"size:64" json:"ip_address,omitempty"`
	UserAgent string `gorm:"size:512" json:"user_agent,omitempty"`
	RequestID string `gorm:"size:64" json:"request_id,omitempty"`
	SessionID string `gorm:"size:64" json:"session_id,omitempty"`

	AccessedAt time.Time `gorm:"index;autoCreateTime" json:"accessed_at"`
}

// TableName returns the table name for AccessLog.
func (AccessLog) TableName() string {
	return "document_access_logs"
}

// Validate checks the entry has the fields required for appending.
func (l *AccessLog) Validate() error {
	if l.DocumentID == "" {
		return fmt.Errorf("document_id is required")
	}
	if l.UserID == "" {
		return fmt.Errorf("user_id is required")
	}
	if !l.AccessType.IsValid() {
		return fmt.Errorf("invalid access_type %q", l.AccessType)
	}
	return nil
}
