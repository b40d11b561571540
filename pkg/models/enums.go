package models

// DocumentStatus represents the lifecycle state of a document.
type DocumentStatus string

const (
	DocumentStatusActive     DocumentStatus = "active"
	DocumentStatusUploaded   DocumentStatus = "uploaded"
	DocumentStatusProcessing DocumentStatus = "processing"
	DocumentStatusCompleted  DocumentStatus = "completed"
	DocumentStatusFailed     DocumentStatus = "failed"
	DocumentStatusDeleted    DocumentStatus = "deleted"
)

// IsValid checks if the status is a known DocumentStatus.
func (s DocumentStatus) IsValid() bool {
	switch s {
	case DocumentStatusActive, DocumentStatusUploaded, DocumentStatusProcessing,
		DocumentStatusCompleted, DocumentStatusFailed, DocumentStatusDeleted:
		return true
	}
	return false
}

// JobStatus represents the lifecycle state of an OCR job.
type JobStatus string

const (
	JobStatusPending    JobStatus = "pending"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
	JobStatusCancelled  JobStatus = "cancelled"
)

// IsTerminal reports whether the status is a terminal state. Terminal jobs
// never change status again.
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed || s == JobStatusCancelled
}

// IsValid checks if the status is a known JobStatus.
func (s JobStatus) IsValid() bool {
	switch s {
	case JobStatusPending, JobStatusProcessing, JobStatusCompleted,
		JobStatusFailed, JobStatusCancelled:
		return true
	}
	return false
}

// ScanStatus represents the state of a security or virus scan.
type ScanStatus string

const (
	ScanStatusPending  ScanStatus = "pending"
	ScanStatusScanning ScanStatus = "scanning"
	ScanStatusClean    ScanStatus = "clean"
	ScanStatusThreat   ScanStatus = "threat"
	ScanStatusInfected ScanStatus = "infected"
	ScanStatusError    ScanStatus = "error"
)

// AccessType classifies an entry in the document access log.
type AccessType string

const (
	AccessTypeView     AccessType = "view"
	AccessTypeDownload AccessType = "download"
	AccessTypeUpload   AccessType = "upload"
	AccessTypeUpdate   AccessType = "update"
	AccessTypeDelete   AccessType = "delete"
	AccessTypeShare    AccessType = "share"
	AccessTypeCopy     AccessType = "copy"
)

// IsValid checks if the access type is known.
func (t AccessType) IsValid() bool {
	switch t {
	case AccessTypeView, AccessTypeDownload, AccessTypeUpload, AccessTypeUpdate,
		AccessTypeDelete, AccessTypeShare, AccessTypeCopy:
		return true
	}
	return false
}
