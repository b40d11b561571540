package logger

import "log/slog"

// Standard field keys for structured logging. Using the same key for the
// same concept everywhere keeps log aggregation queries simple.
const (
	// Request scope
	KeyRequestID = "request_id" // Correlation ID for a single API request
	KeySessionID = "session_id" // Client session identifier
	KeyClientIP  = "client_ip"  // Client IP address
	KeyUserAgent = "user_agent" // Client user agent

	// Principals
	KeyUserID  = "user_id"  // Authenticated principal ID
	KeyOwnerID = "owner_id" // Document owner ID
	KeyRole    = "role"     // Principal role

	// Documents
	KeyDocumentID = "document_id" // Document identifier
	KeyFilename   = "filename"    // Sanitized filename
	KeyFileSize   = "file_size"   // File size in bytes
	KeyFileHash   = "file_hash"   // SHA-256 content hash
	KeyMimeType   = "mime_type"   // Detected MIME type
	KeyAccessType = "access_type" // Audit access type (view, download, ...)

	// Blob storage
	KeyBucket = "bucket" // Object store bucket
	KeyKey    = "key"    // Object key

	// OCR jobs
	KeyJobID    = "job_id"    // OCR job identifier
	KeyWorkerID = "worker_id" // Queue worker identifier
	KeyPriority = "priority"  // Job priority (1 = highest)
	KeyEngine   = "engine"    // OCR engine identifier
	KeyAttempt  = "attempt"   // Retry attempt number
	KeyStatus   = "status"    // Job or document status

	// Operation metadata
	KeyOperation  = "operation"   // Sub-operation for multi-step flows
	KeyDurationMs = "duration_ms" // Operation duration in milliseconds
	KeyError      = "error"       // Error message
	KeyErrorCode  = "error_code"  // Error classification code
	KeyCount      = "count"       // Generic counter
)

// Err returns a slog.Attr for an error, or an empty Attr for nil.
func Err(err error) slog.Attr {
	if err == nil {
		return slog.Attr{}
	}
	return slog.String(KeyError, err.Error())
}

// DocumentID returns a slog.Attr for a document identifier.
func DocumentID(id string) slog.Attr {
	return slog.String(KeyDocumentID, id)
}

// JobID returns a slog.Attr for an OCR job identifier.
func JobID(id string) slog.Attr {
	return slog.String(KeyJobID, id)
}

// WorkerID returns a slog.Attr for a queue worker identifier.
func WorkerID(id string) slog.Attr {
	return slog.String(KeyWorkerID, id)
}

// OwnerID returns a slog.Attr for a document owner.
func OwnerID(id string) slog.Attr {
	return slog.String(KeyOwnerID, id)
}

// DurationMs returns a slog.Attr for duration in milliseconds.
func DurationMs(ms float64) slog.Attr {
	return slog.Float64(KeyDurationMs, ms)
}

// Attempt returns a slog.Attr for a retry attempt number.
func Attempt(n int) slog.Attr {
	return slog.Int(KeyAttempt, n)
}
