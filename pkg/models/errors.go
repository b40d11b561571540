package models

import "errors"

// Common errors for document, job, and access log operations.
var (
	// Document errors
	ErrDocumentNotFound    = errors.New("document not found")
	ErrDuplicateStorageKey = errors.New("storage key already exists")
	ErrDocumentDeleted     = errors.New("document is deleted")
	ErrPreconditionFailed  = errors.New("etag precondition failed")
	ErrFieldNotUpdatable   = errors.New("field is not updatable")
	ErrQuotaExceeded       = errors.New("owner storage quota exceeded")

	// OCR job errors
	ErrJobNotFound         = errors.New("ocr job not found")
	ErrJobTerminal         = errors.New("ocr job is in a terminal state")
	ErrLeaseLost           = errors.New("job lease lost")
	ErrDocumentNotLinkable = errors.New("document does not exist or is deleted")

	// Access control
	ErrForbidden       = errors.New("principal is not allowed to access this document")
	ErrUnauthenticated = errors.New("missing or invalid credentials")
)

// FaultKind classifies failures crossing component boundaries.
type FaultKind string

const (
	FaultValidation FaultKind = "validation"
	FaultNotFound   FaultKind = "not_found"
	FaultConflict   FaultKind = "conflict"
	FaultQuota      FaultKind = "quota_exceeded"
	FaultUpstream   FaultKind = "upstream"
	FaultPermanent  FaultKind = "permanent"
)

// Fault is a typed error for failures that need a retryability decision,
// primarily upstream blob store and OCR engine errors.
type Fault struct {
	Kind      FaultKind
	Op        string
	Retryable bool
	Err       error
}

func (f *Fault) Error() string {
	if f.Err == nil {
		return f.Op + ": " + string(f.Kind)
	}
	return f.Op + ": " + f.Err.Error()
}

func (f *Fault) Unwrap() error { return f.Err }

// IsRetryable reports whether err carries a retryable fault. Errors without
// fault classification are treated as permanent.
func IsRetryable(err error) bool {
	var f *Fault
	if errors.As(err, &f) {
		return f.Retryable
	}
	return false
}

// NewUpstreamFault wraps a transient dependency failure.
func NewUpstreamFault(op string, err error) *Fault {
	return &Fault{Kind: FaultUpstream, Op: op, Retryable: true, Err: err}
}

// NewPermanentFault wraps a failure that retrying cannot fix.
func NewPermanentFault(op string, err error) *Fault {
	return &Fault{Kind: FaultPermanent, Op: op, Retryable: false, Err: err}
}
