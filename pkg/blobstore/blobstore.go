// Package blobstore defines the object storage abstraction for document
// blobs and provides S3 and in-memory implementations.
//
// Keys are opaque to this package; the storage service derives them from
// content hashes so that identical uploads map to the same object.
package blobstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"
)

// ObjectInfo describes a stored object.
type ObjectInfo struct {
	Key          string
	Size         int64
	ContentType  string
	ETag         string
	LastModified time.Time
}

// Store is the object storage interface used by the storage service.
//
// All implementations must be safe for concurrent use. Put with an existing
// key overwrites; since keys are content-addressed the replacement bytes are
// identical and the operation is effectively idempotent.
type Store interface {
	// Put uploads an object. The size must match the number of bytes
	// readable from body.
	Put(ctx context.Context, key string, body io.Reader, size int64, contentType string) error

	// Get returns a reader over the object's bytes. The caller must close it.
	Get(ctx context.Context, key string) (io.ReadCloser, error)

	// Head returns object metadata without fetching the body. Reports
	// ErrNotFound for missing keys.
	Head(ctx context.Context, key string) (*ObjectInfo, error)

	// Delete removes an object. Deleting a missing key succeeds.
	Delete(ctx context.Context, key string) error

	// PresignGet returns a time-limited URL granting read access to the
	// object without further authentication.
	PresignGet(ctx context.Context, key string, expiry time.Duration) (string, error)

	// PresignPut returns a time-limited URL granting write access to the
	// key, so clients can upload directly to the object store.
	PresignPut(ctx context.Context, key string, expiry time.Duration) (string, error)
}

// ErrNotFound reports that no object exists under the requested key.
var ErrNotFound = errors.New("object not found")

// Error wraps a storage failure with the operation and key for logging and
// retry classification upstream.
type Error struct {
	Op        string
	Key       string
	Retryable bool
	Err       error
}

func (e *Error) Error() string {
	return fmt.Sprintf("blobstore %s %q: %v", e.Op, e.Key, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// IsRetryable reports whether err is a transient storage failure worth
// retrying.
func IsRetryable(err error) bool {
	var se *Error
	if errors.As(err, &se) {
		return se.Retryable
	}
	return false
}
