package blobstore

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"
	"time"
)

// Memory is an in-memory Store for tests and local development.
type Memory struct {
	mu      sync.RWMutex
	objects map[string]memoryObject

	// Failure injection for exercising caller retry paths in tests.
	failPuts int
	failGets int
}

type memoryObject struct {
	data        []byte
	contentType string
	modified    time.Time
}

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{objects: make(map[string]memoryObject)}
}

// FailNextPuts makes the next n Put calls return a retryable error.
func (m *Memory) FailNextPuts(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failPuts = n
}

// FailNextGets makes the next n Get calls return a retryable error.
func (m *Memory) FailNextGets(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failGets = n
}

// Put stores the object bytes under key.
func (m *Memory) Put(ctx context.Context, key string, body io.Reader, size int64, contentType string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := io.ReadAll(body)
	if err != nil {
		return &Error{Op: "put", Key: key, Err: err}
	}
	if int64(len(data)) != size {
		return &Error{Op: "put", Key: key, Err: fmt.Errorf("body size %d does not match declared size %d", len(data), size)}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failPuts > 0 {
		m.failPuts--
		return &Error{Op: "put", Key: key, Retryable: true, Err: fmt.Errorf("injected transient failure")}
	}
	m.objects[key] = memoryObject{data: data, contentType: contentType, modified: time.Now().UTC()}
	return nil
}

// Get returns a reader over the stored bytes.
func (m *Memory) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	if m.failGets > 0 {
		m.failGets--
		m.mu.Unlock()
		return nil, &Error{Op: "get", Key: key, Retryable: true, Err: fmt.Errorf("injected transient failure")}
	}
	obj, ok := m.objects[key]
	m.mu.Unlock()
	if !ok {
		return nil, &Error{Op: "get", Key: key, Err: ErrNotFound}
	}
	return io.NopCloser(bytes.NewReader(obj.data)), nil
}

// Head returns object metadata.
func (m *Memory) Head(ctx context.Context, key string) (*ObjectInfo, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	obj, ok := m.objects[key]
	m.mu.RUnlock()
	if !ok {
		return nil, &Error{Op: "head", Key: key, Err: ErrNotFound}
	}
	return &ObjectInfo{
		Key:          key,
		Size:         int64(len(obj.data)),
		ContentType:  obj.contentType,
		LastModified: obj.modified,
	}, nil
}

// Delete removes the object. Missing keys succeed.
func (m *Memory) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.objects, key)
	return nil
}

// PresignGet returns a synthetic URL; it is stable for a key so tests can
// assert on it.
func (m *Memory) PresignGet(ctx context.Context, key string, expiry time.Duration) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	m.mu.RLock()
	_, ok := m.objects[key]
	m.mu.RUnlock()
	if !ok {
		return "", &Error{Op: "presign", Key: key, Err: ErrNotFound}
	}
	return fmt.Sprintf("memory://%s?expires_in=%d", key, int(expiry.Seconds())), nil
}

// PresignPut returns a synthetic upload URL. Unlike PresignGet the key does
// not have to exist yet.
func (m *Memory) PresignPut(ctx context.Context, key string, expiry time.Duration) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return fmt.Sprintf("memory://%s?op=put&expires_in=%d", key, int(expiry.Seconds())), nil
}

// Len returns the number of stored objects.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.objects)
}
