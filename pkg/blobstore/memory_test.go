package blobstore

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStore(t *testing.T) {
	ctx := context.Background()

	t.Run("put and get round trip", func(t *testing.T) {
		store := NewMemory()
		payload := []byte("%PDF-1.7 test content")

		err := store.Put(ctx, "documents/u1/2025/abc.pdf", bytes.NewReader(payload), int64(len(payload)), "application/pdf")
		require.NoError(t, err)

		rc, err := store.Get(ctx, "documents/u1/2025/abc.pdf")
		require.NoError(t, err)
		defer rc.Close()

		got, err := io.ReadAll(rc)
		require.NoError(t, err)
		assert.Equal(t, payload, got)
	})

	t.Run("size mismatch is rejected", func(t *testing.T) {
		store := NewMemory()
		err := store.Put(ctx, "k", strings.NewReader("abc"), 99, "text/plain")
		assert.Error(t, err, "expected size mismatch error")
	})

	t.Run("head reports metadata", func(t *testing.T) {
		store := NewMemory()
		require.NoError(t, store.Put(ctx, "k", strings.NewReader("hello"), 5, "text/plain"))

		info, err := store.Head(ctx, "k")
		require.NoError(t, err)
		assert.EqualValues(t, 5, info.Size)
		assert.Equal(t, "text/plain", info.ContentType)
	})

	t.Run("missing key reports ErrNotFound", func(t *testing.T) {
		store := NewMemory()

		_, err := store.Get(ctx, "missing")
		assert.ErrorIs(t, err, ErrNotFound)
		_, err = store.Head(ctx, "missing")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("delete is idempotent", func(t *testing.T) {
		store := NewMemory()
		require.NoError(t, store.Put(ctx, "k", strings.NewReader("x"), 1, ""))
		require.NoError(t, store.Delete(ctx, "k"))
		assert.NoError(t, store.Delete(ctx, "k"), "second delete should succeed")
		assert.Equal(t, 0, store.Len())
	})

	t.Run("presign get requires existing object", func(t *testing.T) {
		store := NewMemory()
		require.NoError(t, store.Put(ctx, "k", strings.NewReader("x"), 1, ""))

		url, err := store.PresignGet(ctx, "k", time.Hour)
		require.NoError(t, err)
		assert.Contains(t, url, "expires_in=3600")

		_, err = store.PresignGet(ctx, "missing", time.Hour)
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("presign put works for absent keys", func(t *testing.T) {
		store := NewMemory()

		url, err := store.PresignPut(ctx, "incoming/upload.pdf", 30*time.Minute)
		require.NoError(t, err)
		assert.Contains(t, url, "op=put")
		assert.Contains(t, url, "expires_in=1800")
	})

	t.Run("injected put failures are retryable", func(t *testing.T) {
		store := NewMemory()
		store.FailNextPuts(1)

		err := store.Put(ctx, "k", strings.NewReader("x"), 1, "")
		require.Error(t, err, "expected injected failure")
		assert.True(t, IsRetryable(err), "expected retryable classification")

		assert.NoError(t, store.Put(ctx, "k", strings.NewReader("x"), 1, ""),
			"expected success after failure budget")
	})

	t.Run("injected get failures are retryable", func(t *testing.T) {
		store := NewMemory()
		require.NoError(t, store.Put(ctx, "k", strings.NewReader("x"), 1, ""))
		store.FailNextGets(1)

		_, err := store.Get(ctx, "k")
		require.Error(t, err, "expected injected failure")
		assert.True(t, IsRetryable(err), "expected retryable classification")

		rc, err := store.Get(ctx, "k")
		require.NoError(t, err, "expected success after failure budget")
		rc.Close()
	})
}

func TestErrorWrapping(t *testing.T) {
	inner := errors.New("boom")
	err := &Error{Op: "put", Key: "k", Retryable: true, Err: inner}

	assert.ErrorIs(t, err, inner, "expected Unwrap to expose inner error")
	assert.Contains(t, err.Error(), "put")
	assert.Contains(t, err.Error(), "k")
	assert.True(t, IsRetryable(err))
	assert.False(t, IsRetryable(inner), "plain errors are not retryable")
}
