// Package storage implements content-addressed blob placement for
// documents: hashing, key derivation, upload deduplication, and presigned
// download URLs.
package storage

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/insurecove/document-service/internal/logger"
	"github.com/insurecove/document-service/pkg/blobstore"
	"github.com/insurecove/document-service/pkg/clock"
	"github.com/insurecove/document-service/pkg/models"
)

// MaxPresignTTL caps how long a presigned download URL stays valid.
// Requests above the cap are clamped, not rejected.
const MaxPresignTTL = time.Hour

// DefaultPresignTTL is used when the caller does not ask for a specific
// expiry.
const DefaultPresignTTL = time.Hour

// Config contains storage service configuration.
type Config struct {
	// Bucket is recorded on documents so operators can trace a row back
	// to its object store.
	Bucket string `mapstructure:"bucket" yaml:"bucket"`

	// KeyPrefix is prepended to every derived key.
	KeyPrefix string `mapstructure:"key_prefix" yaml:"key_prefix"`
}

// ApplyDefaults fills in missing configuration with default values.
func (c *Config) ApplyDefaults() {
	if c.KeyPrefix == "" {
		c.KeyPrefix = "documents"
	}
}

// Service places document blobs in the object store under
// content-addressed keys. Identical content uploaded by the same owner in
// the same year maps to the same key, so duplicate uploads cost nothing.
type Service struct {
	blobs     blobstore.Store
	clock     clock.Clock
	bucket    string
	keyPrefix string
}

// StoreResult reports where an upload landed.
type StoreResult struct {
	Key    string
	Bucket string
	Hash   string
	Size   int64

	// Deduplicated is true when an object with identical content already
	// existed and no bytes were uploaded.
	Deduplicated bool
}

// New creates a storage service.
func New(cfg *Config, blobs blobstore.Store, clk clock.Clock) *Service {
	if cfg == nil {
		cfg = &Config{}
	}
	cfg.ApplyDefaults()
	if clk == nil {
		clk = clock.New()
	}
	return &Service{
		blobs:     blobs,
		clock:     clk,
		bucket:    cfg.Bucket,
		keyPrefix: cfg.KeyPrefix,
	}
}

// HashBytes returns the lower-hex SHA-256 digest of content. This is the
// file_hash recorded on documents and the basis of deduplication.
func HashBytes(content []byte) string {
	sum := sha256.Sum256(content)
	return hex.EncodeToString(sum[:])
}

// DeriveKey builds the object key for an owner's content:
// {prefix}/{owner}/{yyyy}/{hash}.{ext}. The year partition keeps listings
// manageable and makes retention sweeps cheap.
func (s *Service) DeriveKey(ownerID, hash, ext string) string {
	year := s.clock.UTCNow().Year()
	return fmt.Sprintf("%s/%s/%04d/%s.%s", s.keyPrefix, ownerID, year, hash, ext)
}

// Store uploads content under its derived key. When an object with the
// same key already exists the upload is skipped and the result is marked
// deduplicated.
func (s *Service) Store(ctx context.Context, ownerID, ext, contentType string, content []byte) (*StoreResult, error) {
	hash := HashBytes(content)
	key := s.DeriveKey(ownerID, hash, ext)
	result := &StoreResult{
		Key:    key,
		Bucket: s.bucket,
		Hash:   hash,
		Size:   int64(len(content)),
	}

	if info, err := s.blobs.Head(ctx, key); err == nil {
		// Re-upload only when the stored object does not match the content
		// size; a mismatch means a truncated or corrupt earlier write.
		if info.Size == result.Size {
			logger.DebugCtx(ctx, "blob already stored, skipping upload",
				logger.KeyKey, key, logger.KeyFileHash, hash)
			result.Deduplicated = true
			return result, nil
		}
		logger.WarnCtx(ctx, "stored blob size mismatch, re-uploading",
			logger.KeyKey, key, logger.KeyFileSize, result.Size, "stored_size", info.Size)
	} else if !errors.Is(err, blobstore.ErrNotFound) {
		return nil, fmt.Errorf("failed to check for existing blob: %w", err)
	}

	if err := s.blobs.Put(ctx, key, bytes.NewReader(content), int64(len(content)), contentType); err != nil {
		return nil, fmt.Errorf("failed to store blob: %w", err)
	}

	logger.InfoCtx(ctx, "blob stored",
		logger.KeyKey, key, logger.KeyFileSize, len(content), logger.KeyBucket, s.bucket)
	return result, nil
}

// Fetch returns a reader over a stored blob. Failures carry a fault
// classification so callers can decide whether to retry.
func (s *Service) Fetch(ctx context.Context, key string) (io.ReadCloser, error) {
	rc, err := s.blobs.Get(ctx, key)
	if err != nil {
		if errors.Is(err, blobstore.ErrNotFound) {
			return nil, err
		}
		if blobstore.IsRetryable(err) {
			return nil, models.NewUpstreamFault("fetch blob", err)
		}
		return nil, models.NewPermanentFault("fetch blob", err)
	}
	return rc, nil
}

// PresignDownload returns a time-limited download URL and the effective
// expiry. TTLs above MaxPresignTTL are clamped; zero or negative TTLs use
// the default.
func (s *Service) PresignDownload(ctx context.Context, key string, ttl time.Duration) (string, time.Duration, error) {
	if ttl <= 0 {
		ttl = DefaultPresignTTL
	}
	if ttl > MaxPresignTTL {
		ttl = MaxPresignTTL
	}
	url, err := s.blobs.PresignGet(ctx, key, ttl)
	if err != nil {
		return "", 0, fmt.Errorf("failed to presign download: %w", err)
	}
	return url, ttl, nil
}

// PresignUpload returns a time-limited upload URL for a key, with the same
// TTL rules as PresignDownload. Clients use it to push large bodies
// straight to the object store.
func (s *Service) PresignUpload(ctx context.Context, key string, ttl time.Duration) (string, time.Duration, error) {
	if ttl <= 0 {
		ttl = DefaultPresignTTL
	}
	if ttl > MaxPresignTTL {
		ttl = MaxPresignTTL
	}
	url, err := s.blobs.PresignPut(ctx, key, ttl)
	if err != nil {
		return "", 0, fmt.Errorf("failed to presign upload: %w", err)
	}
	return url, ttl, nil
}

// Delete removes a blob. Safe to call for already-deleted keys.
func (s *Service) Delete(ctx context.Context, key string) error {
	if err := s.blobs.Delete(ctx, key); err != nil {
		return fmt.Errorf("failed to delete blob: %w", err)
	}
	logger.DebugCtx(ctx, "blob deleted", logger.KeyKey, key)
	return nil
}

// Bucket returns the configured bucket name.
func (s *Service) Bucket() string {
	return s.bucket
}
