package blobstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"

	"github.com/insurecove/document-service/internal/logger"
)

// S3Config contains configuration for the S3 blob store.
type S3Config struct {
	// Bucket is the S3 bucket name. The bucket must already exist.
	Bucket string `mapstructure:"bucket" yaml:"bucket"`

	// Region is the AWS region.
	Region string `mapstructure:"region" yaml:"region"`

	// Endpoint overrides the S3 endpoint, for MinIO or LocalStack.
	Endpoint string `mapstructure:"endpoint" yaml:"endpoint,omitempty"`

	// AccessKeyID and SecretAccessKey select static credentials. When
	// empty the default AWS credential chain is used.
	AccessKeyID     string `mapstructure:"access_key_id" yaml:"access_key_id,omitempty"`
	SecretAccessKey string `mapstructure:"secret_access_key" yaml:"secret_access_key,omitempty"`

	// ForcePathStyle uses path-style addressing, required by most
	// S3-compatible servers.
	ForcePathStyle bool `mapstructure:"force_path_style" yaml:"force_path_style,omitempty"`

	// MaxRetries is the number of retry attempts for transient errors.
	MaxRetries uint `mapstructure:"max_retries" yaml:"max_retries,omitempty"`

	// InitialBackoff is the delay before the first retry; subsequent
	// retries back off exponentially up to MaxBackoff.
	InitialBackoff time.Duration `mapstructure:"initial_backoff" yaml:"initial_backoff,omitempty"`
	MaxBackoff     time.Duration `mapstructure:"max_backoff" yaml:"max_backoff,omitempty"`
}

// ApplyDefaults fills in missing configuration with default values.
func (c *S3Config) ApplyDefaults() {
	if c.Region == "" {
		c.Region = "us-east-1"
	}
	if c.MaxRetries == 0 {
		c.MaxRetries = 3
	}
	if c.InitialBackoff == 0 {
		c.InitialBackoff = 100 * time.Millisecond
	}
	if c.MaxBackoff == 0 {
		c.MaxBackoff = 2 * time.Second
	}
}

// Validate checks if the configuration is valid.
func (c *S3Config) Validate() error {
	if c.Bucket == "" {
		return fmt.Errorf("bucket name is required")
	}
	return nil
}

// S3Store implements Store on Amazon S3 or an S3-compatible server.
type S3Store struct {
	client  *s3.Client
	presign *s3.PresignClient
	bucket  string

	maxRetries     uint
	initialBackoff time.Duration
	maxBackoff     time.Duration
}

// NewS3Client creates an S3 client from configuration. Split out so tests
// and tooling can build a client against LocalStack or MinIO.
func NewS3Client(ctx context.Context, cfg *S3Config) (*s3.Client, error) {
	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.Region),
	}
	if cfg.AccessKeyID != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.ForcePathStyle
	})
	return client, nil
}

// NewS3Store creates an S3 blob store and verifies bucket access.
func NewS3Store(ctx context.Context, cfg *S3Config) (*S3Store, error) {
	if cfg == nil {
		return nil, fmt.Errorf("s3 configuration is required")
	}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid s3 configuration: %w", err)
	}

	client, err := NewS3Client(ctx, cfg)
	if err != nil {
		return nil, err
	}

	if _, err := client.HeadBucket(ctx, &s3.HeadBucketInput{
		Bucket: aws.String(cfg.Bucket),
	}); err != nil {
		return nil, fmt.Errorf("failed to access bucket %q: %w", cfg.Bucket, err)
	}

	return &S3Store{
		client:         client,
		presign:        s3.NewPresignClient(client),
		bucket:         cfg.Bucket,
		maxRetries:     cfg.MaxRetries,
		initialBackoff: cfg.InitialBackoff,
		maxBackoff:     cfg.MaxBackoff,
	}, nil
}

// Put uploads an object, retrying transient errors with exponential backoff.
func (s *S3Store) Put(ctx context.Context, key string, body io.Reader, size int64, contentType string) error {
	// The body may not be re-readable, so buffer it once for retries.
	data, err := io.ReadAll(body)
	if err != nil {
		return &Error{Op: "put", Key: key, Err: fmt.Errorf("failed to read body: %w", err)}
	}
	if int64(len(data)) != size {
		return &Error{Op: "put", Key: key, Err: fmt.Errorf("body size %d does not match declared size %d", len(data), size)}
	}

	var lastErr error
	for attempt := 0; attempt <= int(s.maxRetries); attempt++ {
		if attempt > 0 {
			if err := s.waitBackoff(ctx, attempt-1, "put", key); err != nil {
				return err
			}
		}

		input := &s3.PutObjectInput{
			Bucket:        aws.String(s.bucket),
			Key:           aws.String(key),
			Body:          bytes.NewReader(data),
			ContentLength: aws.Int64(size),
		}
		if contentType != "" {
			input.ContentType = aws.String(contentType)
		}
		_, lastErr = s.client.PutObject(ctx, input)
		if lastErr == nil {
			return nil
		}
		if !isTransientError(lastErr) {
			break
		}
	}
	return &Error{Op: "put", Key: key, Retryable: isTransientError(lastErr), Err: lastErr}
}

// Get returns a reader over the object's bytes.
func (s *S3Store) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	var out *s3.GetObjectOutput
	var lastErr error
	for attempt := 0; attempt <= int(s.maxRetries); attempt++ {
		if attempt > 0 {
			if err := s.waitBackoff(ctx, attempt-1, "get", key); err != nil {
				return nil, err
			}
		}

		out, lastErr = s.client.GetObject(ctx, &s3.GetObjectInput{
			Bucket: aws.String(s.bucket),
			Key:    aws.String(key),
		})
		if lastErr == nil {
			return out.Body, nil
		}
		if isNotFoundError(lastErr) {
			return nil, &Error{Op: "get", Key: key, Err: ErrNotFound}
		}
		if !isTransientError(lastErr) {
			break
		}
	}
	return nil, &Error{Op: "get", Key: key, Retryable: isTransientError(lastErr), Err: lastErr}
}

// Head returns object metadata without the body.
func (s *S3Store) Head(ctx context.Context, key string) (*ObjectInfo, error) {
	var out *s3.HeadObjectOutput
	var lastErr error
	for attempt := 0; attempt <= int(s.maxRetries); attempt++ {
		if attempt > 0 {
			if err := s.waitBackoff(ctx, attempt-1, "head", key); err != nil {
				return nil, err
			}
		}

		out, lastErr = s.client.HeadObject(ctx, &s3.HeadObjectInput{
			Bucket: aws.String(s.bucket),
			Key:    aws.String(key),
		})
		if lastErr == nil {
			info := &ObjectInfo{Key: key}
			if out.ContentLength != nil {
				info.Size = *out.ContentLength
			}
			if out.ContentType != nil {
				info.ContentType = *out.ContentType
			}
			if out.ETag != nil {
				info.ETag = *out.ETag
			}
			if out.LastModified != nil {
				info.LastModified = *out.LastModified
			}
			return info, nil
		}
		if isNotFoundError(lastErr) {
			return nil, &Error{Op: "head", Key: key, Err: ErrNotFound}
		}
		if !isTransientError(lastErr) {
			break
		}
	}
	return nil, &Error{Op: "head", Key: key, Retryable: isTransientError(lastErr), Err: lastErr}
}

// Delete removes an object. S3 DeleteObject is already idempotent, so a
// missing key is success.
func (s *S3Store) Delete(ctx context.Context, key string) error {
	var lastErr error
	for attempt := 0; attempt <= int(s.maxRetries); attempt++ {
		if attempt > 0 {
			if err := s.waitBackoff(ctx, attempt-1, "delete", key); err != nil {
				return err
			}
		}

		_, lastErr = s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
			Bucket: aws.String(s.bucket),
			Key:    aws.String(key),
		})
		if lastErr == nil || isNotFoundError(lastErr) {
			return nil
		}
		if !isTransientError(lastErr) {
			break
		}
	}
	return &Error{Op: "delete", Key: key, Retryable: isTransientError(lastErr), Err: lastErr}
}

// PresignGet returns a time-limited download URL for the object.
func (s *S3Store) PresignGet(ctx context.Context, key string, expiry time.Duration) (string, error) {
	req, err := s.presign.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	}, s3.WithPresignExpires(expiry))
	if err != nil {
		return "", &Error{Op: "presign", Key: key, Retryable: isTransientError(err), Err: err}
	}
	return req.URL, nil
}

// PresignPut returns a time-limited upload URL for the key.
func (s *S3Store) PresignPut(ctx context.Context, key string, expiry time.Duration) (string, error) {
	req, err := s.presign.PresignPutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	}, s3.WithPresignExpires(expiry))
	if err != nil {
		return "", &Error{Op: "presign", Key: key, Retryable: isTransientError(err), Err: err}
	}
	return req.URL, nil
}

func (s *S3Store) waitBackoff(ctx context.Context, attempt int, op, key string) error {
	backoff := s.initialBackoff
	for i := 0; i < attempt; i++ {
		backoff *= 2
	}
	if backoff > s.maxBackoff {
		backoff = s.maxBackoff
	}
	logger.DebugCtx(ctx, "retrying blob operation",
		"op", op, logger.KeyKey, key, "backoff", backoff.String(), logger.KeyAttempt, attempt+1)

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(backoff):
		return nil
	}
}

// isNotFoundError reports whether err is a missing-object error.
func isNotFoundError(err error) bool {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		code := apiErr.ErrorCode()
		return code == "NoSuchKey" || code == "NotFound"
	}
	return false
}

// isTransientError classifies S3 failures worth retrying: throttling,
// server-side 5xx, and network timeouts. Not-found, access denied, and
// context cancellation are permanent.
func isTransientError(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return netErr.Timeout()
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "Throttling", "ThrottlingException", "RequestThrottled", "SlowDown",
			"ProvisionedThroughputExceededException":
			return true
		case "InternalError", "ServiceUnavailable", "ServiceException":
			return true
		case "NoSuchKey", "NotFound", "AccessDenied", "Forbidden", "InvalidRequest":
			return false
		}
	}

	errStr := err.Error()
	return strings.Contains(errStr, "connection reset") ||
		strings.Contains(errStr, "connection refused") ||
		strings.Contains(errStr, "i/o timeout")
}
