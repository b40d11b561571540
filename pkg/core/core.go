// Package core wires the document service together: metadata store, blob
// store, OCR pipeline, auth, audit, and the HTTP surface are constructed
// here from configuration. There are no package-level singletons; every
// dependency hangs off the Core value.
package core

import (
	"context"
	"fmt"

	"github.com/insurecove/document-service/internal/logger"
	"github.com/insurecove/document-service/pkg/audit"
	"github.com/insurecove/document-service/pkg/blobstore"
	"github.com/insurecove/document-service/pkg/clock"
	"github.com/insurecove/document-service/pkg/config"
	"github.com/insurecove/document-service/pkg/document"
	"github.com/insurecove/document-service/pkg/identity"
	"github.com/insurecove/document-service/pkg/metastore"
	"github.com/insurecove/document-service/pkg/metrics"
	"github.com/insurecove/document-service/pkg/models"
	"github.com/insurecove/document-service/pkg/ocr"
	"github.com/insurecove/document-service/pkg/queue"
	"github.com/insurecove/document-service/pkg/secrets"
	"github.com/insurecove/document-service/pkg/storage"
)

// authSecretName is the secret resolved for JWT validation when the
// configuration does not carry an inline signing key.
const authSecretName = "auth/jwt_signing_key"

// Caps lets callers substitute capabilities that are expensive or
// environment-bound. Nil fields are built from configuration.
type Caps struct {
	// Clock overrides the system clock, for tests.
	Clock clock.Clock

	// Blobs overrides the object store. When nil an S3 store is built
	// from the storage configuration.
	Blobs blobstore.Store

	// Engine is the OCR extraction backend. When nil no dispatcher is
	// started and queued jobs wait until a worker deployment picks
	// them up.
	Engine ocr.Engine

	// Secrets overrides the secret backend.
	Secrets secrets.Provider
}

// Core holds every constructed component of the document service.
type Core struct {
	Config *config.Config
	Clock  clock.Clock

	Store      *metastore.GORMStore
	Blobs      blobstore.Store
	Storage    *storage.Service
	OCR        *ocr.Service
	Secrets    secrets.Provider
	Auth       *identity.Validator
	Audit      *audit.Recorder
	Dispatcher *queue.Dispatcher
	Documents  *document.Service

	QueueMetrics    *metrics.QueueMetrics
	DocumentMetrics *metrics.DocumentMetrics

	started bool
}

// New constructs a Core from configuration. Background work (queue
// workers, audit drain) does not run until Start is called.
func New(ctx context.Context, cfg *config.Config, caps Caps) (*Core, error) {
	if cfg == nil {
		return nil, fmt.Errorf("configuration is required")
	}

	clk := caps.Clock
	if clk == nil {
		clk = clock.New()
	}

	if cfg.Metrics.Enabled {
		metrics.InitRegistry()
	}

	store, err := metastore.New(&cfg.Database, clk)
	if err != nil {
		return nil, fmt.Errorf("failed to open metadata store: %w", err)
	}

	c := &Core{
		Config:          cfg,
		Clock:           clk,
		Store:           store,
		QueueMetrics:    metrics.NewQueueMetrics(),
		DocumentMetrics: metrics.NewDocumentMetrics(),
	}

	c.Blobs = caps.Blobs
	if c.Blobs == nil {
		s3, err := blobstore.NewS3Store(ctx, &cfg.Storage.S3)
		if err != nil {
			_ = store.Close()
			return nil, fmt.Errorf("failed to open blob store: %w", err)
		}
		c.Blobs = s3
	}
	c.Storage = storage.New(&storage.Config{
		Bucket:    cfg.Storage.S3.Bucket,
		KeyPrefix: cfg.Storage.KeyPrefix,
	}, c.Blobs, clk)

	c.Secrets = caps.Secrets
	if c.Secrets == nil {
		provider, err := buildSecretsProvider(ctx, cfg.Secrets)
		if err != nil {
			_ = store.Close()
			return nil, err
		}
		c.Secrets = secrets.NewCache(provider, clk, cfg.Secrets.CacheTTL)
	}

	authCfg := cfg.Auth
	if authCfg.Secret == "" {
		secret, err := c.Secrets.Fetch(ctx, authSecretName)
		if err != nil {
			_ = store.Close()
			return nil, fmt.Errorf("failed to resolve %s: %w", authSecretName, err)
		}
		authCfg.Secret = secret
	}
	c.Auth, err = identity.NewValidator(authCfg, clk)
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("failed to build token validator: %w", err)
	}

	c.Audit = audit.NewRecorder(store, clk, cfg.Audit.QueueSize)

	if caps.Engine != nil {
		c.OCR = ocr.NewService(&cfg.OCR, caps.Engine)
		c.Dispatcher = queue.New(cfg.Queue, store, c.Storage, c.OCR, clk, c.QueueMetrics)
	} else {
		logger.Warn("no ocr engine configured, queued jobs will not be processed by this instance")
	}

	var enqueuer document.JobEnqueuer
	if c.Dispatcher != nil {
		enqueuer = c.Dispatcher
	} else {
		// Jobs are still accepted and persisted; a dispatcher elsewhere
		// leases them.
		enqueuer = storeEnqueuer{store: store}
	}
	c.Documents = document.New(document.Config{
		OwnerQuotaBytes: int64(cfg.Storage.OwnerQuota),
	}, store, c.Storage, enqueuer, c.Audit, c.DocumentMetrics, clk)

	return c, nil
}

// storeEnqueuer persists jobs without waking local workers, for instances
// running without an OCR engine.
type storeEnqueuer struct {
	store *metastore.GORMStore
}

func (e storeEnqueuer) Enqueue(ctx context.Context, job *models.OCRJob) error {
	return e.store.EnqueueJob(ctx, job)
}

// Start launches the background components: the audit drain loop and,
// when an engine is configured, the queue workers.
func (c *Core) Start(ctx context.Context) {
	if c.started {
		return
	}
	c.started = true

	c.Audit.Start()
	if c.Dispatcher != nil {
		c.Dispatcher.Start(ctx)
	}
	logger.Info("core started",
		"queue_workers", c.Config.Queue.Workers,
		"ocr_enabled", c.Dispatcher != nil)
}

// Close stops background work and releases resources. Safe to call after
// a partial Start.
func (c *Core) Close() error {
	if c.Dispatcher != nil {
		c.Dispatcher.Stop()
	}
	if c.Audit != nil {
		c.Audit.Stop()
	}
	if c.Store != nil {
		return c.Store.Close()
	}
	return nil
}

// buildSecretsProvider constructs the configured secret backend.
func buildSecretsProvider(ctx context.Context, cfg config.SecretsConfig) (secrets.Provider, error) {
	switch cfg.Provider {
	case "aws":
		provider, err := secrets.NewAWSProvider(ctx, cfg.AWS)
		if err != nil {
			return nil, fmt.Errorf("failed to build aws secrets provider: %w", err)
		}
		return provider, nil
	case "", "env":
		return secrets.NewEnv(""), nil
	default:
		return nil, fmt.Errorf("unknown secrets provider %q", cfg.Provider)
	}
}
