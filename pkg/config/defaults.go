package config

import (
	"strings"
	"time"

	"github.com/insurecove/document-service/internal/bytesize"
	"github.com/insurecove/document-service/pkg/identity"
	"github.com/insurecove/document-service/pkg/secrets"
)

// ApplyDefaults fills in any unspecified configuration fields. Zero values
// are replaced; explicit values are preserved.
func ApplyDefaults(cfg *Config) {
	applyLoggingDefaults(&cfg.Logging)
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 30 * time.Second
	}
	cfg.Database.ApplyDefaults()
	applyServerDefaults(&cfg.Server)
	applyStorageDefaults(&cfg.Storage)
	cfg.Queue.ApplyDefaults()
	cfg.OCR.ApplyDefaults()
	applyAuthDefaults(&cfg.Auth)
	applySecretsDefaults(&cfg.Secrets)
	applyAuditDefaults(&cfg.Audit)
}

// applyLoggingDefaults sets logging defaults and normalizes the level.
func applyLoggingDefaults(cfg *LoggingConfig) {
	if cfg.Level == "" {
		cfg.Level = "INFO"
	}
	cfg.Level = strings.ToUpper(cfg.Level)

	if cfg.Format == "" {
		cfg.Format = "text"
	}
	if cfg.Output == "" {
		cfg.Output = "stdout"
	}
}

func applyServerDefaults(cfg *ServerConfig) {
	if cfg.Host == "" {
		cfg.Host = "0.0.0.0"
	}
	if cfg.Port == 0 {
		cfg.Port = 8080
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = 30 * time.Second
	}
	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = 60 * time.Second
	}
	if cfg.RequestTimeout == 0 {
		cfg.RequestTimeout = 60 * time.Second
	}
	if cfg.MaxBodyBytes == 0 {
		cfg.MaxBodyBytes = 52 * bytesize.MiB
	}
}

func applyStorageDefaults(cfg *StorageConfig) {
	if cfg.S3.Bucket == "" {
		cfg.S3.Bucket = "insurecove-documents"
	}
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = "documents"
	}
	if cfg.OwnerQuota == 0 {
		cfg.OwnerQuota = bytesize.GiB
	}
}

func applyAuthDefaults(cfg *identity.Config) {
	if cfg.CacheTTL == 0 {
		cfg.CacheTTL = identity.DefaultCacheTTL
	}
}

func applySecretsDefaults(cfg *SecretsConfig) {
	if cfg.Provider == "" {
		cfg.Provider = "env"
	}
	if cfg.CacheTTL == 0 {
		cfg.CacheTTL = secrets.DefaultCacheTTL
	}
}

func applyAuditDefaults(cfg *AuditConfig) {
	if cfg.QueueSize == 0 {
		cfg.QueueSize = 1024
	}
}

// GetDefaultConfig returns a configuration with every default applied.
func GetDefaultConfig() *Config {
	cfg := &Config{}
	ApplyDefaults(cfg)
	return cfg
}
