package commands

import (
	"fmt"

	"github.com/insurecove/document-service/internal/logger"
	"github.com/insurecove/document-service/pkg/config"
)

// InitLogger initializes the structured logger from config.
func InitLogger(cfg *config.Config) error {
	loggerCfg := logger.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: cfg.Logging.Output,
	}
	if err := logger.Init(loggerCfg); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	return nil
}
