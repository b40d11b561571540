package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/insurecove/document-service/internal/logger"
	"github.com/insurecove/document-service/pkg/api"
	"github.com/insurecove/document-service/pkg/config"
	"github.com/insurecove/document-service/pkg/core"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the document service",
	Long: `Start the document service HTTP API and background OCR workers.

Use --config to specify a custom configuration file, or it will use the
default location at $XDG_CONFIG_HOME/docsvc/config.yaml.

Examples:
  # Start with default config location
  docsvc serve

  # Start with custom config file
  docsvc serve --config /etc/docsvc/config.yaml

  # Start with environment variable overrides
  DOCSVC_LOGGING_LEVEL=DEBUG docsvc serve`,
	RunE: runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.MustLoad(GetConfigFile())
	if err != nil {
		return err
	}

	if err := InitLogger(cfg); err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	c, err := core.New(ctx, cfg, core.Caps{})
	if err != nil {
		return fmt.Errorf("failed to initialize service: %w", err)
	}
	defer func() {
		if err := c.Close(); err != nil {
			logger.Error("shutdown error", logger.Err(err))
		}
	}()

	logger.Info("Configuration loaded",
		"database", string(cfg.Database.Type),
		"bucket", cfg.Storage.S3.Bucket,
		"metrics", cfg.Metrics.Enabled)

	c.Start(ctx)

	router := api.NewRouter(api.RouterConfig{
		Documents:      c.Documents,
		Store:          c.Store,
		Auth:           c.Auth,
		RequestTimeout: cfg.Server.RequestTimeout,
		MaxBodyBytes:   int64(cfg.Server.MaxBodyBytes),
	})
	server := api.NewServer(cfg.Server, router)

	serverDone := make(chan error, 1)
	go func() {
		serverDone <- server.Start(ctx)
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	logger.Info("Service is running. Press Ctrl+C to stop.")

	select {
	case <-sigChan:
		signal.Stop(sigChan)
		logger.Info("Shutdown signal received, initiating graceful shutdown")
		cancel()

		if err := <-serverDone; err != nil {
			return fmt.Errorf("server shutdown error: %w", err)
		}
		logger.Info("Service stopped gracefully")

	case err := <-serverDone:
		signal.Stop(sigChan)
		if err != nil {
			return err
		}
		logger.Info("Service stopped")
	}

	return nil
}
