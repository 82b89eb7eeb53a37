package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/hyperjump/facegate/internal/server"
	"github.com/hyperjump/facegate/internal/watcher"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API server",
	Long: `Start the facegate HTTP API. When inbox.directory is configured, image files
dropped there are enrolled under their file name.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().Int("port", 0, "port to listen on (overrides config)")
	serveCmd.Flags().String("host", "", "host to bind to (overrides config)")
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, resolvedPath, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	if port, _ := cmd.Flags().GetInt("port"); port > 0 {
		cfg.Server.Port = port
	}
	if host, _ := cmd.Flags().GetString("host"); host != "" {
		cfg.Server.Host = host
	}
	debug := cfg.Debug || debugFlag

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	components, err := initializeComponents(ctx, cfg, debug)
	if err != nil {
		return err
	}
	defer components.Close()
	logger := components.Logger
	logger.Info("config loaded",
		zap.String("config_path", resolvedPath),
		zap.Bool("debug", debug),
		zap.String("storage_driver", cfg.Storage.Driver),
		zap.String("extractor_type", cfg.Extractor.Type),
		zap.Float64("verify_threshold", cfg.Match.VerifyThreshold),
		zap.Float64("duplicate_threshold", cfg.Match.DuplicateThreshold),
	)

	if cfg.Inbox.Enabled() {
		inbox := watcher.NewInbox(cfg.Inbox, components.Auth, logger)
		if err := inbox.Start(ctx); err != nil {
			return err
		}
		defer inbox.Stop()
	}

	srv := server.NewServer(components.Auth, cfg, components.Metrics, logger)
	errCh := make(chan error, 1)
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	select {
	case <-sigChan:
	case err := <-errCh:
		logger.Error("Server failed", zap.Error(err))
		return err
	}

	logger.Info("Shutting down...")
	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	return srv.Stop(shutdownCtx)
}
