// Package main is the facegate CLI entry point.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/hyperjump/facegate/internal/auth"
	"github.com/hyperjump/facegate/internal/cli"
	"github.com/hyperjump/facegate/internal/config"
	"github.com/hyperjump/facegate/internal/embedding"
	"github.com/hyperjump/facegate/internal/metrics"
	"github.com/hyperjump/facegate/internal/storage"
	"github.com/hyperjump/facegate/pkg/utils"
)

const defaultConfigPath = "/usr/local/etc/facegate/config.yaml"

var (
	configPath   string
	debugFlag    bool
	serverURL    string
	outputFormat string
)

var rootCmd = &cobra.Command{
	Use:   "facegate",
	Short: "Face enrollment and verification server",
	Long: `facegate enrolls people by a photo of their face and later recognizes them
by comparing a new photo against every enrolled face.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func main() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		if !errors.Is(err, errNotRecognized) {
			fmt.Fprintln(os.Stderr, "Error:", err)
		}
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initEnv)
	rootCmd.PersistentFlags().StringVar(&configPath, "config", defaultConfigPath, "config file path")
	rootCmd.PersistentFlags().BoolVar(&debugFlag, "debug", false, "enable debug logging")
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "", "server URL; when empty, commands open the identity store directly")
	rootCmd.PersistentFlags().StringVarP(&outputFormat, "output", "o", "text", "output format: text or json")
}

func initEnv() {
	// .env file is optional
	_ = godotenv.Load()
}

// resolveConfigPath returns path, except that the default path falls back to ./config.yaml
// when that exists, so running from a project directory uses the project's config.
func resolveConfigPath(path string) string {
	if path != defaultConfigPath {
		return path
	}
	if _, err := os.Stat(path); err == nil {
		return path
	}
	if cwd, err := os.Getwd(); err == nil {
		fallback := filepath.Join(cwd, "config.yaml")
		if _, err := os.Stat(fallback); err == nil {
			return fallback
		}
	}
	return path
}

// loadConfig loads, overrides from the environment and validates the config.
// Returns the config and the path that was actually used.
func loadConfig(path string) (*config.Config, string, error) {
	resolved := resolveConfigPath(path)
	cfg, err := config.LoadOrDefault(resolved)
	if err != nil {
		return nil, "", err
	}
	if err := cfg.Validate(); err != nil {
		return nil, "", fmt.Errorf("invalid config %s: %w", resolved, err)
	}
	return cfg, resolved, nil
}

func output() (cli.OutputFormat, error) {
	return cli.ParseOutputFormat(outputFormat)
}

func newClient() *cli.Client {
	return cli.NewClient(serverURL, 60*time.Second)
}

// Components holds the long-lived objects a command needs.
type Components struct {
	Config    *config.Config
	Logger    *zap.Logger
	Storage   storage.Storage
	Extractor embedding.Extractor
	Metrics   *metrics.Metrics
	Auth      *auth.Service
}

// Close releases the extractor and the store. The memory store saves its snapshot here.
func (c *Components) Close() {
	if c.Extractor != nil {
		if err := c.Extractor.Close(); err != nil {
			c.Logger.Warn("extractor close failed", zap.Error(err))
		}
	}
	if c.Storage != nil {
		if err := c.Storage.Close(); err != nil {
			c.Logger.Warn("storage close failed", zap.Error(err))
		}
	}
	_ = c.Logger.Sync()
}

func initializeComponents(ctx context.Context, cfg *config.Config, debug bool) (*Components, error) {
	logger, err := utils.NewLogger(debug)
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}

	store, err := storage.Open(ctx, cfg.Storage, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to open storage: %w", err)
	}
	extractor, err := embedding.New(cfg.Extractor)
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("failed to create extractor: %w", err)
	}

	m := metrics.New()
	svc := auth.NewService(store, extractor, cfg.Match, auth.WithLogger(logger), auth.WithMetrics(m))
	return &Components{
		Config:    cfg,
		Logger:    logger,
		Storage:   store,
		Extractor: extractor,
		Metrics:   m,
		Auth:      svc,
	}, nil
}

// openComponents loads the config and builds the components for a direct (serverless) command.
func openComponents(ctx context.Context) (*Components, error) {
	cfg, _, err := loadConfig(configPath)
	if err != nil {
		return nil, err
	}
	return initializeComponents(ctx, cfg, cfg.Debug || debugFlag)
}
