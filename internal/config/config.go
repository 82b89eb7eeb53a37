// Package config provides configuration loading and structs for the facegate server.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

// EnvPrefix is the prefix of environment variables that override file settings.
const EnvPrefix = "FACEGATE"

// Storage drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
	DriverMemory   = "memory"
)

// Extractor types.
const (
	ExtractorHTTP = "http"
	ExtractorONNX = "onnx"
	ExtractorMock = "mock"
)

// Config holds all configuration for the application.
type Config struct {
	Debug     bool            `yaml:"debug"`
	Server    ServerConfig    `yaml:"server"`
	Storage   StorageConfig   `yaml:"storage"`
	Extractor ExtractorConfig `yaml:"extractor"`
	Match     MatchConfig     `yaml:"match"`
	Inbox     InboxConfig     `yaml:"inbox"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host           string        `yaml:"host"`
	Port           int           `yaml:"port"`
	CORSOrigins    []string      `yaml:"cors_origins"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
}

// StorageConfig selects the identity store and holds its connection settings.
type StorageConfig struct {
	Driver       string `yaml:"driver"`
	DatabasePath string `yaml:"database_path"`
	DatabaseURL  string `yaml:"database_url"`
	MaxOpenConns int    `yaml:"max_open_conns"`
	MaxIdleConns int    `yaml:"max_idle_conns"`
	// SnapshotPath is where the memory driver loads and saves its contents. Empty disables it.
	SnapshotPath string `yaml:"snapshot_path"`
}

// ExtractorConfig holds face embedding extractor settings.
type ExtractorConfig struct {
	Type       string        `yaml:"type"`
	URL        string        `yaml:"url"`
	Model      string        `yaml:"model"`
	ModelPath  string        `yaml:"model_path"`
	Dimensions int           `yaml:"dimensions"`
	InputSize  int           `yaml:"input_size"`
	InputName  string        `yaml:"input_name"`
	OutputName string        `yaml:"output_name"`
	Timeout    time.Duration `yaml:"timeout"`
}

// MatchConfig holds the decision thresholds.
type MatchConfig struct {
	VerifyThreshold    float64 `yaml:"verify_threshold"`
	DuplicateThreshold float64 `yaml:"duplicate_threshold"`
	Workers            int     `yaml:"workers"`
}

// InboxConfig holds the enrollment inbox settings.
type InboxConfig struct {
	Directory  string        `yaml:"directory"`
	Extensions []string      `yaml:"extensions"`
	Debounce   time.Duration `yaml:"debounce"`
}

// Enabled reports whether an inbox directory is configured.
func (i *InboxConfig) Enabled() bool {
	return i.Directory != ""
}

// envOverrides mirrors the settings that can be set from the environment. Nil fields are unset.
type envOverrides struct {
	Debug              *bool    `envconfig:"DEBUG"`
	Host               *string  `envconfig:"HOST"`
	Port               *int     `envconfig:"PORT"`
	StorageDriver      *string  `envconfig:"STORAGE_DRIVER"`
	DatabasePath       *string  `envconfig:"DATABASE_PATH"`
	DatabaseURL        *string  `envconfig:"DATABASE_URL"`
	ExtractorType      *string  `envconfig:"EXTRACTOR_TYPE"`
	ExtractorURL       *string  `envconfig:"EXTRACTOR_URL"`
	ModelPath          *string  `envconfig:"MODEL_PATH"`
	VerifyThreshold    *float64 `envconfig:"VERIFY_THRESHOLD"`
	DuplicateThreshold *float64 `envconfig:"DUPLICATE_THRESHOLD"`
	Workers            *int     `envconfig:"WORKERS"`
	InboxDirectory     *string  `envconfig:"INBOX_DIRECTORY"`
}

// Load reads and parses the config file at path, expands paths, and applies defaults.
// Returns an error if the file cannot be read or parsed.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	ApplyDefaults(&cfg)

	configDir := filepath.Dir(path)
	cfg.Storage.DatabasePath = expandPath(cfg.Storage.DatabasePath, configDir)
	cfg.Storage.SnapshotPath = expandPath(cfg.Storage.SnapshotPath, configDir)
	cfg.Extractor.ModelPath = expandPath(cfg.Extractor.ModelPath, configDir)
	cfg.Inbox.Directory = expandPath(cfg.Inbox.Directory, configDir)

	return &cfg, nil
}

// LoadOrDefault loads path when it exists and falls back to defaults otherwise.
// Environment overrides are applied in both cases.
func LoadOrDefault(path string) (*Config, error) {
	var cfg *Config
	if path != "" {
		if _, err := os.Stat(path); err == nil {
			cfg, err = Load(path)
			if err != nil {
				return nil, err
			}
		}
	}
	if cfg == nil {
		cfg = &Config{}
		ApplyDefaults(cfg)
	}
	if err := ApplyEnv(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnv overrides cfg with FACEGATE_* environment variables.
func ApplyEnv(cfg *Config) error {
	var env envOverrides
	if err := envconfig.Process(EnvPrefix, &env); err != nil {
		return fmt.Errorf("failed to read environment: %w", err)
	}
	setIf(&cfg.Debug, env.Debug)
	setIf(&cfg.Server.Host, env.Host)
	setIf(&cfg.Server.Port, env.Port)
	setIf(&cfg.Storage.Driver, env.StorageDriver)
	setIf(&cfg.Storage.DatabasePath, env.DatabasePath)
	setIf(&cfg.Storage.DatabaseURL, env.DatabaseURL)
	setIf(&cfg.Extractor.Type, env.ExtractorType)
	setIf(&cfg.Extractor.URL, env.ExtractorURL)
	setIf(&cfg.Extractor.ModelPath, env.ModelPath)
	setIf(&cfg.Match.VerifyThreshold, env.VerifyThreshold)
	setIf(&cfg.Match.DuplicateThreshold, env.DuplicateThreshold)
	setIf(&cfg.Match.Workers, env.Workers)
	setIf(&cfg.Inbox.Directory, env.InboxDirectory)
	return nil
}

func setIf[T any](dst *T, v *T) {
	if v != nil {
		*dst = *v
	}
}

// Validate reports every setting that would make the server unusable.
func (c *Config) Validate() error {
	var errs []error
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port %d out of range", c.Server.Port))
	}
	switch c.Storage.Driver {
	case DriverSQLite:
		if c.Storage.DatabasePath == "" {
			errs = append(errs, errors.New("storage.database_path is required for sqlite"))
		}
	case DriverPostgres:
		if c.Storage.DatabaseURL == "" {
			errs = append(errs, errors.New("storage.database_url is required for postgres"))
		}
	case DriverMemory:
	default:
		errs = append(errs, fmt.Errorf("unknown storage.driver %q", c.Storage.Driver))
	}
	switch c.Extractor.Type {
	case ExtractorHTTP:
		if c.Extractor.URL == "" {
			errs = append(errs, errors.New("extractor.url is required for the http extractor"))
		}
	case ExtractorONNX:
		if c.Extractor.ModelPath == "" {
			errs = append(errs, errors.New("extractor.model_path is required for the onnx extractor"))
		}
	case ExtractorMock:
	default:
		errs = append(errs, fmt.Errorf("unknown extractor.type %q", c.Extractor.Type))
	}
	if c.Extractor.Dimensions <= 0 {
		errs = append(errs, errors.New("extractor.dimensions must be positive"))
	}
	if c.Match.VerifyThreshold <= 0 {
		errs = append(errs, errors.New("match.verify_threshold must be positive"))
	}
	if c.Match.DuplicateThreshold <= 0 {
		errs = append(errs, errors.New("match.duplicate_threshold must be positive"))
	}
	return errors.Join(errs...)
}

// Save writes the config to path.
func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// expandPath converts a path to absolute. Paths starting with "./" are relative to configDir;
// other relative paths are relative to the home directory. Empty paths stay empty.
func expandPath(path string, configDir string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	if strings.HasPrefix(path, "./") || path == "." {
		return filepath.Join(configDir, path)
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, path)
	}
	return path
}
