package config

import (
	"runtime"
	"time"
)

// Default thresholds. Distances are Euclidean between raw VGG-Face embeddings.
const (
	DefaultVerifyThreshold    = 0.65
	DefaultDuplicateThreshold = 0.60
)

// ApplyDefaults sets default values for any zero values in cfg.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.CORSOrigins == nil {
		cfg.Server.CORSOrigins = []string{"*"}
	}
	if cfg.Server.RequestTimeout == 0 {
		cfg.Server.RequestTimeout = 30 * time.Second
	}
	if cfg.Storage.Driver == "" {
		cfg.Storage.Driver = DriverSQLite
	}
	if cfg.Storage.DatabasePath == "" {
		cfg.Storage.DatabasePath = "/usr/local/var/facegate/data/db/identities.db"
	}
	if cfg.Storage.MaxOpenConns == 0 {
		cfg.Storage.MaxOpenConns = 10
	}
	if cfg.Storage.MaxIdleConns == 0 {
		cfg.Storage.MaxIdleConns = 5
	}
	if cfg.Extractor.Type == "" {
		cfg.Extractor.Type = ExtractorHTTP
	}
	if cfg.Extractor.URL == "" {
		cfg.Extractor.URL = "http://localhost:5000"
	}
	if cfg.Extractor.Model == "" {
		cfg.Extractor.Model = "VGG-Face"
	}
	if cfg.Extractor.ModelPath == "" {
		cfg.Extractor.ModelPath = "/usr/local/var/facegate/data/models/vgg_face.onnx"
	}
	if cfg.Extractor.Dimensions == 0 {
		cfg.Extractor.Dimensions = 2622
	}
	if cfg.Extractor.InputSize == 0 {
		cfg.Extractor.InputSize = 224
	}
	if cfg.Extractor.InputName == "" {
		cfg.Extractor.InputName = "input"
	}
	if cfg.Extractor.OutputName == "" {
		cfg.Extractor.OutputName = "output"
	}
	if cfg.Extractor.Timeout == 0 {
		cfg.Extractor.Timeout = 30 * time.Second
	}
	if cfg.Match.VerifyThreshold == 0 {
		cfg.Match.VerifyThreshold = DefaultVerifyThreshold
	}
	if cfg.Match.DuplicateThreshold == 0 {
		cfg.Match.DuplicateThreshold = DefaultDuplicateThreshold
	}
	if cfg.Match.Workers == 0 {
		cfg.Match.Workers = runtime.NumCPU()
	}
	if cfg.Inbox.Extensions == nil {
		cfg.Inbox.Extensions = []string{".jpg", ".jpeg", ".png", ".webp", ".bmp"}
	}
	if cfg.Inbox.Debounce == 0 {
		cfg.Inbox.Debounce = 500 * time.Millisecond
	}
}
