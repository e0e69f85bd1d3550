// Package config provides unified configuration for the Chalkline agent and
// its companion tools.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Mode represents which parts of the agent to run.
type Mode string

const (
	ModeAll     Mode = "all"
	ModeCapture Mode = "capture"
	ModeSync    Mode = "sync"
	ModeSweep   Mode = "sweep"
)

// Config holds the unified configuration for the Chalkline agent.
type Config struct {
	// Mode specifies which services to run: all, capture, sync, sweep
	Mode Mode `json:"mode" yaml:"mode"`

	// DataDir is the base directory for all data files
	DataDir string `json:"data_dir" yaml:"data_dir"`

	// DeviceID identifies this device in sync payloads. Generated and
	// persisted under DataDir when empty.
	DeviceID string `json:"device_id" yaml:"device_id"`

	// HashSalt is the per-deployment salt for correlation-key hashing.
	HashSalt string `json:"hash_salt" yaml:"hash_salt"`

	// Capture configuration
	Capture CaptureConfig `json:"capture" yaml:"capture"`

	// Sync configuration
	Sync SyncConfig `json:"sync" yaml:"sync"`

	// Retention configuration
	Retention RetentionConfig `json:"retention" yaml:"retention"`

	// Storage configuration
	Storage StorageConfig `json:"storage" yaml:"storage"`

	// Admin configuration
	Admin AdminConfig `json:"admin" yaml:"admin"`
}

// AdminConfig holds the local admin HTTP surface configuration.
type AdminConfig struct {
	// Enabled turns the admin server on
	Enabled bool `json:"enabled" yaml:"enabled"`

	// Addr is the listen address; loopback by default
	Addr string `json:"addr" yaml:"addr"`
}

// CaptureConfig holds capture pipeline configuration.
type CaptureConfig struct {
	// QueueSize is the capacity of the in-process capture queue
	QueueSize int `json:"queue_size" yaml:"queue_size"`

	// JournalDir is the directory for capture journal segments
	JournalDir string `json:"journal_dir" yaml:"journal_dir"`

	// JournalSegmentSize is the rotation threshold in bytes
	JournalSegmentSize int64 `json:"journal_segment_size" yaml:"journal_segment_size"`

	// MaxStoredEvents caps the local store; oldest synced events are
	// trimmed when the cap is exceeded
	MaxStoredEvents int `json:"max_stored_events" yaml:"max_stored_events"`
}

// SyncConfig holds sync engine configuration.
type SyncConfig struct {
	// Endpoint is the collector URL (http transport) or object prefix
	// (objectstore transport)
	Endpoint string `json:"endpoint" yaml:"endpoint"`

	// Transport selects the delivery path: http, objectstore
	Transport string `json:"transport" yaml:"transport"`

	// BatchSize is the maximum events per sync batch (1–500)
	BatchSize int `json:"batch_size" yaml:"batch_size"`

	// Interval is the pause between sync cycles
	Interval time.Duration `json:"interval" yaml:"interval"`

	// MaxAttempts is the per-batch attempt cap before events are marked
	// failed
	MaxAttempts int `json:"max_attempts" yaml:"max_attempts"`

	// InitialBackoff is the first retry delay
	InitialBackoff time.Duration `json:"initial_backoff" yaml:"initial_backoff"`

	// MaxBackoff caps the retry delay growth
	MaxBackoff time.Duration `json:"max_backoff" yaml:"max_backoff"`

	// StaleAfter is how long a batch may sit in flight before it is
	// released back to pending
	StaleAfter time.Duration `json:"stale_after" yaml:"stale_after"`

	// Compress enables snappy compression of sync payloads
	Compress bool `json:"compress" yaml:"compress"`
}

// RetentionConfig holds retention sweep configuration.
type RetentionConfig struct {
	// Interval is the pause between retention sweeps
	Interval time.Duration `json:"interval" yaml:"interval"`
}

// StorageConfig holds object storage configuration. Object storage carries
// flagged-batch exports and, with the objectstore transport, sync payloads.
type StorageConfig struct {
	// Type is the storage type: local, s3
	Type string `json:"type" yaml:"type"`

	// Path is the local storage path (for local type)
	Path string `json:"path" yaml:"path"`

	// S3 configuration (for s3 type)
	S3 S3Config `json:"s3" yaml:"s3"`
}

// S3Config holds S3 storage configuration.
type S3Config struct {
	// Bucket is the S3 bucket name
	Bucket string `json:"bucket" yaml:"bucket"`

	// Region is the AWS region
	Region string `json:"region" yaml:"region"`

	// Endpoint is the S3 endpoint (for S3-compatible storage)
	Endpoint string `json:"endpoint" yaml:"endpoint"`
}

// DefaultConfig returns the default configuration for local development.
func DefaultConfig() *Config {
	return &Config{
		Mode:    ModeAll,
		DataDir: "./data/chalkline",
		Capture: CaptureConfig{
			QueueSize:          256,
			JournalDir:         "",
			JournalSegmentSize: 4 * 1024 * 1024,
			MaxStoredEvents:    100000,
		},
		Sync: SyncConfig{
			Endpoint:       "http://localhost:8080/v1/batches",
			Transport:      "http",
			BatchSize:      50,
			Interval:       30 * time.Second,
			MaxAttempts:    8,
			InitialBackoff: 2 * time.Second,
			MaxBackoff:     5 * time.Minute,
			StaleAfter:     10 * time.Minute,
			Compress:       true,
		},
		Retention: RetentionConfig{
			Interval: 1 * time.Hour,
		},
		Storage: StorageConfig{
			Type: "local",
			Path: "",
		},
		Admin: AdminConfig{
			Enabled: true,
			Addr:    "127.0.0.1:8787",
		},
	}
}

// Resolve resolves relative paths and sets defaults based on DataDir.
func (c *Config) Resolve() {
	if c.DataDir == "" {
		c.DataDir = "./data/chalkline"
	}

	if c.Capture.JournalDir == "" {
		c.Capture.JournalDir = filepath.Join(c.DataDir, "journal")
	}

	if c.Storage.Path == "" {
		c.Storage.Path = filepath.Join(c.DataDir, "storage")
	}
}

// StorePath returns the path to the event store database.
func (c *Config) StorePath() string {
	return filepath.Join(c.DataDir, "events.db")
}

// DevicePath returns the path of the persisted device identifier.
func (c *Config) DevicePath() string {
	return filepath.Join(c.DataDir, "device_id")
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	switch c.Mode {
	case ModeAll, ModeCapture, ModeSync, ModeSweep:
		// Valid modes
	default:
		return fmt.Errorf("invalid mode: %s (must be all, capture, sync, or sweep)", c.Mode)
	}

	if c.DataDir == "" {
		return fmt.Errorf("data_dir is required")
	}

	if c.HashSalt == "" {
		return fmt.Errorf("hash_salt is required")
	}

	if c.Capture.QueueSize < 1 {
		return fmt.Errorf("capture.queue_size must be positive, got %d", c.Capture.QueueSize)
	}

	if c.Sync.Transport != "http" && c.Sync.Transport != "objectstore" {
		return fmt.Errorf("invalid sync transport: %s (must be http or objectstore)", c.Sync.Transport)
	}

	if c.Sync.Transport == "http" && c.Sync.Endpoint == "" {
		return fmt.Errorf("sync.endpoint is required for the http transport")
	}

	if c.Sync.BatchSize < 1 || c.Sync.BatchSize > 500 {
		return fmt.Errorf("sync.batch_size must be between 1 and 500, got %d", c.Sync.BatchSize)
	}

	if c.Sync.MaxAttempts < 1 {
		return fmt.Errorf("sync.max_attempts must be positive, got %d", c.Sync.MaxAttempts)
	}

	if c.Storage.Type != "local" && c.Storage.Type != "s3" {
		return fmt.Errorf("invalid storage type: %s (must be local or s3)", c.Storage.Type)
	}

	if c.Storage.Type == "s3" && c.Storage.S3.Bucket == "" {
		return fmt.Errorf("s3.bucket is required when storage type is s3")
	}

	if c.Admin.Enabled && c.Admin.Addr == "" {
		return fmt.Errorf("admin.addr is required when the admin server is enabled")
	}

	return nil
}

// ShouldRunCapture returns true if the capture pipeline should run.
func (c *Config) ShouldRunCapture() bool {
	return c.Mode == ModeAll || c.Mode == ModeCapture
}

// ShouldRunSync returns true if the sync engine should run.
func (c *Config) ShouldRunSync() bool {
	return c.Mode == ModeAll || c.Mode == ModeSync
}

// ShouldRunSweep returns true if the retention sweeper should run.
func (c *Config) ShouldRunSweep() bool {
	return c.Mode == ModeAll || c.Mode == ModeSweep
}

// LoadFromFile loads configuration from a YAML or JSON file.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := DefaultConfig()

	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse YAML config: %w", err)
		}
	case ".json":
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse JSON config: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported config file format: %s", ext)
	}

	return cfg, nil
}

// LoadFromEnv loads configuration from environment variables.
// Environment variables use the CHALKLINE_ prefix.
func LoadFromEnv(cfg *Config) {
	if v := os.Getenv("CHALKLINE_MODE"); v != "" {
		cfg.Mode = Mode(v)
	}
	if v := os.Getenv("CHALKLINE_DATA_DIR"); v != "" {
		cfg.DataDir = v
	}
	if v := os.Getenv("CHALKLINE_DEVICE_ID"); v != "" {
		cfg.DeviceID = v
	}
	if v := os.Getenv("CHALKLINE_HASH_SALT"); v != "" {
		cfg.HashSalt = v
	}

	// Capture configuration
	if v := os.Getenv("CHALKLINE_CAPTURE_QUEUE_SIZE"); v != "" {
		fmt.Sscanf(v, "%d", &cfg.Capture.QueueSize)
	}
	if v := os.Getenv("CHALKLINE_CAPTURE_MAX_STORED_EVENTS"); v != "" {
		fmt.Sscanf(v, "%d", &cfg.Capture.MaxStoredEvents)
	}

	// Sync configuration
	if v := os.Getenv("CHALKLINE_SYNC_ENDPOINT"); v != "" {
		cfg.Sync.Endpoint = v
	}
	if v := os.Getenv("CHALKLINE_SYNC_TRANSPORT"); v != "" {
		cfg.Sync.Transport = v
	}
	if v := os.Getenv("CHALKLINE_SYNC_BATCH_SIZE"); v != "" {
		fmt.Sscanf(v, "%d", &cfg.Sync.BatchSize)
	}
	if v := os.Getenv("CHALKLINE_SYNC_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Sync.Interval = d
		}
	}
	if v := os.Getenv("CHALKLINE_SYNC_MAX_ATTEMPTS"); v != "" {
		fmt.Sscanf(v, "%d", &cfg.Sync.MaxAttempts)
	}
	if v := os.Getenv("CHALKLINE_SYNC_COMPRESS"); v != "" {
		cfg.Sync.Compress = v == "true" || v == "1"
	}

	// Retention configuration
	if v := os.Getenv("CHALKLINE_RETENTION_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Retention.Interval = d
		}
	}

	// Storage configuration
	if v := os.Getenv("CHALKLINE_STORAGE_TYPE"); v != "" {
		cfg.Storage.Type = v
	}
	if v := os.Getenv("CHALKLINE_STORAGE_PATH"); v != "" {
		cfg.Storage.Path = v
	}
	if v := os.Getenv("CHALKLINE_S3_BUCKET"); v != "" {
		cfg.Storage.S3.Bucket = v
	}
	if v := os.Getenv("CHALKLINE_S3_REGION"); v != "" {
		cfg.Storage.S3.Region = v
	}
	if v := os.Getenv("CHALKLINE_S3_ENDPOINT"); v != "" {
		cfg.Storage.S3.Endpoint = v
	}

	// Admin configuration
	if v := os.Getenv("CHALKLINE_ADMIN_ADDR"); v != "" {
		cfg.Admin.Addr = v
		cfg.Admin.Enabled = true
	}
}

// EnsureDirectories creates all required directories.
func (c *Config) EnsureDirectories() error {
	dirs := []string{
		c.DataDir,
		c.Capture.JournalDir,
		c.Storage.Path,
	}

	for _, dir := range dirs {
		if dir == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}

	return nil
}
