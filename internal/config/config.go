// Package config provides unified configuration for the splitagg commands.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/arkilian/splitagg/pkg/types"
)

// Queue backends.
const (
	QueueMemory = "memory"
	QueueRedis  = "redis"
)

// Storage backends for published results.
const (
	StorageNone  = "none"
	StorageLocal = "local"
	StorageS3    = "s3"
)

// DefaultChunkSize is the number of rows held in memory per partitioning chunk.
const DefaultChunkSize = 2_000_000

// Config holds the configuration for every splitagg command.
type Config struct {
	// DataDir is the base directory for all data files
	DataDir string `json:"data_dir" yaml:"data_dir"`

	// InputDir receives submitted input files
	InputDir string `json:"input_dir" yaml:"input_dir"`

	// OutputDir holds task workspaces and aggregated outputs
	OutputDir string `json:"output_dir" yaml:"output_dir"`

	// Pipeline tuning
	Pipeline PipelineConfig `json:"pipeline" yaml:"pipeline"`

	// Schema names the key, secondary and measure columns
	Schema types.Schema `json:"schema" yaml:"schema"`

	// Task store configuration
	Store StoreConfig `json:"store" yaml:"store"`

	// Job queue configuration
	Queue QueueConfig `json:"queue" yaml:"queue"`

	// Result storage configuration
	Storage StorageConfig `json:"storage" yaml:"storage"`

	// Logging configuration
	Log LogConfig `json:"log" yaml:"log"`

	// Queue worker configuration
	Worker WorkerConfig `json:"worker" yaml:"worker"`
}

// PipelineConfig holds split/aggregate tuning.
type PipelineConfig struct {
	// ChunkSize is the maximum number of rows per in-memory chunk
	ChunkSize int `json:"chunk_size" yaml:"chunk_size"`

	// Workers bounds job concurrency per phase (0 = one goroutine per job)
	Workers int `json:"workers" yaml:"workers"`

	// InputExtension is the only accepted input file extension
	InputExtension string `json:"input_extension" yaml:"input_extension"`
}

// StoreConfig holds task store configuration.
type StoreConfig struct {
	// Path is the SQLite database file
	Path string `json:"path" yaml:"path"`
}

// QueueConfig holds job queue configuration.
type QueueConfig struct {
	// Type is the queue backend: memory, redis
	Type string `json:"type" yaml:"type"`

	// Redis configuration (for redis type)
	Redis RedisConfig `json:"redis" yaml:"redis"`
}

// RedisConfig holds Redis connection settings.
type RedisConfig struct {
	Addr     string `json:"addr" yaml:"addr"`
	Password string `json:"password" yaml:"password"`
	DB       int    `json:"db" yaml:"db"`

	// Key is the list the task IDs are pushed to
	Key string `json:"key" yaml:"key"`
}

// StorageConfig holds result storage configuration.
type StorageConfig struct {
	// Type is the storage type: none, local, s3
	Type string `json:"type" yaml:"type"`

	// Path is the local storage path (for local type)
	Path string `json:"path" yaml:"path"`

	// Prefix is prepended to every published object path
	Prefix string `json:"prefix" yaml:"prefix"`

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

	// UsePathStyle forces path-style addressing (MinIO and friends)
	UsePathStyle bool `json:"use_path_style" yaml:"use_path_style"`
}

// LogConfig holds logger settings.
type LogConfig struct {
	// Mode is production (JSON) or development (console)
	Mode string `json:"mode" yaml:"mode"`

	// Level is the minimum level: debug, info, warn, error
	Level string `json:"level" yaml:"level"`
}

// WorkerConfig holds queue worker settings.
type WorkerConfig struct {
	// Concurrency is the number of tasks processed at once
	Concurrency int `json:"concurrency" yaml:"concurrency"`

	// PollTimeout bounds each blocking dequeue
	PollTimeout time.Duration `json:"poll_timeout" yaml:"poll_timeout"`

	// ShutdownTimeout bounds the drain of in-flight tasks on shutdown
	ShutdownTimeout time.Duration `json:"shutdown_timeout" yaml:"shutdown_timeout"`

	// StatsRetention is how long a finished run stays in the worker's run
	// registry; it is also the prune interval (0 keeps every run)
	StatsRetention time.Duration `json:"stats_retention" yaml:"stats_retention"`
}

// DefaultConfig returns the default configuration for local development.
func DefaultConfig() *Config {
	return &Config{
		DataDir: "./data/splitagg",
		Pipeline: PipelineConfig{
			ChunkSize:      DefaultChunkSize,
			Workers:        0,
			InputExtension: ".csv",
		},
		Schema: types.DefaultSchema(),
		Queue: QueueConfig{
			Type: QueueMemory,
			Redis: RedisConfig{
				Addr: "localhost:6379",
				Key:  "splitagg:tasks",
			},
		},
		Storage: StorageConfig{
			Type: StorageNone,
		},
		Log: LogConfig{
			Mode:  "production",
			Level: "info",
		},
		Worker: WorkerConfig{
			Concurrency:     1,
			PollTimeout:     5 * time.Second,
			ShutdownTimeout: 30 * time.Second,
			StatsRetention:  time.Hour,
		},
	}
}

// Resolve resolves relative paths and sets defaults based on DataDir.
func (c *Config) Resolve() {
	if c.DataDir == "" {
		c.DataDir = "./data/splitagg"
	}

	if c.InputDir == "" {
		c.InputDir = filepath.Join(c.DataDir, "input")
	}
	if c.OutputDir == "" {
		c.OutputDir = filepath.Join(c.DataDir, "output")
	}
	if c.Store.Path == "" {
		c.Store.Path = filepath.Join(c.DataDir, "tasks.db")
	}
	if c.Storage.Type == StorageLocal && c.Storage.Path == "" {
		c.Storage.Path = filepath.Join(c.DataDir, "storage")
	}
	if c.Pipeline.InputExtension != "" && !strings.HasPrefix(c.Pipeline.InputExtension, ".") {
		c.Pipeline.InputExtension = "." + c.Pipeline.InputExtension
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.DataDir == "" {
		return fmt.Errorf("data_dir is required")
	}

	if c.Pipeline.ChunkSize < 1 {
		return fmt.Errorf("pipeline.chunk_size must be positive, got %d", c.Pipeline.ChunkSize)
	}
	if c.Pipeline.Workers < 0 {
		return fmt.Errorf("pipeline.workers must not be negative, got %d", c.Pipeline.Workers)
	}
	if c.Pipeline.InputExtension == "" {
		return fmt.Errorf("pipeline.input_extension is required")
	}

	if err := c.Schema.Validate(); err != nil {
		return err
	}

	switch c.Queue.Type {
	case QueueMemory:
	case QueueRedis:
		if c.Queue.Redis.Addr == "" || c.Queue.Redis.Key == "" {
			return fmt.Errorf("queue.redis.addr and queue.redis.key are required when queue type is redis")
		}
	default:
		return fmt.Errorf("invalid queue type: %s (must be memory or redis)", c.Queue.Type)
	}

	switch c.Storage.Type {
	case StorageNone, StorageLocal:
	case StorageS3:
		if c.Storage.S3.Bucket == "" {
			return fmt.Errorf("s3.bucket is required when storage type is s3")
		}
	default:
		return fmt.Errorf("invalid storage type: %s (must be none, local, or s3)", c.Storage.Type)
	}

	if c.Worker.Concurrency < 1 {
		return fmt.Errorf("worker.concurrency must be at least 1, got %d", c.Worker.Concurrency)
	}
	if c.Worker.StatsRetention < 0 {
		return fmt.Errorf("worker.stats_retention must not be negative, got %s", c.Worker.StatsRetention)
	}

	return nil
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
// Environment variables use the SPLITAGG_ prefix. Malformed numbers and
// durations leave the field unchanged and are reported together.
func LoadFromEnv(cfg *Config) error {
	var errs []error
	if v := os.Getenv("SPLITAGG_DATA_DIR"); v != "" {
		cfg.DataDir = v
	}
	if v := os.Getenv("SPLITAGG_INPUT_DIR"); v != "" {
		cfg.InputDir = v
	}
	if v := os.Getenv("SPLITAGG_OUTPUT_DIR"); v != "" {
		cfg.OutputDir = v
	}

	// Pipeline configuration
	errs = append(errs,
		envInt("SPLITAGG_CHUNK_SIZE", &cfg.Pipeline.ChunkSize),
		envInt("SPLITAGG_WORKERS", &cfg.Pipeline.Workers),
	)

	// Schema configuration
	if v := os.Getenv("SPLITAGG_KEY_COLUMNS"); v != "" {
		cfg.Schema.KeyColumns = splitList(v)
	}
	if v := os.Getenv("SPLITAGG_SECONDARY_COLUMN"); v != "" {
		cfg.Schema.SecondaryColumn = v
	}
	if v := os.Getenv("SPLITAGG_MEASURE_COLUMN"); v != "" {
		cfg.Schema.MeasureColumn = v
	}

	// Store configuration
	if v := os.Getenv("SPLITAGG_STORE_PATH"); v != "" {
		cfg.Store.Path = v
	}

	// Queue configuration
	if v := os.Getenv("SPLITAGG_QUEUE_TYPE"); v != "" {
		cfg.Queue.Type = v
	}
	if v := os.Getenv("SPLITAGG_REDIS_ADDR"); v != "" {
		cfg.Queue.Redis.Addr = v
	}
	if v := os.Getenv("SPLITAGG_REDIS_PASSWORD"); v != "" {
		cfg.Queue.Redis.Password = v
	}
	errs = append(errs, envInt("SPLITAGG_REDIS_DB", &cfg.Queue.Redis.DB))
	if v := os.Getenv("SPLITAGG_REDIS_KEY"); v != "" {
		cfg.Queue.Redis.Key = v
	}

	// Storage configuration
	if v := os.Getenv("SPLITAGG_STORAGE_TYPE"); v != "" {
		cfg.Storage.Type = v
	}
	if v := os.Getenv("SPLITAGG_STORAGE_PATH"); v != "" {
		cfg.Storage.Path = v
	}
	if v := os.Getenv("SPLITAGG_STORAGE_PREFIX"); v != "" {
		cfg.Storage.Prefix = v
	}
	if v := os.Getenv("SPLITAGG_S3_BUCKET"); v != "" {
		cfg.Storage.S3.Bucket = v
	}
	if v := os.Getenv("SPLITAGG_S3_REGION"); v != "" {
		cfg.Storage.S3.Region = v
	}
	if v := os.Getenv("SPLITAGG_S3_ENDPOINT"); v != "" {
		cfg.Storage.S3.Endpoint = v
	}
	if v := os.Getenv("SPLITAGG_S3_USE_PATH_STYLE"); v != "" {
		cfg.Storage.S3.UsePathStyle = v == "true" || v == "1"
	}

	// Logging configuration
	if v := os.Getenv("SPLITAGG_LOG_MODE"); v != "" {
		cfg.Log.Mode = v
	}
	if v := os.Getenv("SPLITAGG_LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}

	// Worker configuration
	errs = append(errs,
		envInt("SPLITAGG_WORKER_CONCURRENCY", &cfg.Worker.Concurrency),
		envDuration("SPLITAGG_WORKER_POLL_TIMEOUT", &cfg.Worker.PollTimeout),
		envDuration("SPLITAGG_WORKER_SHUTDOWN_TIMEOUT", &cfg.Worker.ShutdownTimeout),
		envDuration("SPLITAGG_WORKER_STATS_RETENTION", &cfg.Worker.StatsRetention),
	)

	return errors.Join(errs...)
}

func envInt(name string, dst *int) error {
	v := os.Getenv(name)
	if v == "" {
		return nil
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		return fmt.Errorf("%s: invalid integer %q", name, v)
	}
	*dst = n
	return nil
}

func envDuration(name string, dst *time.Duration) error {
	v := os.Getenv(name)
	if v == "" {
		return nil
	}
	d, err := time.ParseDuration(strings.TrimSpace(v))
	if err != nil {
		return fmt.Errorf("%s: invalid duration %q", name, v)
	}
	*dst = d
	return nil
}

// EnsureDirectories creates all required directories.
func (c *Config) EnsureDirectories() error {
	dirs := []string{
		c.DataDir,
		c.InputDir,
		c.OutputDir,
		filepath.Dir(c.Store.Path),
	}
	if c.Storage.Type == StorageLocal {
		dirs = append(dirs, c.Storage.Path)
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

func splitList(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
