package config

import (
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"
)

func TestDefaultConfig_Valid(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Resolve()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config should be valid: %v", err)
	}
	if cfg.Pipeline.ChunkSize != 2_000_000 {
		t.Errorf("chunk size = %d, want 2000000", cfg.Pipeline.ChunkSize)
	}
	if cfg.InputDir != filepath.Join(cfg.DataDir, "input") {
		t.Errorf("input dir = %q", cfg.InputDir)
	}
	if cfg.OutputDir != filepath.Join(cfg.DataDir, "output") {
		t.Errorf("output dir = %q", cfg.OutputDir)
	}
	if cfg.Store.Path != filepath.Join(cfg.DataDir, "tasks.db") {
		t.Errorf("store path = %q", cfg.Store.Path)
	}
}

func TestResolve_NormalizesExtension(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Pipeline.InputExtension = "csv"
	cfg.Resolve()
	if cfg.Pipeline.InputExtension != ".csv" {
		t.Errorf("extension = %q, want .csv", cfg.Pipeline.InputExtension)
	}
}

func TestValidate_Errors(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"no data dir", func(c *Config) { c.DataDir = "" }},
		{"zero chunk", func(c *Config) { c.Pipeline.ChunkSize = 0 }},
		{"negative workers", func(c *Config) { c.Pipeline.Workers = -1 }},
		{"no extension", func(c *Config) { c.Pipeline.InputExtension = "" }},
		{"no key columns", func(c *Config) { c.Schema.KeyColumns = nil }},
		{"duplicate column", func(c *Config) { c.Schema.SecondaryColumn = "Song" }},
		{"bad queue", func(c *Config) { c.Queue.Type = "kafka" }},
		{"redis without addr", func(c *Config) { c.Queue.Type = QueueRedis; c.Queue.Redis.Addr = "" }},
		{"bad storage", func(c *Config) { c.Storage.Type = "gcs" }},
		{"s3 without bucket", func(c *Config) { c.Storage.Type = StorageS3 }},
		{"zero worker concurrency", func(c *Config) { c.Worker.Concurrency = 0 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

func TestLoadFromFile_YAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "splitagg.yaml")
	content := `
data_dir: /var/lib/splitagg
pipeline:
  chunk_size: 500
  workers: 4
schema:
  key_columns: [Artist, Song]
  secondary_column: Day
  measure_column: Plays
queue:
  type: redis
  redis:
    addr: redis:6379
    key: jobs
worker:
  poll_timeout: 2s
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadFromFile(path)
	if err != nil {
		t.Fatalf("LoadFromFile: %v", err)
	}
	if cfg.DataDir != "/var/lib/splitagg" || cfg.Pipeline.ChunkSize != 500 || cfg.Pipeline.Workers != 4 {
		t.Errorf("unexpected config: %+v", cfg)
	}
	if !reflect.DeepEqual(cfg.Schema.KeyColumns, []string{"Artist", "Song"}) {
		t.Errorf("key columns = %v", cfg.Schema.KeyColumns)
	}
	if cfg.Queue.Type != QueueRedis || cfg.Queue.Redis.Key != "jobs" {
		t.Errorf("queue = %+v", cfg.Queue)
	}
	if cfg.Worker.PollTimeout != 2*time.Second {
		t.Errorf("poll timeout = %v", cfg.Worker.PollTimeout)
	}
	// Untouched keys keep their defaults
	if cfg.Pipeline.InputExtension != ".csv" {
		t.Errorf("input extension = %q", cfg.Pipeline.InputExtension)
	}
}

func TestLoadFromFile_JSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "splitagg.json")
	content := `{"data_dir": "/tmp/x", "storage": {"type": "s3", "s3": {"bucket": "results", "use_path_style": true}}}`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadFromFile(path)
	if err != nil {
		t.Fatalf("LoadFromFile: %v", err)
	}
	if cfg.Storage.Type != StorageS3 || cfg.Storage.S3.Bucket != "results" || !cfg.Storage.S3.UsePathStyle {
		t.Errorf("storage = %+v", cfg.Storage)
	}
}

func TestLoadFromFile_UnsupportedFormat(t *testing.T) {
	path := filepath.Join(t.TempDir(), "splitagg.toml")
	if err := os.WriteFile(path, []byte("x = 1"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadFromFile(path); err == nil {
		t.Error("expected error for unsupported format")
	}
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("SPLITAGG_DATA_DIR", "/data")
	t.Setenv("SPLITAGG_CHUNK_SIZE", "42")
	t.Setenv("SPLITAGG_KEY_COLUMNS", "Artist, Song")
	t.Setenv("SPLITAGG_QUEUE_TYPE", "redis")
	t.Setenv("SPLITAGG_REDIS_DB", "3")
	t.Setenv("SPLITAGG_S3_USE_PATH_STYLE", "1")
	t.Setenv("SPLITAGG_WORKER_SHUTDOWN_TIMEOUT", "10s")

	cfg := DefaultConfig()
	if err := LoadFromEnv(cfg); err != nil {
		t.Fatalf("LoadFromEnv: %v", err)
	}

	if cfg.DataDir != "/data" || cfg.Pipeline.ChunkSize != 42 {
		t.Errorf("unexpected config: %+v", cfg)
	}
	if !reflect.DeepEqual(cfg.Schema.KeyColumns, []string{"Artist", "Song"}) {
		t.Errorf("key columns = %v", cfg.Schema.KeyColumns)
	}
	if cfg.Queue.Type != QueueRedis || cfg.Queue.Redis.DB != 3 {
		t.Errorf("queue = %+v", cfg.Queue)
	}
	if !cfg.Storage.S3.UsePathStyle {
		t.Error("expected path style")
	}
	if cfg.Worker.ShutdownTimeout != 10*time.Second {
		t.Errorf("shutdown timeout = %v", cfg.Worker.ShutdownTimeout)
	}
}

func TestLoadFromEnv_MalformedValues(t *testing.T) {
	t.Setenv("SPLITAGG_CHUNK_SIZE", "10k")
	t.Setenv("SPLITAGG_WORKERS", "4")
	t.Setenv("SPLITAGG_REDIS_DB", "one")
	t.Setenv("SPLITAGG_WORKER_CONCURRENCY", "2x")
	t.Setenv("SPLITAGG_WORKER_STATS_RETENTION", "forever")

	cfg := DefaultConfig()
	err := LoadFromEnv(cfg)
	if err == nil {
		t.Fatal("expected error for malformed values")
	}
	for _, name := range []string{
		"SPLITAGG_CHUNK_SIZE",
		"SPLITAGG_REDIS_DB",
		"SPLITAGG_WORKER_CONCURRENCY",
		"SPLITAGG_WORKER_STATS_RETENTION",
	} {
		if !strings.Contains(err.Error(), name) {
			t.Errorf("error %q does not name %s", err, name)
		}
	}

	def := DefaultConfig()
	if cfg.Pipeline.ChunkSize != def.Pipeline.ChunkSize {
		t.Errorf("chunk size = %d, want default %d", cfg.Pipeline.ChunkSize, def.Pipeline.ChunkSize)
	}
	if cfg.Pipeline.Workers != 4 {
		t.Errorf("workers = %d, want 4", cfg.Pipeline.Workers)
	}
	if cfg.Worker.StatsRetention != def.Worker.StatsRetention {
		t.Errorf("stats retention = %v", cfg.Worker.StatsRetention)
	}
}

func TestEnsureDirectories(t *testing.T) {
	cfg := DefaultConfig()
	cfg.DataDir = filepath.Join(t.TempDir(), "data")
	cfg.Storage.Type = StorageLocal
	cfg.Resolve()

	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("EnsureDirectories: %v", err)
	}
	for _, dir := range []string{cfg.InputDir, cfg.OutputDir, cfg.Storage.Path} {
		if info, err := os.Stat(dir); err != nil || !info.IsDir() {
			t.Errorf("expected directory %s", dir)
		}
	}
}
