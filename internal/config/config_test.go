package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadWithFileOverrides(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	configYAML := `
server:
  enabled: true
  port: 9090
pipeline:
  concurrency: 12
  batch_size: 5
  max_items: 40
  deadline_seconds: 600
  dry_run: true
selector:
  stale_after_hours: 48
  max_attempts: 3
extractor:
  backend: direct
  max_pages: 3
  call_timeout_seconds: 20
  backoff_initial_ms: 100
credentials:
  max_in_flight: 2
blocklist:
  static_patterns: ["*.linktr.ee", "gofundme.com"]
storage:
  backend: gcs
  gcs_bucket: outreach-runs
logging:
  development: false
`
	if err := os.WriteFile(path, []byte(configYAML), 0o600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if !cfg.Server.Enabled || cfg.Server.Port != 9090 {
		t.Fatalf("expected server overrides, got %+v", cfg.Server)
	}
	if cfg.Pipeline.Concurrency != 12 || cfg.Pipeline.BatchSize != 5 || !cfg.Pipeline.DryRun {
		t.Fatalf("expected pipeline overrides, got %+v", cfg.Pipeline)
	}
	if got := cfg.Pipeline.Deadline(); got != 10*time.Minute {
		t.Fatalf("expected deadline 10m, got %v", got)
	}
	if got := cfg.Selector.StaleAfter(); got != 48*time.Hour {
		t.Fatalf("expected stale window 48h, got %v", got)
	}
	if cfg.Extractor.Backend != BackendDirect || cfg.Extractor.CallTimeout() != 20*time.Second {
		t.Fatalf("expected extractor overrides, got %+v", cfg.Extractor)
	}
	if cfg.Extractor.MaxRetries != 3 {
		t.Fatalf("expected default max_retries 3, got %d", cfg.Extractor.MaxRetries)
	}
	if len(cfg.Blocklist.StaticPatterns) != 2 {
		t.Fatalf("expected static patterns, got %v", cfg.Blocklist.StaticPatterns)
	}
	if cfg.Logging.Development {
		t.Fatal("expected production logging")
	}
}

func TestLoadDefaults(t *testing.T) {
	t.Parallel()

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Pipeline.Concurrency != 100 || cfg.Pipeline.BatchSize != 20 {
		t.Fatalf("unexpected pipeline defaults: %+v", cfg.Pipeline)
	}
	if cfg.Extractor.Backend != BackendFirecrawl || cfg.Extractor.MaxPages != 5 {
		t.Fatalf("unexpected extractor defaults: %+v", cfg.Extractor)
	}
	if cfg.Credentials.MaxInFlight != 1 {
		t.Fatalf("unexpected credential defaults: %+v", cfg.Credentials)
	}
}

func TestConfigValidateErrors(t *testing.T) {
	t.Parallel()

	base := Config{
		Pipeline:    PipelineConfig{Concurrency: 1, BatchSize: 1},
		Extractor:   ExtractorConfig{Backend: BackendDirect, MaxPages: 1, CallTimeoutSeconds: 1},
		Credentials: CredentialsConfig{MaxInFlight: 1, AcquireTimeoutSeconds: 1},
		Storage:     StorageConfig{Backend: "memory"},
		Sync:        SyncConfig{ChunkSize: 10},
	}
	if err := base.Validate(); err != nil {
		t.Fatalf("base config should be valid: %v", err)
	}

	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{name: "server port", mutate: func(c *Config) { c.Server.Enabled = true }, want: "server.port"},
		{name: "concurrency", mutate: func(c *Config) { c.Pipeline.Concurrency = 0 }, want: "pipeline.concurrency"},
		{name: "batch size", mutate: func(c *Config) { c.Pipeline.BatchSize = 0 }, want: "pipeline.batch_size"},
		{name: "negative limit", mutate: func(c *Config) { c.Pipeline.MaxItems = -1 }, want: "pipeline.max_items"},
		{name: "unknown backend", mutate: func(c *Config) { c.Extractor.Backend = "scrapy" }, want: "extractor.backend"},
		{
			name: "firecrawl without base url",
			mutate: func(c *Config) {
				c.Extractor.Backend = BackendFirecrawl
			},
			want: "firecrawl.base_url",
		},
		{name: "max pages", mutate: func(c *Config) { c.Extractor.MaxPages = 0 }, want: "extractor.max_pages"},
		{name: "in flight", mutate: func(c *Config) { c.Credentials.MaxInFlight = 0 }, want: "credentials.max_in_flight"},
		{name: "chunk size", mutate: func(c *Config) { c.Sync.ChunkSize = 0 }, want: "sync.chunk_size"},
		{name: "gcs bucket", mutate: func(c *Config) { c.Storage.Backend = "gcs" }, want: "storage.gcs_bucket"},
		{name: "storage backend", mutate: func(c *Config) { c.Storage.Backend = "s3" }, want: "storage.backend"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := base
			tt.mutate(&cfg)
			err := cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("expected error containing %q, got %v", tt.want, err)
			}
		})
	}
}
