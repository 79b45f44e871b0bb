// Package config loads and validates pipeline configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Extraction backends selectable via extractor.backend.
const (
	BackendFirecrawl = "firecrawl"
	BackendDirect    = "direct"
)

// Config captures all pipeline configuration knobs loaded via Viper.
type Config struct {
	Server      ServerConfig      `mapstructure:"server"`
	Pipeline    PipelineConfig    `mapstructure:"pipeline"`
	Selector    SelectorConfig    `mapstructure:"selector"`
	Extractor   ExtractorConfig   `mapstructure:"extractor"`
	Firecrawl   FirecrawlConfig   `mapstructure:"firecrawl"`
	Credentials CredentialsConfig `mapstructure:"credentials"`
	Blocklist   BlocklistConfig   `mapstructure:"blocklist"`
	Storage     StorageConfig     `mapstructure:"storage"`
	Sync        SyncConfig        `mapstructure:"sync"`
	DB          DBConfig          `mapstructure:"db"`
	PubSub      PubSubConfig      `mapstructure:"pubsub"`
	Logging     LoggingConfig     `mapstructure:"logging"`
}

// ServerConfig controls the ops HTTP server that runs alongside a pipeline run.
type ServerConfig struct {
	Enabled bool `mapstructure:"enabled"`
	Port    int  `mapstructure:"port"`
}

// PipelineConfig governs dispatcher batching and run limits.
type PipelineConfig struct {
	Concurrency     int  `mapstructure:"concurrency"`
	BatchSize       int  `mapstructure:"batch_size"`
	MaxItems        int  `mapstructure:"max_items"`
	DeadlineSeconds int  `mapstructure:"deadline_seconds"`
	DryRun          bool `mapstructure:"dry_run"`
}

// SelectorConfig tunes change detection.
type SelectorConfig struct {
	StaleAfterHours int `mapstructure:"stale_after_hours"`
	MaxAttempts     int `mapstructure:"max_attempts"`
	Limit           int `mapstructure:"limit"`
}

// ExtractorConfig configures the per-creator extraction worker.
type ExtractorConfig struct {
	Backend            string  `mapstructure:"backend"`
	MapLimit           int     `mapstructure:"map_limit"`
	MaxPages           int     `mapstructure:"max_pages"`
	MaxRetries         int     `mapstructure:"max_retries"`
	BackoffInitialMs   int     `mapstructure:"backoff_initial_ms"`
	BackoffMaxMs       int     `mapstructure:"backoff_max_ms"`
	CallTimeoutSeconds int     `mapstructure:"call_timeout_seconds"`
	RatePerHost        float64 `mapstructure:"rate_per_host"`
	Burst              int     `mapstructure:"burst"`
	UserAgent          string  `mapstructure:"user_agent"`
}

// FirecrawlConfig points at the extraction service.
type FirecrawlConfig struct {
	BaseURL string `mapstructure:"base_url"`
}

// CredentialsConfig tunes the credential pool.
type CredentialsConfig struct {
	MaxInFlight           int `mapstructure:"max_in_flight"`
	AcquireTimeoutSeconds int `mapstructure:"acquire_timeout_seconds"`
}

// BlocklistConfig adds operator-managed domain patterns to the stored blocklist.
type BlocklistConfig struct {
	StaticPatterns []string `mapstructure:"static_patterns"`
}

// StorageConfig selects where snapshots are read from and run summaries are archived.
type StorageConfig struct {
	Backend   string `mapstructure:"backend"`
	GCSBucket string `mapstructure:"gcs_bucket"`
	LocalDir  string `mapstructure:"local_dir"`
	Prefix    string `mapstructure:"prefix"`
}

// SyncConfig drives the snapshot sync command.
type SyncConfig struct {
	// Source is a local path or gs://bucket/object holding the snapshot JSON.
	Source    string `mapstructure:"source"`
	ChunkSize int    `mapstructure:"chunk_size"`
}

// DBConfig controls access to the relational database.
type DBConfig struct {
	DSN          string `mapstructure:"dsn"`
	MaxConns     int32  `mapstructure:"max_conns"`
	PingAttempts int    `mapstructure:"ping_attempts"`
}

// PubSubConfig holds metadata for run-completed notifications.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// LoggingConfig toggles zap development features and optional file output.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	File        string `mapstructure:"file"`
	MaxSizeMB   int    `mapstructure:"max_size_mb"`
	MaxBackups  int    `mapstructure:"max_backups"`
	MaxAgeDays  int    `mapstructure:"max_age_days"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	return LoadWith(viper.New(), path)
}

// LoadWith is Load on a caller-supplied Viper so CLI flags bound to v take part.
func LoadWith(v *viper.Viper, path string) (Config, error) {
	v.SetEnvPrefix("OUTREACH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.enabled", false)
	v.SetDefault("server.port", 8080)
	v.SetDefault("pipeline.concurrency", 100)
	v.SetDefault("pipeline.batch_size", 20)
	v.SetDefault("pipeline.max_items", 0)
	v.SetDefault("pipeline.deadline_seconds", 0)
	v.SetDefault("pipeline.dry_run", false)
	v.SetDefault("selector.stale_after_hours", 24*30)
	v.SetDefault("selector.max_attempts", 0)
	v.SetDefault("selector.limit", 0)
	v.SetDefault("extractor.backend", BackendFirecrawl)
	v.SetDefault("extractor.map_limit", 5)
	v.SetDefault("extractor.max_pages", 5)
	v.SetDefault("extractor.max_retries", 3)
	v.SetDefault("extractor.backoff_initial_ms", 250)
	v.SetDefault("extractor.backoff_max_ms", 5000)
	v.SetDefault("extractor.call_timeout_seconds", 60)
	v.SetDefault("extractor.rate_per_host", 2.0)
	v.SetDefault("extractor.burst", 2)
	v.SetDefault("extractor.user_agent", "creator-outreach-sync/0.1")
	v.SetDefault("firecrawl.base_url", "https://api.firecrawl.dev")
	v.SetDefault("credentials.max_in_flight", 1)
	v.SetDefault("credentials.acquire_timeout_seconds", 120)
	v.SetDefault("storage.backend", "local")
	v.SetDefault("storage.local_dir", "data")
	v.SetDefault("storage.prefix", "runs")
	v.SetDefault("sync.chunk_size", 500)
	v.SetDefault("db.max_conns", 10)
	v.SetDefault("db.ping_attempts", 5)
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.max_size_mb", 5)
	v.SetDefault("logging.max_backups", 3)
	v.SetDefault("logging.max_age_days", 30)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Enabled && c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Pipeline.Concurrency <= 0 {
		return fmt.Errorf("pipeline.concurrency must be > 0")
	}
	if c.Pipeline.BatchSize <= 0 {
		return fmt.Errorf("pipeline.batch_size must be > 0")
	}
	if c.Pipeline.MaxItems < 0 || c.Pipeline.DeadlineSeconds < 0 {
		return fmt.Errorf("pipeline.max_items and pipeline.deadline_seconds must be >= 0")
	}
	switch c.Extractor.Backend {
	case BackendFirecrawl:
		if c.Firecrawl.BaseURL == "" {
			return fmt.Errorf("firecrawl.base_url must be set for the firecrawl backend")
		}
	case BackendDirect:
	default:
		return fmt.Errorf("extractor.backend must be %q or %q", BackendFirecrawl, BackendDirect)
	}
	if c.Extractor.MaxPages <= 0 {
		return fmt.Errorf("extractor.max_pages must be > 0")
	}
	if c.Extractor.CallTimeoutSeconds <= 0 {
		return fmt.Errorf("extractor.call_timeout_seconds must be > 0")
	}
	if c.Credentials.MaxInFlight <= 0 {
		return fmt.Errorf("credentials.max_in_flight must be > 0")
	}
	if c.Credentials.AcquireTimeoutSeconds <= 0 {
		return fmt.Errorf("credentials.acquire_timeout_seconds must be > 0")
	}
	if c.Sync.ChunkSize <= 0 {
		return fmt.Errorf("sync.chunk_size must be > 0")
	}
	switch c.Storage.Backend {
	case "memory", "local":
	case "gcs":
		if c.Storage.GCSBucket == "" {
			return fmt.Errorf("storage.gcs_bucket must be set for the gcs backend")
		}
	default:
		return fmt.Errorf("storage.backend must be one of memory, local, gcs")
	}
	return nil
}

// Deadline returns the run deadline, zero when unbounded.
func (c PipelineConfig) Deadline() time.Duration {
	return time.Duration(c.DeadlineSeconds) * time.Second
}

// StaleAfter returns the re-check window, zero when disabled.
func (c SelectorConfig) StaleAfter() time.Duration {
	return time.Duration(c.StaleAfterHours) * time.Hour
}

// CallTimeout bounds one extraction-service call.
func (c ExtractorConfig) CallTimeout() time.Duration {
	return time.Duration(c.CallTimeoutSeconds) * time.Second
}

// BackoffInitial is the first retry delay.
func (c ExtractorConfig) BackoffInitial() time.Duration {
	return time.Duration(c.BackoffInitialMs) * time.Millisecond
}

// BackoffMax caps retry delays.
func (c ExtractorConfig) BackoffMax() time.Duration {
	return time.Duration(c.BackoffMaxMs) * time.Millisecond
}

// AcquireTimeout bounds how long a worker waits for a free credential.
func (c CredentialsConfig) AcquireTimeout() time.Duration {
	return time.Duration(c.AcquireTimeoutSeconds) * time.Second
}
