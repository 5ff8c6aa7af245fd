// Package config loads and validates matcher configuration via Viper.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/JakeFAU/realtime-price-matcher/internal/source"
)

// Cache backends.
const (
	BackendMemory   = "memory"
	BackendPostgres = "postgres"
	BackendRedis    = "redis"
	BackendLocal    = "local"
	BackendGCS      = "gcs"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server   ServerConfig      `mapstructure:"server"`
	Auth     AuthConfig        `mapstructure:"auth"`
	Matcher  MatcherConfig     `mapstructure:"matcher"`
	Sources  []source.Settings `mapstructure:"sources"`
	Headless HeadlessConfig    `mapstructure:"headless"`
	Cache    CacheConfig       `mapstructure:"cache"`
	Storage  StorageConfig     `mapstructure:"storage"`
	PubSub   PubSubConfig      `mapstructure:"pubsub"`
	Logging  LoggingConfig     `mapstructure:"logging"`
	Tracing  TracingConfig     `mapstructure:"tracing"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port int `mapstructure:"port"`
	// WaitTimeoutMs caps how long GET /v1/matches/{id}/wait blocks.
	WaitTimeoutMs int `mapstructure:"wait_timeout_ms"`
}

// AuthConfig defines API authentication toggles.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// MatcherConfig governs the scrape pipeline and result cache.
type MatcherConfig struct {
	MaxConcurrency       int     `mapstructure:"max_concurrency"`
	AdapterTimeoutMs     int     `mapstructure:"adapter_timeout_ms"`
	JobDeadlineMs        int     `mapstructure:"job_deadline_ms"`
	RetryLimit           int     `mapstructure:"retry_limit"`
	RetryBackoffMs       int     `mapstructure:"retry_backoff_ms"`
	BlockedBackoffMs     int     `mapstructure:"blocked_backoff_ms"`
	MatchThreshold       float64 `mapstructure:"match_threshold"`
	PlausibilityFraction float64 `mapstructure:"plausibility_fraction"`
	ImplausiblePenalty   float64 `mapstructure:"implausible_penalty"`
	CacheTTLMs           int     `mapstructure:"cache_ttl_ms"`
	JobWorkers           int     `mapstructure:"job_workers"`
	QueueDepth           int     `mapstructure:"queue_depth"`
	UserAgent            string  `mapstructure:"user_agent"`
}

// HeadlessConfig configures the headless browser used by browser sources.
type HeadlessConfig struct {
	Enabled        bool `mapstructure:"enabled"`
	MaxParallel    int  `mapstructure:"max_parallel"`
	NavTimeoutMs   int  `mapstructure:"nav_timeout_ms"`
	SelectorWaitMs int  `mapstructure:"selector_wait_ms"`
}

// CacheConfig selects the durable store behind the in-process result cache.
type CacheConfig struct {
	Backend           string         `mapstructure:"backend"`
	JanitorIntervalMs int            `mapstructure:"janitor_interval_ms"`
	Postgres          PostgresConfig `mapstructure:"postgres"`
	Redis             RedisConfig    `mapstructure:"redis"`
}

// PostgresConfig controls the Postgres cache store.
type PostgresConfig struct {
	DSN      string `mapstructure:"dsn"`
	Table    string `mapstructure:"table"`
	MaxConns int32  `mapstructure:"max_conns"`
}

// RedisConfig controls the Redis cache store.
type RedisConfig struct {
	Addr      string `mapstructure:"addr"`
	Password  string `mapstructure:"password"`
	DB        int    `mapstructure:"db"`
	KeyPrefix string `mapstructure:"key_prefix"`
}

// StorageConfig selects where debug snapshots are written.
type StorageConfig struct {
	Backend   string `mapstructure:"backend"`
	LocalDir  string `mapstructure:"local_dir"`
	GCSBucket string `mapstructure:"gcs_bucket"`
	Prefix    string `mapstructure:"prefix"`
}

// PubSubConfig holds metadata for match-completed notifications.
type PubSubConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// TracingConfig controls the OpenTelemetry tracer provider.
type TracingConfig struct {
	Enabled     bool    `mapstructure:"enabled"`
	ServiceName string  `mapstructure:"service_name"`
	SampleRatio float64 `mapstructure:"sample_ratio"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("MATCHER")
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
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.wait_timeout_ms", 30000)
	v.SetDefault("matcher.max_concurrency", 8)
	v.SetDefault("matcher.adapter_timeout_ms", 10000)
	v.SetDefault("matcher.job_deadline_ms", 30000)
	v.SetDefault("matcher.retry_limit", 2)
	v.SetDefault("matcher.retry_backoff_ms", 250)
	v.SetDefault("matcher.blocked_backoff_ms", 2000)
	v.SetDefault("matcher.match_threshold", 0.6)
	v.SetDefault("matcher.plausibility_fraction", 0.3)
	v.SetDefault("matcher.implausible_penalty", 0.5)
	v.SetDefault("matcher.cache_ttl_ms", 600000)
	v.SetDefault("matcher.job_workers", 4)
	v.SetDefault("matcher.queue_depth", 64)
	v.SetDefault("matcher.user_agent", "price-matcher/0.1")
	v.SetDefault("headless.enabled", false)
	v.SetDefault("headless.max_parallel", 2)
	v.SetDefault("headless.nav_timeout_ms", 25000)
	v.SetDefault("headless.selector_wait_ms", 5000)
	v.SetDefault("cache.backend", BackendMemory)
	v.SetDefault("cache.janitor_interval_ms", 60000)
	v.SetDefault("cache.postgres.table", "price_cache")
	v.SetDefault("cache.postgres.max_conns", 4)
	v.SetDefault("cache.redis.key_prefix", "matcher:cache:")
	v.SetDefault("storage.backend", BackendMemory)
	v.SetDefault("storage.prefix", "snapshots")
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "info")
	v.SetDefault("tracing.service_name", "price-matcher")
	v.SetDefault("tracing.sample_ratio", 1.0)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	m := c.Matcher
	if m.MaxConcurrency <= 0 {
		return fmt.Errorf("matcher.max_concurrency must be > 0")
	}
	if m.AdapterTimeoutMs <= 0 || m.JobDeadlineMs <= 0 {
		return fmt.Errorf("matcher.adapter_timeout_ms and matcher.job_deadline_ms must be > 0")
	}
	if m.RetryLimit < 0 {
		return fmt.Errorf("matcher.retry_limit must be >= 0")
	}
	if m.MatchThreshold <= 0 || m.MatchThreshold > 1 {
		return fmt.Errorf("matcher.match_threshold must be in (0, 1]")
	}
	if m.CacheTTLMs <= 0 {
		return fmt.Errorf("matcher.cache_ttl_ms must be > 0")
	}
	if m.JobWorkers <= 0 || m.QueueDepth <= 0 {
		return fmt.Errorf("matcher.job_workers and matcher.queue_depth must be > 0")
	}
	if len(c.Sources) == 0 {
		return fmt.Errorf("at least one source must be configured")
	}
	seen := make(map[string]struct{}, len(c.Sources))
	var errs []error
	for _, s := range c.Sources {
		if err := s.Validate(); err != nil {
			errs = append(errs, err)
			continue
		}
		if _, dup := seen[s.Name]; dup {
			errs = append(errs, fmt.Errorf("source %q configured twice", s.Name))
		}
		seen[s.Name] = struct{}{}
		if s.Kind == source.KindBrowser && !c.Headless.Enabled {
			errs = append(errs, fmt.Errorf("source %q needs headless.enabled", s.Name))
		}
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("sources: %w", err)
	}
	if c.Headless.Enabled && c.Headless.MaxParallel <= 0 {
		return fmt.Errorf("headless.max_parallel must be > 0 when headless is enabled")
	}
	switch c.Cache.Backend {
	case BackendMemory:
	case BackendPostgres:
		if c.Cache.Postgres.DSN == "" {
			return fmt.Errorf("cache.postgres.dsn is required for the postgres backend")
		}
	case BackendRedis:
		if c.Cache.Redis.Addr == "" {
			return fmt.Errorf("cache.redis.addr is required for the redis backend")
		}
	default:
		return fmt.Errorf("unknown cache.backend %q", c.Cache.Backend)
	}
	switch c.Storage.Backend {
	case BackendMemory:
	case BackendLocal:
		if c.Storage.LocalDir == "" {
			return fmt.Errorf("storage.local_dir is required for the local backend")
		}
	case BackendGCS:
		if c.Storage.GCSBucket == "" {
			return fmt.Errorf("storage.gcs_bucket is required for the gcs backend")
		}
	default:
		return fmt.Errorf("unknown storage.backend %q", c.Storage.Backend)
	}
	if c.PubSub.Enabled && (c.PubSub.ProjectID == "" || c.PubSub.TopicName == "") {
		return fmt.Errorf("pubsub.project_id and pubsub.topic_name are required when pubsub is enabled")
	}
	return nil
}

// AdapterTimeout is the per-call bound on one adapter fetch.
func (c Config) AdapterTimeout() time.Duration {
	return millis(c.Matcher.AdapterTimeoutMs)
}

// JobDeadline is the overall bound on one match job.
func (c Config) JobDeadline() time.Duration {
	return millis(c.Matcher.JobDeadlineMs)
}

// CacheTTL is how long a completed result stays fresh.
func (c Config) CacheTTL() time.Duration {
	return millis(c.Matcher.CacheTTLMs)
}

// WaitTimeout caps a blocking result request.
func (c Config) WaitTimeout() time.Duration {
	return millis(c.Server.WaitTimeoutMs)
}

func millis(ms int) time.Duration {
	return time.Duration(ms) * time.Millisecond
}
