package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/realtime-price-matcher/internal/source"
)

const sourcesYAML = `
sources:
  - name: shop-a
    kind: html
    search_url: "https://shop-a.example/search?q={query}"
    currency: JPY
    locale: ja-JP
    rps: 2
    burst: 1
    selectors:
      items: ["li.item"]
      price: [".price"]
  - name: shop-b
    kind: json
    search_url: "https://shop-b.example/api?keyword={query}"
    currency: JPY
    json:
      root: ["Items"]
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadWithFileOverrides(t *testing.T) {
	t.Parallel()

	path := writeConfig(t, `
server:
  port: 9090
  wait_timeout_ms: 5000
auth:
  enabled: true
  api_key: secret
matcher:
  max_concurrency: 3
  adapter_timeout_ms: 2000
  job_deadline_ms: 8000
  retry_limit: 1
  match_threshold: 0.7
  cache_ttl_ms: 1000
  job_workers: 2
  queue_depth: 16
cache:
  backend: redis
  redis:
    addr: "localhost:6379"
storage:
  backend: local
  local_dir: /tmp/snapshots
logging:
  development: false
`+sourcesYAML)

	cfg, err := Load(path)
	require.NoError(t, err)

	require.Equal(t, 9090, cfg.Server.Port)
	require.True(t, cfg.Auth.Enabled)
	require.Equal(t, 3, cfg.Matcher.MaxConcurrency)
	require.Equal(t, 2*time.Second, cfg.AdapterTimeout())
	require.Equal(t, 8*time.Second, cfg.JobDeadline())
	require.Equal(t, time.Second, cfg.CacheTTL())
	require.Equal(t, 5*time.Second, cfg.WaitTimeout())
	require.InDelta(t, 0.7, cfg.Matcher.MatchThreshold, 1e-9)
	require.Equal(t, BackendRedis, cfg.Cache.Backend)
	require.Equal(t, "matcher:cache:", cfg.Cache.Redis.KeyPrefix)
	require.False(t, cfg.Logging.Development)

	require.Len(t, cfg.Sources, 2)
	a := cfg.Sources[0]
	require.Equal(t, source.KindHTML, a.Kind)
	require.Equal(t, "ja-JP", a.Locale)
	require.InDelta(t, 2.0, a.RPS, 1e-9)
	require.Equal(t, []string{"li.item"}, a.Selectors.Items)
	require.Equal(t, []string{"Items"}, cfg.Sources[1].JSON.Root)
}

func TestLoadDefaults(t *testing.T) {
	t.Parallel()

	cfg, err := Load(writeConfig(t, sourcesYAML))
	require.NoError(t, err)

	require.Equal(t, 8080, cfg.Server.Port)
	require.Equal(t, 8, cfg.Matcher.MaxConcurrency)
	require.Equal(t, 10*time.Second, cfg.AdapterTimeout())
	require.Equal(t, 30*time.Second, cfg.JobDeadline())
	require.Equal(t, 2, cfg.Matcher.RetryLimit)
	require.InDelta(t, 0.6, cfg.Matcher.MatchThreshold, 1e-9)
	require.Equal(t, BackendMemory, cfg.Cache.Backend)
	require.Equal(t, BackendMemory, cfg.Storage.Backend)
	require.True(t, cfg.Logging.Development)
}

func TestLoadMissingFile(t *testing.T) {
	t.Parallel()

	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.ErrorContains(t, err, "read config")
}

func validConfig() Config {
	return Config{
		Server: ServerConfig{Port: 8080},
		Matcher: MatcherConfig{
			MaxConcurrency:   8,
			AdapterTimeoutMs: 1000,
			JobDeadlineMs:    5000,
			RetryLimit:       2,
			MatchThreshold:   0.6,
			CacheTTLMs:       1000,
			JobWorkers:       1,
			QueueDepth:       1,
		},
		Sources: []source.Settings{{
			Name:      "shop-a",
			Kind:      source.KindHTML,
			SearchURL: "https://shop-a.example/search?q={query}",
			Currency:  "JPY",
		}},
		Cache:   CacheConfig{Backend: BackendMemory},
		Storage: StorageConfig{Backend: BackendMemory},
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		mutate func(*Config)
		errMsg string
	}{
		{name: "valid", mutate: func(*Config) {}},
		{name: "port", mutate: func(c *Config) { c.Server.Port = 0 }, errMsg: "server.port"},
		{name: "auth", mutate: func(c *Config) { c.Auth.Enabled = true }, errMsg: "auth.api_key"},
		{name: "concurrency", mutate: func(c *Config) { c.Matcher.MaxConcurrency = 0 }, errMsg: "max_concurrency"},
		{name: "threshold", mutate: func(c *Config) { c.Matcher.MatchThreshold = 1.5 }, errMsg: "match_threshold"},
		{name: "retry", mutate: func(c *Config) { c.Matcher.RetryLimit = -1 }, errMsg: "retry_limit"},
		{name: "no sources", mutate: func(c *Config) { c.Sources = nil }, errMsg: "at least one source"},
		{
			name:   "duplicate source",
			mutate: func(c *Config) { c.Sources = append(c.Sources, c.Sources[0]) },
			errMsg: "configured twice",
		},
		{
			name:   "browser without headless",
			mutate: func(c *Config) { c.Sources[0].Kind = source.KindBrowser },
			errMsg: "headless.enabled",
		},
		{
			name:   "bad search url",
			mutate: func(c *Config) { c.Sources[0].SearchURL = "https://shop-a.example/" },
			errMsg: "search_url",
		},
		{name: "postgres dsn", mutate: func(c *Config) { c.Cache.Backend = BackendPostgres }, errMsg: "cache.postgres.dsn"},
		{name: "redis addr", mutate: func(c *Config) { c.Cache.Backend = BackendRedis }, errMsg: "cache.redis.addr"},
		{name: "cache backend", mutate: func(c *Config) { c.Cache.Backend = "etcd" }, errMsg: "cache.backend"},
		{name: "gcs bucket", mutate: func(c *Config) { c.Storage.Backend = BackendGCS }, errMsg: "storage.gcs_bucket"},
		{name: "pubsub", mutate: func(c *Config) { c.PubSub.Enabled = true }, errMsg: "pubsub.project_id"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			cfg := validConfig()
			cfg.Sources = append([]source.Settings(nil), cfg.Sources...)
			tc.mutate(&cfg)
			err := cfg.Validate()
			if tc.errMsg == "" {
				require.NoError(t, err)
				return
			}
			require.ErrorContains(t, err, tc.errMsg)
		})
	}
}
