// Package redis provides a Redis-backed durable store for cached match results.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/JakeFAU/realtime-price-matcher/internal/pricing"
)

// Config holds Redis connection configuration.
type Config struct {
	Addr      string
	Password  string
	DB        int
	KeyPrefix string
}

// saveScript installs the entry unless a newer one is already stored. Expired keys are gone,
// so an expired entry is always replaced. Completion times are compared in microseconds.
var saveScript = goredis.NewScript(`
local cur = redis.call('HMGET', KEYS[1], 'completed_us', 'job_id')
if cur[1] then
	local stored = tonumber(cur[1])
	local incoming = tonumber(ARGV[1])
	if stored > incoming or (stored == incoming and cur[2] > ARGV[2]) then
		return 0
	end
end
redis.call('HSET', KEYS[1], 'completed_us', ARGV[1], 'job_id', ARGV[2], 'entry', ARGV[3])
redis.call('PEXPIRE', KEYS[1], ARGV[4])
return 1
`)

// CacheStore keeps one hash per product with a key TTL equal to the entry TTL.
type CacheStore struct {
	client    goredis.UniversalClient
	keyPrefix string
}

// NewCacheStore connects to Redis and verifies the connection.
func NewCacheStore(ctx context.Context, cfg Config) (*CacheStore, error) {
	if cfg.Addr == "" {
		return nil, fmt.Errorf("storage.redis.addr is required")
	}
	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return NewCacheStoreWithClient(client, cfg.KeyPrefix), nil
}

// NewCacheStoreWithClient wraps an existing client.
func NewCacheStoreWithClient(client goredis.UniversalClient, keyPrefix string) *CacheStore {
	if keyPrefix == "" {
		keyPrefix = "matcher:cache:"
	}
	return &CacheStore{client: client, keyPrefix: keyPrefix}
}

// Load returns the stored entry for productID.
func (s *CacheStore) Load(ctx context.Context, productID string) (pricing.CacheEntry, bool, error) {
	raw, err := s.client.HGet(ctx, s.keyPrefix+productID, "entry").Bytes()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return pricing.CacheEntry{}, false, nil
		}
		return pricing.CacheEntry{}, false, fmt.Errorf("load cached result: %w", err)
	}
	var entry pricing.CacheEntry
	if err := json.Unmarshal(raw, &entry); err != nil {
		return pricing.CacheEntry{}, false, fmt.Errorf("decode cached result: %w", err)
	}
	return entry, true, nil
}

// Save runs the compare-and-set script. It reports whether the entry was stored.
func (s *CacheStore) Save(ctx context.Context, entry pricing.CacheEntry, now time.Time) (bool, error) {
	args, err := saveArgs(entry, now)
	if err != nil {
		return false, err
	}
	if args == nil {
		return false, nil
	}
	stored, err := saveScript.Run(ctx, s.client, []string{s.keyPrefix + entry.ProductID}, args...).Int()
	if err != nil {
		return false, fmt.Errorf("save cached result: %w", err)
	}
	return stored == 1, nil
}

// Ping checks connectivity for readiness probes.
func (s *CacheStore) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("ping redis: %w", err)
	}
	return nil
}

// Close closes the Redis client.
func (s *CacheStore) Close() error {
	return s.client.Close()
}

// saveArgs builds the script arguments. A nil slice means the entry is already expired.
func saveArgs(entry pricing.CacheEntry, now time.Time) ([]any, error) {
	ttl := entry.ExpiresAt.Sub(now)
	if ttl <= 0 {
		return nil, nil
	}
	payload, err := json.Marshal(entry)
	if err != nil {
		return nil, fmt.Errorf("marshal cache entry: %w", err)
	}
	return []any{
		entry.Result.CompletedAt.UnixMicro(),
		entry.Result.JobID,
		payload,
		max(ttl.Milliseconds(), 1),
	}, nil
}
