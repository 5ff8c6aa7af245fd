// Package postgres provides Postgres-backed persistence implementations.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/realtime-price-matcher/internal/pricing"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// CacheStoreConfig controls the Postgres connection pool used for cached results.
type CacheStoreConfig struct {
	DSN             string
	Table           string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type pool interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	QueryRow(context.Context, string, ...any) pgx.Row
	Ping(context.Context) error
	Close()
}

// CacheStore keeps the newest match result per product. The upsert enforces last-writer-wins
// so concurrent service replicas converge on the same row.
//
// Expected schema:
//
//	CREATE TABLE price_cache (
//	    product_id   TEXT PRIMARY KEY,
//	    job_id       TEXT NOT NULL,
//	    completed_at TIMESTAMPTZ NOT NULL,
//	    expires_at   TIMESTAMPTZ NOT NULL,
//	    result       JSONB NOT NULL
//	);
type CacheStore struct {
	pool  pool
	table string
}

// NewCacheStore creates a Postgres-backed CacheStore using the provided config.
func NewCacheStore(ctx context.Context, cfg CacheStoreConfig) (*CacheStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("storage.postgres.dsn is required")
	}
	table, err := tableName(cfg.Table)
	if err != nil {
		return nil, err
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	p, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &CacheStore{pool: p, table: table}, nil
}

// NewCacheStoreWithPool constructs a store from an existing pool (primarily for testing).
func NewCacheStoreWithPool(p pool, table string) (*CacheStore, error) {
	if p == nil {
		return nil, fmt.Errorf("pool is required")
	}
	name, err := tableName(table)
	if err != nil {
		return nil, err
	}
	return &CacheStore{pool: p, table: name}, nil
}

func tableName(table string) (string, error) {
	if table == "" {
		table = "price_cache"
	}
	if !validTableName.MatchString(table) {
		return "", fmt.Errorf("invalid table name %q", table)
	}
	return table, nil
}

// Close releases the underlying pool resources.
func (s *CacheStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// Ping checks connectivity for readiness probes.
func (s *CacheStore) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return fmt.Errorf("ping postgres: %w", err)
	}
	return nil
}

// Load returns the stored entry for productID, live or not.
func (s *CacheStore) Load(ctx context.Context, productID string) (pricing.CacheEntry, bool, error) {
	query := fmt.Sprintf(`SELECT result, expires_at FROM %s WHERE product_id = $1`, s.table)

	var (
		raw     []byte
		expires time.Time
	)
	if err := s.pool.QueryRow(ctx, query, productID).Scan(&raw, &expires); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return pricing.CacheEntry{}, false, nil
		}
		return pricing.CacheEntry{}, false, fmt.Errorf("select cached result: %w", err)
	}
	var result pricing.MatchResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return pricing.CacheEntry{}, false, fmt.Errorf("decode cached result: %w", err)
	}
	return pricing.CacheEntry{ProductID: productID, Result: result, ExpiresAt: expires}, true, nil
}

// Save upserts entry unless the stored row is live and newer. It reports whether the row changed.
func (s *CacheStore) Save(ctx context.Context, entry pricing.CacheEntry, now time.Time) (bool, error) {
	payload, err := json.Marshal(entry.Result)
	if err != nil {
		return false, fmt.Errorf("marshal result: %w", err)
	}
	query := fmt.Sprintf(`
INSERT INTO %[1]s (product_id, job_id, completed_at, expires_at, result)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (product_id) DO UPDATE
SET job_id = EXCLUDED.job_id,
	completed_at = EXCLUDED.completed_at,
	expires_at = EXCLUDED.expires_at,
	result = EXCLUDED.result
WHERE %[1]s.expires_at <= $6
	OR %[1]s.completed_at < EXCLUDED.completed_at
	OR (%[1]s.completed_at = EXCLUDED.completed_at AND %[1]s.job_id <= EXCLUDED.job_id)`, s.table)

	tag, err := s.pool.Exec(ctx, query,
		entry.ProductID,
		entry.Result.JobID,
		entry.Result.CompletedAt,
		entry.ExpiresAt,
		payload,
		now,
	)
	if err != nil {
		return false, fmt.Errorf("upsert cached result: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}
