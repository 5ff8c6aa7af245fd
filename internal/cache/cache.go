// Package cache holds the best known match per product with a freshness window.
package cache

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/realtime-price-matcher/internal/metrics"
	"github.com/JakeFAU/realtime-price-matcher/internal/pricing"
)

// Store is an optional durable backing for the cache. Save applies the same
// last-writer-wins rule as the in-memory cache and reports whether it stored the entry.
type Store interface {
	Load(ctx context.Context, productID string) (pricing.CacheEntry, bool, error)
	Save(ctx context.Context, entry pricing.CacheEntry, now time.Time) (bool, error)
}

// tombstone marks a purged slot; no entry is ever installed over it.
var tombstone = &pricing.CacheEntry{}

type slot struct {
	entry atomic.Pointer[pricing.CacheEntry]
}

// Cache is a per-product compare-and-swap cache. Writers to different products never contend.
type Cache struct {
	slots  sync.Map
	clock  pricing.Clock
	store  Store
	logger *zap.Logger
}

// Option customizes a Cache.
type Option func(*Cache)

// WithStore enables read-through and write-through against a durable store.
func WithStore(store Store) Option {
	return func(c *Cache) { c.store = store }
}

// WithLogger sets the logger used for durable store failures.
func WithLogger(logger *zap.Logger) Option {
	return func(c *Cache) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// New builds a cache on clk.
func New(clk pricing.Clock, opts ...Option) *Cache {
	c := &Cache{clock: clk, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Get returns the live result for productID. Expired entries are hidden but not evicted.
func (c *Cache) Get(ctx context.Context, productID string) (pricing.MatchResult, bool) {
	now := c.clock.Now()
	if entry, ok := c.load(productID); ok && entry.Live(now) {
		metrics.ObserveCacheLookup(true)
		return entry.Result, true
	}
	if c.store != nil {
		entry, ok, err := c.store.Load(ctx, productID)
		if err != nil {
			c.logger.Warn("cache store load failed", zap.String("product_id", productID), zap.Error(err))
		}
		if ok && entry.Live(now) {
			c.install(entry, now)
			metrics.ObserveCacheLookup(true)
			return entry.Result, true
		}
	}
	metrics.ObserveCacheLookup(false)
	return pricing.MatchResult{}, false
}

// Put offers result for productID with the given ttl. It reports whether the result was
// installed: an older result never replaces a newer live one.
func (c *Cache) Put(ctx context.Context, productID string, result pricing.MatchResult, ttl time.Duration) bool {
	if ttl <= 0 {
		return false
	}
	now := c.clock.Now()
	entry := pricing.CacheEntry{ProductID: productID, Result: result, ExpiresAt: now.Add(ttl)}
	if !c.install(entry, now) {
		return false
	}
	if c.store != nil {
		if _, err := c.store.Save(ctx, entry, now); err != nil {
			c.logger.Warn("cache store save failed", zap.String("product_id", productID), zap.Error(err))
		}
	}
	return true
}

// Purge evicts every entry expired at now and returns how many were removed.
func (c *Cache) Purge(now time.Time) int {
	removed := 0
	c.slots.Range(func(key, value any) bool {
		s := value.(*slot)
		cur := s.entry.Load()
		if cur == tombstone || (cur != nil && cur.Live(now)) {
			return true
		}
		if s.entry.CompareAndSwap(cur, tombstone) {
			c.slots.CompareAndDelete(key, s)
			if cur != nil {
				removed++
			}
		}
		return true
	})
	return removed
}

// Len reports the number of products with a stored entry, live or not.
func (c *Cache) Len() int {
	n := 0
	c.slots.Range(func(_, value any) bool {
		if e := value.(*slot).entry.Load(); e != nil && e != tombstone {
			n++
		}
		return true
	})
	return n
}

// RunJanitor purges expired entries every interval until ctx ends.
func (c *Cache) RunJanitor(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := c.Purge(c.clock.Now()); n > 0 {
				c.logger.Debug("cache purged", zap.Int("entries", n))
			}
		}
	}
}

func (c *Cache) load(productID string) (pricing.CacheEntry, bool) {
	v, ok := c.slots.Load(productID)
	if !ok {
		return pricing.CacheEntry{}, false
	}
	e := v.(*slot).entry.Load()
	if e == nil || e == tombstone {
		return pricing.CacheEntry{}, false
	}
	return *e, true
}

func (c *Cache) install(entry pricing.CacheEntry, now time.Time) bool {
	next := &entry
	for {
		v, _ := c.slots.LoadOrStore(entry.ProductID, &slot{})
		s := v.(*slot)
		for {
			cur := s.entry.Load()
			if cur == tombstone {
				c.slots.CompareAndDelete(entry.ProductID, s)
				break
			}
			if cur != nil && cur.Live(now) && !entry.Supersedes(*cur) {
				return false
			}
			if s.entry.CompareAndSwap(cur, next) {
				return true
			}
		}
	}
}
