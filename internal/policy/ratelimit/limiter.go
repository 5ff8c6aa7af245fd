// Package ratelimit implements token bucket request spacing per source.
package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/JakeFAU/realtime-price-matcher/internal/metrics"
	"golang.org/x/time/rate"
)

// Limiter manages per-source rate limits.
type Limiter struct {
	mu           sync.Mutex
	limiters     map[string]*rate.Limiter
	defaultRate  rate.Limit
	defaultBurst int
}

// Config holds rate limiter configuration.
type Config struct {
	DefaultRPS   float64
	DefaultBurst int
}

// New creates a new Limiter. A non-positive DefaultRPS disables limiting.
func New(cfg Config) *Limiter {
	return &Limiter{
		limiters:     make(map[string]*rate.Limiter),
		defaultRate:  limitOf(cfg.DefaultRPS),
		defaultBurst: burstOf(cfg.DefaultBurst),
	}
}

// Configure sets a dedicated rate for one source, replacing any existing bucket.
func (l *Limiter) Configure(source string, rps float64, burst int) {
	if rps <= 0 && burst <= 0 {
		return
	}
	r := l.defaultRate
	if rps > 0 {
		r = rate.Limit(rps)
	}
	b := l.defaultBurst
	if burst > 0 {
		b = burst
	}
	l.mu.Lock()
	l.limiters[source] = rate.NewLimiter(r, b)
	l.mu.Unlock()
}

// Wait blocks until a token is available for source, respecting the context.
func (l *Limiter) Wait(ctx context.Context, source string) error {
	limiter := l.bucket(source)

	start := time.Now()
	if err := limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}
	if duration := time.Since(start); duration > time.Millisecond {
		metrics.ObserveRateLimitDelay(source, duration)
	}
	return nil
}

func (l *Limiter) bucket(source string) *rate.Limiter {
	if source == "" {
		source = "unknown"
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	limiter, exists := l.limiters[source]
	if !exists {
		limiter = rate.NewLimiter(l.defaultRate, l.defaultBurst)
		l.limiters[source] = limiter
	}
	return limiter
}

func limitOf(rps float64) rate.Limit {
	if rps <= 0 {
		return rate.Inf
	}
	return rate.Limit(rps)
}

func burstOf(burst int) int {
	if burst <= 0 {
		return 1
	}
	return burst
}
