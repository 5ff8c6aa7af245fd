package orchestrator

import (
	"crypto/rand"
	"math"
	"math/big"
	"time"

	"github.com/JakeFAU/realtime-price-matcher/internal/pricing"
)

// RetryPolicy decides whether a failed adapter attempt is retried and how long to back off.
type RetryPolicy struct {
	limit          int
	baseDelay      time.Duration
	maxDelay       time.Duration
	blockedBackoff time.Duration
	jitter         func(limit time.Duration) time.Duration
}

// NewRetryPolicy builds a policy. Zero durations fall back to 250ms base, 5s cap, 2s blocked backoff.
func NewRetryPolicy(limit int, base, blocked time.Duration) *RetryPolicy {
	if limit < 0 {
		limit = 0
	}
	if base <= 0 {
		base = 250 * time.Millisecond
	}
	if blocked <= 0 {
		blocked = 2 * time.Second
	}
	return &RetryPolicy{
		limit:          limit,
		baseDelay:      base,
		maxDelay:       5 * time.Second,
		blockedBackoff: blocked,
		jitter:         randomJitter,
	}
}

// Next reports the delay before attempt+1 after attempt (1-based) failed with kind.
// blockedRetries is the number of Blocked retries already spent on the source: Blocked gets
// one retry whatever failed before it, timeouts and network errors get up to limit retries.
func (p *RetryPolicy) Next(kind pricing.ErrorKind, attempt, blockedRetries int) (time.Duration, bool) {
	switch kind {
	case pricing.KindParse:
		return 0, false
	case pricing.KindBlocked:
		if blockedRetries > 0 {
			return 0, false
		}
		return p.jitter(p.blockedBackoff), true
	default:
		if attempt > p.limit {
			return 0, false
		}
		return p.backoff(attempt), true
	}
}

// MaxAttempts is the attempt budget for transient failures.
func (p *RetryPolicy) MaxAttempts() int {
	return p.limit + 1
}

func (p *RetryPolicy) backoff(attempt int) time.Duration {
	delay := float64(p.baseDelay) * math.Pow(2, float64(attempt-1))
	if delay > float64(p.maxDelay) {
		delay = float64(p.maxDelay)
	}
	return time.Duration(delay/2) + p.jitter(time.Duration(delay)/2)
}

func randomJitter(limit time.Duration) time.Duration {
	if limit <= 0 {
		return 0
	}
	n, err := rand.Int(rand.Reader, big.NewInt(int64(limit)))
	if err != nil {
		return limit / 2
	}
	return time.Duration(n.Int64())
}
