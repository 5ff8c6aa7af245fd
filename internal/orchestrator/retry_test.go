package orchestrator

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/realtime-price-matcher/internal/pricing"
)

func TestRetryPolicyByKind(t *testing.T) {
	t.Parallel()

	p := NewRetryPolicy(2, 100*time.Millisecond, time.Second)

	tests := []struct {
		name    string
		kind    pricing.ErrorKind
		attempt int
		blocked int
		retry   bool
	}{
		{name: "parse never retries", kind: pricing.KindParse, attempt: 1, retry: false},
		{name: "blocked retries once", kind: pricing.KindBlocked, attempt: 1, retry: true},
		{name: "blocked stops after its retry", kind: pricing.KindBlocked, attempt: 2, blocked: 1, retry: false},
		{name: "blocked after a timeout still retries", kind: pricing.KindBlocked, attempt: 2, retry: true},
		{name: "timeout within limit", kind: pricing.KindTimeout, attempt: 2, retry: true},
		{name: "timeout past limit", kind: pricing.KindTimeout, attempt: 3, retry: false},
		{name: "network within limit", kind: pricing.KindNetwork, attempt: 1, retry: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, retry := p.Next(tt.kind, tt.attempt, tt.blocked)
			require.Equal(t, tt.retry, retry)
		})
	}
	require.Equal(t, 3, p.MaxAttempts())
}

func TestRetryPolicyBackoffBounds(t *testing.T) {
	t.Parallel()

	p := NewRetryPolicy(10, 100*time.Millisecond, time.Second)
	for attempt := 1; attempt <= 8; attempt++ {
		delay, ok := p.Next(pricing.KindNetwork, attempt, 0)
		require.True(t, ok)
		full := min(100*time.Millisecond<<(attempt-1), 5*time.Second)
		require.GreaterOrEqual(t, delay, full/2)
		require.LessOrEqual(t, delay, full)
	}

	for range 20 {
		delay, ok := p.Next(pricing.KindBlocked, 1, 0)
		require.True(t, ok)
		require.GreaterOrEqual(t, delay, time.Duration(0))
		require.Less(t, delay, time.Second)
	}
}

func TestRetryPolicyDefaults(t *testing.T) {
	t.Parallel()

	p := NewRetryPolicy(-1, 0, 0)
	require.Equal(t, 1, p.MaxAttempts())
	require.Equal(t, 250*time.Millisecond, p.baseDelay)
	require.Equal(t, 2*time.Second, p.blockedBackoff)
	_, ok := p.Next(pricing.KindTimeout, 1, 0)
	require.False(t, ok)
}
