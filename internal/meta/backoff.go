package meta

import (
	"math/rand"
	"time"
)

// RetryPolicy defines exponential backoff parameters for catalog calls.
type RetryPolicy struct {
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
	// JitterFrac spreads delays by ±frac to desynchronize concurrent
	// callers hitting the same failing upstream.
	JitterFrac float64
}

// DefaultRetryPolicy mirrors the catalog API guidance: 5 attempts,
// 1s base doubling up to 60s, ±25% jitter.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries: 5,
		BaseDelay:  time.Second,
		MaxDelay:   time.Minute,
		JitterFrac: 0.25,
	}
}

// Delay returns the backoff for a given attempt (0-based), clamped to
// MaxDelay even after jitter.
func (p RetryPolicy) Delay(attempt int) time.Duration {
	base := p.BaseDelay
	if base <= 0 {
		base = time.Second
	}
	maxDelay := p.MaxDelay
	if maxDelay <= 0 {
		maxDelay = time.Minute
	}
	if attempt < 0 {
		attempt = 0
	}

	d := base
	for i := 0; i < attempt; i++ {
		d *= 2
		if d >= maxDelay {
			d = maxDelay
			break
		}
	}

	if p.JitterFrac > 0 {
		spread := float64(d) * p.JitterFrac
		d += time.Duration((rand.Float64()*2 - 1) * spread)
	}

	if d > maxDelay {
		d = maxDelay
	}
	if d < 0 {
		d = 0
	}
	return d
}
