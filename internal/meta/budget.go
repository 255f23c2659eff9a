package meta

import (
	"context"
	"sync"
	"time"
)

// hourlyBudget is a rolling-hour call allowance. When the budget is spent
// before the window resets, Wait blocks the calling task until reset
// instead of letting a burst of calls bounce off the upstream limiter.
// State is instance-scoped: one shared Client per process accounts the
// budget globally.
type hourlyBudget struct {
	mu        sync.Mutex
	limit     int
	remaining int
	resetAt   time.Time
	now       func() time.Time
}

func newHourlyBudget(limit int) *hourlyBudget {
	return &hourlyBudget{
		limit:     limit,
		remaining: limit,
		now:       time.Now,
	}
}

// Wait consumes one call from the budget, sleeping until the window
// resets when the budget is exhausted. Honors ctx cancellation.
func (b *hourlyBudget) Wait(ctx context.Context) error {
	for {
		b.mu.Lock()
		now := b.now()

		if b.resetAt.IsZero() || !now.Before(b.resetAt) {
			b.remaining = b.limit
			b.resetAt = now.Add(time.Hour)
		}

		if b.remaining > 0 {
			b.remaining--
			b.mu.Unlock()
			return nil
		}

		wait := b.resetAt.Sub(now)
		b.mu.Unlock()

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// Refresh overrides budget state from response metadata when the upstream
// reports its own accounting.
func (b *hourlyBudget) Refresh(remaining int, resetAt time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if remaining >= 0 {
		b.remaining = remaining
	}
	if !resetAt.IsZero() {
		b.resetAt = resetAt
	}
}

// Snapshot returns current accounting for observability.
func (b *hourlyBudget) Snapshot() (remaining int, resetAt time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.remaining, b.resetAt
}
