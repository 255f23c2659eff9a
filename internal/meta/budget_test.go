package meta

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBudgetRefillsAfterWindow(t *testing.T) {
	current := time.Unix(1000, 0)
	b := newHourlyBudget(2)
	b.now = func() time.Time { return current }

	ctx := context.Background()
	require.NoError(t, b.Wait(ctx))
	require.NoError(t, b.Wait(ctx))

	remaining, resetAt := b.Snapshot()
	assert.Equal(t, 0, remaining)
	assert.Equal(t, current.Add(time.Hour), resetAt)

	// Past the window the budget refills without blocking
	current = current.Add(time.Hour + time.Second)
	require.NoError(t, b.Wait(ctx))

	remaining, _ = b.Snapshot()
	assert.Equal(t, 1, remaining)
}

func TestBudgetBlocksUntilReset(t *testing.T) {
	b := newHourlyBudget(1)

	ctx := context.Background()
	require.NoError(t, b.Wait(ctx))

	// Shrink the window so the test does not sleep for an hour
	b.mu.Lock()
	b.resetAt = time.Now().Add(30 * time.Millisecond)
	b.mu.Unlock()

	start := time.Now()
	require.NoError(t, b.Wait(ctx))
	assert.GreaterOrEqual(t, time.Since(start), 25*time.Millisecond)
}

func TestBudgetWaitHonorsContext(t *testing.T) {
	b := newHourlyBudget(1)
	require.NoError(t, b.Wait(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := b.Wait(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestBudgetRefreshFromUpstream(t *testing.T) {
	b := newHourlyBudget(200)
	require.NoError(t, b.Wait(context.Background()))

	resetAt := time.Now().Add(10 * time.Minute)
	b.Refresh(5, resetAt)

	remaining, gotReset := b.Snapshot()
	assert.Equal(t, 5, remaining)
	assert.Equal(t, resetAt, gotReset)
}
