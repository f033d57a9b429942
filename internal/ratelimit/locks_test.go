package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLockExpiresAfterDuration(t *testing.T) {
	clock := newFakeClock(0)
	locks := NewLockStore(nil, clock, 0)
	ctx := context.Background()

	require.NoError(t, locks.Lock(ctx, "identity-1", 300*time.Second))
	require.True(t, locks.IsLocked(ctx, "identity-1"))
	require.Equal(t, 300, locks.RemainingLockTime(ctx, "identity-1"))

	clock.Advance(150 * time.Second)
	require.True(t, locks.IsLocked(ctx, "identity-1"))
	require.Equal(t, 150, locks.RemainingLockTime(ctx, "identity-1"))

	clock.Advance(151 * time.Second)
	require.False(t, locks.IsLocked(ctx, "identity-1"))
	require.Equal(t, 0, locks.RemainingLockTime(ctx, "identity-1"))
}

func TestLockOverwriteExtends(t *testing.T) {
	clock := newFakeClock(0)
	locks := NewLockStore(nil, clock, 0)
	ctx := context.Background()

	require.NoError(t, locks.Lock(ctx, "identity-1", 60*time.Second))
	clock.Advance(30 * time.Second)

	// Re-locking restarts the countdown from now.
	require.NoError(t, locks.Lock(ctx, "identity-1", 60*time.Second))
	require.Equal(t, 60, locks.RemainingLockTime(ctx, "identity-1"))

	clock.Advance(45 * time.Second)
	require.True(t, locks.IsLocked(ctx, "identity-1"))
}

func TestUnlockClearsEarly(t *testing.T) {
	clock := newFakeClock(0)
	locks := NewLockStore(nil, clock, 0)
	ctx := context.Background()

	require.NoError(t, locks.Lock(ctx, "identity-1", 300*time.Second))
	locks.Unlock(ctx, "identity-1")
	require.False(t, locks.IsLocked(ctx, "identity-1"))
}

func TestLockInvalidArguments(t *testing.T) {
	locks := NewLockStore(nil, newFakeClock(0), 0)
	ctx := context.Background()

	require.ErrorIs(t, locks.Lock(ctx, "", time.Minute), ErrInvalidArgument)
	require.ErrorIs(t, locks.Lock(ctx, "identity-1", 0), ErrInvalidArgument)
	require.ErrorIs(t, locks.Lock(ctx, "identity-1", -time.Second), ErrInvalidArgument)
}

func TestLocksAreIndependent(t *testing.T) {
	clock := newFakeClock(0)
	locks := NewLockStore(nil, clock, 0)
	ctx := context.Background()

	require.NoError(t, locks.Lock(ctx, "identity-1", 300*time.Second))
	require.False(t, locks.IsLocked(ctx, "identity-2"))
	locks.Unlock(ctx, "identity-2")
	require.True(t, locks.IsLocked(ctx, "identity-1"))
}
