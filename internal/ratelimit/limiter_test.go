package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// fakeClock is a manually advanced clock so window rotation can be tested
// without sleeping.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock(start int64) *fakeClock {
	return &fakeClock{now: time.Unix(start, 0)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// failingStore simulates a shared backend outage on every call.
type failingStore struct {
	calls int
}

func (s *failingStore) take(context.Context, Key, int, int, int64) (takeResult, error) {
	s.calls++
	return takeResult{}, errors.New("connection refused")
}

func TestCheckAdmitsUpToLimit(t *testing.T) {
	clock := newFakeClock(1000)
	limiter := NewLimiter(nil, clock)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		d, err := limiter.Check(ctx, "user-1", "verify", 3, 60)
		require.NoError(t, err)
		require.True(t, d.Allowed, "admission %d should be allowed", i+1)
		require.Equal(t, 3, d.Limit)
		require.Equal(t, 2-i, d.Remaining)
		require.Equal(t, 0, d.RetryAfter)
	}

	d, err := limiter.Check(ctx, "user-1", "verify", 3, 60)
	require.NoError(t, err)
	require.False(t, d.Allowed)
	require.Equal(t, 0, d.Remaining)
	require.Equal(t, 60, d.RetryAfter)
}

// The documented walkthrough: limit 3 per 60s, checks at t=0, 1, 2, 3, 61.
func TestCheckWindowRotation(t *testing.T) {
	clock := newFakeClock(0)
	limiter := NewLimiter(nil, clock)
	ctx := context.Background()

	check := func() Decision {
		d, err := limiter.Check(ctx, "ip-hash", "verify", 3, 60)
		require.NoError(t, err)
		return d
	}

	require.True(t, check().Allowed) // t=0, remaining 2
	clock.Advance(time.Second)
	require.True(t, check().Allowed) // t=1
	clock.Advance(time.Second)
	d := check() // t=2
	require.True(t, d.Allowed)
	require.Equal(t, 0, d.Remaining)

	clock.Advance(time.Second)
	d = check() // t=3, oldest entry is t=0, expires at t=60
	require.False(t, d.Allowed)
	require.Equal(t, 57, d.RetryAfter)
	require.Equal(t, int64(60), d.ResetAt)

	clock.Advance(58 * time.Second)
	d = check() // t=61, the t=0 and t=1 entries aged out; t=2 survives
	require.True(t, d.Allowed)
	require.Equal(t, 1, d.Remaining)
}

// Denied checks must not extend the penalty: hammering a full window does
// not push recovery further out.
func TestDeniedChecksConsumeNoQuota(t *testing.T) {
	clock := newFakeClock(0)
	limiter := NewLimiter(nil, clock)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		d, err := limiter.Check(ctx, "abuser", "verify", 3, 60)
		require.NoError(t, err)
		require.True(t, d.Allowed)
	}

	// 50 denied checks spread over the next 30 seconds.
	for i := 0; i < 50; i++ {
		d, err := limiter.Check(ctx, "abuser", "verify", 3, 60)
		require.NoError(t, err)
		require.False(t, d.Allowed)
		if i%2 == 0 {
			clock.Advance(time.Second)
		}
	}

	// The oldest admitted entry was at t=0, so by t=61 the identity has
	// fully recovered regardless of the denied traffic.
	clock.Advance(40 * time.Second)
	d, err := limiter.Check(ctx, "abuser", "verify", 3, 60)
	require.NoError(t, err)
	require.True(t, d.Allowed)
	require.Equal(t, 2, d.Remaining)
}

func TestCheckNonPositiveLimitAlwaysDenies(t *testing.T) {
	clock := newFakeClock(500)
	limiter := NewLimiter(nil, clock)

	for _, limit := range []int{0, -1} {
		d, err := limiter.Check(context.Background(), "anyone", "verify", limit, 60)
		require.NoError(t, err)
		require.False(t, d.Allowed)
		require.Equal(t, 0, d.Remaining)
		// Nothing was ever admitted, so the caller is told to retry after
		// a full window rather than immediately.
		require.Equal(t, 60, d.RetryAfter)
	}
}

func TestCheckIndependentKeys(t *testing.T) {
	clock := newFakeClock(0)
	limiter := NewLimiter(nil, clock)
	ctx := context.Background()

	d, err := limiter.Check(ctx, "user-1", "verify", 1, 60)
	require.NoError(t, err)
	require.True(t, d.Allowed)

	d, err = limiter.Check(ctx, "user-1", "verify", 1, 60)
	require.NoError(t, err)
	require.False(t, d.Allowed)

	// Same identity, different action: a fresh window.
	d, err = limiter.Check(ctx, "user-1", "admin", 1, 60)
	require.NoError(t, err)
	require.True(t, d.Allowed)

	// Same action, different identity.
	d, err = limiter.Check(ctx, "user-2", "verify", 1, 60)
	require.NoError(t, err)
	require.True(t, d.Allowed)
}

func TestCheckInvalidArguments(t *testing.T) {
	limiter := NewLimiter(nil, newFakeClock(0))
	ctx := context.Background()

	cases := []struct {
		name     string
		identity string
		action   string
		limit    int
		window   int
	}{
		{"empty identity", "", "verify", 3, 60},
		{"empty action", "id", "", 3, 60},
		{"zero window", "id", "verify", 3, 0},
		{"negative window", "id", "verify", 3, -10},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := limiter.Check(ctx, tc.identity, tc.action, tc.limit, tc.window)
			require.ErrorIs(t, err, ErrInvalidArgument)
		})
	}
}

// A shared-store outage degrades to local counting without surfacing an
// error, and the shared store keeps being offered every call.
func TestCheckFallsBackWhenSharedStoreFails(t *testing.T) {
	clock := newFakeClock(0)
	shared := &failingStore{}
	limiter := NewLimiter(shared, clock)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		d, err := limiter.Check(ctx, "user-1", "verify", 2, 60)
		require.NoError(t, err)
		require.True(t, d.Allowed)
	}

	d, err := limiter.Check(ctx, "user-1", "verify", 2, 60)
	require.NoError(t, err)
	require.False(t, d.Allowed)

	require.Equal(t, 3, shared.calls)
}

func TestCheckConcurrentAdmissionCeiling(t *testing.T) {
	clock := newFakeClock(0)
	limiter := NewLimiter(nil, clock)
	ctx := context.Background()

	const workers = 64
	const limit = 10

	var wg sync.WaitGroup
	allowed := make(chan struct{}, workers)
	errs := make(chan error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			d, err := limiter.Check(ctx, "hot-key", "verify", limit, 60)
			if err != nil {
				errs <- err
				return
			}
			if d.Allowed {
				allowed <- struct{}{}
			}
		}()
	}
	wg.Wait()
	close(allowed)
	close(errs)

	for err := range errs {
		require.NoError(t, err)
	}
	require.Len(t, allowed, limit)
}

func TestCleanupRemovesIdleWindows(t *testing.T) {
	clock := newFakeClock(0)
	limiter := NewLimiter(nil, clock)
	ctx := context.Background()

	for i := 0; i < 100; i++ {
		_, err := limiter.Check(ctx, fmt.Sprintf("visitor-%d", i), "verify", 5, 60)
		require.NoError(t, err)
	}
	require.Equal(t, 100, limiter.TrackedKeys())

	clock.Advance(30 * time.Minute)
	_, err := limiter.Check(ctx, "visitor-0", "verify", 5, 60)
	require.NoError(t, err)

	removed := limiter.Cleanup(3600)
	require.Equal(t, 0, removed, "nothing is past the one hour horizon yet")

	clock.Advance(31 * time.Minute)
	removed = limiter.Cleanup(3600)
	require.Equal(t, 99, removed, "only the refreshed visitor survives")
	require.Equal(t, 1, limiter.TrackedKeys())
}

func TestLocalStoreSameSecondAdmissions(t *testing.T) {
	store := NewLocalStore()
	ctx := context.Background()
	key := Key{Identity: "burst", Action: "verify"}

	// Three checks in the same second all count distinctly.
	for i := 0; i < 3; i++ {
		res, err := store.take(ctx, key, 3, 60, 100)
		require.NoError(t, err)
		require.True(t, res.allowed)
		require.Equal(t, i+1, res.count)
	}
	res, err := store.take(ctx, key, 3, 60, 100)
	require.NoError(t, err)
	require.False(t, res.allowed)
	require.Equal(t, int64(100), res.oldest)
}

func TestLocalStorePruneIsExactBoundary(t *testing.T) {
	store := NewLocalStore()
	ctx := context.Background()
	key := Key{Identity: "edge", Action: "verify"}

	res, err := store.take(ctx, key, 1, 60, 0)
	require.NoError(t, err)
	require.True(t, res.allowed)

	// At now=59 the entry from t=0 is still inside the window.
	res, err = store.take(ctx, key, 1, 60, 59)
	require.NoError(t, err)
	require.False(t, res.allowed)

	// At now=60 the age equals the window and the entry is pruned.
	res, err = store.take(ctx, key, 1, 60, 60)
	require.NoError(t, err)
	require.True(t, res.allowed)
}

func TestKeyString(t *testing.T) {
	k := Key{Identity: "abc123", Action: "verify"}
	require.Equal(t, "rl:verify:abc123", k.String())
}
