package ratelimit

import (
	"context"

	"gatekeeper-service/internal/util"
)

// Limiter is the admission-check entry point. It prefers the shared store
// when one is configured so multiple instances observe a combined count, and
// degrades to the in-process store for the duration of any shared-store
// outage. The shared store is retried on every call, so a transient failure
// self-heals without intervention.
type Limiter struct {
	local  *LocalStore
	shared Store
	clock  Clock
}

// NewLimiter builds a limiter around an optional shared store. Pass a nil
// shared store to run purely in-process.
func NewLimiter(shared Store, clock Clock) *Limiter {
	if clock == nil {
		clock = SystemClock
	}
	return &Limiter{
		local:  NewLocalStore(),
		shared: shared,
		clock:  clock,
	}
}

// Check decides whether one more request for (identity, action) is admitted
// under limit requests per windowSeconds. A denied check consumes no quota.
// Shared-store failures never surface here; the only error returned is
// ErrInvalidArgument for a caller contract violation.
func (l *Limiter) Check(ctx context.Context, identity, action string, limit, windowSeconds int) (Decision, error) {
	if err := validateCheck(identity, action, limit, windowSeconds); err != nil {
		return Decision{}, err
	}

	now := l.clock.Now().Unix()
	key := Key{Identity: identity, Action: action}

	if l.shared != nil {
		res, err := l.shared.take(ctx, key, limit, windowSeconds, now)
		if err == nil {
			return decisionFrom(res, limit, windowSeconds, now), nil
		}
		util.Warn("Shared rate limit store unavailable, falling back to local store",
			util.String("action", action),
			util.ErrorField(err))
	}

	res, _ := l.local.take(ctx, key, limit, windowSeconds, now)
	return decisionFrom(res, limit, windowSeconds, now), nil
}

// Cleanup drops local windows idle past the retention horizon and returns
// how many were removed. The shared store expires its own keys via TTL.
func (l *Limiter) Cleanup(retentionSeconds int64) int {
	return l.local.Cleanup(retentionSeconds, l.clock.Now().Unix())
}

// TrackedKeys reports the local store size, for maintenance logging
func (l *Limiter) TrackedKeys() int {
	return l.local.Len()
}
