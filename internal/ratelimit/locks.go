package ratelimit

import (
	"context"
	"sync"
	"time"

	"gatekeeper-service/internal/client"
	"gatekeeper-service/internal/util"
)

const lockKeyPrefix = "gk_lock:"

// LockStore is the coarse per-identity circuit breaker layered above the
// sliding window: while a lock is live every action for that identity is
// denied outright, without consuming window quota. Deciding when to lock
// (after repeated abuse, by operator action) is the caller's policy; this
// only provides the primitive.
//
// Locks live in-process and, when Redis is available, are mirrored there so
// sibling instances observe them. The mirror is best-effort: a Redis failure
// degrades to local-only behavior and is logged, never surfaced.
type LockStore struct {
	mu      sync.Mutex
	expiry  map[string]int64
	clock   Clock
	redis   *client.RedisClient
	timeout time.Duration
}

func NewLockStore(redisClient *client.RedisClient, clock Clock, timeout time.Duration) *LockStore {
	if clock == nil {
		clock = SystemClock
	}
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &LockStore{
		expiry:  make(map[string]int64),
		clock:   clock,
		redis:   redisClient,
		timeout: timeout,
	}
}

// Lock sets (or overwrites) the identity's lock to expire after duration
func (s *LockStore) Lock(ctx context.Context, identity string, duration time.Duration) error {
	if identity == "" || validateDuration(duration) != nil {
		return ErrInvalidArgument
	}

	now := s.clock.Now()

	s.mu.Lock()
	s.expiry[identity] = now.Add(duration).Unix()
	s.mu.Unlock()

	if s.redis != nil {
		rctx, cancel := context.WithTimeout(ctx, s.timeout)
		defer cancel()
		if err := s.redis.Set(rctx, lockKeyPrefix+identity, "locked", duration); err != nil {
			util.Warn("Failed to mirror identity lock to Redis",
				util.ErrorField(err))
		}
	}
	return nil
}

// Unlock clears a lock ahead of its expiry
func (s *LockStore) Unlock(ctx context.Context, identity string) {
	s.mu.Lock()
	delete(s.expiry, identity)
	s.mu.Unlock()

	if s.redis != nil {
		rctx, cancel := context.WithTimeout(ctx, s.timeout)
		defer cancel()
		if err := s.redis.Del(rctx, lockKeyPrefix+identity); err != nil {
			util.Warn("Failed to clear identity lock in Redis",
				util.ErrorField(err))
		}
	}
}

// IsLocked reports whether a live lock exists. Expired local entries are
// deleted lazily on read.
func (s *LockStore) IsLocked(ctx context.Context, identity string) bool {
	now := s.clock.Now().Unix()

	s.mu.Lock()
	if until, ok := s.expiry[identity]; ok {
		if now < until {
			s.mu.Unlock()
			return true
		}
		delete(s.expiry, identity)
	}
	s.mu.Unlock()

	// A sibling instance may have set the lock.
	if s.redis != nil {
		rctx, cancel := context.WithTimeout(ctx, s.timeout)
		defer cancel()
		exists, err := s.redis.Exists(rctx, lockKeyPrefix+identity)
		if err == nil && exists {
			return true
		}
	}
	return false
}

// RemainingLockTime returns whole seconds until the lock expires, zero when
// no live lock exists.
func (s *LockStore) RemainingLockTime(ctx context.Context, identity string) int {
	now := s.clock.Now().Unix()

	s.mu.Lock()
	until, ok := s.expiry[identity]
	s.mu.Unlock()

	if ok && until > now {
		return int(until - now)
	}

	if s.redis != nil {
		rctx, cancel := context.WithTimeout(ctx, s.timeout)
		defer cancel()
		ttl, err := s.redis.TTL(rctx, lockKeyPrefix+identity)
		if err == nil && ttl > 0 {
			return int(ttl.Seconds())
		}
	}
	return 0
}
