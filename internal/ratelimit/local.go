package ratelimit

import (
	"context"
	"sync"

	"github.com/spaolacci/murmur3"
)

const localShardCount = 32

// localShard guards one slice of the key space
type localShard struct {
	mu      sync.Mutex
	windows map[Key][]int64
}

// LocalStore is the in-process sliding-window backend. The key space is
// sharded by murmur3 hash so unrelated identities never contend on one lock;
// a check is atomic within its shard.
type LocalStore struct {
	shards [localShardCount]*localShard
}

func NewLocalStore() *LocalStore {
	s := &LocalStore{}
	for i := range s.shards {
		s.shards[i] = &localShard{windows: make(map[Key][]int64)}
	}
	return s
}

func (s *LocalStore) shardFor(key Key) *localShard {
	sum := murmur3.Sum64([]byte(key.String()))
	return s.shards[sum%localShardCount]
}

func (s *LocalStore) take(_ context.Context, key Key, limit int, windowSeconds int, now int64) (takeResult, error) {
	shard := s.shardFor(key)
	shard.mu.Lock()
	defer shard.mu.Unlock()

	window := shard.windows[key]

	// Entries are appended in non-decreasing order, so pruning is FIFO from
	// the front.
	idx := 0
	for idx < len(window) && now-window[idx] >= int64(windowSeconds) {
		idx++
	}
	if idx > 0 {
		window = append(window[:0], window[idx:]...)
	}

	if len(window) >= limit {
		// Denied checks do not consume quota; only the prune is committed.
		oldest := now
		if len(window) > 0 {
			oldest = window[0]
		}
		shard.windows[key] = window
		return takeResult{allowed: false, count: len(window), oldest: oldest}, nil
	}

	window = append(window, now)
	shard.windows[key] = window
	return takeResult{allowed: true, count: len(window), oldest: window[0]}, nil
}

// Cleanup removes every window whose newest entry is older than the
// retention horizon. Per-check pruning only touches the key being checked,
// so identities seen once and never re-queried would otherwise accumulate
// forever.
func (s *LocalStore) Cleanup(retentionSeconds int64, now int64) int {
	removed := 0
	for _, shard := range s.shards {
		shard.mu.Lock()
		for key, window := range shard.windows {
			if len(window) == 0 || now-window[len(window)-1] >= retentionSeconds {
				delete(shard.windows, key)
				removed++
			}
		}
		shard.mu.Unlock()
	}
	return removed
}

// Len reports the number of tracked keys, for maintenance logging
func (s *LocalStore) Len() int {
	total := 0
	for _, shard := range s.shards {
		shard.mu.Lock()
		total += len(shard.windows)
		shard.mu.Unlock()
	}
	return total
}
