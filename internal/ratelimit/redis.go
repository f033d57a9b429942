package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"gatekeeper-service/internal/client"
)

// slidingWindowScript runs the prune+count+append step server-side so
// concurrent checks from multiple instances never interleave. Members carry a
// unique suffix: two admissions in the same second must count as two entries.
const slidingWindowScript = `
local key = KEYS[1]
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local limit = tonumber(ARGV[3])
local member = ARGV[4]

redis.call('ZREMRANGEBYSCORE', key, '-inf', now - window)

local count = redis.call('ZCARD', key)
local allowed = 0
if count < limit then
    redis.call('ZADD', key, now, member)
    redis.call('EXPIRE', key, window + 10)
    allowed = 1
    count = count + 1
end

local oldest = now
local first = redis.call('ZRANGE', key, 0, 0, 'WITHSCORES')
if first[2] then
    oldest = tonumber(first[2])
end

return {allowed, count, oldest}
`

// RedisStore coordinates the sliding window across instances through a
// sorted set per key. Every call is bounded by a short timeout; errors are
// surfaced so the limiter can fall back to its local store.
type RedisStore struct {
	client  *client.RedisClient
	timeout time.Duration
}

func NewRedisStore(redisClient *client.RedisClient, timeout time.Duration) *RedisStore {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &RedisStore{client: redisClient, timeout: timeout}
}

func (s *RedisStore) take(ctx context.Context, key Key, limit int, windowSeconds int, now int64) (takeResult, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	member := fmt.Sprintf("%d:%s", now, uuid.NewString())

	raw, err := s.client.Eval(ctx, slidingWindowScript, []string{key.String()},
		now, windowSeconds, limit, member)
	if err != nil {
		return takeResult{}, fmt.Errorf("sliding window script failed: %w", err)
	}

	values, ok := raw.([]interface{})
	if !ok || len(values) != 3 {
		return takeResult{}, fmt.Errorf("unexpected sliding window script result: %v", raw)
	}

	allowed, ok0 := values[0].(int64)
	count, ok1 := values[1].(int64)
	oldest, ok2 := values[2].(int64)
	if !ok0 || !ok1 || !ok2 {
		return takeResult{}, fmt.Errorf("unexpected sliding window script result types: %v", raw)
	}

	return takeResult{
		allowed: allowed == 1,
		count:   int(count),
		oldest:  oldest,
	}, nil
}
