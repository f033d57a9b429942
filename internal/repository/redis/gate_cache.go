package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"gatekeeper-service/internal/client"
	"gatekeeper-service/internal/models"
	"gatekeeper-service/internal/util"
)

const (
	banCachePrefix    = "ban:"
	memberCachePrefix = "member:"
)

// GateCache fronts the durable ban list and member store with short-TTL Redis
// entries. Values are plain JSON documents; nothing executable is ever read
// back from the cache.
type GateCache struct {
	client *client.RedisClient
}

func NewGateCache(redisClient *client.RedisClient) *GateCache {
	return &GateCache{client: redisClient}
}

type banCacheEntry struct {
	Banned bool `json:"banned"`
}

// SetBanStatus caches whether a hashed IP is banned
func (c *GateCache) SetBanStatus(ctx context.Context, ipHash string, banned bool, ttl time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	payload, err := json.Marshal(banCacheEntry{Banned: banned})
	if err != nil {
		return fmt.Errorf("failed to marshal ban cache entry: %w", err)
	}

	if err := c.client.Set(ctx, banCachePrefix+ipHash, payload, ttl); err != nil {
		util.Error("Failed to cache ban status",
			zap.String("ip_hash", ipHash),
			zap.Error(err))
		return fmt.Errorf("failed to cache ban status: %w", err)
	}
	return nil
}

// GetBanStatus returns (banned, found). A cache miss or decode failure is
// reported as not found so the caller falls through to the durable store.
func (c *GateCache) GetBanStatus(ctx context.Context, ipHash string) (bool, bool, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	raw, err := c.client.Get(ctx, banCachePrefix+ipHash)
	if err != nil {
		if client.IsNotFound(err) {
			return false, false, nil
		}
		return false, false, fmt.Errorf("failed to read ban cache: %w", err)
	}

	var entry banCacheEntry
	if err := json.Unmarshal([]byte(raw), &entry); err != nil {
		util.Warn("Discarding malformed ban cache entry",
			zap.String("ip_hash", ipHash),
			zap.Error(err))
		return false, false, nil
	}
	return entry.Banned, true, nil
}

// InvalidateBan drops a cached ban status after a ban or unban
func (c *GateCache) InvalidateBan(ctx context.Context, ipHash string) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return c.client.Del(ctx, banCachePrefix+ipHash)
}

// SetMember caches a member document
func (c *GateCache) SetMember(ctx context.Context, member *models.Member, ttl time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	payload, err := json.Marshal(member)
	if err != nil {
		return fmt.Errorf("failed to marshal member: %w", err)
	}
	if err := c.client.Set(ctx, memberCachePrefix+member.MemberID, payload, ttl); err != nil {
		return fmt.Errorf("failed to cache member: %w", err)
	}
	return nil
}

// GetMember returns a cached member or nil on miss
func (c *GateCache) GetMember(ctx context.Context, memberID string) (*models.Member, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	raw, err := c.client.Get(ctx, memberCachePrefix+memberID)
	if err != nil {
		if client.IsNotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read member cache: %w", err)
	}

	member := &models.Member{}
	if err := json.Unmarshal([]byte(raw), member); err != nil {
		util.Warn("Discarding malformed member cache entry",
			zap.String("member_id", memberID),
			zap.Error(err))
		return nil, nil
	}
	return member, nil
}
