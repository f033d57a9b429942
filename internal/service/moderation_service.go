package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"gatekeeper-service/internal/client"
	"gatekeeper-service/internal/config"
	"gatekeeper-service/internal/hashing"
	"gatekeeper-service/internal/models"
	"gatekeeper-service/internal/ratelimit"
	redisrepo "gatekeeper-service/internal/repository/redis"
	"gatekeeper-service/internal/util"
)

var ErrBanNotFound = errors.New("ban not found")

// LockInfo reports the state of one identity lock
type LockInfo struct {
	Locked           bool `json:"locked"`
	RemainingSeconds int  `json:"remaining_seconds"`
}

// ModerationService covers the operator surface: bans, identity locks,
// member listing, audit search, and statistics.
type ModerationService struct {
	cfg    *config.Config
	hasher *hashing.Hasher
	locks  *ratelimit.LockStore

	members  MemberStore
	bans     BanStore
	audit    AuditStore
	warnings WarningStore

	cache      *redisrepo.GateCache
	events     EventPublisher
	clickhouse *client.ClickHouseClient
	auditIndex *client.ESClient
}

func NewModerationService(
	cfg *config.Config,
	hasher *hashing.Hasher,
	locks *ratelimit.LockStore,
	members MemberStore,
	bans BanStore,
	audit AuditStore,
	warnings WarningStore,
	cache *redisrepo.GateCache,
	events EventPublisher,
	clickhouseClient *client.ClickHouseClient,
	auditIndex *client.ESClient,
) *ModerationService {
	return &ModerationService{
		cfg:        cfg,
		hasher:     hasher,
		locks:      locks,
		members:    members,
		bans:       bans,
		audit:      audit,
		warnings:   warnings,
		cache:      cache,
		events:     events,
		clickhouse: clickhouseClient,
		auditIndex: auditIndex,
	}
}

// BanIP bans a raw address by hash and invalidates any cached status
func (s *ModerationService) BanIP(ctx context.Context, ip, reason, bannedBy string) (*models.IPBan, error) {
	ip = util.SanitizeInput(ip)
	reason = util.SanitizeInput(reason)
	if ip == "" || reason == "" {
		return nil, fmt.Errorf("%w: address and reason are required", ErrInvalidInput)
	}

	ipHash := s.hasher.IdentityHash(ip)
	ban := &models.IPBan{
		IPHash:   ipHash,
		Reason:   reason,
		BannedBy: bannedBy,
	}
	if err := s.bans.Add(ctx, ban); err != nil {
		return nil, err
	}
	s.refreshBanCache(ctx, ipHash, true)

	s.publishEvent(ctx, models.EventIPBanned, "", ipHash, reason)
	s.appendAudit(ctx, "", bannedBy, ipHash, "ip_banned", reason)
	return ban, nil
}

// UnbanIP lifts an active ban. Accepts either a raw address or an already
// hashed one (operators copy hashes out of ban listings).
func (s *ModerationService) UnbanIP(ctx context.Context, ipOrHash, liftedBy string) error {
	ipOrHash = util.SanitizeInput(ipOrHash)
	if ipOrHash == "" {
		return fmt.Errorf("%w: address is required", ErrInvalidInput)
	}

	ipHash := ipOrHash
	if len(ipOrHash) != 64 {
		ipHash = s.hasher.IdentityHash(ipOrHash)
	}

	banned, err := s.bans.IsBanned(ctx, ipHash)
	if err != nil {
		return err
	}
	if !banned {
		return ErrBanNotFound
	}

	if err := s.bans.Lift(ctx, ipHash); err != nil {
		return err
	}
	s.refreshBanCache(ctx, ipHash, false)

	s.publishEvent(ctx, models.EventIPUnbanned, "", ipHash, "")
	s.appendAudit(ctx, "", liftedBy, ipHash, "ip_unbanned", "")
	return nil
}

// ListBans returns up to limit active bans
func (s *ModerationService) ListBans(ctx context.Context, limit int) ([]*models.IPBan, error) {
	return s.bans.ListActive(ctx, limit)
}

// ListVerified returns up to limit verified members
func (s *ModerationService) ListVerified(ctx context.Context, limit int) ([]*models.Member, error) {
	return s.members.ListVerified(ctx, limit)
}

// Warn records a durable warning against a member. Warnings never escalate
// to a ban on their own; the count is returned so operators can decide.
func (s *ModerationService) Warn(ctx context.Context, memberID, reason, moderator string) (*models.Warning, int64, error) {
	memberID = util.SanitizeInput(memberID)
	reason = util.SanitizeInput(reason)
	if memberID == "" || reason == "" {
		return nil, 0, fmt.Errorf("%w: member id and reason are required", ErrInvalidInput)
	}

	warning := &models.Warning{
		ID:        uuid.New(),
		MemberID:  memberID,
		Moderator: moderator,
		Reason:    reason,
		WarnedAt:  time.Now().UTC(),
	}
	if err := s.warnings.Add(ctx, warning); err != nil {
		return nil, 0, err
	}

	count, err := s.warnings.CountForMember(ctx, memberID)
	if err != nil {
		util.Warn("Failed to count warnings", zap.String("member_id", memberID), zap.Error(err))
		count = 0
	}

	s.publishEvent(ctx, models.EventWarned, memberID, "", reason)
	s.appendAudit(ctx, memberID, moderator, "", "member_warned", reason)

	util.Info("Member warned",
		zap.String("member_id", memberID),
		zap.String("moderator", moderator),
		zap.Int64("warning_count", count))
	return warning, count, nil
}

// ListWarnings returns up to limit warnings for one member, newest first
func (s *ModerationService) ListWarnings(ctx context.Context, memberID string, limit int) ([]*models.Warning, error) {
	memberID = util.SanitizeInput(memberID)
	if memberID == "" {
		return nil, fmt.Errorf("%w: member id is required", ErrInvalidInput)
	}
	return s.warnings.ListForMember(ctx, memberID, limit)
}

// LockIdentity sets a cooldown lock on a raw address
func (s *ModerationService) LockIdentity(ctx context.Context, ip string, duration time.Duration, lockedBy string) error {
	ip = util.SanitizeInput(ip)
	if ip == "" {
		return fmt.Errorf("%w: address is required", ErrInvalidInput)
	}
	if duration <= 0 {
		duration = s.cfg.RateLimit.LockDuration
	}

	ipHash := s.hasher.IdentityHash(ip)
	if err := s.locks.Lock(ctx, ipHash, duration); err != nil {
		return err
	}

	s.appendAudit(ctx, "", lockedBy, ipHash, "identity_locked", fmt.Sprintf("locked for %s", duration))
	return nil
}

// UnlockIdentity clears a lock ahead of expiry
func (s *ModerationService) UnlockIdentity(ctx context.Context, ip string) {
	s.locks.Unlock(ctx, s.hasher.IdentityHash(util.SanitizeInput(ip)))
}

// GetLockInfo reports whether an address is locked and for how long
func (s *ModerationService) GetLockInfo(ctx context.Context, ip string) LockInfo {
	ipHash := s.hasher.IdentityHash(util.SanitizeInput(ip))
	return LockInfo{
		Locked:           s.locks.IsLocked(ctx, ipHash),
		RemainingSeconds: s.locks.RemainingLockTime(ctx, ipHash),
	}
}

// SearchAudit queries the audit index. Without Elasticsearch configured the
// admin surface reports the feature unavailable.
func (s *ModerationService) SearchAudit(ctx context.Context, query string, size int) ([]*models.AuditLogEntry, error) {
	if s.auditIndex == nil {
		return nil, fmt.Errorf("audit search is not available: no index configured")
	}
	return s.auditIndex.SearchAuditEntries(ctx, query, size)
}

// Stats gathers the dashboard counters concurrently
func (s *ModerationService) Stats(ctx context.Context) (*models.Stats, error) {
	stats := &models.Stats{}
	midnight := time.Now().UTC().Truncate(24 * time.Hour)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		total, banned, err := s.members.Counts(gctx)
		if err != nil {
			return fmt.Errorf("member counts: %w", err)
		}
		stats.TotalMembers = total
		stats.BannedMembers = banned
		return nil
	})

	g.Go(func() error {
		active, err := s.bans.CountActive(gctx)
		if err != nil {
			return fmt.Errorf("active bans: %w", err)
		}
		stats.ActiveBans = active
		return nil
	})

	g.Go(func() error {
		// ClickHouse serves today's count when available; the audit table is
		// the fallback.
		if s.clickhouse != nil {
			count, err := s.clickhouse.CountOutcomeSince(gctx, models.OutcomeSuccess, midnight)
			if err == nil {
				stats.TodayVerifications = count
				return nil
			}
			util.Warn("ClickHouse stats query failed, falling back to audit store", zap.Error(err))
		}
		count, err := s.audit.CountSince(gctx, models.OutcomeSuccess, midnight)
		if err != nil {
			return fmt.Errorf("today's verifications: %w", err)
		}
		stats.TodayVerifications = count
		return nil
	})

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return stats, nil
}

func (s *ModerationService) refreshBanCache(ctx context.Context, ipHash string, banned bool) {
	if s.cache == nil {
		return
	}
	if err := s.cache.InvalidateBan(ctx, ipHash); err != nil {
		util.Warn("Failed to invalidate ban cache", zap.Error(err))
		return
	}
	if err := s.cache.SetBanStatus(ctx, ipHash, banned, banCacheTTL); err != nil {
		util.Warn("Failed to refresh ban cache", zap.Error(err))
	}
}

func (s *ModerationService) publishEvent(ctx context.Context, eventType, memberID, ipHash, detail string) {
	if s.events == nil {
		return
	}
	err := s.events.PublishEvent(ctx, &models.GateEvent{
		ID:        uuid.New(),
		Type:      eventType,
		MemberID:  memberID,
		IPHash:    ipHash,
		Detail:    detail,
		Timestamp: time.Now().UTC(),
	})
	if err != nil {
		util.Warn("Failed to publish moderation event",
			zap.String("type", eventType),
			zap.Error(err))
	}
}

func (s *ModerationService) appendAudit(ctx context.Context, memberID, actor, ipHash, outcome, details string) {
	entry := &models.AuditLogEntry{
		ID:        uuid.New(),
		MemberID:  memberID,
		Username:  actor,
		IPHash:    ipHash,
		Outcome:   outcome,
		Details:   details,
		Timestamp: time.Now().UTC(),
	}
	if err := s.audit.Append(ctx, entry); err != nil {
		util.Warn("Failed to append moderation audit entry", zap.Error(err))
	}
	if s.auditIndex != nil {
		if err := s.auditIndex.IndexAuditEntry(ctx, entry); err != nil {
			util.Warn("Failed to index moderation audit entry", zap.Error(err))
		}
	}
}
