package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"gatekeeper-service/internal/client"
	"gatekeeper-service/internal/config"
	"gatekeeper-service/internal/hashing"
	"gatekeeper-service/internal/ipcheck"
	"gatekeeper-service/internal/models"
	"gatekeeper-service/internal/ratelimit"
	redisrepo "gatekeeper-service/internal/repository/redis"
	"gatekeeper-service/internal/util"
)

var (
	ErrInvalidInput = errors.New("invalid input")
)

const (
	actionVerify = "verify-submit"

	banCacheTTL    = 5 * time.Minute
	memberCacheTTL = 5 * time.Minute
)

// MemberStore is the durable member storage surface the service needs
type MemberStore interface {
	Upsert(ctx context.Context, m *models.Member) error
	Get(ctx context.Context, memberID string) (*models.Member, error)
	SetBanned(ctx context.Context, memberID string, banned bool, reason string) error
	ListVerified(ctx context.Context, limit int) ([]*models.Member, error)
	Counts(ctx context.Context) (int64, int64, error)
}

// BanStore is the durable ban-list surface
type BanStore interface {
	Add(ctx context.Context, ban *models.IPBan) error
	IsBanned(ctx context.Context, ipHash string) (bool, error)
	Lift(ctx context.Context, ipHash string) error
	ListActive(ctx context.Context, limit int) ([]*models.IPBan, error)
	CountActive(ctx context.Context) (int64, error)
}

// AuditStore appends durable audit entries
type AuditStore interface {
	Append(ctx context.Context, entry *models.AuditLogEntry) error
	CountSince(ctx context.Context, outcome string, since time.Time) (int64, error)
}

// WarningStore is the durable warning-ledger surface
type WarningStore interface {
	Add(ctx context.Context, w *models.Warning) error
	ListForMember(ctx context.Context, memberID string, limit int) ([]*models.Warning, error)
	CountForMember(ctx context.Context, memberID string) (int64, error)
}

// ReputationChecker resolves VPN/proxy reputation for an address
type ReputationChecker interface {
	Check(ctx context.Context, ip string) ipcheck.Reputation
}

// EventPublisher emits gate events to the message bus
type EventPublisher interface {
	PublishEvent(ctx context.Context, event *models.GateEvent) error
}

// VerifyRequest is one verification attempt from the companion web flow
type VerifyRequest struct {
	MemberID  string `json:"member_id"`
	Username  string `json:"username"`
	IP        string `json:"-"`
	UserAgent string `json:"-"`
}

// VerifyResult reports the outcome of a verification attempt. Decision is
// populated for rate-limited outcomes so callers can relay retry timing.
type VerifyResult struct {
	Outcome    string             `json:"outcome"`
	Message    string             `json:"message"`
	MaskedIP   string             `json:"ip_masked,omitempty"`
	RetryAfter int                `json:"retry_after,omitempty"`
	Decision   ratelimit.Decision `json:"-"`
}

// VerificationService runs the gatekeeping flow: identity lock, rate limit,
// ban list, VPN reputation, then member admission. Kafka, ClickHouse, and the
// audit indexer are optional observers; their failures are logged, never
// surfaced to the user.
type VerificationService struct {
	cfg     *config.Config
	limiter *ratelimit.Limiter
	locks   *ratelimit.LockStore
	hasher  *hashing.Hasher

	members MemberStore
	bans    BanStore
	audit   AuditStore
	checker ReputationChecker

	cache      *redisrepo.GateCache
	events     EventPublisher
	clickhouse *client.ClickHouseClient
	auditIndex *client.ESClient

	denialMu sync.Mutex
	denials  map[string]int
}

func NewVerificationService(
	cfg *config.Config,
	limiter *ratelimit.Limiter,
	locks *ratelimit.LockStore,
	hasher *hashing.Hasher,
	members MemberStore,
	bans BanStore,
	audit AuditStore,
	checker ReputationChecker,
	cache *redisrepo.GateCache,
	events EventPublisher,
	clickhouseClient *client.ClickHouseClient,
	auditIndex *client.ESClient,
) *VerificationService {
	return &VerificationService{
		cfg:        cfg,
		limiter:    limiter,
		locks:      locks,
		hasher:     hasher,
		members:    members,
		bans:       bans,
		audit:      audit,
		checker:    checker,
		cache:      cache,
		events:     events,
		clickhouse: clickhouseClient,
		auditIndex: auditIndex,
		denials:    make(map[string]int),
	}
}

// Verify runs the full gatekeeping flow for one attempt
func (s *VerificationService) Verify(ctx context.Context, req *VerifyRequest) (*VerifyResult, error) {
	// Screen the raw values before sanitizing; escaping would hide the
	// characters the screen looks for.
	if util.ContainsSuspicious(req.MemberID) || util.ContainsSuspicious(req.Username) {
		return nil, fmt.Errorf("%w: suspicious characters in member id or username", ErrInvalidInput)
	}
	req.MemberID = util.SanitizeInput(req.MemberID)
	req.Username = util.SanitizeInput(req.Username)

	if req.MemberID == "" || req.Username == "" || req.IP == "" {
		return nil, fmt.Errorf("%w: member id, username, and client address are required", ErrInvalidInput)
	}

	ipHash := s.hasher.IdentityHash(req.IP)
	maskedIP := util.MaskIP(req.IP)

	// Coarse circuit breaker first: a locked identity is denied without
	// touching window quota.
	if s.locks.IsLocked(ctx, ipHash) {
		retryAfter := s.locks.RemainingLockTime(ctx, ipHash)
		s.observe(ctx, req, ipHash, models.OutcomeLocked, "identity temporarily locked")
		return &VerifyResult{
			Outcome:    models.OutcomeLocked,
			Message:    fmt.Sprintf("Too many attempts. Try again in %d seconds.", retryAfter),
			RetryAfter: retryAfter,
		}, nil
	}

	decision, err := s.limiter.Check(ctx, ipHash, actionVerify,
		s.cfg.RateLimit.VerifyLimit, s.cfg.RateLimit.VerifyWindow)
	if err != nil {
		return nil, err
	}
	if !decision.Allowed {
		s.recordDenial(ctx, ipHash)
		s.observe(ctx, req, ipHash, models.OutcomeRateLimited, "verification rate limit exceeded")
		return &VerifyResult{
			Outcome:    models.OutcomeRateLimited,
			Message:    fmt.Sprintf("Rate limit exceeded. Try again in %d seconds.", decision.RetryAfter),
			RetryAfter: decision.RetryAfter,
			Decision:   decision,
		}, nil
	}
	s.resetDenials(ipHash)

	banned, err := s.isIPBanned(ctx, ipHash)
	if err != nil {
		return nil, fmt.Errorf("ban check failed: %w", err)
	}
	if banned {
		s.observe(ctx, req, ipHash, models.OutcomeBanned, "attempt from banned address")
		return &VerifyResult{
			Outcome:  models.OutcomeBanned,
			Message:  "Access denied. Your address is banned from this community.",
			MaskedIP: maskedIP,
		}, nil
	}

	reputation := s.checker.Check(ctx, req.IP)
	if reputation.IsVPN {
		if err := s.banVPNAddress(ctx, req, ipHash); err != nil {
			util.Error("Failed to ban VPN address", zap.Error(err))
		}
		s.observe(ctx, req, ipHash, models.OutcomeVPN, "VPN or proxy detected, address banned")
		return &VerifyResult{
			Outcome:  models.OutcomeVPN,
			Message:  "VPN or proxy detected. Your address has been banned.",
			MaskedIP: maskedIP,
		}, nil
	}

	now := time.Now().UTC()
	member := &models.Member{
		MemberID:   req.MemberID,
		Username:   req.Username,
		IPHash:     ipHash,
		UserAgent:  req.UserAgent,
		IsVPN:      false,
		VerifiedAt: now,
		LastSeen:   now,
	}
	if err := s.members.Upsert(ctx, member); err != nil {
		return nil, fmt.Errorf("failed to store verified member: %w", err)
	}
	if s.cache != nil {
		if err := s.cache.SetMember(ctx, member, memberCacheTTL); err != nil {
			util.Warn("Failed to cache member", zap.Error(err))
		}
	}

	s.observe(ctx, req, ipHash, models.OutcomeSuccess, "verification passed")
	s.publish(ctx, &models.GateEvent{
		ID:        uuid.New(),
		Type:      models.EventVerified,
		MemberID:  req.MemberID,
		IPHash:    ipHash,
		Timestamp: now,
	})

	util.Info("Member verified",
		zap.String("member_id", req.MemberID),
		zap.String("ip_masked", maskedIP))

	return &VerifyResult{
		Outcome:  models.OutcomeSuccess,
		Message:  "Verification successful. You can now access the community.",
		MaskedIP: maskedIP,
	}, nil
}

// GetMember serves cached member lookups for the admin surface
func (s *VerificationService) GetMember(ctx context.Context, memberID string) (*models.Member, error) {
	if s.cache != nil {
		if member, err := s.cache.GetMember(ctx, memberID); err == nil && member != nil {
			return member, nil
		}
	}

	member, err := s.members.Get(ctx, memberID)
	if err != nil {
		return nil, err
	}
	if s.cache != nil {
		if err := s.cache.SetMember(ctx, member, memberCacheTTL); err != nil {
			util.Warn("Failed to cache member", zap.Error(err))
		}
	}
	return member, nil
}

func (s *VerificationService) isIPBanned(ctx context.Context, ipHash string) (bool, error) {
	if s.cache != nil {
		if banned, found, err := s.cache.GetBanStatus(ctx, ipHash); err == nil && found {
			return banned, nil
		}
	}

	banned, err := s.bans.IsBanned(ctx, ipHash)
	if err != nil {
		return false, err
	}
	if s.cache != nil {
		if err := s.cache.SetBanStatus(ctx, ipHash, banned, banCacheTTL); err != nil {
			util.Warn("Failed to cache ban status", zap.Error(err))
		}
	}
	return banned, nil
}

func (s *VerificationService) banVPNAddress(ctx context.Context, req *VerifyRequest, ipHash string) error {
	ban := &models.IPBan{
		IPHash:   ipHash,
		MemberID: req.MemberID,
		Username: req.Username,
		Reason:   "VPN/Proxy detected",
		BannedBy: "system",
	}
	if err := s.bans.Add(ctx, ban); err != nil {
		return err
	}
	if s.cache != nil {
		if err := s.cache.SetBanStatus(ctx, ipHash, true, banCacheTTL); err != nil {
			util.Warn("Failed to cache ban status", zap.Error(err))
		}
	}
	s.publish(ctx, &models.GateEvent{
		ID:        uuid.New(),
		Type:      models.EventVPNBanned,
		MemberID:  req.MemberID,
		IPHash:    ipHash,
		Detail:    "VPN/Proxy detected",
		Timestamp: time.Now().UTC(),
	})
	return nil
}

// recordDenial applies the lock policy: repeated consecutive denials lock
// the identity outright for the configured cooldown.
func (s *VerificationService) recordDenial(ctx context.Context, ipHash string) {
	threshold := s.cfg.RateLimit.LockAfterDenials
	if threshold <= 0 {
		return
	}

	s.denialMu.Lock()
	s.denials[ipHash]++
	count := s.denials[ipHash]
	if count >= threshold {
		delete(s.denials, ipHash)
	}
	s.denialMu.Unlock()

	if count >= threshold {
		if err := s.locks.Lock(ctx, ipHash, s.cfg.RateLimit.LockDuration); err != nil {
			util.Error("Failed to lock identity", zap.Error(err))
			return
		}
		util.Warn("Identity locked after repeated denials",
			zap.Int("denials", count),
			zap.Duration("duration", s.cfg.RateLimit.LockDuration))
		s.publish(ctx, &models.GateEvent{
			ID:        uuid.New(),
			Type:      models.EventLocked,
			IPHash:    ipHash,
			Detail:    fmt.Sprintf("locked after %d consecutive denials", count),
			Timestamp: time.Now().UTC(),
		})
	}
}

func (s *VerificationService) resetDenials(ipHash string) {
	s.denialMu.Lock()
	delete(s.denials, ipHash)
	s.denialMu.Unlock()
}

// observe fans the attempt out to the audit log, the search index, and the
// analytics store. All best-effort.
func (s *VerificationService) observe(ctx context.Context, req *VerifyRequest, ipHash, outcome, details string) {
	entry := &models.AuditLogEntry{
		ID:        uuid.New(),
		MemberID:  req.MemberID,
		Username:  req.Username,
		IPHash:    ipHash,
		Outcome:   outcome,
		Details:   details,
		Timestamp: time.Now().UTC(),
	}

	if err := s.audit.Append(ctx, entry); err != nil {
		util.Warn("Failed to append audit entry", zap.Error(err))
	}
	if s.auditIndex != nil {
		if err := s.auditIndex.IndexAuditEntry(ctx, entry); err != nil {
			util.Warn("Failed to index audit entry", zap.Error(err))
		}
	}
	if s.clickhouse != nil {
		if err := s.clickhouse.RecordAttempt(ctx, req.MemberID, ipHash, outcome, entry.Timestamp); err != nil {
			util.Warn("Failed to record verification attempt", zap.Error(err))
		}
	}
}

func (s *VerificationService) publish(ctx context.Context, event *models.GateEvent) {
	if s.events == nil {
		return
	}
	if err := s.events.PublishEvent(ctx, event); err != nil {
		util.Warn("Failed to publish gate event",
			zap.String("type", event.Type),
			zap.Error(err))
	}
}
