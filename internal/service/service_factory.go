package service

import (
	"gatekeeper-service/internal/client"
	"gatekeeper-service/internal/config"
	"gatekeeper-service/internal/hashing"
	"gatekeeper-service/internal/ratelimit"
	redisrepo "gatekeeper-service/internal/repository/redis"
)

// ServiceFactory creates and memoizes service instances
type ServiceFactory struct {
	cfg     *config.Config
	limiter *ratelimit.Limiter
	locks   *ratelimit.LockStore
	hasher  *hashing.Hasher

	members  MemberStore
	bans     BanStore
	audit    AuditStore
	warnings WarningStore
	checker  ReputationChecker

	cache      *redisrepo.GateCache
	events     EventPublisher
	clickhouse *client.ClickHouseClient
	auditIndex *client.ESClient

	verificationService *VerificationService
	moderationService   *ModerationService
}

func NewServiceFactory(
	cfg *config.Config,
	limiter *ratelimit.Limiter,
	locks *ratelimit.LockStore,
	hasher *hashing.Hasher,
	members MemberStore,
	bans BanStore,
	audit AuditStore,
	warnings WarningStore,
	checker ReputationChecker,
	cache *redisrepo.GateCache,
	events EventPublisher,
	clickhouseClient *client.ClickHouseClient,
	auditIndex *client.ESClient,
) *ServiceFactory {
	return &ServiceFactory{
		cfg:        cfg,
		limiter:    limiter,
		locks:      locks,
		hasher:     hasher,
		members:    members,
		bans:       bans,
		audit:      audit,
		warnings:   warnings,
		checker:    checker,
		cache:      cache,
		events:     events,
		clickhouse: clickhouseClient,
		auditIndex: auditIndex,
	}
}

// VerificationService returns the verification service (singleton)
func (f *ServiceFactory) VerificationService() *VerificationService {
	if f.verificationService == nil {
		f.verificationService = NewVerificationService(
			f.cfg, f.limiter, f.locks, f.hasher,
			f.members, f.bans, f.audit, f.checker,
			f.cache, f.events, f.clickhouse, f.auditIndex,
		)
	}
	return f.verificationService
}

// ModerationService returns the moderation service (singleton)
func (f *ServiceFactory) ModerationService() *ModerationService {
	if f.moderationService == nil {
		f.moderationService = NewModerationService(
			f.cfg, f.hasher, f.locks,
			f.members, f.bans, f.audit, f.warnings,
			f.cache, f.events, f.clickhouse, f.auditIndex,
		)
	}
	return f.moderationService
}
