package scylla

import (
	"context"
	"fmt"
	"time"

	"github.com/gocql/gocql"
	"go.uber.org/zap"

	"gatekeeper-service/internal/models"
	"gatekeeper-service/internal/util"
)

const (
	upsertBanCQL = `
        INSERT INTO banned_ips (ip_hash, member_id, username, reason, banned_by, banned_at, active)
        VALUES (?, ?, ?, ?, ?, ?, ?)`

	getBanCQL = `
        SELECT ip_hash, member_id, username, reason, banned_by, banned_at, active
        FROM banned_ips WHERE ip_hash = ?`

	liftBanCQL = `UPDATE banned_ips SET active = false WHERE ip_hash = ?`

	listBansCQL = `
        SELECT ip_hash, member_id, username, reason, banned_by, banned_at, active
        FROM banned_ips`

	countActiveBansCQL = `SELECT COUNT(*) FROM banned_ips WHERE active = true ALLOW FILTERING`
)

// BanRepository persists the banned-IP list, keyed by hashed address
type BanRepository struct {
	client *ScyllaClient
	logger *zap.Logger
}

func NewBanRepository(client *ScyllaClient, logger *zap.Logger) *BanRepository {
	return &BanRepository{client: client, logger: logger}
}

// Add records (or re-activates) a ban
func (r *BanRepository) Add(ctx context.Context, ban *models.IPBan) error {
	if ban.BannedAt.IsZero() {
		ban.BannedAt = time.Now().UTC()
	}
	ban.Active = true

	err := r.client.Session.Query(upsertBanCQL,
		ban.IPHash, ban.MemberID, ban.Username, ban.Reason, ban.BannedBy, ban.BannedAt, ban.Active,
	).WithContext(ctx).Exec()
	if err != nil {
		util.Error("Failed to record IP ban",
			zap.String("ip_hash", ban.IPHash),
			zap.Error(err))
		return fmt.Errorf("failed to record IP ban: %w", err)
	}

	util.Info("IP ban recorded",
		zap.String("ip_hash", ban.IPHash),
		zap.String("banned_by", ban.BannedBy),
		zap.String("reason", ban.Reason))
	return nil
}

// IsBanned reports whether an active ban exists for the hashed address
func (r *BanRepository) IsBanned(ctx context.Context, ipHash string) (bool, error) {
	ban, err := r.Get(ctx, ipHash)
	if err != nil {
		if err == gocql.ErrNotFound {
			return false, nil
		}
		return false, err
	}
	return ban.Active, nil
}

// Get fetches one ban row; returns gocql.ErrNotFound when absent
func (r *BanRepository) Get(ctx context.Context, ipHash string) (*models.IPBan, error) {
	ban := &models.IPBan{}
	err := r.client.Session.Query(getBanCQL, ipHash).WithContext(ctx).
		Scan(&ban.IPHash, &ban.MemberID, &ban.Username, &ban.Reason, &ban.BannedBy, &ban.BannedAt, &ban.Active)
	if err != nil {
		if err == gocql.ErrNotFound {
			return nil, err
		}
		return nil, fmt.Errorf("failed to get IP ban: %w", err)
	}
	return ban, nil
}

// Lift deactivates a ban without deleting its history
func (r *BanRepository) Lift(ctx context.Context, ipHash string) error {
	if err := r.client.Session.Query(liftBanCQL, ipHash).WithContext(ctx).Exec(); err != nil {
		return fmt.Errorf("failed to lift IP ban: %w", err)
	}
	util.Info("IP ban lifted", zap.String("ip_hash", ipHash))
	return nil
}

// ListActive returns up to limit active bans
func (r *BanRepository) ListActive(ctx context.Context, limit int) ([]*models.IPBan, error) {
	if limit <= 0 {
		limit = 100
	}

	iter := r.client.Session.Query(listBansCQL).WithContext(ctx).PageSize(limit).Iter()

	var bans []*models.IPBan
	for len(bans) < limit {
		ban := &models.IPBan{}
		if !iter.Scan(&ban.IPHash, &ban.MemberID, &ban.Username, &ban.Reason, &ban.BannedBy, &ban.BannedAt, &ban.Active) {
			break
		}
		if !ban.Active {
			continue
		}
		bans = append(bans, ban)
	}
	if err := iter.Close(); err != nil {
		return nil, fmt.Errorf("failed to list IP bans: %w", err)
	}
	return bans, nil
}

// CountActive returns the number of active bans
func (r *BanRepository) CountActive(ctx context.Context) (int64, error) {
	var count int64
	if err := r.client.Session.Query(countActiveBansCQL).WithContext(ctx).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count IP bans: %w", err)
	}
	return count, nil
}
