package scylla

import (
	"context"
	"fmt"

	"github.com/gocql/gocql"
	"go.uber.org/zap"

	"gatekeeper-service/internal/hashing"
	"gatekeeper-service/internal/models"
	"gatekeeper-service/internal/util"
)

const (
	upsertMemberCQL = `
        INSERT INTO members (
            bucket, member_id, username, ip_hash, user_agent,
            is_vpn, is_banned, ban_reason, role_granted, verified_at, last_seen
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	getMemberCQL = `
        SELECT bucket, member_id, username, ip_hash, user_agent,
               is_vpn, is_banned, ban_reason, role_granted, verified_at, last_seen
        FROM members WHERE bucket = ? AND member_id = ?`

	listMembersCQL = `
        SELECT bucket, member_id, username, ip_hash, user_agent,
               is_vpn, is_banned, ban_reason, role_granted, verified_at, last_seen
        FROM members`

	setMemberBanCQL = `
        UPDATE members SET is_banned = ?, ban_reason = ?
        WHERE bucket = ? AND member_id = ?`

	countMembersCQL       = `SELECT COUNT(*) FROM members`
	countBannedMembersCQL = `SELECT COUNT(*) FROM members WHERE is_banned = true ALLOW FILTERING`
)

// MemberRepository persists verified members. The partition key is a murmur3
// bucket of the member ID so wide communities spread across the cluster.
type MemberRepository struct {
	client *ScyllaClient
	hasher *hashing.Hasher
	bucket int
	logger *zap.Logger
}

func NewMemberRepository(client *ScyllaClient, hasher *hashing.Hasher, memberBuckets int, logger *zap.Logger) *MemberRepository {
	return &MemberRepository{
		client: client,
		hasher: hasher,
		bucket: memberBuckets,
		logger: logger,
	}
}

func (r *MemberRepository) bucketFor(memberID string) int {
	return r.hasher.Bucket(memberID, r.bucket)
}

// Upsert writes the member row, overwriting any prior verification
func (r *MemberRepository) Upsert(ctx context.Context, m *models.Member) error {
	m.Bucket = r.bucketFor(m.MemberID)

	err := r.client.Session.Query(upsertMemberCQL,
		m.Bucket, m.MemberID, m.Username, m.IPHash, m.UserAgent,
		m.IsVPN, m.IsBanned, m.BanReason, m.RoleGranted, m.VerifiedAt, m.LastSeen,
	).WithContext(ctx).Exec()
	if err != nil {
		util.Error("Failed to upsert member",
			zap.String("member_id", m.MemberID),
			zap.Error(err))
		return fmt.Errorf("failed to upsert member: %w", err)
	}

	util.Debug("Member upserted", zap.String("member_id", m.MemberID))
	return nil
}

// Get fetches one member; returns gocql.ErrNotFound when absent
func (r *MemberRepository) Get(ctx context.Context, memberID string) (*models.Member, error) {
	m := &models.Member{}
	err := r.client.Session.Query(getMemberCQL, r.bucketFor(memberID), memberID).
		WithContext(ctx).
		Scan(&m.Bucket, &m.MemberID, &m.Username, &m.IPHash, &m.UserAgent,
			&m.IsVPN, &m.IsBanned, &m.BanReason, &m.RoleGranted, &m.VerifiedAt, &m.LastSeen)
	if err != nil {
		if err == gocql.ErrNotFound {
			return nil, err
		}
		return nil, fmt.Errorf("failed to get member: %w", err)
	}
	return m, nil
}

// SetBanned flips the ban flag on a member row
func (r *MemberRepository) SetBanned(ctx context.Context, memberID string, banned bool, reason string) error {
	err := r.client.Session.Query(setMemberBanCQL, banned, reason, r.bucketFor(memberID), memberID).
		WithContext(ctx).Exec()
	if err != nil {
		return fmt.Errorf("failed to update member ban state: %w", err)
	}
	return nil
}

// ListVerified returns up to limit non-banned members
func (r *MemberRepository) ListVerified(ctx context.Context, limit int) ([]*models.Member, error) {
	if limit <= 0 {
		limit = 100
	}

	iter := r.client.Session.Query(listMembersCQL).WithContext(ctx).PageSize(limit).Iter()

	var members []*models.Member
	for len(members) < limit {
		m := &models.Member{}
		if !iter.Scan(&m.Bucket, &m.MemberID, &m.Username, &m.IPHash, &m.UserAgent,
			&m.IsVPN, &m.IsBanned, &m.BanReason, &m.RoleGranted, &m.VerifiedAt, &m.LastSeen) {
			break
		}
		if m.IsBanned {
			continue
		}
		members = append(members, m)
	}
	if err := iter.Close(); err != nil {
		return nil, fmt.Errorf("failed to list members: %w", err)
	}
	return members, nil
}

// Counts returns (total, banned) member counts
func (r *MemberRepository) Counts(ctx context.Context) (int64, int64, error) {
	var total, banned int64
	if err := r.client.Session.Query(countMembersCQL).WithContext(ctx).Scan(&total); err != nil {
		return 0, 0, fmt.Errorf("failed to count members: %w", err)
	}
	if err := r.client.Session.Query(countBannedMembersCQL).WithContext(ctx).Scan(&banned); err != nil {
		return 0, 0, fmt.Errorf("failed to count banned members: %w", err)
	}
	return total, banned, nil
}
