package scylla

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"gatekeeper-service/internal/hashing"
	"gatekeeper-service/internal/models"
	"gatekeeper-service/internal/util"
)

const (
	insertWarningCQL = `
        INSERT INTO warnings (bucket, member_id, warned_at, id, moderator, reason)
        VALUES (?, ?, ?, ?, ?, ?)`

	listWarningsCQL = `
        SELECT bucket, member_id, warned_at, id, moderator, reason
        FROM warnings WHERE bucket = ? AND member_id = ?`

	countWarningsCQL = `
        SELECT COUNT(*) FROM warnings WHERE bucket = ? AND member_id = ?`
)

// WarningRepository persists moderator warnings per member. Rows share the
// members table's murmur3 bucketing and cluster by warned_at descending, so
// a member's recent warnings read as one partition slice.
type WarningRepository struct {
	client  *ScyllaClient
	hasher  *hashing.Hasher
	buckets int
	logger  *zap.Logger
}

func NewWarningRepository(client *ScyllaClient, hasher *hashing.Hasher, memberBuckets int, logger *zap.Logger) *WarningRepository {
	return &WarningRepository{
		client:  client,
		hasher:  hasher,
		buckets: memberBuckets,
		logger:  logger,
	}
}

// Add records one warning
func (r *WarningRepository) Add(ctx context.Context, w *models.Warning) error {
	w.Bucket = r.hasher.Bucket(w.MemberID, r.buckets)
	if w.WarnedAt.IsZero() {
		w.WarnedAt = time.Now().UTC()
	}

	err := r.client.Session.Query(insertWarningCQL,
		w.Bucket, w.MemberID, w.WarnedAt, w.ID, w.Moderator, w.Reason,
	).WithContext(ctx).Exec()
	if err != nil {
		util.Error("Failed to record warning",
			zap.String("member_id", w.MemberID),
			zap.Error(err))
		return fmt.Errorf("failed to record warning: %w", err)
	}

	util.Debug("Warning recorded", zap.String("member_id", w.MemberID))
	return nil
}

// ListForMember returns up to limit warnings for one member, newest first
func (r *WarningRepository) ListForMember(ctx context.Context, memberID string, limit int) ([]*models.Warning, error) {
	if limit <= 0 {
		limit = 100
	}

	bucket := r.hasher.Bucket(memberID, r.buckets)
	iter := r.client.Session.Query(listWarningsCQL, bucket, memberID).
		WithContext(ctx).PageSize(limit).Iter()

	var warnings []*models.Warning
	for len(warnings) < limit {
		w := &models.Warning{}
		if !iter.Scan(&w.Bucket, &w.MemberID, &w.WarnedAt, &w.ID, &w.Moderator, &w.Reason) {
			break
		}
		warnings = append(warnings, w)
	}
	if err := iter.Close(); err != nil {
		return nil, fmt.Errorf("failed to list warnings: %w", err)
	}
	return warnings, nil
}

// CountForMember returns how many warnings a member has accumulated
func (r *WarningRepository) CountForMember(ctx context.Context, memberID string) (int64, error) {
	bucket := r.hasher.Bucket(memberID, r.buckets)
	var count int64
	err := r.client.Session.Query(countWarningsCQL, bucket, memberID).
		WithContext(ctx).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count warnings: %w", err)
	}
	return count, nil
}
