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
	insertAuditCQL = `
        INSERT INTO audit_logs (bucket, timestamp, id, member_id, username, ip_hash, outcome, details)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?)`

	countAuditSinceCQL = `
        SELECT COUNT(*) FROM audit_logs
        WHERE bucket = ? AND timestamp >= ? AND outcome = ? ALLOW FILTERING`
)

// AuditRepository appends verification/moderation events. Rows are
// partitioned by a murmur3 time-agnostic bucket of the member ID and
// clustered by timestamp, matching the events table layout.
type AuditRepository struct {
	client  *ScyllaClient
	hasher  *hashing.Hasher
	buckets int
	logger  *zap.Logger
}

func NewAuditRepository(client *ScyllaClient, hasher *hashing.Hasher, eventBuckets int, logger *zap.Logger) *AuditRepository {
	return &AuditRepository{
		client:  client,
		hasher:  hasher,
		buckets: eventBuckets,
		logger:  logger,
	}
}

// Append writes one audit entry
func (r *AuditRepository) Append(ctx context.Context, entry *models.AuditLogEntry) error {
	entry.Bucket = r.hasher.Bucket(entry.MemberID, r.buckets)
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}

	err := r.client.Session.Query(insertAuditCQL,
		entry.Bucket, entry.Timestamp, entry.ID, entry.MemberID,
		entry.Username, entry.IPHash, entry.Outcome, entry.Details,
	).WithContext(ctx).Exec()
	if err != nil {
		util.Error("Failed to append audit log entry",
			zap.String("member_id", entry.MemberID),
			zap.String("outcome", entry.Outcome),
			zap.Error(err))
		return fmt.Errorf("failed to append audit log entry: %w", err)
	}
	return nil
}

// CountSince returns how many entries with the given outcome were recorded
// at or after the cutoff, summed across buckets.
func (r *AuditRepository) CountSince(ctx context.Context, outcome string, since time.Time) (int64, error) {
	var total int64
	for bucket := 0; bucket < r.buckets; bucket++ {
		var count int64
		err := r.client.Session.Query(countAuditSinceCQL, bucket, since, outcome).
			WithContext(ctx).Scan(&count)
		if err != nil {
			return 0, fmt.Errorf("failed to count audit entries in bucket %d: %w", bucket, err)
		}
		total += count
	}
	return total, nil
}
