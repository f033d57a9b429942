package client

import (
	"context"
	"fmt"
	"time"

	ch "github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"go.uber.org/zap"

	"gatekeeper-service/internal/config"
	"gatekeeper-service/internal/util"
)

// ClickHouseClient feeds verification analytics: one append-only row per
// verification attempt, aggregated behind the admin stats endpoint.
type ClickHouseClient struct {
	conn   driver.Conn
	config *config.ClickhouseConfig
}

func NewClickHouseClient(cfg *config.Config, logger *zap.Logger) (*ClickHouseClient, error) {
	chConfig := cfg.Clickhouse

	opts := &ch.Options{
		Addr: []string{chConfig.URL},
		Auth: ch.Auth{
			Username: chConfig.Username,
			Password: chConfig.Password,
			Database: chConfig.Database,
		},
		DialTimeout:      10 * time.Second,
		MaxOpenConns:     20,
		MaxIdleConns:     10,
		ConnMaxLifetime:  time.Hour,
		ConnOpenStrategy: ch.ConnOpenInOrder,
	}

	conn, err := ch.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open ClickHouse connection: %w", err)
	}

	util.Info("ClickHouse client initialized",
		zap.String("database", chConfig.Database))

	return &ClickHouseClient{
		conn:   conn,
		config: &chConfig,
	}, nil
}

func (c *ClickHouseClient) HealthCheck(ctx context.Context) error {
	if err := c.conn.Ping(ctx); err != nil {
		return fmt.Errorf("clickhouse ping failed: %w", err)
	}
	return nil
}

// RecordAttempt appends one verification attempt row
func (c *ClickHouseClient) RecordAttempt(ctx context.Context, memberID, ipHash, outcome string, at time.Time) error {
	err := c.conn.Exec(ctx, `
        INSERT INTO verification_attempts (member_id, ip_hash, outcome, attempted_at)
        VALUES (?, ?, ?, ?)`,
		memberID, ipHash, outcome, at)
	if err != nil {
		return fmt.Errorf("failed to record verification attempt: %w", err)
	}
	return nil
}

// CountOutcomeSince returns the number of attempts with an outcome at or
// after the cutoff.
func (c *ClickHouseClient) CountOutcomeSince(ctx context.Context, outcome string, since time.Time) (int64, error) {
	var count uint64
	row := c.conn.QueryRow(ctx, `
        SELECT count() FROM verification_attempts
        WHERE outcome = ? AND attempted_at >= ?`,
		outcome, since)
	if err := row.Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count verification attempts: %w", err)
	}
	return int64(count), nil
}

func (c *ClickHouseClient) Close() error {
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}
