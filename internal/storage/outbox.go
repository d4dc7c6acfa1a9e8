package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/abduss/storage-emulator/internal/config"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const (
	outboxConnectTimeout = 5 * time.Second
	outboxIdleTime       = 5 * time.Minute
	outboxAppName        = "storage-emulator-outbox"
	outboxTableQuery     = `SELECT to_regclass('storage_events') IS NOT NULL`
)

// NewOutboxPool opens the small connection pool the event outbox writes
// through. Its sessions show up as storage-emulator-outbox in pg_stat_activity.
func NewOutboxPool(ctx context.Context, cfg config.PostgresConfig) (*pgxpool.Pool, error) {
	poolCfg, err := outboxPoolConfig(cfg)
	if err != nil {
		return nil, err
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("create outbox pool: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, outboxConnectTimeout)
	defer cancel()

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping outbox database: %w", err)
	}
	return pool, nil
}

func outboxPoolConfig(cfg config.PostgresConfig) (*pgxpool.Config, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("parse outbox dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = int32(cfg.MaxConns)
	}
	poolCfg.MinConns = 0
	poolCfg.MaxConnIdleTime = outboxIdleTime
	poolCfg.ConnConfig.RuntimeParams["application_name"] = outboxAppName
	return poolCfg, nil
}

type rowQuerier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// OutboxCheck reports whether the outbox database answers and still holds
// the storage_events table.
func OutboxCheck(pool *pgxpool.Pool) Check {
	return outboxCheck(pool)
}

func outboxCheck(db rowQuerier) Check {
	return func(ctx context.Context) error {
		var exists bool
		if err := db.QueryRow(ctx, outboxTableQuery).Scan(&exists); err != nil {
			return fmt.Errorf("query outbox: %w", err)
		}
		if !exists {
			return fmt.Errorf("outbox table storage_events is missing")
		}
		return nil
	}
}
