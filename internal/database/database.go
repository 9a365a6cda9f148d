package database

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/nauuaf/image-service/internal/config"
)

// Connect builds a bounded pgx connection pool and verifies connectivity.
func Connect(ctx context.Context, cfg *config.DatabaseConfig, log *zap.Logger) (*pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}

	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = int32(cfg.MaxConns)
	}
	poolCfg.MaxConnLifetime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	log.Info("Connected to database", zap.Int32("max_conns", poolCfg.MaxConns))
	return pool, nil
}

// Migrate applies the asset schema. Statements are idempotent.
func Migrate(ctx context.Context, pool *pgxpool.Pool, log *zap.Logger) error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS assets (
			pk BIGSERIAL PRIMARY KEY,
			id UUID UNIQUE NOT NULL,
			owner_key UUID NOT NULL,
			original_name TEXT NOT NULL,
			stored_name TEXT NOT NULL,
			object_key TEXT UNIQUE NOT NULL,
			thumbnail_key TEXT,
			content_type TEXT NOT NULL,
			size_bytes BIGINT NOT NULL,
			width INTEGER,
			height INTEGER,
			origin_id UUID,
			created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
		);`,

		`CREATE INDEX IF NOT EXISTS idx_assets_owner_key ON assets(owner_key);`,
		`CREATE INDEX IF NOT EXISTS idx_assets_created_at ON assets(created_at DESC);`,
	}

	for _, migration := range migrations {
		if _, err := pool.Exec(ctx, migration); err != nil {
			return fmt.Errorf("failed to execute migration: %w", err)
		}
	}

	log.Info("Database migrations completed")
	return nil
}
