package db

import (
	"context"
	"fmt"
	"time"

	"idle_mining/internal/logger"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Connect opens a pool with UTC sessions and checks it with a bounded ping
func Connect(ctx context.Context, dsn string, maxConns int32) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	cfg.ConnConfig.RuntimeParams["timezone"] = "UTC"
	if maxConns > 0 {
		cfg.MaxConns = maxConns
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create database pool: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		// The pool reconnects lazily, so an unreachable database at boot
		// leaves the service running in degraded mode.
		logger.Warn("database ping failed at startup", "error", err)
	} else {
		logger.Info("database connected")
	}
	return pool, nil
}
