package database

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/nmoagit/x121-sub001/internal/config"
)

// Pool tuning for the execution store.
const (
	poolHealthCheckPeriod = 30 * time.Second
	poolMaxConnIdleTime   = 5 * time.Minute
	poolMaxConnLifetime   = time.Hour
)

// PoolConfig builds the pgxpool settings for the store. MinConns is capped at
// MaxConns.
func PoolConfig(cfg config.DBConfig) (*pgxpool.Config, error) {
	poolCfg, err := pgxpool.ParseConfig(BuildConnString(cfg))
	if err != nil {
		return nil, fmt.Errorf("parse connection string: %w", err)
	}

	poolCfg.MaxConns = int32(cfg.MaxConns)
	poolCfg.MinConns = int32(min(cfg.MinConns, cfg.MaxConns))
	poolCfg.HealthCheckPeriod = poolHealthCheckPeriod
	poolCfg.MaxConnIdleTime = poolMaxConnIdleTime
	poolCfg.MaxConnLifetime = poolMaxConnLifetime
	return poolCfg, nil
}

// Connect opens the store's connection pool and pings it.
func Connect(ctx context.Context, cfg config.DBConfig) (*pgxpool.Pool, error) {
	poolCfg, err := PoolConfig(cfg)
	if err != nil {
		return nil, err
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return pool, nil
}
