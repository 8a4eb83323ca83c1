// Package postgres keeps published tracking state in PostgreSQL so every API
// instance reads the same snapshot and receives the same push notifications.
package postgres

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"campusrun/internal/config"

	"github.com/jackc/pgx/v5/pgxpool"
)

// NewPool parses cfg.DSN, tunes the pool and verifies connectivity.
func NewPool(ctx context.Context, cfg config.PostgresConfig, log *slog.Logger) (*pgxpool.Pool, error) {
	start := time.Now()

	pcfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("postgres parse dsn: %w", err)
	}

	pcfg.ConnConfig.ConnectTimeout = 5 * time.Second
	if pcfg.ConnConfig.RuntimeParams == nil {
		pcfg.ConnConfig.RuntimeParams = make(map[string]string, 1)
	}
	pcfg.ConnConfig.RuntimeParams["timezone"] = "UTC"
	pcfg.HealthCheckPeriod = 30 * time.Second
	pcfg.MaxConnIdleTime = 5 * time.Minute
	if cfg.MaxConns > 0 {
		// One connection is held by the LISTEN loop.
		pcfg.MaxConns = cfg.MaxConns + 1
	}

	pool, err := pgxpool.NewWithConfig(ctx, pcfg)
	if err != nil {
		return nil, fmt.Errorf("pgxpool.NewWithConfig: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres ping: %w", err)
	}

	log.Info("connected to postgres", "action", "db_connect",
		"host", pcfg.ConnConfig.Host, "database", pcfg.ConnConfig.Database,
		"duration_ms", time.Since(start).Milliseconds())
	return pool, nil
}
