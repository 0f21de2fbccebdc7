package database

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-proctor/internal/config"
)

// applicationName tags this instance's connections in pg_stat_activity.
func applicationName(cfg *config.Config) string {
	if cfg.InstanceID == "" {
		return "exstem-proctor"
	}
	return "exstem-proctor/" + cfg.InstanceID
}

// NewPostgresPool opens the session store pool and waits for the database to
// answer. Submit holds a connection for the whole answer-upsert transaction,
// so idle connections are recycled rather than kept forever.
func NewPostgresPool(ctx context.Context, cfg *config.Config, log zerolog.Logger) (*pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database URL: %w", err)
	}

	if cfg.MaxDBConns > 0 {
		poolCfg.MaxConns = cfg.MaxDBConns
	}
	poolCfg.MaxConnIdleTime = 5 * time.Minute
	poolCfg.HealthCheckPeriod = 30 * time.Second
	poolCfg.ConnConfig.RuntimeParams["application_name"] = applicationName(cfg)

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	if err := dial(ctx, log, "postgres", pool.Ping); err != nil {
		pool.Close()
		return nil, err
	}

	log.Info().
		Str("host", poolCfg.ConnConfig.Host).
		Str("database", poolCfg.ConnConfig.Database).
		Str("application_name", applicationName(cfg)).
		Int32("max_conns", poolCfg.MaxConns).
		Msg("PostgreSQL session store ready")

	return pool, nil
}
