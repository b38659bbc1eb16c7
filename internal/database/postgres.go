// Package database opens the Postgres pool and the embedded SQLite store.
package database

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sirupsen/logrus"

	"github.com/yourusername/goal-calibrator/internal/config"
)

// DB wraps the pgxpool.Pool to provide database operations
type DB struct {
	pool *pgxpool.Pool
}

// NewDB creates a new database connection pool from configuration, retrying
// the initial connection with exponential backoff
func NewDB(ctx context.Context, cfg *config.Config, logger logrus.FieldLogger) (*DB, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.GetDatabaseDSN())
	if err != nil {
		return nil, fmt.Errorf("failed to parse database config: %w", err)
	}

	if cfg.Database.MaxConnections > 0 {
		poolConfig.MaxConns = int32(cfg.Database.MaxConnections)
	}
	if cfg.Database.MinConnections > 0 {
		poolConfig.MinConns = int32(cfg.Database.MinConnections)
	}
	poolConfig.MaxConnLifetime = 5 * time.Minute
	poolConfig.MaxConnIdleTime = 1 * time.Minute
	poolConfig.HealthCheckPeriod = 30 * time.Second

	return connect(ctx, poolConfig, cfg.Database.ConnectRetries, logger)
}

// NewDBFromDSN connects to the database at dsn without retries
func NewDBFromDSN(ctx context.Context, dsn string) (*DB, error) {
	poolConfig, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database DSN: %w", err)
	}
	return connect(ctx, poolConfig, 0, logrus.StandardLogger())
}

func connect(ctx context.Context, poolConfig *pgxpool.Config, retries int, logger logrus.FieldLogger) (*DB, error) {
	var pool *pgxpool.Pool
	operation := func() error {
		p, err := pgxpool.NewWithConfig(ctx, poolConfig)
		if err != nil {
			return fmt.Errorf("failed to create connection pool: %w", err)
		}
		if err := p.Ping(ctx); err != nil {
			p.Close()
			return fmt.Errorf("failed to ping database: %w", err)
		}
		pool = p
		return nil
	}

	strategy := backoff.NewExponentialBackOff()
	strategy.MaxElapsedTime = time.Minute
	notify := func(err error, wait time.Duration) {
		logger.WithError(err).WithField("retry_in", wait.String()).Warn("Database not reachable, retrying")
	}

	b := backoff.WithContext(backoff.WithMaxRetries(strategy, uint64(retries)), ctx)
	if err := backoff.RetryNotify(operation, b, notify); err != nil {
		return nil, err
	}
	return &DB{pool: pool}, nil
}

// Ping verifies database connectivity
func (db *DB) Ping(ctx context.Context) error {
	return db.pool.Ping(ctx)
}

// Close closes the connection pool
func (db *DB) Close() {
	if db.pool != nil {
		db.pool.Close()
	}
}

// WithTransaction runs fn in a transaction, rolling back when fn fails
func (db *DB) WithTransaction(ctx context.Context, fn func(pgx.Tx) error) error {
	tx, err := db.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	if err := fn(tx); err != nil {
		if rollbackErr := tx.Rollback(ctx); rollbackErr != nil {
			return fmt.Errorf("transaction failed: %w, rollback failed: %v", err, rollbackErr)
		}
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// HealthCheck performs a simple health check on the database
func (db *DB) HealthCheck(ctx context.Context) error {
	if _, err := db.pool.Exec(ctx, "SELECT 1"); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	return nil
}

// GetPool returns the underlying connection pool for advanced operations
func (db *DB) GetPool() *pgxpool.Pool {
	return db.pool
}

const historySchema = `
CREATE TABLE IF NOT EXISTS historical_outcomes (
	match_id          TEXT        NOT NULL,
	league_id         TEXT        NOT NULL,
	match_date        TIMESTAMPTZ NOT NULL,
	home_team         TEXT        NOT NULL,
	away_team         TEXT        NOT NULL,
	home_goals        INTEGER     NOT NULL,
	away_goals        INTEGER     NOT NULL,
	raw_probabilities JSONB       NOT NULL,
	fetched_at        TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (league_id, match_id)
);
CREATE INDEX IF NOT EXISTS idx_historical_outcomes_date ON historical_outcomes (match_date);
`

// EnsureSchema creates the tables the Postgres history repository needs
func (db *DB) EnsureSchema(ctx context.Context) error {
	if _, err := db.pool.Exec(ctx, historySchema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}
