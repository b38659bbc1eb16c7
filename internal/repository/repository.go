// Package repository persists history, curves, archived predictions and run history.
package repository

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"

	"github.com/sirupsen/logrus"

	"github.com/yourusername/goal-calibrator/internal/config"
	"github.com/yourusername/goal-calibrator/internal/database"
)

// Repositories holds all repository implementations
type Repositories struct {
	History HistoryRepository
	Curves  CurveRepository
	Archive PredictionArchive
	Runs    RunRepository

	sqlite *sql.DB
	pg     *database.DB
}

// NewRepositories opens the configured backends. The SQLite store always
// backs the archive and run history; history and curves follow storage config.
func NewRepositories(ctx context.Context, cfg *config.Config, logger logrus.FieldLogger) (*Repositories, error) {
	sqliteDB, err := database.OpenSQLite(cfg.Storage.SQLitePath)
	if err != nil {
		return nil, err
	}
	repos := &Repositories{
		Archive: NewSQLitePredictionArchive(sqliteDB),
		Runs:    NewSQLiteRunRepository(sqliteDB),
		sqlite:  sqliteDB,
	}

	switch cfg.Storage.HistoryBackend {
	case "postgres":
		pg, err := database.NewDB(ctx, cfg, logger)
		if err != nil {
			repos.Close()
			return nil, fmt.Errorf("failed to connect history database: %w", err)
		}
		repos.pg = pg
		if err := pg.EnsureSchema(ctx); err != nil {
			repos.Close()
			return nil, err
		}
		repos.History = NewPostgresHistoryRepository(pg)
	default:
		repos.History = NewFileHistoryRepository(cfg.Paths.History)
	}

	switch cfg.Storage.CurvesBackend {
	case "sqlite":
		repos.Curves = NewSQLiteCurveRepository(sqliteDB)
	default:
		repos.Curves = NewFileCurveRepository(filepath.Clean(cfg.Paths.CurvesDir))
	}

	logger.WithFields(logrus.Fields{
		"history_backend": cfg.Storage.HistoryBackend,
		"curves_backend":  cfg.Storage.CurvesBackend,
		"sqlite_path":     cfg.Storage.SQLitePath,
	}).Debug("Repositories opened")

	return repos, nil
}

// Ping checks every open backend
func (r *Repositories) Ping(ctx context.Context) error {
	if r.sqlite != nil {
		if err := r.sqlite.PingContext(ctx); err != nil {
			return fmt.Errorf("sqlite: %w", err)
		}
	}
	if r.pg != nil {
		if err := r.pg.HealthCheck(ctx); err != nil {
			return fmt.Errorf("postgres: %w", err)
		}
	}
	return nil
}

// Close releases every open backend
func (r *Repositories) Close() {
	if r.pg != nil {
		r.pg.Close()
	}
	if r.sqlite != nil {
		_ = r.sqlite.Close()
	}
}
