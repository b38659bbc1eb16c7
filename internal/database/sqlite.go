package database

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

var sqliteSchema = []string{
	`CREATE TABLE IF NOT EXISTS prediction_archive (
		archive_key       TEXT PRIMARY KEY,
		fallback_key      TEXT NOT NULL,
		match_id          TEXT,
		league_id         TEXT NOT NULL,
		home_team         TEXT NOT NULL,
		away_team         TEXT NOT NULL,
		kickoff           INTEGER NOT NULL,
		lambda_home       REAL,
		lambda_away       REAL,
		raw_probabilities TEXT NOT NULL,
		archived_at       INTEGER NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_prediction_archive_fallback ON prediction_archive(fallback_key)`,
	`CREATE INDEX IF NOT EXISTS idx_prediction_archive_kickoff ON prediction_archive(kickoff)`,
	`CREATE TABLE IF NOT EXISTS calibration_curves (
		league_id     TEXT NOT NULL,
		outcome_class TEXT NOT NULL,
		xs            TEXT NOT NULL,
		ys            TEXT NOT NULL,
		samples       INTEGER NOT NULL,
		positives     INTEGER NOT NULL,
		degenerate    INTEGER NOT NULL DEFAULT 0,
		trained_at    INTEGER NOT NULL,
		PRIMARY KEY (league_id, outcome_class)
	)`,
	`CREATE TABLE IF NOT EXISTS curve_manifest (
		id       INTEGER PRIMARY KEY CHECK (id = 1),
		manifest TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS pipeline_runs (
		run_id      TEXT PRIMARY KEY,
		started_at  INTEGER NOT NULL,
		finished_at INTEGER NOT NULL,
		outcome     TEXT NOT NULL,
		matches     INTEGER NOT NULL DEFAULT 0,
		extremity   REAL,
		coverage    REAL,
		reasons     TEXT,
		report_path TEXT,
		error       TEXT
	)`,
	`CREATE INDEX IF NOT EXISTS idx_pipeline_runs_started ON pipeline_runs(started_at DESC)`,
}

// OpenSQLite opens or creates the SQLite database at path and applies the schema
func OpenSQLite(path string) (*sql.DB, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1) // single writer
	if _, err := db.Exec(`PRAGMA journal_mode=WAL`); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set WAL mode: %w", err)
	}
	if _, err := db.Exec(`PRAGMA busy_timeout=5000`); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}
	for _, stmt := range sqliteSchema {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to create tables: %w", err)
		}
	}
	return db, nil
}
