package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/yourusername/goal-calibrator/internal/models"
)

// SQLiteRunRepository records pipeline runs in the pipeline_runs table
type SQLiteRunRepository struct {
	db *sql.DB
}

// NewSQLiteRunRepository creates a SQLite-backed run repository
func NewSQLiteRunRepository(db *sql.DB) *SQLiteRunRepository {
	return &SQLiteRunRepository{db: db}
}

// Record stores a run, replacing an earlier record with the same id
func (r *SQLiteRunRepository) Record(ctx context.Context, run *models.PipelineRun) error {
	var reasons sql.NullString
	if len(run.Reasons) > 0 {
		b, err := json.Marshal(run.Reasons)
		if err != nil {
			return err
		}
		reasons = sql.NullString{String: string(b), Valid: true}
	}

	_, err := r.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO pipeline_runs
			(run_id, started_at, finished_at, outcome, matches, extremity, coverage, reasons, report_path, error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		run.RunID, run.StartedAt.UTC().UnixNano(), run.FinishedAt.UTC().UnixNano(), run.Outcome,
		run.Matches, run.Extremity, run.Coverage, reasons, run.ReportPath, run.Error,
	)
	if err != nil {
		return fmt.Errorf("failed to record run %s: %w", run.RunID, err)
	}
	return nil
}

// Latest returns the most recently started run or models.ErrNotFound
func (r *SQLiteRunRepository) Latest(ctx context.Context) (*models.PipelineRun, error) {
	runs, err := r.List(ctx, 1)
	if err != nil {
		return nil, err
	}
	if len(runs) == 0 {
		return nil, models.ErrNotFound
	}
	return &runs[0], nil
}

// List returns up to limit runs, newest first
func (r *SQLiteRunRepository) List(ctx context.Context, limit int) ([]models.PipelineRun, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT run_id, started_at, finished_at, outcome, matches, extremity, coverage, reasons, report_path, error
		FROM pipeline_runs
		ORDER BY started_at DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	defer rows.Close()

	var runs []models.PipelineRun
	for rows.Next() {
		var (
			run                 models.PipelineRun
			started, finished   int64
			extremity, coverage sql.NullFloat64
			reasons, report     sql.NullString
			runErr              sql.NullString
		)
		if err := rows.Scan(&run.RunID, &started, &finished, &run.Outcome, &run.Matches,
			&extremity, &coverage, &reasons, &report, &runErr); err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		run.StartedAt = time.Unix(0, started).UTC()
		run.FinishedAt = time.Unix(0, finished).UTC()
		run.Extremity = extremity.Float64
		run.Coverage = coverage.Float64
		run.ReportPath = report.String
		run.Error = runErr.String
		if reasons.Valid && reasons.String != "" {
			if err := json.Unmarshal([]byte(reasons.String), &run.Reasons); err != nil {
				return nil, fmt.Errorf("failed to decode reasons of run %s: %w", run.RunID, err)
			}
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return runs, nil
}

