package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/yourusername/goal-calibrator/internal/calibration"
	"github.com/yourusername/goal-calibrator/internal/models"
)

// SQLiteCurveRepository stores curves in the calibration_curves table
type SQLiteCurveRepository struct {
	db *sql.DB
}

// NewSQLiteCurveRepository creates a SQLite-backed curve repository
func NewSQLiteCurveRepository(db *sql.DB) *SQLiteCurveRepository {
	return &SQLiteCurveRepository{db: db}
}

// ReplaceAll swaps the whole set in one transaction
func (r *SQLiteCurveRepository) ReplaceAll(ctx context.Context, set *calibration.CurveSet, manifest *calibration.Manifest) error {
	if manifest == nil {
		manifest = calibration.NewManifest(set, nil)
	}
	manifestJSON, err := json.Marshal(manifest)
	if err != nil {
		return fmt.Errorf("failed to encode curve manifest: %w", err)
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM calibration_curves`); err != nil {
		return fmt.Errorf("failed to clear curves: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO calibration_curves
			(league_id, outcome_class, xs, ys, samples, positives, degenerate, trained_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare curve insert: %w", err)
	}
	defer stmt.Close()

	for _, c := range set.Curves {
		xs, err := json.Marshal(c.X)
		if err != nil {
			return err
		}
		ys, err := json.Marshal(c.Y)
		if err != nil {
			return err
		}
		if _, err := stmt.ExecContext(ctx,
			c.League, string(c.Class), string(xs), string(ys),
			c.Samples, c.Positives, c.Degenerate, c.TrainedAt.UTC().UnixNano(),
		); err != nil {
			return fmt.Errorf("failed to insert curve %s: %w", c.Key, err)
		}
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO curve_manifest (id, manifest) VALUES (1, ?)
		ON CONFLICT(id) DO UPDATE SET manifest = excluded.manifest
	`, string(manifestJSON)); err != nil {
		return fmt.Errorf("failed to store curve manifest: %w", err)
	}

	return tx.Commit()
}

// Load rebuilds the set from the manifest and the curve rows
func (r *SQLiteCurveRepository) Load(ctx context.Context) (*calibration.CurveSet, error) {
	manifest, err := r.Manifest(ctx)
	if err != nil {
		return nil, err
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT league_id, outcome_class, xs, ys, samples, positives, degenerate, trained_at
		FROM calibration_curves
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query curves: %w", err)
	}
	defer rows.Close()

	var curves []*calibration.Curve
	for rows.Next() {
		var (
			c         calibration.Curve
			class     string
			xs, ys    string
			trainedAt int64
		)
		if err := rows.Scan(&c.League, &class, &xs, &ys, &c.Samples, &c.Positives, &c.Degenerate, &trainedAt); err != nil {
			return nil, fmt.Errorf("failed to scan curve: %w", err)
		}
		c.Class = models.OutcomeClass(class)
		if err := json.Unmarshal([]byte(xs), &c.X); err != nil {
			return nil, fmt.Errorf("failed to decode curve %s: %w", c.Key, err)
		}
		if err := json.Unmarshal([]byte(ys), &c.Y); err != nil {
			return nil, fmt.Errorf("failed to decode curve %s: %w", c.Key, err)
		}
		c.TrainedAt = time.Unix(0, trainedAt).UTC()
		curves = append(curves, &c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return calibration.NewCurveSet(manifest.RunID, manifest.TrainedAt, manifest.MinSamples, curves), nil
}

// Manifest returns the stored manifest or models.ErrNotFound
func (r *SQLiteCurveRepository) Manifest(ctx context.Context) (*calibration.Manifest, error) {
	var raw string
	err := r.db.QueryRowContext(ctx, `SELECT manifest FROM curve_manifest WHERE id = 1`).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("curve manifest: %w", models.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read curve manifest: %w", err)
	}
	var m calibration.Manifest
	if err := json.Unmarshal([]byte(raw), &m); err != nil {
		return nil, fmt.Errorf("failed to decode curve manifest: %w", err)
	}
	return &m, nil
}
