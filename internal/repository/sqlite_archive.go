package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/yourusername/goal-calibrator/internal/models"
)

// SQLitePredictionArchive stores raw predictions in the prediction_archive table
type SQLitePredictionArchive struct {
	db *sql.DB
}

// NewSQLitePredictionArchive creates a SQLite-backed prediction archive
func NewSQLitePredictionArchive(db *sql.DB) *SQLitePredictionArchive {
	return &SQLitePredictionArchive{db: db}
}

// Archive upserts every prediction of the batch made before its kickoff.
// Predictions archived at or after kickoff are skipped, so the archive only
// ever holds the last pre-match view of each fixture.
func (a *SQLitePredictionArchive) Archive(ctx context.Context, batch models.RawBatch, at time.Time) (int, error) {
	tx, err := a.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO prediction_archive
			(archive_key, fallback_key, match_id, league_id, home_team, away_team,
			 kickoff, lambda_home, lambda_away, raw_probabilities, archived_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(archive_key) DO UPDATE SET
			raw_probabilities = excluded.raw_probabilities,
			lambda_home = excluded.lambda_home,
			lambda_away = excluded.lambda_away,
			kickoff = excluded.kickoff,
			archived_at = excluded.archived_at
		WHERE excluded.archived_at < excluded.kickoff
	`)
	if err != nil {
		return 0, fmt.Errorf("failed to prepare archive insert: %w", err)
	}
	defer stmt.Close()

	archivedAt := at.UTC().Unix()
	written := 0
	for i := range batch {
		p := &batch[i]
		if !at.Before(p.KickoffTime) {
			continue
		}
		probs, err := json.Marshal(p.RawProbabilities)
		if err != nil {
			return 0, fmt.Errorf("failed to encode probabilities for match %s: %w", p.MatchID, err)
		}
		res, err := stmt.ExecContext(ctx,
			models.ArchiveKey(p.MatchID, p.LeagueID, p.HomeTeam, p.AwayTeam, p.KickoffTime),
			models.ArchiveKey("", p.LeagueID, p.HomeTeam, p.AwayTeam, p.KickoffTime),
			p.MatchID, p.LeagueID, p.HomeTeam, p.AwayTeam,
			p.KickoffTime.UTC().Unix(), p.LambdaHome, p.LambdaAway, string(probs), archivedAt,
		)
		if err != nil {
			return 0, fmt.Errorf("failed to archive match %s: %w", p.MatchID, err)
		}
		if n, _ := res.RowsAffected(); n > 0 {
			written++
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit archive: %w", err)
	}
	return written, nil
}

// Lookup finds the archived prediction for a finished fixture
func (a *SQLitePredictionArchive) Lookup(ctx context.Context, matchID, leagueID, home, away string, date time.Time) (*models.RawPrediction, error) {
	const cols = `match_id, league_id, home_team, away_team, kickoff, lambda_home, lambda_away, raw_probabilities`

	if matchID != "" {
		p, err := a.scanOne(a.db.QueryRowContext(ctx,
			`SELECT `+cols+` FROM prediction_archive WHERE archive_key = ?`, matchID))
		if err == nil || !errors.Is(err, models.ErrNotFound) {
			return p, err
		}
	}
	return a.scanOne(a.db.QueryRowContext(ctx,
		`SELECT `+cols+` FROM prediction_archive WHERE fallback_key = ? ORDER BY archived_at DESC LIMIT 1`,
		models.ArchiveKey("", leagueID, home, away, date)))
}

func (a *SQLitePredictionArchive) scanOne(row *sql.Row) (*models.RawPrediction, error) {
	var (
		p       models.RawPrediction
		matchID sql.NullString
		kickoff int64
		lh, la  sql.NullFloat64
		probs   string
	)
	err := row.Scan(&matchID, &p.LeagueID, &p.HomeTeam, &p.AwayTeam, &kickoff, &lh, &la, &probs)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan archived prediction: %w", err)
	}
	p.MatchID = matchID.String
	p.KickoffTime = time.Unix(kickoff, 0).UTC()
	p.LambdaHome = lh.Float64
	p.LambdaAway = la.Float64
	if err := json.Unmarshal([]byte(probs), &p.RawProbabilities); err != nil {
		return nil, fmt.Errorf("failed to decode archived probabilities: %w", err)
	}
	return &p, nil
}

// Prune deletes predictions that kicked off before the cutoff
func (a *SQLitePredictionArchive) Prune(ctx context.Context, before time.Time) (int, error) {
	res, err := a.db.ExecContext(ctx, `DELETE FROM prediction_archive WHERE kickoff < ?`, before.UTC().Unix())
	if err != nil {
		return 0, fmt.Errorf("failed to prune archive: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}
