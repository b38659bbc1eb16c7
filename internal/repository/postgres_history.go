package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/yourusername/goal-calibrator/internal/database"
	"github.com/yourusername/goal-calibrator/internal/models"
)

// PostgresHistoryRepository implements HistoryRepository on the historical_outcomes table
type PostgresHistoryRepository struct {
	db *database.DB
}

// NewPostgresHistoryRepository creates a new PostgreSQL history repository
func NewPostgresHistoryRepository(db *database.DB) *PostgresHistoryRepository {
	return &PostgresHistoryRepository{db: db}
}

var historyColumns = []string{
	"match_id", "league_id", "match_date", "home_team", "away_team",
	"home_goals", "away_goals", "raw_probabilities", "fetched_at",
}

// ReplaceRange deletes the range and bulk-loads records in one transaction
func (r *PostgresHistoryRepository) ReplaceRange(ctx context.Context, from, to time.Time, records []models.HistoricalOutcomeRecord) error {
	start, end := dayRange(from, to)
	fetchedAt := time.Now().UTC()

	rows := make([][]interface{}, 0, len(records))
	for _, rec := range records {
		probs, err := json.Marshal(rec.RawProbabilities)
		if err != nil {
			return fmt.Errorf("failed to encode probabilities for match %s: %w", rec.MatchID, err)
		}
		rows = append(rows, []interface{}{
			rec.MatchID, rec.LeagueID, rec.Date, rec.HomeTeam, rec.AwayTeam,
			rec.HomeGoals, rec.AwayGoals, probs, fetchedAt,
		})
	}

	return r.db.WithTransaction(ctx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx,
			`DELETE FROM historical_outcomes WHERE match_date >= $1 AND match_date < $2`,
			start, end,
		); err != nil {
			return fmt.Errorf("failed to clear history range: %w", err)
		}
		if len(rows) == 0 {
			return nil
		}
		n, err := tx.CopyFrom(ctx, pgx.Identifier{"historical_outcomes"}, historyColumns, pgx.CopyFromRows(rows))
		if err != nil {
			return fmt.Errorf("failed to copy history records: %w", err)
		}
		if int(n) != len(rows) {
			return fmt.Errorf("copied %d of %d history records", n, len(rows))
		}
		return nil
	})
}

// List returns records dated within [from, to]. Zero bounds mean unbounded.
func (r *PostgresHistoryRepository) List(ctx context.Context, from, to time.Time) ([]models.HistoricalOutcomeRecord, error) {
	start, end := openRange(from, to)
	query := `
		SELECT match_id, league_id, match_date, home_team, away_team,
		       home_goals, away_goals, raw_probabilities
		FROM historical_outcomes
		WHERE match_date >= $1 AND match_date < $2
		ORDER BY match_date, league_id, match_id
	`
	rows, err := r.db.GetPool().Query(ctx, query, start, end)
	if err != nil {
		return nil, fmt.Errorf("failed to query history: %w", err)
	}
	defer rows.Close()

	var records []models.HistoricalOutcomeRecord
	for rows.Next() {
		var rec models.HistoricalOutcomeRecord
		var probs []byte
		if err := rows.Scan(
			&rec.MatchID, &rec.LeagueID, &rec.Date, &rec.HomeTeam, &rec.AwayTeam,
			&rec.HomeGoals, &rec.AwayGoals, &probs,
		); err != nil {
			return nil, fmt.Errorf("failed to scan history record: %w", err)
		}
		if err := json.Unmarshal(probs, &rec.RawProbabilities); err != nil {
			return nil, fmt.Errorf("failed to decode probabilities for match %s: %w", rec.MatchID, err)
		}
		rec.Date = rec.Date.UTC()
		rec.ActualOutcome = models.OutcomeFromGoals(rec.HomeGoals, rec.AwayGoals)
		records = append(records, rec)
	}
	return records, rows.Err()
}

// Count returns the number of stored records
func (r *PostgresHistoryRepository) Count(ctx context.Context) (int, error) {
	var n int
	if err := r.db.GetPool().QueryRow(ctx, `SELECT count(*) FROM historical_outcomes`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count history: %w", err)
	}
	return n, nil
}
