package repository

import (
	"context"
	"time"

	"github.com/yourusername/goal-calibrator/internal/calibration"
	"github.com/yourusername/goal-calibrator/internal/models"
)

// HistoryRepository stores historical outcome records used for training
type HistoryRepository interface {
	// ReplaceRange deletes every record dated within [from, to] and inserts
	// records in one step, so re-running a fetch is idempotent
	ReplaceRange(ctx context.Context, from, to time.Time, records []models.HistoricalOutcomeRecord) error
	List(ctx context.Context, from, to time.Time) ([]models.HistoricalOutcomeRecord, error)
	Count(ctx context.Context) (int, error)
}

// CurveRepository stores the active calibration curve set
type CurveRepository interface {
	// ReplaceAll supersedes the stored set wholesale
	ReplaceAll(ctx context.Context, set *calibration.CurveSet, manifest *calibration.Manifest) error
	// Load returns models.ErrNotFound when no set was ever stored
	Load(ctx context.Context) (*calibration.CurveSet, error)
	Manifest(ctx context.Context) (*calibration.Manifest, error)
}

// PredictionArchive keeps raw predictions as they were before kickoff so
// results can later be joined with the probabilities that were published
type PredictionArchive interface {
	Archive(ctx context.Context, batch models.RawBatch, at time.Time) (int, error)
	// Lookup matches on match_id first, then on league|home|away|date
	Lookup(ctx context.Context, matchID, leagueID, home, away string, date time.Time) (*models.RawPrediction, error)
	Prune(ctx context.Context, before time.Time) (int, error)
}

// RunRepository keeps the history of pipeline runs
type RunRepository interface {
	Record(ctx context.Context, run *models.PipelineRun) error
	Latest(ctx context.Context) (*models.PipelineRun, error)
	List(ctx context.Context, limit int) ([]models.PipelineRun, error)
}

// dayRange turns an inclusive date range into a half-open time interval
func dayRange(from, to time.Time) (time.Time, time.Time) {
	start := time.Date(from.Year(), from.Month(), from.Day(), 0, 0, 0, 0, time.UTC)
	end := time.Date(to.Year(), to.Month(), to.Day(), 0, 0, 0, 0, time.UTC).AddDate(0, 0, 1)
	return start, end
}

func inRange(t, start, end time.Time) bool {
	return !t.Before(start) && t.Before(end)
}
