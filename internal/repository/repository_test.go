package repository

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yourusername/goal-calibrator/internal/calibration"
	"github.com/yourusername/goal-calibrator/internal/database"
	"github.com/yourusername/goal-calibrator/internal/models"
)

func day(d int) time.Time {
	return time.Date(2026, 9, d, 15, 0, 0, 0, time.UTC)
}

func historyRecord(id string, date time.Time) models.HistoricalOutcomeRecord {
	probs := models.NewProbabilities()
	probs.Classes[models.ClassOver25] = 0.55
	return models.HistoricalOutcomeRecord{
		MatchID:          id,
		LeagueID:         "39",
		Date:             date,
		HomeTeam:         "Home " + id,
		AwayTeam:         "Away " + id,
		HomeGoals:        2,
		AwayGoals:        1,
		RawProbabilities: probs,
		ActualOutcome:    models.OutcomeFromGoals(2, 1),
	}
}

func openSQLite(t *testing.T) *sql.DB {
	t.Helper()
	db, err := database.OpenSQLite(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestFileHistoryReplaceRange(t *testing.T) {
	ctx := context.Background()
	repo := NewFileHistoryRepository(filepath.Join(t.TempDir(), "history.json"))

	n, err := repo.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	require.NoError(t, repo.ReplaceRange(ctx, day(1), day(3), []models.HistoricalOutcomeRecord{
		historyRecord("a", day(1)),
		historyRecord("b", day(2)),
		historyRecord("c", day(3)),
	}))

	// re-fetching day 2 replaces only that day
	require.NoError(t, repo.ReplaceRange(ctx, day(2), day(2), []models.HistoricalOutcomeRecord{
		historyRecord("b2", day(2)),
	}))

	all, err := repo.List(ctx, time.Time{}, time.Time{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, []string{"a", "b2", "c"}, []string{all[0].MatchID, all[1].MatchID, all[2].MatchID})

	ranged, err := repo.List(ctx, day(2), day(3))
	require.NoError(t, err)
	assert.Len(t, ranged, 2)

	// running the same replace again is idempotent
	require.NoError(t, repo.ReplaceRange(ctx, day(2), day(2), []models.HistoricalOutcomeRecord{
		historyRecord("b2", day(2)),
	}))
	n, err = repo.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	v, ok := all[1].RawProbabilities.Get(models.ClassOver25)
	assert.True(t, ok)
	assert.Equal(t, 0.55, v)
}

func testCurveSet() (*calibration.CurveSet, *calibration.TrainingSummary) {
	trained := time.Date(2026, 10, 1, 6, 0, 0, 0, time.UTC)
	curves := []*calibration.Curve{
		{
			Key:       calibration.Key{League: "39", Class: models.ClassOver25},
			X:         []float64{0.1, 0.5, 0.9},
			Y:         []float64{0.2, 0.5, 0.8},
			Samples:   200,
			Positives: 100,
			TrainedAt: trained,
		},
		{
			Key:        calibration.Key{League: models.GlobalLeague, Class: models.ClassBTTSYes},
			X:          []float64{0.3},
			Y:          []float64{0.4},
			Samples:    300,
			Positives:  120,
			Degenerate: true,
			TrainedAt:  trained,
		},
	}
	set := calibration.NewCurveSet("run-1", trained, 150, curves)
	summary := &calibration.TrainingSummary{
		RunID:      "run-1",
		Records:    500,
		Trained:    2,
		Skipped:    []calibration.SkippedPair{{Key: calibration.Key{League: "140", Class: models.ClassOver25}, Samples: 12}},
		Degenerate: []calibration.Key{curves[1].Key},
	}
	return set, summary
}

func testCurveRepository(t *testing.T, repo CurveRepository) {
	ctx := context.Background()

	_, err := repo.Load(ctx)
	assert.ErrorIs(t, err, models.ErrNotFound)

	set, summary := testCurveSet()
	require.NoError(t, repo.ReplaceAll(ctx, set, calibration.NewManifest(set, summary)))

	loaded, err := repo.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, "run-1", loaded.RunID)
	assert.Equal(t, 150, loaded.MinSamples)
	require.Equal(t, 2, loaded.Len())

	c, src := loaded.Lookup("39", models.ClassOver25)
	require.NotNil(t, c)
	assert.Equal(t, models.SourceLeague, src)
	assert.Equal(t, []float64{0.2, 0.5, 0.8}, c.Y)
	assert.True(t, c.TrainedAt.Equal(set.TrainedAt))

	_, src = loaded.Lookup("140", models.ClassBTTSYes)
	assert.Equal(t, models.SourceGlobal, src)

	m, err := repo.Manifest(ctx)
	require.NoError(t, err)
	assert.Equal(t, 500, m.Records)
	require.Len(t, m.Skipped, 1)
	assert.Equal(t, []string{"global/btts_yes"}, m.DegenerateKeys())

	// a newer set supersedes the old one entirely
	next := calibration.NewCurveSet("run-2", set.TrainedAt.Add(time.Hour), 150, set.Curves[:1])
	require.NoError(t, repo.ReplaceAll(ctx, next, nil))
	loaded, err = repo.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, "run-2", loaded.RunID)
	assert.Equal(t, 1, loaded.Len())
}

func TestFileCurveRepository(t *testing.T) {
	testCurveRepository(t, NewFileCurveRepository(t.TempDir()))
}

func TestSQLiteCurveRepository(t *testing.T) {
	testCurveRepository(t, NewSQLiteCurveRepository(openSQLite(t)))
}

func rawPrediction(id string, kickoff time.Time, over25 float64) models.RawPrediction {
	probs := models.NewProbabilities()
	probs.Classes[models.ClassOver25] = over25
	probs.CorrectScore["1-0"] = 0.1
	return models.RawPrediction{
		MatchID:          id,
		LeagueID:         "39",
		KickoffTime:      kickoff,
		HomeTeam:         "Arsenal",
		AwayTeam:         "Chelsea",
		LambdaHome:       1.4,
		LambdaAway:       1.1,
		RawProbabilities: probs,
	}
}

func TestPredictionArchive(t *testing.T) {
	ctx := context.Background()
	archive := NewSQLitePredictionArchive(openSQLite(t))
	kickoff := day(20)

	n, err := archive.Archive(ctx, models.RawBatch{rawPrediction("100", kickoff, 0.55)}, kickoff.Add(-48*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	// a later pre-kickoff batch refreshes the row
	n, err = archive.Archive(ctx, models.RawBatch{rawPrediction("100", kickoff, 0.60)}, kickoff.Add(-time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	// a post-kickoff batch does not
	n, err = archive.Archive(ctx, models.RawBatch{rawPrediction("100", kickoff, 0.90)}, kickoff.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	p, err := archive.Lookup(ctx, "100", "39", "Arsenal", "Chelsea", kickoff)
	require.NoError(t, err)
	v, _ := p.RawProbabilities.Get(models.ClassOver25)
	assert.Equal(t, 0.60, v)
	assert.Equal(t, 0.1, p.RawProbabilities.CorrectScore["1-0"])
	assert.Equal(t, 1.4, p.LambdaHome)

	// a fixture first seen after kickoff is never stored
	late := day(21)
	n, err = archive.Archive(ctx, models.RawBatch{rawPrediction("200", late, 0.95)}, late.Add(2*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 0, n)
	_, err = archive.Lookup(ctx, "200", "39", "Arsenal", "Chelsea", late)
	assert.ErrorIs(t, err, models.ErrNotFound)

	// unknown id falls back to league|home|away|date
	p, err = archive.Lookup(ctx, "999", "39", "Arsenal", "Chelsea", kickoff.Add(2*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, "100", p.MatchID)

	_, err = archive.Lookup(ctx, "999", "39", "Arsenal", "Spurs", kickoff)
	assert.ErrorIs(t, err, models.ErrNotFound)

	pruned, err := archive.Prune(ctx, kickoff.Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 1, pruned)
	_, err = archive.Lookup(ctx, "100", "39", "Arsenal", "Chelsea", kickoff)
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestRunRepository(t *testing.T) {
	ctx := context.Background()
	runs := NewSQLiteRunRepository(openSQLite(t))

	_, err := runs.Latest(ctx)
	assert.ErrorIs(t, err, models.ErrNotFound)

	base := day(1)
	require.NoError(t, runs.Record(ctx, &models.PipelineRun{
		RunID: "r1", StartedAt: base, FinishedAt: base.Add(time.Minute),
		Outcome: models.RunOutcomePromoted, Matches: 40, Extremity: 0.01, Coverage: 1,
	}))
	require.NoError(t, runs.Record(ctx, &models.PipelineRun{
		RunID: "r2", StartedAt: base.Add(time.Hour), FinishedAt: base.Add(time.Hour + time.Minute),
		Outcome: models.RunOutcomeRejected, Matches: 40, Extremity: 0.4, Coverage: 1,
		Reasons: []string{"extremity fraction 0.4000 exceeds maximum 0.1000"},
	}))

	latest, err := runs.Latest(ctx)
	require.NoError(t, err)
	assert.Equal(t, "r2", latest.RunID)
	assert.Equal(t, models.RunOutcomeRejected, latest.Outcome)
	require.Len(t, latest.Reasons, 1)
	assert.True(t, latest.StartedAt.Equal(base.Add(time.Hour)))

	all, err := runs.List(ctx, 10)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "r1", all[1].RunID)
	assert.Empty(t, all[1].Reasons)
}

func TestPostgresHistoryRepository(t *testing.T) {
	db := database.SetupTestDB(t)
	ctx := context.Background()
	require.NoError(t, db.EnsureSchema(ctx))
	_, err := db.GetPool().Exec(ctx, `TRUNCATE historical_outcomes`)
	require.NoError(t, err)

	repo := NewPostgresHistoryRepository(db)
	require.NoError(t, repo.ReplaceRange(ctx, day(1), day(2), []models.HistoricalOutcomeRecord{
		historyRecord("a", day(1)),
		historyRecord("b", day(2)),
	}))
	require.NoError(t, repo.ReplaceRange(ctx, day(2), day(2), nil))

	records, err := repo.List(ctx, time.Time{}, time.Time{})
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "a", records[0].MatchID)
	assert.Equal(t, models.ResultHome, records[0].ActualOutcome.Result)

	n, err := repo.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}
