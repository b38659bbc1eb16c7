package service

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yourusername/goal-calibrator/internal/config"
	"github.com/yourusername/goal-calibrator/internal/database"
	"github.com/yourusername/goal-calibrator/internal/models"
	"github.com/yourusername/goal-calibrator/internal/promotion"
	"github.com/yourusername/goal-calibrator/internal/repository"
)

type recordingNotifier struct {
	runs []models.PipelineRun
}

func (n *recordingNotifier) RunCompleted(_ context.Context, run *models.PipelineRun) error {
	n.runs = append(n.runs, *run)
	return nil
}

type pipelineFixture struct {
	cfg      *config.Config
	pipeline *Pipeline
	history  *repository.FileHistoryRepository
	archive  *repository.SQLitePredictionArchive
	runs     *repository.SQLiteRunRepository
	notifier *recordingNotifier
}

func testConfig(dir string) *config.Config {
	return &config.Config{
		Paths: config.PathsConfig{
			RawBatch:      filepath.Join(dir, "raw.json"),
			Live:          filepath.Join(dir, "live", "predictions.json"),
			BackupsDir:    filepath.Join(dir, "backups"),
			CandidatesDir: filepath.Join(dir, "candidates"),
			ReportsDir:    filepath.Join(dir, "reports"),
			CurvesDir:     filepath.Join(dir, "curves"),
			History:       filepath.Join(dir, "history.json"),
		},
		Calibration: config.CalibrationConfig{
			MinSamples:      150,
			MinP:            0.01,
			Workers:         2,
			RoundPlaces:     4,
			WindowDays:      365,
			PoissonMaxGoals: 6,
		},
		Gate: config.GateConfig{
			Low:          0.005,
			High:         0.995,
			ExtremityMax: 0.10,
			CoverageMin:  0.90,
		},
		Promotion: config.PromotionConfig{KeepCandidates: 2},
	}
}

func newPipelineFixture(t *testing.T) *pipelineFixture {
	t.Helper()
	dir := t.TempDir()
	cfg := testConfig(dir)

	db, err := database.OpenSQLite(filepath.Join(dir, "calibrator.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	f := &pipelineFixture{
		cfg:      cfg,
		history:  repository.NewFileHistoryRepository(cfg.Paths.History),
		archive:  repository.NewSQLitePredictionArchive(db),
		runs:     repository.NewSQLiteRunRepository(db),
		notifier: &recordingNotifier{},
	}
	f.pipeline = NewPipeline(cfg, Dependencies{
		History:   f.history,
		Curves:    repository.NewFileCurveRepository(cfg.Paths.CurvesDir),
		Archive:   f.archive,
		Runs:      f.runs,
		Promoter:  promotion.NewManager(promotion.Config{LivePath: cfg.Paths.Live, BackupsDir: cfg.Paths.BackupsDir}, quietLogger()),
		Notifiers: []RunNotifier{f.notifier},
	}, quietLogger())
	return f
}

// seedOver25History stores n records whose raw over_2_5 lies in [0.7, 0.8)
// and where four in five matches went over 2.5 goals
func (f *pipelineFixture) seedOver25History(t *testing.T, n int) {
	t.Helper()
	date := time.Now().UTC().AddDate(0, 0, -10)
	records := make([]models.HistoricalOutcomeRecord, 0, n)
	for i := 0; i < n; i++ {
		probs := models.NewProbabilities()
		probs.Classes[models.ClassOver25] = 0.7 + 0.1*float64(i)/float64(n)
		home, away := 2, 1
		if i%5 == 4 {
			home, away = 1, 0
		}
		records = append(records, models.HistoricalOutcomeRecord{
			MatchID:          fmt.Sprintf("h%d", i),
			LeagueID:         "39",
			Date:             date,
			HomeGoals:        home,
			AwayGoals:        away,
			RawProbabilities: probs,
			ActualOutcome:    models.OutcomeFromGoals(home, away),
		})
	}
	require.NoError(t, f.history.ReplaceRange(context.Background(), date, date, records))
}

func fullRaw(id string, over25 float64) models.RawPrediction {
	probs := models.NewProbabilities()
	probs.Classes[models.ClassWinnerHome] = 0.45
	probs.Classes[models.ClassWinnerDraw] = 0.30
	probs.Classes[models.ClassWinnerAway] = 0.25
	probs.Classes[models.ClassOver15] = 0.70
	probs.Classes[models.ClassOver25] = over25
	probs.Classes[models.ClassBTTSYes] = 0.50
	probs.CorrectScore["1-0"] = 0.12
	probs.CorrectScore["1-1"] = 0.11
	probs.CorrectScore["2-1"] = 0.09
	return models.RawPrediction{
		MatchID:          id,
		LeagueID:         "39",
		KickoffTime:      time.Now().UTC().Add(48 * time.Hour),
		HomeTeam:         "Home " + id,
		AwayTeam:         "Away " + id,
		LambdaHome:       1.5,
		LambdaAway:       1.1,
		RawProbabilities: probs,
	}
}

func (f *pipelineFixture) writeRaw(t *testing.T, batch models.RawBatch) {
	t.Helper()
	data, err := json.Marshal(batch)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(f.cfg.Paths.RawBatch, data, 0o644))
}

// TestRunCalibratesOver25Bucket tests the end-to-end scenario: history where
// 80% of raw 0.7-0.8 over_2_5 predictions went over, and a new raw 0.75
func TestRunCalibratesOver25Bucket(t *testing.T) {
	f := newPipelineFixture(t)
	f.seedOver25History(t, 200)
	f.writeRaw(t, models.RawBatch{fullRaw("m1", 0.75), fullRaw("m2", 0.72)})

	run, err := f.pipeline.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, models.RunOutcomePromoted, run.Outcome)
	assert.Equal(t, 2, run.Matches)
	assert.FileExists(t, run.ReportPath)

	live, err := f.pipeline.deps.Promoter.Live()
	require.NoError(t, err)
	require.Len(t, live, 2)

	over := live[0].Predictions.Over25.Prob
	assert.GreaterOrEqual(t, over, 0.75)
	assert.LessOrEqual(t, over, 0.85)
	assert.Equal(t, models.SourceLeague, live[0].Calibration[models.ClassOver25].Source)
	assert.Equal(t, models.SourceIdentity, live[0].Calibration[models.ClassBTTSYes].Source)
	assert.True(t, live[0].Complete())

	latest, err := f.pipeline.LastRun(context.Background())
	require.NoError(t, err)
	assert.Equal(t, run.RunID, latest.RunID)
	require.Len(t, f.notifier.runs, 1)
	assert.Equal(t, models.RunOutcomePromoted, f.notifier.runs[0].Outcome)
}

// TestRunRejectionLeavesLiveUntouched tests that a rejected candidate never
// changes the live artifact or creates a backup
func TestRunRejectionLeavesLiveUntouched(t *testing.T) {
	f := newPipelineFixture(t)

	liveBytes := []byte(`[{"match_id":"old","league_id":"39","home_team":"A","away_team":"B","date":"2026-10-01T15:00:00Z","predictions":{}}]` + "\n")
	require.NoError(t, os.MkdirAll(filepath.Dir(f.cfg.Paths.Live), 0o755))
	require.NoError(t, os.WriteFile(f.cfg.Paths.Live, liveBytes, 0o644))

	// winner only, no lambdas: every match is incomplete and coverage is 0
	var raw models.RawBatch
	for i := 0; i < 5; i++ {
		p := fullRaw(fmt.Sprint(i), 0.5)
		p.LambdaHome, p.LambdaAway = 0, 0
		delete(p.RawProbabilities.Classes, models.ClassOver25)
		delete(p.RawProbabilities.Classes, models.ClassOver15)
		delete(p.RawProbabilities.Classes, models.ClassBTTSYes)
		raw = append(raw, p)
	}
	f.writeRaw(t, raw)

	run, err := f.pipeline.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, models.RunOutcomeRejected, run.Outcome)
	require.NotEmpty(t, run.Reasons)
	assert.Contains(t, run.Reasons[0], "coverage")

	after, err := os.ReadFile(f.cfg.Paths.Live)
	require.NoError(t, err)
	assert.Equal(t, liveBytes, after)

	backups, err := f.pipeline.Backups()
	require.NoError(t, err)
	assert.Empty(t, backups)
}

// TestRunFailsOnInvalidRawBatch tests the FAILED outcome and that it is recorded
func TestRunFailsOnInvalidRawBatch(t *testing.T) {
	f := newPipelineFixture(t)
	require.NoError(t, os.WriteFile(f.cfg.Paths.RawBatch, []byte(`{"broken":`), 0o644))

	run, err := f.pipeline.Run(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, models.ErrInvalidBatch)
	assert.Equal(t, models.RunOutcomeFailed, run.Outcome)
	assert.NoFileExists(t, f.cfg.Paths.Live)

	latest, err := f.runs.Latest(context.Background())
	require.NoError(t, err)
	assert.Equal(t, models.RunOutcomeFailed, latest.Outcome)
	assert.NotEmpty(t, latest.Error)
}

// TestPostprocessWithoutCurvesClampsOnly tests identity calibration when
// training never ran
func TestPostprocessWithoutCurvesClampsOnly(t *testing.T) {
	f := newPipelineFixture(t)
	raw := fullRaw("m1", 0.999)

	batch, summary, err := f.pipeline.Postprocess(context.Background(), models.RawBatch{raw})
	require.NoError(t, err)
	require.Len(t, batch, 1)
	assert.Equal(t, 0.99, batch[0].Predictions.Over25.Prob)
	assert.Equal(t, 0, summary.Incomplete)
	assert.Equal(t, models.SourceIdentity, batch[0].Calibration[models.ClassOver25].Source)
}

// TestPromoteCandidateHonoursGate tests promote with and without force
func TestPromoteCandidateHonoursGate(t *testing.T) {
	ctx := context.Background()
	f := newPipelineFixture(t)

	bad := fullRaw("bad", 0.5)
	bad.LambdaHome, bad.LambdaAway = 0, 0
	bad.RawProbabilities.CorrectScore = nil
	batch, _, err := f.pipeline.Postprocess(ctx, models.RawBatch{bad})
	require.NoError(t, err)
	path, err := f.pipeline.SaveCandidate(batch, "run-bad")
	require.NoError(t, err)

	res, report, err := f.pipeline.PromoteCandidate(ctx, path, false)
	require.NoError(t, err)
	assert.Nil(t, res)
	require.NotNil(t, report)
	assert.False(t, report.Decision.Accepted)
	assert.NoFileExists(t, f.cfg.Paths.Live)

	res, _, err = f.pipeline.PromoteCandidate(ctx, path, true)
	require.NoError(t, err)
	assert.Equal(t, promotion.StatePromoted, res.State)
	assert.FileExists(t, f.cfg.Paths.Live)
}

// TestSaveCandidatePrunesOldCandidates tests keep_candidates
func TestSaveCandidatePrunesOldCandidates(t *testing.T) {
	f := newPipelineFixture(t)
	clock := time.Date(2026, 10, 1, 6, 0, 0, 0, time.UTC)
	f.pipeline.now = func() time.Time { return clock }

	for i := 0; i < 4; i++ {
		_, err := f.pipeline.SaveCandidate(models.PredictionBatch{}, fmt.Sprintf("run-%d", i))
		require.NoError(t, err)
		clock = clock.Add(time.Minute)
	}

	entries, err := os.ReadDir(f.cfg.Paths.CandidatesDir)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Contains(t, entries[1].Name(), "20261001T060300Z")
}

// TestRunPrunesArchiveOutsideWindow tests that archived predictions older than
// the training window are deleted while recent ones stay joinable
func TestRunPrunesArchiveOutsideWindow(t *testing.T) {
	ctx := context.Background()
	f := newPipelineFixture(t)

	old := fullRaw("old", 0.6)
	old.KickoffTime = time.Now().UTC().AddDate(0, 0, -400)
	recent := fullRaw("recent", 0.6)
	recent.KickoffTime = time.Now().UTC().AddDate(0, 0, -30)
	for _, p := range []models.RawPrediction{old, recent} {
		n, err := f.archive.Archive(ctx, models.RawBatch{p}, p.KickoffTime.Add(-time.Hour))
		require.NoError(t, err)
		require.Equal(t, 1, n)
	}
	f.writeRaw(t, models.RawBatch{fullRaw("m1", 0.6)})

	_, err := f.pipeline.Run(ctx)
	require.NoError(t, err)

	_, err = f.archive.Lookup(ctx, "old", old.LeagueID, old.HomeTeam, old.AwayTeam, old.KickoffTime)
	assert.ErrorIs(t, err, models.ErrNotFound)
	_, err = f.archive.Lookup(ctx, "recent", recent.LeagueID, recent.HomeTeam, recent.AwayTeam, recent.KickoffTime)
	assert.NoError(t, err)
}

// TestRejectedCandidateSurvivesPruning tests that a rejected candidate is kept
// next to its report after newer candidates push it out of candidates_dir
func TestRejectedCandidateSurvivesPruning(t *testing.T) {
	ctx := context.Background()
	f := newPipelineFixture(t)
	clock := time.Date(2026, 10, 1, 6, 0, 0, 0, time.UTC)
	f.pipeline.now = func() time.Time { return clock }

	bad := fullRaw("bad", 0.5)
	bad.LambdaHome, bad.LambdaAway = 0, 0
	bad.RawProbabilities.CorrectScore = nil
	batch, _, err := f.pipeline.Postprocess(ctx, models.RawBatch{bad})
	require.NoError(t, err)
	path, err := f.pipeline.SaveCandidate(batch, "run-bad")
	require.NoError(t, err)
	original, err := os.ReadFile(path)
	require.NoError(t, err)

	res, report, err := f.pipeline.PromoteCandidate(ctx, path, false)
	require.NoError(t, err)
	assert.Nil(t, res)
	require.NotEmpty(t, report.RetainedPath)
	assert.Equal(t, f.cfg.Paths.ReportsDir, filepath.Dir(report.RetainedPath))

	for i := 0; i < 3; i++ {
		clock = clock.Add(time.Minute)
		_, err := f.pipeline.SaveCandidate(models.PredictionBatch{}, fmt.Sprintf("run-%d", i))
		require.NoError(t, err)
	}
	assert.NoFileExists(t, path)

	kept, err := os.ReadFile(report.RetainedPath)
	require.NoError(t, err)
	assert.Equal(t, original, kept)

	var stored map[string]interface{}
	reportBytes, err := os.ReadFile(filepath.Join(f.cfg.Paths.ReportsDir, report.FileName()))
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(reportBytes, &stored))
	assert.Equal(t, report.RetainedPath, stored["retained_candidate_path"])
}

// TestStatsReportsCalibrationQuality tests history size and the stored quality scores
func TestStatsReportsCalibrationQuality(t *testing.T) {
	ctx := context.Background()
	f := newPipelineFixture(t)
	f.seedOver25History(t, 200)

	stats, err := f.pipeline.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 200, stats.HistoryRecords)
	assert.Nil(t, stats.Quality)
	assert.Nil(t, stats.TrainedAt)

	_, summary, err := f.pipeline.Train(ctx)
	require.NoError(t, err)

	stats, err = f.pipeline.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, summary.RunID, stats.CurveRunID)
	assert.Equal(t, summary.Trained, stats.Curves)
	require.NotNil(t, stats.Quality)
	over, ok := stats.Quality.Class(models.ClassOver25)
	require.True(t, ok)
	assert.Equal(t, 200, over.Samples)
	assert.Less(t, over.BrierCalibrated, over.BrierRaw)
}

// TestRunsListsRecordedRuns tests the run log newest first
func TestRunsListsRecordedRuns(t *testing.T) {
	ctx := context.Background()
	f := newPipelineFixture(t)
	require.NoError(t, os.WriteFile(f.cfg.Paths.RawBatch, []byte(`{"broken":`), 0o644))
	clock := time.Now().UTC()
	f.pipeline.now = func() time.Time { return clock }

	first, _ := f.pipeline.Run(ctx)
	clock = clock.Add(time.Minute)
	second, _ := f.pipeline.Run(ctx)

	runs, err := f.pipeline.Runs(ctx, 10)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, second.RunID, runs[0].RunID)
	assert.Equal(t, first.RunID, runs[1].RunID)

	removed, err := f.pipeline.RetainBackups(1)
	require.NoError(t, err)
	assert.Empty(t, removed)
}
