package service

import (
	"context"
	"errors"
	"io"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/yourusername/goal-calibrator/internal/database"
	"github.com/yourusername/goal-calibrator/internal/datasource"
	"github.com/yourusername/goal-calibrator/internal/models"
	"github.com/yourusername/goal-calibrator/internal/repository"
)

// MockResultsSource mocks the upstream results provider
type MockResultsSource struct {
	mock.Mock
}

func (m *MockResultsSource) FetchResults(ctx context.Context, league string, from, to time.Time) ([]datasource.FixtureResult, error) {
	args := m.Called(ctx, league, from, to)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]datasource.FixtureResult), args.Error(1)
}

func (m *MockResultsSource) Name() string {
	return "mock"
}

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func goals(n int) *int { return &n }

func fixture(id, league, status string, date time.Time, home, away *int) datasource.FixtureResult {
	return datasource.FixtureResult{
		FixtureID: id,
		LeagueID:  league,
		Date:      date,
		Status:    status,
		HomeTeam:  "Home " + id,
		AwayTeam:  "Away " + id,
		HomeGoals: home,
		AwayGoals: away,
	}
}

func archivedPrediction(id, league string, kickoff time.Time, over25 float64) models.RawPrediction {
	probs := models.NewProbabilities()
	probs.Classes[models.ClassOver25] = over25
	return models.RawPrediction{
		MatchID:          id,
		LeagueID:         league,
		KickoffTime:      kickoff,
		HomeTeam:         "Home " + id,
		AwayTeam:         "Away " + id,
		RawProbabilities: probs,
	}
}

type fetcherFixture struct {
	source  *MockResultsSource
	archive *repository.SQLitePredictionArchive
	history *repository.FileHistoryRepository
	fetcher *HistoricalFetcher
}

func newFetcherFixture(t *testing.T, leagues ...string) *fetcherFixture {
	t.Helper()
	dir := t.TempDir()
	db, err := database.OpenSQLite(filepath.Join(dir, "calibrator.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	f := &fetcherFixture{
		source:  &MockResultsSource{},
		archive: repository.NewSQLitePredictionArchive(db),
		history: repository.NewFileHistoryRepository(filepath.Join(dir, "history.json")),
	}
	f.fetcher = NewHistoricalFetcher(f.source, f.archive, f.history, leagues, 2, quietLogger())
	return f
}

func TestFetchJoinsArchivedPredictions(t *testing.T) {
	ctx := context.Background()
	f := newFetcherFixture(t, "39")
	kickoff := time.Date(2026, 10, 4, 14, 0, 0, 0, time.UTC)
	from, to := kickoff.AddDate(0, 0, -1), kickoff.AddDate(0, 0, 1)

	_, err := f.archive.Archive(ctx, models.RawBatch{
		archivedPrediction("1", "39", kickoff, 0.62),
		archivedPrediction("2", "39", kickoff, 0.41),
	}, kickoff.Add(-24*time.Hour))
	require.NoError(t, err)

	f.source.On("FetchResults", mock.Anything, "39", from, to).Return([]datasource.FixtureResult{
		fixture("1", "39", "FT", kickoff, goals(2), goals(1)),
		fixture("2", "39", "PEN", kickoff, goals(1), goals(1)),
		fixture("3", "39", "FT", kickoff, goals(0), goals(0)), // never predicted
		fixture("4", "39", "PST", kickoff, nil, nil),
	}, nil)

	summary, err := f.fetcher.FetchAndStore(ctx, from, to)
	require.NoError(t, err)
	assert.Equal(t, 4, summary.Fixtures)
	assert.Equal(t, 3, summary.Finished)
	assert.Equal(t, 2, summary.Matched)
	assert.Equal(t, 1, summary.Unmatched)

	records, err := f.history.List(ctx, time.Time{}, time.Time{})
	require.NoError(t, err)
	require.Len(t, records, 2)

	assert.Equal(t, "1", records[0].MatchID)
	assert.Equal(t, models.ResultHome, records[0].ActualOutcome.Result)
	assert.True(t, records[0].ActualOutcome.Over25)
	v, _ := records[0].RawProbabilities.Get(models.ClassOver25)
	assert.Equal(t, 0.62, v)

	assert.Equal(t, models.ResultDraw, records[1].ActualOutcome.Result)
	assert.True(t, records[1].ActualOutcome.BTTS)

	// a second identical fetch leaves the same table
	_, err = f.fetcher.FetchAndStore(ctx, from, to)
	require.NoError(t, err)
	n, err := f.history.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	f.source.AssertExpectations(t)
}

func TestFetchFailsWholeCallOnUpstreamError(t *testing.T) {
	ctx := context.Background()
	f := newFetcherFixture(t, "39", "140")
	kickoff := time.Date(2026, 10, 4, 14, 0, 0, 0, time.UTC)

	_, err := f.archive.Archive(ctx, models.RawBatch{archivedPrediction("1", "39", kickoff, 0.6)}, kickoff.Add(-time.Hour))
	require.NoError(t, err)

	f.source.On("FetchResults", mock.Anything, "39", mock.Anything, mock.Anything).
		Return([]datasource.FixtureResult{fixture("1", "39", "FT", kickoff, goals(3), goals(0))}, nil).Maybe()
	f.source.On("FetchResults", mock.Anything, "140", mock.Anything, mock.Anything).
		Return(nil, datasource.NewDataSourceError("api-football", datasource.ErrCodeRateLimited, "retries exhausted", nil))

	_, err = f.fetcher.FetchAndStore(ctx, kickoff, kickoff)
	require.Error(t, err)
	assert.ErrorIs(t, err, models.ErrUpstreamUnavailable)

	n, err := f.history.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n, "no partial table is written")
}

func TestFetchWrapsPlainErrorsAsUpstreamUnavailable(t *testing.T) {
	f := newFetcherFixture(t, "39")
	f.source.On("FetchResults", mock.Anything, "39", mock.Anything, mock.Anything).
		Return(nil, errors.New("connection reset"))

	day := time.Date(2026, 10, 4, 0, 0, 0, 0, time.UTC)
	_, err := f.fetcher.Fetch(context.Background(), day, day)
	assert.ErrorIs(t, err, models.ErrUpstreamUnavailable)
	assert.Contains(t, err.Error(), "connection reset")
}

func TestFetchRejectsInvertedRange(t *testing.T) {
	f := newFetcherFixture(t, "39")
	day := time.Date(2026, 10, 4, 0, 0, 0, 0, time.UTC)
	_, err := f.fetcher.Fetch(context.Background(), day, day.AddDate(0, 0, -1))
	assert.Error(t, err)
	f.source.AssertNotCalled(t, "FetchResults", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}
