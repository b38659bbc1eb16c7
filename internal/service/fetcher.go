package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/yourusername/goal-calibrator/internal/datasource"
	"github.com/yourusername/goal-calibrator/internal/logger"
	"github.com/yourusername/goal-calibrator/internal/metrics"
	"github.com/yourusername/goal-calibrator/internal/models"
	"github.com/yourusername/goal-calibrator/internal/repository"
)

// FetchSummary counts what one fetch saw
type FetchSummary struct {
	From      time.Time     `json:"from"`
	To        time.Time     `json:"to"`
	Leagues   int           `json:"leagues"`
	Fixtures  int           `json:"fixtures"`
	Finished  int           `json:"finished"`
	Matched   int           `json:"matched"`
	Unmatched int           `json:"unmatched"`
	Duration  time.Duration `json:"duration"`
}

type leagueResult struct {
	records   []models.HistoricalOutcomeRecord
	fixtures  int
	finished  int
	unmatched int
}

// HistoricalFetcher builds training records from played fixtures and the
// predictions archived for them before kickoff
type HistoricalFetcher struct {
	source  datasource.ResultsSource
	archive repository.PredictionArchive
	history repository.HistoryRepository
	leagues []string
	workers int
	logger  logrus.FieldLogger
	plog    *logger.PipelineLogger
}

// NewHistoricalFetcher creates a fetcher over the configured leagues
func NewHistoricalFetcher(
	source datasource.ResultsSource,
	archive repository.PredictionArchive,
	history repository.HistoryRepository,
	leagues []string,
	workers int,
	log logrus.FieldLogger,
) *HistoricalFetcher {
	if workers <= 0 {
		workers = 1
	}
	return &HistoricalFetcher{
		source:  source,
		archive: archive,
		history: history,
		leagues: leagues,
		workers: workers,
		logger:  log.WithField("component", "fetcher"),
		plog:    logger.NewPipelineLogger(log),
	}
}

// Fetch returns the training records for every configured league played
// within [from, to]. Any league failing fails the whole call.
func (f *HistoricalFetcher) Fetch(ctx context.Context, from, to time.Time) ([]models.HistoricalOutcomeRecord, error) {
	records, _, err := f.fetch(ctx, from, to)
	return records, err
}

// FetchAndStore fetches the range and replaces it in the history table
func (f *HistoricalFetcher) FetchAndStore(ctx context.Context, from, to time.Time) (*FetchSummary, error) {
	records, summary, err := f.fetch(ctx, from, to)
	if err != nil {
		return nil, err
	}
	if err := f.history.ReplaceRange(ctx, from, to, records); err != nil {
		return nil, fmt.Errorf("failed to store history: %w", err)
	}
	f.logger.WithFields(logrus.Fields{
		"from":    from.Format("2006-01-02"),
		"to":      to.Format("2006-01-02"),
		"records": len(records),
	}).Info("History range replaced")
	return summary, nil
}

func (f *HistoricalFetcher) fetch(ctx context.Context, from, to time.Time) ([]models.HistoricalOutcomeRecord, *FetchSummary, error) {
	if to.Before(from) {
		return nil, nil, fmt.Errorf("invalid range: %s is before %s", to.Format("2006-01-02"), from.Format("2006-01-02"))
	}
	start := time.Now()

	results := make([]leagueResult, len(f.leagues))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(f.workers)
	for i, league := range f.leagues {
		g.Go(func() error {
			res, err := f.fetchLeague(gctx, league, from, to)
			if err != nil {
				return err
			}
			results[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}

	summary := &FetchSummary{From: from, To: to, Leagues: len(f.leagues)}
	var records []models.HistoricalOutcomeRecord
	for _, res := range results {
		records = append(records, res.records...)
		summary.Fixtures += res.fixtures
		summary.Finished += res.finished
		summary.Unmatched += res.unmatched
	}
	summary.Matched = len(records)
	summary.Duration = time.Since(start)

	sort.SliceStable(records, func(i, j int) bool {
		if !records[i].Date.Equal(records[j].Date) {
			return records[i].Date.Before(records[j].Date)
		}
		if records[i].LeagueID != records[j].LeagueID {
			return records[i].LeagueID < records[j].LeagueID
		}
		return records[i].MatchID < records[j].MatchID
	})

	metrics.RecordFetchDuration(summary.Duration.Seconds())
	return records, summary, nil
}

func (f *HistoricalFetcher) fetchLeague(ctx context.Context, league string, from, to time.Time) (leagueResult, error) {
	start := time.Now()
	fixtures, err := f.source.FetchResults(ctx, league, from, to)
	if err != nil {
		return leagueResult{}, f.upstreamError(league, err)
	}

	res := leagueResult{fixtures: len(fixtures)}
	for _, fx := range fixtures {
		if !fx.Finished() {
			continue
		}
		res.finished++

		leagueID := fx.LeagueID
		if leagueID == "" {
			leagueID = league
		}
		raw, err := f.archive.Lookup(ctx, fx.FixtureID, leagueID, fx.HomeTeam, fx.AwayTeam, fx.Date)
		if errors.Is(err, models.ErrNotFound) {
			res.unmatched++
			continue
		}
		if err != nil {
			return leagueResult{}, fmt.Errorf("league %s: archive lookup for fixture %s: %w", league, fx.FixtureID, err)
		}

		res.records = append(res.records, models.HistoricalOutcomeRecord{
			MatchID:          fx.FixtureID,
			LeagueID:         leagueID,
			Date:             fx.Date.UTC(),
			HomeTeam:         fx.HomeTeam,
			AwayTeam:         fx.AwayTeam,
			HomeGoals:        *fx.HomeGoals,
			AwayGoals:        *fx.AwayGoals,
			RawProbabilities: raw.RawProbabilities,
			ActualOutcome:    models.OutcomeFromGoals(*fx.HomeGoals, *fx.AwayGoals),
		})
	}

	metrics.RecordFetchedRecords(league, len(res.records), res.unmatched)
	f.plog.LogLeagueFetched(league, res.fixtures, res.finished, len(res.records), time.Since(start))
	return res, nil
}

// upstreamError makes every source failure detectable as ErrUpstreamUnavailable
func (f *HistoricalFetcher) upstreamError(league string, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("league %s: %w", league, err)
	}
	code := "unknown"
	var dsErr datasource.DataSourceError
	if errors.As(err, &dsErr) {
		code = dsErr.Code
	}
	metrics.RecordUpstreamError(code)
	if errors.Is(err, models.ErrUpstreamUnavailable) {
		return fmt.Errorf("league %s: %w", league, err)
	}
	return fmt.Errorf("league %s: %w: %w", league, models.ErrUpstreamUnavailable, err)
}
