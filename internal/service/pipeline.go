// Package service wires the calibration stages into commands and the daily run.
package service

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/yourusername/goal-calibrator/internal/calibration"
	"github.com/yourusername/goal-calibrator/internal/config"
	"github.com/yourusername/goal-calibrator/internal/gate"
	"github.com/yourusername/goal-calibrator/internal/logger"
	"github.com/yourusername/goal-calibrator/internal/metrics"
	"github.com/yourusername/goal-calibrator/internal/models"
	"github.com/yourusername/goal-calibrator/internal/postprocess"
	"github.com/yourusername/goal-calibrator/internal/promotion"
	"github.com/yourusername/goal-calibrator/internal/repository"
	"github.com/yourusername/goal-calibrator/internal/storage"
)

// Stage names used in logs
const (
	StageFetch       = "fetch"
	StageTrain       = "train"
	StagePostprocess = "postprocess"
	StageEvaluate    = "evaluate"
	StagePromote     = "promote"
)

const (
	candidatePrefix = "candidate_"
	fileTimeLayout  = "20060102T150405Z"
	notifyTimeout   = 10 * time.Second
)

// RunNotifier receives the outcome of every pipeline run
type RunNotifier interface {
	RunCompleted(ctx context.Context, run *models.PipelineRun) error
}

// Dependencies are the collaborators a Pipeline needs. Fetcher, Archive, Runs
// and Notifiers are optional.
type Dependencies struct {
	Fetcher   *HistoricalFetcher
	History   repository.HistoryRepository
	Curves    repository.CurveRepository
	Archive   repository.PredictionArchive
	Runs      repository.RunRepository
	Promoter  *promotion.Manager
	Notifiers []RunNotifier
}

// Pipeline runs fetch, train, postprocess, evaluate and promote
type Pipeline struct {
	cfg     *config.Config
	deps    Dependencies
	trainer *calibration.Trainer
	post    *postprocess.Postprocessor
	gate    *gate.Gate
	logger  logrus.FieldLogger
	plog    *logger.PipelineLogger
	audit   *logger.AuditLogger
	now     func() time.Time
}

// NewPipeline creates a pipeline from configuration
func NewPipeline(cfg *config.Config, deps Dependencies, log logrus.FieldLogger) *Pipeline {
	return &Pipeline{
		cfg:  cfg,
		deps: deps,
		trainer: calibration.NewTrainer(calibration.TrainerConfig{
			MinSamples:            cfg.Calibration.MinSamples,
			MinP:                  cfg.Calibration.MinP,
			Workers:               cfg.Calibration.Workers,
			CalibrateCorrectScore: cfg.Calibration.CalibrateCorrectScore,
		}, log),
		post: postprocess.New(postprocess.Config{
			MinP:            cfg.Calibration.MinP,
			RoundPlaces:     cfg.Calibration.RoundPlaces,
			DeriveMissing:   cfg.Calibration.DeriveMissing,
			PoissonMaxGoals: cfg.Calibration.PoissonMaxGoals,
		}, log),
		gate: gate.New(gate.Thresholds{
			Low:                    cfg.Gate.Low,
			High:                   cfg.Gate.High,
			ExtremityMax:           cfg.Gate.ExtremityMax,
			CoverageMin:            cfg.Gate.CoverageMin,
			CompareWithLive:        cfg.Gate.CompareWithLive,
			MaxExtremityRegression: cfg.Gate.MaxExtremityRegression,
			MaxCoverageRegression:  cfg.Gate.MaxCoverageRegression,
		}, log),
		logger: log.WithField("component", "service"),
		plog:   logger.NewPipelineLogger(log),
		audit:  logger.NewAuditLogger(log),
		now:    time.Now,
	}
}

// Gate exposes the safety gate for ad-hoc audits
func (p *Pipeline) Gate() *gate.Gate {
	return p.gate
}

// FetchHistory refreshes the history table for [from, to]
func (p *Pipeline) FetchHistory(ctx context.Context, from, to time.Time) (*FetchSummary, error) {
	if p.deps.Fetcher == nil {
		return nil, errors.New("no results source configured")
	}
	return p.deps.Fetcher.FetchAndStore(ctx, from, to)
}

// PreviewHistory fetches and joins [from, to] without storing anything
func (p *Pipeline) PreviewHistory(ctx context.Context, from, to time.Time) ([]models.HistoricalOutcomeRecord, error) {
	if p.deps.Fetcher == nil {
		return nil, errors.New("no results source configured")
	}
	return p.deps.Fetcher.Fetch(ctx, from, to)
}

// pruneArchive drops archived predictions that kicked off before the training
// window and the fetch lookback, since no future fetch can join them
func (p *Pipeline) pruneArchive(ctx context.Context, now time.Time) int {
	if p.deps.Archive == nil {
		return 0
	}
	cutoff := now.AddDate(0, 0, -(p.cfg.Calibration.WindowDays + p.cfg.Fetch.LookbackDays))
	n, err := p.deps.Archive.Prune(ctx, cutoff)
	if err != nil {
		p.logger.WithError(err).Warn("Failed to prune prediction archive")
		return 0
	}
	metrics.RecordArchivePruned(n)
	p.logger.WithFields(logrus.Fields{
		"pruned": n,
		"cutoff": cutoff.Format(time.RFC3339),
	}).Info("Prediction archive pruned")
	return n
}

// Stats describes the stored history and the quality of the active curve set
type Stats struct {
	HistoryRecords int                  `json:"history_records"`
	CurveRunID     string               `json:"curve_run_id,omitempty"`
	TrainedAt      *time.Time           `json:"trained_at,omitempty"`
	Curves         int                  `json:"curves"`
	Quality        *calibration.Quality `json:"quality,omitempty"`
}

// Stats reads the history size and the stored manifest. Without a trained
// set only the history size is filled.
func (p *Pipeline) Stats(ctx context.Context) (*Stats, error) {
	n, err := p.deps.History.Count(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to count history: %w", err)
	}
	stats := &Stats{HistoryRecords: n}

	m, err := p.deps.Curves.Manifest(ctx)
	if errors.Is(err, models.ErrNotFound) {
		return stats, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read curve manifest: %w", err)
	}
	trainedAt := m.TrainedAt
	stats.CurveRunID = m.RunID
	stats.TrainedAt = &trainedAt
	stats.Curves = len(m.Trained)
	stats.Quality = m.Quality
	return stats, nil
}

// Train fits a new curve set on the configured history window and stores it,
// superseding the previous set
func (p *Pipeline) Train(ctx context.Context) (*calibration.CurveSet, *calibration.TrainingSummary, error) {
	to := p.now().UTC()
	from := to.AddDate(0, 0, -p.cfg.Calibration.WindowDays)

	records, err := p.deps.History.List(ctx, from, to)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load history: %w", err)
	}

	set, summary, err := p.trainer.Train(ctx, records)
	if err != nil {
		return nil, nil, err
	}
	if err := p.deps.Curves.ReplaceAll(ctx, set, calibration.NewManifest(set, summary)); err != nil {
		return nil, nil, fmt.Errorf("failed to store curves: %w", err)
	}

	for _, c := range set.Curves {
		status := "trained"
		if c.Degenerate {
			status = "degenerate"
		}
		metrics.RecordCurve(string(c.Class), status)
	}
	for _, s := range summary.Skipped {
		metrics.RecordCurve(string(s.Class), "skipped")
	}
	metrics.RecordTrainingDuration(summary.Duration.Seconds())
	if q := summary.Quality; q != nil {
		for _, c := range q.Classes {
			metrics.RecordClassBrier(string(c.Class), c.BrierRaw, c.BrierCalibrated)
		}
		if w := q.Winner; w != nil {
			metrics.RecordWinnerQuality(w.LogLossRaw, w.LogLossCalibrated, w.AccuracyRaw, w.AccuracyCalibrated)
		}
	}

	return set, summary, nil
}

// LoadRawBatch reads and validates a raw batch file
func (p *Pipeline) LoadRawBatch(path string) (models.RawBatch, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open raw batch: %w", err)
	}
	defer f.Close()
	return postprocess.ReadRawBatch(f)
}

// Postprocess archives the raw batch and calibrates it with the stored curves.
// Without stored curves every class is clamped only.
func (p *Pipeline) Postprocess(ctx context.Context, raw models.RawBatch) (models.PredictionBatch, *postprocess.Summary, error) {
	curves, err := p.deps.Curves.Load(ctx)
	if err != nil {
		if !errors.Is(err, models.ErrNotFound) {
			return nil, nil, fmt.Errorf("failed to load curves: %w", err)
		}
		p.logger.Warn("No calibration curves stored, using identity calibration")
		curves = nil
	}

	if p.deps.Archive != nil {
		n, err := p.deps.Archive.Archive(ctx, raw, p.now())
		if err != nil {
			return nil, nil, fmt.Errorf("failed to archive raw predictions: %w", err)
		}
		p.logger.WithField("archived", n).Debug("Raw predictions archived")
	}

	batch, summary := p.post.Process(raw, curves)
	metrics.RecordPostprocessed(summary.Matches-summary.Incomplete, summary.Incomplete)
	return batch, summary, nil
}

// SaveCandidate writes the batch under candidates_dir and prunes old candidates.
// Rejected candidates survive pruning as a copy under reports_dir.
func (p *Pipeline) SaveCandidate(batch models.PredictionBatch, runID string) (string, error) {
	name := fmt.Sprintf("%s%s_%s.json", candidatePrefix, p.now().UTC().Format(fileTimeLayout), shortID(runID))
	path := filepath.Join(p.cfg.Paths.CandidatesDir, name)
	if err := storage.WriteJSONAtomic(path, batch); err != nil {
		return "", fmt.Errorf("failed to write candidate: %w", err)
	}
	if keep := p.cfg.Promotion.KeepCandidates; keep > 0 {
		if err := pruneFiles(p.cfg.Paths.CandidatesDir, candidatePrefix, keep); err != nil {
			p.logger.WithError(err).Warn("Failed to prune old candidates")
		}
	}
	return path, nil
}

// ReadCandidate decodes a candidate batch file
func (p *Pipeline) ReadCandidate(path string) (models.PredictionBatch, error) {
	var batch models.PredictionBatch
	if err := storage.ReadJSON(path, &batch); err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("%v: %w", err, models.ErrInvalidBatch)
	}
	return batch, nil
}

// Evaluate runs the safety gate against the live batch and stores the report
// under reports_dir. A rejection is reported in the decision, not as an error.
func (p *Pipeline) Evaluate(ctx context.Context, candidate models.PredictionBatch, candidatePath string) (*gate.Report, string, error) {
	live, err := p.deps.Promoter.Live()
	if err != nil {
		if !errors.Is(err, models.ErrNotFound) {
			return nil, "", fmt.Errorf("failed to read live batch: %w", err)
		}
		live = nil
	}

	report := p.gate.Evaluate(candidate, live)
	report.CandidatePath = candidatePath
	if manifest, err := p.deps.Curves.Manifest(ctx); err == nil {
		report.DegenerateCurves = manifest.DegenerateKeys()
	} else if !errors.Is(err, models.ErrNotFound) {
		p.logger.WithError(err).Warn("Failed to read curve manifest")
	}

	metrics.RecordGateDecision(report.Decision.Accepted, report.Candidate.Extremity, report.Candidate.Coverage)

	to := promotion.StateEvaluatedAccepted
	if !report.Decision.Accepted {
		to = promotion.StateEvaluatedRejected
		p.audit.LogRejection(report.RunID, candidatePath, report.Candidate.Extremity, report.Candidate.Coverage, report.Decision.Reasons)
	}
	p.audit.LogStateTransition(report.RunID, promotion.StateCandidateBuilt.String(), to.String(), map[string]interface{}{
		"candidate": candidatePath,
		"extremity": report.Candidate.Extremity,
		"coverage":  report.Candidate.Coverage,
	})

	if !report.Decision.Accepted && candidatePath != "" {
		report.RetainedPath = p.retainRejected(report, candidatePath)
	}

	reportPath := filepath.Join(p.cfg.Paths.ReportsDir, report.FileName())
	if err := storage.WriteJSONAtomic(reportPath, report); err != nil {
		return report, "", fmt.Errorf("failed to write report: %w", err)
	}
	return report, reportPath, nil
}

// retainRejected copies a rejected candidate next to its report, out of reach
// of candidate pruning. Failure only loses the copy.
func (p *Pipeline) retainRejected(report *gate.Report, candidatePath string) string {
	dst := filepath.Join(p.cfg.Paths.ReportsDir, report.RetainedFileName())
	if _, err := storage.CopyExclusive(candidatePath, dst); err != nil {
		p.logger.WithError(err).WithField("candidate", candidatePath).Warn("Failed to retain rejected candidate")
		return ""
	}
	return dst
}

// PromoteCandidate evaluates and promotes a candidate file. With force the
// gate is skipped. A rejected candidate returns a nil result and no error.
func (p *Pipeline) PromoteCandidate(ctx context.Context, candidatePath string, force bool) (*promotion.Result, *gate.Report, error) {
	if force {
		p.logger.WithField("candidate", candidatePath).Warn("Promoting without safety gate")
		res, err := p.deps.Promoter.Promote(ctx, candidatePath)
		return res, nil, err
	}

	candidate, err := p.ReadCandidate(candidatePath)
	if err != nil {
		return nil, nil, err
	}
	report, _, err := p.Evaluate(ctx, candidate, candidatePath)
	if err != nil {
		return nil, report, err
	}
	if !report.Decision.Accepted {
		return nil, report, nil
	}
	res, err := p.deps.Promoter.Promote(ctx, candidatePath)
	return res, report, err
}

// Rollback restores a backup as the live artifact
func (p *Pipeline) Rollback(ctx context.Context, backupID string) (*promotion.Result, error) {
	return p.deps.Promoter.Rollback(ctx, backupID)
}

// Backups lists backups of the live artifact, newest first
func (p *Pipeline) Backups() ([]models.BackupRecord, error) {
	return p.deps.Promoter.ListBackups()
}

// RetainBackups deletes all but the newest keep backups
func (p *Pipeline) RetainBackups(keep int) ([]string, error) {
	return p.deps.Promoter.Retain(keep)
}

// Runs lists recorded runs, newest first
func (p *Pipeline) Runs(ctx context.Context, limit int) ([]models.PipelineRun, error) {
	if p.deps.Runs == nil {
		return nil, models.ErrNotFound
	}
	return p.deps.Runs.List(ctx, limit)
}

// LastRun returns the most recent recorded run
func (p *Pipeline) LastRun(ctx context.Context) (*models.PipelineRun, error) {
	if p.deps.Runs == nil {
		return nil, models.ErrNotFound
	}
	return p.deps.Runs.Latest(ctx)
}

// Run executes every stage once. A gate rejection ends the run with outcome
// REJECTED and no error; stage failures end it with outcome FAILED.
func (p *Pipeline) Run(ctx context.Context) (*models.PipelineRun, error) {
	run := &models.PipelineRun{
		RunID:     uuid.New().String(),
		StartedAt: p.now().UTC(),
	}

	err := p.run(ctx, run)
	run.FinishedAt = p.now().UTC()
	if err != nil {
		run.Outcome = models.RunOutcomeFailed
		run.Error = err.Error()
	}
	p.finish(ctx, run)
	return run, err
}

func (p *Pipeline) run(ctx context.Context, run *models.PipelineRun) error {
	if p.deps.Fetcher != nil {
		to := run.StartedAt
		from := to.AddDate(0, 0, -p.cfg.Fetch.LookbackDays)
		if err := p.stage(run.RunID, StageFetch, func() (map[string]interface{}, error) {
			s, err := p.FetchHistory(ctx, from, to)
			if err != nil {
				return nil, err
			}
			return map[string]interface{}{"matched": s.Matched, "unmatched": s.Unmatched, "finished": s.Finished}, nil
		}); err != nil {
			return err
		}
	}
	p.pruneArchive(ctx, run.StartedAt)

	if err := p.stage(run.RunID, StageTrain, func() (map[string]interface{}, error) {
		_, s, err := p.Train(ctx)
		if errors.Is(err, calibration.ErrNoTrainingData) {
			p.logger.Warn("No history in window, keeping stored curves")
			return map[string]interface{}{"records": 0}, nil
		}
		if err != nil {
			return nil, err
		}
		return map[string]interface{}{"records": s.Records, "trained": s.Trained, "skipped": len(s.Skipped)}, nil
	}); err != nil {
		return err
	}

	var (
		candidate     models.PredictionBatch
		candidatePath string
	)
	if err := p.stage(run.RunID, StagePostprocess, func() (map[string]interface{}, error) {
		raw, err := p.LoadRawBatch(p.cfg.Paths.RawBatch)
		if err != nil {
			return nil, err
		}
		batch, s, err := p.Postprocess(ctx, raw)
		if err != nil {
			return nil, err
		}
		path, err := p.SaveCandidate(batch, run.RunID)
		if err != nil {
			return nil, err
		}
		candidate, candidatePath = batch, path
		return map[string]interface{}{"matches": s.Matches, "incomplete": s.Incomplete, "candidate": path}, nil
	}); err != nil {
		return err
	}
	run.Matches = len(candidate)

	var report *gate.Report
	if err := p.stage(run.RunID, StageEvaluate, func() (map[string]interface{}, error) {
		r, path, err := p.Evaluate(ctx, candidate, candidatePath)
		if err != nil {
			return nil, err
		}
		report = r
		run.ReportPath = path
		return map[string]interface{}{"accepted": r.Decision.Accepted, "extremity": r.Candidate.Extremity, "coverage": r.Candidate.Coverage}, nil
	}); err != nil {
		return err
	}
	run.Extremity = report.Candidate.Extremity
	run.Coverage = report.Candidate.Coverage

	if !report.Decision.Accepted {
		run.Outcome = models.RunOutcomeRejected
		run.Reasons = report.Decision.Reasons
		return nil
	}

	if err := p.stage(run.RunID, StagePromote, func() (map[string]interface{}, error) {
		res, err := p.deps.Promoter.Promote(ctx, candidatePath)
		if err != nil {
			return nil, err
		}
		backup := ""
		if res.Backup != nil {
			backup = res.Backup.ID
		}
		return map[string]interface{}{"state": res.State.String(), "backup_id": backup}, nil
	}); err != nil {
		return err
	}
	run.Outcome = models.RunOutcomePromoted
	return nil
}

func (p *Pipeline) stage(runID, name string, fn func() (map[string]interface{}, error)) error {
	start := time.Now()
	p.plog.LogStageStart(runID, name)
	counters, err := fn()
	if err != nil {
		p.plog.LogStageFailed(runID, name, err)
		return fmt.Errorf("%s: %w", name, err)
	}
	p.plog.LogStageComplete(runID, name, time.Since(start), counters)
	return nil
}

// finish records the run and tells the notifiers. Neither can fail the run.
func (p *Pipeline) finish(ctx context.Context, run *models.PipelineRun) {
	metrics.RecordPipelineRun(run.Outcome, run.FinishedAt.Sub(run.StartedAt).Seconds())

	nctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), notifyTimeout)
	defer cancel()

	if p.deps.Runs != nil {
		if err := p.deps.Runs.Record(nctx, run); err != nil {
			p.logger.WithError(err).Error("Failed to record pipeline run")
		}
	}
	for _, n := range p.deps.Notifiers {
		if err := n.RunCompleted(nctx, run); err != nil {
			p.logger.WithError(err).Warn("Run notifier failed")
		}
	}

	entry := p.logger.WithFields(logrus.Fields{
		"run_id":   run.RunID,
		"outcome":  run.Outcome,
		"matches":  run.Matches,
		"duration": run.FinishedAt.Sub(run.StartedAt).String(),
	})
	switch run.Outcome {
	case models.RunOutcomePromoted:
		entry.Info("Pipeline run promoted a new batch")
	case models.RunOutcomeRejected:
		entry.WithField("reasons", run.Reasons).Warn("Pipeline run rejected the candidate, live batch unchanged")
	default:
		entry.WithField("error", run.Error).Error("Pipeline run failed")
	}
}

// pruneFiles keeps the newest keep files with prefix. Names embed a sortable timestamp.
func pruneFiles(dir, prefix string, keep int) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return err
	}
	var names []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasPrefix(e.Name(), prefix) {
			names = append(names, e.Name())
		}
	}
	if len(names) <= keep {
		return nil
	}
	sort.Sort(sort.Reverse(sort.StringSlice(names)))
	for _, name := range names[keep:] {
		if err := os.Remove(filepath.Join(dir, name)); err != nil && !errors.Is(err, os.ErrNotExist) {
			return err
		}
	}
	return nil
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
