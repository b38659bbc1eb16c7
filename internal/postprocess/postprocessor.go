// Package postprocess turns a raw prediction batch into a calibrated candidate batch.
//
// Each outcome class is calibrated on its own curve and clamped into
// [MinP, 1-MinP]. The winner group is not renormalized afterwards, so
// home+draw+away may drift away from 1: the curves target per-class binary
// accuracy and renormalizing would change the meaning of every published
// value. Double chance is rebuilt from the calibrated marginals.
package postprocess

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/yourusername/goal-calibrator/internal/calibration"
	"github.com/yourusername/goal-calibrator/internal/models"
	"github.com/yourusername/goal-calibrator/internal/poisson"
)

// Config holds the postprocessing parameters
type Config struct {
	MinP            float64
	RoundPlaces     int32
	DeriveMissing   bool
	PoissonMaxGoals int
}

// Summary counts what happened to a batch
type Summary struct {
	Matches    int                              `json:"matches"`
	Incomplete int                              `json:"incomplete"`
	Derived    int                              `json:"derived_values"`
	Sources    map[models.CalibrationSource]int `json:"sources"`
	Leagues    map[string]int                   `json:"leagues"`
	Reranked   int                              `json:"correct_score_reranked"`
}

// Postprocessor applies calibration curves to raw predictions
type Postprocessor struct {
	cfg    Config
	logger logrus.FieldLogger
}

// New creates a postprocessor
func New(cfg Config, logger logrus.FieldLogger) *Postprocessor {
	if cfg.RoundPlaces <= 0 {
		cfg.RoundPlaces = 4
	}
	if cfg.PoissonMaxGoals <= 0 {
		cfg.PoissonMaxGoals = poisson.DefaultMaxGoals
	}
	return &Postprocessor{
		cfg:    cfg,
		logger: logger.WithField("component", "postprocessor"),
	}
}

// Process calibrates every prediction in order. It never drops a match: with
// no curves at all the pass only clamps.
func (p *Postprocessor) Process(raw models.RawBatch, curves *calibration.CurveSet) (models.PredictionBatch, *Summary) {
	summary := &Summary{
		Sources: make(map[models.CalibrationSource]int),
		Leagues: make(map[string]int),
	}
	rerank := curves.HasCorrectScoreCurves()

	out := make(models.PredictionBatch, 0, len(raw))
	for i := range raw {
		cp := p.processOne(&raw[i], curves, rerank, summary)
		if !cp.Complete() {
			summary.Incomplete++
		}
		summary.Leagues[cp.LeagueID]++
		out = append(out, cp)
	}
	summary.Matches = len(out)

	p.logger.WithFields(logrus.Fields{
		"matches":    summary.Matches,
		"incomplete": summary.Incomplete,
		"derived":    summary.Derived,
		"curves":     curves.Len(),
		"reranked":   summary.Reranked,
	}).Info("Postprocessed prediction batch")

	return out, summary
}

func (p *Postprocessor) processOne(r *models.RawPrediction, curves *calibration.CurveSet, rerank bool, summary *Summary) models.CalibratedPrediction {
	cp := models.CalibratedPrediction{
		MatchID:         r.MatchID,
		LeagueID:        r.LeagueID,
		LeagueName:      r.LeagueName,
		Country:         r.Country,
		HomeTeam:        r.HomeTeam,
		AwayTeam:        r.AwayTeam,
		Date:            r.KickoffTime,
		LambdaHome:      r.LambdaHome,
		LambdaAway:      r.LambdaAway,
		Calibration:     make(map[models.OutcomeClass]models.ClassCalibration),
		ProbableScorers: p.clampScorers(r.ProbableScorers),
		Odds:            r.Odds,
	}

	var matrix poisson.ScoreMatrix
	if p.cfg.DeriveMissing && (r.LambdaHome > 0 || r.LambdaAway > 0) {
		matrix = poisson.NewScoreMatrix(r.LambdaHome, r.LambdaAway, p.cfg.PoissonMaxGoals)
	}
	var derived map[models.OutcomeClass]float64
	if matrix != nil {
		derived = matrix.Markets()
	}

	for _, class := range models.CoreClasses() {
		raw, ok := r.RawProbabilities.Classes[class]
		isDerived := false
		if !ok {
			if raw, ok = derived[class]; !ok {
				continue
			}
			isDerived = true
			summary.Derived++
		}
		cp.Calibration[class] = p.calibrate(curves, r.LeagueID, class, raw, isDerived, summary)
	}
	// Extra classes pass through the same lookup so nothing is published uncalibrated
	r.RawProbabilities.Each(func(class models.OutcomeClass, raw float64) {
		if class.IsCore() || class.IsCorrectScore() {
			return
		}
		cp.Calibration[class] = p.calibrate(curves, r.LeagueID, class, raw, false, summary)
	})

	cp.Predictions = p.markets(cp.Calibration)

	scores := r.RawProbabilities.CorrectScore
	scoresDerived := false
	if len(scores) == 0 && matrix != nil {
		scores = matrix.CorrectScores()
		scoresDerived = true
	}
	if cs := p.correctScore(curves, r.LeagueID, scores, rerank); cs != nil {
		cp.Predictions.CorrectScore = cs
		if cs.Recalibrated {
			summary.Reranked++
		}
		if scoresDerived {
			summary.Derived++
		}
	}

	return cp
}

// calibrate resolves the curve for a class, applies it and clamps
func (p *Postprocessor) calibrate(curves *calibration.CurveSet, league string, class models.OutcomeClass, raw float64, derived bool, summary *Summary) models.ClassCalibration {
	curve, source := curves.Lookup(league, class)
	v := raw
	if curve != nil {
		v = curve.Apply(raw)
	}
	summary.Sources[source]++
	return models.ClassCalibration{
		Raw:     raw,
		Final:   p.bound(v),
		Source:  source,
		Derived: derived,
	}
}

// bound rounds to the published precision and clamps into the safe band.
// Clamping runs last so the serialized value always lies inside the band.
func (p *Postprocessor) bound(v float64) float64 {
	rounded, _ := decimal.NewFromFloat(v).Round(p.cfg.RoundPlaces).Float64()
	return calibration.Clamp(rounded, p.cfg.MinP)
}

func (p *Postprocessor) clampScorers(in *models.ProbableScorers) *models.ProbableScorers {
	if in == nil {
		return nil
	}
	clamp := func(list []models.Scorer) []models.Scorer {
		if list == nil {
			return nil
		}
		out := make([]models.Scorer, len(list))
		for i, s := range list {
			s.Probability = p.bound(s.Probability)
			out[i] = s
		}
		return out
	}
	return &models.ProbableScorers{Home: clamp(in.Home), Away: clamp(in.Away)}
}

// ReadRawBatch decodes and validates a raw batch. Duplicate match ids are rejected.
func ReadRawBatch(r io.Reader) (models.RawBatch, error) {
	var batch models.RawBatch
	if err := json.NewDecoder(r).Decode(&batch); err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrInvalidBatch, err)
	}

	seen := make(map[string]struct{}, len(batch))
	for i := range batch {
		if err := batch[i].Validate(); err != nil {
			return nil, err
		}
		if _, dup := seen[batch[i].MatchID]; dup {
			return nil, fmt.Errorf("%w: duplicate match_id %s", models.ErrInvalidBatch, batch[i].MatchID)
		}
		seen[batch[i].MatchID] = struct{}{}
	}
	return batch, nil
}
