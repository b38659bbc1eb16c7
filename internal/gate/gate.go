// Package gate decides whether a candidate batch may replace the live batch.
package gate

import (
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/yourusername/goal-calibrator/internal/models"
)

const maxSampleDiffs = 20

// Thresholds configure the extremity and coverage checks
type Thresholds struct {
	Low                    float64 `json:"low"`
	High                   float64 `json:"high"`
	ExtremityMax           float64 `json:"extremity_max"`
	CoverageMin            float64 `json:"coverage_min"`
	CompareWithLive        bool    `json:"compare_with_live"`
	MaxExtremityRegression float64 `json:"max_extremity_regression"`
	MaxCoverageRegression  float64 `json:"max_coverage_regression"`
}

// LeagueStats breaks batch statistics down by league
type LeagueStats struct {
	Matches       int `json:"matches"`
	Values        int `json:"values"`
	ExtremeValues int `json:"extreme_values"`
	Incomplete    int `json:"incomplete"`
}

// BatchStats are the extremity and coverage numbers of one batch
type BatchStats struct {
	Matches       int                     `json:"matches"`
	Values        int                     `json:"values"`
	ExtremeValues int                     `json:"extreme_values"`
	Extremity     float64                 `json:"extremity_fraction"`
	Complete      int                     `json:"complete"`
	Coverage      float64                 `json:"coverage_fraction"`
	Leagues       map[string]*LeagueStats `json:"leagues"`
}

// Decision is the accept/reject verdict. Rejection is a normal outcome.
type Decision struct {
	Accepted bool     `json:"accepted"`
	Reasons  []string `json:"reasons,omitempty"`
}

// SampleDiff shows how one published value moved between live and candidate
type SampleDiff struct {
	Key       string  `json:"key"`
	Field     string  `json:"field"`
	Live      float64 `json:"live"`
	Candidate float64 `json:"candidate"`
}

// Report is the diagnostic record kept for every evaluation
type Report struct {
	RunID            string       `json:"run_id"`
	EvaluatedAt      time.Time    `json:"evaluated_at"`
	Thresholds       Thresholds   `json:"thresholds"`
	Candidate        BatchStats   `json:"candidate"`
	Live             *BatchStats  `json:"live,omitempty"`
	Decision         Decision     `json:"decision"`
	DegenerateCurves []string     `json:"degenerate_curves,omitempty"`
	Added            int          `json:"added"`
	Removed          int          `json:"removed"`
	SampleDiffs      []SampleDiff `json:"sample_diffs,omitempty"`
	CandidatePath    string       `json:"candidate_path,omitempty"`
	RetainedPath     string       `json:"retained_candidate_path,omitempty"`
}

// Gate evaluates candidate batches against thresholds
type Gate struct {
	thresholds Thresholds
	logger     logrus.FieldLogger
	now        func() time.Time
}

// New creates a gate
func New(thresholds Thresholds, logger logrus.FieldLogger) *Gate {
	return &Gate{
		thresholds: thresholds,
		logger:     logger.WithField("component", "safety_gate"),
		now:        time.Now,
	}
}

// Thresholds returns the configured thresholds
func (g *Gate) Thresholds() Thresholds {
	return g.thresholds
}

// Measure computes extremity and coverage for a batch
func (g *Gate) Measure(batch models.PredictionBatch) BatchStats {
	stats := BatchStats{Leagues: make(map[string]*LeagueStats)}
	for i := range batch {
		cp := &batch[i]
		ls, ok := stats.Leagues[cp.LeagueID]
		if !ok {
			ls = &LeagueStats{}
			stats.Leagues[cp.LeagueID] = ls
		}
		ls.Matches++
		stats.Matches++

		if cp.Complete() {
			stats.Complete++
		} else {
			ls.Incomplete++
		}

		for _, v := range cp.PublishedProbabilities() {
			stats.Values++
			ls.Values++
			if g.extreme(v) {
				stats.ExtremeValues++
				ls.ExtremeValues++
			}
		}
	}

	if stats.Values > 0 {
		stats.Extremity = float64(stats.ExtremeValues) / float64(stats.Values)
	}
	if stats.Matches > 0 {
		stats.Coverage = float64(stats.Complete) / float64(stats.Matches)
	}
	return stats
}

func (g *Gate) extreme(v float64) bool {
	return v <= g.thresholds.Low || v >= g.thresholds.High
}

// Evaluate measures the candidate, optionally compares it with the live
// batch, and returns the report. live may be nil when nothing is live yet.
func (g *Gate) Evaluate(candidate, live models.PredictionBatch) *Report {
	report := &Report{
		RunID:       uuid.New().String(),
		EvaluatedAt: g.now().UTC(),
		Thresholds:  g.thresholds,
		Candidate:   g.Measure(candidate),
	}
	if live != nil {
		ls := g.Measure(live)
		report.Live = &ls
		report.Added, report.Removed, report.SampleDiffs = diff(live, candidate)
	}

	var reasons []string
	c := report.Candidate
	if c.Matches == 0 {
		reasons = append(reasons, "candidate batch is empty")
	}
	if c.Extremity > g.thresholds.ExtremityMax {
		reasons = append(reasons, fmt.Sprintf("extremity fraction %.4f exceeds maximum %.4f", c.Extremity, g.thresholds.ExtremityMax))
	}
	if c.Coverage < g.thresholds.CoverageMin {
		reasons = append(reasons, fmt.Sprintf("coverage fraction %.4f below minimum %.4f", c.Coverage, g.thresholds.CoverageMin))
	}
	if g.thresholds.CompareWithLive && report.Live != nil && report.Live.Matches > 0 {
		l := report.Live
		if c.Extremity > l.Extremity+g.thresholds.MaxExtremityRegression {
			reasons = append(reasons, fmt.Sprintf("extremity fraction %.4f worse than live %.4f", c.Extremity, l.Extremity))
		}
		if c.Coverage < l.Coverage-g.thresholds.MaxCoverageRegression {
			reasons = append(reasons, fmt.Sprintf("coverage fraction %.4f worse than live %.4f", c.Coverage, l.Coverage))
		}
	}
	report.Decision = Decision{Accepted: len(reasons) == 0, Reasons: reasons}

	entry := g.logger.WithFields(logrus.Fields{
		"run_id":    report.RunID,
		"matches":   c.Matches,
		"extremity": c.Extremity,
		"coverage":  c.Coverage,
		"accepted":  report.Decision.Accepted,
	})
	if report.Decision.Accepted {
		entry.Info("Candidate batch accepted")
	} else {
		entry.WithField("reasons", reasons).Warn("Candidate batch rejected")
	}
	return report
}

// MatchKey identifies a prediction across batches: match_id, else league|home|away|date
func MatchKey(cp *models.CalibratedPrediction) string {
	return models.ArchiveKey(cp.MatchID, cp.LeagueID, cp.HomeTeam, cp.AwayTeam, cp.Date)
}

// diff counts added/removed matches and samples value changes on shared matches
func diff(live, candidate models.PredictionBatch) (added, removed int, samples []SampleDiff) {
	liveByKey := make(map[string]*models.CalibratedPrediction, len(live))
	for i := range live {
		liveByKey[MatchKey(&live[i])] = &live[i]
	}
	candKeys := make(map[string]struct{}, len(candidate))

	for i := range candidate {
		cp := &candidate[i]
		key := MatchKey(cp)
		candKeys[key] = struct{}{}
		old, ok := liveByKey[key]
		if !ok {
			added++
			continue
		}
		for _, f := range comparedFields(old, cp) {
			if len(samples) >= maxSampleDiffs {
				break
			}
			if f.Live != f.Candidate {
				f.Key = key
				samples = append(samples, f)
			}
		}
	}
	for key := range liveByKey {
		if _, ok := candKeys[key]; !ok {
			removed++
		}
	}
	sort.SliceStable(samples, func(i, j int) bool { return samples[i].Key < samples[j].Key })
	return added, removed, samples
}

func comparedFields(old, cand *models.CalibratedPrediction) []SampleDiff {
	var out []SampleDiff
	if old.Predictions.Winner != nil && cand.Predictions.Winner != nil {
		out = append(out,
			SampleDiff{Field: "winner.home", Live: old.Predictions.Winner.Home, Candidate: cand.Predictions.Winner.Home},
			SampleDiff{Field: "winner.draw", Live: old.Predictions.Winner.Draw, Candidate: cand.Predictions.Winner.Draw},
			SampleDiff{Field: "winner.away", Live: old.Predictions.Winner.Away, Candidate: cand.Predictions.Winner.Away},
		)
	}
	if old.Predictions.Over25 != nil && cand.Predictions.Over25 != nil {
		out = append(out, SampleDiff{Field: "over_2_5", Live: old.Predictions.Over25.Prob, Candidate: cand.Predictions.Over25.Prob})
	}
	if old.Predictions.BTTS != nil && cand.Predictions.BTTS != nil {
		out = append(out, SampleDiff{Field: "btts", Live: old.Predictions.BTTS.Prob, Candidate: cand.Predictions.BTTS.Prob})
	}
	return out
}

// FileName returns the name under which the report is stored
func (r *Report) FileName() string {
	return r.baseName() + ".json"
}

// RetainedFileName is the name of the copy of a rejected candidate kept
// next to its report
func (r *Report) RetainedFileName() string {
	return r.baseName() + "_candidate.json"
}

func (r *Report) baseName() string {
	return fmt.Sprintf("report_%s_%s", r.EvaluatedAt.Format("20060102T150405Z"), r.RunID[:8])
}
