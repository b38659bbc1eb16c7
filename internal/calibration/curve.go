package calibration

import (
	"fmt"
	"sort"
	"time"

	"github.com/yourusername/goal-calibrator/internal/models"
)

// Key identifies a curve by league (or models.GlobalLeague) and outcome class
type Key struct {
	League string              `json:"league_id"`
	Class  models.OutcomeClass `json:"outcome_class"`
}

// String renders the key as league/class
func (k Key) String() string {
	return fmt.Sprintf("%s/%s", k.League, k.Class)
}

// Curve is a monotone mapping from raw to calibrated probability
type Curve struct {
	Key
	X          []float64 `json:"x"`
	Y          []float64 `json:"y"`
	Samples    int       `json:"samples"`
	Positives  int       `json:"positives"`
	Degenerate bool      `json:"degenerate"`
	TrainedAt  time.Time `json:"trained_at"`
}

// Apply maps a raw probability through the curve
func (c *Curve) Apply(raw float64) float64 {
	return Interpolate(c.X, c.Y, clamp01(raw))
}

// Monotone reports whether the breakpoints are ordered and non-decreasing
func (c *Curve) Monotone() bool {
	if len(c.X) != len(c.Y) || len(c.X) == 0 {
		return false
	}
	for i := 1; i < len(c.X); i++ {
		if c.X[i] < c.X[i-1] || c.Y[i] < c.Y[i-1] {
			return false
		}
	}
	return true
}

// CurveSet is the complete output of one training run. It is replaced
// wholesale by the next run and never partially updated.
type CurveSet struct {
	RunID      string    `json:"run_id"`
	TrainedAt  time.Time `json:"trained_at"`
	MinSamples int       `json:"min_samples"`
	Curves     []*Curve  `json:"curves"`

	index map[Key]*Curve
}

// NewCurveSet builds an indexed set
func NewCurveSet(runID string, trainedAt time.Time, minSamples int, curves []*Curve) *CurveSet {
	s := &CurveSet{
		RunID:      runID,
		TrainedAt:  trainedAt,
		MinSamples: minSamples,
		Curves:     curves,
	}
	s.Reindex()
	return s
}

// Reindex rebuilds the lookup index and sorts curves by key. Call it after
// decoding a set from storage.
func (s *CurveSet) Reindex() {
	sort.Slice(s.Curves, func(i, j int) bool {
		if s.Curves[i].League != s.Curves[j].League {
			return s.Curves[i].League < s.Curves[j].League
		}
		return s.Curves[i].Class < s.Curves[j].Class
	})
	s.index = make(map[Key]*Curve, len(s.Curves))
	for _, c := range s.Curves {
		s.index[c.Key] = c
	}
}

// Get returns the curve stored under exactly this key
func (s *CurveSet) Get(league string, class models.OutcomeClass) (*Curve, bool) {
	if s == nil {
		return nil, false
	}
	if s.index == nil {
		s.Reindex()
	}
	c, ok := s.index[Key{League: league, Class: class}]
	return c, ok
}

// Lookup resolves the curve for a league and class: the league curve, then the
// global curve, then nil meaning identity calibration
func (s *CurveSet) Lookup(league string, class models.OutcomeClass) (*Curve, models.CalibrationSource) {
	if c, ok := s.Get(league, class); ok {
		return c, models.SourceLeague
	}
	if c, ok := s.Get(models.GlobalLeague, class); ok {
		return c, models.SourceGlobal
	}
	return nil, models.SourceIdentity
}

// HasCorrectScoreCurves reports whether any per-score curve exists
func (s *CurveSet) HasCorrectScoreCurves() bool {
	if s == nil {
		return false
	}
	for _, c := range s.Curves {
		if c.Class.IsCorrectScore() {
			return true
		}
	}
	return false
}

// Len returns the number of curves
func (s *CurveSet) Len() int {
	if s == nil {
		return 0
	}
	return len(s.Curves)
}
