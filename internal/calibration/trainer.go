package calibration

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/yourusername/goal-calibrator/internal/models"
)

// ErrNoTrainingData is returned when the history table is empty
var ErrNoTrainingData = errors.New("no historical records to train on")

// TrainerConfig holds the explicit training parameters
type TrainerConfig struct {
	MinSamples            int
	MinP                  float64
	Workers               int
	CalibrateCorrectScore bool
}

// SkippedPair is a (league, class) pair below the sample threshold
type SkippedPair struct {
	Key
	Samples int `json:"samples"`
}

// TrainingSummary describes one training run
type TrainingSummary struct {
	RunID      string        `json:"run_id"`
	Records    int           `json:"records"`
	Trained    int           `json:"trained"`
	Skipped    []SkippedPair `json:"skipped"`
	Degenerate []Key         `json:"degenerate"`
	Quality    *Quality      `json:"quality,omitempty"`
	Duration   time.Duration `json:"duration"`
}

// Trainer fits one isotonic curve per (league, class) pair plus pooled
// global curves
type Trainer struct {
	cfg    TrainerConfig
	logger logrus.FieldLogger
	now    func() time.Time
}

// NewTrainer creates a trainer
func NewTrainer(cfg TrainerConfig, logger logrus.FieldLogger) *Trainer {
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.MinSamples <= 0 {
		cfg.MinSamples = 1
	}
	return &Trainer{
		cfg:    cfg,
		logger: logger.WithField("component", "trainer"),
		now:    time.Now,
	}
}

// Train fits curves for every pair observed in records. Pairs under
// MinSamples are skipped and fall back to global or identity at apply time.
func (t *Trainer) Train(ctx context.Context, records []models.HistoricalOutcomeRecord) (*CurveSet, *TrainingSummary, error) {
	if len(records) == 0 {
		return nil, nil, ErrNoTrainingData
	}

	start := t.now()
	summary := &TrainingSummary{
		RunID:   uuid.New().String(),
		Records: len(records),
	}

	grouped := t.collect(records)

	keys := make([]Key, 0, len(grouped))
	for k := range grouped {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].String() < keys[j].String() })

	var eligible []Key
	for _, k := range keys {
		n := len(grouped[k])
		if n < t.cfg.MinSamples {
			summary.Skipped = append(summary.Skipped, SkippedPair{Key: k, Samples: n})
			t.logger.WithFields(logrus.Fields{
				"league":      k.League,
				"class":       k.Class,
				"samples":     n,
				"min_samples": t.cfg.MinSamples,
			}).Debug("Insufficient samples, curve omitted")
			continue
		}
		eligible = append(eligible, k)
	}

	trainedAt := start.UTC()
	curves := make([]*Curve, len(eligible))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(t.cfg.Workers)
	for i, k := range eligible {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			c, err := t.fit(k, grouped[k])
			if err != nil {
				return fmt.Errorf("fit %s: %w", k, err)
			}
			c.TrainedAt = trainedAt
			curves[i] = c
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}

	for _, c := range curves {
		if c.Degenerate {
			summary.Degenerate = append(summary.Degenerate, c.Key)
		}
	}
	summary.Trained = len(curves)
	set := NewCurveSet(summary.RunID, trainedAt, t.cfg.MinSamples, curves)
	summary.Quality = Measure(set, records, t.cfg.MinP)
	summary.Duration = t.now().Sub(start)

	t.logger.WithFields(logrus.Fields{
		"run_id":     summary.RunID,
		"records":    summary.Records,
		"trained":    summary.Trained,
		"skipped":    len(summary.Skipped),
		"degenerate": len(summary.Degenerate),
	}).Info("Calibration curves trained")

	return set, summary, nil
}

// collect binarizes every record into per-league and pooled samples
func (t *Trainer) collect(records []models.HistoricalOutcomeRecord) map[Key][]Sample {
	grouped := make(map[Key][]Sample)
	for _, rec := range records {
		rec.RawProbabilities.Each(func(class models.OutcomeClass, raw float64) {
			if class.IsCorrectScore() && !t.cfg.CalibrateCorrectScore {
				return
			}
			indicator, ok := rec.ActualOutcome.Indicator(class)
			if !ok {
				return
			}
			s := Sample{Raw: raw, Indicator: indicator}
			if rec.LeagueID != "" && rec.LeagueID != models.GlobalLeague {
				lk := Key{League: rec.LeagueID, Class: class}
				grouped[lk] = append(grouped[lk], s)
			}
			gk := Key{League: models.GlobalLeague, Class: class}
			grouped[gk] = append(grouped[gk], s)
		})
	}
	return grouped
}

// fit produces the curve for one pair. All-equal indicators yield a constant
// curve clamped into the safe band.
func (t *Trainer) fit(k Key, samples []Sample) (*Curve, error) {
	positives := 0
	for _, s := range samples {
		if s.Indicator > 0 {
			positives++
		}
	}

	c := &Curve{Key: k, Samples: len(samples), Positives: positives}
	if positives == 0 || positives == len(samples) {
		v := Clamp(float64(positives)/float64(len(samples)), t.cfg.MinP)
		c.X = []float64{0, 1}
		c.Y = []float64{v, v}
		c.Degenerate = true
		return c, nil
	}

	xs, ys, err := FitIsotonic(samples)
	if err != nil {
		return nil, err
	}
	c.X, c.Y = xs, ys
	return c, nil
}
