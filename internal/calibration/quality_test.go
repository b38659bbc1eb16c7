package calibration

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yourusername/goal-calibrator/internal/models"
)

func winnerRecord(id string, home, draw, away, over25 float64, homeGoals, awayGoals int) models.HistoricalOutcomeRecord {
	p := models.NewProbabilities()
	p.Classes[models.ClassWinnerHome] = home
	p.Classes[models.ClassWinnerDraw] = draw
	p.Classes[models.ClassWinnerAway] = away
	p.Classes[models.ClassOver25] = over25
	return models.HistoricalOutcomeRecord{
		MatchID:          id,
		LeagueID:         "39",
		HomeGoals:        homeGoals,
		AwayGoals:        awayGoals,
		RawProbabilities: p,
		ActualOutcome:    models.OutcomeFromGoals(homeGoals, awayGoals),
	}
}

func constantSet(class models.OutcomeClass, v float64) *CurveSet {
	return NewCurveSet("q", time.Now(), 1, []*Curve{{
		Key: Key{League: models.GlobalLeague, Class: class},
		X:   []float64{0, 1},
		Y:   []float64{v, v},
	}})
}

// TestMeasure tests Brier, log-loss and accuracy for raw and calibrated values
func TestMeasure(t *testing.T) {
	records := []models.HistoricalOutcomeRecord{
		winnerRecord("1", 0.5, 0.3, 0.2, 0.7, 2, 0), // home win, under 2.5
		winnerRecord("2", 0.2, 0.3, 0.5, 1.0, 1, 1), // draw, under 2.5
	}

	tests := []struct {
		name        string
		set         *CurveSet
		minP        float64
		over25Raw   float64
		over25Cal   float64
		winnerBrier float64
		winnerLoss  float64
		winnerAcc   float64
	}{
		{
			name:        "identity without clamp",
			set:         nil,
			minP:        0,
			over25Raw:   (0.49 + 1.0) / 2,
			over25Cal:   (0.49 + 1.0) / 2,
			winnerBrier: (0.38 + 0.78) / 2,
			winnerLoss:  (-math.Log(0.5) - math.Log(0.3)) / 2,
			winnerAcc:   0.5,
		},
		{
			name:        "clamp bounds a certain raw value",
			set:         nil,
			minP:        0.01,
			over25Raw:   (0.49 + 1.0) / 2,
			over25Cal:   (0.49 + 0.99*0.99) / 2,
			winnerBrier: (0.38 + 0.78) / 2,
			winnerLoss:  (-math.Log(0.5) - math.Log(0.3)) / 2,
			winnerAcc:   0.5,
		},
		{
			name:        "global draw curve changes the 1X2 scores",
			set:         constantSet(models.ClassWinnerDraw, 0.9),
			minP:        0.01,
			over25Raw:   (0.49 + 1.0) / 2,
			over25Cal:   (0.49 + 0.99*0.99) / 2,
			winnerBrier: (1.10 + 0.30) / 2,
			winnerLoss:  (-math.Log(0.5) - math.Log(0.9)) / 2,
			winnerAcc:   0.5,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q := Measure(tt.set, records, tt.minP)

			over, ok := q.Class(models.ClassOver25)
			require.True(t, ok)
			assert.Equal(t, 2, over.Samples)
			assert.InDelta(t, tt.over25Raw, over.BrierRaw, 1e-9)
			assert.InDelta(t, tt.over25Cal, over.BrierCalibrated, 1e-9)

			require.NotNil(t, q.Winner)
			assert.Equal(t, 2, q.Winner.Samples)
			assert.InDelta(t, (0.38+0.78)/2, q.Winner.BrierRaw, 1e-9)
			assert.InDelta(t, (-math.Log(0.5)-math.Log(0.3))/2, q.Winner.LogLossRaw, 1e-9)
			assert.InDelta(t, 0.5, q.Winner.AccuracyRaw, 1e-9)
			assert.InDelta(t, tt.winnerBrier, q.Winner.BrierCalibrated, 1e-9)
			assert.InDelta(t, tt.winnerLoss, q.Winner.LogLossCalibrated, 1e-9)
			assert.InDelta(t, tt.winnerAcc, q.Winner.AccuracyCalibrated, 1e-9)
		})
	}
}

// TestMeasureWithoutWinnerGroup tests records that only carry binary classes
func TestMeasureWithoutWinnerGroup(t *testing.T) {
	q := Measure(nil, over25Bucket("39", 10, 0.6, 0.9), 0.01)

	assert.Nil(t, q.Winner)
	require.Len(t, q.Classes, 1)
	assert.Equal(t, models.ClassOver25, q.Classes[0].Class)
	assert.Equal(t, 10, q.Classes[0].Samples)

	_, ok := q.Class(models.ClassBTTSYes)
	assert.False(t, ok)
}

// TestTrainReportsQuality tests that training fills the summary and manifest
func TestTrainReportsQuality(t *testing.T) {
	trainer := NewTrainer(TrainerConfig{MinSamples: 20, MinP: 0.01}, testLogger())

	set, summary, err := trainer.Train(t.Context(), over25Bucket("39", 50, 0.2, 0.9))
	require.NoError(t, err)
	require.NotNil(t, summary.Quality)

	over, ok := summary.Quality.Class(models.ClassOver25)
	require.True(t, ok)
	assert.Equal(t, 50, over.Samples)
	assert.Less(t, over.BrierCalibrated, over.BrierRaw, "isotonic fit must improve in-sample Brier")

	assert.Same(t, summary.Quality, NewManifest(set, summary).Quality)
}
