package models

import (
	"encoding/json"
	"time"
)

// Double chance classes
const (
	DoubleChanceHomeDraw = 0 // 1X
	DoubleChanceHomeAway = 1 // 12
	DoubleChanceDrawAway = 2 // X2
)

// CalibrationSource tells where a calibrated value came from
type CalibrationSource string

// Calibration sources
const (
	SourceLeague   CalibrationSource = "league"
	SourceGlobal   CalibrationSource = "global"
	SourceIdentity CalibrationSource = "identity"
)

// ClassProb is the published {class, prob} pair of one market
type ClassProb struct {
	Class int     `json:"class"`
	Prob  float64 `json:"prob"`
}

// WinnerMarket carries the winning class plus the three calibrated marginals
type WinnerMarket struct {
	ClassProb
	Home float64 `json:"home"`
	Draw float64 `json:"draw"`
	Away float64 `json:"away"`
}

// DoubleChanceMarket carries the best double chance plus every pairwise sum
type DoubleChanceMarket struct {
	ClassProb
	HomeDraw float64 `json:"1x"`
	HomeAway float64 `json:"12"`
	DrawAway float64 `json:"x2"`
}

// ScoreProb is one correct-score candidate
type ScoreProb struct {
	Score string  `json:"score"`
	Prob  float64 `json:"prob"`
}

// CorrectScoreMarket holds the best score and the top three
type CorrectScoreMarket struct {
	Best         string      `json:"best"`
	Top3         []ScoreProb `json:"top3"`
	Recalibrated bool        `json:"recalibrated"`
}

// Markets is the predictions block served to the frontend
type Markets struct {
	Winner       *WinnerMarket       `json:"winner,omitempty"`
	DoubleChance *DoubleChanceMarket `json:"double_chance,omitempty"`
	Over25       *ClassProb          `json:"over_2_5,omitempty"`
	Over15       *ClassProb          `json:"over_1_5,omitempty"`
	BTTS         *ClassProb          `json:"btts,omitempty"`
	CorrectScore *CorrectScoreMarket `json:"correct_score,omitempty"`
}

// ClassCalibration records how one class was calibrated. Raw is the model
// input kept for audits and is never a published value; only Final is
// clamped, and PublishedProbabilities never reads this block.
type ClassCalibration struct {
	Raw     float64           `json:"raw"`
	Final   float64           `json:"final"`
	Source  CalibrationSource `json:"source"`
	Derived bool              `json:"derived,omitempty"`
}

// CalibratedPrediction is a RawPrediction after postprocessing.
// Winner marginals are calibrated independently and need not sum to 1.
type CalibratedPrediction struct {
	MatchID         string                            `json:"match_id"`
	LeagueID        string                            `json:"league_id"`
	LeagueName      string                            `json:"league,omitempty"`
	Country         string                            `json:"country,omitempty"`
	HomeTeam        string                            `json:"home_team"`
	AwayTeam        string                            `json:"away_team"`
	Date            time.Time                         `json:"date"`
	LambdaHome      float64                           `json:"lambda_home"`
	LambdaAway      float64                           `json:"lambda_away"`
	Predictions     Markets                           `json:"predictions"`
	Calibration     map[OutcomeClass]ClassCalibration `json:"calibration,omitempty"`
	ProbableScorers *ProbableScorers                  `json:"probable_scorers,omitempty"`
	Odds            json.RawMessage                   `json:"odds,omitempty"`
}

// Complete reports whether every core market is populated
func (c *CalibratedPrediction) Complete() bool {
	m := c.Predictions
	if m.Winner == nil || m.DoubleChance == nil || m.Over25 == nil || m.Over15 == nil || m.BTTS == nil {
		return false
	}
	if m.CorrectScore == nil || len(m.CorrectScore.Top3) == 0 {
		return false
	}
	for _, class := range CoreClasses() {
		if _, ok := c.Calibration[class]; !ok {
			return false
		}
	}
	return true
}

// PublishedProbabilities returns every probability value served to readers
func (c *CalibratedPrediction) PublishedProbabilities() []float64 {
	m := c.Predictions
	var out []float64
	if m.Winner != nil {
		out = append(out, m.Winner.Home, m.Winner.Draw, m.Winner.Away)
	}
	if m.DoubleChance != nil {
		out = append(out, m.DoubleChance.HomeDraw, m.DoubleChance.HomeAway, m.DoubleChance.DrawAway)
	}
	for _, cp := range []*ClassProb{m.Over25, m.Over15, m.BTTS} {
		if cp != nil {
			out = append(out, cp.Prob)
		}
	}
	if m.CorrectScore != nil {
		for _, s := range m.CorrectScore.Top3 {
			out = append(out, s.Prob)
		}
	}
	return out
}

// PredictionBatch is one production artifact: the JSON array served verbatim
type PredictionBatch []CalibratedPrediction

// RawBatch is the input batch emitted by the upstream model
type RawBatch []RawPrediction
