package models

import (
	"fmt"
	"strings"
	"time"
)

// OutcomeClass names one predicted event that is calibrated independently
type OutcomeClass string

// Core outcome classes
const (
	ClassWinnerHome OutcomeClass = "winner_home"
	ClassWinnerDraw OutcomeClass = "winner_draw"
	ClassWinnerAway OutcomeClass = "winner_away"
	ClassOver15     OutcomeClass = "over_1_5"
	ClassOver25     OutcomeClass = "over_2_5"
	ClassBTTSYes    OutcomeClass = "btts_yes"
)

const correctScorePrefix = "correct_score:"

// GlobalLeague is the pseudo league id of curves pooled across all leagues
const GlobalLeague = "global"

// Match result codes used by ActualOutcome.Result and winner.class
const (
	ResultHome = 0
	ResultDraw = 1
	ResultAway = 2
)

// CoreClasses returns the core outcome classes in canonical order
func CoreClasses() []OutcomeClass {
	return []OutcomeClass{
		ClassWinnerHome,
		ClassWinnerDraw,
		ClassWinnerAway,
		ClassOver15,
		ClassOver25,
		ClassBTTSYes,
	}
}

// WinnerClasses returns the mutually exclusive 1X2 group
func WinnerClasses() []OutcomeClass {
	return []OutcomeClass{ClassWinnerHome, ClassWinnerDraw, ClassWinnerAway}
}

// CorrectScoreClass returns the outcome class for an exact score such as "2-1"
func CorrectScoreClass(score string) OutcomeClass {
	return OutcomeClass(correctScorePrefix + score)
}

// IsCorrectScore reports whether the class is a per-score class
func (c OutcomeClass) IsCorrectScore() bool {
	return strings.HasPrefix(string(c), correctScorePrefix)
}

// Score returns the score string of a per-score class
func (c OutcomeClass) Score() string {
	return strings.TrimPrefix(string(c), correctScorePrefix)
}

// IsCore reports whether the class is one of CoreClasses
func (c OutcomeClass) IsCore() bool {
	for _, core := range CoreClasses() {
		if c == core {
			return true
		}
	}
	return false
}

// ActualOutcome is the realized result of a finished fixture
type ActualOutcome struct {
	Result int    `json:"result" validate:"gte=0,lte=2"`
	Over15 bool   `json:"over_1_5"`
	Over25 bool   `json:"over_2_5"`
	BTTS   bool   `json:"btts"`
	Score  string `json:"score"`
}

// OutcomeFromGoals derives the realized classes from a final score
func OutcomeFromGoals(homeGoals, awayGoals int) ActualOutcome {
	result := ResultDraw
	switch {
	case homeGoals > awayGoals:
		result = ResultHome
	case homeGoals < awayGoals:
		result = ResultAway
	}

	total := homeGoals + awayGoals
	return ActualOutcome{
		Result: result,
		Over15: total >= 2,
		Over25: total >= 3,
		BTTS:   homeGoals > 0 && awayGoals > 0,
		Score:  FormatScore(homeGoals, awayGoals),
	}
}

// Indicator binarizes the outcome for one class: 1 if the event occurred
func (o ActualOutcome) Indicator(class OutcomeClass) (float64, bool) {
	hit := false
	switch class {
	case ClassWinnerHome:
		hit = o.Result == ResultHome
	case ClassWinnerDraw:
		hit = o.Result == ResultDraw
	case ClassWinnerAway:
		hit = o.Result == ResultAway
	case ClassOver15:
		hit = o.Over15
	case ClassOver25:
		hit = o.Over25
	case ClassBTTSYes:
		hit = o.BTTS
	default:
		if !class.IsCorrectScore() || o.Score == "" {
			return 0, false
		}
		hit = class.Score() == o.Score
	}
	if hit {
		return 1, true
	}
	return 0, true
}

// FormatScore renders a score as "home-away"
func FormatScore(home, away int) string {
	return fmt.Sprintf("%d-%d", home, away)
}

// HistoricalOutcomeRecord is a resolved past fixture used as calibration training data.
// Records are immutable once written.
type HistoricalOutcomeRecord struct {
	MatchID          string        `json:"match_id" validate:"required"`
	LeagueID         string        `json:"league_id" validate:"required"`
	Date             time.Time     `json:"date" validate:"required"`
	HomeTeam         string        `json:"home_team"`
	AwayTeam         string        `json:"away_team"`
	HomeGoals        int           `json:"home_goals" validate:"gte=0"`
	AwayGoals        int           `json:"away_goals" validate:"gte=0"`
	RawProbabilities Probabilities `json:"raw_probabilities"`
	ActualOutcome    ActualOutcome `json:"actual_outcome"`
}
