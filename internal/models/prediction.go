package models

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"time"
)

const (
	correctScoreKey = "correct_score"
	groupTolerance  = 0.02
)

// Probabilities holds per-class probabilities plus the correct-score distribution.
// On the wire it is a flat object: {"winner_home":0.45,...,"correct_score":{"1-0":0.11}}.
type Probabilities struct {
	Classes      map[OutcomeClass]float64
	CorrectScore map[string]float64
}

// NewProbabilities creates an empty probability set
func NewProbabilities() Probabilities {
	return Probabilities{
		Classes:      make(map[OutcomeClass]float64),
		CorrectScore: make(map[string]float64),
	}
}

// Get returns the probability for a class
func (p Probabilities) Get(class OutcomeClass) (float64, bool) {
	if class.IsCorrectScore() {
		v, ok := p.CorrectScore[class.Score()]
		return v, ok
	}
	v, ok := p.Classes[class]
	return v, ok
}

// Each calls fn for every class probability, correct scores included,
// in a deterministic order
func (p Probabilities) Each(fn func(class OutcomeClass, prob float64)) {
	classes := make([]string, 0, len(p.Classes))
	for c := range p.Classes {
		classes = append(classes, string(c))
	}
	sort.Strings(classes)
	for _, c := range classes {
		fn(OutcomeClass(c), p.Classes[OutcomeClass(c)])
	}

	scores := make([]string, 0, len(p.CorrectScore))
	for s := range p.CorrectScore {
		scores = append(scores, s)
	}
	sort.Strings(scores)
	for _, s := range scores {
		fn(CorrectScoreClass(s), p.CorrectScore[s])
	}
}

// MarshalJSON flattens classes and nests the correct-score mapping
func (p Probabilities) MarshalJSON() ([]byte, error) {
	flat := make(map[string]interface{}, len(p.Classes)+1)
	for class, prob := range p.Classes {
		flat[string(class)] = prob
	}
	if len(p.CorrectScore) > 0 {
		flat[correctScoreKey] = p.CorrectScore
	}
	return json.Marshal(flat)
}

// UnmarshalJSON accepts the flat wire form
func (p *Probabilities) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	*p = NewProbabilities()
	for key, value := range raw {
		if key == correctScoreKey {
			if err := json.Unmarshal(value, &p.CorrectScore); err != nil {
				return fmt.Errorf("invalid correct_score mapping: %w", err)
			}
			continue
		}
		var prob float64
		if err := json.Unmarshal(value, &prob); err != nil {
			return fmt.Errorf("invalid probability for %s: %w", key, err)
		}
		p.Classes[OutcomeClass(key)] = prob
	}
	return nil
}

// Scorer is one candidate goal scorer with an anytime-scorer probability
type Scorer struct {
	Player      string  `json:"player"`
	Team        string  `json:"team,omitempty"`
	Probability float64 `json:"probability"`
}

// ProbableScorers lists scorer candidates for both teams
type ProbableScorers struct {
	Home []Scorer `json:"home,omitempty"`
	Away []Scorer `json:"away,omitempty"`
}

// RawPrediction is one upcoming fixture's uncalibrated model output
type RawPrediction struct {
	MatchID          string           `json:"match_id" validate:"required"`
	LeagueID         string           `json:"league_id" validate:"required"`
	LeagueName       string           `json:"league,omitempty"`
	Country          string           `json:"country,omitempty"`
	KickoffTime      time.Time        `json:"kickoff_time" validate:"required"`
	HomeTeam         string           `json:"home_team" validate:"required"`
	AwayTeam         string           `json:"away_team" validate:"required"`
	LambdaHome       float64          `json:"lambda_home" validate:"gte=0"`
	LambdaAway       float64          `json:"lambda_away" validate:"gte=0"`
	RawProbabilities Probabilities    `json:"raw_probabilities"`
	ProbableScorers  *ProbableScorers `json:"probable_scorers,omitempty"`
	Odds             json.RawMessage  `json:"odds,omitempty"`
}

// Validate checks the raw probability ranges and the 1X2 group sum
func (r *RawPrediction) Validate() error {
	if err := validate.Struct(r); err != nil {
		return fmt.Errorf("%w: match %s: %v", ErrInvalidBatch, r.MatchID, err)
	}

	var bad error
	r.RawProbabilities.Each(func(class OutcomeClass, prob float64) {
		if bad == nil && (math.IsNaN(prob) || prob < 0 || prob > 1) {
			bad = fmt.Errorf("%w: match %s: %s=%v outside [0,1]", ErrInvalidBatch, r.MatchID, class, prob)
		}
	})
	if bad != nil {
		return bad
	}

	sum, complete := 0.0, true
	for _, class := range WinnerClasses() {
		prob, ok := r.RawProbabilities.Classes[class]
		if !ok {
			complete = false
			break
		}
		sum += prob
	}
	if complete && math.Abs(sum-1) > groupTolerance {
		return fmt.Errorf("%w: match %s: winner probabilities sum to %.4f", ErrInvalidBatch, r.MatchID, sum)
	}
	return nil
}

// ArchiveKey returns the identity used to join predictions with results.
// match_id when present, otherwise league|home|away|date.
func ArchiveKey(matchID, leagueID, home, away string, date time.Time) string {
	if matchID != "" {
		return matchID
	}
	return fmt.Sprintf("%s|%s|%s|%s", leagueID, home, away, date.UTC().Format("2006-01-02"))
}
