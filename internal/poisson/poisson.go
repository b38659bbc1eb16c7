// Package poisson derives match markets from independent home/away goal rates.
package poisson

import (
	"math"
	"sort"

	"github.com/yourusername/goal-calibrator/internal/models"
)

// DefaultMaxGoals bounds the score grid per side
const DefaultMaxGoals = 6

// ScoreMatrix holds P(home=i, away=j) for i, j in [0, maxGoals]
type ScoreMatrix [][]float64

// PMF returns the Poisson probability of k events at rate lambda
func PMF(k int, lambda float64) float64 {
	if lambda <= 0 {
		if k == 0 {
			return 1
		}
		return 0
	}
	lg, _ := math.Lgamma(float64(k + 1))
	return math.Exp(-lambda + float64(k)*math.Log(lambda) - lg)
}

// NewScoreMatrix builds the joint score grid assuming independent goal counts
func NewScoreMatrix(lambdaHome, lambdaAway float64, maxGoals int) ScoreMatrix {
	if maxGoals <= 0 {
		maxGoals = DefaultMaxGoals
	}
	m := make(ScoreMatrix, maxGoals+1)
	for i := 0; i <= maxGoals; i++ {
		m[i] = make([]float64, maxGoals+1)
		pi := PMF(i, lambdaHome)
		for j := 0; j <= maxGoals; j++ {
			m[i][j] = pi * PMF(j, lambdaAway)
		}
	}
	return m
}

// Markets returns the core class probabilities implied by the grid
func (m ScoreMatrix) Markets() map[models.OutcomeClass]float64 {
	out := map[models.OutcomeClass]float64{}
	for i := range m {
		for j, p := range m[i] {
			switch {
			case i > j:
				out[models.ClassWinnerHome] += p
			case i == j:
				out[models.ClassWinnerDraw] += p
			default:
				out[models.ClassWinnerAway] += p
			}
			if i+j >= 2 {
				out[models.ClassOver15] += p
			}
			if i+j >= 3 {
				out[models.ClassOver25] += p
			}
			if i >= 1 && j >= 1 {
				out[models.ClassBTTSYes] += p
			}
		}
	}
	return out
}

// CorrectScores returns every cell of the grid keyed by "i-j"
func (m ScoreMatrix) CorrectScores() map[string]float64 {
	out := make(map[string]float64, len(m)*len(m))
	for i := range m {
		for j, p := range m[i] {
			out[models.FormatScore(i, j)] = p
		}
	}
	return out
}

// TopScores returns the n most likely scores, highest first
func (m ScoreMatrix) TopScores(n int) []models.ScoreProb {
	return TopN(m.CorrectScores(), n)
}

// TopN ranks a score distribution by probability, breaking ties by score string
func TopN(scores map[string]float64, n int) []models.ScoreProb {
	all := make([]models.ScoreProb, 0, len(scores))
	for s, p := range scores {
		all = append(all, models.ScoreProb{Score: s, Prob: p})
	}
	sort.Slice(all, func(a, b int) bool {
		if all[a].Prob != all[b].Prob {
			return all[a].Prob > all[b].Prob
		}
		return all[a].Score < all[b].Score
	})
	if n > 0 && len(all) > n {
		all = all[:n]
	}
	return all
}
