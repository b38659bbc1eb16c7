package gate

import (
	"encoding/json"
	"math"
	"sort"

	"github.com/shopspring/decimal"

	"github.com/yourusername/goal-calibrator/internal/models"
)

// LeagueAudit summarizes extremes and market disagreement for one league
type LeagueAudit struct {
	LeagueID        string  `json:"league_id"`
	Count           int     `json:"count"`
	FinalOverHigh   int     `json:"final_over_ge_high"`
	FinalOverLow    int     `json:"final_over_le_low"`
	RawOverHigh     int     `json:"raw_over_ge_high"`
	RawOverLow      int     `json:"raw_over_le_low"`
	WithOdds        int     `json:"with_odds"`
	MeanMarketGap   float64 `json:"mean_market_gap"`
	MaxMarketGap    float64 `json:"max_market_gap"`
	marketGapSum    float64
}

// winnerOdds is the 1X2 block of the pass-through odds object
type winnerOdds struct {
	Home decimal.NullDecimal `json:"home"`
	Draw decimal.NullDecimal `json:"draw"`
	Away decimal.NullDecimal `json:"away"`
}

// ImpliedWinner converts decimal 1X2 odds into vig-free probabilities.
// ok is false when the odds block is missing or unusable.
func ImpliedWinner(raw json.RawMessage) (home, draw, away float64, ok bool) {
	if len(raw) == 0 {
		return 0, 0, 0, false
	}
	var odds struct {
		Winner *winnerOdds `json:"winner"`
	}
	if err := json.Unmarshal(raw, &odds); err != nil || odds.Winner == nil {
		return 0, 0, 0, false
	}

	one := decimal.NewFromInt(1)
	parts := make([]decimal.Decimal, 0, 3)
	for _, o := range []decimal.NullDecimal{odds.Winner.Home, odds.Winner.Draw, odds.Winner.Away} {
		if !o.Valid || o.Decimal.LessThanOrEqual(one) {
			return 0, 0, 0, false
		}
		parts = append(parts, one.Div(o.Decimal))
	}
	sum := parts[0].Add(parts[1]).Add(parts[2])
	home, _ = parts[0].Div(sum).Float64()
	draw, _ = parts[1].Div(sum).Float64()
	away, _ = parts[2].Div(sum).Float64()
	return home, draw, away, true
}

// Audit reports per-league counts of extreme over_2_5 values before and after
// calibration, plus the gap between calibrated winner marginals and the
// bookmaker-implied probabilities when odds are present
func (g *Gate) Audit(batch models.PredictionBatch) []LeagueAudit {
	byLeague := make(map[string]*LeagueAudit)
	for i := range batch {
		cp := &batch[i]
		a, ok := byLeague[cp.LeagueID]
		if !ok {
			a = &LeagueAudit{LeagueID: cp.LeagueID}
			byLeague[cp.LeagueID] = a
		}
		a.Count++

		if c, ok := cp.Calibration[models.ClassOver25]; ok {
			if c.Final >= g.thresholds.High {
				a.FinalOverHigh++
			}
			if c.Final <= g.thresholds.Low {
				a.FinalOverLow++
			}
			if c.Raw >= g.thresholds.High {
				a.RawOverHigh++
			}
			if c.Raw <= g.thresholds.Low {
				a.RawOverLow++
			}
		}

		w := cp.Predictions.Winner
		if w == nil {
			continue
		}
		if h, d, aw, ok := ImpliedWinner(cp.Odds); ok {
			gap := (math.Abs(w.Home-h) + math.Abs(w.Draw-d) + math.Abs(w.Away-aw)) / 3
			a.WithOdds++
			a.marketGapSum += gap
			a.MaxMarketGap = math.Max(a.MaxMarketGap, gap)
		}
	}

	out := make([]LeagueAudit, 0, len(byLeague))
	for _, a := range byLeague {
		if a.WithOdds > 0 {
			a.MeanMarketGap = a.marketGapSum / float64(a.WithOdds)
		}
		out = append(out, *a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LeagueID < out[j].LeagueID })
	return out
}
