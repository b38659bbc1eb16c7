package postprocess

import (
	"github.com/yourusername/goal-calibrator/internal/calibration"
	"github.com/yourusername/goal-calibrator/internal/models"
	"github.com/yourusername/goal-calibrator/internal/poisson"
)

const topScores = 3

// markets builds the published market block from calibrated marginals
func (p *Postprocessor) markets(cal map[models.OutcomeClass]models.ClassCalibration) models.Markets {
	var m models.Markets

	home, okH := cal[models.ClassWinnerHome]
	draw, okD := cal[models.ClassWinnerDraw]
	away, okA := cal[models.ClassWinnerAway]
	if okH && okD && okA {
		m.Winner = winnerMarket(home.Final, draw.Final, away.Final)
		m.DoubleChance = p.doubleChance(home.Final, draw.Final, away.Final)
	}

	m.Over25 = binaryMarket(cal, models.ClassOver25)
	m.Over15 = binaryMarket(cal, models.ClassOver15)
	m.BTTS = binaryMarket(cal, models.ClassBTTSYes)
	return m
}

func winnerMarket(home, draw, away float64) *models.WinnerMarket {
	best := models.ClassProb{Class: models.ResultHome, Prob: home}
	if draw > best.Prob {
		best = models.ClassProb{Class: models.ResultDraw, Prob: draw}
	}
	if away > best.Prob {
		best = models.ClassProb{Class: models.ResultAway, Prob: away}
	}
	return &models.WinnerMarket{ClassProb: best, Home: home, Draw: draw, Away: away}
}

// doubleChance sums pairs of calibrated winner marginals, each re-clamped
func (p *Postprocessor) doubleChance(home, draw, away float64) *models.DoubleChanceMarket {
	dc := &models.DoubleChanceMarket{
		HomeDraw: p.bound(home + draw),
		HomeAway: p.bound(home + away),
		DrawAway: p.bound(draw + away),
	}
	dc.ClassProb = models.ClassProb{Class: models.DoubleChanceHomeDraw, Prob: dc.HomeDraw}
	if dc.HomeAway > dc.Prob {
		dc.ClassProb = models.ClassProb{Class: models.DoubleChanceHomeAway, Prob: dc.HomeAway}
	}
	if dc.DrawAway > dc.Prob {
		dc.ClassProb = models.ClassProb{Class: models.DoubleChanceDrawAway, Prob: dc.DrawAway}
	}
	return dc
}

func binaryMarket(cal map[models.OutcomeClass]models.ClassCalibration, class models.OutcomeClass) *models.ClassProb {
	c, ok := cal[class]
	if !ok {
		return nil
	}
	cp := &models.ClassProb{Prob: c.Final}
	if c.Final >= 0.5 {
		cp.Class = 1
	}
	return cp
}

// correctScore ranks score candidates. With per-score curves in the set every
// score is calibrated and the list is re-sorted by calibrated value; without
// them the raw order is kept and values are only clamped.
func (p *Postprocessor) correctScore(curves *calibration.CurveSet, league string, scores map[string]float64, rerank bool) *models.CorrectScoreMarket {
	if len(scores) == 0 {
		return nil
	}

	cs := &models.CorrectScoreMarket{}
	if rerank {
		calibrated := make(map[string]float64, len(scores))
		for score, raw := range scores {
			v := raw
			if curve, _ := curves.Lookup(league, models.CorrectScoreClass(score)); curve != nil {
				v = curve.Apply(raw)
			}
			calibrated[score] = p.bound(v)
		}
		cs.Top3 = poisson.TopN(calibrated, topScores)
		cs.Recalibrated = true
	} else {
		cs.Top3 = poisson.TopN(scores, topScores)
		for i := range cs.Top3 {
			cs.Top3[i].Prob = p.bound(cs.Top3[i].Prob)
		}
	}
	cs.Best = cs.Top3[0].Score
	return cs
}
