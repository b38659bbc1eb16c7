package calibration

import (
	"math"

	"github.com/yourusername/goal-calibrator/internal/models"
)

const logLossEpsilon = 1e-12

// ClassQuality compares raw and calibrated Brier scores for one class
type ClassQuality struct {
	Class           models.OutcomeClass `json:"outcome_class"`
	Samples         int                 `json:"samples"`
	BrierRaw        float64             `json:"brier_raw"`
	BrierCalibrated float64             `json:"brier_calibrated"`
}

// WinnerQuality scores the 1X2 group as a three-way forecast
type WinnerQuality struct {
	Samples            int     `json:"samples"`
	BrierRaw           float64 `json:"brier_raw"`
	BrierCalibrated    float64 `json:"brier_calibrated"`
	LogLossRaw         float64 `json:"logloss_raw"`
	LogLossCalibrated  float64 `json:"logloss_calibrated"`
	AccuracyRaw        float64 `json:"accuracy_raw"`
	AccuracyCalibrated float64 `json:"accuracy_calibrated"`
}

// Quality holds the scores of a curve set measured on historical records
type Quality struct {
	Classes []ClassQuality `json:"classes"`
	Winner  *WinnerQuality `json:"winner,omitempty"`
}

// Measure scores the raw and calibrated probabilities of records against
// their outcomes. Calibrated values are clamped to [minP, 1-minP] the same
// way published values are. Only core classes are scored.
func Measure(set *CurveSet, records []models.HistoricalOutcomeRecord, minP float64) *Quality {
	type acc struct {
		n        int
		raw, cal float64
	}
	perClass := make(map[models.OutcomeClass]*acc)
	var (
		w       WinnerQuality
		wBrierR float64
		wBrierC float64
		wLossR  float64
		wLossC  float64
		wHitR   int
		wHitC   int
	)

	for _, rec := range records {
		for _, class := range models.CoreClasses() {
			raw, ok := rec.RawProbabilities.Get(class)
			if !ok {
				continue
			}
			y, ok := rec.ActualOutcome.Indicator(class)
			if !ok {
				continue
			}
			cal := calibrate(set, rec.LeagueID, class, raw, minP)
			a, ok := perClass[class]
			if !ok {
				a = &acc{}
				perClass[class] = a
			}
			a.n++
			a.raw += (raw - y) * (raw - y)
			a.cal += (cal - y) * (cal - y)
		}

		raw, ok := winnerTriple(rec.RawProbabilities)
		if !ok {
			continue
		}
		var cal [3]float64
		for i, class := range models.WinnerClasses() {
			cal[i] = calibrate(set, rec.LeagueID, class, raw[i], minP)
		}
		y := rec.ActualOutcome.Result
		w.Samples++
		wBrierR += brier3(raw, y)
		wBrierC += brier3(cal, y)
		wLossR += -math.Log(math.Max(logLossEpsilon, math.Min(1, raw[y])))
		wLossC += -math.Log(math.Max(logLossEpsilon, math.Min(1, cal[y])))
		if argmax3(raw) == y {
			wHitR++
		}
		if argmax3(cal) == y {
			wHitC++
		}
	}

	q := &Quality{Classes: make([]ClassQuality, 0, len(perClass))}
	for _, class := range models.CoreClasses() {
		a, ok := perClass[class]
		if !ok {
			continue
		}
		q.Classes = append(q.Classes, ClassQuality{
			Class:           class,
			Samples:         a.n,
			BrierRaw:        a.raw / float64(a.n),
			BrierCalibrated: a.cal / float64(a.n),
		})
	}
	if w.Samples > 0 {
		n := float64(w.Samples)
		w.BrierRaw = wBrierR / n
		w.BrierCalibrated = wBrierC / n
		w.LogLossRaw = wLossR / n
		w.LogLossCalibrated = wLossC / n
		w.AccuracyRaw = float64(wHitR) / n
		w.AccuracyCalibrated = float64(wHitC) / n
		q.Winner = &w
	}
	return q
}

// Class returns the scores of one class
func (q *Quality) Class(class models.OutcomeClass) (ClassQuality, bool) {
	if q == nil {
		return ClassQuality{}, false
	}
	for _, c := range q.Classes {
		if c.Class == class {
			return c, true
		}
	}
	return ClassQuality{}, false
}

func calibrate(set *CurveSet, league string, class models.OutcomeClass, raw, minP float64) float64 {
	v := raw
	if set != nil {
		if curve, _ := set.Lookup(league, class); curve != nil {
			v = curve.Apply(raw)
		}
	}
	return Clamp(v, minP)
}

func winnerTriple(p models.Probabilities) ([3]float64, bool) {
	var out [3]float64
	for i, class := range models.WinnerClasses() {
		v, ok := p.Get(class)
		if !ok {
			return out, false
		}
		out[i] = v
	}
	return out, true
}

func brier3(p [3]float64, result int) float64 {
	s := 0.0
	for i, v := range p {
		y := 0.0
		if i == result {
			y = 1
		}
		s += (v - y) * (v - y)
	}
	return s
}

// argmax3 breaks ties toward the lower index (home, then draw)
func argmax3(p [3]float64) int {
	best := 0
	for i := 1; i < 3; i++ {
		if p[i] > p[best] {
			best = i
		}
	}
	return best
}
