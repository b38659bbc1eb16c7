package calibration

import "time"

// Manifest records what a training run produced next to the curve set
type Manifest struct {
	RunID      string        `json:"run_id"`
	TrainedAt  time.Time     `json:"trained_at"`
	MinSamples int           `json:"min_samples"`
	Records    int           `json:"records"`
	Trained    []Key         `json:"trained"`
	Skipped    []SkippedPair `json:"skipped"`
	Degenerate []Key         `json:"degenerate"`
	Quality    *Quality      `json:"quality,omitempty"`
}

// NewManifest describes set. summary may be nil for sets restored from storage.
func NewManifest(set *CurveSet, summary *TrainingSummary) *Manifest {
	m := &Manifest{
		RunID:      set.RunID,
		TrainedAt:  set.TrainedAt,
		MinSamples: set.MinSamples,
		Trained:    make([]Key, 0, len(set.Curves)),
	}
	for _, c := range set.Curves {
		m.Trained = append(m.Trained, c.Key)
		if summary == nil && c.Degenerate {
			m.Degenerate = append(m.Degenerate, c.Key)
		}
	}
	if summary != nil {
		m.Records = summary.Records
		m.Skipped = summary.Skipped
		m.Degenerate = summary.Degenerate
		m.Quality = summary.Quality
	}
	return m
}

// DegenerateKeys renders the degenerate curves as league/class strings
func (m *Manifest) DegenerateKeys() []string {
	if m == nil {
		return nil
	}
	out := make([]string, 0, len(m.Degenerate))
	for _, k := range m.Degenerate {
		out = append(out, k.String())
	}
	return out
}
