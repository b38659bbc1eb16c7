package metrics

import "github.com/prometheus/client_golang/prometheus"

// Calibration counters
var (
	CurvesTrainedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "curves_trained_total",
		Help:      "Isotonic curves fitted by outcome class",
	}, []string{"class"})
	CurvesSkippedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "curves_skipped_total",
		Help:      "League/class pairs skipped for insufficient samples",
	}, []string{"class"})
	CurvesDegenerateTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "curves_degenerate_total",
		Help:      "Curves fitted on single-valued outcomes",
	}, []string{"class"})
)

// Calibration quality of the last trained set, labelled raw or calibrated
var (
	CalibrationBrier = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "calibration_brier_score",
		Help:      "Brier score per outcome class on the training window",
	}, []string{"class", "probabilities"})
	WinnerLogLoss = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "winner_logloss",
		Help:      "1X2 log-loss on the training window",
	}, []string{"probabilities"})
	WinnerAccuracy = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "winner_accuracy",
		Help:      "Share of fixtures whose most likely 1X2 outcome happened",
	}, []string{"probabilities"})
)

// ArchivePrunedTotal counts archived predictions deleted by retention
var ArchivePrunedTotal = prometheus.NewCounter(prometheus.CounterOpts{
	Namespace: namespace,
	Name:      "archive_pruned_total",
	Help:      "Archived raw predictions removed after leaving the training window",
})

// TrainingDuration tracks the length of a training run.
var TrainingDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
	Namespace: namespace,
	Name:      "training_duration_seconds",
	Help:      "Duration of calibration training in seconds",
	Buckets:   []float64{0.1, 0.5, 1, 5, 10, 30, 60},
})

// RecordCurve records one trained, skipped or degenerate league/class pair.
// status should be one of: "trained", "skipped", "degenerate"
func RecordCurve(class, status string) {
	switch status {
	case "trained":
		CurvesTrainedTotal.WithLabelValues(class).Inc()
	case "skipped":
		CurvesSkippedTotal.WithLabelValues(class).Inc()
	case "degenerate":
		CurvesTrainedTotal.WithLabelValues(class).Inc()
		CurvesDegenerateTotal.WithLabelValues(class).Inc()
	}
}

// RecordTrainingDuration records a training run duration.
func RecordTrainingDuration(durationSeconds float64) {
	TrainingDuration.Observe(durationSeconds)
}

// RecordClassBrier sets the raw and calibrated Brier scores of one class.
func RecordClassBrier(class string, raw, calibrated float64) {
	CalibrationBrier.WithLabelValues(class, "raw").Set(raw)
	CalibrationBrier.WithLabelValues(class, "calibrated").Set(calibrated)
}

// RecordWinnerQuality sets the 1X2 log-loss and accuracy gauges.
func RecordWinnerQuality(logLossRaw, logLossCalibrated, accuracyRaw, accuracyCalibrated float64) {
	WinnerLogLoss.WithLabelValues("raw").Set(logLossRaw)
	WinnerLogLoss.WithLabelValues("calibrated").Set(logLossCalibrated)
	WinnerAccuracy.WithLabelValues("raw").Set(accuracyRaw)
	WinnerAccuracy.WithLabelValues("calibrated").Set(accuracyCalibrated)
}

// RecordArchivePruned counts pruned archive rows.
func RecordArchivePruned(n int) {
	ArchivePrunedTotal.Add(float64(n))
}
