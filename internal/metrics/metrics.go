// Package metrics provides centralized Prometheus metrics registry for the calibration pipeline.
package metrics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "goal_calibrator"

// Global registry instance
var (
	registry *prometheus.Registry
	once     sync.Once
)

// Counter metrics
var (
	FetchRecordsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "fetch_records_total",
		Help:      "Historical outcome records fetched by league and result",
	}, []string{"league", "result"})
	UpstreamErrorsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "upstream_errors_total",
		Help:      "Failed calls to the results provider by error code",
	}, []string{"code"})
	PostprocessedPredictionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "postprocessed_predictions_total",
		Help:      "Predictions produced by the postprocessor by completeness",
	}, []string{"complete"})
	PipelineRunsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "pipeline_runs_total",
		Help:      "Pipeline runs by outcome",
	}, []string{"outcome"})
)

// Histogram metrics
var (
	FetchDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "fetch_duration_seconds",
		Help:      "Duration of a full historical fetch in seconds",
		Buckets:   []float64{1, 5, 10, 30, 60, 120, 300, 600},
	})
	PipelineRunDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "pipeline_run_duration_seconds",
		Help:      "Duration of pipeline runs in seconds",
		Buckets:   []float64{1, 5, 10, 30, 60, 300, 600, 1800},
	})
)

// InitRegistry initializes the global Prometheus registry.
func InitRegistry() *prometheus.Registry {
	once.Do(func() {
		registry = prometheus.NewRegistry()

		registry.MustRegister(FetchRecordsTotal)
		registry.MustRegister(UpstreamErrorsTotal)
		registry.MustRegister(PostprocessedPredictionsTotal)
		registry.MustRegister(PipelineRunsTotal)
		registry.MustRegister(FetchDuration)
		registry.MustRegister(PipelineRunDuration)

		// Register calibration metrics
		registry.MustRegister(CurvesTrainedTotal)
		registry.MustRegister(CurvesSkippedTotal)
		registry.MustRegister(CurvesDegenerateTotal)
		registry.MustRegister(TrainingDuration)
		registry.MustRegister(CalibrationBrier)
		registry.MustRegister(WinnerLogLoss)
		registry.MustRegister(WinnerAccuracy)
		registry.MustRegister(ArchivePrunedTotal)

		// Register gate and promotion metrics
		registry.MustRegister(GateExtremity)
		registry.MustRegister(GateCoverage)
		registry.MustRegister(GateDecisionsTotal)
		registry.MustRegister(PromotionsTotal)
		registry.MustRegister(RollbacksTotal)
		registry.MustRegister(BackupCollisionsTotal)
		registry.MustRegister(LastPromotionTimestamp)
	})
	return registry
}

// GetRegistry returns the global Prometheus registry.
func GetRegistry() *prometheus.Registry {
	if registry == nil {
		return InitRegistry()
	}
	return registry
}

// Handler returns the Prometheus HTTP handler.
func Handler() http.Handler {
	return promhttp.HandlerFor(GetRegistry(), promhttp.HandlerOpts{})
}

// RecordFetchedRecords records matched and unmatched fixtures for one league.
func RecordFetchedRecords(league string, matched, unmatched int) {
	FetchRecordsTotal.WithLabelValues(league, "matched").Add(float64(matched))
	FetchRecordsTotal.WithLabelValues(league, "unmatched").Add(float64(unmatched))
}

// RecordFetchDuration records how long a full fetch took.
func RecordFetchDuration(durationSeconds float64) {
	FetchDuration.Observe(durationSeconds)
}

// RecordUpstreamError records a failed provider call.
func RecordUpstreamError(code string) {
	UpstreamErrorsTotal.WithLabelValues(code).Inc()
}

// RecordPostprocessed records postprocessor output counts.
func RecordPostprocessed(complete, incomplete int) {
	PostprocessedPredictionsTotal.WithLabelValues("true").Add(float64(complete))
	PostprocessedPredictionsTotal.WithLabelValues("false").Add(float64(incomplete))
}

// RecordPipelineRun records a finished pipeline run.
// outcome should be one of: "promoted", "rejected", "failed"
func RecordPipelineRun(outcome string, durationSeconds float64) {
	PipelineRunsTotal.WithLabelValues(outcome).Inc()
	PipelineRunDuration.Observe(durationSeconds)
}
