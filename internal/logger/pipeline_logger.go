package logger

import (
	"time"

	"github.com/sirupsen/logrus"
)

// PipelineLogger provides stage-level logging for calibration runs.
type PipelineLogger struct {
	*logrus.Entry
}

// NewPipelineLogger creates a new pipeline logger.
func NewPipelineLogger(baseLogger logrus.FieldLogger) *PipelineLogger {
	return &PipelineLogger{
		Entry: baseLogger.WithField("component", "pipeline"),
	}
}

// LogStageStart logs the start of a stage.
func (pl *PipelineLogger) LogStageStart(runID, stage string) {
	pl.WithFields(logrus.Fields{
		"run_id": runID,
		"stage":  stage,
	}).Info("Stage started")
}

// LogStageComplete logs a finished stage with its counters.
func (pl *PipelineLogger) LogStageComplete(runID, stage string, duration time.Duration, counters map[string]interface{}) {
	fields := logrus.Fields{
		"run_id":      runID,
		"stage":       stage,
		"duration_ms": duration.Milliseconds(),
	}
	for k, v := range counters {
		fields[k] = v
	}
	pl.WithFields(fields).Info("Stage completed")
}

// LogStageFailed logs a stage that aborted without writing artifacts.
func (pl *PipelineLogger) LogStageFailed(runID, stage string, err error) {
	pl.WithFields(logrus.Fields{
		"run_id": runID,
		"stage":  stage,
	}).WithError(err).Error("Stage failed")
}

// LogLeagueFetched logs the results pulled for one league.
func (pl *PipelineLogger) LogLeagueFetched(league string, fixtures, finished, matched int, duration time.Duration) {
	pl.WithFields(logrus.Fields{
		"league":      league,
		"fixtures":    fixtures,
		"finished":    finished,
		"matched":     matched,
		"duration_ms": duration.Milliseconds(),
	}).Debug("League results fetched")
}
