// Package logger provides audit logging.
package logger

import (
	"time"

	"github.com/sirupsen/logrus"
)

// AuditLogger records every transition of the live prediction artifact.
type AuditLogger struct {
	*logrus.Entry
}

// NewAuditLogger creates a new audit logger.
func NewAuditLogger(baseLogger logrus.FieldLogger) *AuditLogger {
	return &AuditLogger{
		Entry: baseLogger.WithField("component", "audit"),
	}
}

// LogStateTransition logs one step of a promotion attempt.
func (al *AuditLogger) LogStateTransition(attemptID, fromState, toState string, details map[string]interface{}) {
	fields := logrus.Fields{
		"attempt_id": attemptID,
		"from_state": fromState,
		"to_state":   toState,
	}
	for k, v := range details {
		fields[k] = v
	}
	al.WithFields(fields).Info("Promotion state changed")
}

// LogBackupCreated logs a backup of the live artifact.
func (al *AuditLogger) LogBackupCreated(attemptID, backupID, reason string, sizeBytes int64) {
	al.WithFields(logrus.Fields{
		"attempt_id": attemptID,
		"backup_id":  backupID,
		"reason":     reason,
		"size_bytes": sizeBytes,
	}).Info("Live artifact backed up")
}

// LogPromotion logs a completed promotion.
func (al *AuditLogger) LogPromotion(attemptID, candidate, backupID string, matches int, promotedAt time.Time) {
	al.WithFields(logrus.Fields{
		"attempt_id":  attemptID,
		"candidate":   candidate,
		"backup_id":   backupID,
		"matches":     matches,
		"promoted_at": promotedAt.UTC().Format(time.RFC3339),
	}).Info("Candidate promoted to live")
}

// LogRollback logs a manual restore from backup.
func (al *AuditLogger) LogRollback(attemptID, restoredBackupID, safetyBackupID string, restoredAt time.Time) {
	al.WithFields(logrus.Fields{
		"attempt_id":      attemptID,
		"restored_backup": restoredBackupID,
		"safety_backup":   safetyBackupID,
		"restored_at":     restoredAt.UTC().Format(time.RFC3339),
	}).Warn("Live artifact rolled back")
}

// LogPromotionFailure logs a promotion that ended without touching live.
func (al *AuditLogger) LogPromotionFailure(attemptID, state, reason string) {
	al.WithFields(logrus.Fields{
		"attempt_id": attemptID,
		"state":      state,
		"reason":     reason,
	}).Error("Promotion aborted, live artifact unchanged")
}

// LogRejection logs a candidate rejected by the safety gate.
func (al *AuditLogger) LogRejection(runID, candidatePath string, extremity, coverage float64, reasons []string) {
	al.WithFields(logrus.Fields{
		"run_id":    runID,
		"candidate": candidatePath,
		"extremity": extremity,
		"coverage":  coverage,
		"reasons":   reasons,
	}).Warn("Candidate rejected, retained for review")
}
