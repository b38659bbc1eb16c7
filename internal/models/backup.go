package models

import "time"

// Backup reasons
const (
	BackupReasonPromotion = "promotion"
	BackupReasonRollback  = "rollback"
)

// BackupRecord is a timestamped copy of a previously live PredictionBatch
type BackupRecord struct {
	ID        string    `json:"id"`
	Path      string    `json:"path"`
	CreatedAt time.Time `json:"created_at"`
	SizeBytes int64     `json:"size_bytes"`
	Reason    string    `json:"reason,omitempty"`
}
