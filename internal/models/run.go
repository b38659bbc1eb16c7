package models

import "time"

// Pipeline run outcomes
const (
	RunOutcomePromoted = "PROMOTED"
	RunOutcomeRejected = "REJECTED"
	RunOutcomeFailed   = "FAILED"
)

// PipelineRun is the history entry written after every pipeline run
type PipelineRun struct {
	RunID      string    `json:"run_id"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	Outcome    string    `json:"outcome"`
	Matches    int       `json:"matches"`
	Extremity  float64   `json:"extremity"`
	Coverage   float64   `json:"coverage"`
	Reasons    []string  `json:"reasons,omitempty"`
	ReportPath string    `json:"report_path,omitempty"`
	Error      string    `json:"error,omitempty"`
}
