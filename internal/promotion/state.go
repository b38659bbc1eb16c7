package promotion

// State is a step of the candidate lifecycle
type State int

const (
	// StateCandidateBuilt means the postprocessor produced a candidate
	StateCandidateBuilt State = iota
	// StateEvaluatedAccepted means the gate accepted the candidate
	StateEvaluatedAccepted
	// StateEvaluatedRejected means the gate rejected the candidate
	StateEvaluatedRejected
	// StateBackedUp means the previous live artifact was copied aside
	StateBackedUp
	// StateBackupFailed means the backup could not be created and live was not touched
	StateBackupFailed
	// StatePromoted means the candidate is now live
	StatePromoted
	// StateReplaceFailed means the atomic replace did not complete and live is unchanged
	StateReplaceFailed
)

// String returns string representation of the state
func (s State) String() string {
	switch s {
	case StateCandidateBuilt:
		return "CANDIDATE_BUILT"
	case StateEvaluatedAccepted:
		return "EVALUATED_ACCEPTED"
	case StateEvaluatedRejected:
		return "EVALUATED_REJECTED"
	case StateBackedUp:
		return "BACKED_UP"
	case StateBackupFailed:
		return "BACKUP_FAILED"
	case StatePromoted:
		return "PROMOTED"
	case StateReplaceFailed:
		return "REPLACE_FAILED"
	default:
		return "UNKNOWN"
	}
}

// MarshalText encodes the state by name
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Terminal reports whether no further transition follows s
func (s State) Terminal() bool {
	switch s {
	case StateEvaluatedRejected, StateBackupFailed, StatePromoted, StateReplaceFailed:
		return true
	}
	return false
}
