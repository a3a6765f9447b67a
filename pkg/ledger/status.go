package ledger

// Status is the lifecycle state of a job.
//
// NOTE: These values are persisted in the jobs table and are part of the
// stable on-disk contract.
type Status string

const (
	StatusLaunching  Status = "launching"
	StatusRunning    Status = "running"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusTerminated Status = "terminated"
)

// Provider identifies the cloud a job runs on.
type Provider string

const (
	ProviderAWS   Provider = "AWS"
	ProviderGCP   Provider = "GCP"
	ProviderAzure Provider = "Azure"
)

// IsTerminal reports whether s is an absorbing state with no outbound
// transitions.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusTerminated:
		return true
	}
	return false
}

// Valid reports whether s is a known status value.
func (s Status) Valid() bool {
	switch s {
	case StatusLaunching, StatusRunning, StatusCompleted, StatusFailed, StatusTerminated:
		return true
	}
	return false
}

// canTransition encodes the lifecycle state machine:
//
//	launching -> running -> {completed, failed, terminated}
//
// Launch failures go straight from launching to failed/terminated without
// ever reaching running. Terminal states accept re-entry of the same state
// (an explicit re-mark simply re-stamps completed_at), never a different one.
func canTransition(from, to Status) bool {
	if !to.Valid() {
		return false
	}
	switch from {
	case StatusLaunching:
		return to == StatusRunning || to == StatusFailed || to == StatusTerminated
	case StatusRunning:
		return to == StatusRunning || to.IsTerminal()
	case StatusCompleted, StatusFailed, StatusTerminated:
		return to == from
	}
	// Unknown stored status (foreign writer, older schema): accept anything
	// valid rather than wedging the record.
	return true
}
