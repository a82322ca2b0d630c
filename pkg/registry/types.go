package registry

import "time"

// ExecutionState is the lifecycle state of a recorded execution.
//
// NOTE: These values are persisted in execution.json and are part of the
// stable on-disk contract.
type ExecutionState string

const (
	StateQueued    ExecutionState = "queued"
	StateRunning   ExecutionState = "running"
	StateSuccess   ExecutionState = "success"
	StateFromCache ExecutionState = "from-cache"
	StateFailed    ExecutionState = "failed"
)

// Terminal reports whether the state is final.
func (s ExecutionState) Terminal() bool {
	switch s {
	case StateSuccess, StateFromCache, StateFailed:
		return true
	}
	return false
}

// ExecutionRecord is the persistent record written to execution.json.
//
// The schema is designed for backward-compatible extension (additive fields).
type ExecutionRecord struct {
	ExecutionID string         `json:"execution_id"`
	DisplayName string         `json:"display_name,omitempty"`
	Identity    string         `json:"identity,omitempty"`
	State       ExecutionState `json:"state"`
	Workspace   string         `json:"workspace,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`

	StartedAt *time.Time `json:"started_at,omitempty"`
	EndedAt   *time.Time `json:"ended_at,omitempty"`

	// OutputEntries is the number of entries in the produced result, set on
	// success or cache reuse.
	OutputEntries int `json:"output_entries,omitempty"`

	// Error holds the failure message for failed executions.
	Error string `json:"error,omitempty"`
}
