package registry

import "time"

// MarkRunning transitions a record to running and stamps its start time.
func (s *Store) MarkRunning(record *ExecutionRecord, identity, workspace string) error {
	now := time.Now().UTC()
	record.State = StateRunning
	record.Identity = identity
	record.Workspace = workspace
	record.StartedAt = &now
	return s.Write(record)
}

// MarkSuccess finalizes a record after the unit of work actually executed.
func (s *Store) MarkSuccess(record *ExecutionRecord, outputEntries int) error {
	return s.finish(record, StateSuccess, outputEntries, "")
}

// MarkFromCache finalizes a record whose result was reused without
// re-execution.
func (s *Store) MarkFromCache(record *ExecutionRecord, outputEntries int) error {
	return s.finish(record, StateFromCache, outputEntries, "")
}

// MarkFailed finalizes a record with the failure message.
func (s *Store) MarkFailed(record *ExecutionRecord, execErr error) error {
	msg := "unknown error"
	if execErr != nil {
		msg = execErr.Error()
	}
	return s.finish(record, StateFailed, 0, msg)
}

func (s *Store) finish(record *ExecutionRecord, state ExecutionState, outputEntries int, errMsg string) error {
	now := time.Now().UTC()
	record.State = state
	record.EndedAt = &now
	record.OutputEntries = outputEntries
	record.Error = errMsg
	return s.Write(record)
}
