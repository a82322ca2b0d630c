// Package output provides JSONL output for transform runs.
//
// Output is structured as typed record envelopes containing executions,
// cache events, errors, and run summaries. Each line is a self-contained
// JSON object that can be parsed independently.
package output

import (
	"encoding/json"
	"errors"
	"time"
)

// Record type constants define the envelope types for JSONL output.
// These follow the pattern: lathe.<type>.v<version>
const (
	// TypeExecution identifies per-transform execution records.
	TypeExecution = "lathe.execution.v1"

	// TypeCache identifies remote cache event records.
	TypeCache = "lathe.cache.v1"

	// TypeError identifies error records.
	TypeError = "lathe.error.v1"

	// TypeSummary identifies final run summary records.
	TypeSummary = "lathe.summary.v1"
)

// Record is the envelope for all JSONL output.
//
// Each line of JSONL output contains a Record with a type-specific
// payload in the Data field. The type field determines how to
// interpret the Data payload.
type Record struct {
	// Type identifies the record type (e.g., "lathe.execution.v1").
	Type string `json:"type"`

	// TS is the timestamp when the record was created (RFC3339Nano).
	TS time.Time `json:"ts"`

	// RunID is the correlation ID for this run.
	RunID string `json:"run_id"`

	// Data contains the type-specific payload as raw JSON.
	Data json.RawMessage `json:"data"`
}

// ExecutionRecord is the data payload for one executed (or reused)
// transform.
type ExecutionRecord struct {
	// DisplayName is the human-readable work name.
	DisplayName string `json:"display_name"`

	// Identity is the fingerprinted work identity.
	Identity string `json:"identity"`

	// Source is where the result came from: "executed" or "cache".
	Source string `json:"source"`

	// Workspace is the directory holding the result.
	Workspace string `json:"workspace,omitempty"`

	// OutputEntries is the number of entries in the produced result.
	OutputEntries int `json:"output_entries"`

	// CachingDisabled names the caching-disabled category, when present.
	CachingDisabled string `json:"caching_disabled,omitempty"`

	// Duration is how long the execution took.
	Duration time.Duration `json:"duration_ns"`
}

// Cache event constants for CacheRecord.
const (
	CacheEventHit  = "hit"
	CacheEventMiss = "miss"
	CacheEventPush = "push"
	CacheEventPull = "pull"
)

// CacheRecord is the data payload for remote cache events.
type CacheRecord struct {
	// Event is the cache event kind: hit, miss, push, or pull.
	Event string `json:"event"`

	// Identity is the work identity the event concerns.
	Identity string `json:"identity"`

	// Bytes is the entry size transferred, for push/pull events.
	Bytes int64 `json:"bytes,omitempty"`
}

// ErrorRecord is the data payload for errors.
//
// Errors are emitted as records rather than aborting the whole run,
// allowing partial results when some transforms fail.
type ErrorRecord struct {
	// Code is a machine-readable error code.
	Code string `json:"code"`

	// Message is a human-readable error description.
	Message string `json:"message"`

	// DisplayName is the work the error relates to, if applicable.
	DisplayName string `json:"display_name,omitempty"`

	// Details contains additional error context.
	Details any `json:"details,omitempty"`
}

// Error codes for ErrorRecord.
const (
	// ErrCodeExecutionFailed indicates the transform action failed.
	ErrCodeExecutionFailed = "EXECUTION_FAILED"

	// ErrCodeResultsCorrupt indicates a stored result could not be decoded.
	ErrCodeResultsCorrupt = "RESULTS_CORRUPT"

	// ErrCodeCacheUnavailable indicates a remote cache operation failed.
	ErrCodeCacheUnavailable = "CACHE_UNAVAILABLE"

	// ErrCodeInternal indicates an unexpected internal error.
	ErrCodeInternal = "INTERNAL"
)

// SummaryRecord is the data payload for final run summaries.
type SummaryRecord struct {
	// Transforms is the total number of transforms processed.
	Transforms int64 `json:"transforms"`

	// Executed is the number of transforms that actually ran.
	Executed int64 `json:"executed"`

	// FromCache is the number of results reused without execution.
	FromCache int64 `json:"from_cache"`

	// Failed is the number of transforms that failed.
	Failed int64 `json:"failed"`

	// Duration is the total run duration.
	Duration time.Duration `json:"duration_ns"`

	// DurationHuman is a human-readable duration string.
	DurationHuman string `json:"duration"`
}

// Writer errors.
var (
	// ErrWriterClosed is returned when writing to a closed writer.
	ErrWriterClosed = errors.New("writer is closed")
)

// WriteError wraps errors that occur during write operations.
type WriteError struct {
	Op  string // Operation that failed (e.g., "marshal_data", "write")
	Err error  // Underlying error
}

func (e *WriteError) Error() string {
	return "output: " + e.Op + ": " + e.Err.Error()
}

func (e *WriteError) Unwrap() error {
	return e.Err
}
