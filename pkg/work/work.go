// Package work defines the unit-of-work contract executed by the lathe engine.
//
// A unit of work is one schedulable, independently cacheable execution step:
// it declares its inputs (split into identity-relevant and regular inputs),
// declares its outputs relative to an isolated workspace, executes on demand,
// and persists a result that can be reloaded without re-execution.
//
// The contract is deliberately declarative: a unit of work never computes its
// own cache key and never decides whether a cached result is valid. Both are
// the responsibility of the surrounding engine and fingerprinting layer.
package work

import (
	"context"

	"github.com/lathe-build/lathe/pkg/result"
)

// Identity is the stable fingerprint derived from a unit of work's declared
// identity inputs. Two units with equal identities may share one workspace
// and one persisted result.
type Identity string

// String returns the identity digest as a string.
func (id Identity) String() string {
	return string(id)
}

// ExecutionBehavior describes whether a unit of work consumes
// incremental-change information. Fixed per unit at construction.
type ExecutionBehavior string

const (
	// Incremental units receive a description of what changed since their
	// last execution via ExecutionRequest.InputChanges.
	Incremental ExecutionBehavior = "incremental"

	// NonIncremental units always recompute from scratch.
	NonIncremental ExecutionBehavior = "non-incremental"
)

// ExecutionRequest bundles everything a unit of work needs to execute:
// the workspace to write into and optional incremental-change information.
type ExecutionRequest struct {
	// Workspace is the exclusively-owned directory for this execution.
	// The unit of work writes only under this directory.
	Workspace string

	// InputChanges describes what changed since the last execution.
	// Nil for non-incremental units and for the first execution.
	InputChanges *InputChanges
}

// WorkOutput is the value returned by a successful execution: a marker that
// work was actually performed plus the produced result.
type WorkOutput struct {
	// DidWork indicates the unit executed rather than reusing prior output.
	DidWork bool

	// Output is the structured result produced by this execution.
	Output *result.TransformResult
}

// InputChanges describes the file-level changes observed since the previous
// execution of an incremental unit of work.
type InputChanges struct {
	// Changes lists each changed file with its change kind.
	Changes []FileChange
}

// ChangeKind classifies a single file change.
type ChangeKind string

const (
	ChangeAdded    ChangeKind = "added"
	ChangeModified ChangeKind = "modified"
	ChangeRemoved  ChangeKind = "removed"
)

// FileChange is one changed input file.
type FileChange struct {
	Path string
	Kind ChangeKind
}

// UnitOfWork is the contract for one schedulable, cacheable, optionally
// incremental piece of work.
//
// Implementations must be safe to execute at most once concurrently per
// distinct identity; the engine guarantees workspaces are never shared
// between concurrently executing identities.
type UnitOfWork interface {
	// Execute performs the work inside the request's workspace, persists its
	// result, and returns the produced output.
	//
	// Failures from the wrapped work propagate unchanged; on failure no
	// results file is written and the workspace must be treated as
	// non-reusable until the next successful execution.
	Execute(ctx context.Context, req ExecutionRequest) (*WorkOutput, error)

	// LoadAlreadyProducedOutput deserializes the result persisted by a prior
	// execution in the given workspace, without re-executing.
	//
	// The caller is responsible for deciding that the workspace contains
	// valid results. A missing or corrupt results file is reported as a
	// deserialization error, never silently mapped to "no prior output".
	LoadAlreadyProducedOutput(workspace string) (*result.TransformResult, error)

	// VisitIdentityInputs declares the properties that participate in
	// cache-key identity.
	VisitIdentityInputs(visitor InputVisitor)

	// VisitRegularInputs declares ordinary execution inputs that are
	// fingerprinted for up-to-date checks but do not select the workspace.
	VisitRegularInputs(visitor InputVisitor)

	// VisitOutputs declares the output locations produced under the given
	// workspace so the caching layer can snapshot and restore them.
	VisitOutputs(workspace string, visitor OutputVisitor)

	// ShouldDisableCaching reports whether caching must be skipped for this
	// unit. Returns nil when caching is permitted. Pure query, no side
	// effects.
	ShouldDisableCaching(overlap *OverlappingOutputs) *CachingDisabledReason

	// ExecutionBehavior reports whether this unit consumes incremental
	// change information.
	ExecutionBehavior() ExecutionBehavior

	// DisplayName is a human-readable description of this unit, used in
	// logs, records, and listener notifications.
	DisplayName() string
}
