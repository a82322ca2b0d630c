// Package engine coordinates unit-of-work execution against the workspace
// store: it fingerprints a unit's identity, allocates the matching
// workspace, reuses a previously persisted result when the inputs are
// unchanged, and otherwise executes the unit and records its outcome.
//
// The engine executes synchronously, one unit per call, and introduces no
// threading of its own. Callers wanting parallel transform execution invoke
// Execute concurrently for units with distinct identities; workspaces are
// never shared between concurrently executing identities, so the engine
// needs no internal locking.
package engine

import (
	"context"
	"fmt"
	"os"

	"go.uber.org/zap"

	"github.com/lathe-build/lathe/pkg/fingerprint"
	"github.com/lathe-build/lathe/pkg/work"
	"github.com/lathe-build/lathe/pkg/workspace"
)

// Source reports where an outcome's result came from.
type Source string

const (
	// SourceExecuted means the unit of work actually ran.
	SourceExecuted Source = "executed"

	// SourceCache means a previously persisted result was reloaded without
	// re-execution.
	SourceCache Source = "cache"
)

// Outcome is the engine's answer for one submitted unit of work.
type Outcome struct {
	// Identity is the fingerprinted work identity.
	Identity work.Identity

	// Workspace is the directory the result lives in.
	Workspace string

	// Source reports whether the unit executed or was served from cache.
	Source Source

	// Output is the unit's produced (or reloaded) output.
	Output *work.WorkOutput

	// CachingDisabled carries the unit's declarative caching-disabled
	// reason, when present. Informational; not a failure.
	CachingDisabled *work.CachingDisabledReason
}

// Config configures an Engine.
type Config struct {
	// WorkspaceRoot is the directory workspaces are allocated under.
	WorkspaceRoot string

	// Rebuild forces execution even when a reusable result exists.
	Rebuild bool

	// Logger receives structured execution logs. Defaults to zap.NewNop.
	Logger *zap.Logger
}

// Engine executes units of work with identity-based result reuse.
type Engine struct {
	fingerprinter *fingerprint.Fingerprinter
	workspaces    *workspace.Provider
	rebuild       bool
	logger        *zap.Logger
}

// New creates an Engine.
func New(cfg Config) (*Engine, error) {
	if cfg.WorkspaceRoot == "" {
		return nil, fmt.Errorf("workspace root is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		fingerprinter: fingerprint.New(),
		workspaces:    workspace.NewProvider(cfg.WorkspaceRoot),
		rebuild:       cfg.Rebuild,
		logger:        logger,
	}, nil
}

// Workspaces exposes the engine's workspace provider for inspection and
// garbage collection.
func (e *Engine) Workspaces() *workspace.Provider {
	return e.workspaces
}

// Execute runs one unit of work to completion, or serves its result from
// the workspace cache.
//
// Cancellation is honored only before execution starts; once the unit
// runs, it runs to completion or failure. Every failure mode surfaces to
// the caller; nothing is recovered locally.
func (e *Engine) Execute(ctx context.Context, u work.UnitOfWork) (*Outcome, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	identity, err := e.fingerprinter.FingerprintIdentity(u)
	if err != nil {
		return nil, err
	}

	ws, err := e.workspaces.Provide(identity, u.DisplayName())
	if err != nil {
		return nil, fmt.Errorf("provide workspace for %s: %w", u.DisplayName(), err)
	}

	disabled := u.ShouldDisableCaching(nil)

	currentInputs, err := e.fingerprinter.SnapshotRegularInputs(u)
	if err != nil {
		return nil, err
	}

	if e.reusable(ws, currentInputs, disabled) {
		return e.loadFromWorkspace(u, identity, ws)
	}

	return e.executeInWorkspace(ctx, u, identity, ws, currentInputs, disabled)
}

// reusable decides whether the workspace's persisted result can be served
// without re-execution: caching permitted, result marked valid, and the
// regular inputs unchanged since it was produced.
func (e *Engine) reusable(ws *workspace.Workspace, currentInputs *fingerprint.Snapshot, disabled *work.CachingDisabledReason) bool {
	if e.rebuild || disabled != nil {
		return false
	}
	record := ws.Record()
	if !record.HasResult || record.InputsSnapshot == nil {
		return false
	}
	return record.InputsSnapshot.Equal(currentInputs)
}

func (e *Engine) loadFromWorkspace(u work.UnitOfWork, identity work.Identity, ws *workspace.Workspace) (*Outcome, error) {
	// The workspace is marked valid, so a missing or corrupt results file
	// here is a real error to report, never a silent cache miss.
	output, err := u.LoadAlreadyProducedOutput(ws.Dir())
	if err != nil {
		return nil, fmt.Errorf("load cached output of %s: %w", u.DisplayName(), err)
	}

	if err := ws.MarkUsed(); err != nil {
		return nil, err
	}

	e.logger.Info("Reused cached transform output",
		zap.String("work", u.DisplayName()),
		zap.String("identity", identity.String()))

	return &Outcome{
		Identity:  identity,
		Workspace: ws.Dir(),
		Source:    SourceCache,
		Output:    &work.WorkOutput{DidWork: false, Output: output},
	}, nil
}

func (e *Engine) executeInWorkspace(
	ctx context.Context,
	u work.UnitOfWork,
	identity work.Identity,
	ws *workspace.Workspace,
	currentInputs *fingerprint.Snapshot,
	disabled *work.CachingDisabledReason,
) (*Outcome, error) {
	changes := e.incrementalChanges(u, ws, currentInputs)

	// Mark non-reusable and clear declared outputs before executing, so a
	// failure can never leave stale output masquerading as a valid result.
	if err := ws.InvalidateResult(); err != nil {
		return nil, err
	}
	if err := clearDeclaredOutputs(u, ws.Dir()); err != nil {
		return nil, fmt.Errorf("clear stale outputs of %s: %w", u.DisplayName(), err)
	}

	e.logger.Info("Executing transform",
		zap.String("work", u.DisplayName()),
		zap.String("identity", identity.String()),
		zap.Bool("incremental", changes != nil))

	output, err := u.Execute(ctx, work.ExecutionRequest{
		Workspace:    ws.Dir(),
		InputChanges: changes,
	})
	if err != nil {
		// The workspace stays invalidated; the error is the caller's,
		// unchanged.
		return nil, err
	}

	if err := ws.RecordSuccess(currentInputs); err != nil {
		return nil, err
	}

	return &Outcome{
		Identity:        identity,
		Workspace:       ws.Dir(),
		Source:          SourceExecuted,
		Output:          output,
		CachingDisabled: disabled,
	}, nil
}

// incrementalChanges computes the change set for incremental units with a
// prior execution. Non-incremental units and first executions get nil.
func (e *Engine) incrementalChanges(u work.UnitOfWork, ws *workspace.Workspace, currentInputs *fingerprint.Snapshot) *work.InputChanges {
	if u.ExecutionBehavior() != work.Incremental {
		return nil
	}
	prev := ws.Record().InputsSnapshot
	if prev == nil {
		return nil
	}
	return fingerprint.Diff(prev, currentInputs)
}

// clearDeclaredOutputs removes every output location the unit declares
// under the workspace, so re-execution starts from a clean slate.
func clearDeclaredOutputs(u work.UnitOfWork, workspaceDir string) error {
	var firstErr error
	u.VisitOutputs(workspaceDir, outputRemover{err: &firstErr})
	return firstErr
}

type outputRemover struct {
	err *error
}

func (r outputRemover) VisitOutputProperty(name string, kind work.TreeType, path string) {
	if *r.err != nil {
		return
	}
	if err := os.RemoveAll(path); err != nil {
		*r.err = err
	}
}
