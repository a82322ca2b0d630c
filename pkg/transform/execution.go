package transform

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/lathe-build/lathe/pkg/result"
	"github.com/lathe-build/lathe/pkg/work"
)

// Input and output property names. These are part of the fingerprint
// contract: renaming one changes every identity.
const (
	InputArtifactProperty     = "inputArtifact"
	InputArtifactPathProperty = "inputArtifactPath"
	DependenciesProperty      = "inputArtifactDependencies"
	SecondaryInputsProperty   = "inputPropertiesHash"
	OutputDirectoryProperty   = "outputDirectory"
	ResultsFileProperty       = "resultsFile"
)

// Fixed workspace-relative locations. Computed deterministically from the
// workspace root, never configurable per call.
const (
	outputDirName   = "transformed"
	resultsFileName = "results.bin"
)

// OutputDir returns the fixed output directory for a workspace.
func OutputDir(workspace string) string {
	return filepath.Join(workspace, outputDirName)
}

// ResultsFile returns the fixed results file path for a workspace.
func ResultsFile(workspace string) string {
	return filepath.Join(workspace, resultsFileName)
}

var notCacheable = &work.CachingDisabledReason{
	Category: work.CachingNotCacheable,
	Reason:   "caching not enabled",
}

// Execution is the unit of work for one transform of one input artifact.
type Execution struct {
	spec     Spec
	action   Action
	listener work.ExecutionListener
}

var _ work.UnitOfWork = (*Execution)(nil)

// NewExecution builds an Execution from a validated spec and action.
// The listener may be nil.
func NewExecution(spec Spec, action Action, listener work.ExecutionListener) (*Execution, error) {
	if err := spec.Validate(); err != nil {
		return nil, err
	}
	if action == nil {
		return nil, fmt.Errorf("transform %s: action is required", spec.Name)
	}
	if listener == nil {
		listener = work.ListenerFuncs{}
	}
	return &Execution{spec: spec, action: action, listener: listener}, nil
}

// Spec returns the execution's declarative spec.
func (e *Execution) Spec() Spec { return e.spec }

// DisplayName describes this execution for logs and records.
func (e *Execution) DisplayName() string {
	return e.spec.Name + ": " + filepath.Base(e.spec.InputArtifact)
}

// Execute applies the transform inside the request's workspace and persists
// the result.
//
// The listener's Before notification happens-before the action runs and the
// After notification is guaranteed on every exit path, including failures,
// via the deferred call. Action failures propagate unchanged; on failure no
// results file is written, leaving the workspace non-reusable until the
// next successful execution.
func (e *Execution) Execute(ctx context.Context, req work.ExecutionRequest) (*work.WorkOutput, error) {
	e.listener.BeforeExecution(e.DisplayName())
	defer e.listener.AfterExecution(e.DisplayName())

	outputDir := OutputDir(req.Workspace)
	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return nil, fmt.Errorf("create output dir for %s: %w", e.DisplayName(), err)
	}

	res, err := e.action.Apply(ctx, ApplyContext{
		InputArtifact: e.spec.InputArtifact,
		OutputDir:     outputDir,
		Workspace:     req.Workspace,
		Dependencies:  e.spec.Dependencies,
		Changes:       req.InputChanges,
	})
	if err != nil {
		return nil, err
	}
	if res == nil {
		return nil, fmt.Errorf("action %s returned no result for %s", e.action.Kind(), e.DisplayName())
	}

	if err := result.WriteToFile(ResultsFile(req.Workspace), res); err != nil {
		return nil, err
	}

	return &work.WorkOutput{DidWork: true, Output: res}, nil
}

// LoadAlreadyProducedOutput reloads the result persisted by a previous
// execution. Missing or corrupt results files are reported via the
// serializer's structured errors.
func (e *Execution) LoadAlreadyProducedOutput(workspace string) (*result.TransformResult, error) {
	return result.ReadResultsFile(ResultsFile(workspace))
}

// VisitIdentityInputs declares the identity-critical properties.
//
// The base declarations cover the action implementation hash, the
// input-artifact path component, and the dependency file set; action
// variants implementing IdentityInputsDeclarer add to them afterwards.
func (e *Execution) VisitIdentityInputs(visitor work.InputVisitor) {
	e.visitBaseIdentityInputs(visitor)
	if declarer, ok := e.action.(IdentityInputsDeclarer); ok {
		declarer.VisitExtraIdentityInputs(visitor)
	}
}

func (e *Execution) visitBaseIdentityInputs(visitor work.InputVisitor) {
	visitor.VisitInputProperty(SecondaryInputsProperty, e.action.ImplementationHash)

	// The artifact name is always an identity input, since it names the
	// transformed output. Under absolute-path normalization the full path
	// is the identity component; every other strategy uses the bare name
	// and relies on content fingerprinting for actual content changes.
	visitor.VisitInputProperty(InputArtifactPathProperty, func() string {
		if e.spec.Normalization == work.NormalizeAbsolutePath {
			abs, err := filepath.Abs(e.spec.InputArtifact)
			if err != nil {
				return e.spec.InputArtifact
			}
			return abs
		}
		return filepath.Base(e.spec.InputArtifact)
	})

	visitor.VisitInputFileProperty(DependenciesProperty, work.InputNonIncremental, work.FileValueSupplier{
		Files:          func() ([]string, error) { return e.spec.Dependencies, nil },
		Normalization:  work.NormalizeName,
		DirSensitivity: e.spec.DirSensitivity,
		LineEndings:    e.spec.LineEndings,
	})
}

// VisitRegularInputs declares the input artifact itself as the incremental
// execution input.
func (e *Execution) VisitRegularInputs(visitor work.InputVisitor) {
	visitor.VisitInputFileProperty(InputArtifactProperty, work.InputIncremental, work.FileValueSupplier{
		Files:          func() ([]string, error) { return []string{e.spec.InputArtifact}, nil },
		Normalization:  e.spec.Normalization,
		DirSensitivity: e.spec.DirSensitivity,
		LineEndings:    e.spec.LineEndings,
	})
}

// VisitOutputs declares the fixed output directory and results file.
func (e *Execution) VisitOutputs(workspace string, visitor work.OutputVisitor) {
	visitor.VisitOutputProperty(OutputDirectoryProperty, work.TreeDirectory, OutputDir(workspace))
	visitor.VisitOutputProperty(ResultsFileProperty, work.TreeFile, ResultsFile(workspace))
}

// ShouldDisableCaching reports the not-cacheable reason when the spec
// disables caching; otherwise caching is permitted regardless of overlap
// input, since lathe workspaces are exclusive per identity.
func (e *Execution) ShouldDisableCaching(overlap *work.OverlappingOutputs) *work.CachingDisabledReason {
	_ = overlap
	if !e.spec.Cacheable {
		return notCacheable
	}
	return nil
}

// ExecutionBehavior reports whether the action consumes incremental-change
// information. Fixed at construction from the spec.
func (e *Execution) ExecutionBehavior() work.ExecutionBehavior {
	if e.spec.Incremental {
		return work.Incremental
	}
	return work.NonIncremental
}
