// Package transform implements the unit-of-work contract for artifact
// transforms: one transform action applied to one input artifact inside an
// isolated workspace.
//
// An Execution pairs a declarative Spec (what the inputs are and how they
// are normalized) with a polymorphic Action (what the transform does).
// Identity-critical input declarations live in the Execution base so every
// action variant contributes them; actions may declare additional identity
// inputs but can never replace the base declarations.
package transform

import (
	"context"
	"fmt"
	"strings"

	"github.com/lathe-build/lathe/pkg/result"
	"github.com/lathe-build/lathe/pkg/work"
)

// Spec declares one transform work item: the input artifact, its dependency
// file set, normalization policies, and caching/incrementality flags.
// Owned by the caller; immutable once constructed.
type Spec struct {
	// Name labels the transform in logs and records.
	Name string

	// InputArtifact is the path of the artifact being transformed.
	InputArtifact string

	// Dependencies are the resolved paths of the artifact's dependency
	// files. May be empty.
	Dependencies []string

	// Normalization selects the input artifact's identity contribution
	// policy.
	Normalization work.Normalization

	// DirSensitivity controls empty-directory handling for the input
	// artifact property.
	DirSensitivity work.DirectorySensitivity

	// LineEndings controls line-ending normalization for the input
	// artifact property.
	LineEndings work.LineEndingSensitivity

	// Cacheable marks the work item eligible for cache reuse.
	Cacheable bool

	// Incremental marks the work item as consuming incremental-change
	// information.
	Incremental bool
}

// Validate checks the spec for structural problems.
func (s *Spec) Validate() error {
	if strings.TrimSpace(s.Name) == "" {
		return fmt.Errorf("transform name is required")
	}
	if strings.TrimSpace(s.InputArtifact) == "" {
		return fmt.Errorf("transform %s: input artifact is required", s.Name)
	}
	if s.Normalization != "" && !s.Normalization.Valid() {
		return fmt.Errorf("transform %s: unknown normalization %q", s.Name, s.Normalization)
	}
	return nil
}

// ApplyContext carries everything an action needs for one application.
type ApplyContext struct {
	// InputArtifact is the artifact path from the spec.
	InputArtifact string

	// OutputDir is the fixed output directory inside the workspace. It
	// exists before Apply is called.
	OutputDir string

	// Workspace is the workspace root, for actions that keep logs or
	// scratch files outside the output dir.
	Workspace string

	// Dependencies are the resolved dependency paths from the spec.
	Dependencies []string

	// Changes describes input changes since the last execution. Nil unless
	// the spec is incremental and a previous execution exists.
	Changes *work.InputChanges
}

// Action is the polymorphic transform logic applied by an Execution.
//
// Implementations write exclusively under ctx.OutputDir (plus workspace
// scratch files) and return the result describing what they produced.
// Failures propagate to the caller unchanged.
type Action interface {
	// Kind is the registered action kind ("copy", "exec", "archive").
	Kind() string

	// ImplementationHash covers the action implementation version and its
	// parameters. It is an identity input: changing the action or its
	// configuration invalidates cached results.
	ImplementationHash() string

	// Apply performs the transform.
	Apply(ctx context.Context, apply ApplyContext) (*result.TransformResult, error)
}

// IdentityInputsDeclarer is an optional Action extension for variants with
// identity inputs beyond the base declarations. The base declarations are
// always visited first; implementing this interface adds to them, never
// replaces them.
type IdentityInputsDeclarer interface {
	VisitExtraIdentityInputs(visitor work.InputVisitor)
}
