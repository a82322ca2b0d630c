package transform

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lathe-build/lathe/pkg/result"
	"github.com/lathe-build/lathe/pkg/work"
)

// stubAction returns a fixed result or error.
type stubAction struct {
	res *result.TransformResult
	err error
}

func (s *stubAction) Kind() string               { return "stub" }
func (s *stubAction) ImplementationHash() string { return "stub-hash" }

func (s *stubAction) Apply(ctx context.Context, apply ApplyContext) (*result.TransformResult, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.res, nil
}

// recordingListener appends events in notification order.
type recordingListener struct {
	events []string
}

func (l *recordingListener) BeforeExecution(name string) { l.events = append(l.events, "before") }
func (l *recordingListener) AfterExecution(name string)  { l.events = append(l.events, "after") }

// recordingVisitor captures declared input properties.
type recordingVisitor struct {
	values map[string]string
	files  map[string]work.FileValueSupplier
}

func newRecordingVisitor() *recordingVisitor {
	return &recordingVisitor{
		values: make(map[string]string),
		files:  make(map[string]work.FileValueSupplier),
	}
}

func (v *recordingVisitor) VisitInputProperty(name string, value work.ValueSupplier) {
	v.values[name] = value()
}

func (v *recordingVisitor) VisitInputFileProperty(name string, behavior work.InputBehavior, value work.FileValueSupplier) {
	v.files[name] = value
}

func testSpec(t *testing.T, input string) Spec {
	t.Helper()
	return Spec{
		Name:          "minify",
		InputArtifact: input,
		Normalization: work.NormalizeName,
		Cacheable:     true,
	}
}

func writeInput(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestExecuteWritesResultsFile(t *testing.T) {
	ws := t.TempDir()
	input := writeInput(t, t.TempDir(), "app.js", "js")

	produced := &result.TransformResult{}
	produced.AddProducedFile("app.min.js", 2)

	exec, err := NewExecution(testSpec(t, input), &stubAction{res: produced}, nil)
	require.NoError(t, err)

	out, err := exec.Execute(context.Background(), work.ExecutionRequest{Workspace: ws})
	require.NoError(t, err)
	assert.True(t, out.DidWork)
	assert.True(t, produced.Equal(out.Output))

	loaded, err := exec.LoadAlreadyProducedOutput(ws)
	require.NoError(t, err)
	assert.True(t, produced.Equal(loaded), "load-after-write round-trips to an equal result")
}

func TestExecuteFailurePropagatesUnwrapped(t *testing.T) {
	ws := t.TempDir()
	input := writeInput(t, t.TempDir(), "app.js", "js")
	boom := errors.New("transform exploded")

	exec, err := NewExecution(testSpec(t, input), &stubAction{err: boom}, nil)
	require.NoError(t, err)

	_, err = exec.Execute(context.Background(), work.ExecutionRequest{Workspace: ws})
	require.Error(t, err)
	assert.Equal(t, boom, err, "the action's error is observed as-is, not wrapped or swallowed")

	assert.NoFileExists(t, ResultsFile(ws), "no results file after a failed execution")

	_, err = exec.LoadAlreadyProducedOutput(ws)
	assert.ErrorIs(t, err, result.ErrMissingResults)
}

func TestListenerPairingAroundExecution(t *testing.T) {
	tests := []struct {
		name   string
		action Action
	}{
		{"successful work", &stubAction{res: &result.TransformResult{}}},
		{"failing work", &stubAction{err: errors.New("boom")}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			listener := &recordingListener{}
			input := writeInput(t, t.TempDir(), "app.js", "js")

			exec, err := NewExecution(testSpec(t, input), tt.action, listener)
			require.NoError(t, err)

			_, _ = exec.Execute(context.Background(), work.ExecutionRequest{Workspace: t.TempDir()})

			require.Equal(t, []string{"before", "after"}, listener.events,
				"before and after fire exactly once each, in order, on every exit path")
		})
	}
}

func TestIdentityInputPathAsymmetry(t *testing.T) {
	dirA := t.TempDir()
	dirB := t.TempDir()
	inputA := writeInput(t, dirA, "foo.jar", "bytes")
	inputB := writeInput(t, dirB, "foo.jar", "bytes")

	pathProperty := func(input string, n work.Normalization) string {
		spec := testSpec(t, input)
		spec.Normalization = n
		exec, err := NewExecution(spec, &stubAction{res: &result.TransformResult{}}, nil)
		require.NoError(t, err)

		v := newRecordingVisitor()
		exec.VisitIdentityInputs(v)
		return v.values[InputArtifactPathProperty]
	}

	t.Run("absolute path normalization distinguishes directories", func(t *testing.T) {
		assert.NotEqual(t,
			pathProperty(inputA, work.NormalizeAbsolutePath),
			pathProperty(inputB, work.NormalizeAbsolutePath))
	})

	t.Run("name normalization maps both to the bare name", func(t *testing.T) {
		valA := pathProperty(inputA, work.NormalizeName)
		valB := pathProperty(inputB, work.NormalizeName)
		assert.Equal(t, "foo.jar", valA)
		assert.Equal(t, valA, valB, "directory is irrelevant under name normalization")
	})

	t.Run("content normalization also uses the bare name", func(t *testing.T) {
		assert.Equal(t, "foo.jar", pathProperty(inputA, work.NormalizeContent))
	})
}

func TestBaseIdentityDeclarationsAlwaysPresent(t *testing.T) {
	input := writeInput(t, t.TempDir(), "app.js", "js")

	action, err := NewExecAction([]string{"true"}, nil)
	require.NoError(t, err)

	exec, err := NewExecution(testSpec(t, input), action, nil)
	require.NoError(t, err)

	v := newRecordingVisitor()
	exec.VisitIdentityInputs(v)

	// Base declarations first, variant extras composed on top.
	assert.Contains(t, v.values, SecondaryInputsProperty)
	assert.Contains(t, v.values, InputArtifactPathProperty)
	assert.Contains(t, v.files, DependenciesProperty)
	assert.Contains(t, v.values, "execArgv", "exec variant adds its argv without displacing base inputs")
}

func TestVisitRegularInputs(t *testing.T) {
	input := writeInput(t, t.TempDir(), "app.js", "js")
	spec := testSpec(t, input)
	spec.LineEndings = work.LineEndingsNormalized

	exec, err := NewExecution(spec, &stubAction{res: &result.TransformResult{}}, nil)
	require.NoError(t, err)

	v := newRecordingVisitor()
	exec.VisitRegularInputs(v)

	supplier, ok := v.files[InputArtifactProperty]
	require.True(t, ok)
	files, err := supplier.Files()
	require.NoError(t, err)
	assert.Equal(t, []string{input}, files)
	assert.Equal(t, work.LineEndingsNormalized, supplier.LineEndings)
}

func TestVisitOutputsFixedLocations(t *testing.T) {
	input := writeInput(t, t.TempDir(), "app.js", "js")
	exec, err := NewExecution(testSpec(t, input), &stubAction{res: &result.TransformResult{}}, nil)
	require.NoError(t, err)

	type output struct {
		kind work.TreeType
		path string
	}
	outputs := make(map[string]output)
	exec.VisitOutputs("/ws", outputVisitorFunc(func(name string, kind work.TreeType, path string) {
		outputs[name] = output{kind, path}
	}))

	require.Len(t, outputs, 2)
	assert.Equal(t, output{work.TreeDirectory, filepath.Join("/ws", "transformed")}, outputs[OutputDirectoryProperty])
	assert.Equal(t, output{work.TreeFile, filepath.Join("/ws", "results.bin")}, outputs[ResultsFileProperty])
}

type outputVisitorFunc func(name string, kind work.TreeType, path string)

func (f outputVisitorFunc) VisitOutputProperty(name string, kind work.TreeType, path string) {
	f(name, kind, path)
}

func TestShouldDisableCaching(t *testing.T) {
	input := writeInput(t, t.TempDir(), "app.js", "js")

	overlaps := []*work.OverlappingOutputs{
		nil,
		{PropertyName: OutputDirectoryProperty, Paths: []string{"/shared/out"}},
	}

	for _, cacheable := range []bool{true, false} {
		for _, overlap := range overlaps {
			spec := testSpec(t, input)
			spec.Cacheable = cacheable

			exec, err := NewExecution(spec, &stubAction{res: &result.TransformResult{}}, nil)
			require.NoError(t, err)

			reason := exec.ShouldDisableCaching(overlap)
			if cacheable {
				assert.Nil(t, reason)
			} else {
				require.NotNil(t, reason)
				assert.Equal(t, work.CachingNotCacheable, reason.Category)
				assert.NotEmpty(t, reason.Reason)
			}
		}
	}
}

func TestExecutionBehaviorFixedAtConstruction(t *testing.T) {
	input := writeInput(t, t.TempDir(), "app.js", "js")

	spec := testSpec(t, input)
	exec, err := NewExecution(spec, &stubAction{res: &result.TransformResult{}}, nil)
	require.NoError(t, err)
	assert.Equal(t, work.NonIncremental, exec.ExecutionBehavior())

	spec.Incremental = true
	exec, err = NewExecution(spec, &stubAction{res: &result.TransformResult{}}, nil)
	require.NoError(t, err)
	assert.Equal(t, work.Incremental, exec.ExecutionBehavior())
}

func TestNewExecutionValidation(t *testing.T) {
	input := writeInput(t, t.TempDir(), "app.js", "js")

	_, err := NewExecution(Spec{InputArtifact: input}, &stubAction{}, nil)
	require.Error(t, err, "name required")

	_, err = NewExecution(Spec{Name: "x"}, &stubAction{}, nil)
	require.Error(t, err, "input artifact required")

	spec := testSpec(t, input)
	spec.Normalization = "bogus"
	_, err = NewExecution(spec, &stubAction{}, nil)
	require.Error(t, err, "unknown normalization rejected")

	_, err = NewExecution(testSpec(t, input), nil, nil)
	require.Error(t, err, "action required")
}
