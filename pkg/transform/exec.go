package transform

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/lathe-build/lathe/pkg/result"
	"github.com/lathe-build/lathe/pkg/work"
)

const execActionVersion = "exec/1"

// Argv placeholders expanded before the command runs.
const (
	placeholderInput     = "{{input}}"
	placeholderOutput    = "{{output}}"
	placeholderWorkspace = "{{workspace}}"
)

// Log file names written into the workspace root (outside the output dir,
// so they never pollute produced outputs).
const (
	execStdoutLog = "exec-stdout.log"
	execStderrLog = "exec-stderr.log"
)

// ExecAction runs an external command to perform the transform. The command
// runs with the workspace as its working directory; stdout and stderr are
// captured to per-execution log files in the workspace.
type ExecAction struct {
	// Argv is the command and its arguments. Placeholders {{input}},
	// {{output}}, and {{workspace}} expand to the input artifact path, the
	// output directory, and the workspace root.
	Argv []string

	// Env is appended to the inherited environment. Entries are KEY=VALUE.
	Env []string
}

var (
	_ Action                 = (*ExecAction)(nil)
	_ IdentityInputsDeclarer = (*ExecAction)(nil)
)

// NewExecAction validates and builds an ExecAction.
func NewExecAction(argv []string, env []string) (*ExecAction, error) {
	if len(argv) == 0 {
		return nil, fmt.Errorf("exec action requires a non-empty argv")
	}
	return &ExecAction{Argv: argv, Env: env}, nil
}

func (a *ExecAction) Kind() string { return "exec" }

// ImplementationHash covers the action version, argv, and environment so
// changing the command invalidates cached results.
func (a *ExecAction) ImplementationHash() string {
	h := sha256.New()
	h.Write([]byte(execActionVersion))
	for _, arg := range a.Argv {
		h.Write([]byte{0})
		h.Write([]byte(arg))
	}
	for _, kv := range a.Env {
		h.Write([]byte{1})
		h.Write([]byte(kv))
	}
	return hex.EncodeToString(h.Sum(nil))
}

// VisitExtraIdentityInputs declares the expanded command line as an
// identity input, composing with (never replacing) the base declarations.
func (a *ExecAction) VisitExtraIdentityInputs(visitor work.InputVisitor) {
	visitor.VisitInputProperty("execArgv", func() string {
		return strings.Join(a.Argv, "\x00")
	})
}

func (a *ExecAction) Apply(ctx context.Context, apply ApplyContext) (*result.TransformResult, error) {
	argv := a.expandArgv(apply)

	stdout, err := os.Create(filepath.Join(apply.Workspace, execStdoutLog))
	if err != nil {
		return nil, fmt.Errorf("create stdout log: %w", err)
	}
	defer func() { _ = stdout.Close() }()

	stderr, err := os.Create(filepath.Join(apply.Workspace, execStderrLog))
	if err != nil {
		return nil, fmt.Errorf("create stderr log: %w", err)
	}
	defer func() { _ = stderr.Close() }()

	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Dir = apply.Workspace
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	cmd.Env = append(os.Environ(), a.Env...)

	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("exec %s: %w (stderr: %s)", argv[0], err, filepath.Join(apply.Workspace, execStderrLog))
	}

	return ScanOutputDir(apply.OutputDir)
}

func (a *ExecAction) expandArgv(apply ApplyContext) []string {
	out := make([]string, len(a.Argv))
	for i, arg := range a.Argv {
		arg = strings.ReplaceAll(arg, placeholderInput, apply.InputArtifact)
		arg = strings.ReplaceAll(arg, placeholderOutput, apply.OutputDir)
		arg = strings.ReplaceAll(arg, placeholderWorkspace, apply.Workspace)
		out[i] = arg
	}
	return out
}
