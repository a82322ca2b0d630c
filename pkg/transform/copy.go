package transform

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/lathe-build/lathe/pkg/result"
)

// copyActionVersion participates in the implementation hash so behavioral
// changes to the copy action invalidate cached results.
const copyActionVersion = "copy/1"

// CopyAction copies the input artifact into the output directory under its
// own base name. The simplest possible transform, useful for staging
// artifacts into cacheable workspaces.
type CopyAction struct{}

var _ Action = (*CopyAction)(nil)

func (a *CopyAction) Kind() string { return "copy" }

func (a *CopyAction) ImplementationHash() string {
	sum := sha256.Sum256([]byte(copyActionVersion))
	return hex.EncodeToString(sum[:])
}

func (a *CopyAction) Apply(ctx context.Context, apply ApplyContext) (*result.TransformResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	name := filepath.Base(apply.InputArtifact)
	dest := filepath.Join(apply.OutputDir, name)

	size, err := copyFile(apply.InputArtifact, dest)
	if err != nil {
		return nil, fmt.Errorf("copy %s: %w", apply.InputArtifact, err)
	}

	res := &result.TransformResult{}
	res.AddProducedFile(name, size)
	return res, nil
}

func copyFile(src, dest string) (int64, error) {
	in, err := os.Open(src)
	if err != nil {
		return 0, err
	}
	defer func() { _ = in.Close() }()

	out, err := os.Create(dest)
	if err != nil {
		return 0, err
	}

	n, err := io.Copy(out, in)
	if err != nil {
		_ = out.Close()
		return 0, err
	}
	if err := out.Close(); err != nil {
		return 0, err
	}
	return n, nil
}
