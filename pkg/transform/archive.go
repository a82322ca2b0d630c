package transform

import (
	"archive/tar"
	"compress/gzip"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/lathe-build/lathe/pkg/result"
)

const archiveActionVersion = "archive/1"

// ArchiveAction packs the input artifact and its declared dependencies into
// a single tar.gz in the output directory.
type ArchiveAction struct {
	// ArchiveName is the produced file name. Defaults to
	// "<input base name>.tar.gz" when empty.
	ArchiveName string
}

var _ Action = (*ArchiveAction)(nil)

func (a *ArchiveAction) Kind() string { return "archive" }

func (a *ArchiveAction) ImplementationHash() string {
	h := sha256.New()
	h.Write([]byte(archiveActionVersion))
	h.Write([]byte{0})
	h.Write([]byte(a.ArchiveName))
	return hex.EncodeToString(h.Sum(nil))
}

func (a *ArchiveAction) Apply(ctx context.Context, apply ApplyContext) (*result.TransformResult, error) {
	name := a.ArchiveName
	if name == "" {
		name = filepath.Base(apply.InputArtifact) + ".tar.gz"
	}
	dest := filepath.Join(apply.OutputDir, name)

	members := append([]string{apply.InputArtifact}, apply.Dependencies...)
	if err := writeTarGz(ctx, dest, members); err != nil {
		return nil, fmt.Errorf("archive %s: %w", apply.InputArtifact, err)
	}

	info, err := os.Stat(dest)
	if err != nil {
		return nil, fmt.Errorf("stat archive: %w", err)
	}

	res := &result.TransformResult{}
	res.AddProducedFile(name, info.Size())
	return res, nil
}

// writeTarGz archives the member files by base name. Duplicate base names
// are disambiguated with a numeric suffix so dependency sets from different
// directories never collide inside the archive.
func writeTarGz(ctx context.Context, dest string, members []string) error {
	f, err := os.Create(dest)
	if err != nil {
		return err
	}

	gz := gzip.NewWriter(f)
	tw := tar.NewWriter(gz)

	seen := make(map[string]int)
	for _, member := range members {
		if err := ctx.Err(); err != nil {
			_ = tw.Close()
			_ = gz.Close()
			_ = f.Close()
			return err
		}
		if err := addTarMember(tw, member, seen); err != nil {
			_ = tw.Close()
			_ = gz.Close()
			_ = f.Close()
			return err
		}
	}

	if err := tw.Close(); err != nil {
		_ = gz.Close()
		_ = f.Close()
		return err
	}
	if err := gz.Close(); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

func addTarMember(tw *tar.Writer, path string, seen map[string]int) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	if info.IsDir() {
		return fmt.Errorf("archive member %s is a directory", path)
	}

	name := filepath.Base(path)
	if n := seen[name]; n > 0 {
		ext := filepath.Ext(name)
		name = fmt.Sprintf("%s.%d%s", strings.TrimSuffix(name, ext), n, ext)
	}
	seen[filepath.Base(path)]++

	hdr, err := tar.FileInfoHeader(info, "")
	if err != nil {
		return err
	}
	hdr.Name = name

	if err := tw.WriteHeader(hdr); err != nil {
		return err
	}

	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()

	if _, err := io.Copy(tw, f); err != nil {
		return err
	}
	return nil
}
