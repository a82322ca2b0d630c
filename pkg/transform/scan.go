package transform

import (
	"fmt"
	"io/fs"
	"path/filepath"

	"github.com/lathe-build/lathe/pkg/result"
)

// ScanOutputDir builds a result by walking everything the action left under
// the output directory. Entries are recorded in deterministic walk order
// (lexical within each directory), directories before their contents.
//
// Actions that produce output through external processes use this instead
// of tracking each produced path by hand.
func ScanOutputDir(outputDir string) (*result.TransformResult, error) {
	res := &result.TransformResult{}

	err := filepath.WalkDir(outputDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if path == outputDir {
			return nil
		}
		rel, err := filepath.Rel(outputDir, path)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)

		if d.IsDir() {
			res.AddProducedDir(rel)
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		res.AddProducedFile(rel, info.Size())
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan output dir %s: %w", outputDir, err)
	}
	return res, nil
}
