package fingerprint

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// ErrInvalidPattern is returned when a glob pattern cannot be compiled.
var ErrInvalidPattern = errors.New("invalid glob pattern")

// CollectFiles resolves include/exclude glob patterns against baseDir and
// returns the matching file paths (joined with baseDir), sorted and
// de-duplicated.
//
// Patterns use doublestar syntax ("src/**/*.js"). An object is collected
// when it matches at least one include pattern and no exclude pattern.
// Matching is slash-separated regardless of platform.
func CollectFiles(baseDir string, includes, excludes []string) ([]string, error) {
	for _, p := range append(append([]string{}, includes...), excludes...) {
		if !doublestar.ValidatePattern(p) {
			return nil, fmt.Errorf("%w: %s", ErrInvalidPattern, p)
		}
	}

	fsys := os.DirFS(baseDir)
	seen := make(map[string]struct{})

	for _, pattern := range includes {
		matches, err := doublestar.Glob(fsys, pattern)
		if err != nil {
			return nil, fmt.Errorf("glob %s: %w", pattern, err)
		}
	match:
		for _, m := range matches {
			info, err := os.Stat(filepath.Join(baseDir, filepath.FromSlash(m)))
			if err != nil || info.IsDir() {
				continue
			}
			for _, ex := range excludes {
				ok, err := doublestar.Match(ex, m)
				if err != nil {
					return nil, fmt.Errorf("match %s: %w", ex, err)
				}
				if ok {
					continue match
				}
			}
			seen[m] = struct{}{}
		}
	}

	out := make([]string, 0, len(seen))
	for m := range seen {
		out = append(out, filepath.Join(baseDir, filepath.FromSlash(m)))
	}
	sort.Strings(out)
	return out, nil
}

// NormalizePattern converts Windows-style separators to slashes so patterns
// written on either platform match consistently.
func NormalizePattern(pattern string) string {
	return strings.ReplaceAll(pattern, `\`, "/")
}
