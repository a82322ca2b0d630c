package fingerprint

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollectFiles(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "src/a.js", "a")
	writeFile(t, dir, "src/lib/b.js", "b")
	writeFile(t, dir, "src/lib/b.ts", "ts")
	writeFile(t, dir, "vendor/c.js", "c")

	tests := []struct {
		name     string
		includes []string
		excludes []string
		want     []string
	}{
		{
			name:     "recursive include",
			includes: []string{"src/**/*.js"},
			want:     []string{"src/a.js", "src/lib/b.js"},
		},
		{
			name:     "exclude wins",
			includes: []string{"**/*.js"},
			excludes: []string{"vendor/**"},
			want:     []string{"src/a.js", "src/lib/b.js"},
		},
		{
			name:     "multiple includes dedupe",
			includes: []string{"src/**/*.js", "src/a.js"},
			want:     []string{"src/a.js", "src/lib/b.js"},
		},
		{
			name:     "no matches",
			includes: []string{"**/*.go"},
			want:     []string{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := CollectFiles(dir, tt.includes, tt.excludes)
			require.NoError(t, err)

			want := make([]string, 0, len(tt.want))
			for _, w := range tt.want {
				want = append(want, filepath.Join(dir, filepath.FromSlash(w)))
			}
			assert.Equal(t, want, got)
		})
	}
}

func TestCollectFilesInvalidPattern(t *testing.T) {
	_, err := CollectFiles(t.TempDir(), []string{"src/[unterminated"}, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidPattern)
}

func TestNormalizePattern(t *testing.T) {
	assert.Equal(t, "src/**/*.js", NormalizePattern(`src\**\*.js`))
}
