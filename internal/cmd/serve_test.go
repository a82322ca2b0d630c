package cmd

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCacheDirHealthChecker(t *testing.T) {
	t.Run("healthy directory", func(t *testing.T) {
		checker := cacheDirHealthChecker{dir: t.TempDir()}
		assert.NoError(t, checker.CheckHealth(context.Background()))
	})

	t.Run("missing directory", func(t *testing.T) {
		checker := cacheDirHealthChecker{dir: filepath.Join(t.TempDir(), "nope")}
		err := checker.CheckHealth(context.Background())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "cache dir")
	})

	t.Run("file instead of directory", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "file")
		require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))

		checker := cacheDirHealthChecker{dir: path}
		err := checker.CheckHealth(context.Background())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "not a directory")
	})
}
