// Package file implements the remote cache backend over a local directory.
//
// Keys are treated as relative paths under BaseDir. The backend is intended
// for shared-filesystem caches and for tests.
package file

import (
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/lathe-build/lathe/pkg/remote"
)

// Backend implements remote.Backend for local filesystem paths.
type Backend struct {
	baseDir string
}

var _ remote.Backend = (*Backend)(nil)

type Config struct {
	BaseDir string
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.BaseDir) == "" {
		return fmt.Errorf("base dir is required")
	}
	return nil
}

func New(cfg Config) (*Backend, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Backend{baseDir: filepath.Clean(cfg.BaseDir)}, nil
}

func (b *Backend) Close() error { return nil }

func (b *Backend) Get(ctx context.Context, key string) (io.ReadCloser, int64, error) {
	_ = ctx
	full, err := b.fullPath(key)
	if err != nil {
		return nil, 0, b.wrapError("Get", key, err)
	}
	f, err := os.Open(full)
	if err != nil {
		return nil, 0, b.wrapError("Get", key, err)
	}
	st, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, 0, b.wrapError("Get", key, err)
	}
	return f, st.Size(), nil
}

func (b *Backend) Put(ctx context.Context, key string, body io.Reader, size int64) error {
	_ = ctx
	_ = size
	full, err := b.fullPath(key)
	if err != nil {
		return b.wrapError("Put", key, err)
	}
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return b.wrapError("Put", key, err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(full), "lathe-put-*")
	if err != nil {
		return b.wrapError("Put", key, err)
	}
	tmpName := tmp.Name()
	defer func() {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
	}()

	if _, err := io.Copy(tmp, body); err != nil {
		return b.wrapError("Put", key, err)
	}
	if err := tmp.Close(); err != nil {
		return b.wrapError("Put", key, err)
	}

	if err := os.Rename(tmpName, full); err != nil {
		return b.wrapError("Put", key, err)
	}
	return nil
}

func (b *Backend) Head(ctx context.Context, key string) (*remote.EntryInfo, error) {
	_ = ctx
	full, err := b.fullPath(key)
	if err != nil {
		return nil, b.wrapError("Head", key, err)
	}
	st, err := os.Stat(full)
	if err != nil {
		return nil, b.wrapError("Head", key, err)
	}
	if st.IsDir() {
		return nil, &remote.BackendError{Op: "Head", Backend: remote.BackendFile, Key: key, Err: remote.ErrNotFound}
	}
	return &remote.EntryInfo{Key: key, Size: st.Size()}, nil
}

func (b *Backend) Delete(ctx context.Context, key string) error {
	_ = ctx
	full, err := b.fullPath(key)
	if err != nil {
		return b.wrapError("Delete", key, err)
	}
	if err := os.Remove(full); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return b.wrapError("Delete", key, err)
	}
	return nil
}

func (b *Backend) fullPath(key string) (string, error) {
	key = strings.TrimSpace(strings.TrimPrefix(key, "/"))
	if key == "" {
		return "", fmt.Errorf("invalid key path")
	}
	// Clean rewrites ".." segments away instead of failing, so traversal
	// has to be rejected before cleaning.
	for _, seg := range strings.Split(filepath.ToSlash(key), "/") {
		if seg == ".." {
			return "", fmt.Errorf("invalid key path")
		}
	}
	clean := path.Clean(key)
	if clean == "." {
		return "", fmt.Errorf("invalid key path")
	}
	return filepath.Join(b.baseDir, filepath.FromSlash(clean)), nil
}

func (b *Backend) wrapError(op, key string, err error) error {
	wrapped := &remote.BackendError{Op: op, Backend: remote.BackendFile, Key: key, Err: err}
	if err == nil {
		wrapped.Err = fmt.Errorf("unknown error")
	}
	// Normalize common filesystem errors to backend sentinels.
	if os.IsNotExist(err) {
		wrapped.Err = remote.ErrNotFound
	}
	if os.IsPermission(err) {
		wrapped.Err = remote.ErrAccessDenied
	}
	return wrapped
}
