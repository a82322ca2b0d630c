// Package remote defines the remote cache backend contract and the client
// that moves workspace results in and out of it.
//
// A backend stores opaque cache entries keyed by work identity. The engine
// never talks to a backend directly; the client archives a workspace's
// produced output into one entry and restores it on the other side.
package remote

import (
	"context"
	"errors"
	"fmt"
	"io"
)

// BackendType identifies a backend implementation.
type BackendType string

const (
	BackendFile BackendType = "file"
	BackendS3   BackendType = "s3"
)

// Sentinel errors for backend operations.
var (
	// ErrNotFound indicates the requested cache entry does not exist.
	ErrNotFound = errors.New("cache entry not found")

	// ErrAccessDenied indicates insufficient permissions.
	ErrAccessDenied = errors.New("access denied")

	// ErrInvalidCredentials indicates authentication failed.
	ErrInvalidCredentials = errors.New("invalid credentials")

	// ErrBackendUnavailable indicates the backend service is unavailable.
	ErrBackendUnavailable = errors.New("cache backend unavailable")

	// ErrThrottled indicates the request was rate limited by the backend.
	ErrThrottled = errors.New("request throttled")
)

// BackendError wraps backend-specific errors with context.
type BackendError struct {
	// Op is the operation that failed (e.g., "Get", "Put").
	Op string

	// Backend is the backend type (e.g., "s3").
	Backend BackendType

	// Key is the cache entry key, if applicable.
	Key string

	// Err is the underlying error.
	Err error
}

func (e *BackendError) Error() string {
	if e.Key != "" {
		return fmt.Sprintf("%s %s: %s: %v", e.Backend, e.Op, e.Key, e.Err)
	}
	return fmt.Sprintf("%s %s: %v", e.Backend, e.Op, e.Err)
}

// Unwrap returns the underlying error for errors.Is/As support.
func (e *BackendError) Unwrap() error {
	return e.Err
}

// IsNotFound reports whether the error indicates a missing cache entry.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// EntryInfo describes a stored cache entry.
type EntryInfo struct {
	Key  string
	Size int64
}

// Backend stores opaque cache entries.
//
// Implementations must return ErrNotFound-wrapped errors for missing keys
// so callers can distinguish cache misses from real failures.
type Backend interface {
	// Get returns the entry body and its size. The caller closes the reader.
	Get(ctx context.Context, key string) (io.ReadCloser, int64, error)

	// Put stores the entry body under the key, replacing any existing entry.
	Put(ctx context.Context, key string, body io.Reader, size int64) error

	// Head returns entry metadata without the body.
	Head(ctx context.Context, key string) (*EntryInfo, error)

	// Delete removes an entry. Deleting a missing entry is not an error.
	Delete(ctx context.Context, key string) error

	// Close releases backend resources.
	Close() error
}
