package handlers

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/lathe-build/lathe/internal/server/middleware"
	"github.com/lathe-build/lathe/pkg/remote"
)

// CacheHandler serves cache entries from a remote backend over HTTP.
// Entries are opaque blobs addressed by key; the handler does not inspect
// their contents.
type CacheHandler struct {
	backend remote.Backend
	logger  *zap.Logger
}

// NewCacheHandler creates a cache handler backed by the given backend.
func NewCacheHandler(backend remote.Backend, logger *zap.Logger) *CacheHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CacheHandler{backend: backend, logger: logger}
}

// Get serves GET /cache/{key}, streaming the entry body.
func (h *CacheHandler) Get(w http.ResponseWriter, r *http.Request) {
	key, ok := h.entryKey(w, r)
	if !ok {
		return
	}

	body, size, err := h.backend.Get(r.Context(), key)
	if err != nil {
		h.writeBackendError(w, r, key, err)
		return
	}
	defer body.Close()

	w.Header().Set("Content-Type", "application/octet-stream")
	if size >= 0 {
		w.Header().Set("Content-Length", strconv.FormatInt(size, 10))
	}
	w.WriteHeader(http.StatusOK)

	if _, err := io.Copy(w, body); err != nil {
		// Headers are already sent; all we can do is log.
		h.logger.Warn("cache entry stream interrupted",
			zap.String("key", key), zap.Error(err))
	}
}

// Put serves PUT /cache/{key}, storing the request body as the entry.
func (h *CacheHandler) Put(w http.ResponseWriter, r *http.Request) {
	key, ok := h.entryKey(w, r)
	if !ok {
		return
	}

	var reader io.Reader = r.Body
	size := r.ContentLength
	if size < 0 {
		// Chunked upload: the backend needs the size up front.
		buf := &bytes.Buffer{}
		n, err := io.Copy(buf, r.Body)
		if err != nil {
			middleware.WriteError(w, r, http.StatusBadRequest,
				"INVALID_REQUEST", fmt.Sprintf("read request body: %v", err), nil)
			return
		}
		reader = buf
		size = n
	}

	if err := h.backend.Put(r.Context(), key, reader, size); err != nil {
		h.writeBackendError(w, r, key, err)
		return
	}

	h.logger.Debug("cache entry stored",
		zap.String("key", key), zap.Int64("bytes", size))
	w.WriteHeader(http.StatusCreated)
}

// Head serves HEAD /cache/{key}, reporting existence and size.
func (h *CacheHandler) Head(w http.ResponseWriter, r *http.Request) {
	key, ok := h.entryKey(w, r)
	if !ok {
		return
	}

	info, err := h.backend.Head(r.Context(), key)
	if err != nil {
		if remote.IsNotFound(err) {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		h.writeBackendError(w, r, key, err)
		return
	}

	w.Header().Set("Content-Length", strconv.FormatInt(info.Size, 10))
	w.WriteHeader(http.StatusOK)
}

// Delete serves DELETE /cache/{key}. Deleting a missing entry succeeds.
func (h *CacheHandler) Delete(w http.ResponseWriter, r *http.Request) {
	key, ok := h.entryKey(w, r)
	if !ok {
		return
	}

	if err := h.backend.Delete(r.Context(), key); err != nil {
		h.writeBackendError(w, r, key, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *CacheHandler) entryKey(w http.ResponseWriter, r *http.Request) (string, bool) {
	key := chi.URLParam(r, "key")
	if key == "" {
		middleware.WriteError(w, r, http.StatusBadRequest,
			"INVALID_REQUEST", "cache key is required", nil)
		return "", false
	}
	if strings.Contains(key, "/") || strings.Contains(key, "..") {
		middleware.WriteError(w, r, http.StatusBadRequest,
			"INVALID_REQUEST", "cache key must be a single path segment", nil)
		return "", false
	}
	return key, true
}

func (h *CacheHandler) writeBackendError(w http.ResponseWriter, r *http.Request, key string, err error) {
	switch {
	case remote.IsNotFound(err):
		middleware.WriteError(w, r, http.StatusNotFound,
			"NOT_FOUND", fmt.Sprintf("cache entry %q not found", key), nil)
	case errors.Is(err, remote.ErrAccessDenied), errors.Is(err, remote.ErrInvalidCredentials):
		middleware.WriteError(w, r, http.StatusForbidden,
			"ACCESS_DENIED", "cache backend denied access", nil)
	case errors.Is(err, remote.ErrThrottled):
		middleware.WriteError(w, r, http.StatusTooManyRequests,
			"THROTTLED", "cache backend is throttling requests", nil)
	default:
		h.logger.Error("cache backend error",
			zap.String("key", key), zap.Error(err))
		middleware.WriteError(w, r, http.StatusBadGateway,
			"CACHE_BACKEND_ERROR", "cache backend request failed", nil)
	}
}
