package remote

import (
	"archive/tar"
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/time/rate"

	"github.com/lathe-build/lathe/pkg/work"
)

// entrySuffix is the object name suffix for cache entries.
const entrySuffix = ".tar.gz"

// archiveMembers are the workspace paths captured in a cache entry. The
// layout is fixed: produced files under transformed/ plus the results file.
var archiveMembers = []string{"transformed", "results.bin"}

// ClientConfig configures a cache client.
type ClientConfig struct {
	// Backend stores the entries. Required.
	Backend Backend

	// OpsPerSecond throttles backend calls. Zero means unlimited.
	OpsPerSecond float64
}

// Client moves workspace results in and out of a cache backend.
//
// An entry is a tar.gz of the workspace's produced output, keyed by the
// work identity that produced it.
type Client struct {
	backend Backend
	limiter *rate.Limiter
}

// NewClient creates a cache client over the given backend.
func NewClient(cfg ClientConfig) (*Client, error) {
	if cfg.Backend == nil {
		return nil, fmt.Errorf("cache backend is required")
	}
	limiter := rate.NewLimiter(rate.Inf, 1)
	if cfg.OpsPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.OpsPerSecond), 1)
	}
	return &Client{backend: cfg.Backend, limiter: limiter}, nil
}

// Key returns the backend key for an identity.
func (c *Client) Key(identity work.Identity) string {
	return identity.String() + entrySuffix
}

// Has reports whether the backend holds an entry for the identity.
func (c *Client) Has(ctx context.Context, identity work.Identity) (bool, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return false, err
	}
	_, err := c.backend.Head(ctx, c.Key(identity))
	if err != nil {
		if IsNotFound(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// Push archives the workspace's produced output and stores it under the
// identity's key. Missing archive members are skipped, so a workspace
// holding only a results file still produces a valid entry.
func (c *Client) Push(ctx context.Context, identity work.Identity, workspaceDir string) (int64, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return 0, err
	}

	archive, err := os.CreateTemp("", "lathe-push-*.tar.gz")
	if err != nil {
		return 0, fmt.Errorf("create archive temp file: %w", err)
	}
	archiveName := archive.Name()
	defer func() {
		_ = archive.Close()
		_ = os.Remove(archiveName)
	}()

	if err := writeArchive(archive, workspaceDir); err != nil {
		return 0, fmt.Errorf("archive workspace %s: %w", workspaceDir, err)
	}

	st, err := archive.Stat()
	if err != nil {
		return 0, fmt.Errorf("stat archive: %w", err)
	}
	if _, err := archive.Seek(0, io.SeekStart); err != nil {
		return 0, fmt.Errorf("rewind archive: %w", err)
	}

	if err := c.backend.Put(ctx, c.Key(identity), archive, st.Size()); err != nil {
		return 0, err
	}
	return st.Size(), nil
}

// Pull fetches the identity's entry and unpacks it into the workspace,
// replacing the produced-output members it contains. A missing entry
// surfaces as an ErrNotFound-wrapped error.
func (c *Client) Pull(ctx context.Context, identity work.Identity, workspaceDir string) (int64, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return 0, err
	}

	body, size, err := c.backend.Get(ctx, c.Key(identity))
	if err != nil {
		return 0, err
	}
	defer func() { _ = body.Close() }()

	// Clear the members being restored so a previous partial state cannot
	// leak into the unpacked result.
	for _, member := range archiveMembers {
		if err := os.RemoveAll(filepath.Join(workspaceDir, member)); err != nil {
			return 0, fmt.Errorf("clear workspace member %s: %w", member, err)
		}
	}

	if err := extractArchive(body, workspaceDir); err != nil {
		return 0, fmt.Errorf("unpack cache entry %s: %w", c.Key(identity), err)
	}
	return size, nil
}

// Delete removes the identity's entry from the backend.
func (c *Client) Delete(ctx context.Context, identity work.Identity) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}
	return c.backend.Delete(ctx, c.Key(identity))
}

func writeArchive(w io.Writer, workspaceDir string) error {
	gz := gzip.NewWriter(w)
	tw := tar.NewWriter(gz)

	for _, member := range archiveMembers {
		root := filepath.Join(workspaceDir, member)
		if _, err := os.Stat(root); err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return err
		}
		if err := addTree(tw, workspaceDir, root); err != nil {
			return err
		}
	}

	if err := tw.Close(); err != nil {
		return err
	}
	return gz.Close()
}

func addTree(tw *tar.Writer, workspaceDir, root string) error {
	return filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(workspaceDir, path)
		if err != nil {
			return err
		}
		name := filepath.ToSlash(rel)

		hdr, err := tar.FileInfoHeader(info, "")
		if err != nil {
			return err
		}
		hdr.Name = name
		if info.IsDir() {
			hdr.Name += "/"
		}
		if err := tw.WriteHeader(hdr); err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}

		f, err := os.Open(path)
		if err != nil {
			return err
		}
		defer func() { _ = f.Close() }()
		_, err = io.Copy(tw, f)
		return err
	})
}

func extractArchive(r io.Reader, workspaceDir string) error {
	gz, err := gzip.NewReader(r)
	if err != nil {
		return err
	}
	tr := tar.NewReader(gz)

	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return err
		}

		name := filepath.Clean(filepath.FromSlash(hdr.Name))
		if name == ".." || strings.HasPrefix(name, ".."+string(os.PathSeparator)) || filepath.IsAbs(name) {
			return fmt.Errorf("unsafe archive member: %s", hdr.Name)
		}
		target := filepath.Join(workspaceDir, name)

		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, 0755); err != nil {
				return err
			}
		case tar.TypeReg:
			if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
				return err
			}
			f, err := os.OpenFile(target, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, os.FileMode(hdr.Mode)&0777)
			if err != nil {
				return err
			}
			if _, err := io.Copy(f, tr); err != nil {
				_ = f.Close()
				return err
			}
			if err := f.Close(); err != nil {
				return err
			}
		default:
			return fmt.Errorf("unsupported archive member type %d: %s", hdr.Typeflag, hdr.Name)
		}
	}
	return gz.Close()
}
