// Package workspace allocates and tracks isolated workspace directories,
// one per work identity.
//
// Directory layout:
//
//	<root>/<identity>/workspace.json
//	<root>/<identity>/transformed/   (written by the unit of work)
//	<root>/<identity>/results.bin    (written by the unit of work)
//
// The provider owns only workspace.json; everything else inside a workspace
// belongs to the unit of work executing against it. A workspace directory
// is exclusively associated with one identity and is never shared between
// concurrently executing identities.
package workspace

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/lathe-build/lathe/pkg/fingerprint"
	"github.com/lathe-build/lathe/pkg/work"
)

// MetaFileName is the provider-owned metadata file inside each workspace.
const MetaFileName = "workspace.json"

// identityPattern guards against identities that could escape the root.
// Identities are hex digests, so anything else is rejected outright.
var identityPattern = regexp.MustCompile(`^[0-9a-f]{16,128}$`)

// Record is the persistent metadata for one workspace.
//
// NOTE: field names are part of the stable on-disk contract; extend
// additively only.
type Record struct {
	Identity    string    `json:"identity"`
	DisplayName string    `json:"display_name,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	LastUsedAt  time.Time `json:"last_used_at"`

	// HasResult marks the workspace as holding a complete, reusable
	// result. Cleared before every re-execution so a crash mid-run leaves
	// the workspace marked non-reusable.
	HasResult bool `json:"has_result,omitempty"`

	// InputsSnapshot holds the regular-input fingerprints of the last
	// successful execution, used for up-to-date checks and to compute
	// incremental changes on the next run.
	InputsSnapshot *fingerprint.Snapshot `json:"inputs_snapshot,omitempty"`
}

// Workspace is a provided directory plus its metadata record.
type Workspace struct {
	identity work.Identity
	dir      string
	record   *Record
	provider *Provider
}

// Identity returns the identity this workspace belongs to.
func (w *Workspace) Identity() work.Identity { return w.identity }

// Dir returns the workspace directory path.
func (w *Workspace) Dir() string { return w.dir }

// Record returns the workspace metadata.
func (w *Workspace) Record() *Record { return w.record }

// MarkUsed refreshes the last-used timestamp. Used on every cache hit so
// garbage collection keeps live entries.
func (w *Workspace) MarkUsed() error {
	w.record.LastUsedAt = time.Now().UTC()
	return w.provider.writeRecord(w.dir, w.record)
}

// RecordSuccess persists the regular-input snapshot of a successful
// execution and marks the workspace reusable.
func (w *Workspace) RecordSuccess(snap *fingerprint.Snapshot) error {
	w.record.InputsSnapshot = snap
	w.record.HasResult = true
	w.record.LastUsedAt = time.Now().UTC()
	return w.provider.writeRecord(w.dir, w.record)
}

// InvalidateResult marks the workspace non-reusable. Called before a
// re-execution starts so stale state is never mistaken for a valid result.
func (w *Workspace) InvalidateResult() error {
	w.record.HasResult = false
	return w.provider.writeRecord(w.dir, w.record)
}

// Provider allocates workspace directories under a root directory.
//
// Safe for concurrent use across distinct identities; the engine never
// executes two units with the same identity concurrently.
type Provider struct {
	root string
}

// NewProvider creates a workspace provider rooted at the given directory.
func NewProvider(root string) *Provider {
	return &Provider{root: strings.TrimSpace(root)}
}

// RootDir returns the provider's root directory.
func (p *Provider) RootDir() string { return p.root }

// WorkspaceDir returns the directory assigned to the given identity.
func (p *Provider) WorkspaceDir(id work.Identity) string {
	return filepath.Join(p.root, id.String())
}

func (p *Provider) ensureRoot() error {
	if p.root == "" {
		return fmt.Errorf("workspace root dir is empty")
	}
	return os.MkdirAll(p.root, 0755)
}

func validIdentity(id work.Identity) error {
	if !identityPattern.MatchString(id.String()) {
		return fmt.Errorf("invalid work identity: %q", id)
	}
	return nil
}

// Provide returns the workspace for the given identity, creating the
// directory and metadata record on first use and refreshing the record on
// subsequent calls.
func (p *Provider) Provide(id work.Identity, displayName string) (*Workspace, error) {
	if err := validIdentity(id); err != nil {
		return nil, err
	}
	if err := p.ensureRoot(); err != nil {
		return nil, err
	}

	dir := p.WorkspaceDir(id)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create workspace dir: %w", err)
	}

	record, err := p.readRecord(dir)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, err
		}
		now := time.Now().UTC()
		record = &Record{
			Identity:    id.String(),
			DisplayName: displayName,
			CreatedAt:   now,
			LastUsedAt:  now,
		}
		if err := p.writeRecord(dir, record); err != nil {
			return nil, err
		}
	}

	return &Workspace{identity: id, dir: dir, record: record, provider: p}, nil
}

// Get returns the workspace for an identity without creating it. Returns
// os.ErrNotExist-wrapped error when no workspace exists.
func (p *Provider) Get(id work.Identity) (*Workspace, error) {
	if err := validIdentity(id); err != nil {
		return nil, err
	}
	dir := p.WorkspaceDir(id)
	record, err := p.readRecord(dir)
	if err != nil {
		return nil, fmt.Errorf("workspace for %s: %w", id, err)
	}
	return &Workspace{identity: id, dir: dir, record: record, provider: p}, nil
}

// List returns the records of all workspaces under the root, most recently
// used first.
func (p *Provider) List() ([]Record, error) {
	if err := p.ensureRoot(); err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(p.root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read workspace root: %w", err)
	}

	out := make([]Record, 0, len(entries))
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		record, err := p.readRecord(filepath.Join(p.root, entry.Name()))
		if err != nil {
			// Workspaces without a readable record are skipped, not fatal.
			continue
		}
		out = append(out, *record)
	}

	sort.Slice(out, func(i, j int) bool {
		return out[i].LastUsedAt.After(out[j].LastUsedAt)
	})
	return out, nil
}

// Remove deletes a workspace and everything inside it.
func (p *Provider) Remove(id work.Identity) error {
	if err := validIdentity(id); err != nil {
		return err
	}
	return os.RemoveAll(p.WorkspaceDir(id))
}

// GC removes workspaces whose last use is older than maxAge. Returns the
// identities removed.
func (p *Provider) GC(maxAge time.Duration) ([]string, error) {
	records, err := p.List()
	if err != nil {
		return nil, err
	}

	cutoff := time.Now().UTC().Add(-maxAge)
	var removed []string
	for _, r := range records {
		if r.LastUsedAt.After(cutoff) {
			continue
		}
		if err := p.Remove(work.Identity(r.Identity)); err != nil {
			return removed, fmt.Errorf("remove workspace %s: %w", r.Identity, err)
		}
		removed = append(removed, r.Identity)
	}
	return removed, nil
}

func (p *Provider) readRecord(dir string) (*Record, error) {
	b, err := os.ReadFile(filepath.Join(dir, MetaFileName))
	if err != nil {
		return nil, err
	}
	var record Record
	if err := json.Unmarshal(b, &record); err != nil {
		return nil, fmt.Errorf("parse %s: %w", MetaFileName, err)
	}
	return &record, nil
}

// writeRecord persists the record atomically via temp file + rename so a
// crash never leaves a truncated workspace.json behind.
func (p *Provider) writeRecord(dir string, record *Record) error {
	b, err := json.MarshalIndent(record, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal workspace record: %w", err)
	}
	b = append(b, '\n')

	tmp, err := os.CreateTemp(dir, MetaFileName+".tmp.*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	if _, err := tmp.Write(b); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write temp workspace record: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp workspace record: %w", err)
	}

	if err := os.Rename(tmpName, filepath.Join(dir, MetaFileName)); err != nil {
		return fmt.Errorf("rename workspace record: %w", err)
	}
	return nil
}
