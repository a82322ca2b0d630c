// Package fingerprint computes stable identities for units of work from
// their declared input properties.
//
// The fingerprinter is the only component that interprets input property
// declarations: it resolves each declared property into a canonical
// snapshot, and hashes the snapshot into an identity digest. Units of work
// declare, the fingerprinter decides.
package fingerprint

import (
	"fmt"
	"sort"

	"github.com/lathe-build/lathe/pkg/work"
)

// FileFingerprint is the fingerprint of a single input file: the identity
// component selected by the property's normalization strategy, plus the
// content hash.
type FileFingerprint struct {
	// Identity is the normalization-dependent path contribution: the
	// absolute path for absolute-path normalization, the bare file name for
	// name normalization, and empty for content normalization.
	Identity string `json:"identity,omitempty"`

	// ContentHash is the hex sha256 of the file content, after line-ending
	// normalization when the property requests it. Empty for directories.
	ContentHash string `json:"content_hash,omitempty"`

	// Dir marks directory entries recorded under directory-sensitive
	// properties.
	Dir bool `json:"dir,omitempty"`
}

// PropertyFingerprint is the resolved fingerprint of one declared property.
// Exactly one of Value or Files is populated.
type PropertyFingerprint struct {
	// Value holds the resolved scalar property value.
	Value string `json:"value,omitempty"`

	// Files maps each backing file path to its fingerprint.
	Files map[string]FileFingerprint `json:"files,omitempty"`
}

// Snapshot is the full resolved state of a unit of work's declared inputs
// at one point in time.
type Snapshot struct {
	// Properties maps property name to its resolved fingerprint.
	Properties map[string]PropertyFingerprint `json:"properties"`
}

// Fingerprinter resolves declared input properties into snapshots and
// identity digests.
//
// The zero value is ready to use and safe for concurrent use.
type Fingerprinter struct{}

// New creates a Fingerprinter.
func New() *Fingerprinter {
	return &Fingerprinter{}
}

// FingerprintIdentity resolves a unit of work's identity inputs and hashes
// them into its workspace-selecting identity.
func (f *Fingerprinter) FingerprintIdentity(u work.UnitOfWork) (work.Identity, error) {
	snap, err := f.snapshotInputs(u.VisitIdentityInputs)
	if err != nil {
		return "", fmt.Errorf("fingerprint identity inputs of %s: %w", u.DisplayName(), err)
	}
	digest, err := snap.Digest()
	if err != nil {
		return "", fmt.Errorf("digest identity inputs of %s: %w", u.DisplayName(), err)
	}
	return work.Identity(digest), nil
}

// SnapshotRegularInputs resolves a unit of work's regular inputs. The
// resulting snapshot feeds up-to-date checks and incremental-change
// computation.
func (f *Fingerprinter) SnapshotRegularInputs(u work.UnitOfWork) (*Snapshot, error) {
	snap, err := f.snapshotInputs(u.VisitRegularInputs)
	if err != nil {
		return nil, fmt.Errorf("fingerprint regular inputs of %s: %w", u.DisplayName(), err)
	}
	return snap, nil
}

func (f *Fingerprinter) snapshotInputs(visit func(work.InputVisitor)) (*Snapshot, error) {
	collector := &collectingVisitor{
		snapshot: &Snapshot{Properties: make(map[string]PropertyFingerprint)},
	}
	visit(collector)
	if collector.err != nil {
		return nil, collector.err
	}
	return collector.snapshot, nil
}

// collectingVisitor implements work.InputVisitor by resolving each declared
// property eagerly. The first resolution error wins; later declarations are
// still visited but not resolved.
type collectingVisitor struct {
	snapshot *Snapshot
	err      error
}

var _ work.InputVisitor = (*collectingVisitor)(nil)

func (c *collectingVisitor) VisitInputProperty(name string, value work.ValueSupplier) {
	if c.err != nil {
		return
	}
	if _, exists := c.snapshot.Properties[name]; exists {
		c.err = fmt.Errorf("input property declared twice: %s", name)
		return
	}
	c.snapshot.Properties[name] = PropertyFingerprint{Value: value()}
}

func (c *collectingVisitor) VisitInputFileProperty(name string, behavior work.InputBehavior, value work.FileValueSupplier) {
	_ = behavior
	if c.err != nil {
		return
	}
	if _, exists := c.snapshot.Properties[name]; exists {
		c.err = fmt.Errorf("input property declared twice: %s", name)
		return
	}

	paths, err := value.Files()
	if err != nil {
		c.err = fmt.Errorf("resolve files for property %s: %w", name, err)
		return
	}

	files := make(map[string]FileFingerprint, len(paths))
	for _, path := range paths {
		if err := fingerprintPath(path, value, files); err != nil {
			c.err = fmt.Errorf("fingerprint %s for property %s: %w", path, name, err)
			return
		}
	}
	c.snapshot.Properties[name] = PropertyFingerprint{Files: files}
}

// SortedPropertyNames returns the snapshot's property names in sorted
// order, for deterministic iteration.
func (s *Snapshot) SortedPropertyNames() []string {
	names := make([]string, 0, len(s.Properties))
	for name := range s.Properties {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
