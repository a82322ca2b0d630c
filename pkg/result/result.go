// Package result defines the structured output of one transform execution
// and its binary persistence into a workspace results file.
//
// A results file is the single source of truth for "this workspace holds a
// completed, reusable execution". Its absence or corruption marks the
// workspace non-reusable.
package result

import "path/filepath"

// EntryKind classifies one produced output entry.
type EntryKind string

const (
	// EntryProducedFile is a regular file created under the output directory.
	EntryProducedFile EntryKind = "produced-file"

	// EntryProducedDir is a directory created under the output directory.
	EntryProducedDir EntryKind = "produced-dir"

	// EntryInputArtifact means the transform passed its input artifact
	// through unchanged as an output.
	EntryInputArtifact EntryKind = "input-artifact"
)

// OutputEntry is one produced output: a workspace-relative path plus
// metadata. Order is significant and preserved across serialization.
type OutputEntry struct {
	// Path is relative to the workspace's output directory, or the input
	// artifact path for EntryInputArtifact entries.
	Path string `msgpack:"path"`

	// Kind classifies the entry.
	Kind EntryKind `msgpack:"kind"`

	// Size is the entry's size in bytes; zero for directories.
	Size int64 `msgpack:"size"`
}

// TransformResult is the ordered collection of outputs produced by one
// execution. Immutable once persisted.
type TransformResult struct {
	// Entries lists produced outputs in production order.
	Entries []OutputEntry `msgpack:"entries"`
}

// AddProducedFile appends a produced-file entry.
func (r *TransformResult) AddProducedFile(relPath string, size int64) {
	r.Entries = append(r.Entries, OutputEntry{Path: relPath, Kind: EntryProducedFile, Size: size})
}

// AddProducedDir appends a produced-dir entry.
func (r *TransformResult) AddProducedDir(relPath string) {
	r.Entries = append(r.Entries, OutputEntry{Path: relPath, Kind: EntryProducedDir})
}

// AddInputArtifact appends an entry recording that the input artifact itself
// is an output of the transform.
func (r *TransformResult) AddInputArtifact(path string, size int64) {
	r.Entries = append(r.Entries, OutputEntry{Path: path, Kind: EntryInputArtifact, Size: size})
}

// Len returns the number of output entries.
func (r *TransformResult) Len() int {
	return len(r.Entries)
}

// ResolvePaths maps each entry to an absolute path given the output
// directory the result was produced into. Input-artifact entries are
// returned as-is since they already carry their own location.
func (r *TransformResult) ResolvePaths(outputDir string) []string {
	paths := make([]string, 0, len(r.Entries))
	for _, e := range r.Entries {
		if e.Kind == EntryInputArtifact {
			paths = append(paths, e.Path)
			continue
		}
		paths = append(paths, filepath.Join(outputDir, e.Path))
	}
	return paths
}

// Equal reports whether two results have identical entries in identical
// order.
func (r *TransformResult) Equal(other *TransformResult) bool {
	if r == nil || other == nil {
		return r == other
	}
	if len(r.Entries) != len(other.Entries) {
		return false
	}
	for i := range r.Entries {
		if r.Entries[i] != other.Entries[i] {
			return false
		}
	}
	return true
}
