package fingerprint

import (
	"sort"

	"github.com/lathe-build/lathe/pkg/work"
)

// Diff compares a previous snapshot against the current one and returns the
// file-level changes, for feeding incremental executions.
//
// Returns nil when the snapshots are identical. Scalar property changes are
// reported as a modification of the property name itself, since incremental
// consumers treat any non-file change as a full invalidation signal.
func Diff(prev, cur *Snapshot) *work.InputChanges {
	if prev == nil || cur == nil {
		return nil
	}

	var changes []work.FileChange

	names := make(map[string]struct{})
	for name := range prev.Properties {
		names[name] = struct{}{}
	}
	for name := range cur.Properties {
		names[name] = struct{}{}
	}

	for name := range names {
		before, hadBefore := prev.Properties[name]
		after, hasAfter := cur.Properties[name]

		switch {
		case !hadBefore:
			changes = append(changes, propertyChanges(after, work.ChangeAdded)...)
		case !hasAfter:
			changes = append(changes, propertyChanges(before, work.ChangeRemoved)...)
		case before.Files == nil && after.Files == nil:
			if before.Value != after.Value {
				changes = append(changes, work.FileChange{Path: name, Kind: work.ChangeModified})
			}
		default:
			changes = append(changes, diffFiles(before.Files, after.Files)...)
		}
	}

	if len(changes) == 0 {
		return nil
	}
	sort.Slice(changes, func(i, j int) bool {
		if changes[i].Path != changes[j].Path {
			return changes[i].Path < changes[j].Path
		}
		return changes[i].Kind < changes[j].Kind
	})
	return &work.InputChanges{Changes: changes}
}

func propertyChanges(p PropertyFingerprint, kind work.ChangeKind) []work.FileChange {
	if p.Files == nil {
		return nil
	}
	out := make([]work.FileChange, 0, len(p.Files))
	for path := range p.Files {
		out = append(out, work.FileChange{Path: path, Kind: kind})
	}
	return out
}

func diffFiles(before, after map[string]FileFingerprint) []work.FileChange {
	var out []work.FileChange
	for path, fp := range after {
		prev, ok := before[path]
		if !ok {
			out = append(out, work.FileChange{Path: path, Kind: work.ChangeAdded})
			continue
		}
		if prev != fp {
			out = append(out, work.FileChange{Path: path, Kind: work.ChangeModified})
		}
	}
	for path := range before {
		if _, ok := after[path]; !ok {
			out = append(out, work.FileChange{Path: path, Kind: work.ChangeRemoved})
		}
	}
	return out
}
