package fingerprint

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lathe-build/lathe/pkg/work"
)

func fileSnapshot(files map[string]FileFingerprint) *Snapshot {
	return &Snapshot{Properties: map[string]PropertyFingerprint{
		"inputArtifact": {Files: files},
	}}
}

func TestDiffNilForIdenticalSnapshots(t *testing.T) {
	snap := fileSnapshot(map[string]FileFingerprint{
		"/in/a.txt": {Identity: "a.txt", ContentHash: "h1"},
	})
	other := fileSnapshot(map[string]FileFingerprint{
		"/in/a.txt": {Identity: "a.txt", ContentHash: "h1"},
	})

	assert.Nil(t, Diff(snap, other))
}

func TestDiffReportsFileChanges(t *testing.T) {
	prev := fileSnapshot(map[string]FileFingerprint{
		"/in/kept.txt":    {Identity: "kept.txt", ContentHash: "h1"},
		"/in/changed.txt": {Identity: "changed.txt", ContentHash: "h2"},
		"/in/removed.txt": {Identity: "removed.txt", ContentHash: "h3"},
	})
	cur := fileSnapshot(map[string]FileFingerprint{
		"/in/kept.txt":    {Identity: "kept.txt", ContentHash: "h1"},
		"/in/changed.txt": {Identity: "changed.txt", ContentHash: "h2-modified"},
		"/in/added.txt":   {Identity: "added.txt", ContentHash: "h4"},
	})

	changes := Diff(prev, cur)
	require.NotNil(t, changes)
	require.Len(t, changes.Changes, 3)

	byPath := make(map[string]work.ChangeKind)
	for _, c := range changes.Changes {
		byPath[c.Path] = c.Kind
	}
	assert.Equal(t, work.ChangeAdded, byPath["/in/added.txt"])
	assert.Equal(t, work.ChangeModified, byPath["/in/changed.txt"])
	assert.Equal(t, work.ChangeRemoved, byPath["/in/removed.txt"])
}

func TestDiffScalarChange(t *testing.T) {
	prev := &Snapshot{Properties: map[string]PropertyFingerprint{
		"inputPropertiesHash": {Value: "v1"},
	}}
	cur := &Snapshot{Properties: map[string]PropertyFingerprint{
		"inputPropertiesHash": {Value: "v2"},
	}}

	changes := Diff(prev, cur)
	require.NotNil(t, changes)
	require.Len(t, changes.Changes, 1)
	assert.Equal(t, "inputPropertiesHash", changes.Changes[0].Path)
	assert.Equal(t, work.ChangeModified, changes.Changes[0].Kind)
}

func TestDiffOutputIsSorted(t *testing.T) {
	prev := fileSnapshot(map[string]FileFingerprint{})
	cur := fileSnapshot(map[string]FileFingerprint{
		"/in/z.txt": {ContentHash: "hz"},
		"/in/a.txt": {ContentHash: "ha"},
		"/in/m.txt": {ContentHash: "hm"},
	})

	changes := Diff(prev, cur)
	require.NotNil(t, changes)
	require.Len(t, changes.Changes, 3)
	assert.Equal(t, "/in/a.txt", changes.Changes[0].Path)
	assert.Equal(t, "/in/m.txt", changes.Changes[1].Path)
	assert.Equal(t, "/in/z.txt", changes.Changes[2].Path)
}
