package workspace

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lathe-build/lathe/pkg/fingerprint"
	"github.com/lathe-build/lathe/pkg/work"
)

const testIdentity = work.Identity("0123456789abcdef0123456789abcdef")

func TestProvideCreatesWorkspace(t *testing.T) {
	p := NewProvider(t.TempDir())

	ws, err := p.Provide(testIdentity, "minify app.js")
	require.NoError(t, err)

	assert.Equal(t, testIdentity, ws.Identity())
	assert.DirExists(t, ws.Dir())
	assert.FileExists(t, filepath.Join(ws.Dir(), MetaFileName))
	assert.Equal(t, "minify app.js", ws.Record().DisplayName)
	assert.False(t, ws.Record().CreatedAt.IsZero())
}

func TestProvideIsIdempotent(t *testing.T) {
	p := NewProvider(t.TempDir())

	first, err := p.Provide(testIdentity, "minify app.js")
	require.NoError(t, err)

	second, err := p.Provide(testIdentity, "minify app.js")
	require.NoError(t, err)

	assert.Equal(t, first.Dir(), second.Dir())
	assert.Equal(t, first.Record().CreatedAt, second.Record().CreatedAt, "created_at survives re-provision")
}

func TestProvideRejectsUnsafeIdentity(t *testing.T) {
	p := NewProvider(t.TempDir())

	for _, id := range []string{"", "short", "../../etc", "UPPERCASEHEX0000", strings.Repeat("g", 32)} {
		_, err := p.Provide(work.Identity(id), "x")
		require.Error(t, err, "identity %q must be rejected", id)
	}
}

func TestGetMissingWorkspace(t *testing.T) {
	p := NewProvider(t.TempDir())

	_, err := p.Get(testIdentity)
	require.Error(t, err)
	assert.True(t, os.IsNotExist(errCause(err)) || strings.Contains(err.Error(), "no such file"), "expected not-exist, got %v", err)
}

func errCause(err error) error {
	for {
		unwrapped, ok := err.(interface{ Unwrap() error })
		if !ok {
			return err
		}
		next := unwrapped.Unwrap()
		if next == nil {
			return err
		}
		err = next
	}
}

func TestInputsSnapshotRoundTrip(t *testing.T) {
	root := t.TempDir()
	p := NewProvider(root)

	ws, err := p.Provide(testIdentity, "minify app.js")
	require.NoError(t, err)

	snap := &fingerprint.Snapshot{Properties: map[string]fingerprint.PropertyFingerprint{
		"inputArtifact": {Files: map[string]fingerprint.FileFingerprint{
			"/in/app.js": {Identity: "app.js", ContentHash: "abc"},
		}},
	}}
	require.NoError(t, ws.RecordSuccess(snap))

	reloaded, err := NewProvider(root).Get(testIdentity)
	require.NoError(t, err)
	require.True(t, reloaded.Record().HasResult)
	require.NotNil(t, reloaded.Record().InputsSnapshot)
	assert.True(t, snap.Equal(reloaded.Record().InputsSnapshot))

	require.NoError(t, reloaded.InvalidateResult())
	again, err := NewProvider(root).Get(testIdentity)
	require.NoError(t, err)
	assert.False(t, again.Record().HasResult)
}

func TestListSortsByLastUsed(t *testing.T) {
	p := NewProvider(t.TempDir())

	older, err := p.Provide(work.Identity(strings.Repeat("a", 32)), "older")
	require.NoError(t, err)
	newer, err := p.Provide(work.Identity(strings.Repeat("b", 32)), "newer")
	require.NoError(t, err)

	older.Record().LastUsedAt = time.Now().UTC().Add(-time.Hour)
	require.NoError(t, p.writeRecord(older.Dir(), older.Record()))
	require.NoError(t, newer.MarkUsed())

	records, err := p.List()
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "newer", records[0].DisplayName)
	assert.Equal(t, "older", records[1].DisplayName)
}

func TestGCRemovesStaleWorkspaces(t *testing.T) {
	p := NewProvider(t.TempDir())

	stale, err := p.Provide(work.Identity(strings.Repeat("a", 32)), "stale")
	require.NoError(t, err)
	stale.Record().LastUsedAt = time.Now().UTC().Add(-48 * time.Hour)
	require.NoError(t, p.writeRecord(stale.Dir(), stale.Record()))

	live, err := p.Provide(work.Identity(strings.Repeat("b", 32)), "live")
	require.NoError(t, err)

	removed, err := p.GC(24 * time.Hour)
	require.NoError(t, err)
	require.Len(t, removed, 1)
	assert.Equal(t, strings.Repeat("a", 32), removed[0])

	assert.NoDirExists(t, stale.Dir())
	assert.DirExists(t, live.Dir())
}
