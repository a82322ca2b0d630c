package cmd

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lathe-build/lathe/pkg/work"
	"github.com/lathe-build/lathe/pkg/workspace"
)

func seedWorkspace(t *testing.T, root, displayName string) work.Identity {
	t.Helper()
	identity := work.Identity(strings.Repeat("ab", 32))

	provider := workspace.NewProvider(root)
	_, err := provider.Provide(identity, displayName)
	require.NoError(t, err)
	return identity
}

func runWorkspacesCommand(t *testing.T, args ...string) error {
	t.Helper()
	resetReadOnly(t)

	rootCmd.SetArgs(args)
	rootCmd.SetContext(context.Background())
	err := rootCmd.Execute()
	rootCmd.SetArgs(nil)
	return err
}

func TestWorkspacesListAndRemove(t *testing.T) {
	root := t.TempDir()
	identity := seedWorkspace(t, root, "stage-input: input.txt")

	require.NoError(t, runWorkspacesCommand(t, "workspaces", "list", "--root", root))

	// Short identity prefixes resolve like execution IDs do.
	require.NoError(t, runWorkspacesCommand(t, "workspaces", "rm", "--root", root, identity.String()[:12]))

	provider := workspace.NewProvider(root)
	records, err := provider.List()
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestWorkspacesRemoveUnknownIdentity(t *testing.T) {
	root := t.TempDir()
	seedWorkspace(t, root, "stage-input: input.txt")

	err := runWorkspacesCommand(t, "workspaces", "rm", "--root", root, "ffffffffffff")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
}

func TestWorkspacesGCRemovesUnused(t *testing.T) {
	root := t.TempDir()
	seedWorkspace(t, root, "stage-input: input.txt")

	require.NoError(t, runWorkspacesCommand(t, "workspaces", "gc", "--root", root, "--max-age", "0s"))

	provider := workspace.NewProvider(root)
	records, err := provider.List()
	require.NoError(t, err)
	assert.Empty(t, records)
}
