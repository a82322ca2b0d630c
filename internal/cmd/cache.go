package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/lathe-build/lathe/internal/config"
	"github.com/lathe-build/lathe/internal/observability"
	"github.com/lathe-build/lathe/pkg/manifest"
	"github.com/lathe-build/lathe/pkg/remote"
	"github.com/lathe-build/lathe/pkg/work"
	"github.com/lathe-build/lathe/pkg/workspace"
)

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Work with the remote cache directly",
	Long: `Work with the remote cache configured in a run manifest.

These commands operate on individual cache entries by workspace identity,
bypassing transform execution. They are mainly for debugging cache behavior
and for seeding or repairing a shared cache.

Example:
  lathe cache check --job transforms.yaml 3f2a...
  lathe cache push  --job transforms.yaml 3f2a...
  lathe cache pull  --job transforms.yaml 3f2a...
  lathe cache rm    --job transforms.yaml 3f2a...`,
}

var cacheJobPath string

var cacheCheckCmd = &cobra.Command{
	Use:   "check <identity>",
	Short: "Check whether an entry exists in the remote cache",
	Args:  cobra.ExactArgs(1),
	RunE:  runCacheCheck,
}

var cachePushCmd = &cobra.Command{
	Use:   "push <identity>",
	Short: "Push a local workspace to the remote cache",
	Args:  cobra.ExactArgs(1),
	RunE:  runCachePush,
}

var cachePullCmd = &cobra.Command{
	Use:   "pull <identity>",
	Short: "Pull a remote cache entry into the local workspace",
	Args:  cobra.ExactArgs(1),
	RunE:  runCachePull,
}

var cacheRemoveCmd = &cobra.Command{
	Use:   "rm <identity>",
	Short: "Delete an entry from the remote cache",
	Args:  cobra.ExactArgs(1),
	RunE:  runCacheRemove,
}

func init() {
	rootCmd.AddCommand(cacheCmd)
	cacheCmd.AddCommand(cacheCheckCmd)
	cacheCmd.AddCommand(cachePushCmd)
	cacheCmd.AddCommand(cachePullCmd)
	cacheCmd.AddCommand(cacheRemoveCmd)

	cacheCmd.PersistentFlags().StringVarP(&cacheJobPath, "job", "j", "", "Path to run manifest with the cache configuration (required)")
	_ = cacheCmd.MarkPersistentFlagRequired("job")
}

// cacheContext loads the manifest and builds the remote client plus the
// workspace provider the cache commands operate against.
func cacheContext(ctx context.Context) (*remote.Client, *workspace.Provider, func(), error) {
	m, err := manifest.Load(cacheJobPath)
	if err != nil {
		return nil, nil, nil, exitError(foundry.ExitInvalidArgument, "Invalid manifest", err)
	}
	if m.Cache.Remote == nil {
		return nil, nil, nil, exitError(foundry.ExitInvalidArgument, "No remote cache configured",
			fmt.Errorf("manifest %s has no cache.remote section", cacheJobPath))
	}

	client, closeCache, err := buildCacheClient(ctx, m)
	if err != nil {
		return nil, nil, nil, exitError(foundry.ExitExternalServiceUnavailable, "Failed to connect to remote cache", err)
	}

	root := m.Workspace.Root
	if root == "" {
		cfg, err := config.Load(ctx)
		if err != nil {
			closeCache()
			return nil, nil, nil, exitError(foundry.ExitFileReadError, "Failed to load configuration", err)
		}
		root = cfg.Workspace.Root
	}

	return client, workspace.NewProvider(root), closeCache, nil
}

func runCacheCheck(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	client, _, closeCache, err := cacheContext(ctx)
	if err != nil {
		return err
	}
	defer closeCache()

	identity := work.Identity(args[0])
	ok, err := client.Has(ctx, identity)
	if err != nil {
		return exitError(foundry.ExitExternalServiceUnavailable, "Remote cache check failed", err)
	}

	if ok {
		_, _ = fmt.Fprintf(os.Stdout, "present\t%s\n", client.Key(identity))
		return nil
	}
	_, _ = fmt.Fprintf(os.Stdout, "absent\t%s\n", client.Key(identity))
	return exitError(foundry.ExitFileNotFound, "Entry not found in remote cache",
		fmt.Errorf("no entry for identity %s", identity))
}

func runCachePush(cmd *cobra.Command, args []string) error {
	if err := ensureWritable("cache push"); err != nil {
		return err
	}

	ctx := cmd.Context()
	client, provider, closeCache, err := cacheContext(ctx)
	if err != nil {
		return err
	}
	defer closeCache()

	identity, err := resolveWorkspaceIdentity(provider, args[0])
	if err != nil {
		return exitError(foundry.ExitFileNotFound, "Workspace not found", err)
	}

	ws, err := provider.Get(work.Identity(identity))
	if err != nil {
		return exitError(foundry.ExitFileNotFound, "Workspace not found", err)
	}
	if !ws.Record().HasResult {
		return exitError(foundry.ExitInvalidArgument, "Workspace has no reusable result",
			fmt.Errorf("workspace %s holds no valid result to push", identity))
	}

	size, err := client.Push(ctx, work.Identity(identity), ws.Dir())
	if err != nil {
		return exitError(foundry.ExitExternalServiceUnavailable, "Remote cache push failed", err)
	}

	observability.CLILogger.Info("Pushed cache entry",
		zap.String("identity", identity),
		zap.Int64("bytes", size))
	_, _ = fmt.Fprintf(os.Stdout, "pushed\t%s\t%d bytes\n", identity, size)
	return nil
}

func runCachePull(cmd *cobra.Command, args []string) error {
	if err := ensureWritable("cache pull"); err != nil {
		return err
	}

	ctx := cmd.Context()
	client, provider, closeCache, err := cacheContext(ctx)
	if err != nil {
		return err
	}
	defer closeCache()

	identity := work.Identity(args[0])
	ws, err := provider.Provide(identity, "cache pull")
	if err != nil {
		return exitError(foundry.ExitInvalidArgument, "Invalid workspace identity", err)
	}

	size, err := client.Pull(ctx, identity, ws.Dir())
	if err != nil {
		if remote.IsNotFound(err) {
			return exitError(foundry.ExitFileNotFound, "Entry not found in remote cache", err)
		}
		return exitError(foundry.ExitExternalServiceUnavailable, "Remote cache pull failed", err)
	}

	observability.CLILogger.Info("Pulled cache entry",
		zap.String("identity", identity.String()),
		zap.Int64("bytes", size))
	_, _ = fmt.Fprintf(os.Stdout, "pulled\t%s\t%d bytes\n", identity, size)
	return nil
}

func runCacheRemove(cmd *cobra.Command, args []string) error {
	if err := ensureWritable("cache rm"); err != nil {
		return err
	}

	ctx := cmd.Context()
	client, _, closeCache, err := cacheContext(ctx)
	if err != nil {
		return err
	}
	defer closeCache()

	identity := work.Identity(args[0])
	if err := client.Delete(ctx, identity); err != nil {
		return exitError(foundry.ExitExternalServiceUnavailable, "Remote cache delete failed", err)
	}

	_, _ = fmt.Fprintf(os.Stdout, "deleted\t%s\n", identity)
	return nil
}
