package cmd

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/lathe-build/lathe/internal/config"
	"github.com/lathe-build/lathe/internal/observability"
	"github.com/lathe-build/lathe/pkg/engine"
	"github.com/lathe-build/lathe/pkg/fingerprint"
	"github.com/lathe-build/lathe/pkg/manifest"
	"github.com/lathe-build/lathe/pkg/output"
	"github.com/lathe-build/lathe/pkg/registry"
	"github.com/lathe-build/lathe/pkg/remote"
	"github.com/lathe-build/lathe/pkg/remote/file"
	"github.com/lathe-build/lathe/pkg/remote/s3"
	"github.com/lathe-build/lathe/pkg/transform"
	"github.com/lathe-build/lathe/pkg/work"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run transforms from a manifest",
	Long: `Run the transforms defined in a YAML or JSON run manifest.

Each transform executes inside an isolated workspace keyed by its work
identity. When the inputs of a previous successful execution are unchanged,
the persisted result is reused without re-execution. With a remote cache
configured, results are pulled before executing and pushed after.

Example:
  lathe run --job transforms.yaml
  lathe run --job transforms.yaml --output results.jsonl
  lathe run --job transforms.yaml --rebuild
  lathe run --job transforms.yaml --dry-run`,
	RunE: runRun,
}

var (
	runJobPath string
	runOutput  string
	runRebuild bool
	runDryRun  bool
)

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().StringVarP(&runJobPath, "job", "j", "", "Path to run manifest (required)")
	runCmd.Flags().StringVarP(&runOutput, "output", "o", "", "Override output destination")
	runCmd.Flags().BoolVar(&runRebuild, "rebuild", false, "Force execution even when a reusable result exists")
	runCmd.Flags().BoolVar(&runDryRun, "dry-run", false, "Validate manifest and show plan without executing")

	_ = runCmd.MarkFlagRequired("job")
}

func runRun(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	m, err := manifest.Load(runJobPath)
	if err != nil {
		observability.CLILogger.Error("Failed to load manifest",
			zap.String("path", runJobPath),
			zap.Error(err))
		return exitError(foundry.ExitInvalidArgument, "Invalid manifest", err)
	}

	observability.CLILogger.Debug("Loaded manifest",
		zap.String("path", runJobPath),
		zap.Int("transforms", len(m.Transforms)))

	if runOutput != "" {
		m.Output.Destination = runOutput
	}

	if runDryRun {
		return showRunPlan(m)
	}

	if err := ensureWritable("run"); err != nil {
		return err
	}

	return executeRun(ctx, m)
}

// showRunPlan displays what would run without executing.
func showRunPlan(m *manifest.Manifest) error {
	fmt.Println("=== Run Plan (dry-run) ===")
	fmt.Println()
	if m.Workspace.Root != "" {
		fmt.Printf("Workspace root: %s\n", m.Workspace.Root)
	} else {
		fmt.Println("Workspace root: (default)")
	}
	fmt.Println()
	fmt.Println("Transforms:")
	for _, t := range m.Transforms {
		fmt.Printf("  - %s (%s)\n", t.Name, t.Kind)
		fmt.Printf("      input:         %s\n", t.Input)
		if len(t.Dependencies) > 0 {
			fmt.Printf("      dependencies:  %s\n", strings.Join(t.Dependencies, ", "))
		}
		fmt.Printf("      normalization: %s\n", t.Normalization)
		fmt.Printf("      cacheable:     %v\n", t.CacheableEnabled())
		if t.Incremental {
			fmt.Printf("      incremental:   true\n")
		}
	}
	fmt.Println()
	if m.Cache.Remote != nil {
		fmt.Printf("Remote cache: %s", m.Cache.Remote.Provider)
		if m.Cache.Remote.Bucket != "" {
			fmt.Printf(" bucket=%s", m.Cache.Remote.Bucket)
		}
		if m.Cache.Remote.BaseDir != "" {
			fmt.Printf(" dir=%s", m.Cache.Remote.BaseDir)
		}
		fmt.Println()
	} else {
		fmt.Println("Remote cache: disabled")
	}
	fmt.Printf("Output:       %s\n", m.Output.Destination)
	fmt.Println()
	fmt.Println("Manifest validated successfully. Remove --dry-run to execute.")
	return nil
}

// executeRun runs every transform in the manifest.
func executeRun(ctx context.Context, m *manifest.Manifest) error {
	runID := uuid.New().String()

	cfg, err := config.Load(ctx)
	if err != nil {
		return exitError(foundry.ExitFileReadError, "Failed to load configuration", err)
	}

	workspaceRoot := m.Workspace.Root
	if workspaceRoot == "" {
		workspaceRoot = cfg.Workspace.Root
	}

	eng, err := engine.New(engine.Config{
		WorkspaceRoot: workspaceRoot,
		Rebuild:       runRebuild,
		Logger:        observability.CLILogger,
	})
	if err != nil {
		return exitError(foundry.ExitInvalidArgument, "Invalid workspace configuration", err)
	}

	writer, cleanup, err := createWriter(m, runID)
	if err != nil {
		observability.CLILogger.Error("Failed to create writer", zap.Error(err))
		return exitError(foundry.ExitFileWriteError, "Failed to create output", err)
	}
	defer cleanup()

	cache, closeCache, err := buildCacheClient(ctx, m)
	if err != nil {
		observability.CLILogger.Error("Failed to connect to remote cache", zap.Error(err))
		return exitError(foundry.ExitExternalServiceUnavailable, "Failed to connect to remote cache", err)
	}
	defer closeCache()

	store := registry.NewStore(cfg.Registry.Root)
	manifestDir := filepath.Dir(runJobPath)

	observability.CLILogger.Info("Starting run",
		zap.String("run_id", runID),
		zap.String("workspace_root", workspaceRoot),
		zap.Int("transforms", len(m.Transforms)),
		zap.Bool("rebuild", runRebuild))

	start := time.Now()

	workers := cfg.Workers
	if workers < 1 {
		workers = 1
	}

	// The engine is synchronous per work item; bounded concurrency across
	// items lives here. Workspaces are keyed by identity, so items never
	// contend on the same directory.
	sem := make(chan struct{}, workers)

	var wg sync.WaitGroup
	var executed, fromCache, failed atomic.Int64
	var firstErr error
	var errOnce sync.Once

	for i := range m.Transforms {
		tc := &m.Transforms[i]

		select {
		case <-ctx.Done():
		case sem <- struct{}{}:
		}
		if ctx.Err() != nil {
			break
		}

		wg.Add(1)
		go func() {
			defer wg.Done()
			defer func() { <-sem }()

			outcome, err := runTransform(ctx, tc, manifestDir, eng, store, cache, writer)
			if err != nil {
				failed.Add(1)
				errOnce.Do(func() { firstErr = err })
				if ctx.Err() == nil {
					observability.CLILogger.Error("Transform failed",
						zap.String("transform", tc.Name),
						zap.Error(err))
				}
				return
			}

			switch outcome.Source {
			case engine.SourceExecuted:
				executed.Add(1)
			case engine.SourceCache:
				fromCache.Add(1)
			}
		}()
	}

	wg.Wait()

	if err := ctx.Err(); err != nil {
		return exitError(foundry.ExitSignalInt, "Run cancelled", err)
	}

	duration := time.Since(start)
	if err := writer.WriteSummary(ctx, &output.SummaryRecord{
		Transforms:    int64(len(m.Transforms)),
		Executed:      executed.Load(),
		FromCache:     fromCache.Load(),
		Failed:        failed.Load(),
		Duration:      duration,
		DurationHuman: duration.Round(time.Millisecond).String(),
	}); err != nil {
		observability.CLILogger.Warn("Failed to write summary record", zap.Error(err))
	}

	observability.CLILogger.Info("Run completed",
		zap.String("run_id", runID),
		zap.Int64("executed", executed.Load()),
		zap.Int64("from_cache", fromCache.Load()),
		zap.Int64("failed", failed.Load()),
		zap.Duration("duration", duration))

	if n := failed.Load(); n > 0 {
		return exitError(foundry.ExitExternalServiceUnavailable,
			fmt.Sprintf("%d of %d transforms failed", n, len(m.Transforms)), firstErr)
	}
	return nil
}

// runTransform executes one transform, maintaining its registry record and
// emitting output records along the way.
func runTransform(
	ctx context.Context,
	tc *manifest.TransformConfig,
	manifestDir string,
	eng *engine.Engine,
	store *registry.Store,
	cache *remote.Client,
	writer output.Writer,
) (*engine.Outcome, error) {
	started := time.Now()

	exec, err := buildExecution(tc, manifestDir)
	if err != nil {
		writeErrorRecord(ctx, writer, output.ErrCodeInternal, tc.Name, err)
		return nil, err
	}

	record, err := store.Begin(exec.DisplayName())
	if err != nil {
		return nil, fmt.Errorf("begin execution record: %w", err)
	}

	fingerprinter := fingerprint.New()
	identity, err := fingerprinter.FingerprintIdentity(exec)
	if err != nil {
		_ = store.MarkFailed(record, err)
		writeErrorRecord(ctx, writer, output.ErrCodeInternal, exec.DisplayName(), err)
		return nil, err
	}

	workspaceDir := eng.Workspaces().WorkspaceDir(identity)
	if err := store.MarkRunning(record, identity.String(), workspaceDir); err != nil {
		observability.CLILogger.Warn("Failed to update execution record", zap.Error(err))
	}

	entryID, err := remoteEntryIdentity(fingerprinter, exec, identity)
	if err != nil {
		_ = store.MarkFailed(record, err)
		return nil, err
	}

	pulled := maybePullRemote(ctx, cache, eng, exec, identity, entryID, writer)

	outcome, err := eng.Execute(ctx, exec)
	if err != nil {
		_ = store.MarkFailed(record, err)
		writeErrorRecord(ctx, writer, output.ErrCodeExecutionFailed, exec.DisplayName(), err)
		return nil, err
	}

	entries := 0
	if outcome.Output != nil && outcome.Output.Output != nil {
		entries = outcome.Output.Output.Len()
	}

	switch outcome.Source {
	case engine.SourceCache:
		if err := store.MarkFromCache(record, entries); err != nil {
			observability.CLILogger.Warn("Failed to update execution record", zap.Error(err))
		}
	default:
		if err := store.MarkSuccess(record, entries); err != nil {
			observability.CLILogger.Warn("Failed to update execution record", zap.Error(err))
		}
	}

	if outcome.Source == engine.SourceExecuted && !pulled {
		maybePushRemote(ctx, cache, exec, outcome, entryID, writer)
	}

	execRecord := &output.ExecutionRecord{
		DisplayName:   exec.DisplayName(),
		Identity:      identity.String(),
		Source:        string(outcome.Source),
		Workspace:     outcome.Workspace,
		OutputEntries: entries,
		Duration:      time.Since(started),
	}
	if outcome.CachingDisabled != nil {
		execRecord.CachingDisabled = string(outcome.CachingDisabled.Category)
	}
	if err := writer.WriteExecution(ctx, execRecord); err != nil {
		observability.CLILogger.Warn("Failed to write execution record", zap.Error(err))
	}

	return outcome, nil
}

// maybePullRemote pulls a remote cache entry into the workspace when the
// local workspace has no reusable result. Pull failures degrade to a local
// execution, never fail the run.
func maybePullRemote(
	ctx context.Context,
	cache *remote.Client,
	eng *engine.Engine,
	exec *transform.Execution,
	identity work.Identity,
	entryID work.Identity,
	writer output.Writer,
) bool {
	if cache == nil || runRebuild || !exec.Spec().Cacheable {
		return false
	}

	if ws, err := eng.Workspaces().Get(identity); err == nil && ws.Record().HasResult {
		return false
	}

	ok, err := cache.Has(ctx, entryID)
	if err != nil {
		observability.CLILogger.Warn("Remote cache check failed", zap.Error(err))
		writeCacheRecord(ctx, writer, output.CacheEventMiss, entryID.String(), 0)
		return false
	}
	if !ok {
		writeCacheRecord(ctx, writer, output.CacheEventMiss, entryID.String(), 0)
		return false
	}

	ws, err := eng.Workspaces().Provide(identity, exec.DisplayName())
	if err != nil {
		observability.CLILogger.Warn("Workspace unavailable for remote pull", zap.Error(err))
		return false
	}

	size, err := cache.Pull(ctx, entryID, ws.Dir())
	if err != nil {
		observability.CLILogger.Warn("Remote cache pull failed", zap.Error(err))
		writeCacheRecord(ctx, writer, output.CacheEventMiss, entryID.String(), 0)
		return false
	}

	// The pulled entry was produced from identical regular inputs (the entry
	// identity covers them), so the current snapshot marks it reusable.
	snap, err := fingerprint.New().SnapshotRegularInputs(exec)
	if err != nil {
		observability.CLILogger.Warn("Failed to snapshot inputs after pull", zap.Error(err))
		return false
	}
	if err := ws.RecordSuccess(snap); err != nil {
		observability.CLILogger.Warn("Failed to mark pulled workspace reusable", zap.Error(err))
		return false
	}

	observability.CLILogger.Info("Pulled remote cache entry",
		zap.String("work", exec.DisplayName()),
		zap.String("entry", entryID.String()),
		zap.Int64("bytes", size))
	writeCacheRecord(ctx, writer, output.CacheEventPull, entryID.String(), size)
	writeCacheRecord(ctx, writer, output.CacheEventHit, entryID.String(), size)
	return true
}

// maybePushRemote pushes a freshly executed result to the remote cache.
// Push failures are logged and recorded, never fatal.
func maybePushRemote(
	ctx context.Context,
	cache *remote.Client,
	exec *transform.Execution,
	outcome *engine.Outcome,
	entryID work.Identity,
	writer output.Writer,
) {
	if cache == nil || !exec.Spec().Cacheable || outcome.CachingDisabled != nil {
		return
	}

	size, err := cache.Push(ctx, entryID, outcome.Workspace)
	if err != nil {
		observability.CLILogger.Warn("Remote cache push failed",
			zap.String("work", exec.DisplayName()),
			zap.Error(err))
		writeErrorRecord(ctx, writer, output.ErrCodeCacheUnavailable, exec.DisplayName(), err)
		return
	}

	observability.CLILogger.Info("Pushed result to remote cache",
		zap.String("work", exec.DisplayName()),
		zap.String("entry", entryID.String()),
		zap.Int64("bytes", size))
	writeCacheRecord(ctx, writer, output.CacheEventPush, entryID.String(), size)
}

// buildExecution turns a manifest transform into an executable unit of work.
func buildExecution(tc *manifest.TransformConfig, manifestDir string) (*transform.Execution, error) {
	deps, err := resolveDependencies(manifestDir, tc.Dependencies)
	if err != nil {
		return nil, fmt.Errorf("transform %s: %w", tc.Name, err)
	}

	// Relative inputs resolve against the manifest directory, same as
	// dependency patterns.
	input := tc.Input
	if input != "" && !filepath.IsAbs(input) {
		input = filepath.Join(manifestDir, input)
	}

	spec := transform.Spec{
		Name:          tc.Name,
		InputArtifact: input,
		Dependencies:  deps,
		Normalization: work.Normalization(tc.Normalization),
		Cacheable:     tc.CacheableEnabled(),
		Incremental:   tc.Incremental,
	}
	if tc.EmptyDirectoriesSensitive {
		spec.DirSensitivity = work.DirectorySensitive
	}
	if tc.NormalizeLineEndings {
		spec.LineEndings = work.LineEndingsNormalized
	}

	actionCfg := transform.ActionConfig{Kind: tc.Kind}
	if tc.Exec != nil {
		actionCfg.Exec = &transform.ExecConfig{
			Argv: tc.Exec.Argv,
			Env:  flattenEnv(tc.Exec.Env),
		}
	}
	if tc.Archive != nil {
		actionCfg.Archive = &transform.ArchiveConfig{ArchiveName: tc.Archive.ArchiveName}
	}

	action, err := transform.NewAction(actionCfg)
	if err != nil {
		return nil, fmt.Errorf("transform %s: %w", tc.Name, err)
	}

	return transform.NewExecution(spec, action, nil)
}

// resolveDependencies expands dependency glob patterns relative to the
// manifest directory.
func resolveDependencies(manifestDir string, patterns []string) ([]string, error) {
	if len(patterns) == 0 {
		return nil, nil
	}
	files, err := fingerprint.CollectFiles(manifestDir, patterns, nil)
	if err != nil {
		return nil, fmt.Errorf("resolve dependencies: %w", err)
	}
	return files, nil
}

func flattenEnv(env map[string]string) []string {
	if len(env) == 0 {
		return nil
	}
	keys := make([]string, 0, len(env))
	for k := range env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, k+"="+env[k])
	}
	return out
}

// remoteEntryIdentity derives the remote cache entry identity. Unlike the
// workspace identity it also covers the regular inputs, so entries produced
// from different input contents never collide.
func remoteEntryIdentity(f *fingerprint.Fingerprinter, exec *transform.Execution, identity work.Identity) (work.Identity, error) {
	snap, err := f.SnapshotRegularInputs(exec)
	if err != nil {
		return "", err
	}
	inputsDigest, err := snap.Digest()
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256([]byte(identity.String() + ":" + inputsDigest))
	return work.Identity(hex.EncodeToString(sum[:])), nil
}

// buildCacheClient creates the remote cache client from manifest
// configuration. Returns a nil client when no remote cache is configured.
func buildCacheClient(ctx context.Context, m *manifest.Manifest) (*remote.Client, func(), error) {
	noop := func() {}
	rc := m.Cache.Remote
	if rc == nil {
		return nil, noop, nil
	}

	var backend remote.Backend
	var err error
	switch rc.Provider {
	case "file":
		backend, err = file.New(file.Config{BaseDir: rc.BaseDir})
	case "s3":
		backend, err = s3.New(ctx, s3.Config{
			Bucket:   rc.Bucket,
			Prefix:   rc.Prefix,
			Region:   rc.Region,
			Endpoint: rc.Endpoint,
			Profile:  rc.Profile,
			// S3-compatible services (moto, MinIO, etc.) require path-style
			// URLs when a custom endpoint is set.
			ForcePathStyle: rc.ForcePathStyle || rc.Endpoint != "",
		})
	default:
		return nil, noop, fmt.Errorf("unknown remote cache provider: %q", rc.Provider)
	}
	if err != nil {
		return nil, noop, err
	}

	client, err := remote.NewClient(remote.ClientConfig{
		Backend:      backend,
		OpsPerSecond: rc.RateLimit,
	})
	if err != nil {
		_ = backend.Close()
		return nil, noop, err
	}
	return client, func() { _ = backend.Close() }, nil
}

// createWriter creates an output writer from manifest configuration.
// Returns the writer, a cleanup function, and any error.
func createWriter(m *manifest.Manifest, runID string) (output.Writer, func(), error) {
	dest := m.Output.Destination

	if dest == "" || dest == "stdout" {
		w := output.NewJSONLWriter(os.Stdout, runID)
		return w, func() { _ = w.Close() }, nil
	}

	path := strings.TrimPrefix(dest, "file:")

	f, err := os.Create(path)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create output file %s: %w", path, err)
	}

	w := output.NewJSONLWriter(f, runID)
	cleanup := func() {
		_ = w.Close()
		_ = f.Close()
	}
	return w, cleanup, nil
}

func writeCacheRecord(ctx context.Context, writer output.Writer, event, identity string, bytes int64) {
	if err := writer.WriteCache(ctx, &output.CacheRecord{
		Event:    event,
		Identity: identity,
		Bytes:    bytes,
	}); err != nil {
		observability.CLILogger.Warn("Failed to write cache record", zap.Error(err))
	}
}

func writeErrorRecord(ctx context.Context, writer output.Writer, code, displayName string, err error) {
	if werr := writer.WriteError(ctx, &output.ErrorRecord{
		Code:        code,
		Message:     err.Error(),
		DisplayName: displayName,
	}); werr != nil {
		observability.CLILogger.Warn("Failed to write error record", zap.Error(werr))
	}
}
