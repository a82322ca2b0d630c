package cmd

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lathe-build/lathe/pkg/output"
)

type runFixture struct {
	dir          string
	manifestPath string
	inputPath    string
	outputPath   string
}

func newRunFixture(t *testing.T) runFixture {
	t.Helper()
	dir := t.TempDir()

	fx := runFixture{
		dir:          dir,
		manifestPath: filepath.Join(dir, "run.yaml"),
		inputPath:    filepath.Join(dir, "input.txt"),
		outputPath:   filepath.Join(dir, "out.jsonl"),
	}

	require.NoError(t, os.WriteFile(fx.inputPath, []byte("artifact payload"), 0o644))
	require.NoError(t, os.WriteFile(fx.manifestPath, []byte(`version: "1.0"
workspace:
  root: `+filepath.Join(dir, "workspaces")+`
transforms:
  - name: stage-input
    kind: copy
    input: `+fx.inputPath+`
output:
  destination: file:`+fx.outputPath+`
`), 0o644))

	t.Setenv("LATHE_REGISTRY_ROOT", filepath.Join(dir, "executions"))
	return fx
}

func (fx runFixture) execute(t *testing.T, extraArgs ...string) error {
	t.Helper()
	resetReadOnly(t)

	args := append([]string{"run", "--job", fx.manifestPath}, extraArgs...)
	rootCmd.SetArgs(args)
	rootCmd.SetContext(context.Background())

	err := rootCmd.Execute()
	rootCmd.SetArgs(nil)
	runRebuild = false
	runDryRun = false
	runOutput = ""
	return err
}

func decodeRecords(t *testing.T, path string) []output.Record {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer func() { _ = f.Close() }()

	records, err := output.NewReader(f).ReadAll()
	require.NoError(t, err)
	return records
}

func executionRecords(t *testing.T, path string) []output.ExecutionRecord {
	t.Helper()
	var out []output.ExecutionRecord
	for _, rec := range decodeRecords(t, path) {
		if rec.Type != output.TypeExecution {
			continue
		}
		var exec output.ExecutionRecord
		require.NoError(t, json.Unmarshal(rec.Data, &exec))
		out = append(out, exec)
	}
	return out
}

func summaryRecord(t *testing.T, path string) output.SummaryRecord {
	t.Helper()
	for _, rec := range decodeRecords(t, path) {
		if rec.Type != output.TypeSummary {
			continue
		}
		var sum output.SummaryRecord
		require.NoError(t, json.Unmarshal(rec.Data, &sum))
		return sum
	}
	t.Fatal("no summary record found")
	return output.SummaryRecord{}
}

func TestRunExecutesCopyTransform(t *testing.T) {
	fx := newRunFixture(t)

	require.NoError(t, fx.execute(t))

	execs := executionRecords(t, fx.outputPath)
	require.Len(t, execs, 1)
	assert.Equal(t, "stage-input: input.txt", execs[0].DisplayName)
	assert.Equal(t, "executed", execs[0].Source)
	assert.Equal(t, 1, execs[0].OutputEntries)
	assert.NotEmpty(t, execs[0].Identity)

	// The copied artifact lives in the workspace output directory.
	staged := filepath.Join(execs[0].Workspace, "transformed", "input.txt")
	content, err := os.ReadFile(staged)
	require.NoError(t, err)
	assert.Equal(t, "artifact payload", string(content))

	sum := summaryRecord(t, fx.outputPath)
	assert.EqualValues(t, 1, sum.Transforms)
	assert.EqualValues(t, 1, sum.Executed)
	assert.EqualValues(t, 0, sum.Failed)
}

func TestRunResolvesRelativeInputAgainstManifestDir(t *testing.T) {
	fx := newRunFixture(t)

	require.NoError(t, os.WriteFile(fx.manifestPath, []byte(`version: "1.0"
workspace:
  root: `+filepath.Join(fx.dir, "workspaces")+`
transforms:
  - name: stage-input
    kind: copy
    input: input.txt
output:
  destination: file:`+fx.outputPath+`
`), 0o644))

	require.NoError(t, fx.execute(t))

	execs := executionRecords(t, fx.outputPath)
	require.Len(t, execs, 1)
	assert.Equal(t, "stage-input: input.txt", execs[0].DisplayName)
	assert.Equal(t, "executed", execs[0].Source)

	staged := filepath.Join(execs[0].Workspace, "transformed", "input.txt")
	content, err := os.ReadFile(staged)
	require.NoError(t, err)
	assert.Equal(t, "artifact payload", string(content))
}

func TestRunSecondInvocationServedFromCache(t *testing.T) {
	fx := newRunFixture(t)

	require.NoError(t, fx.execute(t))
	require.NoError(t, fx.execute(t))

	execs := executionRecords(t, fx.outputPath)
	require.Len(t, execs, 1)
	assert.Equal(t, "cache", execs[0].Source)

	sum := summaryRecord(t, fx.outputPath)
	assert.EqualValues(t, 1, sum.FromCache)
	assert.EqualValues(t, 0, sum.Executed)
}

func TestRunRebuildForcesExecution(t *testing.T) {
	fx := newRunFixture(t)

	require.NoError(t, fx.execute(t))
	require.NoError(t, fx.execute(t, "--rebuild"))

	execs := executionRecords(t, fx.outputPath)
	require.Len(t, execs, 1)
	assert.Equal(t, "executed", execs[0].Source)
}

func TestRunInputChangeTriggersReExecution(t *testing.T) {
	fx := newRunFixture(t)

	require.NoError(t, fx.execute(t))
	require.NoError(t, os.WriteFile(fx.inputPath, []byte("changed payload"), 0o644))
	require.NoError(t, fx.execute(t))

	execs := executionRecords(t, fx.outputPath)
	require.Len(t, execs, 1)
	assert.Equal(t, "executed", execs[0].Source)

	staged := filepath.Join(execs[0].Workspace, "transformed", "input.txt")
	content, err := os.ReadFile(staged)
	require.NoError(t, err)
	assert.Equal(t, "changed payload", string(content))
}

func TestRunWithRemoteFileCache(t *testing.T) {
	fx := newRunFixture(t)
	remoteDir := filepath.Join(fx.dir, "remote-cache")

	require.NoError(t, os.WriteFile(fx.manifestPath, []byte(`version: "1.0"
workspace:
  root: `+filepath.Join(fx.dir, "workspaces")+`
transforms:
  - name: stage-input
    kind: copy
    input: `+fx.inputPath+`
cache:
  remote:
    provider: file
    base_dir: `+remoteDir+`
output:
  destination: file:`+fx.outputPath+`
`), 0o644))

	require.NoError(t, fx.execute(t))

	// The executed result was pushed to the remote cache.
	entries, err := os.ReadDir(remoteDir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Contains(t, entries[0].Name(), ".tar.gz")

	// A fresh workspace root pulls the entry instead of executing.
	require.NoError(t, os.RemoveAll(filepath.Join(fx.dir, "workspaces")))
	require.NoError(t, fx.execute(t))

	execs := executionRecords(t, fx.outputPath)
	require.Len(t, execs, 1)
	assert.Equal(t, "cache", execs[0].Source)

	var events []string
	for _, rec := range decodeRecords(t, fx.outputPath) {
		if rec.Type != output.TypeCache {
			continue
		}
		var cr output.CacheRecord
		require.NoError(t, json.Unmarshal(rec.Data, &cr))
		events = append(events, cr.Event)
	}
	assert.Contains(t, events, output.CacheEventPull)
	assert.Contains(t, events, output.CacheEventHit)
}

func TestRunInvalidManifestFails(t *testing.T) {
	dir := t.TempDir()
	manifestPath := filepath.Join(dir, "bad.yaml")
	require.NoError(t, os.WriteFile(manifestPath, []byte(`version: "1.0"
transforms: []
`), 0o644))

	resetReadOnly(t)
	rootCmd.SetArgs([]string{"run", "--job", manifestPath})
	rootCmd.SetContext(context.Background())

	err := rootCmd.Execute()
	rootCmd.SetArgs(nil)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "Invalid manifest")
}

func TestRunDryRunDoesNotExecute(t *testing.T) {
	fx := newRunFixture(t)

	require.NoError(t, fx.execute(t, "--dry-run"))

	_, err := os.Stat(filepath.Join(fx.dir, "workspaces"))
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(fx.outputPath)
	assert.True(t, os.IsNotExist(err))
}
