package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/lathe-build/lathe/internal/config"
	"github.com/lathe-build/lathe/pkg/registry"
)

var executionsCmd = &cobra.Command{
	Use:   "executions",
	Short: "Inspect recorded transform executions",
	Long: `Inspect the registry of recorded transform executions.

Every 'lathe run' records one execution per transform with its identity,
workspace, and outcome. This command group lists and cleans those records.

Records live under the registry root (see 'lathe doctor' for the resolved
location) and use stable execution IDs, so output is agent-friendly.`,
}

var executionsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recorded executions",
	RunE:  runExecutionsList,
}

var executionsStatusCmd = &cobra.Command{
	Use:   "status <execution_id>",
	Short: "Show one execution record",
	Args:  cobra.ExactArgs(1),
	RunE:  runExecutionsStatus,
}

var executionsGCCmd = &cobra.Command{
	Use:   "gc",
	Short: "Garbage collect old execution records",
	RunE:  runExecutionsGC,
}

func init() {
	rootCmd.AddCommand(executionsCmd)
	executionsCmd.AddCommand(executionsListCmd)
	executionsCmd.AddCommand(executionsStatusCmd)
	executionsCmd.AddCommand(executionsGCCmd)

	executionsCmd.PersistentFlags().String("root", "", "Override registry root directory")
	executionsListCmd.Flags().Bool("json", false, "Output as JSON")
	executionsStatusCmd.Flags().Bool("json", false, "Output as JSON")
	executionsGCCmd.Flags().String("max-age", "168h", "Delete finished executions older than this duration")
	executionsGCCmd.Flags().Bool("dry-run", false, "Show how many records would be deleted")
}

func executionsStore(cmd *cobra.Command) (*registry.Store, error) {
	root, _ := cmd.Flags().GetString("root")
	if root == "" {
		cfg, err := config.Load(cmd.Context())
		if err != nil {
			return nil, err
		}
		root = cfg.Registry.Root
	}
	return registry.NewStore(root), nil
}

func runExecutionsList(cmd *cobra.Command, _ []string) error {
	jsonOutput, _ := cmd.Flags().GetBool("json")

	store, err := executionsStore(cmd)
	if err != nil {
		return err
	}

	records, err := store.List()
	if err != nil {
		return err
	}
	if len(records) == 0 {
		_, _ = fmt.Fprintln(os.Stdout, "No executions found")
		return nil
	}

	if jsonOutput {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(records)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	defer func() { _ = w.Flush() }()

	_, _ = fmt.Fprintln(w, "EXECUTION ID\tNAME\tSTATE\tSTARTED\tENDED\tENTRIES\tIDENTITY")
	for _, r := range records {
		identity := r.Identity
		if identity == "" {
			identity = "-"
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%d\t%s\n",
			shortID(r.ExecutionID),
			r.DisplayName,
			r.State,
			formatOptionalTime(r.StartedAt),
			formatOptionalTime(r.EndedAt),
			r.OutputEntries,
			shortID(identity),
		)
	}

	return nil
}

func runExecutionsStatus(cmd *cobra.Command, args []string) error {
	jsonOutput, _ := cmd.Flags().GetBool("json")

	store, err := executionsStore(cmd)
	if err != nil {
		return err
	}

	executionID, err := resolveExecutionID(store, args[0])
	if err != nil {
		return err
	}

	rec, err := store.Get(executionID)
	if err != nil {
		return err
	}

	if jsonOutput {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(rec)
	}

	_, _ = fmt.Fprintf(os.Stdout, "execution_id=%s\n", rec.ExecutionID)
	_, _ = fmt.Fprintf(os.Stdout, "name=%s\n", rec.DisplayName)
	_, _ = fmt.Fprintf(os.Stdout, "state=%s\n", rec.State)
	if rec.Identity != "" {
		_, _ = fmt.Fprintf(os.Stdout, "identity=%s\n", rec.Identity)
	}
	if rec.Workspace != "" {
		_, _ = fmt.Fprintf(os.Stdout, "workspace=%s\n", rec.Workspace)
	}
	if rec.StartedAt != nil {
		_, _ = fmt.Fprintf(os.Stdout, "started_at=%s\n", rec.StartedAt.UTC().Format(time.RFC3339))
	}
	if rec.EndedAt != nil {
		_, _ = fmt.Fprintf(os.Stdout, "ended_at=%s\n", rec.EndedAt.UTC().Format(time.RFC3339))
	}
	if rec.OutputEntries > 0 {
		_, _ = fmt.Fprintf(os.Stdout, "output_entries=%d\n", rec.OutputEntries)
	}
	if rec.Error != "" {
		_, _ = fmt.Fprintf(os.Stdout, "error=%s\n", rec.Error)
	}

	return nil
}

func runExecutionsGC(cmd *cobra.Command, _ []string) error {
	if err := ensureWritable("executions gc"); err != nil {
		return err
	}

	maxAgeStr, _ := cmd.Flags().GetString("max-age")
	dryRun, _ := cmd.Flags().GetBool("dry-run")

	maxAge, err := time.ParseDuration(maxAgeStr)
	if err != nil {
		return fmt.Errorf("invalid --max-age: %w", err)
	}

	store, err := executionsStore(cmd)
	if err != nil {
		return err
	}

	if dryRun {
		records, err := store.List()
		if err != nil {
			return err
		}
		cutoff := time.Now().UTC().Add(-maxAge)
		count := 0
		for _, r := range records {
			at := r.CreatedAt
			if r.StartedAt != nil {
				at = *r.StartedAt
			}
			if r.State.Terminal() && !at.After(cutoff) {
				count++
			}
		}
		_, _ = fmt.Fprintf(os.Stdout, "Would delete %d execution record(s)\n", count)
		return nil
	}

	removed, err := store.GC(maxAge)
	if err != nil {
		return err
	}
	_, _ = fmt.Fprintf(os.Stdout, "Deleted %d execution record(s)\n", len(removed))
	return nil
}

func shortID(id string) string {
	id = strings.TrimSpace(id)
	if len(id) <= 12 {
		return id
	}
	return id[:12]
}

func formatOptionalTime(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return t.UTC().Format(time.RFC3339)
}

// resolveExecutionID resolves an exact or short (prefix) execution ID.
func resolveExecutionID(store *registry.Store, input string) (string, error) {
	input = strings.TrimSpace(input)
	if input == "" {
		return "", fmt.Errorf("execution_id is required")
	}

	// Exact match first.
	if _, err := store.Get(input); err == nil {
		return input, nil
	}

	// Prefix match (allows table-friendly short IDs).
	records, err := store.List()
	if err != nil {
		return "", err
	}
	matches := make([]string, 0, 2)
	for _, r := range records {
		if strings.HasPrefix(r.ExecutionID, input) {
			matches = append(matches, r.ExecutionID)
		}
	}
	if len(matches) == 0 {
		return "", fmt.Errorf("execution not found: %s", input)
	}
	if len(matches) > 1 {
		return "", fmt.Errorf("execution id prefix is ambiguous (%d matches); use the full id or --json", len(matches))
	}
	return matches[0], nil
}
