package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/lathe-build/lathe/internal/config"
	"github.com/lathe-build/lathe/pkg/work"
	"github.com/lathe-build/lathe/pkg/workspace"
)

var workspacesCmd = &cobra.Command{
	Use:   "workspaces",
	Short: "Inspect and clean transform workspaces",
	Long: `Inspect and clean the workspace directories transform results live in.

Each workspace is keyed by a work identity and holds the transformed output
plus the persisted result of the last successful execution. Workspaces that
have not been used recently can be garbage collected; the next run simply
re-executes or pulls from the remote cache.`,
}

var workspacesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List workspaces",
	RunE:  runWorkspacesList,
}

var workspacesRemoveCmd = &cobra.Command{
	Use:   "rm <identity>",
	Short: "Remove one workspace",
	Args:  cobra.ExactArgs(1),
	RunE:  runWorkspacesRemove,
}

var workspacesGCCmd = &cobra.Command{
	Use:   "gc",
	Short: "Garbage collect unused workspaces",
	RunE:  runWorkspacesGC,
}

func init() {
	rootCmd.AddCommand(workspacesCmd)
	workspacesCmd.AddCommand(workspacesListCmd)
	workspacesCmd.AddCommand(workspacesRemoveCmd)
	workspacesCmd.AddCommand(workspacesGCCmd)

	workspacesCmd.PersistentFlags().String("root", "", "Override workspace root directory")
	workspacesListCmd.Flags().Bool("json", false, "Output as JSON")
	workspacesGCCmd.Flags().String("max-age", "", "Delete workspaces unused for this duration (default: configured workspace.max_age)")
	workspacesGCCmd.Flags().Bool("dry-run", false, "Show how many workspaces would be deleted")
}

func workspaceProvider(cmd *cobra.Command) (*workspace.Provider, *config.Config, error) {
	cfg, err := config.Load(cmd.Context())
	if err != nil {
		return nil, nil, err
	}
	root, _ := cmd.Flags().GetString("root")
	if root == "" {
		root = cfg.Workspace.Root
	}
	return workspace.NewProvider(root), cfg, nil
}

func runWorkspacesList(cmd *cobra.Command, _ []string) error {
	jsonOutput, _ := cmd.Flags().GetBool("json")

	provider, _, err := workspaceProvider(cmd)
	if err != nil {
		return err
	}

	records, err := provider.List()
	if err != nil {
		return err
	}
	if len(records) == 0 {
		_, _ = fmt.Fprintln(os.Stdout, "No workspaces found")
		return nil
	}

	if jsonOutput {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(records)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	defer func() { _ = w.Flush() }()

	_, _ = fmt.Fprintln(w, "IDENTITY\tNAME\tRESULT\tLAST USED")
	for _, r := range records {
		name := r.DisplayName
		if name == "" {
			name = "-"
		}
		result := "-"
		if r.HasResult {
			result = "valid"
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\n",
			shortID(r.Identity),
			name,
			result,
			r.LastUsedAt.UTC().Format(time.RFC3339),
		)
	}

	return nil
}

func runWorkspacesRemove(cmd *cobra.Command, args []string) error {
	if err := ensureWritable("workspaces rm"); err != nil {
		return err
	}

	provider, _, err := workspaceProvider(cmd)
	if err != nil {
		return err
	}

	identity, err := resolveWorkspaceIdentity(provider, args[0])
	if err != nil {
		return err
	}

	if err := provider.Remove(work.Identity(identity)); err != nil {
		return err
	}
	_, _ = fmt.Fprintf(os.Stdout, "Removed workspace %s\n", identity)
	return nil
}

func runWorkspacesGC(cmd *cobra.Command, _ []string) error {
	if err := ensureWritable("workspaces gc"); err != nil {
		return err
	}

	dryRun, _ := cmd.Flags().GetBool("dry-run")

	provider, cfg, err := workspaceProvider(cmd)
	if err != nil {
		return err
	}

	maxAge := cfg.Workspace.MaxAge
	if maxAgeStr, _ := cmd.Flags().GetString("max-age"); maxAgeStr != "" {
		maxAge, err = time.ParseDuration(maxAgeStr)
		if err != nil {
			return fmt.Errorf("invalid --max-age: %w", err)
		}
	}

	if dryRun {
		records, err := provider.List()
		if err != nil {
			return err
		}
		cutoff := time.Now().UTC().Add(-maxAge)
		count := 0
		for _, r := range records {
			if !r.LastUsedAt.After(cutoff) {
				count++
			}
		}
		_, _ = fmt.Fprintf(os.Stdout, "Would delete %d workspace(s)\n", count)
		return nil
	}

	removed, err := provider.GC(maxAge)
	if err != nil {
		return err
	}
	_, _ = fmt.Fprintf(os.Stdout, "Deleted %d workspace(s)\n", len(removed))
	return nil
}

// resolveWorkspaceIdentity resolves an exact or short (prefix) identity.
func resolveWorkspaceIdentity(provider *workspace.Provider, input string) (string, error) {
	if _, err := provider.Get(work.Identity(input)); err == nil {
		return input, nil
	}

	records, err := provider.List()
	if err != nil {
		return "", err
	}
	matches := make([]string, 0, 2)
	for _, r := range records {
		if len(input) > 0 && len(r.Identity) >= len(input) && r.Identity[:len(input)] == input {
			matches = append(matches, r.Identity)
		}
	}
	if len(matches) == 0 {
		return "", fmt.Errorf("workspace not found: %s", input)
	}
	if len(matches) > 1 {
		return "", fmt.Errorf("identity prefix is ambiguous (%d matches); use the full identity", len(matches))
	}
	return matches[0], nil
}
