package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"runtime"

	"github.com/fulmenhq/gofulmen/crucible"
	"github.com/spf13/cobra"
)

var versionJSON bool

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version information",
	RunE:  runVersion,
}

func init() {
	rootCmd.AddCommand(versionCmd)
	versionCmd.Flags().BoolVar(&versionJSON, "json", false, "Output as JSON")
}

func runVersion(cmd *cobra.Command, args []string) error {
	toolchain := crucible.GetVersion()

	if versionJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(map[string]string{
			"version":    versionInfo.Version,
			"commit":     versionInfo.Commit,
			"build_date": versionInfo.BuildDate,
			"go":         runtime.Version(),
			"gofulmen":   toolchain.Gofulmen,
			"crucible":   toolchain.Crucible,
		})
	}

	fmt.Printf("lathe %s\n", versionInfo.Version)
	fmt.Printf("  commit:     %s\n", versionInfo.Commit)
	fmt.Printf("  build date: %s\n", versionInfo.BuildDate)
	fmt.Printf("  go:         %s\n", runtime.Version())
	if toolchain.Gofulmen != "" {
		fmt.Printf("  gofulmen:   v%s\n", toolchain.Gofulmen)
	}
	return nil
}
