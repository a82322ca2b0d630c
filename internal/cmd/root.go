// Package cmd implements the lathe command-line interface.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/lathe-build/lathe/internal/observability"
)

// VersionInfo carries the build-time version stamps injected by the linker.
type VersionInfo struct {
	Version   string
	Commit    string
	BuildDate string
}

var versionInfo = VersionInfo{
	Version:   "dev",
	Commit:    "HEAD",
	BuildDate: "unknown",
}

// SetVersionInfo records the build-time version stamps. Called from main
// before Execute.
func SetVersionInfo(version, commit, buildDate string) {
	versionInfo.Version = version
	versionInfo.Commit = commit
	versionInfo.BuildDate = buildDate
}

var (
	logLevel string
	quiet    bool
	readOnly bool
)

var rootCmd = &cobra.Command{
	Use:   "lathe",
	Short: "Content-addressed artifact transform runner",
	Long: `lathe executes artifact transforms inside isolated, identity-keyed
workspaces, reusing previously produced results when the inputs are
unchanged.

Transforms are declared in a YAML or JSON run manifest. Results can be
shared through a remote cache backed by a local directory or an
S3-compatible store.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return observability.InitCLILogger(logLevel, quiet)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "Log level (debug|info|warn|error)")
	rootCmd.PersistentFlags().BoolVarP(&quiet, "quiet", "q", false, "Only log errors")
	rootCmd.PersistentFlags().BoolVar(&readOnly, "readonly", false, "Block commands that modify workspaces or the remote cache")

	_ = viper.BindPFlag("readonly", rootCmd.PersistentFlags().Lookup("readonly"))
}

// codedError pairs an error with the process exit code it should produce.
type codedError struct {
	code    int
	message string
	err     error
}

func (e *codedError) Error() string {
	if e.err == nil {
		return e.message
	}
	return fmt.Sprintf("%s: %v", e.message, e.err)
}

func (e *codedError) Unwrap() error { return e.err }

// exitError creates an error that will cause the CLI to exit with the given
// code.
func exitError(code int, message string, err error) error {
	return &codedError{code: code, message: message, err: err}
}

// ExitCode extracts the process exit code from a command error.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	var coded *codedError
	if errors.As(err, &coded) {
		return coded.code
	}
	if errors.Is(err, context.Canceled) {
		return foundry.ExitSignalInt
	}
	return 1
}

// ensureWritable rejects mutating operations when --readonly is set.
func ensureWritable(op string) error {
	if readOnly || viper.GetBool("readonly") {
		return exitError(foundry.ExitInvalidArgument, "readonly mode",
			fmt.Errorf("%s modifies state and is blocked in readonly mode", op))
	}
	return nil
}

// Execute runs the root command, translating failures into process exit
// codes. SIGINT and SIGTERM cancel the command context.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		observability.CLILogger.Error("Command failed", zap.Error(err))
		observability.Sync()
		os.Exit(ExitCode(err))
	}
	observability.Sync()
}
