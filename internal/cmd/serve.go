package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/lathe-build/lathe/internal/config"
	"github.com/lathe-build/lathe/internal/observability"
	"github.com/lathe-build/lathe/internal/server"
	"github.com/lathe-build/lathe/internal/server/handlers"
	"github.com/lathe-build/lathe/pkg/remote/file"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the cache server",
	Long: `Run the HTTP cache server.

The server exposes the configured cache directory as a shared remote cache
over /cache/{key}, plus health and version endpoints. Teams point their run
manifests at it via an S3-compatible or HTTP cache client, or mount the
same directory with the file provider.`,
	RunE: runServe,
}

var (
	serveHost string
	servePort int
)

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().StringVar(&serveHost, "host", "", "Override listen host")
	serveCmd.Flags().IntVar(&servePort, "port", 0, "Override listen port")
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	cfg, err := config.Load(ctx)
	if err != nil {
		return exitError(foundry.ExitFileReadError, "Failed to load configuration", err)
	}

	host := cfg.Server.Host
	if serveHost != "" {
		host = serveHost
	}
	port := cfg.Server.Port
	if servePort != 0 {
		port = servePort
	}

	if err := os.MkdirAll(cfg.Server.CacheDir, 0o755); err != nil {
		return exitError(foundry.ExitFileWriteError, "Failed to create cache directory", err)
	}
	backend, err := file.New(file.Config{BaseDir: cfg.Server.CacheDir})
	if err != nil {
		return exitError(foundry.ExitInvalidArgument, "Invalid cache directory", err)
	}
	defer func() { _ = backend.Close() }()

	handlers.InitHealthManager(versionInfo.Version)
	handlers.GetHealthManager().RegisterChecker("cache_dir", cacheDirHealthChecker{dir: cfg.Server.CacheDir})

	srv := server.New(host, port,
		server.WithLogger(observability.CLILogger),
		server.WithBackend(backend),
		server.WithVersion(versionInfo.Version),
		server.WithTimeouts(cfg.Server.ReadTimeout, cfg.Server.WriteTimeout, cfg.Server.IdleTimeout),
	)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	observability.CLILogger.Info("Cache server started",
		zap.String("addr", srv.Addr()),
		zap.String("cache_dir", cfg.Server.CacheDir))

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return exitError(foundry.ExitExternalServiceUnavailable, "Server failed", err)
		}
		return nil
	case <-ctx.Done():
	}

	observability.CLILogger.Info("Shutting down cache server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return exitError(foundry.ExitExternalServiceUnavailable, "Graceful shutdown failed", err)
	}
	return nil
}

// cacheDirHealthChecker verifies the cache directory is present and
// writable.
type cacheDirHealthChecker struct {
	dir string
}

func (c cacheDirHealthChecker) CheckHealth(ctx context.Context) error {
	_ = ctx
	info, err := os.Stat(c.dir)
	if err != nil {
		return fmt.Errorf("cache dir: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("cache dir %s is not a directory", c.dir)
	}
	probe, err := os.CreateTemp(c.dir, ".lathe-health-*")
	if err != nil {
		return fmt.Errorf("cache dir not writable: %w", err)
	}
	name := probe.Name()
	_ = probe.Close()
	return os.Remove(name)
}
