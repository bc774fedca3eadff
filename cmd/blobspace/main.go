package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/marmos91/blobspace/internal/logger"
	"github.com/marmos91/blobspace/pkg/config"
	"github.com/marmos91/blobspace/pkg/reconcile"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "blobspace",
	Short: "Hierarchical blob and directory storage engine",
	Long: `blobspace stores blobs and directory trees in named storage spaces.

Metadata lives in a memory, Badger or SQL store; content lives on the
filesystem, in memory or in S3. Background loops process changes, apply
retention, purge deleted rows and flush access timestamps.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to config file (default: $XDG_CONFIG_HOME/blobspace/config.yaml)")

	rootCmd.AddCommand(initCmd, serveCmd, sweepCmd, statsCmd, putCmd, catCmd, lsCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// loadConfig reads the configuration and applies the logging settings.
// The returned function releases the log file, if any.
func loadConfig() (*config.Config, func(), error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}

	logger.SetLevel(cfg.Logging.Level)
	logger.SetFormat(cfg.Logging.Format)

	closeLog := func() {}
	switch cfg.Logging.Output {
	case "stdout":
		logger.SetOutput(os.Stdout)
	case "stderr":
		logger.SetOutput(os.Stderr)
	default:
		f, err := os.OpenFile(cfg.Logging.Output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open log file: %w", err)
		}
		logger.SetOutput(f)
		closeLog = func() { _ = f.Close() }
	}

	return cfg, closeLog, nil
}

// withRuntime builds the runtime for a one-shot command, runs fn and
// closes everything afterwards.
func withRuntime(cmd *cobra.Command, handlers []reconcile.ChangeHandler, fn func(ctx context.Context, rt *config.Runtime) error) error {
	cfg, closeLog, err := loadConfig()
	if err != nil {
		return err
	}
	defer closeLog()

	ctx := cmd.Context()
	rt, err := config.BuildRuntime(ctx, cfg, handlers)
	if err != nil {
		return err
	}

	runErr := fn(ctx, rt)

	closeCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := rt.Close(closeCtx); err != nil && runErr == nil {
		runErr = fmt.Errorf("failed to close storage: %w", err)
	}
	return runErr
}
