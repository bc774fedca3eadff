package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/marmos91/blobspace/internal/logger"
	"github.com/marmos91/blobspace/pkg/config"
	"github.com/marmos91/blobspace/pkg/reconcile"
	"github.com/marmos91/blobspace/pkg/space"
	"github.com/marmos91/blobspace/pkg/store/metadata"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the conversion workers and reconciliation loops",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, closeLog, err := loadConfig()
		if err != nil {
			return err
		}
		defer closeLog()

		return serve(cfg)
	},
}

// logChanges reports processed blob changes at debug level.
var logChanges = reconcile.ChangeHandlerFunc(func(_ context.Context, sp *space.Space, kind reconcile.ChangeKind, blob *metadata.Blob) error {
	logger.Debug("Change: space=%s blob=%s kind=%s", sp.Name(), blob.BlobKey, kind)
	return nil
})

func serve(cfg *config.Config) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	logger.Info("Log level set to: %s", cfg.Logging.Level)

	rt, err := config.BuildRuntime(ctx, cfg, []reconcile.ChangeHandler{logChanges})
	if err != nil {
		return err
	}

	if !cfg.Reconcile.Enabled {
		logger.Warn("Reconciliation loops are disabled: deleted rows are not purged")
	}

	rt.Start()

	metricsDone := make(chan error, 1)
	if rt.Metrics.Server != nil {
		go func() {
			metricsDone <- rt.Metrics.Server.Start(ctx)
		}()
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	logger.Info("blobspace is running. Press Ctrl+C to stop.")

	var runErr error
	select {
	case sig := <-sigChan:
		logger.Info("Received signal %s, shutting down...", sig)
	case err := <-metricsDone:
		if err != nil {
			runErr = err
			logger.Error("Metrics server error: %v", err)
		}
	}

	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if rt.Metrics.Server != nil {
		if err := rt.Metrics.Server.Stop(shutdownCtx); err != nil {
			logger.Warn("Metrics server shutdown error: %v", err)
		}
	}

	if err := rt.Close(shutdownCtx); err != nil {
		logger.Error("Shutdown error: %v", err)
		if runErr == nil {
			runErr = fmt.Errorf("shutdown: %w", err)
		}
	}

	logger.Info("Shutdown complete")
	return runErr
}
