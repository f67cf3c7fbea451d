// File: cmd/run.go
package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/promoflow/promoflow/internal/observability"
	"github.com/promoflow/promoflow/internal/service"
)

// runCmd starts the engine and its HTTP API and blocks until interrupted.
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the promotion engine and its HTTP API.",
	RunE: func(cmd *cobra.Command, args []string) error {
		logger := observability.GetLogger()
		defer observability.Sync()

		ctx, cancel := context.WithCancel(cmd.Context())
		defer cancel()

		components, err := service.Create(ctx, appConfig, logger)
		if err != nil {
			return fmt.Errorf("failed to initialize engine: %w", err)
		}
		defer components.Shutdown()

		components.Start(ctx)

		// Run the HTTP server until it fails or a signal arrives.
		serverErr := make(chan error, 1)
		go func() {
			serverErr <- components.Server.ListenAndServe()
		}()

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		defer signal.Stop(sigCh)

		select {
		case sig := <-sigCh:
			logger.Info("Shutdown signal received", zap.String("signal", sig.String()))
		case err := <-serverErr:
			if err != nil {
				return fmt.Errorf("http server failed: %w", err)
			}
			logger.Info("HTTP server closed")
		case <-ctx.Done():
		}

		if err := components.Server.Shutdown(context.Background()); err != nil {
			logger.Warn("HTTP server shutdown was not clean", zap.Error(err))
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(runCmd)
}
