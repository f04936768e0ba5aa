// File: cmd/serve.go
package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xkilldash9x/cartpilot/internal/api"
	"github.com/xkilldash9x/cartpilot/internal/browser"
	"github.com/xkilldash9x/cartpilot/internal/observability"
	"github.com/xkilldash9x/cartpilot/internal/orchestrator"
	"github.com/xkilldash9x/cartpilot/internal/planner"
	"github.com/xkilldash9x/cartpilot/internal/selectors"
	"github.com/xkilldash9x/cartpilot/internal/session"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the shopping orchestrator HTTP server.",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe()
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe() error {
	logger := observability.GetLogger()

	// A missing planner key is startup-fatal; discovering it on the first
	// request would waste a user's session.
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	registry := selectors.NewRegistry()

	llm, err := planner.NewGeminiClient(cfg.Planner, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize planner client: %w", err)
	}
	plannerAdapter := planner.NewAdapter(llm, registry, cfg.Planner, logger)

	browsers := browser.NewManager(cfg.Browser, logger)
	store := session.NewStore(cfg.Session, logger)
	orch := orchestrator.New(plannerAdapter, browsers, registry, store, cfg, logger)
	server := api.NewServer(cfg.Server, orch, logger)

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.ListenAndServe()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info("Shutdown signal received.", zap.String("signal", sig.String()))
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("HTTP server failed: %w", err)
		}
		return nil
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("HTTP server shutdown error.", zap.Error(err))
	}
	store.Close(shutdownCtx)
	if err := browsers.Shutdown(shutdownCtx); err != nil {
		logger.Warn("Browser manager shutdown error.", zap.Error(err))
	}

	logger.Info("Shutdown complete.")
	observability.Sync()
	return nil
}
