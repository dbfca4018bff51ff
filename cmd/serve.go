package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xkilldash9x/formrunner/internal/api"
	"github.com/xkilldash9x/formrunner/internal/config"
	"github.com/xkilldash9x/formrunner/internal/engine"
	"github.com/xkilldash9x/formrunner/internal/observability"
	"github.com/xkilldash9x/formrunner/internal/queue"
)

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Accepts submissions over HTTP and processes them with a worker pool",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := configFromContext(cmd.Context())
			if err != nil {
				return err
			}
			return runServe(cmd.Context(), cfg, observability.GetLogger())
		},
	}

	cmd.Flags().String("addr", "", "listen address for the HTTP API (default :3000)")
	cmd.Flags().IntP("concurrency", "j", 0, "number of concurrent jobs")
	cmd.Flags().Bool("headless", true, "run browsers headless")
	bindFlag(cmd, "addr", "api.addr")
	bindFlag(cmd, "concurrency", "engine.worker_concurrency")
	bindFlag(cmd, "headless", "browser.headless")
	return cmd
}

func runServe(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	components, err := initializeComponents(ctx, cfg, logger, true)
	if components != nil {
		defer components.Shutdown(ctx)
	}
	if err != nil {
		return fmt.Errorf("failed to initialize components: %w", err)
	}

	q := queue.New(queue.OptionsFromConfig(cfg.Engine()), logger)
	eng, err := engine.New(cfg, logger, q, components.Orchestrator, components.Store, components.Browsers)
	if err != nil {
		q.Close()
		return fmt.Errorf("failed to create engine: %w", err)
	}
	eng.Start(ctx)

	handler := api.NewHandler(cfg, q, components.Store, logger)
	serveErr := api.Serve(ctx, cfg.API().Addr, handler, logger)
	if serveErr != nil {
		logger.Error("HTTP server failed", zap.Error(serveErr))
	}

	logger.Info("Shutting down")
	if err := eng.Stop(context.WithoutCancel(ctx)); err != nil {
		logger.Warn("Engine shutdown reported an error", zap.Error(err))
	}
	return serveErr
}
