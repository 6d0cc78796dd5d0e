// File: cmd/serve.go
package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/xkilldash9x/intentc/internal/observability"
	"github.com/xkilldash9x/intentc/internal/service"
)

// newServeCmd creates the `serve` command: the operator API, the task
// engine worker pool, and the approval sweeper, all running until a
// shutdown signal arrives.
func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the intent pipeline behind the operator HTTP API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			logger := observability.GetLogger()

			cfg, err := configFrom(ctx)
			if err != nil {
				return err
			}

			components, err := service.NewComponentFactory().Create(ctx, cfg, logger)
			if err != nil {
				return fmt.Errorf("failed to initialize components: %w", err)
			}
			defer components.Shutdown()

			g, gctx := errgroup.WithContext(ctx)

			components.Engine.Start(gctx)
			g.Go(func() error {
				components.Sweeper.Run(gctx)
				return nil
			})
			g.Go(func() error {
				return components.Server.Start(gctx)
			})

			logger.Info("intentc is serving")
			return g.Wait()
		},
	}
}
