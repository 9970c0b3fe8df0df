package main

import (
	"context"
	"errors"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/dvilelaf/tsunami/internal/config"
	envconfig "github.com/dvilelaf/tsunami/pkg/config"
	"github.com/dvilelaf/tsunami/pkg/logging"
	"github.com/dvilelaf/tsunami/pkg/server"
)

func newRunCmd() *cobra.Command {
	var periods int
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the pipeline with its health and metrics server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := newLogger()
			envconfig.LoadEnv(logger)
			logger.SetLevel(envconfig.GetLogLevel())

			cfg, err := config.Load()
			if err != nil {
				return err
			}
			cfg.Pipeline.MaxPeriods = periods
			logger = logging.WithReplica(logger, cfg.Agreement.ReplicaID)

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			a, err := wire(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer func() {
				if err := a.Close(); err != nil {
					logger.WithError(err).Warn("Shutdown cleanup failed")
				}
			}()

			g, gctx := errgroup.WithContext(ctx)
			serveCtx, stopServer := context.WithCancel(gctx)
			defer stopServer()

			g.Go(func() error {
				defer stopServer()
				return a.sequencer.Run(gctx)
			})
			g.Go(func() error {
				router := server.SetupRouter(logger, a.health)
				return server.Run(serveCtx, server.DefaultConfig("tsunami", cfg.Port), router, logger)
			})

			err = g.Wait()
			if errors.Is(err, context.Canceled) {
				logger.Info("Stopped")
				return nil
			}
			return err
		},
	}
	cmd.Flags().IntVar(&periods, "periods", 0, "stop after this many periods (0 runs until interrupted)")
	return cmd
}
