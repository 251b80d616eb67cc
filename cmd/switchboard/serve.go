package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/pario-ai/switchboard/pkg/server"
)

func newServeCmd(configPath *string) *cobra.Command {
	var listen string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the broker and its reports over HTTP",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(*configPath)
			if err != nil {
				return err
			}
			defer func() { _ = a.Close() }()

			if listen == "" {
				listen = a.cfg.Listen
			}
			srv := server.New(server.Deps{
				Orchestrator: a.orch,
				Ledger:       a.ledger,
				Semantic:     a.semantic,
				Budget:       a.budget,
				Metrics:      a.metrics,
				Logger:       a.logger,
				Listen:       listen,
				RateLimit:    a.cfg.Server.RateLimit,
				Burst:        a.cfg.Server.Burst,
			})

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			a.logger.Info("starting switchboard", zap.String("db", a.cfg.DBPath), zap.Int("backends", len(a.orch.Adapters())))
			return srv.ListenAndServe(ctx)
		},
	}
	cmd.Flags().StringVarP(&listen, "listen", "l", "", "listen address (overrides config)")
	return cmd
}
