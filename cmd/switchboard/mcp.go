package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/pario-ai/switchboard/pkg/mcp"
)

func newMCPCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "mcp",
		Short: "Run Switchboard as an MCP server on stdio",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(*configPath)
			if err != nil {
				return err
			}
			defer func() { _ = a.Close() }()

			srv := mcp.New(mcp.Deps{
				Orchestrator: a.orch,
				Ledger:       a.ledger,
				Semantic:     a.semantic,
				Budget:       a.budget,
				Logger:       a.logger,
				Version:      version,
			})

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return srv.Run(ctx, os.Stdin, os.Stdout)
		},
	}
}
