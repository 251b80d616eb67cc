package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/pario-ai/switchboard/pkg/models"
)

func newAskCmd(configPath *string) *cobra.Command {
	var req models.Request

	cmd := &cobra.Command{
		Use:   "ask PROMPT",
		Short: "Send one prompt through the caches and the cheapest available backend",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(*configPath)
			if err != nil {
				return err
			}
			defer func() { _ = a.Close() }()

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			req.Messages = []models.Message{{Role: "user", Content: args[0]}}
			resp, err := a.orch.Request(ctx, req)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintln(out, resp.Text)
			fmt.Fprintln(out, responseFooter(resp))
			return nil
		},
	}

	cmd.Flags().StringVar(&req.Operation, "operation", "_default", "operation name used for routing and cache TTL")
	cmd.Flags().StringVar(&req.Project, "project", "cli", "project label for billing")
	cmd.Flags().StringVar(&req.Model, "model", "auto", "model hint: auto, local, sonnet, opus, haiku, ollama/<model> or a full id")
	cmd.Flags().StringVar(&req.System, "system", "", "system prompt")
	cmd.Flags().IntVar(&req.MaxTokens, "max-tokens", 4096, "maximum output tokens")
	cmd.Flags().StringVar(&req.Backend, "backend", "", "only use this backend (ollama, claude-code, anthropic)")
	cmd.Flags().StringVar(&req.Notes, "notes", "", "free-form label stored with the ledger row")
	return cmd
}

func responseFooter(r models.Response) string {
	if r.Source != models.SourceExecuted {
		return fmt.Sprintf("[%s cache hit: %s in:0 out:0 $0.0000]", r.Source, r.Model)
	}
	return fmt.Sprintf("[%s via %s in:%d out:%d $%.4f]", r.Model, r.Backend, r.TokensIn, r.TokensOut, r.CostUSD)
}
