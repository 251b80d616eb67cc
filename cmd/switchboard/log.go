package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/pario-ai/switchboard/pkg/backend"
	"github.com/pario-ai/switchboard/pkg/ledger"
	"github.com/pario-ai/switchboard/pkg/models"
)

func newLogCmd(configPath *string) *cobra.Command {
	var (
		project, operation, model, notes string
		tokensIn, tokensOut              int
	)

	cmd := &cobra.Command{
		Use:   "log",
		Short: "Record a call made outside Switchboard",
		RunE: func(cmd *cobra.Command, args []string) error {
			if tokensIn < 0 || tokensOut < 0 {
				return fmt.Errorf("token counts must not be negative")
			}
			cfg, l, err := openLedger(*configPath)
			if err != nil {
				return err
			}
			defer func() { _ = l.Close() }()

			now := time.Now()
			resolved := cfg.Policy().Normalize(model)
			cost := backend.Pricing(cfg.Pricing).Cost(resolved, tokensIn, tokensOut)

			_, err = l.Record(context.Background(), models.LedgerEntry{
				Timestamp:  now,
				Project:    project,
				Operation:  operation,
				Model:      resolved,
				TokensIn:   tokensIn,
				TokensOut:  tokensOut,
				CostUSD:    cost,
				PromptHash: ledger.ManualHash(project, operation, tokensIn, now),
				Notes:      notes,
			})
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Recorded %s / %s  %s  in:%d out:%d  $%.4f\n",
				project, operation, resolved, tokensIn, tokensOut, cost)
			return nil
		},
	}

	cmd.Flags().StringVar(&project, "project", "", "project label")
	cmd.Flags().StringVar(&operation, "operation", "", "operation name")
	cmd.Flags().StringVar(&model, "model", "", "model id or alias (sonnet, opus, local, ...)")
	cmd.Flags().IntVar(&tokensIn, "in", 0, "input tokens")
	cmd.Flags().IntVar(&tokensOut, "out", 0, "output tokens")
	cmd.Flags().StringVar(&notes, "notes", "", "free-form note")
	for _, f := range []string{"project", "operation", "model", "in", "out"} {
		_ = cmd.MarkFlagRequired(f)
	}
	return cmd
}
