package main

import (
	"context"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/pario-ai/switchboard/pkg/budget"
)

func newBudgetCmd(configPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "budget",
		Short: "Inspect USD spend policies",
	}

	var project string
	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show spend against each budget policy",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, l, err := openLedger(*configPath)
			if err != nil {
				return err
			}
			defer func() { _ = l.Close() }()

			out := cmd.OutOrStdout()
			if !cfg.Budget.Enabled {
				fmt.Fprintln(out, "Budget enforcement is disabled.")
				return nil
			}

			statuses, err := budget.New(cfg.Budget.Policies, l).Status(context.Background(), project)
			if err != nil {
				return err
			}
			if len(statuses) == 0 {
				fmt.Fprintln(out, "No budget policies apply.")
				return nil
			}

			w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "PROJECT\tPERIOD\tMAX\tSPENT\tREMAINING")
			for _, s := range statuses {
				fmt.Fprintf(w, "%s\t%s\t$%.2f\t$%.4f\t$%.4f\n",
					s.Policy.Project, s.Policy.Period, s.Policy.MaxCostUSD, s.SpentUSD, s.Remaining)
			}
			return w.Flush()
		},
	}
	statusCmd.Flags().StringVar(&project, "project", "", "only policies that apply to this project")

	cmd.AddCommand(statusCmd)
	return cmd
}
