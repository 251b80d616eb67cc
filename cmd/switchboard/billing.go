package main

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/pario-ai/switchboard/pkg/ledger"
	"github.com/pario-ai/switchboard/pkg/models"
)

type billingOptions struct {
	today, week, month, top bool
	since, project, model   string
}

func (o billingOptions) filter(now time.Time) (models.SpendFilter, string, error) {
	f := models.SpendFilter{Project: o.project, Model: o.model}
	window, label := ledger.WindowAll, "all time"
	switch {
	case o.today:
		window, label = ledger.WindowToday, "today"
	case o.week:
		window, label = ledger.WindowWeek, "last 7 days"
	case o.month:
		window, label = ledger.WindowMonth, "last 30 days"
	}
	var err error
	if o.since != "" {
		f.Since, err = ledger.ParseSince(o.since)
		label = "since " + o.since
	} else {
		f.Since, err = ledger.WindowStart(window, now)
	}
	return f, label, err
}

func newBillingCmd(configPath *string) *cobra.Command {
	var opts billingOptions

	cmd := &cobra.Command{
		Use:   "billing",
		Short: "Show real spend, cache savings and the most recent calls",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, l, err := openLedger(*configPath)
			if err != nil {
				return err
			}
			defer func() { _ = l.Close() }()

			f, label, err := opts.filter(time.Now())
			if err != nil {
				return err
			}
			ctx := context.Background()
			out := cmd.OutOrStdout()

			if opts.top {
				rows, err := l.TopOperations(ctx, f, 20)
				if err != nil {
					return err
				}
				return printTopOperations(out, label, rows)
			}
			return printBilling(ctx, out, l, f, label)
		},
	}

	cmd.Flags().BoolVar(&opts.today, "today", false, "only today")
	cmd.Flags().BoolVar(&opts.week, "week", false, "last 7 days")
	cmd.Flags().BoolVar(&opts.month, "month", false, "last 30 days")
	cmd.Flags().StringVar(&opts.since, "since", "", "start date YYYY-MM-DD")
	cmd.Flags().StringVar(&opts.project, "project", "", "filter by project")
	cmd.Flags().StringVar(&opts.model, "model", "", "filter by model (exact id or substring)")
	cmd.Flags().BoolVar(&opts.top, "top", false, "group by operation and project, most expensive first")
	cmd.MarkFlagsMutuallyExclusive("today", "week", "month", "since")
	return cmd
}

func printBilling(ctx context.Context, out io.Writer, l ledger.Ledger, f models.SpendFilter, label string) error {
	sum, err := l.Summary(ctx, f)
	if err != nil {
		return err
	}
	byModel, err := l.ByModel(ctx, f)
	if err != nil {
		return err
	}
	recent, err := l.Recent(ctx, f, 15)
	if err != nil {
		return err
	}

	fmt.Fprintf(out, "Billing (%s)\n", label)
	fmt.Fprintf(out, "  Calls:      %s\n", humanize.Comma(sum.Calls))
	fmt.Fprintf(out, "  Tokens in:  %s\n", humanize.Comma(sum.TokensIn))
	fmt.Fprintf(out, "  Tokens out: %s\n", humanize.Comma(sum.TokensOut))
	fmt.Fprintf(out, "  Cost:       $%.4f\n", sum.CostUSD)
	fmt.Fprintf(out, "  Cache hits: %s (saved $%.4f)\n\n", humanize.Comma(sum.CacheHits), sum.SavedUSD)

	if len(byModel) > 0 {
		w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "MODEL\tCALLS\tIN\tOUT\tCOST")
		for _, m := range byModel {
			fmt.Fprintf(w, "%s\t%d\t%s\t%s\t$%.4f\n", m.Model, m.Calls, humanize.Comma(m.TokensIn), humanize.Comma(m.TokensOut), m.CostUSD)
		}
		if err := w.Flush(); err != nil {
			return err
		}
		fmt.Fprintln(out)
	}

	if len(recent) == 0 {
		fmt.Fprintln(out, "No calls recorded.")
		return nil
	}
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "TIME\tPROJECT\tOPERATION\tMODEL\tIN\tOUT\tCOST\tNOTES")
	for _, e := range recent {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t$%.4f\t%s\n",
			e.Timestamp.Local().Format("2006-01-02 15:04"), e.Project, e.Operation, e.Model,
			humanize.Comma(int64(e.TokensIn)), humanize.Comma(int64(e.TokensOut)), e.CostUSD, e.Notes)
	}
	return w.Flush()
}

func printTopOperations(out io.Writer, label string, rows []models.OperationSpend) error {
	fmt.Fprintf(out, "Top operations (%s)\n", label)
	if len(rows) == 0 {
		fmt.Fprintln(out, "No calls recorded.")
		return nil
	}
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "OPERATION\tPROJECT\tCALLS\tIN\tOUT\tCOST")
	for _, r := range rows {
		fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%s\t$%.4f\n",
			r.Operation, r.Project, r.Calls, humanize.Comma(r.TokensIn), humanize.Comma(r.TokensOut), r.CostUSD)
	}
	return w.Flush()
}
