package main

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/pario-ai/switchboard/pkg/models"
	"github.com/pario-ai/switchboard/pkg/router"
)

func newRouteCmd(configPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "route",
		Short: "Show or test the operation routing policy",
	}

	showCmd := &cobra.Command{
		Use:   "show",
		Short: "Print the routing table with historical local and cloud usage",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, l, err := openLedger(*configPath)
			if err != nil {
				return err
			}
			defer func() { _ = l.Close() }()

			policy := cfg.Policy()
			usage, err := l.UsageSplit(context.Background(), policy.LocalPrefix)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if err := printRouteTable(out, policy); err != nil {
				return err
			}
			printUsage(out, usage)
			return nil
		},
	}

	testCmd := &cobra.Command{
		Use:   "test OPERATION",
		Short: "Show where an operation would go and which backends are up now",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(*configPath)
			if err != nil {
				return err
			}
			defer func() { _ = a.Close() }()

			ctx := context.Background()
			info := a.router.Policy().Describe(args[0])
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Operation:   %s\n", info.Operation)
			fmt.Fprintf(out, "Destination: %s (%s)\n", info.Destination, className(info.Local))
			fmt.Fprintf(out, "Model:       %s\n", info.Model)
			if info.TTLHours > 0 {
				fmt.Fprintf(out, "Cache TTL:   %dh\n", info.TTLHours)
			} else {
				fmt.Fprintln(out, "Cache TTL:   disabled")
			}

			adapters := a.orch.Adapters()
			chosen, err := a.router.SelectBackend(ctx, info.Operation, adapters, "auto")
			if err != nil {
				fmt.Fprintf(out, "Backend:     none available (%v)\n", err)
			} else {
				fmt.Fprintf(out, "Backend:     %s (%s), sent model %s\n", chosen.Name(), chosen.Kind(), a.router.ModelFor(chosen, info.Model))
			}

			usage, err := a.ledger.UsageSplit(ctx, a.router.Policy().LocalPrefix)
			if err != nil {
				return err
			}
			printUsage(out, usage)
			return nil
		},
	}

	cmd.AddCommand(showCmd, testCmd)
	return cmd
}

func className(local bool) string {
	if local {
		return "local"
	}
	return "cloud"
}

func printRouteTable(out io.Writer, p router.Policy) error {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "OPERATION\tDESTINATION\tCLASS\tMODEL\tTTL")
	for _, r := range p.Table() {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%dh\n", r.Operation, r.Destination, className(r.Local), r.Model, r.TTLHours)
	}
	d := p.Describe("")
	fmt.Fprintf(w, "(default)\t%s\t%s\t%s\t%dh\n", p.DefaultDestination, className(d.Local), d.Model, p.DefaultTTL)
	return w.Flush()
}

func printUsage(out io.Writer, u models.UsageSplit) {
	fmt.Fprintln(out)
	fmt.Fprintf(out, "Local: %s calls, %s tokens, $0\n", humanize.Comma(u.LocalCalls), humanize.Comma(u.LocalTokens))
	fmt.Fprintf(out, "Cloud: %s calls, $%.4f\n", humanize.Comma(u.CloudCalls), u.CloudCost)
}
