package main

import (
	"context"
	"fmt"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/pario-ai/switchboard/pkg/cache/semantic"
)

func newCacheCmd(configPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Inspect and prune the response caches",
	}

	statsCmd := &cobra.Command{
		Use:   "stats",
		Short: "Show hit rate, savings and per-operation TTLs",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, l, err := openLedger(*configPath)
			if err != nil {
				return err
			}
			defer func() { _ = l.Close() }()

			policy := cfg.Policy()
			fresh := policy.MinPositiveTTL()
			st, err := l.CacheStats(context.Background(), fresh)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Stored responses: %s (%s within %dh)\n", humanize.Comma(st.StoredResponses), humanize.Comma(st.FreshResponses), fresh)
			fmt.Fprintf(out, "Cache hits:       %s of %s requests (%.1f%%)\n", humanize.Comma(st.Hits), humanize.Comma(st.Hits+st.RealCalls), st.HitRate*100)
			fmt.Fprintf(out, "Saved:            %s in / %s out tokens, $%.4f\n\n",
				humanize.Comma(st.SavedTokensIn), humanize.Comma(st.SavedTokensOut), st.SavedUSD)

			w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "OPERATION\tTTL")
			for _, r := range policy.Table() {
				ttl := "no cache"
				if r.TTLHours > 0 {
					ttl = fmt.Sprintf("%dh", r.TTLHours)
				}
				fmt.Fprintf(w, "%s\t%s\n", r.Operation, ttl)
			}
			fmt.Fprintf(w, "(default)\t%dh\n", policy.DefaultTTL)
			return w.Flush()
		},
	}

	var limit int
	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List the most recent cached responses",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, l, err := openLedger(*configPath)
			if err != nil {
				return err
			}
			defer func() { _ = l.Close() }()

			rows, err := l.CachedEntries(context.Background(), limit)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(rows) == 0 {
				fmt.Fprintln(out, "No cached responses.")
				return nil
			}
			w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "TIME\tPROJECT\tOPERATION\tMODEL\tHASH\tSIZE\tCOST")
			for _, r := range rows {
				hash := r.PromptHash
				if len(hash) > 12 {
					hash = hash[:12]
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t$%.4f\n",
					r.Timestamp.Local().Format("2006-01-02 15:04"), r.Project, r.Operation, r.Model,
					hash, humanize.Bytes(uint64(r.ResponseSize)), r.CostUSD)
			}
			return w.Flush()
		},
	}
	listCmd.Flags().IntVarP(&limit, "limit", "n", 30, "maximum rows")

	var all bool
	clearCmd := &cobra.Command{
		Use:   "clear",
		Short: "Drop stored responses older than the longest TTL (rows stay for billing)",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, l, err := openLedger(*configPath)
			if err != nil {
				return err
			}
			defer func() { _ = l.Close() }()

			older := 0
			if !all {
				older = cfg.Policy().MaxPositiveTTL()
			}
			n, err := l.ClearResponses(context.Background(), older)
			if err != nil {
				return err
			}
			if older > 0 {
				fmt.Fprintf(cmd.OutOrStdout(), "Cleared %d responses older than %dh.\n", n, older)
			} else {
				fmt.Fprintf(cmd.OutOrStdout(), "Cleared %d responses.\n", n)
			}
			return nil
		},
	}
	clearCmd.Flags().BoolVar(&all, "all", false, "clear every stored response")

	cmd.AddCommand(statsCmd, listCmd, clearCmd, newSemanticCmd(configPath))
	return cmd
}

func newSemanticCmd(configPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "semantic",
		Short: "Inspect or clear the semantic cache",
	}

	// Stats and Clear never embed, so no embedder is wired.
	open := func() (*semantic.Cache, func(), error) {
		_, l, err := openLedger(*configPath)
		if err != nil {
			return nil, nil, err
		}
		return semantic.New(l.DB(), nil, semantic.Options{}, nil), func() { _ = l.Close() }, nil
	}

	statsCmd := &cobra.Command{
		Use:   "stats",
		Short: "Show semantic cache entries and hits",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, done, err := open()
			if err != nil {
				return err
			}
			defer done()
			st, err := c.Stats(context.Background())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Entries: %s\nHits:    %s\n", humanize.Comma(st.Entries), humanize.Comma(st.Hits))
			return nil
		},
	}

	clearCmd := &cobra.Command{
		Use:   "clear",
		Short: "Delete every semantic cache entry",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, done, err := open()
			if err != nil {
				return err
			}
			defer done()
			n, err := c.Clear(context.Background())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Deleted %d semantic entries.\n", n)
			return nil
		},
	}

	cmd.AddCommand(statsCmd, clearCmd)
	return cmd
}
