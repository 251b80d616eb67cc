package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v3"

	"github.com/pario-ai/switchboard/pkg/brokererr"
	"github.com/pario-ai/switchboard/pkg/models"
	"github.com/pario-ai/switchboard/pkg/orchestrator"
)

// batchFile is the YAML layout accepted by `switchboard batch`.
type batchFile struct {
	Defaults models.Request   `yaml:"defaults"`
	Requests []models.Request `yaml:"requests"`
}

type batchResult struct {
	Index    int
	Response models.Response
	Err      error
}

func loadBatch(path string) ([]models.Request, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read batch file: %w", err)
	}
	var f batchFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse batch file: %w", err)
	}
	reqs := make([]models.Request, len(f.Requests))
	for i, r := range f.Requests {
		if r.Operation == "" {
			r.Operation = f.Defaults.Operation
		}
		if r.Project == "" {
			r.Project = f.Defaults.Project
		}
		if r.Model == "" {
			r.Model = f.Defaults.Model
		}
		if r.System == "" {
			r.System = f.Defaults.System
		}
		if r.MaxTokens == 0 {
			r.MaxTokens = f.Defaults.MaxTokens
		}
		if r.Backend == "" {
			r.Backend = f.Defaults.Backend
		}
		if r.Notes == "" {
			r.Notes = f.Defaults.Notes
		}
		reqs[i] = r
	}
	return reqs, nil
}

// runBatch runs every request through the full pipeline with at most workers
// in flight. Failures are collected per request and never cancel the others.
func runBatch(ctx context.Context, orch *orchestrator.Orchestrator, reqs []models.Request, workers int) []batchResult {
	if workers <= 0 {
		workers = 1
	}
	results := make([]batchResult, len(reqs))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i, req := range reqs {
		g.Go(func() error {
			resp, err := orch.Request(ctx, req)
			results[i] = batchResult{Index: i, Response: resp, Err: err}
			return nil
		})
	}
	_ = g.Wait()
	return results
}

func newBatchCmd(configPath *string) *cobra.Command {
	var workers int

	cmd := &cobra.Command{
		Use:   "batch FILE",
		Short: "Run a YAML file of requests concurrently",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			reqs, err := loadBatch(args[0])
			if err != nil {
				return err
			}
			a, err := openApp(*configPath)
			if err != nil {
				return err
			}
			defer func() { _ = a.Close() }()

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			out := cmd.OutOrStdout()
			failed := 0
			var total float64
			for _, r := range runBatch(ctx, a.orch, reqs, workers) {
				if r.Err != nil {
					failed++
					fmt.Fprintf(out, "#%d %s: %v\n", r.Index+1, brokererr.KindOf(r.Err), r.Err)
					continue
				}
				total += r.Response.CostUSD
				fmt.Fprintf(out, "#%d %s\n%s\n\n", r.Index+1, responseFooter(r.Response), r.Response.Text)
			}
			fmt.Fprintf(out, "%d requests, %d failed, $%.4f\n", len(reqs), failed, total)
			if failed > 0 {
				return fmt.Errorf("%d of %d requests failed", failed, len(reqs))
			}
			return nil
		},
	}
	cmd.Flags().IntVarP(&workers, "workers", "w", 4, "maximum concurrent requests")
	return cmd
}
