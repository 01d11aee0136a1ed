package cmd

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"TechNotesScanner/internal/app"
	"TechNotesScanner/internal/domain"
)

var (
	summarizeLimit int
	reprocessLimit int
)

var scrapeCmd = &cobra.Command{
	Use:   "scrape",
	Short: "Run one scrape of the NF-e portal now",
	RunE: func(cmd *cobra.Command, args []string) error {
		return manual(func(ctx context.Context, a *app.Application) (any, error) {
			return a.Coordinator().RunScrapeNow(ctx), nil
		})
	},
}

var summarizeCmd = &cobra.Command{
	Use:   "summarize",
	Short: "Summarize pending notes now",
	RunE: func(cmd *cobra.Command, args []string) error {
		return manual(func(ctx context.Context, a *app.Application) (any, error) {
			return a.Coordinator().RunSummarizeNow(ctx, summarizeLimit), nil
		})
	},
}

var pipelineCmd = &cobra.Command{
	Use:   "pipeline",
	Short: "Scrape then summarize now",
	RunE: func(cmd *cobra.Command, args []string) error {
		return manual(func(ctx context.Context, a *app.Application) (any, error) {
			return a.Coordinator().RunFullPipeline(ctx), nil
		})
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Print job status and processing statistics",
	RunE: func(cmd *cobra.Command, args []string) error {
		return manual(func(ctx context.Context, a *app.Application) (any, error) {
			if err := a.Scheduler().Load(ctx); err != nil {
				return nil, err
			}
			status, err := a.Coordinator().GetStatus(ctx)
			if err != nil {
				return nil, err
			}
			stats, err := a.Coordinator().Stats(ctx)
			if err != nil {
				return nil, err
			}
			return map[string]any{"jobs": status, "stats": stats}, nil
		})
	},
}

var analyzeCmd = &cobra.Command{
	Use:   "analyze <document-id>",
	Short: "Print an impact analysis for a summarized note",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return manual(func(ctx context.Context, a *app.Application) (any, error) {
			return a.Coordinator().AnalyzeImpact(ctx, args[0])
		})
	},
}

var reprocessCmd = &cobra.Command{
	Use:   "reprocess",
	Short: "Queue errored notes for another summarize run",
	RunE: func(cmd *cobra.Command, args []string) error {
		return manual(func(ctx context.Context, a *app.Application) (any, error) {
			n, err := a.Coordinator().ReprocessErrors(ctx, reprocessLimit)
			if err != nil {
				return nil, err
			}
			return map[string]int{"requeued": n}, nil
		})
	},
}

func init() {
	rootCmd.AddCommand(scrapeCmd, summarizeCmd, pipelineCmd, statusCmd, analyzeCmd, reprocessCmd)

	summarizeCmd.Flags().IntVar(&summarizeLimit, "limit", 0, "maximum notes to summarize (default 10)")
	reprocessCmd.Flags().IntVar(&reprocessLimit, "limit", 0, "maximum notes to requeue (0 means all)")
}

func manual(fn func(context.Context, *app.Application) (any, error)) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	return withApp(ctx, func(a *app.Application) error {
		out, err := fn(ctx, a)
		if err != nil {
			return err
		}
		if err := printJSON(out); err != nil {
			return err
		}
		if result, ok := out.(domain.JobResult); ok && !result.Success {
			return fmt.Errorf("run failed: %s", result.Error)
		}
		return nil
	})
}
