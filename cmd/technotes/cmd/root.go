package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/ternarybob/arbor"

	"TechNotesScanner/internal/app"
	"TechNotesScanner/internal/config"
	"TechNotesScanner/internal/logging"
)

var (
	cfgFile string
	verbose bool
	cfg     config.Config
	logger  arbor.ILogger
)

var rootCmd = &cobra.Command{
	Use:   "technotes",
	Short: "Collects and summarizes NF-e technical notes",
	Long: `technotes scrapes the NF-e portal for new technical notes, stores them,
and summarizes pending notes with a language model on a schedule.

Commands:
  run        Register the scheduled jobs and run the scheduler
  scrape     Run one scrape now
  summarize  Summarize pending notes now
  pipeline   Scrape then summarize now
  status     Print job status and processing statistics
  analyze    Print an impact analysis for a summarized note
  reprocess  Queue errored notes for another summarize run
  source     List data sources or enable/disable one
  logs       Print recent processing log entries`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		loaded, err := config.Load(cfgFile)
		if err != nil {
			return err
		}
		if verbose {
			loaded.Logging.Level = "debug"
		}
		cfg = loaded
		logger = logging.New(cfg.Logging.Level)
		return nil
	},
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $TECHNOTES_CONFIG)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
}

// withApp builds the application, runs fn and releases the stores.
func withApp(ctx context.Context, fn func(*app.Application) error) error {
	application, err := app.New(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := application.Close(); err != nil {
			logger.Warn().Err(err).Msg("failed to close stores")
		}
	}()
	return fn(application)
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("encode output: %w", err)
	}
	return nil
}
