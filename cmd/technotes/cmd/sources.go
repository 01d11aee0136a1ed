package cmd

import (
	"context"

	"github.com/spf13/cobra"

	"TechNotesScanner/internal/app"
)

var (
	logsDocument string
	logsLimit    int
)

var sourceCmd = &cobra.Command{
	Use:   "source",
	Short: "List data sources or toggle their active flag",
}

var sourceListCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored data sources",
	RunE: func(cmd *cobra.Command, args []string) error {
		return manual(func(ctx context.Context, a *app.Application) (any, error) {
			if err := a.PrepareSources(ctx); err != nil {
				return nil, err
			}
			return a.Coordinator().ListSources(ctx)
		})
	},
}

var sourceEnableCmd = &cobra.Command{
	Use:   "enable <name>",
	Short: "Let scrape runs pick up the data source",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return setSourceActive(args[0], true)
	},
}

var sourceDisableCmd = &cobra.Command{
	Use:   "disable <name>",
	Short: "Make scrape runs skip the data source",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return setSourceActive(args[0], false)
	},
}

var logsCmd = &cobra.Command{
	Use:   "logs",
	Short: "Print recent processing log entries",
	RunE: func(cmd *cobra.Command, args []string) error {
		return manual(func(ctx context.Context, a *app.Application) (any, error) {
			return a.Coordinator().Logs(ctx, logsDocument, logsLimit)
		})
	},
}

func init() {
	sourceCmd.AddCommand(sourceListCmd, sourceEnableCmd, sourceDisableCmd)
	rootCmd.AddCommand(sourceCmd, logsCmd)

	logsCmd.Flags().StringVar(&logsDocument, "document", "", "only entries of this document id")
	logsCmd.Flags().IntVar(&logsLimit, "limit", 50, "maximum entries to print")
}

func setSourceActive(name string, active bool) error {
	return manual(func(ctx context.Context, a *app.Application) (any, error) {
		if err := a.PrepareSources(ctx); err != nil {
			return nil, err
		}
		if err := a.Coordinator().SetSourceActive(ctx, name, active); err != nil {
			return nil, err
		}
		return a.Coordinator().SourceStatus(ctx, name)
	})
}
