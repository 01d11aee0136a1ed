package cmd

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"TechNotesScanner/internal/app"
)

const (
	livenessInterval = 30 * time.Second
	statusInterval   = 60 * time.Second
)

var (
	setupOnly bool
	daemon    bool
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Register the scheduled jobs and run the scheduler",
	Long: `Register the configured jobs and run the scheduler until interrupted.

Examples:
  # Register jobs and exit
  technotes run --setup-only

  # Run in the background, exiting if the scheduler stops
  technotes run --daemon`,
	RunE: runRun,
}

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().BoolVar(&setupOnly, "setup-only", false, "register jobs and exit")
	runCmd.Flags().BoolVar(&daemon, "daemon", false, "block and poll scheduler liveness")
}

func runRun(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	application, err := app.New(ctx, cfg, logger)
	if err != nil {
		return err
	}

	result, setupErr := application.Setup(ctx)
	if setupOnly {
		if err := printJSON(result); err != nil {
			logger.Warn().Err(err).Msg("failed to print setup result")
		}
		return errors.Join(setupErr, application.Close())
	}
	if setupErr != nil {
		logger.Warn().Err(setupErr).Strs("errors", result.Errors).Msg("some jobs were not registered")
	}

	if err := application.Start(ctx); err != nil {
		return errors.Join(err, application.Close())
	}

	interval := statusInterval
	if daemon {
		interval = livenessInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var runErr error
loop:
	for {
		select {
		case <-ctx.Done():
			logger.Info().Msg("shutdown requested")
			break loop
		case <-ticker.C:
			if !application.Scheduler().IsRunning() {
				runErr = fmt.Errorf("scheduler stopped unexpectedly")
				logger.Error().Err(runErr).Msg("liveness check failed")
				break loop
			}
			if !daemon {
				printStatusLine(ctx, application)
			}
		}
	}

	return errors.Join(runErr, application.Shutdown(context.Background()))
}

func printStatusLine(ctx context.Context, application *app.Application) {
	status, err := application.Coordinator().GetStatus(ctx)
	if err != nil {
		logger.Warn().Err(err).Msg("status unavailable")
		return
	}
	line := fmt.Sprintf("[%s] scheduler running=%t", status.Timestamp.Format("15:04:05"), status.SchedulerRunning)
	for id, job := range status.Jobs {
		next := "-"
		if job.NextRun != nil {
			next = job.NextRun.Format(time.RFC3339)
		}
		line += fmt.Sprintf(" | %s %s next=%s", id, job.Status, next)
	}
	fmt.Println(line)
}
