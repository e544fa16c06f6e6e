package cmd

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newCrawlCmd() *cobra.Command {
	var seeds []string

	cmd := &cobra.Command{
		Use:   "crawl",
		Short: "Run one bounded crawl and exit",
		Long: `Seeds the frontier with the configured start URLs, crawls until the
frontier drains or the run budget (max steps / max duration) is spent, and
prints a summary. Safe to re-run: already-seen URLs are skipped.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runCrawlCommand(cmd, seeds)
		},
	}
	cmd.Flags().StringSliceVar(&seeds, "seed", nil, "seed URL (repeatable); merged with crawler.seeds from config")
	return cmd
}

func runCrawlCommand(cmd *cobra.Command, flagSeeds []string) error {
	appInstance, err := resolveApp(cmd.Context())
	if err != nil {
		return err
	}
	logger := appInstance.Logger

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	seeds := append([]string{}, appInstance.Config.Crawler.Seeds...)
	seeds = append(seeds, flagSeeds...)
	if len(seeds) == 0 {
		return errors.New("no seed URLs: set crawler.seeds or pass --seed")
	}

	admitted, err := appInstance.Orchestrator.Seed(ctx, seeds)
	if err != nil {
		return fmt.Errorf("seed frontier: %w", err)
	}
	logger.Info("starting crawl", zap.Int("seeds", len(seeds)), zap.Int("admitted", admitted))

	stats, err := appInstance.Orchestrator.Run(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("run crawl: %w", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(),
		"crawl finished: %d steps, %d tasks claimed, %d done, %d failed, %d skipped, %d pending (%.1fs)\n",
		stats.Steps,
		stats.TasksClaimed,
		stats.Frontier.Done,
		stats.Frontier.Failed,
		stats.Frontier.Skipped,
		stats.Frontier.Pending,
		stats.Elapsed.Seconds(),
	)
	return nil
}
