package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/rfpscout/rfpscout/internal/api"
	"github.com/rfpscout/rfpscout/internal/app"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP service with a background crawl loop",
		Long: `Starts the HTTP API (health, metrics, records, frontier stats, seeding)
and keeps a crawl loop running in the background: whenever the frontier has
work, it is processed under the configured run budget.`,
		RunE: runServeCommand,
	}
}

func runServeCommand(cmd *cobra.Command, _ []string) error {
	appInstance, err := resolveApp(cmd.Context())
	if err != nil {
		return err
	}
	logger := appInstance.Logger

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	server := api.NewServer(appInstance.Frontier, appInstance.Records, appInstance.Orchestrator, logger)
	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", appInstance.Config.API.Port),
		Handler:           server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go crawlLoop(ctx, appInstance, logger)

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http server listening", zap.String("addr", httpServer.Addr))
		if serr := httpServer.ListenAndServe(); serr != nil && !errors.Is(serr, http.ErrServerClosed) {
			errCh <- serr
		}
	}()

	select {
	case serr := <-errCh:
		return fmt.Errorf("http server: %w", serr)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if serr := httpServer.Shutdown(shutdownCtx); serr != nil {
		return fmt.Errorf("http shutdown: %w", serr)
	}
	logger.Info("http server stopped")
	return nil
}

// crawlLoop keeps draining the frontier while the service runs. Each pass
// honors the configured run budget; between passes it idles briefly so new
// seeds submitted over the API are picked up.
func crawlLoop(ctx context.Context, appInstance *app.App, logger *zap.Logger) {
	const idle = 2 * time.Second
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		stats, err := appInstance.Orchestrator.Run(ctx)
		if err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("crawl pass failed", zap.Error(err))
		}
		if stats.TasksClaimed > 0 {
			logger.Info("crawl pass finished",
				zap.Int("tasks_claimed", stats.TasksClaimed),
				zap.Int("done", stats.Frontier.Done),
			)
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(idle):
		}
	}
}
