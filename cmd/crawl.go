package cmd

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/poem-crawler/internal/app"
	"github.com/JakeFAU/poem-crawler/internal/config"
	"github.com/JakeFAU/poem-crawler/internal/crawler"
)

// crawlApp is the slice of *app.App the crawl command drives.
type crawlApp interface {
	Run(ctx context.Context) (crawler.Result, error)
	OutputLocation() string
	LogPath() string
	Close(ctx context.Context) error
}

// newApp is the application factory. It's a variable so tests can replace it.
var newApp = func(ctx context.Context, cfg config.Config, logger *zap.Logger) (crawlApp, error) {
	a, err := app.Build(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	return a, nil
}

// newCrawlCmd creates and configures the 'crawl' subcommand.
func newCrawlCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "crawl",
		Short: "Crawls the listing, resuming after the last saved poem",
		Long: `Reads the progress log, skips every listing entry up to and including the
last saved poem, then fetches and saves the remaining poems page by page.
SIGINT or SIGTERM aborts the run; poems already logged stay logged.`,
		Args: cobra.NoArgs,
		RunE: runCrawlCommand,
	}
}

func runCrawlCommand(cmd *cobra.Command, _ []string) error {
	env, err := resolveEnv(cmd.Context())
	if err != nil {
		return err
	}
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, env.cfg, env.logger)
	if err != nil {
		return fmt.Errorf("initialize crawler: %w", err)
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
		defer cancel()
		if cerr := a.Close(closeCtx); cerr != nil {
			env.logger.Warn("failed to close crawler services", zap.Error(cerr))
		}
	}()

	result, err := a.Run(ctx)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			env.logger.Warn("crawl interrupted", zap.Int("saved", result.Saved))
		} else {
			env.logger.Error("crawl failed", zap.Int("saved", result.Saved), zap.Error(err))
		}
		return fmt.Errorf("run crawler: %w", err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Crawl complete: %d new poems saved across %d pages.\n", result.Saved, result.Pages)
	if result.Empty > 0 {
		fmt.Fprintf(out, "Poems without content: %d\n", result.Empty)
	}
	fmt.Fprintf(out, "Output: %s\n", a.OutputLocation())
	fmt.Fprintf(out, "Progress log: %s\n", a.LogPath())
	return nil
}
