// Package cli is the citadex command line: crawl a site, ask questions
// against the index, and run the re-ingestion worker.
package cli

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"citadex/internal/app"
	"citadex/internal/config"
	"citadex/internal/logger"
)

var rootCmd = &cobra.Command{
	Use:   "citadex",
	Short: "Crawl a site and answer questions from it with citations",
	Long: `citadex crawls one site, keeps a versioned vector index of its pages and
answers questions only from indexed content, citing every source.`,
	SilenceUsage: true,
}

// newApp builds a fully wired application. The returned func releases it.
var newApp = buildApp

func buildApp(ctx context.Context) (*app.App, func(), error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}
	slog.SetDefault(logger.New(os.Stderr, cfg.LogLevel))

	deps, err := app.Bootstrap(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}
	providers, err := app.NewProviders(ctx, cfg)
	if err != nil {
		deps.Close()
		return nil, nil, err
	}
	a, err := app.New(cfg, deps, providers)
	if err != nil {
		providers.Close()
		deps.Close()
		return nil, nil, err
	}

	cleanup := func() {
		if err := errors.Join(a.Close(), providers.Close(), deps.Close()); err != nil {
			slog.Warn("shutdown incomplete", "error", err)
		}
	}
	return a, cleanup, nil
}

// Execute runs the root command until it returns or the process is signalled.
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return rootCmd.ExecuteContext(ctx)
}
