// Package cmd defines and implements the CLI commands for the poemcrawler executable.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/poem-crawler/internal/config"
	"github.com/JakeFAU/poem-crawler/internal/logging"
)

// envKeyType is the key for storing the runtime environment in the context.
type envKeyType struct{}

// runtimeEnv is what PersistentPreRunE hands to every subcommand.
type runtimeEnv struct {
	cfg    config.Config
	logger *zap.Logger
}

type rootOptions struct {
	cfgFile  string
	logLevel string
}

// newRootCmd creates and configures the root command.
func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:   "poemcrawler",
		Short: "Crawls Su Shi's poems from gushiwen.cn into text files.",
		Long: `poemcrawler walks the paginated gushiwen.cn listing of Su Shi's poems,
saves each poem's text to <output>/<title>/text.txt and records every saved
title in a progress log so an interrupted crawl resumes after the last poem.`,
		SilenceUsage:  true,
		SilenceErrors: true,

		// Runs before every subcommand: load config, build the logger.
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(opts.cfgFile)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if opts.logLevel != "" {
				cfg.Logging.Level = opts.logLevel
			}
			logger, err := logging.New(cfg.Logging.Development, logging.WithLevel(cfg.Logging.Level))
			if err != nil {
				return fmt.Errorf("init logger: %w", err)
			}
			ctx := context.WithValue(cmd.Context(), envKeyType{}, &runtimeEnv{cfg: cfg, logger: logger})
			cmd.SetContext(ctx)
			return nil
		},

		PersistentPostRun: func(cmd *cobra.Command, _ []string) {
			if env, err := resolveEnv(cmd.Context()); err == nil {
				_ = env.logger.Sync()
			}
		},
	}

	cmd.PersistentFlags().StringVar(&opts.cfgFile, "config", "", "config file (YAML); POEMS_* env vars override it")
	cmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "minimum log level (debug, info, warn, error)")

	cmd.AddCommand(newCrawlCmd())
	cmd.AddCommand(newResumePointCmd())
	cmd.AddCommand(newLogCmd())

	return cmd
}

func resolveEnv(ctx context.Context) (*runtimeEnv, error) {
	if ctx == nil {
		return nil, errors.New("command context not initialized")
	}
	env, ok := ctx.Value(envKeyType{}).(*runtimeEnv)
	if !ok || env == nil {
		return nil, errors.New("command environment not initialized")
	}
	return env, nil
}

// Execute is the main entry point. It exits with status 1 on failure.
func Execute() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
