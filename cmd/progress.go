package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/poem-crawler/internal/progresslog"
)

func newResumePointCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "resume-point",
		Short: "Prints the title the next crawl resumes after",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			env, err := resolveEnv(cmd.Context())
			if err != nil {
				return err
			}
			title, ok, err := progresslog.ReadLast(env.cfg.ProgressLog.Path)
			if err != nil {
				return fmt.Errorf("read resume point: %w", err)
			}
			if !ok {
				fmt.Fprintln(cmd.OutOrStdout(), "No previous progress; the next crawl starts fresh.")
				return nil
			}
			fmt.Fprintln(cmd.OutOrStdout(), title)
			return nil
		},
	}
}

func newLogCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "log",
		Short: "Lists every poem recorded in the progress log, oldest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			env, err := resolveEnv(cmd.Context())
			if err != nil {
				return err
			}
			titles, err := progresslog.Markers(env.cfg.ProgressLog.Path)
			if err != nil {
				return fmt.Errorf("read progress log: %w", err)
			}
			out := cmd.OutOrStdout()
			for i, title := range titles {
				fmt.Fprintf(out, "[%d] %s\n", i+1, title)
			}
			fmt.Fprintf(out, "%d poems recorded in %s\n", len(titles), env.cfg.ProgressLog.Path)
			return nil
		},
	}
}
