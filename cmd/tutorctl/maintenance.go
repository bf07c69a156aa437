package main

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/ashureev/tutorhub/internal/store"
	"github.com/spf13/cobra"
)

var cleanupInactiveCmd = &cobra.Command{
	Use:   "cleanup-inactive [days]",
	Short: "Delete sessions without progress older than the given days (default 30)",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		days := 30
		if len(args) == 1 {
			n, err := strconv.Atoi(args[0])
			if err != nil || n < 0 {
				return fmt.Errorf("days must be a non-negative integer, got %q", args[0])
			}
			days = n
		}
		return withStore(func(repo store.Repository) error {
			return cleanupInactive(cmd.Context(), repo, cmd.OutOrStdout(), days, time.Now())
		})
	},
}

var showStatsCmd = &cobra.Command{
	Use:   "show-stats",
	Short: "Show system statistics",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withStore(func(repo store.Repository) error {
			return showStats(cmd.Context(), repo, cmd.OutOrStdout())
		})
	},
}

func cleanupInactive(ctx context.Context, repo store.Repository, out io.Writer, days int, now time.Time) error {
	cutoff := now.AddDate(0, 0, -days)
	deleted, err := repo.DeleteStaleSessions(ctx, cutoff)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "Cleaned up %d inactive sessions\n", deleted)
	return nil
}

func showStats(ctx context.Context, repo store.Repository, out io.Writer) error {
	stats, err := repo.SystemStats(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintln(out, "System Statistics")
	fmt.Fprintln(out, "=================")
	fmt.Fprintf(out, "Total Users: %d\n", stats.TotalUsers)
	fmt.Fprintf(out, "Active Users: %d\n", stats.ActiveUsers)
	fmt.Fprintf(out, "Total Topics: %d\n", stats.TotalTopics)
	fmt.Fprintf(out, "Total Sessions: %d\n", stats.TotalSessions)
	fmt.Fprintf(out, "Average Completion Rate: %.2f%%\n", stats.AverageCompletionRate*100)
	return nil
}
