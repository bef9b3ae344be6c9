package main

import (
	"errors"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/aschepis/backscratcher/llmrt/calllog"
)

var errCallLogDisabled = errors.New("call logging is disabled in the configuration")

func logsCmd(global *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "logs",
		Short: "Inspect and prune the call log",
	}
	cmd.AddCommand(logsStatsCmd(global), logsListCmd(global), logsCleanupCmd(global))
	return cmd
}

func logsStatsCmd(global *globalFlags) *cobra.Command {
	var since time.Duration
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show aggregate statistics for recent calls",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp(cmd.Context(), global, appOptions{})
			if err != nil {
				return err
			}
			defer a.close()
			if a.store == nil {
				return errCallLogDisabled
			}

			stats, err := a.store.GetStatistics(cmd.Context(), time.Now().Add(-since), time.Time{})
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintf(w, "Calls:\t%d\n", stats.TotalCalls)
			fmt.Fprintf(w, "Conversations:\t%d\n", stats.UniqueConversations)
			fmt.Fprintf(w, "Tokens:\t%d\n", stats.TotalTokens)
			fmt.Fprintf(w, "Cost:\t$%.4f\n", stats.TotalCost)
			fmt.Fprintf(w, "Avg duration:\t%s\n", stats.AvgDuration.Round(time.Millisecond))
			fmt.Fprintf(w, "Errors:\t%d (%.1f%%)\n", stats.ErrorCount, stats.ErrorRate*100)
			return w.Flush()
		},
	}
	cmd.Flags().DurationVar(&since, "since", 24*time.Hour, "How far back to aggregate")
	return cmd
}

func logsListCmd(global *globalFlags) *cobra.Command {
	var (
		since          time.Duration
		limit          int
		conversationID string
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List recent calls",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp(cmd.Context(), global, appOptions{})
			if err != nil {
				return err
			}
			defer a.close()
			if a.store == nil {
				return errCallLogDisabled
			}

			ctx := cmd.Context()
			var calls []*calllog.CallLog
			if conversationID != "" {
				calls, err = a.store.GetByConversation(ctx, conversationID)
			} else {
				now := time.Now()
				calls, err = a.store.GetByTimeRange(ctx, now.Add(-since), now, limit)
			}
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "TIME\tPROVIDER\tMODEL\tTOKENS\tDURATION\tSTATUS\tCONVERSATION")
			for _, c := range calls {
				status := "ok"
				if c.HasError {
					status = "error"
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\t%s\t%s\n",
					c.Timestamp.Local().Format(time.DateTime),
					c.Provider,
					c.Model,
					c.Usage.TotalTokens,
					c.Duration.Round(time.Millisecond),
					status,
					c.ConversationID,
				)
			}
			return w.Flush()
		},
	}
	cmd.Flags().DurationVar(&since, "since", 24*time.Hour, "How far back to list")
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Maximum number of calls (0 for all)")
	cmd.Flags().StringVar(&conversationID, "conversation", "", "Only list calls from this conversation")
	return cmd
}

func logsCleanupCmd(global *globalFlags) *cobra.Command {
	var days int
	cmd := &cobra.Command{
		Use:   "cleanup",
		Short: "Delete calls older than the retention period",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp(cmd.Context(), global, appOptions{})
			if err != nil {
				return err
			}
			defer a.close()
			if a.store == nil {
				return errCallLogDisabled
			}

			if days == 0 {
				days = a.cfg.CallLog.RetentionDays
			}
			deleted, err := a.store.CleanupOldLogs(cmd.Context(), days)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Deleted %d calls older than %d days\n", deleted, days)
			return nil
		},
	}
	cmd.Flags().IntVar(&days, "days", 0, "Retention in days (defaults to call_log.retention_days)")
	return cmd
}
