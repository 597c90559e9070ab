package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/graphnode/gnsync/internal/outbox"
	"github.com/graphnode/gnsync/internal/store/schema"
	"github.com/graphnode/gnsync/internal/ui"
)

var outboxCmd = &cobra.Command{
	Use:     "outbox",
	GroupID: "sync",
	Short:   "Inspect and repair the queue of pending remote operations",
}

var outboxListCmd = &cobra.Command{
	Use:   "list",
	Short: "List queued operations in dispatch order",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		status, _ := cmd.Flags().GetString("status")
		entity, _ := cmd.Flags().GetString("entity")
		typ, _ := cmd.Flags().GetString("type")
		limit, _ := cmd.Flags().GetInt("limit")
		format, _ := cmd.Flags().GetString("output")
		if err := validateFormat(format); err != nil {
			return err
		}
		if typ != "" && !schema.OpType(typ).IsValid() {
			return fmt.Errorf("unknown operation type %q", typ)
		}
		if status != "" && status != string(schema.StatusPending) && status != string(schema.StatusProcessing) {
			return fmt.Errorf("unknown status %q (want pending or processing)", status)
		}

		return withApp(cmd, func(ctx context.Context, a *app) error {
			ops, err := a.outbox.List(ctx, outbox.ListFilter{
				Status:   schema.OpStatus(status),
				EntityID: entity,
				Type:     schema.OpType(typ),
				Limit:    limit,
			})
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if done, err := writeStructured(out, format, ops); done {
				return err
			}
			if len(ops) == 0 {
				fmt.Fprintln(out, ui.RenderMuted("Outbox is empty"))
				return nil
			}

			now := time.Now()
			rows := make([][]string, 0, len(ops))
			for _, op := range ops {
				lastErr := op.LastError
				if lastErr != "" {
					lastErr = ui.RenderFail(ui.Truncate(lastErr, 40))
				}
				rows = append(rows, []string{
					op.OpID, string(op.Type), op.EntityID, string(op.Status),
					fmt.Sprint(op.RetryCount), ui.FormatAge(op.NextRetryAt, now), lastErr,
				})
			}
			fmt.Fprintln(out, ui.Table([]string{"OP", "TYPE", "ENTITY", "STATUS", "RETRIES", "DUE", "LAST ERROR"}, rows))
			return nil
		})
	},
}

var outboxStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Summarize the queue",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		format, _ := cmd.Flags().GetString("output")
		if err := validateFormat(format); err != nil {
			return err
		}
		return withApp(cmd, func(ctx context.Context, a *app) error {
			stats, err := a.outbox.Stats(ctx)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if done, err := writeStructured(out, format, stats); done {
				return err
			}
			printOutboxStats(cmd, stats)
			return nil
		})
	},
}

var outboxRetryCmd = &cobra.Command{
	Use:   "retry [op-id]",
	Short: "Make pending operations due now (all when no id is given)",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		opID := ""
		if len(args) == 1 {
			opID = args[0]
		}
		return withApp(cmd, func(ctx context.Context, a *app) error {
			n, err := a.outbox.RetryNow(ctx, opID)
			if err != nil {
				return err
			}
			if opID != "" && n == 0 {
				return fmt.Errorf("no pending operation %s", opID)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %d operation(s) due now\n", ui.RenderPass("✓"), n)
			return nil
		})
	},
}

var outboxPurgeCmd = &cobra.Command{
	Use:   "purge <op-id>",
	Short: "Drop an operation without sending it",
	Long: `Drop an operation without sending it.

The local change it carried stays in the local store but will never reach
the remote. Use this only for an operation the remote keeps rejecting.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app) error {
			if err := a.outbox.Purge(ctx, args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s Purged %s\n", ui.RenderPass("✓"), args[0])
			return nil
		})
	},
}

func printOutboxStats(cmd *cobra.Command, stats outbox.Stats) {
	out := cmd.OutOrStdout()
	now := time.Now()

	fmt.Fprintf(out, "Pending:    %d\n", stats.Pending)
	fmt.Fprintf(out, "Processing: %d\n", stats.Processing)
	fmt.Fprintf(out, "Due now:    %d\n", stats.Due)
	failing := fmt.Sprint(stats.Failing)
	if stats.Failing > 0 {
		failing = ui.RenderWarn(failing)
	}
	fmt.Fprintf(out, "Failing:    %s\n", failing)
	if stats.OldestAt != nil {
		fmt.Fprintf(out, "Oldest:     %s\n", ui.FormatAge(*stats.OldestAt, now))
	}
	if stats.NextDueAt != nil {
		fmt.Fprintf(out, "Next due:   %s\n", ui.FormatAge(*stats.NextDueAt, now))
	}
}

func init() {
	outboxListCmd.Flags().String("status", "", "Filter by status: pending or processing")
	outboxListCmd.Flags().String("entity", "", "Filter by entity id")
	outboxListCmd.Flags().String("type", "", "Filter by operation type (e.g. note.update)")
	outboxListCmd.Flags().Int("limit", 0, "Maximum number of operations (0 = all)")
	outboxListCmd.Flags().StringP("output", "o", formatTable, "Output format: table, json or yaml")
	outboxStatsCmd.Flags().StringP("output", "o", formatTable, "Output format: table, json or yaml")

	outboxCmd.AddCommand(outboxListCmd, outboxStatsCmd, outboxRetryCmd, outboxPurgeCmd)
	rootCmd.AddCommand(outboxCmd)
}
