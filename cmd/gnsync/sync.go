package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/graphnode/gnsync/internal/reachability"
	"github.com/graphnode/gnsync/internal/syncer"
	"github.com/graphnode/gnsync/internal/ui"
)

var syncCmd = &cobra.Command{
	Use:     "sync",
	GroupID: "sync",
	Short:   "Run sync cycles now",
	Long: `Run one sync cycle against the remote and report the result.

A cycle resets operations stuck in processing, then sends up to
sync.batch_limit due operations in order. With --drain, cycles repeat
until nothing due is left or an operation fails.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		drain, _ := cmd.Flags().GetBool("drain")
		limit, _ := cmd.Flags().GetInt("limit")

		client, err := newRemote()
		if err != nil {
			return err
		}
		return withApp(cmd, func(ctx context.Context, a *app) error {
			scheduler, err := newScheduler(a, client, nil)
			if err != nil {
				return err
			}

			var total syncer.Result
			for {
				res, err := scheduler.SyncOnce(ctx, limit)
				if err != nil {
					return err
				}
				total.Recovered += res.Recovered
				total.Attempted += res.Attempted
				total.Succeeded += res.Succeeded
				total.Failed += res.Failed
				total.Pulled += res.Pulled
				total.Duration += res.Duration

				if !drain || res.Attempted == 0 || res.Failed > 0 {
					break
				}
			}

			printSyncResult(cmd, total)
			if total.Failed > 0 {
				return fmt.Errorf("%d operation(s) failed and will be retried", total.Failed)
			}
			return nil
		})
	},
}

var pullCmd = &cobra.Command{
	Use:     "pull",
	GroupID: "sync",
	Short:   "Fetch remote notes into the local store",
	Long: `Fetch every remote note and write it locally.

Notes that still have a queued operation are skipped so unsent local
edits are never overwritten.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newRemote()
		if err != nil {
			return err
		}
		return withApp(cmd, func(ctx context.Context, a *app) error {
			puller := syncer.NewPuller(client, a.repos.Notes, logger.Logger)
			n, err := puller.PullNotes(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s Pulled %d note(s)\n", ui.RenderPass("✓"), n)
			return nil
		})
	},
}

var statusCmd = &cobra.Command{
	Use:     "status",
	GroupID: "sync",
	Short:   "Show store, queue and remote status",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app) error {
			out := cmd.OutOrStdout()

			fmt.Fprintf(out, "\n%s gnsync status\n\n", ui.RenderAccent("●"))
			fmt.Fprintf(out, "Database: %s", a.db.Path())
			if info, err := os.Stat(a.db.Path()); err == nil {
				fmt.Fprintf(out, " %s", ui.RenderMuted("("+ui.FormatBytes(info.Size())+")"))
			}
			fmt.Fprintln(out)

			for _, table := range []string{"notes", "folders", "threads"} {
				n, err := a.db.Count(ctx, table)
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "%-9s %d\n", table+":", n)
			}

			stats, err := a.outbox.Stats(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "\n%s\n", ui.RenderBold("Outbox"))
			printOutboxStats(cmd, stats)

			fmt.Fprintf(out, "\n%s\n", ui.RenderBold("Remote"))
			if cfg.Remote.BaseURL == "" {
				fmt.Fprintf(out, "%s not configured\n", ui.RenderWarn("⚠"))
				fmt.Fprintln(out)
				return nil
			}
			client, err := newRemote()
			if err != nil {
				return err
			}
			monitor, err := reachability.New(client, reachability.Config{
				Interval: cfg.Reachability.Interval,
				Timeout:  cfg.Reachability.Timeout,
			})
			if err != nil {
				return err
			}
			state := ui.RenderFail("unreachable")
			if monitor.Probe(ctx) {
				state = ui.RenderPass("reachable")
			}
			fmt.Fprintf(out, "%s %s\n\n", client.BaseURL(), state)
			return nil
		})
	},
}

func printSyncResult(cmd *cobra.Command, res syncer.Result) {
	out := cmd.OutOrStdout()
	mark := ui.RenderPass("✓")
	if res.Failed > 0 {
		mark = ui.RenderWarn("⚠")
	}
	fmt.Fprintf(out, "%s Sync finished in %v\n", mark, res.Duration.Round(time.Millisecond))
	fmt.Fprintf(out, "   Sent:      %d/%d\n", res.Succeeded, res.Attempted)
	if res.Failed > 0 {
		fmt.Fprintf(out, "   Failed:    %d\n", res.Failed)
	}
	if res.Recovered > 0 {
		fmt.Fprintf(out, "   Recovered: %d\n", res.Recovered)
	}
	if res.Pulled > 0 {
		fmt.Fprintf(out, "   Pulled:    %d\n", res.Pulled)
	}
}

func init() {
	syncCmd.Flags().Bool("drain", false, "Repeat cycles until nothing due is left")
	syncCmd.Flags().Int("limit", 0, "Operations per cycle (default sync.batch_limit)")

	rootCmd.AddCommand(syncCmd, pullCmd, statusCmd)
}
