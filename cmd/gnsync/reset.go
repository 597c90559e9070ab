package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/graphnode/gnsync/internal/ui"
)

var resetCmd = &cobra.Command{
	Use:     "reset",
	GroupID: "maint",
	Short:   "Erase every local note, folder, thread and queued operation",
	Long: `Erase every local note, folder, thread and queued operation.

Nothing is sent to the remote: queued changes that were not yet delivered
are lost. Run 'gnsync pull' afterwards to repopulate notes from the remote.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		yes, _ := cmd.Flags().GetBool("yes")
		if !yes {
			if !ui.IsTerminal(os.Stdin) {
				return fmt.Errorf("refusing to reset without --yes when stdin is not a terminal")
			}
			ok, err := ui.Confirm("Erase all local data?", "Undelivered changes in the outbox will be lost.")
			if err != nil {
				return err
			}
			if !ok {
				fmt.Fprintln(cmd.OutOrStdout(), "Aborted")
				return nil
			}
		}

		return withApp(cmd, func(ctx context.Context, a *app) error {
			dropped, err := a.repos.Reset(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s Local store cleared (%d queued operation(s) dropped)\n",
				ui.RenderPass("✓"), dropped)
			return nil
		})
	},
}

func init() {
	resetCmd.Flags().BoolP("yes", "y", false, "Do not ask for confirmation")
	rootCmd.AddCommand(resetCmd)
}
