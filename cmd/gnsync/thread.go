package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/graphnode/gnsync/internal/store/schema"
	"github.com/graphnode/gnsync/internal/ui"
)

var threadCmd = &cobra.Command{
	Use:     "thread",
	GroupID: "entities",
	Short:   "Work with chat threads",
	Long: `Work with chat threads.

Creating a thread and appending messages are local only. Title changes and
deletes are queued for the remote conversation with the same id.`,
}

var threadCreateCmd = &cobra.Command{
	Use:   "create <title>",
	Short: "Create a thread",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app) error {
			thread, err := a.repos.Threads.Create(ctx, args[0], nil)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s Created thread %s\n", ui.RenderPass("✓"), thread.ID)
			return nil
		})
	},
}

var threadListCmd = &cobra.Command{
	Use:   "list",
	Short: "List threads, most recently updated first",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		format, _ := cmd.Flags().GetString("output")
		if err := validateFormat(format); err != nil {
			return err
		}
		return withApp(cmd, func(ctx context.Context, a *app) error {
			threads, err := a.repos.Threads.List(ctx)
			if err != nil {
				return err
			}
			return printThreads(cmd, format, threads)
		})
	},
}

var threadSearchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Find threads with a message containing query",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		format, _ := cmd.Flags().GetString("output")
		if err := validateFormat(format); err != nil {
			return err
		}
		return withApp(cmd, func(ctx context.Context, a *app) error {
			threads, err := a.repos.Threads.Search(ctx, args[0])
			if err != nil {
				return err
			}
			return printThreads(cmd, format, threads)
		})
	},
}

var threadShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Print a thread and its messages",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		format, _ := cmd.Flags().GetString("output")
		if err := validateFormat(format); err != nil {
			return err
		}
		return withApp(cmd, func(ctx context.Context, a *app) error {
			thread, err := a.repos.Threads.Get(ctx, args[0])
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if done, err := writeStructured(out, format, thread); done {
				return err
			}
			fmt.Fprintf(out, "%s %s\n\n", ui.RenderAccent(thread.ID), ui.RenderBold(thread.Title))
			for _, m := range thread.Messages {
				fmt.Fprintf(out, "%s %s\n%s\n\n",
					ui.RenderBold(string(m.Role)), ui.RenderMuted(m.TS.Format(time.RFC3339)), m.Content)
			}
			return nil
		})
	},
}

var threadTitleCmd = &cobra.Command{
	Use:   "title <id> <title>",
	Short: "Change a thread's title",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app) error {
			thread, err := a.repos.Threads.UpdateTitle(ctx, args[0], args[1])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s Retitled thread %s\n", ui.RenderPass("✓"), thread.ID)
			return nil
		})
	},
}

var threadAppendCmd = &cobra.Command{
	Use:   "append <id> [content]",
	Short: "Append a message to a thread",
	Args:  cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		role, _ := cmd.Flags().GetString("role")
		content, err := readContent(cmd, args[1:])
		if err != nil {
			return err
		}

		return withApp(cmd, func(ctx context.Context, a *app) error {
			thread, err := a.repos.Threads.AppendMessage(ctx, args[0], schema.Message{
				Role:    schema.Role(role),
				Content: content,
			})
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s Thread %s now has %d message(s)\n",
				ui.RenderPass("✓"), thread.ID, len(thread.Messages))
			return nil
		})
	},
}

var threadDeleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete a thread",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app) error {
			if err := a.repos.Threads.Delete(ctx, args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s Deleted thread %s\n", ui.RenderPass("✓"), args[0])
			return nil
		})
	},
}

func printThreads(cmd *cobra.Command, format string, threads []*schema.Thread) error {
	out := cmd.OutOrStdout()
	if done, err := writeStructured(out, format, threads); done {
		return err
	}
	if len(threads) == 0 {
		fmt.Fprintln(out, ui.RenderMuted("No threads"))
		return nil
	}

	now := time.Now()
	rows := make([][]string, 0, len(threads))
	for _, t := range threads {
		rows = append(rows, []string{t.ID, ui.Truncate(t.Title, 40), fmt.Sprint(len(t.Messages)), ui.FormatAge(t.UpdatedAt, now)})
	}
	fmt.Fprintln(out, ui.Table([]string{"ID", "TITLE", "MESSAGES", "UPDATED"}, rows))
	return nil
}

func init() {
	for _, c := range []*cobra.Command{threadListCmd, threadSearchCmd, threadShowCmd} {
		c.Flags().StringP("output", "o", formatTable, "Output format: table, json or yaml")
	}
	threadAppendCmd.Flags().String("role", string(schema.RoleUser), "Message role: user, assistant or system")
	threadAppendCmd.Flags().String("file", "", "Read content from a file")

	threadCmd.AddCommand(threadCreateCmd, threadListCmd, threadSearchCmd, threadShowCmd,
		threadTitleCmd, threadAppendCmd, threadDeleteCmd)
	rootCmd.AddCommand(threadCmd)
}
