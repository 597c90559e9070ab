package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/graphnode/gnsync/internal/repo"
	"github.com/graphnode/gnsync/internal/ui"
)

var noteCmd = &cobra.Command{
	Use:     "note",
	GroupID: "entities",
	Short:   "Create, list, edit, move and delete notes",
}

var noteCreateCmd = &cobra.Command{
	Use:   "create [content]",
	Short: "Create a note",
	Long: `Create a note from the argument, --file, or stdin ("-").

The title is the first line of the content with any leading # markers
removed. The note is queued for creation on the remote.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		content, err := readContent(cmd, args)
		if err != nil {
			return err
		}
		folder, _ := cmd.Flags().GetString("folder")

		return withApp(cmd, func(ctx context.Context, a *app) error {
			note, err := a.repos.Notes.Create(ctx, content, optionalString(folder))
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s Created note %s %s\n",
				ui.RenderPass("✓"), note.ID, ui.RenderMuted("("+note.Title+")"))
			return nil
		})
	},
}

var noteListCmd = &cobra.Command{
	Use:   "list",
	Short: "List notes, most recently updated first",
	Long: `List notes, most recently updated first.

--since accepts a duration ("48h"), a date ("2024-05-01") or a phrase
such as "yesterday" or "3 days ago".`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		folder, _ := cmd.Flags().GetString("folder")
		root, _ := cmd.Flags().GetBool("root")
		since, _ := cmd.Flags().GetString("since")
		limit, _ := cmd.Flags().GetInt("limit")
		format, _ := cmd.Flags().GetString("output")
		if err := validateFormat(format); err != nil {
			return err
		}

		now := time.Now()
		updatedSince, err := parseSince(since, now)
		if err != nil {
			return err
		}

		return withApp(cmd, func(ctx context.Context, a *app) error {
			notes, err := a.repos.Notes.List(ctx, repo.ListNotesFilter{
				FolderID:     optionalString(folder),
				RootOnly:     root,
				UpdatedSince: updatedSince,
				Limit:        limit,
			})
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if done, err := writeStructured(out, format, notes); done {
				return err
			}
			if len(notes) == 0 {
				fmt.Fprintln(out, ui.RenderMuted("No notes"))
				return nil
			}

			rows := make([][]string, 0, len(notes))
			for _, n := range notes {
				folderID := "-"
				if n.FolderID != nil {
					folderID = *n.FolderID
				}
				rows = append(rows, []string{n.ID, ui.Truncate(n.Title, 40), folderID, ui.FormatAge(n.UpdatedAt, now)})
			}
			fmt.Fprintln(out, ui.Table([]string{"ID", "TITLE", "FOLDER", "UPDATED"}, rows))
			return nil
		})
	},
}

var noteShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Print a note",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		format, _ := cmd.Flags().GetString("output")
		if err := validateFormat(format); err != nil {
			return err
		}

		return withApp(cmd, func(ctx context.Context, a *app) error {
			note, err := a.repos.Notes.Get(ctx, args[0])
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if done, err := writeStructured(out, format, note); done {
				return err
			}
			ops, err := a.outbox.ForEntity(ctx, a.db.RawDB(), note.ID)
			if err != nil {
				return err
			}

			fmt.Fprintf(out, "%s %s\n", ui.RenderAccent(note.ID), ui.RenderBold(note.Title))
			if note.FolderID != nil {
				fmt.Fprintf(out, "Folder:  %s\n", *note.FolderID)
			}
			fmt.Fprintf(out, "Created: %s\n", note.CreatedAt.Format(time.RFC3339))
			fmt.Fprintf(out, "Updated: %s\n", note.UpdatedAt.Format(time.RFC3339))
			if len(ops) > 0 {
				types := make([]string, 0, len(ops))
				for _, op := range ops {
					types = append(types, string(op.Type))
				}
				fmt.Fprintf(out, "Queued:  %s\n", ui.RenderWarn(strings.Join(types, ", ")))
			}
			fmt.Fprintf(out, "\n%s\n", note.Content)
			return nil
		})
	},
}

var noteEditCmd = &cobra.Command{
	Use:   "edit <id> [content]",
	Short: "Replace a note's content",
	Args:  cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		content, err := readContent(cmd, args[1:])
		if err != nil {
			return err
		}

		return withApp(cmd, func(ctx context.Context, a *app) error {
			note, err := a.repos.Notes.Update(ctx, args[0], content)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s Updated note %s %s\n",
				ui.RenderPass("✓"), note.ID, ui.RenderMuted("("+note.Title+")"))
			return nil
		})
	},
}

var noteMoveCmd = &cobra.Command{
	Use:   "move <id> [folder-id]",
	Short: "Move a note into a folder, or to the root with --root",
	Args:  cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		root, _ := cmd.Flags().GetBool("root")
		var folderID *string
		switch {
		case root && len(args) == 2:
			return fmt.Errorf("give either a folder id or --root, not both")
		case root:
		case len(args) == 2:
			folderID = &args[1]
		default:
			return fmt.Errorf("missing folder id (use --root to move to the root)")
		}

		return withApp(cmd, func(ctx context.Context, a *app) error {
			note, err := a.repos.Notes.Move(ctx, args[0], folderID)
			if err != nil {
				return err
			}
			dest := "root"
			if note.FolderID != nil {
				dest = *note.FolderID
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s Moved note %s to %s\n", ui.RenderPass("✓"), note.ID, dest)
			return nil
		})
	},
}

var noteDeleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete a note",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app) error {
			if err := a.repos.Notes.Delete(ctx, args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s Deleted note %s\n", ui.RenderPass("✓"), args[0])
			return nil
		})
	},
}

// readContent takes content from the first argument ("-" reads stdin) or
// from --file.
func readContent(cmd *cobra.Command, args []string) (string, error) {
	file, _ := cmd.Flags().GetString("file")
	switch {
	case file != "" && len(args) > 0:
		return "", fmt.Errorf("give content either as an argument or with --file")
	case file != "":
		// #nosec G304 - controlled path from CLI
		data, err := os.ReadFile(file)
		if err != nil {
			return "", fmt.Errorf("failed to read %s: %w", file, err)
		}
		return string(data), nil
	case len(args) == 0:
		return "", fmt.Errorf("missing content (pass it as an argument, \"-\" for stdin, or --file)")
	case args[0] == "-":
		data, err := io.ReadAll(cmd.InOrStdin())
		if err != nil {
			return "", fmt.Errorf("failed to read stdin: %w", err)
		}
		return string(data), nil
	default:
		return args[0], nil
	}
}

func optionalString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func init() {
	noteCreateCmd.Flags().String("folder", "", "Folder id (default root)")
	noteCreateCmd.Flags().String("file", "", "Read content from a file")

	noteListCmd.Flags().String("folder", "", "Only notes directly in this folder")
	noteListCmd.Flags().Bool("root", false, "Only notes at the root")
	noteListCmd.Flags().String("since", "", "Only notes updated since (duration, date or phrase)")
	noteListCmd.Flags().Int("limit", 0, "Maximum number of notes (0 = all)")
	noteListCmd.Flags().StringP("output", "o", formatTable, "Output format: table, json or yaml")
	noteListCmd.MarkFlagsMutuallyExclusive("folder", "root")

	noteShowCmd.Flags().StringP("output", "o", formatTable, "Output format: table, json or yaml")

	noteEditCmd.Flags().String("file", "", "Read content from a file")

	noteMoveCmd.Flags().Bool("root", false, "Move the note to the root")

	noteCmd.AddCommand(noteCreateCmd, noteListCmd, noteShowCmd, noteEditCmd, noteMoveCmd, noteDeleteCmd)
	rootCmd.AddCommand(noteCmd)
}
