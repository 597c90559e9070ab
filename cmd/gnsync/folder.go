package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/graphnode/gnsync/internal/repo"
	"github.com/graphnode/gnsync/internal/store/schema"
	"github.com/graphnode/gnsync/internal/ui"
)

var folderCmd = &cobra.Command{
	Use:     "folder",
	GroupID: "entities",
	Short:   "Manage the folder tree",
	Long: `Manage the folder tree.

Folders are local only: creating, renaming or moving a folder queues
nothing for the remote. Deleting a folder deletes its whole subtree and
moves every note inside it to the root, queuing a move for each note.`,
}

var folderCreateCmd = &cobra.Command{
	Use:   "create <name>",
	Short: "Create a folder",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		parent, _ := cmd.Flags().GetString("parent")
		return withApp(cmd, func(ctx context.Context, a *app) error {
			folder, err := a.repos.Folders.Create(ctx, args[0], optionalString(parent))
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s Created folder %s %s\n",
				ui.RenderPass("✓"), folder.ID, ui.RenderMuted("("+folder.Name+")"))
			return nil
		})
	},
}

var folderListCmd = &cobra.Command{
	Use:   "list",
	Short: "Print the folder tree",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		format, _ := cmd.Flags().GetString("output")
		if err := validateFormat(format); err != nil {
			return err
		}

		return withApp(cmd, func(ctx context.Context, a *app) error {
			folders, err := a.repos.Folders.List(ctx)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if done, err := writeStructured(out, format, folders); done {
				return err
			}
			if len(folders) == 0 {
				fmt.Fprintln(out, ui.RenderMuted("No folders"))
				return nil
			}
			fmt.Fprint(out, renderFolderTree(folders))
			return nil
		})
	},
}

var folderRenameCmd = &cobra.Command{
	Use:   "rename <id> <name>",
	Short: "Rename a folder",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app) error {
			folder, err := a.repos.Folders.Update(ctx, args[0], repo.FolderUpdate{Name: &args[1]})
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s Renamed folder %s to %s\n", ui.RenderPass("✓"), folder.ID, folder.Name)
			return nil
		})
	},
}

var folderMoveCmd = &cobra.Command{
	Use:   "move <id> [parent-id]",
	Short: "Move a folder under another folder, or to the root with --root",
	Args:  cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		root, _ := cmd.Flags().GetBool("root")
		update := repo.FolderUpdate{SetParent: true}
		switch {
		case root && len(args) == 2:
			return fmt.Errorf("give either a parent id or --root, not both")
		case root:
		case len(args) == 2:
			update.ParentID = &args[1]
		default:
			return fmt.Errorf("missing parent id (use --root to move to the root)")
		}

		return withApp(cmd, func(ctx context.Context, a *app) error {
			folder, err := a.repos.Folders.Update(ctx, args[0], update)
			if err != nil {
				return err
			}
			dest := "root"
			if folder.ParentID != nil {
				dest = *folder.ParentID
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s Moved folder %s to %s\n", ui.RenderPass("✓"), folder.ID, dest)
			return nil
		})
	},
}

var folderDeleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete a folder and its subtree",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app) error {
			result, err := a.repos.Folders.Delete(ctx, args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s Deleted %d folder(s); %d note(s) moved to the root\n",
				ui.RenderPass("✓"), len(result.Folders), len(result.Notes))
			return nil
		})
	},
}

// renderFolderTree prints folders as an indented tree. Folders whose parent
// is missing are shown at the top level.
func renderFolderTree(folders []*schema.Folder) string {
	known := make(map[string]bool, len(folders))
	for _, f := range folders {
		known[f.ID] = true
	}
	children := make(map[string][]*schema.Folder)
	for _, f := range folders {
		parent := ""
		if f.ParentID != nil && known[*f.ParentID] {
			parent = *f.ParentID
		}
		children[parent] = append(children[parent], f)
	}

	type frame struct {
		folder *schema.Folder
		depth  int
	}
	var b strings.Builder
	var stack []frame
	push := func(parent string, depth int) {
		kids := children[parent]
		for i := len(kids) - 1; i >= 0; i-- {
			stack = append(stack, frame{kids[i], depth})
		}
	}
	push("", 0)
	for len(stack) > 0 {
		top := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		fmt.Fprintf(&b, "%s%s %s\n", strings.Repeat("  ", top.depth), top.folder.Name, ui.RenderMuted(top.folder.ID))
		push(top.folder.ID, top.depth+1)
	}
	return b.String()
}

func init() {
	folderCreateCmd.Flags().String("parent", "", "Parent folder id (default root)")
	folderListCmd.Flags().StringP("output", "o", formatTable, "Output format: table, json or yaml")
	folderMoveCmd.Flags().Bool("root", false, "Move the folder to the root")

	folderCmd.AddCommand(folderCreateCmd, folderListCmd, folderRenameCmd, folderMoveCmd, folderDeleteCmd)
	rootCmd.AddCommand(folderCmd)
}
