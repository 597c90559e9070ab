package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/graphnode/gnsync/internal/config"
	"github.com/graphnode/gnsync/internal/ui"
)

var configCmd = &cobra.Command{
	Use:     "config",
	GroupID: "maint",
	Short:   "Create or show the configuration",
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a config file with every default",
	Args:  cobra.NoArgs,
	// The file may not exist yet, so skip the root config loading.
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return nil
	},
	PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
		return nil
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		force, _ := cmd.Flags().GetBool("force")

		path := configFile
		if path == "" {
			var err error
			path, err = config.DefaultPath()
			if err != nil {
				return err
			}
		}
		if err := config.WriteDefault(path, force); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s Wrote %s\n", ui.RenderPass("✓"), path)
		return nil
	},
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the merged configuration",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		format, _ := cmd.Flags().GetString("output")
		if format == formatTable {
			format = formatYAML
		}
		if err := validateFormat(format); err != nil {
			return err
		}

		shown := *cfg
		if shown.Remote.Token != "" {
			shown.Remote.Token = "********"
		}
		out := cmd.OutOrStdout()
		if file := loader.File(); file != "" {
			fmt.Fprintf(out, "# %s\n", file)
		}
		_, err := writeStructured(out, format, shown)
		return err
	},
}

func init() {
	configInitCmd.Flags().Bool("force", false, "Overwrite an existing file")
	configShowCmd.Flags().StringP("output", "o", formatYAML, "Output format: json or yaml")

	configCmd.AddCommand(configInitCmd, configShowCmd)
	rootCmd.AddCommand(configCmd)
}
