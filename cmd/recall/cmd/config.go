package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/Aman-CERP/recall/configs"
	"github.com/Aman-CERP/recall/internal/config"
)

func newConfigCmd(g *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage configuration",
		Long: `Manage recall configuration.

Configuration precedence (lowest to highest):
  1. Defaults
  2. User config (~/.config/recall/config.yaml)
  3. Project config (.recall.yaml)
  4. .env in the project directory
  5. Environment variables (RECALL_*)`,
		Example: `  # Write the defaults to .recall.yaml
  recall config init

  # Show the effective configuration
  recall config show --json`,
	}

	cmd.AddCommand(newConfigInitCmd(g))
	cmd.AddCommand(newConfigShowCmd(g))
	cmd.AddCommand(&cobra.Command{
		Use:   "path",
		Short: "Print user config file path",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, err := fmt.Fprintln(cmd.OutOrStdout(), config.GetUserConfigPath())
			return err
		},
	})

	return cmd
}

func newConfigInitCmd(g *globalOptions) *cobra.Command {
	var force, user bool

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a commented configuration file with the defaults",
		Long: `Write the commented default configuration to .recall.yaml in the
project directory, or to the user config file with --user.

An existing file is kept unless --force is set; it is then backed up to
<file>.bak.<timestamp> before being overwritten.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			out := g.writer(cmd)

			path := config.GetUserConfigPath()
			if !user {
				root, err := config.FindProjectRoot(g.dir)
				if err != nil {
					return err
				}
				path = filepath.Join(root, config.ProjectFileName)
			}

			if _, err := os.Stat(path); err == nil {
				if !force {
					out.Warningf("Configuration already exists: %s", path)
					out.Status("", "Use --force to overwrite")
					return nil
				}
				backup, err := config.Backup(path)
				if err != nil {
					return err
				}
				out.Statusf("", "Backed up to %s", backup)
			}

			if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
				return fmt.Errorf("failed to create config directory: %w", err)
			}
			if err := os.WriteFile(path, []byte(configs.ConfigTemplate), 0o644); err != nil {
				return fmt.Errorf("failed to write config file: %w", err)
			}
			out.Successf("Wrote %s", path)
			return nil
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "Overwrite an existing file")
	cmd.Flags().BoolVar(&user, "user", false, "Write the user config instead of the project config")

	return cmd
}

func newConfigShowCmd(g *globalOptions) *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show the effective configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, _, err := g.loadConfig()
			if err != nil {
				return err
			}
			if jsonOutput {
				return g.writer(cmd).JSON(cfg)
			}
			data, err := yaml.Marshal(cfg)
			if err != nil {
				return fmt.Errorf("failed to marshal config: %w", err)
			}
			_, err = cmd.OutOrStdout().Write(data)
			return err
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")

	return cmd
}
