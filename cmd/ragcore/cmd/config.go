package cmd

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/gravis-app/ragcore/configs"
	"github.com/gravis-app/ragcore/internal/config"
	"github.com/gravis-app/ragcore/internal/output"
)

func newConfigCmd(g *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Show or create configuration files",
		Long: `Manage ragcore configuration.

Precedence (lowest to highest):
  1. Built-in defaults
  2. User config (` + config.GetUserConfigPath() + `)
  3. Project config (.ragcore.yaml)
  4. Environment variables (RAGCORE_*)`,
	}

	cmd.AddCommand(newConfigShowCmd(g))
	cmd.AddCommand(newConfigInitCmd(g))
	cmd.AddCommand(newConfigPathCmd())

	return cmd
}

func newConfigShowCmd(g *globalOptions) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := g.loadConfig()
			if err != nil {
				return err
			}
			if asJSON {
				return output.New(cmd.OutOrStdout(), true).JSON(cfg)
			}
			data, err := yaml.Marshal(cfg)
			if err != nil {
				return fmt.Errorf("failed to marshal config: %w", err)
			}
			_, err = cmd.OutOrStdout().Write(data)
			return err
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Output as JSON")
	return cmd
}

func newConfigInitCmd(g *globalOptions) *cobra.Command {
	var (
		user  bool
		force bool
		full  bool
	)

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a configuration file with default values",
		Long: `Write a commented configuration template to .ragcore.yaml in the
project directory, or to the user config file with --user. With --full the
effective configuration is written instead of the template. An existing
file is kept unless --force is given, in which case a timestamped backup
is made.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			path := filepath.Join(g.dir, ".ragcore.yaml")
			if user {
				path = config.GetUserConfigPath()
			}
			out := output.New(cmd.OutOrStdout(), g.noColor)
			if fileExists(path) && !force {
				out.Warningf("%s already exists (use --force to overwrite)", path)
				return nil
			}
			if full {
				cfg, err := g.loadConfig()
				if err != nil {
					return err
				}
				if err := cfg.WriteYAML(path); err != nil {
					return err
				}
			} else if err := config.WriteFile(path, []byte(configs.ConfigTemplate)); err != nil {
				return err
			}
			out.Successf("wrote %s", path)
			return nil
		},
	}

	cmd.Flags().BoolVar(&user, "user", false, "Write the user config instead of the project config")
	cmd.Flags().BoolVar(&force, "force", false, "Overwrite an existing file")
	cmd.Flags().BoolVar(&full, "full", false, "Write the effective configuration instead of the template")
	return cmd
}

func newConfigPathCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "path",
		Short: "Print the user config file path",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, err := fmt.Fprintln(cmd.OutOrStdout(), config.GetUserConfigPath())
			return err
		},
	}
}
