package cmd

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/otherjamesbrown/relief/config"
)

// ConfigCommandDeps holds the dependencies for config commands.
type ConfigCommandDeps struct {
	LoadConfig func() (*config.Config, error)
	ConfigPath func() (string, error)
}

// DefaultConfigDeps returns the default dependencies for production use.
func DefaultConfigDeps() *ConfigCommandDeps {
	return &ConfigCommandDeps{
		LoadConfig: config.LoadConfig,
		ConfigPath: config.ConfigPath,
	}
}

type configInitOptions struct {
	databaseURL string
	backend     string
	baseURL     string
	force       bool
}

// NewConfigCommand creates the config command group.
func NewConfigCommand(deps *ConfigCommandDeps) *cobra.Command {
	if deps == nil {
		deps = DefaultConfigDeps()
	}

	cmd := &cobra.Command{
		Use:   "config",
		Short: "Show or create the relief configuration",
		Long: `Show or create the relief configuration.

Configuration is read from ~/.relief/config.yaml (or $RELIEF_CONFIG_DIR),
then overridden by RELIEF_* environment variables and DATABASE_URL, then by
command-line flags.`,
	}

	cmd.AddCommand(newConfigShowCommand(deps))
	cmd.AddCommand(newConfigPathCommand(deps))
	cmd.AddCommand(newConfigInitCommand(deps))
	return cmd
}

func newConfigShowCommand(deps *ConfigCommandDeps) *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration with secrets masked",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := deps.LoadConfig()
			if err != nil {
				return fmt.Errorf("loading configuration: %w", err)
			}
			redacted := cfg.Redacted()
			return writeOutput(cmd.OutOrStdout(), cfg.OutputFormat, redacted, func(w io.Writer) error {
				enc := yaml.NewEncoder(w)
				defer enc.Close()
				return enc.Encode(redacted)
			})
		},
	}
}

func newConfigPathCommand(deps *ConfigCommandDeps) *cobra.Command {
	return &cobra.Command{
		Use:   "path",
		Short: "Print the config file path",
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := deps.ConfigPath()
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), path)
			return nil
		},
	}
}

func newConfigInitCommand(deps *ConfigCommandDeps) *cobra.Command {
	opts := &configInitOptions{}

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a config file with default values",
		Long: `Write a config file with default values.

An existing file is left untouched unless --force is given.`,
		Example: `  relief config init
  relief config init --database-url postgres://relief@localhost:5432/relief
  relief config init --backend remote --base-url https://classifier.internal --force`,
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := deps.ConfigPath()
			if err != nil {
				return err
			}
			if _, err := os.Stat(path); err == nil && !opts.force {
				return fmt.Errorf("config file %s already exists (use --force to overwrite)", path)
			}

			cfg := config.DefaultConfig()
			cfg.Database.URL = opts.databaseURL
			if opts.backend != "" {
				cfg.Classifier.Backend = opts.backend
			}
			cfg.Classifier.BaseURL = opts.baseURL
			if err := cfg.Validate(); err != nil {
				return err
			}

			if err := config.SaveConfigTo(cfg, path); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", colorize(colorGreen, "Wrote"), path)
			return nil
		},
	}

	cmd.Flags().StringVar(&opts.databaseURL, "database-url", "", "PostgreSQL connection URL")
	cmd.Flags().StringVar(&opts.backend, "backend", "", "Classifier backend: rules or remote")
	cmd.Flags().StringVar(&opts.baseURL, "base-url", "", "Remote classifier base URL")
	cmd.Flags().BoolVar(&opts.force, "force", false, "Overwrite an existing config file")
	return cmd
}
