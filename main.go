// Package main provides the relief CLI entry point.
// relief triages disaster reports: it classifies urgency, extracts contacts,
// locations and needs, and tracks each report through processing.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/otherjamesbrown/relief/cmd"
	"github.com/otherjamesbrown/relief/config"
	"github.com/otherjamesbrown/relief/pkg/auditlog"
	"github.com/otherjamesbrown/relief/pkg/buildinfo"
)

// Global flags and state.
var (
	cfgFile      string
	timeout      time.Duration
	outputFormat string
	debug        bool

	// cfg holds the loaded configuration.
	cfg *config.Config

	// Command logging state.
	cmdStartTime time.Time

	// cancelTimeout releases the per-command timeout.
	cancelTimeout context.CancelFunc
)

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "relief",
	Short: "Disaster report triage",
	Long: `relief triages disaster reports posted to social platforms.

Each report is normalized, classified for urgency and mined for names,
contacts, locations, help types and quantities. Reports move from Pending
through Processing to Completed or Failed.

COMMON WORKFLOWS:
  Intake:    relief report create --text "..." --platform Twitter
  Triage:    relief process all  |  relief serve
  Review:    relief report urgent  →  relief report show <id>
  Overview:  relief stats

Commands support --output json and --output yaml for structured data.
Without a database configured, reports live in memory for one command.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(c *cobra.Command, args []string) error {
		cmdStartTime = time.Now()

		// Skip initialization for commands that don't need it.
		if c.Name() == "version" || c.Name() == "help" || c.Name() == "completion" {
			return nil
		}

		var err error
		if cfgFile != "" {
			cfg, err = config.LoadConfigFrom(cfgFile)
		} else {
			cfg, err = config.LoadConfig()
		}
		if err != nil {
			return fmt.Errorf("loading configuration: %w", err)
		}

		if err := applyFlagOverrides(cfg); err != nil {
			return err
		}

		// serve runs until interrupted.
		if c.Name() != "serve" {
			ctx, cancel := context.WithTimeout(c.Context(), cfg.Timeout)
			cancelTimeout = cancel
			c.SetContext(ctx)
		}
		return nil
	},
	PersistentPostRunE: func(c *cobra.Command, args []string) error {
		if cancelTimeout != nil {
			cancelTimeout()
		}
		return nil
	},
}

// applyFlagOverrides copies explicitly set global flags into cfg.
func applyFlagOverrides(cfg *config.Config) error {
	if timeout < 0 {
		return fmt.Errorf("--timeout must be positive")
	}
	if timeout != 0 {
		cfg.Timeout = timeout
	}
	if outputFormat != "" {
		format := config.OutputFormat(strings.ToLower(outputFormat))
		if !format.IsValid() {
			return fmt.Errorf("invalid --output %q (must be text, json, or yaml)", outputFormat)
		}
		cfg.OutputFormat = format
	}
	if debug {
		cfg.Debug = true
	}
	return nil
}

// loadedConfig hands commands the configuration loaded by the root command.
func loadedConfig() (*config.Config, error) {
	if cfg == nil {
		return config.LoadConfig()
	}
	return cfg, nil
}

// Version command flags.
var versionOutputJSON bool

// versionCmd prints version information.
var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Long: `Print the version, commit hash, and build time of the relief CLI.

Examples:
  relief version
  relief version --output-json`,
	RunE: func(c *cobra.Command, args []string) error {
		info := buildinfo.Get("relief")
		out := c.OutOrStdout()
		if versionOutputJSON {
			enc := json.NewEncoder(out)
			enc.SetIndent("", "  ")
			return enc.Encode(info)
		}
		fmt.Fprintf(out, "relief version %s\n", info.Version)
		fmt.Fprintf(out, "  commit:     %s\n", info.Commit)
		fmt.Fprintf(out, "  built:      %s\n", info.BuildTime)
		fmt.Fprintf(out, "  go:         %s\n", info.GoVersion)
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Config file (default: ~/.relief/config.yaml)")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 0, "Command timeout (default: 5m)")
	rootCmd.PersistentFlags().StringVarP(&outputFormat, "output", "o", "", "Output format: text, json, yaml")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "Enable debug logging")

	versionCmd.Flags().BoolVar(&versionOutputJSON, "output-json", false, "Output version information as JSON")

	serviceDeps := &cmd.ServiceCommandDeps{
		LoadConfig:  loadedConfig,
		OpenRuntime: cmd.OpenRuntime,
	}
	dbDeps := cmd.DefaultDbDeps()
	dbDeps.LoadConfig = loadedConfig
	configDeps := cmd.DefaultConfigDeps()
	configDeps.LoadConfig = loadedConfig
	configDeps.ConfigPath = func() (string, error) {
		if cfgFile != "" {
			return cfgFile, nil
		}
		return config.ConfigPath()
	}
	historyDeps := cmd.DefaultHistoryDeps()
	historyDeps.LoadConfig = loadedConfig

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(cmd.NewReportCommand(serviceDeps))
	rootCmd.AddCommand(cmd.NewProcessCommand(serviceDeps))
	rootCmd.AddCommand(cmd.NewStatsCommand(serviceDeps))
	rootCmd.AddCommand(cmd.NewServeCommand(serviceDeps))
	rootCmd.AddCommand(cmd.NewDbCommand(dbDeps))
	rootCmd.AddCommand(cmd.NewAuthCommand(nil))
	rootCmd.AddCommand(cmd.NewConfigCommand(configDeps))
	rootCmd.AddCommand(cmd.NewHistoryCommand(historyDeps))
}

func main() {
	// Set up signal handling for graceful shutdown.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 2)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigChan
		fmt.Fprintln(os.Stderr, "\nReceived interrupt signal, shutting down...")
		cancel()
		<-sigChan
		os.Exit(130)
	}()

	cmdErr := rootCmd.ExecuteContext(ctx)

	logCommandExecution(os.Args, cmdErr)

	if cmdErr != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", cmdErr)
		os.Exit(1)
	}
}

// logCommandExecution records the command in the audit log when enabled.
// Failures to record are reported on stderr in debug mode only.
func logCommandExecution(args []string, cmdErr error) {
	if cfg == nil || !cfg.Audit.Enabled {
		return
	}
	dsn := cfg.AuditDSN()
	if dsn == "" {
		return
	}

	name := getCommandName(args)
	if name == "history" || name == "version" {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	client, err := auditlog.NewClient(dsn)
	if err != nil {
		logAuditFailure(err)
		return
	}
	defer client.Close()

	if err := client.Log(ctx, auditlog.NewEntry(name, getCommandArgs(args), cmdStartTime, cmdErr)); err != nil {
		logAuditFailure(err)
	}
}

func logAuditFailure(err error) {
	if cfg != nil && cfg.Debug {
		fmt.Fprintf(os.Stderr, "audit log: %v\n", err)
	}
}

// getCommandName extracts the command name from args.
func getCommandName(args []string) string {
	if len(args) < 2 {
		return "relief"
	}
	// Find the first non-flag argument after "relief".
	for i := 1; i < len(args); i++ {
		if !strings.HasPrefix(args[i], "-") {
			return args[i]
		}
	}
	return "relief"
}

// getCommandArgs extracts the command arguments (everything after the command name).
func getCommandArgs(args []string) []string {
	if len(args) < 3 {
		return nil
	}
	for i := 1; i < len(args); i++ {
		if !strings.HasPrefix(args[i], "-") {
			return args[i+1:]
		}
	}
	return nil
}
