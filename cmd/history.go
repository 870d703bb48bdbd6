package cmd

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/otherjamesbrown/relief/config"
	"github.com/otherjamesbrown/relief/pkg/auditlog"
)

// AuditLog reads recorded command executions.
type AuditLog interface {
	History(ctx context.Context, limit int) ([]auditlog.Entry, error)
	Close() error
}

// HistoryCommandDeps holds the dependencies for the history command.
type HistoryCommandDeps struct {
	LoadConfig   func() (*config.Config, error)
	OpenAuditLog func(dsn string) (AuditLog, error)
}

// DefaultHistoryDeps returns the default dependencies for production use.
func DefaultHistoryDeps() *HistoryCommandDeps {
	return &HistoryCommandDeps{
		LoadConfig: config.LoadConfig,
		OpenAuditLog: func(dsn string) (AuditLog, error) {
			return auditlog.NewClient(dsn)
		},
	}
}

// NewHistoryCommand creates the history command.
func NewHistoryCommand(deps *HistoryCommandDeps) *cobra.Command {
	if deps == nil {
		deps = DefaultHistoryDeps()
	}
	var limit int

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recently executed relief commands",
		Long: `Show recently executed relief commands from the audit log.

Commands are recorded when audit.enabled is true. The log is stored in the
report database unless audit.dsn points elsewhere.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := deps.LoadConfig()
			if err != nil {
				return fmt.Errorf("loading configuration: %w", err)
			}
			dsn := cfg.AuditDSN()
			if dsn == "" {
				return fmt.Errorf("no audit log configured: set audit.dsn or configure the database")
			}

			log, err := deps.OpenAuditLog(dsn)
			if err != nil {
				return fmt.Errorf("opening audit log: %w", err)
			}
			defer log.Close()

			entries, err := log.History(cmd.Context(), limit)
			if err != nil {
				return err
			}
			if entries == nil {
				entries = []auditlog.Entry{}
			}

			return writeOutput(cmd.OutOrStdout(), cfg.OutputFormat, entries, func(w io.Writer) error {
				return writeHistoryTable(w, entries)
			})
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Number of entries to show")
	return cmd
}

func writeHistoryTable(w io.Writer, entries []auditlog.Entry) error {
	if len(entries) == 0 {
		fmt.Fprintln(w, "No commands recorded.")
		return nil
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "TIME\tSTATUS\tDURATION\tCOMMAND")
	for _, e := range entries {
		status := colorize(colorGreen, "ok")
		if !e.Success {
			status = colorize(colorRed, "failed")
		}
		fmt.Fprintf(tw, "%s\t%s\t%dms\t%s\n",
			e.CreatedAt.Format("2006-01-02 15:04:05"), status, e.DurationMs, truncateString(e.FullCommand, 60))
	}
	return tw.Flush()
}
