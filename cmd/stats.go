package cmd

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/otherjamesbrown/relief/pkg/triage"
)

// NewStatsCommand creates the stats command.
func NewStatsCommand(deps *ServiceCommandDeps) *cobra.Command {
	if deps == nil {
		deps = DefaultServiceDeps()
	}

	return &cobra.Command{
		Use:   "stats",
		Short: "Show report counts by urgency and status",
		Long: `Show aggregate counts over every stored report.

Urgent counts reports classified High. High priority counts High urgency
reports that are also help requests.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			rt, err := deps.open(ctx)
			if err != nil {
				return err
			}
			defer rt.Close()

			stats, err := rt.Service.GetStats(ctx)
			if err != nil {
				return err
			}
			return writeOutput(cmd.OutOrStdout(), deps.Config.OutputFormat, stats, func(w io.Writer) error {
				return writeStatsText(w, stats)
			})
		},
	}
}

func writeStatsText(w io.Writer, s *triage.Stats) error {
	fmt.Fprintf(w, "%s %d\n", colorize(colorBold, "Total reports:"), s.Total)
	fmt.Fprintf(w, "  Urgent:        %d\n", s.Urgent)
	fmt.Fprintf(w, "  High priority: %d\n", s.HighPriority)

	fmt.Fprintln(w, "\nBy status:")
	for _, st := range triage.Statuses {
		fmt.Fprintf(w, "  %-15s %d\n", st, s.ByStatus[st])
	}

	fmt.Fprintln(w, "\nBy urgency:")
	for _, u := range triage.Urgencies {
		fmt.Fprintf(w, "  %-15s %d\n", u, s.ByUrgency[u])
	}
	return nil
}
