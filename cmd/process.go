package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	rferrors "github.com/otherjamesbrown/relief/pkg/errors"
	"github.com/otherjamesbrown/relief/pkg/triage"
	"github.com/otherjamesbrown/relief/pkg/triage/pipeline"
)

// NewProcessCommand creates the process command.
func NewProcessCommand(deps *ServiceCommandDeps) *cobra.Command {
	if deps == nil {
		deps = DefaultServiceDeps()
	}

	cmd := &cobra.Command{
		Use:   "process <report-id>",
		Short: "Run reports through the triage pipeline",
		Long: `Run a report through normalization, classification and extraction.

A Pending, Failed or Completed report may be processed. Reprocessing a
Completed report replaces its classification and extracted details; its
error history is kept. A report already in Processing is rejected.

Use 'relief process all' to process every Pending report.`,
		Example: `  relief process 6f1c2a4e-2b1d-4f0e-9a43-1f2d8b7c9e10
  relief process all --concurrency 4`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runProcessOne(cmd.Context(), cmd.OutOrStdout(), deps, args[0])
		},
	}

	cmd.AddCommand(newProcessAllCommand(deps))
	return cmd
}

func runProcessOne(ctx context.Context, out io.Writer, deps *ServiceCommandDeps, id string) error {
	rt, err := deps.open(ctx)
	if err != nil {
		return err
	}
	defer rt.Close()

	report, err := rt.Service.Process(ctx, id)
	var pe *rferrors.PipelineError
	switch {
	case err == nil:
	case errors.As(err, &pe) && report != nil:
		// The failure is recorded on the report; show it before exiting non-zero.
		if werr := writeOutput(out, deps.Config.OutputFormat, report, func(w io.Writer) error {
			return writeReportDetail(w, report)
		}); werr != nil {
			return werr
		}
		return fmt.Errorf("processing failed at %s: %w", pe.Stage, err)
	case rferrors.IsNotFound(err):
		return fmt.Errorf("report %s not found: %w", id, err)
	case rferrors.IsInvalidState(err):
		return fmt.Errorf("report %s is already being processed: %w", id, err)
	default:
		return err
	}

	return writeOutput(out, deps.Config.OutputFormat, report, func(w io.Writer) error {
		return writeReportDetail(w, report)
	})
}

type processAllOptions struct {
	concurrency int
}

func newProcessAllCommand(deps *ServiceCommandDeps) *cobra.Command {
	opts := &processAllOptions{}

	cmd := &cobra.Command{
		Use:   "all",
		Short: "Process every Pending report",
		Long: `Process every Pending report concurrently.

Each report succeeds or fails on its own; one failure never stops the
others. Reports claimed by another worker first are counted as skipped.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runProcessAll(cmd.Context(), cmd.OutOrStdout(), deps, opts, cmd.Flags().Changed("concurrency"))
		},
	}

	cmd.Flags().IntVar(&opts.concurrency, "concurrency", 0, "Maximum reports in flight (default: pipeline.max_concurrency)")
	return cmd
}

type batchOutput struct {
	BatchID    string  `json:"batchId" yaml:"batch_id"`
	Attempted  int     `json:"attempted" yaml:"attempted"`
	Completed  int     `json:"completed" yaml:"completed"`
	Failed     int     `json:"failed" yaml:"failed"`
	Skipped    int     `json:"skipped" yaml:"skipped"`
	DurationMs int64   `json:"durationMs" yaml:"duration_ms"`
	Percent    float64 `json:"percentComplete" yaml:"percent_complete"`
}

func runProcessAll(ctx context.Context, out io.Writer, deps *ServiceCommandDeps, opts *processAllOptions, concurrencySet bool) error {
	if opts.concurrency < 0 {
		return rferrors.NewValidationError("concurrency", "must not be negative")
	}

	rt, err := deps.open(ctx)
	if err != nil {
		return err
	}
	defer rt.Close()

	runner := rt.Service.Runner()
	if concurrencySet {
		runner = pipeline.NewRunner(rt.Pipeline, pipeline.RunnerConfig{MaxConcurrency: opts.concurrency})
	}

	result, err := runner.ProcessAll(ctx)
	if err != nil {
		return err
	}

	o := batchOutput{
		BatchID:    result.BatchID,
		Attempted:  result.Attempted,
		Completed:  result.Completed,
		Failed:     result.Failed,
		Skipped:    result.Skipped,
		DurationMs: result.Duration.Milliseconds(),
	}
	if p := runner.Progress(); p != nil {
		o.Percent = p.Snapshot().PercentComplete()
	}

	return writeOutput(out, deps.Config.OutputFormat, o, func(w io.Writer) error {
		if result.Attempted == 0 {
			fmt.Fprintln(w, "No Pending reports.")
			return nil
		}
		fmt.Fprintf(w, "Batch %s\n", result.BatchID)
		fmt.Fprintf(w, "  Attempted: %d\n", result.Attempted)
		fmt.Fprintf(w, "  %s %d\n", colorize(colorGreen, "Completed:"), result.Completed)
		fmt.Fprintf(w, "  %s    %d\n", colorize(colorRed, "Failed:"), result.Failed)
		fmt.Fprintf(w, "  Skipped:   %d\n", result.Skipped)
		fmt.Fprintf(w, "  Duration:  %s\n", result.Duration.Round(1e6))
		if result.Failed > 0 {
			fmt.Fprintf(w, "\nRun 'relief report list --status %s' to inspect failures.\n", triage.StatusFailed)
		}
		return nil
	})
}
