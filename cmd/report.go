package cmd

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	rferrors "github.com/otherjamesbrown/relief/pkg/errors"
	"github.com/otherjamesbrown/relief/pkg/triage"
	"github.com/otherjamesbrown/relief/pkg/triage/service"
)

// NewReportCommand creates the report command with all subcommands.
func NewReportCommand(deps *ServiceCommandDeps) *cobra.Command {
	if deps == nil {
		deps = DefaultServiceDeps()
	}

	cmd := &cobra.Command{
		Use:   "report",
		Short: "Create, list and inspect disaster reports",
		Long: `Create, list and inspect disaster reports.

Reports enter as Pending and move through Processing to Completed or Failed
when 'relief process' runs the triage pipeline over them.

Examples:
  relief report create --text "Need water at 12 Oak Street" --platform Twitter
  relief report list --status Failed
  relief report urgent
  relief report show <report-id>`,
		Aliases: []string{"reports"},
	}

	cmd.AddCommand(newReportCreateCommand(deps))
	cmd.AddCommand(newReportListCommand(deps))
	cmd.AddCommand(newReportShowCommand(deps))
	cmd.AddCommand(newReportUrgentCommand(deps))
	cmd.AddCommand(newReportDeleteCommand(deps))

	return cmd
}

type reportCreateOptions struct {
	text      string
	platform  string
	postID    string
	author    string
	url       string
	imagePath string
	mimeType  string
}

func newReportCreateCommand(deps *ServiceCommandDeps) *cobra.Command {
	opts := &reportCreateOptions{}

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a Pending report",
		Long: `Create a Pending report from text.

Text longer than 5000 characters, blank text and unknown platforms are
rejected. A platform and post ID that already exist are rejected as
duplicates.

Use --text - to read the text from stdin. For image reports, pass the
recognized text with --text and the original upload with --image.`,
		Example: `  relief report create --text "Trapped on roof, 3 people, call 555-123-4567" --platform Twitter --post-id 1789
  echo "shelter needed" | relief report create --text -`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReportCreate(cmd.Context(), cmd.InOrStdin(), cmd.OutOrStdout(), deps, opts)
		},
	}

	cmd.Flags().StringVar(&opts.text, "text", "", "Report text, or - to read stdin (required)")
	cmd.Flags().StringVar(&opts.platform, "platform", "", "Source platform: Twitter, Facebook, Instagram, Reddit, Web, Unknown")
	cmd.Flags().StringVar(&opts.postID, "post-id", "", "Source post identifier, used for duplicate detection")
	cmd.Flags().StringVar(&opts.author, "author", "", "Source author")
	cmd.Flags().StringVar(&opts.url, "url", "", "Source URL")
	cmd.Flags().StringVar(&opts.imagePath, "image", "", "Path to the original image upload")
	cmd.Flags().StringVar(&opts.mimeType, "mime-type", "", "Image MIME type (default: from the file extension)")
	_ = cmd.MarkFlagRequired("text")

	return cmd
}

func runReportCreate(ctx context.Context, in io.Reader, out io.Writer, deps *ServiceCommandDeps, opts *reportCreateOptions) error {
	text := opts.text
	if text == "-" {
		data, err := io.ReadAll(bufio.NewReader(in))
		if err != nil {
			return fmt.Errorf("reading stdin: %w", err)
		}
		text = string(data)
	}

	image, err := loadImage(opts.imagePath, opts.mimeType)
	if err != nil {
		return err
	}

	rt, err := deps.open(ctx)
	if err != nil {
		return err
	}
	defer rt.Close()

	report, err := rt.Service.CreateItem(ctx, service.CreateItemInput{
		RawText: text,
		Source: triage.Source{
			Platform: triage.Platform(opts.platform),
			PostID:   opts.postID,
			Author:   opts.author,
			URL:      opts.url,
		},
		Image: image,
	})
	if err != nil {
		if rferrors.IsAlreadyExists(err) {
			return fmt.Errorf("report from %s post %s already exists: %w", opts.platform, opts.postID, err)
		}
		return err
	}

	return writeOutput(out, deps.Config.OutputFormat, report, func(w io.Writer) error {
		fmt.Fprintf(w, "Created report %s (%s)\n", report.ID, report.ProcessingStatus)
		fmt.Fprintf(w, "Run 'relief process %s' to triage it.\n", report.ID)
		return nil
	})
}

func loadImage(path, mimeType string) (*triage.ImageSource, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading image: %w", err)
	}
	if mimeType == "" {
		mimeType = mime.TypeByExtension(filepath.Ext(path))
	}
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}
	return &triage.ImageSource{MimeType: mimeType, Data: data}, nil
}

// reportFilterOptions are the flags shared by list and delete.
type reportFilterOptions struct {
	status       string
	urgency      string
	platform     string
	helpType     string
	highPriority bool
}

func (o *reportFilterOptions) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&o.status, "status", "", "Filter by status: Pending, Processing, Completed, Failed")
	cmd.Flags().StringVar(&o.urgency, "urgency", "", "Filter by urgency: High, Medium, Low, Needs Review, Not Applicable")
	cmd.Flags().StringVar(&o.platform, "platform", "", "Filter by source platform")
	cmd.Flags().StringVar(&o.helpType, "help-type", "", "Filter by help type: Medical, Food, Shelter, Rescue, ...")
	cmd.Flags().BoolVar(&o.highPriority, "high-priority", false, "Only urgent help requests")
}

func (o *reportFilterOptions) filter() (triage.Filter, error) {
	f := triage.Filter{HighPriority: o.highPriority}
	if o.status != "" {
		s, ok := triage.ParseStatus(o.status)
		if !ok {
			return f, rferrors.NewValidationError("status", fmt.Sprintf("unknown status %q", o.status))
		}
		f.Status = s
	}
	if o.urgency != "" {
		u, ok := triage.ParseUrgency(o.urgency)
		if !ok {
			return f, rferrors.NewValidationError("urgency", fmt.Sprintf("unknown urgency %q", o.urgency))
		}
		f.Urgency = u
	}
	if o.platform != "" {
		p, ok := triage.ParsePlatform(o.platform)
		if !ok {
			return f, rferrors.NewValidationError("platform", fmt.Sprintf("unknown platform %q", o.platform))
		}
		f.Platform = p
	}
	if o.helpType != "" {
		h, ok := triage.ParseHelpType(o.helpType)
		if !ok {
			return f, rferrors.NewValidationError("help-type", fmt.Sprintf("unknown help type %q", o.helpType))
		}
		f.HelpType = h
	}
	return f, nil
}

// reportPageOptions are the pagination flags.
type reportPageOptions struct {
	skip  int
	limit int
	asc   bool
}

func (o *reportPageOptions) register(cmd *cobra.Command, defaultLimit int) {
	cmd.Flags().IntVar(&o.skip, "skip", 0, "Number of reports to skip")
	cmd.Flags().IntVar(&o.limit, "limit", defaultLimit, "Maximum reports to show (0 for all)")
	cmd.Flags().BoolVar(&o.asc, "asc", false, "Oldest first")
}

func (o *reportPageOptions) findOptions() triage.FindOptions {
	opts := triage.FindOptions{Sort: triage.SortCreatedAtDesc, Skip: o.skip, Limit: o.limit}
	if o.asc {
		opts.Sort = triage.SortCreatedAtAsc
	}
	return opts
}

func newReportListCommand(deps *ServiceCommandDeps) *cobra.Command {
	filter := &reportFilterOptions{}
	page := &reportPageOptions{}

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List reports",
		Long: `List reports, newest first.

Filters combine: --status Completed --urgency High lists completed reports
classified as High urgency.`,
		Example: `  relief report list
  relief report list --status Failed --limit 50
  relief report list --high-priority -o json`,
		Aliases: []string{"ls"},
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := filter.filter()
			if err != nil {
				return err
			}
			return runReportList(cmd.Context(), cmd.OutOrStdout(), deps, func(ctx context.Context, svc *service.Service) ([]*triage.Report, error) {
				return svc.List(ctx, f, page.findOptions())
			})
		},
	}

	filter.register(cmd)
	page.register(cmd, 20)
	return cmd
}

func newReportUrgentCommand(deps *ServiceCommandDeps) *cobra.Command {
	page := &reportPageOptions{}

	cmd := &cobra.Command{
		Use:   "urgent",
		Short: "List High urgency reports",
		Long: `List reports classified as High urgency, newest first.

Use 'relief report list --high-priority' to restrict to High urgency help
requests.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReportList(cmd.Context(), cmd.OutOrStdout(), deps, func(ctx context.Context, svc *service.Service) ([]*triage.Report, error) {
				return svc.Urgent(ctx, page.findOptions())
			})
		},
	}

	page.register(cmd, 20)
	return cmd
}

func runReportList(ctx context.Context, out io.Writer, deps *ServiceCommandDeps, query func(context.Context, *service.Service) ([]*triage.Report, error)) error {
	rt, err := deps.open(ctx)
	if err != nil {
		return err
	}
	defer rt.Close()

	reports, err := query(ctx, rt.Service)
	if err != nil {
		return err
	}
	if reports == nil {
		reports = []*triage.Report{}
	}

	return writeOutput(out, deps.Config.OutputFormat, reports, func(w io.Writer) error {
		return writeReportTable(w, reports)
	})
}

func writeReportTable(w io.Writer, reports []*triage.Report) error {
	if len(reports) == 0 {
		fmt.Fprintln(w, "No reports found.")
		return nil
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tSTATUS\tURGENCY\tHELP\tPLATFORM\tCREATED\tTEXT")
	for _, r := range reports {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			r.ID,
			r.ProcessingStatus,
			valueOrDash(string(r.Classification.Urgency)),
			valueOrDash(string(r.ExtractedDetails.HelpType)),
			r.Source.Platform,
			r.CreatedAt.Format("2006-01-02 15:04"),
			truncateString(strings.Join(strings.Fields(r.RawText), " "), 50),
		)
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	fmt.Fprintf(w, "\n%d report(s)\n", len(reports))
	return nil
}

func newReportShowCommand(deps *ServiceCommandDeps) *cobra.Command {
	return &cobra.Command{
		Use:   "show <report-id>",
		Short: "Show a report with its classification and extracted details",
		Long: `Show a report with its classification, extracted details and
processing error history. Failed reports include a suggested next step.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			rt, err := deps.open(ctx)
			if err != nil {
				return err
			}
			defer rt.Close()

			report, err := rt.Service.Get(ctx, args[0])
			if err != nil {
				if rferrors.IsNotFound(err) {
					return fmt.Errorf("report %s not found: %w", args[0], err)
				}
				return err
			}
			return writeOutput(cmd.OutOrStdout(), deps.Config.OutputFormat, report, func(w io.Writer) error {
				return writeReportDetail(w, report)
			})
		},
	}
}

func writeReportDetail(w io.Writer, r *triage.Report) error {
	fmt.Fprintf(w, "Report %s\n", r.ID)
	fmt.Fprintf(w, "  Status:     %s (version %d)\n", r.ProcessingStatus, r.Version)
	fmt.Fprintf(w, "  Source:     %s", r.Source.Platform)
	if r.Source.PostID != "" {
		fmt.Fprintf(w, " post %s", r.Source.PostID)
	}
	if r.Source.Author != "" {
		fmt.Fprintf(w, " by %s", r.Source.Author)
	}
	fmt.Fprintln(w)
	if r.Image != nil {
		fmt.Fprintf(w, "  Image:      %s, %d bytes\n", r.Image.MimeType, len(r.Image.Data))
	}
	fmt.Fprintf(w, "  Created:    %s\n", r.CreatedAt.Format("2006-01-02 15:04:05"))
	fmt.Fprintf(w, "  Updated:    %s\n", r.UpdatedAt.Format("2006-01-02 15:04:05"))
	fmt.Fprintf(w, "\n  Text:\n    %s\n", r.RawText)
	if r.ProcessedText != "" {
		fmt.Fprintf(w, "  Normalized:\n    %s\n", r.ProcessedText)
	}

	c := r.Classification
	if c.Urgency != "" {
		fmt.Fprintln(w, "\n  Classification:")
		fmt.Fprintf(w, "    Help request: %t\n", c.IsHelpRequest)
		fmt.Fprintf(w, "    Urgency:      %s\n", c.Urgency)
		fmt.Fprintf(w, "    Confidence:   %.2f\n", c.Confidence)
		if len(c.Categories) > 0 {
			fmt.Fprintf(w, "    Categories:   %s\n", strings.Join(c.Categories, ", "))
		}
	}

	d := r.ExtractedDetails
	if r.ProcessingStatus == triage.StatusCompleted {
		fmt.Fprintln(w, "\n  Extracted:")
		fmt.Fprintf(w, "    Help type:  %s\n", valueOrDash(string(d.HelpType)))
		fmt.Fprintf(w, "    Names:      %s\n", joinOrDash(d.Names))
		fmt.Fprintf(w, "    Phones:     %s\n", joinOrDash(d.Contacts.Phones))
		fmt.Fprintf(w, "    Emails:     %s\n", joinOrDash(d.Contacts.Emails))
		locations := make([]string, 0, len(d.Locations))
		for _, loc := range d.Locations {
			if loc.Coordinates != nil {
				locations = append(locations, fmt.Sprintf("%s (%.5f, %.5f)", loc.Name, loc.Coordinates.Latitude, loc.Coordinates.Longitude))
			} else {
				locations = append(locations, loc.Name)
			}
		}
		fmt.Fprintf(w, "    Locations:  %s\n", joinOrDash(locations))
		quantities := make([]string, 0, len(d.Quantities))
		for _, q := range d.Quantities {
			quantities = append(quantities, strings.TrimSpace(fmt.Sprintf("%g %s %s", q.Amount, q.Unit, q.Item)))
		}
		fmt.Fprintf(w, "    Quantities: %s\n", joinOrDash(quantities))
	}

	if len(r.ProcessingErrors) > 0 {
		fmt.Fprintf(w, "\n  Processing errors (%d):\n", len(r.ProcessingErrors))
		for _, pe := range r.ProcessingErrors {
			fmt.Fprintf(w, "    %s  [%s] %s\n", pe.Timestamp.Format("2006-01-02 15:04:05"), pe.Stage, pe.Message)
		}
		if last := r.LastError(); r.ProcessingStatus == triage.StatusFailed && last != nil {
			code := rferrors.ClassifyError(errors.New(last.Message), last.Stage).Code
			fmt.Fprintf(w, "\n  Suggested action: %s\n", strings.ReplaceAll(rferrors.GetSuggestedAction(code), "<report-id>", r.ID))
		}
	}
	return nil
}

type reportDeleteOptions struct {
	filter reportFilterOptions
	all    bool
	yes    bool
}

func newReportDeleteCommand(deps *ServiceCommandDeps) *cobra.Command {
	opts := &reportDeleteOptions{}

	cmd := &cobra.Command{
		Use:   "delete",
		Short: "Delete reports matching a filter",
		Long: `Delete reports matching a filter.

With no filter flags, --all is required to delete every report. The command
asks for confirmation unless --yes is given.`,
		Example: `  relief report delete --status Failed --yes
  relief report delete --all`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReportDelete(cmd.Context(), cmd.InOrStdin(), cmd.OutOrStdout(), deps, opts)
		},
	}

	opts.filter.register(cmd)
	cmd.Flags().BoolVar(&opts.all, "all", false, "Delete every report when no filter is given")
	cmd.Flags().BoolVarP(&opts.yes, "yes", "y", false, "Skip confirmation")
	return cmd
}

func runReportDelete(ctx context.Context, in io.Reader, out io.Writer, deps *ServiceCommandDeps, opts *reportDeleteOptions) error {
	f, err := opts.filter.filter()
	if err != nil {
		return err
	}
	if f.IsEmpty() && !opts.all {
		return fmt.Errorf("refusing to delete every report without --all")
	}

	rt, err := deps.open(ctx)
	if err != nil {
		return err
	}
	defer rt.Close()

	if !opts.yes {
		fmt.Fprint(out, "Delete matching reports? (y/N): ")
		response, _ := bufio.NewReader(in).ReadString('\n')
		if strings.ToLower(strings.TrimSpace(response)) != "y" {
			fmt.Fprintln(out, "Delete cancelled.")
			return nil
		}
	}

	deleted, err := rt.Service.DeleteAll(ctx, f)
	if err != nil {
		return err
	}

	result := struct {
		Deleted int `json:"deleted" yaml:"deleted"`
	}{deleted}
	return writeOutput(out, deps.Config.OutputFormat, result, func(w io.Writer) error {
		fmt.Fprintf(w, "Deleted %d report(s).\n", deleted)
		return nil
	})
}

func valueOrDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func joinOrDash(values []string) string {
	if len(values) == 0 {
		return "-"
	}
	return strings.Join(values, ", ")
}
