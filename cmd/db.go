package cmd

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"io/fs"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"

	"github.com/otherjamesbrown/relief/config"
	"github.com/otherjamesbrown/relief/migrations"
	"github.com/otherjamesbrown/relief/pkg/db"
)

// DbCommandDeps holds the dependencies for database commands.
type DbCommandDeps struct {
	Config      *config.Config
	LoadConfig  func() (*config.Config, error)
	ConnectToDB func(context.Context, *config.Config) (*pgxpool.Pool, error)
	Migrations  fs.FS
}

// DefaultDbDeps returns the default dependencies for production use.
func DefaultDbDeps() *DbCommandDeps {
	return &DbCommandDeps{
		LoadConfig:  config.LoadConfig,
		ConnectToDB: connectToDatabase,
		Migrations:  migrations.FS,
	}
}

func connectToDatabase(ctx context.Context, cfg *config.Config) (*pgxpool.Pool, error) {
	if !cfg.Database.IsConfigured() {
		return nil, fmt.Errorf("no database configured: set DATABASE_URL or the database section of the config file")
	}
	return db.Connect(ctx, cfg.Database.DBConfig(), db.WithLogger(NewLogger(cfg)))
}

type dbMigrateOptions struct {
	dryRun bool
	target string
	yes    bool
}

// NewDbCommand creates the root db command with all subcommands.
func NewDbCommand(deps *DbCommandDeps) *cobra.Command {
	if deps == nil {
		deps = DefaultDbDeps()
	}

	cmd := &cobra.Command{
		Use:   "db",
		Short: "Database management commands",
		Long: `Database management commands for the report store.

The db command connects directly to PostgreSQL. It requires DATABASE_URL,
RELIEF_DATABASE_* environment variables or a database section in the
config file.

Migrations are embedded in the binary and tracked in the
schema_migrations table.

Examples:
  # Show migration status
  relief db status

  # Apply all pending migrations
  relief db migrate

  # Preview migrations without applying
  relief db migrate --dry-run`,
		Aliases: []string{"database", "migrations"},
	}

	cmd.AddCommand(newDbMigrateCommand(deps))
	cmd.AddCommand(newDbStatusCommand(deps))

	return cmd
}

// newDbMigrateCommand creates the 'db migrate' subcommand.
func newDbMigrateCommand(deps *DbCommandDeps) *cobra.Command {
	opts := &dbMigrateOptions{}

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations",
		Long: `Apply pending database migrations.

Shows pending migrations before applying them. Each migration runs in a
transaction; if one fails it is rolled back and no further migrations are
attempted.`,
		Example: `  relief db migrate
  relief db migrate --dry-run
  relief db migrate --target 001 --yes`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDbMigrate(cmd.Context(), cmd.InOrStdin(), cmd.OutOrStdout(), deps, opts)
		},
	}

	cmd.Flags().BoolVar(&opts.dryRun, "dry-run", false, "Show what would be applied without executing")
	cmd.Flags().StringVarP(&opts.target, "target", "t", "", "Target version to migrate to (e.g., 002)")
	cmd.Flags().BoolVarP(&opts.yes, "yes", "y", false, "Apply without confirmation")

	return cmd
}

// newDbStatusCommand creates the 'db status' subcommand.
func newDbStatusCommand(deps *DbCommandDeps) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show database migration status",
		Long: `Show the current state of database migrations.

Displays three categories of migrations:
  - Applied: migrations that have been applied and have corresponding files
  - Pending: migrations with files that have not been applied yet
  - Drift: migrations that were applied but no longer ship with this binary`,
		Example: `  relief db status
  relief db status -o json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDbStatus(cmd.Context(), cmd.OutOrStdout(), deps)
		},
	}
}

// runDbMigrate executes the db migrate command.
func runDbMigrate(ctx context.Context, in io.Reader, out io.Writer, deps *DbCommandDeps, opts *dbMigrateOptions) error {
	cfg, err := deps.LoadConfig()
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}
	deps.Config = cfg

	pool, err := deps.ConnectToDB(ctx, cfg)
	if err != nil {
		return fmt.Errorf("connecting to database: %w", err)
	}
	defer pool.Close()
	migrator := db.NewMigrator(pool, deps.Migrations, NewLogger(cfg))

	pending, err := migrator.Pending(ctx)
	if err != nil {
		return fmt.Errorf("getting pending migrations: %w", err)
	}

	if len(pending) == 0 {
		fmt.Fprintln(out, "No pending migrations.")
		return nil
	}

	fmt.Fprintf(out, "Pending migrations (%d):\n", len(pending))
	for _, m := range pending {
		fmt.Fprintf(out, "  %s - %s\n", m.Version, m.Name)
	}
	fmt.Fprintln(out)

	if opts.dryRun {
		fmt.Fprintln(out, "Dry run mode: no migrations applied.")
		return nil
	}

	if !opts.yes {
		fmt.Fprint(out, "Apply these migrations? (y/N): ")
		response, _ := bufio.NewReader(in).ReadString('\n')
		if strings.ToLower(strings.TrimSpace(response)) != "y" {
			fmt.Fprintln(out, "Migration cancelled.")
			return nil
		}
	}

	var result *db.MigrationResult
	if opts.target != "" {
		fmt.Fprintf(out, "Applying migrations up to version %s...\n", opts.target)
		result, err = migrator.UpTo(ctx, opts.target)
	} else {
		fmt.Fprintln(out, "Applying all pending migrations...")
		result, err = migrator.Up(ctx)
	}

	if err != nil {
		fmt.Fprintf(out, "\n%s %v\n", colorize(colorRed, "Migration failed:"), err)
		if result != nil && len(result.Applied) > 0 {
			fmt.Fprintf(out, "\nSuccessfully applied before failure:\n")
			for _, m := range result.Applied {
				fmt.Fprintf(out, "  %s %s - %s\n", colorize(colorGreen, "✓"), m.Version, m.Name)
			}
		}
		return err
	}

	fmt.Fprintln(out)
	if len(result.Applied) > 0 {
		fmt.Fprintln(out, colorize(colorGreen, fmt.Sprintf("Successfully applied %d migration(s):", len(result.Applied))))
		for _, m := range result.Applied {
			fmt.Fprintf(out, "  %s %s - %s\n", colorize(colorGreen, "✓"), m.Version, m.Name)
		}
	}
	if len(result.Skipped) > 0 {
		fmt.Fprintf(out, "\nSkipped %d migration(s) (already applied):\n", len(result.Skipped))
		for _, m := range result.Skipped {
			fmt.Fprintf(out, "  - %s %s\n", m.Version, m.Name)
		}
	}

	fmt.Fprintln(out)
	fmt.Fprintln(out, colorize(colorGreen, "Migrations completed successfully."))
	return nil
}

// runDbStatus executes the db status command.
func runDbStatus(ctx context.Context, out io.Writer, deps *DbCommandDeps) error {
	cfg, err := deps.LoadConfig()
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}
	deps.Config = cfg

	pool, err := deps.ConnectToDB(ctx, cfg)
	if err != nil {
		return fmt.Errorf("connecting to database: %w", err)
	}
	defer pool.Close()

	status, err := db.NewMigrator(pool, deps.Migrations, NewLogger(cfg)).Status(ctx)
	if err != nil {
		return fmt.Errorf("getting migration status: %w", err)
	}

	return writeOutput(out, cfg.OutputFormat, status, func(w io.Writer) error {
		return writeMigrationStatusText(w, status)
	})
}

// writeMigrationStatusText formats migration status for terminal display.
func writeMigrationStatusText(w io.Writer, status *db.MigrationStatus) error {
	section := func(title, color string, entries []db.MigrationStatusEntry, withApplied bool) {
		if len(entries) == 0 {
			return
		}
		fmt.Fprintln(w, colorize(color, fmt.Sprintf("%s (%d):", title, len(entries))))
		if withApplied {
			fmt.Fprintln(w, "  VERSION    NAME                              APPLIED")
		} else {
			fmt.Fprintln(w, "  VERSION    NAME")
		}
		for _, m := range entries {
			if !withApplied {
				fmt.Fprintf(w, "  %-10s %s\n", truncateString(m.Version, 10), m.Name)
				continue
			}
			appliedAt := "-"
			if m.AppliedAt != nil {
				appliedAt = m.AppliedAt.Format("2006-01-02 15:04:05")
			}
			fmt.Fprintf(w, "  %-10s %-33s %s\n", truncateString(m.Version, 10), truncateString(m.Name, 33), appliedAt)
		}
		fmt.Fprintln(w)
	}

	section("Applied Migrations", colorGreen, status.Applied, true)
	section("Pending Migrations", colorYellow, status.Pending, false)
	section("Drift - applied but file missing", colorRed, status.Drift, true)

	if len(status.Applied) == 0 && len(status.Pending) == 0 && len(status.Drift) == 0 {
		fmt.Fprintln(w, "No migrations found.")
		return nil
	}

	fmt.Fprintf(w, "Summary: %d applied, %d pending", len(status.Applied), len(status.Pending))
	if len(status.Drift) > 0 {
		fmt.Fprintf(w, ", %s", colorize(colorRed, fmt.Sprintf("%d drift", len(status.Drift))))
	}
	fmt.Fprintln(w)
	return nil
}
