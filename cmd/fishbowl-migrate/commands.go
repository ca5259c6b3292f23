package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/example/fishbowl/internal/persistence/sqlite"
	"github.com/example/fishbowl/internal/persistence/sqlite/migration"
	"github.com/example/fishbowl/internal/persistence/sqlite/migrations"
)

func newStatusCommand(opts *options) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show applied and pending migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withSession(cmd, func(s *session) error {
				var status migration.Status
				err := s.retry.WithRetry(cmd.Context(), func(ctx context.Context) error {
					var err error
					status, err = s.runner.Status(ctx)
					return err
				})
				if err != nil {
					return err
				}

				out := cmd.OutOrStdout()
				if asJSON {
					enc := json.NewEncoder(out)
					enc.SetIndent("", "  ")
					return enc.Encode(status)
				}

				fmt.Fprintf(out, "Database:        %s\n", s.manager.Config().Path)
				fmt.Fprintf(out, "Current version: %d\n", status.CurrentVersion)
				fmt.Fprintf(out, "Latest version:  %d\n", status.LatestVersion)
				fmt.Fprintf(out, "Up to date:      %t\n\n", status.UpToDate)

				applied := make(map[int]migration.Record, len(status.Applied))
				for _, rec := range status.Applied {
					applied[rec.Version] = rec
				}

				tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "VERSION\tNAME\tSTATE\tAPPLIED")
				for _, m := range opts.registry.All() {
					rec, ok := applied[m.Version]
					if !ok {
						fmt.Fprintf(tw, "%d\t%s\tpending\t-\n", m.Version, m.Name)
						continue
					}
					fmt.Fprintf(tw, "%d\t%s\tapplied\t%s\n", m.Version, m.Name, humanize.Time(rec.AppliedAt))
				}
				return tw.Flush()
			})
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the status as JSON")
	return cmd
}

func newUpCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "up",
		Short: "Apply every pending migration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withSession(cmd, func(s *session) error {
				return migrate(cmd, s, s.runner.MigrateUp)
			})
		},
	}
}

func newToCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "to <version>",
		Short: "Migrate forward or backward to a version",
		Long: `Migrate forward or backward to the given version.

Version 0 reverts every migration. The whole move runs in one transaction:
if any step fails the database is left at its starting version.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			target, err := strconv.Atoi(args[0])
			if err != nil {
				return fmt.Errorf("invalid version %q: %w", args[0], err)
			}
			return opts.withSession(cmd, func(s *session) error {
				return migrate(cmd, s, func(ctx context.Context) ([]migration.Result, error) {
					return s.runner.MigrateTo(ctx, target)
				})
			})
		},
	}
}

func newResetCommand(opts *options) *cobra.Command {
	var confirmed bool

	cmd := &cobra.Command{
		Use:   "reset",
		Short: "Revert every applied migration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !confirmed {
				return errors.New("reset drops every fishbowl table; pass --yes to confirm")
			}
			return opts.withSession(cmd, func(s *session) error {
				return migrate(cmd, s, s.runner.Reset)
			})
		},
	}

	cmd.Flags().BoolVar(&confirmed, "yes", false, "Confirm that all data may be dropped")
	return cmd
}

// migrate runs a mutating runner call, retrying the whole call while the
// database is locked, and prints its step results.
func migrate(cmd *cobra.Command, s *session, fn func(context.Context) ([]migration.Result, error)) error {
	var results []migration.Result
	err := s.retry.WithRetry(cmd.Context(), func(ctx context.Context) error {
		var err error
		results, err = fn(ctx)
		return err
	})
	writeResults(cmd.OutOrStdout(), results)
	if err != nil {
		return err
	}

	version, err := s.runner.CurrentVersion(cmd.Context())
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Schema version: %d\n", version)
	return nil
}

func newValidateCommand(opts *options) *cobra.Command {
	var checkSchema bool

	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Check the migration catalog",
		Long: `Check that migration versions are contiguous from 1 and that every
migration has a name and both procedures.

With --schema the live database is also compared against the tables
expected at its current version.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()

			result := opts.registry.Validate()
			if !result.Valid {
				for _, problem := range result.Errors {
					fmt.Fprintf(out, "  - %s\n", problem)
				}
				return &migration.ValidationError{Errors: result.Errors}
			}
			fmt.Fprintf(out, "Registry is valid: %d migrations, latest version %d\n",
				opts.registry.Len(), opts.registry.LatestVersion())

			if !checkSchema {
				return nil
			}
			return opts.withSession(cmd, func(s *session) error {
				version, err := s.runner.CurrentVersion(cmd.Context())
				if err != nil {
					return err
				}
				err = s.manager.WithConnection(cmd.Context(), func(conn *sqlite.Connection) error {
					return migrations.ValidateSchema(cmd.Context(), conn, version)
				})
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "Schema matches version %d\n", version)
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&checkSchema, "schema", false, "Also compare the live schema with the expected tables")
	return cmd
}

func newStatsCommand(opts *options) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show database file and schema statistics",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withSession(cmd, func(s *session) error {
				stats, err := s.manager.Stats(cmd.Context())
				if err != nil {
					return err
				}

				out := cmd.OutOrStdout()
				if asJSON {
					enc := json.NewEncoder(out)
					enc.SetIndent("", "  ")
					return enc.Encode(stats)
				}

				modified := "-"
				if !stats.ModifiedAt.IsZero() {
					modified = humanize.Time(stats.ModifiedAt)
				}

				tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
				fmt.Fprintf(tw, "Path:\t%s\n", stats.Path)
				fmt.Fprintf(tw, "Size:\t%s\n", humanize.IBytes(uint64(max(stats.SizeBytes, 0))))
				fmt.Fprintf(tw, "WAL:\t%s\n", humanize.IBytes(uint64(max(stats.WALBytes, 0))))
				fmt.Fprintf(tw, "Modified:\t%s\n", modified)
				fmt.Fprintf(tw, "Pages:\t%s x %s\n", humanize.Comma(stats.PageCount), humanize.IBytes(uint64(max(stats.PageSize, 0))))
				fmt.Fprintf(tw, "Journal mode:\t%s\n", stats.JournalMode)
				fmt.Fprintf(tw, "Tables:\t%d\n", stats.Tables)
				fmt.Fprintf(tw, "Indexes:\t%d\n", stats.Indexes)
				fmt.Fprintf(tw, "Views:\t%d\n", stats.Views)
				fmt.Fprintf(tw, "Triggers:\t%d\n", stats.Triggers)
				return tw.Flush()
			})
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the statistics as JSON")
	return cmd
}
