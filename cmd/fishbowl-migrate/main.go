package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/example/fishbowl/internal/config"
	"github.com/example/fishbowl/internal/logging"
	"github.com/example/fishbowl/internal/persistence/sqlite"
	"github.com/example/fishbowl/internal/persistence/sqlite/migration"
	"github.com/example/fishbowl/internal/persistence/sqlite/migrations"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCommand(migrations.Registry()).ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		stop()
		os.Exit(1)
	}
}

// options holds the persistent flags shared by every subcommand.
type options struct {
	registry *migration.Registry
	dbPath   string
	verbose  bool
	noRetry  bool
}

func newRootCommand(registry *migration.Registry) *cobra.Command {
	opts := &options{registry: registry}

	root := &cobra.Command{
		Use:   "fishbowl-migrate",
		Short: "Manage the fishbowl SQLite schema",
		Long: `fishbowl-migrate inspects and moves the fishbowl database schema.

The database is configured through FISHBOWL_DB_* environment variables;
--db overrides FISHBOWL_DB_PATH.

Example:
  fishbowl-migrate status
  fishbowl-migrate up
  fishbowl-migrate to 2
  fishbowl-migrate reset --yes`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVar(&opts.dbPath, "db", "", "Path to the database file (overrides FISHBOWL_DB_PATH)")
	root.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "Enable debug logging")
	root.PersistentFlags().BoolVar(&opts.noRetry, "no-retry", false, "Fail immediately when the database is locked")

	root.AddCommand(
		newStatusCommand(opts),
		newUpCommand(opts),
		newToCommand(opts),
		newResetCommand(opts),
		newValidateCommand(opts),
		newStatsCommand(opts),
	)
	return root
}

// session is an initialized manager and runner for one command invocation.
type session struct {
	manager *sqlite.Manager
	runner  *migration.Runner
	retry   *sqlite.RetryHelper
	logger  *slog.Logger
}

func (o *options) open(cmd *cobra.Command) (*session, error) {
	cfg, err := o.config()
	if err != nil {
		return nil, err
	}

	level := cfg.Log.Level
	if o.verbose {
		level = "debug"
	}
	logger, err := logging.New(cmd.ErrOrStderr(), level, cfg.Log.Format)
	if err != nil {
		return nil, err
	}

	manager := sqlite.NewManager(cfg.SQLite(), logger)
	if err := manager.Initialize(cmd.Context()); err != nil {
		return nil, err
	}

	retryConfig := sqlite.DefaultRetryConfig()
	if o.noRetry {
		retryConfig.MaxRetries = 0
	}

	return &session{
		manager: manager,
		runner:  migration.NewRunner(manager, o.registry, logger),
		retry:   sqlite.NewRetryHelper(retryConfig, logger),
		logger:  logger,
	}, nil
}

func (o *options) config() (config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return config.Config{}, err
	}
	if o.dbPath != "" {
		cfg.Database.Path = o.dbPath
	}
	return cfg, nil
}

// withSession opens a session, runs fn and always cleans up.
func (o *options) withSession(cmd *cobra.Command, fn func(*session) error) (err error) {
	s, err := o.open(cmd)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := s.manager.Cleanup(); cerr != nil && err == nil {
			err = cerr
		}
	}()
	return fn(s)
}

func writeResults(w io.Writer, results []migration.Result) {
	if len(results) == 0 {
		fmt.Fprintln(w, "Nothing to do")
		return
	}
	for _, r := range results {
		verb := "Applied"
		if r.Direction == migration.Down {
			verb = "Reverted"
		}
		if !r.Success {
			fmt.Fprintf(w, "Failed   %d %s: %v\n", r.Version, r.Name, r.Err)
			continue
		}
		fmt.Fprintf(w, "%-8s %d %s (%s)\n", verb, r.Version, r.Name, r.ExecutionTime)
	}
}
