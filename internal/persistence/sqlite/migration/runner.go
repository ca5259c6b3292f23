package migration

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/example/fishbowl/internal/persistence/sqlite"
)

// Option configures a Runner.
type Option func(*Runner)

// WithObserver registers an observer for step results and schema versions.
func WithObserver(observer Observer) Option {
	return func(r *Runner) {
		r.observer = observer
	}
}

// WithClock overrides the clock used for applied_at timestamps.
func WithClock(now func() time.Time) Option {
	return func(r *Runner) {
		if now != nil {
			r.now = now
		}
	}
}

// Runner applies and reverts the migrations of a Registry against a
// Database. Mutating calls on one Runner are serialized; running two
// Runners against the same database file concurrently is not supported.
type Runner struct {
	db       Database
	registry *Registry
	logger   *slog.Logger
	observer Observer
	now      func() time.Time

	mu sync.Mutex
}

// NewRunner creates a new Runner.
func NewRunner(db Database, registry *Registry, logger *slog.Logger, opts ...Option) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Runner{
		db:       db,
		registry: registry,
		logger:   logger.With("component", "migration"),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Registry returns the runner's registry.
func (r *Runner) Registry() *Registry {
	return r.registry
}

// Validate checks the registry without touching the database.
func (r *Runner) Validate() ValidationResult {
	return r.registry.Validate()
}

func (r *Runner) validate() error {
	result := r.registry.Validate()
	if result.Valid {
		r.logger.Debug("migration registry validated", "migrations", r.registry.Len())
		return nil
	}
	r.logger.Error("migration registry is invalid", "errors", result.Errors)
	return &ValidationError{Errors: result.Errors}
}

// CurrentVersion returns the highest applied version, or 0. The tracking
// table is created if it does not exist.
func (r *Runner) CurrentVersion(ctx context.Context) (int, error) {
	var version int
	err := r.db.WithConnection(ctx, func(conn *sqlite.Connection) error {
		if err := ensureTrackingTable(ctx, conn); err != nil {
			return err
		}
		var err error
		version, err = currentVersion(ctx, conn)
		return err
	})
	if err != nil {
		return 0, err
	}
	r.observeVersion(version)
	return version, nil
}

// Status diffs the registry against the applied records.
func (r *Runner) Status(ctx context.Context) (Status, error) {
	var records []Record
	err := r.db.WithConnection(ctx, func(conn *sqlite.Connection) error {
		if err := ensureTrackingTable(ctx, conn); err != nil {
			return err
		}
		var err error
		records, err = loadRecords(ctx, conn)
		return err
	})
	if err != nil {
		return Status{}, err
	}

	status := r.buildStatus(records)
	r.observeVersion(status.CurrentVersion)
	return status, nil
}

func (r *Runner) buildStatus(records []Record) Status {
	applied := make(map[int]bool, len(records))
	for _, rec := range records {
		applied[rec.Version] = true
	}

	pending := []Migration{}
	for _, m := range r.registry.All() {
		if !applied[m.Version] {
			pending = append(pending, m)
		}
	}
	if records == nil {
		records = []Record{}
	}

	current := maxVersion(records)
	latest := r.registry.LatestVersion()
	return Status{
		CurrentVersion: current,
		LatestVersion:  latest,
		Pending:        pending,
		Applied:        records,
		UpToDate:       current >= latest && len(pending) == 0,
	}
}

// RunUp executes m.Up on ex and records it. ex must be bound to an active
// transaction. On failure the returned Result carries the error and the
// elapsed time, and the error is a *StepError.
func (r *Runner) RunUp(ctx context.Context, ex sqlite.Executor, m Migration) (Result, error) {
	r.logger.Info("applying migration", "version", m.Version, "name", m.Name)

	start := time.Now()
	err := invoke(ctx, ex, m.Up)
	if err == nil {
		err = insertRecord(ctx, ex, m, r.now(), time.Since(start))
	}
	return r.finishStep(m, Up, start, err)
}

// RunDown executes m.Down on ex and removes its record. ex must be bound to
// an active transaction.
func (r *Runner) RunDown(ctx context.Context, ex sqlite.Executor, m Migration) (Result, error) {
	r.logger.Info("reverting migration", "version", m.Version, "name", m.Name)

	start := time.Now()
	err := invoke(ctx, ex, m.Down)
	if err == nil {
		err = deleteRecord(ctx, ex, m.Version)
	}
	return r.finishStep(m, Down, start, err)
}

// invoke runs a migration procedure, converting a panic into an error so the
// step is reported like any other failure.
func invoke(ctx context.Context, ex sqlite.Executor, fn Func) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("procedure panicked: %v", p)
		}
	}()
	return fn(ctx, ex)
}

func (r *Runner) finishStep(m Migration, dir Direction, start time.Time, err error) (Result, error) {
	result := Result{
		Version:       m.Version,
		Name:          m.Name,
		Direction:     dir,
		Success:       err == nil,
		ExecutionTime: time.Since(start),
	}

	if err != nil {
		stepErr := &StepError{Version: m.Version, Name: m.Name, Direction: dir, Err: err}
		result.Err = stepErr
		r.logger.Error("migration step failed",
			"version", m.Version,
			"name", m.Name,
			"direction", string(dir),
			"duration", result.ExecutionTime,
			"error", err)
		r.observeStep(result)
		return result, stepErr
	}

	r.logger.Info("migration step completed",
		"version", m.Version,
		"name", m.Name,
		"direction", string(dir),
		"duration", result.ExecutionTime)
	r.observeStep(result)
	return result, nil
}

// MigrateUp applies every pending migration in ascending order inside one
// transaction. It stops at the first failure and rolls back the whole run;
// the results produced so far are returned along with the error.
func (r *Runner) MigrateUp(ctx context.Context) ([]Result, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.validate(); err != nil {
		return nil, err
	}
	return r.applyPending(ctx)
}

// applyPending expects a validated registry.
func (r *Runner) applyPending(ctx context.Context) ([]Result, error) {
	return r.run(ctx, "migrate up", func(records []Record) ([]Migration, Direction, error) {
		applied := make(map[int]bool, len(records))
		for _, rec := range records {
			applied[rec.Version] = true
		}
		var steps []Migration
		for _, m := range r.registry.All() {
			if !applied[m.Version] {
				steps = append(steps, m)
			}
		}
		return steps, Up, nil
	})
}

// MigrateTo moves the schema to target. Forward steps cover
// current < version <= target in ascending order; backward steps cover
// target < version <= current in descending order. Any failure rolls back
// the entire call.
func (r *Runner) MigrateTo(ctx context.Context, target int) ([]Result, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.migrateTo(ctx, target)
}

func (r *Runner) migrateTo(ctx context.Context, target int) ([]Result, error) {
	if err := r.validate(); err != nil {
		return nil, err
	}

	latest := r.registry.LatestVersion()
	if target < 0 || target > latest {
		return nil, fmt.Errorf("%w: target %d is outside [0, %d]", ErrUnknownVersion, target, latest)
	}

	return r.run(ctx, fmt.Sprintf("migrate to %d", target), func(records []Record) ([]Migration, Direction, error) {
		current := maxVersion(records)
		switch {
		case target > current:
			var steps []Migration
			for _, m := range r.registry.All() {
				if m.Version > current && m.Version <= target {
					steps = append(steps, m)
				}
			}
			return steps, Up, nil

		case target < current:
			var steps []Migration
			for _, rec := range slices.Backward(records) {
				if rec.Version <= target {
					break
				}
				m, ok := r.registry.ByVersion(rec.Version)
				if !ok {
					return nil, Down, fmt.Errorf("%w: applied version %d (%s) is not registered", ErrUnknownVersion, rec.Version, rec.Name)
				}
				steps = append(steps, m)
			}
			return steps, Down, nil
		}
		return nil, Up, nil
	})
}

// Reset reverts every applied migration.
func (r *Runner) Reset(ctx context.Context) ([]Result, error) {
	return r.MigrateTo(ctx, 0)
}

// InitializeSchema validates the registry, applies pending migrations and
// re-reads the status. Any failed step or migration left pending is
// reported as a *SchemaError.
func (r *Runner) InitializeSchema(ctx context.Context) (Status, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.validate(); err != nil {
		return Status{}, err
	}

	results, runErr := r.applyPending(ctx)

	status, err := r.Status(ctx)
	if err != nil {
		return Status{}, errors.Join(runErr, fmt.Errorf("read schema status: %w", err))
	}

	if runErr == nil && status.UpToDate {
		r.logger.Info("schema is up to date",
			"version", status.CurrentVersion,
			"applied", len(results))
		return status, nil
	}

	schemaErr := &SchemaError{Pending: status.Pending, Err: runErr}
	for _, res := range results {
		if !res.Success {
			schemaErr.Failed = append(schemaErr.Failed, res)
		}
	}
	r.logger.Error("schema initialization failed",
		"version", status.CurrentVersion,
		"latest_version", status.LatestVersion,
		"pending", len(status.Pending),
		"error", schemaErr)
	return status, schemaErr
}

type planFunc func(records []Record) ([]Migration, Direction, error)

// run executes the steps chosen by plan inside one outer transaction. Steps
// are detached from ctx cancellation; ctx is checked between steps and
// before commit, and cancellation rolls back the whole run.
func (r *Runner) run(ctx context.Context, op string, plan planFunc) ([]Result, error) {
	detached := context.WithoutCancel(ctx)
	start := time.Now()

	var (
		results []Result
		final   int
	)
	err := r.db.WithTransaction(detached, func(tx *sqlite.Transaction) error {
		return tx.Connection().Serialize(detached, func(ex sqlite.Executor) error {
			if err := ensureTrackingTable(detached, ex); err != nil {
				return err
			}
			records, err := loadRecords(detached, ex)
			if err != nil {
				return err
			}

			steps, dir, err := plan(records)
			if err != nil {
				return err
			}
			if len(steps) == 0 {
				final = maxVersion(records)
				return nil
			}

			r.logger.Info("migration run starting",
				"operation", op,
				"direction", string(dir),
				"from_version", maxVersion(records),
				"steps", len(steps))

			for _, m := range steps {
				if err := ctx.Err(); err != nil {
					return fmt.Errorf("%w before migration %d: %w", ErrInterrupted, m.Version, err)
				}

				var res Result
				if dir == Up {
					res, err = r.RunUp(detached, ex, m)
				} else {
					res, err = r.RunDown(detached, ex, m)
				}
				results = append(results, res)
				if err != nil {
					return err
				}
			}

			if err := ctx.Err(); err != nil {
				return fmt.Errorf("%w before commit: %w", ErrInterrupted, err)
			}

			final, err = currentVersion(detached, ex)
			return err
		})
	})
	if err != nil {
		r.logger.Error("migration run rolled back",
			"operation", op,
			"attempted", len(results),
			"duration", time.Since(start),
			"error", err)
		return results, err
	}

	if len(results) > 0 {
		r.logger.Info("migration run committed",
			"operation", op,
			"version", final,
			"steps", len(results),
			"duration", time.Since(start))
	}
	r.observeVersion(final)
	return results, nil
}

func (r *Runner) observeStep(result Result) {
	if r.observer != nil {
		r.observer.ObserveStep(result)
	}
}

func (r *Runner) observeVersion(version int) {
	if r.observer != nil {
		r.observer.ObserveVersion(version)
	}
}
