package migration_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/fishbowl/internal/persistence/sqlite"
	"github.com/example/fishbowl/internal/persistence/sqlite/migration"
	"github.com/example/fishbowl/internal/testfixtures"
)

func createTable(version int, table string) migration.Migration {
	return migration.Migration{
		Version: version,
		Name:    "create_" + table,
		Up: func(ctx context.Context, ex sqlite.Executor) error {
			_, err := ex.ExecContext(ctx, fmt.Sprintf("CREATE TABLE %s (id INTEGER PRIMARY KEY)", table))
			return err
		},
		Down: func(ctx context.Context, ex sqlite.Executor) error {
			_, err := ex.ExecContext(ctx, fmt.Sprintf("DROP TABLE %s", table))
			return err
		},
	}
}

func failing(version int, name string, err error) migration.Migration {
	return migration.Migration{
		Version: version,
		Name:    name,
		Up:      func(context.Context, sqlite.Executor) error { return err },
		Down:    func(context.Context, sqlite.Executor) error { return err },
	}
}

type recordingObserver struct {
	mu       sync.Mutex
	steps    []migration.Result
	versions []int
}

func (o *recordingObserver) ObserveStep(result migration.Result) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.steps = append(o.steps, result)
}

func (o *recordingObserver) ObserveVersion(version int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.versions = append(o.versions, version)
}

func newRunner(t *testing.T, migrations ...migration.Migration) (*migration.Runner, *testfixtures.SQLiteHarness) {
	t.Helper()

	h := testfixtures.NewSQLiteHarness(t)
	return migration.NewRunner(h.Manager, migration.NewRegistry(migrations...), h.Logs.Logger()), h
}

func trackedVersions(t *testing.T, h *testfixtures.SQLiteHarness) []int {
	t.Helper()

	versions := []int{}
	err := h.Manager.WithConnection(context.Background(), func(conn *sqlite.Connection) error {
		rows, err := conn.QueryContext(context.Background(), "SELECT version FROM schema_migrations ORDER BY version")
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var v int
			if err := rows.Scan(&v); err != nil {
				return err
			}
			versions = append(versions, v)
		}
		return rows.Err()
	})
	require.NoError(t, err)
	return versions
}

func TestStatusOnEmptyDatabase(t *testing.T) {
	ctx := context.Background()
	runner, h := newRunner(t, createTable(1, "games"))

	status, err := runner.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, status.CurrentVersion)
	assert.Equal(t, 1, status.LatestVersion)
	require.Len(t, status.Pending, 1)
	assert.Equal(t, 1, status.Pending[0].Version)
	assert.Empty(t, status.Applied)
	assert.False(t, status.UpToDate)
	assert.True(t, h.TableExists(t, migration.TableName), "status bootstraps the tracking table")

	results, err := runner.MigrateUp(ctx)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.True(t, results[0].Success)
	assert.Equal(t, migration.Up, results[0].Direction)

	status, err = runner.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, status.CurrentVersion)
	assert.Equal(t, 1, status.LatestVersion)
	assert.Empty(t, status.Pending)
	assert.True(t, status.UpToDate)
	require.Len(t, status.Applied, 1)
	assert.Equal(t, "create_games", status.Applied[0].Name)
	assert.Equal(t, []int{1}, trackedVersions(t, h))
}

func TestCurrentVersionBootstrapsTrackingTable(t *testing.T) {
	runner, h := newRunner(t)

	version, err := runner.CurrentVersion(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, version)
	assert.True(t, h.TableExists(t, migration.TableName))
}

func TestMigrateUpIsIdempotent(t *testing.T) {
	ctx := context.Background()
	runner, h := newRunner(t, createTable(1, "games"), createTable(2, "teams"))

	results, err := runner.MigrateUp(ctx)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, 1, results[0].Version)
	assert.Equal(t, 2, results[1].Version)

	before, err := runner.Status(ctx)
	require.NoError(t, err)

	results, err = runner.MigrateUp(ctx)
	require.NoError(t, err)
	assert.Empty(t, results)

	after, err := runner.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, before.Applied, after.Applied)
	assert.Equal(t, []int{1, 2}, trackedVersions(t, h))
}

func TestMigrateUpFailsFastAndRollsBack(t *testing.T) {
	ctx := context.Background()
	boom := errors.New("syntax error near TABLE")

	third := createTable(3, "players")
	thirdUp := third.Up
	thirdCalled := false
	third.Up = func(ctx context.Context, ex sqlite.Executor) error {
		thirdCalled = true
		return thirdUp(ctx, ex)
	}

	runner, h := newRunner(t, createTable(1, "games"), failing(2, "broken", boom), third)

	before, err := runner.CurrentVersion(ctx)
	require.NoError(t, err)

	results, err := runner.MigrateUp(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, migration.ErrMigrationFailed)
	assert.ErrorIs(t, err, boom)

	var stepErr *migration.StepError
	require.ErrorAs(t, err, &stepErr)
	assert.Equal(t, 2, stepErr.Version)
	assert.Equal(t, "broken", stepErr.Name)
	assert.Equal(t, migration.Up, stepErr.Direction)

	require.Len(t, results, 2)
	assert.True(t, results[0].Success)
	assert.False(t, results[1].Success)
	assert.ErrorIs(t, results[1].Err, boom)
	assert.False(t, thirdCalled, "migrations after a failure must not run")

	after, err := runner.CurrentVersion(ctx)
	require.NoError(t, err)
	assert.Equal(t, before, after)
	assert.False(t, h.TableExists(t, "games"), "earlier steps share the outer transaction")
	assert.Equal(t, 0, h.Manager.OpenConnections())
}

func TestMigrateToForwardAndBackward(t *testing.T) {
	ctx := context.Background()

	var downOrder []int
	tracked := func(m migration.Migration) migration.Migration {
		down := m.Down
		m.Down = func(ctx context.Context, ex sqlite.Executor) error {
			downOrder = append(downOrder, m.Version)
			return down(ctx, ex)
		}
		return m
	}
	runner, h := newRunner(t,
		tracked(createTable(1, "games")),
		tracked(createTable(2, "teams")),
		tracked(createTable(3, "players")),
	)

	results, err := runner.MigrateTo(ctx, 2)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, []int{1, 2}, trackedVersions(t, h))
	assert.False(t, h.TableExists(t, "players"))

	results, err = runner.MigrateTo(ctx, 2)
	require.NoError(t, err)
	assert.Empty(t, results, "migrating to the current version is a no-op")

	_, err = runner.MigrateTo(ctx, 3)
	require.NoError(t, err)

	results, err = runner.MigrateTo(ctx, 1)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, migration.Down, results[0].Direction)
	assert.Equal(t, []int{3, 2}, downOrder, "backward steps run in descending order")
	assert.Equal(t, []int{1}, trackedVersions(t, h))
	assert.True(t, h.TableExists(t, "games"))
	assert.False(t, h.TableExists(t, "teams"))

	results, err = runner.Reset(ctx)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Empty(t, trackedVersions(t, h))
	assert.False(t, h.TableExists(t, "games"))

	version, err := runner.CurrentVersion(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, version)
}

func TestMigrateToRejectsUnknownTargets(t *testing.T) {
	ctx := context.Background()
	runner, h := newRunner(t, createTable(1, "games"))

	for _, target := range []int{-1, 2} {
		_, err := runner.MigrateTo(ctx, target)
		assert.ErrorIs(t, err, migration.ErrUnknownVersion, "target %d", target)
	}
	assert.False(t, h.TableExists(t, migration.TableName), "rejected targets must not touch the database")
}

func TestBackwardFailureRollsBackEntireCall(t *testing.T) {
	ctx := context.Background()
	boom := errors.New("cannot drop")

	second := createTable(2, "teams")
	second.Down = func(context.Context, sqlite.Executor) error { return boom }
	runner, h := newRunner(t, createTable(1, "games"), second, createTable(3, "players"))

	_, err := runner.MigrateUp(ctx)
	require.NoError(t, err)

	results, err := runner.Reset(ctx)
	require.ErrorIs(t, err, boom)
	require.Len(t, results, 2)
	assert.Equal(t, 3, results[0].Version)
	assert.True(t, results[0].Success)
	assert.Equal(t, 2, results[1].Version)
	assert.False(t, results[1].Success)

	version, err := runner.CurrentVersion(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, version)
	assert.True(t, h.TableExists(t, "players"), "reverted step 3 must be restored by the rollback")
	assert.Equal(t, []int{1, 2, 3}, trackedVersions(t, h))
}

func TestMigrateToFailsForUnregisteredAppliedVersion(t *testing.T) {
	ctx := context.Background()
	h := testfixtures.NewSQLiteHarness(t)

	full := migration.NewRunner(h.Manager, migration.NewRegistry(createTable(1, "games"), createTable(2, "teams")), nil)
	_, err := full.MigrateUp(ctx)
	require.NoError(t, err)

	partial := migration.NewRunner(h.Manager, migration.NewRegistry(createTable(1, "games")), nil)
	_, err = partial.MigrateTo(ctx, 0)
	require.ErrorIs(t, err, migration.ErrUnknownVersion)
	assert.Equal(t, []int{1, 2}, trackedVersions(t, h))
}

func TestInvalidRegistryBlocksSchemaWork(t *testing.T) {
	ctx := context.Background()
	runner, h := newRunner(t, createTable(1, "games"), createTable(3, "players"))

	result := runner.Validate()
	assert.False(t, result.Valid)
	assert.Contains(t, result.Errors, "gap in migration versions between 1 and 3")

	_, err := runner.MigrateUp(ctx)
	var validationErr *migration.ValidationError
	require.ErrorAs(t, err, &validationErr)
	assert.ErrorIs(t, err, migration.ErrInvalidRegistry)

	_, err = runner.MigrateTo(ctx, 1)
	assert.ErrorIs(t, err, migration.ErrInvalidRegistry)

	_, err = runner.InitializeSchema(ctx)
	assert.ErrorIs(t, err, migration.ErrInvalidRegistry)

	assert.False(t, h.TableExists(t, "games"))
	assert.False(t, h.TableExists(t, migration.TableName))
}

func TestInitializeSchema(t *testing.T) {
	ctx := context.Background()
	runner, h := newRunner(t, createTable(1, "games"), createTable(2, "teams"))

	status, err := runner.InitializeSchema(ctx)
	require.NoError(t, err)
	assert.True(t, status.UpToDate)
	assert.Equal(t, 2, status.CurrentVersion)
	assert.True(t, h.TableExists(t, "teams"))
	assert.Equal(t, 1, h.Logs.Count("migration registry validated"), "registry is validated once per call")

	status, err = runner.InitializeSchema(ctx)
	require.NoError(t, err)
	assert.True(t, status.UpToDate)
}

func TestPanickingStepIsReportedAndRolledBack(t *testing.T) {
	ctx := context.Background()
	panicking := migration.Migration{
		Version: 2,
		Name:    "add_scores",
		Up:      func(context.Context, sqlite.Executor) error { panic("kaboom") },
		Down:    func(context.Context, sqlite.Executor) error { panic("kaboom") },
	}
	observer := &recordingObserver{}
	h := testfixtures.NewSQLiteHarness(t)
	runner := migration.NewRunner(h.Manager,
		migration.NewRegistry(createTable(1, "games"), panicking, createTable(3, "players")),
		h.Logs.Logger(), migration.WithObserver(observer))

	results, err := runner.MigrateUp(ctx)
	require.ErrorIs(t, err, migration.ErrMigrationFailed)

	var stepErr *migration.StepError
	require.ErrorAs(t, err, &stepErr)
	assert.Equal(t, 2, stepErr.Version)
	assert.Contains(t, err.Error(), "procedure panicked: kaboom")

	require.Len(t, results, 2)
	assert.True(t, results[0].Success)
	assert.False(t, results[1].Success)
	assert.Equal(t, "add_scores", results[1].Name)
	assert.Error(t, results[1].Err)

	observer.mu.Lock()
	assert.Len(t, observer.steps, 2)
	observer.mu.Unlock()

	assert.Empty(t, trackedVersions(t, h))
	assert.False(t, h.TableExists(t, "games"))
	assert.Equal(t, 0, h.Manager.OpenConnections())
}

func TestInitializeSchemaReportsFailures(t *testing.T) {
	ctx := context.Background()
	boom := errors.New("no such column: name")
	runner, h := newRunner(t, createTable(1, "games"), failing(2, "add_names", boom), createTable(3, "players"))

	status, err := runner.InitializeSchema(ctx)

	var schemaErr *migration.SchemaError
	require.ErrorAs(t, err, &schemaErr)
	assert.ErrorIs(t, err, boom)
	require.Len(t, schemaErr.Failed, 1)
	assert.Equal(t, 2, schemaErr.Failed[0].Version)
	assert.Equal(t, "add_names", schemaErr.Failed[0].Name)
	assert.Len(t, schemaErr.Pending, 3)
	assert.Contains(t, err.Error(), "migration 2 (add_names) failed")
	assert.Contains(t, err.Error(), boom.Error())

	assert.Equal(t, 0, status.CurrentVersion, "database stays at its pre-call version")
	assert.False(t, h.TableExists(t, "games"))
}

func TestCancellationBetweenStepsRollsBack(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	first := createTable(1, "games")
	firstUp := first.Up
	first.Up = func(stepCtx context.Context, ex sqlite.Executor) error {
		cancel()
		// The step itself runs to completion.
		require.NoError(t, stepCtx.Err())
		return firstUp(stepCtx, ex)
	}
	runner, h := newRunner(t, first, createTable(2, "teams"))

	results, err := runner.MigrateUp(ctx)
	require.ErrorIs(t, err, migration.ErrInterrupted)
	require.ErrorIs(t, err, context.Canceled)
	require.Len(t, results, 1)
	assert.True(t, results[0].Success)

	version, err := runner.CurrentVersion(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, version)
	assert.False(t, h.TableExists(t, "games"))
}

func TestRunnerRecordsAppliedAtAndNotifiesObserver(t *testing.T) {
	ctx := context.Background()
	h := testfixtures.NewSQLiteHarness(t)
	clock := testfixtures.NewClock(time.Time{}, time.Minute)
	observer := &recordingObserver{}

	runner := migration.NewRunner(h.Manager,
		migration.NewRegistry(createTable(1, "games"), createTable(2, "teams")),
		h.Logs.Logger(),
		migration.WithClock(clock.Now),
		migration.WithObserver(observer))

	_, err := runner.MigrateUp(ctx)
	require.NoError(t, err)

	status, err := runner.Status(ctx)
	require.NoError(t, err)
	require.Len(t, status.Applied, 2)
	assert.True(t, status.Applied[0].AppliedAt.Equal(testfixtures.ReferenceTime()))
	assert.True(t, status.Applied[1].AppliedAt.Equal(testfixtures.ReferenceTime().Add(time.Minute)))
	assert.GreaterOrEqual(t, status.Applied[0].ExecutionTime, time.Duration(0))

	observer.mu.Lock()
	defer observer.mu.Unlock()
	require.Len(t, observer.steps, 2)
	assert.True(t, observer.steps[0].Success)
	assert.Equal(t, []int{2, 2}, observer.versions, "one version after the run and one after Status")
}

func TestRunUpOnCallerTransaction(t *testing.T) {
	ctx := context.Background()
	runner, h := newRunner(t, createTable(1, "games"))
	m, _ := runner.Registry().ByVersion(1)

	_, err := runner.CurrentVersion(ctx)
	require.NoError(t, err)

	err = h.Manager.WithTransaction(ctx, func(tx *sqlite.Transaction) error {
		result, err := runner.RunUp(ctx, tx, m)
		if err != nil {
			return err
		}
		assert.True(t, result.Success)

		result, err = runner.RunDown(ctx, tx, m)
		if err != nil {
			return err
		}
		assert.Equal(t, migration.Down, result.Direction)
		return nil
	})
	require.NoError(t, err)
	assert.Empty(t, trackedVersions(t, h))
	assert.False(t, h.TableExists(t, "games"))
}

func TestConcurrentMigrateUpAppliesOnce(t *testing.T) {
	ctx := context.Background()
	runner, h := newRunner(t, createTable(1, "games"), createTable(2, "teams"))

	var (
		wg    sync.WaitGroup
		mu    sync.Mutex
		total int
	)
	for range 4 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results, err := runner.MigrateUp(ctx)
			assert.NoError(t, err)
			mu.Lock()
			total += len(results)
			mu.Unlock()
		}()
	}
	wg.Wait()

	assert.Equal(t, 2, total)
	assert.Equal(t, []int{1, 2}, trackedVersions(t, h))
}
