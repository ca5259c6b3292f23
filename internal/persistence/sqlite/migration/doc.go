// Package migration evolves a SQLite schema through a fixed, versioned
// catalog of reversible migrations.
//
// Migrations are compiled into the binary and registered with a Registry.
// Each carries a version, a name and a pair of Up/Down procedures that
// receive a narrow sqlite.Executor. The Runner compares the Registry with
// the schema_migrations tracking table and applies or reverts steps:
//
//   - forward steps run in ascending version order, backward steps in
//     descending order
//   - every MigrateUp, MigrateTo or Reset call runs inside one outer
//     transaction, so a failed step rolls back every earlier step of the
//     same call
//   - a step's record is written only after Up succeeds and deleted only
//     after Down succeeds
//   - the Registry is validated before any schema work; versions must be
//     exactly 1..N
//
// The tracking table is created on first use and is not itself a migration.
//
// Example usage:
//
//	runner := migration.NewRunner(manager, migrations.Registry(), logger)
//	status, err := runner.InitializeSchema(ctx)
//	if err != nil {
//		logger.Error("schema initialization failed", "error", err)
//		os.Exit(1)
//	}
package migration
