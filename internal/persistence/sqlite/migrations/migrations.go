// Package migrations is the compile-time catalog of fishbowl schema
// migrations.
package migrations

import (
	"context"

	"github.com/example/fishbowl/internal/persistence/sqlite"
	"github.com/example/fishbowl/internal/persistence/sqlite/migration"
)

// All returns every fishbowl migration in version order.
func All() []migration.Migration {
	return []migration.Migration{
		initialSchema,
		addTurns,
		addGameSettings,
	}
}

// Registry returns a registry holding All.
func Registry() *migration.Registry {
	return migration.NewRegistry(All()...)
}

// statements adapts a fixed list of SQL statements to a migration procedure.
func statements(stmts ...string) migration.Func {
	return func(ctx context.Context, ex sqlite.Executor) error {
		return sqlite.ExecBatch(ctx, ex, stmts)
	}
}
