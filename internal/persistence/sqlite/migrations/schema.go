package migrations

import (
	"context"
	"fmt"
	"slices"

	"github.com/example/fishbowl/internal/persistence/sqlite"
)

// tablesByVersion lists the tables each migration introduces.
var tablesByVersion = map[int][]string{
	1: {"games", "teams", "players", "phrases"},
	2: {"turns"},
	3: {"game_settings"},
}

// ExpectedTables returns the application tables present at version, sorted.
func ExpectedTables(version int) []string {
	var tables []string
	for v := 1; v <= version; v++ {
		tables = append(tables, tablesByVersion[v]...)
	}
	slices.Sort(tables)
	return tables
}

// ValidateSchema checks that exactly the tables expected at version exist,
// ignoring SQLite internals and the tracking table.
func ValidateSchema(ctx context.Context, ex sqlite.Executor, version int) error {
	actual, err := Tables(ctx, ex)
	if err != nil {
		return err
	}

	expected := ExpectedTables(version)
	var missing, unexpected []string
	for _, name := range expected {
		if !slices.Contains(actual, name) {
			missing = append(missing, name)
		}
	}
	for _, name := range actual {
		if !slices.Contains(expected, name) {
			unexpected = append(unexpected, name)
		}
	}

	if len(missing) > 0 || len(unexpected) > 0 {
		return fmt.Errorf("schema does not match version %d: missing %v, unexpected %v", version, missing, unexpected)
	}
	return nil
}

// Tables lists application tables, sorted by name.
func Tables(ctx context.Context, ex sqlite.Executor) ([]string, error) {
	rows, err := ex.QueryContext(ctx, `
		SELECT name FROM sqlite_master
		WHERE type = 'table'
			AND name NOT LIKE 'sqlite_%'
			AND name != 'schema_migrations'
		ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("list tables: %w", sqlite.MapError(err))
	}
	defer rows.Close()

	var tables []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scan table name: %w", err)
		}
		tables = append(tables, name)
	}
	return tables, rows.Err()
}
