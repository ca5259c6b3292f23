package migration

import (
	"context"
	"fmt"
	"time"

	"github.com/example/fishbowl/internal/persistence/sqlite"
)

// TableName is the tracking table. Its creation is not a migration.
const TableName = "schema_migrations"

const createTrackingTable = `
CREATE TABLE IF NOT EXISTS schema_migrations (
	version INTEGER PRIMARY KEY,
	name TEXT NOT NULL,
	applied_at TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP,
	execution_time_ms INTEGER NOT NULL DEFAULT 0
)`

// sqliteTimestamp is the layout produced by CURRENT_TIMESTAMP.
const sqliteTimestamp = "2006-01-02 15:04:05"

func ensureTrackingTable(ctx context.Context, ex sqlite.Executor) error {
	if _, err := ex.ExecContext(ctx, createTrackingTable); err != nil {
		return fmt.Errorf("create %s table: %w", TableName, sqlite.MapError(err))
	}
	return nil
}

func loadRecords(ctx context.Context, ex sqlite.Executor) ([]Record, error) {
	rows, err := ex.QueryContext(ctx,
		"SELECT version, name, applied_at, execution_time_ms FROM schema_migrations ORDER BY version")
	if err != nil {
		return nil, fmt.Errorf("query applied migrations: %w", sqlite.MapError(err))
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		var (
			rec       Record
			appliedAt string
			execMs    int64
		)
		if err := rows.Scan(&rec.Version, &rec.Name, &appliedAt, &execMs); err != nil {
			return nil, fmt.Errorf("scan applied migration: %w", err)
		}
		rec.AppliedAt, err = parseAppliedAt(appliedAt)
		if err != nil {
			return nil, fmt.Errorf("parse applied_at for version %d: %w", rec.Version, err)
		}
		rec.ExecutionTime = time.Duration(execMs) * time.Millisecond
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate applied migrations: %w", err)
	}
	return records, nil
}

func parseAppliedAt(value string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return t.UTC(), nil
	}
	return time.ParseInLocation(sqliteTimestamp, value, time.UTC)
}

func insertRecord(ctx context.Context, ex sqlite.Executor, m Migration, appliedAt time.Time, elapsed time.Duration) error {
	_, err := ex.ExecContext(ctx,
		"INSERT INTO schema_migrations (version, name, applied_at, execution_time_ms) VALUES (?, ?, ?, ?)",
		m.Version, m.Name, appliedAt.UTC().Format(time.RFC3339Nano), elapsed.Milliseconds())
	if err != nil {
		return fmt.Errorf("record migration %d: %w", m.Version, sqlite.MapError(err))
	}
	return nil
}

func deleteRecord(ctx context.Context, ex sqlite.Executor, version int) error {
	res, err := ex.ExecContext(ctx, "DELETE FROM schema_migrations WHERE version = ?", version)
	if err != nil {
		return fmt.Errorf("remove migration record %d: %w", version, sqlite.MapError(err))
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("remove migration record %d: %w", version, sqlite.ErrNotFound)
	}
	return nil
}

func currentVersion(ctx context.Context, ex sqlite.Executor) (int, error) {
	var version int
	if err := ex.QueryRowContext(ctx, "SELECT COALESCE(MAX(version), 0) FROM schema_migrations").Scan(&version); err != nil {
		return 0, fmt.Errorf("read current version: %w", sqlite.MapError(err))
	}
	return version, nil
}

func maxVersion(records []Record) int {
	version := 0
	for _, rec := range records {
		if rec.Version > version {
			version = rec.Version
		}
	}
	return version
}
