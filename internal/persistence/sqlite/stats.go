package sqlite

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"
)

// Stats describes the schema objects and file backing a database.
type Stats struct {
	Path        string    `json:"path"`
	SizeBytes   int64     `json:"size_bytes"` // Main file plus -wal and -shm
	WALBytes    int64     `json:"wal_bytes"`
	ModifiedAt  time.Time `json:"modified_at,omitzero"`
	Tables      int       `json:"tables"`
	Indexes     int       `json:"indexes"`
	Views       int       `json:"views"`
	Triggers    int       `json:"triggers"`
	PageSize    int64     `json:"page_size"`
	PageCount   int64     `json:"page_count"`
	JournalMode string    `json:"journal_mode"`
}

const schemaObjectCountsQuery = `
SELECT type, COUNT(*)
FROM sqlite_master
WHERE name NOT LIKE 'sqlite_%'
GROUP BY type
`

// Stats reports schema object counts and file metadata using a short-lived
// connection that is always released.
func (m *Manager) Stats(ctx context.Context) (Stats, error) {
	stats := Stats{Path: m.config.Path}

	err := m.WithConnection(ctx, func(conn *Connection) error {
		rows, err := conn.QueryContext(ctx, schemaObjectCountsQuery)
		if err != nil {
			return fmt.Errorf("count schema objects: %w", MapError(err))
		}
		defer rows.Close()

		for rows.Next() {
			var kind string
			var count int
			if err := rows.Scan(&kind, &count); err != nil {
				return fmt.Errorf("scan schema object count: %w", err)
			}
			switch kind {
			case "table":
				stats.Tables = count
			case "index":
				stats.Indexes = count
			case "view":
				stats.Views = count
			case "trigger":
				stats.Triggers = count
			}
		}
		if err := rows.Err(); err != nil {
			return fmt.Errorf("iterate schema object counts: %w", err)
		}

		if err := conn.QueryRowContext(ctx, "PRAGMA page_size").Scan(&stats.PageSize); err != nil {
			return fmt.Errorf("read page size: %w", MapError(err))
		}
		if err := conn.QueryRowContext(ctx, "PRAGMA page_count").Scan(&stats.PageCount); err != nil {
			return fmt.Errorf("read page count: %w", MapError(err))
		}
		if err := conn.QueryRowContext(ctx, "PRAGMA journal_mode").Scan(&stats.JournalMode); err != nil {
			return fmt.Errorf("read journal mode: %w", MapError(err))
		}
		return nil
	})
	if err != nil {
		return Stats{}, err
	}

	if stats.Path != MemoryPath {
		size, modified, err := fileInfo(stats.Path)
		if err != nil {
			return Stats{}, fmt.Errorf("stat database file: %w", err)
		}
		stats.SizeBytes = size
		stats.ModifiedAt = modified

		// Recent writes in WAL mode live in the sidecar files until a
		// checkpoint folds them into the main file.
		for _, suffix := range []string{"-wal", "-shm"} {
			size, _, err := fileInfo(stats.Path + suffix)
			if err != nil {
				return Stats{}, fmt.Errorf("stat database %s file: %w", suffix, err)
			}
			stats.SizeBytes += size
			if suffix == "-wal" {
				stats.WALBytes = size
			}
		}
	}

	return stats, nil
}

// fileInfo returns the size and UTC modification time of path, or zero
// values when it does not exist.
func fileInfo(path string) (int64, time.Time, error) {
	info, err := os.Stat(path)
	switch {
	case err == nil:
		return info.Size(), info.ModTime().UTC(), nil
	case errors.Is(err, os.ErrNotExist):
		return 0, time.Time{}, nil
	default:
		return 0, time.Time{}, err
	}
}
