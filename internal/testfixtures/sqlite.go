package testfixtures

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/example/fishbowl/internal/persistence/sqlite"
)

// SQLiteHarness is an initialized Manager backed by a database file in a
// temporary directory. Logs are captured for assertions.
type SQLiteHarness struct {
	Manager *sqlite.Manager
	Path    string
	Logs    *LogBuffer
}

// NewSQLiteHarness constructs and initializes a SQLiteHarness. Cleanup is
// registered with tb.
func NewSQLiteHarness(tb testing.TB) *SQLiteHarness {
	tb.Helper()

	path := filepath.Join(tb.TempDir(), "data", "fishbowl.db")
	return NewSQLiteHarnessWithConfig(tb, sqlite.TestConfig(path))
}

// NewSQLiteHarnessWithConfig is NewSQLiteHarness with an explicit config.
func NewSQLiteHarnessWithConfig(tb testing.TB, config sqlite.Config) *SQLiteHarness {
	tb.Helper()

	logs := &LogBuffer{}
	manager := sqlite.NewManager(config, logs.Logger())
	if err := manager.Initialize(context.Background()); err != nil {
		tb.Fatalf("failed to initialize database: %v", err)
	}

	tb.Cleanup(func() {
		if err := manager.Cleanup(); err != nil {
			tb.Errorf("failed to clean up database: %v", err)
		}
	})

	return &SQLiteHarness{
		Manager: manager,
		Path:    config.Path,
		Logs:    logs,
	}
}

// TableExists reports whether a table named name exists.
func (h *SQLiteHarness) TableExists(tb testing.TB, name string) bool {
	tb.Helper()

	var count int
	err := h.Manager.WithConnection(context.Background(), func(conn *sqlite.Connection) error {
		return conn.QueryRowContext(context.Background(),
			"SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = ?", name).Scan(&count)
	})
	if err != nil {
		tb.Fatalf("failed to look up table %s: %v", name, err)
	}
	return count == 1
}
