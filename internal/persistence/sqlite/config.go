package sqlite

import (
	"fmt"
	"strings"
	"time"
)

// MemoryPath opens a private in-memory database. Every Connection opened for
// this path sees its own empty database, so it is only useful for single
// connection checks.
const MemoryPath = ":memory:"

// Config holds SQLite connection settings shared by every Connection a
// Manager opens.
type Config struct {
	// Path is the database file. Its directory is created on Initialize.
	Path string

	// BusyTimeout sets how long a writer waits for the database lock.
	BusyTimeout time.Duration

	// MaxConnections is a soft limit on concurrently open connections.
	// Exceeding it is logged, not refused.
	MaxConnections int

	// JournalMode sets the SQLite journal mode (WAL, DELETE, TRUNCATE, etc.)
	JournalMode string

	// Synchronous sets the synchronous mode (OFF, NORMAL, FULL, EXTRA)
	Synchronous string

	// ForeignKeys enables foreign key constraint checking
	ForeignKeys bool
}

// DefaultConfig returns a configuration with sensible defaults for the
// given database file.
func DefaultConfig(path string) Config {
	return Config{
		Path:           path,
		BusyTimeout:    5 * time.Second,
		MaxConnections: 10,
		JournalMode:    "WAL",
		Synchronous:    "NORMAL",
		ForeignKeys:    true,
	}
}

// TestConfig returns a configuration tuned for temporary test databases.
func TestConfig(path string) Config {
	return Config{
		Path:           path,
		BusyTimeout:    2 * time.Second,
		MaxConnections: 4,
		JournalMode:    "MEMORY",
		Synchronous:    "OFF",
		ForeignKeys:    true,
	}
}

var validJournalModes = map[string]bool{
	"DELETE":   true,
	"TRUNCATE": true,
	"PERSIST":  true,
	"MEMORY":   true,
	"WAL":      true,
	"OFF":      true,
}

var validSyncModes = map[string]bool{
	"OFF":    true,
	"NORMAL": true,
	"FULL":   true,
	"EXTRA":  true,
}

// Validate reports the first invalid setting.
func (c Config) Validate() error {
	if strings.TrimSpace(c.Path) == "" {
		return fmt.Errorf("database path cannot be empty")
	}
	if c.BusyTimeout < 0 {
		return fmt.Errorf("busy timeout cannot be negative")
	}
	if c.MaxConnections < 0 {
		return fmt.Errorf("max connections cannot be negative")
	}
	if !ValidJournalMode(c.JournalMode) {
		return fmt.Errorf("invalid journal mode: %s", c.JournalMode)
	}
	if !ValidSynchronous(c.Synchronous) {
		return fmt.Errorf("invalid synchronous mode: %s", c.Synchronous)
	}
	return nil
}

// ValidJournalMode reports whether mode is empty or a SQLite journal mode.
func ValidJournalMode(mode string) bool {
	return mode == "" || validJournalModes[strings.ToUpper(mode)]
}

// ValidSynchronous reports whether mode is empty or a SQLite synchronous mode.
func ValidSynchronous(mode string) bool {
	return mode == "" || validSyncModes[strings.ToUpper(mode)]
}

// pragmas returns the statements applied to every new connection, in order.
func (c Config) pragmas() []string {
	statements := []string{
		fmt.Sprintf("PRAGMA busy_timeout = %d", c.BusyTimeout.Milliseconds()),
	}
	if c.JournalMode != "" && c.Path != MemoryPath {
		statements = append(statements, fmt.Sprintf("PRAGMA journal_mode = %s", strings.ToUpper(c.JournalMode)))
	}
	if c.Synchronous != "" {
		statements = append(statements, fmt.Sprintf("PRAGMA synchronous = %s", strings.ToUpper(c.Synchronous)))
	}
	if c.ForeignKeys {
		statements = append(statements, "PRAGMA foreign_keys = ON")
	} else {
		statements = append(statements, "PRAGMA foreign_keys = OFF")
	}
	return statements
}
