package sqlite

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrNotInitialized is returned when a Manager is used before Initialize.
	ErrNotInitialized = errors.New("sqlite: manager not initialized")

	// ErrConnectionClosed is returned by operations on a closed Connection.
	ErrConnectionClosed = errors.New("sqlite: connection closed")

	// ErrNotFound wraps sql.ErrNoRows after MapError.
	ErrNotFound = errors.New("sqlite: record not found")

	// ErrDatabaseLocked indicates the writer lock could not be obtained in time.
	ErrDatabaseLocked = errors.New("sqlite: database is locked")

	// ErrConstraint indicates a UNIQUE, FOREIGN KEY, CHECK or NOT NULL violation.
	ErrConstraint = errors.New("sqlite: constraint violation")
)

// InitializationError reports that the storage location is unusable. It is
// fatal: no work should proceed without a verified database.
type InitializationError struct {
	Path string // Database file path
	Op   string // Step that failed (create directory, health query, ...)
	Err  error  // Underlying error
}

// Error implements the error interface
func (e *InitializationError) Error() string {
	return fmt.Sprintf("sqlite: initialize %s: %s: %v", e.Path, e.Op, e.Err)
}

// Unwrap returns the underlying error
func (e *InitializationError) Unwrap() error {
	return e.Err
}

// ConnectionError reports that a physical handle could not be opened or
// configured. Retrying is left to the caller.
type ConnectionError struct {
	Path string
	Op   string
	Err  error
}

// Error implements the error interface
func (e *ConnectionError) Error() string {
	return fmt.Sprintf("sqlite: connection to %s: %s: %v", e.Path, e.Op, e.Err)
}

// Unwrap returns the underlying error
func (e *ConnectionError) Unwrap() error {
	return e.Err
}

// TransactionError reports a failed BEGIN, COMMIT or ROLLBACK.
type TransactionError struct {
	ConnectionID string
	Op           string // begin, commit or rollback
	Err          error
}

// Error implements the error interface
func (e *TransactionError) Error() string {
	return fmt.Sprintf("sqlite: %s transaction on connection %s: %v", e.Op, e.ConnectionID, e.Err)
}

// Unwrap returns the underlying error
func (e *TransactionError) Unwrap() error {
	return e.Err
}

// MapError classifies driver errors into the package sentinels while keeping
// the original error in the chain.
func MapError(err error) error {
	if err == nil {
		return nil
	}

	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: %w", ErrNotFound, err)
	}

	msg := err.Error()
	switch {
	case containsAny(msg, "database is locked", "database table is locked", "SQLITE_BUSY", "database is busy"):
		return fmt.Errorf("%w: %w", ErrDatabaseLocked, err)
	case containsAny(msg, "constraint failed", "FOREIGN KEY constraint", "SQLITE_CONSTRAINT"):
		return fmt.Errorf("%w: %w", ErrConstraint, err)
	}

	return err
}

// IsRetryable reports whether an operation failing with err may succeed if
// attempted again. Only lock contention qualifies.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(MapError(err), ErrDatabaseLocked)
}

func containsAny(s string, substrings ...string) bool {
	for _, substr := range substrings {
		if strings.Contains(s, substr) {
			return true
		}
	}
	return false
}
