package sqlite

import (
	"database/sql"
	"errors"
	"fmt"
	"testing"
)

func TestMapError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want error
	}{
		{name: "no rows", err: sql.ErrNoRows, want: ErrNotFound},
		{name: "locked", err: errors.New("database is locked (5) (SQLITE_BUSY)"), want: ErrDatabaseLocked},
		{name: "table locked", err: errors.New("database table is locked"), want: ErrDatabaseLocked},
		{name: "unique", err: errors.New("UNIQUE constraint failed: games.code (2067)"), want: ErrConstraint},
		{name: "foreign key", err: errors.New("FOREIGN KEY constraint failed (787)"), want: ErrConstraint},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mapped := MapError(tt.err)
			if !errors.Is(mapped, tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, mapped)
			}
			if !errors.Is(mapped, tt.err) {
				t.Fatalf("mapped error lost the original: %v", mapped)
			}
		})
	}
}

func TestMapErrorPassesThroughUnknownErrors(t *testing.T) {
	if MapError(nil) != nil {
		t.Fatal("expected nil for nil input")
	}

	original := errors.New("no such table: games")
	if got := MapError(original); got != original {
		t.Fatalf("expected original error, got %v", got)
	}
}

func TestIsRetryable(t *testing.T) {
	if !IsRetryable(fmt.Errorf("begin: %w", errors.New("database is locked"))) {
		t.Fatal("locked errors must be retryable")
	}
	if IsRetryable(errors.New("UNIQUE constraint failed: teams.name")) {
		t.Fatal("constraint violations must not be retryable")
	}
	if IsRetryable(nil) {
		t.Fatal("nil must not be retryable")
	}
}

func TestTypedErrorsUnwrap(t *testing.T) {
	cause := errors.New("permission denied")

	var initErr *InitializationError
	err := fmt.Errorf("startup: %w", &InitializationError{Path: "data/fishbowl.db", Op: "create directory data", Err: cause})
	if !errors.As(err, &initErr) || !errors.Is(err, cause) {
		t.Fatalf("unexpected chain: %v", err)
	}
	if initErr.Path != "data/fishbowl.db" {
		t.Fatalf("unexpected path %q", initErr.Path)
	}

	var connErr *ConnectionError
	err = &ConnectionError{Path: "x.db", Op: "open", Err: cause}
	if !errors.As(err, &connErr) || !errors.Is(err, cause) {
		t.Fatalf("unexpected chain: %v", err)
	}

	var txErr *TransactionError
	err = &TransactionError{ConnectionID: "c1", Op: "commit", Err: ErrDatabaseLocked}
	if !errors.As(err, &txErr) || !errors.Is(err, ErrDatabaseLocked) {
		t.Fatalf("unexpected chain: %v", err)
	}
	if txErr.Op != "commit" {
		t.Fatalf("unexpected op %q", txErr.Op)
	}
}
