package migration

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrMigrationFailed indicates that an Up or Down procedure, or the
	// tracking write that follows it, failed.
	ErrMigrationFailed = errors.New("migration execution failed")

	// ErrInvalidRegistry indicates that the registry failed validation.
	ErrInvalidRegistry = errors.New("invalid migration registry")

	// ErrUnknownVersion indicates a target outside [0, latest] or an applied
	// version that the registry does not know.
	ErrUnknownVersion = errors.New("unknown migration version")

	// ErrInterrupted indicates that the caller's context was cancelled
	// between steps. The run is rolled back.
	ErrInterrupted = errors.New("migration run interrupted")
)

// ValidationError lists every registry integrity problem found.
type ValidationError struct {
	Errors []string
}

// Error implements the error interface
func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", ErrInvalidRegistry, strings.Join(e.Errors, "; "))
}

// Unwrap returns ErrInvalidRegistry
func (e *ValidationError) Unwrap() error {
	return ErrInvalidRegistry
}

// StepError reports a failed migration step. It matches both
// ErrMigrationFailed and the underlying error.
type StepError struct {
	Version   int
	Name      string
	Direction Direction
	Err       error
}

// Error implements the error interface
func (e *StepError) Error() string {
	return fmt.Sprintf("migration %d (%s) %s: %v", e.Version, e.Name, e.Direction, e.Err)
}

// Unwrap returns the sentinel and the underlying error
func (e *StepError) Unwrap() []error {
	return []error{ErrMigrationFailed, e.Err}
}

// SchemaError is returned by InitializeSchema when the schema could not be
// brought up to date. The database is left at its pre-call version.
type SchemaError struct {
	Failed  []Result    // Steps that failed, with version, name and error
	Pending []Migration // Migrations still pending after the attempt
	Err     error       // Error returned by the run, if any
}

// Error implements the error interface
func (e *SchemaError) Error() string {
	var b strings.Builder
	b.WriteString("schema initialization failed")

	for _, r := range e.Failed {
		fmt.Fprintf(&b, "; migration %d (%s) failed: %v", r.Version, r.Name, r.Err)
	}
	if len(e.Failed) == 0 && e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}

	if len(e.Pending) > 0 {
		names := make([]string, len(e.Pending))
		for i, m := range e.Pending {
			names[i] = fmt.Sprintf("%d (%s)", m.Version, m.Name)
		}
		fmt.Fprintf(&b, "; %d pending: %s", len(e.Pending), strings.Join(names, ", "))
	}
	return b.String()
}

// Unwrap returns the error returned by the run
func (e *SchemaError) Unwrap() error {
	return e.Err
}
