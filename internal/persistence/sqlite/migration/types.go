package migration

import (
	"context"
	"time"

	"github.com/example/fishbowl/internal/persistence/sqlite"
)

// Func is a forward or backward migration procedure. It must use only the
// executor it is given, which is bound to the run's outer transaction.
type Func func(ctx context.Context, ex sqlite.Executor) error

// Migration is a named, versioned, reversible schema change.
type Migration struct {
	Version int    `json:"version"` // Positive, unique, contiguous from 1
	Name    string `json:"name"`    // Human-readable identifier
	Up      Func   `json:"-"`
	Down    Func   `json:"-"`
}

// Record is a row of the schema_migrations tracking table.
type Record struct {
	Version       int           `json:"version"`
	Name          string        `json:"name"`
	AppliedAt     time.Time     `json:"applied_at"`
	ExecutionTime time.Duration `json:"execution_time"`
}

// Status compares the registry with the tracking table.
type Status struct {
	CurrentVersion int         `json:"current_version"`
	LatestVersion  int         `json:"latest_version"`
	Pending        []Migration `json:"pending"`
	Applied        []Record    `json:"applied"`
	UpToDate       bool        `json:"up_to_date"`
}

// Direction is the way a step moves the schema.
type Direction string

const (
	Up   Direction = "up"
	Down Direction = "down"
)

// Result reports one attempted step. Err is set when Success is false.
type Result struct {
	Version       int
	Name          string
	Direction     Direction
	Success       bool
	ExecutionTime time.Duration
	Err           error
}

// ValidationResult is the outcome of a static registry check.
type ValidationResult struct {
	Valid  bool     `json:"valid"`
	Errors []string `json:"errors,omitempty"`
}

// Database is the subset of *sqlite.Manager the Runner depends on.
type Database interface {
	WithConnection(ctx context.Context, fn func(*sqlite.Connection) error) error
	WithTransaction(ctx context.Context, fn func(*sqlite.Transaction) error) error
}

// Observer receives step results and the schema version after each read or
// committed run. Implementations must not block.
type Observer interface {
	ObserveStep(result Result)
	ObserveVersion(version int)
}
