package sqlite

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrEmptyScript is returned by ExecScript when a script holds no statements.
var ErrEmptyScript = errors.New("sqlite: no SQL statements in script")

// ExecBatch executes statements in order against ex and stops at the first
// failure. The error names the 1-based index of the failing statement.
func ExecBatch(ctx context.Context, ex Executor, statements []string) error {
	for i, stmt := range statements {
		stmt = strings.TrimSpace(stmt)
		if stmt == "" {
			continue
		}
		if _, err := ex.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("execute statement %d: %w", i+1, MapError(err))
		}
	}
	return nil
}

// ExecScript splits script with SplitStatements and executes the result as
// a batch.
func ExecScript(ctx context.Context, ex Executor, script string) error {
	statements := SplitStatements(script)
	if len(statements) == 0 {
		return ErrEmptyScript
	}
	return ExecBatch(ctx, ex, statements)
}

// SplitStatements splits SQL content on semicolons and drops comment-only
// lines. Semicolons inside string literals or trigger bodies are not
// supported.
func SplitStatements(script string) []string {
	var statements []string

	for _, stmt := range strings.Split(script, ";") {
		stmt = strings.TrimSpace(stmt)
		if stmt == "" {
			continue
		}

		var lines []string
		for _, line := range strings.Split(stmt, "\n") {
			line = strings.TrimSpace(line)
			if line != "" && !strings.HasPrefix(line, "--") {
				lines = append(lines, line)
			}
		}

		if len(lines) > 0 {
			statements = append(statements, strings.Join(lines, "\n"))
		}
	}

	return statements
}
