package migration

import (
	"cmp"
	"fmt"
	"slices"
	"strings"
)

// Registry is an immutable, ordered catalog of migrations. It performs no
// I/O.
type Registry struct {
	migrations []Migration
}

// NewRegistry returns a registry holding migrations sorted by version.
// Invalid entries are kept so that Validate can report them.
func NewRegistry(migrations ...Migration) *Registry {
	sorted := slices.Clone(migrations)
	slices.SortStableFunc(sorted, func(a, b Migration) int {
		return cmp.Compare(a.Version, b.Version)
	})
	return &Registry{migrations: sorted}
}

// All returns every migration in ascending version order.
func (r *Registry) All() []Migration {
	return slices.Clone(r.migrations)
}

// Len returns the number of registered migrations.
func (r *Registry) Len() int {
	return len(r.migrations)
}

// ByVersion looks up a migration by version.
func (r *Registry) ByVersion(version int) (Migration, bool) {
	for _, m := range r.migrations {
		if m.Version == version {
			return m, true
		}
	}
	return Migration{}, false
}

// LatestVersion returns the highest registered version, or 0 when empty.
func (r *Registry) LatestVersion() int {
	if len(r.migrations) == 0 {
		return 0
	}
	return r.migrations[len(r.migrations)-1].Version
}

// Validate checks that versions are exactly 1..N without duplicates and
// that every migration has a name and both procedures.
func (r *Registry) Validate() ValidationResult {
	var problems []string

	seen := make(map[int]bool, len(r.migrations))
	var versions []int
	for _, m := range r.migrations {
		label := fmt.Sprintf("migration %d", m.Version)
		if m.Name != "" {
			label = fmt.Sprintf("migration %d (%s)", m.Version, m.Name)
		}

		if m.Version < 1 {
			problems = append(problems, fmt.Sprintf("%s: version must be at least 1", label))
		}
		if seen[m.Version] {
			problems = append(problems, fmt.Sprintf("duplicate migration version %d", m.Version))
		} else {
			seen[m.Version] = true
			if m.Version >= 1 {
				versions = append(versions, m.Version)
			}
		}
		if strings.TrimSpace(m.Name) == "" {
			problems = append(problems, fmt.Sprintf("%s: missing name", label))
		}
		if m.Up == nil {
			problems = append(problems, fmt.Sprintf("%s: missing up procedure", label))
		}
		if m.Down == nil {
			problems = append(problems, fmt.Sprintf("%s: missing down procedure", label))
		}
	}

	if len(versions) > 0 && versions[0] != 1 {
		problems = append(problems, fmt.Sprintf("migration versions must start at 1, first is %d", versions[0]))
	}
	for i := 1; i < len(versions); i++ {
		if versions[i] != versions[i-1]+1 {
			problems = append(problems, fmt.Sprintf("gap in migration versions between %d and %d", versions[i-1], versions[i]))
		}
	}

	return ValidationResult{Valid: len(problems) == 0, Errors: problems}
}
