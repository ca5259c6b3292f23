package migrations

import "github.com/example/fishbowl/internal/persistence/sqlite/migration"

var addGameSettings = migration.Migration{
	Version: 3,
	Name:    "add_game_settings",
	Up: statements(
		`CREATE TABLE game_settings (
			game_id TEXT PRIMARY KEY REFERENCES games(id) ON DELETE CASCADE,
			round_duration_seconds INTEGER NOT NULL DEFAULT 60 CHECK (round_duration_seconds > 0),
			phrases_per_player INTEGER NOT NULL DEFAULT 3 CHECK (phrases_per_player > 0),
			rounds INTEGER NOT NULL DEFAULT 3 CHECK (rounds BETWEEN 1 AND 5),
			updated_at TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
	),
	Down: statements(
		"DROP TABLE IF EXISTS game_settings",
	),
}
