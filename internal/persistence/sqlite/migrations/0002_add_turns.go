package migrations

import "github.com/example/fishbowl/internal/persistence/sqlite/migration"

var addTurns = migration.Migration{
	Version: 2,
	Name:    "add_turns",
	Up: statements(
		`CREATE TABLE turns (
			id TEXT PRIMARY KEY,
			game_id TEXT NOT NULL REFERENCES games(id) ON DELETE CASCADE,
			team_id TEXT NOT NULL REFERENCES teams(id) ON DELETE CASCADE,
			player_id TEXT NOT NULL REFERENCES players(id) ON DELETE CASCADE,
			round INTEGER NOT NULL CHECK (round >= 1),
			phrases_guessed INTEGER NOT NULL DEFAULT 0,
			started_at TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP,
			ended_at TEXT
		)`,
		"CREATE INDEX idx_players_game_id ON players(game_id)",
		"CREATE INDEX idx_phrases_game_id ON phrases(game_id)",
		"CREATE INDEX idx_turns_game_id ON turns(game_id)",
	),
	Down: statements(
		"DROP INDEX IF EXISTS idx_turns_game_id",
		"DROP INDEX IF EXISTS idx_phrases_game_id",
		"DROP INDEX IF EXISTS idx_players_game_id",
		"DROP TABLE IF EXISTS turns",
	),
}
