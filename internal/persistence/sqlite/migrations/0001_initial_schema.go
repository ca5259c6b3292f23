package migrations

import "github.com/example/fishbowl/internal/persistence/sqlite/migration"

var initialSchema = migration.Migration{
	Version: 1,
	Name:    "initial_schema",
	Up: statements(
		`CREATE TABLE games (
			id TEXT PRIMARY KEY,
			code TEXT NOT NULL UNIQUE,
			name TEXT NOT NULL,
			status TEXT NOT NULL DEFAULT 'lobby'
				CHECK (status IN ('lobby', 'writing', 'playing', 'finished')),
			current_round INTEGER NOT NULL DEFAULT 0,
			created_at TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE teams (
			id TEXT PRIMARY KEY,
			game_id TEXT NOT NULL REFERENCES games(id) ON DELETE CASCADE,
			name TEXT NOT NULL,
			score INTEGER NOT NULL DEFAULT 0,
			created_at TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP,
			UNIQUE (game_id, name)
		)`,
		`CREATE TABLE players (
			id TEXT PRIMARY KEY,
			game_id TEXT NOT NULL REFERENCES games(id) ON DELETE CASCADE,
			team_id TEXT REFERENCES teams(id) ON DELETE SET NULL,
			name TEXT NOT NULL,
			is_host INTEGER NOT NULL DEFAULT 0,
			created_at TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP,
			UNIQUE (game_id, name)
		)`,
		`CREATE TABLE phrases (
			id TEXT PRIMARY KEY,
			game_id TEXT NOT NULL REFERENCES games(id) ON DELETE CASCADE,
			player_id TEXT NOT NULL REFERENCES players(id) ON DELETE CASCADE,
			text TEXT NOT NULL,
			created_at TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
	),
	Down: statements(
		"DROP TABLE IF EXISTS phrases",
		"DROP TABLE IF EXISTS players",
		"DROP TABLE IF EXISTS teams",
		"DROP TABLE IF EXISTS games",
	),
}
