package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"

	"github.com/example/fishbowl/internal/logging"
	"github.com/example/fishbowl/internal/persistence/sqlite"
)

// Prefix is prepended to every environment variable name.
const Prefix = "FISHBOWL_"

// Config captures environment driven configuration values for the fishbowl
// service and migration tool.
type Config struct {
	HTTPPort int            `env:"HTTP_PORT" envDefault:"8080"`
	Database DatabaseConfig `envPrefix:"DB_"`
	Log      LogConfig      `envPrefix:"LOG_"`
}

// DatabaseConfig holds SQLite settings.
type DatabaseConfig struct {
	Path           string `env:"PATH" envDefault:"data/fishbowl.db"`
	BusyTimeoutMS  int    `env:"BUSY_TIMEOUT_MS" envDefault:"5000"`
	MaxConnections int    `env:"MAX_CONNECTIONS" envDefault:"10"`
	JournalMode    string `env:"JOURNAL_MODE" envDefault:"WAL"`
	Synchronous    string `env:"SYNCHRONOUS" envDefault:"NORMAL"`
	ForeignKeys    bool   `env:"FOREIGN_KEYS" envDefault:"true"`
}

// LogConfig holds logger settings.
type LogConfig struct {
	Level  string `env:"LEVEL" envDefault:"info"`
	Format string `env:"FORMAT" envDefault:"json"`
}

// Load parses configuration values from the current process environment.
func Load() (Config, error) {
	return parse(env.Options{Prefix: Prefix})
}

// LoadFrom parses configuration from the supplied variables instead of the
// process environment. Keys carry the FISHBOWL_ prefix.
func LoadFrom(environment map[string]string) (Config, error) {
	return parse(env.Options{Prefix: Prefix, Environment: environment})
}

func parse(opts env.Options) (Config, error) {
	var cfg Config
	if err := env.ParseWithOptions(&cfg, opts); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	cfg.Database.Path = strings.TrimSpace(cfg.Database.Path)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate reports every invalid value together, by variable name.
func (c Config) Validate() error {
	var invalid []string

	if c.HTTPPort <= 0 || c.HTTPPort > 65535 {
		invalid = append(invalid, Prefix+"HTTP_PORT")
	}
	if c.Database.Path == "" {
		invalid = append(invalid, Prefix+"DB_PATH")
	}
	if c.Database.BusyTimeoutMS < 0 {
		invalid = append(invalid, Prefix+"DB_BUSY_TIMEOUT_MS")
	}
	if c.Database.MaxConnections < 0 {
		invalid = append(invalid, Prefix+"DB_MAX_CONNECTIONS")
	}

	if !sqlite.ValidJournalMode(c.Database.JournalMode) {
		invalid = append(invalid, Prefix+"DB_JOURNAL_MODE")
	}
	if !sqlite.ValidSynchronous(c.Database.Synchronous) {
		invalid = append(invalid, Prefix+"DB_SYNCHRONOUS")
	}

	if _, err := logging.ParseLevel(c.Log.Level); err != nil {
		invalid = append(invalid, Prefix+"LOG_LEVEL")
	}
	if _, err := logging.ParseFormat(c.Log.Format); err != nil {
		invalid = append(invalid, Prefix+"LOG_FORMAT")
	}

	if len(invalid) > 0 {
		return fmt.Errorf("invalid environment variables: %s", strings.Join(invalid, ", "))
	}
	return nil
}

// SQLite converts the database settings to a sqlite.Config.
func (c Config) SQLite() sqlite.Config {
	return sqlite.Config{
		Path:           c.Database.Path,
		BusyTimeout:    time.Duration(c.Database.BusyTimeoutMS) * time.Millisecond,
		MaxConnections: c.Database.MaxConnections,
		JournalMode:    c.Database.JournalMode,
		Synchronous:    c.Database.Synchronous,
		ForeignKeys:    c.Database.ForeignKeys,
	}
}

// Address returns the HTTP listen address.
func (c Config) Address() string {
	return fmt.Sprintf(":%d", c.HTTPPort)
}
