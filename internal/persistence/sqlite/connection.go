package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	_ "modernc.org/sqlite" // registers the "sqlite" driver
)

const driverName = "sqlite"

// Executor is the narrow set of statement operations available to migration
// procedures and repositories. *Connection, *Transaction, *sql.Conn, *sql.Tx
// and *sql.DB all satisfy it.
type Executor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// Connection wraps exactly one physical SQLite handle.
//
// Statements issued through a Connection observe program order. Serialize
// additionally excludes other goroutines for the duration of a sequence of
// statements.
type Connection struct {
	id     string
	path   string
	db     *sql.DB
	conn   *sql.Conn
	logger *slog.Logger

	serial    sync.Mutex
	closed    atomic.Bool
	closeOnce sync.Once
	closeErr  error
	release   func(*Connection)
}

func openConnection(ctx context.Context, config Config, logger *slog.Logger) (*Connection, error) {
	db, err := sql.Open(driverName, config.Path)
	if err != nil {
		return nil, &ConnectionError{Path: config.Path, Op: "open", Err: err}
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	conn, err := db.Conn(ctx)
	if err != nil {
		_ = db.Close()
		return nil, &ConnectionError{Path: config.Path, Op: "acquire handle", Err: MapError(err)}
	}

	for _, pragma := range config.pragmas() {
		if _, err := conn.ExecContext(ctx, pragma); err != nil {
			_ = conn.Close()
			_ = db.Close()
			return nil, &ConnectionError{Path: config.Path, Op: fmt.Sprintf("apply %q", pragma), Err: MapError(err)}
		}
	}

	c := &Connection{
		id:     uuid.NewString(),
		path:   config.Path,
		db:     db,
		conn:   conn,
		logger: defaultLogger(logger),
	}
	c.logger.Debug("connection opened", "connection_id", c.id, "path", c.path)
	return c, nil
}

// ID returns the identifier assigned when the connection was opened.
func (c *Connection) ID() string {
	return c.id
}

// ExecContext executes a statement that returns no rows.
func (c *Connection) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	if c.closed.Load() {
		return nil, ErrConnectionClosed
	}
	c.serial.Lock()
	defer c.serial.Unlock()
	return c.conn.ExecContext(ctx, query, args...)
}

// QueryRowContext executes a query expected to return at most one row.
// Errors, including use after Close, are deferred to Scan.
func (c *Connection) QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row {
	c.serial.Lock()
	defer c.serial.Unlock()
	return c.conn.QueryRowContext(ctx, query, args...)
}

// QueryContext executes a query returning any number of rows. The caller
// must close the returned rows.
func (c *Connection) QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	if c.closed.Load() {
		return nil, ErrConnectionClosed
	}
	c.serial.Lock()
	defer c.serial.Unlock()
	return c.conn.QueryContext(ctx, query, args...)
}

// Serialize runs fn with exclusive use of the handle. Statements issued by
// other goroutines through this Connection wait until fn returns. fn must use
// the Executor it receives, not the Connection itself.
func (c *Connection) Serialize(ctx context.Context, fn func(Executor) error) error {
	if c.closed.Load() {
		return ErrConnectionClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	c.serial.Lock()
	defer c.serial.Unlock()
	return fn(c.conn)
}

// ExecBatch executes statements in order and stops at the first failure.
func (c *Connection) ExecBatch(ctx context.Context, statements []string) error {
	return c.Serialize(ctx, func(ex Executor) error {
		return ExecBatch(ctx, ex, statements)
	})
}

// ExecScript splits a multi-statement script and executes it as a batch.
func (c *Connection) ExecScript(ctx context.Context, script string) error {
	return c.Serialize(ctx, func(ex Executor) error {
		return ExecScript(ctx, ex, script)
	})
}

// Ping runs a trivial query to verify the handle is usable.
func (c *Connection) Ping(ctx context.Context) error {
	if c.closed.Load() {
		return ErrConnectionClosed
	}
	var one int
	if err := c.QueryRowContext(ctx, "SELECT 1").Scan(&one); err != nil {
		return fmt.Errorf("ping: %w", MapError(err))
	}
	return nil
}

// Close releases the physical handle. It is safe to call more than once;
// later calls return the result of the first.
func (c *Connection) Close() error {
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		c.closeErr = errors.Join(c.conn.Close(), c.db.Close())
		if c.release != nil {
			c.release(c)
		}
		if c.closeErr != nil {
			c.logger.Warn("connection closed with error", "connection_id", c.id, "error", c.closeErr)
			return
		}
		c.logger.Debug("connection closed", "connection_id", c.id)
	})
	return c.closeErr
}

// Closed reports whether Close has been called.
func (c *Connection) Closed() bool {
	return c.closed.Load()
}

func defaultLogger(logger *slog.Logger) *slog.Logger {
	if logger != nil {
		return logger
	}
	return slog.Default()
}
