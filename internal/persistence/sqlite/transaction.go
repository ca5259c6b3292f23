package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"sync"
)

// beginStatement takes the writer lock up front so the busy timeout applies
// at BEGIN rather than at the first write.
const beginStatement = "BEGIN IMMEDIATE"

// Transaction is a Connection wrapped with BEGIN/COMMIT/ROLLBACK. It owns
// the Connection exclusively and closes it on Close.
//
// Commit and Rollback are no-ops once the transaction is no longer active.
// Close on an active transaction rolls back before releasing the handle.
// Statements issued after Commit or Rollback run in autocommit mode.
type Transaction struct {
	conn   *Connection
	logger *slog.Logger

	mu     sync.Mutex
	active bool
}

func beginTransaction(ctx context.Context, conn *Connection, logger *slog.Logger) (*Transaction, error) {
	if _, err := conn.ExecContext(ctx, beginStatement); err != nil {
		return nil, &TransactionError{ConnectionID: conn.ID(), Op: "begin", Err: MapError(err)}
	}
	logger = defaultLogger(logger)
	logger.Debug("transaction started", "connection_id", conn.ID())
	return &Transaction{conn: conn, logger: logger, active: true}, nil
}

// Connection returns the underlying connection.
func (t *Transaction) Connection() *Connection {
	return t.conn
}

// IsActive reports whether the transaction is still open.
func (t *Transaction) IsActive() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.active
}

// ExecContext executes a statement inside the transaction.
func (t *Transaction) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return t.conn.ExecContext(ctx, query, args...)
}

// QueryRowContext executes a single-row query inside the transaction.
func (t *Transaction) QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row {
	return t.conn.QueryRowContext(ctx, query, args...)
}

// QueryContext executes a multi-row query inside the transaction.
func (t *Transaction) QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return t.conn.QueryContext(ctx, query, args...)
}

// ExecBatch executes statements in order inside the transaction.
func (t *Transaction) ExecBatch(ctx context.Context, statements []string) error {
	return t.conn.ExecBatch(ctx, statements)
}

// ExecScript executes a multi-statement script inside the transaction.
func (t *Transaction) ExecScript(ctx context.Context, script string) error {
	return t.conn.ExecScript(ctx, script)
}

// Commit makes the transaction's changes durable. If COMMIT fails the
// transaction stays active so that Close can still roll it back.
func (t *Transaction) Commit(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.active {
		return nil
	}
	if _, err := t.conn.ExecContext(ctx, "COMMIT"); err != nil {
		return &TransactionError{ConnectionID: t.conn.ID(), Op: "commit", Err: MapError(err)}
	}
	t.active = false
	t.logger.Debug("transaction committed", "connection_id", t.conn.ID())
	return nil
}

// Rollback discards the transaction's changes. The transaction is inactive
// afterwards even if ROLLBACK fails, since the handle is about to be
// released anyway.
func (t *Transaction) Rollback(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.rollbackLocked(ctx)
}

func (t *Transaction) rollbackLocked(ctx context.Context) error {
	if !t.active {
		return nil
	}
	t.active = false
	if _, err := t.conn.ExecContext(ctx, "ROLLBACK"); err != nil {
		return &TransactionError{ConnectionID: t.conn.ID(), Op: "rollback", Err: MapError(err)}
	}
	t.logger.Debug("transaction rolled back", "connection_id", t.conn.ID())
	return nil
}

// Close rolls back an active transaction and releases the connection.
func (t *Transaction) Close() error {
	t.mu.Lock()
	rbErr := t.rollbackLocked(context.Background())
	t.mu.Unlock()

	return errors.Join(rbErr, t.conn.Close())
}
