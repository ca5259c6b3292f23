package sqlite

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
)

// Manager owns the database location and connection settings, opens
// Connections on demand and tracks them until they are closed.
//
// A Manager is constructed once by the process entry point and passed to
// every component that needs database access. Initialize must succeed before
// any connection is handed out; Cleanup is a full shutdown barrier.
type Manager struct {
	config Config
	logger *slog.Logger

	mu          sync.Mutex
	initialized bool
	conns       map[string]*Connection
}

// NewManager creates a Manager for config. It performs no I/O.
func NewManager(config Config, logger *slog.Logger) *Manager {
	return &Manager{
		config: config,
		logger: defaultLogger(logger).With("component", "sqlite"),
		conns:  make(map[string]*Connection),
	}
}

// Config returns the manager's configuration.
func (m *Manager) Config() Config {
	return m.config
}

// Initialize creates the storage directory if needed and verifies that a
// connection can be opened and queried. Calling it on an initialized
// manager is a no-op. Failures are returned as *InitializationError.
func (m *Manager) Initialize(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.initialized {
		return nil
	}

	path := m.config.Path
	if err := m.config.Validate(); err != nil {
		return &InitializationError{Path: path, Op: "validate config", Err: err}
	}

	if path != MemoryPath {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return &InitializationError{Path: path, Op: "create directory " + dir, Err: err}
		}
	}

	check, err := openConnection(ctx, m.config, m.logger)
	if err != nil {
		return &InitializationError{Path: path, Op: "open check connection", Err: err}
	}
	if err := check.Ping(ctx); err != nil {
		_ = check.Close()
		return &InitializationError{Path: path, Op: "health query", Err: err}
	}
	if err := check.Close(); err != nil {
		return &InitializationError{Path: path, Op: "close check connection", Err: err}
	}

	m.initialized = true
	m.logger.Info("database initialized",
		"path", path,
		"busy_timeout", m.config.BusyTimeout,
		"journal_mode", m.config.JournalMode)
	return nil
}

// Initialized reports whether Initialize has succeeded since the last
// Cleanup.
func (m *Manager) Initialized() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.initialized
}

// Connection opens a new tracked connection. The caller owns it and must
// close it.
func (m *Manager) Connection(ctx context.Context) (*Connection, error) {
	if !m.Initialized() {
		return nil, ErrNotInitialized
	}

	conn, err := openConnection(ctx, m.config, m.logger)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	if !m.initialized {
		// Cleanup ran while the handle was being opened.
		m.mu.Unlock()
		_ = conn.Close()
		return nil, ErrNotInitialized
	}
	conn.release = m.untrack
	m.conns[conn.ID()] = conn
	open := len(m.conns)
	m.mu.Unlock()

	if m.config.MaxConnections > 0 && open > m.config.MaxConnections {
		m.logger.Warn("open connections exceed configured maximum",
			"open", open,
			"max_connections", m.config.MaxConnections)
	}
	return conn, nil
}

// BeginTransaction opens a connection and issues BEGIN on it. If BEGIN
// fails the connection is closed before the error is returned.
func (m *Manager) BeginTransaction(ctx context.Context) (*Transaction, error) {
	conn, err := m.Connection(ctx)
	if err != nil {
		return nil, err
	}

	tx, err := beginTransaction(ctx, conn, m.logger)
	if err != nil {
		if cerr := conn.Close(); cerr != nil {
			m.logger.Warn("failed to close connection after begin failure",
				"connection_id", conn.ID(), "error", cerr)
		}
		return nil, err
	}
	return tx, nil
}

// WithConnection runs fn with a fresh connection and always closes it.
func (m *Manager) WithConnection(ctx context.Context, fn func(*Connection) error) (err error) {
	conn, err := m.Connection(ctx)
	if err != nil {
		return err
	}
	defer func() {
		cerr := conn.Close()
		if cerr == nil {
			return
		}
		if err != nil {
			m.logger.Warn("failed to close connection", "connection_id", conn.ID(), "error", cerr)
			return
		}
		err = fmt.Errorf("close connection: %w", cerr)
	}()

	return fn(conn)
}

// WithTransaction runs fn inside a transaction. The transaction is committed
// when fn returns nil and rolled back exactly once when fn returns an error
// or panics. The connection is released on every path. Cleanup failures on
// an already failing path are logged and the original error is returned.
func (m *Manager) WithTransaction(ctx context.Context, fn func(*Transaction) error) error {
	tx, err := m.BeginTransaction(ctx)
	if err != nil {
		return err
	}

	defer func() {
		if p := recover(); p != nil {
			m.abort(ctx, tx, "panic")
			panic(p)
		}
	}()

	if err := fn(tx); err != nil {
		m.abort(ctx, tx, "error")
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		if cerr := tx.Close(); cerr != nil {
			m.logger.Warn("failed to release transaction after commit failure",
				"connection_id", tx.conn.ID(), "error", cerr)
		}
		return err
	}

	if err := tx.Close(); err != nil {
		return fmt.Errorf("close connection: %w", err)
	}
	return nil
}

// abort rolls back and releases tx on a failing path, logging secondary
// errors instead of returning them.
func (m *Manager) abort(ctx context.Context, tx *Transaction, reason string) {
	if err := tx.Rollback(context.WithoutCancel(ctx)); err != nil {
		m.logger.Warn("rollback failed", "connection_id", tx.conn.ID(), "reason", reason, "error", err)
	}
	if err := tx.Close(); err != nil {
		m.logger.Warn("failed to release transaction", "connection_id", tx.conn.ID(), "reason", reason, "error", err)
	}
}

// HealthCheck opens a short-lived connection and runs a trivial query.
func (m *Manager) HealthCheck(ctx context.Context) error {
	return m.WithConnection(ctx, func(conn *Connection) error {
		return conn.Ping(ctx)
	})
}

// OpenConnections returns the number of connections handed out and not yet
// closed.
func (m *Manager) OpenConnections() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.conns)
}

// Cleanup closes every tracked connection and returns the manager to the
// uninitialized state. It is safe to call more than once. Callers must drain
// in-flight work first.
func (m *Manager) Cleanup() error {
	m.mu.Lock()
	conns := make([]*Connection, 0, len(m.conns))
	for _, conn := range m.conns {
		conns = append(conns, conn)
	}
	m.conns = make(map[string]*Connection)
	wasInitialized := m.initialized
	m.initialized = false
	m.mu.Unlock()

	var errs []error
	for _, conn := range conns {
		if err := conn.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close connection %s: %w", conn.ID(), err))
		}
	}

	if wasInitialized || len(conns) > 0 {
		m.logger.Info("database manager cleaned up", "closed_connections", len(conns))
	}
	return errors.Join(errs...)
}

func (m *Manager) untrack(conn *Connection) {
	m.mu.Lock()
	delete(m.conns, conn.ID())
	m.mu.Unlock()
}
