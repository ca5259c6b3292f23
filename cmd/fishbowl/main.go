package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/example/fishbowl/internal/config"
	httptransport "github.com/example/fishbowl/internal/http"
	"github.com/example/fishbowl/internal/logging"
	"github.com/example/fishbowl/internal/persistence/sqlite"
	"github.com/example/fishbowl/internal/persistence/sqlite/migration"
	"github.com/example/fishbowl/internal/persistence/sqlite/migrations"
	"github.com/example/fishbowl/internal/telemetry"
)

const (
	opsTimeout      = 5 * time.Second
	shutdownTimeout = 10 * time.Second
)

func main() {
	os.Exit(run())
}

func run() int {
	bootstrap := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		bootstrap.Error("failed to load configuration", "error", err)
		return 1
	}

	logger, err := logging.New(os.Stdout, cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		bootstrap.Error("failed to build logger", "error", err)
		return 1
	}

	a, err := newApp(ctx, cfg, migrations.Registry(), logger)
	if err != nil {
		logger.Error("failed to start", "error", err)
		return 1
	}

	ln, err := net.Listen("tcp", cfg.Address())
	if err != nil {
		logger.Error("failed to listen", "addr", cfg.Address(), "error", err)
		a.close()
		return 1
	}

	serveErr := a.serve(ctx, ln)
	a.close()
	if serveErr != nil {
		logger.Error("server encountered error", "error", serveErr)
		return 1
	}
	return 0
}

// app owns the database manager and the ops HTTP surface.
type app struct {
	manager *sqlite.Manager
	runner  *migration.Runner
	metrics *telemetry.Metrics
	handler http.Handler
	logger  *slog.Logger
}

// newApp initializes the database and brings the schema up to date. The
// manager is cleaned up before any error is returned.
func newApp(ctx context.Context, cfg config.Config, registry *migration.Registry, logger *slog.Logger) (*app, error) {
	manager := sqlite.NewManager(cfg.SQLite(), logger)
	if err := manager.Initialize(ctx); err != nil {
		return nil, fmt.Errorf("initialize database: %w", err)
	}

	metrics := telemetry.New(manager)
	runner := migration.NewRunner(manager, registry, logger, migration.WithObserver(metrics))

	status, err := runner.InitializeSchema(ctx)
	if err != nil {
		if cerr := manager.Cleanup(); cerr != nil {
			logger.Error("failed to clean up database", "error", cerr)
		}
		return nil, fmt.Errorf("initialize schema: %w", err)
	}
	logger.Info("schema ready",
		"path", manager.Config().Path,
		"version", status.CurrentVersion,
		"applied", len(status.Applied))

	ops := httptransport.NewOpsHandler(manager, runner, opsTimeout, logger)
	handler := httptransport.NewRouter(httptransport.RouterConfig{
		Ops:     ops,
		Metrics: metrics.Handler(),
		Middleware: []func(http.Handler) http.Handler{
			httptransport.RequestLogger(logger, metrics),
			httptransport.Recoverer(logger),
		},
	})

	return &app{
		manager: manager,
		runner:  runner,
		metrics: metrics,
		handler: handler,
		logger:  logger,
	}, nil
}

// serve runs the HTTP server on ln until ctx is cancelled, then drains it.
func (a *app) serve(ctx context.Context, ln net.Listener) error {
	server := &http.Server{
		Handler:           a.handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		a.logger.Info("fishbowl ops API listening", "addr", ln.Addr().String())
		if err := server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		a.logger.Info("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown: %w", err)
		}
		return nil
	})
	return g.Wait()
}

func (a *app) close() {
	if err := a.manager.Cleanup(); err != nil {
		a.logger.Error("failed to clean up database", "error", err)
		return
	}
	a.logger.Info("database closed")
}
