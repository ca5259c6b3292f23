package http

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/example/fishbowl/internal/persistence/sqlite"
	"github.com/example/fishbowl/internal/persistence/sqlite/migration"
)

// Database is the part of *sqlite.Manager used by the ops endpoints.
type Database interface {
	HealthCheck(ctx context.Context) error
	Stats(ctx context.Context) (sqlite.Stats, error)
}

// SchemaStatus reports migration state. *migration.Runner satisfies it.
type SchemaStatus interface {
	Status(ctx context.Context) (migration.Status, error)
}

// OpsHandler serves health, schema and database statistics.
type OpsHandler struct {
	db        Database
	schema    SchemaStatus
	timeout   time.Duration
	logger    *slog.Logger
	responder responder
}

// NewOpsHandler creates an OpsHandler. Each request's database work is
// bounded by timeout when it is positive.
func NewOpsHandler(db Database, schema SchemaStatus, timeout time.Duration, logger *slog.Logger) *OpsHandler {
	return &OpsHandler{
		db:        db,
		schema:    schema,
		timeout:   timeout,
		logger:    defaultLogger(logger),
		responder: newResponder(logger),
	}
}

type healthResponse struct {
	Status string `json:"status"`
}

type migrationDTO struct {
	Version int    `json:"version"`
	Name    string `json:"name"`
}

type appliedMigrationDTO struct {
	Version         int    `json:"version"`
	Name            string `json:"name"`
	AppliedAt       string `json:"applied_at"`
	ExecutionTimeMS int64  `json:"execution_time_ms"`
}

type migrationStatusResponse struct {
	CurrentVersion int                   `json:"current_version"`
	LatestVersion  int                   `json:"latest_version"`
	UpToDate       bool                  `json:"up_to_date"`
	Pending        []migrationDTO        `json:"pending"`
	Applied        []appliedMigrationDTO `json:"applied"`
}

func (h *OpsHandler) requestContext(r *http.Request) (context.Context, context.CancelFunc) {
	if h.timeout > 0 {
		return context.WithTimeout(r.Context(), h.timeout)
	}
	return context.WithCancel(r.Context())
}

// Health handles GET /healthz.
func (h *OpsHandler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := h.requestContext(r)
	defer cancel()

	if err := h.db.HealthCheck(ctx); err != nil {
		handlerLogger(ctx, h.logger, "health").WarnContext(ctx, "health check failed", "error", err)
		h.responder.writeJSON(ctx, w, http.StatusServiceUnavailable, errorResponse{
			Status:  "unavailable",
			Message: err.Error(),
		})
		return
	}
	h.responder.writeJSON(ctx, w, http.StatusOK, healthResponse{Status: "ok"})
}

// Migrations handles GET /migrations.
func (h *OpsHandler) Migrations(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := h.requestContext(r)
	defer cancel()

	status, err := h.schema.Status(ctx)
	if err != nil {
		h.responder.handleDatabaseError(ctx, w, err)
		return
	}

	resp := migrationStatusResponse{
		CurrentVersion: status.CurrentVersion,
		LatestVersion:  status.LatestVersion,
		UpToDate:       status.UpToDate,
		Pending:        make([]migrationDTO, 0, len(status.Pending)),
		Applied:        make([]appliedMigrationDTO, 0, len(status.Applied)),
	}
	for _, m := range status.Pending {
		resp.Pending = append(resp.Pending, migrationDTO{Version: m.Version, Name: m.Name})
	}
	for _, rec := range status.Applied {
		resp.Applied = append(resp.Applied, appliedMigrationDTO{
			Version:         rec.Version,
			Name:            rec.Name,
			AppliedAt:       rec.AppliedAt.UTC().Format(time.RFC3339),
			ExecutionTimeMS: rec.ExecutionTime.Milliseconds(),
		})
	}
	h.responder.writeJSON(ctx, w, http.StatusOK, resp)
}

// Stats handles GET /stats.
func (h *OpsHandler) Stats(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := h.requestContext(r)
	defer cancel()

	stats, err := h.db.Stats(ctx)
	if err != nil {
		h.responder.handleDatabaseError(ctx, w, err)
		return
	}
	h.responder.writeJSON(ctx, w, http.StatusOK, stats)
}
