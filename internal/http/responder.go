package http

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/example/fishbowl/internal/persistence/sqlite"
)

type responder struct {
	logger *slog.Logger
}

func newResponder(logger *slog.Logger) responder {
	return responder{logger: defaultLogger(logger)}
}

func (r responder) writeJSON(ctx context.Context, w http.ResponseWriter, status int, payload any) {
	if w == nil {
		return
	}

	if status == http.StatusNoContent || payload == nil {
		w.WriteHeader(status)
		return
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		r.loggerFor(ctx).ErrorContext(ctx, "failed to encode response", "error", err)
	}
}

func (r responder) writeError(ctx context.Context, w http.ResponseWriter, status int, err error) {
	message := http.StatusText(status)
	if err != nil {
		if msg := strings.TrimSpace(err.Error()); msg != "" {
			message = msg
		}
		r.loggerFor(ctx).ErrorContext(ctx, "request failed", "status", status, "error", err)
	}

	r.writeJSON(ctx, w, status, errorResponse{Message: message})
}

// handleDatabaseError maps storage errors to a status code. Database
// unavailability is reported as 503 so load balancers can react.
func (r responder) handleDatabaseError(ctx context.Context, w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, sqlite.ErrNotInitialized),
		errors.Is(err, sqlite.ErrDatabaseLocked),
		errors.Is(err, context.DeadlineExceeded):
		r.writeError(ctx, w, http.StatusServiceUnavailable, err)
	default:
		var connErr *sqlite.ConnectionError
		if errors.As(err, &connErr) {
			r.writeError(ctx, w, http.StatusServiceUnavailable, err)
			return
		}
		r.writeError(ctx, w, http.StatusInternalServerError, err)
	}
}

func (r responder) loggerFor(ctx context.Context) *slog.Logger {
	if logger := LoggerFromContext(ctx); logger != nil {
		return logger
	}
	return r.logger
}

type errorResponse struct {
	Status  string `json:"status,omitempty"`
	Message string `json:"message"`
}
