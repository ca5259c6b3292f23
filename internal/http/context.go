package http

import (
	"context"
	"log/slog"

	"github.com/example/fishbowl/internal/logging"
)

type contextKey string

const (
	requestIDContextKey contextKey = "request_id"
	routeContextKey     contextKey = "route"
)

// UnmatchedRoute is the route label for requests no registered route served.
const UnmatchedRoute = "unmatched"

// routeSlot is filled in by the router once a registered pattern matches.
type routeSlot struct {
	pattern string
}

// contextWithRouteSlot reuses a slot already carried by ctx so that nested
// request loggers observe the same route.
func contextWithRouteSlot(ctx context.Context) (context.Context, *routeSlot) {
	if slot, ok := ctx.Value(routeContextKey).(*routeSlot); ok {
		return ctx, slot
	}
	slot := &routeSlot{}
	return context.WithValue(ctx, routeContextKey, slot), slot
}

func setRoute(ctx context.Context, pattern string) {
	if slot, ok := ctx.Value(routeContextKey).(*routeSlot); ok {
		slot.pattern = pattern
	}
}

func (s *routeSlot) label() string {
	if s.pattern == "" {
		return UnmatchedRoute
	}
	return s.pattern
}

// ContextWithRequestID returns a derived context carrying the request sequence number.
func ContextWithRequestID(ctx context.Context, id uint64) context.Context {
	return context.WithValue(ctx, requestIDContextKey, id)
}

// RequestIDFromContext extracts the request sequence number if available.
func RequestIDFromContext(ctx context.Context) (uint64, bool) {
	id, ok := ctx.Value(requestIDContextKey).(uint64)
	return id, ok
}

// ContextWithLogger attaches a request-scoped logger.
func ContextWithLogger(ctx context.Context, logger *slog.Logger) context.Context {
	return logging.ContextWithLogger(ctx, logger)
}

// LoggerFromContext returns the request-scoped logger, or nil when none was
// attached.
func LoggerFromContext(ctx context.Context) *slog.Logger {
	logger, _ := logging.Lookup(ctx)
	return logger
}
