package http

import (
	"fmt"
	"log/slog"
	"net/http"
	"runtime/debug"
	"sync/atomic"
	"time"
)

// RequestObserver records served requests. *telemetry.Metrics satisfies it.
// route is a registered router pattern or UnmatchedRoute, and method is a
// standard HTTP method or "OTHER", so both stay bounded.
type RequestObserver interface {
	ObserveRequest(method, route string, status int, elapsed time.Duration)
}

func metricMethod(method string) string {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodPost, http.MethodPut,
		http.MethodPatch, http.MethodDelete, http.MethodOptions,
		http.MethodConnect, http.MethodTrace:
		return method
	}
	return "OTHER"
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(status int) {
	if s.status == 0 {
		s.status = status
	}
	s.ResponseWriter.WriteHeader(status)
}

func (s *statusRecorder) Write(b []byte) (int, error) {
	if s.status == 0 {
		s.status = http.StatusOK
	}
	return s.ResponseWriter.Write(b)
}

func (s *statusRecorder) Unwrap() http.ResponseWriter {
	return s.ResponseWriter
}

func (s *statusRecorder) code() int {
	if s.status == 0 {
		return http.StatusOK
	}
	return s.status
}

// RequestLogger attaches a request-scoped logger and logs each request.
// When observer is non-nil every request is also recorded there.
func RequestLogger(base *slog.Logger, observer RequestObserver) func(http.Handler) http.Handler {
	base = defaultLogger(base)
	var counter atomic.Uint64

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := counter.Add(1)
			logger := base.With(
				"request_id", id,
				"method", r.Method,
				"path", r.URL.Path,
			)

			ctx := ContextWithRequestID(r.Context(), id)
			ctx = ContextWithLogger(ctx, logger)
			ctx, route := contextWithRouteSlot(ctx)
			rec := &statusRecorder{ResponseWriter: w}
			start := time.Now()

			logger.DebugContext(ctx, "request started")
			next.ServeHTTP(rec, r.WithContext(ctx))

			elapsed := time.Since(start)
			logger.InfoContext(ctx, "request completed", "status", rec.code(), "duration", elapsed)
			if observer != nil {
				observer.ObserveRequest(metricMethod(r.Method), route.label(), rec.code(), elapsed)
			}
		})
	}
}

// Recoverer converts handler panics into 500 responses.
func Recoverer(logger *slog.Logger) func(http.Handler) http.Handler {
	responder := newResponder(logger)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if p := recover(); p != nil {
					if p == http.ErrAbortHandler {
						panic(p)
					}
					responder.loggerFor(r.Context()).ErrorContext(r.Context(), "handler panicked",
						"panic", fmt.Sprint(p),
						"stack", string(debug.Stack()))
					responder.writeJSON(r.Context(), w, http.StatusInternalServerError,
						errorResponse{Message: http.StatusText(http.StatusInternalServerError)})
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}
