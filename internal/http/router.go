package http

import (
	"net/http"
	"strings"
)

type RouterConfig struct {
	Ops        *OpsHandler
	Metrics    http.Handler
	Middleware []func(http.Handler) http.Handler
}

func NewRouter(cfg RouterConfig) http.Handler {
	mux := http.NewServeMux()
	handle := func(pattern string, h http.Handler) {
		mux.Handle(pattern, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			setRoute(r.Context(), pattern)
			h.ServeHTTP(w, r)
		}))
	}

	if cfg.Ops != nil {
		resp := cfg.Ops.responder
		handle("/healthz", getOnly(resp, cfg.Ops.Health))
		handle("/migrations", getOnly(resp, cfg.Ops.Migrations))
		handle("/stats", getOnly(resp, cfg.Ops.Stats))
	}

	if cfg.Metrics != nil {
		handle("/metrics", cfg.Metrics)
	}

	var handler http.Handler = mux
	for i := len(cfg.Middleware) - 1; i >= 0; i-- {
		if cfg.Middleware[i] != nil {
			handler = cfg.Middleware[i](handler)
		}
	}

	return handler
}

func getOnly(resp responder, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet && r.Method != http.MethodHead {
			methodNotAllowed(resp, w, r, http.MethodGet, http.MethodHead)
			return
		}
		next(w, r)
	}
}

func methodNotAllowed(resp responder, w http.ResponseWriter, r *http.Request, allowed ...string) {
	if len(allowed) > 0 {
		w.Header().Set("Allow", strings.Join(allowed, ", "))
	}
	resp.writeError(r.Context(), w, http.StatusMethodNotAllowed, nil)
}
