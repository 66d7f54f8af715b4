package httpapi

import (
	"net/http"
	"time"

	"github.com/oriys/nova/internal/auth"
	"github.com/oriys/nova/internal/capability"
	"github.com/oriys/nova/internal/config"
	"github.com/oriys/nova/internal/errs"
	"github.com/oriys/nova/internal/logging"
	"github.com/oriys/nova/internal/logsink"
	"github.com/oriys/nova/internal/observability"
	"github.com/oriys/nova/internal/ratelimit"
	"github.com/oriys/nova/internal/sandbox"
	"github.com/oriys/nova/internal/sqlexec"
	"github.com/oriys/nova/internal/store"
	"github.com/oriys/nova/internal/viz"
)

// Deps are the dependencies StartHTTPServer wires into the mux, handed
// in fully constructed (the teacher's ServerConfig pattern in
// internal/api/server.go: a flat struct of already-built services, no
// construction logic of its own here).
type Deps struct {
	Store          store.MetadataStore
	LogSink        logsink.LogSink
	SQL            *sqlexec.Executor
	Sandbox        *sandbox.Runner
	Viz            *viz.Adapter
	Capability     *capability.Service
	Dispatcher     *auth.Dispatcher
	RateLimiter    *ratelimit.Limiter
	AuthCfg        config.AuthConfig
	RateLimitCfg   config.RateLimitConfig
	ResourceLimits config.ResourceLimitsConfig
	StartedAt      time.Time
	Version        string
}

// StartHTTPServer builds the mux, wires the middleware chain, and returns
// an *http.Server ready for ListenAndServe. Middleware order mirrors the
// teacher's internal/api/server.go: tracing innermost (closest to the
// mux), then rate limiting, then authentication outermost - a request is
// authenticated before it is ever counted against a tier's budget.
func StartHTTPServer(addr string, deps Deps) *http.Server {
	if deps.LogSink == nil && deps.Store != nil {
		deps.LogSink = logsink.NewPostgresSink(store.NewStore(deps.Store))
	}

	mux := http.NewServeMux()

	h := &handler{deps: deps}
	h.registerRoutes(mux)

	var next http.Handler = mux
	next = observability.HTTPMiddleware(next)

	if deps.RateLimitCfg.Enabled && deps.RateLimiter != nil {
		next = ratelimit.Middleware(deps.RateLimiter, deps.AuthCfg.PublicPaths)(next)
		logging.Op().Info("httpapi: rate limiting enabled")
	}

	if deps.AuthCfg.Enabled && deps.Dispatcher != nil {
		next = authMiddleware(deps.Dispatcher, deps.AuthCfg.PublicPaths)(next)
		logging.Op().Info("httpapi: authentication enabled", "public_paths", deps.AuthCfg.PublicPaths)
	}

	server := &http.Server{
		Addr:              addr,
		Handler:           next,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logging.Op().Info("httpapi: server started", "addr", addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logging.Op().Error("httpapi: server error", "error", err)
		}
	}()

	return server
}

func authFailedErr() error {
	return errs.New(errs.AuthFailed, "invalid or missing credential")
}
