// Package exectx implements the per-request execution context of
// spec.md §3: identity, resource limits, and tracing anchors, immutable
// after construction.
//
// A Context embeds context.Context so it composes with the rest of the
// stdlib/ecosystem cancellation machinery: the GLOSSARY's "deadline
// token" is realized directly as ctx.Context's deadline, set once at
// construction from Timeout and never reset (spec.md §4.4 streaming
// note: "not reset per batch").
package exectx

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Limits are the resource caps carried on a Context. Any limit explicitly
// set here overrides the configured default (spec.md §3 invariant).
type Limits struct {
	MaxRows            int
	Timeout            time.Duration
	MemoryMB           int
	OutputKB           int
	StreamingPreferred bool
}

// Context is immutable after New returns. Callers that need a derived
// context with different limits must call one of the With* methods, which
// return a new value rather than mutating the receiver.
type Context struct {
	context.Context

	RequestID    string
	WorkspaceID  string
	ConnectionID string
	PrincipalID  string
	TraceID      string
	SpanID       string

	Limits Limits

	cancel context.CancelFunc
}

// New builds a Context. If requestID is empty one is assigned (spec.md §3
// invariant: "request-id is non-empty and globally unique per
// invocation"). Timeout must be > 0 for the returned context to carry a
// deadline; a zero timeout means "bounded only by the parent context",
// which is only appropriate for operations spec.md does not itself bound
// (e.g. a health check).
func New(parent context.Context, requestID, workspaceID, connectionID, principalID string, limits Limits) *Context {
	if requestID == "" {
		requestID = uuid.New().String()
	}
	traceID := requestID
	spanID := uuid.New().String()[:16]

	var (
		cctx   = parent
		cancel context.CancelFunc
	)
	if limits.Timeout > 0 {
		cctx, cancel = context.WithTimeout(parent, limits.Timeout)
	} else {
		cctx, cancel = context.WithCancel(parent)
	}

	return &Context{
		Context:      cctx,
		RequestID:    requestID,
		WorkspaceID:  workspaceID,
		ConnectionID: connectionID,
		PrincipalID:  principalID,
		TraceID:      traceID,
		SpanID:       spanID,
		Limits:       limits,
		cancel:       cancel,
	}
}

// Cancel releases resources associated with the context's deadline. It
// must be called (typically via defer) once the request completes,
// mirroring the stdlib context.WithTimeout contract.
func (c *Context) Cancel() {
	if c.cancel != nil {
		c.cancel()
	}
}

// Bounded reports whether the context carries a deadline (spec.md §3:
// "timeout > 0 ⇒ bounded execution").
func (c *Context) Bounded() bool {
	_, ok := c.Context.Deadline()
	return ok
}

// WithSpan returns a copy of c with a freshly generated span-id, used
// when a single request fans out into multiple traced sub-operations
// (e.g. the errgroup pre-fetch in internal/sqlexec).
func (c *Context) WithSpan() *Context {
	cp := *c
	cp.SpanID = uuid.New().String()[:16]
	return &cp
}
