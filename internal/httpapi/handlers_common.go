package httpapi

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/oriys/nova/internal/auth"
	"github.com/oriys/nova/internal/authz"
	"github.com/oriys/nova/internal/domain"
	"github.com/oriys/nova/internal/errs"
	"github.com/oriys/nova/internal/exectx"
	"github.com/oriys/nova/internal/logging"
	"github.com/oriys/nova/internal/logsink"
	"github.com/oriys/nova/internal/store"
)

// contextWithShortTimeout bounds a dependency probe (e.g. the health
// check's store ping) to a small fixed deadline, independent of the
// caller's own request timeout.
func contextWithShortTimeout(r *http.Request) (context.Context, context.CancelFunc) {
	return context.WithTimeout(r.Context(), 2*time.Second)
}

// handler holds every dependency the per-operation handler methods need.
// It is deliberately a single struct (rather than one per operation
// group) so every handler shares the same request-context helpers,
// mirroring the teacher's dataplane.Handler.
type handler struct {
	deps Deps
}

func (h *handler) registerRoutes(mux *http.ServeMux) {
	h.registerSystemRoutes(mux)
	h.registerExecRoutes(mux)
	h.registerConnectionRoutes(mux)
}

// execRequest is the common envelope of fields every gated operation's
// body may carry on top of its operation-specific fields (spec.md §3's
// execution context, surfaced as request fields rather than a header
// block since the HTTP transport has no other place to put them).
type execRequest struct {
	ConnectionID   string `json:"connection_id,omitempty"`
	MaxRows        int    `json:"max_rows,omitempty"`
	TimeoutSeconds int    `json:"timeout_seconds,omitempty"`
	MemoryMB       int    `json:"memory_mb,omitempty"`
	OutputKB       int    `json:"output_kb,omitempty"`
	Streaming      bool   `json:"streaming,omitempty"`
}

// decodeJSON decodes r's body into dst, tolerating an empty body (POST
// with no payload decodes to dst's zero value) the same way the
// teacher's InvokeFunction handler treats ContentLength == 0 as "no
// body", rather than a decode error.
func decodeJSON(r *http.Request, dst any) error {
	if r.ContentLength == 0 {
		return nil
	}
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(dst); err != nil && err != io.EOF {
		return errs.Wrap(errs.Validation, "malformed request body", err)
	}
	return nil
}

// requestID returns the caller-supplied request id (spec.md §3 "assigned
// if absent" - exectx.New performs the assignment itself when this is
// empty).
func requestID(r *http.Request) string {
	return r.Header.Get("X-Request-ID")
}

// newExecContext builds the per-request exectx.Context from the
// authenticated principal and the caller's resource overrides, applying
// the configured defaults for anything the caller omitted (spec.md §3:
// "any limit explicitly set on the context overrides the configured
// default").
func (h *handler) newExecContext(r *http.Request, req execRequest) *exectx.Context {
	p := auth.FromContext(r.Context())
	var principalID, workspaceID string
	if p != nil {
		workspaceID = p.WorkspaceID
		if p.UserID != nil {
			principalID = *p.UserID
		}
	}

	limits := exectx.Limits{
		MaxRows:            req.MaxRows,
		Timeout:            requestDeadline(req.TimeoutSeconds, h.deps.ResourceLimits.QueryTimeout),
		MemoryMB:           req.MemoryMB,
		OutputKB:           req.OutputKB,
		StreamingPreferred: req.Streaming,
	}
	if limits.MaxRows <= 0 {
		limits.MaxRows = h.deps.ResourceLimits.MaxRows
	}
	if limits.MemoryMB <= 0 {
		limits.MemoryMB = h.deps.ResourceLimits.MaxMemoryMB
	}
	if limits.OutputKB <= 0 {
		limits.OutputKB = h.deps.ResourceLimits.MaxOutputSizeKB
	}

	return exectx.New(r.Context(), requestID(r), workspaceID, req.ConnectionID, principalID, limits)
}

// authorize checks the principal attached to r's context against the
// permission operation requires (authz.OperationPermission), returning
// nil for operations that are authenticate-only (not in that map).
func authorize(r *http.Request, operation string) error {
	perm, gated := authz.OperationPermission[operation]
	if !gated {
		if p := auth.FromContext(r.Context()); p == nil || !p.Authenticated {
			return errs.New(errs.AuthFailed, "no authenticated principal for this request")
		}
		return nil
	}
	return authz.Require(r.Context(), perm, operation)
}

// logInvocation persists one InvocationLog row, best-effort: a logging
// failure never changes the response already sent to the caller, only a
// warning in the operational log (spec.md §7's propagation policy treats
// this as ambient bookkeeping, not a recoverable boundary).
func logInvocation(ctx *exectx.Context, sink logsink.LogSink, p *domain.Principal, operation string, success bool, callErr error, m *domain.ExecutionMetrics) {
	if sink == nil {
		return
	}
	var credentialLabel string
	if p != nil {
		credentialLabel = p.CredentialLabel
	}
	log := &store.InvocationLog{
		WorkspaceID:     ctx.WorkspaceID,
		CredentialLabel: credentialLabel,
		Operation:       operation,
		Success:         success,
		CreatedAt:       time.Now(),
	}
	if ctx.ConnectionID != "" {
		cid := ctx.ConnectionID
		log.ConnectionID = &cid
	}
	if callErr != nil {
		log.ErrorTag = string(errs.As(callErr).Tag)
		log.ErrorMessage = errs.As(callErr).Message
	}
	if m != nil {
		log.RowsProcessed = m.RowsProcessed
		log.RowsReturned = m.RowsReturned
		log.MemoryUsedMB = m.MemoryUsedMB
		log.DurationMS = m.Duration().Milliseconds()
	}
	if err := sink.Save(ctx, log); err != nil {
		logging.Op().Warn("httpapi: failed to save invocation log", "operation", operation, "error", err)
	}
}
