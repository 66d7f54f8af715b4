package grpcapi

import (
	"context"
	"time"

	"github.com/oriys/nova/internal/auth"
	"github.com/oriys/nova/internal/domain"
	"github.com/oriys/nova/internal/errs"
	"github.com/oriys/nova/internal/exectx"
	"github.com/oriys/nova/internal/logging"
	"github.com/oriys/nova/internal/store"
)

func toColumn(c domain.Column) column {
	return column{Name: c.Name, Type: string(c.Type), Masked: c.Masked}
}

func toQueryResult(r *domain.QueryResult) *queryResult {
	if r == nil {
		return nil
	}
	cols := make([]column, len(r.Columns))
	for i, c := range r.Columns {
		cols[i] = toColumn(c)
	}
	rows := make([]map[string]any, len(r.Rows))
	for i, row := range r.Rows {
		rows[i] = map[string]any(row)
	}
	return &queryResult{Columns: cols, Rows: rows, RowCount: r.RowCount, TotalRowsAvailable: r.TotalRowsAvailable}
}

func toMetrics(m *domain.ExecutionMetrics) *metrics {
	if m == nil {
		return nil
	}
	return &metrics{
		DurationMs:    m.Duration().Milliseconds(),
		RowsProcessed: m.RowsProcessed,
		RowsReturned:  m.RowsReturned,
		MemoryUsedMB:  m.MemoryUsedMB,
	}
}

func toConnectionInfo(d domain.ConnectionDescriptor) connectionInfo {
	d = d.Redacted()
	return connectionInfo{
		ID: d.ID, Name: d.Name, Vendor: string(d.Vendor), Host: d.Host, Port: d.Port,
		Database: d.Database, Schema: d.Schema, Role: d.Role, Warehouse: d.Warehouse,
		Catalog: d.Catalog, Username: d.Username, SSLMode: string(d.SSL.Mode),
		ConnectTimeout: d.ConnectTimeout, QueryTimeout: d.QueryTimeout,
		PoolMin: d.Pool.Min, PoolMax: d.Pool.Max,
		CreatedAt: d.CreatedAt, UpdatedAt: d.UpdatedAt,
	}
}

func (req connectionRequest) toDescriptor() *domain.ConnectionDescriptor {
	sslMode := domain.SSLMode(req.SSLMode)
	if sslMode == "" {
		sslMode = domain.SSLPrefer
	}
	return &domain.ConnectionDescriptor{
		Name: req.Name, Vendor: domain.Vendor(req.Vendor), Host: req.Host, Port: req.Port,
		Database: req.Database, Schema: req.Schema, Role: req.Role, Warehouse: req.Warehouse,
		Catalog: req.Catalog, Username: req.Username,
		Secrets:        domain.SecretBag{Password: req.Password, APIKey: req.APIKey, Extra: req.SecretExtra},
		SSL:            domain.SSLDiscipline{Mode: sslMode, CAPath: req.SSLCAPath},
		ConnectTimeout: secondsToDuration(req.ConnectTimeout),
		QueryTimeout:   secondsToDuration(req.QueryTimeout),
		Pool:           domain.PoolBounds{Min: req.PoolMin, Max: req.PoolMax},
	}
}

func secondsToDuration(s int) time.Duration { return time.Duration(s) * time.Second }

// requestDeadlineSeconds is the gRPC counterpart of internal/httpapi's
// requestDeadline: a non-positive caller value falls back to fallback.
func requestDeadlineSeconds(seconds int, fallback time.Duration) time.Duration {
	if seconds <= 0 {
		return fallback
	}
	return time.Duration(seconds) * time.Second
}

// newExecContext is the gRPC counterpart of internal/httpapi's
// handler.newExecContext: it builds the per-call exectx.Context from the
// authenticated principal attached by authInterceptor and the caller's
// resource overrides, falling back to the configured defaults.
func (s *Server) newExecContext(ctx context.Context, opts execOptions) *exectx.Context {
	p := auth.FromContext(ctx)
	var principalID, workspaceID string
	if p != nil {
		workspaceID = p.WorkspaceID
		if p.UserID != nil {
			principalID = *p.UserID
		}
	}

	limits := exectx.Limits{
		MaxRows:            opts.MaxRows,
		Timeout:            requestDeadlineSeconds(opts.TimeoutSeconds, s.deps.ResourceLimits.QueryTimeout),
		MemoryMB:           opts.MemoryMB,
		OutputKB:           opts.OutputKB,
		StreamingPreferred: opts.Streaming,
	}
	if limits.MaxRows <= 0 {
		limits.MaxRows = s.deps.ResourceLimits.MaxRows
	}
	if limits.MemoryMB <= 0 {
		limits.MemoryMB = s.deps.ResourceLimits.MaxMemoryMB
	}
	if limits.OutputKB <= 0 {
		limits.OutputKB = s.deps.ResourceLimits.MaxOutputSizeKB
	}

	return exectx.New(ctx, requestIDFromContext(ctx), workspaceID, opts.ConnectionID, principalID, limits)
}

func (s *Server) logInvocation(ctx *exectx.Context, operation string, success bool, callErr error, m *domain.ExecutionMetrics) {
	if s.deps.LogSink == nil {
		return
	}
	p := auth.FromContext(ctx)
	var credentialLabel string
	if p != nil {
		credentialLabel = p.CredentialLabel
	}
	log := &store.InvocationLog{
		WorkspaceID: ctx.WorkspaceID, CredentialLabel: credentialLabel,
		Operation: operation, Success: success, CreatedAt: time.Now(),
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
	if err := s.deps.LogSink.Save(ctx, log); err != nil {
		logging.Op().Warn("grpcapi: failed to save invocation log", "operation", operation, "error", err)
	}
}
