// Package capability implements the capability surface of spec.md §6
// (C10): the connection-management operations that ride alongside
// execute-sql/execute-code/create-visualization on both transports —
// list-connections, create-connection, delete-connection,
// test-connection, sync-schema, get-table-samples.
//
// spec.md's distillation folds these into a single prose sentence, but
// SPEC_FULL.md names them as explicit operations matching the original's
// services/registration.py + services/db_handler_service.py feature
// surface: registration.py's per-vendor capability/handler concept
// becomes connector.Registry's vendor dispatch, and
// db_handler_service.py's test_connection/get_tables/get_columns per
// handler become TestConnection/SyncSchema generalized over the single
// connector.Conn contract (C4) instead of one Python class per vendor.
package capability

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"

	"github.com/oriys/nova/internal/config"
	"github.com/oriys/nova/internal/connector"
	"github.com/oriys/nova/internal/domain"
	"github.com/oriys/nova/internal/errs"
	"github.com/oriys/nova/internal/exectx"
	"github.com/oriys/nova/internal/logging"
	"github.com/oriys/nova/internal/metrics"
	"github.com/oriys/nova/internal/observability"
	"github.com/oriys/nova/internal/pool"
	"github.com/oriys/nova/internal/sqlpolicy"
	"github.com/oriys/nova/internal/store"
)

const (
	defaultSampleLimit = 100
	maxSampleLimit     = 1000
)

// ConnectionTestResult mirrors db_handler_service.py's ConnectionTestResult
// dataclass: a boolean outcome plus a human-readable message, with the
// raw error kept separate so callers can log it without echoing it back
// to every caller by default.
type ConnectionTestResult struct {
	Success bool
	Message string
	Error   string
}

// TableInfo is one entry of a SyncSchema response, generalizing
// db_handler_service.py's get_tables row shape ({schema, name, type}).
type TableInfo struct {
	Schema  string
	Name    string
	Columns []domain.Column
}

// SchemaSnapshot is the result of a sync-schema call: every table visible
// on the connection, each already described (db_handler_service.py always
// paired get_tables with a get_columns call per table for its schema
// browser; SyncSchema does the pairing once, server-side).
type SchemaSnapshot struct {
	ConnectionID string
	Tables       []TableInfo
	SyncedAt     time.Time
}

// Service implements the capability surface. It is constructed once at
// startup and shared across requests, the same as sqlexec.Executor and
// viz.Adapter.
type Service struct {
	store    store.MetadataStore
	pool     *pool.Pool
	registry *connector.Registry
	masker   *sqlpolicy.Masker
	limits   config.ResourceLimitsConfig
}

// New builds a Service backed by st for persistence, p for pooled
// execution, and reg for ad-hoc (unpooled) connection tests.
func New(st store.MetadataStore, p *pool.Pool, reg *connector.Registry, sec config.SecurityConfig, limits config.ResourceLimitsConfig) *Service {
	return &Service{
		store:    st,
		pool:     p,
		registry: reg,
		masker:   sqlpolicy.NewMasker(sec),
		limits:   limits,
	}
}

// recordOp returns a defer-able closure that records name's invocation
// metrics and closes its span once status settles to its final value,
// the same started/status/defer shape sqlexec and viz use — pulled into
// one helper here since every capability-surface operation needs it.
func recordOp(name string, started time.Time, status *metrics.Status, span trace.Span) func() {
	return func() {
		dur := time.Since(started).Milliseconds()
		metrics.Global().RecordInvocation(name, dur, *status)
		metrics.RecordPrometheusInvocation(name, dur, *status)
		if *status == metrics.StatusSuccess {
			observability.SetSpanOK(span)
		}
		span.End()
	}
}

// ListConnections returns every registered connection descriptor with
// its secret bag cleared (spec.md §3: "never serialized back").
func (s *Service) ListConnections(ctx context.Context) ([]domain.ConnectionDescriptor, error) {
	_, span := observability.StartSpan(ctx, "list-connections", observability.AttrOperation.String("list-connections"))
	started := time.Now()
	status := metrics.StatusSuccess
	defer recordOp("list-connections", started, &status, span)()

	descs, err := s.store.ListConnections(ctx)
	if err != nil {
		status = metrics.StatusError
		return nil, errs.Wrap(errs.Internal, "failed to list connections", err)
	}
	out := make([]domain.ConnectionDescriptor, len(descs))
	for i, d := range descs {
		out[i] = d.Redacted()
	}
	return out, nil
}

// CreateConnection persists a new descriptor and registers it with the
// pool so it is immediately acquirable, matching spec.md §8's testable
// property "create-connection → list-connections → find-by-name returns
// the just-created descriptor (minus secrets)".
func (s *Service) CreateConnection(ctx context.Context, desc *domain.ConnectionDescriptor) (*domain.ConnectionDescriptor, error) {
	_, span := observability.StartSpan(ctx, "create-connection", observability.AttrOperation.String("create-connection"))
	started := time.Now()
	status := metrics.StatusSuccess
	defer recordOp("create-connection", started, &status, span)()

	if desc.Name == "" {
		status = metrics.StatusError
		return nil, errs.New(errs.Validation, "connection name is required")
	}
	if !domain.ValidVendor(desc.Vendor) {
		status = metrics.StatusError
		return nil, errs.New(errs.Validation, "unrecognized vendor").WithDetails(map[string]any{"vendor": string(desc.Vendor)})
	}
	if desc.ID == "" {
		desc.ID = uuid.New().String()
	}

	if err := s.store.CreateConnection(ctx, desc); err != nil {
		status = metrics.StatusError
		return nil, errs.Wrap(errs.Internal, "failed to create connection", err)
	}
	if err := s.pool.Register(ctx, desc); err != nil {
		logging.Op().Warn("capability: created connection failed to register with pool", "connection_id", desc.ID, "error", err)
	}

	redacted := desc.Redacted()
	return &redacted, nil
}

// DeleteConnection unregisters the connection from the pool (closing any
// warm connections) and removes its descriptor from the store.
func (s *Service) DeleteConnection(ctx context.Context, id string) error {
	_, span := observability.StartSpan(ctx, "delete-connection",
		observability.AttrOperation.String("delete-connection"),
		observability.AttrConnectionID.String(id),
	)
	started := time.Now()
	status := metrics.StatusSuccess
	defer recordOp("delete-connection", started, &status, span)()

	s.pool.Unregister(id)
	if err := s.store.DeleteConnection(ctx, id); err != nil {
		status = metrics.StatusError
		return errs.Wrap(errs.Internal, "failed to delete connection", err)
	}
	return nil
}

// TestConnection opens a connection outside the pool, probes it, and
// closes it immediately — grounded on db_handler_service.py's
// test_connection, which every handler implements as "open, run a
// trivial check, close" without ever leaving the connection warm.
func (s *Service) TestConnection(ctx context.Context, desc *domain.ConnectionDescriptor) *ConnectionTestResult {
	_, span := observability.StartSpan(ctx, "test-connection", observability.AttrOperation.String("test-connection"))
	started := time.Now()
	status := metrics.StatusSuccess
	defer recordOp("test-connection", started, &status, span)()

	conn, err := s.registry.Open(ctx, desc)
	if err != nil {
		status = metrics.StatusError
		return &ConnectionTestResult{
			Success: false,
			Message: fmt.Sprintf("connection failed: %v", err),
			Error:   err.Error(),
		}
	}
	defer conn.Close()

	if !conn.Probe(ctx) {
		status = metrics.StatusError
		return &ConnectionTestResult{Success: false, Message: "connection opened but failed its health probe"}
	}
	return &ConnectionTestResult{Success: true, Message: "connection successful"}
}

// SyncSchema enumerates every table visible on connectionID and describes
// each one, generalizing db_handler_service.py's get_tables/get_columns
// pair (one per vendor handler there, one connector.Conn contract here).
func (s *Service) SyncSchema(ctx context.Context, connectionID string) (*SchemaSnapshot, error) {
	_, span := observability.StartSpan(ctx, "sync-schema",
		observability.AttrOperation.String("sync-schema"),
		observability.AttrConnectionID.String(connectionID),
	)
	started := time.Now()
	status := metrics.StatusSuccess
	defer recordOp("sync-schema", started, &status, span)()

	pc, err := s.pool.Acquire(ctx, connectionID)
	if err != nil {
		status = metrics.StatusError
		return nil, classifyPoolError(err)
	}
	healthy := true
	defer func() { s.pool.Release(pc, healthy) }()

	names, err := pc.Conn.ListTables(ctx, "")
	if err != nil {
		healthy = false
		status = metrics.StatusError
		return nil, errs.Wrap(errs.QueryError, "failed to list tables", err)
	}

	tables := make([]TableInfo, 0, len(names))
	for _, name := range names {
		schema, bare := splitSchemaTable(name)
		cols, err := pc.Conn.DescribeTable(ctx, bare, schema)
		if err != nil {
			healthy = false
			status = metrics.StatusError
			return nil, errs.Wrap(errs.QueryError, "failed to describe table", err).
				WithDetails(map[string]any{"table": name})
		}
		tables = append(tables, TableInfo{Schema: schema, Name: bare, Columns: cols})
	}

	return &SchemaSnapshot{ConnectionID: connectionID, Tables: tables, SyncedAt: time.Now()}, nil
}

// GetTableSamples runs a bounded "preview rows" query against table,
// masking sensitive columns the same way sqlexec.Executor does for any
// other result set leaving the core.
func (s *Service) GetTableSamples(ctx *exectx.Context, table string, limit int) (*domain.QueryResult, error) {
	_, span := observability.StartSpan(ctx, "get-table-samples",
		observability.AttrOperation.String("get-table-samples"),
		observability.AttrConnectionID.String(ctx.ConnectionID),
		observability.AttrRequestID.String(ctx.RequestID),
	)
	started := time.Now()
	status := metrics.StatusSuccess
	defer recordOp("get-table-samples", started, &status, span)()

	if ctx.ConnectionID == "" {
		status = metrics.StatusError
		return nil, errs.New(errs.Validation, "connection id is required")
	}
	if table == "" {
		status = metrics.StatusError
		return nil, errs.New(errs.Validation, "table name is required")
	}
	if limit <= 0 {
		limit = defaultSampleLimit
	}
	if limit > maxSampleLimit {
		limit = maxSampleLimit
	}

	pc, err := s.pool.Acquire(ctx, ctx.ConnectionID)
	if err != nil {
		status = metrics.StatusError
		return nil, classifyPoolError(err)
	}

	stmt := fmt.Sprintf("SELECT * FROM %s LIMIT %d", quoteIdentifier(table), limit)
	result, err := pc.Conn.Execute(ctx, stmt, nil, limit+1)
	if err != nil {
		s.pool.Release(pc, false)
		status = metrics.StatusError
		return nil, errs.Wrap(errs.QueryError, "failed to sample table", err).WithDetails(map[string]any{"table": table})
	}
	s.pool.Release(pc, true)

	if len(result.Rows) > limit {
		result.Rows = result.Rows[:limit]
		result.RowCount = limit
	}
	n := 0
	masked := s.masker.Apply(result)
	for _, row := range result.Rows {
		for col := range masked {
			if _, ok := row[col]; ok {
				n++
			}
		}
	}
	if n > 0 {
		metrics.Global().RecordMasking(n)
		metrics.RecordPrometheusMasking(n)
	}
	return result, nil
}

func classifyPoolError(err error) error {
	switch {
	case err == pool.ErrUnknownConnection:
		return errs.Wrap(errs.Validation, "unknown connection", err)
	case err == pool.ErrAcquireTimeout:
		return errs.Wrap(errs.PoolExhausted, "no pooled connection became available in time", err)
	case err == pool.ErrPoolClosing:
		return errs.Wrap(errs.ConnectionFailed, "connection is being removed", err)
	default:
		return errs.Wrap(errs.ConnectionFailed, "failed to open connection", err)
	}
}

// splitSchemaTable divides a "schema.table" identifier the way
// db_handler_service.py's PostgresHandler.get_columns does; a bare name
// with no schema prefix is passed through unchanged and the connector
// falls back to its configured default schema.
func splitSchemaTable(name string) (schema, table string) {
	if idx := strings.Index(name, "."); idx >= 0 {
		return name[:idx], name[idx+1:]
	}
	return "", name
}

// quoteIdentifier double-quotes each dot-separated part of name,
// doubling any embedded quote - standard SQL-92 identifier quoting,
// sufficient for every vendor this repo's connectors target.
func quoteIdentifier(name string) string {
	parts := strings.Split(name, ".")
	for i, p := range parts {
		parts[i] = `"` + strings.ReplaceAll(p, `"`, `""`) + `"`
	}
	return strings.Join(parts, ".")
}
