package grpcapi

import (
	"context"
	"time"

	"github.com/oriys/nova/internal/domain"
	"github.com/oriys/nova/internal/errs"
	"github.com/oriys/nova/internal/sandbox"
)

func (s *Server) ExecuteSQL(ctx context.Context, req *ExecuteSQLRequest) (*ExecuteSQLResponse, error) {
	const operation = "execute_sql"
	if err := authorizeMethod(ctx, operation); err != nil {
		return nil, err
	}
	if req.ConnectionID == "" {
		return nil, toGRPCError(errs.New(errs.Validation, "connection_id is required"))
	}

	ectx := s.newExecContext(ctx, req.execOptions)
	defer ectx.Cancel()

	result, err := s.deps.SQL.Execute(ectx, req.Query, req.Bindings)
	if err != nil {
		s.logInvocation(ectx, operation, false, err, nil)
		return nil, toGRPCError(err)
	}
	s.logInvocation(ectx, operation, true, nil, result.Metrics)
	return &ExecuteSQLResponse{RequestID: ectx.RequestID, Result: toQueryResult(result), Metrics: toMetrics(result.Metrics)}, nil
}

func (s *Server) ExecuteCode(ctx context.Context, req *ExecuteCodeRequest) (*ExecuteCodeResponse, error) {
	const operation = "execute_code"
	if err := authorizeMethod(ctx, operation); err != nil {
		return nil, err
	}

	ectx := s.newExecContext(ctx, req.execOptions)
	defer ectx.Cancel()

	rows := make([]domain.Row, len(req.InputData))
	for i, m := range req.InputData {
		rows[i] = domain.Row(m)
	}

	resp, err := s.deps.Sandbox.Execute(ectx, req.Code, rows, req.Variables, s.deps.ResourceLimits)
	if err != nil {
		s.logInvocation(ectx, operation, false, err, nil)
		return nil, toGRPCError(err)
	}
	if classErr := sandbox.ClassifyStatus(resp); classErr != nil {
		s.logInvocation(ectx, operation, false, classErr, nil)
		return nil, toGRPCError(classErr)
	}
	s.logInvocation(ectx, operation, true, nil, nil)
	return &ExecuteCodeResponse{
		RequestID: ectx.RequestID, Status: string(resp.Status), Stdout: resp.Stdout, Stderr: resp.Stderr,
		Variables: resp.Variables, ErrorMessage: resp.ErrorMessage, ErrorClass: resp.ErrorClass,
		Traceback: resp.Traceback, ElapsedMs: resp.ElapsedMillis,
	}, nil
}

// CreateVisualization only wires the code-driven variant, matching
// internal/httpapi's createVisualization restriction.
func (s *Server) CreateVisualization(ctx context.Context, req *CreateVisualizationRequest) (*CreateVisualizationResponse, error) {
	const operation = "produce_visualization"
	if err := authorizeMethod(ctx, operation); err != nil {
		return nil, err
	}
	if req.Code == "" {
		return nil, toGRPCError(errs.New(errs.Validation, "code is required (code-driven visualization only)"))
	}

	ectx := s.newExecContext(ctx, req.execOptions)
	defer ectx.Cancel()

	rows := make([]domain.Row, len(req.Data))
	for i, m := range req.Data {
		rows[i] = domain.Row(m)
	}

	env, err := s.deps.Viz.CreateFromCode(ectx, s.deps.Sandbox, req.Code, rows)
	if err != nil {
		s.logInvocation(ectx, operation, false, err, nil)
		return nil, toGRPCError(err)
	}
	s.logInvocation(ectx, operation, true, nil, env.Metrics)
	return &CreateVisualizationResponse{
		RequestID: ectx.RequestID, Spec: env.Spec, Insight: env.Insight, Explanation: env.Explanation,
		ChartKind: string(env.ChartKind), DataPoints: env.DataPoints, Metrics: toMetrics(env.Metrics),
	}, nil
}

func (s *Server) ListConnections(ctx context.Context, _ *ListConnectionsRequest) (*ListConnectionsResponse, error) {
	if err := authorizeMethod(ctx, "list_connections"); err != nil {
		return nil, err
	}
	descs, err := s.deps.Capability.ListConnections(ctx)
	if err != nil {
		return nil, toGRPCError(err)
	}
	out := make([]connectionInfo, len(descs))
	for i, d := range descs {
		out[i] = toConnectionInfo(d)
	}
	return &ListConnectionsResponse{Connections: out}, nil
}

func (s *Server) CreateConnection(ctx context.Context, req *CreateConnectionRequest) (*CreateConnectionResponse, error) {
	if err := authorizeMethod(ctx, "create_connection"); err != nil {
		return nil, err
	}
	if req.Name == "" || req.Vendor == "" {
		return nil, toGRPCError(errs.New(errs.Validation, "name and vendor are required"))
	}
	desc, err := s.deps.Capability.CreateConnection(ctx, req.connectionRequest.toDescriptor())
	if err != nil {
		return nil, toGRPCError(err)
	}
	return &CreateConnectionResponse{Connection: toConnectionInfo(*desc)}, nil
}

func (s *Server) DeleteConnection(ctx context.Context, req *DeleteConnectionRequest) (*DeleteConnectionResponse, error) {
	if err := authorizeMethod(ctx, "delete_connection"); err != nil {
		return nil, err
	}
	if err := s.deps.Capability.DeleteConnection(ctx, req.ID); err != nil {
		return nil, toGRPCError(err)
	}
	return &DeleteConnectionResponse{Deleted: req.ID}, nil
}

func (s *Server) TestConnection(ctx context.Context, req *TestConnectionRequest) (*TestConnectionResponse, error) {
	if err := authorizeMethod(ctx, "test_connection"); err != nil {
		return nil, err
	}
	result := s.deps.Capability.TestConnection(ctx, req.connectionRequest.toDescriptor())
	return &TestConnectionResponse{Success: result.Success, Message: result.Message, Error: result.Error}, nil
}

func (s *Server) SyncSchema(ctx context.Context, req *SyncSchemaRequest) (*SyncSchemaResponse, error) {
	if err := authorizeMethod(ctx, "sync_schema"); err != nil {
		return nil, err
	}
	snapshot, err := s.deps.Capability.SyncSchema(ctx, req.ConnectionID)
	if err != nil {
		return nil, toGRPCError(err)
	}
	tables := make([]tableInfo, len(snapshot.Tables))
	for i, t := range snapshot.Tables {
		cols := make([]column, len(t.Columns))
		for j, c := range t.Columns {
			cols[j] = toColumn(c)
		}
		tables[i] = tableInfo{Schema: t.Schema, Name: t.Name, Columns: cols}
	}
	return &SyncSchemaResponse{ConnectionID: snapshot.ConnectionID, Tables: tables, SyncedAt: snapshot.SyncedAt}, nil
}

func (s *Server) GetTableSamples(ctx context.Context, req *GetTableSamplesRequest) (*GetTableSamplesResponse, error) {
	const operation = "get_table_samples"
	if err := authorizeMethod(ctx, operation); err != nil {
		return nil, err
	}
	if req.Table == "" {
		return nil, toGRPCError(errs.New(errs.Validation, "table is required"))
	}

	ectx := s.newExecContext(ctx, execOptions{ConnectionID: req.ConnectionID})
	defer ectx.Cancel()

	result, err := s.deps.Capability.GetTableSamples(ectx, req.Table, req.Limit)
	if err != nil {
		s.logInvocation(ectx, operation, false, err, nil)
		return nil, toGRPCError(err)
	}
	s.logInvocation(ectx, operation, true, nil, result.Metrics)
	return &GetTableSamplesResponse{RequestID: ectx.RequestID, Result: toQueryResult(result), Metrics: toMetrics(result.Metrics)}, nil
}

// Health is deliberately unauthenticated (see publicMethods) and
// unmetered beyond a process-uptime figure, the gRPC twin of
// internal/httpapi's health handler.
func (s *Server) Health(ctx context.Context, _ *HealthRequest) (*HealthResponse, error) {
	status := "ok"
	if s.deps.Store != nil {
		pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		defer cancel()
		if err := s.deps.Store.Ping(pingCtx); err != nil {
			status = "degraded"
		}
	}
	return &HealthResponse{Status: status, UptimeSeconds: int64(time.Since(s.deps.StartedAt).Seconds()), Version: s.deps.Version}, nil
}

func (s *Server) Capabilities(ctx context.Context, _ *CapabilitiesRequest) (*CapabilitiesResponse, error) {
	vendors := domain.AllVendors()
	vendorTags := make([]string, len(vendors))
	for i, v := range vendors {
		vendorTags[i] = string(v)
	}
	return &CapabilitiesResponse{
		Operations: []string{
			"execute-sql", "execute-code", "create-visualization",
			"list-connections", "create-connection", "delete-connection",
			"test-connection", "sync-schema", "get-table-samples",
			"health", "capabilities",
		},
		Vendors:         vendorTags,
		MaxMemoryMB:     s.deps.ResourceLimits.MaxMemoryMB,
		MaxOutputSizeKB: s.deps.ResourceLimits.MaxOutputSizeKB,
		MaxRows:         s.deps.ResourceLimits.MaxRows,
	}, nil
}
