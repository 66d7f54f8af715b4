package grpcapi

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/oriys/nova/internal/auth"
	"github.com/oriys/nova/internal/capability"
	"github.com/oriys/nova/internal/config"
	"github.com/oriys/nova/internal/logging"
	"github.com/oriys/nova/internal/logsink"
	"github.com/oriys/nova/internal/sandbox"
	"github.com/oriys/nova/internal/sqlexec"
	"github.com/oriys/nova/internal/store"
	"github.com/oriys/nova/internal/viz"
	"google.golang.org/grpc"
)

const serviceName = "nova.sandbox.v1.Sandbox"

// Deps are Server's dependencies, the gRPC sibling of
// internal/httpapi.Deps - the same already-constructed services, handed
// in rather than built here.
type Deps struct {
	Store          store.MetadataStore
	LogSink        logsink.LogSink
	SQL            *sqlexec.Executor
	Sandbox        *sandbox.Runner
	Viz            *viz.Adapter
	Capability     *capability.Service
	Dispatcher     *auth.Dispatcher
	AuthEnabled    bool
	ResourceLimits config.ResourceLimitsConfig
	StartedAt      time.Time
	Version        string
}

// Server implements the eleven spec.md §6 operations as unary gRPC
// methods. It holds no state of its own beyond deps, mirroring the
// teacher's Server (internal/grpc/server.go) wrapping store/executor/pool.
type Server struct {
	deps Deps
}

// NewServer constructs a Server ready to be registered against a
// *grpc.Server via serviceDesc.
func NewServer(deps Deps) *Server {
	return &Server{deps: deps}
}

// StartGRPCServer builds a *grpc.Server bound to addr, wires the
// logging/auth interceptors, registers Server against the hand-written
// serviceDesc, and starts serving in a background goroutine - mirroring
// the teacher's Server.Start, which also returns immediately after
// kicking off grpc.Server.Serve in a goroutine.
func StartGRPCServer(addr string, deps Deps) (*grpc.Server, error) {
	if deps.LogSink == nil && deps.Store != nil {
		deps.LogSink = logsink.NewPostgresSink(store.NewStore(deps.Store))
	}

	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("grpcapi: listen: %w", err)
	}

	interceptors := []grpc.UnaryServerInterceptor{loggingInterceptor}
	if deps.AuthEnabled && deps.Dispatcher != nil {
		interceptors = append(interceptors, authInterceptor(deps.Dispatcher))
	}

	srv := grpc.NewServer(
		grpc.ForceServerCodec(jsonCodec{}),
		grpc.ChainUnaryInterceptor(interceptors...),
	)
	srv.RegisterService(&serviceDesc, NewServer(deps))

	go func() {
		logging.Op().Info("grpcapi: server started", "addr", addr)
		if err := srv.Serve(lis); err != nil {
			logging.Op().Error("grpcapi: server error", "error", err)
		}
	}()

	return srv, nil
}

// serviceDesc is the hand-written stand-in for a protoc-generated
// ServiceDesc (see the package doc for why one isn't generated here).
// Each MethodName/Handler pair follows the same shape protoc-gen-go-grpc
// emits: decode the request with dec, run it through the interceptor
// chain if present, dispatch to the matching Server method.
var serviceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*any)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "ExecuteSQL", Handler: executeSQLHandler},
		{MethodName: "ExecuteCode", Handler: executeCodeHandler},
		{MethodName: "CreateVisualization", Handler: createVisualizationHandler},
		{MethodName: "ListConnections", Handler: listConnectionsHandler},
		{MethodName: "CreateConnection", Handler: createConnectionHandler},
		{MethodName: "DeleteConnection", Handler: deleteConnectionHandler},
		{MethodName: "TestConnection", Handler: testConnectionHandler},
		{MethodName: "SyncSchema", Handler: syncSchemaHandler},
		{MethodName: "GetTableSamples", Handler: getTableSamplesHandler},
		{MethodName: "Health", Handler: healthHandler},
		{MethodName: "Capabilities", Handler: capabilitiesHandler},
	},
}

func fullMethod(name string) string { return "/" + serviceName + "/" + name }

func executeSQLHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(ExecuteSQLRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(*Server).ExecuteSQL(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod("ExecuteSQL")}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(*Server).ExecuteSQL(ctx, req.(*ExecuteSQLRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func executeCodeHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(ExecuteCodeRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(*Server).ExecuteCode(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod("ExecuteCode")}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(*Server).ExecuteCode(ctx, req.(*ExecuteCodeRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func createVisualizationHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(CreateVisualizationRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(*Server).CreateVisualization(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod("CreateVisualization")}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(*Server).CreateVisualization(ctx, req.(*CreateVisualizationRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func listConnectionsHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(ListConnectionsRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(*Server).ListConnections(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod("ListConnections")}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(*Server).ListConnections(ctx, req.(*ListConnectionsRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func createConnectionHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(CreateConnectionRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(*Server).CreateConnection(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod("CreateConnection")}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(*Server).CreateConnection(ctx, req.(*CreateConnectionRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func deleteConnectionHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(DeleteConnectionRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(*Server).DeleteConnection(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod("DeleteConnection")}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(*Server).DeleteConnection(ctx, req.(*DeleteConnectionRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func testConnectionHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(TestConnectionRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(*Server).TestConnection(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod("TestConnection")}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(*Server).TestConnection(ctx, req.(*TestConnectionRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func syncSchemaHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(SyncSchemaRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(*Server).SyncSchema(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod("SyncSchema")}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(*Server).SyncSchema(ctx, req.(*SyncSchemaRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func getTableSamplesHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(GetTableSamplesRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(*Server).GetTableSamples(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod("GetTableSamples")}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(*Server).GetTableSamples(ctx, req.(*GetTableSamplesRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func healthHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(HealthRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(*Server).Health(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod("Health")}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(*Server).Health(ctx, req.(*HealthRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func capabilitiesHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(CapabilitiesRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(*Server).Capabilities(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod("Capabilities")}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(*Server).Capabilities(ctx, req.(*CapabilitiesRequest))
	}
	return interceptor(ctx, in, info, handler)
}
