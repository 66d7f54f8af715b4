package grpcapi

import (
	"context"
	"testing"

	"github.com/oriys/nova/internal/auth"
	"github.com/oriys/nova/internal/domain"
	"github.com/oriys/nova/internal/errs"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

func TestToGRPCErrorMapsEveryTag(t *testing.T) {
	cases := map[errs.Tag]codes.Code{
		errs.Validation:       codes.InvalidArgument,
		errs.AuthFailed:       codes.Unauthenticated,
		errs.AuthDenied:       codes.PermissionDenied,
		errs.PolicyViolation:  codes.FailedPrecondition,
		errs.ConnectionFailed: codes.Unavailable,
		errs.PoolExhausted:    codes.ResourceExhausted,
		errs.QueryError:       codes.InvalidArgument,
		errs.Timeout:          codes.DeadlineExceeded,
		errs.ResourceLimit:    codes.ResourceExhausted,
		errs.SandboxError:     codes.Internal,
		errs.Internal:         codes.Internal,
	}
	for tag, want := range cases {
		err := toGRPCError(errs.New(tag, "boom"))
		if status.Code(err) != want {
			t.Errorf("toGRPCError(%s) = %v, want %v", tag, status.Code(err), want)
		}
	}
}

func TestToGRPCErrorPassesThroughNil(t *testing.T) {
	if err := toGRPCError(nil); err != nil {
		t.Fatalf("expected nil, got %v", err)
	}
}

func TestAuthInterceptorBypassesPublicMethod(t *testing.T) {
	d := auth.NewDispatcher(auth.NewStaticVerifier(nil))
	interceptor := authInterceptor(d)

	var reached bool
	handler := func(ctx context.Context, req any) (any, error) {
		reached = true
		return nil, nil
	}
	info := &grpc.UnaryServerInfo{FullMethod: fullMethod("Health")}

	if _, err := interceptor(context.Background(), &HealthRequest{}, info, handler); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !reached {
		t.Fatal("expected Health to bypass authentication")
	}
}

func TestAuthInterceptorRejectsMissingCredential(t *testing.T) {
	d := auth.NewDispatcher(auth.NewStaticVerifier(nil))
	interceptor := authInterceptor(d)

	handler := func(ctx context.Context, req any) (any, error) {
		t.Fatal("handler should not be reached without a valid credential")
		return nil, nil
	}
	info := &grpc.UnaryServerInfo{FullMethod: fullMethod("ExecuteSQL")}

	_, err := interceptor(context.Background(), &ExecuteSQLRequest{}, info, handler)
	if status.Code(err) != codes.Unauthenticated {
		t.Fatalf("expected Unauthenticated, got %v", err)
	}
}

func TestAuthInterceptorAttachesPrincipalOnValidCredential(t *testing.T) {
	d := auth.NewDispatcher(auth.NewStaticVerifier([]auth.StaticKeyConfig{
		{Name: "reporting-bot", Key: "sb_good", WorkspaceID: "ws_1", Permissions: []domain.Permission{domain.PermExecuteSQL}},
	}))
	interceptor := authInterceptor(d)

	var gotPrincipal *domain.Principal
	handler := func(ctx context.Context, req any) (any, error) {
		gotPrincipal = auth.FromContext(ctx)
		return nil, nil
	}
	info := &grpc.UnaryServerInfo{FullMethod: fullMethod("ExecuteSQL")}

	md := metadata.New(map[string]string{credentialKey: "sb_good"})
	ctx := metadata.NewIncomingContext(context.Background(), md)

	if _, err := interceptor(ctx, &ExecuteSQLRequest{}, info, handler); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if gotPrincipal == nil || !gotPrincipal.Authenticated || gotPrincipal.WorkspaceID != "ws_1" {
		t.Fatalf("unexpected principal: %+v", gotPrincipal)
	}
}

func TestAuthorizeMethodRequiresPrincipalForUngatedOperation(t *testing.T) {
	if err := authorizeMethod(context.Background(), "list_connections"); err == nil {
		t.Fatal("expected an error with no principal attached")
	}

	ctx := auth.WithPrincipal(context.Background(), &domain.Principal{Authenticated: true, WorkspaceID: "ws_1"})
	if err := authorizeMethod(ctx, "list_connections"); err != nil {
		t.Fatalf("expected ungated operation to pass with an authenticated principal: %v", err)
	}
}

func TestAuthorizeMethodDeniesGatedOperationWithoutPermission(t *testing.T) {
	ctx := auth.WithPrincipal(context.Background(), &domain.Principal{
		Authenticated: true,
		WorkspaceID:   "ws_1",
		Permissions:   domain.NewPermissionSet(domain.PermExecuteCode),
	})
	if err := authorizeMethod(ctx, "execute_sql"); status.Code(err) != codes.PermissionDenied {
		t.Fatalf("expected PermissionDenied, got %v", err)
	}
}

func TestAuthorizeMethodAllowsGatedOperationWithPermission(t *testing.T) {
	ctx := auth.WithPrincipal(context.Background(), &domain.Principal{
		Authenticated: true,
		WorkspaceID:   "ws_1",
		Permissions:   domain.NewPermissionSet(domain.PermExecuteSQL),
	})
	if err := authorizeMethod(ctx, "execute_sql"); err != nil {
		t.Fatalf("expected execute_sql to be allowed: %v", err)
	}
}

func TestRequestIDFromContextReadsMetadata(t *testing.T) {
	md := metadata.New(map[string]string{"x-request-id": "req-123"})
	ctx := metadata.NewIncomingContext(context.Background(), md)
	if got := requestIDFromContext(ctx); got != "req-123" {
		t.Fatalf("expected req-123, got %q", got)
	}
	if got := requestIDFromContext(context.Background()); got != "" {
		t.Fatalf("expected empty string with no metadata, got %q", got)
	}
}
