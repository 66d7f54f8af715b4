package grpcapi

import (
	"context"
	"time"

	"github.com/oriys/nova/internal/auth"
	"github.com/oriys/nova/internal/authz"
	"github.com/oriys/nova/internal/errs"
	"github.com/oriys/nova/internal/logging"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

// loggingInterceptor logs every unary call's outcome and latency,
// grounded on the teacher's internal/grpc/interceptors.go
// loggingInterceptor, generalized to use the shared logging.Op() logger
// this repo's other transports use instead of a package-local logger.
func loggingInterceptor(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
	start := time.Now()
	resp, err := handler(ctx, req)
	duration := time.Since(start)
	if err != nil {
		logging.Op().Error("grpcapi: request failed", "method", info.FullMethod, "duration", duration, "error", err)
	} else {
		logging.Op().Info("grpcapi: request completed", "method", info.FullMethod, "duration", duration)
	}
	return resp, err
}

// credentialKey is the metadata key carrying the single credential
// header spec.md §4.1 describes - the gRPC analogue of
// internal/auth.CredentialFromRequest's HTTP header lookup.
const credentialKey = "x-nova-credential"

var publicMethods = map[string]bool{
	"/nova.sandbox.v1.Sandbox/Health":       true,
	"/nova.sandbox.v1.Sandbox/Capabilities": true,
}

// authInterceptor authenticates every non-public call and attaches the
// resulting principal to ctx, the gRPC sibling of internal/httpapi's
// authMiddleware. It lives here rather than in internal/auth for the
// same reason: internal/auth stays transport-agnostic, and metadata
// extraction is gRPC-specific.
func authInterceptor(dispatcher *auth.Dispatcher) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		if dispatcher == nil || publicMethods[info.FullMethod] {
			return handler(ctx, req)
		}

		var credential string
		if md, ok := metadata.FromIncomingContext(ctx); ok {
			if vals := md.Get(credentialKey); len(vals) > 0 {
				credential = vals[0]
			}
		}

		principal := dispatcher.Authenticate(ctx, credential)
		if principal == nil {
			return nil, status.Error(codes.Unauthenticated, "invalid or missing credential")
		}

		return handler(auth.WithPrincipal(ctx, principal), req)
	}
}

// authorizeMethod mirrors internal/httpapi's authorize helper: only the
// operations in authz.OperationPermission are permission-gated, every
// other authenticated call just needs a non-nil principal.
func authorizeMethod(ctx context.Context, operation string) error {
	perm, gated := authz.OperationPermission[operation]
	if !gated {
		if p := auth.FromContext(ctx); p == nil || !p.Authenticated {
			return toGRPCError(errs.New(errs.AuthFailed, "no authenticated principal for this request"))
		}
		return nil
	}
	return toGRPCError(authz.Require(ctx, perm, operation))
}

// toGRPCError converts an *errs.Error into a grpc/status error carrying
// the closest matching code, the gRPC counterpart of
// internal/httpapi's httpStatusForTag.
func toGRPCError(err error) error {
	if err == nil {
		return nil
	}
	e := errs.As(err)
	var code codes.Code
	switch e.Tag {
	case errs.Validation:
		code = codes.InvalidArgument
	case errs.AuthFailed:
		code = codes.Unauthenticated
	case errs.AuthDenied:
		code = codes.PermissionDenied
	case errs.PolicyViolation:
		code = codes.FailedPrecondition
	case errs.ConnectionFailed:
		code = codes.Unavailable
	case errs.PoolExhausted:
		code = codes.ResourceExhausted
	case errs.QueryError:
		code = codes.InvalidArgument
	case errs.Timeout:
		code = codes.DeadlineExceeded
	case errs.ResourceLimit:
		code = codes.ResourceExhausted
	case errs.SandboxError:
		code = codes.Internal
	default:
		code = codes.Internal
	}
	return status.Error(code, e.Message)
}

func requestIDFromContext(ctx context.Context) string {
	if md, ok := metadata.FromIncomingContext(ctx); ok {
		if vals := md.Get("x-request-id"); len(vals) > 0 {
			return vals[0]
		}
	}
	return ""
}
