package interceptors

import (
	"context"
	"fmt"
	"runtime/debug"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"scrapekit/internal/logging"
)

func recovered(method, kind string, r interface{}) error {
	logging.GetGlobalLogger().Error("gRPC handler panic recovered", map[string]interface{}{
		"method":      method,
		"panic":       fmt.Sprintf("%v", r),
		"stack_trace": string(debug.Stack()),
		"type":        kind,
	})
	return status.Errorf(codes.Internal, "internal server error: %v", r)
}

// RecoveryInterceptor returns a gRPC unary interceptor that recovers from panics
func RecoveryInterceptor() grpc.UnaryServerInterceptor {
	return func(
		ctx context.Context,
		req interface{},
		info *grpc.UnaryServerInfo,
		handler grpc.UnaryHandler,
	) (resp interface{}, err error) {
		defer func() {
			if r := recover(); r != nil {
				resp, err = nil, recovered(info.FullMethod, "grpc_panic", r)
			}
		}()
		return handler(ctx, req)
	}
}

// StreamRecoveryInterceptor returns a gRPC streaming interceptor that recovers from panics
func StreamRecoveryInterceptor() grpc.StreamServerInterceptor {
	return func(
		srv interface{},
		ss grpc.ServerStream,
		info *grpc.StreamServerInfo,
		handler grpc.StreamHandler,
	) (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = recovered(info.FullMethod, "grpc_stream_panic", r)
			}
		}()
		return handler(srv, ss)
	}
}
