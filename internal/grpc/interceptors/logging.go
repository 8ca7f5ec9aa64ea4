package interceptors

import (
	"context"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"scrapekit/internal/logging"
	"scrapekit/pkg/utils"
)

// requestIDFromContext reuses the caller's x-request-id metadata when present
func requestIDFromContext(ctx context.Context) string {
	if md, ok := metadata.FromIncomingContext(ctx); ok {
		if ids := md.Get("x-request-id"); len(ids) > 0 && ids[0] != "" {
			return ids[0]
		}
	}
	return utils.GenerateRequestID()
}

func codeOf(err error) codes.Code {
	if err == nil {
		return codes.OK
	}
	if s, ok := status.FromError(err); ok {
		return s.Code()
	}
	return codes.Internal
}

func logCompletion(requestID, method, kind string, startTime time.Time, err error) {
	logger := logging.LogWithRequestID(requestID)
	fields := map[string]interface{}{
		"method":          method,
		"processing_time": time.Since(startTime).String(),
		"status_code":     codeOf(err).String(),
		"type":            kind,
	}
	if err != nil {
		fields["error"] = err.Error()
		logger.Error("gRPC request failed", fields)
		return
	}
	logger.Debug("gRPC request completed", fields)
}

// LoggingInterceptor returns a gRPC unary interceptor that logs requests and responses
func LoggingInterceptor() grpc.UnaryServerInterceptor {
	return func(
		ctx context.Context,
		req interface{},
		info *grpc.UnaryServerInfo,
		handler grpc.UnaryHandler,
	) (interface{}, error) {
		startTime := time.Now()
		requestID := requestIDFromContext(ctx)

		resp, err := handler(ctx, req)
		logCompletion(requestID, info.FullMethod, "grpc_request_complete", startTime, err)
		return resp, err
	}
}

// StreamLoggingInterceptor returns a gRPC streaming interceptor that logs stream operations
func StreamLoggingInterceptor() grpc.StreamServerInterceptor {
	return func(
		srv interface{},
		ss grpc.ServerStream,
		info *grpc.StreamServerInfo,
		handler grpc.StreamHandler,
	) error {
		startTime := time.Now()
		requestID := requestIDFromContext(ss.Context())

		err := handler(srv, ss)
		logCompletion(requestID, info.FullMethod, "grpc_stream_complete", startTime, err)
		return err
	}
}
