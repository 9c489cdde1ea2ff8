package interceptors

import (
	"context"
	"runtime/debug"
	"time"

	"github.com/Dhoini/marketplace-payments/pkg/logger"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Logging логирует каждый unary вызов с кодом ответа и длительностью.
func Logging(log *logger.Logger) grpc.UnaryServerInterceptor {
	return func(
		ctx context.Context,
		req interface{},
		info *grpc.UnaryServerInfo,
		handler grpc.UnaryHandler,
	) (interface{}, error) {
		start := time.Now()
		resp, err := handler(ctx, req)

		code := status.Code(err)
		fields := []any{
			"method", info.FullMethod,
			"code", code.String(),
			"latency_ms", time.Since(start).Milliseconds(),
		}
		if err != nil && code != codes.NotFound {
			log.Warnw("gRPC call failed", append(fields, "error", err)...)
			return resp, err
		}
		log.Debugw("gRPC call handled", fields...)
		return resp, err
	}
}

// Recovery превращает панику обработчика в codes.Internal.
func Recovery(log *logger.Logger) grpc.UnaryServerInterceptor {
	return func(
		ctx context.Context,
		req interface{},
		info *grpc.UnaryServerInfo,
		handler grpc.UnaryHandler,
	) (resp interface{}, err error) {
		defer func() {
			if r := recover(); r != nil {
				log.Errorw("gRPC handler panic", "method", info.FullMethod, "panic", r, "stack", string(debug.Stack()))
				err = status.Errorf(codes.Internal, "internal error")
			}
		}()
		return handler(ctx, req)
	}
}
