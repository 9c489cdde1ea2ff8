package interceptors

import (
	"context"
	"testing"

	"github.com/Dhoini/marketplace-payments/pkg/logger"

	"github.com/stretchr/testify/assert"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

var info = &grpc.UnaryServerInfo{FullMethod: "/grpc.health.v1.Health/Check"}

func TestRecovery_TurnsPanicIntoInternal(t *testing.T) {
	interceptor := Recovery(logger.NewNop())

	resp, err := interceptor(context.Background(), nil, info, func(context.Context, interface{}) (interface{}, error) {
		panic("boom")
	})
	assert.Nil(t, resp)
	assert.Equal(t, codes.Internal, status.Code(err))
}

func TestLogging_PassesThrough(t *testing.T) {
	interceptor := Logging(logger.NewNop())

	resp, err := interceptor(context.Background(), "req", info, func(_ context.Context, req interface{}) (interface{}, error) {
		return req, nil
	})
	assert.NoError(t, err)
	assert.Equal(t, "req", resp)

	_, err = interceptor(context.Background(), nil, info, func(context.Context, interface{}) (interface{}, error) {
		return nil, status.Error(codes.Unavailable, "down")
	})
	assert.Equal(t, codes.Unavailable, status.Code(err))
}
