package grpcserver

import (
	"context"
	"errors"
	"testing"

	"github.com/Dhoini/marketplace-payments/pkg/logger"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

func TestRefresh_ReflectsDependencyChecks(t *testing.T) {
	var dbErr error
	s := New(map[string]Check{
		"database": func(context.Context) error { return dbErr },
		"redis":    func(context.Context) error { return nil },
	}, 0, logger.NewNop())
	ctx := context.Background()

	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, s.Refresh(ctx))
	resp, err := s.Health().Check(ctx, &healthpb.HealthCheckRequest{Service: ServiceName})
	require.NoError(t, err)
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, resp.GetStatus())

	dbErr = errors.New("connection refused")
	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, s.Refresh(ctx))
	resp, err = s.Health().Check(ctx, &healthpb.HealthCheckRequest{})
	require.NoError(t, err)
	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, resp.GetStatus())
}
