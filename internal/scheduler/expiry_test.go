package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/Dhoini/marketplace-payments/pkg/logger"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type expirerFunc func(ctx context.Context, now time.Time) (int, error)

func (f expirerFunc) Expire(ctx context.Context, now time.Time) (int, error) { return f(ctx, now) }

func TestRunExpiry_PassesCurrentTime(t *testing.T) {
	fixed := time.Date(2026, 11, 2, 10, 0, 0, 0, time.UTC)
	var got time.Time
	var hasDeadline bool
	s, err := New("@every 1h", expirerFunc(func(ctx context.Context, now time.Time) (int, error) {
		got = now
		_, hasDeadline = ctx.Deadline()
		return 2, nil
	}), logger.NewNop())
	require.NoError(t, err)
	s.now = func() time.Time { return fixed }

	s.RunExpiry()

	assert.Equal(t, fixed, got)
	assert.True(t, hasDeadline)
}

func TestRunExpiry_ErrorIsNotFatal(t *testing.T) {
	calls := 0
	s, err := New("0 0 * * * *", expirerFunc(func(context.Context, time.Time) (int, error) {
		calls++
		return 0, errors.New("db down")
	}), logger.NewNop())
	require.NoError(t, err)

	s.RunExpiry()
	s.RunExpiry()
	assert.Equal(t, 2, calls)
}

func TestNew_InvalidSpec(t *testing.T) {
	_, err := New("every hour", expirerFunc(func(context.Context, time.Time) (int, error) { return 0, nil }), logger.NewNop())
	require.Error(t, err)
}

func TestStartStop(t *testing.T) {
	s, err := New("@every 1h", expirerFunc(func(context.Context, time.Time) (int, error) { return 0, nil }), logger.NewNop())
	require.NoError(t, err)

	s.Start()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	s.Stop(ctx)
	assert.NoError(t, ctx.Err())
}
