package services

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/Dhoini/marketplace-payments/internal/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newPoller(env *testEnv, gw *fakeGateway, timer *fakeTimer) *VerificationPoller {
	return NewVerificationPoller(gw, env.engine, env.metrics, env.log,
		WithAttempts(10, time.Second),
		WithTimer(timer),
	)
}

func TestVerifyAndActivate_PaidOnFourthAttempt(t *testing.T) {
	env := newTestEnv(t)
	env.pending(t, "s1", "u1", "cs_1", 20)
	gw := &fakeGateway{retrieve: paidFrom(4)}
	timer := newFakeTimer()

	sub, err := newPoller(env, gw, timer).VerifyAndActivate(context.Background(), "cs_1", "u1")
	require.NoError(t, err)
	assert.Equal(t, domain.SubscriptionStatusActive, sub.Status)
	assert.Equal(t, 4, gw.Calls())
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second, 4 * time.Second}, timer.Delays())
	assert.Len(t, env.payments(t, "u1"), 1)
	assert.Equal(t, 1.0, metricValue(t, env.registry, "payment_verification_attempts", map[string]string{"result": "activated"}))
}

func TestVerifyAndActivate_ExhaustsAttempts(t *testing.T) {
	env := newTestEnv(t)
	env.pending(t, "s1", "u1", "cs_1", 20)
	gw := &fakeGateway{retrieve: paidFrom(1000)}
	timer := newFakeTimer()

	_, err := newPoller(env, gw, timer).VerifyAndActivate(context.Background(), "cs_1", "u1")
	require.ErrorIs(t, err, domain.ErrVerificationExhausted)
	assert.Equal(t, 10, gw.Calls())

	delays := timer.Delays()
	require.Len(t, delays, 9)
	assert.Equal(t, time.Second, delays[0])
	assert.Equal(t, 256*time.Second, delays[8])

	sub, err := env.store.Subscriptions().GetByID(context.Background(), "s1")
	require.NoError(t, err)
	assert.Equal(t, domain.SubscriptionStatusPending, sub.Status)
	assert.Empty(t, env.payments(t, "u1"))
}

func TestVerifyAndActivate_AlreadyActiveReturnsWithoutNewPayment(t *testing.T) {
	env := newTestEnv(t)
	env.pending(t, "s1", "u1", "cs_1", 20)
	_, err := env.engine.Activate(context.Background(), "cs_1", "u1")
	require.NoError(t, err)

	gw := &fakeGateway{}
	sub, err := newPoller(env, gw, newFakeTimer()).VerifyAndActivate(context.Background(), "cs_1", "u1")
	require.NoError(t, err)
	assert.Equal(t, domain.SubscriptionStatusActive, sub.Status)
	assert.Equal(t, 1, gw.Calls())
	assert.Len(t, env.payments(t, "u1"), 1)
}

func TestVerifyAndActivate_InvalidStateStopsImmediately(t *testing.T) {
	env := newTestEnv(t)
	env.pending(t, "s1", "u1", "cs_1", 20)
	ctx := context.Background()
	_, err := env.engine.Activate(ctx, "cs_1", "u1")
	require.NoError(t, err)
	_, err = env.engine.Cancel(ctx, "u1")
	require.NoError(t, err)

	gw := &fakeGateway{}
	timer := newFakeTimer()
	_, err = newPoller(env, gw, timer).VerifyAndActivate(ctx, "cs_1", "u1")
	require.ErrorIs(t, err, domain.ErrInvalidState)
	assert.NotErrorIs(t, err, domain.ErrVerificationExhausted)
	assert.Equal(t, 1, gw.Calls())
	assert.Empty(t, timer.Delays())
}

func TestVerifyAndActivate_ProviderErrors(t *testing.T) {
	t.Run("retryable error is retried", func(t *testing.T) {
		env := newTestEnv(t)
		env.pending(t, "s1", "u1", "cs_1", 20)
		gw := &fakeGateway{retrieve: func(call int, id string) (*domain.CheckoutSession, error) {
			if call == 1 {
				return nil, &domain.ExternalServiceError{Service: "stripe", Code: "rate_limit", StatusCode: http.StatusTooManyRequests, Retryable: true}
			}
			return &domain.CheckoutSession{ID: id, PaymentStatus: "paid", AmountTotal: testAmountTotal}, nil
		}}

		_, err := newPoller(env, gw, newFakeTimer()).VerifyAndActivate(context.Background(), "cs_1", "u1")
		require.NoError(t, err)
		assert.Equal(t, 2, gw.Calls())
	})

	t.Run("permanent error is returned as is", func(t *testing.T) {
		env := newTestEnv(t)
		env.pending(t, "s1", "u1", "cs_1", 20)
		providerErr := &domain.ExternalServiceError{Service: "stripe", Code: "resource_missing", StatusCode: http.StatusNotFound}
		gw := &fakeGateway{retrieve: func(int, string) (*domain.CheckoutSession, error) {
			return nil, providerErr
		}}

		_, err := newPoller(env, gw, newFakeTimer()).VerifyAndActivate(context.Background(), "cs_1", "u1")
		require.ErrorIs(t, err, domain.ErrUpstreamVerification)
		assert.NotErrorIs(t, err, domain.ErrVerificationExhausted)
		assert.Equal(t, 1, gw.Calls())
	})
}

func TestVerifyAndActivate_IgnoresCallerCancellation(t *testing.T) {
	env := newTestEnv(t)
	env.pending(t, "s1", "u1", "cs_1", 20)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	sub, err := newPoller(env, &fakeGateway{retrieve: paidFrom(2)}, newFakeTimer()).VerifyAndActivate(ctx, "cs_1", "u1")
	require.NoError(t, err)
	assert.Equal(t, domain.SubscriptionStatusActive, sub.Status)
}

func TestFinalize(t *testing.T) {
	env := newTestEnv(t)
	env.pending(t, "s1", "u1", "cs_1", 20)
	ctx := context.Background()

	unpaid := newPoller(env, &fakeGateway{retrieve: paidFrom(1000)}, newFakeTimer())
	_, err := unpaid.Finalize(ctx, "cs_1", "u1")
	require.ErrorIs(t, err, domain.ErrNotYetPaid)
	assert.Empty(t, env.payments(t, "u1"))

	paid := newPoller(env, &fakeGateway{}, newFakeTimer())
	sub, err := paid.Finalize(ctx, "cs_1", "u1")
	require.NoError(t, err)
	assert.Equal(t, domain.SubscriptionStatusActive, sub.Status)

	again, err := paid.Finalize(ctx, "cs_1", "u1")
	require.NoError(t, err)
	assert.Equal(t, sub.ID, again.ID)
	assert.Len(t, env.payments(t, "u1"), 1)
}

func TestFinalize_AmountMismatchLeavesSubscriptionPending(t *testing.T) {
	env := newTestEnv(t)
	env.pending(t, "s1", "u1", "cs_1", 20)
	gw := &fakeGateway{retrieve: func(_ int, id string) (*domain.CheckoutSession, error) {
		return &domain.CheckoutSession{ID: id, PaymentStatus: "paid", AmountTotal: 50}, nil
	}}

	_, err := newPoller(env, gw, newFakeTimer()).Finalize(context.Background(), "cs_1", "u1")
	require.ErrorIs(t, err, domain.ErrAmountMismatch)

	sub, err := env.store.Subscriptions().GetByID(context.Background(), "s1")
	require.NoError(t, err)
	assert.Equal(t, domain.SubscriptionStatusPending, sub.Status)
	assert.Empty(t, env.payments(t, "u1"))
}

func TestVerifyAndActivate_AmountMismatchIsNotRetried(t *testing.T) {
	env := newTestEnv(t)
	env.pending(t, "s1", "u1", "cs_1", 20)
	gw := &fakeGateway{retrieve: func(_ int, id string) (*domain.CheckoutSession, error) {
		return &domain.CheckoutSession{ID: id, PaymentStatus: "paid", AmountTotal: 1999}, nil
	}}
	timer := newFakeTimer()

	_, err := newPoller(env, gw, timer).VerifyAndActivate(context.Background(), "cs_1", "u1")
	require.ErrorIs(t, err, domain.ErrAmountMismatch)
	assert.Equal(t, 1, gw.Calls())
	assert.Empty(t, timer.Delays())
	assert.Empty(t, env.payments(t, "u1"))
	assert.Equal(t, 1.0, metricValue(t, env.registry, "subscription_activations_total",
		map[string]string{"outcome": "amount_mismatch"}))
}
