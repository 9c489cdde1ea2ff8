package stripe

import (
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/Dhoini/marketplace-payments/internal/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v78"
	"github.com/stripe/stripe-go/v78/webhook"
)

const testSecret = "whsec_test"

func signPayload(payload []byte, secret string, at time.Time) string {
	return webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
		Payload:   payload,
		Secret:    secret,
		Timestamp: at,
	}).Header
}

const completedPayload = `{
  "id": "evt_1",
  "object": "event",
  "type": "checkout.session.completed",
  "api_version": "2020-08-27",
  "data": {
    "object": {
      "id": "cs_test_1",
      "object": "checkout.session",
      "payment_status": "paid",
      "amount_total": 2050,
      "metadata": {"purpose": "subscription", "user_id": "u1"}
    }
  }
}`

func TestParseWebhook_CheckoutCompleted(t *testing.T) {
	payload := []byte(completedPayload)

	ev, err := ParseWebhook(payload, signPayload(payload, testSecret, time.Now()), testSecret)
	require.NoError(t, err)
	assert.Equal(t, "evt_1", ev.ID)
	assert.Equal(t, domain.EventCheckoutSessionCompleted, ev.Type)
	require.NotNil(t, ev.Session)
	assert.Equal(t, "cs_test_1", ev.Session.ID)
	assert.True(t, ev.Session.Paid())
	assert.Equal(t, 20.5, ev.Session.Amount())
	assert.Equal(t, "u1", ev.Session.Metadata["user_id"])
}

func TestParseWebhook_OtherEventHasNoSession(t *testing.T) {
	payload := []byte(`{"id":"evt_2","object":"event","type":"invoice.paid","data":{"object":{"id":"in_1","object":"invoice"}}}`)

	ev, err := ParseWebhook(payload, signPayload(payload, testSecret, time.Now()), testSecret)
	require.NoError(t, err)
	assert.Equal(t, "invoice.paid", ev.Type)
	assert.Nil(t, ev.Session)
}

func TestParseWebhook_RejectsBadSignature(t *testing.T) {
	payload := []byte(completedPayload)

	cases := map[string]string{
		"wrong secret": signPayload(payload, "whsec_other", time.Now()),
		"stale":        signPayload(payload, testSecret, time.Now().Add(-time.Hour)),
		"garbage":      "not-a-signature",
	}
	for name, header := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := ParseWebhook(payload, header, testSecret)
			require.Error(t, err)
			var ext *domain.ExternalServiceError
			require.True(t, errors.As(err, &ext))
			assert.Equal(t, "signature_verification_failed", ext.Code)
			assert.False(t, ext.Retryable)
		})
	}

	tampered := []byte(completedPayload + " ")
	_, err := ParseWebhook(tampered, signPayload(payload, testSecret, time.Now()), testSecret)
	require.ErrorIs(t, err, domain.ErrUpstreamVerification)
}

func TestMapStripeError(t *testing.T) {
	cases := []struct {
		name      string
		err       error
		retryable bool
	}{
		{"network", errors.New("dial tcp: connection refused"), true},
		{"rate limited", &stripe.Error{HTTPStatusCode: http.StatusTooManyRequests, Type: stripe.ErrorTypeInvalidRequest}, true},
		{"server error", &stripe.Error{HTTPStatusCode: http.StatusBadGateway, Type: stripe.ErrorTypeAPI}, true},
		{"missing session", &stripe.Error{HTTPStatusCode: http.StatusNotFound, Type: stripe.ErrorTypeInvalidRequest, Code: stripe.ErrorCodeResourceMissing}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := mapStripeError("retrieve checkout session", tc.err)
			assert.Equal(t, tc.retryable, domain.IsRetryable(err))
			assert.ErrorIs(t, err, domain.ErrUpstreamVerification)
		})
	}
}

func TestToMinorUnits(t *testing.T) {
	assert.Equal(t, int64(2000), ToMinorUnits(20))
	assert.Equal(t, int64(1999), ToMinorUnits(19.99))
}

func TestCheckoutRequest_Items(t *testing.T) {
	single := CheckoutRequest{ProductName: "Monthly subscription", Amount: 20}
	require.Len(t, single.Items(), 1)
	assert.Equal(t, int64(1), single.Items()[0].Quantity)
	assert.Equal(t, int64(2000), single.TotalMinorUnits())

	cart := CheckoutRequest{LineItems: []LineItem{
		{Name: "Mug", UnitAmount: 12.5, Quantity: 2},
		{Name: "Tea", UnitAmount: 4.99, Quantity: 3},
	}}
	assert.Len(t, cart.Items(), 2)
	assert.Equal(t, int64(2500+1497), cart.TotalMinorUnits())

	params := lineItemParams(cart.Items(), "eur")
	require.Len(t, params, 2)
	assert.Equal(t, int64(499), *params[1].PriceData.UnitAmount)
	assert.Equal(t, int64(3), *params[1].Quantity)
	assert.Equal(t, "eur", *params[0].PriceData.Currency)
	assert.Nil(t, params[0].PriceData.ProductData.Description)
}
