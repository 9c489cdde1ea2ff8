package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/Dhoini/marketplace-payments/internal/domain"
	"github.com/Dhoini/marketplace-payments/internal/lock"
	"github.com/Dhoini/marketplace-payments/pkg/logger"
	"github.com/Dhoini/marketplace-payments/pkg/res"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatusFor(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want int
	}{
		{"exhausted", fmt.Errorf("%w: last error", domain.ErrVerificationExhausted), http.StatusInternalServerError},
		{"validation", domain.ValidationErrors{{Field: "plan", Message: "bad"}}, http.StatusUnprocessableEntity},
		{"forbidden", domain.ErrForbidden, http.StatusForbidden},
		{"not found", domain.NewNotFoundError("subscription", "s1"), http.StatusNotFound},
		{"invalid state", domain.NewInvalidStateError("s1", domain.SubscriptionStatusCancelled), http.StatusConflict},
		{"not paid", domain.ErrNotYetPaid, http.StatusBadRequest},
		{"provider", &domain.ExternalServiceError{Service: "stripe", Code: "api_error"}, http.StatusBadGateway},
		{"lock busy", lock.ErrLockBusy, http.StatusServiceUnavailable},
		{"unknown", errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, StatusFor(tc.err))
		})
	}
}

func TestWriteError_HidesDetailsOutsideDebug(t *testing.T) {
	gin.SetMode(gin.TestMode)

	for _, debug := range []bool{false, true} {
		w := httptest.NewRecorder()
		c, _ := gin.CreateTestContext(w)
		c.Request = httptest.NewRequest(http.MethodPost, "/api/v1/subscriptions/verify", nil)

		writeError(c, logger.NewNop(), debug, fmt.Errorf("%w: last error after 10 attempts", domain.ErrVerificationExhausted))

		require.Equal(t, http.StatusInternalServerError, w.Code)
		var body res.ErrorResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
		assert.Equal(t, domain.ContactSupportMessage, body.Error)
		if debug {
			assert.Contains(t, body.DebugInfo, "10 attempts")
		} else {
			assert.Empty(t, body.DebugInfo)
		}
	}
}

func TestHealth(t *testing.T) {
	gin.SetMode(gin.TestMode)

	run := func(checks map[string]Pinger) *httptest.ResponseRecorder {
		w := httptest.NewRecorder()
		c, _ := gin.CreateTestContext(w)
		c.Request = httptest.NewRequest(http.MethodGet, "/api/v1/health", nil)
		NewHealthHandler(checks).Health(c)
		return w
	}

	ok := PingFunc(func(_ context.Context) error { return nil })
	down := PingFunc(func(_ context.Context) error { return errors.New("connection refused") })

	w := run(map[string]Pinger{"database": ok})
	assert.Equal(t, http.StatusOK, w.Code)

	w = run(map[string]Pinger{"database": ok, "redis": down})
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	var body HealthResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "degraded", body.Status)
	assert.Equal(t, "ok", body.Checks["database"])
	assert.Equal(t, "connection refused", body.Checks["redis"])
}
