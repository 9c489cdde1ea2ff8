package handlers

import (
	"errors"
	"net/http"

	"github.com/Dhoini/marketplace-payments/internal/domain"
	"github.com/Dhoini/marketplace-payments/pkg/logger"
	"github.com/Dhoini/marketplace-payments/pkg/res"

	"github.com/gin-gonic/gin"
)

// StatusFor HTTP статус для ошибки сервисного слоя.
func StatusFor(err error) int {
	var verrs domain.ValidationErrors
	var ext *domain.ExternalServiceError
	switch {
	case errors.Is(err, domain.ErrVerificationExhausted):
		return http.StatusInternalServerError
	case errors.As(err, &verrs), errors.Is(err, domain.ErrInvalidInput):
		return http.StatusUnprocessableEntity
	case errors.Is(err, domain.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrInvalidState), errors.Is(err, domain.ErrDuplicate), errors.Is(err, domain.ErrAmountMismatch):
		return http.StatusConflict
	case errors.Is(err, domain.ErrNotYetPaid):
		return http.StatusBadRequest
	case errors.As(err, &ext):
		return http.StatusBadGateway
	case errors.Is(err, domain.ErrTransientStore):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// writeError пишет ответ об ошибке. Внутренние детали видны только вне production.
func writeError(c *gin.Context, log *logger.Logger, debug bool, err error) {
	status := StatusFor(err)
	body := res.ErrorResponse{ErrorCode: status}

	var verrs domain.ValidationErrors
	switch {
	case errors.Is(err, domain.ErrVerificationExhausted):
		body.Error = domain.ContactSupportMessage
	case errors.As(err, &verrs):
		body.Error = "Invalid request data"
		body.Details = verrs
	case status == http.StatusBadRequest:
		body.Error = "Payment not completed"
	case status == http.StatusInternalServerError:
		body.Error = "Internal server error"
	default:
		body.Error = http.StatusText(status)
	}
	if debug {
		body.DebugInfo = err.Error()
	}

	if status >= http.StatusInternalServerError {
		log.Errorw("Request failed", "path", c.Request.URL.Path, "status", status, "error", err)
	} else {
		log.Warnw("Request rejected", "path", c.Request.URL.Path, "status", status, "error", err)
	}
	_ = c.Error(err)
	res.JsonResponse(c.Writer, body, status)
	c.Abort()
}
