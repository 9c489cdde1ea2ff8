package handlers

import (
	"io"
	"net/http"

	"github.com/Dhoini/marketplace-payments/internal/services"
	"github.com/Dhoini/marketplace-payments/internal/stripe"
	"github.com/Dhoini/marketplace-payments/pkg/logger"
	"github.com/Dhoini/marketplace-payments/pkg/res"

	"github.com/gin-gonic/gin"
)

const (
	// Ограничение на размер тела запроса вебхука
	maxRequestBodySize = int64(65536)
)

// WebhookHandler обрабатывает входящие вебхуки от Stripe.
type WebhookHandler struct {
	gateway stripe.Gateway
	service *services.WebhookService
	log     *logger.Logger
}

// NewWebhookHandler создает новый экземпляр WebhookHandler.
func NewWebhookHandler(gateway stripe.Gateway, service *services.WebhookService, log *logger.Logger) *WebhookHandler {
	return &WebhookHandler{
		gateway: gateway,
		service: service,
		log:     log,
	}
}

// HandleStripeWebhook принимает вебхуки Stripe.
// После проверки подписи ответ всегда 200, ошибки обработки только логируются.
func (h *WebhookHandler) HandleStripeWebhook(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxRequestBodySize)
	//goland:noinspection GoUnhandledErrorResult
	defer c.Request.Body.Close()

	payload, err := io.ReadAll(c.Request.Body)
	if err != nil {
		h.log.Errorw("Failed to read webhook request body", "error", err)
		res.JsonResponse(c.Writer, res.ErrorResponse{Error: "Cannot read request body", ErrorCode: http.StatusBadRequest}, http.StatusBadRequest)
		c.Abort()
		return
	}

	sigHeader := c.GetHeader("Stripe-Signature")
	if sigHeader == "" {
		h.log.Warnw("Missing Stripe-Signature header")
		res.JsonResponse(c.Writer, res.ErrorResponse{Error: "Missing Stripe-Signature header", ErrorCode: http.StatusBadRequest}, http.StatusBadRequest)
		c.Abort()
		return
	}

	event, err := h.gateway.VerifyWebhook(payload, sigHeader)
	if err != nil {
		h.log.Errorw("Webhook signature verification failed", "error", err)
		res.JsonResponse(c.Writer, res.ErrorResponse{Error: "Webhook signature verification failed", ErrorCode: http.StatusBadRequest}, http.StatusBadRequest)
		c.Abort()
		return
	}

	h.log.Infow("Received verified Stripe event", "eventID", event.ID, "eventType", event.Type)

	if err := h.service.HandleEvent(c.Request.Context(), event); err != nil {
		h.log.Errorw("Error processing webhook event", "error", err, "eventID", event.ID, "eventType", event.Type)
	} else {
		h.log.Infow("Successfully processed webhook event", "eventID", event.ID, "eventType", event.Type)
	}

	res.JsonResponse(c.Writer, res.WebhookAck{Received: true}, http.StatusOK)
}
