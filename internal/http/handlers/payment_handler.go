package handlers

import (
	"net/http"
	"time"

	"github.com/Dhoini/marketplace-payments/internal/domain"
	"github.com/Dhoini/marketplace-payments/internal/metrics"
	"github.com/Dhoini/marketplace-payments/internal/middleware"
	"github.com/Dhoini/marketplace-payments/internal/services"
	"github.com/Dhoini/marketplace-payments/pkg/logger"
	"github.com/Dhoini/marketplace-payments/pkg/req"
	"github.com/Dhoini/marketplace-payments/pkg/res"

	"github.com/gin-gonic/gin"
)

// PaymentHandler оплата подписок: создание сессии, проверка и завершение.
type PaymentHandler struct {
	checkout *services.CheckoutService
	poller   *services.VerificationPoller
	log      *logger.Logger
	debug    bool
}

// NewPaymentHandler создает новый экземпляр PaymentHandler.
func NewPaymentHandler(checkout *services.CheckoutService, poller *services.VerificationPoller, log *logger.Logger, debug bool) *PaymentHandler {
	return &PaymentHandler{
		checkout: checkout,
		poller:   poller,
		log:      log,
		debug:    debug,
	}
}

type CreateCheckoutRequest struct {
	Plan    string    `json:"plan" validate:"required,oneof=monthly annual premium"`
	Amount  float64   `json:"amount" validate:"required,gt=0"`
	EndDate time.Time `json:"end_date" validate:"required"`
}

type SessionRequest struct {
	SessionID string `json:"session_id" validate:"required"`
}

type SubscriptionResponse struct {
	Message      string               `json:"message"`
	Subscription *domain.Subscription `json:"subscription"`
}

// CreateCheckoutSession обрабатывает POST /subscriptions/checkout-session
func (h *PaymentHandler) CreateCheckoutSession(c *gin.Context) {
	body, err := req.HandleBody[CreateCheckoutRequest](c.Writer, c.Request)
	if err != nil {
		h.log.Warnw("Invalid checkout request", "error", err)
		c.Abort()
		return
	}

	out, err := h.checkout.CreateSubscriptionCheckout(c.Request.Context(), services.CreateSubscriptionCheckoutInput{
		UserID:  middleware.UserID(c),
		Plan:    domain.Plan(body.Plan),
		Amount:  body.Amount,
		EndDate: body.EndDate,
	})
	if err != nil {
		writeError(c, h.log, h.debug, err)
		return
	}
	res.JsonResponse(c.Writer, out, http.StatusOK)
}

// Verify обрабатывает POST /subscriptions/verify: опрос провайдера с повторами.
func (h *PaymentHandler) Verify(c *gin.Context) {
	body, err := req.HandleBody[SessionRequest](c.Writer, c.Request)
	if err != nil {
		c.Abort()
		return
	}

	ctx := services.WithActivationSource(c.Request.Context(), metrics.SourceVerify)
	sub, err := h.poller.VerifyAndActivate(ctx, body.SessionID, middleware.UserID(c))
	if err != nil {
		writeError(c, h.log, h.debug, err)
		return
	}
	res.JsonResponse(c.Writer, SubscriptionResponse{Message: "Subscription activated", Subscription: sub}, http.StatusOK)
}

// Finalize обрабатывает POST /subscriptions/finalize: одна проверка без повторов.
func (h *PaymentHandler) Finalize(c *gin.Context) {
	body, err := req.HandleBody[SessionRequest](c.Writer, c.Request)
	if err != nil {
		c.Abort()
		return
	}

	ctx := services.WithActivationSource(c.Request.Context(), metrics.SourceFinalize)
	sub, err := h.poller.Finalize(ctx, body.SessionID, middleware.UserID(c))
	if err != nil {
		writeError(c, h.log, h.debug, err)
		return
	}
	res.JsonResponse(c.Writer, SubscriptionResponse{Message: "Subscription activated", Subscription: sub}, http.StatusOK)
}
