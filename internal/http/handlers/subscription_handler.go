package handlers

import (
	"net/http"
	"time"

	"github.com/Dhoini/marketplace-payments/internal/domain"
	"github.com/Dhoini/marketplace-payments/internal/middleware"
	"github.com/Dhoini/marketplace-payments/internal/services"
	"github.com/Dhoini/marketplace-payments/pkg/logger"
	"github.com/Dhoini/marketplace-payments/pkg/req"
	"github.com/Dhoini/marketplace-payments/pkg/res"

	"github.com/gin-gonic/gin"
)

// SubscriptionHandler чтение подписок и действия пользователя.
type SubscriptionHandler struct {
	service *services.SubscriptionService
	log     *logger.Logger
	debug   bool
}

func NewSubscriptionHandler(service *services.SubscriptionService, log *logger.Logger, debug bool) *SubscriptionHandler {
	return &SubscriptionHandler{service: service, log: log, debug: debug}
}

// UpdateSubscriptionRequest статус через этот запрос не меняется.
type UpdateSubscriptionRequest struct {
	Plan    *string    `json:"plan" validate:"omitempty,oneof=monthly annual premium"`
	EndDate *time.Time `json:"end_date"`
	Amount  *float64   `json:"amount" validate:"omitempty,gt=0"`
	Status  *string    `json:"status" validate:"isdefault"`
}

// Me обрабатывает GET /subscriptions/me. Без активной подписки тело null.
func (h *SubscriptionHandler) Me(c *gin.Context) {
	sub, err := h.service.Me(c.Request.Context(), middleware.UserID(c))
	if err != nil {
		writeError(c, h.log, h.debug, err)
		return
	}
	res.JsonResponse(c.Writer, sub, http.StatusOK)
}

// List обрабатывает GET /subscriptions (?all=true только для администратора).
func (h *SubscriptionHandler) List(c *gin.Context) {
	all := c.Query("all") == "true"
	subs, err := h.service.List(c.Request.Context(), middleware.UserID(c), middleware.Role(c), all)
	if err != nil {
		writeError(c, h.log, h.debug, err)
		return
	}
	res.JsonResponse(c.Writer, subs, http.StatusOK)
}

// Update обрабатывает PUT /subscriptions/:id
func (h *SubscriptionHandler) Update(c *gin.Context) {
	body, err := req.HandleBody[UpdateSubscriptionRequest](c.Writer, c.Request)
	if err != nil {
		c.Abort()
		return
	}

	input := services.UpdateSubscriptionInput{EndDate: body.EndDate, Amount: body.Amount}
	if body.Plan != nil {
		plan := domain.Plan(*body.Plan)
		input.Plan = &plan
	}

	sub, err := h.service.Update(c.Request.Context(), middleware.UserID(c), c.Param("id"), input)
	if err != nil {
		writeError(c, h.log, h.debug, err)
		return
	}
	res.JsonResponse(c.Writer, sub, http.StatusOK)
}

// Cancel обрабатывает POST /subscriptions/cancel
func (h *SubscriptionHandler) Cancel(c *gin.Context) {
	sub, err := h.service.Cancel(c.Request.Context(), middleware.UserID(c))
	if err != nil {
		writeError(c, h.log, h.debug, err)
		return
	}
	res.JsonResponse(c.Writer, SubscriptionResponse{Message: "Subscription cancelled", Subscription: sub}, http.StatusOK)
}

// MyPayments обрабатывает GET /payments/me
func (h *SubscriptionHandler) MyPayments(c *gin.Context) {
	payments, err := h.service.Payments(c.Request.Context(), middleware.UserID(c))
	if err != nil {
		writeError(c, h.log, h.debug, err)
		return
	}
	res.JsonResponse(c.Writer, payments, http.StatusOK)
}
