package handlers

import (
	"net/http"

	"github.com/Dhoini/marketplace-payments/internal/domain"
	"github.com/Dhoini/marketplace-payments/internal/middleware"
	"github.com/Dhoini/marketplace-payments/internal/services"
	"github.com/Dhoini/marketplace-payments/pkg/logger"
	"github.com/Dhoini/marketplace-payments/pkg/req"
	"github.com/Dhoini/marketplace-payments/pkg/res"

	"github.com/gin-gonic/gin"
)

// OrderHandler оформление и оплата корзины.
type OrderHandler struct {
	service *services.OrderService
	log     *logger.Logger
	debug   bool
}

func NewOrderHandler(service *services.OrderService, log *logger.Logger, debug bool) *OrderHandler {
	return &OrderHandler{service: service, log: log, debug: debug}
}

type OrderCheckoutRequest struct {
	Method          string `json:"method" validate:"omitempty,oneof=online cash_on_delivery a_la_livraison"`
	ShippingAddress string `json:"shipping_address" validate:"max=500"`
}

type OrdersResponse struct {
	Message string         `json:"message"`
	Orders  []domain.Order `json:"orders"`
}

// CreateCheckoutSession обрабатывает POST /orders/checkout-session
func (h *OrderHandler) CreateCheckoutSession(c *gin.Context) {
	body, err := req.HandleBody[OrderCheckoutRequest](c.Writer, c.Request)
	if err != nil {
		c.Abort()
		return
	}

	out, err := h.service.CreateOrderCheckout(c.Request.Context(), services.CreateOrderCheckoutInput{
		ClientID:        middleware.UserID(c),
		Method:          domain.OrderPaymentMode(body.Method),
		ShippingAddress: body.ShippingAddress,
	})
	if err != nil {
		writeError(c, h.log, h.debug, err)
		return
	}
	if len(out.Orders) > 0 {
		res.JsonResponse(c.Writer, OrdersResponse{Message: "Orders created", Orders: out.Orders}, http.StatusCreated)
		return
	}
	res.JsonResponse(c.Writer, out, http.StatusOK)
}

// VerifyPayment обрабатывает POST /orders/verify-payment
func (h *OrderHandler) VerifyPayment(c *gin.Context) {
	body, err := req.HandleBody[SessionRequest](c.Writer, c.Request)
	if err != nil {
		c.Abort()
		return
	}

	orders, err := h.service.VerifyOrderPayment(c.Request.Context(), body.SessionID, middleware.UserID(c))
	if err != nil {
		writeError(c, h.log, h.debug, err)
		return
	}
	res.JsonResponse(c.Writer, OrdersResponse{Message: "Orders paid", Orders: orders}, http.StatusOK)
}

// MyOrders обрабатывает GET /orders/me
func (h *OrderHandler) MyOrders(c *gin.Context) {
	orders, err := h.service.ClientOrders(c.Request.Context(), middleware.UserID(c))
	if err != nil {
		writeError(c, h.log, h.debug, err)
		return
	}
	res.JsonResponse(c.Writer, orders, http.StatusOK)
}

// SellerOrders обрабатывает GET /orders/seller
func (h *OrderHandler) SellerOrders(c *gin.Context) {
	orders, err := h.service.SellerOrders(c.Request.Context(), middleware.UserID(c))
	if err != nil {
		writeError(c, h.log, h.debug, err)
		return
	}
	res.JsonResponse(c.Writer, orders, http.StatusOK)
}
