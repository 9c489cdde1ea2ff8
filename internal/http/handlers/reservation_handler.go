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

// ReservationHandler онлайн-оплата бронирований.
type ReservationHandler struct {
	service *services.ReservationService
	log     *logger.Logger
	debug   bool
}

func NewReservationHandler(service *services.ReservationService, log *logger.Logger, debug bool) *ReservationHandler {
	return &ReservationHandler{service: service, log: log, debug: debug}
}

type ReservationCheckoutRequest struct {
	ServiceID string `json:"service_id" validate:"required"`
	Date      string `json:"date" validate:"required,datetime=2006-01-02"`
	Time      string `json:"time" validate:"required,datetime=15:04"`
}

type ReservationResponse struct {
	Message     string              `json:"message"`
	Reservation *domain.Reservation `json:"reservation"`
}

// CreateCheckoutSession обрабатывает POST /reservations/checkout-session
func (h *ReservationHandler) CreateCheckoutSession(c *gin.Context) {
	body, err := req.HandleBody[ReservationCheckoutRequest](c.Writer, c.Request)
	if err != nil {
		c.Abort()
		return
	}

	out, err := h.service.CreateReservationCheckout(c.Request.Context(), services.CreateReservationCheckoutInput{
		ClientID:  middleware.UserID(c),
		ServiceID: body.ServiceID,
		Date:      body.Date,
		Time:      body.Time,
	})
	if err != nil {
		writeError(c, h.log, h.debug, err)
		return
	}
	res.JsonResponse(c.Writer, out, http.StatusOK)
}

// VerifyPayment обрабатывает POST /reservations/verify-payment
func (h *ReservationHandler) VerifyPayment(c *gin.Context) {
	body, err := req.HandleBody[SessionRequest](c.Writer, c.Request)
	if err != nil {
		c.Abort()
		return
	}

	reservation, err := h.service.VerifyReservationPayment(c.Request.Context(), body.SessionID, middleware.UserID(c))
	if err != nil {
		writeError(c, h.log, h.debug, err)
		return
	}
	res.JsonResponse(c.Writer, ReservationResponse{Message: "Reservation confirmed", Reservation: reservation}, http.StatusOK)
}

// ProviderPayments обрабатывает GET /payments/provider
func (h *ReservationHandler) ProviderPayments(c *gin.Context) {
	payments, err := h.service.ProviderPayments(c.Request.Context(), middleware.UserID(c))
	if err != nil {
		writeError(c, h.log, h.debug, err)
		return
	}
	res.JsonResponse(c.Writer, payments, http.StatusOK)
}
