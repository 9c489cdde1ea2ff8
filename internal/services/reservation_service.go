package services

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/Dhoini/marketplace-payments/internal/domain"
	"github.com/Dhoini/marketplace-payments/internal/kafka/producer"
	"github.com/Dhoini/marketplace-payments/internal/metrics"
	"github.com/Dhoini/marketplace-payments/internal/repository"
	"github.com/Dhoini/marketplace-payments/internal/stripe"
	"github.com/Dhoini/marketplace-payments/pkg/logger"

	"github.com/google/uuid"
)

// CreateReservationCheckoutInput данные для оплаты бронирования
type CreateReservationCheckoutInput struct {
	ClientID  string
	ServiceID string
	Date      string
	Time      string
}

// ReservationService оплата бронирований онлайн.
type ReservationService struct {
	gateway       stripe.Gateway
	services      repository.ServiceRepository
	reservations  repository.ReservationRepository
	payments      repository.PaymentRepository
	paymentEvents producer.PaymentProducer
	metrics       metrics.PaymentMetrics
	clientURL     string
	currency      string
	log           *logger.Logger
}

// NewReservationService конструктор сервиса
func NewReservationService(
	gateway stripe.Gateway,
	services repository.ServiceRepository,
	reservations repository.ReservationRepository,
	payments repository.PaymentRepository,
	paymentEvents producer.PaymentProducer,
	m metrics.PaymentMetrics,
	clientURL, currency string,
	log *logger.Logger,
) *ReservationService {
	if paymentEvents == nil {
		paymentEvents = producer.NewNoopPaymentProducer()
	}
	return &ReservationService{
		gateway:       gateway,
		services:      services,
		reservations:  reservations,
		payments:      payments,
		paymentEvents: paymentEvents,
		metrics:       m,
		clientURL:     strings.TrimRight(clientURL, "/"),
		currency:      currency,
		log:           log,
	}
}

func validateSlot(clientID, serviceID, date, tm string) error {
	var errs domain.ValidationErrors
	if clientID == "" {
		errs.Add("client_id", "is required")
	}
	if serviceID == "" {
		errs.Add("service_id", "is required")
	}
	if _, err := time.Parse(time.DateOnly, date); err != nil {
		errs.Add("date", "must be YYYY-MM-DD")
	}
	if _, err := time.Parse("15:04", tm); err != nil {
		errs.Add("time", "must be HH:MM")
	}
	if errs.HasErrors() {
		return errs
	}
	return nil
}

// CreateReservationCheckout создает сессию оплаты по базовой цене услуги.
func (s *ReservationService) CreateReservationCheckout(ctx context.Context, input CreateReservationCheckoutInput) (*CheckoutOutput, error) {
	if err := validateSlot(input.ClientID, input.ServiceID, input.Date, input.Time); err != nil {
		return nil, err
	}

	svc, err := s.services.GetByID(ctx, input.ServiceID)
	if err != nil {
		return nil, err
	}

	session, err := s.gateway.CreateCheckoutSession(ctx, stripe.CheckoutRequest{
		ProductName: svc.Name,
		Description: svc.Description,
		Amount:      svc.BasePrice,
		Currency:    s.currency,
		SuccessURL:  s.clientURL + "/reservation-success?session_id={CHECKOUT_SESSION_ID}",
		CancelURL:   s.clientURL + "/reservation-cancel",
		Metadata: map[string]string{
			MetaPurpose:    domain.PurposeReservation,
			MetaClientID:   input.ClientID,
			MetaServiceID:  svc.ID,
			MetaDate:       input.Date,
			MetaTime:       input.Time,
			MetaProviderID: svc.ProviderID,
		},
	})
	if err != nil {
		return nil, err
	}

	s.log.Infow("Reservation checkout session created", "sessionID", session.ID, "serviceID", svc.ID, "clientID", input.ClientID)
	return &CheckoutOutput{ID: session.ID, URL: session.URL}, nil
}

// ConfirmReservationPayment создает подтвержденное бронирование и запись платежа.
// Ключ идемпотентности ID сессии: если сессия уже оплатила бронирование, возвращается оно.
func (s *ReservationService) ConfirmReservationPayment(ctx context.Context, session *domain.CheckoutSession) (*domain.Reservation, error) {
	md := session.Metadata
	if err := validateSlot(md[MetaClientID], md[MetaServiceID], md[MetaDate], md[MetaTime]); err != nil {
		s.log.Warnw("Incomplete reservation metadata", "sessionID", session.ID, "error", err)
		return nil, err
	}
	if md[MetaProviderID] == "" {
		return nil, domain.ValidationErrors{{Field: MetaProviderID, Message: "is required"}}
	}

	existing, err := s.reservations.GetBySession(ctx, session.ID)
	if err == nil {
		s.log.Infow("Reservation already confirmed", "reservationID", existing.ID, "sessionID", session.ID)
		return existing, nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return nil, err
	}

	res := &domain.Reservation{
		ID:          uuid.NewString(),
		ClientID:    md[MetaClientID],
		ProviderID:  md[MetaProviderID],
		ServiceID:   md[MetaServiceID],
		Date:        md[MetaDate],
		Time:        md[MetaTime],
		Status:      domain.ReservationStatusConfirmed,
		PaymentMode: domain.ReservationPaymentOnline,
	}
	payment := domain.NewReservationPayment(uuid.NewString(), res, session.Amount(), domain.PaymentModeStripe, session.ID)

	if err := s.reservations.CreateConfirmed(ctx, res, payment); err != nil {
		if errors.Is(err, domain.ErrDuplicate) {
			// параллельный вызов успел записать оплату
			return s.reservations.GetBySession(ctx, session.ID)
		}
		return nil, err
	}

	s.metrics.ObservePaymentRecorded("reservation", payment.Amount)
	if err := s.paymentEvents.PublishPaymentRecorded(context.WithoutCancel(ctx), payment); err != nil {
		s.log.Warnw("Failed to publish payment recorded event", "error", err, "paymentID", payment.ID)
	}

	s.log.Infow("Reservation confirmed", "reservationID", res.ID, "sessionID", session.ID, "amount", payment.Amount)
	return res, nil
}

// VerifyReservationPayment одна проверка сессии клиентом после возврата со страницы оплаты.
func (s *ReservationService) VerifyReservationPayment(ctx context.Context, sessionID, clientID string) (*domain.Reservation, error) {
	session, err := s.gateway.RetrieveSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if !session.Paid() {
		return nil, domain.ErrNotYetPaid
	}
	if session.Metadata[MetaClientID] != clientID {
		s.log.Warnw("Reservation session belongs to another client", "sessionID", sessionID, "clientID", clientID)
		return nil, domain.ErrForbidden
	}
	return s.ConfirmReservationPayment(ctx, session)
}

// ProviderPayments платежи, полученные исполнителем.
func (s *ReservationService) ProviderPayments(ctx context.Context, providerID string) ([]domain.PaymentRecord, error) {
	return s.payments.ListByProvider(ctx, providerID)
}
