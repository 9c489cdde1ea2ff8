package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/Dhoini/marketplace-payments/internal/domain"
	"github.com/Dhoini/marketplace-payments/internal/metrics"
	"github.com/Dhoini/marketplace-payments/internal/repository"
	"github.com/Dhoini/marketplace-payments/pkg/logger"

	"github.com/google/uuid"
)

// ReservationConfirmer подтверждает оплаченное бронирование.
type ReservationConfirmer interface {
	ConfirmReservationPayment(ctx context.Context, session *domain.CheckoutSession) (*domain.Reservation, error)
}

// OrderConfirmer подтверждает оплату заказов корзины.
type OrderConfirmer interface {
	ConfirmOrderPayment(ctx context.Context, session *domain.CheckoutSession) ([]domain.Order, error)
}

// WebhookService обрабатывает проверенные события провайдера.
type WebhookService struct {
	events       repository.WebhookEventRepository
	activator    Activator
	reservations ReservationConfirmer
	orders       OrderConfirmer
	metrics      metrics.PaymentMetrics
	log          *logger.Logger
}

// NewWebhookService создает новый сервис вебхуков
func NewWebhookService(
	events repository.WebhookEventRepository,
	activator Activator,
	reservations ReservationConfirmer,
	orders OrderConfirmer,
	m metrics.PaymentMetrics,
	log *logger.Logger,
) *WebhookService {
	return &WebhookService{
		events:       events,
		activator:    activator,
		reservations: reservations,
		orders:       orders,
		metrics:      m,
		log:          log,
	}
}

// HandleEvent обрабатывает событие. Уже обработанные события пропускаются.
// Ошибка возвращается для логирования, на ответ провайдеру она не влияет.
func (s *WebhookService) HandleEvent(ctx context.Context, ev *domain.ProviderEvent) error {
	if ev.Type != domain.EventCheckoutSessionCompleted {
		s.metrics.IncWebhookEvent(ev.Type, "ignored")
		s.log.Debugw("Ignoring webhook event", "eventID", ev.ID, "type", ev.Type)
		return nil
	}
	if ev.Session == nil {
		s.metrics.IncWebhookEvent(ev.Type, "failed")
		return fmt.Errorf("event %s: %w: missing checkout session", ev.ID, domain.ErrInvalidInput)
	}
	log := s.log.With("eventID", ev.ID, "sessionID", ev.Session.ID)

	stored, err := s.events.Begin(ctx, &domain.WebhookEvent{
		ID:         uuid.NewString(),
		ExternalID: ev.ID,
		Type:       ev.Type,
		ResourceID: ev.Session.ID,
	})
	if err != nil {
		s.metrics.IncWebhookEvent(ev.Type, "failed")
		return fmt.Errorf("register webhook event %s: %w", ev.ID, err)
	}
	if stored.Status == domain.WebhookEventStatusProcessed {
		s.metrics.IncWebhookEvent(ev.Type, "duplicate")
		log.Infow("Webhook event already processed", "attempt", stored.AttemptCount)
		return nil
	}

	if err := s.dispatch(ctx, ev.Session); err != nil {
		s.metrics.IncWebhookEvent(ev.Type, "failed")
		if markErr := s.events.MarkFailed(ctx, ev.ID, err.Error()); markErr != nil {
			log.Errorw("Failed to mark webhook event as failed", "error", markErr)
		}
		return fmt.Errorf("process webhook event %s: %w", ev.ID, err)
	}

	if err := s.events.MarkProcessed(ctx, ev.ID); err != nil {
		log.Errorw("Failed to mark webhook event as processed", "error", err)
	}
	s.metrics.IncWebhookEvent(ev.Type, "processed")
	return nil
}

// dispatch по metadata.purpose. Сессии без purpose различаются по набору ключей.
func (s *WebhookService) dispatch(ctx context.Context, session *domain.CheckoutSession) error {
	if session.PaymentStatus != "" && !session.Paid() {
		return domain.ErrNotYetPaid
	}

	md := session.Metadata
	purpose := md[MetaPurpose]
	if purpose == "" {
		switch {
		case md[MetaUserID] != "":
			purpose = domain.PurposeSubscription
		case md[MetaClientID] != "" && md[MetaServiceID] != "":
			purpose = domain.PurposeReservation
		case md[MetaClientID] != "":
			purpose = domain.PurposeMarketplace
		}
	}

	switch purpose {
	case domain.PurposeSubscription:
		userID := md[MetaUserID]
		if userID == "" {
			return fmt.Errorf("%w: user_id missing in session metadata", domain.ErrInvalidInput)
		}
		sub, err := s.activator.ActivateSession(WithActivationSource(ctx, metrics.SourceWebhook), session, userID)
		if err != nil {
			return err
		}
		s.log.Infow("Subscription confirmed by webhook", "subscriptionID", sub.ID, "sessionID", session.ID)
		return nil
	case domain.PurposeReservation:
		res, err := s.reservations.ConfirmReservationPayment(ctx, session)
		if err != nil {
			return err
		}
		s.log.Infow("Reservation confirmed by webhook", "reservationID", res.ID, "sessionID", session.ID)
		return nil
	case domain.PurposeMarketplace:
		orders, err := s.orders.ConfirmOrderPayment(ctx, session)
		if err != nil {
			return err
		}
		s.log.Infow("Marketplace orders confirmed by webhook", "orders", len(orders), "sessionID", session.ID)
		return nil
	default:
		return errors.New("unknown checkout session purpose: " + purpose)
	}
}
