package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Dhoini/marketplace-payments/internal/domain"
	"github.com/Dhoini/marketplace-payments/internal/kafka"
	"github.com/Dhoini/marketplace-payments/internal/kafka/producer"
	"github.com/Dhoini/marketplace-payments/internal/lock"
	"github.com/Dhoini/marketplace-payments/internal/metrics"
	"github.com/Dhoini/marketplace-payments/internal/repository"
	"github.com/Dhoini/marketplace-payments/internal/stripe"
	"github.com/Dhoini/marketplace-payments/pkg/logger"

	"github.com/google/uuid"
)

type sourceKey struct{}

// WithActivationSource помечает контекст источником активации для метрик.
func WithActivationSource(ctx context.Context, source string) context.Context {
	return context.WithValue(ctx, sourceKey{}, source)
}

func activationSource(ctx context.Context) string {
	if s, ok := ctx.Value(sourceKey{}).(string); ok {
		return s
	}
	return "unknown"
}

// Activator переводит pending-подписку в active по оплаченной сессии.
type Activator interface {
	ActivateSession(ctx context.Context, session *domain.CheckoutSession, userID string) (*domain.Subscription, error)
}

// ActivationEngine единственная точка смены статуса подписки.
// Переходы выполняются транзакцией хранилища, повторные вызовы ничего не меняют.
type ActivationEngine struct {
	subs          repository.SubscriptionRepository
	locker        lock.Locker
	events        kafka.Producer
	paymentEvents producer.PaymentProducer
	metrics       metrics.PaymentMetrics
	log           *logger.Logger
	newID         func() string
}

// NewActivationEngine конструктор движка активации
func NewActivationEngine(
	subs repository.SubscriptionRepository,
	locker lock.Locker,
	events kafka.Producer,
	paymentEvents producer.PaymentProducer,
	m metrics.PaymentMetrics,
	log *logger.Logger,
) *ActivationEngine {
	if locker == nil {
		locker = lock.NewNoopLocker()
	}
	if events == nil {
		log.Warnw("Kafka producer is nil, subscription event publishing will be skipped.")
		events = kafka.NewNoopProducer()
	}
	if paymentEvents == nil {
		paymentEvents = producer.NewNoopPaymentProducer()
	}
	return &ActivationEngine{
		subs:          subs,
		locker:        locker,
		events:        events,
		paymentEvents: paymentEvents,
		metrics:       m,
		log:           log,
		newID:         uuid.NewString,
	}
}

// Activate активирует подписку, созданную для сессии sessionID пользователем userID.
// Уже активная подписка возвращается без записи. Из inactive/cancelled активация невозможна.
func (e *ActivationEngine) Activate(ctx context.Context, sessionID, userID string) (*domain.Subscription, error) {
	return e.activate(ctx, sessionID, userID, nil)
}

// ActivateSession активирует подписку, если сумма оплаченной сессии равна сумме подписки.
// Оплата сессии проверяется вызывающим.
func (e *ActivationEngine) ActivateSession(ctx context.Context, session *domain.CheckoutSession, userID string) (*domain.Subscription, error) {
	return e.activate(ctx, session.ID, userID, func(sub *domain.Subscription) error {
		expected := stripe.ToMinorUnits(sub.Amount)
		if session.AmountTotal != expected {
			return domain.NewAmountMismatchError(session.ID, expected, session.AmountTotal)
		}
		return nil
	})
}

func (e *ActivationEngine) activate(ctx context.Context, sessionID, userID string, check func(*domain.Subscription) error) (*domain.Subscription, error) {
	source := activationSource(ctx)

	sub, err := e.subs.GetBySession(ctx, sessionID, userID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			e.metrics.IncActivation(source, metrics.OutcomeNotFound)
		} else {
			e.metrics.IncActivation(source, metrics.OutcomeError)
		}
		return nil, err
	}

	switch {
	case sub.Status == domain.SubscriptionStatusActive:
		e.metrics.IncActivation(source, metrics.OutcomeAlreadyDone)
		e.log.Debugw("Subscription already active", "subscriptionID", sub.ID, "sessionID", sessionID)
		return sub, nil
	case sub.Status.IsTerminal():
		e.metrics.IncActivation(source, metrics.OutcomeInvalidState)
		e.log.Warnw("Refusing to activate terminal subscription", "subscriptionID", sub.ID, "status", string(sub.Status))
		return nil, domain.NewInvalidStateError(sub.ID, sub.Status)
	}

	if check != nil {
		if err := check(sub); err != nil {
			e.metrics.IncActivation(source, metrics.OutcomeMismatch)
			e.log.Errorw("Refusing to activate subscription", "error", err, "subscriptionID", sub.ID, "sessionID", sessionID)
			return nil, err
		}
	}

	unlock, err := e.locker.Acquire(ctx, sessionID)
	if err != nil {
		e.metrics.IncActivation(source, metrics.OutcomeError)
		return nil, err
	}
	defer unlock()

	result, err := e.subs.Activate(ctx, sub.ID, e.newID())
	if err != nil {
		if errors.Is(err, domain.ErrInvalidState) {
			e.metrics.IncActivation(source, metrics.OutcomeInvalidState)
		} else {
			e.metrics.IncActivation(source, metrics.OutcomeError)
		}
		e.log.Errorw("Activation transaction failed", "error", err, "subscriptionID", sub.ID, "sessionID", sessionID)
		return nil, err
	}

	if !result.Activated {
		// параллельный вызов успел активировать раньше
		e.metrics.IncActivation(source, metrics.OutcomeAlreadyDone)
		return result.Subscription, nil
	}

	e.metrics.IncActivation(source, metrics.OutcomeActivated)
	e.log.Infow("Subscription activated",
		"subscriptionID", result.Subscription.ID,
		"userID", userID,
		"source", source,
		"superseded", len(result.Superseded),
	)
	e.afterActivation(ctx, result)
	return result.Subscription, nil
}

// afterActivation публикует события. Ошибки публикации не отменяют активацию.
func (e *ActivationEngine) afterActivation(ctx context.Context, result *domain.ActivationResult) {
	ctx = context.WithoutCancel(ctx)
	e.metrics.IncSubscriptionTransition(string(domain.SubscriptionStatusInactive), len(result.Superseded))

	if err := e.events.PublishSubscriptionEvent(ctx, kafka.TopicSubscriptionActivated, result.Subscription); err != nil {
		e.log.Warnw("Failed to publish subscription activated event", "error", err, "subscriptionID", result.Subscription.ID)
	}

	if result.Payment == nil {
		return
	}
	e.metrics.ObservePaymentRecorded("subscription", result.Payment.Amount)
	if err := e.paymentEvents.PublishPaymentRecorded(ctx, result.Payment); err != nil {
		e.log.Warnw("Failed to publish payment recorded event", "error", err, "paymentID", result.Payment.ID)
	}
}

// Cancel отменяет активную подписку пользователя.
func (e *ActivationEngine) Cancel(ctx context.Context, userID string) (*domain.Subscription, error) {
	sub, err := e.subs.Cancel(ctx, userID)
	if err != nil {
		return nil, err
	}

	e.metrics.IncSubscriptionTransition(string(domain.SubscriptionStatusCancelled), 1)
	e.log.Infow("Subscription cancelled", "subscriptionID", sub.ID, "userID", userID)
	if err := e.events.PublishSubscriptionEvent(context.WithoutCancel(ctx), kafka.TopicSubscriptionCancelled, sub); err != nil {
		e.log.Warnw("Failed to publish subscription cancelled event", "error", err, "subscriptionID", sub.ID)
	}
	return sub, nil
}

// Expire переводит в inactive активные подписки с end_date раньше now.
func (e *ActivationEngine) Expire(ctx context.Context, now time.Time) (int, error) {
	expired, err := e.subs.ExpireDue(ctx, now)
	if err != nil {
		return 0, fmt.Errorf("expire subscriptions: %w", err)
	}

	e.metrics.IncSubscriptionTransition(string(domain.SubscriptionStatusInactive), len(expired))
	for i := range expired {
		if err := e.events.PublishSubscriptionEvent(ctx, kafka.TopicSubscriptionExpired, &expired[i]); err != nil {
			e.log.Warnw("Failed to publish subscription expired event", "error", err, "subscriptionID", expired[i].ID)
		}
	}
	if len(expired) > 0 {
		e.log.Infow("Expired subscriptions", "count", len(expired))
	}
	return len(expired), nil
}
