package services

import (
	"context"
	"errors"
	"time"

	"github.com/Dhoini/marketplace-payments/internal/domain"
	"github.com/Dhoini/marketplace-payments/internal/repository"
	"github.com/Dhoini/marketplace-payments/pkg/logger"
)

// Роли, которые выдает сервис аутентификации.
const (
	RoleClient   = "client"
	RoleProvider = "provider"
	RoleAdmin    = "admin"
	RoleSeller   = "seller"
	RoleCourier  = "courier"
)

// UpdateSubscriptionInput изменения pending-подписки. Пустые поля не меняются.
type UpdateSubscriptionInput struct {
	Plan    *domain.Plan
	EndDate *time.Time
	Amount  *float64
}

// SubscriptionService чтение подписок и действия пользователя над ними.
type SubscriptionService struct {
	subs     repository.SubscriptionRepository
	payments repository.PaymentRepository
	engine   *ActivationEngine
	log      *logger.Logger
}

// NewSubscriptionService конструктор сервиса
func NewSubscriptionService(subs repository.SubscriptionRepository, payments repository.PaymentRepository, engine *ActivationEngine, log *logger.Logger) *SubscriptionService {
	return &SubscriptionService{subs: subs, payments: payments, engine: engine, log: log}
}

// Me последняя активная подписка или nil.
func (s *SubscriptionService) Me(ctx context.Context, userID string) (*domain.Subscription, error) {
	sub, err := s.subs.LatestActive(ctx, userID)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, nil
	}
	return sub, err
}

// List подписки пользователя, новые первыми. Администратор с all=true видит все.
func (s *SubscriptionService) List(ctx context.Context, userID, role string, all bool) ([]domain.Subscription, error) {
	if all {
		if role != RoleAdmin {
			return nil, domain.ErrForbidden
		}
		return s.subs.ListAll(ctx)
	}
	return s.subs.ListByUser(ctx, userID)
}

// Update меняет тариф, дату окончания или сумму. Только владелец и только pending.
func (s *SubscriptionService) Update(ctx context.Context, userID, id string, input UpdateSubscriptionInput) (*domain.Subscription, error) {
	var errs domain.ValidationErrors
	if input.Plan != nil && !input.Plan.Valid() {
		errs.Add("plan", "must be one of monthly, annual, premium")
	}
	if input.Amount != nil && *input.Amount <= 0 {
		errs.Add("amount", "must be greater than zero")
	}
	if input.EndDate != nil && !input.EndDate.After(time.Now()) {
		errs.Add("end_date", "must be in the future")
	}
	changes := domain.SubscriptionChanges{Plan: input.Plan, EndDate: input.EndDate, Amount: input.Amount}
	if changes.Empty() {
		errs.Add("body", "nothing to update")
	}
	if errs.HasErrors() {
		return nil, errs
	}

	current, err := s.subs.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if current.UserID != userID {
		s.log.Warnw("Attempt to update foreign subscription", "subscriptionID", id, "userID", userID)
		return nil, domain.ErrForbidden
	}
	if current.Status != domain.SubscriptionStatusPending {
		return nil, domain.NewInvalidStateError(id, current.Status)
	}
	if current.StripeSessionID != nil {
		return nil, domain.NewCheckoutStartedError(id)
	}

	return s.subs.UpdateDetails(ctx, id, changes)
}

// Cancel отменяет активную подписку через движок активации.
func (s *SubscriptionService) Cancel(ctx context.Context, userID string) (*domain.Subscription, error) {
	return s.engine.Cancel(ctx, userID)
}

// Payments записи журнала, где пользователь плательщик.
func (s *SubscriptionService) Payments(ctx context.Context, userID string) ([]domain.PaymentRecord, error) {
	return s.payments.ListByClient(ctx, userID)
}
