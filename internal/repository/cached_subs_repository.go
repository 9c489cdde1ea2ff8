package repository

import (
	"context"
	"time"

	"github.com/Dhoini/marketplace-payments/internal/domain"
	"github.com/Dhoini/marketplace-payments/pkg/logger"
)

// SubscriptionCache кеш чтений подписок.
type SubscriptionCache interface {
	GetSubscription(ctx context.Context, id string) (*domain.Subscription, error)
	SetSubscription(ctx context.Context, sub *domain.Subscription) error
	GetUserSubscriptions(ctx context.Context, userID string) ([]domain.Subscription, bool, error)
	SetUserSubscriptions(ctx context.Context, userID string, subs []domain.Subscription) error
	GetActiveSubscription(ctx context.Context, userID string) (*domain.Subscription, error)
	SetActiveSubscription(ctx context.Context, sub *domain.Subscription) error
	Invalidate(ctx context.Context, userID string, subscriptionIDs ...string) error
}

// CachedSubscriptionRepository реализует SubscriptionRepository с кешированием.
// Кешируются только чтения для API. GetBySession и все переходы статусов идут в хранилище.
type CachedSubscriptionRepository struct {
	repo  SubscriptionRepository
	cache SubscriptionCache
	log   *logger.Logger
}

// NewCachedSubscriptionRepository создает новый репозиторий с кешированием
func NewCachedSubscriptionRepository(repo SubscriptionRepository, cache SubscriptionCache, log *logger.Logger) SubscriptionRepository {
	return &CachedSubscriptionRepository{
		repo:  repo,
		cache: cache,
		log:   log,
	}
}

func (r *CachedSubscriptionRepository) invalidate(ctx context.Context, userID string, ids ...string) {
	if err := r.cache.Invalidate(ctx, userID, ids...); err != nil {
		r.log.Warnw("Failed to invalidate subscription cache", "error", err, "userID", userID)
	}
}

func (r *CachedSubscriptionRepository) Create(ctx context.Context, sub *domain.Subscription) error {
	if err := r.repo.Create(ctx, sub); err != nil {
		return err
	}
	r.invalidate(ctx, sub.UserID)
	return nil
}

// GetByID получает подписку по ID (сначала из кеша, потом из БД)
func (r *CachedSubscriptionRepository) GetByID(ctx context.Context, id string) (*domain.Subscription, error) {
	cached, err := r.cache.GetSubscription(ctx, id)
	if err != nil {
		r.log.Warnw("Error getting subscription from cache", "error", err, "subscriptionID", id)
	}
	if cached != nil {
		return cached, nil
	}

	sub, err := r.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := r.cache.SetSubscription(ctx, sub); err != nil {
		r.log.Warnw("Failed to cache subscription after fetching", "error", err, "subscriptionID", id)
	}
	return sub, nil
}

func (r *CachedSubscriptionRepository) GetBySession(ctx context.Context, sessionID, userID string) (*domain.Subscription, error) {
	return r.repo.GetBySession(ctx, sessionID, userID)
}

// ListByUser возвращает подписки пользователя (сначала из кеша, потом из БД)
func (r *CachedSubscriptionRepository) ListByUser(ctx context.Context, userID string) ([]domain.Subscription, error) {
	cached, ok, err := r.cache.GetUserSubscriptions(ctx, userID)
	if err != nil {
		r.log.Warnw("Error getting user subscriptions from cache", "error", err, "userID", userID)
	}
	if ok {
		return cached, nil
	}

	subs, err := r.repo.ListByUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	if err := r.cache.SetUserSubscriptions(ctx, userID, subs); err != nil {
		r.log.Warnw("Failed to cache user subscriptions", "error", err, "userID", userID)
	}
	return subs, nil
}

func (r *CachedSubscriptionRepository) ListAll(ctx context.Context) ([]domain.Subscription, error) {
	return r.repo.ListAll(ctx)
}

func (r *CachedSubscriptionRepository) LatestActive(ctx context.Context, userID string) (*domain.Subscription, error) {
	cached, err := r.cache.GetActiveSubscription(ctx, userID)
	if err != nil {
		r.log.Warnw("Error getting active subscription from cache", "error", err, "userID", userID)
	}
	if cached != nil {
		return cached, nil
	}

	sub, err := r.repo.LatestActive(ctx, userID)
	if err != nil {
		return nil, err
	}
	if err := r.cache.SetActiveSubscription(ctx, sub); err != nil {
		r.log.Warnw("Failed to cache active subscription", "error", err, "userID", userID)
	}
	return sub, nil
}

func (r *CachedSubscriptionRepository) UpdateDetails(ctx context.Context, id string, changes domain.SubscriptionChanges) (*domain.Subscription, error) {
	sub, err := r.repo.UpdateDetails(ctx, id, changes)
	if err != nil {
		return nil, err
	}
	r.invalidate(ctx, sub.UserID, sub.ID)
	return sub, nil
}

func (r *CachedSubscriptionRepository) Activate(ctx context.Context, subscriptionID, paymentID string) (*domain.ActivationResult, error) {
	result, err := r.repo.Activate(ctx, subscriptionID, paymentID)
	if err != nil {
		return nil, err
	}
	if result.Activated {
		ids := append([]string{result.Subscription.ID}, result.Superseded...)
		r.invalidate(ctx, result.Subscription.UserID, ids...)
	}
	return result, nil
}

func (r *CachedSubscriptionRepository) Cancel(ctx context.Context, userID string) (*domain.Subscription, error) {
	sub, err := r.repo.Cancel(ctx, userID)
	if err != nil {
		return nil, err
	}
	r.invalidate(ctx, userID, sub.ID)
	return sub, nil
}

func (r *CachedSubscriptionRepository) ExpireDue(ctx context.Context, now time.Time) ([]domain.Subscription, error) {
	expired, err := r.repo.ExpireDue(ctx, now)
	if err != nil {
		return nil, err
	}
	for _, sub := range expired {
		r.invalidate(ctx, sub.UserID, sub.ID)
	}
	return expired, nil
}
