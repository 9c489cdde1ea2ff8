package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/Dhoini/marketplace-payments/internal/domain"
	"github.com/Dhoini/marketplace-payments/pkg/logger"

	"github.com/redis/go-redis/v9"
)

const (
	// Префиксы ключей для различных типов данных
	subscriptionKeyPrefix      = "subscription:"
	userSubscriptionsKeyPrefix = "user_subscriptions:"
	activeSubscriptionPrefix   = "user_active_subscription:"

	// TTL для кэша
	defaultCacheTTL = 15 * time.Minute
)

// RedisCacheRepository реализует SubscriptionCache поверх Redis.
type RedisCacheRepository struct {
	client *redis.Client
	ttl    time.Duration
	log    *logger.Logger
}

// NewRedisCacheRepository создает кеш поверх уже подключенного клиента.
func NewRedisCacheRepository(client *redis.Client, ttl time.Duration, log *logger.Logger) *RedisCacheRepository {
	if ttl <= 0 {
		ttl = defaultCacheTTL
	}
	return &RedisCacheRepository{client: client, ttl: ttl, log: log}
}

// NewRedisClient подключается к Redis и проверяет соединение.
func NewRedisClient(ctx context.Context, addr, password string, db int, log *logger.Logger) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(pingCtx).Err(); err != nil {
		log.Errorw("Failed to connect to Redis", "error", err)
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	log.Infow("Connected to Redis successfully", "addr", addr)
	return client, nil
}

func (r *RedisCacheRepository) setJSON(ctx context.Context, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", key, err)
	}
	if err := r.client.Set(ctx, key, data, r.ttl).Err(); err != nil {
		return fmt.Errorf("failed to cache %s: %w", key, err)
	}
	return nil
}

// getJSON возвращает false без ошибки, если ключа нет.
func (r *RedisCacheRepository) getJSON(ctx context.Context, key string, v any) (bool, error) {
	data, err := r.client.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return false, nil
		}
		return false, fmt.Errorf("failed to read %s from cache: %w", key, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return false, fmt.Errorf("failed to unmarshal cached %s: %w", key, err)
	}
	return true, nil
}

func (r *RedisCacheRepository) GetSubscription(ctx context.Context, id string) (*domain.Subscription, error) {
	var sub domain.Subscription
	ok, err := r.getJSON(ctx, subscriptionKeyPrefix+id, &sub)
	if err != nil || !ok {
		return nil, err
	}
	r.log.Debugw("Subscription retrieved from cache", "subscriptionID", id)
	return &sub, nil
}

func (r *RedisCacheRepository) SetSubscription(ctx context.Context, sub *domain.Subscription) error {
	return r.setJSON(ctx, subscriptionKeyPrefix+sub.ID, sub)
}

func (r *RedisCacheRepository) GetUserSubscriptions(ctx context.Context, userID string) ([]domain.Subscription, bool, error) {
	var subs []domain.Subscription
	ok, err := r.getJSON(ctx, userSubscriptionsKeyPrefix+userID, &subs)
	return subs, ok, err
}

func (r *RedisCacheRepository) SetUserSubscriptions(ctx context.Context, userID string, subs []domain.Subscription) error {
	return r.setJSON(ctx, userSubscriptionsKeyPrefix+userID, subs)
}

func (r *RedisCacheRepository) GetActiveSubscription(ctx context.Context, userID string) (*domain.Subscription, error) {
	var sub domain.Subscription
	ok, err := r.getJSON(ctx, activeSubscriptionPrefix+userID, &sub)
	if err != nil || !ok {
		return nil, err
	}
	return &sub, nil
}

func (r *RedisCacheRepository) SetActiveSubscription(ctx context.Context, sub *domain.Subscription) error {
	return r.setJSON(ctx, activeSubscriptionPrefix+sub.UserID, sub)
}

// Invalidate удаляет закешированные подписки и все списки пользователя.
func (r *RedisCacheRepository) Invalidate(ctx context.Context, userID string, subscriptionIDs ...string) error {
	keys := []string{userSubscriptionsKeyPrefix + userID, activeSubscriptionPrefix + userID}
	for _, id := range subscriptionIDs {
		keys = append(keys, subscriptionKeyPrefix+id)
	}
	if err := r.client.Del(ctx, keys...).Err(); err != nil {
		r.log.Errorw("Failed to invalidate subscription cache", "error", err, "userID", userID)
		return fmt.Errorf("failed to invalidate subscription cache: %w", err)
	}
	r.log.Debugw("Subscription cache invalidated", "userID", userID, "keys", len(keys))
	return nil
}
