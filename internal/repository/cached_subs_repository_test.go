package repository

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/Dhoini/marketplace-payments/internal/domain"
	"github.com/Dhoini/marketplace-payments/pkg/logger"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mapCache SubscriptionCache в памяти со счетчиками попаданий.
type mapCache struct {
	mu      sync.Mutex
	subs    map[string]domain.Subscription
	lists   map[string][]domain.Subscription
	active  map[string]domain.Subscription
	hits    int
	failGet bool
}

func newMapCache() *mapCache {
	return &mapCache{
		subs:   map[string]domain.Subscription{},
		lists:  map[string][]domain.Subscription{},
		active: map[string]domain.Subscription{},
	}
}

var errCacheDown = errors.New("cache down")

func (c *mapCache) GetSubscription(_ context.Context, id string) (*domain.Subscription, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failGet {
		return nil, errCacheDown
	}
	if s, ok := c.subs[id]; ok {
		c.hits++
		return &s, nil
	}
	return nil, nil
}

func (c *mapCache) SetSubscription(_ context.Context, sub *domain.Subscription) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.subs[sub.ID] = *sub
	return nil
}

func (c *mapCache) GetUserSubscriptions(_ context.Context, userID string) ([]domain.Subscription, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failGet {
		return nil, false, errCacheDown
	}
	list, ok := c.lists[userID]
	if ok {
		c.hits++
	}
	return list, ok, nil
}

func (c *mapCache) SetUserSubscriptions(_ context.Context, userID string, subs []domain.Subscription) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lists[userID] = subs
	return nil
}

func (c *mapCache) GetActiveSubscription(_ context.Context, userID string) (*domain.Subscription, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failGet {
		return nil, errCacheDown
	}
	if s, ok := c.active[userID]; ok {
		c.hits++
		return &s, nil
	}
	return nil, nil
}

func (c *mapCache) SetActiveSubscription(_ context.Context, sub *domain.Subscription) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.active[sub.UserID] = *sub
	return nil
}

func (c *mapCache) Invalidate(_ context.Context, userID string, ids ...string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.lists, userID)
	delete(c.active, userID)
	for _, id := range ids {
		delete(c.subs, id)
	}
	return nil
}

func pendingSub(id, userID, sessionID string) *domain.Subscription {
	sid := sessionID
	return &domain.Subscription{
		ID:              id,
		UserID:          userID,
		Plan:            domain.PlanMonthly,
		EndDate:         time.Now().Add(24 * time.Hour),
		Amount:          20,
		Status:          domain.SubscriptionStatusPending,
		StripeSessionID: &sid,
	}
}

func TestCachedRepository_ReadsThroughCache(t *testing.T) {
	store := NewMemoryStore()
	cache := newMapCache()
	repo := NewCachedSubscriptionRepository(store.Subscriptions(), cache, logger.NewNop())
	ctx := context.Background()
	require.NoError(t, repo.Create(ctx, pendingSub("s1", "u1", "cs_1")))

	for i := 0; i < 3; i++ {
		sub, err := repo.GetByID(ctx, "s1")
		require.NoError(t, err)
		assert.Equal(t, "s1", sub.ID)
		_, err = repo.ListByUser(ctx, "u1")
		require.NoError(t, err)
	}
	assert.Equal(t, 4, cache.hits)
}

func TestCachedRepository_ActivationInvalidatesStaleEntries(t *testing.T) {
	store := NewMemoryStore()
	cache := newMapCache()
	repo := NewCachedSubscriptionRepository(store.Subscriptions(), cache, logger.NewNop())
	ctx := context.Background()
	require.NoError(t, repo.Create(ctx, pendingSub("s1", "u1", "cs_1")))
	require.NoError(t, repo.Create(ctx, pendingSub("s2", "u1", "cs_2")))

	_, err := repo.Activate(ctx, "s1", "p1")
	require.NoError(t, err)
	active, err := repo.LatestActive(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, "s1", active.ID)
	s1, err := repo.GetByID(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, domain.SubscriptionStatusActive, s1.Status)

	_, err = repo.Activate(ctx, "s2", "p2")
	require.NoError(t, err)

	active, err = repo.LatestActive(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, "s2", active.ID)
	s1, err = repo.GetByID(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, domain.SubscriptionStatusInactive, s1.Status)
}

func TestCachedRepository_CacheFailureFallsBackToStore(t *testing.T) {
	store := NewMemoryStore()
	cache := newMapCache()
	cache.failGet = true
	repo := NewCachedSubscriptionRepository(store.Subscriptions(), cache, logger.NewNop())
	ctx := context.Background()
	require.NoError(t, repo.Create(ctx, pendingSub("s1", "u1", "cs_1")))

	sub, err := repo.GetByID(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, "s1", sub.ID)

	_, err = repo.LatestActive(ctx, "u1")
	require.ErrorIs(t, err, domain.ErrNotFound)
}
