// Package lock распределенная блокировка активации между репликами.
package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Dhoini/marketplace-payments/internal/domain"
	"github.com/Dhoini/marketplace-payments/pkg/logger"

	"github.com/go-redsync/redsync/v4"
	"github.com/go-redsync/redsync/v4/redis/goredis/v9"
	"github.com/redis/go-redis/v9"
)

const (
	defaultExpiry = 30 * time.Second
	defaultTries  = 3
)

// ErrLockBusy блокировку держит другой обработчик. Повторяемая ошибка.
var ErrLockBusy = fmt.Errorf("lock busy: %w", domain.ErrTransientStore)

// Locker выдает блокировку по ключу. unlock безопасно вызывать один раз.
type Locker interface {
	Acquire(ctx context.Context, key string) (unlock func(), err error)
}

type redsyncLocker struct {
	rs     *redsync.Redsync
	expiry time.Duration
	tries  int
	log    *logger.Logger
}

// NewRedsyncLocker блокировка поверх Redis.
func NewRedsyncLocker(rdb *redis.Client, expiry time.Duration, log *logger.Logger) Locker {
	if expiry <= 0 {
		expiry = defaultExpiry
	}
	pool := goredis.NewPool(rdb)
	return &redsyncLocker{
		rs:     redsync.New(pool),
		expiry: expiry,
		tries:  defaultTries,
		log:    log,
	}
}

func (l *redsyncLocker) Acquire(ctx context.Context, key string) (func(), error) {
	mutex := l.rs.NewMutex(
		"activation_lock:"+key,
		redsync.WithExpiry(l.expiry),
		redsync.WithTries(l.tries),
	)

	if err := mutex.LockContext(ctx); err != nil {
		var taken *redsync.ErrTaken
		if errors.Is(err, redsync.ErrFailed) || errors.As(err, &taken) {
			l.log.Infow("Activation lock busy", "key", key)
			return nil, ErrLockBusy
		}
		l.log.Warnw("Failed to acquire activation lock", "key", key, "error", err)
		return nil, fmt.Errorf("acquire lock %s: %w: %w", key, domain.ErrTransientStore, err)
	}

	return func() {
		// блокировка могла истечь, это не ошибка активации
		if _, err := mutex.UnlockContext(context.WithoutCancel(ctx)); err != nil {
			l.log.Warnw("Failed to release activation lock", "key", key, "error", err)
		}
	}, nil
}

type noopLocker struct{}

// NewNoopLocker используется без Redis. Атомарность обеспечивает транзакция хранилища.
func NewNoopLocker() Locker {
	return noopLocker{}
}

func (noopLocker) Acquire(context.Context, string) (func(), error) {
	return func() {}, nil
}
