// Package scheduler периодические задачи сервиса.
package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/Dhoini/marketplace-payments/pkg/logger"

	"github.com/robfig/cron/v3"
)

const jobTimeout = 5 * time.Minute

// Expirer переводит просроченные подписки в inactive.
type Expirer interface {
	Expire(ctx context.Context, now time.Time) (int, error)
}

// Scheduler запускает проверку окончания подписок по расписанию.
type Scheduler struct {
	cron    *cron.Cron
	expirer Expirer
	log     *logger.Logger
	now     func() time.Time
}

// New регистрирует задачу. spec в формате cron с секундами или "@every 1h".
func New(spec string, expirer Expirer, log *logger.Logger) (*Scheduler, error) {
	s := &Scheduler{
		cron:    cron.New(cron.WithSeconds()),
		expirer: expirer,
		log:     log,
		now:     func() time.Time { return time.Now().UTC() },
	}
	if _, err := s.cron.AddFunc(spec, s.RunExpiry); err != nil {
		return nil, fmt.Errorf("scheduler: invalid expiry spec %q: %w", spec, err)
	}
	return s, nil
}

// RunExpiry один проход проверки.
func (s *Scheduler) RunExpiry() {
	ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
	defer cancel()

	s.log.Debugw("Starting subscription expiration check")
	count, err := s.expirer.Expire(ctx, s.now())
	if err != nil {
		s.log.Errorw("Subscription expiration check failed", "error", err)
		return
	}
	s.log.Infow("Subscription expiration check finished", "expired", count)
}

// Start запускает планировщик в фоне.
func (s *Scheduler) Start() {
	s.cron.Start()
	s.log.Infow("Scheduler started", "jobs", len(s.cron.Entries()))
}

// Stop ждет завершения текущих задач или отмены ctx.
func (s *Scheduler) Stop(ctx context.Context) {
	done := s.cron.Stop()
	select {
	case <-done.Done():
		s.log.Infow("Scheduler stopped")
	case <-ctx.Done():
		s.log.Warnw("Scheduler stop timed out")
	}
}
