package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Dhoini/marketplace-payments/internal/domain"
	"github.com/Dhoini/marketplace-payments/internal/metrics"
	"github.com/Dhoini/marketplace-payments/internal/stripe"
	"github.com/Dhoini/marketplace-payments/pkg/logger"

	"github.com/cenkalti/backoff/v4"
)

const (
	DefaultVerificationAttempts = 10
	DefaultVerificationDelay    = time.Second
)

// VerificationPoller опрашивает провайдера, пока оплата не подтвердится,
// и затем активирует подписку. Запасной путь на случай потерянного вебхука.
type VerificationPoller struct {
	gateway     stripe.Gateway
	activator   Activator
	maxAttempts int
	baseDelay   time.Duration
	timer       backoff.Timer
	metrics     metrics.PaymentMetrics
	log         *logger.Logger
}

// PollerOption настраивает VerificationPoller.
type PollerOption func(*VerificationPoller)

// WithAttempts задает число попыток и задержку перед второй попыткой.
func WithAttempts(maxAttempts int, baseDelay time.Duration) PollerOption {
	return func(p *VerificationPoller) {
		if maxAttempts > 0 {
			p.maxAttempts = maxAttempts
		}
		if baseDelay > 0 {
			p.baseDelay = baseDelay
		}
	}
}

// WithTimer подменяет таймер ожидания между попытками.
func WithTimer(t backoff.Timer) PollerOption {
	return func(p *VerificationPoller) { p.timer = t }
}

// NewVerificationPoller конструктор поллера
func NewVerificationPoller(gateway stripe.Gateway, activator Activator, m metrics.PaymentMetrics, log *logger.Logger, opts ...PollerOption) *VerificationPoller {
	p := &VerificationPoller{
		gateway:     gateway,
		activator:   activator,
		maxAttempts: DefaultVerificationAttempts,
		baseDelay:   DefaultVerificationDelay,
		metrics:     m,
		log:         log,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// newBackOff задержка перед попыткой n+1 равна baseDelay * 2^(n-1), без джиттера.
func (p *VerificationPoller) newBackOff() backoff.BackOff {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = p.baseDelay
	bo.RandomizationFactor = 0
	bo.Multiplier = 2
	shift := p.maxAttempts
	if shift > 20 {
		shift = 20
	}
	bo.MaxInterval = p.baseDelay << uint(shift)
	bo.MaxElapsedTime = 0
	bo.Reset()
	return backoff.WithMaxRetries(bo, uint64(p.maxAttempts-1))
}

// VerifyAndActivate проверяет оплату сессии и активирует подписку.
// Отмена ctx вызывающим не прерывает опрос.
func (p *VerificationPoller) VerifyAndActivate(ctx context.Context, sessionID, userID string) (*domain.Subscription, error) {
	ctx = context.WithoutCancel(ctx)

	var (
		attempts int
		result   *domain.Subscription
	)

	operation := func() error {
		attempts++
		session, err := p.gateway.RetrieveSession(ctx, sessionID)
		if err != nil {
			return classify(err)
		}
		if !session.Paid() {
			return domain.ErrNotYetPaid
		}
		sub, err := p.activator.ActivateSession(ctx, session, userID)
		if err != nil {
			return classify(err)
		}
		result = sub
		return nil
	}

	notify := func(err error, next time.Duration) {
		p.log.Debugw("Payment not confirmed yet, retrying",
			"sessionID", sessionID,
			"attempt", attempts,
			"nextDelay", next.String(),
			"reason", err.Error(),
		)
	}

	err := backoff.RetryNotifyWithTimer(operation, p.newBackOff(), notify, p.timer)
	if err == nil {
		p.metrics.ObserveVerification(attempts, "activated")
		return result, nil
	}

	if domain.IsRetryable(err) {
		p.metrics.ObserveVerification(attempts, "exhausted")
		p.log.Errorw("Payment verification exhausted", "sessionID", sessionID, "userID", userID, "attempts", attempts, "lastError", err)
		return nil, fmt.Errorf("%w: last error after %d attempts: %v", domain.ErrVerificationExhausted, attempts, err)
	}

	p.metrics.ObserveVerification(attempts, "failed")
	p.log.Warnw("Payment verification stopped", "sessionID", sessionID, "userID", userID, "attempts", attempts, "error", err)
	return nil, err
}

// classify помечает неповторяемые ошибки для backoff.
func classify(err error) error {
	if domain.IsRetryable(err) {
		return err
	}
	var permanent *backoff.PermanentError
	if errors.As(err, &permanent) {
		return err
	}
	return backoff.Permanent(err)
}

// Finalize одна проверка без повторов: не оплачено -> ErrNotYetPaid.
func (p *VerificationPoller) Finalize(ctx context.Context, sessionID, userID string) (*domain.Subscription, error) {
	session, err := p.gateway.RetrieveSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if !session.Paid() {
		return nil, domain.ErrNotYetPaid
	}
	return p.activator.ActivateSession(ctx, session, userID)
}
