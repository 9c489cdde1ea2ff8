package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/Dhoini/marketplace-payments/internal/db"
	"github.com/Dhoini/marketplace-payments/internal/domain"
	"github.com/Dhoini/marketplace-payments/pkg/logger"

	"github.com/jmoiron/sqlx"
)

const subscriptionColumns = `id, user_id, plan, start_date, end_date, amount, status,
       stripe_session_id, created_at, updated_at`

// postgresSubscriptionRepo реализует SubscriptionRepository для PostgreSQL.
type postgresSubscriptionRepo struct {
	db  *sqlx.DB
	log *logger.Logger
}

// NewPostgresSubscriptionRepository создает новый экземпляр репозитория для PostgreSQL.
func NewPostgresSubscriptionRepository(db *sqlx.DB, log *logger.Logger) SubscriptionRepository {
	return &postgresSubscriptionRepo{
		db:  db,
		log: log,
	}
}

// Create сохраняет новую подписку в базе данных.
func (r *postgresSubscriptionRepo) Create(ctx context.Context, sub *domain.Subscription) error {
	now := time.Now().UTC()
	sub.CreatedAt = now
	sub.UpdatedAt = now
	if sub.StartDate.IsZero() {
		sub.StartDate = now
	}

	query := `
        INSERT INTO subscriptions (
            id, user_id, plan, start_date, end_date, amount, status,
            stripe_session_id, created_at, updated_at
        ) VALUES (
            :id, :user_id, :plan, :start_date, :end_date, :amount, :status,
            :stripe_session_id, :created_at, :updated_at
        )`
	if _, err := r.db.NamedExecContext(ctx, query, sub); err != nil {
		if isUniqueViolation(err) {
			r.log.Warnw("Subscription with this session already exists", "sessionID", sub.SessionID())
			return fmt.Errorf("repository: create subscription: %w", domain.ErrDuplicate)
		}
		r.log.Errorw("Failed to create subscription in DB", "error", err, "subscriptionID", sub.ID, "userID", sub.UserID)
		return storeError("create subscription", "subscription", sub.ID, err)
	}

	r.log.Debugw("Subscription created in DB", "subscriptionID", sub.ID, "userID", sub.UserID)
	return nil
}

func (r *postgresSubscriptionRepo) GetByID(ctx context.Context, id string) (*domain.Subscription, error) {
	var sub domain.Subscription
	query := `SELECT ` + subscriptionColumns + ` FROM subscriptions WHERE id = $1`
	if err := r.db.GetContext(ctx, &sub, query, id); err != nil {
		return nil, storeError("get subscription", "subscription", id, err)
	}
	return &sub, nil
}

func (r *postgresSubscriptionRepo) GetBySession(ctx context.Context, sessionID, userID string) (*domain.Subscription, error) {
	var sub domain.Subscription
	query := `SELECT ` + subscriptionColumns + `
        FROM subscriptions
        WHERE stripe_session_id = $1 AND user_id = $2`
	if err := r.db.GetContext(ctx, &sub, query, sessionID, userID); err != nil {
		return nil, storeError("get subscription by session", "subscription session", sessionID, err)
	}
	return &sub, nil
}

// ListByUser возвращает все подписки пользователя, новые первыми.
func (r *postgresSubscriptionRepo) ListByUser(ctx context.Context, userID string) ([]domain.Subscription, error) {
	subs := []domain.Subscription{}
	query := `SELECT ` + subscriptionColumns + `
        FROM subscriptions
        WHERE user_id = $1
        ORDER BY created_at DESC`
	if err := r.db.SelectContext(ctx, &subs, query, userID); err != nil {
		r.log.Errorw("Failed to list subscriptions by user", "error", err, "userID", userID)
		return nil, storeError("list subscriptions", "subscription", userID, err)
	}
	return subs, nil
}

func (r *postgresSubscriptionRepo) ListAll(ctx context.Context) ([]domain.Subscription, error) {
	subs := []domain.Subscription{}
	query := `SELECT ` + subscriptionColumns + ` FROM subscriptions ORDER BY created_at DESC`
	if err := r.db.SelectContext(ctx, &subs, query); err != nil {
		return nil, storeError("list all subscriptions", "subscription", "", err)
	}
	return subs, nil
}

func (r *postgresSubscriptionRepo) LatestActive(ctx context.Context, userID string) (*domain.Subscription, error) {
	var sub domain.Subscription
	query := `SELECT ` + subscriptionColumns + `
        FROM subscriptions
        WHERE user_id = $1 AND status = 'active'
        ORDER BY created_at DESC
        LIMIT 1`
	if err := r.db.GetContext(ctx, &sub, query, userID); err != nil {
		return nil, storeError("latest active subscription", "active subscription for user", userID, err)
	}
	return &sub, nil
}

// UpdateDetails обновляет только pending-подписку без выставленной сессии.
// В остальных случаях возвращает ErrInvalidState.
func (r *postgresSubscriptionRepo) UpdateDetails(ctx context.Context, id string, changes domain.SubscriptionChanges) (*domain.Subscription, error) {
	var sub domain.Subscription
	query := `
        UPDATE subscriptions SET
            plan = COALESCE($2, plan),
            end_date = COALESCE($3, end_date),
            amount = COALESCE($4, amount),
            updated_at = now()
        WHERE id = $1 AND status = 'pending' AND stripe_session_id IS NULL
        RETURNING ` + subscriptionColumns
	err := r.db.GetContext(ctx, &sub, query, id, changes.Plan, changes.EndDate, changes.Amount)
	if err == nil {
		return &sub, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, storeError("update subscription", "subscription", id, err)
	}

	existing, getErr := r.GetByID(ctx, id)
	if getErr != nil {
		return nil, getErr
	}
	if existing.Status != domain.SubscriptionStatusPending {
		return nil, domain.NewInvalidStateError(id, existing.Status)
	}
	return nil, domain.NewCheckoutStartedError(id)
}

// lockUser сериализует переходы статусов одного пользователя до конца транзакции.
func lockUser(ctx context.Context, tx *sqlx.Tx, userID string) error {
	_, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, userID)
	return err
}

// Activate выполняет переход pending -> active в одной транзакции:
// блокировка пользователя, повторное чтение подписки FOR UPDATE, деактивация остальных
// активных подписок, активация целевой и вставка записи об оплате.
func (r *postgresSubscriptionRepo) Activate(ctx context.Context, subscriptionID, paymentID string) (*domain.ActivationResult, error) {
	var userID string
	err := r.db.GetContext(ctx, &userID, `SELECT user_id FROM subscriptions WHERE id = $1`, subscriptionID)
	if err != nil {
		return nil, storeError("activate subscription", "subscription", subscriptionID, err)
	}

	result := &domain.ActivationResult{}
	err = db.WithTx(ctx, r.db, r.log, func(tx *sqlx.Tx) error {
		if err := lockUser(ctx, tx, userID); err != nil {
			return err
		}

		var sub domain.Subscription
		query := `SELECT ` + subscriptionColumns + ` FROM subscriptions WHERE id = $1 FOR UPDATE`
		if err := tx.GetContext(ctx, &sub, query, subscriptionID); err != nil {
			return err
		}

		switch {
		case sub.Status == domain.SubscriptionStatusActive:
			result.Subscription = &sub
			return nil
		case sub.Status.IsTerminal():
			return domain.NewInvalidStateError(sub.ID, sub.Status)
		}

		superseded := []string{}
		err := tx.SelectContext(ctx, &superseded, `
            UPDATE subscriptions SET status = 'inactive', updated_at = now()
            WHERE user_id = $1 AND status = 'active' AND id <> $2
            RETURNING id`, sub.UserID, sub.ID)
		if err != nil {
			return err
		}

		var activated domain.Subscription
		err = tx.GetContext(ctx, &activated, `
            UPDATE subscriptions SET status = 'active', updated_at = now()
            WHERE id = $1 AND status = 'pending'
            RETURNING `+subscriptionColumns, sub.ID)
		if err != nil {
			return err
		}

		payment := domain.NewSubscriptionPayment(paymentID, &activated)
		created, err := insertPayment(ctx, tx, payment)
		if err != nil {
			return err
		}

		result.Subscription = &activated
		result.Activated = true
		result.Superseded = superseded
		if created {
			result.Payment = payment
		}
		return nil
	})
	if err != nil {
		r.log.Warnw("Subscription activation transaction failed", "subscriptionID", subscriptionID, "error", err)
		return nil, storeError("activate subscription", "subscription", subscriptionID, err)
	}

	r.log.Debugw("Subscription activation transaction finished",
		"subscriptionID", subscriptionID, "activated", result.Activated, "superseded", len(result.Superseded))
	return result, nil
}

// Cancel переводит активную подписку пользователя в cancelled.
func (r *postgresSubscriptionRepo) Cancel(ctx context.Context, userID string) (*domain.Subscription, error) {
	var sub domain.Subscription
	err := db.WithTx(ctx, r.db, r.log, func(tx *sqlx.Tx) error {
		if err := lockUser(ctx, tx, userID); err != nil {
			return err
		}
		return tx.GetContext(ctx, &sub, `
            UPDATE subscriptions SET status = 'cancelled', updated_at = now()
            WHERE user_id = $1 AND status = 'active'
            RETURNING `+subscriptionColumns, userID)
	})
	if err != nil {
		return nil, storeError("cancel subscription", "active subscription for user", userID, err)
	}
	return &sub, nil
}

// ExpireDue деактивирует подписки с истекшим сроком. Пользовательская блокировка не нужна:
// одиночный UPDATE атомарен, а в inactive можно перейти только из active.
func (r *postgresSubscriptionRepo) ExpireDue(ctx context.Context, now time.Time) ([]domain.Subscription, error) {
	expired := []domain.Subscription{}
	err := r.db.SelectContext(ctx, &expired, `
        UPDATE subscriptions SET status = 'inactive', updated_at = now()
        WHERE status = 'active' AND end_date < $1
        RETURNING `+subscriptionColumns, now)
	if err != nil {
		r.log.Errorw("Failed to expire subscriptions", "error", err)
		return nil, storeError("expire subscriptions", "subscription", "", err)
	}
	return expired, nil
}
