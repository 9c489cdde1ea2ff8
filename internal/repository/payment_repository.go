package repository

import (
	"context"
	"time"

	"github.com/Dhoini/marketplace-payments/internal/domain"
	"github.com/Dhoini/marketplace-payments/pkg/logger"

	"github.com/jmoiron/sqlx"
)

const paymentColumns = `id, amount, mode, subscription_id, reservation_id, order_id, client_id,
       provider_id, status, stripe_session_id, created_at`

type postgresPaymentRepo struct {
	db  *sqlx.DB
	log *logger.Logger
}

// NewPostgresPaymentRepository журнал платежей в PostgreSQL.
func NewPostgresPaymentRepository(db *sqlx.DB, log *logger.Logger) PaymentRepository {
	return &postgresPaymentRepo{db: db, log: log}
}

// insertPayment добавляет запись, пропуская дубликаты по subscription_id, reservation_id,
// order_id и паре (stripe_session_id, order_id). Используется и внутри транзакций.
func insertPayment(ctx context.Context, ext sqlx.ExtContext, rec *domain.PaymentRecord) (bool, error) {
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	if rec.Status == "" {
		rec.Status = domain.PaymentStatusPaid
	}
	query := `
        INSERT INTO payment_records (
            id, amount, mode, subscription_id, reservation_id, order_id, client_id,
            provider_id, status, stripe_session_id, created_at
        ) VALUES (
            :id, :amount, :mode, :subscription_id, :reservation_id, :order_id, :client_id,
            :provider_id, :status, :stripe_session_id, :created_at
        )
        ON CONFLICT DO NOTHING`
	res, err := sqlx.NamedExecContext(ctx, ext, query, rec)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (r *postgresPaymentRepo) Append(ctx context.Context, rec *domain.PaymentRecord) (bool, error) {
	created, err := insertPayment(ctx, r.db, rec)
	if err != nil {
		r.log.Errorw("Failed to append payment record", "error", err, "clientID", rec.ClientID)
		return false, storeError("append payment", "payment", rec.ID, err)
	}
	if !created {
		r.log.Infow("Payment record already exists, skipping", "sessionKey", rec.SessionKey(), "subscriptionID", rec.SubscriptionID, "reservationID", rec.ReservationID)
	}
	return created, nil
}

func (r *postgresPaymentRepo) GetBySubscription(ctx context.Context, subscriptionID string) (*domain.PaymentRecord, error) {
	var rec domain.PaymentRecord
	query := `SELECT ` + paymentColumns + ` FROM payment_records WHERE subscription_id = $1`
	if err := r.db.GetContext(ctx, &rec, query, subscriptionID); err != nil {
		return nil, storeError("get payment by subscription", "payment for subscription", subscriptionID, err)
	}
	return &rec, nil
}

func (r *postgresPaymentRepo) ListByClient(ctx context.Context, clientID string) ([]domain.PaymentRecord, error) {
	recs := []domain.PaymentRecord{}
	query := `SELECT ` + paymentColumns + ` FROM payment_records WHERE client_id = $1 ORDER BY created_at DESC`
	if err := r.db.SelectContext(ctx, &recs, query, clientID); err != nil {
		return nil, storeError("list payments by client", "payment", clientID, err)
	}
	return recs, nil
}

func (r *postgresPaymentRepo) ListByProvider(ctx context.Context, providerID string) ([]domain.PaymentRecord, error) {
	recs := []domain.PaymentRecord{}
	query := `SELECT ` + paymentColumns + ` FROM payment_records WHERE provider_id = $1 ORDER BY created_at DESC`
	if err := r.db.SelectContext(ctx, &recs, query, providerID); err != nil {
		return nil, storeError("list payments by provider", "payment", providerID, err)
	}
	return recs, nil
}
