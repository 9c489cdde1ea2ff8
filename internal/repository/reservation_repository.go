package repository

import (
	"context"
	"errors"
	"time"

	"github.com/Dhoini/marketplace-payments/internal/db"
	"github.com/Dhoini/marketplace-payments/internal/domain"
	"github.com/Dhoini/marketplace-payments/pkg/logger"

	"github.com/jmoiron/sqlx"
)

const reservationColumns = `id, client_id, provider_id, service_id,
       to_char(date, 'YYYY-MM-DD') AS date, to_char(time, 'HH24:MI') AS time,
       status, payment_mode, created_at, updated_at`

type postgresReservationRepo struct {
	db  *sqlx.DB
	log *logger.Logger
}

// NewPostgresReservationRepository бронирования в PostgreSQL.
func NewPostgresReservationRepository(db *sqlx.DB, log *logger.Logger) ReservationRepository {
	return &postgresReservationRepo{db: db, log: log}
}

func (r *postgresReservationRepo) GetByID(ctx context.Context, id string) (*domain.Reservation, error) {
	var res domain.Reservation
	query := `SELECT ` + reservationColumns + ` FROM reservations WHERE id = $1`
	if err := r.db.GetContext(ctx, &res, query, id); err != nil {
		return nil, storeError("get reservation", "reservation", id, err)
	}
	return &res, nil
}

// GetBySession ищет бронирование через запись журнала с этой сессией.
func (r *postgresReservationRepo) GetBySession(ctx context.Context, sessionID string) (*domain.Reservation, error) {
	var res domain.Reservation
	query := `SELECT ` + reservationColumns + `
        FROM reservations
        WHERE id = (
            SELECT reservation_id FROM payment_records
            WHERE stripe_session_id = $1 AND reservation_id IS NOT NULL
        )`
	if err := r.db.GetContext(ctx, &res, query, sessionID); err != nil {
		return nil, storeError("get reservation by session", "reservation for session", sessionID, err)
	}
	return &res, nil
}

func (r *postgresReservationRepo) CreateConfirmed(ctx context.Context, res *domain.Reservation, payment *domain.PaymentRecord) error {
	now := time.Now().UTC()
	res.CreatedAt = now
	res.UpdatedAt = now

	err := db.WithTx(ctx, r.db, r.log, func(tx *sqlx.Tx) error {
		_, err := tx.NamedExecContext(ctx, `
            INSERT INTO reservations (
                id, client_id, provider_id, service_id, date, time, status,
                payment_mode, created_at, updated_at
            ) VALUES (
                :id, :client_id, :provider_id, :service_id, CAST(:date AS date), CAST(:time AS time), :status,
                :payment_mode, :created_at, :updated_at
            )`, res)
		if err != nil {
			return err
		}
		if payment == nil {
			return nil
		}
		created, err := insertPayment(ctx, tx, payment)
		if err != nil {
			return err
		}
		if !created {
			// сессия уже оплатила другое бронирование, откатываем вставку
			return domain.ErrDuplicate
		}
		return nil
	})
	if errors.Is(err, domain.ErrDuplicate) {
		r.log.Infow("Reservation payment already recorded", "sessionKey", payment.SessionKey(), "clientID", res.ClientID)
		return err
	}
	if err != nil {
		r.log.Errorw("Failed to create confirmed reservation", "error", err, "clientID", res.ClientID, "serviceID", res.ServiceID)
		return storeError("create reservation", "reservation", res.ID, err)
	}
	return nil
}

type postgresServiceRepo struct {
	db *sqlx.DB
}

// NewPostgresServiceRepository каталог услуг в PostgreSQL.
func NewPostgresServiceRepository(db *sqlx.DB) ServiceRepository {
	return &postgresServiceRepo{db: db}
}

func (r *postgresServiceRepo) GetByID(ctx context.Context, id string) (*domain.ServiceListing, error) {
	var svc domain.ServiceListing
	query := `SELECT id, name, description, base_price, provider_id FROM services WHERE id = $1`
	if err := r.db.GetContext(ctx, &svc, query, id); err != nil {
		return nil, storeError("get service", "service", id, err)
	}
	return &svc, nil
}
