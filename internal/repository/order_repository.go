package repository

import (
	"context"
	"time"

	"github.com/Dhoini/marketplace-payments/internal/db"
	"github.com/Dhoini/marketplace-payments/internal/domain"
	"github.com/Dhoini/marketplace-payments/pkg/logger"

	"github.com/jmoiron/sqlx"
)

const orderColumns = `id, client_id, seller_id, total, status, payment_mode, shipping_address,
       stripe_session_id, created_at, updated_at`

const orderItemColumns = `id, order_id, product_id, quantity, unit_price`

type postgresOrderRepo struct {
	db  *sqlx.DB
	log *logger.Logger
}

// NewPostgresOrderRepository заказы маркетплейса в PostgreSQL.
func NewPostgresOrderRepository(db *sqlx.DB, log *logger.Logger) OrderRepository {
	return &postgresOrderRepo{db: db, log: log}
}

func (r *postgresOrderRepo) Create(ctx context.Context, orders []domain.Order, clearCartOf string) error {
	now := time.Now().UTC()
	err := db.WithTx(ctx, r.db, r.log, func(tx *sqlx.Tx) error {
		for i := range orders {
			o := &orders[i]
			o.CreatedAt = now
			o.UpdatedAt = now
			_, err := tx.NamedExecContext(ctx, `
                INSERT INTO orders (
                    id, client_id, seller_id, total, status, payment_mode, shipping_address,
                    stripe_session_id, created_at, updated_at
                ) VALUES (
                    :id, :client_id, :seller_id, :total, :status, :payment_mode, :shipping_address,
                    :stripe_session_id, :created_at, :updated_at
                )`, o)
			if err != nil {
				if isUniqueViolation(err) {
					return domain.ErrDuplicate
				}
				return err
			}
			if len(o.Items) == 0 {
				continue
			}
			_, err = tx.NamedExecContext(ctx, `
                INSERT INTO order_items (`+orderItemColumns+`)
                VALUES (:id, :order_id, :product_id, :quantity, :unit_price)`, o.Items)
			if err != nil {
				return err
			}
		}
		if clearCartOf == "" {
			return nil
		}
		_, err := tx.ExecContext(ctx, `DELETE FROM cart_items WHERE client_id = $1`, clearCartOf)
		return err
	})
	if err != nil {
		r.log.Errorw("Failed to create orders", "error", err, "orders", len(orders))
		return storeError("create orders", "order", "", err)
	}
	return nil
}

// attachItems загружает позиции для списка заказов одним запросом.
func attachItems(ctx context.Context, q sqlx.QueryerContext, orders []domain.Order) error {
	if len(orders) == 0 {
		return nil
	}
	ids := make([]string, len(orders))
	pos := make(map[string]int, len(orders))
	for i := range orders {
		ids[i] = orders[i].ID
		pos[orders[i].ID] = i
		orders[i].Items = []domain.OrderItem{}
	}
	query, args, err := sqlx.In(`SELECT `+orderItemColumns+` FROM order_items WHERE order_id IN (?) ORDER BY id`, ids)
	if err != nil {
		return err
	}
	var items []domain.OrderItem
	if err := sqlx.SelectContext(ctx, q, &items, sqlx.Rebind(sqlx.DOLLAR, query), args...); err != nil {
		return err
	}
	for _, it := range items {
		if i, ok := pos[it.OrderID]; ok {
			orders[i].Items = append(orders[i].Items, it)
		}
	}
	return nil
}

func (r *postgresOrderRepo) list(ctx context.Context, op, id, where string, args ...any) ([]domain.Order, error) {
	orders := []domain.Order{}
	query := `SELECT ` + orderColumns + ` FROM orders WHERE ` + where + ` ORDER BY created_at DESC, id`
	if err := r.db.SelectContext(ctx, &orders, query, args...); err != nil {
		return nil, storeError(op, "order", id, err)
	}
	if err := attachItems(ctx, r.db, orders); err != nil {
		return nil, storeError(op, "order item", id, err)
	}
	return orders, nil
}

func (r *postgresOrderRepo) ListBySession(ctx context.Context, sessionID string) ([]domain.Order, error) {
	return r.list(ctx, "list orders by session", sessionID, `stripe_session_id = $1`, sessionID)
}

func (r *postgresOrderRepo) ListByClient(ctx context.Context, clientID string) ([]domain.Order, error) {
	return r.list(ctx, "list orders by client", clientID, `client_id = $1`, clientID)
}

func (r *postgresOrderRepo) ListBySeller(ctx context.Context, sellerID string) ([]domain.Order, error) {
	return r.list(ctx, "list orders by seller", sellerID, `seller_id = $1 AND status <> 'awaiting_payment'`, sellerID)
}

// ConfirmPaid блокирует заказы сессии, переводит ожидающие оплаты в pending,
// добавляет записи журнала и убирает купленные товары из корзины.
func (r *postgresOrderRepo) ConfirmPaid(ctx context.Context, sessionID string, payments []domain.PaymentRecord) (*domain.OrderConfirmation, error) {
	result := &domain.OrderConfirmation{}

	err := db.WithTx(ctx, r.db, r.log, func(tx *sqlx.Tx) error {
		var locked []string
		err := tx.SelectContext(ctx, &locked,
			`SELECT id FROM orders WHERE stripe_session_id = $1 ORDER BY id FOR UPDATE`, sessionID)
		if err != nil {
			return err
		}
		if len(locked) == 0 {
			return domain.NewNotFoundError("orders for session", sessionID)
		}

		var paid []string
		err = tx.SelectContext(ctx, &paid, `
            UPDATE orders SET status = 'pending', updated_at = now()
            WHERE stripe_session_id = $1 AND status = 'awaiting_payment'
            RETURNING id`, sessionID)
		if err != nil {
			return err
		}

		for i := range payments {
			created, err := insertPayment(ctx, tx, &payments[i])
			if err != nil {
				return err
			}
			if created {
				result.Payments = append(result.Payments, payments[i])
			}
		}

		if len(paid) > 0 {
			_, err = tx.ExecContext(ctx, `
                DELETE FROM cart_items c
                USING orders o, order_items i
                WHERE o.stripe_session_id = $1 AND i.order_id = o.id
                  AND c.client_id = o.client_id AND c.product_id = i.product_id`, sessionID)
			if err != nil {
				return err
			}
		}

		result.Orders = []domain.Order{}
		err = tx.SelectContext(ctx, &result.Orders,
			`SELECT `+orderColumns+` FROM orders WHERE stripe_session_id = $1 ORDER BY created_at, id`, sessionID)
		if err != nil {
			return err
		}
		return attachItems(ctx, tx, result.Orders)
	})
	if err != nil {
		r.log.Errorw("Failed to confirm paid orders", "error", err, "sessionID", sessionID)
		return nil, storeError("confirm paid orders", "orders for session", sessionID, err)
	}
	return result, nil
}

type postgresCartRepo struct {
	db *sqlx.DB
}

// NewPostgresCartRepository корзины клиентов в PostgreSQL.
func NewPostgresCartRepository(db *sqlx.DB) CartRepository {
	return &postgresCartRepo{db: db}
}

func (r *postgresCartRepo) ListByClient(ctx context.Context, clientID string) ([]domain.CartLine, error) {
	lines := []domain.CartLine{}
	query := `
        SELECT c.id, c.client_id, c.product_id, c.quantity,
               p.name AS product_name, p.description AS product_description,
               p.price AS unit_price, p.seller_id
        FROM cart_items c
        JOIN products p ON p.id = c.product_id
        WHERE c.client_id = $1
        ORDER BY c.created_at, c.id`
	if err := r.db.SelectContext(ctx, &lines, query, clientID); err != nil {
		return nil, storeError("list cart", "cart", clientID, err)
	}
	return lines, nil
}
