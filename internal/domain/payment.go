package domain

import (
	"time"
)

// PaymentMode способ оплаты
type PaymentMode string

const (
	PaymentModeStripe PaymentMode = "stripe"
	PaymentModeCash   PaymentMode = "cash"
)

// PaymentStatus статус платежа. Записываются только успешные платежи.
type PaymentStatus string

const (
	PaymentStatusPaid PaymentStatus = "paid"
)

// PaymentRecord запись в журнале платежей. После создания не изменяется.
type PaymentRecord struct {
	ID             string        `json:"id" db:"id"`
	Amount         float64       `json:"amount" db:"amount"`
	Mode           PaymentMode   `json:"mode" db:"mode"`
	SubscriptionID *string       `json:"subscription_id,omitempty" db:"subscription_id"`
	ReservationID  *string       `json:"reservation_id,omitempty" db:"reservation_id"`
	OrderID        *string       `json:"order_id,omitempty" db:"order_id"`
	ClientID       string        `json:"client_id" db:"client_id"`
	ProviderID     *string       `json:"provider_id,omitempty" db:"provider_id"`
	Status         PaymentStatus `json:"status" db:"status"`
	CreatedAt      time.Time     `json:"created_at" db:"created_at"`

	// StripeSessionID сессия, которой оплачена запись. Пара (сессия, заказ) уникальна.
	StripeSessionID *string `json:"stripe_session_id,omitempty" db:"stripe_session_id"`
}

// SessionKey ключ записи в журнале: сессия и заказ. Пустой для записей без сессии.
func (p *PaymentRecord) SessionKey() string {
	if p.StripeSessionID == nil {
		return ""
	}
	key := *p.StripeSessionID
	if p.OrderID != nil {
		key += "/" + *p.OrderID
	}
	return key
}

// NewSubscriptionPayment запись об оплате подписки.
func NewSubscriptionPayment(id string, sub *Subscription) *PaymentRecord {
	subID := sub.ID
	return &PaymentRecord{
		ID:              id,
		Amount:          sub.Amount,
		Mode:            PaymentModeStripe,
		SubscriptionID:  &subID,
		ClientID:        sub.UserID,
		Status:          PaymentStatusPaid,
		StripeSessionID: sub.StripeSessionID,
	}
}

// NewReservationPayment запись об оплате бронирования. sessionID пуст для оплаты наличными.
func NewReservationPayment(id string, r *Reservation, amount float64, mode PaymentMode, sessionID string) *PaymentRecord {
	resID := r.ID
	rec := &PaymentRecord{
		ID:            id,
		Amount:        amount,
		Mode:          mode,
		ReservationID: &resID,
		ClientID:      r.ClientID,
		Status:        PaymentStatusPaid,
	}
	if r.ProviderID != "" {
		providerID := r.ProviderID
		rec.ProviderID = &providerID
	}
	if sessionID != "" {
		rec.StripeSessionID = &sessionID
	}
	return rec
}

// NewOrderPayment запись об онлайн-оплате заказа. Получатель платежа продавец.
func NewOrderPayment(id string, o *Order) *PaymentRecord {
	orderID := o.ID
	sellerID := o.SellerID
	return &PaymentRecord{
		ID:              id,
		Amount:          o.Total,
		Mode:            PaymentModeStripe,
		OrderID:         &orderID,
		ClientID:        o.ClientID,
		ProviderID:      &sellerID,
		Status:          PaymentStatusPaid,
		StripeSessionID: o.StripeSessionID,
	}
}
