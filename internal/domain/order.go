package domain

import "time"

// OrderStatus статус заказа
type OrderStatus string

const (
	// OrderStatusAwaitingPayment заказ ждет онлайн-оплаты, продавцу не виден
	OrderStatusAwaitingPayment OrderStatus = "awaiting_payment"
	OrderStatusPending         OrderStatus = "pending"
	OrderStatusConfirmed       OrderStatus = "confirmed"
	OrderStatusShipped         OrderStatus = "shipped"
	OrderStatusDelivered       OrderStatus = "delivered"
	OrderStatusCancelled       OrderStatus = "cancelled"
)

// OrderPaymentMode способ оплаты заказа
type OrderPaymentMode string

const (
	OrderPaymentOnline     OrderPaymentMode = "online"
	OrderPaymentOnDelivery OrderPaymentMode = "cash_on_delivery"

	// orderPaymentOnDeliveryLegacy написание, которое шлет старый клиент
	orderPaymentOnDeliveryLegacy OrderPaymentMode = "a_la_livraison"
)

// Normalize приводит устаревшее написание способа оплаты к текущему.
func (m OrderPaymentMode) Normalize() OrderPaymentMode {
	if m == orderPaymentOnDeliveryLegacy {
		return OrderPaymentOnDelivery
	}
	return m
}

// Valid проверяет способ оплаты.
func (m OrderPaymentMode) Valid() bool {
	return m == OrderPaymentOnline || m == OrderPaymentOnDelivery
}

// Order заказ клиента у одного продавца. Корзина с товарами нескольких
// продавцов превращается в несколько заказов.
type Order struct {
	ID              string           `json:"id" db:"id"`
	ClientID        string           `json:"client_id" db:"client_id"`
	SellerID        string           `json:"seller_id" db:"seller_id"`
	Total           float64          `json:"total" db:"total"`
	Status          OrderStatus      `json:"status" db:"status"`
	PaymentMode     OrderPaymentMode `json:"payment_mode" db:"payment_mode"`
	ShippingAddress string           `json:"shipping_address" db:"shipping_address"`
	StripeSessionID *string          `json:"stripe_session_id,omitempty" db:"stripe_session_id"`
	CreatedAt       time.Time        `json:"created_at" db:"created_at"`
	UpdatedAt       time.Time        `json:"updated_at" db:"updated_at"`

	Items []OrderItem `json:"items" db:"-"`
}

// OrderItem позиция заказа с ценой на момент оформления.
type OrderItem struct {
	ID        string  `json:"id" db:"id"`
	OrderID   string  `json:"order_id" db:"order_id"`
	ProductID string  `json:"product_id" db:"product_id"`
	Quantity  int64   `json:"quantity" db:"quantity"`
	UnitPrice float64 `json:"unit_price" db:"unit_price"`
}

// CartLine строка корзины вместе с товаром.
type CartLine struct {
	ID                 string  `json:"id" db:"id"`
	ClientID           string  `json:"client_id" db:"client_id"`
	ProductID          string  `json:"product_id" db:"product_id"`
	Quantity           int64   `json:"quantity" db:"quantity"`
	ProductName        string  `json:"product_name" db:"product_name"`
	ProductDescription string  `json:"product_description" db:"product_description"`
	UnitPrice          float64 `json:"unit_price" db:"unit_price"`
	SellerID           string  `json:"seller_id" db:"seller_id"`
}

// Product товар продавца. Каталог ведет другая часть маркетплейса.
type Product struct {
	ID          string  `json:"id" db:"id"`
	Name        string  `json:"name" db:"name"`
	Description string  `json:"description" db:"description"`
	Price       float64 `json:"price" db:"price"`
	SellerID    string  `json:"seller_id" db:"seller_id"`
}

// OrderConfirmation результат подтверждения оплаты сессии.
type OrderConfirmation struct {
	Orders []Order
	// Payments только записи, созданные этим вызовом
	Payments []PaymentRecord
}
