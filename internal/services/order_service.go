package services

import (
	"context"
	"strings"

	"github.com/Dhoini/marketplace-payments/internal/domain"
	"github.com/Dhoini/marketplace-payments/internal/kafka/producer"
	"github.com/Dhoini/marketplace-payments/internal/metrics"
	"github.com/Dhoini/marketplace-payments/internal/repository"
	"github.com/Dhoini/marketplace-payments/internal/stripe"
	"github.com/Dhoini/marketplace-payments/pkg/logger"

	"github.com/google/uuid"
)

// Адрес по умолчанию, если клиент его не указал.
const (
	defaultOnlineAddress     = "online"
	defaultOnDeliveryAddress = "to be defined"
)

// CreateOrderCheckoutInput оформление корзины
type CreateOrderCheckoutInput struct {
	ClientID        string
	Method          domain.OrderPaymentMode
	ShippingAddress string
}

// OrderCheckoutOutput для онлайн-оплаты заполнены ID и URL сессии,
// при оплате при получении сразу возвращаются заказы.
type OrderCheckoutOutput struct {
	ID     string         `json:"id,omitempty"`
	URL    string         `json:"url,omitempty"`
	Orders []domain.Order `json:"orders,omitempty"`
}

// OrderService оплата корзины маркетплейса: один заказ на продавца.
type OrderService struct {
	gateway       stripe.Gateway
	orders        repository.OrderRepository
	carts         repository.CartRepository
	paymentEvents producer.PaymentProducer
	metrics       metrics.PaymentMetrics
	clientURL     string
	currency      string
	log           *logger.Logger
	newID         func() string
}

// NewOrderService конструктор сервиса
func NewOrderService(
	gateway stripe.Gateway,
	orders repository.OrderRepository,
	carts repository.CartRepository,
	paymentEvents producer.PaymentProducer,
	m metrics.PaymentMetrics,
	clientURL, currency string,
	log *logger.Logger,
) *OrderService {
	if paymentEvents == nil {
		paymentEvents = producer.NewNoopPaymentProducer()
	}
	return &OrderService{
		gateway:       gateway,
		orders:        orders,
		carts:         carts,
		paymentEvents: paymentEvents,
		metrics:       m,
		clientURL:     strings.TrimRight(clientURL, "/"),
		currency:      currency,
		log:           log,
		newID:         uuid.NewString,
	}
}

// groupBySeller делит корзину на заказы по продавцам в порядке первого появления.
// Сумма заказа считается в центах, как ее считает провайдер.
func (s *OrderService) groupBySeller(lines []domain.CartLine, input CreateOrderCheckoutInput, status domain.OrderStatus, sessionID *string) []domain.Order {
	index := map[string]int{}
	cents := []int64{}
	var orders []domain.Order
	for _, line := range lines {
		i, ok := index[line.SellerID]
		if !ok {
			i = len(orders)
			index[line.SellerID] = i
			cents = append(cents, 0)
			orders = append(orders, domain.Order{
				ID:              s.newID(),
				ClientID:        input.ClientID,
				SellerID:        line.SellerID,
				Status:          status,
				PaymentMode:     input.Method,
				ShippingAddress: input.ShippingAddress,
				StripeSessionID: sessionID,
			})
		}
		o := &orders[i]
		o.Items = append(o.Items, domain.OrderItem{
			ID:        s.newID(),
			OrderID:   o.ID,
			ProductID: line.ProductID,
			Quantity:  line.Quantity,
			UnitPrice: line.UnitPrice,
		})
		cents[i] += stripe.ToMinorUnits(line.UnitPrice) * line.Quantity
	}
	for i := range orders {
		orders[i].Total = float64(cents[i]) / 100
	}
	return orders
}

func lineItems(lines []domain.CartLine) []stripe.LineItem {
	items := make([]stripe.LineItem, 0, len(lines))
	for _, line := range lines {
		items = append(items, stripe.LineItem{
			Name:        line.ProductName,
			Description: line.ProductDescription,
			UnitAmount:  line.UnitPrice,
			Quantity:    line.Quantity,
		})
	}
	return items
}

// CreateOrderCheckout оформляет корзину клиента.
// Онлайн: заказы ждут оплаты под ID сессии, корзина очищается после оплаты.
// При получении: заказы создаются сразу в pending, корзина очищается.
func (s *OrderService) CreateOrderCheckout(ctx context.Context, input CreateOrderCheckoutInput) (*OrderCheckoutOutput, error) {
	input.Method = input.Method.Normalize()
	if input.Method == "" {
		input.Method = domain.OrderPaymentOnline
	}
	var errs domain.ValidationErrors
	if input.ClientID == "" {
		errs.Add("client_id", "is required")
	}
	if !input.Method.Valid() {
		errs.Add("method", "must be online or cash_on_delivery")
	}
	if errs.HasErrors() {
		return nil, errs
	}

	lines, err := s.carts.ListByClient(ctx, input.ClientID)
	if err != nil {
		return nil, err
	}
	if len(lines) == 0 {
		return nil, domain.ValidationErrors{{Field: "cart", Message: "is empty"}}
	}

	if input.Method == domain.OrderPaymentOnDelivery {
		if input.ShippingAddress == "" {
			input.ShippingAddress = defaultOnDeliveryAddress
		}
		orders := s.groupBySeller(lines, input, domain.OrderStatusPending, nil)
		if err := s.orders.Create(ctx, orders, input.ClientID); err != nil {
			return nil, err
		}
		s.log.Infow("Cash on delivery orders created", "clientID", input.ClientID, "orders", len(orders))
		return &OrderCheckoutOutput{Orders: orders}, nil
	}

	session, err := s.gateway.CreateCheckoutSession(ctx, stripe.CheckoutRequest{
		LineItems:  lineItems(lines),
		Currency:   s.currency,
		SuccessURL: s.clientURL + "/checkout-success?session_id={CHECKOUT_SESSION_ID}",
		CancelURL:  s.clientURL + "/checkout-cancel",
		Metadata: map[string]string{
			MetaPurpose:  domain.PurposeMarketplace,
			MetaClientID: input.ClientID,
		},
	})
	if err != nil {
		return nil, err
	}

	if input.ShippingAddress == "" {
		input.ShippingAddress = defaultOnlineAddress
	}
	sessionID := session.ID
	orders := s.groupBySeller(lines, input, domain.OrderStatusAwaitingPayment, &sessionID)
	if err := s.orders.Create(ctx, orders, ""); err != nil {
		s.log.Errorw("Failed to save orders for checkout session", "error", err, "sessionID", session.ID, "clientID", input.ClientID)
		return nil, err
	}

	s.log.Infow("Marketplace checkout session created", "sessionID", session.ID, "clientID", input.ClientID, "orders", len(orders))
	return &OrderCheckoutOutput{ID: session.ID, URL: session.URL}, nil
}

// ConfirmOrderPayment переводит заказы оплаченной сессии в pending и пишет по записи
// в журнал на каждый заказ. Повторный вызов возвращает те же заказы без новых записей.
func (s *OrderService) ConfirmOrderPayment(ctx context.Context, session *domain.CheckoutSession) ([]domain.Order, error) {
	clientID := session.Metadata[MetaClientID]
	if clientID == "" {
		return nil, domain.ValidationErrors{{Field: MetaClientID, Message: "is required"}}
	}

	orders, err := s.orders.ListBySession(ctx, session.ID)
	if err != nil {
		return nil, err
	}
	if len(orders) == 0 {
		return nil, domain.NewNotFoundError("orders for session", session.ID)
	}

	var expected int64
	payments := make([]domain.PaymentRecord, 0, len(orders))
	for i := range orders {
		if orders[i].ClientID != clientID {
			s.log.Warnw("Order session metadata names another client", "sessionID", session.ID, "orderID", orders[i].ID)
			return nil, domain.ErrForbidden
		}
		expected += stripe.ToMinorUnits(orders[i].Total)
		payments = append(payments, *domain.NewOrderPayment(s.newID(), &orders[i]))
	}
	if expected != session.AmountTotal {
		err := domain.NewAmountMismatchError(session.ID, expected, session.AmountTotal)
		s.log.Errorw("Refusing to confirm orders", "error", err, "clientID", clientID)
		return nil, err
	}

	result, err := s.orders.ConfirmPaid(ctx, session.ID, payments)
	if err != nil {
		return nil, err
	}

	pubCtx := context.WithoutCancel(ctx)
	for i := range result.Payments {
		p := &result.Payments[i]
		s.metrics.ObservePaymentRecorded("order", p.Amount)
		if err := s.paymentEvents.PublishPaymentRecorded(pubCtx, p); err != nil {
			s.log.Warnw("Failed to publish payment recorded event", "error", err, "paymentID", p.ID)
		}
	}
	if len(result.Payments) > 0 {
		s.log.Infow("Marketplace orders paid", "sessionID", session.ID, "clientID", clientID, "orders", len(result.Orders))
	} else {
		s.log.Infow("Marketplace orders already confirmed", "sessionID", session.ID)
	}
	return result.Orders, nil
}

// VerifyOrderPayment одна проверка сессии клиентом после возврата со страницы оплаты.
func (s *OrderService) VerifyOrderPayment(ctx context.Context, sessionID, clientID string) ([]domain.Order, error) {
	session, err := s.gateway.RetrieveSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if !session.Paid() {
		return nil, domain.ErrNotYetPaid
	}
	if session.Metadata[MetaClientID] != clientID {
		s.log.Warnw("Marketplace session belongs to another client", "sessionID", sessionID, "clientID", clientID)
		return nil, domain.ErrForbidden
	}
	return s.ConfirmOrderPayment(ctx, session)
}

// ClientOrders заказы клиента, новые первыми.
func (s *OrderService) ClientOrders(ctx context.Context, clientID string) ([]domain.Order, error) {
	return s.orders.ListByClient(ctx, clientID)
}

// SellerOrders заказы продавца, кроме ожидающих оплаты.
func (s *OrderService) SellerOrders(ctx context.Context, sellerID string) ([]domain.Order, error) {
	return s.orders.ListBySeller(ctx, sellerID)
}
