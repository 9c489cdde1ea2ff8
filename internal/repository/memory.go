package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/Dhoini/marketplace-payments/internal/domain"
)

// MemoryStore хранилище в памяти. Один мьютекс на все таблицы, поэтому Activate,
// CreateConfirmed и ConfirmPaid атомарны так же, как транзакции в PostgreSQL.
type MemoryStore struct {
	mu           sync.Mutex
	subs         map[string]domain.Subscription
	payments     []domain.PaymentRecord
	reservations map[string]domain.Reservation
	services     map[string]domain.ServiceListing
	events       map[string]domain.WebhookEvent
	products     map[string]domain.Product
	cart         []cartItem
	cartSeq      int
	orders       []domain.Order
	now          func() time.Time
}

type cartItem struct {
	id        string
	clientID  string
	productID string
	quantity  int64
}

// NewMemoryStore создает пустое хранилище.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		subs:         make(map[string]domain.Subscription),
		reservations: make(map[string]domain.Reservation),
		services:     make(map[string]domain.ServiceListing),
		events:       make(map[string]domain.WebhookEvent),
		products:     make(map[string]domain.Product),
		now:          func() time.Time { return time.Now().UTC() },
	}
}

// Subscriptions репозиторий подписок поверх хранилища.
func (m *MemoryStore) Subscriptions() SubscriptionRepository { return &memorySubscriptions{m} }

// Payments журнал платежей поверх хранилища.
func (m *MemoryStore) Payments() PaymentRepository { return &memoryPayments{m} }

// Reservations репозиторий бронирований поверх хранилища.
func (m *MemoryStore) Reservations() ReservationRepository { return &memoryReservations{m} }

// Services каталог услуг поверх хранилища.
func (m *MemoryStore) Services() ServiceRepository { return &memoryServices{m} }

// WebhookEvents журнал событий поверх хранилища.
func (m *MemoryStore) WebhookEvents() WebhookEventRepository { return &memoryWebhookEvents{m} }

// Orders заказы поверх хранилища.
func (m *MemoryStore) Orders() OrderRepository { return &memoryOrders{m} }

// Carts корзины поверх хранилища.
func (m *MemoryStore) Carts() CartRepository { return &memoryCarts{m} }

// PutService добавляет услугу в каталог.
func (m *MemoryStore) PutService(svc domain.ServiceListing) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.services[svc.ID] = svc
}

// PutProduct добавляет товар в каталог.
func (m *MemoryStore) PutProduct(p domain.Product) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.products[p.ID] = p
}

// AddToCart кладет товар в корзину клиента.
func (m *MemoryStore) AddToCart(clientID, productID string, quantity int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cartSeq++
	m.cart = append(m.cart, cartItem{
		id:        fmt.Sprintf("cart-%d", m.cartSeq),
		clientID:  clientID,
		productID: productID,
		quantity:  quantity,
	})
}

// paymentExistsLocked повторяет уникальные индексы payment_records. Вызывается под m.mu.
func (m *MemoryStore) paymentExistsLocked(rec *domain.PaymentRecord) bool {
	key := rec.SessionKey()
	for _, p := range m.payments {
		switch {
		case p.ID == rec.ID:
			return true
		case rec.SubscriptionID != nil && p.SubscriptionID != nil && *p.SubscriptionID == *rec.SubscriptionID:
			return true
		case rec.ReservationID != nil && p.ReservationID != nil && *p.ReservationID == *rec.ReservationID:
			return true
		case rec.OrderID != nil && p.OrderID != nil && *p.OrderID == *rec.OrderID:
			return true
		case key != "" && p.SessionKey() == key:
			return true
		}
	}
	return false
}

// appendPaymentLocked вызывается под m.mu.
func (m *MemoryStore) appendPaymentLocked(rec *domain.PaymentRecord) bool {
	if m.paymentExistsLocked(rec) {
		return false
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = m.now()
	}
	if rec.Status == "" {
		rec.Status = domain.PaymentStatusPaid
	}
	m.payments = append(m.payments, *rec)
	return true
}

func sortNewestFirst(subs []domain.Subscription) {
	sort.SliceStable(subs, func(i, j int) bool {
		return subs[i].CreatedAt.After(subs[j].CreatedAt)
	})
}

type memorySubscriptions struct{ m *MemoryStore }

func (r *memorySubscriptions) Create(_ context.Context, sub *domain.Subscription) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()

	if _, exists := r.m.subs[sub.ID]; exists {
		return domain.ErrDuplicate
	}
	if sid := sub.SessionID(); sid != "" {
		for _, s := range r.m.subs {
			if s.SessionID() == sid {
				return domain.ErrDuplicate
			}
		}
	}
	now := r.m.now()
	sub.CreatedAt = now
	sub.UpdatedAt = now
	if sub.StartDate.IsZero() {
		sub.StartDate = now
	}
	r.m.subs[sub.ID] = *sub
	return nil
}

func (r *memorySubscriptions) GetByID(_ context.Context, id string) (*domain.Subscription, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()

	sub, ok := r.m.subs[id]
	if !ok {
		return nil, domain.NewNotFoundError("subscription", id)
	}
	return &sub, nil
}

func (r *memorySubscriptions) GetBySession(_ context.Context, sessionID, userID string) (*domain.Subscription, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()

	for _, s := range r.m.subs {
		if s.SessionID() == sessionID && s.UserID == userID {
			return &s, nil
		}
	}
	return nil, domain.NewNotFoundError("subscription session", sessionID)
}

func (r *memorySubscriptions) ListByUser(_ context.Context, userID string) ([]domain.Subscription, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()

	out := []domain.Subscription{}
	for _, s := range r.m.subs {
		if s.UserID == userID {
			out = append(out, s)
		}
	}
	sortNewestFirst(out)
	return out, nil
}

func (r *memorySubscriptions) ListAll(_ context.Context) ([]domain.Subscription, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()

	out := make([]domain.Subscription, 0, len(r.m.subs))
	for _, s := range r.m.subs {
		out = append(out, s)
	}
	sortNewestFirst(out)
	return out, nil
}

func (r *memorySubscriptions) LatestActive(_ context.Context, userID string) (*domain.Subscription, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()

	var latest *domain.Subscription
	for _, s := range r.m.subs {
		if s.UserID != userID || s.Status != domain.SubscriptionStatusActive {
			continue
		}
		if latest == nil || s.CreatedAt.After(latest.CreatedAt) {
			s := s
			latest = &s
		}
	}
	if latest == nil {
		return nil, domain.NewNotFoundError("active subscription for user", userID)
	}
	return latest, nil
}

func (r *memorySubscriptions) UpdateDetails(_ context.Context, id string, changes domain.SubscriptionChanges) (*domain.Subscription, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()

	sub, ok := r.m.subs[id]
	if !ok {
		return nil, domain.NewNotFoundError("subscription", id)
	}
	if sub.Status != domain.SubscriptionStatusPending {
		return nil, domain.NewInvalidStateError(id, sub.Status)
	}
	if sub.StripeSessionID != nil {
		return nil, domain.NewCheckoutStartedError(id)
	}
	if changes.Plan != nil {
		sub.Plan = *changes.Plan
	}
	if changes.EndDate != nil {
		sub.EndDate = *changes.EndDate
	}
	if changes.Amount != nil {
		sub.Amount = *changes.Amount
	}
	sub.UpdatedAt = r.m.now()
	r.m.subs[id] = sub
	return &sub, nil
}

func (r *memorySubscriptions) Activate(_ context.Context, subscriptionID, paymentID string) (*domain.ActivationResult, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()

	sub, ok := r.m.subs[subscriptionID]
	if !ok {
		return nil, domain.NewNotFoundError("subscription", subscriptionID)
	}
	switch {
	case sub.Status == domain.SubscriptionStatusActive:
		return &domain.ActivationResult{Subscription: &sub}, nil
	case sub.Status.IsTerminal():
		return nil, domain.NewInvalidStateError(sub.ID, sub.Status)
	}

	now := r.m.now()
	superseded := []string{}
	for id, other := range r.m.subs {
		if other.UserID == sub.UserID && other.Status == domain.SubscriptionStatusActive && id != sub.ID {
			other.Status = domain.SubscriptionStatusInactive
			other.UpdatedAt = now
			r.m.subs[id] = other
			superseded = append(superseded, id)
		}
	}
	sub.Status = domain.SubscriptionStatusActive
	sub.UpdatedAt = now
	r.m.subs[sub.ID] = sub

	result := &domain.ActivationResult{Subscription: &sub, Activated: true, Superseded: superseded}
	payment := domain.NewSubscriptionPayment(paymentID, &sub)
	if r.m.appendPaymentLocked(payment) {
		result.Payment = payment
	}
	return result, nil
}

func (r *memorySubscriptions) Cancel(_ context.Context, userID string) (*domain.Subscription, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()

	for id, s := range r.m.subs {
		if s.UserID == userID && s.Status == domain.SubscriptionStatusActive {
			s.Status = domain.SubscriptionStatusCancelled
			s.UpdatedAt = r.m.now()
			r.m.subs[id] = s
			return &s, nil
		}
	}
	return nil, domain.NewNotFoundError("active subscription for user", userID)
}

func (r *memorySubscriptions) ExpireDue(_ context.Context, now time.Time) ([]domain.Subscription, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()

	expired := []domain.Subscription{}
	for id, s := range r.m.subs {
		if s.Status == domain.SubscriptionStatusActive && s.EndDate.Before(now) {
			s.Status = domain.SubscriptionStatusInactive
			s.UpdatedAt = r.m.now()
			r.m.subs[id] = s
			expired = append(expired, s)
		}
	}
	return expired, nil
}

type memoryPayments struct{ m *MemoryStore }

func (r *memoryPayments) Append(_ context.Context, rec *domain.PaymentRecord) (bool, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	return r.m.appendPaymentLocked(rec), nil
}

func (r *memoryPayments) GetBySubscription(_ context.Context, subscriptionID string) (*domain.PaymentRecord, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()

	for _, p := range r.m.payments {
		if p.SubscriptionID != nil && *p.SubscriptionID == subscriptionID {
			return &p, nil
		}
	}
	return nil, domain.NewNotFoundError("payment for subscription", subscriptionID)
}

func (r *memoryPayments) ListByClient(_ context.Context, clientID string) ([]domain.PaymentRecord, error) {
	return r.filter(func(p domain.PaymentRecord) bool { return p.ClientID == clientID }), nil
}

func (r *memoryPayments) ListByProvider(_ context.Context, providerID string) ([]domain.PaymentRecord, error) {
	return r.filter(func(p domain.PaymentRecord) bool {
		return p.ProviderID != nil && *p.ProviderID == providerID
	}), nil
}

func (r *memoryPayments) filter(keep func(domain.PaymentRecord) bool) []domain.PaymentRecord {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()

	out := []domain.PaymentRecord{}
	for i := len(r.m.payments) - 1; i >= 0; i-- {
		if keep(r.m.payments[i]) {
			out = append(out, r.m.payments[i])
		}
	}
	return out
}

type memoryReservations struct{ m *MemoryStore }

func (r *memoryReservations) GetByID(_ context.Context, id string) (*domain.Reservation, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()

	res, ok := r.m.reservations[id]
	if !ok {
		return nil, domain.NewNotFoundError("reservation", id)
	}
	return &res, nil
}

func (r *memoryReservations) GetBySession(_ context.Context, sessionID string) (*domain.Reservation, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()

	for _, p := range r.m.payments {
		if p.ReservationID == nil || p.StripeSessionID == nil || *p.StripeSessionID != sessionID {
			continue
		}
		if res, ok := r.m.reservations[*p.ReservationID]; ok {
			return &res, nil
		}
	}
	return nil, domain.NewNotFoundError("reservation for session", sessionID)
}

func (r *memoryReservations) CreateConfirmed(_ context.Context, res *domain.Reservation, payment *domain.PaymentRecord) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()

	if _, exists := r.m.reservations[res.ID]; exists {
		return domain.ErrDuplicate
	}
	if payment != nil && r.m.paymentExistsLocked(payment) {
		return domain.ErrDuplicate
	}
	now := r.m.now()
	res.CreatedAt = now
	res.UpdatedAt = now
	r.m.reservations[res.ID] = *res
	if payment != nil {
		r.m.appendPaymentLocked(payment)
	}
	return nil
}

type memoryServices struct{ m *MemoryStore }

func (r *memoryServices) GetByID(_ context.Context, id string) (*domain.ServiceListing, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()

	svc, ok := r.m.services[id]
	if !ok {
		return nil, domain.NewNotFoundError("service", id)
	}
	return &svc, nil
}

type memoryWebhookEvents struct{ m *MemoryStore }

func (r *memoryWebhookEvents) Begin(_ context.Context, ev *domain.WebhookEvent) (*domain.WebhookEvent, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()

	now := r.m.now()
	stored, ok := r.m.events[ev.ExternalID]
	if !ok {
		stored = *ev
		stored.Status = domain.WebhookEventStatusPending
		stored.CreatedAt = now
	}
	stored.AttemptCount++
	stored.UpdatedAt = now
	r.m.events[ev.ExternalID] = stored
	return &stored, nil
}

func (r *memoryWebhookEvents) MarkProcessed(_ context.Context, externalID string) error {
	return r.mark(externalID, domain.WebhookEventStatusProcessed, "")
}

func (r *memoryWebhookEvents) MarkFailed(_ context.Context, externalID, reason string) error {
	return r.mark(externalID, domain.WebhookEventStatusFailed, reason)
}

func (r *memoryWebhookEvents) mark(externalID string, status domain.WebhookEventStatus, reason string) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()

	ev, ok := r.m.events[externalID]
	if !ok {
		return domain.NewNotFoundError("webhook event", externalID)
	}
	now := r.m.now()
	ev.Status = status
	ev.ErrorMessage = reason
	ev.UpdatedAt = now
	if status == domain.WebhookEventStatusProcessed {
		ev.ProcessedAt = &now
	}
	r.m.events[externalID] = ev
	return nil
}

type memoryOrders struct{ m *MemoryStore }

func (r *memoryOrders) Create(_ context.Context, orders []domain.Order, clearCartOf string) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()

	for _, o := range orders {
		for _, existing := range r.m.orders {
			if existing.ID == o.ID {
				return domain.ErrDuplicate
			}
			if o.StripeSessionID != nil && existing.StripeSessionID != nil &&
				*existing.StripeSessionID == *o.StripeSessionID && existing.SellerID == o.SellerID {
				return domain.ErrDuplicate
			}
		}
	}
	now := r.m.now()
	for i := range orders {
		orders[i].CreatedAt = now
		orders[i].UpdatedAt = now
		r.m.orders = append(r.m.orders, cloneOrder(orders[i]))
	}
	if clearCartOf != "" {
		r.m.removeCartLocked(func(it cartItem) bool { return it.clientID == clearCartOf })
	}
	return nil
}

func (r *memoryOrders) ListBySession(_ context.Context, sessionID string) ([]domain.Order, error) {
	return r.filter(func(o domain.Order) bool {
		return o.StripeSessionID != nil && *o.StripeSessionID == sessionID
	}, false), nil
}

func (r *memoryOrders) ConfirmPaid(_ context.Context, sessionID string, payments []domain.PaymentRecord) (*domain.OrderConfirmation, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()

	var idx []int
	for i, o := range r.m.orders {
		if o.StripeSessionID != nil && *o.StripeSessionID == sessionID {
			idx = append(idx, i)
		}
	}
	if len(idx) == 0 {
		return nil, domain.NewNotFoundError("orders for session", sessionID)
	}

	now := r.m.now()
	purchased := map[string]bool{}
	var clientID string
	for _, i := range idx {
		o := &r.m.orders[i]
		if o.Status != domain.OrderStatusAwaitingPayment {
			continue
		}
		o.Status = domain.OrderStatusPending
		o.UpdatedAt = now
		clientID = o.ClientID
		for _, it := range o.Items {
			purchased[it.ProductID] = true
		}
	}

	result := &domain.OrderConfirmation{}
	for i := range payments {
		if r.m.appendPaymentLocked(&payments[i]) {
			result.Payments = append(result.Payments, payments[i])
		}
	}
	if len(purchased) > 0 {
		r.m.removeCartLocked(func(it cartItem) bool { return it.clientID == clientID && purchased[it.productID] })
	}
	for _, i := range idx {
		result.Orders = append(result.Orders, cloneOrder(r.m.orders[i]))
	}
	return result, nil
}

func (r *memoryOrders) ListByClient(_ context.Context, clientID string) ([]domain.Order, error) {
	return r.filter(func(o domain.Order) bool { return o.ClientID == clientID }, true), nil
}

func (r *memoryOrders) ListBySeller(_ context.Context, sellerID string) ([]domain.Order, error) {
	return r.filter(func(o domain.Order) bool {
		return o.SellerID == sellerID && o.Status != domain.OrderStatusAwaitingPayment
	}, true), nil
}

func (r *memoryOrders) filter(keep func(domain.Order) bool, newestFirst bool) []domain.Order {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()

	out := []domain.Order{}
	for _, o := range r.m.orders {
		if keep(o) {
			out = append(out, cloneOrder(o))
		}
	}
	if newestFirst {
		for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
			out[i], out[j] = out[j], out[i]
		}
	}
	return out
}

func cloneOrder(o domain.Order) domain.Order {
	o.Items = append([]domain.OrderItem(nil), o.Items...)
	return o
}

// removeCartLocked вызывается под m.mu.
func (m *MemoryStore) removeCartLocked(drop func(cartItem) bool) {
	kept := m.cart[:0]
	for _, it := range m.cart {
		if !drop(it) {
			kept = append(kept, it)
		}
	}
	m.cart = kept
}

type memoryCarts struct{ m *MemoryStore }

func (r *memoryCarts) ListByClient(_ context.Context, clientID string) ([]domain.CartLine, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()

	lines := []domain.CartLine{}
	for _, it := range r.m.cart {
		if it.clientID != clientID {
			continue
		}
		p, ok := r.m.products[it.productID]
		if !ok {
			continue
		}
		lines = append(lines, domain.CartLine{
			ID:                 it.id,
			ClientID:           it.clientID,
			ProductID:          it.productID,
			Quantity:           it.quantity,
			ProductName:        p.Name,
			ProductDescription: p.Description,
			UnitPrice:          p.Price,
			SellerID:           p.SellerID,
		})
	}
	return lines, nil
}
