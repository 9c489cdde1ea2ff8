package repository

import (
	"context"
	"testing"

	"github.com/Dhoini/marketplace-payments/internal/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStore_ActivateIsAtomicAndIdempotent(t *testing.T) {
	store := NewMemoryStore()
	subs := store.Subscriptions()
	ctx := context.Background()
	require.NoError(t, subs.Create(ctx, pendingSub("s1", "u1", "cs_1")))

	first, err := subs.Activate(ctx, "s1", "p1")
	require.NoError(t, err)
	assert.True(t, first.Activated)
	require.NotNil(t, first.Payment)
	assert.Equal(t, 20.0, first.Payment.Amount)

	second, err := subs.Activate(ctx, "s1", "p2")
	require.NoError(t, err)
	assert.False(t, second.Activated)
	assert.Nil(t, second.Payment)

	rec, err := store.Payments().GetBySubscription(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, "p1", rec.ID)
}

func TestMemoryStore_SessionIsUnique(t *testing.T) {
	subs := NewMemoryStore().Subscriptions()
	ctx := context.Background()
	require.NoError(t, subs.Create(ctx, pendingSub("s1", "u1", "cs_1")))
	require.ErrorIs(t, subs.Create(ctx, pendingSub("s2", "u1", "cs_1")), domain.ErrDuplicate)
}

func TestMemoryStore_PaymentLogRejectsSecondRecordForSubscription(t *testing.T) {
	payments := NewMemoryStore().Payments()
	ctx := context.Background()
	subID := "s1"

	ok, err := payments.Append(ctx, &domain.PaymentRecord{ID: "p1", Amount: 20, Mode: domain.PaymentModeStripe, SubscriptionID: &subID, ClientID: "u1"})
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = payments.Append(ctx, &domain.PaymentRecord{ID: "p2", Amount: 20, Mode: domain.PaymentModeStripe, SubscriptionID: &subID, ClientID: "u1"})
	require.NoError(t, err)
	assert.False(t, ok)

	list, err := payments.ListByClient(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, domain.PaymentStatusPaid, list[0].Status)
}

func TestMemoryStore_UpdateDetailsOnlyWhilePending(t *testing.T) {
	subs := NewMemoryStore().Subscriptions()
	ctx := context.Background()
	draft := pendingSub("s1", "u1", "")
	draft.StripeSessionID = nil
	require.NoError(t, subs.Create(ctx, draft))
	require.NoError(t, subs.Create(ctx, pendingSub("s2", "u1", "cs_2")))

	amount := 35.0
	updated, err := subs.UpdateDetails(ctx, "s1", domain.SubscriptionChanges{Amount: &amount})
	require.NoError(t, err)
	assert.Equal(t, 35.0, updated.Amount)

	// сессия уже выставлена на 20.00
	_, err = subs.UpdateDetails(ctx, "s2", domain.SubscriptionChanges{Amount: &amount})
	require.ErrorIs(t, err, domain.ErrInvalidState)
	sub, err := subs.GetByID(ctx, "s2")
	require.NoError(t, err)
	assert.Equal(t, 20.0, sub.Amount)

	_, err = subs.Activate(ctx, "s2", "p1")
	require.NoError(t, err)
	_, err = subs.UpdateDetails(ctx, "s2", domain.SubscriptionChanges{Amount: &amount})
	require.ErrorIs(t, err, domain.ErrInvalidState)
}

func TestMemoryStore_WebhookEventAttempts(t *testing.T) {
	events := NewMemoryStore().WebhookEvents()
	ctx := context.Background()
	ev := &domain.WebhookEvent{ID: "w1", ExternalID: "evt_1", Type: domain.EventCheckoutSessionCompleted}

	stored, err := events.Begin(ctx, ev)
	require.NoError(t, err)
	assert.Equal(t, 1, stored.AttemptCount)
	assert.Equal(t, domain.WebhookEventStatusPending, stored.Status)

	require.NoError(t, events.MarkProcessed(ctx, "evt_1"))
	stored, err = events.Begin(ctx, ev)
	require.NoError(t, err)
	assert.Equal(t, 2, stored.AttemptCount)
	assert.Equal(t, domain.WebhookEventStatusProcessed, stored.Status)
	assert.NotNil(t, stored.ProcessedAt)
}

func TestMemoryStore_PaymentLogIsKeyedBySession(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	res := &domain.Reservation{ID: "r1", ClientID: "c1", ProviderID: "p1", ServiceID: "svc1", Date: "2026-11-02", Time: "14:30"}
	require.NoError(t, store.Reservations().CreateConfirmed(ctx, res,
		domain.NewReservationPayment("pay1", res, 45.5, domain.PaymentModeStripe, "cs_r1")))

	// другое бронирование с той же сессией не сохраняется
	other := &domain.Reservation{ID: "r2", ClientID: "c1", ProviderID: "p1", ServiceID: "svc1", Date: "2026-11-02", Time: "14:30"}
	err := store.Reservations().CreateConfirmed(ctx, other,
		domain.NewReservationPayment("pay2", other, 45.5, domain.PaymentModeStripe, "cs_r1"))
	require.ErrorIs(t, err, domain.ErrDuplicate)
	_, err = store.Reservations().GetByID(ctx, "r2")
	require.ErrorIs(t, err, domain.ErrNotFound)

	found, err := store.Reservations().GetBySession(ctx, "cs_r1")
	require.NoError(t, err)
	assert.Equal(t, "r1", found.ID)
	_, err = store.Reservations().GetBySession(ctx, "cs_other")
	require.ErrorIs(t, err, domain.ErrNotFound)

	// одна сессия маркетплейса оплачивает несколько заказов
	session := "cs_m1"
	o1, o2 := "o1", "o2"
	for _, orderID := range []*string{&o1, &o2} {
		ok, err := store.Payments().Append(ctx, &domain.PaymentRecord{ID: "pay-" + *orderID, Amount: 10, Mode: domain.PaymentModeStripe,
			OrderID: orderID, ClientID: "c1", StripeSessionID: &session})
		require.NoError(t, err)
		assert.True(t, ok)
	}
	ok, err := store.Payments().Append(ctx, &domain.PaymentRecord{ID: "pay-x", Amount: 10, Mode: domain.PaymentModeStripe,
		OrderID: &o1, ClientID: "c1", StripeSessionID: &session})
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Len(t, store.payments, 3)
}

func TestMemoryStore_ConfirmOrdersOnce(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	store.PutProduct(domain.Product{ID: "mug", Name: "Mug", Price: 12.5, SellerID: "s1"})
	store.PutProduct(domain.Product{ID: "tea", Name: "Tea", Price: 4.99, SellerID: "s2"})
	store.AddToCart("c1", "mug", 2)
	store.AddToCart("c1", "tea", 1)

	session := "cs_m1"
	orders := []domain.Order{
		{ID: "o1", ClientID: "c1", SellerID: "s1", Total: 25, Status: domain.OrderStatusAwaitingPayment,
			PaymentMode: domain.OrderPaymentOnline, StripeSessionID: &session,
			Items: []domain.OrderItem{{ID: "i1", OrderID: "o1", ProductID: "mug", Quantity: 2, UnitPrice: 12.5}}},
	}
	require.NoError(t, store.Orders().Create(ctx, orders, ""))
	require.ErrorIs(t, store.Orders().Create(ctx, []domain.Order{{ID: "o9", SellerID: "s1", StripeSessionID: &session}}, ""), domain.ErrDuplicate)

	seller, err := store.Orders().ListBySeller(ctx, "s1")
	require.NoError(t, err)
	assert.Empty(t, seller)

	payments := []domain.PaymentRecord{*domain.NewOrderPayment("pay1", &orders[0])}
	first, err := store.Orders().ConfirmPaid(ctx, session, payments)
	require.NoError(t, err)
	require.Len(t, first.Orders, 1)
	assert.Equal(t, domain.OrderStatusPending, first.Orders[0].Status)
	assert.Len(t, first.Payments, 1)

	// куплен только товар первого продавца
	cart, err := store.Carts().ListByClient(ctx, "c1")
	require.NoError(t, err)
	require.Len(t, cart, 1)
	assert.Equal(t, "tea", cart[0].ProductID)

	second, err := store.Orders().ConfirmPaid(ctx, session, []domain.PaymentRecord{*domain.NewOrderPayment("pay2", &orders[0])})
	require.NoError(t, err)
	assert.Empty(t, second.Payments)

	seller, err = store.Orders().ListBySeller(ctx, "s1")
	require.NoError(t, err)
	assert.Len(t, seller, 1)

	_, err = store.Orders().ConfirmPaid(ctx, "cs_unknown", nil)
	require.ErrorIs(t, err, domain.ErrNotFound)
}
