package repository

import (
	"context"
	"time"

	"github.com/Dhoini/marketplace-payments/internal/domain"
)

// SubscriptionRepository определяет методы для работы с хранилищем подписок.
//
// Статус подписки меняют только Activate, Cancel и ExpireDue. Каждый из них выполняется
// как одна транзакция и сериализуется по пользователю.
type SubscriptionRepository interface {
	// Create сохраняет новую подписку в хранилище.
	Create(ctx context.Context, sub *domain.Subscription) error

	// GetByID возвращает подписку по ее ID.
	GetByID(ctx context.Context, id string) (*domain.Subscription, error)

	// GetBySession ищет подписку пользователя по ID checkout-сессии.
	GetBySession(ctx context.Context, sessionID, userID string) (*domain.Subscription, error)

	// ListByUser все подписки пользователя, новые первыми.
	ListByUser(ctx context.Context, userID string) ([]domain.Subscription, error)

	// ListAll все подписки, новые первыми.
	ListAll(ctx context.Context) ([]domain.Subscription, error)

	// LatestActive активная подписка пользователя или ErrNotFound.
	LatestActive(ctx context.Context, userID string) (*domain.Subscription, error)

	// UpdateDetails меняет тариф, дату окончания или сумму pending-подписки.
	UpdateDetails(ctx context.Context, id string, changes domain.SubscriptionChanges) (*domain.Subscription, error)

	// Activate переводит подписку в active, остальные активные подписки пользователя в inactive
	// и добавляет запись об оплате с ID paymentID. Всё в одной транзакции.
	Activate(ctx context.Context, subscriptionID, paymentID string) (*domain.ActivationResult, error)

	// Cancel переводит активную подписку пользователя в cancelled.
	Cancel(ctx context.Context, userID string) (*domain.Subscription, error)

	// ExpireDue переводит в inactive активные подписки с end_date раньше now.
	ExpireDue(ctx context.Context, now time.Time) ([]domain.Subscription, error)
}

// PaymentRepository журнал платежей. Только добавление.
type PaymentRepository interface {
	// Append добавляет запись. false, если запись для этой подписки, бронирования, заказа
	// или сессии уже есть.
	Append(ctx context.Context, rec *domain.PaymentRecord) (bool, error)
	GetBySubscription(ctx context.Context, subscriptionID string) (*domain.PaymentRecord, error)
	ListByClient(ctx context.Context, clientID string) ([]domain.PaymentRecord, error)
	ListByProvider(ctx context.Context, providerID string) ([]domain.PaymentRecord, error)
}

// ReservationRepository бронирования, подтверждаемые оплатой.
type ReservationRepository interface {
	GetByID(ctx context.Context, id string) (*domain.Reservation, error)
	// GetBySession бронирование, оплаченное сессией sessionID. ErrNotFound, если его нет.
	GetBySession(ctx context.Context, sessionID string) (*domain.Reservation, error)
	// CreateConfirmed сохраняет бронирование и запись об оплате в одной транзакции.
	// ErrDuplicate и ничего не сохраняет, если сессия платежа уже есть в журнале.
	CreateConfirmed(ctx context.Context, r *domain.Reservation, payment *domain.PaymentRecord) error
}

// OrderRepository заказы маркетплейса.
type OrderRepository interface {
	// Create сохраняет заказы с позициями. Если clearCartOf не пуст, корзина этого клиента
	// очищается в той же транзакции.
	Create(ctx context.Context, orders []domain.Order, clearCartOf string) error

	// ListBySession заказы, оформленные одной checkout-сессией.
	ListBySession(ctx context.Context, sessionID string) ([]domain.Order, error)

	// ConfirmPaid переводит заказы сессии из awaiting_payment в pending, добавляет записи
	// об оплате и убирает купленные товары из корзины. Всё в одной транзакции, повторный
	// вызов ничего не меняет.
	ConfirmPaid(ctx context.Context, sessionID string, payments []domain.PaymentRecord) (*domain.OrderConfirmation, error)

	ListByClient(ctx context.Context, clientID string) ([]domain.Order, error)

	// ListBySeller заказы продавца без ожидающих оплаты.
	ListBySeller(ctx context.Context, sellerID string) ([]domain.Order, error)
}

// CartRepository корзина клиента (только чтение, очистка через OrderRepository).
type CartRepository interface {
	ListByClient(ctx context.Context, clientID string) ([]domain.CartLine, error)
}

// ServiceRepository каталог услуг (только чтение).
type ServiceRepository interface {
	GetByID(ctx context.Context, id string) (*domain.ServiceListing, error)
}

// WebhookEventRepository журнал входящих событий провайдера.
type WebhookEventRepository interface {
	// Begin регистрирует попытку обработки события. Возвращает текущее состояние записи.
	Begin(ctx context.Context, ev *domain.WebhookEvent) (*domain.WebhookEvent, error)
	MarkProcessed(ctx context.Context, externalID string) error
	MarkFailed(ctx context.Context, externalID, reason string) error
}
