package domain

import (
	"time"
)

// Типы событий провайдера, которые обрабатывает сервис.
const (
	EventCheckoutSessionCompleted = "checkout.session.completed"
)

// Назначение checkout-сессии, передается в metadata.purpose.
const (
	PurposeSubscription = "subscription"
	PurposeReservation  = "reservation"
	PurposeMarketplace  = "marketplace"
)

// WebhookEventStatus статус обработки события
type WebhookEventStatus string

const (
	WebhookEventStatusPending   WebhookEventStatus = "pending"
	WebhookEventStatusProcessed WebhookEventStatus = "processed"
	WebhookEventStatusFailed    WebhookEventStatus = "failed"
)

// WebhookEvent представляет событие вебхука
type WebhookEvent struct {
	ID           string             `json:"id" db:"id"`
	ExternalID   string             `json:"external_id" db:"external_id"` // ID события в платежной системе
	Type         string             `json:"type" db:"type"`
	Status       WebhookEventStatus `json:"status" db:"status"`
	ResourceID   string             `json:"resource_id" db:"resource_id"` // ID checkout-сессии
	AttemptCount int                `json:"attempt_count" db:"attempt_count"`
	ErrorMessage string             `json:"error_message,omitempty" db:"error_message"`
	ProcessedAt  *time.Time         `json:"processed_at,omitempty" db:"processed_at"`
	CreatedAt    time.Time          `json:"created_at" db:"created_at"`
	UpdatedAt    time.Time          `json:"updated_at" db:"updated_at"`
}

// CheckoutSession то, что сервису нужно знать о сессии провайдера.
type CheckoutSession struct {
	ID            string
	URL           string
	PaymentStatus string
	// AmountTotal в минимальных единицах валюты (центах).
	AmountTotal int64
	Metadata    map[string]string
}

// Paid true, если провайдер подтвердил оплату.
func (s *CheckoutSession) Paid() bool {
	return s.PaymentStatus == "paid"
}

// Amount сумма в основных единицах валюты.
func (s *CheckoutSession) Amount() float64 {
	return float64(s.AmountTotal) / 100
}

// ProviderEvent проверенное событие провайдера.
type ProviderEvent struct {
	ID      string
	Type    string
	Session *CheckoutSession
}
