package domain

import (
	"time"
)

// SubscriptionStatus статус подписки
type SubscriptionStatus string

const (
	SubscriptionStatusPending   SubscriptionStatus = "pending"
	SubscriptionStatusActive    SubscriptionStatus = "active"
	SubscriptionStatusInactive  SubscriptionStatus = "inactive"
	SubscriptionStatusCancelled SubscriptionStatus = "cancelled"
)

// IsTerminal true для статусов, из которых нет переходов.
func (s SubscriptionStatus) IsTerminal() bool {
	return s == SubscriptionStatusInactive || s == SubscriptionStatusCancelled
}

// Plan тариф подписки
type Plan string

const (
	PlanMonthly Plan = "monthly"
	PlanAnnual  Plan = "annual"
	PlanPremium Plan = "premium"
)

// Valid проверяет, что тариф из допустимого набора.
func (p Plan) Valid() bool {
	switch p {
	case PlanMonthly, PlanAnnual, PlanPremium:
		return true
	}
	return false
}

// Subscription представляет собой модель подписки
type Subscription struct {
	ID              string             `json:"id" db:"id"`
	UserID          string             `json:"user_id" db:"user_id"`
	Plan            Plan               `json:"plan" db:"plan"`
	StartDate       time.Time          `json:"start_date" db:"start_date"`
	EndDate         time.Time          `json:"end_date" db:"end_date"`
	Amount          float64            `json:"amount" db:"amount"`
	Status          SubscriptionStatus `json:"status" db:"status"`
	StripeSessionID *string            `json:"stripe_session_id,omitempty" db:"stripe_session_id"`
	CreatedAt       time.Time          `json:"created_at" db:"created_at"`
	UpdatedAt       time.Time          `json:"updated_at" db:"updated_at"`
}

// SessionID возвращает id сессии провайдера или пустую строку.
func (s *Subscription) SessionID() string {
	if s.StripeSessionID == nil {
		return ""
	}
	return *s.StripeSessionID
}

// SubscriptionChanges изменяемые пользователем поля pending-подписки.
// Статус через этот путь не меняется.
type SubscriptionChanges struct {
	Plan    *Plan
	EndDate *time.Time
	Amount  *float64
}

// Empty true, если нечего менять.
func (c SubscriptionChanges) Empty() bool {
	return c.Plan == nil && c.EndDate == nil && c.Amount == nil
}

// ActivationResult итог транзакции активации.
type ActivationResult struct {
	Subscription *Subscription
	// Activated true только для вызова, который выполнил переход pending -> active.
	Activated bool
	// Superseded подписки, переведенные в inactive этой активацией.
	Superseded []string
	// Payment запись, добавленная в той же транзакции (nil, если перехода не было).
	Payment *PaymentRecord
}
