package domain

import "time"

// ReservationStatus статус бронирования
type ReservationStatus string

const (
	ReservationStatusPending   ReservationStatus = "pending"
	ReservationStatusConfirmed ReservationStatus = "confirmed"
	ReservationStatusCancelled ReservationStatus = "cancelled"
	ReservationStatusCompleted ReservationStatus = "completed"
)

// ReservationPaymentMode способ оплаты бронирования
type ReservationPaymentMode string

const (
	ReservationPaymentOnline ReservationPaymentMode = "online"
	ReservationPaymentCash   ReservationPaymentMode = "cash"
)

// Reservation бронирование услуги клиентом.
type Reservation struct {
	ID          string                 `json:"id" db:"id"`
	ClientID    string                 `json:"client_id" db:"client_id"`
	ProviderID  string                 `json:"provider_id" db:"provider_id"`
	ServiceID   string                 `json:"service_id" db:"service_id"`
	Date        string                 `json:"date" db:"date"` // YYYY-MM-DD
	Time        string                 `json:"time" db:"time"` // HH:MM
	Status      ReservationStatus      `json:"status" db:"status"`
	PaymentMode ReservationPaymentMode `json:"payment_mode" db:"payment_mode"`
	CreatedAt   time.Time              `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time              `json:"updated_at" db:"updated_at"`
}

// ServiceListing услуга, которую оказывает провайдер.
type ServiceListing struct {
	ID          string  `json:"id" db:"id"`
	Name        string  `json:"name" db:"name"`
	Description string  `json:"description" db:"description"`
	BasePrice   float64 `json:"base_price" db:"base_price"`
	ProviderID  string  `json:"provider_id" db:"provider_id"`
}
