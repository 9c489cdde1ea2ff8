package domain

import (
	"errors"
	"fmt"
)

// Application errors
var (
	// ErrNotFound запись не найдена
	ErrNotFound = errors.New("record not found")

	// ErrDuplicate дубликат записи
	ErrDuplicate = errors.New("duplicate record")

	// ErrInvalidInput неверные входные данные
	ErrInvalidInput = errors.New("invalid input data")

	// ErrForbidden действие над чужим ресурсом
	ErrForbidden = errors.New("forbidden")

	// ErrInvalidState подписка в конечном или неожиданном статусе. Повтор не поможет.
	ErrInvalidState = errors.New("invalid state")

	// ErrTransientStore временный сбой хранилища, можно повторить
	ErrTransientStore = errors.New("transient store error")

	// ErrUpstreamVerification провайдер не подтвердил подпись или статус
	ErrUpstreamVerification = errors.New("upstream verification failed")

	// ErrNotYetPaid провайдер еще не видит оплату
	ErrNotYetPaid = errors.New("payment not completed")

	// ErrVerificationExhausted проверка оплаты исчерпала все попытки
	ErrVerificationExhausted = errors.New("verification failed after multiple attempts")

	// ErrAmountMismatch оплаченная сумма не совпадает с суммой записи
	ErrAmountMismatch = errors.New("paid amount does not match")
)

// NewAmountMismatchError сумма сессии sessionID в центах отличается от ожидаемой.
func NewAmountMismatchError(sessionID string, expected, paid int64) error {
	return fmt.Errorf("%w: session %s expected %d, paid %d", ErrAmountMismatch, sessionID, expected, paid)
}

// ContactSupportMessage текст для клиента, когда проверка оплаты исчерпала попытки.
const ContactSupportMessage = "Verification failed after multiple attempts. Please contact support."

// IsRetryable сообщает, имеет ли смысл повторить операцию, завершившуюся err.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var ext *ExternalServiceError
	if errors.As(err, &ext) {
		return ext.Retryable
	}
	return errors.Is(err, ErrNotYetPaid) ||
		errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrTransientStore)
}

// SubscriptionError представляет ошибку подписки
type SubscriptionError struct {
	Code           string
	Message        string
	SubscriptionID string
	StatusCode     int
	OriginalErr    error
}

// Error реализует интерфейс error
func (e *SubscriptionError) Error() string {
	if e.OriginalErr != nil {
		return fmt.Sprintf("subscription error [%s]: %s: %v (subscription_id: %s)", e.Code, e.Message, e.OriginalErr, e.SubscriptionID)
	}
	return fmt.Sprintf("subscription error [%s]: %s (subscription_id: %s)", e.Code, e.Message, e.SubscriptionID)
}

// Unwrap возвращает оригинальную ошибку
func (e *SubscriptionError) Unwrap() error {
	return e.OriginalErr
}

// NewInvalidStateError подписка не может быть активирована из статуса status.
func NewInvalidStateError(subscriptionID string, status SubscriptionStatus) *SubscriptionError {
	return &SubscriptionError{
		Code:           "invalid_state",
		Message:        fmt.Sprintf("subscription is %s", status),
		SubscriptionID: subscriptionID,
		StatusCode:     409,
		OriginalErr:    ErrInvalidState,
	}
}

// NewCheckoutStartedError для подписки уже выставлена сессия оплаты, условия зафиксированы.
func NewCheckoutStartedError(subscriptionID string) *SubscriptionError {
	return &SubscriptionError{
		Code:           "checkout_started",
		Message:        "checkout session already issued",
		SubscriptionID: subscriptionID,
		StatusCode:     409,
		OriginalErr:    ErrInvalidState,
	}
}

// ValidationError представляет ошибку валидации
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationErrors представляет набор ошибок валидации
type ValidationErrors []ValidationError

// Error реализует интерфейс error
func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return "validation failed"
	}
	if len(e) == 1 {
		return fmt.Sprintf("validation failed: %s - %s", e[0].Field, e[0].Message)
	}
	return fmt.Sprintf("validation failed: %d errors", len(e))
}

// Is позволяет проверять ValidationErrors через errors.Is(err, ErrInvalidInput).
func (e ValidationErrors) Is(target error) bool {
	return target == ErrInvalidInput
}

// Add добавляет ошибку валидации
func (e *ValidationErrors) Add(field, message string) {
	*e = append(*e, ValidationError{Field: field, Message: message})
}

// HasErrors проверяет наличие ошибок
func (e ValidationErrors) HasErrors() bool {
	return len(e) > 0
}

// ExternalServiceError представляет ошибку внешнего сервиса
type ExternalServiceError struct {
	Service     string
	Code        string
	Message     string
	StatusCode  int
	Retryable   bool
	OriginalErr error
}

// Error реализует интерфейс error
func (e *ExternalServiceError) Error() string {
	if e.OriginalErr != nil {
		return fmt.Sprintf("%s service error [%s]: %s: %v", e.Service, e.Code, e.Message, e.OriginalErr)
	}
	return fmt.Sprintf("%s service error [%s]: %s", e.Service, e.Code, e.Message)
}

// Unwrap возвращает оригинальную ошибку
func (e *ExternalServiceError) Unwrap() error {
	return e.OriginalErr
}

// Is: любая ошибка провайдера считается ошибкой проверки на стороне провайдера.
func (e *ExternalServiceError) Is(target error) bool {
	return target == ErrUpstreamVerification
}

// NotFoundError представляет ошибку "не найдено"
type NotFoundError struct {
	Entity string
	ID     string
}

// Error реализует интерфейс error
func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s with ID %s not found", e.Entity, e.ID)
}

// Is проверяет, является ли ошибка ошибкой типа "не найдено"
func (e *NotFoundError) Is(target error) bool {
	return target == ErrNotFound
}

// NewNotFoundError создает новую ошибку "не найдено"
func NewNotFoundError(entity, id string) *NotFoundError {
	return &NotFoundError{
		Entity: entity,
		ID:     id,
	}
}
