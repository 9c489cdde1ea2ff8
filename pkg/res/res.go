package res

import (
	"encoding/json"
	"net/http"
)

// ErrorResponse представляет формат JSON-ответа для ошибок.
type ErrorResponse struct {
	Error     string `json:"error"`                // Сообщение об ошибке (для пользователя)
	ErrorCode int    `json:"error_code,omitempty"` // Код ошибки (для программной обработки)
	Details   any    `json:"details,omitempty"`    // Детали ошибки (например, ошибки валидации)
	DebugInfo string `json:"debug_info,omitempty"` // Только в development
}

// WebhookAck тело ответа на принятый вебхук.
type WebhookAck struct {
	Received bool `json:"received"`
}

// JsonResponse отправляет JSON-ответ с заданным статусом.
func JsonResponse(w http.ResponseWriter, data any, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// Error короткая форма для ответа с ошибкой.
func Error(w http.ResponseWriter, message string, status int, details any) {
	JsonResponse(w, ErrorResponse{Error: message, ErrorCode: status, Details: details}, status)
}
