package req

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/Dhoini/marketplace-payments/pkg/res"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// Decode декодирует JSON из io.ReadCloser в структуру типа T.
func Decode[T any](body io.ReadCloser) (T, error) {
	var payload T
	if body == nil {
		return payload, errors.New("empty request body")
	}
	if err := json.NewDecoder(body).Decode(&payload); err != nil {
		return payload, err
	}
	return payload, nil
}

// IsValid валидирует структуру типа T по тегам validate.
func IsValid[T any](payload T) error {
	return validate.Struct(payload)
}

// FieldErrors превращает ошибку валидатора в карту поле -> правило.
func FieldErrors(err error) map[string]string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return nil
	}
	out := make(map[string]string, len(verrs))
	for _, fe := range verrs {
		out[fe.Field()] = fe.Tag()
	}
	return out
}

// HandleBody декодирует и валидирует тело запроса. При ошибке сам пишет 422 и возвращает err.
func HandleBody[T any](w http.ResponseWriter, r *http.Request) (*T, error) {
	body, err := Decode[T](r.Body)
	if err != nil {
		res.Error(w, "Invalid request body", http.StatusUnprocessableEntity, nil)
		return nil, err
	}
	if err := IsValid(body); err != nil {
		res.Error(w, "Invalid request data", http.StatusUnprocessableEntity, FieldErrors(err))
		return nil, err
	}
	return &body, nil
}
