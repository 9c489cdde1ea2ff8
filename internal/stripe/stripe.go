package stripe

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"

	"github.com/Dhoini/marketplace-payments/internal/domain"
	"github.com/Dhoini/marketplace-payments/pkg/logger"

	"github.com/stripe/stripe-go/v78"
	"github.com/stripe/stripe-go/v78/client"
	"github.com/stripe/stripe-go/v78/webhook"
)

const serviceName = "stripe"

// LineItem позиция сессии. UnitAmount в основных единицах валюты.
type LineItem struct {
	Name        string
	Description string
	UnitAmount  float64
	Quantity    int64
}

// CheckoutRequest параметры hosted Checkout сессии.
// Если LineItems пуст, сессия состоит из одной позиции ProductName на Amount.
type CheckoutRequest struct {
	ProductName string
	Description string
	Amount      float64
	LineItems   []LineItem
	Currency    string
	SuccessURL  string
	CancelURL   string
	Metadata    map[string]string
}

// Items позиции сессии.
func (r CheckoutRequest) Items() []LineItem {
	if len(r.LineItems) > 0 {
		return r.LineItems
	}
	return []LineItem{{Name: r.ProductName, Description: r.Description, UnitAmount: r.Amount, Quantity: 1}}
}

// TotalMinorUnits сумма сессии в центах, как ее посчитает провайдер.
func (r CheckoutRequest) TotalMinorUnits() int64 {
	var total int64
	for _, it := range r.Items() {
		total += ToMinorUnits(it.UnitAmount) * it.Quantity
	}
	return total
}

// Gateway определяет методы для взаимодействия с платежным провайдером.
type Gateway interface {
	// CreateCheckoutSession создает сессию оплаты и возвращает ее ID и URL.
	CreateCheckoutSession(ctx context.Context, req CheckoutRequest) (*domain.CheckoutSession, error)

	// RetrieveSession возвращает актуальный статус оплаты сессии.
	RetrieveSession(ctx context.Context, sessionID string) (*domain.CheckoutSession, error)

	// VerifyWebhook проверяет подпись и разбирает событие.
	VerifyWebhook(payload []byte, signatureHeader string) (*domain.ProviderEvent, error)
}

// stripeGateway реализует интерфейс Gateway.
type stripeGateway struct {
	client        *client.API
	webhookSecret string
	log           *logger.Logger
}

// NewStripeGateway создает новый экземпляр клиента Stripe.
func NewStripeGateway(apiKey, webhookSecret string, log *logger.Logger) Gateway {
	sc := &client.API{}
	sc.Init(apiKey, nil)
	return &stripeGateway{
		client:        sc,
		webhookSecret: webhookSecret,
		log:           log,
	}
}

// ToMinorUnits переводит сумму в центы с округлением до ближайшего.
func ToMinorUnits(amount float64) int64 {
	return int64(math.Round(amount * 100))
}

func (g *stripeGateway) CreateCheckoutSession(ctx context.Context, req CheckoutRequest) (*domain.CheckoutSession, error) {
	currency := req.Currency
	if currency == "" {
		currency = string(stripe.CurrencyUSD)
	}

	params := &stripe.CheckoutSessionParams{
		Mode:               stripe.String(string(stripe.CheckoutSessionModePayment)),
		PaymentMethodTypes: stripe.StringSlice([]string{"card"}),
		SuccessURL:         stripe.String(req.SuccessURL),
		CancelURL:          stripe.String(req.CancelURL),
		LineItems:          lineItemParams(req.Items(), currency),
	}
	params.Context = ctx
	for k, v := range req.Metadata {
		params.AddMetadata(k, v)
	}

	s, err := g.client.CheckoutSessions.New(params)
	if err != nil {
		logStripeError(g.log, "CreateCheckoutSession", err)
		return nil, mapStripeError("create checkout session", err)
	}

	g.log.Infow("Stripe checkout session created", "sessionID", s.ID, "purpose", req.Metadata["purpose"])
	return toCheckoutSession(s), nil
}

func lineItemParams(items []LineItem, currency string) []*stripe.CheckoutSessionLineItemParams {
	out := make([]*stripe.CheckoutSessionLineItemParams, 0, len(items))
	for _, it := range items {
		product := &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
			Name: stripe.String(it.Name),
		}
		if it.Description != "" {
			product.Description = stripe.String(it.Description)
		}
		out = append(out, &stripe.CheckoutSessionLineItemParams{
			PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
				Currency:    stripe.String(currency),
				ProductData: product,
				UnitAmount:  stripe.Int64(ToMinorUnits(it.UnitAmount)),
			},
			Quantity: stripe.Int64(it.Quantity),
		})
	}
	return out
}

func (g *stripeGateway) RetrieveSession(ctx context.Context, sessionID string) (*domain.CheckoutSession, error) {
	params := &stripe.CheckoutSessionParams{}
	params.Context = ctx

	s, err := g.client.CheckoutSessions.Get(sessionID, params)
	if err != nil {
		logStripeError(g.log, "RetrieveSession", err)
		return nil, mapStripeError("retrieve checkout session", err)
	}

	g.log.Debugw("Stripe checkout session retrieved", "sessionID", s.ID, "paymentStatus", string(s.PaymentStatus))
	return toCheckoutSession(s), nil
}

func (g *stripeGateway) VerifyWebhook(payload []byte, signatureHeader string) (*domain.ProviderEvent, error) {
	return ParseWebhook(payload, signatureHeader, g.webhookSecret)
}

// ParseWebhook проверяет подпись локально по секрету и разбирает событие.
// Для checkout.session.completed заполняется Session.
func ParseWebhook(payload []byte, signatureHeader, secret string) (*domain.ProviderEvent, error) {
	event, err := webhook.ConstructEventWithOptions(payload, signatureHeader, secret,
		webhook.ConstructEventOptions{IgnoreAPIVersionMismatch: true})
	if err != nil {
		return nil, &domain.ExternalServiceError{
			Service:     serviceName,
			Code:        "signature_verification_failed",
			Message:     err.Error(),
			StatusCode:  http.StatusBadRequest,
			OriginalErr: err,
		}
	}

	ev := &domain.ProviderEvent{ID: event.ID, Type: string(event.Type)}
	if event.Type == stripe.EventTypeCheckoutSessionCompleted {
		var s stripe.CheckoutSession
		if err := json.Unmarshal(event.Data.Raw, &s); err != nil {
			return nil, fmt.Errorf("stripe: failed to parse checkout session payload: %w", err)
		}
		ev.Session = toCheckoutSession(&s)
	}
	return ev, nil
}

func toCheckoutSession(s *stripe.CheckoutSession) *domain.CheckoutSession {
	md := make(map[string]string, len(s.Metadata))
	for k, v := range s.Metadata {
		md[k] = v
	}
	return &domain.CheckoutSession{
		ID:            s.ID,
		URL:           s.URL,
		PaymentStatus: string(s.PaymentStatus),
		AmountTotal:   s.AmountTotal,
		Metadata:      md,
	}
}

// mapStripeError 429, 5xx и сетевые ошибки повторяемы, остальное нет.
func mapStripeError(op string, err error) error {
	var stripeErr *stripe.Error
	if !errors.As(err, &stripeErr) {
		return &domain.ExternalServiceError{
			Service:     serviceName,
			Code:        "connection_error",
			Message:     fmt.Sprintf("%s: %v", op, err),
			StatusCode:  http.StatusBadGateway,
			Retryable:   true,
			OriginalErr: err,
		}
	}

	retryable := stripeErr.HTTPStatusCode == http.StatusTooManyRequests ||
		stripeErr.HTTPStatusCode >= http.StatusInternalServerError ||
		stripeErr.Type == stripe.ErrorTypeAPI
	return &domain.ExternalServiceError{
		Service:     serviceName,
		Code:        string(stripeErr.Code),
		Message:     fmt.Sprintf("%s: %s", op, stripeErr.Msg),
		StatusCode:  stripeErr.HTTPStatusCode,
		Retryable:   retryable,
		OriginalErr: err,
	}
}

// logStripeError - вспомогательная функция для логирования деталей ошибки Stripe.
func logStripeError(log *logger.Logger, operation string, err error) {
	var stripeErr *stripe.Error
	if errors.As(err, &stripeErr) {
		log.Errorw("Stripe API error",
			"operation", operation,
			"type", string(stripeErr.Type),
			"code", string(stripeErr.Code),
			"param", stripeErr.Param,
			"message", stripeErr.Msg,
			"request_id", stripeErr.RequestID,
			"status_code", stripeErr.HTTPStatusCode,
		)
	} else {
		log.Errorw("Non-Stripe error during Stripe operation",
			"operation", operation,
			"error", err,
		)
	}
}
