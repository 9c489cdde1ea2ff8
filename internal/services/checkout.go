package services

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/Dhoini/marketplace-payments/internal/domain"
	"github.com/Dhoini/marketplace-payments/internal/repository"
	"github.com/Dhoini/marketplace-payments/internal/stripe"
	"github.com/Dhoini/marketplace-payments/pkg/logger"

	"github.com/google/uuid"
)

// Ключи metadata checkout-сессии.
const (
	MetaPurpose    = "purpose"
	MetaUserID     = "user_id"
	MetaPlan       = "plan"
	MetaAmount     = "amount"
	MetaEndDate    = "end_date"
	MetaClientID   = "client_id"
	MetaServiceID  = "service_id"
	MetaDate       = "date"
	MetaTime       = "time"
	MetaProviderID = "provider_id"
)

// CreateSubscriptionCheckoutInput данные для оплаты подписки
type CreateSubscriptionCheckoutInput struct {
	UserID  string
	Plan    domain.Plan
	Amount  float64
	EndDate time.Time
}

// CheckoutOutput то, что клиент получает для перехода на страницу оплаты
type CheckoutOutput struct {
	ID  string `json:"id"`
	URL string `json:"url"`
}

// CheckoutService создает сессии оплаты подписок
type CheckoutService struct {
	gateway   stripe.Gateway
	subs      repository.SubscriptionRepository
	clientURL string
	currency  string
	log       *logger.Logger
	now       func() time.Time
}

// NewCheckoutService конструктор сервиса
func NewCheckoutService(gateway stripe.Gateway, subs repository.SubscriptionRepository, clientURL, currency string, log *logger.Logger) *CheckoutService {
	return &CheckoutService{
		gateway:   gateway,
		subs:      subs,
		clientURL: strings.TrimRight(clientURL, "/"),
		currency:  currency,
		log:       log,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

func (s *CheckoutService) validate(input CreateSubscriptionCheckoutInput) error {
	var errs domain.ValidationErrors
	if input.UserID == "" {
		errs.Add("user_id", "is required")
	}
	if !input.Plan.Valid() {
		errs.Add("plan", "must be one of monthly, annual, premium")
	}
	if input.Amount <= 0 {
		errs.Add("amount", "must be greater than zero")
	}
	if !input.EndDate.After(s.now()) {
		errs.Add("end_date", "must be in the future")
	}
	if errs.HasErrors() {
		return errs
	}
	return nil
}

// CreateSubscriptionCheckout создает сессию у провайдера и pending-подписку, связанную с ней.
func (s *CheckoutService) CreateSubscriptionCheckout(ctx context.Context, input CreateSubscriptionCheckoutInput) (*CheckoutOutput, error) {
	if err := s.validate(input); err != nil {
		s.log.Warnw("Invalid subscription checkout request", "userID", input.UserID, "error", err)
		return nil, err
	}

	session, err := s.gateway.CreateCheckoutSession(ctx, stripe.CheckoutRequest{
		ProductName: fmt.Sprintf("Subscription %s", input.Plan),
		Description: fmt.Sprintf("%s plan until %s", input.Plan, input.EndDate.Format(time.DateOnly)),
		Amount:      input.Amount,
		Currency:    s.currency,
		SuccessURL:  s.clientURL + "/subscription-success?session_id={CHECKOUT_SESSION_ID}",
		CancelURL:   s.clientURL + "/subscription-cancel",
		Metadata: map[string]string{
			MetaPurpose: domain.PurposeSubscription,
			MetaUserID:  input.UserID,
			MetaPlan:    string(input.Plan),
			MetaAmount:  strconv.FormatFloat(input.Amount, 'f', -1, 64),
			MetaEndDate: input.EndDate.Format(time.RFC3339),
		},
	})
	if err != nil {
		return nil, err
	}

	sessionID := session.ID
	sub := &domain.Subscription{
		ID:              uuid.NewString(),
		UserID:          input.UserID,
		Plan:            input.Plan,
		StartDate:       s.now(),
		EndDate:         input.EndDate,
		Amount:          input.Amount,
		Status:          domain.SubscriptionStatusPending,
		StripeSessionID: &sessionID,
	}
	if err := s.subs.Create(ctx, sub); err != nil {
		s.log.Errorw("Failed to store pending subscription", "error", err, "sessionID", sessionID, "userID", input.UserID)
		return nil, err
	}

	s.log.Infow("Pending subscription created", "subscriptionID", sub.ID, "sessionID", sessionID, "plan", string(input.Plan))
	return &CheckoutOutput{ID: session.ID, URL: session.URL}, nil
}
