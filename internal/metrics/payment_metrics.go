package metrics

import (
	"strconv"
	"time"

	"github.com/Dhoini/marketplace-payments/pkg/logger"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Источники активации.
const (
	SourceWebhook  = "webhook"
	SourceVerify   = "verify"
	SourceFinalize = "finalize"
)

// Исходы активации.
const (
	OutcomeActivated    = "activated"
	OutcomeAlreadyDone  = "already_active"
	OutcomeInvalidState = "invalid_state"
	OutcomeNotFound     = "not_found"
	OutcomeMismatch     = "amount_mismatch"
	OutcomeError        = "error"
)

// PaymentMetrics интерфейс для метрик платежей и подписок
type PaymentMetrics interface {
	IncActivation(source, outcome string)
	ObserveVerification(attempts int, result string)
	IncWebhookEvent(eventType, result string)
	ObservePaymentRecorded(kind string, amount float64)
	IncSubscriptionTransition(status string, n int)
	ObserveHTTPRequest(method, route string, status int, elapsed time.Duration)
}

type paymentMetrics struct {
	log                  *logger.Logger
	activations          *prometheus.CounterVec
	verificationAttempts *prometheus.HistogramVec
	webhookEvents        *prometheus.CounterVec
	paymentsRecorded     *prometheus.CounterVec
	paymentsAmount       *prometheus.HistogramVec
	transitions          *prometheus.CounterVec
	httpRequests         *prometheus.CounterVec
	httpDuration         *prometheus.HistogramVec
}

// NewPaymentMetrics создает новые метрики платежей
func NewPaymentMetrics(registry *prometheus.Registry, log *logger.Logger) PaymentMetrics {
	factory := promauto.With(registry)

	return &paymentMetrics{
		log: log,
		activations: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "subscription_activations_total",
				Help: "Activation attempts by source and outcome",
			},
			[]string{"source", "outcome"},
		),
		verificationAttempts: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "payment_verification_attempts",
				Help:    "Provider checks needed to finish a verification poll",
				Buckets: prometheus.LinearBuckets(1, 1, 10),
			},
			[]string{"result"},
		),
		webhookEvents: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "webhook_events_total",
				Help: "Provider webhook events by type and processing result",
			},
			[]string{"type", "result"},
		),
		paymentsRecorded: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "payments_recorded_total",
				Help: "The total number of appended payment records",
			},
			[]string{"kind"},
		),
		paymentsAmount: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "payments_amount",
				Help:    "Payment amounts distribution",
				Buckets: prometheus.ExponentialBuckets(10, 10, 5), // 10, 100, 1000, 10000, 100000
			},
			[]string{"kind"},
		),
		transitions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "subscription_transitions_total",
				Help: "Subscriptions moved out of active by target status",
			},
			[]string{"status"},
		),
		httpRequests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "HTTP requests by method, route and status",
			},
			[]string{"method", "route", "status"},
		),
		httpDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "HTTP request latency",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),
	}
}

// IncActivation считает вызовы движка активации
func (m *paymentMetrics) IncActivation(source, outcome string) {
	m.activations.WithLabelValues(source, outcome).Inc()
}

// ObserveVerification записывает число попыток опроса провайдера
func (m *paymentMetrics) ObserveVerification(attempts int, result string) {
	m.verificationAttempts.WithLabelValues(result).Observe(float64(attempts))
}

func (m *paymentMetrics) IncWebhookEvent(eventType, result string) {
	m.webhookEvents.WithLabelValues(eventType, result).Inc()
}

// ObservePaymentRecorded учитывает новую запись в журнале платежей
func (m *paymentMetrics) ObservePaymentRecorded(kind string, amount float64) {
	m.paymentsRecorded.WithLabelValues(kind).Inc()
	m.paymentsAmount.WithLabelValues(kind).Observe(amount)
}

func (m *paymentMetrics) IncSubscriptionTransition(status string, n int) {
	if n <= 0 {
		return
	}
	m.transitions.WithLabelValues(status).Add(float64(n))
}

func (m *paymentMetrics) ObserveHTTPRequest(method, route string, status int, elapsed time.Duration) {
	m.httpRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.httpDuration.WithLabelValues(method, route).Observe(elapsed.Seconds())
}
