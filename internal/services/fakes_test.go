package services

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/Dhoini/marketplace-payments/internal/domain"
	"github.com/Dhoini/marketplace-payments/internal/metrics"
	"github.com/Dhoini/marketplace-payments/internal/repository"
	"github.com/Dhoini/marketplace-payments/internal/stripe"
	"github.com/Dhoini/marketplace-payments/pkg/logger"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/require"
)

// testAmountTotal сумма сессии по умолчанию, соответствует подписке на 20.00.
const testAmountTotal = 2000

// fakeGateway провайдер в памяти. retrieve определяет ответ на n-й запрос сессии.
type fakeGateway struct {
	mu       sync.Mutex
	created  []stripe.CheckoutRequest
	calls    int
	retrieve func(call int, sessionID string) (*domain.CheckoutSession, error)
	createFn func(req stripe.CheckoutRequest) (*domain.CheckoutSession, error)
}

func (g *fakeGateway) CreateCheckoutSession(_ context.Context, req stripe.CheckoutRequest) (*domain.CheckoutSession, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.created = append(g.created, req)
	if g.createFn != nil {
		return g.createFn(req)
	}
	id := fmt.Sprintf("cs_test_%d", len(g.created))
	return &domain.CheckoutSession{ID: id, URL: "https://checkout.example/" + id, Metadata: req.Metadata}, nil
}

func (g *fakeGateway) RetrieveSession(_ context.Context, sessionID string) (*domain.CheckoutSession, error) {
	g.mu.Lock()
	g.calls++
	call := g.calls
	g.mu.Unlock()
	if g.retrieve == nil {
		return &domain.CheckoutSession{ID: sessionID, PaymentStatus: "paid", AmountTotal: testAmountTotal}, nil
	}
	return g.retrieve(call, sessionID)
}

func (g *fakeGateway) VerifyWebhook([]byte, string) (*domain.ProviderEvent, error) {
	return nil, fmt.Errorf("not used")
}

func (g *fakeGateway) Calls() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls
}

// paidFrom сессия оплачена, начиная с запроса n.
func paidFrom(n int) func(int, string) (*domain.CheckoutSession, error) {
	return func(call int, id string) (*domain.CheckoutSession, error) {
		status := "unpaid"
		if call >= n {
			status = "paid"
		}
		return &domain.CheckoutSession{ID: id, PaymentStatus: status, AmountTotal: testAmountTotal}, nil
	}
}

// fakeTimer срабатывает сразу и запоминает запрошенные задержки.
type fakeTimer struct {
	mu     sync.Mutex
	delays []time.Duration
	c      chan time.Time
}

func newFakeTimer() *fakeTimer {
	return &fakeTimer{c: make(chan time.Time, 1)}
}

func (t *fakeTimer) Start(d time.Duration) {
	t.mu.Lock()
	t.delays = append(t.delays, d)
	t.mu.Unlock()
	t.c <- time.Now()
}

func (t *fakeTimer) Stop() {}

func (t *fakeTimer) C() <-chan time.Time { return t.c }

func (t *fakeTimer) Delays() []time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]time.Duration(nil), t.delays...)
}

type recordingProducer struct {
	mu     sync.Mutex
	topics []string
}

func (p *recordingProducer) PublishSubscriptionEvent(_ context.Context, topic string, _ *domain.Subscription) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.topics = append(p.topics, topic)
	return nil
}

func (p *recordingProducer) Close() error { return nil }

func (p *recordingProducer) Topics() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.topics...)
}

type recordingPaymentProducer struct {
	mu       sync.Mutex
	payments []domain.PaymentRecord
}

func (p *recordingPaymentProducer) PublishPaymentRecorded(_ context.Context, rec *domain.PaymentRecord) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.payments = append(p.payments, *rec)
	return nil
}

func (p *recordingPaymentProducer) Close() error { return nil }

func (p *recordingPaymentProducer) Count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.payments)
}

type testEnv struct {
	store         *repository.MemoryStore
	registry      *prometheus.Registry
	metrics       metrics.PaymentMetrics
	events        *recordingProducer
	paymentEvents *recordingPaymentProducer
	engine        *ActivationEngine
	log           *logger.Logger
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	log := logger.NewNop()
	reg := prometheus.NewRegistry()
	env := &testEnv{
		store:         repository.NewMemoryStore(),
		registry:      reg,
		metrics:       metrics.NewPaymentMetrics(reg, log),
		events:        &recordingProducer{},
		paymentEvents: &recordingPaymentProducer{},
		log:           log,
	}
	env.engine = NewActivationEngine(env.store.Subscriptions(), nil, env.events, env.paymentEvents, env.metrics, log)
	return env
}

// pending создает pending-подписку, связанную с сессией.
func (e *testEnv) pending(t *testing.T, id, userID, sessionID string, amount float64) *domain.Subscription {
	t.Helper()
	sid := sessionID
	sub := &domain.Subscription{
		ID:              id,
		UserID:          userID,
		Plan:            domain.PlanMonthly,
		EndDate:         time.Now().Add(30 * 24 * time.Hour),
		Amount:          amount,
		Status:          domain.SubscriptionStatusPending,
		StripeSessionID: &sid,
	}
	require.NoError(t, e.store.Subscriptions().Create(context.Background(), sub))
	return sub
}

func (e *testEnv) payments(t *testing.T, clientID string) []domain.PaymentRecord {
	t.Helper()
	list, err := e.store.Payments().ListByClient(context.Background(), clientID)
	require.NoError(t, err)
	return list
}

func (e *testEnv) activeCount(t *testing.T, userID string) int {
	t.Helper()
	subs, err := e.store.Subscriptions().ListByUser(context.Background(), userID)
	require.NoError(t, err)
	n := 0
	for _, s := range subs {
		if s.Status == domain.SubscriptionStatusActive {
			n++
		}
	}
	return n
}

// metricValue значение счетчика или число наблюдений гистограммы с заданными метками.
func metricValue(t *testing.T, reg *prometheus.Registry, name string, labels map[string]string) float64 {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
		for _, m := range mf.GetMetric() {
			if !labelsMatch(m, labels) {
				continue
			}
			if c := m.GetCounter(); c != nil {
				return c.GetValue()
			}
			if h := m.GetHistogram(); h != nil {
				return float64(h.GetSampleCount())
			}
		}
	}
	return 0
}

func labelsMatch(m *dto.Metric, labels map[string]string) bool {
	matched := 0
	for _, lp := range m.GetLabel() {
		if v, ok := labels[lp.GetName()]; ok {
			if v != lp.GetValue() {
				return false
			}
			matched++
		}
	}
	return matched == len(labels)
}
