package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Dhoini/marketplace-payments/internal/config"
	"github.com/Dhoini/marketplace-payments/internal/db"
	grpcserver "github.com/Dhoini/marketplace-payments/internal/grpc"
	"github.com/Dhoini/marketplace-payments/internal/http/handlers"
	"github.com/Dhoini/marketplace-payments/internal/kafka"
	"github.com/Dhoini/marketplace-payments/internal/kafka/producer"
	"github.com/Dhoini/marketplace-payments/internal/lock"
	"github.com/Dhoini/marketplace-payments/internal/metrics"
	"github.com/Dhoini/marketplace-payments/internal/middleware"
	"github.com/Dhoini/marketplace-payments/internal/repository"
	"github.com/Dhoini/marketplace-payments/internal/scheduler"
	"github.com/Dhoini/marketplace-payments/internal/services"
	"github.com/Dhoini/marketplace-payments/internal/stripe"
	"github.com/Dhoini/marketplace-payments/pkg/logger"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// Stores набор хранилищ, с которыми работают сервисы.
type Stores struct {
	Subscriptions repository.SubscriptionRepository
	Payments      repository.PaymentRepository
	Reservations  repository.ReservationRepository
	Services      repository.ServiceRepository
	Orders        repository.OrderRepository
	Carts         repository.CartRepository
	WebhookEvents repository.WebhookEventRepository
}

// MemoryStores хранилища в памяти.
func MemoryStores(m *repository.MemoryStore) Stores {
	return Stores{
		Subscriptions: m.Subscriptions(),
		Payments:      m.Payments(),
		Reservations:  m.Reservations(),
		Services:      m.Services(),
		Orders:        m.Orders(),
		Carts:         m.Carts(),
		WebhookEvents: m.WebhookEvents(),
	}
}

// Deps внешние зависимости. Пустые поля заменяются no-op реализациями.
type Deps struct {
	Stores        Stores
	Gateway       stripe.Gateway
	Locker        lock.Locker
	Events        kafka.Producer
	PaymentEvents producer.PaymentProducer
	Registry      *prometheus.Registry
	PollerOptions []services.PollerOption
}

// App представляет собой контейнер для всех компонентов приложения
type App struct {
	Config   *config.Config
	Logger   *logger.Logger
	Registry *prometheus.Registry
	Metrics  metrics.PaymentMetrics

	Engine        *services.ActivationEngine
	Poller        *services.VerificationPoller
	Checkout      *services.CheckoutService
	Subscriptions *services.SubscriptionService
	Reservations  *services.ReservationService
	Orders        *services.OrderService
	Webhooks      *services.WebhookService

	PaymentHandler      *handlers.PaymentHandler
	SubscriptionHandler *handlers.SubscriptionHandler
	ReservationHandler  *handlers.ReservationHandler
	OrderHandler        *handlers.OrderHandler
	WebhookHandler      *handlers.WebhookHandler
	HealthHandler       *handlers.HealthHandler
	AuthMiddleware      *middleware.JWTMiddleware
	LoggerMiddleware    gin.HandlerFunc

	healthChecks map[string]handlers.Pinger
	closers      []func() error
}

// NewApp собирает сервисы и обработчики из готовых зависимостей.
func NewApp(cfg *config.Config, deps Deps, log *logger.Logger) *App {
	registry := deps.Registry
	if registry == nil {
		registry = prometheus.NewRegistry()
	}
	m := metrics.NewPaymentMetrics(registry, log)

	engine := services.NewActivationEngine(deps.Stores.Subscriptions, deps.Locker, deps.Events, deps.PaymentEvents, m, log)

	pollerOpts := append([]services.PollerOption{
		services.WithAttempts(cfg.Verification.MaxAttempts, cfg.Verification.BaseDelay),
	}, deps.PollerOptions...)
	poller := services.NewVerificationPoller(deps.Gateway, engine, m, log, pollerOpts...)

	checkout := services.NewCheckoutService(deps.Gateway, deps.Stores.Subscriptions, cfg.App.ClientURL, cfg.Stripe.Currency, log)
	subs := services.NewSubscriptionService(deps.Stores.Subscriptions, deps.Stores.Payments, engine, log)
	reservations := services.NewReservationService(
		deps.Gateway,
		deps.Stores.Services,
		deps.Stores.Reservations,
		deps.Stores.Payments,
		deps.PaymentEvents,
		m,
		cfg.App.ClientURL,
		cfg.Stripe.Currency,
		log,
	)
	orders := services.NewOrderService(
		deps.Gateway,
		deps.Stores.Orders,
		deps.Stores.Carts,
		deps.PaymentEvents,
		m,
		cfg.App.ClientURL,
		cfg.Stripe.Currency,
		log,
	)
	webhooks := services.NewWebhookService(deps.Stores.WebhookEvents, engine, reservations, orders, m, log)

	debug := !cfg.IsProduction()
	validator := &middleware.DefaultTokenValidator{Secret: []byte(cfg.Auth.JWTSecret)}

	a := &App{
		Config:   cfg,
		Logger:   log,
		Registry: registry,
		Metrics:  m,

		Engine:        engine,
		Poller:        poller,
		Checkout:      checkout,
		Subscriptions: subs,
		Reservations:  reservations,
		Orders:        orders,
		Webhooks:      webhooks,

		PaymentHandler:      handlers.NewPaymentHandler(checkout, poller, log, debug),
		SubscriptionHandler: handlers.NewSubscriptionHandler(subs, log, debug),
		ReservationHandler:  handlers.NewReservationHandler(reservations, log, debug),
		OrderHandler:        handlers.NewOrderHandler(orders, log, debug),
		WebhookHandler:      handlers.NewWebhookHandler(deps.Gateway, webhooks, log),
		AuthMiddleware:      middleware.NewJWTMiddleware(log, validator),
		LoggerMiddleware:    middleware.RequestLogger(log, m),

		healthChecks: map[string]handlers.Pinger{},
	}
	a.HealthHandler = handlers.NewHealthHandler(a.healthChecks)
	return a
}

// Build подключает инфраструктуру по конфигурации и собирает App.
func Build(ctx context.Context, cfg *config.Config, log *logger.Logger) (*App, error) {
	var (
		deps    Deps
		closers []func() error
		checks  = map[string]handlers.Pinger{}
		dbStats metrics.DBStatsFunc
	)
	fail := func(err error) (*App, error) {
		for i := len(closers) - 1; i >= 0; i-- {
			_ = closers[i]()
		}
		return nil, err
	}

	switch cfg.Storage.Driver {
	case "memory":
		log.Warnw("Using in-memory storage, data is lost on restart")
		deps.Stores = MemoryStores(repository.NewMemoryStore())
	case "postgres", "":
		dbClient, err := db.NewDBClient(ctx, cfg.Database.DSN, db.Options{
			MaxOpenConns:    cfg.Database.MaxOpenConns,
			MaxIdleConns:    cfg.Database.MaxIdleConns,
			ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
		}, log)
		if err != nil {
			return fail(err)
		}
		closers = append(closers, dbClient.Close)
		log.Infow("Database connection established")

		if cfg.Database.AutoMigrate {
			if err := dbClient.Migrate(ctx); err != nil {
				return fail(fmt.Errorf("migrations: %w", err))
			}
		}

		sqlDB := dbClient.DB()
		deps.Stores = Stores{
			Subscriptions: repository.NewPostgresSubscriptionRepository(sqlDB, log),
			Payments:      repository.NewPostgresPaymentRepository(sqlDB, log),
			Reservations:  repository.NewPostgresReservationRepository(sqlDB, log),
			Services:      repository.NewPostgresServiceRepository(sqlDB),
			Orders:        repository.NewPostgresOrderRepository(sqlDB, log),
			Carts:         repository.NewPostgresCartRepository(sqlDB),
			WebhookEvents: repository.NewPostgresWebhookEventRepository(sqlDB, log),
		}
		checks["database"] = handlers.PingFunc(dbClient.Ping)
		dbStats = sqlDB.Stats
	default:
		return fail(fmt.Errorf("unknown storage driver %q", cfg.Storage.Driver))
	}

	if cfg.Redis.Enabled {
		rdb, err := repository.NewRedisClient(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, log)
		if err != nil {
			// Не фатально: без кеша и распределенной блокировки атомарность дает транзакция
			log.Warnw("Failed to initialize Redis, continuing without cache and distributed lock", "error", err)
		} else {
			closers = append(closers, rdb.Close)
			cache := repository.NewRedisCacheRepository(rdb, cfg.Redis.CacheTTL, log)
			deps.Stores.Subscriptions = repository.NewCachedSubscriptionRepository(deps.Stores.Subscriptions, cache, log)
			deps.Locker = lock.NewRedsyncLocker(rdb, cfg.Redis.LockTTL, log)
			checks["redis"] = handlers.PingFunc(func(ctx context.Context) error { return rdb.Ping(ctx).Err() })
			log.Infow("Using cached subscription repository and redis activation lock")
		}
	}

	if cfg.Kafka.Enabled {
		if cfg.Kafka.EnsureTopics {
			if err := kafka.EnsureKafkaTopics(ctx, cfg.Kafka.Brokers, cfg.Kafka.PaymentTopic, log); err != nil {
				log.Warnw("Failed to ensure Kafka topics", "error", err)
			}
		}
		events, err := kafka.NewKafkaProducer(cfg.Kafka.Brokers, log)
		if err != nil {
			log.Errorw("Failed to initialize Kafka producer, continuing without event publishing", "error", err)
		} else {
			deps.Events = events
			closers = append(closers, events.Close)
		}

		syncProducer, err := kafka.NewSyncProducer(kafka.NewConfig(cfg.Kafka.Brokers), log)
		if err != nil {
			log.Errorw("Failed to initialize payment event producer", "error", err)
		} else {
			paymentEvents := producer.NewKafkaPaymentProducer(syncProducer, cfg.Kafka.PaymentTopic, log)
			deps.PaymentEvents = paymentEvents
			closers = append(closers, paymentEvents.Close)
		}
	}

	deps.Gateway = stripe.NewStripeGateway(cfg.Stripe.APIKey, cfg.Stripe.WebhookSecret, log)

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	deps.Registry = registry

	a := NewApp(cfg, deps, log)
	for name, p := range checks {
		a.healthChecks[name] = p
	}

	sys := metrics.NewSystemMetrics(registry, dbStats, log)
	sys.StartRecording(15 * time.Second)
	closers = append(closers, func() error { sys.Stop(); return nil })

	a.closers = closers
	return a, nil
}

// Scheduler задача проверки окончания подписок.
func (a *App) Scheduler() (*scheduler.Scheduler, error) {
	return scheduler.New(a.Config.Scheduler.ExpirySpec, a.Engine, a.Logger)
}

// GRPCServer health сервер, повторяющий проверки HTTP /health.
func (a *App) GRPCServer() *grpcserver.Server {
	checks := make(map[string]grpcserver.Check, len(a.healthChecks))
	for name, p := range a.healthChecks {
		checks[name] = p.Ping
	}
	return grpcserver.New(checks, 10*time.Second, a.Logger)
}

// Close освобождает ресурсы в обратном порядке.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
