package routes

import (
	"github.com/Dhoini/marketplace-payments/internal/app"
	"github.com/Dhoini/marketplace-payments/internal/services"
	"github.com/Dhoini/marketplace-payments/pkg/logger"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// SetupRoutes настраивает все маршруты API для Gin роутера
func SetupRoutes(router *gin.Engine, app *app.App, log *logger.Logger) {
	// Метрики отдаются вне API
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(app.Registry, promhttp.HandlerOpts{})))

	api := router.Group("/api/v1")
	{
		// Публичные маршруты
		// Подлинность вебхука проверяется подписью, не токеном
		api.POST("/webhooks/stripe", app.WebhookHandler.HandleStripeWebhook)
		api.GET("/health", app.HealthHandler.Health)

		// Защищенные маршруты
		auth := api.Group("")
		auth.Use(app.AuthMiddleware.RequireAuth())

		subscriptions := auth.Group("/subscriptions")
		{
			subscriptions.POST("/checkout-session", app.PaymentHandler.CreateCheckoutSession)
			subscriptions.POST("/verify", app.PaymentHandler.Verify)
			subscriptions.POST("/finalize", app.PaymentHandler.Finalize)

			subscriptions.GET("/me", app.SubscriptionHandler.Me)
			subscriptions.GET("", app.SubscriptionHandler.List)
			subscriptions.PUT("/:id", app.SubscriptionHandler.Update)
			subscriptions.POST("/cancel", app.SubscriptionHandler.Cancel)
		}

		reservations := auth.Group("/reservations")
		{
			reservations.POST("/checkout-session", app.ReservationHandler.CreateCheckoutSession)
			reservations.POST("/verify-payment", app.ReservationHandler.VerifyPayment)
		}

		orders := auth.Group("/orders")
		{
			orders.POST("/checkout-session", app.OrderHandler.CreateCheckoutSession)
			orders.POST("/verify-payment", app.OrderHandler.VerifyPayment)
			orders.GET("/me", app.OrderHandler.MyOrders)
			orders.GET("/seller",
				app.AuthMiddleware.RequireRole(services.RoleSeller),
				app.OrderHandler.SellerOrders,
			)
		}

		payments := auth.Group("/payments")
		{
			payments.GET("/me", app.SubscriptionHandler.MyPayments)
			payments.GET("/provider",
				app.AuthMiddleware.RequireRole(services.RoleProvider, services.RoleSeller),
				app.ReservationHandler.ProviderPayments,
			)
		}
	}

	log.Infow("API routes successfully configured")
}
