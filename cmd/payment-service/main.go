package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Dhoini/marketplace-payments/internal/app"
	"github.com/Dhoini/marketplace-payments/internal/config"
	"github.com/Dhoini/marketplace-payments/internal/http/routes"
	"github.com/Dhoini/marketplace-payments/pkg/logger"

	"github.com/gin-gonic/gin"
)

func main() {
	log := logger.New(logger.ParseLevel(os.Getenv("LOG_LEVEL")))
	defer func() { _ = log.Sync() }()

	log.Infow("Payment service starting up...")

	cfg, err := config.LoadConfig(".")
	if err != nil {
		log.Fatalw("Failed to load configuration", "error", err)
	}
	if cfg.Auth.JWTSecret == "" {
		log.Warnw("JWT secret is not set, every authenticated request will be rejected")
	}
	if cfg.Stripe.APIKey == "" || cfg.Stripe.WebhookSecret == "" {
		log.Warnw("Stripe credentials are not fully configured")
	}

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	initCtx, initCancel := context.WithTimeout(context.Background(), 30*time.Second)
	application, err := app.Build(initCtx, cfg, log)
	initCancel()
	if err != nil {
		log.Fatalw("Failed to initialize application", "error", err)
	}
	defer func() {
		if err := application.Close(); err != nil {
			log.Errorw("Error releasing resources", "error", err)
		}
	}()

	router := gin.New()
	router.Use(application.LoggerMiddleware)
	router.Use(gin.Recovery())
	routes.SetupRoutes(router, application, log)

	// verify ждет подтверждения до ~9 минут при 10 попытках
	httpServer := &http.Server{
		Addr:         ":" + cfg.App.Port,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 15 * time.Minute,
	}

	go func() {
		log.Infow("Starting HTTP server", "port", cfg.App.Port)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalw("Failed to start HTTP server", "error", err)
		}
	}()

	grpcServer := application.GRPCServer()
	go func() {
		if err := grpcServer.Serve(cfg.GRPC.Port); err != nil {
			log.Fatalw("Failed to start gRPC server", "error", err)
		}
	}()

	sched, err := application.Scheduler()
	if err != nil {
		log.Fatalw("Failed to configure scheduler", "error", err)
	}
	sched.Start()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Infow("Shutdown signal received")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	log.Infow("Shutting down HTTP server")
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Errorw("HTTP server shutdown error", "error", err)
	} else {
		log.Infow("HTTP server gracefully stopped")
	}

	sched.Stop(shutdownCtx)

	log.Infow("Shutting down gRPC server")
	grpcServer.GracefulStop()
	log.Infow("gRPC server gracefully stopped")

	log.Infow("Cleanup finished. Goodbye!")
}
