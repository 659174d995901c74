package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"petshop-checkout/internal/client"
	"petshop-checkout/internal/config"
	"petshop-checkout/internal/handler"
	"petshop-checkout/internal/logger"
	"petshop-checkout/internal/middleware"
	"petshop-checkout/internal/repository"
	"petshop-checkout/internal/server"
	"petshop-checkout/internal/service"
	"syscall"
	"time"

	"github.com/caarlos0/env/v10"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

func main() {
	// load .env into os.Environ
	if err := godotenv.Load(); err != nil {
		fmt.Println("No .env file found (ok in prod)")
	}

	cfg := &config.Config{}
	if err := env.Parse(cfg); err != nil {
		fmt.Printf("Failed to parse config: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(cfg.Log)
	if err != nil {
		fmt.Printf("Failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	db, err := client.InitDatabase(cfg.DatabaseDriver, cfg.DatabaseURL, log)
	if err != nil {
		log.Fatal("init database", zap.Error(err))
	}

	paypalClient := client.NewPaypalClient(&cfg.Paypal)
	stripeClient := client.NewStripeClient(&cfg.Stripe)
	netsClient := client.NewNetsClient(&cfg.Nets)
	braintreeClient := client.NewBraintreeClient(&cfg.BrainTree)
	mailer := client.NewMailer(&cfg.SMTP)

	productRepo := repository.NewProductRepository(db)
	inventoryRepo := repository.NewInventoryRepository(db)
	cartRepo := repository.NewCartRepository(db)
	orderRepo := repository.NewOrderRepository(db)
	refundRepo := repository.NewRefundRepository(db)
	checkoutRepo := repository.NewCheckoutRepository(db)
	webhookEventRepo := repository.NewWebhookEventRepository(db)

	rootCtx, stop := context.WithCancel(context.Background())
	defer stop()

	if cfg.Environment.IsDevelopment() {
		if err := productRepo.Seed(rootCtx); err != nil {
			log.Fatal("seed catalog", zap.Error(err))
		}
		logDevTokens(log, cfg.JWTSecret)
	}

	cartService := service.NewCartService(cartRepo, productRepo)
	checkouts := service.NewCheckoutStore(checkoutRepo, cartService, service.NewInvoiceGenerator(), cfg.Checkout.TTL, log.Named("checkout"))
	finalizer := service.NewOrderFinalizer(db, orderRepo, inventoryRepo, cartRepo, checkoutRepo, cfg.Currency, log.Named("finalizer"))
	tracker := service.NewShipmentTracker(paypalClient, cfg.Paypal.TrackingEnabled, cfg.Paypal.DefaultCarrier, log.Named("tracking"))
	notifier := service.NewRefundNotifier(mailer, log)

	paypalService := service.NewPaypalService(
		paypalClient, cfg.BaseURL, cfg.Currency,
		checkouts, finalizer, tracker,
		orderRepo,
		webhookEventRepo,
		log,
	)
	stripeService := service.NewStripeService(stripeClient, cfg.BaseURL, cfg.Currency, checkouts, finalizer, webhookEventRepo, log)
	netsService := service.NewNetsService(netsClient, checkouts, finalizer, cfg.Currency, cfg.Nets.PollInterval, cfg.Nets.MaxPolls, log)
	braintreeService := service.NewBraintreeService(braintreeClient, checkouts, finalizer, log)
	orderService := service.NewOrderService(orderRepo, tracker, log)
	refundService := service.NewRefundService(
		db,
		orderRepo, refundRepo, inventoryRepo,
		paypalClient, stripeClient, braintreeClient,
		notifier,
		log,
	)

	go checkouts.RunJanitor(rootCtx, cfg.Checkout.JanitorInterval)

	serverAddr := cfg.HTTP.Host + ":" + cfg.HTTP.Port

	// Init HTTP server
	srv := server.NewServer(server.Handlers{
		Cart:      handler.NewCartHandler(cartService, productRepo),
		Paypal:    handler.NewPaypalHandler(paypalService, cfg.Checkout.TTL, log),
		Stripe:    handler.NewStripeHandler(stripeService, cfg.Checkout.TTL, log),
		Nets:      handler.NewNetsHandler(netsService, cfg.Checkout.TTL, log),
		Braintree: handler.NewBraintreeHandler(braintreeService),
		Order:     handler.NewOrderHandler(orderService),
		Refund:    handler.NewRefundHandler(refundService, log),
	}, cfg.JWTSecret, log.Named("http"))

	log.Info("starting HTTP server", zap.String("addr", serverAddr))
	go func() {
		if err := srv.Start(serverAddr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("HTTP server error", zap.Error(err))
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGTERM, syscall.SIGINT)

	<-sigChan
	log.Info("signal received, starting graceful shutdown")
	stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("HTTP server shutdown error", zap.Error(err))
	}
}

// logDevTokens prints a customer and an admin token for local testing.
func logDevTokens(log *zap.Logger, secret string) {
	if secret == "" {
		log.Warn("JWT_SECRET is empty, skipping dev tokens")
		return
	}

	for _, identity := range []middleware.Identity{
		{UserID: 1, Email: "customer@petshop.local"},
		{UserID: 2, Email: "admin@petshop.local", Role: middleware.RoleAdmin},
	} {
		token, err := middleware.SignToken(secret, identity, 24*time.Hour)
		if err != nil {
			log.Warn("sign dev token", zap.Error(err))
			continue
		}
		log.Info("dev token", zap.String("email", identity.Email), zap.String("token", token))
	}
}
