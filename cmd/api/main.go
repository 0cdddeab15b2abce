package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/channelpass/backend/internal/config"
	"github.com/channelpass/backend/internal/db"
	"github.com/channelpass/backend/internal/dispute"
	"github.com/channelpass/backend/internal/escrow"
	"github.com/channelpass/backend/internal/events"
	apphttp "github.com/channelpass/backend/internal/http"
	"github.com/channelpass/backend/internal/http/handlers"
	"github.com/channelpass/backend/internal/pricing"
	"github.com/channelpass/backend/internal/queue"
	"github.com/channelpass/backend/internal/repositories"
	"github.com/channelpass/backend/internal/services"
	"github.com/channelpass/backend/internal/wallet"
)

func main() {
	log, _ := zap.NewProduction()
	defer log.Sync()

	cfg := config.Load()
	cfg.Validate(log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Database
	pool, err := db.NewPostgresPool(ctx, cfg.PostgresDSN, log)
	if err != nil {
		log.Fatal("failed to connect to postgres", zap.Error(err))
	}
	defer pool.Close()

	// Run migrations
	if err := db.RunMigrations(ctx, pool, "migrations", log); err != nil {
		log.Fatal("failed to run migrations", zap.Error(err))
	}

	// Redis
	rdb, err := db.NewRedisClient(ctx, cfg.RedisURL, log)
	if err != nil {
		log.Fatal("failed to connect to redis", zap.Error(err))
	}
	defer rdb.Close()

	// Repositories
	userRepo := repositories.NewUserRepo(pool)
	listingRepo := repositories.NewListingRepo(pool)
	orderRepo := repositories.NewOrderRepo(pool)
	subscriptionRepo := repositories.NewSubscriptionRepo(pool)
	escrowRepo := repositories.NewEscrowRepo(pool)
	balanceRepo := repositories.NewBalanceRepo(pool)
	disputeRepo := repositories.NewDisputeRepo(pool)
	auditRepo := repositories.NewAuditRepo(pool)

	// Events and queues
	publisher := events.NewRedisPublisher(rdb, log)
	subscriber := events.NewRedisSubscriber(rdb, log)
	producer := queue.NewProducer(rdb, cfg.DedupWindow, log)

	// External clients
	walletClient := wallet.NewClient(cfg.WalletServiceURL, log)
	priceFeed := pricing.NewFeed(cfg.PriceFeedURL, log)

	// Services. The chain monitor runs in its own process and rebuilds
	// its watch set from open orders, so the api passes a nil watcher.
	escrowService := escrow.NewService(escrowRepo, balanceRepo, auditRepo, orderRepo, listingRepo, subscriptionRepo, cfg.PlatformFeePercentage, log)
	orderService := services.NewOrderService(orderRepo, listingRepo, priceFeed, walletClient, nil, auditRepo, log)
	subscriptionService := services.NewSubscriptionService(subscriptionRepo, userRepo, escrowService, producer, publisher, log)
	disputeService := dispute.NewService(disputeRepo, orderRepo, subscriptionRepo, userRepo, escrowService, producer, auditRepo, publisher, log)

	// Handlers
	authHandler := handlers.NewAuthHandler(userRepo, cfg, log)
	listingHandler := handlers.NewListingHandler(listingRepo, userRepo, log)
	orderHandler := handlers.NewOrderHandler(orderService, log)
	subscriptionHandler := handlers.NewSubscriptionHandler(subscriptionService, log)
	disputeHandler := handlers.NewDisputeHandler(disputeService, log)
	escrowHandler := handlers.NewEscrowHandler(escrowService, balanceRepo, log)
	monitorHandler := handlers.NewMonitorHandler(rdb, log)
	wsHub := handlers.NewWSHub(cfg, subscriber, log)

	// Start WS hub
	wsHub.Start(ctx)

	// Fiber app
	app := fiber.New(fiber.Config{
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			code := fiber.StatusInternalServerError
			if e, ok := err.(*fiber.Error); ok {
				code = e.Code
			}
			return c.Status(code).JSON(fiber.Map{"error": err.Error()})
		},
	})

	apphttp.SetupRouter(app, cfg, log, rdb,
		authHandler, listingHandler, orderHandler, subscriptionHandler,
		disputeHandler, escrowHandler, monitorHandler, wsHub)

	// Graceful shutdown
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		log.Info("shutting down...")
		cancel()
		_ = app.Shutdown()
	}()

	addr := fmt.Sprintf(":%s", cfg.APIPort)
	log.Info("starting API server", zap.String("addr", addr))
	if err := app.Listen(addr); err != nil {
		log.Fatal("server error", zap.Error(err))
	}
}
