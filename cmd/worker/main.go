package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/channelpass/backend/internal/config"
	"github.com/channelpass/backend/internal/db"
	"github.com/channelpass/backend/internal/escrow"
	"github.com/channelpass/backend/internal/events"
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
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pool, err := db.NewPostgresPool(ctx, cfg.PostgresDSN, log)
	if err != nil {
		log.Fatal("failed to connect to postgres", zap.Error(err))
	}
	defer pool.Close()

	rdb, err := db.NewRedisClient(ctx, cfg.RedisURL, log)
	if err != nil {
		log.Fatal("failed to connect to redis", zap.Error(err))
	}
	defer rdb.Close()

	// Repos
	userRepo := repositories.NewUserRepo(pool)
	listingRepo := repositories.NewListingRepo(pool)
	orderRepo := repositories.NewOrderRepo(pool)
	subscriptionRepo := repositories.NewSubscriptionRepo(pool)
	escrowRepo := repositories.NewEscrowRepo(pool)
	balanceRepo := repositories.NewBalanceRepo(pool)
	auditRepo := repositories.NewAuditRepo(pool)

	// Services
	publisher := events.NewRedisPublisher(rdb, log)
	producer := queue.NewProducer(rdb, cfg.DedupWindow, log)
	walletClient := wallet.NewClient(cfg.WalletServiceURL, log)
	priceFeed := pricing.NewFeed(cfg.PriceFeedURL, log)

	escrowService := escrow.NewService(escrowRepo, balanceRepo, auditRepo, orderRepo, listingRepo, subscriptionRepo, cfg.PlatformFeePercentage, log)
	orderService := services.NewOrderService(orderRepo, listingRepo, priceFeed, walletClient, nil, auditRepo, log)
	subscriptionService := services.NewSubscriptionService(subscriptionRepo, userRepo, escrowService, producer, publisher, log)
	paymentService := services.NewPaymentService(orderRepo, subscriptionRepo, listingRepo, userRepo, escrowService, producer, publisher, log)

	// Payment event consumer
	consumer := queue.NewConsumer(rdb, queue.StreamPaymentEvents, "settlement", hostname(), cfg.QueueMaxRetries, log)
	if err := consumer.EnsureGroup(ctx); err != nil {
		log.Fatal("failed to create consumer group", zap.Error(err))
	}
	go consumer.Run(ctx, paymentService.HandlePaymentEvent)

	log.Info("worker started")

	// Run jobs on tickers
	expireTicker := time.NewTicker(1 * time.Minute)
	releaseTicker := time.NewTicker(1 * time.Minute)
	defer expireTicker.Stop()
	defer releaseTicker.Stop()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	for {
		select {
		case <-expireTicker.C:
			if n, err := orderService.ExpireOrders(ctx); err != nil {
				log.Error("order expiry sweep failed", zap.Error(err))
			} else if n > 0 {
				log.Info("expired unpaid orders", zap.Int("count", n))
			}
		case <-releaseTicker.C:
			if n, err := subscriptionService.ReleaseExpired(ctx); err != nil {
				log.Error("subscription release sweep failed", zap.Error(err))
			} else if n > 0 {
				log.Info("released expired subscriptions", zap.Int("count", n))
			}
		case <-sigCh:
			log.Info("shutting down worker")
			cancel()
			return
		case <-ctx.Done():
			return
		}
	}
}

func hostname() string {
	h, err := os.Hostname()
	if err != nil {
		return "worker"
	}
	return h
}
