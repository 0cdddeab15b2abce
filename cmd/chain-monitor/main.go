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
	"github.com/channelpass/backend/internal/monitor"
	"github.com/channelpass/backend/internal/queue"
	"github.com/channelpass/backend/internal/repositories"
)

// watchRefreshInterval bounds how stale the watch set can get: orders
// created by the api process show up here on the next refresh.
const watchRefreshInterval = 30 * time.Second

func main() {
	log, _ := zap.NewProduction()
	defer log.Sync()

	cfg := config.Load()
	cfg.Validate(log)

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

	orderRepo := repositories.NewOrderRepo(pool)
	producer := queue.NewProducer(rdb, cfg.DedupWindow, log)

	clients := []monitor.ChainClient{
		monitor.NewEVMClient(cfg.BSCRPCURL, nil),
		monitor.NewBitcoinClient(cfg.BTCRPCHost, cfg.BTCRPCUser, cfg.BTCRPCPassword),
		monitor.NewTronClient(cfg.TronAPIURL, cfg.TronAPIKey, cfg.TronUSDTContract),
	}
	conns := monitor.NewConnManager(clients, cfg.ReconnectMaxAttempts, cfg.ReconnectBackoffCap, log)

	mon := monitor.New(conns, producer, rdb, cfg.MonitorPollInterval, log)
	mon.Start(ctx)
	defer mon.Stop()

	// The watch set is rebuilt from the database rather than pushed from
	// the api, so a monitor restart loses nothing.
	refreshWatches(ctx, mon, orderRepo, log)

	refreshTicker := time.NewTicker(watchRefreshInterval)
	defer refreshTicker.Stop()
	statusTicker := time.NewTicker(10 * time.Second)
	defer statusTicker.Stop()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	for {
		select {
		case <-refreshTicker.C:
			refreshWatches(ctx, mon, orderRepo, log)
		case <-statusTicker.C:
			if err := mon.StoreStatus(ctx); err != nil {
				log.Warn("failed to store monitor status", zap.Error(err))
			}
		case <-sigCh:
			log.Info("shutting down chain monitor")
			cancel()
			return
		case <-ctx.Done():
			return
		}
	}
}

// refreshWatches reconciles the in-memory watch set against orders that
// still await payment: new orders are watched, settled or expired ones
// are dropped.
func refreshWatches(ctx context.Context, mon *monitor.Monitor, orderRepo *repositories.OrderRepo, log *zap.Logger) {
	orders, err := orderRepo.GetAwaitingPayment(ctx)
	if err != nil {
		log.Error("failed to load orders awaiting payment", zap.Error(err))
		return
	}

	open := make(map[string]struct{}, len(orders))
	for _, o := range orders {
		open[o.DepositAddress] = struct{}{}
		if err := mon.WatchAddress(o.DepositAddress, o.ID, o.Currency, o.Amount, nil); err != nil {
			log.Error("failed to watch address",
				zap.String("order_id", o.ID.String()),
				zap.String("currency", o.Currency),
				zap.Error(err),
			)
		}
	}

	for _, w := range mon.GetWatchedAddresses() {
		if _, ok := open[w.Address]; !ok {
			mon.UnwatchAddress(w.Address)
		}
	}
}
