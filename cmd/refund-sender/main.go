package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/channelpass/backend/internal/config"
	"github.com/channelpass/backend/internal/db"
	"github.com/channelpass/backend/internal/queue"
	"github.com/channelpass/backend/internal/signer"
)

// refundSender drains the refund transaction stream and hands each
// payout to the external signing service. Retryable signer failures
// return an error so the consumer requeues; permanent rejections are
// logged and dropped to keep the stream moving.
type refundSender struct {
	signer *signer.Client
	log    *zap.Logger
}

func main() {
	log, _ := zap.NewProduction()
	defer log.Sync()

	cfg := config.Load()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	rdb, err := db.NewRedisClient(ctx, cfg.RedisURL, log)
	if err != nil {
		log.Fatal("failed to connect to redis", zap.Error(err))
	}
	defer rdb.Close()

	sender := &refundSender{
		signer: signer.NewClient(cfg.SignerURL, log),
		log:    log,
	}

	consumer := queue.NewConsumer(rdb, queue.StreamRefundTxs, "refund-sender", hostname(), cfg.QueueMaxRetries, log)
	if err := consumer.EnsureGroup(ctx); err != nil {
		log.Fatal("failed to create consumer group", zap.Error(err))
	}

	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		log.Info("shutting down refund sender")
		cancel()
	}()

	log.Info("refund sender started")
	consumer.Run(ctx, sender.handle)
}

func (s *refundSender) handle(ctx context.Context, payload []byte) error {
	var tx queue.RefundTransaction
	if err := json.Unmarshal(payload, &tx); err != nil {
		s.log.Error("malformed refund transaction dropped", zap.Error(err))
		return nil
	}

	result, err := s.signer.SendTransaction(ctx, signer.SendRequest{
		ToAddress: tx.ToAddress,
		Amount:    tx.Amount,
		Currency:  tx.Currency,
		RefundID:  tx.RefundID.String(),
	})
	if err != nil {
		return fmt.Errorf("signer request: %w", err)
	}

	if !result.Success {
		if result.Retryable {
			return fmt.Errorf("signer rejected refund %s: %s", tx.RefundID, result.Error)
		}
		// Permanent rejection, e.g. an invalid destination address.
		// Requeueing cannot fix it; operators work from this log line
		// and the dead-letter audit trail.
		s.log.Error("refund permanently rejected",
			zap.String("refund_id", tx.RefundID.String()),
			zap.String("to_address", tx.ToAddress),
			zap.String("reason", result.Error),
		)
		return nil
	}

	s.log.Info("refund sent",
		zap.String("refund_id", tx.RefundID.String()),
		zap.String("order_id", tx.OrderID.String()),
		zap.String("tx_hash", result.TransactionHash),
		zap.Float64("amount", tx.Amount),
		zap.String("currency", tx.Currency),
	)
	return nil
}

func hostname() string {
	h, err := os.Hostname()
	if err != nil {
		return "refund-sender"
	}
	return h
}
