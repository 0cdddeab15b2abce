package queue

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Producer appends command messages to Redis Streams. Enqueue methods
// return the stream message id, or "" when the message was deduplicated
// or the publish failed — callers must treat the write as best-effort
// and never roll back the state change that triggered it.
type Producer struct {
	rdb         *redis.Client
	dedupWindow time.Duration
	log         *zap.Logger
}

func NewProducer(rdb *redis.Client, dedupWindow time.Duration, log *zap.Logger) *Producer {
	if dedupWindow <= 0 {
		dedupWindow = 15 * time.Minute
	}
	return &Producer{rdb: rdb, dedupWindow: dedupWindow, log: log}
}

func (p *Producer) EnqueueBotOperation(ctx context.Context, op BotOperation) string {
	if op.MaxRetries <= 0 {
		op.MaxRetries = DefaultMaxRetries
	}
	return p.enqueue(ctx, StreamBotOps, op.DedupKey(), op)
}

func (p *Producer) EnqueueRefundTransaction(ctx context.Context, tx RefundTransaction) string {
	if tx.MaxRetries <= 0 {
		tx.MaxRetries = DefaultMaxRetries
	}
	if tx.Operation == "" {
		tx.Operation = RefundOpSendTransaction
	}
	return p.enqueue(ctx, StreamRefundTxs, tx.DedupKey(), tx)
}

func (p *Producer) PublishPaymentEvent(ctx context.Context, event PaymentEvent) string {
	return p.enqueue(ctx, StreamPaymentEvents, event.DedupKey(), event)
}

func (p *Producer) enqueue(ctx context.Context, stream, dedupKey string, payload any) string {
	if dedupKey != "" {
		set, err := p.rdb.SetNX(ctx, "dedup:"+stream+":"+dedupKey, "1", p.dedupWindow).Result()
		if err == nil && !set {
			p.log.Debug("message deduplicated",
				zap.String("stream", stream),
				zap.String("dedup_key", dedupKey),
			)
			return ""
		}
		// On redis error fall through and attempt the publish anyway:
		// at-least-once beats silent drop.
	}

	data, err := json.Marshal(payload)
	if err != nil {
		p.log.Error("failed to marshal queue message", zap.String("stream", stream), zap.Error(err))
		return ""
	}

	id, err := p.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: stream,
		Values: map[string]any{"payload": string(data)},
	}).Result()
	if err != nil {
		// Release the dedup slot so a retry of the same logical command
		// is not swallowed by a publish that never happened.
		if dedupKey != "" {
			p.rdb.Del(ctx, "dedup:"+stream+":"+dedupKey)
		}
		p.log.Error("failed to publish queue message",
			zap.String("stream", stream),
			zap.String("dedup_key", dedupKey),
			zap.Error(err),
		)
		return ""
	}
	return id
}
