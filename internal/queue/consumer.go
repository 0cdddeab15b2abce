package queue

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Handler processes one message payload. A non-nil error triggers a
// bounded retry; after the budget is spent the message is dead-lettered.
type Handler func(ctx context.Context, payload []byte) error

// Consumer reads a Redis Stream through a consumer group with
// at-least-once delivery. Failed messages are re-appended with an
// incremented attempt counter; messages that exhaust maxRetries move to
// the "<stream>:dead" stream for manual handling.
type Consumer struct {
	rdb        *redis.Client
	stream     string
	group      string
	name       string
	maxRetries int
	log        *zap.Logger
}

func NewConsumer(rdb *redis.Client, stream, group, name string, maxRetries int, log *zap.Logger) *Consumer {
	if maxRetries <= 0 {
		maxRetries = DefaultMaxRetries
	}
	return &Consumer{
		rdb:        rdb,
		stream:     stream,
		group:      group,
		name:       name,
		maxRetries: maxRetries,
		log:        log,
	}
}

// EnsureGroup creates the consumer group if it does not exist yet.
func (c *Consumer) EnsureGroup(ctx context.Context) error {
	err := c.rdb.XGroupCreateMkStream(ctx, c.stream, c.group, "0").Err()
	if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
		return err
	}
	return nil
}

// Run blocks reading the stream until ctx is cancelled.
func (c *Consumer) Run(ctx context.Context, handler Handler) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		streams, err := c.rdb.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    c.group,
			Consumer: c.name,
			Streams:  []string{c.stream, ">"},
			Count:    10,
			Block:    5 * time.Second,
		}).Result()
		if err != nil {
			if err == redis.Nil || ctx.Err() != nil {
				continue
			}
			c.log.Error("stream read failed", zap.String("stream", c.stream), zap.Error(err))
			time.Sleep(time.Second)
			continue
		}

		for _, s := range streams {
			for _, msg := range s.Messages {
				c.process(ctx, msg, handler)
			}
		}
	}
}

func (c *Consumer) process(ctx context.Context, msg redis.XMessage, handler Handler) {
	payload, _ := msg.Values["payload"].(string)
	attempt := 0
	if raw, ok := msg.Values["attempt"].(string); ok {
		attempt, _ = strconv.Atoi(raw)
	}

	err := handler(ctx, []byte(payload))
	if err == nil {
		c.ack(ctx, msg.ID)
		return
	}

	attempt++
	c.log.Warn("message handler failed",
		zap.String("stream", c.stream),
		zap.String("msg_id", msg.ID),
		zap.Int("attempt", attempt),
		zap.Error(err),
	)

	if attempt >= c.maxRetries {
		// Retry budget spent: park the message for manual intervention.
		if xerr := c.rdb.XAdd(ctx, &redis.XAddArgs{
			Stream: c.stream + ":dead",
			Values: map[string]any{"payload": payload, "attempt": strconv.Itoa(attempt), "error": err.Error()},
		}).Err(); xerr != nil {
			c.log.Error("failed to dead-letter message", zap.String("msg_id", msg.ID), zap.Error(xerr))
		}
		c.ack(ctx, msg.ID)
		return
	}

	// Re-append with the incremented attempt counter and ack the
	// original so the pending entry list does not grow unbounded.
	if xerr := c.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: c.stream,
		Values: map[string]any{"payload": payload, "attempt": strconv.Itoa(attempt)},
	}).Err(); xerr != nil {
		c.log.Error("failed to requeue message", zap.String("msg_id", msg.ID), zap.Error(xerr))
		return // leave unacked; XAUTOCLAIM/redelivery picks it up
	}
	c.ack(ctx, msg.ID)
}

func (c *Consumer) ack(ctx context.Context, id string) {
	if err := c.rdb.XAck(ctx, c.stream, c.group, id).Err(); err != nil {
		c.log.Error("failed to ack message", zap.String("msg_id", id), zap.Error(err))
	}
}
