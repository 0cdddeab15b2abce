package services

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/channelpass/backend/internal/events"
	"github.com/channelpass/backend/internal/models"
	"github.com/channelpass/backend/internal/queue"
)

type PaymentOrderStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.Order, error)
	MarkPaymentDetected(ctx context.Context, id uuid.UUID, txHash, payerAddress string, confirmations int) error
	MarkPaid(ctx context.Context, id uuid.UUID, txHash, payerAddress string, confirmations int) (bool, error)
}

type SubscriptionStore interface {
	Create(ctx context.Context, s *models.Subscription) error
	GetByOrderID(ctx context.Context, orderID uuid.UUID) (*models.Subscription, error)
}

type UserStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.User, error)
}

// EscrowOpener is the slice of the escrow service payment settlement
// needs.
type EscrowOpener interface {
	CreateEscrow(ctx context.Context, orderID, subscriptionID uuid.UUID) (*models.EscrowEntry, error)
}

type InviteQueue interface {
	EnqueueBotOperation(ctx context.Context, op queue.BotOperation) string
}

// PaymentService consumes payment events off the durable stream and
// drives the confirmation side effects: order paid, subscription opened,
// escrow held, buyer invited.
type PaymentService struct {
	orders   PaymentOrderStore
	subs     SubscriptionStore
	listings ListingStore
	users    UserStore
	escrow   EscrowOpener
	cmds     InviteQueue
	bus      events.Publisher
	log      *zap.Logger

	now func() time.Time
}

func NewPaymentService(
	orders PaymentOrderStore,
	subs SubscriptionStore,
	listings ListingStore,
	users UserStore,
	escrow EscrowOpener,
	cmds InviteQueue,
	bus events.Publisher,
	log *zap.Logger,
) *PaymentService {
	return &PaymentService{
		orders:   orders,
		subs:     subs,
		listings: listings,
		users:    users,
		escrow:   escrow,
		cmds:     cmds,
		bus:      bus,
		log:      log,
		now:      time.Now,
	}
}

// HandlePaymentEvent is the stream consumer handler. A returned error
// sends the message back for retry, so permanent conditions (unknown
// order, already settled) return nil.
func (s *PaymentService) HandlePaymentEvent(ctx context.Context, payload []byte) error {
	var event queue.PaymentEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		s.log.Error("malformed payment event dropped", zap.Error(err))
		return nil
	}

	switch event.Type {
	case queue.PaymentEventDetected:
		return s.handleDetected(ctx, event)
	case queue.PaymentEventConfirmed:
		return s.handleConfirmed(ctx, event)
	default:
		s.log.Warn("unknown payment event type dropped", zap.String("type", event.Type))
		return nil
	}
}

func (s *PaymentService) handleDetected(ctx context.Context, event queue.PaymentEvent) error {
	if err := s.orders.MarkPaymentDetected(ctx, event.OrderID, event.TxHash, event.PayerAddress, event.Confirmations); err != nil {
		return fmt.Errorf("marking payment detected: %w", err)
	}

	s.publish(ctx, events.EventPaymentDetected, map[string]any{
		"order_id":      event.OrderID.String(),
		"tx_hash":       event.TxHash,
		"confirmations": event.Confirmations,
	})

	s.log.Info("payment detected",
		zap.String("order_id", event.OrderID.String()),
		zap.String("tx_hash", event.TxHash),
		zap.Int("confirmations", event.Confirmations),
	)
	return nil
}

func (s *PaymentService) handleConfirmed(ctx context.Context, event queue.PaymentEvent) error {
	applied, err := s.orders.MarkPaid(ctx, event.OrderID, event.TxHash, event.PayerAddress, event.Confirmations)
	if err != nil {
		return fmt.Errorf("marking order paid: %w", err)
	}

	order, err := s.orders.GetByID(ctx, event.OrderID)
	if err != nil {
		return fmt.Errorf("order lookup: %w", err)
	}

	if !applied {
		if order.Status != models.OrderStatusPaid {
			// Confirmed after expiry or cancellation; funds need manual
			// handling, nothing to settle automatically.
			s.log.Warn("confirmation for a closed order dropped",
				zap.String("order_id", order.ID.String()),
				zap.String("status", order.Status),
			)
			return nil
		}
		// Already paid. Fall through only if a crash left the
		// subscription missing; otherwise this is a duplicate.
		if _, err := s.subs.GetByOrderID(ctx, order.ID); err == nil {
			return nil
		}
	}

	listing, err := s.listings.GetByID(ctx, order.ListingID)
	if err != nil {
		return fmt.Errorf("listing lookup: %w", err)
	}

	now := s.now()
	sub := &models.Subscription{
		BuyerUserID:  order.BuyerUserID,
		ListingID:    listing.ID,
		OrderID:      order.ID,
		ChannelID:    listing.ChannelID,
		Status:       models.SubscriptionStatusActive,
		StartDate:    now,
		ExpiryDate:   now.AddDate(0, 0, listing.DurationDays),
		DurationDays: listing.DurationDays,
	}
	if err := s.subs.Create(ctx, sub); err != nil {
		return fmt.Errorf("creating subscription: %w", err)
	}

	if _, err := s.escrow.CreateEscrow(ctx, order.ID, sub.ID); err != nil {
		return fmt.Errorf("opening escrow: %w", err)
	}

	invite := queue.BotOperation{
		Operation:      queue.BotOpInviteUser,
		SubscriptionID: sub.ID,
		ChannelID:      sub.ChannelID,
	}
	if buyer, err := s.users.GetByID(ctx, order.BuyerUserID); err == nil {
		invite.TelegramUserID = buyer.TelegramUserID
	} else {
		s.log.Warn("buyer lookup failed for invite command",
			zap.String("order_id", order.ID.String()), zap.Error(err))
	}
	s.cmds.EnqueueBotOperation(ctx, invite)

	s.publish(ctx, events.EventPaymentConfirmed, map[string]any{
		"order_id":      order.ID.String(),
		"buyer_user_id": order.BuyerUserID.String(),
		"tx_hash":       event.TxHash,
	})
	s.publish(ctx, events.EventSubscriptionCreated, map[string]any{
		"subscription_id":  sub.ID.String(),
		"order_id":         order.ID.String(),
		"buyer_user_id":    order.BuyerUserID.String(),
		"merchant_user_id": listing.MerchantUserID.String(),
		"expiry_date":      sub.ExpiryDate,
	})

	s.log.Info("payment confirmed",
		zap.String("order_id", order.ID.String()),
		zap.String("subscription_id", sub.ID.String()),
		zap.String("tx_hash", event.TxHash),
	)
	return nil
}

func (s *PaymentService) publish(ctx context.Context, eventType string, payload map[string]any) {
	if s.bus == nil {
		return
	}
	_ = s.bus.Publish(ctx, events.ChannelRealtime, events.Event{Type: eventType, Payload: payload})
}
