package services

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/channelpass/backend/internal/escrow"
	"github.com/channelpass/backend/internal/events"
	"github.com/channelpass/backend/internal/models"
	"github.com/channelpass/backend/internal/queue"
)

type ExpiringSubscriptionStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.Subscription, error)
	GetExpiredActive(ctx context.Context, now time.Time) ([]models.Subscription, error)
	TransitionStatus(ctx context.Context, id uuid.UUID, from, to string) error
	ListByBuyer(ctx context.Context, buyerUserID uuid.UUID, limit, offset int) ([]models.Subscription, error)
}

// EscrowReleaser is the slice of the escrow service natural expiry needs.
type EscrowReleaser interface {
	ReleaseEscrow(ctx context.Context, subscriptionID uuid.UUID) (*models.EscrowEntry, error)
}

type RemovalQueue interface {
	EnqueueBotOperation(ctx context.Context, op queue.BotOperation) string
}

// SubscriptionService settles subscriptions that ran their full term:
// the merchant's funds move pending → available and the buyer leaves
// the channel.
type SubscriptionService struct {
	subs     ExpiringSubscriptionStore
	users    UserStore
	releaser EscrowReleaser
	cmds     RemovalQueue
	bus      events.Publisher
	log      *zap.Logger

	now func() time.Time
}

func NewSubscriptionService(
	subs ExpiringSubscriptionStore,
	users UserStore,
	releaser EscrowReleaser,
	cmds RemovalQueue,
	bus events.Publisher,
	log *zap.Logger,
) *SubscriptionService {
	return &SubscriptionService{
		subs:     subs,
		users:    users,
		releaser: releaser,
		cmds:     cmds,
		bus:      bus,
		log:      log,
		now:      time.Now,
	}
}

// ReleaseExpired processes every active subscription past its expiry
// date. Returns how many were settled.
func (s *SubscriptionService) ReleaseExpired(ctx context.Context) (int, error) {
	expired, err := s.subs.GetExpiredActive(ctx, s.now())
	if err != nil {
		return 0, err
	}

	settled := 0
	for _, sub := range expired {
		if err := s.releaseOne(ctx, sub); err != nil {
			s.log.Error("subscription release failed",
				zap.String("subscription_id", sub.ID.String()), zap.Error(err))
			continue
		}
		settled++
	}

	if settled > 0 {
		s.log.Info("released expired subscriptions", zap.Int("count", settled))
	}
	return settled, nil
}

func (s *SubscriptionService) releaseOne(ctx context.Context, sub models.Subscription) error {
	if err := s.subs.TransitionStatus(ctx, sub.ID, models.SubscriptionStatusActive, models.SubscriptionStatusExpired); err != nil {
		// Raced by a refund; the dispute path owns this subscription now.
		return err
	}

	entry, err := s.releaser.ReleaseEscrow(ctx, sub.ID)
	if err != nil {
		// An already-settled entry means a previous run got here before
		// crashing; the remaining work is the removal command below.
		if !errors.Is(err, escrow.ErrInvalidStatus) {
			return err
		}
	}

	removal := queue.BotOperation{
		Operation:      queue.BotOpRemoveUser,
		SubscriptionID: sub.ID,
		ChannelID:      sub.ChannelID,
		Reason:         queue.RemoveReasonExpired,
	}
	if buyer, err := s.users.GetByID(ctx, sub.BuyerUserID); err == nil {
		removal.TelegramUserID = buyer.TelegramUserID
	} else {
		s.log.Warn("buyer lookup failed for removal command",
			zap.String("subscription_id", sub.ID.String()), zap.Error(err))
	}
	s.cmds.EnqueueBotOperation(ctx, removal)

	if s.bus != nil && entry != nil {
		_ = s.bus.Publish(ctx, events.ChannelRealtime, events.Event{
			Type: events.EventEscrowReleased,
			Payload: map[string]any{
				"subscription_id":  sub.ID.String(),
				"order_id":         entry.OrderID.String(),
				"buyer_user_id":    sub.BuyerUserID.String(),
				"merchant_user_id": entry.MerchantUserID.String(),
				"merchant_amount":  entry.MerchantAmount,
				"currency":         entry.Currency,
			},
		})
	}
	return nil
}

func (s *SubscriptionService) GetSubscription(ctx context.Context, id uuid.UUID) (*models.Subscription, error) {
	return s.subs.GetByID(ctx, id)
}

func (s *SubscriptionService) ListBuyerSubscriptions(ctx context.Context, buyerUserID uuid.UUID, limit, offset int) ([]models.Subscription, error) {
	return s.subs.ListByBuyer(ctx, buyerUserID, limit, offset)
}
