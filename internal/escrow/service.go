// Package escrow holds payment amounts logically between confirmation
// and settlement.
//
// Flow:
//  1. Order confirmed → entry created HELD, merchant pending += merchantAmount
//  2. Subscription runs out naturally → RELEASED, pending → available
//  3. Dispute approved → REFUNDED, pending -= full merchantAmount,
//     buyer refunded the pro-rated remainder
//
// Held entries move to released or refunded exactly once; the stores
// gate every transition on the prior status so two concurrent callers
// (a scheduled release racing an admin refund) cannot both win.
package escrow

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/channelpass/backend/internal/models"
)

var (
	ErrNotFound      = errors.New("escrow entry not found")
	ErrInvalidStatus = errors.New("invalid escrow status for this operation")
	ErrInvalidFee    = errors.New("platform fee percentage must be within [0, 1]")
)

// Store persists escrow entries. Every money-moving operation must be
// atomic. CreateHeld inserts the entry and credits the merchant's
// pending balance as one write, so a failure leaves neither behind and
// a retry cannot lose the credit. ReleaseHeld and RefundHeld gate the
// status flip and the balance move on the prior status in one
// conditional update, returning ErrInvalidStatus when the entry is no
// longer held.
type Store interface {
	CreateHeld(ctx context.Context, entry *models.EscrowEntry) error
	GetByOrderID(ctx context.Context, orderID uuid.UUID) (*models.EscrowEntry, error)
	GetBySubscriptionID(ctx context.Context, subscriptionID uuid.UUID) (*models.EscrowEntry, error)
	ReleaseHeld(ctx context.Context, subscriptionID uuid.UUID) (*models.EscrowEntry, error)
	RefundHeld(ctx context.Context, subscriptionID uuid.UUID, refundAmount float64) (*models.EscrowEntry, error)
	HeldTotalsByCurrency(ctx context.Context) (map[string]float64, error)
	MerchantTotals(ctx context.Context, merchantUserID uuid.UUID) (held, released map[string]float64, err error)
}

// BalanceStore reads per-merchant, per-currency balances. All balance
// mutations go through Store so they stay in the same write as the
// escrow transition they belong to.
type BalanceStore interface {
	Get(ctx context.Context, merchantUserID uuid.UUID, currency string) (*models.MerchantBalance, error)
}

// AuditStore appends escrow transition records. Append failures are
// swallowed by the service: the audit trail must never abort the
// money-moving operation it describes.
type AuditStore interface {
	Append(ctx context.Context, entry models.AuditLog) error
	Query(ctx context.Context, filter models.AuditFilter) ([]models.AuditLog, error)
}

type OrderStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.Order, error)
}

type ListingStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.Listing, error)
}

type SubscriptionStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.Subscription, error)
}

// Service implements the escrow ledger.
type Service struct {
	store    Store
	balances BalanceStore
	audit    AuditStore
	orders   OrderStore
	listings ListingStore
	subs     SubscriptionStore
	log      *zap.Logger

	mu            sync.RWMutex
	feePercentage float64

	now func() time.Time
}

func NewService(
	store Store,
	balances BalanceStore,
	audit AuditStore,
	orders OrderStore,
	listings ListingStore,
	subs SubscriptionStore,
	feePercentage float64,
	log *zap.Logger,
) *Service {
	if feePercentage < 0 || feePercentage > 1 {
		feePercentage = 0.05
	}
	return &Service{
		store:         store,
		balances:      balances,
		audit:         audit,
		orders:        orders,
		listings:      listings,
		subs:          subs,
		feePercentage: feePercentage,
		now:           time.Now,
		log:           log,
	}
}

func (s *Service) GetPlatformFeePercentage() float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.feePercentage
}

func (s *Service) SetPlatformFeePercentage(p float64) error {
	if p < 0 || p > 1 {
		return ErrInvalidFee
	}
	s.mu.Lock()
	s.feePercentage = p
	s.mu.Unlock()
	return nil
}

// CreateEscrow opens a HELD entry for a confirmed order. Idempotent: an
// existing entry for the order is returned unchanged.
func (s *Service) CreateEscrow(ctx context.Context, orderID, subscriptionID uuid.UUID) (*models.EscrowEntry, error) {
	if existing, err := s.store.GetByOrderID(ctx, orderID); err == nil {
		return existing, nil
	} else if !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	order, err := s.orders.GetByID(ctx, orderID)
	if err != nil {
		return nil, fmt.Errorf("order lookup: %w", err)
	}
	listing, err := s.listings.GetByID(ctx, order.ListingID)
	if err != nil {
		return nil, fmt.Errorf("listing lookup: %w", err)
	}

	fee := order.Amount * s.GetPlatformFeePercentage()
	entry := &models.EscrowEntry{
		OrderID:        orderID,
		SubscriptionID: &subscriptionID,
		MerchantUserID: listing.MerchantUserID,
		Amount:         order.Amount,
		Currency:       order.Currency,
		Status:         models.EscrowStatusHeld,
		PlatformFee:    fee,
		MerchantAmount: order.Amount - fee,
	}

	if err := s.store.CreateHeld(ctx, entry); err != nil {
		return nil, err
	}

	s.logAudit(ctx, models.AuditLog{
		EntityType: "escrow",
		EntityID:   entry.ID,
		Action:     models.EscrowActionCreated,
		NewStatus:  models.EscrowStatusHeld,
		OrderID:    &orderID,
		Meta: map[string]any{
			"amount":          entry.Amount,
			"currency":        entry.Currency,
			"platform_fee":    entry.PlatformFee,
			"merchant_amount": entry.MerchantAmount,
		},
	})

	s.log.Info("escrow held",
		zap.String("order_id", orderID.String()),
		zap.Float64("amount", entry.Amount),
		zap.Float64("merchant_amount", entry.MerchantAmount),
		zap.String("currency", entry.Currency),
	)
	return entry, nil
}

// ReleaseEscrow settles a held entry to the merchant: status RELEASED,
// merchantAmount moved from pending to available. Fails with
// ErrInvalidStatus unless the entry is currently held.
func (s *Service) ReleaseEscrow(ctx context.Context, subscriptionID uuid.UUID) (*models.EscrowEntry, error) {
	entry, err := s.store.ReleaseHeld(ctx, subscriptionID)
	if err != nil {
		return nil, err
	}

	old := models.EscrowStatusHeld
	s.logAudit(ctx, models.AuditLog{
		EntityType: "escrow",
		EntityID:   entry.ID,
		Action:     models.EscrowActionReleased,
		OldStatus:  &old,
		NewStatus:  models.EscrowStatusReleased,
		OrderID:    &entry.OrderID,
		Meta:       map[string]any{"merchant_amount": entry.MerchantAmount, "currency": entry.Currency},
	})

	s.log.Info("escrow released",
		zap.String("subscription_id", subscriptionID.String()),
		zap.Float64("merchant_amount", entry.MerchantAmount),
	)
	return entry, nil
}

// RefundEscrow refunds a held entry to the buyer: status REFUNDED, a
// pro-rated refund amount computed from the subscription's unused days,
// and the merchant's pending balance decremented by the FULL merchant
// amount — the merchant forfeits the whole held amount on any refund.
func (s *Service) RefundEscrow(ctx context.Context, subscriptionID uuid.UUID) (*models.EscrowEntry, float64, error) {
	sub, err := s.subs.GetByID(ctx, subscriptionID)
	if err != nil {
		return nil, 0, fmt.Errorf("subscription lookup: %w", err)
	}
	current, err := s.store.GetBySubscriptionID(ctx, subscriptionID)
	if err != nil {
		return nil, 0, err
	}

	refundAmount := CalculateProRatedRefund(sub, current.Amount, s.now())

	entry, err := s.store.RefundHeld(ctx, subscriptionID, refundAmount)
	if err != nil {
		return nil, 0, err
	}

	old := models.EscrowStatusHeld
	s.logAudit(ctx, models.AuditLog{
		EntityType: "escrow",
		EntityID:   entry.ID,
		Action:     models.EscrowActionRefunded,
		OldStatus:  &old,
		NewStatus:  models.EscrowStatusRefunded,
		OrderID:    &entry.OrderID,
		Meta: map[string]any{
			"refund_amount":             refundAmount,
			"merchant_amount_forfeited": entry.MerchantAmount,
			"currency":                  entry.Currency,
		},
	})

	s.log.Info("escrow refunded",
		zap.String("subscription_id", subscriptionID.String()),
		zap.Float64("refund_amount", refundAmount),
		zap.Float64("merchant_amount_forfeited", entry.MerchantAmount),
	)
	return entry, refundAmount, nil
}

func (s *Service) GetByOrderID(ctx context.Context, orderID uuid.UUID) (*models.EscrowEntry, error) {
	return s.store.GetByOrderID(ctx, orderID)
}

func (s *Service) GetBySubscriptionID(ctx context.Context, subscriptionID uuid.UUID) (*models.EscrowEntry, error) {
	return s.store.GetBySubscriptionID(ctx, subscriptionID)
}

func (s *Service) HeldTotalsByCurrency(ctx context.Context) (map[string]float64, error) {
	return s.store.HeldTotalsByCurrency(ctx)
}

func (s *Service) MerchantTotals(ctx context.Context, merchantUserID uuid.UUID) (held, released map[string]float64, err error) {
	return s.store.MerchantTotals(ctx, merchantUserID)
}

func (s *Service) MerchantBalance(ctx context.Context, merchantUserID uuid.UUID, currency string) (*models.MerchantBalance, error) {
	return s.balances.Get(ctx, merchantUserID, currency)
}

func (s *Service) AuditTrail(ctx context.Context, filter models.AuditFilter) ([]models.AuditLog, error) {
	return s.audit.Query(ctx, filter)
}

func (s *Service) logAudit(ctx context.Context, entry models.AuditLog) {
	if err := s.audit.Append(ctx, entry); err != nil {
		s.log.Error("audit append failed", zap.String("action", entry.Action), zap.Error(err))
	}
}
