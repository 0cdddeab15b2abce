package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/channelpass/backend/internal/models"
	"github.com/channelpass/backend/internal/queue"
)

var (
	ErrListingInactive     = errors.New("listing is not active")
	ErrCurrencyUnsupported = errors.New("unsupported payment currency")
	ErrNotOrderOwner       = errors.New("order belongs to another buyer")
	ErrOrderNotCancelable  = errors.New("order can no longer be cancelled")
)

type OrderStore interface {
	Create(ctx context.Context, o *models.Order) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Order, error)
	TransitionStatus(ctx context.Context, id uuid.UUID, from, to string) error
	GetExpiredUnpaid(ctx context.Context, now time.Time) ([]models.Order, error)
	GetAwaitingPayment(ctx context.Context) ([]models.Order, error)
	ListByBuyer(ctx context.Context, buyerUserID uuid.UUID, limit, offset int) ([]models.Order, error)
}

type ListingStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.Listing, error)
}

// PriceConverter turns the listing's USD price into the crypto amount
// the order charges.
type PriceConverter interface {
	Convert(ctx context.Context, usdAmount float64, currency string) (float64, error)
}

// AddressIssuer hands out a fresh deposit address per order.
type AddressIssuer interface {
	IssueAddress(ctx context.Context, orderID, currency string) (string, error)
}

// AddressWatcher is the monitor-facing hook. The chain monitor also
// rebuilds its watch set from open orders, so a nil watcher (api and
// monitor in separate processes) only delays detection until the next
// refresh.
type AddressWatcher interface {
	WatchAddress(address string, orderID uuid.UUID, currency string, expectedAmount float64, callback func(queue.PaymentEvent)) error
	UnwatchAddress(address string)
}

type AuditStore interface {
	Append(ctx context.Context, entry models.AuditLog) error
}

type OrderService struct {
	orders   OrderStore
	listings ListingStore
	prices   PriceConverter
	wallet   AddressIssuer
	watcher  AddressWatcher
	audit    AuditStore
	log      *zap.Logger

	now func() time.Time
}

func NewOrderService(
	orders OrderStore,
	listings ListingStore,
	prices PriceConverter,
	wallet AddressIssuer,
	watcher AddressWatcher,
	audit AuditStore,
	log *zap.Logger,
) *OrderService {
	return &OrderService{
		orders:   orders,
		listings: listings,
		prices:   prices,
		wallet:   wallet,
		watcher:  watcher,
		audit:    audit,
		log:      log,
		now:      time.Now,
	}
}

// CreateOrder opens a purchase attempt: the listing's USD price is
// converted to the buyer's currency, a dedicated deposit address is
// issued, and the order waits unpaid for up to 24 hours.
func (s *OrderService) CreateOrder(ctx context.Context, buyerUserID, listingID uuid.UUID, currency string) (*models.Order, error) {
	if !models.IsSupportedCurrency(currency) {
		return nil, ErrCurrencyUnsupported
	}

	listing, err := s.listings.GetByID(ctx, listingID)
	if err != nil {
		return nil, fmt.Errorf("listing lookup: %w", err)
	}
	if !listing.IsActive {
		return nil, ErrListingInactive
	}

	amount, err := s.prices.Convert(ctx, listing.PriceUSD, currency)
	if err != nil {
		return nil, fmt.Errorf("price conversion: %w", err)
	}

	orderID := uuid.New()
	address, err := s.wallet.IssueAddress(ctx, orderID.String(), currency)
	if err != nil {
		return nil, fmt.Errorf("deposit address issuance: %w", err)
	}

	now := s.now()
	order := &models.Order{
		ID:             orderID,
		BuyerUserID:    buyerUserID,
		ListingID:      listingID,
		DepositAddress: address,
		Amount:         amount,
		Currency:       currency,
		Status:         models.OrderStatusPending,
		ExpiresAt:      now.Add(models.OrderTTL),
	}
	if err := s.orders.Create(ctx, order); err != nil {
		return nil, err
	}

	if s.watcher != nil {
		if err := s.watcher.WatchAddress(address, order.ID, currency, amount, nil); err != nil {
			s.log.Warn("failed to watch deposit address",
				zap.String("order_id", order.ID.String()), zap.Error(err))
		}
	}

	_ = s.audit.Append(ctx, models.AuditLog{
		EntityType: "order",
		EntityID:   order.ID,
		Action:     "created",
		NewStatus:  models.OrderStatusPending,
		OrderID:    &order.ID,
		Meta: map[string]any{
			"amount":   amount,
			"currency": currency,
			"usd":      listing.PriceUSD,
		},
	})

	s.log.Info("order created",
		zap.String("order_id", order.ID.String()),
		zap.String("currency", currency),
		zap.Float64("amount", amount),
	)
	return order, nil
}

// CancelOrder withdraws an unpaid order at the buyer's request.
func (s *OrderService) CancelOrder(ctx context.Context, buyerUserID, orderID uuid.UUID) error {
	order, err := s.orders.GetByID(ctx, orderID)
	if err != nil {
		return err
	}
	if order.BuyerUserID != buyerUserID {
		return ErrNotOrderOwner
	}
	if !models.IsValidOrderTransition(order.Status, models.OrderStatusCancelled) {
		return ErrOrderNotCancelable
	}

	if err := s.orders.TransitionStatus(ctx, orderID, order.Status, models.OrderStatusCancelled); err != nil {
		return err
	}
	if s.watcher != nil {
		s.watcher.UnwatchAddress(order.DepositAddress)
	}

	_ = s.audit.Append(ctx, models.AuditLog{
		EntityType: "order",
		EntityID:   orderID,
		Action:     "cancelled",
		OldStatus:  &order.Status,
		NewStatus:  models.OrderStatusCancelled,
		OrderID:    &orderID,
	})
	return nil
}

// ExpireOrders closes orders that stayed unpaid past their TTL. Returns
// how many were expired.
func (s *OrderService) ExpireOrders(ctx context.Context) (int, error) {
	stale, err := s.orders.GetExpiredUnpaid(ctx, s.now())
	if err != nil {
		return 0, err
	}

	expired := 0
	for _, order := range stale {
		if err := s.orders.TransitionStatus(ctx, order.ID, order.Status, models.OrderStatusExpired); err != nil {
			// Raced by a confirmation or a cancel; skip it.
			s.log.Debug("order expiry skipped",
				zap.String("order_id", order.ID.String()), zap.Error(err))
			continue
		}
		if s.watcher != nil {
			s.watcher.UnwatchAddress(order.DepositAddress)
		}
		_ = s.audit.Append(ctx, models.AuditLog{
			EntityType: "order",
			EntityID:   order.ID,
			Action:     "expired",
			OldStatus:  &order.Status,
			NewStatus:  models.OrderStatusExpired,
			OrderID:    &order.ID,
		})
		expired++
	}

	if expired > 0 {
		s.log.Info("expired unpaid orders", zap.Int("count", expired))
	}
	return expired, nil
}

func (s *OrderService) GetOrder(ctx context.Context, id uuid.UUID) (*models.Order, error) {
	return s.orders.GetByID(ctx, id)
}

func (s *OrderService) ListBuyerOrders(ctx context.Context, buyerUserID uuid.UUID, limit, offset int) ([]models.Order, error) {
	return s.orders.ListByBuyer(ctx, buyerUserID, limit, offset)
}
