package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/channelpass/backend/internal/models"
	"github.com/channelpass/backend/internal/queue"
)

type fakeOrderStore struct {
	byID map[uuid.UUID]*models.Order
}

func (f *fakeOrderStore) Create(ctx context.Context, o *models.Order) error {
	if o.ID == uuid.Nil {
		o.ID = uuid.New()
	}
	cp := *o
	f.byID[o.ID] = &cp
	return nil
}

func (f *fakeOrderStore) GetByID(ctx context.Context, id uuid.UUID) (*models.Order, error) {
	o, ok := f.byID[id]
	if !ok {
		return nil, errors.New("order not found")
	}
	cp := *o
	return &cp, nil
}

func (f *fakeOrderStore) TransitionStatus(ctx context.Context, id uuid.UUID, from, to string) error {
	o, ok := f.byID[id]
	if !ok || o.Status != from {
		return errors.New("stale transition")
	}
	o.Status = to
	return nil
}

func (f *fakeOrderStore) GetExpiredUnpaid(ctx context.Context, now time.Time) ([]models.Order, error) {
	var out []models.Order
	for _, o := range f.byID {
		if (o.Status == models.OrderStatusPending || o.Status == models.OrderStatusPaymentDetected) && o.ExpiresAt.Before(now) {
			out = append(out, *o)
		}
	}
	return out, nil
}

func (f *fakeOrderStore) GetAwaitingPayment(ctx context.Context) ([]models.Order, error) {
	return nil, nil
}

func (f *fakeOrderStore) ListByBuyer(ctx context.Context, buyerUserID uuid.UUID, limit, offset int) ([]models.Order, error) {
	return nil, nil
}

type fakeConverter struct {
	rate float64
	err  error
}

func (f *fakeConverter) Convert(ctx context.Context, usdAmount float64, currency string) (float64, error) {
	if f.err != nil {
		return 0, f.err
	}
	return usdAmount / f.rate, nil
}

type fakeIssuer struct {
	issued int
}

func (f *fakeIssuer) IssueAddress(ctx context.Context, orderID, currency string) (string, error) {
	f.issued++
	return "addr-" + orderID[:8], nil
}

type fakeWatcher struct {
	watched   map[string]uuid.UUID
	unwatched []string
}

func (f *fakeWatcher) WatchAddress(address string, orderID uuid.UUID, currency string, expectedAmount float64, callback func(queue.PaymentEvent)) error {
	if f.watched == nil {
		f.watched = make(map[string]uuid.UUID)
	}
	f.watched[address] = orderID
	return nil
}

func (f *fakeWatcher) UnwatchAddress(address string) {
	f.unwatched = append(f.unwatched, address)
	delete(f.watched, address)
}

type nopAudit struct{}

func (nopAudit) Append(ctx context.Context, entry models.AuditLog) error { return nil }

func newOrderService(t *testing.T, listing *models.Listing) (*OrderService, *fakeOrderStore, *fakeWatcher, uuid.UUID) {
	t.Helper()

	listingID := uuid.New()
	listing.ID = listingID
	orders := &fakeOrderStore{byID: make(map[uuid.UUID]*models.Order)}
	watcher := &fakeWatcher{}

	svc := NewOrderService(
		orders,
		&fakeListings{byID: map[uuid.UUID]*models.Listing{listingID: listing}},
		&fakeConverter{rate: 500}, // 1 unit = 500 USD
		&fakeIssuer{},
		watcher,
		nopAudit{},
		zap.NewNop(),
	)
	return svc, orders, watcher, listingID
}

func TestCreateOrder(t *testing.T) {
	svc, orders, watcher, listingID := newOrderService(t, &models.Listing{
		PriceUSD: 100, DurationDays: 30, IsActive: true,
	})

	buyer := uuid.New()
	order, err := svc.CreateOrder(context.Background(), buyer, listingID, models.CurrencyBNB)
	if err != nil {
		t.Fatalf("CreateOrder: %v", err)
	}

	if order.Amount != 0.2 {
		t.Errorf("amount = %v, want 0.2 (100 USD at 500)", order.Amount)
	}
	if order.Status != models.OrderStatusPending {
		t.Errorf("status = %q, want pending", order.Status)
	}
	if until := time.Until(order.ExpiresAt); until > models.OrderTTL || until < models.OrderTTL-time.Minute {
		t.Errorf("expiry not 24h out: %v", order.ExpiresAt)
	}
	if order.DepositAddress == "" {
		t.Error("no deposit address issued")
	}
	if watcher.watched[order.DepositAddress] != order.ID {
		t.Error("deposit address not watched")
	}
	if _, ok := orders.byID[order.ID]; !ok {
		t.Error("order not persisted")
	}
}

func TestCreateOrderRejections(t *testing.T) {
	t.Run("unsupported currency", func(t *testing.T) {
		svc, _, _, listingID := newOrderService(t, &models.Listing{PriceUSD: 100, IsActive: true})
		if _, err := svc.CreateOrder(context.Background(), uuid.New(), listingID, "DOGE"); !errors.Is(err, ErrCurrencyUnsupported) {
			t.Errorf("got %v, want ErrCurrencyUnsupported", err)
		}
	})

	t.Run("inactive listing", func(t *testing.T) {
		svc, _, _, listingID := newOrderService(t, &models.Listing{PriceUSD: 100, IsActive: false})
		if _, err := svc.CreateOrder(context.Background(), uuid.New(), listingID, models.CurrencyBNB); !errors.Is(err, ErrListingInactive) {
			t.Errorf("got %v, want ErrListingInactive", err)
		}
	})
}

func TestCancelOrder(t *testing.T) {
	svc, orders, watcher, listingID := newOrderService(t, &models.Listing{PriceUSD: 100, IsActive: true})

	buyer := uuid.New()
	order, err := svc.CreateOrder(context.Background(), buyer, listingID, models.CurrencyBTC)
	if err != nil {
		t.Fatalf("CreateOrder: %v", err)
	}

	if err := svc.CancelOrder(context.Background(), uuid.New(), order.ID); !errors.Is(err, ErrNotOrderOwner) {
		t.Errorf("foreign cancel: got %v, want ErrNotOrderOwner", err)
	}

	if err := svc.CancelOrder(context.Background(), buyer, order.ID); err != nil {
		t.Fatalf("CancelOrder: %v", err)
	}
	if got := orders.byID[order.ID].Status; got != models.OrderStatusCancelled {
		t.Errorf("status = %q, want cancelled", got)
	}
	if len(watcher.unwatched) != 1 {
		t.Errorf("address not unwatched")
	}

	// Paid orders cannot be cancelled.
	orders.byID[order.ID].Status = models.OrderStatusPaid
	if err := svc.CancelOrder(context.Background(), buyer, order.ID); !errors.Is(err, ErrOrderNotCancelable) {
		t.Errorf("cancel paid: got %v, want ErrOrderNotCancelable", err)
	}
}

func TestExpireOrders(t *testing.T) {
	svc, orders, watcher, listingID := newOrderService(t, &models.Listing{PriceUSD: 100, IsActive: true})

	stale, err := svc.CreateOrder(context.Background(), uuid.New(), listingID, models.CurrencyBNB)
	if err != nil {
		t.Fatalf("CreateOrder: %v", err)
	}
	fresh, err := svc.CreateOrder(context.Background(), uuid.New(), listingID, models.CurrencyBNB)
	if err != nil {
		t.Fatalf("CreateOrder: %v", err)
	}

	orders.byID[stale.ID].ExpiresAt = time.Now().Add(-time.Hour)

	n, err := svc.ExpireOrders(context.Background())
	if err != nil {
		t.Fatalf("ExpireOrders: %v", err)
	}
	if n != 1 {
		t.Errorf("expired %d orders, want 1", n)
	}
	if got := orders.byID[stale.ID].Status; got != models.OrderStatusExpired {
		t.Errorf("stale order status = %q, want expired", got)
	}
	if got := orders.byID[fresh.ID].Status; got != models.OrderStatusPending {
		t.Errorf("fresh order status = %q, want pending", got)
	}
	if len(watcher.unwatched) != 1 || watcher.unwatched[0] != stale.DepositAddress {
		t.Errorf("unwatched = %v, want just the stale address", watcher.unwatched)
	}
}
