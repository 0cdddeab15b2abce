package escrow

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/channelpass/backend/internal/models"
)

type memStore struct {
	entries  map[uuid.UUID]*models.EscrowEntry // keyed by order ID
	balances *memBalances
}

func newMemStore(balances *memBalances) *memStore {
	return &memStore{entries: make(map[uuid.UUID]*models.EscrowEntry), balances: balances}
}

func (m *memStore) CreateHeld(ctx context.Context, entry *models.EscrowEntry) error {
	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	cp := *entry
	m.entries[entry.OrderID] = &cp
	m.balances.get(entry.MerchantUserID, entry.Currency).Pending += entry.MerchantAmount
	return nil
}

func (m *memStore) GetByOrderID(ctx context.Context, orderID uuid.UUID) (*models.EscrowEntry, error) {
	e, ok := m.entries[orderID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *e
	return &cp, nil
}

func (m *memStore) GetBySubscriptionID(ctx context.Context, subscriptionID uuid.UUID) (*models.EscrowEntry, error) {
	for _, e := range m.entries {
		if e.SubscriptionID != nil && *e.SubscriptionID == subscriptionID {
			cp := *e
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (m *memStore) ReleaseHeld(ctx context.Context, subscriptionID uuid.UUID) (*models.EscrowEntry, error) {
	e := m.findBySub(subscriptionID)
	if e == nil {
		return nil, ErrNotFound
	}
	if e.Status != models.EscrowStatusHeld {
		return nil, ErrInvalidStatus
	}
	e.Status = models.EscrowStatusReleased
	b := m.balances.get(e.MerchantUserID, e.Currency)
	b.Pending -= e.MerchantAmount
	b.Available += e.MerchantAmount
	b.TotalEarned += e.MerchantAmount
	cp := *e
	return &cp, nil
}

func (m *memStore) RefundHeld(ctx context.Context, subscriptionID uuid.UUID, refundAmount float64) (*models.EscrowEntry, error) {
	e := m.findBySub(subscriptionID)
	if e == nil {
		return nil, ErrNotFound
	}
	if e.Status != models.EscrowStatusHeld {
		return nil, ErrInvalidStatus
	}
	e.Status = models.EscrowStatusRefunded
	e.RefundAmount = &refundAmount
	b := m.balances.get(e.MerchantUserID, e.Currency)
	b.Pending -= e.MerchantAmount
	cp := *e
	return &cp, nil
}

func (m *memStore) HeldTotalsByCurrency(ctx context.Context) (map[string]float64, error) {
	totals := make(map[string]float64)
	for _, e := range m.entries {
		if e.Status == models.EscrowStatusHeld {
			totals[e.Currency] += e.Amount
		}
	}
	return totals, nil
}

func (m *memStore) MerchantTotals(ctx context.Context, merchantUserID uuid.UUID) (map[string]float64, map[string]float64, error) {
	held := make(map[string]float64)
	released := make(map[string]float64)
	for _, e := range m.entries {
		if e.MerchantUserID != merchantUserID {
			continue
		}
		switch e.Status {
		case models.EscrowStatusHeld:
			held[e.Currency] += e.MerchantAmount
		case models.EscrowStatusReleased:
			released[e.Currency] += e.MerchantAmount
		}
	}
	return held, released, nil
}

func (m *memStore) findBySub(subscriptionID uuid.UUID) *models.EscrowEntry {
	for _, e := range m.entries {
		if e.SubscriptionID != nil && *e.SubscriptionID == subscriptionID {
			return e
		}
	}
	return nil
}

type balanceKey struct {
	merchant uuid.UUID
	currency string
}

type memBalances struct {
	byKey map[balanceKey]*models.MerchantBalance
}

func newMemBalances() *memBalances {
	return &memBalances{byKey: make(map[balanceKey]*models.MerchantBalance)}
}

func (m *memBalances) get(merchant uuid.UUID, currency string) *models.MerchantBalance {
	k := balanceKey{merchant, currency}
	b, ok := m.byKey[k]
	if !ok {
		b = &models.MerchantBalance{MerchantUserID: merchant, Currency: currency}
		m.byKey[k] = b
	}
	return b
}

func (m *memBalances) Get(ctx context.Context, merchantUserID uuid.UUID, currency string) (*models.MerchantBalance, error) {
	cp := *m.get(merchantUserID, currency)
	return &cp, nil
}

type memAudit struct {
	logs []models.AuditLog
}

func (m *memAudit) Append(ctx context.Context, entry models.AuditLog) error {
	m.logs = append(m.logs, entry)
	return nil
}

func (m *memAudit) Query(ctx context.Context, filter models.AuditFilter) ([]models.AuditLog, error) {
	return m.logs, nil
}

type memOrders struct {
	byID map[uuid.UUID]*models.Order
}

func (m *memOrders) GetByID(ctx context.Context, id uuid.UUID) (*models.Order, error) {
	o, ok := m.byID[id]
	if !ok {
		return nil, errors.New("order not found")
	}
	return o, nil
}

type memListings struct {
	byID map[uuid.UUID]*models.Listing
}

func (m *memListings) GetByID(ctx context.Context, id uuid.UUID) (*models.Listing, error) {
	l, ok := m.byID[id]
	if !ok {
		return nil, errors.New("listing not found")
	}
	return l, nil
}

type memSubs struct {
	byID map[uuid.UUID]*models.Subscription
}

func (m *memSubs) GetByID(ctx context.Context, id uuid.UUID) (*models.Subscription, error) {
	s, ok := m.byID[id]
	if !ok {
		return nil, errors.New("subscription not found")
	}
	return s, nil
}

type escrowFixture struct {
	svc      *Service
	store    *memStore
	balances *memBalances
	audit    *memAudit
	orders   *memOrders
	listings *memListings
	subs     *memSubs

	merchantID     uuid.UUID
	orderID        uuid.UUID
	subscriptionID uuid.UUID
}

// newEscrowFixture wires a 100 USDT-BEP20 order for a 30-day
// subscription that started ten days before the service clock.
func newEscrowFixture(t *testing.T, feePct float64) *escrowFixture {
	t.Helper()

	f := &escrowFixture{
		balances:       newMemBalances(),
		audit:          &memAudit{},
		merchantID:     uuid.New(),
		orderID:        uuid.New(),
		subscriptionID: uuid.New(),
	}
	f.store = newMemStore(f.balances)

	listingID := uuid.New()
	f.orders = &memOrders{byID: map[uuid.UUID]*models.Order{
		f.orderID: {
			ID:        f.orderID,
			ListingID: listingID,
			Amount:    100,
			Currency:  models.CurrencyUSDTBEP20,
			Status:    models.OrderStatusPaid,
		},
	}}
	f.listings = &memListings{byID: map[uuid.UUID]*models.Listing{
		listingID: {ID: listingID, MerchantUserID: f.merchantID},
	}}

	now := time.Date(2025, 7, 11, 0, 0, 0, 0, time.UTC)
	start := now.AddDate(0, 0, -10)
	f.subs = &memSubs{byID: map[uuid.UUID]*models.Subscription{
		f.subscriptionID: {
			ID:           f.subscriptionID,
			OrderID:      f.orderID,
			Status:       models.SubscriptionStatusActive,
			StartDate:    start,
			ExpiryDate:   start.AddDate(0, 0, 30),
			DurationDays: 30,
		},
	}}

	f.svc = NewService(f.store, f.balances, f.audit, f.orders, f.listings, f.subs, feePct, zap.NewNop())
	f.svc.now = func() time.Time { return now }
	return f
}

func TestCreateEscrowSplitsFee(t *testing.T) {
	f := newEscrowFixture(t, 0.05)
	ctx := context.Background()

	entry, err := f.svc.CreateEscrow(ctx, f.orderID, f.subscriptionID)
	if err != nil {
		t.Fatalf("CreateEscrow: %v", err)
	}

	if entry.Status != models.EscrowStatusHeld {
		t.Errorf("status = %q, want %q", entry.Status, models.EscrowStatusHeld)
	}
	if math.Abs(entry.PlatformFee-5) > 1e-9 {
		t.Errorf("platform fee = %v, want 5", entry.PlatformFee)
	}
	if math.Abs(entry.MerchantAmount-95) > 1e-9 {
		t.Errorf("merchant amount = %v, want 95", entry.MerchantAmount)
	}
	if math.Abs(entry.PlatformFee+entry.MerchantAmount-entry.Amount) > 1e-9 {
		t.Errorf("fee split does not sum to amount: %v + %v != %v",
			entry.PlatformFee, entry.MerchantAmount, entry.Amount)
	}

	bal, _ := f.balances.Get(ctx, f.merchantID, models.CurrencyUSDTBEP20)
	if math.Abs(bal.Pending-95) > 1e-9 {
		t.Errorf("pending balance = %v, want 95", bal.Pending)
	}
	if bal.Available != 0 {
		t.Errorf("available balance = %v, want 0", bal.Available)
	}
}

func TestCreateEscrowIsIdempotent(t *testing.T) {
	f := newEscrowFixture(t, 0.05)
	ctx := context.Background()

	first, err := f.svc.CreateEscrow(ctx, f.orderID, f.subscriptionID)
	if err != nil {
		t.Fatalf("first CreateEscrow: %v", err)
	}
	second, err := f.svc.CreateEscrow(ctx, f.orderID, f.subscriptionID)
	if err != nil {
		t.Fatalf("second CreateEscrow: %v", err)
	}

	if first.ID != second.ID {
		t.Errorf("second call created a new entry: %s != %s", first.ID, second.ID)
	}

	bal, _ := f.balances.Get(ctx, f.merchantID, models.CurrencyUSDTBEP20)
	if math.Abs(bal.Pending-95) > 1e-9 {
		t.Errorf("pending balance incremented twice: %v, want 95", bal.Pending)
	}
}

// failOnceStore rejects the first CreateHeld without persisting
// anything, like a connection dropped before the statement ran.
type failOnceStore struct {
	*memStore
	failed bool
}

func (f *failOnceStore) CreateHeld(ctx context.Context, entry *models.EscrowEntry) error {
	if !f.failed {
		f.failed = true
		return errors.New("connection reset")
	}
	return f.memStore.CreateHeld(ctx, entry)
}

func TestCreateEscrowRetryAfterTransientFailure(t *testing.T) {
	f := newEscrowFixture(t, 0.05)
	ctx := context.Background()
	f.svc.store = &failOnceStore{memStore: f.store}

	if _, err := f.svc.CreateEscrow(ctx, f.orderID, f.subscriptionID); err == nil {
		t.Fatal("first CreateEscrow: expected error, got nil")
	}

	// A failed create leaves neither the entry nor the credit behind.
	if _, err := f.store.GetByOrderID(ctx, f.orderID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("entry after failed create: got %v, want ErrNotFound", err)
	}
	bal, _ := f.balances.Get(ctx, f.merchantID, models.CurrencyUSDTBEP20)
	if bal.Pending != 0 {
		t.Fatalf("pending after failed create = %v, want 0", bal.Pending)
	}

	// The retry must land both halves.
	entry, err := f.svc.CreateEscrow(ctx, f.orderID, f.subscriptionID)
	if err != nil {
		t.Fatalf("retry CreateEscrow: %v", err)
	}
	if entry.Status != models.EscrowStatusHeld {
		t.Errorf("status = %q, want %q", entry.Status, models.EscrowStatusHeld)
	}
	bal, _ = f.balances.Get(ctx, f.merchantID, models.CurrencyUSDTBEP20)
	if math.Abs(bal.Pending-95) > 1e-9 {
		t.Errorf("merchant pending = %v, want 95 after retry", bal.Pending)
	}
}

func TestReleaseEscrowMovesPendingToAvailable(t *testing.T) {
	f := newEscrowFixture(t, 0.05)
	ctx := context.Background()

	if _, err := f.svc.CreateEscrow(ctx, f.orderID, f.subscriptionID); err != nil {
		t.Fatalf("CreateEscrow: %v", err)
	}

	entry, err := f.svc.ReleaseEscrow(ctx, f.subscriptionID)
	if err != nil {
		t.Fatalf("ReleaseEscrow: %v", err)
	}
	if entry.Status != models.EscrowStatusReleased {
		t.Errorf("status = %q, want %q", entry.Status, models.EscrowStatusReleased)
	}

	bal, _ := f.balances.Get(ctx, f.merchantID, models.CurrencyUSDTBEP20)
	if math.Abs(bal.Pending) > 1e-9 {
		t.Errorf("pending = %v, want 0", bal.Pending)
	}
	if math.Abs(bal.Available-95) > 1e-9 {
		t.Errorf("available = %v, want 95", bal.Available)
	}

	// Released entries cannot be released or refunded again.
	if _, err := f.svc.ReleaseEscrow(ctx, f.subscriptionID); !errors.Is(err, ErrInvalidStatus) {
		t.Errorf("second release: got %v, want ErrInvalidStatus", err)
	}
	if _, _, err := f.svc.RefundEscrow(ctx, f.subscriptionID); !errors.Is(err, ErrInvalidStatus) {
		t.Errorf("refund after release: got %v, want ErrInvalidStatus", err)
	}
}

func TestRefundEscrowProRatesAndForfeitsMerchantAmount(t *testing.T) {
	f := newEscrowFixture(t, 0.05)
	ctx := context.Background()

	if _, err := f.svc.CreateEscrow(ctx, f.orderID, f.subscriptionID); err != nil {
		t.Fatalf("CreateEscrow: %v", err)
	}

	entry, refund, err := f.svc.RefundEscrow(ctx, f.subscriptionID)
	if err != nil {
		t.Fatalf("RefundEscrow: %v", err)
	}

	// 10 of 30 days used: 20 unused days of a 100 payment.
	want := 100 * 20.0 / 30.0
	if math.Abs(refund-want) > 1e-9 {
		t.Errorf("refund = %v, want %v", refund, want)
	}
	if entry.Status != models.EscrowStatusRefunded {
		t.Errorf("status = %q, want %q", entry.Status, models.EscrowStatusRefunded)
	}
	if entry.RefundAmount == nil || math.Abs(*entry.RefundAmount-want) > 1e-9 {
		t.Errorf("recorded refund amount = %v, want %v", entry.RefundAmount, want)
	}

	// The merchant forfeits the full held amount, not the pro-rated part.
	bal, _ := f.balances.Get(ctx, f.merchantID, models.CurrencyUSDTBEP20)
	if math.Abs(bal.Pending) > 1e-9 {
		t.Errorf("pending = %v, want 0 after full forfeiture", bal.Pending)
	}
	if bal.Available != 0 {
		t.Errorf("available = %v, want 0", bal.Available)
	}

	if _, _, err := f.svc.RefundEscrow(ctx, f.subscriptionID); !errors.Is(err, ErrInvalidStatus) {
		t.Errorf("second refund: got %v, want ErrInvalidStatus", err)
	}
}

func TestReleaseEscrowUnknownSubscription(t *testing.T) {
	f := newEscrowFixture(t, 0.05)

	if _, err := f.svc.ReleaseEscrow(context.Background(), uuid.New()); !errors.Is(err, ErrNotFound) {
		t.Errorf("got %v, want ErrNotFound", err)
	}
}

func TestSetPlatformFeePercentage(t *testing.T) {
	f := newEscrowFixture(t, 0.05)

	if err := f.svc.SetPlatformFeePercentage(0.1); err != nil {
		t.Fatalf("SetPlatformFeePercentage(0.1): %v", err)
	}
	if got := f.svc.GetPlatformFeePercentage(); got != 0.1 {
		t.Errorf("fee = %v, want 0.1", got)
	}

	for _, bad := range []float64{-0.01, 1.01} {
		if err := f.svc.SetPlatformFeePercentage(bad); !errors.Is(err, ErrInvalidFee) {
			t.Errorf("SetPlatformFeePercentage(%v): got %v, want ErrInvalidFee", bad, err)
		}
	}
	if got := f.svc.GetPlatformFeePercentage(); got != 0.1 {
		t.Errorf("fee changed by rejected update: %v", got)
	}
}

func TestHeldTotalsAndAuditTrail(t *testing.T) {
	f := newEscrowFixture(t, 0.05)
	ctx := context.Background()

	if _, err := f.svc.CreateEscrow(ctx, f.orderID, f.subscriptionID); err != nil {
		t.Fatalf("CreateEscrow: %v", err)
	}

	totals, err := f.svc.HeldTotalsByCurrency(ctx)
	if err != nil {
		t.Fatalf("HeldTotalsByCurrency: %v", err)
	}
	if math.Abs(totals[models.CurrencyUSDTBEP20]-100) > 1e-9 {
		t.Errorf("held total = %v, want 100", totals[models.CurrencyUSDTBEP20])
	}

	if _, err := f.svc.ReleaseEscrow(ctx, f.subscriptionID); err != nil {
		t.Fatalf("ReleaseEscrow: %v", err)
	}

	totals, _ = f.svc.HeldTotalsByCurrency(ctx)
	if totals[models.CurrencyUSDTBEP20] != 0 {
		t.Errorf("held total after release = %v, want 0", totals[models.CurrencyUSDTBEP20])
	}

	logs, err := f.svc.AuditTrail(ctx, models.AuditFilter{})
	if err != nil {
		t.Fatalf("AuditTrail: %v", err)
	}
	if len(logs) != 2 {
		t.Fatalf("audit entries = %d, want 2 (created, released)", len(logs))
	}
	if logs[0].Action != models.EscrowActionCreated || logs[1].Action != models.EscrowActionReleased {
		t.Errorf("audit actions = %q, %q", logs[0].Action, logs[1].Action)
	}
}
