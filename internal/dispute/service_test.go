package dispute

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/channelpass/backend/internal/events"
	"github.com/channelpass/backend/internal/models"
	"github.com/channelpass/backend/internal/queue"
)

type memDisputes struct {
	byID map[uuid.UUID]*models.Dispute
}

func newMemDisputes() *memDisputes {
	return &memDisputes{byID: make(map[uuid.UUID]*models.Dispute)}
}

func (m *memDisputes) Create(ctx context.Context, d *models.Dispute) error {
	if d.ID == uuid.Nil {
		d.ID = uuid.New()
	}
	cp := *d
	m.byID[d.ID] = &cp
	return nil
}

func (m *memDisputes) GetByID(ctx context.Context, id uuid.UUID) (*models.Dispute, error) {
	d, ok := m.byID[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *d
	return &cp, nil
}

func (m *memDisputes) GetActiveByOrderID(ctx context.Context, orderID uuid.UUID) (*models.Dispute, error) {
	for _, d := range m.byID {
		if d.OrderID == orderID &&
			(d.Status == models.DisputeStatusOpen || d.Status == models.DisputeStatusInProgress) {
			cp := *d
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (m *memDisputes) TransitionStatus(ctx context.Context, id uuid.UUID, from, to string) (*models.Dispute, error) {
	d, ok := m.byID[id]
	if !ok {
		return nil, ErrNotFound
	}
	if d.Status != from {
		return nil, ErrInvalidTransition
	}
	d.Status = to
	cp := *d
	return &cp, nil
}

func (m *memDisputes) Resolve(ctx context.Context, id uuid.UUID, from, resolution string, adminUserID uuid.UUID, resolvedAt time.Time) (*models.Dispute, error) {
	d, ok := m.byID[id]
	if !ok {
		return nil, ErrNotFound
	}
	if d.Status != from {
		return nil, ErrInvalidTransition
	}
	d.Status = models.DisputeStatusResolved
	d.Resolution = &resolution
	d.AdminUserID = &adminUserID
	d.ResolvedAt = &resolvedAt
	cp := *d
	return &cp, nil
}

func (m *memDisputes) ListByStatus(ctx context.Context, status string, limit, offset int) ([]models.Dispute, error) {
	var out []models.Dispute
	for _, d := range m.byID {
		if status == "" || d.Status == status {
			out = append(out, *d)
		}
	}
	return out, nil
}

type memOrders struct {
	byID map[uuid.UUID]*models.Order
}

func (m *memOrders) GetByID(ctx context.Context, id uuid.UUID) (*models.Order, error) {
	o, ok := m.byID[id]
	if !ok {
		return nil, errors.New("order not found")
	}
	cp := *o
	return &cp, nil
}

func (m *memOrders) TransitionStatus(ctx context.Context, id uuid.UUID, from, to string) error {
	o, ok := m.byID[id]
	if !ok {
		return errors.New("order not found")
	}
	if o.Status != from || !models.IsValidOrderTransition(from, to) {
		return errors.New("invalid order transition")
	}
	o.Status = to
	return nil
}

type memSubs struct {
	byOrder   map[uuid.UUID]*models.Subscription
	lookupErr error // transient failure injected into GetByOrderID
}

func (m *memSubs) GetByOrderID(ctx context.Context, orderID uuid.UUID) (*models.Subscription, error) {
	if m.lookupErr != nil {
		return nil, m.lookupErr
	}
	s, ok := m.byOrder[orderID]
	if !ok {
		return nil, models.ErrSubscriptionNotFound
	}
	cp := *s
	return &cp, nil
}

func (m *memSubs) TransitionStatus(ctx context.Context, id uuid.UUID, from, to string) error {
	for _, s := range m.byOrder {
		if s.ID == id {
			if s.Status != from || !models.IsValidSubscriptionTransition(from, to) {
				return errors.New("invalid subscription transition")
			}
			s.Status = to
			return nil
		}
	}
	return errors.New("subscription not found")
}

type memUsers struct {
	byID map[uuid.UUID]*models.User
}

func (m *memUsers) GetByID(ctx context.Context, id uuid.UUID) (*models.User, error) {
	u, ok := m.byID[id]
	if !ok {
		return nil, errors.New("user not found")
	}
	return u, nil
}

type fakeRefunder struct {
	refundAmount float64
	currency     string
	err          error
	calls        int
}

func (f *fakeRefunder) RefundEscrow(ctx context.Context, subscriptionID uuid.UUID) (*models.EscrowEntry, float64, error) {
	f.calls++
	if f.err != nil {
		return nil, 0, f.err
	}
	return &models.EscrowEntry{Currency: f.currency, Status: models.EscrowStatusRefunded}, f.refundAmount, nil
}

type fakeQueue struct {
	botOps  []queue.BotOperation
	refunds []queue.RefundTransaction
}

func (f *fakeQueue) EnqueueBotOperation(ctx context.Context, op queue.BotOperation) string {
	f.botOps = append(f.botOps, op)
	return "1-0"
}

func (f *fakeQueue) EnqueueRefundTransaction(ctx context.Context, tx queue.RefundTransaction) string {
	f.refunds = append(f.refunds, tx)
	return "1-0"
}

type memAudit struct {
	logs []models.AuditLog
}

func (m *memAudit) Append(ctx context.Context, entry models.AuditLog) error {
	m.logs = append(m.logs, entry)
	return nil
}

type fakeBus struct {
	published []events.Event
}

func (f *fakeBus) Publish(ctx context.Context, stream string, event events.Event) error {
	f.published = append(f.published, event)
	return nil
}

type disputeFixture struct {
	svc      *Service
	store    *memDisputes
	orders   *memOrders
	subs     *memSubs
	refunder *fakeRefunder
	cmds     *fakeQueue
	audit    *memAudit
	bus      *fakeBus

	buyerID uuid.UUID
	orderID uuid.UUID
	subID   uuid.UUID
	adminID uuid.UUID
	now     time.Time
}

func newDisputeFixture(t *testing.T) *disputeFixture {
	t.Helper()

	f := &disputeFixture{
		store:    newMemDisputes(),
		refunder: &fakeRefunder{refundAmount: 100 * 20.0 / 30.0, currency: models.CurrencyUSDTBEP20},
		cmds:     &fakeQueue{},
		audit:    &memAudit{},
		bus:      &fakeBus{},
		buyerID:  uuid.New(),
		orderID:  uuid.New(),
		subID:    uuid.New(),
		adminID:  uuid.New(),
		now:      time.Date(2025, 7, 11, 0, 0, 0, 0, time.UTC),
	}

	f.orders = &memOrders{byID: map[uuid.UUID]*models.Order{
		f.orderID: {
			ID:             f.orderID,
			BuyerUserID:    f.buyerID,
			DepositAddress: "0xdeposit",
			Amount:         100,
			Currency:       models.CurrencyUSDTBEP20,
			Status:         models.OrderStatusPaid,
		},
	}}

	start := f.now.AddDate(0, 0, -10)
	f.subs = &memSubs{byOrder: map[uuid.UUID]*models.Subscription{
		f.orderID: {
			ID:           f.subID,
			BuyerUserID:  f.buyerID,
			OrderID:      f.orderID,
			ChannelID:    -100123,
			Status:       models.SubscriptionStatusActive,
			StartDate:    start,
			ExpiryDate:   start.AddDate(0, 0, 30),
			DurationDays: 30,
		},
	}}

	users := &memUsers{byID: map[uuid.UUID]*models.User{
		f.buyerID: {ID: f.buyerID, TelegramUserID: 42},
	}}

	f.svc = NewService(f.store, f.orders, f.subs, users, f.refunder, f.cmds, f.audit, f.bus, zap.NewNop())
	f.svc.now = func() time.Time { return f.now }
	return f
}

func TestCreateDisputeValidation(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(f *disputeFixture)
		buyer   func(f *disputeFixture) uuid.UUID
		issue   string
		wantErr error
	}{
		{
			name:    "empty issue",
			issue:   "   ",
			wantErr: ErrEmptyIssue,
		},
		{
			name:    "issue too long",
			issue:   strings.Repeat("x", models.MaxDisputeIssueLength+1),
			wantErr: ErrIssueTooLong,
		},
		{
			name:    "not the buyer",
			buyer:   func(f *disputeFixture) uuid.UUID { return uuid.New() },
			issue:   "channel access revoked",
			wantErr: ErrNotOrderBuyer,
		},
		{
			name: "order not paid",
			mutate: func(f *disputeFixture) {
				f.orders.byID[f.orderID].Status = models.OrderStatusPending
			},
			issue:   "channel access revoked",
			wantErr: ErrOrderNotPaid,
		},
		{
			name: "no subscription",
			mutate: func(f *disputeFixture) {
				delete(f.subs.byOrder, f.orderID)
			},
			issue:   "channel access revoked",
			wantErr: ErrNoSubscription,
		},
		{
			name: "expired past the window",
			mutate: func(f *disputeFixture) {
				sub := f.subs.byOrder[f.orderID]
				sub.Status = models.SubscriptionStatusExpired
				sub.ExpiryDate = f.now.Add(-models.DisputeWindow - time.Hour)
			},
			issue:   "channel access revoked",
			wantErr: ErrWindowClosed,
		},
		{
			name: "already refunded subscription",
			mutate: func(f *disputeFixture) {
				f.subs.byOrder[f.orderID].Status = models.SubscriptionStatusRefunded
			},
			issue:   "channel access revoked",
			wantErr: ErrWindowClosed,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newDisputeFixture(t)
			if tt.mutate != nil {
				tt.mutate(f)
			}
			buyer := f.buyerID
			if tt.buyer != nil {
				buyer = tt.buyer(f)
			}

			_, err := f.svc.CreateDispute(context.Background(), buyer, f.orderID, tt.issue)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("CreateDispute: got %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestCreateDisputeIssueLimitCountsRunes(t *testing.T) {
	f := newDisputeFixture(t)

	// A multibyte issue at the limit must pass even though its byte
	// length is twice the limit.
	issue := strings.Repeat("ы", models.MaxDisputeIssueLength)
	if _, err := f.svc.CreateDispute(context.Background(), f.buyerID, f.orderID, issue); err != nil {
		t.Errorf("issue of %d runes rejected: %v", models.MaxDisputeIssueLength, err)
	}

	f = newDisputeFixture(t)
	issue = strings.Repeat("ы", models.MaxDisputeIssueLength+1)
	if _, err := f.svc.CreateDispute(context.Background(), f.buyerID, f.orderID, issue); !errors.Is(err, ErrIssueTooLong) {
		t.Errorf("issue over the rune limit: got %v, want ErrIssueTooLong", err)
	}
}

func TestCreateDisputeSubscriptionLookupFailure(t *testing.T) {
	f := newDisputeFixture(t)
	lookupErr := errors.New("connection refused")
	f.subs.lookupErr = lookupErr

	_, err := f.svc.CreateDispute(context.Background(), f.buyerID, f.orderID, "channel access revoked")
	if errors.Is(err, ErrNoSubscription) {
		t.Fatal("transient lookup failure reported as missing subscription")
	}
	if !errors.Is(err, lookupErr) {
		t.Errorf("lookup failure not propagated: got %v", err)
	}
}

func TestCreateDisputeWithinWindowAfterExpiry(t *testing.T) {
	f := newDisputeFixture(t)
	sub := f.subs.byOrder[f.orderID]
	sub.Status = models.SubscriptionStatusExpired
	sub.ExpiryDate = f.now.Add(-3 * 24 * time.Hour)

	d, err := f.svc.CreateDispute(context.Background(), f.buyerID, f.orderID, "channel went private")
	if err != nil {
		t.Fatalf("CreateDispute: %v", err)
	}
	if d.Status != models.DisputeStatusOpen {
		t.Errorf("status = %q, want %q", d.Status, models.DisputeStatusOpen)
	}
}

func TestCreateDisputeRejectsDuplicate(t *testing.T) {
	f := newDisputeFixture(t)
	ctx := context.Background()

	if _, err := f.svc.CreateDispute(ctx, f.buyerID, f.orderID, "no access"); err != nil {
		t.Fatalf("first CreateDispute: %v", err)
	}
	if _, err := f.svc.CreateDispute(ctx, f.buyerID, f.orderID, "still no access"); !errors.Is(err, ErrDuplicateDispute) {
		t.Errorf("second CreateDispute: got %v, want ErrDuplicateDispute", err)
	}
}

func TestUpdateStatusFollowsTransitions(t *testing.T) {
	f := newDisputeFixture(t)
	ctx := context.Background()

	d, err := f.svc.CreateDispute(ctx, f.buyerID, f.orderID, "no access")
	if err != nil {
		t.Fatalf("CreateDispute: %v", err)
	}

	updated, err := f.svc.UpdateStatus(ctx, d.ID, models.DisputeStatusInProgress)
	if err != nil {
		t.Fatalf("UpdateStatus(in_progress): %v", err)
	}
	if updated.Status != models.DisputeStatusInProgress {
		t.Errorf("status = %q, want in_progress", updated.Status)
	}

	// Resolved must go through ResolveDispute.
	if _, err := f.svc.UpdateStatus(ctx, d.ID, models.DisputeStatusResolved); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("UpdateStatus(resolved): got %v, want ErrInvalidTransition", err)
	}

	if _, err := f.svc.UpdateStatus(ctx, d.ID, models.DisputeStatusClosed); err != nil {
		t.Fatalf("UpdateStatus(closed): %v", err)
	}
	if _, err := f.svc.UpdateStatus(ctx, d.ID, models.DisputeStatusInProgress); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("transition out of closed: got %v, want ErrInvalidTransition", err)
	}
}

func TestResolveDisputeApproved(t *testing.T) {
	f := newDisputeFixture(t)
	ctx := context.Background()

	d, err := f.svc.CreateDispute(ctx, f.buyerID, f.orderID, "no access")
	if err != nil {
		t.Fatalf("CreateDispute: %v", err)
	}

	resolved, err := f.svc.ResolveDispute(ctx, d.ID, f.adminID, ResolutionApproved)
	if err != nil {
		t.Fatalf("ResolveDispute: %v", err)
	}

	if resolved.Status != models.DisputeStatusResolved {
		t.Errorf("status = %q, want resolved", resolved.Status)
	}
	if resolved.Resolution == nil || *resolved.Resolution != ResolutionApproved {
		t.Errorf("resolution = %v, want approved", resolved.Resolution)
	}
	if resolved.AdminUserID == nil || *resolved.AdminUserID != f.adminID {
		t.Errorf("admin = %v, want %s", resolved.AdminUserID, f.adminID)
	}

	if f.refunder.calls != 1 {
		t.Errorf("escrow refund called %d times, want 1", f.refunder.calls)
	}
	if got := f.subs.byOrder[f.orderID].Status; got != models.SubscriptionStatusRefunded {
		t.Errorf("subscription status = %q, want refunded", got)
	}
	if got := f.orders.byID[f.orderID].Status; got != models.OrderStatusRefunded {
		t.Errorf("order status = %q, want refunded", got)
	}

	if len(f.cmds.refunds) != 1 {
		t.Fatalf("refund transactions enqueued = %d, want 1", len(f.cmds.refunds))
	}
	tx := f.cmds.refunds[0]
	if tx.ToAddress != "0xdeposit" {
		t.Errorf("refund destination = %q, want the order's deposit address", tx.ToAddress)
	}
	if tx.Amount != f.refunder.refundAmount {
		t.Errorf("refund amount = %v, want %v", tx.Amount, f.refunder.refundAmount)
	}

	if len(f.cmds.botOps) != 1 {
		t.Fatalf("bot operations enqueued = %d, want 1", len(f.cmds.botOps))
	}
	op := f.cmds.botOps[0]
	if op.Operation != queue.BotOpRemoveUser || op.Reason != queue.RemoveReasonRefund {
		t.Errorf("bot op = %q/%q, want remove_user/refund", op.Operation, op.Reason)
	}
	if op.TelegramUserID != 42 {
		t.Errorf("telegram user id = %d, want 42", op.TelegramUserID)
	}

	// The verdict is final.
	if _, err := f.svc.ResolveDispute(ctx, d.ID, f.adminID, ResolutionDenied); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("second resolve: got %v, want ErrInvalidTransition", err)
	}
}

func TestResolveDisputeDeniedHasNoSideEffects(t *testing.T) {
	f := newDisputeFixture(t)
	ctx := context.Background()

	d, err := f.svc.CreateDispute(ctx, f.buyerID, f.orderID, "no access")
	if err != nil {
		t.Fatalf("CreateDispute: %v", err)
	}

	resolved, err := f.svc.ResolveDispute(ctx, d.ID, f.adminID, ResolutionDenied)
	if err != nil {
		t.Fatalf("ResolveDispute: %v", err)
	}
	if resolved.Resolution == nil || *resolved.Resolution != ResolutionDenied {
		t.Errorf("resolution = %v, want denied", resolved.Resolution)
	}

	if f.refunder.calls != 0 {
		t.Errorf("escrow touched on denial: %d calls", f.refunder.calls)
	}
	if len(f.cmds.refunds) != 0 || len(f.cmds.botOps) != 0 {
		t.Errorf("commands enqueued on denial: %d refunds, %d bot ops",
			len(f.cmds.refunds), len(f.cmds.botOps))
	}
	if got := f.orders.byID[f.orderID].Status; got != models.OrderStatusPaid {
		t.Errorf("order status = %q, want paid untouched", got)
	}
}

func TestResolveDisputeZeroRefundSkipsPayout(t *testing.T) {
	f := newDisputeFixture(t)
	f.refunder.refundAmount = 0
	ctx := context.Background()

	d, err := f.svc.CreateDispute(ctx, f.buyerID, f.orderID, "no access")
	if err != nil {
		t.Fatalf("CreateDispute: %v", err)
	}
	if _, err := f.svc.ResolveDispute(ctx, d.ID, f.adminID, ResolutionApproved); err != nil {
		t.Fatalf("ResolveDispute: %v", err)
	}

	if len(f.cmds.refunds) != 0 {
		t.Errorf("payout enqueued for a zero refund")
	}
	if len(f.cmds.botOps) != 1 {
		t.Errorf("removal still expected: got %d bot ops", len(f.cmds.botOps))
	}
}

func TestResolveDisputeInvalidResolution(t *testing.T) {
	f := newDisputeFixture(t)

	if _, err := f.svc.ResolveDispute(context.Background(), uuid.New(), f.adminID, "maybe"); !errors.Is(err, ErrInvalidResolution) {
		t.Errorf("got %v, want ErrInvalidResolution", err)
	}
}
