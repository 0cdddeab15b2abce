// Package dispute implements the buyer complaint workflow: opening a
// dispute against a paid order, the admin triage states, and resolution.
// An approved resolution refunds the buyer through the escrow ledger and
// schedules the on-chain payout plus channel removal.
package dispute

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/channelpass/backend/internal/events"
	"github.com/channelpass/backend/internal/models"
	"github.com/channelpass/backend/internal/queue"
)

// Resolutions an admin can apply to an open dispute.
const (
	ResolutionApproved = "approved"
	ResolutionDenied   = "denied"
)

var (
	ErrNotFound          = errors.New("dispute not found")
	ErrNotOrderBuyer     = errors.New("only the order's buyer can open a dispute")
	ErrOrderNotPaid      = errors.New("disputes require a paid order")
	ErrDuplicateDispute  = errors.New("order already has an open dispute")
	ErrNoSubscription    = errors.New("order has no subscription to dispute")
	ErrEmptyIssue        = errors.New("dispute issue must not be empty")
	ErrIssueTooLong      = errors.New("dispute issue exceeds the maximum length")
	ErrWindowClosed      = errors.New("dispute window has closed")
	ErrInvalidTransition = errors.New("invalid dispute status transition")
	ErrInvalidResolution = errors.New("resolution must be approved or denied")
)

// Store persists disputes. TransitionStatus and Resolve are conditional
// on the current status and return ErrInvalidTransition when another
// writer got there first.
type Store interface {
	Create(ctx context.Context, d *models.Dispute) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Dispute, error)
	GetActiveByOrderID(ctx context.Context, orderID uuid.UUID) (*models.Dispute, error)
	TransitionStatus(ctx context.Context, id uuid.UUID, from, to string) (*models.Dispute, error)
	Resolve(ctx context.Context, id uuid.UUID, from, resolution string, adminUserID uuid.UUID, resolvedAt time.Time) (*models.Dispute, error)
	ListByStatus(ctx context.Context, status string, limit, offset int) ([]models.Dispute, error)
}

type OrderStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.Order, error)
	TransitionStatus(ctx context.Context, id uuid.UUID, from, to string) error
}

type SubscriptionStore interface {
	GetByOrderID(ctx context.Context, orderID uuid.UUID) (*models.Subscription, error)
	TransitionStatus(ctx context.Context, id uuid.UUID, from, to string) error
}

type UserStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.User, error)
}

// Refunder is the slice of the escrow service a resolution needs.
type Refunder interface {
	RefundEscrow(ctx context.Context, subscriptionID uuid.UUID) (*models.EscrowEntry, float64, error)
}

// CommandQueue enqueues the follow-up work an approved dispute produces.
type CommandQueue interface {
	EnqueueBotOperation(ctx context.Context, op queue.BotOperation) string
	EnqueueRefundTransaction(ctx context.Context, tx queue.RefundTransaction) string
}

type AuditStore interface {
	Append(ctx context.Context, entry models.AuditLog) error
}

type Service struct {
	store    Store
	orders   OrderStore
	subs     SubscriptionStore
	users    UserStore
	refunder Refunder
	cmds     CommandQueue
	audit    AuditStore
	bus      events.Publisher
	log      *zap.Logger

	now func() time.Time
}

func NewService(
	store Store,
	orders OrderStore,
	subs SubscriptionStore,
	users UserStore,
	refunder Refunder,
	cmds CommandQueue,
	audit AuditStore,
	bus events.Publisher,
	log *zap.Logger,
) *Service {
	return &Service{
		store:    store,
		orders:   orders,
		subs:     subs,
		users:    users,
		refunder: refunder,
		cmds:     cmds,
		audit:    audit,
		bus:      bus,
		log:      log,
		now:      time.Now,
	}
}

// CreateDispute opens a dispute for a paid order. The caller must be the
// order's buyer, the order must have at most one active dispute, and the
// subscription must be active or expired no longer than the dispute
// window ago.
func (s *Service) CreateDispute(ctx context.Context, buyerUserID, orderID uuid.UUID, issue string) (*models.Dispute, error) {
	issue = strings.TrimSpace(issue)
	if issue == "" {
		return nil, ErrEmptyIssue
	}
	// The limit is in characters, not bytes: a multibyte issue text of
	// the same length must pass.
	if utf8.RuneCountInString(issue) > models.MaxDisputeIssueLength {
		return nil, ErrIssueTooLong
	}

	order, err := s.orders.GetByID(ctx, orderID)
	if err != nil {
		return nil, fmt.Errorf("order lookup: %w", err)
	}
	if order.BuyerUserID != buyerUserID {
		return nil, ErrNotOrderBuyer
	}
	if order.Status != models.OrderStatusPaid {
		return nil, ErrOrderNotPaid
	}

	if existing, err := s.store.GetActiveByOrderID(ctx, orderID); err == nil && existing != nil {
		return nil, ErrDuplicateDispute
	} else if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	sub, err := s.subs.GetByOrderID(ctx, orderID)
	if errors.Is(err, models.ErrSubscriptionNotFound) {
		return nil, ErrNoSubscription
	}
	if err != nil {
		return nil, fmt.Errorf("subscription lookup: %w", err)
	}
	if err := s.checkDisputeWindow(sub); err != nil {
		return nil, err
	}

	d := &models.Dispute{
		BuyerUserID: buyerUserID,
		OrderID:     orderID,
		Issue:       issue,
		Status:      models.DisputeStatusOpen,
	}
	if err := s.store.Create(ctx, d); err != nil {
		return nil, err
	}

	s.logAudit(ctx, models.AuditLog{
		EntityType: "dispute",
		EntityID:   d.ID,
		Action:     "created",
		NewStatus:  models.DisputeStatusOpen,
		OrderID:    &orderID,
	})
	s.publishStatusChange(ctx, d, "")

	s.log.Info("dispute opened",
		zap.String("dispute_id", d.ID.String()),
		zap.String("order_id", orderID.String()),
	)
	return d, nil
}

func (s *Service) checkDisputeWindow(sub *models.Subscription) error {
	switch sub.Status {
	case models.SubscriptionStatusActive:
		return nil
	case models.SubscriptionStatusExpired:
		if s.now().Sub(sub.ExpiryDate) <= models.DisputeWindow {
			return nil
		}
		return ErrWindowClosed
	default:
		return ErrWindowClosed
	}
}

// UpdateStatus moves a dispute along the triage path. Resolution states
// must go through ResolveDispute so the escrow side effects run.
func (s *Service) UpdateStatus(ctx context.Context, disputeID uuid.UUID, to string) (*models.Dispute, error) {
	if to == models.DisputeStatusResolved {
		return nil, ErrInvalidTransition
	}

	current, err := s.store.GetByID(ctx, disputeID)
	if err != nil {
		return nil, err
	}
	if !models.IsValidDisputeTransition(current.Status, to) {
		return nil, ErrInvalidTransition
	}

	updated, err := s.store.TransitionStatus(ctx, disputeID, current.Status, to)
	if err != nil {
		return nil, err
	}

	s.logAudit(ctx, models.AuditLog{
		EntityType: "dispute",
		EntityID:   disputeID,
		Action:     "status_changed",
		OldStatus:  &current.Status,
		NewStatus:  to,
		OrderID:    &current.OrderID,
	})
	s.publishStatusChange(ctx, updated, current.Status)
	return updated, nil
}

// ResolveDispute closes a dispute with an admin verdict. Approval refunds
// the buyer the pro-rated remainder via the escrow ledger, marks the
// subscription and order refunded, and enqueues the on-chain payout and
// the channel removal. Denial records the verdict and touches nothing
// else.
func (s *Service) ResolveDispute(ctx context.Context, disputeID, adminUserID uuid.UUID, resolution string) (*models.Dispute, error) {
	if resolution != ResolutionApproved && resolution != ResolutionDenied {
		return nil, ErrInvalidResolution
	}

	current, err := s.store.GetByID(ctx, disputeID)
	if err != nil {
		return nil, err
	}
	if !models.IsValidDisputeTransition(current.Status, models.DisputeStatusResolved) {
		return nil, ErrInvalidTransition
	}

	if resolution == ResolutionApproved {
		if err := s.applyApproval(ctx, current); err != nil {
			return nil, err
		}
	}

	resolved, err := s.store.Resolve(ctx, disputeID, current.Status, resolution, adminUserID, s.now())
	if err != nil {
		return nil, err
	}

	s.logAudit(ctx, models.AuditLog{
		EntityType: "dispute",
		EntityID:   disputeID,
		Action:     "resolved",
		OldStatus:  &current.Status,
		NewStatus:  models.DisputeStatusResolved,
		OrderID:    &current.OrderID,
		Meta:       map[string]any{"resolution": resolution, "admin_user_id": adminUserID.String()},
	})
	s.publishStatusChange(ctx, resolved, current.Status)

	s.log.Info("dispute resolved",
		zap.String("dispute_id", disputeID.String()),
		zap.String("resolution", resolution),
	)
	return resolved, nil
}

func (s *Service) applyApproval(ctx context.Context, d *models.Dispute) error {
	order, err := s.orders.GetByID(ctx, d.OrderID)
	if err != nil {
		return fmt.Errorf("order lookup: %w", err)
	}
	sub, err := s.subs.GetByOrderID(ctx, d.OrderID)
	if err != nil {
		return fmt.Errorf("subscription lookup: %w", err)
	}

	entry, refundAmount, err := s.refunder.RefundEscrow(ctx, sub.ID)
	if err != nil {
		return fmt.Errorf("escrow refund: %w", err)
	}

	if err := s.subs.TransitionStatus(ctx, sub.ID, sub.Status, models.SubscriptionStatusRefunded); err != nil {
		return fmt.Errorf("subscription transition: %w", err)
	}
	if err := s.orders.TransitionStatus(ctx, order.ID, order.Status, models.OrderStatusRefunded); err != nil {
		return fmt.Errorf("order transition: %w", err)
	}

	// An expired-yesterday approval can pro-rate to zero; no payout then.
	if refundAmount > 0 {
		s.cmds.EnqueueRefundTransaction(ctx, queue.RefundTransaction{
			Operation: queue.RefundOpSendTransaction,
			RefundID:  d.ID,
			OrderID:   order.ID,
			ToAddress: order.DepositAddress,
			Amount:    refundAmount,
			Currency:  entry.Currency,
		})
	}

	if s.bus != nil {
		_ = s.bus.Publish(ctx, events.ChannelRealtime, events.Event{
			Type: events.EventEscrowRefunded,
			Payload: map[string]any{
				"dispute_id":       d.ID.String(),
				"order_id":         order.ID.String(),
				"buyer_user_id":    d.BuyerUserID.String(),
				"merchant_user_id": entry.MerchantUserID.String(),
				"refund_amount":    refundAmount,
				"currency":         entry.Currency,
			},
		})
	}
	removal := queue.BotOperation{
		Operation:      queue.BotOpRemoveUser,
		SubscriptionID: sub.ID,
		ChannelID:      sub.ChannelID,
		Reason:         queue.RemoveReasonRefund,
	}
	if buyer, err := s.users.GetByID(ctx, sub.BuyerUserID); err == nil {
		removal.TelegramUserID = buyer.TelegramUserID
	} else {
		s.log.Warn("buyer lookup failed for removal command",
			zap.String("subscription_id", sub.ID.String()), zap.Error(err))
	}
	s.cmds.EnqueueBotOperation(ctx, removal)
	return nil
}

func (s *Service) GetDispute(ctx context.Context, id uuid.UUID) (*models.Dispute, error) {
	return s.store.GetByID(ctx, id)
}

func (s *Service) ListByStatus(ctx context.Context, status string, limit, offset int) ([]models.Dispute, error) {
	return s.store.ListByStatus(ctx, status, limit, offset)
}

func (s *Service) logAudit(ctx context.Context, entry models.AuditLog) {
	if err := s.audit.Append(ctx, entry); err != nil {
		s.log.Error("audit append failed", zap.String("action", entry.Action), zap.Error(err))
	}
}

func (s *Service) publishStatusChange(ctx context.Context, d *models.Dispute, oldStatus string) {
	if s.bus == nil {
		return
	}
	_ = s.bus.Publish(ctx, events.ChannelRealtime, events.Event{
		Type: events.EventDisputeStatusChanged,
		Payload: map[string]any{
			"dispute_id":    d.ID.String(),
			"order_id":      d.OrderID.String(),
			"buyer_user_id": d.BuyerUserID.String(),
			"old_status":    oldStatus,
			"new_status":    d.Status,
		},
	})
}
