package repositories

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/channelpass/backend/internal/escrow"
	"github.com/channelpass/backend/internal/models"
)

// EscrowRepo persists escrow entries. Every money-moving operation is a
// single statement that also moves the merchant balance: creation
// credits pending together with the insert, release and refund are
// conditional updates, so an entry settles exactly once even under
// concurrent callers and a partial write cannot leave the ledger and
// the balance out of step.
type EscrowRepo struct {
	pool *pgxpool.Pool
}

func NewEscrowRepo(pool *pgxpool.Pool) *EscrowRepo {
	return &EscrowRepo{pool: pool}
}

const escrowColumns = `
	id, order_id, subscription_id, merchant_user_id, amount, currency, status,
	platform_fee, merchant_amount, refund_amount, created_at, updated_at
`

func scanEscrow(row interface{ Scan(...any) error }) (*models.EscrowEntry, error) {
	var e models.EscrowEntry
	err := row.Scan(&e.ID, &e.OrderID, &e.SubscriptionID, &e.MerchantUserID, &e.Amount, &e.Currency, &e.Status,
		&e.PlatformFee, &e.MerchantAmount, &e.RefundAmount, &e.CreatedAt, &e.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, escrow.ErrNotFound
		}
		return nil, err
	}
	return &e, nil
}

// CreateHeld inserts a held entry and credits the merchant's pending
// balance in the same statement. If either half fails, neither lands,
// so a retry after a transient error starts from a clean slate instead
// of hitting an existing entry whose credit was lost.
func (r *EscrowRepo) CreateHeld(ctx context.Context, e *models.EscrowEntry) error {
	return r.pool.QueryRow(ctx, `
		WITH created AS (
			INSERT INTO escrow_entries (order_id, subscription_id, merchant_user_id, amount, currency, status, platform_fee, merchant_amount)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			RETURNING id, merchant_user_id, currency, merchant_amount, created_at, updated_at
		), credited AS (
			INSERT INTO merchant_balances (merchant_user_id, currency, pending)
			SELECT merchant_user_id, currency, merchant_amount FROM created
			ON CONFLICT (merchant_user_id, currency) DO UPDATE SET
				pending = merchant_balances.pending + EXCLUDED.pending,
				updated_at = now()
		)
		SELECT id, created_at, updated_at FROM created
	`, e.OrderID, e.SubscriptionID, e.MerchantUserID, e.Amount, e.Currency, e.Status, e.PlatformFee, e.MerchantAmount,
	).Scan(&e.ID, &e.CreatedAt, &e.UpdatedAt)
}

func (r *EscrowRepo) GetByOrderID(ctx context.Context, orderID uuid.UUID) (*models.EscrowEntry, error) {
	return scanEscrow(r.pool.QueryRow(ctx,
		`SELECT`+escrowColumns+`FROM escrow_entries WHERE order_id = $1`, orderID))
}

func (r *EscrowRepo) GetBySubscriptionID(ctx context.Context, subscriptionID uuid.UUID) (*models.EscrowEntry, error) {
	return scanEscrow(r.pool.QueryRow(ctx,
		`SELECT`+escrowColumns+`FROM escrow_entries WHERE subscription_id = $1`, subscriptionID))
}

// ReleaseHeld settles a held entry to the merchant: one statement flips
// the status and moves merchantAmount from pending to available.
func (r *EscrowRepo) ReleaseHeld(ctx context.Context, subscriptionID uuid.UUID) (*models.EscrowEntry, error) {
	entry, err := scanEscrow(r.pool.QueryRow(ctx, `
		WITH released AS (
			UPDATE escrow_entries
			SET status = 'released', updated_at = now()
			WHERE subscription_id = $1 AND status = 'held'
			RETURNING `+escrowColumns+`
		), moved AS (
			UPDATE merchant_balances mb
			SET pending = mb.pending - rel.merchant_amount,
			    available = mb.available + rel.merchant_amount,
			    total_earned = mb.total_earned + rel.merchant_amount,
			    updated_at = now()
			FROM released rel
			WHERE mb.merchant_user_id = rel.merchant_user_id AND mb.currency = rel.currency
		)
		SELECT`+escrowColumns+`FROM released
	`, subscriptionID))
	if errors.Is(err, escrow.ErrNotFound) {
		return nil, r.disambiguate(ctx, subscriptionID)
	}
	return entry, err
}

// RefundHeld voids a held entry for a buyer refund: the merchant forfeits
// the full merchantAmount from pending and the pro-rated refund is
// recorded on the entry.
func (r *EscrowRepo) RefundHeld(ctx context.Context, subscriptionID uuid.UUID, refundAmount float64) (*models.EscrowEntry, error) {
	entry, err := scanEscrow(r.pool.QueryRow(ctx, `
		WITH refunded AS (
			UPDATE escrow_entries
			SET status = 'refunded', refund_amount = $2, updated_at = now()
			WHERE subscription_id = $1 AND status = 'held'
			RETURNING `+escrowColumns+`
		), moved AS (
			UPDATE merchant_balances mb
			SET pending = mb.pending - ref.merchant_amount,
			    updated_at = now()
			FROM refunded ref
			WHERE mb.merchant_user_id = ref.merchant_user_id AND mb.currency = ref.currency
		)
		SELECT`+escrowColumns+`FROM refunded
	`, subscriptionID, refundAmount))
	if errors.Is(err, escrow.ErrNotFound) {
		return nil, r.disambiguate(ctx, subscriptionID)
	}
	return entry, err
}

// disambiguate turns a zero-row conditional update into the right
// sentinel: the entry is either missing or no longer held.
func (r *EscrowRepo) disambiguate(ctx context.Context, subscriptionID uuid.UUID) error {
	var status string
	err := r.pool.QueryRow(ctx,
		`SELECT status FROM escrow_entries WHERE subscription_id = $1`, subscriptionID).Scan(&status)
	if errors.Is(err, pgx.ErrNoRows) {
		return escrow.ErrNotFound
	}
	if err != nil {
		return err
	}
	return escrow.ErrInvalidStatus
}

func (r *EscrowRepo) HeldTotalsByCurrency(ctx context.Context) (map[string]float64, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT currency, COALESCE(SUM(amount), 0)
		FROM escrow_entries WHERE status = 'held'
		GROUP BY currency
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	totals := make(map[string]float64)
	for rows.Next() {
		var currency string
		var total float64
		if err := rows.Scan(&currency, &total); err != nil {
			return nil, err
		}
		totals[currency] = total
	}
	return totals, nil
}

func (r *EscrowRepo) MerchantTotals(ctx context.Context, merchantUserID uuid.UUID) (held, released map[string]float64, err error) {
	rows, err := r.pool.Query(ctx, `
		SELECT currency, status, COALESCE(SUM(merchant_amount), 0)
		FROM escrow_entries
		WHERE merchant_user_id = $1 AND status IN ('held', 'released')
		GROUP BY currency, status
	`, merchantUserID)
	if err != nil {
		return nil, nil, err
	}
	defer rows.Close()

	held = make(map[string]float64)
	released = make(map[string]float64)
	for rows.Next() {
		var currency, status string
		var total float64
		if err := rows.Scan(&currency, &status, &total); err != nil {
			return nil, nil, err
		}
		if status == models.EscrowStatusHeld {
			held[currency] = total
		} else {
			released[currency] = total
		}
	}
	return held, released, nil
}
