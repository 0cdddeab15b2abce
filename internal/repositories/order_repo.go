package repositories

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/channelpass/backend/internal/models"
)

// ErrStaleTransition reports a conditional status update that matched no
// row: the entity either does not exist or already left the expected
// status.
var ErrStaleTransition = errors.New("entity not in expected status")

type OrderRepo struct {
	pool *pgxpool.Pool
}

func NewOrderRepo(pool *pgxpool.Pool) *OrderRepo {
	return &OrderRepo{pool: pool}
}

const orderColumns = `
	id, buyer_user_id, listing_id, deposit_address, amount, currency, status,
	confirmations, tx_hash, payer_address, paid_at, created_at, expires_at
`

func scanOrder(row interface{ Scan(...any) error }) (*models.Order, error) {
	var o models.Order
	err := row.Scan(&o.ID, &o.BuyerUserID, &o.ListingID, &o.DepositAddress, &o.Amount, &o.Currency, &o.Status,
		&o.Confirmations, &o.TxHash, &o.PayerAddress, &o.PaidAt, &o.CreatedAt, &o.ExpiresAt)
	if err != nil {
		return nil, err
	}
	return &o, nil
}

// Create inserts the order under its caller-assigned id: the deposit
// address was issued against that id before the row exists.
func (r *OrderRepo) Create(ctx context.Context, o *models.Order) error {
	if o.ID == uuid.Nil {
		o.ID = uuid.New()
	}
	return r.pool.QueryRow(ctx, `
		INSERT INTO orders (id, buyer_user_id, listing_id, deposit_address, amount, currency, status, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING created_at
	`, o.ID, o.BuyerUserID, o.ListingID, o.DepositAddress, o.Amount, o.Currency, o.Status, o.ExpiresAt,
	).Scan(&o.CreatedAt)
}

func (r *OrderRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.Order, error) {
	return scanOrder(r.pool.QueryRow(ctx, `SELECT`+orderColumns+`FROM orders WHERE id = $1`, id))
}

func (r *OrderRepo) GetByDepositAddress(ctx context.Context, address string) (*models.Order, error) {
	return scanOrder(r.pool.QueryRow(ctx,
		`SELECT`+orderColumns+`FROM orders WHERE deposit_address = $1 ORDER BY created_at DESC LIMIT 1`, address))
}

// TransitionStatus moves an order between statuses, gated on the current
// one so two writers cannot both apply conflicting transitions.
func (r *OrderRepo) TransitionStatus(ctx context.Context, id uuid.UUID, from, to string) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE orders SET status = $1 WHERE id = $2 AND status = $3
	`, to, id, from)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrStaleTransition
	}
	return nil
}

// MarkPaymentDetected records an on-chain sighting below the confirmation
// threshold. Safe to call repeatedly as confirmations grow.
func (r *OrderRepo) MarkPaymentDetected(ctx context.Context, id uuid.UUID, txHash, payerAddress string, confirmations int) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE orders SET status = 'payment_detected', tx_hash = $1, payer_address = $2, confirmations = $3
		WHERE id = $4 AND status IN ('pending', 'payment_detected')
	`, txHash, payerAddress, confirmations, id)
	return err
}

// MarkPaid settles the order once. The status guard makes a duplicated
// confirmation event a no-op; callers check the returned flag before
// running the downstream side effects.
func (r *OrderRepo) MarkPaid(ctx context.Context, id uuid.UUID, txHash, payerAddress string, confirmations int) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE orders SET status = 'paid', tx_hash = $1, payer_address = $2, confirmations = $3, paid_at = now()
		WHERE id = $4 AND status IN ('pending', 'payment_detected')
	`, txHash, payerAddress, confirmations, id)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// GetExpiredUnpaid returns orders past their TTL that never received a
// confirmed payment.
func (r *OrderRepo) GetExpiredUnpaid(ctx context.Context, now time.Time) ([]models.Order, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT`+orderColumns+`
		FROM orders
		WHERE status IN ('pending', 'payment_detected') AND expires_at < $1
	`, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var orders []models.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, *o)
	}
	return orders, nil
}

// GetAwaitingPayment returns open orders whose deposit addresses the
// chain monitor must watch. Used to rebuild the watch set on startup.
func (r *OrderRepo) GetAwaitingPayment(ctx context.Context) ([]models.Order, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT`+orderColumns+`
		FROM orders
		WHERE status IN ('pending', 'payment_detected') AND expires_at > now()
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var orders []models.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, *o)
	}
	return orders, nil
}

func (r *OrderRepo) ListByBuyer(ctx context.Context, buyerUserID uuid.UUID, limit, offset int) ([]models.Order, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	rows, err := r.pool.Query(ctx, `
		SELECT`+orderColumns+`
		FROM orders WHERE buyer_user_id = $1
		ORDER BY created_at DESC LIMIT $2 OFFSET $3
	`, buyerUserID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var orders []models.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, *o)
	}
	return orders, nil
}
