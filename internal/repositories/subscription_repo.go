package repositories

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/channelpass/backend/internal/models"
)

type SubscriptionRepo struct {
	pool *pgxpool.Pool
}

func NewSubscriptionRepo(pool *pgxpool.Pool) *SubscriptionRepo {
	return &SubscriptionRepo{pool: pool}
}

const subscriptionColumns = `
	id, buyer_user_id, listing_id, order_id, channel_id, status,
	start_date, expiry_date, duration_days, created_at
`

func scanSubscription(row interface{ Scan(...any) error }) (*models.Subscription, error) {
	var s models.Subscription
	err := row.Scan(&s.ID, &s.BuyerUserID, &s.ListingID, &s.OrderID, &s.ChannelID, &s.Status,
		&s.StartDate, &s.ExpiryDate, &s.DurationDays, &s.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, models.ErrSubscriptionNotFound
		}
		return nil, err
	}
	return &s, nil
}

func (r *SubscriptionRepo) Create(ctx context.Context, s *models.Subscription) error {
	return r.pool.QueryRow(ctx, `
		INSERT INTO subscriptions (buyer_user_id, listing_id, order_id, channel_id, status, start_date, expiry_date, duration_days)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id, created_at
	`, s.BuyerUserID, s.ListingID, s.OrderID, s.ChannelID, s.Status, s.StartDate, s.ExpiryDate, s.DurationDays,
	).Scan(&s.ID, &s.CreatedAt)
}

func (r *SubscriptionRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.Subscription, error) {
	return scanSubscription(r.pool.QueryRow(ctx,
		`SELECT`+subscriptionColumns+`FROM subscriptions WHERE id = $1`, id))
}

func (r *SubscriptionRepo) GetByOrderID(ctx context.Context, orderID uuid.UUID) (*models.Subscription, error) {
	return scanSubscription(r.pool.QueryRow(ctx,
		`SELECT`+subscriptionColumns+`FROM subscriptions WHERE order_id = $1`, orderID))
}

func (r *SubscriptionRepo) TransitionStatus(ctx context.Context, id uuid.UUID, from, to string) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE subscriptions SET status = $1 WHERE id = $2 AND status = $3
	`, to, id, from)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrStaleTransition
	}
	return nil
}

// GetExpiredActive returns active subscriptions whose expiry date has
// passed, ready for release and channel removal.
func (r *SubscriptionRepo) GetExpiredActive(ctx context.Context, now time.Time) ([]models.Subscription, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT`+subscriptionColumns+`
		FROM subscriptions
		WHERE status = 'active' AND expiry_date < $1
	`, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var subs []models.Subscription
	for rows.Next() {
		s, err := scanSubscription(rows)
		if err != nil {
			return nil, err
		}
		subs = append(subs, *s)
	}
	return subs, nil
}

func (r *SubscriptionRepo) ListByBuyer(ctx context.Context, buyerUserID uuid.UUID, limit, offset int) ([]models.Subscription, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	rows, err := r.pool.Query(ctx, `
		SELECT`+subscriptionColumns+`
		FROM subscriptions WHERE buyer_user_id = $1
		ORDER BY created_at DESC LIMIT $2 OFFSET $3
	`, buyerUserID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var subs []models.Subscription
	for rows.Next() {
		s, err := scanSubscription(rows)
		if err != nil {
			return nil, err
		}
		subs = append(subs, *s)
	}
	return subs, nil
}
