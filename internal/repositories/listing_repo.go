package repositories

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/channelpass/backend/internal/models"
)

type ListingRepo struct {
	pool *pgxpool.Pool
}

func NewListingRepo(pool *pgxpool.Pool) *ListingRepo {
	return &ListingRepo{pool: pool}
}

func (r *ListingRepo) Create(ctx context.Context, l *models.Listing) error {
	return r.pool.QueryRow(ctx, `
		INSERT INTO listings (merchant_user_id, channel_id, title, description, price_usd, duration_days, is_active)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, created_at, updated_at
	`, l.MerchantUserID, l.ChannelID, l.Title, l.Description, l.PriceUSD, l.DurationDays, l.IsActive,
	).Scan(&l.ID, &l.CreatedAt, &l.UpdatedAt)
}

func (r *ListingRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.Listing, error) {
	var l models.Listing
	err := r.pool.QueryRow(ctx, `
		SELECT id, merchant_user_id, channel_id, title, description, price_usd, duration_days, is_active, created_at, updated_at
		FROM listings WHERE id = $1
	`, id).Scan(&l.ID, &l.MerchantUserID, &l.ChannelID, &l.Title, &l.Description,
		&l.PriceUSD, &l.DurationDays, &l.IsActive, &l.CreatedAt, &l.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &l, nil
}

type ListingFilter struct {
	MerchantUserID *uuid.UUID
	ActiveOnly     bool
	Limit          int
	Offset         int
}

func (r *ListingRepo) List(ctx context.Context, f ListingFilter) ([]models.Listing, error) {
	query := `
		SELECT id, merchant_user_id, channel_id, title, description, price_usd, duration_days, is_active, created_at, updated_at
		FROM listings
	`
	args := []any{}
	argIdx := 1
	where := []string{}

	if f.MerchantUserID != nil {
		where = append(where, fmt.Sprintf("merchant_user_id = $%d", argIdx))
		args = append(args, *f.MerchantUserID)
		argIdx++
	}
	if f.ActiveOnly {
		where = append(where, "is_active = true")
	}

	if len(where) > 0 {
		query += " WHERE "
		for i, w := range where {
			if i > 0 {
				query += " AND "
			}
			query += w
		}
	}

	limit := f.Limit
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	query += fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d OFFSET $%d", argIdx, argIdx+1)
	args = append(args, limit, f.Offset)

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var listings []models.Listing
	for rows.Next() {
		var l models.Listing
		if err := rows.Scan(&l.ID, &l.MerchantUserID, &l.ChannelID, &l.Title, &l.Description,
			&l.PriceUSD, &l.DurationDays, &l.IsActive, &l.CreatedAt, &l.UpdatedAt); err != nil {
			return nil, err
		}
		listings = append(listings, l)
	}
	return listings, nil
}

func (r *ListingRepo) SetActive(ctx context.Context, id uuid.UUID, active bool) error {
	_, err := r.pool.Exec(ctx, `UPDATE listings SET is_active = $1, updated_at = now() WHERE id = $2`, active, id)
	return err
}
