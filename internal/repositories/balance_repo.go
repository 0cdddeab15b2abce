package repositories

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/channelpass/backend/internal/models"
)

// BalanceRepo reads merchant balances. It is read-only: every balance
// mutation happens inside EscrowRepo's statements so balances cannot
// drift from the ledger.
type BalanceRepo struct {
	pool *pgxpool.Pool
}

func NewBalanceRepo(pool *pgxpool.Pool) *BalanceRepo {
	return &BalanceRepo{pool: pool}
}

func (r *BalanceRepo) Get(ctx context.Context, merchantUserID uuid.UUID, currency string) (*models.MerchantBalance, error) {
	var b models.MerchantBalance
	err := r.pool.QueryRow(ctx, `
		SELECT merchant_user_id, currency, available, pending, total_earned, total_withdrawn, updated_at
		FROM merchant_balances WHERE merchant_user_id = $1 AND currency = $2
	`, merchantUserID, currency).Scan(
		&b.MerchantUserID, &b.Currency, &b.Available, &b.Pending, &b.TotalEarned, &b.TotalWithdrawn, &b.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		// A merchant who never sold anything has an all-zero balance.
		return &models.MerchantBalance{MerchantUserID: merchantUserID, Currency: currency}, nil
	}
	if err != nil {
		return nil, err
	}
	return &b, nil
}

func (r *BalanceRepo) ListByMerchant(ctx context.Context, merchantUserID uuid.UUID) ([]models.MerchantBalance, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT merchant_user_id, currency, available, pending, total_earned, total_withdrawn, updated_at
		FROM merchant_balances WHERE merchant_user_id = $1
		ORDER BY currency
	`, merchantUserID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var balances []models.MerchantBalance
	for rows.Next() {
		var b models.MerchantBalance
		if err := rows.Scan(&b.MerchantUserID, &b.Currency, &b.Available, &b.Pending,
			&b.TotalEarned, &b.TotalWithdrawn, &b.UpdatedAt); err != nil {
			return nil, err
		}
		balances = append(balances, b)
	}
	return balances, nil
}
