package repositories

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/channelpass/backend/internal/dispute"
	"github.com/channelpass/backend/internal/models"
)

type DisputeRepo struct {
	pool *pgxpool.Pool
}

func NewDisputeRepo(pool *pgxpool.Pool) *DisputeRepo {
	return &DisputeRepo{pool: pool}
}

const disputeColumns = `
	id, buyer_user_id, order_id, issue, status, resolution, admin_user_id, resolved_at, created_at, updated_at
`

func scanDispute(row interface{ Scan(...any) error }) (*models.Dispute, error) {
	var d models.Dispute
	err := row.Scan(&d.ID, &d.BuyerUserID, &d.OrderID, &d.Issue, &d.Status,
		&d.Resolution, &d.AdminUserID, &d.ResolvedAt, &d.CreatedAt, &d.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, dispute.ErrNotFound
		}
		return nil, err
	}
	return &d, nil
}

func (r *DisputeRepo) Create(ctx context.Context, d *models.Dispute) error {
	return r.pool.QueryRow(ctx, `
		INSERT INTO disputes (buyer_user_id, order_id, issue, status)
		VALUES ($1, $2, $3, $4)
		RETURNING id, created_at, updated_at
	`, d.BuyerUserID, d.OrderID, d.Issue, d.Status).Scan(&d.ID, &d.CreatedAt, &d.UpdatedAt)
}

func (r *DisputeRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.Dispute, error) {
	return scanDispute(r.pool.QueryRow(ctx, `SELECT`+disputeColumns+`FROM disputes WHERE id = $1`, id))
}

func (r *DisputeRepo) GetActiveByOrderID(ctx context.Context, orderID uuid.UUID) (*models.Dispute, error) {
	return scanDispute(r.pool.QueryRow(ctx, `
		SELECT`+disputeColumns+`
		FROM disputes WHERE order_id = $1 AND status IN ('open', 'in_progress')
		ORDER BY created_at DESC LIMIT 1
	`, orderID))
}

func (r *DisputeRepo) TransitionStatus(ctx context.Context, id uuid.UUID, from, to string) (*models.Dispute, error) {
	d, err := scanDispute(r.pool.QueryRow(ctx, `
		UPDATE disputes SET status = $1, updated_at = now()
		WHERE id = $2 AND status = $3
		RETURNING `+disputeColumns,
		to, id, from))
	if errors.Is(err, dispute.ErrNotFound) {
		return nil, dispute.ErrInvalidTransition
	}
	return d, err
}

func (r *DisputeRepo) Resolve(ctx context.Context, id uuid.UUID, from, resolution string, adminUserID uuid.UUID, resolvedAt time.Time) (*models.Dispute, error) {
	d, err := scanDispute(r.pool.QueryRow(ctx, `
		UPDATE disputes
		SET status = 'resolved', resolution = $1, admin_user_id = $2, resolved_at = $3, updated_at = now()
		WHERE id = $4 AND status = $5
		RETURNING `+disputeColumns,
		resolution, adminUserID, resolvedAt, id, from))
	if errors.Is(err, dispute.ErrNotFound) {
		return nil, dispute.ErrInvalidTransition
	}
	return d, err
}

func (r *DisputeRepo) ListByStatus(ctx context.Context, status string, limit, offset int) ([]models.Dispute, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}

	query := `SELECT` + disputeColumns + `FROM disputes`
	args := []any{}
	if status != "" {
		query += ` WHERE status = $1 ORDER BY created_at DESC LIMIT $2 OFFSET $3`
		args = append(args, status, limit, offset)
	} else {
		query += ` ORDER BY created_at DESC LIMIT $1 OFFSET $2`
		args = append(args, limit, offset)
	}

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var disputes []models.Dispute
	for rows.Next() {
		d, err := scanDispute(rows)
		if err != nil {
			return nil, err
		}
		disputes = append(disputes, *d)
	}
	return disputes, nil
}
