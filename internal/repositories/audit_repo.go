package repositories

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/channelpass/backend/internal/models"
)

// AuditRepo is append-only: rows are never updated or deleted here.
type AuditRepo struct {
	pool *pgxpool.Pool
}

func NewAuditRepo(pool *pgxpool.Pool) *AuditRepo {
	return &AuditRepo{pool: pool}
}

func (r *AuditRepo) Append(ctx context.Context, entry models.AuditLog) error {
	var meta []byte
	if entry.Meta != nil {
		meta, _ = json.Marshal(entry.Meta)
	}
	_, err := r.pool.Exec(ctx, `
		INSERT INTO audit_log (entity_type, entity_id, action, old_status, new_status, order_id, meta)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, entry.EntityType, entry.EntityID, entry.Action, entry.OldStatus, entry.NewStatus, entry.OrderID, meta)
	return err
}

func (r *AuditRepo) Query(ctx context.Context, f models.AuditFilter) ([]models.AuditLog, error) {
	query := `
		SELECT id, entity_type, entity_id, action, old_status, new_status, order_id, meta, created_at
		FROM audit_log
	`
	args := []any{}
	argIdx := 1
	where := []string{}

	if f.EntityID != nil {
		where = append(where, fmt.Sprintf("entity_id = $%d", argIdx))
		args = append(args, *f.EntityID)
		argIdx++
	}
	if f.OrderID != nil {
		where = append(where, fmt.Sprintf("order_id = $%d", argIdx))
		args = append(args, *f.OrderID)
		argIdx++
	}
	if f.SubscriptionID != nil {
		// Subscription filters go through the linked escrow entry.
		where = append(where, fmt.Sprintf(
			"entity_id IN (SELECT id FROM escrow_entries WHERE subscription_id = $%d)", argIdx))
		args = append(args, *f.SubscriptionID)
		argIdx++
	}
	if f.Action != nil {
		where = append(where, fmt.Sprintf("action = $%d", argIdx))
		args = append(args, *f.Action)
		argIdx++
	}
	if f.From != nil {
		where = append(where, fmt.Sprintf("created_at >= $%d", argIdx))
		args = append(args, *f.From)
		argIdx++
	}
	if f.To != nil {
		where = append(where, fmt.Sprintf("created_at <= $%d", argIdx))
		args = append(args, *f.To)
		argIdx++
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
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	query += fmt.Sprintf(" ORDER BY created_at ASC LIMIT $%d OFFSET $%d", argIdx, argIdx+1)
	args = append(args, limit, f.Offset)

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var logs []models.AuditLog
	for rows.Next() {
		var l models.AuditLog
		var meta []byte
		if err := rows.Scan(&l.ID, &l.EntityType, &l.EntityID, &l.Action,
			&l.OldStatus, &l.NewStatus, &l.OrderID, &meta, &l.CreatedAt); err != nil {
			return nil, err
		}
		if len(meta) > 0 {
			var decoded map[string]any
			if err := json.Unmarshal(meta, &decoded); err == nil {
				l.Meta = decoded
			}
		}
		logs = append(logs, l)
	}
	return logs, nil
}
