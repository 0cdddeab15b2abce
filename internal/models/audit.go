package models

import (
	"time"

	"github.com/google/uuid"
)

// AuditLog is an append-only record of every escrow state transition.
// Rows are never mutated or deleted by normal operation.
type AuditLog struct {
	ID         uuid.UUID  `json:"id"`
	EntityType string     `json:"entity_type"` // "escrow"
	EntityID   uuid.UUID  `json:"entity_id"`
	Action     string     `json:"action"` // created/released/refunded
	OldStatus  *string    `json:"old_status,omitempty"`
	NewStatus  string     `json:"new_status"`
	OrderID    *uuid.UUID `json:"order_id,omitempty"`
	Meta       any        `json:"meta,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
}

// AuditFilter narrows audit trail queries. Nil fields are ignored.
type AuditFilter struct {
	EntityID       *uuid.UUID
	OrderID        *uuid.UUID
	SubscriptionID *uuid.UUID
	Action         *string
	From           *time.Time
	To             *time.Time
	Limit          int
	Offset         int
}
