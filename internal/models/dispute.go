package models

import (
	"time"

	"github.com/google/uuid"
)

// Dispute statuses
const (
	DisputeStatusOpen       = "open"
	DisputeStatusInProgress = "in_progress"
	DisputeStatusResolved   = "resolved"
	DisputeStatusClosed     = "closed"
)

// Valid dispute transitions: from -> []to. Resolved and closed are
// terminal and accept nothing, including re-entering the same state.
var ValidDisputeTransitions = map[string][]string{
	DisputeStatusOpen:       {DisputeStatusInProgress, DisputeStatusResolved, DisputeStatusClosed},
	DisputeStatusInProgress: {DisputeStatusResolved, DisputeStatusClosed},
	DisputeStatusResolved:   {},
	DisputeStatusClosed:     {},
}

func IsValidDisputeTransition(from, to string) bool {
	allowed, ok := ValidDisputeTransitions[from]
	if !ok {
		return false
	}
	for _, s := range allowed {
		if s == to {
			return true
		}
	}
	return false
}

// MaxDisputeIssueLength bounds the free-form issue text.
const MaxDisputeIssueLength = 2000

// DisputeWindow is how long after subscription expiry a dispute may
// still be opened.
const DisputeWindow = 7 * 24 * time.Hour

type Dispute struct {
	ID          uuid.UUID  `json:"id"`
	BuyerUserID uuid.UUID  `json:"buyer_user_id"`
	OrderID     uuid.UUID  `json:"order_id"`
	Issue       string     `json:"issue"`
	Status      string     `json:"status"`
	Resolution  *string    `json:"resolution,omitempty"`
	AdminUserID *uuid.UUID `json:"admin_user_id,omitempty"`
	ResolvedAt  *time.Time `json:"resolved_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}
