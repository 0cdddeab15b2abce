package models

import (
	"time"

	"github.com/google/uuid"
)

// Escrow statuses. Transitions are one-way and terminal: a held entry
// becomes released or refunded, never both, and never held again.
const (
	EscrowStatusHeld     = "held"
	EscrowStatusReleased = "released"
	EscrowStatusRefunded = "refunded"
)

// Escrow audit actions
const (
	EscrowActionCreated  = "created"
	EscrowActionReleased = "released"
	EscrowActionRefunded = "refunded"
)

type EscrowEntry struct {
	ID             uuid.UUID  `json:"id"`
	OrderID        uuid.UUID  `json:"order_id"`
	SubscriptionID *uuid.UUID `json:"subscription_id,omitempty"`
	MerchantUserID uuid.UUID  `json:"merchant_user_id"`
	Amount         float64    `json:"amount"`
	Currency       string     `json:"currency"`
	Status         string     `json:"status"`
	PlatformFee    float64    `json:"platform_fee"`
	MerchantAmount float64    `json:"merchant_amount"`
	RefundAmount   *float64   `json:"refund_amount,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

type MerchantBalance struct {
	MerchantUserID uuid.UUID `json:"merchant_user_id"`
	Currency       string    `json:"currency"`
	Available      float64   `json:"available"`
	Pending        float64   `json:"pending"`
	TotalEarned    float64   `json:"total_earned"`
	TotalWithdrawn float64   `json:"total_withdrawn"`
	UpdatedAt      time.Time `json:"updated_at"`
}
