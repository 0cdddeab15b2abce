package models

import (
	"time"

	"github.com/google/uuid"
)

// Order statuses
const (
	OrderStatusPending         = "pending"          // created, awaiting payment
	OrderStatusPaymentDetected = "payment_detected" // seen on-chain, below confirmation threshold
	OrderStatusPaid            = "paid"             // confirmations reached threshold
	OrderStatusExpired         = "expired"          // unpaid after 24h
	OrderStatusRefunded        = "refunded"
	OrderStatusCancelled       = "cancelled"
)

// Valid order transitions: from -> []to
var ValidOrderTransitions = map[string][]string{
	OrderStatusPending:         {OrderStatusPaymentDetected, OrderStatusPaid, OrderStatusExpired, OrderStatusCancelled},
	OrderStatusPaymentDetected: {OrderStatusPaid, OrderStatusExpired, OrderStatusCancelled},
	OrderStatusPaid:            {OrderStatusRefunded},
	OrderStatusExpired:         {},
	OrderStatusRefunded:        {},
	OrderStatusCancelled:       {},
}

func IsValidOrderTransition(from, to string) bool {
	allowed, ok := ValidOrderTransitions[from]
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

// OrderTTL is how long an unpaid order stays open.
const OrderTTL = 24 * time.Hour

type Order struct {
	ID             uuid.UUID  `json:"id"`
	BuyerUserID    uuid.UUID  `json:"buyer_user_id"`
	ListingID      uuid.UUID  `json:"listing_id"`
	DepositAddress string     `json:"deposit_address"`
	Amount         float64    `json:"amount"`
	Currency       string     `json:"currency"`
	Status         string     `json:"status"`
	Confirmations  int        `json:"confirmations"`
	TxHash         *string    `json:"tx_hash,omitempty"`
	PayerAddress   *string    `json:"payer_address,omitempty"`
	PaidAt         *time.Time `json:"paid_at,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	ExpiresAt      time.Time  `json:"expires_at"`
}
