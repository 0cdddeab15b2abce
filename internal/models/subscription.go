package models

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrSubscriptionNotFound is returned by subscription stores so callers
// can tell a missing row apart from an infrastructure failure.
var ErrSubscriptionNotFound = errors.New("subscription not found")

// Subscription statuses
const (
	SubscriptionStatusActive    = "active"
	SubscriptionStatusExpired   = "expired"
	SubscriptionStatusRefunded  = "refunded"
	SubscriptionStatusCancelled = "cancelled"
)

var ValidSubscriptionTransitions = map[string][]string{
	SubscriptionStatusActive:    {SubscriptionStatusExpired, SubscriptionStatusRefunded, SubscriptionStatusCancelled},
	SubscriptionStatusExpired:   {SubscriptionStatusRefunded},
	SubscriptionStatusRefunded:  {},
	SubscriptionStatusCancelled: {},
}

func IsValidSubscriptionTransition(from, to string) bool {
	allowed, ok := ValidSubscriptionTransitions[from]
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

type Subscription struct {
	ID           uuid.UUID `json:"id"`
	BuyerUserID  uuid.UUID `json:"buyer_user_id"`
	ListingID    uuid.UUID `json:"listing_id"`
	OrderID      uuid.UUID `json:"order_id"`
	ChannelID    int64     `json:"channel_id"`
	Status       string    `json:"status"`
	StartDate    time.Time `json:"start_date"`
	ExpiryDate   time.Time `json:"expiry_date"`
	DurationDays int       `json:"duration_days"`
	CreatedAt    time.Time `json:"created_at"`
}
