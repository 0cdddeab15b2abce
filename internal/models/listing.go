package models

import (
	"time"

	"github.com/google/uuid"
)

// Listing is a merchant's offer of time-limited access to a private channel.
type Listing struct {
	ID             uuid.UUID `json:"id"`
	MerchantUserID uuid.UUID `json:"merchant_user_id"`
	ChannelID      int64     `json:"channel_id"`
	Title          string    `json:"title"`
	Description    *string   `json:"description,omitempty"`
	PriceUSD       float64   `json:"price_usd"`
	DurationDays   int       `json:"duration_days"`
	IsActive       bool      `json:"is_active"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}
