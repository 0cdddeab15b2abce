package models

import (
	"time"

	"github.com/google/uuid"
)

type User struct {
	ID             uuid.UUID `json:"id"`
	TelegramUserID int64     `json:"telegram_user_id"`
	Username       *string   `json:"username,omitempty"`
	IsMerchant     bool      `json:"is_merchant"`
	CreatedAt      time.Time `json:"created_at"`
}
