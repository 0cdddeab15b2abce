package dto

type AuthTelegramRequest struct {
	InitData string `json:"init_data"`
}

type CreateListingRequest struct {
	ChannelID    int64   `json:"channel_id"`
	Title        string  `json:"title"`
	Description  *string `json:"description,omitempty"`
	PriceUSD     float64 `json:"price_usd"`
	DurationDays int     `json:"duration_days"`
}

type CreateOrderRequest struct {
	ListingID string `json:"listing_id"`
	Currency  string `json:"currency"` // BNB / USDT-BEP20 / BUSD / BTC / USDT-TRC20
}

type CreateDisputeRequest struct {
	OrderID string `json:"order_id"`
	Issue   string `json:"issue"`
}

type UpdateDisputeStatusRequest struct {
	Status string `json:"status"` // in_progress / closed
}

type ResolveDisputeRequest struct {
	Resolution string `json:"resolution"` // approved / denied
}

type SetFeeRequest struct {
	FeePercentage float64 `json:"fee_percentage"`
}
