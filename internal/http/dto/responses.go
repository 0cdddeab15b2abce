package dto

type AuthResponse struct {
	Token string `json:"token"`
	User  any    `json:"user"`
}

type ErrorResponse struct {
	Error     string `json:"error"`
	RequestID string `json:"request_id,omitempty"`
}

type SuccessResponse struct {
	OK   bool `json:"ok"`
	Data any  `json:"data,omitempty"`
}

type MonitorStatusResponse struct {
	Networks      map[string]bool `json:"networks"`
	WatchedCount  int             `json:"watched_count"`
	UpdatedAtUnix int64           `json:"updated_at_unix"`
}

type MerchantTotalsResponse struct {
	Held     map[string]float64 `json:"held"`
	Released map[string]float64 `json:"released"`
}
