package queue

import (
	"fmt"

	"github.com/google/uuid"
)

// Stream names. Dead letters go to "<stream>:dead".
const (
	StreamPaymentEvents = "payments:events"
	StreamBotOps        = "queue:bot-ops"
	StreamRefundTxs     = "queue:refund-txs"
)

// DefaultMaxRetries is the retry budget consumers honor before
// dead-lettering a message.
const DefaultMaxRetries = 3

// Bot operation types
const (
	BotOpInviteUser = "invite_user"
	BotOpRemoveUser = "remove_user"
)

// Removal reasons
const (
	RemoveReasonRefund  = "refund"
	RemoveReasonExpired = "expired"
)

// BotOperation is a channel-membership command consumed by the external
// bot automation. Consumers must be idempotent: re-inviting a present
// member is a no-op.
type BotOperation struct {
	Operation      string    `json:"operation"`
	SubscriptionID uuid.UUID `json:"subscription_id"`
	ChannelID      int64     `json:"channel_id"`
	TelegramUserID int64     `json:"telegram_user_id"`
	Reason         string    `json:"reason,omitempty"`
	AttemptCount   int       `json:"attempt_count"`
	MaxRetries     int       `json:"max_retries"`
}

func (op BotOperation) DedupKey() string {
	return fmt.Sprintf("%s:%s", op.Operation, op.SubscriptionID)
}

// RefundTransaction is an on-chain payout command consumed by the
// refund sender, which hands it to the external transaction signer.
type RefundTransaction struct {
	Operation    string    `json:"operation"`
	RefundID     uuid.UUID `json:"refund_id"`
	OrderID      uuid.UUID `json:"order_id"`
	ToAddress    string    `json:"to_address"`
	Amount       float64   `json:"amount"`
	Currency     string    `json:"currency"`
	AttemptCount int       `json:"attempt_count"`
	MaxRetries   int       `json:"max_retries"`
}

const RefundOpSendTransaction = "send_transaction"

func (tx RefundTransaction) DedupKey() string {
	return fmt.Sprintf("%s:%s", tx.Operation, tx.RefundID)
}

// Payment event types
const (
	PaymentEventDetected  = "detected"
	PaymentEventConfirmed = "confirmed"
)

// PaymentEvent is published by the blockchain monitor for the payment
// confirmation consumer.
type PaymentEvent struct {
	Type          string    `json:"type"`
	OrderID       uuid.UUID `json:"order_id"`
	Address       string    `json:"address"`
	TxHash        string    `json:"tx_hash"`
	Amount        float64   `json:"amount"`
	Currency      string    `json:"currency"`
	Network       string    `json:"network"`
	Confirmations int       `json:"confirmations"`
	PayerAddress  string    `json:"payer_address,omitempty"`
}

func (e PaymentEvent) DedupKey() string {
	// Detected events repeat as confirmations grow; only confirmations
	// must be delivered exactly once per tx hash.
	if e.Type == PaymentEventConfirmed {
		return fmt.Sprintf("%s:%s", e.Type, e.TxHash)
	}
	return ""
}
