package events

import (
	"context"
	"time"
)

// Event types pushed to connected clients over the WS feed.
const (
	EventPaymentDetected      = "payment_detected"
	EventPaymentConfirmed     = "payment_confirmed"
	EventEscrowReleased       = "escrow_released"
	EventEscrowRefunded       = "escrow_refunded"
	EventDisputeStatusChanged = "dispute_status_changed"
	EventSubscriptionCreated  = "subscription_created"
)

// ChannelRealtime is the pub/sub channel the WS hub relays to clients.
const ChannelRealtime = "events:realtime"

type Event struct {
	Type    string         `json:"type"`
	Payload map[string]any `json:"payload"`
	At      time.Time      `json:"at"`
}

type Publisher interface {
	Publish(ctx context.Context, stream string, event Event) error
}

type Subscriber interface {
	Subscribe(ctx context.Context, stream string, handler func(Event)) error
}
