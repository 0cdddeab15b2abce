package queue

import (
	"testing"

	"github.com/google/uuid"
)

func TestBotOperationDedupKey(t *testing.T) {
	subID := uuid.MustParse("11111111-2222-3333-4444-555555555555")

	invite := BotOperation{Operation: BotOpInviteUser, SubscriptionID: subID}
	remove := BotOperation{Operation: BotOpRemoveUser, SubscriptionID: subID}

	if invite.DedupKey() == remove.DedupKey() {
		t.Errorf("invite and remove for the same subscription must not collide: %q", invite.DedupKey())
	}

	again := BotOperation{Operation: BotOpInviteUser, SubscriptionID: subID, Reason: "whatever"}
	if invite.DedupKey() != again.DedupKey() {
		t.Errorf("same logical command must share a dedup key: %q vs %q", invite.DedupKey(), again.DedupKey())
	}
}

func TestRefundTransactionDedupKey(t *testing.T) {
	a := RefundTransaction{Operation: RefundOpSendTransaction, RefundID: uuid.New()}
	b := RefundTransaction{Operation: RefundOpSendTransaction, RefundID: uuid.New()}

	if a.DedupKey() == b.DedupKey() {
		t.Errorf("different refunds must not share a dedup key")
	}
}

func TestPaymentEventDedupKey(t *testing.T) {
	detected := PaymentEvent{Type: PaymentEventDetected, TxHash: "0xabc"}
	if detected.DedupKey() != "" {
		t.Errorf("detected events repeat as confirmations grow, got dedup key %q", detected.DedupKey())
	}

	confirmed := PaymentEvent{Type: PaymentEventConfirmed, TxHash: "0xabc"}
	if confirmed.DedupKey() == "" {
		t.Error("confirmed events must be deduplicated by tx hash")
	}

	other := PaymentEvent{Type: PaymentEventConfirmed, TxHash: "0xdef"}
	if confirmed.DedupKey() == other.DedupKey() {
		t.Error("different tx hashes must not collide")
	}
}
