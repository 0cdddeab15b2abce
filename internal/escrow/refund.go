package escrow

import (
	"math"
	"time"

	"github.com/channelpass/backend/internal/models"
)

// CalculateProRatedRefund computes the refund owed to a buyer for the
// unused remainder of a subscription:
//
//	unusedDays   = max(0, ceil((expiryDate - now) / 1 day))
//	refundPct    = unusedDays / durationDays (clamped to 1)
//	refundAmount = paymentAmount * refundPct
//
// At or after expiry the refund is zero; at or before the start date the
// full payment is refunded.
func CalculateProRatedRefund(sub *models.Subscription, paymentAmount float64, now time.Time) float64 {
	if sub == nil || sub.DurationDays <= 0 || paymentAmount <= 0 {
		return 0
	}

	unusedDays := math.Ceil(sub.ExpiryDate.Sub(now).Hours() / 24)
	if unusedDays < 0 {
		unusedDays = 0
	}

	pct := unusedDays / float64(sub.DurationDays)
	if pct > 1 {
		pct = 1
	}

	return paymentAmount * pct
}
