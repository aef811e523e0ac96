package domain

import "time"

type LineItemDirection string

const (
	DirectionCharge LineItemDirection = "charge"
	DirectionRefund LineItemDirection = "refund"
)

// LineItem is an ephemeral charge or refund projection. It is never
// persisted; the executor turns it into processor invoice lines.
type LineItem struct {
	Direction   LineItemDirection
	Description string
	// AmountCents is always positive; Direction carries the sign.
	AmountCents int64
	PeriodStart time.Time
	PeriodEnd   time.Time
	// ProcessorPriceID links the line to the price it prorates, empty
	// for usage arrears lines.
	ProcessorPriceID string
}

// SignedAmount returns the amount with refund lines negated.
func (li LineItem) SignedAmount() int64 {
	if li.Direction == DirectionRefund {
		return -li.AmountCents
	}
	return li.AmountCents
}

// TotalCents sums a line-item set with refunds negated.
func TotalCents(items []LineItem) int64 {
	var total int64
	for _, li := range items {
		total += li.SignedAmount()
	}
	return total
}
