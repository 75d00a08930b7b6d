package pricing

import (
	"time"

	"github.com/goshop/goshop/internal/domain"
)

// Usage carries the discount usage counters observed by the caller. The
// engine itself never touches storage.
type Usage struct {
	Total    int64
	PerOwner int64
}

type Quote struct {
	SubtotalCents       int64
	DiscountAmountCents int64
	TotalCents          int64
}

// Price computes subtotal, discount and total over the given line items.
// All arithmetic is in integer cents. A nil, inactive or exhausted discount
// contributes zero; it is not an error.
func Price(items []domain.OrderLineItem, discount *domain.Discount, usage Usage, now time.Time) Quote {
	var subtotal int64
	for _, item := range items {
		subtotal += item.UnitPriceCents * int64(item.Quantity)
	}

	q := Quote{SubtotalCents: subtotal}
	q.DiscountAmountCents = discountAmount(subtotal, discount, usage, now)
	q.TotalCents = subtotal - q.DiscountAmountCents
	return q
}

func discountAmount(subtotal int64, d *domain.Discount, usage Usage, now time.Time) int64 {
	if d == nil || !d.ActiveAt(now) {
		return 0
	}
	if d.UsageLimit != nil && usage.Total >= *d.UsageLimit {
		return 0
	}
	if d.PerUserLimit != nil && usage.PerOwner >= *d.PerUserLimit {
		return 0
	}

	var amount int64
	switch d.Kind {
	case domain.DiscountPercentage:
		amount = roundHalfUp(subtotal*d.Amount, 100)
	case domain.DiscountFixed:
		amount = d.Amount * 100
	default:
		return 0
	}

	// Clamp so the total never goes negative.
	if amount > subtotal {
		amount = subtotal
	}
	if amount < 0 {
		amount = 0
	}
	return amount
}

// roundHalfUp divides num by den rounding half away from zero. Inputs here
// are never negative.
func roundHalfUp(num, den int64) int64 {
	return (num + den/2) / den
}
