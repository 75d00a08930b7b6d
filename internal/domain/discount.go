package domain

import "time"

type DiscountKind string

const (
	DiscountPercentage DiscountKind = "percentage"
	DiscountFixed      DiscountKind = "fixed"
)

// Discount amounts are interpreted by kind: percentage uses Amount as a
// percent of the subtotal, fixed uses Amount in major currency units.
type Discount struct {
	ID           int64
	Code         string
	Kind         DiscountKind
	Amount       int64
	StartsAt     time.Time
	ExpiresAt    time.Time
	UsageLimit   *int64
	PerUserLimit *int64
}

func (d *Discount) ActiveAt(t time.Time) bool {
	return !t.Before(d.StartsAt) && !t.After(d.ExpiresAt)
}
