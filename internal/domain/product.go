package domain

import "time"

type Product struct {
	ID          int64     `json:"id"`
	Title       string    `json:"title"`
	Description string    `json:"description,omitempty"`
	Category    string    `json:"category,omitempty"`
	PriceCents  int64     `json:"price_cents"`
	Currency    string    `json:"currency"`
	// Stock is nil when stock is not tracked for the product.
	Stock     *int32    `json:"stock,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// InStock reports whether qty units can be sold. Untracked stock always
// satisfies the request.
func (p *Product) InStock(qty int32) bool {
	return p.Stock == nil || *p.Stock >= qty
}
