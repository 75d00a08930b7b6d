package domain

import "time"

type Cart struct {
	ID        string     `bson:"_id,omitempty" json:"-"`
	OwnerKey  string     `bson:"owner_key" json:"owner_key"`
	Items     []CartItem `bson:"items" json:"items"`
	CreatedAt time.Time  `bson:"created_at" json:"created_at"`
	UpdatedAt time.Time  `bson:"updated_at" json:"updated_at"`
}

// CartItem carries a price snapshot taken when the item was added. The
// snapshot is display-only: checkout re-reads the catalog price before
// charging anything.
type CartItem struct {
	ProductID      int64     `bson:"product_id" json:"product_id"`
	Title          string    `bson:"title" json:"title"`
	Quantity       int32     `bson:"quantity" json:"quantity"`
	UnitPriceCents int64     `bson:"unit_price_cents" json:"unit_price_cents"`
	AddedAt        time.Time `bson:"added_at" json:"added_at"`
}

func (c *Cart) IsEmpty() bool {
	return c == nil || len(c.Items) == 0
}
