package cart

import (
	"context"
	"errors"

	"github.com/goshop/goshop/internal/domain"
)

var (
	ErrCartNotFound = errors.New("cart not found")
	ErrItemNotFound = errors.New("item not found in cart")
)

// CartRepository defines the interface for cart data operations.
// Consumers define this interface, not the MongoDB implementation.
type CartRepository interface {
	GetCart(ctx context.Context, ownerKey string) (*domain.Cart, error)
	UpsertItem(ctx context.Context, ownerKey string, item domain.CartItem) error
	RemoveItem(ctx context.Context, ownerKey string, productID int64) error
	DeleteCart(ctx context.Context, ownerKey string) error
}
