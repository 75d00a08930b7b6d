package checkout

import "errors"

var (
	ErrEmptyCart            = errors.New("cart is empty, nothing to checkout")
	ErrUnknownPaymentMethod = errors.New("unknown payment method")
	ErrProductUnavailable   = errors.New("product in cart is no longer available")
	ErrOutOfStock           = errors.New("insufficient stock for product in cart")
	ErrPaymentSessionExists = errors.New("a payment session was already created for this order")
)
