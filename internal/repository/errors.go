package repository

import "errors"

var (
	ErrOrderNotFound    = errors.New("order not found")
	ErrOpenOrderExists  = errors.New("owner already has an open order")
	ErrStaleStatus      = errors.New("order status changed concurrently")
	ErrDiscountNotFound = errors.New("discount code not found")
	ErrProductNotFound  = errors.New("product not found")
)
