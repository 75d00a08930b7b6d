package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/goshop/goshop/internal/checkout"
	"github.com/goshop/goshop/internal/payment"
)

type CheckoutService interface {
	Checkout(ctx context.Context, ownerKey, method, discountCode string) (*checkout.Result, error)
}

type CheckoutHandler struct {
	checkouts CheckoutService
	timeout   time.Duration
}

func NewCheckoutHandler(checkouts CheckoutService, timeout time.Duration) *CheckoutHandler {
	return &CheckoutHandler{
		checkouts: checkouts,
		timeout:   timeout,
	}
}

type CheckoutRequestDTO struct {
	PaymentMethod string `json:"payment_method"`
	DiscountCode  string `json:"discount_code,omitempty"`
}

func (h *CheckoutHandler) Checkout(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	ownerKey := ownerKeyFromContext(r.Context())

	var req CheckoutRequestDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}
	if req.PaymentMethod == "" {
		respondError(w, http.StatusBadRequest, "invalid_payment_method", "payment_method is required")
		return
	}

	result, err := h.checkouts.Checkout(ctx, ownerKey, req.PaymentMethod, req.DiscountCode)
	if err != nil {
		handleCheckoutError(w, err)
		return
	}

	respondJSON(w, http.StatusCreated, result)
}

func handleCheckoutError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, checkout.ErrEmptyCart):
		respondError(w, http.StatusBadRequest, "empty_cart", "cart is empty")
	case errors.Is(err, checkout.ErrUnknownPaymentMethod):
		respondError(w, http.StatusBadRequest, "unknown_payment_method", "payment method is not supported")
	case errors.Is(err, checkout.ErrProductUnavailable):
		respondError(w, http.StatusConflict, "product_unavailable", "a product in the cart is no longer available")
	case errors.Is(err, checkout.ErrOutOfStock):
		respondError(w, http.StatusConflict, "out_of_stock", "a product in the cart is out of stock")
	case errors.Is(err, checkout.ErrPaymentSessionExists):
		respondError(w, http.StatusConflict, "payment_in_progress", "a payment session already exists for this order")
	case errors.Is(err, payment.ErrNotConfigured):
		respondError(w, http.StatusServiceUnavailable, "provider_unavailable", "payment provider is not configured")
	default:
		respondError(w, http.StatusBadGateway, "checkout_failed", "checkout could not be completed")
	}
}
