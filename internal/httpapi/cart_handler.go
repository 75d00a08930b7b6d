package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/goshop/goshop/internal/cart"
	"github.com/goshop/goshop/internal/domain"
)

// Carts is the cart service surface the HTTP layer drives.
type Carts interface {
	GetCart(ctx context.Context, ownerKey string) (*domain.Cart, error)
	AddOrUpdate(ctx context.Context, ownerKey string, productID int64, quantity int32) (*domain.Cart, error)
	Remove(ctx context.Context, ownerKey string, productID int64) error
	Clear(ctx context.Context, ownerKey string) error
}

type CartHandler struct {
	carts   Carts
	timeout time.Duration
}

func NewCartHandler(carts Carts, timeout time.Duration) *CartHandler {
	return &CartHandler{
		carts:   carts,
		timeout: timeout,
	}
}

type AddItemRequestDTO struct {
	ProductID int64 `json:"product_id"`
	Quantity  int32 `json:"quantity"`
}

func (h *CartHandler) AddItem(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	ownerKey := ownerKeyFromContext(r.Context())

	var req AddItemRequestDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}

	if req.ProductID <= 0 {
		respondError(w, http.StatusBadRequest, "invalid_product_id", "product_id must be positive")
		return
	}
	if req.Quantity <= 0 || req.Quantity > 99 {
		respondError(w, http.StatusBadRequest, "invalid_quantity", "quantity must be between 1 and 99")
		return
	}

	updated, err := h.carts.AddOrUpdate(ctx, ownerKey, req.ProductID, req.Quantity)
	if err != nil {
		handleCartError(w, err)
		return
	}

	respondJSON(w, http.StatusCreated, updated)
}

func (h *CartHandler) GetCart(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	ownerKey := ownerKeyFromContext(r.Context())

	current, err := h.carts.GetCart(ctx, ownerKey)
	if err != nil {
		handleCartError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, current)
}

func (h *CartHandler) RemoveItem(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	ownerKey := ownerKeyFromContext(r.Context())

	productIDStr := chi.URLParam(r, "product_id")
	productID, err := strconv.ParseInt(productIDStr, 10, 64)
	if err != nil || productID <= 0 {
		respondError(w, http.StatusBadRequest, "invalid_product_id", "product_id must be a positive integer")
		return
	}

	if err := h.carts.Remove(ctx, ownerKey, productID); err != nil {
		handleCartError(w, err)
		return
	}

	current, err := h.carts.GetCart(ctx, ownerKey)
	if err != nil {
		handleCartError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, current)
}

func (h *CartHandler) ClearCart(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	ownerKey := ownerKeyFromContext(r.Context())

	if err := h.carts.Clear(ctx, ownerKey); err != nil {
		handleCartError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, &domain.Cart{OwnerKey: ownerKey, Items: []domain.CartItem{}})
}

func handleCartError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, cart.ErrProductNotFound):
		respondError(w, http.StatusNotFound, "product_not_found", "product does not exist")
	case errors.Is(err, cart.ErrOutOfStock):
		respondError(w, http.StatusConflict, "out_of_stock", "not enough stock for the requested quantity")
	case errors.Is(err, cart.ErrInvalidQuantity):
		respondError(w, http.StatusBadRequest, "invalid_quantity", "quantity must be between 1 and 99")
	default:
		respondError(w, http.StatusInternalServerError, "internal_error", "internal server error")
	}
}
