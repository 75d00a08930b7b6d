package httpapi

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/go-chi/chi/v5"

	"github.com/goshop/goshop/internal/domain"
	"github.com/goshop/goshop/internal/repository"
)

type OrderReader interface {
	GetOrderByID(ctx context.Context, id uuid.UUID) (*domain.Order, error)
	ListOrdersByOwner(ctx context.Context, ownerKey string) ([]*domain.Order, error)
	GetStats(ctx context.Context) (*repository.Stats, error)
}

type OrdersHandler struct {
	orders  OrderReader
	timeout time.Duration
}

func NewOrdersHandler(orders OrderReader, timeout time.Duration) *OrdersHandler {
	return &OrdersHandler{
		orders:  orders,
		timeout: timeout,
	}
}

func (h *OrdersHandler) ListOrders(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	ownerKey := ownerKeyFromContext(r.Context())

	orders, err := h.orders.ListOrdersByOwner(ctx, ownerKey)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "internal_error", "could not list orders")
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{"orders": orders})
}

func (h *OrdersHandler) GetOrder(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	ownerKey := ownerKeyFromContext(r.Context())

	orderID, err := uuid.Parse(chi.URLParam(r, "order_id"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_order_id", "order_id must be a uuid")
		return
	}

	order, err := h.orders.GetOrderByID(ctx, orderID)
	if err != nil {
		if errors.Is(err, repository.ErrOrderNotFound) {
			respondError(w, http.StatusNotFound, "order_not_found", "order does not exist")
			return
		}
		respondError(w, http.StatusInternalServerError, "internal_error", "could not load order")
		return
	}

	// Owners only ever see their own orders.
	if order.OwnerKey != ownerKey {
		respondError(w, http.StatusNotFound, "order_not_found", "order does not exist")
		return
	}

	respondJSON(w, http.StatusOK, order)
}

func (h *OrdersHandler) Stats(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	stats, err := h.orders.GetStats(ctx)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "internal_error", "could not compute stats")
		return
	}

	respondJSON(w, http.StatusOK, stats)
}
