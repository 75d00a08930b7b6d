package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/goshop/goshop/internal/domain"
)

const orderColumns = `id, owner_key, items, subtotal_cents, discount_code, discount_amount_cents,
	total_cents, currency, status, payment_provider, provider_payment_ref, created_at, updated_at`

// CreateOrder inserts a new order. A partial unique index on owner_key over
// open statuses turns a concurrent duplicate into ErrOpenOrderExists instead
// of a second charged order.
func (r *Repository) CreateOrder(ctx context.Context, order *domain.Order) error {
	itemsJSON, err := json.Marshal(order.Items)
	if err != nil {
		return fmt.Errorf("failed to marshal order items: %w", err)
	}

	query := `INSERT INTO orders (id, owner_key, items, subtotal_cents, discount_code, discount_amount_cents,
	          total_cents, currency, status, created_at, updated_at)
	          VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, NOW(), NOW())`

	_, insertErr := r.db.ExecContext(ctx, query,
		order.ID,
		order.OwnerKey,
		itemsJSON,
		order.SubtotalCents,
		nullString(order.DiscountCode),
		order.DiscountAmountCents,
		order.TotalCents,
		order.Currency,
		order.Status)

	if insertErr != nil {
		var pqErr *pq.Error
		if errors.As(insertErr, &pqErr) && pqErr.Code == "23505" {
			return ErrOpenOrderExists
		}
		return fmt.Errorf("insert order: %w", insertErr)
	}
	return nil
}

func (r *Repository) GetOrderByID(ctx context.Context, id uuid.UUID) (*domain.Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders WHERE id = $1`
	return r.scanOrder(r.db.QueryRowContext(ctx, query, id))
}

// GetOpenOrderByOwner returns the owner's order in PENDING or PROCESSING,
// if any. Used by checkout retries to resume instead of duplicating.
func (r *Repository) GetOpenOrderByOwner(ctx context.Context, ownerKey string) (*domain.Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders
	          WHERE owner_key = $1 AND status IN ($2, $3)`
	return r.scanOrder(r.db.QueryRowContext(ctx, query, ownerKey,
		domain.OrderStatusPending, domain.OrderStatusProcessing))
}

func (r *Repository) ListOrdersByOwner(ctx context.Context, ownerKey string) ([]*domain.Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders
	          WHERE owner_key = $1 ORDER BY created_at DESC`

	rows, err := r.db.QueryContext(ctx, query, ownerKey)
	if err != nil {
		return nil, fmt.Errorf("query orders by owner: %w", err)
	}
	defer rows.Close()

	var orders []*domain.Order
	for rows.Next() {
		order, err := r.scanOrderRow(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, order)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}
	return orders, nil
}

// TransitionStatus moves an order from one of the expected statuses to the
// target status. Compare-and-set: zero affected rows means the order was not
// in an expected status and ErrStaleStatus is returned.
func (r *Repository) TransitionStatus(ctx context.Context, id uuid.UUID, from []domain.OrderStatus, to domain.OrderStatus) error {
	query := `UPDATE orders SET status = $1, updated_at = NOW()
	          WHERE id = $2 AND status = ANY($3)`

	res, err := r.db.ExecContext(ctx, query, to, id, pq.Array(statusStrings(from)))
	if err != nil {
		return fmt.Errorf("transition order status: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("transition order status: %w", err)
	}
	if affected == 0 {
		return ErrStaleStatus
	}
	return nil
}

// SetProviderSession records the provider and its opaque session reference.
// The reference is write-once: an order that already carries one keeps it.
func (r *Repository) SetProviderSession(ctx context.Context, id uuid.UUID, provider, ref string) error {
	query := `UPDATE orders SET payment_provider = $1, provider_payment_ref = $2, updated_at = NOW()
	          WHERE id = $3 AND provider_payment_ref IS NULL`

	res, err := r.db.ExecContext(ctx, query, provider, ref, id)
	if err != nil {
		return fmt.Errorf("set provider session: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("set provider session: %w", err)
	}
	if affected == 0 {
		return ErrStaleStatus
	}
	return nil
}

// CompleteOrder applies a confirmed payment exactly once. The status CAS,
// the audit row and the outbox event share one transaction, so re-delivered
// webhooks (zero affected rows) leave no second audit entry. Returns true
// only when this call performed the completion.
func (r *Repository) CompleteOrder(ctx context.Context, id uuid.UUID, provider, paymentRef string) (bool, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin complete order tx: %w", err)
	}
	defer tx.Rollback()

	query := `UPDATE orders
	          SET status = $1,
	              provider_payment_ref = COALESCE(provider_payment_ref, $2),
	              updated_at = NOW()
	          WHERE id = $3 AND status = $4`

	res, err := tx.ExecContext(ctx, query,
		domain.OrderStatusCompleted, paymentRef, id, domain.OrderStatusProcessing)
	if err != nil {
		return false, fmt.Errorf("complete order: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("complete order: %w", err)
	}
	if affected == 0 {
		// Already completed, never reached processing, or unknown id.
		return false, nil
	}

	metadata, err := json.Marshal(map[string]string{
		"payment_provider": provider,
		"payment_ref":      paymentRef,
	})
	if err != nil {
		return false, fmt.Errorf("marshal audit metadata: %w", err)
	}

	auditQuery := `INSERT INTO audit_logs (id, action, entity_type, entity_id, metadata, created_at)
	               VALUES ($1, 'payment_completed', 'order', $2, $3, NOW())`
	if _, err := tx.ExecContext(ctx, auditQuery, uuid.New(), id.String(), metadata); err != nil {
		return false, fmt.Errorf("insert audit log: %w", err)
	}

	payload, err := json.Marshal(map[string]interface{}{
		"order_id":     id,
		"provider":     provider,
		"payment_ref":  paymentRef,
		"completed_at": time.Now().UTC(),
	})
	if err != nil {
		return false, fmt.Errorf("marshal outbox payload: %w", err)
	}

	outboxQuery := `INSERT INTO outbox_events (aggregate_id, event_type, payload, created_at)
	                VALUES ($1, 'order.completed', $2, NOW())`
	if _, err := tx.ExecContext(ctx, outboxQuery, id.String(), payload); err != nil {
		return false, fmt.Errorf("insert outbox event: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit complete order tx: %w", err)
	}
	return true, nil
}

// FailOrder marks an order failed after the provider reported a failed
// payment. Terminal orders are left untouched.
func (r *Repository) FailOrder(ctx context.Context, id uuid.UUID) error {
	err := r.TransitionStatus(ctx, id,
		[]domain.OrderStatus{domain.OrderStatusPending, domain.OrderStatusProcessing},
		domain.OrderStatusFailed)
	if errors.Is(err, ErrStaleStatus) {
		return nil
	}
	return err
}

// DiscountUsage counts orders that consumed the code, globally and for one
// owner. Failed and cancelled orders do not hold a usage slot.
func (r *Repository) DiscountUsage(ctx context.Context, code, ownerKey string) (total, perOwner int64, err error) {
	query := `SELECT COUNT(*), COUNT(*) FILTER (WHERE owner_key = $2)
	          FROM orders
	          WHERE discount_code = $1 AND status NOT IN ($3, $4)`

	err = r.db.QueryRowContext(ctx, query, code, ownerKey,
		domain.OrderStatusFailed, domain.OrderStatusCancelled).Scan(&total, &perOwner)
	if err != nil {
		return 0, 0, fmt.Errorf("count discount usage: %w", err)
	}
	return total, perOwner, nil
}

type Stats struct {
	TotalOrders   int64 `json:"total_orders"`
	TotalRevenue  int64 `json:"total_revenue_cents"`
	TotalProducts int64 `json:"total_products"`
}

func (r *Repository) GetStats(ctx context.Context) (*Stats, error) {
	var s Stats
	query := `SELECT COUNT(*), COALESCE(SUM(total_cents), 0)
	          FROM orders WHERE status = $1`
	if err := r.db.QueryRowContext(ctx, query, domain.OrderStatusCompleted).Scan(&s.TotalOrders, &s.TotalRevenue); err != nil {
		return nil, fmt.Errorf("query order stats: %w", err)
	}
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM products`).Scan(&s.TotalProducts); err != nil {
		return nil, fmt.Errorf("query product stats: %w", err)
	}
	return &s, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func (r *Repository) scanOrder(row rowScanner) (*domain.Order, error) {
	order, err := r.scanOrderRow(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrOrderNotFound
	}
	return order, err
}

func (r *Repository) scanOrderRow(row rowScanner) (*domain.Order, error) {
	var order domain.Order
	var itemsJSON []byte
	var discountCode, provider, providerRef sql.NullString

	err := row.Scan(
		&order.ID,
		&order.OwnerKey,
		&itemsJSON,
		&order.SubtotalCents,
		&discountCode,
		&order.DiscountAmountCents,
		&order.TotalCents,
		&order.Currency,
		&order.Status,
		&provider,
		&providerRef,
		&order.CreatedAt,
		&order.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan order row: %w", err)
	}

	if err := json.Unmarshal(itemsJSON, &order.Items); err != nil {
		return nil, fmt.Errorf("unmarshal order items: %w", err)
	}
	order.DiscountCode = discountCode.String
	order.PaymentProvider = provider.String
	order.ProviderPaymentRef = providerRef.String
	return &order, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func statusStrings(statuses []domain.OrderStatus) []string {
	out := make([]string, len(statuses))
	for i, s := range statuses {
		out[i] = string(s)
	}
	return out
}
