package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/goshop/goshop/internal/domain"
)

// GetDiscountByCode loads a discount regardless of validity window or usage.
// The pricing engine decides whether the code actually applies.
func (r *Repository) GetDiscountByCode(ctx context.Context, code string) (*domain.Discount, error) {
	query := `SELECT id, code, kind, amount, starts_at, expires_at, usage_limit, per_user_limit
	          FROM discounts WHERE code = $1`

	var d domain.Discount
	var usageLimit, perUserLimit sql.NullInt64
	err := r.db.QueryRowContext(ctx, query, code).Scan(
		&d.ID,
		&d.Code,
		&d.Kind,
		&d.Amount,
		&d.StartsAt,
		&d.ExpiresAt,
		&usageLimit,
		&perUserLimit,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrDiscountNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query discount by code: %w", err)
	}

	if usageLimit.Valid {
		d.UsageLimit = &usageLimit.Int64
	}
	if perUserLimit.Valid {
		d.PerUserLimit = &perUserLimit.Int64
	}
	return &d, nil
}
