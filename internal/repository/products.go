package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/goshop/goshop/internal/domain"
)

func (r *Repository) GetProduct(ctx context.Context, id int64) (*domain.Product, error) {
	query := `SELECT id, title, description, category, price_cents, currency, stock, created_at, updated_at
	          FROM products WHERE id = $1`

	var p domain.Product
	var stock sql.NullInt32
	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&p.ID,
		&p.Title,
		&p.Description,
		&p.Category,
		&p.PriceCents,
		&p.Currency,
		&stock,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrProductNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query product by id: %w", err)
	}

	if stock.Valid {
		p.Stock = &stock.Int32
	}
	return &p, nil
}

type ProductFilter struct {
	Page     int
	Limit    int
	Category string
	Search   string
}

func (f ProductFilter) normalized() ProductFilter {
	if f.Page < 1 {
		f.Page = 1
	}
	if f.Limit < 1 || f.Limit > 100 {
		f.Limit = 10
	}
	return f
}

// ListProducts returns a page of products plus the total match count for
// pagination.
func (r *Repository) ListProducts(ctx context.Context, filter ProductFilter) ([]*domain.Product, int64, error) {
	filter = filter.normalized()

	where := ` WHERE ($1 = '' OR category = $1)
	           AND ($2 = '' OR title ILIKE '%' || $2 || '%' OR description ILIKE '%' || $2 || '%')`

	var total int64
	countQuery := `SELECT COUNT(*) FROM products` + where
	if err := r.db.QueryRowContext(ctx, countQuery, filter.Category, filter.Search).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count products: %w", err)
	}

	query := `SELECT id, title, description, category, price_cents, currency, stock, created_at, updated_at
	          FROM products` + where + `
	          ORDER BY created_at DESC LIMIT $3 OFFSET $4`

	offset := (filter.Page - 1) * filter.Limit
	rows, err := r.db.QueryContext(ctx, query, filter.Category, filter.Search, filter.Limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("query products: %w", err)
	}
	defer rows.Close()

	var products []*domain.Product
	for rows.Next() {
		var p domain.Product
		var stock sql.NullInt32
		if err := rows.Scan(
			&p.ID,
			&p.Title,
			&p.Description,
			&p.Category,
			&p.PriceCents,
			&p.Currency,
			&stock,
			&p.CreatedAt,
			&p.UpdatedAt,
		); err != nil {
			return nil, 0, fmt.Errorf("scan product row: %w", err)
		}
		if stock.Valid {
			p.Stock = &stock.Int32
		}
		products = append(products, &p)
	}

	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("row iteration error: %w", err)
	}
	return products, total, nil
}
