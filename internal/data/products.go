package data

import (
	"context"
	"time"
)

type Product struct {
	ID          int64     `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	IsActive    bool      `json:"is_active"`
	CreatedAt   time.Time `json:"created_at"`
}

type ProductModel struct {
	DB DBTX
}

func (m ProductModel) Get(ctx context.Context, id int64) (*Product, error) {
	query := `
		SELECT id, name, description, is_active, created_at
		FROM products
		WHERE id = $1`

	var p Product
	err := m.DB.QueryRowContext(ctx, query, id).Scan(&p.ID, &p.Name, &p.Description, &p.IsActive, &p.CreatedAt)
	if err != nil {
		return nil, mapNoRows(err)
	}
	return &p, nil
}

// ListActive returns active products ordered by name.
func (m ProductModel) ListActive(ctx context.Context) ([]Product, error) {
	query := `
		SELECT id, name, description, is_active, created_at
		FROM products
		WHERE is_active = TRUE
		ORDER BY name`

	rows, err := m.DB.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	products := []Product{}
	for rows.Next() {
		var p Product
		if err := rows.Scan(&p.ID, &p.Name, &p.Description, &p.IsActive, &p.CreatedAt); err != nil {
			return nil, err
		}
		products = append(products, p)
	}
	return products, rows.Err()
}

func (m ProductModel) Insert(ctx context.Context, p *Product) error {
	query := `
		INSERT INTO products (name, description, is_active)
		VALUES ($1, $2, $3)
		RETURNING id, created_at`

	err := m.DB.QueryRowContext(ctx, query, p.Name, p.Description, p.IsActive).Scan(&p.ID, &p.CreatedAt)
	if isUniqueViolation(err) {
		return ErrDuplicate
	}
	return err
}

func (m ProductModel) SetActive(ctx context.Context, id int64, active bool) error {
	res, err := m.DB.ExecContext(ctx, `UPDATE products SET is_active = $1 WHERE id = $2`, active, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrRecordNotFound
	}
	return nil
}
