// Package catalog exposes read-only product and warehouse lookups. The core
// uses it for display enrichment only; engine correctness never depends on it.
package catalog

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

// ErrNotFound indicates a missing product or warehouse.
var ErrNotFound = errors.New("catalog: not found")

// Product describes a catalog product.
type Product struct {
	ID            int64           `json:"id"`
	Code          string          `json:"code"`
	Name          string          `json:"name"`
	UnitOfMeasure string          `json:"unit_of_measure"`
	MinStock      decimal.Decimal `json:"min_stock"`
	PurchasePrice decimal.Decimal `json:"purchase_price"`
	SalePrice     decimal.Decimal `json:"sale_price"`
	TaxRate       decimal.Decimal `json:"tax_rate"`
	Active        bool            `json:"active"`
}

// Warehouse describes a storage location.
type Warehouse struct {
	ID      int64  `json:"id"`
	Code    string `json:"code"`
	Name    string `json:"name"`
	Primary bool   `json:"primary"`
	Active  bool   `json:"active"`
}

// Lookup is the port consumed by the document service for line enrichment.
type Lookup interface {
	Product(ctx context.Context, id int64) (Product, error)
	Warehouse(ctx context.Context, id int64) (Warehouse, error)
}

// Repository implements Lookup against PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Product fetches one product.
func (r *Repository) Product(ctx context.Context, id int64) (Product, error) {
	const query = `
		SELECT id, code, name, unit_of_measure, min_stock, purchase_price, sale_price, tax_rate, active
		FROM products WHERE id = $1`
	var p Product
	err := r.pool.QueryRow(ctx, query, id).Scan(
		&p.ID, &p.Code, &p.Name, &p.UnitOfMeasure, &p.MinStock,
		&p.PurchasePrice, &p.SalePrice, &p.TaxRate, &p.Active,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Product{}, ErrNotFound
		}
		return Product{}, err
	}
	return p, nil
}

// Warehouse fetches one warehouse.
func (r *Repository) Warehouse(ctx context.Context, id int64) (Warehouse, error) {
	const query = `SELECT id, code, name, is_primary, active FROM warehouses WHERE id = $1`
	var w Warehouse
	err := r.pool.QueryRow(ctx, query, id).Scan(&w.ID, &w.Code, &w.Name, &w.Primary, &w.Active)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Warehouse{}, ErrNotFound
		}
		return Warehouse{}, err
	}
	return w, nil
}

// ListWarehouses lists active warehouses ordered by code.
func (r *Repository) ListWarehouses(ctx context.Context) ([]Warehouse, error) {
	const query = `SELECT id, code, name, is_primary, active FROM warehouses WHERE active ORDER BY code`
	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var warehouses []Warehouse
	for rows.Next() {
		var w Warehouse
		if err := rows.Scan(&w.ID, &w.Code, &w.Name, &w.Primary, &w.Active); err != nil {
			return nil, err
		}
		warehouses = append(warehouses, w)
	}
	return warehouses, rows.Err()
}
