package inventory

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/stockyard-erp/stockyard-erp/internal/platform/db"
)

// ErrStockLevelNotFound indicates a missing stock row; callers treat it as
// quantity zero.
var ErrStockLevelNotFound = errors.New("inventory: stock level not found")

// ErrLotNotFound indicates a missing lot row.
var ErrLotNotFound = errors.New("inventory: lot not found")

// Repository persists stock levels, lots and the movement ledger in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// TxRepository exposes the write operations available inside an engine
// transaction. The engine is its only consumer.
type TxRepository interface {
	GetStockLevelForUpdate(ctx context.Context, productID, warehouseID int64) (StockLevel, error)
	ApplyStockDelta(ctx context.Context, productID, warehouseID int64, delta decimal.Decimal) error
	SetStockLevel(ctx context.Context, productID, warehouseID int64, quantity decimal.Decimal) error
	InsertMovement(ctx context.Context, m Movement) (int64, error)
	AdjustLotQuantity(ctx context.Context, lotID int64, delta decimal.Decimal) error
}

type txRepo struct {
	tx pgx.Tx
}

// WithTx wraps fn in a repeatable-read transaction. Row locks taken through
// GetStockLevelForUpdate serialize concurrent engine operations per
// (product, warehouse) key for the duration of the transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepo{tx: tx})
	})
}

func (r *txRepo) GetStockLevelForUpdate(ctx context.Context, productID, warehouseID int64) (StockLevel, error) {
	const query = `
		SELECT product_id, warehouse_id, quantity, updated_at
		FROM stock_levels
		WHERE product_id = $1 AND warehouse_id = $2
		FOR UPDATE`
	var level StockLevel
	err := r.tx.QueryRow(ctx, query, productID, warehouseID).Scan(
		&level.ProductID, &level.WarehouseID, &level.Quantity, &level.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return StockLevel{ProductID: productID, WarehouseID: warehouseID, Quantity: decimal.Zero}, ErrStockLevelNotFound
		}
		return StockLevel{}, err
	}
	return level, nil
}

// ApplyStockDelta increments the stock row in a single statement so the
// stored value is exactly prior + delta even under concurrent writers.
func (r *txRepo) ApplyStockDelta(ctx context.Context, productID, warehouseID int64, delta decimal.Decimal) error {
	const query = `
		INSERT INTO stock_levels (product_id, warehouse_id, quantity, updated_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (product_id, warehouse_id)
		DO UPDATE SET quantity = stock_levels.quantity + EXCLUDED.quantity, updated_at = NOW()`
	_, err := r.tx.Exec(ctx, query, productID, warehouseID, delta)
	return err
}

func (r *txRepo) SetStockLevel(ctx context.Context, productID, warehouseID int64, quantity decimal.Decimal) error {
	const query = `
		INSERT INTO stock_levels (product_id, warehouse_id, quantity, updated_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (product_id, warehouse_id)
		DO UPDATE SET quantity = EXCLUDED.quantity, updated_at = NOW()`
	_, err := r.tx.Exec(ctx, query, productID, warehouseID, quantity)
	return err
}

func (r *txRepo) InsertMovement(ctx context.Context, m Movement) (int64, error) {
	const query = `
		INSERT INTO movements (product_id, warehouse_id, lot_id, kind, quantity,
			previous_quantity, resulting_quantity, reason, document_ref,
			destination_warehouse_id, user_id, occurred_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		RETURNING id`
	occurredAt := m.OccurredAt
	if occurredAt.IsZero() {
		occurredAt = time.Now().UTC()
	}
	var id int64
	err := r.tx.QueryRow(ctx, query,
		m.ProductID, m.WarehouseID, m.LotID, string(m.Kind), m.Quantity,
		m.PreviousQuantity, m.ResultingQuantity, m.Reason, m.DocumentRef,
		m.DestinationWarehouseID, m.UserID, occurredAt,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("insert movement: %w", err)
	}
	return id, nil
}

func (r *txRepo) AdjustLotQuantity(ctx context.Context, lotID int64, delta decimal.Decimal) error {
	tag, err := r.tx.Exec(ctx, `UPDATE lots SET quantity = quantity + $2 WHERE id = $1`, lotID, delta)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrLotNotFound
	}
	return nil
}

// GetStockLevel returns the stock level for the key. A missing row is
// reported as quantity zero, never as an error.
func (r *Repository) GetStockLevel(ctx context.Context, productID, warehouseID int64) (StockLevel, error) {
	const query = `
		SELECT product_id, warehouse_id, quantity, updated_at
		FROM stock_levels
		WHERE product_id = $1 AND warehouse_id = $2`
	var level StockLevel
	err := r.pool.QueryRow(ctx, query, productID, warehouseID).Scan(
		&level.ProductID, &level.WarehouseID, &level.Quantity, &level.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return StockLevel{ProductID: productID, WarehouseID: warehouseID, Quantity: decimal.Zero}, nil
		}
		return StockLevel{}, err
	}
	return level, nil
}

// ListStockByWarehouse lists non-zero stock levels in a warehouse.
func (r *Repository) ListStockByWarehouse(ctx context.Context, warehouseID int64) ([]StockLevel, error) {
	const query = `
		SELECT product_id, warehouse_id, quantity, updated_at
		FROM stock_levels
		WHERE warehouse_id = $1 AND quantity <> 0
		ORDER BY product_id`
	rows, err := r.pool.Query(ctx, query, warehouseID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var levels []StockLevel
	for rows.Next() {
		var level StockLevel
		if err := rows.Scan(&level.ProductID, &level.WarehouseID, &level.Quantity, &level.UpdatedAt); err != nil {
			return nil, err
		}
		levels = append(levels, level)
	}
	return levels, rows.Err()
}

// GetLot retrieves a single lot.
func (r *Repository) GetLot(ctx context.Context, id int64) (Lot, error) {
	const query = `
		SELECT id, product_id, warehouse_id, lot_number, production_date, expiry_date, quantity, note, created_at
		FROM lots WHERE id = $1`
	var lot Lot
	err := r.pool.QueryRow(ctx, query, id).Scan(
		&lot.ID, &lot.ProductID, &lot.WarehouseID, &lot.LotNumber,
		&lot.ProductionDate, &lot.ExpiryDate, &lot.Quantity, &lot.Note, &lot.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Lot{}, ErrLotNotFound
		}
		return Lot{}, err
	}
	return lot, nil
}

// FindLotsByProductWarehouse lists lots for a key ordered by expiry date
// ascending with undated lots last.
func (r *Repository) FindLotsByProductWarehouse(ctx context.Context, productID, warehouseID int64) ([]Lot, error) {
	const query = `
		SELECT id, product_id, warehouse_id, lot_number, production_date, expiry_date, quantity, note, created_at
		FROM lots
		WHERE product_id = $1 AND warehouse_id = $2
		ORDER BY expiry_date ASC NULLS LAST, id`
	rows, err := r.pool.Query(ctx, query, productID, warehouseID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanLots(rows)
}

// FindExpiringLots lists lots with stock expiring within the window, joined
// with catalog names, ordered by expiry ascending.
func (r *Repository) FindExpiringLots(ctx context.Context, days int) ([]ExpiringLot, error) {
	const query = `
		SELECT l.id, l.product_id, l.warehouse_id, l.lot_number, l.production_date,
		       l.expiry_date, l.quantity, l.note, l.created_at,
		       p.code, p.name, w.name,
		       (l.expiry_date - CURRENT_DATE) AS days_to_expiry
		FROM lots l
		JOIN products p ON p.id = l.product_id
		JOIN warehouses w ON w.id = l.warehouse_id
		WHERE l.expiry_date IS NOT NULL
		  AND l.expiry_date <= CURRENT_DATE + $1::int
		  AND l.quantity > 0
		ORDER BY l.expiry_date ASC, l.id`
	rows, err := r.pool.Query(ctx, query, days)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var lots []ExpiringLot
	for rows.Next() {
		var lot ExpiringLot
		err := rows.Scan(
			&lot.ID, &lot.ProductID, &lot.WarehouseID, &lot.LotNumber, &lot.ProductionDate,
			&lot.ExpiryDate, &lot.Quantity, &lot.Note, &lot.CreatedAt,
			&lot.ProductCode, &lot.ProductName, &lot.WarehouseName,
			&lot.DaysToExpiry,
		)
		if err != nil {
			return nil, err
		}
		lots = append(lots, lot)
	}
	return lots, rows.Err()
}

// ListMovements serves the ledger read projections. Filters combine with AND;
// zero filter fields are ignored.
func (r *Repository) ListMovements(ctx context.Context, filter MovementFilter) ([]MovementView, error) {
	var sb strings.Builder
	sb.WriteString(`
		SELECT m.id, m.product_id, m.warehouse_id, m.lot_id, m.kind, m.quantity,
		       m.previous_quantity, m.resulting_quantity, m.reason, m.document_ref,
		       m.destination_warehouse_id, m.user_id, m.occurred_at,
		       p.code, p.name, w.name, dw.name, l.lot_number
		FROM movements m
		JOIN products p ON p.id = m.product_id
		JOIN warehouses w ON w.id = m.warehouse_id
		LEFT JOIN warehouses dw ON dw.id = m.destination_warehouse_id
		LEFT JOIN lots l ON l.id = m.lot_id
		WHERE 1=1`)
	args := []any{}
	if filter.ProductID != 0 {
		args = append(args, filter.ProductID)
		fmt.Fprintf(&sb, " AND m.product_id = $%d", len(args))
	}
	if filter.WarehouseID != 0 {
		args = append(args, filter.WarehouseID)
		fmt.Fprintf(&sb, " AND (m.warehouse_id = $%d OR m.destination_warehouse_id = $%d)", len(args), len(args))
	}
	if filter.Kind != "" {
		args = append(args, string(filter.Kind))
		fmt.Fprintf(&sb, " AND m.kind = $%d", len(args))
	}
	if !filter.From.IsZero() {
		args = append(args, filter.From)
		fmt.Fprintf(&sb, " AND m.occurred_at >= $%d", len(args))
	}
	if !filter.To.IsZero() {
		args = append(args, filter.To)
		fmt.Fprintf(&sb, " AND m.occurred_at < $%d", len(args))
	}
	sb.WriteString(" ORDER BY m.occurred_at DESC, m.id DESC")
	limit := filter.Limit
	if limit <= 0 {
		limit = 200
	}
	args = append(args, limit)
	fmt.Fprintf(&sb, " LIMIT $%d", len(args))

	rows, err := r.pool.Query(ctx, sb.String(), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var views []MovementView
	for rows.Next() {
		var v MovementView
		var kind string
		err := rows.Scan(
			&v.ID, &v.ProductID, &v.WarehouseID, &v.LotID, &kind, &v.Quantity,
			&v.PreviousQuantity, &v.ResultingQuantity, &v.Reason, &v.DocumentRef,
			&v.DestinationWarehouseID, &v.UserID, &v.OccurredAt,
			&v.ProductCode, &v.ProductName, &v.WarehouseName, &v.DestinationWarehouseName, &v.LotNumber,
		)
		if err != nil {
			return nil, err
		}
		v.Kind = MovementKind(kind)
		views = append(views, v)
	}
	return views, rows.Err()
}

// Summary computes dashboard KPIs over stock levels and lots.
func (r *Repository) Summary(ctx context.Context, expiringWithinDays int) (StockSummary, error) {
	const stockQuery = `
		SELECT COALESCE(SUM(s.quantity), 0),
		       COALESCE(SUM(s.quantity * p.purchase_price), 0),
		       COALESCE(SUM(s.quantity * p.sale_price), 0),
		       COUNT(*) FILTER (WHERE s.quantity < p.min_stock),
		       COUNT(DISTINCT s.product_id)
		FROM stock_levels s
		JOIN products p ON p.id = s.product_id
		WHERE p.active`
	var summary StockSummary
	err := r.pool.QueryRow(ctx, stockQuery).Scan(
		&summary.TotalQuantity, &summary.PurchaseValue, &summary.SaleValue,
		&summary.BelowMinimum, &summary.TrackedProducts,
	)
	if err != nil {
		return StockSummary{}, err
	}
	const expiringQuery = `
		SELECT COUNT(*)
		FROM lots
		WHERE expiry_date IS NOT NULL
		  AND expiry_date <= CURRENT_DATE + $1::int
		  AND quantity > 0`
	if err := r.pool.QueryRow(ctx, expiringQuery, expiringWithinDays).Scan(&summary.ExpiringLots); err != nil {
		return StockSummary{}, err
	}
	return summary, nil
}

func scanLots(rows pgx.Rows) ([]Lot, error) {
	var lots []Lot
	for rows.Next() {
		var lot Lot
		err := rows.Scan(
			&lot.ID, &lot.ProductID, &lot.WarehouseID, &lot.LotNumber,
			&lot.ProductionDate, &lot.ExpiryDate, &lot.Quantity, &lot.Note, &lot.CreatedAt,
		)
		if err != nil {
			return nil, err
		}
		lots = append(lots, lot)
	}
	return lots, rows.Err()
}
