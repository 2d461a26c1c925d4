package inventory

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// MovementKind enumerates the closed set of ledger movement kinds. Every
// switch over it handles all four variants; there is no open dispatch.
type MovementKind string

const (
	// MovementLoad increases stock.
	MovementLoad MovementKind = "LOAD"
	// MovementUnload decreases stock.
	MovementUnload MovementKind = "UNLOAD"
	// MovementAdjust sets stock to an absolute value after a physical count.
	MovementAdjust MovementKind = "ADJUST"
	// MovementTransfer moves stock between two warehouses.
	MovementTransfer MovementKind = "TRANSFER"
)

// Valid reports whether the kind is one of the four movement kinds.
func (k MovementKind) Valid() bool {
	switch k {
	case MovementLoad, MovementUnload, MovementAdjust, MovementTransfer:
		return true
	default:
		return false
	}
}

// StockLevel is the aggregate on-hand quantity for a product in a warehouse.
// A missing row means quantity zero.
type StockLevel struct {
	ProductID   int64
	WarehouseID int64
	Quantity    decimal.Decimal
	UpdatedAt   time.Time
}

// Lot is a tracked batch of a product with its own expiry and quantity. Lot
// quantities are informational partitions of the StockLevel quantity; the
// engine never reconciles them against the aggregate.
type Lot struct {
	ID             int64
	ProductID      int64
	WarehouseID    int64
	LotNumber      string
	ProductionDate *time.Time
	ExpiryDate     *time.Time
	Quantity       decimal.Decimal
	Note           string
	CreatedAt      time.Time
}

// IsExpired reports whether the lot expiry is strictly before today.
// Lots without an expiry date never expire.
func (l Lot) IsExpired(today time.Time) bool {
	if l.ExpiryDate == nil {
		return false
	}
	return l.ExpiryDate.Before(truncateDay(today))
}

// DaysToExpiry returns the whole days until the lot expires. The second
// return is false when the lot has no expiry date.
func (l Lot) DaysToExpiry(today time.Time) (int, bool) {
	if l.ExpiryDate == nil {
		return 0, false
	}
	days := int(truncateDay(*l.ExpiryDate).Sub(truncateDay(today)).Hours() / 24)
	return days, true
}

// ExpiresWithin reports whether the lot expires on or before today+days.
// Lots without an expiry date are never within a window.
func (l Lot) ExpiresWithin(today time.Time, days int) bool {
	if l.ExpiryDate == nil {
		return false
	}
	return !truncateDay(*l.ExpiryDate).After(truncateDay(today).AddDate(0, 0, days))
}

func truncateDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

// ExpiringLot is a lot joined with catalog names for the expiry report.
type ExpiringLot struct {
	Lot
	ProductCode   string
	ProductName   string
	WarehouseName string
	DaysToExpiry  int
}

// Movement is one immutable ledger entry. Quantity always carries the
// magnitude that was requested; the sign of the change is implied by Kind
// (Adjust records the signed delta against the previous quantity).
// DestinationWarehouseID is set only for transfers.
type Movement struct {
	ID                     int64
	ProductID              int64
	WarehouseID            int64
	LotID                  *int64
	Kind                   MovementKind
	Quantity               decimal.Decimal
	PreviousQuantity       decimal.Decimal
	ResultingQuantity      decimal.Decimal
	Reason                 string
	DocumentRef            string
	DestinationWarehouseID *int64
	UserID                 *int64
	OccurredAt             time.Time
}

// MovementView joins a movement with product and warehouse names for display.
type MovementView struct {
	Movement
	ProductCode              string
	ProductName              string
	WarehouseName            string
	DestinationWarehouseName *string
	LotNumber                *string
}

// MovementFilter narrows ledger projections. Zero fields are ignored.
type MovementFilter struct {
	ProductID   int64
	WarehouseID int64
	Kind        MovementKind
	From        time.Time
	To          time.Time
	Limit       int
}

// LoadInput describes a stock increase.
type LoadInput struct {
	ProductID   int64
	WarehouseID int64
	Quantity    decimal.Decimal
	Reason      string
	DocumentRef string
	LotID       *int64
	UserID      *int64
}

// UnloadInput describes a stock decrease.
type UnloadInput struct {
	ProductID   int64
	WarehouseID int64
	Quantity    decimal.Decimal
	Reason      string
	DocumentRef string
	LotID       *int64
	UserID      *int64
}

// AdjustInput sets a stock level to an absolute quantity after a physical
// count. Lots are untouched; adjustment operates on the aggregate only.
type AdjustInput struct {
	ProductID   int64
	WarehouseID int64
	NewQuantity decimal.Decimal
	Reason      string
	UserID      *int64
}

// TransferInput moves quantity between warehouses for one product.
type TransferInput struct {
	ProductID       int64
	FromWarehouseID int64
	ToWarehouseID   int64
	Quantity        decimal.Decimal
	Reason          string
	LotID           *int64
	UserID          *int64
}

// StockSummary aggregates dashboard KPIs across warehouses.
type StockSummary struct {
	TotalQuantity   decimal.Decimal `json:"total_quantity"`
	PurchaseValue   decimal.Decimal `json:"purchase_value"`
	SaleValue       decimal.Decimal `json:"sale_value"`
	BelowMinimum    int             `json:"below_minimum"`
	ExpiringLots    int             `json:"expiring_lots"`
	TrackedProducts int             `json:"tracked_products"`
}

// ErrInvalidQuantity indicates a non-positive movement quantity.
var ErrInvalidQuantity = errors.New("inventory: quantity must be positive")

// ErrNegativeAdjustment indicates a negative absolute quantity for Adjust.
var ErrNegativeAdjustment = errors.New("inventory: adjusted quantity must not be negative")

// ErrSameWarehouse indicates a transfer onto itself.
var ErrSameWarehouse = errors.New("inventory: source and destination warehouse must differ")

// ErrMissingKey indicates missing product or warehouse identifiers.
var ErrMissingKey = errors.New("inventory: product and warehouse required")

// InsufficientStockError reports an unload or transfer that would drive a
// stock level negative. The operation left no writes behind.
type InsufficientStockError struct {
	ProductID   int64
	WarehouseID int64
	Available   decimal.Decimal
	Requested   decimal.Decimal
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("inventory: insufficient stock for product %d in warehouse %d: available %s, requested %s",
		e.ProductID, e.WarehouseID, e.Available.String(), e.Requested.String())
}
