package inventory

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/stockyard-erp/stockyard-erp/internal/shared"
)

// RepositoryPort abstracts repository usage for the engine.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
}

// AuditPort abstracts audit logging.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// MetricsPort abstracts movement counters.
type MetricsPort interface {
	ObserveMovement(kind string)
	ObserveInsufficientStock()
}

// InvalidatorPort invalidates derived read caches after a committed movement.
type InvalidatorPort interface {
	Invalidate(ctx context.Context) error
}

// Engine is the only writer of stock levels and lots and the only producer
// of ledger entries. Every operation is one transaction: the ledger entry and
// the stock mutation it describes commit together or not at all.
type Engine struct {
	repo    RepositoryPort
	audit   AuditPort
	metrics MetricsPort
	cache   InvalidatorPort
	logger  *slog.Logger
}

// NewEngine builds the engine. audit, metrics and cache may be nil.
func NewEngine(repo RepositoryPort, audit AuditPort, metrics MetricsPort, cache InvalidatorPort, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{repo: repo, audit: audit, metrics: metrics, cache: cache, logger: logger}
}

// Load registers a stock increase. Loads have no upper bound.
func (e *Engine) Load(ctx context.Context, input LoadInput) (int64, error) {
	if err := validatePositive(input.ProductID, input.WarehouseID, input.Quantity); err != nil {
		return 0, err
	}
	var movementID int64
	err := e.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		id, err := e.applyLoad(ctx, tx, input)
		if err != nil {
			return err
		}
		movementID = id
		return nil
	})
	if err != nil {
		return 0, err
	}
	e.committed(ctx, MovementLoad, input.ProductID, input.WarehouseID, input.Quantity, input.UserID, nil)
	return movementID, nil
}

// Unload registers a stock decrease. It fails with *InsufficientStockError
// and performs no writes when the available quantity is short.
func (e *Engine) Unload(ctx context.Context, input UnloadInput) (int64, error) {
	if err := validatePositive(input.ProductID, input.WarehouseID, input.Quantity); err != nil {
		return 0, err
	}
	var movementID int64
	err := e.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		id, err := e.applyUnload(ctx, tx, input)
		if err != nil {
			return err
		}
		movementID = id
		return nil
	})
	if err != nil {
		e.observeFailure(err)
		return 0, err
	}
	e.committed(ctx, MovementUnload, input.ProductID, input.WarehouseID, input.Quantity, input.UserID, nil)
	return movementID, nil
}

// Adjust sets the stock level to an absolute quantity after a physical
// count. The ledger records the signed difference. Lots are untouched.
func (e *Engine) Adjust(ctx context.Context, input AdjustInput) (int64, error) {
	if input.ProductID == 0 || input.WarehouseID == 0 {
		return 0, ErrMissingKey
	}
	if input.NewQuantity.IsNegative() {
		return 0, ErrNegativeAdjustment
	}
	reason := input.Reason
	if reason == "" {
		reason = "stock adjustment"
	}
	var movementID int64
	err := e.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		level, err := tx.GetStockLevelForUpdate(ctx, input.ProductID, input.WarehouseID)
		if err != nil && !errors.Is(err, ErrStockLevelNotFound) {
			return err
		}
		delta := input.NewQuantity.Sub(level.Quantity)
		id, err := tx.InsertMovement(ctx, Movement{
			ProductID:         input.ProductID,
			WarehouseID:       input.WarehouseID,
			Kind:              MovementAdjust,
			Quantity:          delta,
			PreviousQuantity:  level.Quantity,
			ResultingQuantity: input.NewQuantity,
			Reason:            reason,
			UserID:            input.UserID,
			OccurredAt:        time.Now().UTC(),
		})
		if err != nil {
			return err
		}
		if err := tx.SetStockLevel(ctx, input.ProductID, input.WarehouseID, input.NewQuantity); err != nil {
			return err
		}
		movementID = id
		return nil
	})
	if err != nil {
		return 0, err
	}
	e.committed(ctx, MovementAdjust, input.ProductID, input.WarehouseID, input.NewQuantity, input.UserID, nil)
	return movementID, nil
}

// Transfer moves quantity between warehouses for one product. One TRANSFER
// ledger entry carries both warehouse ids. When a lot is given its quantity
// is decremented at the origin; no destination lot is credited (lots are
// warehouse-scoped and informational).
func (e *Engine) Transfer(ctx context.Context, input TransferInput) (int64, error) {
	if err := validatePositive(input.ProductID, input.FromWarehouseID, input.Quantity); err != nil {
		return 0, err
	}
	if input.ToWarehouseID == 0 {
		return 0, ErrMissingKey
	}
	if input.FromWarehouseID == input.ToWarehouseID {
		return 0, ErrSameWarehouse
	}
	reason := input.Reason
	if reason == "" {
		reason = "warehouse transfer"
	}
	var movementID int64
	err := e.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		// Lock both keys in warehouse-id order so two opposite transfers
		// on the same product cannot deadlock.
		var origin StockLevel
		for _, warehouseID := range lockOrder(input.FromWarehouseID, input.ToWarehouseID) {
			level, err := tx.GetStockLevelForUpdate(ctx, input.ProductID, warehouseID)
			if err != nil && !errors.Is(err, ErrStockLevelNotFound) {
				return err
			}
			if warehouseID == input.FromWarehouseID {
				origin = level
			}
		}
		if origin.Quantity.LessThan(input.Quantity) {
			return &InsufficientStockError{
				ProductID:   input.ProductID,
				WarehouseID: input.FromWarehouseID,
				Available:   origin.Quantity,
				Requested:   input.Quantity,
			}
		}
		destination := input.ToWarehouseID
		id, err := tx.InsertMovement(ctx, Movement{
			ProductID:              input.ProductID,
			WarehouseID:            input.FromWarehouseID,
			LotID:                  input.LotID,
			Kind:                   MovementTransfer,
			Quantity:               input.Quantity,
			PreviousQuantity:       origin.Quantity,
			ResultingQuantity:      origin.Quantity.Sub(input.Quantity),
			Reason:                 reason,
			DestinationWarehouseID: &destination,
			UserID:                 input.UserID,
			OccurredAt:             time.Now().UTC(),
		})
		if err != nil {
			return err
		}
		if err := tx.ApplyStockDelta(ctx, input.ProductID, input.FromWarehouseID, input.Quantity.Neg()); err != nil {
			return err
		}
		if err := tx.ApplyStockDelta(ctx, input.ProductID, input.ToWarehouseID, input.Quantity); err != nil {
			return err
		}
		if input.LotID != nil {
			if err := tx.AdjustLotQuantity(ctx, *input.LotID, input.Quantity.Neg()); err != nil {
				return err
			}
		}
		movementID = id
		return nil
	})
	if err != nil {
		e.observeFailure(err)
		return 0, err
	}
	e.committed(ctx, MovementTransfer, input.ProductID, input.FromWarehouseID, input.Quantity, input.UserID, &input.ToWarehouseID)
	return movementID, nil
}

// UnloadBatch applies an ordered sequence of unloads inside one transaction.
// Any failing line aborts the whole batch with zero writes. Used by document
// issuance so multi-line documents cannot leave partial effects behind.
func (e *Engine) UnloadBatch(ctx context.Context, inputs []UnloadInput) ([]int64, error) {
	if len(inputs) == 0 {
		return nil, nil
	}
	for _, input := range inputs {
		if err := validatePositive(input.ProductID, input.WarehouseID, input.Quantity); err != nil {
			return nil, err
		}
	}
	ids := make([]int64, 0, len(inputs))
	err := e.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		for _, input := range inputs {
			id, err := e.applyUnload(ctx, tx, input)
			if err != nil {
				return err
			}
			ids = append(ids, id)
		}
		return nil
	})
	if err != nil {
		e.observeFailure(err)
		return nil, err
	}
	e.batchCommitted(ctx, MovementUnload, inputs[0].DocumentRef, len(inputs), inputs[0].UserID)
	return ids, nil
}

// LoadBatch applies an ordered sequence of loads inside one transaction.
// Used by document cancellation to restore stock for every line at once.
func (e *Engine) LoadBatch(ctx context.Context, inputs []LoadInput) ([]int64, error) {
	if len(inputs) == 0 {
		return nil, nil
	}
	for _, input := range inputs {
		if err := validatePositive(input.ProductID, input.WarehouseID, input.Quantity); err != nil {
			return nil, err
		}
	}
	ids := make([]int64, 0, len(inputs))
	err := e.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		for _, input := range inputs {
			id, err := e.applyLoad(ctx, tx, input)
			if err != nil {
				return err
			}
			ids = append(ids, id)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	e.batchCommitted(ctx, MovementLoad, inputs[0].DocumentRef, len(inputs), inputs[0].UserID)
	return ids, nil
}

func (e *Engine) applyLoad(ctx context.Context, tx TxRepository, input LoadInput) (int64, error) {
	level, err := tx.GetStockLevelForUpdate(ctx, input.ProductID, input.WarehouseID)
	if err != nil && !errors.Is(err, ErrStockLevelNotFound) {
		return 0, err
	}
	id, err := tx.InsertMovement(ctx, Movement{
		ProductID:         input.ProductID,
		WarehouseID:       input.WarehouseID,
		LotID:             input.LotID,
		Kind:              MovementLoad,
		Quantity:          input.Quantity,
		PreviousQuantity:  level.Quantity,
		ResultingQuantity: level.Quantity.Add(input.Quantity),
		Reason:            input.Reason,
		DocumentRef:       input.DocumentRef,
		UserID:            input.UserID,
		OccurredAt:        time.Now().UTC(),
	})
	if err != nil {
		return 0, err
	}
	if err := tx.ApplyStockDelta(ctx, input.ProductID, input.WarehouseID, input.Quantity); err != nil {
		return 0, err
	}
	if input.LotID != nil {
		if err := tx.AdjustLotQuantity(ctx, *input.LotID, input.Quantity); err != nil {
			return 0, err
		}
	}
	return id, nil
}

func (e *Engine) applyUnload(ctx context.Context, tx TxRepository, input UnloadInput) (int64, error) {
	level, err := tx.GetStockLevelForUpdate(ctx, input.ProductID, input.WarehouseID)
	if err != nil && !errors.Is(err, ErrStockLevelNotFound) {
		return 0, err
	}
	if level.Quantity.LessThan(input.Quantity) {
		return 0, &InsufficientStockError{
			ProductID:   input.ProductID,
			WarehouseID: input.WarehouseID,
			Available:   level.Quantity,
			Requested:   input.Quantity,
		}
	}
	id, err := tx.InsertMovement(ctx, Movement{
		ProductID:         input.ProductID,
		WarehouseID:       input.WarehouseID,
		LotID:             input.LotID,
		Kind:              MovementUnload,
		Quantity:          input.Quantity,
		PreviousQuantity:  level.Quantity,
		ResultingQuantity: level.Quantity.Sub(input.Quantity),
		Reason:            input.Reason,
		DocumentRef:       input.DocumentRef,
		UserID:            input.UserID,
		OccurredAt:        time.Now().UTC(),
	})
	if err != nil {
		return 0, err
	}
	if err := tx.ApplyStockDelta(ctx, input.ProductID, input.WarehouseID, input.Quantity.Neg()); err != nil {
		return 0, err
	}
	if input.LotID != nil {
		if err := tx.AdjustLotQuantity(ctx, *input.LotID, input.Quantity.Neg()); err != nil {
			return 0, err
		}
	}
	return id, nil
}

func (e *Engine) committed(ctx context.Context, kind MovementKind, productID, warehouseID int64, quantity decimal.Decimal, userID *int64, destination *int64) {
	if e.metrics != nil {
		e.metrics.ObserveMovement(string(kind))
	}
	if e.cache != nil {
		if err := e.cache.Invalidate(ctx); err != nil {
			e.logger.Warn("invalidate stock cache", slog.Any("error", err))
		}
	}
	e.logger.Info("movement committed",
		slog.String("kind", string(kind)),
		slog.Int64("product_id", productID),
		slog.Int64("warehouse_id", warehouseID),
		slog.String("quantity", quantity.String()),
	)
	if e.audit != nil {
		meta := map[string]any{
			"warehouse_id": warehouseID,
			"product_id":   productID,
			"quantity":     quantity.String(),
		}
		if destination != nil {
			meta["destination_warehouse_id"] = *destination
		}
		_ = e.audit.Record(ctx, shared.AuditLog{
			ActorID:  actorID(userID),
			Action:   fmt.Sprintf("inventory:%s", kind),
			Entity:   "movement",
			EntityID: fmt.Sprintf("%d:%d", productID, warehouseID),
			Meta:     meta,
		})
	}
}

func (e *Engine) batchCommitted(ctx context.Context, kind MovementKind, documentRef string, lines int, userID *int64) {
	if e.metrics != nil {
		for i := 0; i < lines; i++ {
			e.metrics.ObserveMovement(string(kind))
		}
	}
	if e.cache != nil {
		if err := e.cache.Invalidate(ctx); err != nil {
			e.logger.Warn("invalidate stock cache", slog.Any("error", err))
		}
	}
	e.logger.Info("movement batch committed",
		slog.String("kind", string(kind)),
		slog.String("document_ref", documentRef),
		slog.Int("lines", lines),
	)
	if e.audit != nil {
		_ = e.audit.Record(ctx, shared.AuditLog{
			ActorID:  actorID(userID),
			Action:   fmt.Sprintf("inventory:batch:%s", kind),
			Entity:   "movement_batch",
			EntityID: uuid.NewString(),
			Meta: map[string]any{
				"document_ref": documentRef,
				"lines":        lines,
			},
		})
	}
}

func (e *Engine) observeFailure(err error) {
	var insufficient *InsufficientStockError
	if errors.As(err, &insufficient) && e.metrics != nil {
		e.metrics.ObserveInsufficientStock()
	}
}

func validatePositive(productID, warehouseID int64, quantity decimal.Decimal) error {
	if productID == 0 || warehouseID == 0 {
		return ErrMissingKey
	}
	if !quantity.IsPositive() {
		return ErrInvalidQuantity
	}
	return nil
}

func lockOrder(a, b int64) [2]int64 {
	if a < b {
		return [2]int64{a, b}
	}
	return [2]int64{b, a}
}

func actorID(userID *int64) int64 {
	if userID == nil {
		return 0
	}
	return *userID
}
