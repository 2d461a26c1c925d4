package inventory

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

type memoryRepo struct {
	mu        sync.Mutex
	levels    map[string]decimal.Decimal
	lots      map[int64]decimal.Decimal
	movements []Movement
	nextID    int64
}

type memoryTx struct {
	repo *memoryRepo
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{
		levels: make(map[string]decimal.Decimal),
		lots:   make(map[int64]decimal.Decimal),
	}
}

func levelKey(productID, warehouseID int64) string {
	return fmt.Sprintf("%d:%d", productID, warehouseID)
}

// WithTx emulates transactional semantics: transactions run serialized, the
// way row locks serialize them in PostgreSQL, and on error every write made
// inside fn is rolled back, matching the engine's all-or-nothing contract.
func (r *memoryRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	levels := make(map[string]decimal.Decimal, len(r.levels))
	for k, v := range r.levels {
		levels[k] = v
	}
	lots := make(map[int64]decimal.Decimal, len(r.lots))
	for k, v := range r.lots {
		lots[k] = v
	}
	movements := len(r.movements)
	nextID := r.nextID

	if err := fn(ctx, &memoryTx{repo: r}); err != nil {
		r.levels = levels
		r.lots = lots
		r.movements = r.movements[:movements]
		r.nextID = nextID
		return err
	}
	return nil
}

func (tx *memoryTx) GetStockLevelForUpdate(ctx context.Context, productID, warehouseID int64) (StockLevel, error) {
	if qty, ok := tx.repo.levels[levelKey(productID, warehouseID)]; ok {
		return StockLevel{ProductID: productID, WarehouseID: warehouseID, Quantity: qty}, nil
	}
	return StockLevel{ProductID: productID, WarehouseID: warehouseID, Quantity: decimal.Zero}, ErrStockLevelNotFound
}

func (tx *memoryTx) ApplyStockDelta(ctx context.Context, productID, warehouseID int64, delta decimal.Decimal) error {
	key := levelKey(productID, warehouseID)
	tx.repo.levels[key] = tx.repo.levels[key].Add(delta)
	return nil
}

func (tx *memoryTx) SetStockLevel(ctx context.Context, productID, warehouseID int64, quantity decimal.Decimal) error {
	tx.repo.levels[levelKey(productID, warehouseID)] = quantity
	return nil
}

func (tx *memoryTx) InsertMovement(ctx context.Context, m Movement) (int64, error) {
	tx.repo.nextID++
	m.ID = tx.repo.nextID
	tx.repo.movements = append(tx.repo.movements, m)
	return m.ID, nil
}

func (tx *memoryTx) AdjustLotQuantity(ctx context.Context, lotID int64, delta decimal.Decimal) error {
	qty, ok := tx.repo.lots[lotID]
	if !ok {
		return ErrLotNotFound
	}
	tx.repo.lots[lotID] = qty.Add(delta)
	return nil
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func TestLoadThenUnload(t *testing.T) {
	repo := newMemoryRepo()
	engine := NewEngine(repo, nil, nil, nil, nil)
	ctx := context.Background()

	_, err := engine.Load(ctx, LoadInput{ProductID: 1, WarehouseID: 1, Quantity: dec("10"), Reason: "initial load"})
	require.NoError(t, err)

	_, err = engine.Unload(ctx, UnloadInput{ProductID: 1, WarehouseID: 1, Quantity: dec("4"), Reason: "order pick"})
	require.NoError(t, err)

	require.True(t, repo.levels[levelKey(1, 1)].Equal(dec("6")))
	require.Len(t, repo.movements, 2)

	unload := repo.movements[1]
	require.Equal(t, MovementUnload, unload.Kind)
	require.True(t, unload.PreviousQuantity.Equal(dec("10")))
	require.True(t, unload.ResultingQuantity.Equal(dec("6")))
}

func TestUnloadInsufficientStock(t *testing.T) {
	repo := newMemoryRepo()
	engine := NewEngine(repo, nil, nil, nil, nil)
	ctx := context.Background()

	_, err := engine.Load(ctx, LoadInput{ProductID: 1, WarehouseID: 1, Quantity: dec("5")})
	require.NoError(t, err)

	_, err = engine.Unload(ctx, UnloadInput{ProductID: 1, WarehouseID: 1, Quantity: dec("8")})
	var insufficient *InsufficientStockError
	require.ErrorAs(t, err, &insufficient)
	require.True(t, insufficient.Available.Equal(dec("5")))
	require.True(t, insufficient.Requested.Equal(dec("8")))

	// Rejected operation leaves no trace.
	require.True(t, repo.levels[levelKey(1, 1)].Equal(dec("5")))
	require.Len(t, repo.movements, 1)
}

func TestUnloadFromEmptyStock(t *testing.T) {
	repo := newMemoryRepo()
	engine := NewEngine(repo, nil, nil, nil, nil)

	_, err := engine.Unload(context.Background(), UnloadInput{ProductID: 9, WarehouseID: 1, Quantity: dec("1")})
	var insufficient *InsufficientStockError
	require.ErrorAs(t, err, &insufficient)
	require.True(t, insufficient.Available.IsZero())
}

func TestAdjustRecordsSignedDelta(t *testing.T) {
	repo := newMemoryRepo()
	engine := NewEngine(repo, nil, nil, nil, nil)
	ctx := context.Background()

	_, err := engine.Adjust(ctx, AdjustInput{ProductID: 1, WarehouseID: 1, NewQuantity: dec("12")})
	require.NoError(t, err)
	require.True(t, repo.levels[levelKey(1, 1)].Equal(dec("12")))

	_, err = engine.Adjust(ctx, AdjustInput{ProductID: 1, WarehouseID: 1, NewQuantity: dec("5"), Reason: "cycle count"})
	require.NoError(t, err)
	require.True(t, repo.levels[levelKey(1, 1)].Equal(dec("5")))

	down := repo.movements[1]
	require.Equal(t, MovementAdjust, down.Kind)
	require.True(t, down.Quantity.Equal(dec("-7")))
	require.True(t, down.PreviousQuantity.Equal(dec("12")))
	require.True(t, down.ResultingQuantity.Equal(dec("5")))
	require.Equal(t, "cycle count", down.Reason)
}

func TestAdjustRejectsNegativeTarget(t *testing.T) {
	repo := newMemoryRepo()
	engine := NewEngine(repo, nil, nil, nil, nil)

	_, err := engine.Adjust(context.Background(), AdjustInput{ProductID: 1, WarehouseID: 1, NewQuantity: dec("-1")})
	require.ErrorIs(t, err, ErrNegativeAdjustment)
}

func TestTransferIsDeltaNeutral(t *testing.T) {
	repo := newMemoryRepo()
	engine := NewEngine(repo, nil, nil, nil, nil)
	ctx := context.Background()

	_, err := engine.Load(ctx, LoadInput{ProductID: 1, WarehouseID: 1, Quantity: dec("10")})
	require.NoError(t, err)

	_, err = engine.Transfer(ctx, TransferInput{ProductID: 1, FromWarehouseID: 1, ToWarehouseID: 2, Quantity: dec("4")})
	require.NoError(t, err)

	require.True(t, repo.levels[levelKey(1, 1)].Equal(dec("6")))
	require.True(t, repo.levels[levelKey(1, 2)].Equal(dec("4")))

	transfer := repo.movements[1]
	require.Equal(t, MovementTransfer, transfer.Kind)
	require.NotNil(t, transfer.DestinationWarehouseID)
	require.Equal(t, int64(2), *transfer.DestinationWarehouseID)
}

func TestTransferRejectsSameWarehouse(t *testing.T) {
	repo := newMemoryRepo()
	engine := NewEngine(repo, nil, nil, nil, nil)

	_, err := engine.Transfer(context.Background(), TransferInput{ProductID: 1, FromWarehouseID: 3, ToWarehouseID: 3, Quantity: dec("1")})
	require.ErrorIs(t, err, ErrSameWarehouse)
}

func TestTransferInsufficientStock(t *testing.T) {
	repo := newMemoryRepo()
	engine := NewEngine(repo, nil, nil, nil, nil)
	ctx := context.Background()

	_, err := engine.Load(ctx, LoadInput{ProductID: 1, WarehouseID: 1, Quantity: dec("3")})
	require.NoError(t, err)

	_, err = engine.Transfer(ctx, TransferInput{ProductID: 1, FromWarehouseID: 1, ToWarehouseID: 2, Quantity: dec("5")})
	var insufficient *InsufficientStockError
	require.ErrorAs(t, err, &insufficient)
	require.True(t, repo.levels[levelKey(1, 1)].Equal(dec("3")))
	require.True(t, repo.levels[levelKey(1, 2)].IsZero())
}

func TestInvalidQuantityRejected(t *testing.T) {
	repo := newMemoryRepo()
	engine := NewEngine(repo, nil, nil, nil, nil)
	ctx := context.Background()

	_, err := engine.Load(ctx, LoadInput{ProductID: 1, WarehouseID: 1, Quantity: dec("0")})
	require.ErrorIs(t, err, ErrInvalidQuantity)

	_, err = engine.Unload(ctx, UnloadInput{ProductID: 1, WarehouseID: 1, Quantity: dec("-2")})
	require.ErrorIs(t, err, ErrInvalidQuantity)

	_, err = engine.Load(ctx, LoadInput{WarehouseID: 1, Quantity: dec("1")})
	require.ErrorIs(t, err, ErrMissingKey)
}

func TestUnloadBatchIsAtomic(t *testing.T) {
	repo := newMemoryRepo()
	engine := NewEngine(repo, nil, nil, nil, nil)
	ctx := context.Background()

	_, err := engine.Load(ctx, LoadInput{ProductID: 1, WarehouseID: 1, Quantity: dec("10")})
	require.NoError(t, err)
	_, err = engine.Load(ctx, LoadInput{ProductID: 2, WarehouseID: 1, Quantity: dec("2")})
	require.NoError(t, err)
	before := len(repo.movements)

	// Second line is short, so the first line must not stick either.
	_, err = engine.UnloadBatch(ctx, []UnloadInput{
		{ProductID: 1, WarehouseID: 1, Quantity: dec("5"), DocumentRef: "DDT 1/2026"},
		{ProductID: 2, WarehouseID: 1, Quantity: dec("5"), DocumentRef: "DDT 1/2026"},
	})
	var insufficient *InsufficientStockError
	require.ErrorAs(t, err, &insufficient)
	require.Equal(t, int64(2), insufficient.ProductID)

	require.True(t, repo.levels[levelKey(1, 1)].Equal(dec("10")))
	require.True(t, repo.levels[levelKey(2, 1)].Equal(dec("2")))
	require.Len(t, repo.movements, before)

	ids, err := engine.UnloadBatch(ctx, []UnloadInput{
		{ProductID: 1, WarehouseID: 1, Quantity: dec("5"), DocumentRef: "DDT 1/2026"},
		{ProductID: 2, WarehouseID: 1, Quantity: dec("2"), DocumentRef: "DDT 1/2026"},
	})
	require.NoError(t, err)
	require.Len(t, ids, 2)
	require.True(t, repo.levels[levelKey(1, 1)].Equal(dec("5")))
	require.True(t, repo.levels[levelKey(2, 1)].IsZero())
}

func TestLoadBatchRestoresStock(t *testing.T) {
	repo := newMemoryRepo()
	engine := NewEngine(repo, nil, nil, nil, nil)
	ctx := context.Background()

	_, err := engine.LoadBatch(ctx, []LoadInput{
		{ProductID: 1, WarehouseID: 1, Quantity: dec("5"), DocumentRef: "DDT 3/2026", Reason: "document cancellation"},
		{ProductID: 2, WarehouseID: 1, Quantity: dec("2"), DocumentRef: "DDT 3/2026", Reason: "document cancellation"},
	})
	require.NoError(t, err)
	require.True(t, repo.levels[levelKey(1, 1)].Equal(dec("5")))
	require.True(t, repo.levels[levelKey(2, 1)].Equal(dec("2")))
	for _, m := range repo.movements {
		require.Equal(t, "DDT 3/2026", m.DocumentRef)
	}
}

func TestLotQuantityFollowsMovements(t *testing.T) {
	repo := newMemoryRepo()
	repo.lots[7] = decimal.Zero
	engine := NewEngine(repo, nil, nil, nil, nil)
	ctx := context.Background()
	lotID := int64(7)

	_, err := engine.Load(ctx, LoadInput{ProductID: 1, WarehouseID: 1, LotID: &lotID, Quantity: dec("10")})
	require.NoError(t, err)
	require.True(t, repo.lots[7].Equal(dec("10")))

	_, err = engine.Unload(ctx, UnloadInput{ProductID: 1, WarehouseID: 1, LotID: &lotID, Quantity: dec("3")})
	require.NoError(t, err)
	require.True(t, repo.lots[7].Equal(dec("7")))
}

func TestUnknownLotAbortsMovement(t *testing.T) {
	repo := newMemoryRepo()
	engine := NewEngine(repo, nil, nil, nil, nil)
	lotID := int64(99)

	_, err := engine.Load(context.Background(), LoadInput{ProductID: 1, WarehouseID: 1, LotID: &lotID, Quantity: dec("10")})
	require.True(t, errors.Is(err, ErrLotNotFound))
	require.True(t, repo.levels[levelKey(1, 1)].IsZero())
	require.Empty(t, repo.movements)
}

// Replaying the ledger from zero must reproduce the stored stock levels.
func TestLedgerReplayMatchesStock(t *testing.T) {
	repo := newMemoryRepo()
	engine := NewEngine(repo, nil, nil, nil, nil)
	ctx := context.Background()

	_, err := engine.Load(ctx, LoadInput{ProductID: 1, WarehouseID: 1, Quantity: dec("20")})
	require.NoError(t, err)
	_, err = engine.Unload(ctx, UnloadInput{ProductID: 1, WarehouseID: 1, Quantity: dec("6")})
	require.NoError(t, err)
	_, err = engine.Transfer(ctx, TransferInput{ProductID: 1, FromWarehouseID: 1, ToWarehouseID: 2, Quantity: dec("4")})
	require.NoError(t, err)
	_, err = engine.Adjust(ctx, AdjustInput{ProductID: 1, WarehouseID: 2, NewQuantity: dec("3")})
	require.NoError(t, err)

	replayed := map[string]decimal.Decimal{}
	for _, m := range repo.movements {
		key := levelKey(m.ProductID, m.WarehouseID)
		switch m.Kind {
		case MovementLoad:
			replayed[key] = replayed[key].Add(m.Quantity)
		case MovementUnload:
			replayed[key] = replayed[key].Sub(m.Quantity)
		case MovementAdjust:
			replayed[key] = replayed[key].Add(m.Quantity)
		case MovementTransfer:
			replayed[key] = replayed[key].Sub(m.Quantity)
			dest := levelKey(m.ProductID, *m.DestinationWarehouseID)
			replayed[dest] = replayed[dest].Add(m.Quantity)
		}
	}
	for key, stored := range repo.levels {
		require.True(t, replayed[key].Equal(stored), "key %s: replayed %s stored %s", key, replayed[key], stored)
	}
}

func TestConcurrentUnloadsNeverOversell(t *testing.T) {
	repo := newMemoryRepo()
	engine := NewEngine(repo, nil, nil, nil, nil)
	ctx := context.Background()

	_, err := engine.Load(ctx, LoadInput{ProductID: 1, WarehouseID: 1, Quantity: dec("10")})
	require.NoError(t, err)

	var g errgroup.Group
	for i := 0; i < 25; i++ {
		g.Go(func() error {
			_, err := engine.Unload(ctx, UnloadInput{ProductID: 1, WarehouseID: 1, Quantity: dec("1")})
			var insufficient *InsufficientStockError
			if err != nil && !errors.As(err, &insufficient) {
				return err
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())

	require.True(t, repo.levels[levelKey(1, 1)].IsZero())
	// Exactly ten unloads went through, the rest were rejected cleanly.
	unloads := 0
	for _, m := range repo.movements {
		if m.Kind == MovementUnload {
			unloads++
			require.False(t, m.ResultingQuantity.IsNegative())
		}
	}
	require.Equal(t, 10, unloads)
}

func TestConcurrentLoadsAllApply(t *testing.T) {
	repo := newMemoryRepo()
	engine := NewEngine(repo, nil, nil, nil, nil)
	ctx := context.Background()

	var g errgroup.Group
	for i := 0; i < 20; i++ {
		g.Go(func() error {
			_, err := engine.Load(ctx, LoadInput{ProductID: 1, WarehouseID: 1, Quantity: dec("1")})
			return err
		})
	}
	require.NoError(t, g.Wait())
	require.True(t, repo.levels[levelKey(1, 1)].Equal(dec("20")))
	require.Len(t, repo.movements, 20)
}
