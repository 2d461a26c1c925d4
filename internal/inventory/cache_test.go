package inventory

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func newTestCache(t *testing.T) *Cache {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewCache(client, time.Minute)
}

func TestFetchSummaryCachesLoader(t *testing.T) {
	cache := newTestCache(t)
	ctx := context.Background()

	calls := 0
	loader := func(ctx context.Context) (StockSummary, error) {
		calls++
		return StockSummary{TotalQuantity: dec("42"), TrackedProducts: 3}, nil
	}

	first, err := cache.FetchSummary(ctx, loader)
	require.NoError(t, err)
	require.Equal(t, 1, calls)
	require.True(t, first.TotalQuantity.Equal(dec("42")))

	second, err := cache.FetchSummary(ctx, loader)
	require.NoError(t, err)
	require.Equal(t, 1, calls, "second fetch must hit the cache")
	require.Equal(t, 3, second.TrackedProducts)
}

func TestInvalidateForcesReload(t *testing.T) {
	cache := newTestCache(t)
	ctx := context.Background()

	calls := 0
	loader := func(ctx context.Context) (StockSummary, error) {
		calls++
		return StockSummary{TrackedProducts: calls}, nil
	}

	_, err := cache.FetchSummary(ctx, loader)
	require.NoError(t, err)
	require.NoError(t, cache.Invalidate(ctx))

	reloaded, err := cache.FetchSummary(ctx, loader)
	require.NoError(t, err)
	require.Equal(t, 2, calls)
	require.Equal(t, 2, reloaded.TrackedProducts)
}

func TestNilCacheFallsThrough(t *testing.T) {
	var cache *Cache
	summary, err := cache.FetchSummary(context.Background(), func(ctx context.Context) (StockSummary, error) {
		return StockSummary{TrackedProducts: 7}, nil
	})
	require.NoError(t, err)
	require.Equal(t, 7, summary.TrackedProducts)
	require.NoError(t, cache.Invalidate(context.Background()))
}
