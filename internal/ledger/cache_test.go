package ledger

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	_ "github.com/meridian-oa/meridian-oa/internal/testing/guard"
)

func newTestCache(t *testing.T) *Cache {
	t.Helper()
	srv := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewCache(client, time.Minute)
}

func TestFetchBalancesCachesUntilBump(t *testing.T) {
	cache := newTestCache(t)
	ctx := context.Background()

	calls := 0
	loader := func(context.Context) ([]BalanceRow, error) {
		calls++
		return []BalanceRow{{AdvancementID: 1, Currency: "CNY", Left: dec("100.00"), Rate: dec("1")}}, nil
	}

	rows, err := cache.FetchBalances(ctx, 7, "", loader)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.Equal(t, 1, calls)

	rows, err = cache.FetchBalances(ctx, 7, "", loader)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.Equal(t, 1, calls, "second fetch should hit the cache")

	require.NoError(t, cache.Bump(ctx))

	_, err = cache.FetchBalances(ctx, 7, "", loader)
	require.NoError(t, err)
	require.Equal(t, 2, calls, "bump must invalidate cached snapshots")
}

func TestFetchBalancesKeysByPayeeAndCurrency(t *testing.T) {
	cache := newTestCache(t)
	ctx := context.Background()

	calls := 0
	loader := func(context.Context) ([]BalanceRow, error) {
		calls++
		return nil, nil
	}

	_, err := cache.FetchBalances(ctx, 7, "", loader)
	require.NoError(t, err)
	_, err = cache.FetchBalances(ctx, 7, "USD", loader)
	require.NoError(t, err)
	_, err = cache.FetchBalances(ctx, 8, "", loader)
	require.NoError(t, err)
	require.Equal(t, 3, calls)
}

func TestFetchBalancesPropagatesLoaderError(t *testing.T) {
	cache := newTestCache(t)

	wantErr := errors.New("boom")
	_, err := cache.FetchBalances(context.Background(), 7, "", func(context.Context) ([]BalanceRow, error) {
		return nil, wantErr
	})
	require.ErrorIs(t, err, wantErr)
}

func TestFetchBalancesWithoutClientFallsThrough(t *testing.T) {
	var cache *Cache
	rows, err := cache.FetchBalances(context.Background(), 7, "", func(context.Context) ([]BalanceRow, error) {
		return []BalanceRow{{AdvancementID: 2}}, nil
	})
	require.NoError(t, err)
	require.Len(t, rows, 1)
}
