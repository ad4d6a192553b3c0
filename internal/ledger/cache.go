package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const cacheVersionKey = "ledger:balances:version"

// Cache stores available-balance snapshots in Redis behind a version
// counter. Every settlement-side write bumps the version, invalidating all
// cached snapshots at once. The cache is advisory: Allocate always
// recomputes against live data.
type Cache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewCache instantiates the cache helper.
func NewCache(client *redis.Client, ttl time.Duration) *Cache {
	return &Cache{client: client, ttl: ttl}
}

// Version returns the current cache version, initialising when missing.
func (c *Cache) Version(ctx context.Context) (int64, error) {
	if c == nil || c.client == nil {
		return 0, nil
	}
	ver, err := c.client.Get(ctx, cacheVersionKey).Int64()
	if errors.Is(err, redis.Nil) {
		if err := c.client.Set(ctx, cacheVersionKey, 1, 0).Err(); err != nil {
			return 0, err
		}
		return 1, nil
	}
	if err != nil {
		return 0, err
	}
	return ver, nil
}

// Bump invalidates every cached snapshot.
func (c *Cache) Bump(ctx context.Context) error {
	if c == nil || c.client == nil {
		return nil
	}
	return c.client.Incr(ctx, cacheVersionKey).Err()
}

// FetchBalances loads a payee's cached balance rows or populates them via
// the loader.
func (c *Cache) FetchBalances(ctx context.Context, payeeID int64, currencyFilter string,
	loader func(context.Context) ([]BalanceRow, error)) ([]BalanceRow, error) {
	if loader == nil {
		return nil, errors.New("ledger: cache loader required")
	}
	if c == nil || c.client == nil {
		return loader(ctx)
	}

	ver, err := c.Version(ctx)
	if err != nil {
		return nil, err
	}
	key := fmt.Sprintf("ledger:balances:%d:%s:%d", payeeID, currencyFilter, ver)

	raw, err := c.client.Get(ctx, key).Bytes()
	if err == nil {
		var rows []BalanceRow
		if err := json.Unmarshal(raw, &rows); err == nil {
			return rows, nil
		}
		// Corrupt entry: fall through and recompute.
	} else if !errors.Is(err, redis.Nil) {
		return nil, err
	}

	rows, err := loader(ctx)
	if err != nil {
		return nil, err
	}
	encoded, err := json.Marshal(rows)
	if err != nil {
		return nil, err
	}
	if err := c.client.Set(ctx, key, encoded, c.ttl).Err(); err != nil {
		return nil, err
	}
	return rows, nil
}
