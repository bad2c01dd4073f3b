package store

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"tradelab/internal/domain"
)

// Compile-time interface check.
var _ BarStore = (*CachingBarStore)(nil)

// CachingBarStore decorates a BarStore with a Redis read-through cache.
// Writes go to the inner store first and then invalidate every cached range
// of the affected symbols.
type CachingBarStore struct {
	inner     BarStore
	rdb       *redis.Client
	ttl       time.Duration
	namespace string
}

// NewCachingBarStore wraps inner. If ttl is 0 it defaults to 6 hours; if
// namespace is empty it uses "bars". A nil client disables caching.
func NewCachingBarStore(rdb *redis.Client, ttl time.Duration, inner BarStore, namespace string) *CachingBarStore {
	if ttl <= 0 {
		ttl = 6 * time.Hour
	}
	if namespace == "" {
		namespace = "bars"
	}
	return &CachingBarStore{
		inner:     inner,
		rdb:       rdb,
		ttl:       ttl,
		namespace: namespace,
	}
}

// NewRedisClient connects to addr and verifies the connection with PING.
func NewRedisClient(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping %s: %w", addr, err)
	}
	return rdb, nil
}

// WriteBars writes through to the inner store and invalidates cached ranges.
func (c *CachingBarStore) WriteBars(ctx context.Context, market string, bars []domain.Bar) error {
	if err := c.inner.WriteBars(ctx, market, bars); err != nil {
		return err
	}
	if c.rdb == nil || len(bars) == 0 {
		return nil
	}

	seen := map[string]struct{}{}
	for _, b := range bars {
		prefix := c.cacheKeyPrefix(b.Symbol, market)
		if _, ok := seen[prefix]; ok {
			continue
		}
		seen[prefix] = struct{}{}
		_ = c.deleteByPattern(ctx, prefix+"*") // best effort
	}
	return nil
}

// ReadBars serves from Redis when possible and falls back to the inner store.
// Bounds are truncated to trading dates so the cache key matches the read.
func (c *CachingBarStore) ReadBars(ctx context.Context, symbol string, market string, start, end time.Time) ([]domain.Bar, error) {
	start, end = domain.TruncateDate(start), domain.TruncateDate(end)
	if c.rdb == nil {
		return c.inner.ReadBars(ctx, symbol, market, start, end)
	}

	key := c.cacheKey(symbol, market, start, end)

	if b, err := c.rdb.Get(ctx, key).Bytes(); err == nil && len(b) > 0 {
		var out []domain.Bar
		if err := json.Unmarshal(b, &out); err == nil {
			return out, nil
		}
		_ = c.rdb.Del(ctx, key).Err()
	}

	out, err := c.inner.ReadBars(ctx, symbol, market, start, end)
	if err != nil {
		return nil, err
	}

	if b, err := json.Marshal(out); err == nil {
		_ = c.rdb.Set(ctx, key, b, c.ttl).Err()
	}
	return out, nil
}

// ListSymbols is not cached; the inner store answers it directly.
func (c *CachingBarStore) ListSymbols(ctx context.Context, market string) ([]string, error) {
	return c.inner.ListSymbols(ctx, market)
}

func (c *CachingBarStore) cacheKey(symbol, market string, start, end time.Time) string {
	return fmt.Sprintf("%s%s:%s",
		c.cacheKeyPrefix(symbol, market),
		start.Format(domain.DateLayout),
		end.Format(domain.DateLayout),
	)
}

func (c *CachingBarStore) cacheKeyPrefix(symbol, market string) string {
	return fmt.Sprintf("%s:%s:%s:", c.namespace, safe(market), safe(strings.ToUpper(symbol)))
}

// deleteByPattern deletes all cache keys matching pattern using SCAN.
func (c *CachingBarStore) deleteByPattern(ctx context.Context, pattern string) error {
	var cursor uint64
	for {
		keys, cur, err := c.rdb.Scan(ctx, cursor, pattern, 200).Result()
		if err != nil {
			return err
		}
		if len(keys) > 0 {
			if err := c.rdb.Del(ctx, keys...).Err(); err != nil {
				return err
			}
		}
		cursor = cur
		if cursor == 0 {
			return nil
		}
	}
}

// safe replaces characters that collide with the key separator.
func safe(s string) string {
	s = strings.ReplaceAll(s, " ", "_")
	return strings.ReplaceAll(s, ":", "_")
}
