package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/paperbot/internal/domain"
)

// PriceCache implements domain.PriceCache with one hash per symbol at
// "paperbot:price:{symbol}" holding fields "price" and "ts" (unix nanos).
type PriceCache struct {
	rdb *redis.Client
	ttl time.Duration
}

var _ domain.PriceCache = (*PriceCache)(nil)

// NewPriceCache creates a PriceCache. A positive ttl expires stale marks.
func NewPriceCache(c *Client, ttl time.Duration) *PriceCache {
	return &PriceCache{rdb: c.rdb, ttl: ttl}
}

func priceKey(symbol string) string {
	return keyPrefix + "price:" + symbol
}

// SetPrice stores the latest mark for symbol.
func (pc *PriceCache) SetPrice(ctx context.Context, symbol string, price float64, ts time.Time) error {
	key := priceKey(symbol)
	pipe := pc.rdb.TxPipeline()
	pipe.HSet(ctx, key, map[string]any{
		"price": strconv.FormatFloat(price, 'f', -1, 64),
		"ts":    strconv.FormatInt(ts.UnixNano(), 10),
	})
	if pc.ttl > 0 {
		pipe.Expire(ctx, key, pc.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: set price %s: %w", symbol, err)
	}
	return nil
}

// GetPrice returns the latest mark for symbol or domain.ErrNotFound.
func (pc *PriceCache) GetPrice(ctx context.Context, symbol string) (float64, time.Time, error) {
	vals, err := pc.rdb.HGetAll(ctx, priceKey(symbol)).Result()
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("redis: get price %s: %w", symbol, err)
	}
	price, ts, ok := parsePrice(vals)
	if !ok {
		return 0, time.Time{}, fmt.Errorf("redis: get price %s: %w", symbol, domain.ErrNotFound)
	}
	return price, ts, nil
}

// GetPrices fetches marks for several symbols in one pipeline. Symbols
// without a stored price are omitted.
func (pc *PriceCache) GetPrices(ctx context.Context, symbols []string) (map[string]float64, error) {
	if len(symbols) == 0 {
		return map[string]float64{}, nil
	}

	pipe := pc.rdb.Pipeline()
	cmds := make(map[string]*redis.MapStringStringCmd, len(symbols))
	for _, sym := range symbols {
		cmds[sym] = pipe.HGetAll(ctx, priceKey(sym))
	}
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("redis: get prices pipeline: %w", err)
	}

	result := make(map[string]float64, len(symbols))
	for sym, cmd := range cmds {
		vals, err := cmd.Result()
		if err != nil {
			continue
		}
		if price, _, ok := parsePrice(vals); ok {
			result[sym] = price
		}
	}
	return result, nil
}

func parsePrice(vals map[string]string) (float64, time.Time, bool) {
	priceStr, ok := vals["price"]
	if !ok {
		return 0, time.Time{}, false
	}
	price, err := strconv.ParseFloat(priceStr, 64)
	if err != nil {
		return 0, time.Time{}, false
	}
	var ts time.Time
	if tsStr, ok := vals["ts"]; ok {
		if n, err := strconv.ParseInt(tsStr, 10, 64); err == nil {
			ts = time.Unix(0, n).UTC()
		}
	}
	return price, ts, true
}
