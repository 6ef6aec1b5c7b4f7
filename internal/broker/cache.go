package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// quoteCache is a thin Redis-backed quote cache, ported from the teacher's
// libs/marketdata Cache with the stored value switched to decimal.Decimal
// fields (JSON-marshalable via shopspring/decimal's MarshalJSON).
type quoteCache struct {
	client *redis.Client
	ttl    time.Duration
}

func newQuoteCache(redisURL string, ttl time.Duration) (*quoteCache, error) {
	client := redis.NewClient(&redis.Options{Addr: redisURL, DB: 0})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connecting to redis: %w", err)
	}
	return &quoteCache{client: client, ttl: ttl}, nil
}

func (c *quoteCache) get(ctx context.Context, symbol string) (*Quote, error) {
	data, err := c.client.Get(ctx, cacheKey(symbol)).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, ErrNoData
		}
		return nil, fmt.Errorf("quote cache get: %w", err)
	}
	var q Quote
	if err := json.Unmarshal(data, &q); err != nil {
		return nil, fmt.Errorf("quote cache unmarshal: %w", err)
	}
	return &q, nil
}

func (c *quoteCache) set(ctx context.Context, q Quote) error {
	data, err := json.Marshal(q)
	if err != nil {
		return fmt.Errorf("quote cache marshal: %w", err)
	}
	if err := c.client.Set(ctx, cacheKey(q.Symbol), data, c.ttl).Err(); err != nil {
		return fmt.Errorf("quote cache set: %w", err)
	}
	return nil
}

func (c *quoteCache) close() error {
	return c.client.Close()
}

func cacheKey(symbol string) string {
	return fmt.Sprintf("quote:%s", symbol)
}
