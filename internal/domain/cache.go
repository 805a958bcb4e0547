package domain

import (
	"context"
	"time"
)

// PriceCacheEntry holds the last-known quote state for one asset.
// Every feed message overwrites the matching fields; no history kept.
type PriceCacheEntry struct {
	Price          float64
	BestBid        float64
	BestAsk        float64
	LastTradePrice float64
	UpdatedAt      time.Time
}

// MarketCache provides fast market snapshot lookups between polls.
type MarketCache interface {
	Set(ctx context.Context, snap MarketSnapshot) error
	Get(ctx context.Context, conditionID string) (MarketSnapshot, error)
	Invalidate(ctx context.Context, conditionID string) error
}

// TradeRateLimiter bounds trade executions over a trailing window.
// Allow both checks and, when under the limit, consumes one slot.
type TradeRateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}
