package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/quantfish/polyarb/internal/domain"
)

const marketTTL = 5 * time.Minute

// MarketCache implements domain.MarketCache with JSON-serialized snapshots
// and a secondary token-to-market index used by feed handlers.
//
// Key schema:
//
//	market:{conditionID}   - hash with field "data" containing JSON
//	market:token:{tokenID} - string value of the condition id
type MarketCache struct {
	rdb *redis.Client
}

// NewMarketCache creates a MarketCache backed by the given Client.
func NewMarketCache(c *Client) *MarketCache {
	return &MarketCache{rdb: c.Underlying()}
}

func marketKey(conditionID string) string { return "market:" + conditionID }
func marketTokenKey(tok string) string    { return "market:token:" + tok }

// Set stores a snapshot with a 5-minute TTL and indexes both token ids.
func (mc *MarketCache) Set(ctx context.Context, snap domain.MarketSnapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("redis: marshal market %s: %w", snap.ConditionID, err)
	}

	key := marketKey(snap.ConditionID)

	pipe := mc.rdb.TxPipeline()
	pipe.HSet(ctx, key, "data", data)
	pipe.Expire(ctx, key, marketTTL)
	for _, tokenID := range []string{snap.YesTokenID, snap.NoTokenID} {
		if tokenID == "" {
			continue
		}
		pipe.Set(ctx, marketTokenKey(tokenID), snap.ConditionID, marketTTL)
	}

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: set market %s: %w", snap.ConditionID, err)
	}
	return nil
}

// Get retrieves a snapshot by condition id. Returns domain.ErrNotFound for
// missing or expired entries.
func (mc *MarketCache) Get(ctx context.Context, conditionID string) (domain.MarketSnapshot, error) {
	data, err := mc.rdb.HGet(ctx, marketKey(conditionID), "data").Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return domain.MarketSnapshot{}, domain.ErrNotFound
		}
		return domain.MarketSnapshot{}, fmt.Errorf("redis: get market %s: %w", conditionID, err)
	}

	var snap domain.MarketSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return domain.MarketSnapshot{}, fmt.Errorf("redis: unmarshal market %s: %w", conditionID, err)
	}
	return snap, nil
}

// GetByToken looks up a snapshot by one of its CLOB token ids.
func (mc *MarketCache) GetByToken(ctx context.Context, tokenID string) (domain.MarketSnapshot, error) {
	conditionID, err := mc.rdb.Get(ctx, marketTokenKey(tokenID)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return domain.MarketSnapshot{}, domain.ErrNotFound
		}
		return domain.MarketSnapshot{}, fmt.Errorf("redis: get market by token %s: %w", tokenID, err)
	}
	return mc.Get(ctx, conditionID)
}

// Invalidate removes a snapshot and its token index entries.
func (mc *MarketCache) Invalidate(ctx context.Context, conditionID string) error {
	snap, err := mc.Get(ctx, conditionID)
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return fmt.Errorf("redis: invalidate market %s: %w", conditionID, err)
	}

	pipe := mc.rdb.TxPipeline()
	pipe.Del(ctx, marketKey(conditionID))
	if err == nil {
		for _, tokenID := range []string{snap.YesTokenID, snap.NoTokenID} {
			if tokenID == "" {
				continue
			}
			pipe.Del(ctx, marketTokenKey(tokenID))
		}
	}

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: invalidate market %s: %w", conditionID, err)
	}
	return nil
}

var _ domain.MarketCache = (*MarketCache)(nil)
