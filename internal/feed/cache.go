// Package feed maintains a live view of CLOB prices over the market
// WebSocket, backed by an in-memory cache keyed by token id.
package feed

import (
	"sync"
	"time"

	"github.com/quantfish/polyarb/internal/domain"
)

// PriceUpdate is a partial quote update. Nil fields leave the cached value
// untouched, so a last-trade message does not clobber the book quotes.
type PriceUpdate struct {
	Price          *float64
	BestBid        *float64
	BestAsk        *float64
	LastTradePrice *float64
}

// PriceCache is a mutex-guarded in-memory quote cache updated by the feed
// and read by the engine between polls.
type PriceCache struct {
	mu      sync.RWMutex
	entries map[string]domain.PriceCacheEntry
	now     func() time.Time
}

// NewPriceCache creates an empty cache.
func NewPriceCache() *PriceCache {
	return &PriceCache{
		entries: make(map[string]domain.PriceCacheEntry),
		now:     time.Now,
	}
}

// Update merges the non-nil fields of upd into the entry for tokenID and
// stamps it with the current time.
func (c *PriceCache) Update(tokenID string, upd PriceUpdate) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry := c.entries[tokenID]
	if upd.Price != nil {
		entry.Price = *upd.Price
	}
	if upd.BestBid != nil {
		entry.BestBid = *upd.BestBid
	}
	if upd.BestAsk != nil {
		entry.BestAsk = *upd.BestAsk
	}
	if upd.LastTradePrice != nil {
		entry.LastTradePrice = *upd.LastTradePrice
	}
	entry.UpdatedAt = c.now()
	c.entries[tokenID] = entry
}

// Get returns the cached entry for tokenID.
func (c *PriceCache) Get(tokenID string) (domain.PriceCacheEntry, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	entry, ok := c.entries[tokenID]
	return entry, ok
}

// Price returns the best-known price for tokenID, preferring the quoted
// price and falling back to the best bid.
func (c *PriceCache) Price(tokenID string) (float64, bool) {
	entry, ok := c.Get(tokenID)
	if !ok {
		return 0, false
	}
	if entry.Price > 0 {
		return entry.Price, true
	}
	if entry.BestBid > 0 {
		return entry.BestBid, true
	}
	return 0, false
}

// BestBidAsk returns the cached top-of-book quotes for tokenID.
func (c *PriceCache) BestBidAsk(tokenID string) (bid, ask float64, ok bool) {
	entry, ok := c.Get(tokenID)
	if !ok {
		return 0, 0, false
	}
	return entry.BestBid, entry.BestAsk, true
}

// Age returns how long ago tokenID's entry was last updated.
func (c *PriceCache) Age(tokenID string) (time.Duration, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	entry, ok := c.entries[tokenID]
	if !ok {
		return 0, false
	}
	return c.now().Sub(entry.UpdatedAt), true
}

// Len returns the number of cached tokens.
func (c *PriceCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Clear drops every cached entry.
func (c *PriceCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]domain.PriceCacheEntry)
}
