package executor

import (
	"context"
	"sync"
	"time"
)

// RateWindow is an in-process sliding-window implementation of
// domain.TradeRateLimiter. Used when Redis is disabled; a single engine
// process owns the trade counter either way.
type RateWindow struct {
	mu     sync.Mutex
	stamps map[string][]time.Time
	now    func() time.Time
}

// NewRateWindow creates an empty window.
func NewRateWindow() *RateWindow {
	return &RateWindow{
		stamps: make(map[string][]time.Time),
		now:    time.Now,
	}
}

// Allow prunes entries older than the window, refuses when the key already
// holds limit entries, and otherwise records one.
func (w *RateWindow) Allow(_ context.Context, key string, limit int, window time.Duration) (bool, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	now := w.now()
	cutoff := now.Add(-window)
	kept := w.stamps[key][:0]
	for _, ts := range w.stamps[key] {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	if len(kept) >= limit {
		w.stamps[key] = kept
		return false, nil
	}
	w.stamps[key] = append(kept, now)
	return true, nil
}
