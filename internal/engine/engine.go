// Package engine drives the scan-authorize-execute cycle. A fixed-interval
// poll loop fetches a market batch and hands it to every registered strategy
// in registration order; one strategy failing never stops another's tick or
// the loop itself. When the streaming feed is enabled, the engine keeps the
// feed subscribed to the union of token ids seen in the latest batch and fans
// price updates out to strategies that consume them.
package engine

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/quantfish/polyarb/internal/domain"
	"github.com/quantfish/polyarb/internal/feed"
)

// MarketSource supplies the per-tick market batch.
type MarketSource interface {
	FetchSnapshot(ctx context.Context, limit int) ([]domain.MarketSnapshot, error)
}

// Strategy reacts to each poll tick with a fresh snapshot batch.
type Strategy interface {
	Name() string
	OnTick(ctx context.Context, markets []domain.MarketSnapshot) error
}

// PriceReactor is implemented by strategies that also want streaming price
// updates between ticks.
type PriceReactor interface {
	OnPriceChange(tokenID string, upd feed.PriceUpdate)
}

// Stats is a point-in-time view of the loop, served by the status API.
type Stats struct {
	Ticks       int64      `json:"ticks"`
	LastTickAt  *time.Time `json:"last_tick_at,omitempty"`
	LastBatch   int        `json:"last_batch"`
	LastError   string     `json:"last_error,omitempty"`
	Strategies  []string   `json:"strategies"`
	FeedEnabled bool       `json:"feed_enabled"`
}

// Engine owns the poll loop and the optional streaming feed subscription.
type Engine struct {
	markets     MarketSource
	strategies  []Strategy
	interval    time.Duration
	marketLimit int
	feed        *feed.Feed // nil when streaming is disabled
	logger      *slog.Logger

	mu         sync.Mutex
	ticks      int64
	lastTickAt time.Time
	lastBatch  int
	lastErr    string

	// sleep is replaced in tests to avoid wall-clock waits.
	sleep func(ctx context.Context, d time.Duration) error
}

// New creates an Engine. Strategies run each tick in the order given here.
// Pass a nil feed to disable streaming updates.
func New(markets MarketSource, strategies []Strategy, interval time.Duration, marketLimit int, f *feed.Feed, logger *slog.Logger) *Engine {
	return &Engine{
		markets:     markets,
		strategies:  strategies,
		interval:    interval,
		marketLimit: marketLimit,
		feed:        f,
		logger:      logger.With(slog.String("component", "engine")),
		sleep:       sleepCtx,
	}
}

// Run executes the poll loop until ctx is cancelled. Fetch failures and
// per-strategy errors are logged and the loop continues; only context
// cancellation ends it.
func (e *Engine) Run(ctx context.Context) error {
	e.logger.InfoContext(ctx, "engine started",
		slog.Duration("interval", e.interval),
		slog.Int("strategies", len(e.strategies)),
	)
	defer e.logger.InfoContext(ctx, "engine stopped")

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		e.tick(ctx)
		if err := e.sleep(ctx, e.interval); err != nil {
			return err
		}
	}
}

// tick fetches one batch and runs every strategy against it.
func (e *Engine) tick(ctx context.Context) {
	markets, err := e.markets.FetchSnapshot(ctx, e.marketLimit)
	if err != nil {
		e.logger.WarnContext(ctx, "snapshot fetch failed",
			slog.String("error", err.Error()),
		)
		e.recordTick(0, err)
		return
	}

	for _, s := range e.strategies {
		if err := ctx.Err(); err != nil {
			return
		}
		if err := s.OnTick(ctx, markets); err != nil {
			e.logger.WarnContext(ctx, "strategy tick failed",
				slog.String("strategy", s.Name()),
				slog.String("error", err.Error()),
			)
		}
	}

	if e.feed != nil {
		e.feed.AddAssets(tokenUnion(markets))
	}
	e.recordTick(len(markets), nil)
}

// HandlePriceChange fans a streaming update out to every strategy that
// consumes them. It is installed as the feed's change handler.
func (e *Engine) HandlePriceChange(tokenID string, upd feed.PriceUpdate) {
	for _, s := range e.strategies {
		if r, ok := s.(PriceReactor); ok {
			r.OnPriceChange(tokenID, upd)
		}
	}
}

// Stats returns a snapshot of loop progress for the status API.
func (e *Engine) Stats() Stats {
	e.mu.Lock()
	defer e.mu.Unlock()

	names := make([]string, 0, len(e.strategies))
	for _, s := range e.strategies {
		names = append(names, s.Name())
	}
	st := Stats{
		Ticks:       e.ticks,
		LastBatch:   e.lastBatch,
		LastError:   e.lastErr,
		Strategies:  names,
		FeedEnabled: e.feed != nil,
	}
	if !e.lastTickAt.IsZero() {
		t := e.lastTickAt
		st.LastTickAt = &t
	}
	return st
}

func (e *Engine) recordTick(batch int, err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.ticks++
	e.lastTickAt = time.Now().UTC()
	e.lastBatch = batch
	if err != nil {
		e.lastErr = err.Error()
	} else {
		e.lastErr = ""
	}
}

// tokenUnion collects the distinct outcome token ids across a batch,
// preserving first-seen order.
func tokenUnion(markets []domain.MarketSnapshot) []string {
	seen := make(map[string]bool, len(markets)*2)
	out := make([]string, 0, len(markets)*2)
	for _, m := range markets {
		for _, id := range []string{m.YesTokenID, m.NoTokenID} {
			if id == "" || seen[id] {
				continue
			}
			seen[id] = true
			out = append(out, id)
		}
	}
	return out
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
