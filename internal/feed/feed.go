package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/quantfish/polyarb/internal/domain"
)

const (
	// writeWait is the time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// pongWait is the time allowed to read the next pong from the peer.
	pongWait = 60 * time.Second

	// pingPeriod sends pings at this interval. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// reconnectDelayBase is the first reconnect delay; it doubles per
	// failure and resets after a successful subscribe.
	reconnectDelayBase = time.Second

	// reconnectDelayMax caps the backoff when no cap is configured.
	reconnectDelayMax = 60 * time.Second
)

// PriceChangeHandler is invoked for every price change applied to the cache.
type PriceChangeHandler func(tokenID string, upd PriceUpdate)

// Feed subscribes to the CLOB market channel for a set of token ids and
// keeps a PriceCache current. It reconnects with doubling backoff and
// re-subscribes the full asset set on every new connection.
type Feed struct {
	wsURL     string
	maxAssets int
	cache     *PriceCache
	onChange  PriceChangeHandler
	logger    *slog.Logger

	reconnectBase time.Duration
	reconnectMax  time.Duration

	mu     sync.Mutex
	assets []string
	seen   map[string]struct{}

	closeOnce sync.Once
	done      chan struct{}
}

// New creates a feed for the given token ids, truncated to maxAssets.
// reconnectMax caps the reconnect backoff; zero or negative selects the
// one-minute default.
func New(wsURL string, assetIDs []string, maxAssets int, reconnectMax time.Duration, cache *PriceCache, onChange PriceChangeHandler, logger *slog.Logger) *Feed {
	if reconnectMax <= 0 {
		reconnectMax = reconnectDelayMax
	}
	f := &Feed{
		wsURL:         wsURL,
		maxAssets:     maxAssets,
		cache:         cache,
		onChange:      onChange,
		logger:        logger.With(slog.String("component", "price_feed")),
		reconnectBase: reconnectDelayBase,
		reconnectMax:  reconnectMax,
		seen:          make(map[string]struct{}),
		done:          make(chan struct{}),
	}
	f.AddAssets(assetIDs)
	return f
}

// AddAssets appends token ids not already tracked, up to the asset cap.
// New ids take effect on the next (re)connection.
func (f *Feed) AddAssets(assetIDs []string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, id := range assetIDs {
		if id == "" {
			continue
		}
		if f.maxAssets > 0 && len(f.assets) >= f.maxAssets {
			return
		}
		if _, dup := f.seen[id]; dup {
			continue
		}
		f.seen[id] = struct{}{}
		f.assets = append(f.assets, id)
	}
}

// Assets returns a copy of the tracked token ids.
func (f *Feed) Assets() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.assets))
	copy(out, f.assets)
	return out
}

// Run connects and processes messages until ctx is cancelled or Close is
// called. Connection failures back off from one second doubling to a
// minute; a successful subscribe resets the delay.
func (f *Feed) Run(ctx context.Context) error {
	if len(f.Assets()) == 0 {
		f.logger.InfoContext(ctx, "no assets to subscribe, feed idle")
		return nil
	}

	delay := f.reconnectBase
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-f.done:
			return nil
		default:
		}

		subscribed, err := f.connectAndListen(ctx)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		select {
		case <-f.done:
			return nil
		default:
		}

		if subscribed {
			delay = f.reconnectBase
		}
		f.logger.WarnContext(ctx, "feed disconnected, reconnecting",
			slog.String("error", err.Error()),
			slog.Duration("delay", delay),
		)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-f.done:
			return nil
		case <-time.After(delay):
		}
		delay *= 2
		if delay > f.reconnectMax {
			delay = f.reconnectMax
		}
	}
}

// Close stops the feed after the current read returns.
func (f *Feed) Close() {
	f.closeOnce.Do(func() { close(f.done) })
}

// subscribeCommand is the market-channel subscription payload.
type subscribeCommand struct {
	Auth     struct{} `json:"auth"`
	Type     string   `json:"type"`
	AssetIDs []string `json:"assets_ids"`
}

// connectAndListen holds one connection. subscribed reports whether the
// subscribe write went through, so the caller knows to reset its backoff.
func (f *Feed) connectAndListen(ctx context.Context) (subscribed bool, err error) {
	dialer := websocket.Dialer{HandshakeTimeout: 15 * time.Second}
	conn, _, err := dialer.DialContext(ctx, f.wsURL, nil)
	if err != nil {
		return false, err
	}
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	assets := f.Assets()
	cmd := subscribeCommand{Type: "market", AssetIDs: assets}
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteJSON(cmd); err != nil {
		return false, err
	}
	f.logger.InfoContext(ctx, "feed subscribed", slog.Int("assets", len(assets)))

	stopPing := make(chan struct{})
	defer close(stopPing)
	go f.pingLoop(conn, stopPing)

	// Unblock the read when the caller goes away.
	stopWatch := make(chan struct{})
	defer close(stopWatch)
	go func() {
		select {
		case <-ctx.Done():
		case <-f.done:
		case <-stopWatch:
			return
		}
		conn.Close()
	}()

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-ctx.Done():
				return true, ctx.Err()
			case <-f.done:
				return true, nil
			default:
			}
			return true, fmt.Errorf("%w: %v", domain.ErrFeedDisconnected, err)
		}
		f.handleFrame(raw)
	}
}

func (f *Feed) pingLoop(conn *websocket.Conn, stop <-chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-f.done:
			return
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// marketEvent is the union of the market-channel message shapes. The server
// sends both bare objects and arrays of them.
type marketEvent struct {
	EventType string `json:"event_type"`
	AssetID   string `json:"asset_id"`
	Price     string `json:"price"`
	Bids      []struct {
		Price string `json:"price"`
		Size  string `json:"size"`
	} `json:"bids"`
	Asks []struct {
		Price string `json:"price"`
		Size  string `json:"size"`
	} `json:"asks"`
	Changes []struct {
		AssetID string `json:"asset_id"`
		Price   string `json:"price"`
		BestBid string `json:"best_bid"`
		BestAsk string `json:"best_ask"`
	} `json:"changes"`
}

// handleFrame parses one WebSocket frame, which may hold a single event or
// an array of events, and applies each to the cache. Unparseable frames are
// dropped.
func (f *Feed) handleFrame(raw []byte) {
	var events []marketEvent
	if err := json.Unmarshal(raw, &events); err != nil {
		var single marketEvent
		if err := json.Unmarshal(raw, &single); err != nil {
			return
		}
		events = []marketEvent{single}
	}
	for _, ev := range events {
		f.applyEvent(ev)
	}
}

func (f *Feed) applyEvent(ev marketEvent) {
	switch ev.EventType {
	case "price_change":
		for _, ch := range ev.Changes {
			if ch.AssetID == "" {
				continue
			}
			upd := PriceUpdate{
				Price:   parsePrice(ch.Price),
				BestBid: parsePrice(ch.BestBid),
				BestAsk: parsePrice(ch.BestAsk),
			}
			f.cache.Update(ch.AssetID, upd)
			if f.onChange != nil {
				f.onChange(ch.AssetID, upd)
			}
		}

	case "book":
		if ev.AssetID == "" {
			return
		}
		upd := PriceUpdate{}
		if len(ev.Bids) > 0 {
			upd.BestBid = parsePrice(ev.Bids[0].Price)
		}
		if len(ev.Asks) > 0 {
			upd.BestAsk = parsePrice(ev.Asks[0].Price)
		}
		f.cache.Update(ev.AssetID, upd)

	case "last_trade_price":
		if ev.AssetID == "" {
			return
		}
		f.cache.Update(ev.AssetID, PriceUpdate{LastTradePrice: parsePrice(ev.Price)})
	}
}

// parsePrice returns nil for empty or malformed values so they merge as
// no-ops.
func parsePrice(s string) *float64 {
	if s == "" {
		return nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil
	}
	return &v
}
