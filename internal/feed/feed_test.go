package feed

import (
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantfish/polyarb/internal/domain"
)

func TestPriceCache_PartialUpdates(t *testing.T) {
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	c := NewPriceCache()
	c.now = func() time.Time { return now }

	bid, ask := 0.45, 0.47
	c.Update("tok1", PriceUpdate{BestBid: &bid, BestAsk: &ask})

	last := 0.46
	now = now.Add(30 * time.Second)
	c.Update("tok1", PriceUpdate{LastTradePrice: &last})

	entry, ok := c.Get("tok1")
	require.True(t, ok)
	assert.Equal(t, 0.45, entry.BestBid, "trade update must not clobber the book")
	assert.Equal(t, 0.47, entry.BestAsk)
	assert.Equal(t, 0.46, entry.LastTradePrice)
	assert.Equal(t, now, entry.UpdatedAt)

	age, ok := c.Age("tok1")
	require.True(t, ok)
	assert.Equal(t, time.Duration(0), age)
}

func TestPriceCache_PriceFallsBackToBid(t *testing.T) {
	c := NewPriceCache()
	bid := 0.45
	c.Update("tok1", PriceUpdate{BestBid: &bid})

	got, ok := c.Price("tok1")
	require.True(t, ok)
	assert.Equal(t, 0.45, got)

	price := 0.50
	c.Update("tok1", PriceUpdate{Price: &price})
	got, _ = c.Price("tok1")
	assert.Equal(t, 0.50, got)

	_, ok = c.Price("missing")
	assert.False(t, ok)
}

func newTestFeed(assets []string, max int) (*Feed, *PriceCache) {
	cache := NewPriceCache()
	f := New("wss://example.invalid/ws/market", assets, max, 0, cache, nil, slog.New(slog.DiscardHandler))
	return f, cache
}

func TestFeed_AssetCapAndDedup(t *testing.T) {
	f, _ := newTestFeed([]string{"a", "b", "a", ""}, 3)
	assert.Equal(t, []string{"a", "b"}, f.Assets())

	f.AddAssets([]string{"c", "d"})
	assert.Equal(t, []string{"a", "b", "c"}, f.Assets(), "cap truncates, first-come order kept")
}

func TestFeed_HandleFrame(t *testing.T) {
	var handled []string
	cache := NewPriceCache()
	f := New("wss://example.invalid/ws/market", []string{"tokY"}, 0, 0, cache,
		func(tokenID string, _ PriceUpdate) { handled = append(handled, tokenID) },
		slog.New(slog.DiscardHandler))

	t.Run("price change array frame", func(t *testing.T) {
		f.handleFrame([]byte(`[{"event_type":"price_change","changes":[` +
			`{"asset_id":"tokY","price":"0.46","best_bid":"0.45","best_ask":"0.47"},` +
			`{"asset_id":"tokN","price":"0.54"}]}]`))

		entry, ok := cache.Get("tokY")
		require.True(t, ok)
		assert.Equal(t, 0.46, entry.Price)
		assert.Equal(t, 0.45, entry.BestBid)
		assert.Equal(t, 0.47, entry.BestAsk)
		assert.Equal(t, []string{"tokY", "tokN"}, handled)
	})

	t.Run("book frame sets top of book", func(t *testing.T) {
		f.handleFrame([]byte(`{"event_type":"book","asset_id":"tokY",` +
			`"bids":[{"price":"0.44","size":"100"},{"price":"0.43","size":"50"}],` +
			`"asks":[{"price":"0.48","size":"80"}]}`))

		entry, _ := cache.Get("tokY")
		assert.Equal(t, 0.44, entry.BestBid)
		assert.Equal(t, 0.48, entry.BestAsk)
		assert.Equal(t, 0.46, entry.Price, "book frames leave the quoted price alone")
	})

	t.Run("last trade frame", func(t *testing.T) {
		f.handleFrame([]byte(`{"event_type":"last_trade_price","asset_id":"tokY","price":"0.47"}`))
		entry, _ := cache.Get("tokY")
		assert.Equal(t, 0.47, entry.LastTradePrice)
		assert.Equal(t, 0.44, entry.BestBid)
	})

	t.Run("garbage frames dropped", func(t *testing.T) {
		before := cache.Len()
		f.handleFrame([]byte(`PONG`))
		f.handleFrame([]byte(`{"event_type":"price_change","changes":[{"asset_id":"","price":"0.5"}]}`))
		assert.Equal(t, before, cache.Len())
	})
}

// dropServer accepts websocket connections, consumes the subscribe command
// and immediately drops the connection, recording when each arrived.
func dropServer(t *testing.T) (*httptest.Server, chan time.Time) {
	t.Helper()
	connects := make(chan time.Time, 16)
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		connects <- time.Now()
		conn.ReadMessage() // subscribe command
		conn.Close()
	}))
	return srv, connects
}

func TestFeed_ReconnectDelayResetsAfterSubscribe(t *testing.T) {
	srv, connects := dropServer(t)
	defer srv.Close()
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")

	f := New(wsURL, []string{"tok1"}, 0, 0, NewPriceCache(), nil, slog.New(slog.DiscardHandler))
	f.reconnectBase = 20 * time.Millisecond
	f.reconnectMax = 5 * time.Second

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		f.Run(ctx)
		close(done)
	}()

	var stamps []time.Time
	for len(stamps) < 5 {
		select {
		case ts := <-connects:
			stamps = append(stamps, ts)
		case <-time.After(5 * time.Second):
			t.Fatalf("only %d connections within deadline", len(stamps))
		}
	}
	cancel()
	<-done

	// Every subscribe succeeded, so each gap must stay near the base
	// delay. A never-resetting backoff would reach 160ms by the fifth
	// connection.
	for i := 1; i < len(stamps); i++ {
		gap := stamps[i].Sub(stamps[i-1])
		assert.Less(t, gap, 3*f.reconnectBase,
			"reconnect %d waited %v, backoff was not reset", i, gap)
	}
}

func TestFeed_DroppedConnectionReportsSubscribed(t *testing.T) {
	srv, connects := dropServer(t)
	defer srv.Close()
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")

	f := New(wsURL, []string{"tok1"}, 0, 0, NewPriceCache(), nil, slog.New(slog.DiscardHandler))

	subscribed, err := f.connectAndListen(context.Background())
	assert.True(t, subscribed)
	assert.ErrorIs(t, err, domain.ErrFeedDisconnected)
	<-connects
}

func TestFeed_DialFailureKeepsDoubling(t *testing.T) {
	f := New("ws://127.0.0.1:1/ws/market", []string{"tok1"}, 0, 0,
		NewPriceCache(), nil, slog.New(slog.DiscardHandler))
	f.reconnectBase = time.Millisecond
	f.reconnectMax = 4 * time.Millisecond

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	err := f.Run(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded, "run keeps retrying until cancelled")
}

func TestParsePrice(t *testing.T) {
	require.Nil(t, parsePrice(""))
	require.Nil(t, parsePrice("abc"))
	v := parsePrice("0.42")
	require.NotNil(t, v)
	assert.Equal(t, 0.42, *v)
}
