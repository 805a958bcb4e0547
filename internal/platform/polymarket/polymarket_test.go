package polymarket

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantfish/polyarb/internal/crypto"
	"github.com/quantfish/polyarb/internal/domain"
)

func TestGammaMarket_ToSnapshot(t *testing.T) {
	fetchedAt := time.Date(2026, 4, 1, 10, 0, 0, 0, time.UTC)

	t.Run("tokens array wins", func(t *testing.T) {
		yes, no := 0.46, 0.54
		m := gammaMarket{
			ConditionID:  "0xcond",
			Question:     "Will it happen?",
			LiquidityNum: 1200,
			Volume24h:    5000,
			NegRisk:      false,
			EndDate:      "2026-06-01T00:00:00Z",
			Tokens: []gammaToken{
				{TokenID: "111", Outcome: "Yes", Price: &yes},
				{TokenID: "222", Outcome: "No", Price: &no},
			},
			OutcomePrices: `["0.99","0.01"]`,
		}

		snap := m.toSnapshot(fetchedAt)
		require.NotNil(t, snap.YesPrice)
		assert.Equal(t, 0.46, *snap.YesPrice)
		assert.Equal(t, 0.54, *snap.NoPrice)
		assert.Equal(t, "111", snap.YesTokenID)
		assert.Equal(t, "222", snap.NoTokenID)
		require.NotNil(t, snap.EndTime)
		assert.Equal(t, time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC), snap.EndTime.UTC())
	})

	t.Run("outcomePrices and clobTokenIds fallback", func(t *testing.T) {
		m := gammaMarket{
			ConditionID:   "0xcond",
			OutcomePrices: `["0.185", "0.815"]`,
			ClobTokenIDs:  `["123","456"]`,
		}
		snap := m.toSnapshot(fetchedAt)
		require.NotNil(t, snap.YesPrice)
		assert.Equal(t, 0.185, *snap.YesPrice)
		assert.Equal(t, 0.815, *snap.NoPrice)
		assert.Equal(t, "123", snap.YesTokenID)
		assert.Equal(t, "456", snap.NoTokenID)
	})

	t.Run("missing prices stay nil", func(t *testing.T) {
		m := gammaMarket{ConditionID: "0xcond", OutcomePrices: "not json"}
		snap := m.toSnapshot(fetchedAt)
		assert.Nil(t, snap.YesPrice)
		assert.Nil(t, snap.NoPrice)
		assert.Nil(t, snap.EndTime)
	})

	t.Run("numeric outcomePrices accepted", func(t *testing.T) {
		m := gammaMarket{ConditionID: "0xcond", OutcomePrices: `[0.3, 0.7]`}
		snap := m.toSnapshot(fetchedAt)
		require.NotNil(t, snap.YesPrice)
		assert.Equal(t, 0.3, *snap.YesPrice)
	})
}

func TestFlexBool(t *testing.T) {
	var m gammaMarket
	require.NoError(t, json.Unmarshal([]byte(`{"active":"true"}`), &m))
	assert.True(t, bool(m.Active))
	require.NoError(t, json.Unmarshal([]byte(`{"active":false}`), &m))
	assert.False(t, bool(m.Active))
}

func TestGammaClient_FetchSnapshot(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/markets", r.URL.Path)
		q := r.URL.Query()
		assert.Equal(t, "volume24hr", q.Get("order"))
		assert.Equal(t, "false", q.Get("ascending"))
		assert.Equal(t, "2", q.Get("limit"))
		w.Write([]byte(`[
			{"conditionId":"0xa","question":"A?","outcomePrices":"[\"0.4\",\"0.6\"]","clobTokenIds":"[\"1\",\"2\"]","liquidityNum":500,"volume24hr":9000},
			{"conditionId":"0xb","question":"B?","outcomePrices":"[\"0.2\",\"0.8\"]","clobTokenIds":"[\"3\",\"4\"]","liquidityNum":300,"volume24hr":7000}
		]`))
	}))
	defer srv.Close()

	g := NewGammaClient(srv.URL, 0)
	snaps, err := g.FetchSnapshot(context.Background(), 2)
	require.NoError(t, err)
	require.Len(t, snaps, 2)
	assert.Equal(t, "0xa", snaps[0].ConditionID)
	assert.Equal(t, 0.4, *snaps[0].YesPrice)
}

func TestGammaClient_FetchDetail(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		switch {
		case q.Get("condition_id") == "0xknown":
			w.Write([]byte(`[{"conditionId":"0xknown","question":"K?","outcomePrices":"[\"0.5\",\"0.5\"]"}]`))
		case q.Get("slug") == "some-market":
			w.Write([]byte(`[{"conditionId":"0xslug","question":"S?"}]`))
		case q.Get("id") == "1198423":
			w.Write([]byte(`[{"conditionId":"0xnumeric","question":"N?"}]`))
		default:
			w.Write([]byte(`[]`))
		}
	}))
	defer srv.Close()

	g := NewGammaClient(srv.URL, 0)
	ctx := context.Background()

	snap, err := g.FetchDetail(ctx, "0xknown")
	require.NoError(t, err)
	assert.Equal(t, "0xknown", snap.ConditionID)

	snap, err = g.FetchDetail(ctx, "some-market")
	require.NoError(t, err)
	assert.Equal(t, "0xslug", snap.ConditionID)

	snap, err = g.FetchDetail(ctx, "1198423")
	require.NoError(t, err)
	assert.Equal(t, "0xnumeric", snap.ConditionID)

	_, err = g.FetchDetail(ctx, "0xmissing")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestGammaClient_SearchMarkets(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/events":
			if r.URL.Query().Get("tag_slug") == "us-election" {
				w.Write([]byte(`[{"id":"1","title":"Election","markets":[
					{"conditionId":"0xtag1","question":"Who wins?"},
					{"conditionId":"0xtag2","question":"Turnout above 60%?"}
				]}]`))
				return
			}
			w.Write([]byte(`[]`))
		case "/markets":
			w.Write([]byte(`[
				{"conditionId":"0xq1","question":"Will BTC close above 100k?"},
				{"conditionId":"0xq2","question":"Will ETH flip BTC?"},
				{"conditionId":"0xq3","question":"Rain tomorrow?"}
			]`))
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
		}
	}))
	defer srv.Close()

	g := NewGammaClient(srv.URL, 0)
	ctx := context.Background()

	t.Run("tag match wins", func(t *testing.T) {
		snaps, err := g.SearchMarkets(ctx, "US Election", 10)
		require.NoError(t, err)
		require.Len(t, snaps, 2)
		assert.Equal(t, "0xtag1", snaps[0].ConditionID)
	})

	t.Run("falls back to question substring", func(t *testing.T) {
		snaps, err := g.SearchMarkets(ctx, "btc", 10)
		require.NoError(t, err)
		require.Len(t, snaps, 2)
		assert.Equal(t, "0xq1", snaps[0].ConditionID)
		assert.Equal(t, "0xq2", snaps[1].ConditionID)
	})

	t.Run("limit caps results", func(t *testing.T) {
		snaps, err := g.SearchMarkets(ctx, "btc", 1)
		require.NoError(t, err)
		require.Len(t, snaps, 1)
	})
}

func TestTagSlug(t *testing.T) {
	assert.Equal(t, "us-election", tagSlug("US  Election"))
	assert.Equal(t, "nba", tagSlug("NBA"))
}

func TestGammaClient_FetchNegRiskEvents(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/events", r.URL.Path)
		w.Write([]byte(`[
			{"id":"1","title":"Three-way","negRisk":true,"markets":[
				{"conditionId":"0xa","question":"A?","outcomePrices":"[\"0.3\",\"0.7\"]","clobTokenIds":"[\"1\",\"2\"]","liquidityNum":400},
				{"conditionId":"0xb","question":"B?","outcomePrices":"[\"0.3\",\"0.7\"]","clobTokenIds":"[\"3\",\"4\"]","liquidityNum":500},
				{"conditionId":"0xc","question":"C?","outcomePrices":"[\"0.3\",\"0.7\"]","clobTokenIds":"[\"5\",\"6\"]","liquidityNum":600}
			]},
			{"id":"2","title":"Binary neg-risk","negRisk":true,"markets":[{"conditionId":"0xd"},{"conditionId":"0xe"}]},
			{"id":"3","title":"Not neg-risk","negRisk":false,"markets":[{"conditionId":"0xf"},{"conditionId":"0xg"},{"conditionId":"0xh"}]}
		]`))
	}))
	defer srv.Close()

	g := NewGammaClient(srv.URL, 0)
	events, err := g.FetchNegRiskEvents(context.Background(), 30)
	require.NoError(t, err)
	require.Len(t, events, 1, "only neg-risk events with 3+ outcomes pass")
	assert.Equal(t, "Three-way", events[0].Title)
	require.Len(t, events[0].Outcomes, 3)
	assert.Equal(t, 0.3, *events[0].Outcomes[0].YesPrice)
	assert.Equal(t, "1", events[0].Outcomes[0].YesTokenID)
}

const testKey = "ac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"

func TestClobClient_PlaceOrder(t *testing.T) {
	signer, err := crypto.NewSigner(testKey, 137, "0x4bFb41d5B3570DeFd03C39a9A4D8dE6Bd8B8982E")
	require.NoError(t, err)

	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/order", r.URL.Path)
		assert.NotEmpty(t, r.Header.Get("POLY_SIGNATURE"), "L2 headers applied")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Write([]byte(`{"success":true,"orderID":"ord-1","status":"live"}`))
	}))
	defer srv.Close()

	c := NewClobClient(srv.URL, signer, &crypto.HMACAuth{Key: "k", Secret: "c2VjcmV0", Passphrase: "p"})
	res, err := c.PlaceOrder(context.Background(), "777", domain.OrderSideSell, 50, 0.54)
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, "ord-1", res.OrderID)
	assert.Equal(t, domain.OrderStatusOpen, res.Status)

	order := got["order"].(map[string]any)
	assert.Equal(t, "SELL", order["side"])
	// Selling 50 tokens at 0.54: maker 50e6 tokens, taker 27e6 collateral.
	assert.Equal(t, "50000000", order["makerAmount"])
	assert.Equal(t, "27000000", order["takerAmount"])
	assert.NotEmpty(t, order["signature"])
}

func TestClobClient_PlaceOrder_Validation(t *testing.T) {
	signer, err := crypto.NewSigner(testKey, 137, "0x4bFb41d5B3570DeFd03C39a9A4D8dE6Bd8B8982E")
	require.NoError(t, err)
	c := NewClobClient("http://unused.invalid", signer, nil)

	_, err = c.PlaceOrder(context.Background(), "777", domain.OrderSideBuy, 50, 1.2)
	assert.ErrorIs(t, err, domain.ErrInvalidOrder)

	_, err = c.PlaceOrder(context.Background(), "777", domain.OrderSideBuy, 0, 0.5)
	assert.ErrorIs(t, err, domain.ErrInvalidOrder)
}

func TestCheckHTTPStatus(t *testing.T) {
	assert.NoError(t, checkHTTPStatus(200, nil))
	assert.ErrorIs(t, checkHTTPStatus(404, []byte("gone")), domain.ErrNotFound)
	assert.ErrorIs(t, checkHTTPStatus(401, nil), domain.ErrUnauthorized)
	assert.ErrorIs(t, checkHTTPStatus(429, nil), domain.ErrRateLimited)
	assert.Error(t, checkHTTPStatus(500, []byte("boom")))
}
