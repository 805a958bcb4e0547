package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantfish/polyarb/internal/domain"
)

type fakeSplitter struct {
	calls   []string
	failOn  map[string]error
	txCount int
}

func (f *fakeSplitter) SplitCollateral(_ context.Context, conditionID string, _ float64) (string, error) {
	f.calls = append(f.calls, conditionID)
	if err := f.failOn[conditionID]; err != nil {
		return "", err
	}
	f.txCount++
	return fmt.Sprintf("0xtx%d", f.txCount), nil
}

type fakeOrders struct {
	calls    int
	failures int // fail the first N calls
}

func (f *fakeOrders) PlaceOrder(_ context.Context, _ string, _ domain.OrderSide, _, _ float64) (domain.OrderResult, error) {
	f.calls++
	if f.calls <= f.failures {
		return domain.OrderResult{}, errors.New("clob timeout")
	}
	return domain.OrderResult{Success: true, OrderID: "ord-1", Status: domain.OrderStatusOpen}, nil
}

type recorded struct {
	ConditionID string
	Side        domain.Side
	TokenID     string
	SizeUSD     float64
	EntryPrice  float64
	Strategy    string
}

type fakeLedger struct {
	records []recorded
	err     error
}

func (f *fakeLedger) Record(_ context.Context, conditionID string, side domain.Side, tokenID string, sizeUSD, entryPrice float64, strategy string) (domain.Position, error) {
	if f.err != nil {
		return domain.Position{}, f.err
	}
	f.records = append(f.records, recorded{conditionID, side, tokenID, sizeUSD, entryPrice, strategy})
	return domain.Position{ID: fmt.Sprintf("pos-%d", len(f.records))}, nil
}

type fakeMarkets struct {
	snaps map[string]*domain.MarketSnapshot
}

func (f *fakeMarkets) FetchDetail(_ context.Context, conditionID string) (*domain.MarketSnapshot, error) {
	snap, ok := f.snaps[conditionID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return snap, nil
}

type stubLimiter struct {
	allowed bool
	calls   int
}

func (s *stubLimiter) Allow(context.Context, string, int, time.Duration) (bool, error) {
	s.calls++
	return s.allowed, nil
}

type nopNotifier struct{}

func (nopNotifier) Event(context.Context, string, string, string) {}

func fptr(v float64) *float64 { return &v }

func snapshot(yes, no float64) *domain.MarketSnapshot {
	return &domain.MarketSnapshot{YesPrice: fptr(yes), NoPrice: fptr(no)}
}

func instantRetry(attempts int) RetryPolicy {
	p := NewRetryPolicy(attempts, time.Millisecond)
	p.sleep = func(context.Context, time.Duration) error { return nil }
	return p
}

func newTestExecutor(sp *fakeSplitter, or *fakeOrders, ld *fakeLedger, mk *fakeMarkets, lim domain.TradeRateLimiter) *Executor {
	return New(sp, or, ld, mk, lim, nopNotifier{}, Config{
		MaxTradesPerHour: 10,
		FeeRate:          0.001,
		Retry:            instantRetry(3),
	}, slog.New(slog.DiscardHandler))
}

func pairCostOpp(yes, no, size float64) domain.Opportunity {
	return domain.Opportunity{
		Kind:       domain.OpportunityPairCost,
		Question:   "Will it rain tomorrow?",
		NetCost:    yes + no + 0.002,
		MaxSizeUSD: size,
		PairCost: &domain.PairCostOpp{
			ConditionID: "0xcond1",
			YesPrice:    yes,
			NoPrice:     no,
			YesTokenID:  "tokYes",
			NoTokenID:   "tokNo",
		},
	}
}

func TestExecute_PairCost(t *testing.T) {
	sp := &fakeSplitter{}
	or := &fakeOrders{}
	ld := &fakeLedger{}
	mk := &fakeMarkets{snaps: map[string]*domain.MarketSnapshot{"0xcond1": snapshot(0.46, 0.50)}}
	ex := newTestExecutor(sp, or, ld, mk, &stubLimiter{allowed: true})

	res, err := ex.Execute(context.Background(), pairCostOpp(0.46, 0.50, 50))
	require.NoError(t, err)
	require.Len(t, res.Legs, 1)
	assert.True(t, res.Succeeded())

	leg := res.Legs[0]
	require.NoError(t, leg.Err)
	assert.Equal(t, "0xtx1", leg.SplitTxHash)
	assert.True(t, leg.HedgePlaced)
	// recovered = (1-0.46)*50 = 27, entry = (50-27)/50 = 0.46
	assert.InDelta(t, 0.46, leg.EntryPrice, 1e-9)
	assert.Equal(t, "pos-1", leg.PositionID)

	require.Len(t, ld.records, 1)
	rec := ld.records[0]
	assert.Equal(t, domain.SideYes, rec.Side)
	assert.Equal(t, "tokYes", rec.TokenID)
	assert.InDelta(t, 0.46, rec.EntryPrice, 1e-9)
	assert.Equal(t, "pair_cost", rec.Strategy)
	assert.Equal(t, 1, or.calls)
}

func TestExecute_RateLimited(t *testing.T) {
	sp := &fakeSplitter{}
	ld := &fakeLedger{}
	mk := &fakeMarkets{snaps: map[string]*domain.MarketSnapshot{"0xcond1": snapshot(0.46, 0.50)}}
	ex := newTestExecutor(sp, &fakeOrders{}, ld, mk, &stubLimiter{allowed: false})

	res, err := ex.Execute(context.Background(), pairCostOpp(0.46, 0.50, 50))
	require.NoError(t, err)
	require.Len(t, res.Legs, 1)
	assert.ErrorIs(t, res.Legs[0].Err, domain.ErrRateLimited)
	assert.Empty(t, sp.calls, "no split attempted when the window is full")
	assert.Empty(t, ld.records)
}

func TestExecute_SplitFailure(t *testing.T) {
	sp := &fakeSplitter{failOn: map[string]error{"0xcond1": errors.New("nonce too low")}}
	ld := &fakeLedger{}
	mk := &fakeMarkets{snaps: map[string]*domain.MarketSnapshot{"0xcond1": snapshot(0.46, 0.50)}}
	ex := newTestExecutor(sp, &fakeOrders{}, ld, mk, &stubLimiter{allowed: true})

	res, err := ex.Execute(context.Background(), pairCostOpp(0.46, 0.50, 50))
	require.NoError(t, err)
	require.Len(t, res.Legs, 1)
	assert.ErrorIs(t, res.Legs[0].Err, domain.ErrSplitFailed)
	assert.False(t, res.Succeeded())
	assert.Empty(t, ld.records, "failed split must not reach the ledger")
}

func TestExecute_HedgeFailureHoldsBothSides(t *testing.T) {
	sp := &fakeSplitter{}
	or := &fakeOrders{failures: 100}
	ld := &fakeLedger{}
	mk := &fakeMarkets{snaps: map[string]*domain.MarketSnapshot{"0xcond1": snapshot(0.46, 0.50)}}
	ex := newTestExecutor(sp, or, ld, mk, &stubLimiter{allowed: true})

	res, err := ex.Execute(context.Background(), pairCostOpp(0.46, 0.50, 50))
	require.NoError(t, err)
	require.Len(t, res.Legs, 1)

	leg := res.Legs[0]
	require.NoError(t, leg.Err, "hedge failure is a degradation, not a leg failure")
	assert.False(t, leg.HedgePlaced)
	assert.NotEmpty(t, leg.HedgeError)
	// No recovered collateral: entry = (50-0)/50 = 1.0.
	assert.InDelta(t, 1.0, leg.EntryPrice, 1e-9)
	assert.Equal(t, 3, or.calls, "hedge sell exhausted its retries")
	require.Len(t, ld.records, 1, "position recorded despite the missed hedge")
}

func TestExecute_HedgeRetrySucceeds(t *testing.T) {
	sp := &fakeSplitter{}
	or := &fakeOrders{failures: 1}
	ld := &fakeLedger{}
	mk := &fakeMarkets{snaps: map[string]*domain.MarketSnapshot{"0xcond1": snapshot(0.46, 0.50)}}
	ex := newTestExecutor(sp, or, ld, mk, &stubLimiter{allowed: true})

	res, err := ex.Execute(context.Background(), pairCostOpp(0.46, 0.50, 50))
	require.NoError(t, err)
	assert.True(t, res.Legs[0].HedgePlaced)
	assert.Equal(t, 2, or.calls)
}

func TestExecute_StalePairCost(t *testing.T) {
	sp := &fakeSplitter{}
	ld := &fakeLedger{}
	// Prices moved since detection: 0.52+0.50+fees >= 1.
	mk := &fakeMarkets{snaps: map[string]*domain.MarketSnapshot{"0xcond1": snapshot(0.52, 0.50)}}
	ex := newTestExecutor(sp, &fakeOrders{}, ld, mk, &stubLimiter{allowed: true})

	_, err := ex.Execute(context.Background(), pairCostOpp(0.46, 0.50, 50))
	assert.ErrorIs(t, err, domain.ErrStaleOpportunity)
	assert.Empty(t, sp.calls, "stale opportunity aborts before any transaction")
	assert.Empty(t, ld.records)
}

func comboOpp(size float64) domain.Opportunity {
	return domain.Opportunity{
		Kind:       domain.OpportunityCombinatorial,
		Question:   "Who wins the primary?",
		NetCost:    0.903,
		MaxSizeUSD: size,
		Combinatorial: &domain.CombinatorialOpp{
			EventID: "ev1",
			Title:   "Who wins the primary?",
			Outcomes: []domain.ComboLeg{
				{ConditionID: "0xa", YesPrice: 0.30, YesTokenID: "tokA"},
				{ConditionID: "0xb", YesPrice: 0.30, YesTokenID: "tokB"},
				{ConditionID: "0xc", YesPrice: 0.30, YesTokenID: "tokC"},
			},
		},
	}
}

func comboSnaps(a, b, c float64) map[string]*domain.MarketSnapshot {
	return map[string]*domain.MarketSnapshot{
		"0xa": snapshot(a, 1-a),
		"0xb": snapshot(b, 1-b),
		"0xc": snapshot(c, 1-c),
	}
}

func TestExecute_CombinatorialSplitsEvenly(t *testing.T) {
	sp := &fakeSplitter{}
	or := &fakeOrders{}
	ld := &fakeLedger{}
	mk := &fakeMarkets{snaps: comboSnaps(0.30, 0.30, 0.30)}
	ex := newTestExecutor(sp, or, ld, mk, &stubLimiter{allowed: true})

	res, err := ex.Execute(context.Background(), comboOpp(90))
	require.NoError(t, err)
	require.Len(t, res.Legs, 3)
	assert.True(t, res.Succeeded())
	assert.Equal(t, []string{"0xa", "0xb", "0xc"}, sp.calls)
	assert.Zero(t, or.calls, "combinatorial legs hold both sides, no hedge")

	require.Len(t, ld.records, 3)
	for _, rec := range ld.records {
		assert.InDelta(t, 30.0, rec.SizeUSD, 1e-9)
		assert.InDelta(t, 1.0, rec.EntryPrice, 1e-9)
		assert.Equal(t, "combinatorial", rec.Strategy)
	}
}

func TestExecute_CombinatorialNoRollback(t *testing.T) {
	sp := &fakeSplitter{failOn: map[string]error{"0xb": errors.New("gas spike")}}
	ld := &fakeLedger{}
	mk := &fakeMarkets{snaps: comboSnaps(0.30, 0.30, 0.30)}
	ex := newTestExecutor(sp, &fakeOrders{}, ld, mk, &stubLimiter{allowed: true})

	res, err := ex.Execute(context.Background(), comboOpp(90))
	require.NoError(t, err)
	require.Len(t, res.Legs, 3)

	assert.NoError(t, res.Legs[0].Err)
	assert.ErrorIs(t, res.Legs[1].Err, domain.ErrSplitFailed)
	assert.NoError(t, res.Legs[2].Err, "later legs still run after a failed one")
	assert.False(t, res.Succeeded())
	assert.Len(t, ld.records, 2, "completed legs stay on the books")
}

func TestExecute_StaleCombinatorial(t *testing.T) {
	sp := &fakeSplitter{}
	mk := &fakeMarkets{snaps: comboSnaps(0.40, 0.35, 0.30)}
	ex := newTestExecutor(sp, &fakeOrders{}, &fakeLedger{}, mk, &stubLimiter{allowed: true})

	_, err := ex.Execute(context.Background(), comboOpp(90))
	assert.ErrorIs(t, err, domain.ErrStaleOpportunity)
	assert.Empty(t, sp.calls)
}

func endgameOpp(side domain.Side, price float64) domain.Opportunity {
	return domain.Opportunity{
		Kind:       domain.OpportunityEndgame,
		Question:   "Will the bill pass this week?",
		NetCost:    price,
		MaxSizeUSD: 40,
		Endgame: &domain.EndgameOpp{
			ConditionID:       "0xcond9",
			Side:              side,
			Price:             price,
			TokenID:           "tokSide",
			HoursToResolution: 40,
		},
	}
}

func TestExecute_EndgameNoSide(t *testing.T) {
	sp := &fakeSplitter{}
	or := &fakeOrders{}
	ld := &fakeLedger{}
	mk := &fakeMarkets{snaps: map[string]*domain.MarketSnapshot{"0xcond9": snapshot(0.03, 0.96)}}
	ex := newTestExecutor(sp, or, ld, mk, &stubLimiter{allowed: true})

	res, err := ex.Execute(context.Background(), endgameOpp(domain.SideNo, 0.96))
	require.NoError(t, err)
	require.Len(t, res.Legs, 1)
	assert.Zero(t, or.calls, "endgame holds to resolution, no hedge")

	require.Len(t, ld.records, 1)
	rec := ld.records[0]
	assert.Equal(t, domain.SideNo, rec.Side)
	assert.Equal(t, "tokSide", rec.TokenID)
	assert.Equal(t, "endgame", rec.Strategy)
}

func TestExecute_StaleEndgame(t *testing.T) {
	sp := &fakeSplitter{}
	// Market resolved out from under the scan.
	mk := &fakeMarkets{snaps: map[string]*domain.MarketSnapshot{"0xcond9": snapshot(1.0, 0.0)}}
	ex := newTestExecutor(sp, &fakeOrders{}, &fakeLedger{}, mk, &stubLimiter{allowed: true})

	_, err := ex.Execute(context.Background(), endgameOpp(domain.SideYes, 0.97))
	assert.ErrorIs(t, err, domain.ErrStaleOpportunity)
	assert.Empty(t, sp.calls)
}

func TestRateWindow(t *testing.T) {
	now := time.Date(2026, 2, 10, 12, 0, 0, 0, time.UTC)
	w := NewRateWindow()
	w.now = func() time.Time { return now }
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		ok, err := w.Allow(ctx, "k", 3, time.Hour)
		require.NoError(t, err)
		assert.True(t, ok, "slot %d", i)
	}
	ok, err := w.Allow(ctx, "k", 3, time.Hour)
	require.NoError(t, err)
	assert.False(t, ok, "fourth trade within the hour refused")

	// Advance past the window: the oldest entries fall out.
	now = now.Add(61 * time.Minute)
	ok, err = w.Allow(ctx, "k", 3, time.Hour)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestRetryPolicy(t *testing.T) {
	t.Run("succeeds after transient failures", func(t *testing.T) {
		var slept []time.Duration
		p := NewRetryPolicy(3, 100*time.Millisecond)
		p.sleep = func(_ context.Context, d time.Duration) error {
			slept = append(slept, d)
			return nil
		}
		calls := 0
		err := p.Do(context.Background(), func() error {
			calls++
			if calls < 3 {
				return errors.New("transient")
			}
			return nil
		})
		require.NoError(t, err)
		assert.Equal(t, 3, calls)
		assert.Equal(t, []time.Duration{100 * time.Millisecond, 200 * time.Millisecond}, slept)
	})

	t.Run("returns the last error", func(t *testing.T) {
		p := instantRetry(2)
		sentinel := errors.New("still down")
		err := p.Do(context.Background(), func() error { return sentinel })
		assert.ErrorIs(t, err, sentinel)
	})

	t.Run("stops on cancelled context", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		p := NewRetryPolicy(5, time.Hour)
		calls := 0
		err := p.Do(ctx, func() error {
			calls++
			return errors.New("transient")
		})
		assert.ErrorIs(t, err, context.Canceled)
		assert.Equal(t, 1, calls)
	})
}
