package risk

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantfish/polyarb/internal/domain"
)

// fakeStore is an in-memory PositionStore for gate tests.
type fakeStore struct {
	positions []domain.Position
}

func (s *fakeStore) Create(_ context.Context, pos domain.Position) error {
	s.positions = append(s.positions, pos)
	return nil
}

func (s *fakeStore) Update(_ context.Context, pos domain.Position) error {
	for i := range s.positions {
		if s.positions[i].ID == pos.ID {
			s.positions[i] = pos
			return nil
		}
	}
	return domain.ErrNotFound
}

func (s *fakeStore) GetByID(_ context.Context, id string) (domain.Position, error) {
	for _, p := range s.positions {
		if p.ID == id {
			return p, nil
		}
	}
	return domain.Position{}, domain.ErrNotFound
}

func (s *fakeStore) ListOpen(context.Context) ([]domain.Position, error) {
	var out []domain.Position
	for _, p := range s.positions {
		if p.Status == domain.PositionStatusOpen {
			out = append(out, p)
		}
	}
	return out, nil
}

func (s *fakeStore) ListClosed(_ context.Context, opts domain.ListOpts) ([]domain.Position, error) {
	var out []domain.Position
	for _, p := range s.positions {
		if p.Status != domain.PositionStatusClosed {
			continue
		}
		if opts.Since != nil && (p.ClosedAt == nil || p.ClosedAt.Before(*opts.Since)) {
			continue
		}
		out = append(out, p)
	}
	return out, nil
}

func (s *fakeStore) ListAll(context.Context) ([]domain.Position, error) {
	return append([]domain.Position(nil), s.positions...), nil
}

func testLimits() Limits {
	return Limits{
		MaxPositionSizeUSD:     100,
		MaxConcurrentPositions: 3,
		MaxMarketExposureUSD:   150,
		MaxTotalExposureUSD:    400,
		DailyLossLimitUSD:      50,
		DrawdownLimitPct:       0.10,
	}
}

func newTestGate(store *fakeStore) *Gate {
	return NewGate(store, testLimits(), slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func openPos(id, conditionID string, size, entry float64) domain.Position {
	return domain.Position{
		ID:          id,
		ConditionID: conditionID,
		Side:        domain.SideYes,
		Size:        size,
		EntryPrice:  entry,
		Status:      domain.PositionStatusOpen,
		OpenedAt:    time.Now().UTC(),
	}
}

func closedPos(id string, pnl float64, closedAt time.Time) domain.Position {
	return domain.Position{
		ID:          id,
		ConditionID: "m-" + id,
		Status:      domain.PositionStatusClosed,
		RealizedPnL: pnl,
		ClosedAt:    &closedAt,
	}
}

func TestAuthorize_AllowsWithinLimits(t *testing.T) {
	g := newTestGate(&fakeStore{})

	dec, err := g.Authorize(context.Background(), 50, "m1")

	require.NoError(t, err)
	assert.True(t, dec.Allowed)
	assert.Empty(t, dec.Violations)
}

func TestAuthorize_SizeCap(t *testing.T) {
	g := newTestGate(&fakeStore{})

	dec, err := g.Authorize(context.Background(), 101, "m1")

	require.NoError(t, err)
	assert.False(t, dec.Allowed)
	require.Len(t, dec.Violations, 1)
	assert.Contains(t, dec.Violations[0], "per-trade cap")
}

func TestAuthorize_ConcurrentCap(t *testing.T) {
	store := &fakeStore{positions: []domain.Position{
		openPos("p1", "m1", 10, 0.5),
		openPos("p2", "m2", 10, 0.5),
		openPos("p3", "m3", 10, 0.5),
	}}
	g := newTestGate(store)

	dec, err := g.Authorize(context.Background(), 10, "m4")

	require.NoError(t, err)
	assert.False(t, dec.Allowed)
	assert.Contains(t, dec.Violations[0], "open positions 3 at cap 3")
}

func TestAuthorize_MarketExposure(t *testing.T) {
	// existing exposure on m1 = 200*0.5 = 100; +60 breaches the 150 cap
	store := &fakeStore{positions: []domain.Position{openPos("p1", "m1", 200, 0.5)}}
	g := newTestGate(store)

	dec, err := g.Authorize(context.Background(), 60, "m1")

	require.NoError(t, err)
	assert.False(t, dec.Allowed)
	assert.Contains(t, dec.Violations[0], "market exposure")

	// same size on a fresh market passes
	dec, err = g.Authorize(context.Background(), 60, "m2")
	require.NoError(t, err)
	assert.True(t, dec.Allowed)
}

func TestAuthorize_TotalExposure(t *testing.T) {
	store := &fakeStore{positions: []domain.Position{
		openPos("p1", "m1", 300, 0.5), // 150
		openPos("p2", "m2", 320, 0.5), // 160
	}}
	g := newTestGate(store)

	// total 310 + 99 > 400
	dec, err := g.Authorize(context.Background(), 99, "m3")

	require.NoError(t, err)
	assert.False(t, dec.Allowed)
	assert.Contains(t, dec.Violations[0], "total exposure")
}

func TestAuthorize_DailyLossTripsKillSwitch(t *testing.T) {
	now := time.Now().UTC()
	store := &fakeStore{positions: []domain.Position{
		closedPos("p1", -30, now),
		closedPos("p2", -25, now),
		closedPos("p3", 40, now), // wins never offset losses
	}}
	g := newTestGate(store)

	dec, err := g.Authorize(context.Background(), 10, "m1")

	require.NoError(t, err)
	assert.False(t, dec.Allowed)
	assert.Contains(t, dec.Violations[0], "daily loss")
	assert.True(t, g.State().KillSwitchActive)
}

func TestAuthorize_YesterdayLossesIgnored(t *testing.T) {
	yesterday := time.Now().UTC().Add(-48 * time.Hour)
	store := &fakeStore{positions: []domain.Position{closedPos("p1", -500, yesterday)}}
	g := newTestGate(store)

	dec, err := g.Authorize(context.Background(), 10, "m1")

	require.NoError(t, err)
	assert.True(t, dec.Allowed)
	assert.False(t, g.State().KillSwitchActive)
}

func TestAuthorize_DrawdownTripsKillSwitch(t *testing.T) {
	now := time.Now().UTC()
	store := &fakeStore{positions: []domain.Position{closedPos("p1", -45, now)}}
	g := newTestGate(store)
	g.SetInitialPortfolioValue(400) // 45/400 = 11.25% > 10%

	dec, err := g.Authorize(context.Background(), 10, "m1")

	require.NoError(t, err)
	assert.False(t, dec.Allowed)
	assert.True(t, g.State().KillSwitchActive)
}

func TestAuthorize_NoDrawdownCheckWithoutBaseline(t *testing.T) {
	now := time.Now().UTC()
	store := &fakeStore{positions: []domain.Position{closedPos("p1", -45, now)}}
	g := newTestGate(store)

	dec, err := g.Authorize(context.Background(), 10, "m1")

	require.NoError(t, err)
	assert.True(t, dec.Allowed)
}

func TestKillSwitch_Sticks(t *testing.T) {
	g := newTestGate(&fakeStore{})
	ctx := context.Background()
	g.TripKillSwitch(ctx, "manual halt")

	for i := 0; i < 3; i++ {
		dec, err := g.Authorize(ctx, 1, "m1")
		require.NoError(t, err)
		assert.False(t, dec.Allowed)
		require.Len(t, dec.Violations, 1)
		assert.Contains(t, dec.Violations[0], "kill switch active")
	}

	g.ResetKillSwitch(ctx)
	dec, err := g.Authorize(ctx, 1, "m1")
	require.NoError(t, err)
	assert.True(t, dec.Allowed)
}

func TestAuthorize_Idempotent(t *testing.T) {
	store := &fakeStore{positions: []domain.Position{openPos("p1", "m1", 200, 0.5)}}
	g := newTestGate(store)
	ctx := context.Background()

	first, err := g.Authorize(ctx, 60, "m1")
	require.NoError(t, err)
	second, err := g.Authorize(ctx, 60, "m1")
	require.NoError(t, err)

	assert.Equal(t, first, second)
}

func TestSetInitialPortfolioValue_FirstCallWins(t *testing.T) {
	g := newTestGate(&fakeStore{})
	g.SetInitialPortfolioValue(1000)
	g.SetInitialPortfolioValue(5)

	state := g.State()
	require.NotNil(t, state.InitialPortfolioValue)
	assert.Equal(t, 1000.0, *state.InitialPortfolioValue)
}

func TestSummary_TopMarkets(t *testing.T) {
	store := &fakeStore{positions: []domain.Position{
		openPos("p1", "m1", 100, 0.5), // 50
		openPos("p2", "m2", 100, 0.9), // 90
		openPos("p3", "m1", 20, 0.5),  // m1 total 60
	}}
	g := newTestGate(store)

	sum, err := g.Summary(context.Background())

	require.NoError(t, err)
	assert.Equal(t, 3, sum.OpenPositions)
	assert.InDelta(t, 160, sum.TotalExposure, 1e-9)
	require.Len(t, sum.TopMarkets, 2)
	assert.Equal(t, "m2", sum.TopMarkets[0].ConditionID)
	assert.InDelta(t, 90, sum.TopMarkets[0].Exposure, 1e-9)
}
