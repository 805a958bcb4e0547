package ledger

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantfish/polyarb/internal/domain"
	"github.com/quantfish/polyarb/internal/store/sqlite"
)

func newTestLedger(t *testing.T) *Ledger {
	t.Helper()
	client, err := sqlite.New(filepath.Join(t.TempDir(), "ledger.db"))
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })
	return New(sqlite.NewPositionStore(client), slog.New(slog.NewTextHandler(io.Discard, nil)))
}

// fakeChain maps token id to on-chain balance.
type fakeChain map[string]float64

func (c fakeChain) TokenBalance(_ context.Context, tokenID string) (float64, error) {
	return c[tokenID], nil
}

func f(v float64) *float64 { return &v }

func TestRecordAndCloseRoundTrip(t *testing.T) {
	l := newTestLedger(t)
	ctx := context.Background()

	pos, err := l.Record(ctx, "0xc1", domain.SideYes, "tok1", 10, 0.48, "pair_cost")
	require.NoError(t, err)
	assert.Contains(t, pos.ID, "0xc1_YES_")

	ok, err := l.Close(ctx, pos.ID, f(0.95))
	require.NoError(t, err)
	assert.True(t, ok)

	sum, err := l.PnLSummary(ctx)
	require.NoError(t, err)
	assert.InDelta(t, (0.95-0.48)*10, sum.RealizedPnL, 1e-9)
	assert.Equal(t, 1, sum.ClosedCount)
	assert.Equal(t, 0, sum.OpenCount)
	assert.InDelta(t, 1.0, sum.WinRate, 1e-9)
}

func TestRecord_SameSecondEntriesGetDistinctIDs(t *testing.T) {
	l := newTestLedger(t)
	ctx := context.Background()

	base := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	times := []time.Time{base, base.Add(3 * time.Millisecond)}
	l.now = func() time.Time {
		next := times[0]
		times = times[1:]
		return next
	}

	first, err := l.Record(ctx, "0xc1", domain.SideYes, "tok1", 10, 0.48, "pair_cost")
	require.NoError(t, err)
	second, err := l.Record(ctx, "0xc1", domain.SideYes, "tok1", 10, 0.48, "pair_cost")
	require.NoError(t, err)

	assert.NotEqual(t, first.ID, second.ID)
}

func TestClose_UnknownAndDouble(t *testing.T) {
	l := newTestLedger(t)
	ctx := context.Background()

	ok, err := l.Close(ctx, "missing", f(0.5))
	require.NoError(t, err)
	assert.False(t, ok)

	pos, err := l.Record(ctx, "0xc1", domain.SideNo, "tok1", 10, 0.5, "")
	require.NoError(t, err)

	ok, err = l.Close(ctx, pos.ID, f(0.6))
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = l.Close(ctx, pos.ID, f(0.7))
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCloseByMarket_LIFO(t *testing.T) {
	l := newTestLedger(t)
	ctx := context.Background()

	base := time.Date(2026, 2, 10, 9, 0, 0, 0, time.UTC)
	ticks := []time.Time{base, base.Add(time.Hour), base.Add(2 * time.Hour)}
	i := 0
	l.now = func() time.Time { t := ticks[i%len(ticks)]; i++; return t }

	first, err := l.Record(ctx, "0xc1", domain.SideYes, "tok1", 10, 0.4, "")
	require.NoError(t, err)
	second, err := l.Record(ctx, "0xc1", domain.SideYes, "tok1", 10, 0.5, "")
	require.NoError(t, err)

	ok, err := l.CloseByMarket(ctx, "0xc1", domain.SideYes, f(0.9))
	require.NoError(t, err)
	assert.True(t, ok)

	// the newer position closed, the older survives
	open, err := l.openIDs(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{first.ID}, open)
	_ = second

	ok, err = l.CloseByMarket(ctx, "0xc1", domain.SideNo, f(0.9))
	require.NoError(t, err)
	assert.False(t, ok)
}

// openIDs is a test helper over the store.
func (l *Ledger) openIDs(ctx context.Context) ([]string, error) {
	open, err := l.store.ListOpen(ctx)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(open))
	for _, p := range open {
		ids = append(ids, p.ID)
	}
	return ids, nil
}

func TestPnLSummary_DailyBuckets(t *testing.T) {
	l := newTestLedger(t)
	ctx := context.Background()

	day1 := time.Date(2026, 2, 10, 9, 0, 0, 0, time.UTC)
	day2 := time.Date(2026, 2, 11, 9, 0, 0, 0, time.UTC)

	l.now = func() time.Time { return day1 }
	p1, err := l.Record(ctx, "0xa", domain.SideYes, "t1", 10, 0.5, "")
	require.NoError(t, err)
	_, err = l.Close(ctx, p1.ID, f(0.9)) // +4 on day1
	require.NoError(t, err)

	l.now = func() time.Time { return day2 }
	p2, err := l.Record(ctx, "0xb", domain.SideYes, "t2", 10, 0.5, "")
	require.NoError(t, err)
	_, err = l.Close(ctx, p2.ID, f(0.3)) // -2 on day2
	require.NoError(t, err)

	sum, err := l.PnLSummary(ctx)
	require.NoError(t, err)
	assert.InDelta(t, 2.0, sum.RealizedPnL, 1e-9)
	assert.InDelta(t, 4.0, sum.DailyPnL["2026-02-10"], 1e-9)
	assert.InDelta(t, -2.0, sum.DailyPnL["2026-02-11"], 1e-9)
	assert.InDelta(t, 0.5, sum.WinRate, 1e-9)
}

func TestReconcile_ZeroBalanceForceCloses(t *testing.T) {
	l := newTestLedger(t)
	ctx := context.Background()

	pos, err := l.Record(ctx, "0xc1", domain.SideYes, "tok1", 10, 0.5, "")
	require.NoError(t, err)

	report, err := l.Reconcile(ctx, fakeChain{"tok1": 0})
	require.NoError(t, err)
	assert.Equal(t, 1, report.Checked)
	assert.Equal(t, 1, report.Synced)
	require.Len(t, report.Discrepancies, 1)
	assert.Equal(t, domain.TagClosedByChainSync, report.Discrepancies[0].Action)

	got, err := l.store.GetByID(ctx, pos.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.PositionStatusClosed, got.Status)
	assert.Equal(t, domain.TagClosedByChainSync, got.Tag)
	assert.Zero(t, got.RealizedPnL)
}

func TestReconcile_SizeAdjusted(t *testing.T) {
	l := newTestLedger(t)
	ctx := context.Background()

	pos, err := l.Record(ctx, "0xc1", domain.SideYes, "tok1", 10, 0.5, "")
	require.NoError(t, err)

	report, err := l.Reconcile(ctx, fakeChain{"tok1": 7})
	require.NoError(t, err)
	require.Len(t, report.Discrepancies, 1)
	assert.Equal(t, domain.TagSizeAdjustedByChainSync, report.Discrepancies[0].Action)

	got, err := l.store.GetByID(ctx, pos.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.PositionStatusOpen, got.Status)
	assert.InDelta(t, 7.0, got.Size, 1e-9)
	assert.Equal(t, domain.TagSizeAdjustedByChainSync, got.Tag)
}

func TestReconcile_WithinToleranceUntouched(t *testing.T) {
	l := newTestLedger(t)
	ctx := context.Background()

	pos, err := l.Record(ctx, "0xc1", domain.SideYes, "tok1", 10, 0.5, "")
	require.NoError(t, err)

	report, err := l.Reconcile(ctx, fakeChain{"tok1": 10.005})
	require.NoError(t, err)
	assert.Equal(t, 1, report.Checked)
	assert.Empty(t, report.Discrepancies)
	assert.Zero(t, report.Synced)

	got, err := l.store.GetByID(ctx, pos.ID)
	require.NoError(t, err)
	assert.InDelta(t, 10.0, got.Size, 1e-9)
}
