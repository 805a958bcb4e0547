package s3blob

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantfish/polyarb/internal/domain"
)

type fakeWriter struct {
	puts map[string]string // path -> body
}

func newFakeWriter() *fakeWriter {
	return &fakeWriter{puts: make(map[string]string)}
}

func (f *fakeWriter) Put(_ context.Context, path string, data io.Reader, _ string) error {
	body, err := io.ReadAll(data)
	if err != nil {
		return err
	}
	f.puts[path] = string(body)
	return nil
}

func (f *fakeWriter) PutMultipart(_ context.Context, path string, data io.Reader, _ string, _ int64) error {
	return f.Put(context.Background(), path, data, "")
}

type fakePnL struct {
	summary domain.PnLSummary
}

func (f *fakePnL) PnLSummary(_ context.Context) (domain.PnLSummary, error) {
	return f.summary, nil
}

type fakeClosed struct {
	positions []domain.Position
}

func (f *fakeClosed) ListClosed(_ context.Context, _ domain.ListOpts) ([]domain.Position, error) {
	return f.positions, nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func TestArchiveDailyReport(t *testing.T) {
	w := newFakeWriter()
	pnl := &fakePnL{summary: domain.PnLSummary{
		RealizedPnL: 42.5,
		OpenCount:   2,
		ClosedCount: 7,
		WinRate:     0.714,
		DailyPnL:    map[string]float64{"2025-06-01": 42.5},
	}}
	a := NewArchiver(w, pnl, &fakeClosed{}, testLogger())

	day := time.Date(2025, 6, 1, 23, 59, 0, 0, time.UTC)
	require.NoError(t, a.ArchiveDailyReport(context.Background(), day))

	body, ok := w.puts["reports/pnl/2025-06-01.json"]
	require.True(t, ok, "report uploaded under the UTC date key")

	var report dailyReport
	require.NoError(t, json.Unmarshal([]byte(body), &report))
	assert.Equal(t, "2025-06-01", report.Date)
	assert.Equal(t, 42.5, report.RealizedPnL)
	assert.Equal(t, 7, report.ClosedCount)
}

func TestArchiveClosedPositions(t *testing.T) {
	now := time.Date(2025, 6, 15, 10, 0, 0, 0, time.UTC)
	closed := &fakeClosed{positions: []domain.Position{
		{ID: "a_YES_1", ConditionID: "0xa", Side: domain.SideYes, Size: 10, RealizedPnL: 1.2},
		{ID: "b_NO_2", ConditionID: "0xb", Side: domain.SideNo, Size: 20, RealizedPnL: -0.4},
	}}
	w := newFakeWriter()
	a := NewArchiver(w, &fakePnL{}, closed, testLogger())

	count, err := a.ArchiveClosedPositions(context.Background(), now)
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)

	body, ok := w.puts["archive/positions/2025-06.jsonl"]
	require.True(t, ok)
	lines := strings.Split(strings.TrimSpace(body), "\n")
	require.Len(t, lines, 2)

	var first domain.Position
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &first))
	assert.Equal(t, "a_YES_1", first.ID)
}

func TestArchiveClosedPositions_EmptySkipsUpload(t *testing.T) {
	w := newFakeWriter()
	a := NewArchiver(w, &fakePnL{}, &fakeClosed{}, testLogger())

	count, err := a.ArchiveClosedPositions(context.Background(), time.Now())
	require.NoError(t, err)
	assert.Zero(t, count)
	assert.Empty(t, w.puts)
}
