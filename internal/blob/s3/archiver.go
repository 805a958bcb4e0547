package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/quantfish/polyarb/internal/domain"
)

// ReportWriter is the slice of the blob layer the archiver uploads through.
type ReportWriter interface {
	Put(ctx context.Context, path string, data io.Reader, contentType string) error
	PutMultipart(ctx context.Context, path string, data io.Reader, contentType string, partSize int64) error
}

// PnLSource produces the aggregate used for daily reports. Implemented by
// the ledger.
type PnLSource interface {
	PnLSummary(ctx context.Context) (domain.PnLSummary, error)
}

// ClosedPositionSource lists closed positions for export. Implemented by the
// position store.
type ClosedPositionSource interface {
	ListClosed(ctx context.Context, opts domain.ListOpts) ([]domain.Position, error)
}

// Archiver uploads daily P&L reports and closed-position exports to object
// storage. It only reads from the ledger; the primary store is never
// mutated here.
type Archiver struct {
	writer ReportWriter
	pnl    PnLSource
	closed ClosedPositionSource
	logger *slog.Logger
}

// NewArchiver creates an Archiver.
func NewArchiver(writer ReportWriter, pnl PnLSource, closed ClosedPositionSource, logger *slog.Logger) *Archiver {
	return &Archiver{
		writer: writer,
		pnl:    pnl,
		closed: closed,
		logger: logger.With(slog.String("component", "archiver")),
	}
}

// dailyReport is the JSON body of one uploaded P&L report.
type dailyReport struct {
	Date         string             `json:"date"`
	GeneratedAt  time.Time          `json:"generated_at"`
	RealizedPnL  float64            `json:"realized_pnl"`
	OpenCount    int                `json:"open_count"`
	ClosedCount  int                `json:"closed_count"`
	WinRate      float64            `json:"win_rate"`
	OpenExposure float64            `json:"open_exposure"`
	DailyPnL     map[string]float64 `json:"daily_pnl"`
}

// ArchiveDailyReport builds the P&L summary and uploads it to
// reports/pnl/YYYY-MM-DD.json, keyed by the given day in UTC.
func (a *Archiver) ArchiveDailyReport(ctx context.Context, day time.Time) error {
	summary, err := a.pnl.PnLSummary(ctx)
	if err != nil {
		return fmt.Errorf("s3blob: daily report summary: %w", err)
	}

	report := dailyReport{
		Date:         day.UTC().Format("2006-01-02"),
		GeneratedAt:  time.Now().UTC(),
		RealizedPnL:  summary.RealizedPnL,
		OpenCount:    summary.OpenCount,
		ClosedCount:  summary.ClosedCount,
		WinRate:      summary.WinRate,
		OpenExposure: summary.OpenExposure,
		DailyPnL:     summary.DailyPnL,
	}

	body, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("s3blob: daily report marshal: %w", err)
	}

	path := fmt.Sprintf("reports/pnl/%s.json", report.Date)
	if err := a.writer.Put(ctx, path, bytes.NewReader(body), "application/json"); err != nil {
		return fmt.Errorf("s3blob: daily report upload: %w", err)
	}

	a.logger.InfoContext(ctx, "daily report archived",
		slog.String("path", path),
		slog.Float64("realized_pnl", report.RealizedPnL),
	)
	return nil
}

// ArchiveClosedPositions exports every position closed before the cutoff as
// JSONL to archive/positions/YYYY-MM.jsonl and returns the record count.
// The export grows without bound, so it goes through the multipart path.
func (a *Archiver) ArchiveClosedPositions(ctx context.Context, before time.Time) (int64, error) {
	positions, err := a.closed.ListClosed(ctx, domain.ListOpts{Until: &before})
	if err != nil {
		return 0, fmt.Errorf("s3blob: closed position query: %w", err)
	}
	if len(positions) == 0 {
		return 0, nil
	}

	buf, err := marshalJSONL(positions)
	if err != nil {
		return 0, fmt.Errorf("s3blob: closed position marshal: %w", err)
	}

	path := fmt.Sprintf("archive/positions/%s.jsonl", before.UTC().Format("2006-01"))
	if err := a.writer.PutMultipart(ctx, path, bytes.NewReader(buf), "application/x-ndjson", minPartSize); err != nil {
		return 0, fmt.Errorf("s3blob: closed position upload: %w", err)
	}

	count := int64(len(positions))
	a.logger.InfoContext(ctx, "closed positions archived",
		slog.String("path", path),
		slog.Int64("count", count),
	)
	return count, nil
}

// marshalJSONL serialises records as newline-delimited JSON.
func marshalJSONL[T any](records []T) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)

	for i, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return nil, fmt.Errorf("jsonl encode record %d: %w", i, err)
		}
	}
	return buf.Bytes(), nil
}
