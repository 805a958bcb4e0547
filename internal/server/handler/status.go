package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/quantfish/polyarb/internal/domain"
	"github.com/quantfish/polyarb/internal/engine"
)

// EngineStats exposes loop progress. Implemented by the engine.
type EngineStats interface {
	Stats() engine.Stats
}

// PnLSource produces the P&L aggregate. Implemented by the ledger.
type PnLSource interface {
	PnLSummary(ctx context.Context) (domain.PnLSummary, error)
}

// StatusHandler reports run mode, engine progress and the P&L aggregate.
type StatusHandler struct {
	engine    EngineStats
	pnl       PnLSource
	mode      string
	startedAt time.Time
	logger    *slog.Logger
}

// NewStatusHandler creates a StatusHandler. A nil engine is tolerated for
// modes that run without the poll loop.
func NewStatusHandler(eng EngineStats, pnl PnLSource, mode string, logger *slog.Logger) *StatusHandler {
	return &StatusHandler{
		engine:    eng,
		pnl:       pnl,
		mode:      mode,
		startedAt: time.Now().UTC(),
		logger:    logger.With(slog.String("handler", "status")),
	}
}

// Status reports the process status.
// GET /api/v1/status
func (h *StatusHandler) Status(w http.ResponseWriter, r *http.Request) {
	body := map[string]any{
		"mode":           h.mode,
		"started_at":     h.startedAt.Format(time.RFC3339),
		"uptime_seconds": int64(time.Since(h.startedAt).Seconds()),
	}

	if h.engine != nil {
		body["engine"] = h.engine.Stats()
	}

	summary, err := h.pnl.PnLSummary(r.Context())
	if err != nil {
		h.logger.WarnContext(r.Context(), "pnl summary failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "pnl summary unavailable")
		return
	}
	body["pnl"] = map[string]any{
		"realized_pnl":  summary.RealizedPnL,
		"open_count":    summary.OpenCount,
		"closed_count":  summary.ClosedCount,
		"win_rate":      summary.WinRate,
		"open_exposure": summary.OpenExposure,
	}

	writeJSON(w, http.StatusOK, body)
}
