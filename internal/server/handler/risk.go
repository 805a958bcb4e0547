package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/quantfish/polyarb/internal/domain"
)

// RiskController is the slice of the risk gate the API exposes.
type RiskController interface {
	Summary(ctx context.Context) (domain.RiskSummary, error)
	ResetKillSwitch(ctx context.Context)
}

// RiskHandler serves the risk summary and the manual kill-switch reset.
type RiskHandler struct {
	gate   RiskController
	logger *slog.Logger
}

// NewRiskHandler creates a RiskHandler.
func NewRiskHandler(gate RiskController, logger *slog.Logger) *RiskHandler {
	return &RiskHandler{
		gate:   gate,
		logger: logger.With(slog.String("handler", "risk")),
	}
}

// Summary reports kill-switch state, exposure and the day's realized P&L.
// GET /api/v1/risk
func (h *RiskHandler) Summary(w http.ResponseWriter, r *http.Request) {
	summary, err := h.gate.Summary(r.Context())
	if err != nil {
		h.logger.WarnContext(r.Context(), "risk summary failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "risk summary unavailable")
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

// ResetKillSwitch clears a tripped kill switch. The gate never self-recovers,
// so this endpoint is the only path back to trading after a halt.
// POST /api/v1/risk/reset
func (h *RiskHandler) ResetKillSwitch(w http.ResponseWriter, r *http.Request) {
	h.gate.ResetKillSwitch(r.Context())
	h.logger.InfoContext(r.Context(), "kill switch reset via api")
	writeJSON(w, http.StatusOK, map[string]string{"status": "reset"})
}
