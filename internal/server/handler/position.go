package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/quantfish/polyarb/internal/domain"
)

// PositionLister is the read slice of the position store.
type PositionLister interface {
	ListOpen(ctx context.Context) ([]domain.Position, error)
	ListClosed(ctx context.Context, opts domain.ListOpts) ([]domain.Position, error)
}

// PositionHandler serves the position list.
type PositionHandler struct {
	store  PositionLister
	logger *slog.Logger
}

// NewPositionHandler creates a PositionHandler.
func NewPositionHandler(store PositionLister, logger *slog.Logger) *PositionHandler {
	return &PositionHandler{
		store:  store,
		logger: logger.With(slog.String("handler", "positions")),
	}
}

// ListPositions returns open positions by default; ?status=closed returns
// closed ones with standard pagination.
// GET /api/v1/positions
func (h *PositionHandler) ListPositions(w http.ResponseWriter, r *http.Request) {
	status := r.URL.Query().Get("status")

	var (
		positions []domain.Position
		err       error
	)
	switch status {
	case "", "open":
		positions, err = h.store.ListOpen(r.Context())
	case "closed":
		positions, err = h.store.ListClosed(r.Context(), parseListOpts(r))
	default:
		writeError(w, http.StatusBadRequest, "status must be open or closed")
		return
	}
	if err != nil {
		h.logger.WarnContext(r.Context(), "position query failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "position query failed")
		return
	}

	if positions == nil {
		positions = []domain.Position{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"positions": positions,
		"count":     len(positions),
	})
}
