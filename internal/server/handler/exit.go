package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/wesso80/marketscannerpros-sub008/internal/domain"
	"github.com/wesso80/marketscannerpros-sub008/internal/service"
)

// ExitService defines the methods that the exit handler requires.
type ExitService interface {
	Evaluate(st domain.TradeState) domain.ExitVerdict
	OpenPosition(ctx context.Context, req service.OpenPositionRequest) (domain.Position, error)
	LatestVerdict(ctx context.Context, positionID string) (domain.StoredVerdict, error)
}

// ExitHandler serves exit evaluation and paper position endpoints.
type ExitHandler struct {
	exits  ExitService
	logger *slog.Logger
}

// NewExitHandler creates an ExitHandler.
func NewExitHandler(exits ExitService, logger *slog.Logger) *ExitHandler {
	return &ExitHandler{exits: exits, logger: logger}
}

// Evaluate scores a caller-supplied trade state. An invalid state is a HOLD
// verdict with reason INVALID_STATE, not an error.
// POST /api/exit/evaluate
func (h *ExitHandler) Evaluate(w http.ResponseWriter, r *http.Request) {
	var st domain.TradeState
	if err := decodeJSON(w, r, &st); err != nil {
		writeServiceError(w, r, h.logger, "exit evaluate", err)
		return
	}
	if st.Status == "" {
		st.Status = domain.TradeOpen
	}
	if d, err := domain.ParseDirection(string(st.Direction)); err == nil {
		st.Direction = d
	}
	canonRegime(&st.Regime)
	st.Momentum = domain.ParseMomentumState(string(st.Momentum))
	st.Structure = domain.ParseStructureState(string(st.Structure))

	writeJSON(w, http.StatusOK, h.exits.Evaluate(st))
}

// OpenPosition records a paper position for the exit monitor.
// POST /api/positions
func (h *ExitHandler) OpenPosition(w http.ResponseWriter, r *http.Request) {
	var req service.OpenPositionRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeServiceError(w, r, h.logger, "open position", err)
		return
	}
	if err := canonDirection(&req.Direction); err != nil {
		writeServiceError(w, r, h.logger, "open position", err)
		return
	}
	if err := canonAssetClass(&req.AssetClass); err != nil {
		writeServiceError(w, r, h.logger, "open position", err)
		return
	}
	canonStrategy(&req.StrategyTag)

	pos, err := h.exits.OpenPosition(r.Context(), req)
	if err != nil {
		writeServiceError(w, r, h.logger, "open position", err)
		return
	}
	writeJSON(w, http.StatusCreated, pos)
}

// LatestVerdict returns the most recent exit verdict of a position.
// GET /api/positions/{id}/verdict
func (h *ExitHandler) LatestVerdict(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")
	v, err := h.exits.LatestVerdict(r.Context(), id)
	if err != nil {
		writeServiceError(w, r, h.logger, "latest verdict", err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}
